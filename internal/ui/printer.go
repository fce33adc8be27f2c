package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/trueup-laplace/ragengine/internal/config"
	"github.com/trueup-laplace/ragengine/internal/rag"
	"github.com/trueup-laplace/ragengine/internal/search"
	"github.com/trueup-laplace/ragengine/internal/store"
)

const snippetLength = 160

// Printer renders command output. JSON mode wins over styling; styling
// is dropped automatically when stdout is not a terminal.
type Printer struct {
	out      io.Writer
	jsonMode bool
	styles   Styles
}

// NewPrinter creates a printer for the writer.
func NewPrinter(out io.Writer, jsonMode bool) *Printer {
	// Style only when writing straight to a terminal.
	noColor := true
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) && !jsonMode {
		noColor = false
	}
	return &Printer{
		out:      out,
		jsonMode: jsonMode,
		styles:   GetStyles(noColor),
	}
}

// JSONMode reports whether output is machine-readable.
func (p *Printer) JSONMode() bool {
	return p.jsonMode
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Successf prints a success line.
func (p *Printer) Successf(format string, args ...any) {
	fmt.Fprintln(p.out, p.styles.Success.Render(fmt.Sprintf(format, args...)))
}

// Warnf prints a warning line.
func (p *Printer) Warnf(format string, args ...any) {
	fmt.Fprintln(p.out, p.styles.Warning.Render(fmt.Sprintf(format, args...)))
}

// Errorf prints an error line.
func (p *Printer) Errorf(format string, args ...any) {
	fmt.Fprintln(p.out, p.styles.Error.Render(fmt.Sprintf(format, args...)))
}

// Documents renders the document list.
func (p *Printer) Documents(docs []*store.Document) error {
	if p.jsonMode {
		return p.JSON(docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(p.out, p.styles.Dim.Render("no documents"))
		return nil
	}

	fmt.Fprintln(p.out, p.styles.Header.Render(
		fmt.Sprintf("%-36s  %-24s  %-10s  %-10s  %s", "ID", "NAME", "SIZE", "STATUS", "UPLOADED")))
	for _, doc := range docs {
		name := doc.Name
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(p.out, "%-36s  %-24s  %-10s  %-10s  %s\n",
			doc.ID,
			name,
			humanize.Bytes(uint64(doc.SizeBytes)),
			p.renderStatus(doc.EmbeddingStatus),
			doc.CreatedAt.Format(time.DateTime))
	}
	fmt.Fprintln(p.out, p.styles.Dim.Render(fmt.Sprintf("%d document(s)", len(docs))))
	return nil
}

func (p *Printer) renderStatus(status store.EmbeddingStatus) string {
	switch status {
	case store.EmbeddingCompleted:
		return p.styles.Success.Render(string(status))
	case store.EmbeddingFailed:
		return p.styles.Error.Render(string(status))
	case store.EmbeddingProcessing:
		return p.styles.Warning.Render(string(status))
	default:
		return p.styles.Label.Render(string(status))
	}
}

// SearchResults renders ranked hits with a text snippet each.
func (p *Printer) SearchResults(results []*search.Result) error {
	if p.jsonMode {
		type jsonResult struct {
			ChunkID      string   `json:"chunk_id"`
			DocumentID   string   `json:"document_id"`
			Ordinal      int      `json:"ordinal"`
			Score        float64  `json:"score"`
			LexicalScore float64  `json:"lexical_score"`
			VectorScore  float64  `json:"vector_score"`
			MatchedTerms []string `json:"matched_terms,omitempty"`
			Text         string   `json:"text"`
		}
		out := make([]jsonResult, len(results))
		for i, r := range results {
			out[i] = jsonResult{
				ChunkID:      r.Chunk.ID,
				DocumentID:   r.Chunk.DocumentID,
				Ordinal:      r.Chunk.Ordinal,
				Score:        r.Score,
				LexicalScore: r.LexicalScore,
				VectorScore:  r.VectorScore,
				MatchedTerms: r.MatchedTerms,
				Text:         r.Chunk.Text,
			}
		}
		return p.JSON(out)
	}

	if len(results) == 0 {
		fmt.Fprintln(p.out, p.styles.Dim.Render("no results"))
		return nil
	}

	for i, r := range results {
		header := fmt.Sprintf("%d. %s  chunk %d", i+1, r.Chunk.DocumentID, r.Chunk.Ordinal)
		score := fmt.Sprintf("score %.3f (lexical %.3f, vector %.3f)", r.Score, r.LexicalScore, r.VectorScore)
		fmt.Fprintln(p.out, p.styles.Header.Render(header))
		fmt.Fprintln(p.out, "   "+p.styles.Score.Render(score))
		if len(r.MatchedTerms) > 0 {
			fmt.Fprintln(p.out, "   "+p.styles.Label.Render("matched: "+strings.Join(r.MatchedTerms, ", ")))
		}
		fmt.Fprintln(p.out, "   "+Snippet(r.Chunk.Text, snippetLength))
		fmt.Fprintln(p.out)
	}
	return nil
}

// EmbeddingReport renders the aggregate embedding status.
func (p *Printer) EmbeddingReport(report *rag.EmbeddingReport) error {
	if p.jsonMode {
		return p.JSON(report)
	}

	fmt.Fprintln(p.out, p.styles.Header.Render("Embedding status"))
	fmt.Fprintf(p.out, "  %s %d\n", p.styles.Label.Render("documents:"), report.TotalDocuments)
	fmt.Fprintf(p.out, "  %s %d\n", p.styles.Label.Render("completed:"), report.Completed)
	fmt.Fprintf(p.out, "  %s %d\n", p.styles.Label.Render("processing:"), report.Processing)
	fmt.Fprintf(p.out, "  %s %d\n", p.styles.Label.Render("pending:"), report.Pending)
	fmt.Fprintf(p.out, "  %s %d\n", p.styles.Label.Render("failed:"), report.Failed)
	fmt.Fprintf(p.out, "  %s %d\n", p.styles.Label.Render("active jobs:"), report.ActiveJobs)
	fmt.Fprintf(p.out, "  %s %.1f%%\n", p.styles.Label.Render("complete:"), report.CompletionPercentage)
	return nil
}

// DocumentStatus renders one document's embedding progress.
func (p *Printer) DocumentStatus(status *rag.DocumentStatus) error {
	if p.jsonMode {
		return p.JSON(status)
	}

	fmt.Fprintln(p.out, p.styles.Header.Render(status.Name))
	fmt.Fprintf(p.out, "  %s %s\n", p.styles.Label.Render("id:"), status.DocumentID)
	fmt.Fprintf(p.out, "  %s %s\n", p.styles.Label.Render("status:"), p.renderStatus(status.Status))
	fmt.Fprintf(p.out, "  %s %d/%d\n", p.styles.Label.Render("chunks embedded:"), status.EmbeddedChunks, status.ChunkCount)
	if status.Attempts > 0 {
		fmt.Fprintf(p.out, "  %s %d\n", p.styles.Label.Render("attempts:"), status.Attempts)
	}
	if status.FailureReason != "" {
		fmt.Fprintf(p.out, "  %s %s\n", p.styles.Label.Render("failure:"), p.styles.Error.Render(status.FailureReason))
	}
	return nil
}

// StorageStats renders collection usage.
func (p *Printer) StorageStats(stats *rag.StorageStats) error {
	if p.jsonMode {
		return p.JSON(stats)
	}

	fmt.Fprintln(p.out, p.styles.Header.Render("Storage"))
	fmt.Fprintf(p.out, "  %s %d\n", p.styles.Label.Render("documents:"), stats.DocumentCount)
	fmt.Fprintf(p.out, "  %s %d\n", p.styles.Label.Render("chunks:"), stats.ChunkCount)
	fmt.Fprintf(p.out, "  %s %s of %s (%.1f%%)\n",
		p.styles.Label.Render("size:"),
		humanize.Bytes(uint64(stats.TotalSizeBytes)),
		humanize.Bytes(uint64(stats.MaxCollectionBytes)),
		stats.UsagePercent)
	fmt.Fprintf(p.out, "  %s %d of %d\n", p.styles.Label.Render("cached documents:"), stats.CachedDocuments, stats.MaxCachedDocuments)
	fmt.Fprintf(p.out, "  %s %d vectors, %d lexical chunks\n", p.styles.Label.Render("indexes:"), stats.VectorCount, stats.LexicalChunks)
	fmt.Fprintf(p.out, "  %s %.1f%%\n", p.styles.Label.Render("embedding coverage:"), stats.EmbeddingCoverage*100)
	return nil
}

// Settings renders the active settings as YAML (or JSON in JSON mode).
func (p *Printer) Settings(settings *config.Settings) error {
	if p.jsonMode {
		return p.JSON(settings)
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = p.out.Write(data)
	return err
}

// Snippet trims text to at most n runes on a word boundary.
func Snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}

	cut := string(runes[:n])
	if idx := strings.LastIndex(cut, " "); idx > n/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}
