// Package chunker splits document text into overlapping, token-bounded
// spans suitable for lexical and vector indexing.
//
// Tokens are whitespace-delimited words. Chunking is deterministic: the
// same content and config always produce byte-identical spans. Offsets
// are byte offsets into the (cleaned) content, and each span's text is
// the exact slice content[StartOffset:EndOffset].
package chunker

import (
	"strings"
)

// Config controls chunk segmentation.
type Config struct {
	// ChunkSize is the target chunk size in tokens.
	ChunkSize int
	// ChunkOverlap is the number of tokens repeated from the end of one
	// chunk at the start of the next.
	ChunkOverlap int
	// MaxChunkSize is the hard upper bound in tokens.
	MaxChunkSize int
	// MinChunkSize is the minimum size boundary retraction may shrink
	// a chunk to. Final chunks may still be smaller.
	MinChunkSize int
	// RespectSentenceBoundaries retracts chunk ends to sentence ends.
	RespectSentenceBoundaries bool
	// RespectParagraphBoundaries retracts chunk ends to paragraph
	// breaks; takes precedence over sentence boundaries.
	RespectParagraphBoundaries bool
}

// DefaultConfig returns the default chunking configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:                  512,
		ChunkOverlap:               64,
		MaxChunkSize:               800,
		MinChunkSize:               100,
		RespectSentenceBoundaries:  true,
		RespectParagraphBoundaries: true,
	}
}

// Span is one chunk of a document.
type Span struct {
	// Text is the exact slice content[StartOffset:EndOffset].
	Text string
	// Ordinal is the 0-based position of the span in the document.
	Ordinal int
	// StartOffset is the byte offset of the first token.
	StartOffset int
	// EndOffset is the byte offset just past the last token.
	EndOffset int
	// TokenCount is the number of tokens in the span.
	TokenCount int
}

// token is a word with its byte offsets in the source content.
type token struct {
	start int
	end   int
}

// Chunk splits content into spans according to cfg.
// Empty or whitespace-only content yields no spans.
func Chunk(content string, cfg Config) []Span {
	cfg = normalizeConfig(cfg)

	tokens := tokenize(content)
	if len(tokens) == 0 {
		return nil
	}

	size := cfg.ChunkSize
	if size > cfg.MaxChunkSize {
		size = cfg.MaxChunkSize
	}

	var spans []Span
	start := 0
	for {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}

		if end < len(tokens) {
			end = retractToBoundary(content, tokens, start, end, cfg)
		}

		s := tokens[start].start
		e := tokens[end-1].end
		spans = append(spans, Span{
			Text:        content[s:e],
			Ordinal:     len(spans),
			StartOffset: s,
			EndOffset:   e,
			TokenCount:  end - start,
		})

		if end >= len(tokens) {
			break
		}

		next := end - cfg.ChunkOverlap
		// The next chunk must advance past the previous start or the
		// walk would never terminate.
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return spans
}

// CountTokens returns the number of whitespace-delimited tokens in text.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// normalizeConfig fills zero values with defaults and clamps invalid
// combinations so Chunk never loops or panics on odd input.
func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = def.MaxChunkSize
	}
	if cfg.MaxChunkSize < cfg.ChunkSize {
		cfg.MaxChunkSize = cfg.ChunkSize
	}
	if cfg.MinChunkSize < 0 {
		cfg.MinChunkSize = 0
	}
	if cfg.MinChunkSize > cfg.ChunkSize {
		cfg.MinChunkSize = cfg.ChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize - 1
	}
	return cfg
}

// tokenize splits content into whitespace-delimited tokens with byte
// offsets.
func tokenize(content string) []token {
	var tokens []token
	inToken := false
	start := 0

	for i := 0; i < len(content); i++ {
		ws := isSpace(content[i])
		if !inToken && !ws {
			inToken = true
			start = i
		} else if inToken && ws {
			inToken = false
			tokens = append(tokens, token{start: start, end: i})
		}
	}
	if inToken {
		tokens = append(tokens, token{start: start, end: len(content)})
	}

	return tokens
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

// retractToBoundary pulls the chunk end index back to the nearest
// preceding paragraph or sentence boundary, unless that would shrink the
// chunk below MinChunkSize. Returns the (possibly unchanged) end index.
func retractToBoundary(content string, tokens []token, start, end int, cfg Config) int {
	minEnd := start + cfg.MinChunkSize
	if minEnd <= start {
		minEnd = start + 1
	}

	if cfg.RespectParagraphBoundaries {
		for idx := end; idx > minEnd; idx-- {
			if paragraphBreakBefore(content, tokens, idx) {
				return idx
			}
		}
	}

	if cfg.RespectSentenceBoundaries {
		for idx := end; idx > minEnd; idx-- {
			if sentenceEndsAt(content, tokens, idx) {
				return idx
			}
		}
	}

	return end
}

// paragraphBreakBefore reports whether a blank line separates token
// idx-1 from token idx.
func paragraphBreakBefore(content string, tokens []token, idx int) bool {
	if idx <= 0 || idx >= len(tokens) {
		return false
	}
	gap := content[tokens[idx-1].end:tokens[idx].start]
	return strings.Count(gap, "\n") >= 2
}

// sentenceEndsAt reports whether token idx-1 ends a sentence.
// Closing quotes and brackets after the terminator are tolerated.
func sentenceEndsAt(content string, tokens []token, idx int) bool {
	if idx <= 0 || idx > len(tokens) {
		return false
	}
	word := content[tokens[idx-1].start:tokens[idx-1].end]
	word = strings.TrimRight(word, `"')]`+"`")
	if word == "" {
		return false
	}
	switch word[len(word)-1] {
	case '.', '!', '?':
		return true
	default:
		return false
	}
}
