package ui

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trueup-laplace/ragengine/internal/rag"
	"github.com/trueup-laplace/ragengine/internal/search"
	"github.com/trueup-laplace/ragengine/internal/store"
)

func sampleDocs() []*store.Document {
	return []*store.Document{
		{
			ID:              "11111111-1111-1111-1111-111111111111",
			Name:            "notes.md",
			SizeBytes:       2048,
			EmbeddingStatus: store.EmbeddingCompleted,
			CreatedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			ID:              "22222222-2222-2222-2222-222222222222",
			Name:            "a-document-with-a-very-long-file-name.txt",
			SizeBytes:       100,
			EmbeddingStatus: store.EmbeddingPending,
			CreatedAt:       time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestPrinter_DocumentsPlain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	require.NoError(t, p.Documents(sampleDocs()))

	out := buf.String()
	assert.Contains(t, out, "notes.md")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "...", "long names are truncated")
	assert.Contains(t, out, "2 document(s)")
}

func TestPrinter_DocumentsJSON(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	require.NoError(t, p.Documents(sampleDocs()))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded, 2)
}

func TestPrinter_DocumentsEmpty(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	require.NoError(t, p.Documents(nil))
	assert.Contains(t, buf.String(), "no documents")
}

func TestPrinter_SearchResults(t *testing.T) {
	results := []*search.Result{
		{
			Chunk: &store.Chunk{
				ID:         "c1",
				DocumentID: "doc-1",
				Ordinal:    0,
				Text:       "The hybrid engine combines keyword and vector retrieval.",
			},
			Score:        0.82,
			LexicalScore: 0.9,
			VectorScore:  0.64,
			MatchedTerms: []string{"hybrid", "engine"},
		},
	}

	var buf bytes.Buffer
	p := NewPrinter(&buf, false)
	require.NoError(t, p.SearchResults(results))

	out := buf.String()
	assert.Contains(t, out, "doc-1")
	assert.Contains(t, out, "score 0.820")
	assert.Contains(t, out, "matched: hybrid, engine")
	assert.Contains(t, out, "keyword and vector")

	buf.Reset()
	pj := NewPrinter(&buf, true)
	require.NoError(t, pj.SearchResults(results))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "c1", decoded[0]["chunk_id"])
}

func TestPrinter_StorageStats(t *testing.T) {
	stats := &rag.StorageStats{
		DocumentCount:      3,
		ChunkCount:         12,
		TotalSizeBytes:     1024 * 1024,
		MaxCollectionBytes: 2 * 1024 * 1024 * 1024,
		UsagePercent:       0.05,
		CachedDocuments:    2,
		MaxCachedDocuments: 10,
		VectorCount:        12,
		LexicalChunks:      12,
		EmbeddingCoverage:  1.0,
	}

	var buf bytes.Buffer
	p := NewPrinter(&buf, false)
	require.NoError(t, p.StorageStats(stats))

	out := buf.String()
	assert.Contains(t, out, "documents:")
	assert.Contains(t, out, "2 of 10")
	assert.Contains(t, out, "100.0%")
}

func TestPrinter_EmbeddingReport(t *testing.T) {
	report := &rag.EmbeddingReport{
		TotalDocuments:       4,
		Completed:            3,
		Pending:              1,
		CompletionPercentage: 75,
	}

	var buf bytes.Buffer
	p := NewPrinter(&buf, false)
	require.NoError(t, p.EmbeddingReport(report))
	assert.Contains(t, buf.String(), "75.0%")
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", Snippet("short", 40))
	assert.Equal(t, "a b", Snippet("a   b\n", 40))

	long := Snippet("one two three four five six seven eight nine ten", 20)
	assert.True(t, len(long) <= 24)
	assert.Contains(t, long, "...")
}
