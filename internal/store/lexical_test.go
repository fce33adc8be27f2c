package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lexicalBackends runs a subtest against both index implementations.
func lexicalBackends(t *testing.T, fn func(t *testing.T, idx LexicalIndex)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		idx, err := NewSQLiteLexicalIndex("", DefaultLexicalConfig())
		require.NoError(t, err)
		t.Cleanup(func() { _ = idx.Close() })
		fn(t, idx)
	})

	t.Run("bleve", func(t *testing.T) {
		idx, err := NewBleveLexicalIndex("", DefaultLexicalConfig())
		require.NoError(t, err)
		t.Cleanup(func() { _ = idx.Close() })
		fn(t, idx)
	})
}

func sampleEntries() []*LexicalEntry {
	return []*LexicalEntry{
		{ChunkID: "c1", DocumentID: "doc-a", Text: "the database uses write ahead logging for durability"},
		{ChunkID: "c2", DocumentID: "doc-a", Text: "transactions are isolated through snapshot semantics"},
		{ChunkID: "c3", DocumentID: "doc-b", Text: "the cat sat on the warm windowsill all afternoon"},
		{ChunkID: "c4", DocumentID: "doc-b", Text: "a database of feline behavior patterns and naps"},
	}
}

func TestLexicalIndex_SearchRelevance(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, sampleEntries()))

		hits, err := idx.Search(ctx, "database durability logging", 10, nil)
		require.NoError(t, err)
		require.NotEmpty(t, hits)

		assert.Equal(t, "c1", hits[0].ChunkID, "chunk matching most terms ranks first")
		assert.Equal(t, "doc-a", hits[0].DocumentID)
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		}
	})
}

func TestLexicalIndex_EmptyQueryReturnsNothing(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, sampleEntries()))

		hits, err := idx.Search(ctx, "   ", 10, nil)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestLexicalIndex_NoMatches(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, sampleEntries()))

		hits, err := idx.Search(ctx, "zygomorphic quasar", 10, nil)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestLexicalIndex_ReindexReplacesChunk(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, []*LexicalEntry{
			{ChunkID: "c1", DocumentID: "doc-a", Text: "original wording about volcanoes"},
		}))
		require.NoError(t, idx.Index(ctx, []*LexicalEntry{
			{ChunkID: "c1", DocumentID: "doc-a", Text: "replacement wording about glaciers"},
		}))

		hits, err := idx.Search(ctx, "volcanoes", 10, nil)
		require.NoError(t, err)
		assert.Empty(t, hits)

		hits, err = idx.Search(ctx, "glaciers", 10, nil)
		require.NoError(t, err)
		require.Len(t, hits, 1)

		assert.Equal(t, 1, idx.Stats().ChunkCount)
	})
}

func TestLexicalIndex_DocumentFilter(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, sampleEntries()))

		// "database" appears in both doc-a and doc-b chunks.
		hits, err := idx.Search(ctx, "database", 10, nil)
		require.NoError(t, err)
		require.Len(t, hits, 2)

		hits, err = idx.Search(ctx, "database", 10, []string{"doc-b"})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "c4", hits[0].ChunkID)
		assert.Equal(t, "doc-b", hits[0].DocumentID)

		hits, err = idx.Search(ctx, "database", 10, []string{"doc-a", "doc-b"})
		require.NoError(t, err)
		assert.Len(t, hits, 2)

		// A filter naming no indexed document matches nothing.
		hits, err = idx.Search(ctx, "database", 10, []string{"doc-z"})
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestLexicalIndex_DeleteChunks(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, sampleEntries()))

		require.NoError(t, idx.Delete(ctx, []string{"c1", "c2"}))

		ids, err := idx.AllIDs()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"c3", "c4"}, ids)
	})
}

func TestLexicalIndex_DeleteDocument(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, sampleEntries()))

		require.NoError(t, idx.DeleteDocument(ctx, "doc-a"))

		ids, err := idx.AllIDs()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"c3", "c4"}, ids)

		hits, err := idx.Search(ctx, "durability logging", 10, nil)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestLexicalIndex_IdentifierQueryMatchesCode(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, []*LexicalEntry{
			{ChunkID: "c1", DocumentID: "doc-a", Text: "func parseConfigFile(path string) error"},
		}))

		hits, err := idx.Search(ctx, "parse config", 10, nil)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "c1", hits[0].ChunkID)
	})
}

func TestSQLiteLexicalIndex_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lexical.db")
	ctx := context.Background()

	idx, err := NewSQLiteLexicalIndex(path, DefaultLexicalConfig())
	require.NoError(t, err)
	require.NoError(t, idx.Index(ctx, sampleEntries()))
	require.NoError(t, idx.Close())

	idx2, err := NewSQLiteLexicalIndex(path, DefaultLexicalConfig())
	require.NoError(t, err)
	defer idx2.Close()

	hits, err := idx2.Search(ctx, "windowsill afternoon", 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "c3", hits[0].ChunkID)
}

func TestNewLexicalIndex_Factory(t *testing.T) {
	dir := t.TempDir()

	sqliteIdx, err := NewLexicalIndex(filepath.Join(dir, "a"), DefaultLexicalConfig(), "sqlite")
	require.NoError(t, err)
	defer sqliteIdx.Close()
	_, ok := sqliteIdx.(*SQLiteLexicalIndex)
	assert.True(t, ok)

	bleveIdx, err := NewLexicalIndex(filepath.Join(dir, "b"), DefaultLexicalConfig(), "bleve")
	require.NoError(t, err)
	defer bleveIdx.Close()
	_, ok = bleveIdx.(*BleveLexicalIndex)
	assert.True(t, ok)

	defaultIdx, err := NewLexicalIndex("", DefaultLexicalConfig(), "")
	require.NoError(t, err)
	defer defaultIdx.Close()
	_, ok = defaultIdx.(*SQLiteLexicalIndex)
	assert.True(t, ok)

	_, err = NewLexicalIndex("", DefaultLexicalConfig(), "lucene")
	assert.Error(t, err)
}

func TestDetectLexicalBackend(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "lexical")

	assert.Equal(t, LexicalBackend(""), DetectLexicalBackend(base))

	idx, err := NewLexicalIndex(base, DefaultLexicalConfig(), "sqlite")
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	assert.Equal(t, LexicalBackendSQLite, DetectLexicalBackend(base))
}

func TestLexicalIndex_LimitRespected(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()

		var entries []*LexicalEntry
		for i := 0; i < 20; i++ {
			entries = append(entries, &LexicalEntry{
				ChunkID:    fmt.Sprintf("c%d", i),
				DocumentID: "doc-a",
				Text:       fmt.Sprintf("shared keyword plus filler number%d", i),
			})
		}
		require.NoError(t, idx.Index(ctx, entries))

		hits, err := idx.Search(ctx, "shared keyword", 5, nil)
		require.NoError(t, err)
		assert.Len(t, hits, 5)
	})
}
