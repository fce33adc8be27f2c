package rag

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trueup-laplace/ragengine/internal/config"
	ragerrors "github.com/trueup-laplace/ragengine/internal/errors"
	"github.com/trueup-laplace/ragengine/internal/search"
	"github.com/trueup-laplace/ragengine/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine writes settings into a temp data dir and initializes
// an engine over it.
func newTestEngine(t *testing.T, mutate func(*config.Settings)) *Engine {
	t.Helper()

	dir := t.TempDir()
	settings := config.DefaultSettings()
	settings.Processing.Workers = 2
	if mutate != nil {
		mutate(settings)
	}
	require.NoError(t, settings.Save(dir))

	e := New(dir, testLogger())
	require.NoError(t, e.Initialize(context.Background()))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func waitReady(t *testing.T, e *Engine, ids ...string) {
	t.Helper()
	statuses, err := e.EnsureReadyForSearch(context.Background(), ids, 10*time.Second)
	require.NoError(t, err)
	for id, status := range statuses {
		require.Equal(t, store.EmbeddingCompleted, status, "document %s", id)
	}
}

const sampleText = `The hybrid retrieval engine combines keyword matching with vector similarity.

Keyword search excels at exact identifiers and error codes. Vector search captures meaning even when the words differ.

Together they answer both precise and fuzzy questions about the document collection.`

func TestEngine_RequiresInitialize(t *testing.T) {
	e := New(t.TempDir(), testLogger())

	_, err := e.UploadDocument(context.Background(), "a.txt", []byte("hello"))
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeNotInitialized, ragerrors.GetCode(err))

	_, err = e.Search(context.Background(), "hello", search.Options{})
	assert.Equal(t, ragerrors.ErrCodeNotInitialized, ragerrors.GetCode(err))

	_, err = e.ListDocuments(context.Background())
	assert.Equal(t, ragerrors.ErrCodeNotInitialized, ragerrors.GetCode(err))
}

func TestEngine_UploadAndSearch(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	doc, err := e.UploadDocument(ctx, "retrieval.md", []byte(sampleText))
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "md", doc.FileType)
	assert.Greater(t, doc.ChunkCount, 0)

	waitReady(t, e, doc.ID)

	results, err := e.Search(ctx, "keyword matching vector similarity", search.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, doc.ID, results[0].Chunk.DocumentID)
	assert.Greater(t, results[0].Score, 0.0)

	// The hit bumped the document's access counter.
	got, err := e.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.AccessCount, int64(1))
}

func TestEngine_UploadValidation(t *testing.T) {
	e := newTestEngine(t, func(s *config.Settings) {
		s.Storage.MaxDocumentSizeMB = 1
	})
	ctx := context.Background()

	_, err := e.UploadDocument(ctx, "empty.txt", nil)
	assert.Equal(t, ragerrors.ErrCodeEmptyDocument, ragerrors.GetCode(err))

	_, err = e.UploadDocument(ctx, "image.png", []byte("binary"))
	assert.Equal(t, ragerrors.ErrCodeUnsupportedFileType, ragerrors.GetCode(err))

	big := strings.Repeat("x", 1024*1024+1)
	_, err = e.UploadDocument(ctx, "big.txt", []byte(big))
	assert.Equal(t, ragerrors.ErrCodeDocumentTooLarge, ragerrors.GetCode(err))

	// Exactly at the ceiling is allowed.
	v, err := e.ValidateUpload("ok.txt", 1024*1024)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.True(t, v.SizeValid)
	assert.True(t, v.TypeValid)
	assert.Empty(t, v.Reason)

	v, err = e.ValidateUpload("", 10)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.False(t, v.TypeValid)
	assert.True(t, v.SizeValid)
	assert.NotEmpty(t, v.Reason)

	// Both checks fail independently.
	v, err = e.ValidateUpload("huge.png", 2*1024*1024)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.False(t, v.SizeValid)
	assert.False(t, v.TypeValid)

	// Nothing was stored by the failed uploads.
	docs, err := e.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestEngine_DuplicateDetection(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	content := []byte(sampleText)
	doc, err := e.UploadDocument(ctx, "first.txt", content)
	require.NoError(t, err)

	existing, err := e.CheckDuplicate(ctx, content)
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, doc.ID, existing.ID)

	// Same bytes under a different name is still a duplicate.
	_, err = e.UploadDocument(ctx, "second.txt", content)
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeDuplicateDocument, ragerrors.GetCode(err))

	var ragErr *ragerrors.RagError
	require.ErrorAs(t, err, &ragErr)
	assert.Equal(t, doc.ID, ragErr.Details["existing_document_id"])

	missing, err := e.CheckDuplicate(ctx, []byte("something else entirely"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEngine_DeleteDocument(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	doc, err := e.UploadDocument(ctx, "doomed.txt", []byte(sampleText))
	require.NoError(t, err)
	waitReady(t, e, doc.ID)

	require.NoError(t, e.DeleteDocument(ctx, doc.ID))

	docs, err := e.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)

	results, err := e.Search(ctx, "keyword matching", search.Options{})
	require.NoError(t, err)
	assert.Empty(t, results)

	stats, err := e.StorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.VectorCount)
	assert.Equal(t, 0, stats.LexicalChunks)

	err = e.DeleteDocument(ctx, doc.ID)
	assert.Equal(t, ragerrors.ErrCodeDocumentNotFound, ragerrors.GetCode(err))
}

func TestEngine_EmbeddingStatusAggregate(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	doc, err := e.UploadDocument(ctx, "status.txt", []byte(sampleText))
	require.NoError(t, err)
	waitReady(t, e, doc.ID)

	report, err := e.EmbeddingStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalDocuments)
	assert.Equal(t, 1, report.Completed)
	assert.InDelta(t, 100.0, report.CompletionPercentage, 0.01)

	status, err := e.DocumentEmbeddingStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EmbeddingCompleted, status.Status)
	assert.Equal(t, doc.ChunkCount, status.EmbeddedChunks)
}

func TestEngine_ManualEmbeddingFlow(t *testing.T) {
	e := newTestEngine(t, func(s *config.Settings) {
		s.Processing.AutoEmbedding = false
	})
	ctx := context.Background()

	doc, err := e.UploadDocument(ctx, "manual.txt", []byte(sampleText))
	require.NoError(t, err)
	assert.Equal(t, store.EmbeddingPending, doc.EmbeddingStatus)

	// Lexical search works before any embedding exists.
	results, err := e.Search(ctx, "keyword matching", search.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	n, err := e.GenerateEmbeddings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	waitReady(t, e, doc.ID)

	got, err := e.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EmbeddingCompleted, got.EmbeddingStatus)
	assert.True(t, got.Cached)
}

func TestEngine_ReadinessRetriggersPending(t *testing.T) {
	e := newTestEngine(t, func(s *config.Settings) {
		s.Processing.AutoEmbedding = false
	})
	ctx := context.Background()

	doc, err := e.UploadDocument(ctx, "lazy.txt", []byte(sampleText))
	require.NoError(t, err)

	// EnsureReadyForSearch submits the missing job itself.
	statuses, err := e.EnsureReadyForSearch(ctx, []string{doc.ID}, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, store.EmbeddingCompleted, statuses[doc.ID])
}

func TestEngine_ClearEmbeddingCache(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	doc, err := e.UploadDocument(ctx, "cached.txt", []byte(sampleText))
	require.NoError(t, err)
	waitReady(t, e, doc.ID)

	require.NoError(t, e.ClearEmbeddingCache(ctx))

	got, err := e.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EmbeddingPending, got.EmbeddingStatus)
	assert.False(t, got.Cached)

	stats, err := e.StorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.VectorCount)
	assert.Greater(t, stats.LexicalChunks, 0, "lexical entries survive the cache clear")

	// Document remains lexically searchable.
	results, err := e.Search(ctx, "keyword matching", search.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestEngine_EvictionDemotesLRU(t *testing.T) {
	e := newTestEngine(t, func(s *config.Settings) {
		s.Storage.MaxCachedDocuments = 1
	})
	ctx := context.Background()

	first, err := e.UploadDocument(ctx, "first.txt", []byte(sampleText))
	require.NoError(t, err)
	waitReady(t, e, first.ID)

	second, err := e.UploadDocument(ctx, "second.txt", []byte(sampleText+"\n\nExtra paragraph to change the fingerprint."))
	require.NoError(t, err)
	waitReady(t, e, second.ID)

	// Completing the second document pushes the cache over its limit;
	// the older document gets demoted, not deleted.
	assert.Eventually(t, func() bool {
		got, err := e.GetDocument(ctx, first.ID)
		if err != nil {
			return false
		}
		return !got.Cached && got.EmbeddingStatus == store.EmbeddingPending
	}, 5*time.Second, 20*time.Millisecond)

	got, err := e.GetDocument(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, got.Cached)
	assert.Equal(t, store.EmbeddingCompleted, got.EmbeddingStatus)

	docs, err := e.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 2, "eviction never deletes documents")
}

func TestEngine_UpdateSettings(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	updated := e.Settings()
	updated.Search.LexicalWeight = 0.5
	updated.Search.VectorWeight = 0.5
	require.NoError(t, e.UpdateSettings(ctx, updated))

	got := e.Settings()
	assert.InDelta(t, 0.5, got.Search.LexicalWeight, 1e-9)

	backups, err := config.ListBackups(e.dataDir)
	require.NoError(t, err)
	assert.NotEmpty(t, backups)

	// Weights are independent; an update that changes only one is fine.
	uneven := e.Settings()
	uneven.Search.LexicalWeight = 0.9
	require.NoError(t, e.UpdateSettings(ctx, uneven))

	bad := e.Settings()
	bad.Search.LexicalWeight = 1.5
	err = e.UpdateSettings(ctx, bad)
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeSettingsInvalid, ragerrors.GetCode(err))
}

func TestEngine_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	settings := config.DefaultSettings()
	settings.Processing.Workers = 2
	require.NoError(t, settings.Save(dir))
	ctx := context.Background()

	e := New(dir, testLogger())
	require.NoError(t, e.Initialize(ctx))

	doc, err := e.UploadDocument(ctx, "durable.txt", []byte(sampleText))
	require.NoError(t, err)
	waitReady(t, e, doc.ID)
	require.NoError(t, e.Close())

	e2 := New(dir, testLogger())
	require.NoError(t, e2.Initialize(ctx))
	defer e2.Close()

	got, err := e2.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EmbeddingCompleted, got.EmbeddingStatus)

	results, err := e2.Search(ctx, "keyword matching vector similarity", search.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, doc.ID, results[0].Chunk.DocumentID)
}

func TestEngine_InitializeIsIdempotent(t *testing.T) {
	e := newTestEngine(t, nil)
	require.NoError(t, e.Initialize(context.Background()))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestEngine_SearchScopedToDocuments(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	first, err := e.UploadDocument(ctx, "first.txt", []byte(sampleText))
	require.NoError(t, err)
	second, err := e.UploadDocument(ctx, "second.txt", []byte(sampleText+"\n\nExtra paragraph to change the fingerprint."))
	require.NoError(t, err)
	waitReady(t, e, first.ID, second.ID)

	// Unscoped, the shared phrase matches both documents.
	results, err := e.Search(ctx, "keyword matching vector similarity", search.Options{})
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, r := range results {
		seen[r.Chunk.DocumentID] = true
	}
	assert.Len(t, seen, 2)

	// Scoped, only the named document contributes.
	results, err = e.Search(ctx, "keyword matching vector similarity", search.Options{
		CandidateDocumentIDs: []string{first.ID},
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, first.ID, r.Chunk.DocumentID)
	}

	// A scope matching nothing returns no results.
	results, err = e.Search(ctx, "keyword matching vector similarity", search.Options{
		CandidateDocumentIDs: []string{"no-such-document"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_DiscardsVectorForMissingChunk(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	// A vector arriving after its chunk was deleted must not be indexed.
	vec := make([]float32, e.embedder.Dimensions())
	vec[0] = 1
	e.onChunkEmbedded("ghost-doc", "ghost-chunk", vec)

	stats, err := e.StorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.VectorCount)
	assert.False(t, e.vector.Contains("ghost-chunk"))
}

func TestEngine_DocumentContentAndMetadata(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	meta := map[string]string{"source": "inbox", "author": "ops"}
	doc, err := e.UploadDocumentWithMetadata(ctx, "tagged.txt", []byte(sampleText), meta)
	require.NoError(t, err)

	got, err := e.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, meta, got.Metadata)

	content, err := e.GetDocumentContent(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte(sampleText), content)

	_, err = e.GetDocumentContent(ctx, "no-such-document")
	assert.Equal(t, ragerrors.ErrCodeDocumentNotFound, ragerrors.GetCode(err))
}

func TestEngine_ForegroundProcessing(t *testing.T) {
	e := newTestEngine(t, func(s *config.Settings) {
		s.Processing.BackgroundProcessing = false
	})
	ctx := context.Background()

	// With background processing off, the upload call returns only once
	// every chunk has a vector.
	doc, err := e.UploadDocument(ctx, "sync.txt", []byte(sampleText))
	require.NoError(t, err)
	assert.Equal(t, store.EmbeddingCompleted, doc.EmbeddingStatus)
	assert.True(t, doc.Cached)

	results, err := e.Search(ctx, "keyword matching vector similarity", search.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte("same bytes"))
	b := Fingerprint([]byte("same bytes"))
	c := Fingerprint([]byte("other bytes"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
