package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trueup-laplace/ragengine/internal/embed"
	ragerrors "github.com/trueup-laplace/ragengine/internal/errors"
	"github.com/trueup-laplace/ragengine/internal/store"
)

// readinessPollInterval is how often EnsureReadyForSearch re-checks
// document statuses.
const readinessPollInterval = 50 * time.Millisecond

// EmbeddingReport aggregates embedding progress over the collection.
type EmbeddingReport struct {
	TotalDocuments       int     `json:"total_documents"`
	Pending              int     `json:"pending"`
	Processing           int     `json:"processing"`
	Completed            int     `json:"completed"`
	Failed               int     `json:"failed"`
	ActiveJobs           int     `json:"active_jobs"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

// DocumentStatus reports one document's embedding progress.
type DocumentStatus struct {
	DocumentID     string                `json:"document_id"`
	Name           string                `json:"name"`
	Status         store.EmbeddingStatus `json:"status"`
	ChunkCount     int                   `json:"chunk_count"`
	EmbeddedChunks int                   `json:"embedded_chunks"`
	Attempts       int                   `json:"attempts"`
	FailureReason  string                `json:"failure_reason,omitempty"`
}

// submitEmbedding queues a job for the document's not-yet-embedded
// chunks and marks it processing. Already-complete documents are
// marked completed directly, with a nil job.
func (e *Engine) submitEmbedding(ctx context.Context, doc *store.Document, chunks []*store.Chunk) (*embed.Job, error) {
	inputs := make([]embed.ChunkInput, 0, len(chunks))
	for _, c := range chunks {
		if c.HasEmbedding {
			continue
		}
		inputs = append(inputs, embed.ChunkInput{ID: c.ID, Text: c.Text})
	}

	if len(inputs) == 0 {
		if err := e.docs.UpdateEmbeddingStatus(ctx, doc.ID, store.EmbeddingCompleted, ""); err != nil {
			return nil, err
		}
		return nil, e.docs.SetCached(ctx, doc.ID, true)
	}

	if err := e.docs.UpdateEmbeddingStatus(ctx, doc.ID, store.EmbeddingProcessing, ""); err != nil {
		return nil, err
	}
	return e.scheduler.Submit(doc.ID, inputs)
}

// GenerateEmbeddings submits jobs for every document that is not yet
// completed. Returns the number of documents submitted.
func (e *Engine) GenerateEmbeddings(ctx context.Context) (int, error) {
	if err := e.ensureInitialized("GenerateEmbeddings"); err != nil {
		return 0, err
	}

	docs, err := e.docs.ListDocuments(ctx)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.EmbeddingStatus == store.EmbeddingCompleted {
			continue
		}
		ids = append(ids, doc.ID)
	}
	return e.GenerateEmbeddingsForSelection(ctx, ids)
}

// GenerateEmbeddingsForSelection submits jobs for the given documents.
// Documents already running keep their existing job. Returns the
// number of documents submitted.
func (e *Engine) GenerateEmbeddingsForSelection(ctx context.Context, documentIDs []string) (int, error) {
	if err := e.ensureInitialized("GenerateEmbeddingsForSelection"); err != nil {
		return 0, err
	}

	submitted := 0
	for _, id := range documentIDs {
		doc, err := e.docs.GetDocument(ctx, id)
		if err != nil {
			return submitted, err
		}
		chunks, err := e.docs.GetChunksByDocument(ctx, id)
		if err != nil {
			return submitted, err
		}
		if _, err := e.submitEmbedding(ctx, doc, chunks); err != nil {
			return submitted, err
		}
		submitted++
	}
	return submitted, nil
}

// EmbeddingStatus aggregates embedding progress across the collection.
func (e *Engine) EmbeddingStatus(ctx context.Context) (*EmbeddingReport, error) {
	if err := e.ensureInitialized("EmbeddingStatus"); err != nil {
		return nil, err
	}

	stats, err := e.docs.Stats(ctx)
	if err != nil {
		return nil, err
	}

	report := &EmbeddingReport{
		TotalDocuments: stats.DocumentCount,
		Pending:        stats.StatusCounts[string(store.EmbeddingPending)],
		Processing:     stats.StatusCounts[string(store.EmbeddingProcessing)],
		Completed:      stats.StatusCounts[string(store.EmbeddingCompleted)],
		Failed:         stats.StatusCounts[string(store.EmbeddingFailed)],
		ActiveJobs:     e.scheduler.Active(),
	}
	if report.TotalDocuments > 0 {
		report.CompletionPercentage = float64(report.Completed) / float64(report.TotalDocuments) * 100
	}
	return report, nil
}

// DocumentEmbeddingStatus reports one document's progress, preferring
// the live job snapshot when a job is in flight.
func (e *Engine) DocumentEmbeddingStatus(ctx context.Context, documentID string) (*DocumentStatus, error) {
	if err := e.ensureInitialized("DocumentEmbeddingStatus"); err != nil {
		return nil, err
	}

	doc, err := e.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	status := &DocumentStatus{
		DocumentID:    doc.ID,
		Name:          doc.Name,
		Status:        doc.EmbeddingStatus,
		ChunkCount:    doc.ChunkCount,
		FailureReason: doc.FailureReason,
	}

	if snapshot, ok := e.scheduler.Poll(documentID); ok {
		status.EmbeddedChunks = snapshot.EmbeddedChunks
		status.Attempts = snapshot.Attempts
		if snapshot.FailureReason != "" {
			status.FailureReason = snapshot.FailureReason
		}
		return status, nil
	}

	chunks, err := e.docs.GetChunksByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if c.HasEmbedding {
			status.EmbeddedChunks++
		}
	}
	return status, nil
}

// EnsureReadyForSearch blocks until the given documents are embedded or
// the timeout elapses. Pending and failed documents are retriggered
// once up front. The per-document statuses are returned in every case,
// including timeout.
func (e *Engine) EnsureReadyForSearch(ctx context.Context, documentIDs []string, timeout time.Duration) (map[string]store.EmbeddingStatus, error) {
	if err := e.ensureInitialized("EnsureReadyForSearch"); err != nil {
		return nil, err
	}

	statuses := make(map[string]store.EmbeddingStatus, len(documentIDs))

	// Retrigger stalled documents before waiting on them.
	var retrigger []string
	for _, id := range documentIDs {
		doc, err := e.docs.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		statuses[id] = doc.EmbeddingStatus
		if doc.EmbeddingStatus == store.EmbeddingPending || doc.EmbeddingStatus == store.EmbeddingFailed {
			retrigger = append(retrigger, id)
		}
	}
	if len(retrigger) > 0 {
		if _, err := e.GenerateEmbeddingsForSelection(ctx, retrigger); err != nil {
			return statuses, err
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()

	for {
		allDone := true
		anyFailed := false
		for _, id := range documentIDs {
			doc, err := e.docs.GetDocument(ctx, id)
			if err != nil {
				return statuses, err
			}
			statuses[id] = doc.EmbeddingStatus
			switch doc.EmbeddingStatus {
			case store.EmbeddingCompleted:
			case store.EmbeddingFailed:
				anyFailed = true
			default:
				allDone = false
			}
		}
		if allDone {
			if anyFailed {
				return statuses, ragerrors.EmbeddingError("some documents failed to embed", nil)
			}
			return statuses, nil
		}

		select {
		case <-ctx.Done():
			return statuses, ctx.Err()
		case <-deadline.C:
			return statuses, ragerrors.New(ragerrors.ErrCodeReadinessTimeout,
				fmt.Sprintf("documents not ready after %s", timeout), nil)
		case <-ticker.C:
		}
	}
}

// ClearEmbeddingCache drops every vector and returns all documents to
// the pending state. Documents stay stored and lexically searchable.
func (e *Engine) ClearEmbeddingCache(ctx context.Context) error {
	if err := e.ensureInitialized("ClearEmbeddingCache"); err != nil {
		return err
	}

	docs, err := e.docs.ListDocuments(ctx)
	if err != nil {
		return err
	}

	for _, doc := range docs {
		if err := e.scheduler.CancelAndWait(ctx, doc.ID); err != nil {
			return ragerrors.Wrap(ragerrors.ErrCodeInternal, err)
		}
		e.scheduler.Forget(doc.ID)
	}

	if cached, ok := e.embedder.(*embed.CachedEmbedder); ok {
		cached.Purge()
	}

	if err := e.vector.Delete(ctx, e.vector.AllIDs()); err != nil {
		return ragerrors.InternalError("failed to clear vector index", err)
	}
	e.saveVectorIndex()

	for _, doc := range docs {
		if err := e.docs.ClearEmbeddings(ctx, doc.ID); err != nil {
			return err
		}
		if err := e.docs.SetCached(ctx, doc.ID, false); err != nil {
			return err
		}
		if err := e.docs.UpdateEmbeddingStatus(ctx, doc.ID, store.EmbeddingPending, ""); err != nil {
			return err
		}
	}

	e.logger.Info("embedding cache cleared", slog.Int("documents", len(docs)))
	return nil
}

// onChunkEmbedded is the scheduler's per-chunk callback: the vector
// becomes searchable immediately, before the job finishes.
func (e *Engine) onChunkEmbedded(documentID, chunkID string, vector []float32) {
	ctx := context.Background()

	// The chunk may have been deleted while its batch was in flight.
	// Indexing the vector anyway would orphan it: nothing left in the
	// store points at it, so no later delete would reclaim it.
	if _, err := e.docs.GetChunk(ctx, chunkID); err != nil {
		e.logger.Debug("discarding vector for missing chunk",
			slog.String("document_id", documentID),
			slog.String("chunk_id", chunkID))
		return
	}

	if err := e.vector.Add(ctx, []string{chunkID}, [][]float32{vector}); err != nil {
		e.logger.Error("failed to add vector",
			slog.String("document_id", documentID),
			slog.String("chunk_id", chunkID),
			slog.String("error", err.Error()))
		return
	}
	if err := e.docs.MarkChunkEmbedded(ctx, chunkID); err != nil {
		e.logger.Error("failed to mark chunk embedded",
			slog.String("chunk_id", chunkID),
			slog.String("error", err.Error()))
	}
}

// onJobCompleted marks the document completed and cached, persists the
// vector index, and enforces the cached-document ceiling.
func (e *Engine) onJobCompleted(documentID string, attempts int) {
	ctx := context.Background()
	if err := e.docs.UpdateEmbeddingStatus(ctx, documentID, store.EmbeddingCompleted, ""); err != nil {
		e.logger.Error("failed to mark document completed",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()))
		return
	}
	if err := e.docs.SetCached(ctx, documentID, true); err != nil {
		e.logger.Error("failed to set cached flag",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()))
	}

	e.saveVectorIndex()

	if err := e.enforceCacheLimit(ctx); err != nil {
		e.logger.Error("cache eviction failed", slog.String("error", err.Error()))
	}
}

// onJobFailed records the terminal failure. The document remains
// stored and lexically searchable.
func (e *Engine) onJobFailed(documentID string, attempts int, jobErr error) {
	ctx := context.Background()
	reason := ""
	if jobErr != nil {
		reason = jobErr.Error()
	}
	if err := e.docs.UpdateEmbeddingStatus(ctx, documentID, store.EmbeddingFailed, reason); err != nil {
		e.logger.Error("failed to mark document failed",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()))
	}
}

// enforceCacheLimit demotes least-recently-accessed cached documents
// until the count fits MaxCachedDocuments. Demotion drops vectors and
// resets status to pending; it never deletes the document or its
// lexical entries.
func (e *Engine) enforceCacheLimit(ctx context.Context) error {
	stats, err := e.docs.Stats(ctx)
	if err != nil {
		return err
	}

	max := e.Settings().Storage.MaxCachedDocuments
	excess := stats.CachedCount - max
	if excess <= 0 {
		return nil
	}

	victims, err := e.docs.EvictionCandidates(ctx, excess)
	if err != nil {
		return err
	}

	for _, victim := range victims {
		if err := e.demoteDocument(ctx, victim.ID); err != nil {
			return err
		}
		e.logger.Info("evicted document from vector cache",
			slog.String("document_id", victim.ID),
			slog.String("name", victim.Name))
	}
	e.saveVectorIndex()
	return nil
}

// demoteDocument removes a document's vectors and returns it to the
// pending state.
func (e *Engine) demoteDocument(ctx context.Context, documentID string) error {
	chunks, err := e.docs.GetChunksByDocument(ctx, documentID)
	if err != nil {
		return err
	}

	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ID
	}
	if err := e.vector.Delete(ctx, chunkIDs); err != nil {
		return err
	}
	if err := e.docs.ClearEmbeddings(ctx, documentID); err != nil {
		return err
	}
	if err := e.docs.SetCached(ctx, documentID, false); err != nil {
		return err
	}
	return e.docs.UpdateEmbeddingStatus(ctx, documentID, store.EmbeddingPending, "")
}
