package rag

import (
	"context"
	"log/slog"

	ragerrors "github.com/trueup-laplace/ragengine/internal/errors"
	"github.com/trueup-laplace/ragengine/internal/store"
)

// ListDocuments returns all stored documents, newest first.
func (e *Engine) ListDocuments(ctx context.Context) ([]*store.Document, error) {
	if err := e.ensureInitialized("ListDocuments"); err != nil {
		return nil, err
	}
	return e.docs.ListDocuments(ctx)
}

// GetDocument returns one document's metadata.
func (e *Engine) GetDocument(ctx context.Context, documentID string) (*store.Document, error) {
	if err := e.ensureInitialized("GetDocument"); err != nil {
		return nil, err
	}
	return e.docs.GetDocument(ctx, documentID)
}

// GetDocumentContent returns a document's original raw bytes. Reads
// count as access for eviction purposes.
func (e *Engine) GetDocumentContent(ctx context.Context, documentID string) ([]byte, error) {
	if err := e.ensureInitialized("GetDocumentContent"); err != nil {
		return nil, err
	}

	content, err := e.docs.GetDocumentContent(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := e.docs.TouchDocument(ctx, documentID); err != nil {
		e.logger.Warn("failed to touch document", slog.String("document_id", documentID), slog.String("error", err.Error()))
	}
	return content, nil
}

// DeleteDocument removes a document everywhere: any in-flight embedding
// job is cancelled first, then the lexical entries, vectors, and the
// store record (chunks cascade) are removed.
func (e *Engine) DeleteDocument(ctx context.Context, documentID string) error {
	if err := e.ensureInitialized("DeleteDocument"); err != nil {
		return err
	}

	doc, err := e.docs.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	// Block until the worker has stopped: a job still inside EmbedBatch
	// when the cancel lands would otherwise report vectors after the
	// index entries below are removed, leaving orphans.
	if err := e.scheduler.CancelAndWait(ctx, documentID); err != nil {
		return ragerrors.Wrap(ragerrors.ErrCodeInternal, err)
	}
	e.logger.Debug("embedding job stopped for deletion", slog.String("document_id", documentID))
	e.scheduler.Forget(documentID)

	chunks, err := e.docs.GetChunksByDocument(ctx, documentID)
	if err != nil {
		return err
	}
	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ID
	}

	if err := e.lexical.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if err := e.vector.Delete(ctx, chunkIDs); err != nil {
		return err
	}
	if err := e.docs.DeleteDocument(ctx, documentID); err != nil {
		return err
	}

	e.logger.Info("document deleted",
		slog.String("document_id", documentID),
		slog.String("name", doc.Name),
		slog.Int("chunks", len(chunkIDs)))
	return nil
}
