package rag

import (
	"context"
	"log/slog"

	"github.com/trueup-laplace/ragengine/internal/search"
)

// Search runs a hybrid query over the collection. Documents that
// produced results get their access counters bumped for the LRU
// eviction ordering.
func (e *Engine) Search(ctx context.Context, query string, opts search.Options) ([]*search.Result, error) {
	if err := e.ensureInitialized("Search"); err != nil {
		return nil, err
	}

	results, err := e.retriever.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	touched := make(map[string]bool)
	for _, res := range results {
		docID := res.Chunk.DocumentID
		if touched[docID] {
			continue
		}
		touched[docID] = true
		if err := e.docs.TouchDocument(ctx, docID); err != nil {
			e.logger.Warn("failed to bump document access",
				slog.String("document_id", docID),
				slog.String("error", err.Error()))
		}
	}

	return results, nil
}
