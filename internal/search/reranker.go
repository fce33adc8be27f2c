package search

import "context"

// NoOpReranker keeps the retriever's order. It exists so callers can
// wire the reranking hook unconditionally and swap in a real model
// later via settings.
type NoOpReranker struct{}

var _ Reranker = (*NoOpReranker)(nil)

func NewNoOpReranker() *NoOpReranker {
	return &NoOpReranker{}
}

func (r *NoOpReranker) Rerank(ctx context.Context, query string, results []*Result) ([]*Result, error) {
	return results, nil
}

func (r *NoOpReranker) Name() string {
	return "noop"
}
