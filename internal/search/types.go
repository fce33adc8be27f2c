// Package search implements hybrid retrieval: lexical BM25 hits and
// vector similarity are combined with a weighted sum over min-max
// normalized lexical scores.
package search

import (
	"context"

	"github.com/trueup-laplace/ragengine/internal/store"
)

// Weights balances the lexical and vector contributions to the
// combined score. Each weight lies in [0, 1]; they need not sum to 1.
type Weights struct {
	Lexical float64
	Vector  float64
}

// DefaultWeights favors keyword matching, which behaves better on the
// short technical queries this engine mostly sees.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.7, Vector: 0.3}
}

// Options configures a single query. Zero values fall back to the
// retriever's configured defaults.
type Options struct {
	// MaxResults caps the number of results returned.
	MaxResults int

	// MinScore drops results whose combined score falls below it.
	// Zero means "use the configured threshold"; negative disables
	// filtering for this query.
	MinScore float64

	// Weights overrides the configured lexical/vector weights.
	Weights *Weights

	// LexicalOnly skips embedding and vector search entirely.
	LexicalOnly bool

	// CandidateDocumentIDs restricts the query to the named documents.
	// Empty means the whole collection.
	CandidateDocumentIDs []string
}

// Result is one ranked chunk. LexicalScore is min-max normalized over
// the candidate set; VectorScore is cosine similarity in [0,1].
type Result struct {
	Chunk        *store.Chunk
	Score        float64
	LexicalScore float64
	VectorScore  float64
	MatchedTerms []string
	InBoth       bool
}

// ChunkSource hydrates chunk metadata for ranked IDs. Satisfied by
// store.DocumentStore.
type ChunkSource interface {
	GetChunks(ctx context.Context, chunkIDs []string) ([]*store.Chunk, error)
}

// Reranker reorders an already-ranked result list.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []*Result) ([]*Result, error)
	Name() string
}
