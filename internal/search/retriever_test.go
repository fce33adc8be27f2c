package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trueup-laplace/ragengine/internal/config"
	ragerrors "github.com/trueup-laplace/ragengine/internal/errors"
	"github.com/trueup-laplace/ragengine/internal/store"
)

type stubLexical struct {
	hits       []*store.LexicalHit
	err        error
	lastFilter []string
}

var _ store.LexicalIndex = (*stubLexical)(nil)

func (s *stubLexical) Index(ctx context.Context, entries []*store.LexicalEntry) error { return nil }
func (s *stubLexical) Search(ctx context.Context, query string, limit int, documentIDs []string) ([]*store.LexicalHit, error) {
	s.lastFilter = documentIDs
	if s.err != nil || len(documentIDs) == 0 {
		return s.hits, s.err
	}
	allowed := make(map[string]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		allowed[id] = struct{}{}
	}
	var out []*store.LexicalHit
	for _, h := range s.hits {
		if _, ok := allowed[h.DocumentID]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}
func (s *stubLexical) Delete(ctx context.Context, chunkIDs []string) error        { return nil }
func (s *stubLexical) DeleteDocument(ctx context.Context, documentID string) error { return nil }
func (s *stubLexical) AllIDs() ([]string, error)                                  { return nil, nil }
func (s *stubLexical) Stats() *store.LexicalStats                                 { return &store.LexicalStats{} }
func (s *stubLexical) Flush() error                                               { return nil }
func (s *stubLexical) Close() error                                               { return nil }

type stubVector struct {
	hits []*store.VectorHit
	err  error
}

var _ store.VectorIndex = (*stubVector)(nil)

func (s *stubVector) Add(ctx context.Context, chunkIDs []string, vectors [][]float32) error {
	return nil
}
func (s *stubVector) Search(ctx context.Context, query []float32, k int) ([]*store.VectorHit, error) {
	return s.hits, s.err
}
func (s *stubVector) Delete(ctx context.Context, chunkIDs []string) error { return nil }
func (s *stubVector) Contains(chunkID string) bool                        { return false }
func (s *stubVector) Count() int                                          { return 0 }
func (s *stubVector) AllIDs() []string                                    { return nil }
func (s *stubVector) Save(path string) error                              { return nil }
func (s *stubVector) Load(path string) error                              { return nil }
func (s *stubVector) Close() error                                        { return nil }

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}
func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (s *stubEmbedder) Dimensions() int   { return 3 }
func (s *stubEmbedder) ModelName() string { return "stub" }
func (s *stubEmbedder) Available() bool   { return s.err == nil }
func (s *stubEmbedder) Close() error      { return nil }

// stubChunks serves chunk metadata from a map. Unknown IDs are skipped,
// matching the document store's batch lookup.
type stubChunks struct {
	chunks map[string]*store.Chunk
}

func (s *stubChunks) GetChunks(ctx context.Context, chunkIDs []string) ([]*store.Chunk, error) {
	var out []*store.Chunk
	for _, id := range chunkIDs {
		if c, ok := s.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func chunkMap(ids ...string) *stubChunks {
	m := make(map[string]*store.Chunk, len(ids))
	for i, id := range ids {
		m[id] = &store.Chunk{ID: id, DocumentID: "doc-1", Ordinal: i, Text: "text " + id}
	}
	return &stubChunks{chunks: m}
}

func testSettings() config.SearchSettings {
	return config.SearchSettings{
		LexicalWeight:     0.7,
		VectorWeight:      0.3,
		MaxResults:        50,
		MinScoreThreshold: 0.1,
	}
}

func newTestRetriever(lex *stubLexical, vec *stubVector, emb *stubEmbedder, chunks ChunkSource) *Retriever {
	return NewRetriever(lex, vec, emb, chunks, nil, testSettings(), nil)
}

func TestRetriever_WeightedSum(t *testing.T) {
	lex := &stubLexical{hits: []*store.LexicalHit{
		{ChunkID: "c1", DocumentID: "doc-1", Score: 10, MatchedTerms: []string{"alpha"}},
		{ChunkID: "c2", DocumentID: "doc-1", Score: 5},
	}}
	vec := &stubVector{hits: []*store.VectorHit{
		{ChunkID: "c2", Similarity: 0.8},
		{ChunkID: "c3", Similarity: 0.6},
	}}

	r := newTestRetriever(lex, vec, &stubEmbedder{}, chunkMap("c1", "c2", "c3"))

	results, err := r.Search(context.Background(), "alpha", Options{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Min-max normalized lexical: c1 -> 1.0, c2 -> 0.0.
	assert.Equal(t, "c1", results[0].Chunk.ID)
	assert.InDelta(t, 0.7, results[0].Score, 1e-9)
	assert.Equal(t, []string{"alpha"}, results[0].MatchedTerms)

	assert.Equal(t, "c2", results[1].Chunk.ID)
	assert.InDelta(t, 0.24, results[1].Score, 1e-9)
	assert.True(t, results[1].InBoth)

	assert.Equal(t, "c3", results[2].Chunk.ID)
	assert.InDelta(t, 0.18, results[2].Score, 1e-9)
	assert.False(t, results[2].InBoth)
}

func TestRetriever_ThresholdFilters(t *testing.T) {
	lex := &stubLexical{hits: []*store.LexicalHit{
		{ChunkID: "c1", DocumentID: "doc-1", Score: 10},
		{ChunkID: "c2", DocumentID: "doc-1", Score: 5},
	}}
	vec := &stubVector{}

	r := newTestRetriever(lex, vec, &stubEmbedder{}, chunkMap("c1", "c2"))

	results, err := r.Search(context.Background(), "query", Options{MinScore: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].Chunk.ID)
}

func TestRetriever_NegativeMinScoreDisablesFilter(t *testing.T) {
	lex := &stubLexical{hits: []*store.LexicalHit{
		{ChunkID: "c1", DocumentID: "doc-1", Score: 10},
		{ChunkID: "c2", DocumentID: "doc-1", Score: 5},
	}}

	r := newTestRetriever(lex, &stubVector{}, &stubEmbedder{}, chunkMap("c1", "c2"))

	results, err := r.Search(context.Background(), "query", Options{MinScore: -1})
	require.NoError(t, err)
	assert.Len(t, results, 2, "zero-scored tail survives without a threshold")
}

func TestRetriever_WeightOverride(t *testing.T) {
	lex := &stubLexical{hits: []*store.LexicalHit{
		{ChunkID: "c1", DocumentID: "doc-1", Score: 10},
	}}
	vec := &stubVector{hits: []*store.VectorHit{
		{ChunkID: "c2", Similarity: 0.8},
		{ChunkID: "c3", Similarity: 0.6},
	}}

	r := newTestRetriever(lex, vec, &stubEmbedder{}, chunkMap("c1", "c2", "c3"))

	results, err := r.Search(context.Background(), "query", Options{
		Weights:  &Weights{Lexical: 0, Vector: 1},
		MinScore: -1,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "c2", results[0].Chunk.ID)
	assert.Equal(t, "c3", results[1].Chunk.ID)
	assert.Equal(t, "c1", results[2].Chunk.ID)
}

func TestRetriever_TieBreaks(t *testing.T) {
	// Equal similarity, no lexical signal: ties resolve by ordinal,
	// then document ID.
	vec := &stubVector{hits: []*store.VectorHit{
		{ChunkID: "c-late", Similarity: 0.5},
		{ChunkID: "c-early", Similarity: 0.5},
		{ChunkID: "c-other-doc", Similarity: 0.5},
	}}

	chunks := &stubChunks{chunks: map[string]*store.Chunk{
		"c-late":      {ID: "c-late", DocumentID: "doc-a", Ordinal: 5},
		"c-early":     {ID: "c-early", DocumentID: "doc-b", Ordinal: 1},
		"c-other-doc": {ID: "c-other-doc", DocumentID: "doc-a", Ordinal: 1},
	}}

	r := newTestRetriever(&stubLexical{}, vec, &stubEmbedder{}, chunks)

	results, err := r.Search(context.Background(), "query", Options{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "c-other-doc", results[0].Chunk.ID, "ordinal 1, doc-a")
	assert.Equal(t, "c-early", results[1].Chunk.ID, "ordinal 1, doc-b")
	assert.Equal(t, "c-late", results[2].Chunk.ID, "ordinal 5")
}

func TestRetriever_DegradesWhenEmbedderFails(t *testing.T) {
	lex := &stubLexical{hits: []*store.LexicalHit{
		{ChunkID: "c1", DocumentID: "doc-1", Score: 10},
		{ChunkID: "c2", DocumentID: "doc-1", Score: 5},
	}}
	vec := &stubVector{hits: []*store.VectorHit{{ChunkID: "c3", Similarity: 0.9}}}

	r := newTestRetriever(lex, vec, &stubEmbedder{err: fmt.Errorf("backend down")}, chunkMap("c1", "c2", "c3"))

	results, err := r.Search(context.Background(), "query", Options{})
	require.NoError(t, err, "vector-side failure degrades instead of failing")
	require.Len(t, results, 1, "lexical-only; vector hits never fetched")

	// Lexical weight renormalized to 1.0.
	assert.Equal(t, "c1", results[0].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestRetriever_LexicalOnlyOption(t *testing.T) {
	lex := &stubLexical{hits: []*store.LexicalHit{
		{ChunkID: "c1", DocumentID: "doc-1", Score: 10},
	}}
	vec := &stubVector{hits: []*store.VectorHit{{ChunkID: "c2", Similarity: 0.9}}}

	r := newTestRetriever(lex, vec, &stubEmbedder{}, chunkMap("c1", "c2"))

	results, err := r.Search(context.Background(), "query", Options{LexicalOnly: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestRetriever_LexicalFailureIsFatal(t *testing.T) {
	lex := &stubLexical{err: fmt.Errorf("index corrupt")}

	r := newTestRetriever(lex, &stubVector{}, &stubEmbedder{}, chunkMap())

	_, err := r.Search(context.Background(), "query", Options{})
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeSearchFailed, ragerrors.GetCode(err))
}

func TestRetriever_EmptyQuery(t *testing.T) {
	r := newTestRetriever(&stubLexical{}, &stubVector{}, &stubEmbedder{}, chunkMap())

	_, err := r.Search(context.Background(), "   ", Options{})
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeQueryEmpty, ragerrors.GetCode(err))
}

func TestRetriever_NoMatches(t *testing.T) {
	r := newTestRetriever(&stubLexical{}, &stubVector{}, &stubEmbedder{}, chunkMap())

	results, err := r.Search(context.Background(), "query", Options{})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRetriever_MaxResultsCap(t *testing.T) {
	var hits []*store.LexicalHit
	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("c%d", i)
		hits = append(hits, &store.LexicalHit{ChunkID: id, DocumentID: "doc-1", Score: float64(10 - i)})
		ids = append(ids, id)
	}

	r := newTestRetriever(&stubLexical{hits: hits}, &stubVector{}, &stubEmbedder{}, chunkMap(ids...))

	results, err := r.Search(context.Background(), "query", Options{MaxResults: 3, MinScore: -1})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "c0", results[0].Chunk.ID)
}

func TestRetriever_CandidateDocumentScoping(t *testing.T) {
	lex := &stubLexical{hits: []*store.LexicalHit{
		{ChunkID: "a1", DocumentID: "doc-a", Score: 10},
		{ChunkID: "b1", DocumentID: "doc-b", Score: 8},
	}}
	// The vector index knows nothing about documents; b2 belongs to the
	// out-of-scope doc-b and must be filtered out after chunk lookup.
	vec := &stubVector{hits: []*store.VectorHit{
		{ChunkID: "a2", Similarity: 0.9},
		{ChunkID: "b2", Similarity: 0.95},
	}}

	chunks := &stubChunks{chunks: map[string]*store.Chunk{
		"a1": {ID: "a1", DocumentID: "doc-a", Ordinal: 0},
		"a2": {ID: "a2", DocumentID: "doc-a", Ordinal: 1},
		"b1": {ID: "b1", DocumentID: "doc-b", Ordinal: 0},
		"b2": {ID: "b2", DocumentID: "doc-b", Ordinal: 1},
	}}

	r := newTestRetriever(lex, vec, &stubEmbedder{}, chunks)

	results, err := r.Search(context.Background(), "query", Options{
		MinScore:             -1,
		CandidateDocumentIDs: []string{"doc-a"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, "doc-a", res.Chunk.DocumentID)
	}
	assert.Equal(t, []string{"doc-a"}, lex.lastFilter, "filter reaches the lexical backend")
}

func TestRetriever_CandidateScopeMatchesNothing(t *testing.T) {
	lex := &stubLexical{hits: []*store.LexicalHit{
		{ChunkID: "c1", DocumentID: "doc-1", Score: 10},
	}}

	r := newTestRetriever(lex, &stubVector{}, &stubEmbedder{}, chunkMap("c1"))

	results, err := r.Search(context.Background(), "query", Options{
		MinScore:             -1,
		CandidateDocumentIDs: []string{"doc-z"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetriever_DropsDeletedChunks(t *testing.T) {
	lex := &stubLexical{hits: []*store.LexicalHit{
		{ChunkID: "c1", DocumentID: "doc-1", Score: 10},
		{ChunkID: "c-gone", DocumentID: "doc-1", Score: 8},
	}}

	r := newTestRetriever(lex, &stubVector{}, &stubEmbedder{}, chunkMap("c1"))

	results, err := r.Search(context.Background(), "query", Options{MinScore: -1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].Chunk.ID)
}

type reversingReranker struct{ calls int }

func (r *reversingReranker) Rerank(ctx context.Context, query string, results []*Result) ([]*Result, error) {
	r.calls++
	out := make([]*Result, len(results))
	for i, res := range results {
		out[len(results)-1-i] = res
	}
	return out, nil
}
func (r *reversingReranker) Name() string { return "reversing" }

func TestRetriever_RerankerApplied(t *testing.T) {
	lex := &stubLexical{hits: []*store.LexicalHit{
		{ChunkID: "c1", DocumentID: "doc-1", Score: 10},
		{ChunkID: "c2", DocumentID: "doc-1", Score: 5},
	}}
	reranker := &reversingReranker{}

	r := NewRetriever(lex, &stubVector{}, &stubEmbedder{}, chunkMap("c1", "c2"), reranker, testSettings(), nil)

	results, err := r.Search(context.Background(), "query", Options{MinScore: -1})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, reranker.calls)
	assert.Equal(t, "c2", results[0].Chunk.ID, "reranker reversed the order")
}

func TestNoOpReranker(t *testing.T) {
	in := []*Result{{Chunk: &store.Chunk{ID: "c1"}}}
	out, err := NewNoOpReranker().Rerank(context.Background(), "q", in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, "noop", NewNoOpReranker().Name())
}
