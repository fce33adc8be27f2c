package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/trueup-laplace/ragengine/internal/config"
	"github.com/trueup-laplace/ragengine/internal/embed"
	ragerrors "github.com/trueup-laplace/ragengine/internal/errors"
	"github.com/trueup-laplace/ragengine/internal/store"
)

// overFetchFactor widens the per-backend candidate pool so that the
// threshold filter and the merge still leave MaxResults survivors.
const overFetchFactor = 3

// Retriever runs hybrid queries against a lexical index and a vector
// index and merges the two result lists.
type Retriever struct {
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	embedder embed.Embedder
	chunks   ChunkSource
	reranker Reranker

	defaults config.SearchSettings
	logger   *slog.Logger
}

// NewRetriever wires a retriever over the two indices. reranker may be
// nil.
func NewRetriever(
	lexical store.LexicalIndex,
	vector store.VectorIndex,
	embedder embed.Embedder,
	chunks ChunkSource,
	reranker Reranker,
	defaults config.SearchSettings,
	logger *slog.Logger,
) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		chunks:   chunks,
		reranker: reranker,
		defaults: defaults,
		logger:   logger.With(slog.String("component", "retriever")),
	}
}

// candidate accumulates per-chunk evidence from both backends before
// scoring.
type candidate struct {
	chunkID      string
	documentID   string
	rawLexical   float64
	hasLexical   bool
	similarity   float64
	hasVector    bool
	matchedTerms []string
	chunk        *store.Chunk
}

// Search executes a hybrid query. Results are sorted by combined score
// descending, then vector similarity descending, then chunk ordinal
// ascending, then document ID ascending.
func (r *Retriever) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ragerrors.New(ragerrors.ErrCodeQueryEmpty, "search query must not be empty", nil)
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = r.defaults.MaxResults
	}
	if maxResults <= 0 {
		maxResults = 50
	}

	minScore := opts.MinScore
	if minScore == 0 {
		minScore = r.defaults.MinScoreThreshold
	} else if minScore < 0 {
		minScore = 0
	}

	weights := DefaultWeights()
	if r.defaults.LexicalWeight+r.defaults.VectorWeight > 0 {
		weights = Weights{Lexical: r.defaults.LexicalWeight, Vector: r.defaults.VectorWeight}
	}
	if opts.Weights != nil {
		weights = *opts.Weights
	}

	fetchLimit := maxResults * overFetchFactor

	lexHits, vecHits, degraded, err := r.parallelSearch(ctx, query, fetchLimit, opts.LexicalOnly, opts.CandidateDocumentIDs)
	if err != nil {
		return nil, err
	}
	if degraded {
		// Without a vector side, the lexical score carries the full
		// weight so thresholds keep their meaning.
		weights = Weights{Lexical: 1.0, Vector: 0.0}
	}

	candidates := mergeCandidates(lexHits, vecHits)
	if len(candidates) == 0 {
		return []*Result{}, nil
	}

	// Chunk metadata is attached before scoring: vector hits carry no
	// document ID, so the candidate-document filter needs the chunk
	// record, and normalization should only see surviving candidates.
	candidates, err = r.attachChunks(ctx, candidates)
	if err != nil {
		return nil, err
	}
	candidates = filterByDocument(candidates, opts.CandidateDocumentIDs)
	if len(candidates) == 0 {
		return []*Result{}, nil
	}

	normalizeLexical(candidates)

	results := make([]*Result, 0, len(candidates))
	for _, c := range candidates {
		combined := weights.Lexical*c.rawLexical + weights.Vector*c.similarity
		if combined < minScore {
			continue
		}
		results = append(results, &Result{
			Chunk:        c.chunk,
			Score:        combined,
			LexicalScore: c.rawLexical,
			VectorScore:  c.similarity,
			MatchedTerms: c.matchedTerms,
			InBoth:       c.hasLexical && c.hasVector,
		})
	}

	sortResults(results)

	if len(results) > maxResults {
		results = results[:maxResults]
	}

	if r.reranker != nil {
		reranked, err := r.reranker.Rerank(ctx, query, results)
		if err != nil {
			r.logger.Warn("reranker failed, keeping original order",
				slog.String("reranker", r.reranker.Name()),
				slog.String("error", err.Error()))
		} else {
			results = reranked
		}
	}

	r.logger.Debug("search completed",
		slog.String("query", query),
		slog.Int("lexical_hits", len(lexHits)),
		slog.Int("vector_hits", len(vecHits)),
		slog.Int("results", len(results)),
		slog.Bool("degraded", degraded))

	return results, nil
}

// parallelSearch runs the lexical and vector queries concurrently.
// A vector-side failure degrades to lexical-only instead of failing
// the query; a lexical failure is fatal.
func (r *Retriever) parallelSearch(ctx context.Context, query string, limit int, lexicalOnly bool, documentIDs []string) (
	lexHits []*store.LexicalHit,
	vecHits []*store.VectorHit,
	degraded bool,
	err error,
) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hits, lexErr := r.lexical.Search(gctx, query, limit, documentIDs)
		if lexErr != nil {
			return ragerrors.New(ragerrors.ErrCodeSearchFailed, "lexical search failed", lexErr)
		}
		lexHits = hits
		return nil
	})

	if !lexicalOnly && r.vector != nil && r.embedder != nil {
		g.Go(func() error {
			vector, embErr := r.embedder.Embed(gctx, query)
			if embErr != nil {
				r.logger.Warn("query embedding failed, degrading to lexical-only",
					slog.String("error", embErr.Error()))
				degraded = true
				return nil
			}
			hits, vecErr := r.vector.Search(gctx, vector, limit)
			if vecErr != nil {
				r.logger.Warn("vector search failed, degrading to lexical-only",
					slog.String("error", vecErr.Error()))
				degraded = true
				return nil
			}
			vecHits = hits
			return nil
		})
	} else {
		// No vector side for this query: give the lexical score the
		// full weight.
		degraded = true
	}

	if err := g.Wait(); err != nil {
		return nil, nil, false, err
	}
	return lexHits, vecHits, degraded, nil
}

// mergeCandidates joins the two hit lists by chunk ID.
func mergeCandidates(lexHits []*store.LexicalHit, vecHits []*store.VectorHit) []*candidate {
	byID := make(map[string]*candidate, len(lexHits)+len(vecHits))
	ordered := make([]*candidate, 0, len(lexHits)+len(vecHits))

	for _, h := range lexHits {
		c := &candidate{
			chunkID:      h.ChunkID,
			documentID:   h.DocumentID,
			rawLexical:   h.Score,
			hasLexical:   true,
			matchedTerms: h.MatchedTerms,
		}
		byID[h.ChunkID] = c
		ordered = append(ordered, c)
	}

	for _, h := range vecHits {
		if c, ok := byID[h.ChunkID]; ok {
			c.similarity = float64(h.Similarity)
			c.hasVector = true
			continue
		}
		c := &candidate{
			chunkID:    h.ChunkID,
			similarity: float64(h.Similarity),
			hasVector:  true,
		}
		byID[h.ChunkID] = c
		ordered = append(ordered, c)
	}

	return ordered
}

// normalizeLexical rescales raw BM25 scores to [0,1] with min-max over
// the candidate set. Chunks with no lexical hit stay at 0. When every
// lexical score is identical, each hit gets 1.0.
func normalizeLexical(candidates []*candidate) {
	var min, max float64
	first := true
	for _, c := range candidates {
		if !c.hasLexical {
			continue
		}
		if first {
			min, max = c.rawLexical, c.rawLexical
			first = false
			continue
		}
		if c.rawLexical < min {
			min = c.rawLexical
		}
		if c.rawLexical > max {
			max = c.rawLexical
		}
	}
	if first {
		return
	}

	span := max - min
	for _, c := range candidates {
		if !c.hasLexical {
			continue
		}
		if span == 0 {
			c.rawLexical = 1.0
			continue
		}
		c.rawLexical = (c.rawLexical - min) / span
	}
}

// attachChunks loads full chunk metadata for every candidate. Chunks
// the store no longer knows (deleted between index and lookup) are
// dropped. Without a chunk source, candidates keep placeholder chunks
// carrying whatever the lexical hit knew.
func (r *Retriever) attachChunks(ctx context.Context, candidates []*candidate) ([]*candidate, error) {
	if r.chunks == nil {
		for _, c := range candidates {
			c.chunk = &store.Chunk{ID: c.chunkID, DocumentID: c.documentID}
		}
		return candidates, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.chunkID
	}

	chunks, err := r.chunks.GetChunks(ctx, ids)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeSearchFailed, "failed to load result chunks", err)
	}

	byID := make(map[string]*store.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}

	kept := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		chunk, ok := byID[c.chunkID]
		if !ok {
			continue
		}
		c.chunk = chunk
		kept = append(kept, c)
	}
	return kept, nil
}

// filterByDocument drops candidates outside the requested document
// set. An empty set keeps everything.
func filterByDocument(candidates []*candidate, documentIDs []string) []*candidate {
	if len(documentIDs) == 0 {
		return candidates
	}

	allowed := make(map[string]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		allowed[id] = struct{}{}
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if _, ok := allowed[c.chunk.DocumentID]; ok {
			kept = append(kept, c)
		}
	}
	return kept
}

// sortResults orders results deterministically: combined score desc,
// similarity desc, chunk ordinal asc, document ID asc.
func sortResults(results []*Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.VectorScore != b.VectorScore {
			return a.VectorScore > b.VectorScore
		}
		if a.Chunk.Ordinal != b.Chunk.Ordinal {
			return a.Chunk.Ordinal < b.Chunk.Ordinal
		}
		return a.Chunk.DocumentID < b.Chunk.DocumentID
	})
}
