package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// StaticEmbedder produces deterministic embeddings from token and
// character n-gram hashes. It needs no external service, so uploads can
// be indexed for vector search even when no model backend is running.
// Vectors are stable across processes: the same text always hashes to
// the same embedding.
type StaticEmbedder struct {
	dimensions int
	modelName  string
	normalize  bool
}

var _ Embedder = (*StaticEmbedder)(nil)

const (
	tokenFeatureWeight = 0.7
	ngramFeatureWeight = 0.3
	ngramSize          = 3
)

// NewStaticEmbedder creates a hash-based embedder. dimensions <= 0
// selects StaticDimensions.
func NewStaticEmbedder(dimensions int) *StaticEmbedder {
	if dimensions <= 0 {
		dimensions = StaticDimensions
	}
	return &StaticEmbedder{
		dimensions: dimensions,
		modelName:  "static-hash",
		normalize:  true,
	}
}

// SetNormalize toggles unit-normalization of produced vectors.
func (e *StaticEmbedder) SetNormalize(normalize bool) {
	e.normalize = normalize
}

// Embed generates a deterministic embedding for the text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.generateVector(text), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = e.generateVector(text)
	}
	return vectors, nil
}

// Dimensions returns the vector size.
func (e *StaticEmbedder) Dimensions() int { return e.dimensions }

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string { return e.modelName }

// Available always reports true; there is no backend to probe.
func (e *StaticEmbedder) Available() bool { return true }

// Close is a no-op.
func (e *StaticEmbedder) Close() error { return nil }

// generateVector builds a vector from weighted token hashes plus
// character trigram hashes, unit-normalized unless disabled. Token
// features dominate so exact word overlap matters more than spelling
// similarity.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, e.dimensions)

	tokens := tokenizeForHash(text)
	if len(tokens) == 0 {
		return vector
	}

	for _, tok := range tokens {
		vector[e.hashToIndex(tok)] += tokenFeatureWeight
	}

	lower := strings.ToLower(text)
	for i := 0; i+ngramSize <= len(lower); i++ {
		gram := lower[i : i+ngramSize]
		if strings.ContainsAny(gram, " \t\n") {
			continue
		}
		vector[e.hashToIndex(gram)] += ngramFeatureWeight
	}

	if e.normalize {
		return normalizeVector(vector)
	}
	return vector
}

// hashToIndex maps a feature string to a vector slot with FNV-64a.
func (e *StaticEmbedder) hashToIndex(s string) int {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int(h.Sum64() % uint64(e.dimensions))
}

// tokenizeForHash lowercases text and splits it into word tokens,
// further splitting identifiers on camelCase and snake_case so code
// files hash into comparable features.
func tokenizeForHash(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	var tokens []string
	for _, f := range fields {
		for _, part := range splitIdentifier(f) {
			part = strings.ToLower(part)
			if len(part) > 1 {
				tokens = append(tokens, part)
			}
		}
	}
	return tokens
}

// splitIdentifier breaks camelCase and snake_case words into parts.
func splitIdentifier(word string) []string {
	var parts []string
	for _, seg := range strings.Split(word, "_") {
		parts = append(parts, splitCamelCase(seg)...)
	}
	return parts
}

func splitCamelCase(word string) []string {
	if word == "" {
		return nil
	}

	var parts []string
	runes := []rune(word)
	start := 0
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) && !unicode.IsUpper(runes[i-1]) {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	parts = append(parts, string(runes[start:]))
	return parts
}
