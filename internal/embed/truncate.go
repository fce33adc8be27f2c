package embed

import (
	"context"
	"unicode"
)

// TruncatingEmbedder caps input text at a whitespace-token budget before
// delegating to the wrapped embedder. Backends with a fixed context
// window silently degrade on oversized input; truncating up front keeps
// the embedded text deterministic.
type TruncatingEmbedder struct {
	inner     Embedder
	maxTokens int
}

var _ Embedder = (*TruncatingEmbedder)(nil)

// NewTruncatingEmbedder wraps inner with a token cap. maxTokens <= 0
// disables truncation.
func NewTruncatingEmbedder(inner Embedder, maxTokens int) *TruncatingEmbedder {
	return &TruncatingEmbedder{inner: inner, maxTokens: maxTokens}
}

// Inner returns the wrapped embedder.
func (t *TruncatingEmbedder) Inner() Embedder { return t.inner }

// Embed truncates text to the token budget and delegates.
func (t *TruncatingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return t.inner.Embed(ctx, truncateTokens(text, t.maxTokens))
}

// EmbedBatch truncates each text to the token budget and delegates.
func (t *TruncatingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	truncated := make([]string, len(texts))
	for i, text := range texts {
		truncated[i] = truncateTokens(text, t.maxTokens)
	}
	return t.inner.EmbedBatch(ctx, truncated)
}

// Dimensions returns the wrapped embedder's vector size.
func (t *TruncatingEmbedder) Dimensions() int { return t.inner.Dimensions() }

// ModelName returns the wrapped embedder's model identifier.
func (t *TruncatingEmbedder) ModelName() string { return t.inner.ModelName() }

// Available reports the wrapped embedder's availability.
func (t *TruncatingEmbedder) Available() bool { return t.inner.Available() }

// Close closes the wrapped embedder.
func (t *TruncatingEmbedder) Close() error { return t.inner.Close() }

// truncateTokens cuts text after max whitespace-delimited tokens,
// preserving the original bytes up to the cut.
func truncateTokens(text string, max int) string {
	if max <= 0 {
		return text
	}

	inToken := false
	count := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			inToken = false
			continue
		}
		if !inToken {
			count++
			if count > max {
				return text[:i]
			}
			inToken = true
		}
	}
	return text
}
