package embed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingEmbedder captures the texts it is asked to embed.
type recordingEmbedder struct {
	*StaticEmbedder
	texts []string
}

func (r *recordingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	r.texts = append(r.texts, text)
	return r.StaticEmbedder.Embed(ctx, text)
}

func (r *recordingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	r.texts = append(r.texts, texts...)
	return r.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestTruncateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want string
	}{
		{"under budget", "one two three", 5, "one two three"},
		{"exactly at budget", "one two three", 3, "one two three"},
		{"over budget", "one two three four", 2, "one two "},
		{"zero disables", "one two three", 0, "one two three"},
		{"preserves original whitespace", "one\t\ttwo  three", 2, "one\t\ttwo  "},
		{"empty text", "", 3, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncateTokens(tt.text, tt.max))
		})
	}
}

func TestTruncatingEmbedder_CapsInput(t *testing.T) {
	rec := &recordingEmbedder{StaticEmbedder: NewStaticEmbedder(16)}
	e := NewTruncatingEmbedder(rec, 3)
	ctx := context.Background()

	long := strings.Repeat("word ", 10)
	_, err := e.Embed(ctx, long)
	require.NoError(t, err)

	require.Len(t, rec.texts, 1)
	assert.Len(t, strings.Fields(rec.texts[0]), 3)
}

func TestTruncatingEmbedder_BatchCapsEachText(t *testing.T) {
	rec := &recordingEmbedder{StaticEmbedder: NewStaticEmbedder(16)}
	e := NewTruncatingEmbedder(rec, 2)
	ctx := context.Background()

	_, err := e.EmbedBatch(ctx, []string{"a b c d", "short"})
	require.NoError(t, err)

	require.Len(t, rec.texts, 2)
	assert.Len(t, strings.Fields(rec.texts[0]), 2)
	assert.Equal(t, "short", rec.texts[1])
}

func TestTruncatingEmbedder_Delegates(t *testing.T) {
	inner := NewStaticEmbedder(32)
	e := NewTruncatingEmbedder(inner, 100)

	assert.Equal(t, 32, e.Dimensions())
	assert.Equal(t, "static-hash", e.ModelName())
	assert.True(t, e.Available())
	assert.Same(t, Embedder(inner), e.Inner())
	assert.NoError(t, e.Close())
}
