package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trueup-laplace/ragengine/internal/config"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		input   string
		want    ProviderType
		wantErr bool
	}{
		{"", ProviderStatic, false},
		{"static", ProviderStatic, false},
		{"STATIC", ProviderStatic, false},
		{"ollama", ProviderOllama, false},
		{" Ollama ", ProviderOllama, false},
		{"openai", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseProvider(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_StaticProviderStack(t *testing.T) {
	cfg := config.DefaultSettings().Embedding
	e, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer e.Close()

	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok)
	truncating, ok := cached.Inner().(*TruncatingEmbedder)
	require.True(t, ok, "default max_length inserts the token cap")
	_, ok = truncating.Inner().(*StaticEmbedder)
	assert.True(t, ok)
	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestNew_MaxLengthZeroSkipsTruncation(t *testing.T) {
	cfg := config.DefaultSettings().Embedding
	cfg.MaxLength = 0
	e, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer e.Close()

	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok)
	_, ok = cached.Inner().(*StaticEmbedder)
	assert.True(t, ok)
}

func TestNew_NormalizeDisabled(t *testing.T) {
	cfg := config.DefaultSettings().Embedding
	cfg.Normalize = false
	e, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer e.Close()

	v, err := e.Embed(context.Background(), "some meaningful document text")
	require.NoError(t, err)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.Greater(t, math.Sqrt(sum), 1.0+1e-5)
}

func TestNew_RespectsConfiguredDimensions(t *testing.T) {
	cfg := config.DefaultSettings().Embedding
	cfg.Dimensions = 64
	e, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, 64, e.Dimensions())
}

func TestNew_UnknownProviderFails(t *testing.T) {
	cfg := config.DefaultSettings().Embedding
	cfg.Provider = "huggingface"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestGetInfo(t *testing.T) {
	e, err := NewCachedEmbedder(NewStaticEmbedder(0), 10)
	require.NoError(t, err)

	info := GetInfo(e)
	assert.Equal(t, "static", info.Provider)
	assert.Equal(t, "static-hash", info.Model)
	assert.Equal(t, StaticDimensions, info.Dimensions)
	assert.True(t, info.Available)
}

func TestGetInfo_UnwrapsTruncation(t *testing.T) {
	e, err := NewCachedEmbedder(NewTruncatingEmbedder(NewStaticEmbedder(0), 512), 10)
	require.NoError(t, err)

	info := GetInfo(e)
	assert.Equal(t, "static", info.Provider)
}
