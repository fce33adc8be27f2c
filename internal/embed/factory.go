package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/trueup-laplace/ragengine/internal/config"
	ragerrors "github.com/trueup-laplace/ragengine/internal/errors"
)

// ProviderType identifies an embedding backend.
type ProviderType string

const (
	// ProviderStatic is the deterministic hash-based embedder.
	ProviderStatic ProviderType = "static"
	// ProviderOllama is the Ollama HTTP embedder.
	ProviderOllama ProviderType = "ollama"
)

// ParseProvider parses a provider name. Empty selects static.
func ParseProvider(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "static":
		return ProviderStatic, nil
	case "ollama":
		return ProviderOllama, nil
	default:
		return "", ragerrors.ValidationError(fmt.Sprintf("unknown embedding provider %q", s), nil)
	}
}

// New builds the embedder stack from settings: the configured backend,
// a token-cap wrapper when max_length is set, and an LRU cache on top.
func New(ctx context.Context, cfg config.EmbeddingSettings, logger *slog.Logger) (Embedder, error) {
	provider, err := ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var inner Embedder
	switch provider {
	case ProviderStatic:
		static := NewStaticEmbedder(cfg.Dimensions)
		static.SetNormalize(cfg.Normalize)
		inner = static
	case ProviderOllama:
		inner, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:      cfg.OllamaHost,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
			Timeout:   DefaultRequestTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
	}

	if cfg.MaxLength > 0 {
		inner = NewTruncatingEmbedder(inner, cfg.MaxLength)
	}

	cached, err := NewCachedEmbedder(inner, cfg.CacheSize)
	if err != nil {
		inner.Close()
		return nil, err
	}
	return cached, nil
}

// Info describes a constructed embedder for status reporting.
type Info struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Available  bool   `json:"available"`
}

// GetInfo inspects an embedder, unwrapping the cache layer.
func GetInfo(e Embedder) Info {
	inner := e
	if c, ok := inner.(*CachedEmbedder); ok {
		inner = c.Inner()
	}
	if t, ok := inner.(*TruncatingEmbedder); ok {
		inner = t.Inner()
	}

	provider := string(ProviderOllama)
	if _, ok := inner.(*StaticEmbedder); ok {
		provider = string(ProviderStatic)
	}

	return Info{
		Provider:   provider,
		Model:      e.ModelName(),
		Dimensions: e.Dimensions(),
		Available:  e.Available(),
	}
}
