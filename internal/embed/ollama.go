package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	ragerrors "github.com/trueup-laplace/ragengine/internal/errors"
)

// DefaultOllamaHost is the endpoint used when none is configured.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaConfig configures the Ollama-backed embedder.
type OllamaConfig struct {
	// Host is the Ollama base URL. Empty uses OLLAMA_HOST or the default.
	Host string
	// Model is the embedding model name.
	Model string
	// BatchSize caps texts per request.
	BatchSize int
	// Timeout bounds a single embed request.
	Timeout time.Duration
	// SkipHealthCheck skips the startup probe (tests).
	SkipHealthCheck bool
}

// OllamaEmbedder generates embeddings via an Ollama HTTP server.
// Requests flow through a circuit breaker so a dead server fails fast
// instead of stalling every job on connection timeouts.
type OllamaEmbedder struct {
	host       string
	model      string
	batchSize  int
	timeout    time.Duration
	client     *http.Client
	breaker    *ragerrors.CircuitBreaker
	logger     *slog.Logger
	mu         sync.RWMutex
	dimensions int
	available  bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to an Ollama server and verifies the model
// is available. The returned embedder is safe for concurrent use.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig, logger *slog.Logger) (*OllamaEmbedder, error) {
	host := cfg.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = DefaultOllamaHost
	}
	host = strings.TrimRight(host, "/")

	if cfg.Model == "" {
		return nil, ragerrors.ValidationError("embedding model name is required", nil)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &OllamaEmbedder{
		host:      host,
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: ragerrors.NewCircuitBreaker("ollama",
			ragerrors.WithMaxFailures(5),
			ragerrors.WithResetTimeout(30*time.Second),
		),
		logger: logger.With("component", "ollama_embedder"),
	}

	if !cfg.SkipHealthCheck {
		if err := e.probe(ctx); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// probe checks the server is reachable, the model is pulled, and learns
// the vector dimensionality from a one-token embed.
func (e *OllamaEmbedder) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, DefaultHealthTimeout)
	defer cancel()

	models, err := e.listModels(probeCtx)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeEmbedUnavailable,
			fmt.Sprintf("embedding server unreachable at %s", e.host), err).
			WithSuggestion("start the server with 'ollama serve' or switch embedding.provider to 'static'")
	}

	if !e.modelPresent(models) {
		return ragerrors.New(ragerrors.ErrCodeEmbedBackend,
			fmt.Sprintf("model %q is not available on the embedding server", e.model), nil).
			WithDetail("host", e.host).
			WithSuggestion(fmt.Sprintf("pull it with 'ollama pull %s'", e.model))
	}

	vec, err := e.requestEmbeddings(ctx, []string{"dimension probe"})
	if err != nil || len(vec) == 0 {
		return ragerrors.New(ragerrors.ErrCodeEmbedBackend, "failed to probe embedding dimensions", err)
	}

	e.mu.Lock()
	e.dimensions = len(vec[0])
	e.available = true
	e.mu.Unlock()

	e.logger.Info("embedding backend ready",
		"host", e.host,
		"model", e.model,
		"dimensions", len(vec[0]))
	return nil
}

// listModels fetches the models the server has pulled.
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from /api/tags", resp.StatusCode)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode /api/tags response: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// modelPresent matches the configured model against the server's list,
// tolerating a missing ":latest" tag on either side.
func (e *OllamaEmbedder) modelPresent(models []string) bool {
	want := e.model
	for _, m := range models {
		if m == want || strings.TrimSuffix(m, ":latest") == want || m == want+":latest" {
			return true
		}
	}
	return false
}

// Embed generates an embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting the
// input into backend-sized requests.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vecs, err := e.requestEmbeddings(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}

	if len(results) != len(texts) {
		return nil, ragerrors.New(ragerrors.ErrCodeEmbedBackend,
			fmt.Sprintf("embedding server returned %d vectors for %d texts", len(results), len(texts)), nil)
	}
	return results, nil
}

// requestEmbeddings performs one /api/embed call through the circuit
// breaker.
func (e *OllamaEmbedder) requestEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	return ragerrors.CircuitExecuteWithResult(e.breaker, func() ([][]float32, error) {
		return e.doEmbed(ctx, texts)
	}, func() ([][]float32, error) {
		return nil, ragerrors.New(ragerrors.ErrCodeEmbedUnavailable,
			"embedding backend circuit is open", ragerrors.ErrCircuitOpen).
			WithSuggestion("check that the embedding server is running")
	})
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.setAvailable(false)
		return nil, ragerrors.New(ragerrors.ErrCodeEmbedUnavailable, "embedding request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, ragerrors.New(ragerrors.ErrCodeEmbedBackend,
			fmt.Sprintf("embedding server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeEmbedBackend, "failed to decode embed response", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, ragerrors.New(ragerrors.ErrCodeEmbedBackend,
			fmt.Sprintf("embedding server returned %d vectors for %d texts", len(parsed.Embeddings), len(texts)), nil)
	}

	e.setAvailable(true)

	vecs := make([][]float32, len(parsed.Embeddings))
	for i, emb := range parsed.Embeddings {
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		vecs[i] = normalizeVector(v)
	}
	return vecs, nil
}

func (e *OllamaEmbedder) setAvailable(ok bool) {
	e.mu.Lock()
	e.available = ok
	e.mu.Unlock()
}

// Dimensions returns the probed vector size, 0 before the first
// successful request when the health check was skipped.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimensions
}

// ModelName returns the configured model name.
func (e *OllamaEmbedder) ModelName() string { return e.model }

// Available reports whether the last contact with the server succeeded.
func (e *OllamaEmbedder) Available() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.available
}

// Close shuts down idle connections.
func (e *OllamaEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
