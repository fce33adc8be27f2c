package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama serves the two endpoints the embedder uses.
func fakeOllama(t *testing.T, model string, dims int, failEmbeds *int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		resp := ollamaTagsResponse{Models: []ollamaModelInfo{{Name: model + ":latest", Model: model}}}
		json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		if failEmbeds != nil && atomic.LoadInt64(failEmbeds) > 0 {
			atomic.AddInt64(failEmbeds, -1)
			http.Error(w, "model is loading", http.StatusInternalServerError)
			return
		}

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		texts, ok := req.Input.([]any)
		require.True(t, ok)

		embeddings := make([][]float64, len(texts))
		for i := range texts {
			v := make([]float64, dims)
			v[i%dims] = 1.0
			embeddings[i] = v
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Model: req.Model, Embeddings: embeddings})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestOllamaEmbedder_ProbeDetectsDimensions(t *testing.T) {
	server := fakeOllama(t, "bge-small-en-v1.5", 384, nil)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  server.URL,
		Model: "bge-small-en-v1.5",
	}, nil)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, 384, e.Dimensions())
	assert.True(t, e.Available())
	assert.Equal(t, "bge-small-en-v1.5", e.ModelName())
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	server := fakeOllama(t, "test-model", 8, nil)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  server.URL,
		Model: "test-model",
	}, nil)
	require.NoError(t, err)
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 8)
	}
}

func TestOllamaEmbedder_MissingModelFails(t *testing.T) {
	server := fakeOllama(t, "some-other-model", 8, nil)

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  server.URL,
		Model: "absent-model",
	}, nil)
	assert.Error(t, err)
}

func TestOllamaEmbedder_UnreachableHostFails(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  "http://127.0.0.1:1",
		Model: "test-model",
	}, nil)
	assert.Error(t, err)
}

func TestOllamaEmbedder_BackendErrorSurfaces(t *testing.T) {
	failures := int64(100)
	server := fakeOllama(t, "test-model", 8, &failures)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            server.URL,
		Model:           "test-model",
		SkipHealthCheck: true,
	}, nil)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Embed(context.Background(), "text")
	assert.Error(t, err)
}

func TestOllamaEmbedder_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	failures := int64(100)
	server := fakeOllama(t, "test-model", 8, &failures)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            server.URL,
		Model:           "test-model",
		SkipHealthCheck: true,
	}, nil)
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := e.Embed(ctx, "text")
		require.Error(t, err)
	}

	// The breaker is open now; requests fail without reaching the server.
	before := atomic.LoadInt64(&failures)
	_, err = e.Embed(ctx, "text")
	require.Error(t, err)
	assert.Equal(t, before, atomic.LoadInt64(&failures))
}

func TestOllamaEmbedder_RequiresModelName(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{}, nil)
	assert.Error(t, err)
}
