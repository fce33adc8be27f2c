// Package rag wires the stores, the embedding pipeline, and the hybrid
// retriever into a single engine with an explicit lifecycle: construct
// with New, call Initialize before anything else, Close when done.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/trueup-laplace/ragengine/internal/config"
	"github.com/trueup-laplace/ragengine/internal/embed"
	ragerrors "github.com/trueup-laplace/ragengine/internal/errors"
	"github.com/trueup-laplace/ragengine/internal/search"
	"github.com/trueup-laplace/ragengine/internal/store"
)

const (
	documentDBName  = "documents.db"
	vectorIndexName = "vectors.hnsw"
)

// Engine is the document lifecycle and retrieval facade. All methods
// except Initialize and Close fail with a coded error until Initialize
// has succeeded.
type Engine struct {
	dataDir string
	logger  *slog.Logger

	mu          sync.RWMutex
	initialized bool
	settings    *config.Settings

	lock      *store.DataLock
	docs      store.DocumentStore
	lexical   store.LexicalIndex
	vector    store.VectorIndex
	embedder  embed.Embedder
	scheduler *embed.Scheduler
	retriever *search.Retriever

	// ingestMu serializes the duplicate/capacity check against the
	// insert that follows it.
	ingestMu sync.Mutex

	vectorPath string
	// vectorMu serializes saves of the vector index file.
	vectorMu sync.Mutex
}

// New creates an engine for the data directory. Nothing is opened
// until Initialize.
func New(dataDir string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		dataDir: dataDir,
		logger:  logger.With(slog.String("component", "engine")),
	}
}

// Initialize loads settings, acquires the data-directory lock, opens
// the stores and indexes, and starts the embedding scheduler.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	settings, err := config.Load(e.dataDir)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeConfigInvalid, "failed to load settings", err)
	}
	e.settings = settings

	lock, err := store.NewDataLock(e.dataDir)
	if err != nil {
		return ragerrors.InternalError("failed to prepare data directory", err)
	}
	if err := lock.Acquire(ctx); err != nil {
		return ragerrors.New(ragerrors.ErrCodeStoreLocked, "data directory is in use", err)
	}
	e.lock = lock

	if err := e.openStores(ctx); err != nil {
		e.closeLocked()
		return err
	}

	e.initialized = true
	e.logger.Info("engine initialized",
		slog.String("data_dir", e.dataDir),
		slog.String("embedding_provider", settings.Embedding.Provider),
		slog.String("lexical_backend", settings.Search.LexicalBackend))
	return nil
}

func (e *Engine) openStores(ctx context.Context) error {
	docs, err := store.NewSQLiteDocumentStore(filepath.Join(e.dataDir, documentDBName))
	if err != nil {
		return ragerrors.InternalError("failed to open document store", err)
	}
	e.docs = docs

	lexPath := store.LexicalIndexPath(e.dataDir, e.settings.Search.LexicalBackend)
	lexical, err := store.NewLexicalIndex(lexPath, store.DefaultLexicalConfig(), e.settings.Search.LexicalBackend)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeCorruptIndex, "failed to open lexical index", err)
	}
	e.lexical = lexical

	embedder, err := embed.New(ctx, e.settings.Embedding, e.logger)
	if err != nil {
		return ragerrors.EmbeddingError("failed to create embedding backend", err)
	}
	e.embedder = embedder

	if err := e.openVectorIndex(ctx); err != nil {
		return err
	}

	e.scheduler = embed.NewScheduler(
		e.embedder,
		e.settings.Processing.Workers,
		ragerrors.DefaultRetryConfig(),
		embed.Callbacks{
			OnChunkEmbedded: e.onChunkEmbedded,
			OnCompleted:     e.onJobCompleted,
			OnFailed:        e.onJobFailed,
		},
		e.logger,
	)

	var reranker search.Reranker
	if e.settings.Search.RerankingEnabled {
		reranker = search.NewNoOpReranker()
	}
	e.retriever = search.NewRetriever(e.lexical, e.vector, e.embedder, e.docs, reranker, e.settings.Search, e.logger)

	return nil
}

// openVectorIndex loads the persisted index when its dimensionality and
// model match the current embedder; otherwise the stale vectors are
// discarded and every document's embedding state is reset.
func (e *Engine) openVectorIndex(ctx context.Context) error {
	e.vectorPath = filepath.Join(e.dataDir, vectorIndexName)
	dims := e.embedder.Dimensions()

	vectorCfg := store.DefaultVectorConfig(dims)
	vectorCfg.Normalize = e.settings.Embedding.Normalize
	vector, err := store.NewHNSWIndex(vectorCfg)
	if err != nil {
		return ragerrors.InternalError("failed to create vector index", err)
	}
	e.vector = vector

	storedDims, err := store.ReadHNSWDimensions(e.vectorPath)
	if err != nil {
		e.logger.Warn("unreadable vector index, rebuilding", slog.String("error", err.Error()))
		storedDims = 0
	}
	storedModel, _ := e.docs.GetState(ctx, store.StateKeyIndexModel)

	switch {
	case storedDims == 0:
		// No index yet.
	case storedDims == dims && storedModel == e.embedder.ModelName():
		if err := vector.Load(e.vectorPath); err != nil {
			e.logger.Warn("failed to load vector index, rebuilding", slog.String("error", err.Error()))
			if err := e.resetEmbeddingState(ctx); err != nil {
				return err
			}
		}
	default:
		e.logger.Info("embedding configuration changed, resetting vectors",
			slog.Int("stored_dimensions", storedDims),
			slog.Int("dimensions", dims),
			slog.String("stored_model", storedModel),
			slog.String("model", e.embedder.ModelName()))
		if err := e.resetEmbeddingState(ctx); err != nil {
			return err
		}
	}

	if err := e.docs.SetState(ctx, store.StateKeyIndexDimension, strconv.Itoa(dims)); err != nil {
		return ragerrors.InternalError("failed to record index dimension", err)
	}
	if err := e.docs.SetState(ctx, store.StateKeyIndexModel, e.embedder.ModelName()); err != nil {
		return ragerrors.InternalError("failed to record index model", err)
	}
	return nil
}

// resetEmbeddingState drops the on-disk vector index and returns every
// document to the pending state. Lexical entries are untouched.
func (e *Engine) resetEmbeddingState(ctx context.Context) error {
	os.Remove(e.vectorPath)
	os.Remove(e.vectorPath + ".meta")

	docs, err := e.docs.ListDocuments(ctx)
	if err != nil {
		return ragerrors.InternalError("failed to list documents for reset", err)
	}
	for _, doc := range docs {
		if err := e.docs.ClearEmbeddings(ctx, doc.ID); err != nil {
			return ragerrors.InternalError("failed to clear embeddings", err)
		}
		if err := e.docs.SetCached(ctx, doc.ID, false); err != nil {
			return ragerrors.InternalError("failed to clear cached flag", err)
		}
		if err := e.docs.UpdateEmbeddingStatus(ctx, doc.ID, store.EmbeddingPending, ""); err != nil {
			return ragerrors.InternalError("failed to reset embedding status", err)
		}
	}
	return nil
}

// ensureInitialized guards every operation behind Initialize.
func (e *Engine) ensureInitialized(op string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return ragerrors.NotInitializedError(op)
	}
	return nil
}

// Settings returns a copy of the active settings.
func (e *Engine) Settings() *config.Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.settings == nil {
		return config.DefaultSettings()
	}
	return e.settings.Clone()
}

// saveVectorIndex persists the vector index to disk.
func (e *Engine) saveVectorIndex() {
	e.vectorMu.Lock()
	defer e.vectorMu.Unlock()
	if err := e.vector.Save(e.vectorPath); err != nil {
		e.logger.Error("failed to save vector index", slog.String("error", err.Error()))
	}
}

// Close shuts everything down: drains the scheduler, persists the
// vector index, closes the stores, releases the lock. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

func (e *Engine) closeLocked() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if e.scheduler != nil {
		e.scheduler.Close()
		e.scheduler = nil
	}
	if e.vector != nil {
		if e.initialized {
			e.saveVectorIndex()
		}
		record(e.vector.Close())
		e.vector = nil
	}
	if e.embedder != nil {
		record(e.embedder.Close())
		e.embedder = nil
	}
	if e.lexical != nil {
		record(e.lexical.Close())
		e.lexical = nil
	}
	if e.docs != nil {
		record(e.docs.Close())
		e.docs = nil
	}
	if e.lock != nil {
		record(e.lock.Release())
		e.lock = nil
	}
	e.initialized = false

	if firstErr != nil {
		return fmt.Errorf("engine close: %w", firstErr)
	}
	return nil
}
