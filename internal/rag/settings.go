package rag

import (
	"context"
	"log/slog"

	"github.com/trueup-laplace/ragengine/internal/config"
	ragerrors "github.com/trueup-laplace/ragengine/internal/errors"
	"github.com/trueup-laplace/ragengine/internal/search"
)

// UpdateSettings validates and persists new settings. The previous
// config file is backed up first. Search weights and thresholds apply
// immediately; chunking changes apply to future uploads; embedding
// provider or model changes take effect on the next Initialize.
func (e *Engine) UpdateSettings(ctx context.Context, updated *config.Settings) error {
	if err := e.ensureInitialized("UpdateSettings"); err != nil {
		return err
	}
	if updated == nil {
		return ragerrors.ValidationError("settings are required", nil)
	}
	if err := updated.Validate(); err != nil {
		return ragerrors.New(ragerrors.ErrCodeSettingsInvalid, "invalid settings", err)
	}

	if _, err := config.Backup(e.dataDir); err != nil {
		e.logger.Warn("settings backup failed", slog.String("error", err.Error()))
	}
	if err := updated.Save(e.dataDir); err != nil {
		return ragerrors.InternalError("failed to save settings", err)
	}

	e.mu.Lock()
	old := e.settings
	e.settings = updated.Clone()

	var reranker search.Reranker
	if updated.Search.RerankingEnabled {
		reranker = search.NewNoOpReranker()
	}
	e.retriever = search.NewRetriever(e.lexical, e.vector, e.embedder, e.docs, reranker, updated.Search, e.logger)
	e.mu.Unlock()

	if old.Embedding.Provider != updated.Embedding.Provider ||
		old.Embedding.Model != updated.Embedding.Model ||
		old.Embedding.Dimensions != updated.Embedding.Dimensions {
		e.logger.Warn("embedding settings changed; restart the engine to apply them")
	}

	e.logger.Info("settings updated")
	return nil
}
