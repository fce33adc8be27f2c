package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/trueup-laplace/ragengine/internal/config"
	"github.com/trueup-laplace/ragengine/internal/rag"
	"github.com/trueup-laplace/ragengine/internal/ui"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change engine settings",
	}

	cmd.AddCommand(newSettingsShowCmd())
	cmd.AddCommand(newSettingsSetCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the active settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(_ context.Context, eng *rag.Engine, p *ui.Printer) error {
				return p.Settings(eng.Settings())
			})
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value> [<key> <value>...]",
		Short: "Change settings",
		Long: `Set one or more settings by dotted key, validate the result, back up
the previous file, and persist. Keys follow the settings file layout:

  search.lexical_weight      search.vector_weight
  search.max_results         search.min_score_threshold
  search.lexical_backend     chunking.chunk_size
  chunking.chunk_overlap     embedding.provider
  embedding.model            embedding.ollama_host
  storage.max_document_size_mb
  storage.max_cached_documents
  processing.auto_embedding  processing.workers
  watch.inbox_dir            watch.debounce
  log_level

Example:

  ragengine settings set search.lexical_weight 0.5 search.vector_weight 0.5`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return fmt.Errorf("expected <key> <value> pairs")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *rag.Engine, p *ui.Printer) error {
				settings := eng.Settings()
				for i := 0; i < len(args); i += 2 {
					if err := applySetting(settings, args[i], args[i+1]); err != nil {
						return err
					}
				}
				if err := eng.UpdateSettings(ctx, settings); err != nil {
					return err
				}
				if p.JSONMode() {
					return p.JSON(settings)
				}
				p.Successf("settings updated")
				return nil
			})
		},
	}
	return cmd
}

// applySetting writes a single dotted key into the settings struct.
func applySetting(s *config.Settings, key, value string) error {
	parseInt := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s: expected integer, got %q", key, value)
		}
		return n, nil
	}
	parseFloat := func() (float64, error) {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: expected number, got %q", key, value)
		}
		return f, nil
	}
	parseBool := func() (bool, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("%s: expected boolean, got %q", key, value)
		}
		return b, nil
	}

	var err error
	switch key {
	case "chunking.chunk_size":
		s.Chunking.ChunkSize, err = parseInt()
	case "chunking.chunk_overlap":
		s.Chunking.ChunkOverlap, err = parseInt()
	case "chunking.max_chunk_size":
		s.Chunking.MaxChunkSize, err = parseInt()
	case "chunking.min_chunk_size":
		s.Chunking.MinChunkSize, err = parseInt()
	case "search.lexical_weight":
		s.Search.LexicalWeight, err = parseFloat()
	case "search.vector_weight":
		s.Search.VectorWeight, err = parseFloat()
	case "search.max_results":
		s.Search.MaxResults, err = parseInt()
	case "search.min_score_threshold":
		s.Search.MinScoreThreshold, err = parseFloat()
	case "search.lexical_backend":
		s.Search.LexicalBackend = value
	case "embedding.provider":
		s.Embedding.Provider = value
	case "embedding.model":
		s.Embedding.Model = value
	case "embedding.ollama_host":
		s.Embedding.OllamaHost = value
	case "embedding.batch_size":
		s.Embedding.BatchSize, err = parseInt()
	case "embedding.cache_size":
		s.Embedding.CacheSize, err = parseInt()
	case "storage.max_document_size_mb":
		s.Storage.MaxDocumentSizeMB, err = parseInt()
	case "storage.max_collection_size_gb":
		s.Storage.MaxCollectionSizeGB, err = parseInt()
	case "storage.max_cached_documents":
		s.Storage.MaxCachedDocuments, err = parseInt()
	case "processing.auto_embedding":
		s.Processing.AutoEmbedding, err = parseBool()
	case "processing.background_processing":
		s.Processing.BackgroundProcessing, err = parseBool()
	case "processing.workers":
		s.Processing.Workers, err = parseInt()
	case "watch.inbox_dir":
		s.Watch.InboxDir = value
	case "watch.debounce":
		s.Watch.Debounce = value
	case "log_level":
		s.LogLevel = value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return err
}
