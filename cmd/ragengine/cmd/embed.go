package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/trueup-laplace/ragengine/internal/rag"
	"github.com/trueup-laplace/ragengine/internal/ui"
)

func newEmbedCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "embed [document-id...]",
		Short: "Generate embeddings",
		Long: `Queue embedding generation for documents that are not yet embedded.
Without arguments every pending or failed document is queued; with
document IDs only those are queued.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *rag.Engine, p *ui.Printer) error {
				var queued int
				var err error
				if len(args) > 0 {
					queued, err = eng.GenerateEmbeddingsForSelection(ctx, args)
				} else {
					queued, err = eng.GenerateEmbeddings(ctx)
				}
				if err != nil {
					return err
				}
				p.Successf("queued %d document(s)", queued)

				if wait > 0 {
					if err := waitForAll(ctx, eng, wait); err != nil {
						return err
					}
					p.Successf("embeddings ready")
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "Block until embeddings are ready (0 = return immediately)")

	cmd.AddCommand(newEmbedClearCmd())
	return cmd
}

func newEmbedClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop all vectors and reset embedding state",
		Long: `Remove every vector from the index and return all documents to the
pending state. Documents stay stored and keyword-searchable; run
'ragengine embed' to regenerate.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *rag.Engine, p *ui.Printer) error {
				if err := eng.ClearEmbeddingCache(ctx); err != nil {
					return err
				}
				p.Successf("embedding cache cleared")
				return nil
			})
		},
	}
}
