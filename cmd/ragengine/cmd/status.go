package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/trueup-laplace/ragengine/internal/rag"
	"github.com/trueup-laplace/ragengine/internal/ui"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [document-id]",
		Short: "Show embedding progress",
		Long: `Without arguments, show aggregate embedding progress across the
collection. With a document ID, show that document's chunk-level
progress, attempts, and any failure reason.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *rag.Engine, p *ui.Printer) error {
				if len(args) == 1 {
					status, err := eng.DocumentEmbeddingStatus(ctx, args[0])
					if err != nil {
						return err
					}
					return p.DocumentStatus(status)
				}

				report, err := eng.EmbeddingStatus(ctx)
				if err != nil {
					return err
				}
				return p.EmbeddingReport(report)
			})
		},
	}
}
