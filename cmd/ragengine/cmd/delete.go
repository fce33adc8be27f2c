package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/trueup-laplace/ragengine/internal/rag"
	"github.com/trueup-laplace/ragengine/internal/ui"
)

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>...",
		Short: "Remove documents from the collection",
		Long: `Delete documents by ID. Removal covers the stored content, keyword
index entries, and vectors. In-flight embedding work is cancelled.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *rag.Engine, p *ui.Printer) error {
				for _, id := range args {
					if err := eng.DeleteDocument(ctx, id); err != nil {
						return err
					}
					p.Successf("deleted %s", id)
				}
				return nil
			})
		},
	}
}
