package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/trueup-laplace/ragengine/internal/rag"
	"github.com/trueup-laplace/ragengine/internal/ui"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List documents in the collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *rag.Engine, p *ui.Printer) error {
				docs, err := eng.ListDocuments(ctx)
				if err != nil {
					return err
				}
				return p.Documents(docs)
			})
		},
	}
}
