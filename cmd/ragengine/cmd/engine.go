package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/trueup-laplace/ragengine/internal/rag"
	"github.com/trueup-laplace/ragengine/internal/ui"
)

// withEngine opens the engine for the duration of one command.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *rag.Engine, p *ui.Printer) error) error {
	ctx := cmd.Context()

	eng := rag.New(dataDir, slog.Default())
	if err := eng.Initialize(ctx); err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	p := ui.NewPrinter(cmd.OutOrStdout(), jsonOutput)
	return fn(ctx, eng, p)
}
