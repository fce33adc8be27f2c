package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trueup-laplace/ragengine/internal/rag"
	"github.com/trueup-laplace/ragengine/internal/ui"
	"github.com/trueup-laplace/ragengine/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch [inbox-dir]",
		Short: "Watch a directory and ingest new files",
		Long: `Watch an inbox directory and upload supported files as they appear.
Files already present when the watcher starts are ingested first.
Duplicates are skipped. Runs until interrupted.

The directory defaults to watch.inbox_dir from settings, falling back
to <data-dir>/inbox.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *rag.Engine, p *ui.Printer) error {
				settings := eng.Settings()

				inbox := settings.Watch.InboxDir
				if len(args) == 1 {
					inbox = args[0]
				}
				if inbox == "" {
					inbox = filepath.Join(dataDir, "inbox")
				}

				window := debounce
				if window == 0 && settings.Watch.Debounce != "" {
					if parsed, err := time.ParseDuration(settings.Watch.Debounce); err == nil {
						window = parsed
					}
				}

				w, err := watcher.New(inbox, eng, watcher.Options{Debounce: window}, slog.Default())
				if err != nil {
					return err
				}
				defer w.Stop()

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				p.Successf("watching %s", inbox)
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 0, "Event coalescing window (0 = settings default)")

	return cmd
}
