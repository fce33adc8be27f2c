// Package cmd provides the CLI commands for ragengine.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	ragerrors "github.com/trueup-laplace/ragengine/internal/errors"
	"github.com/trueup-laplace/ragengine/internal/logging"
	"github.com/trueup-laplace/ragengine/pkg/version"
)

var (
	dataDir    string
	logLevel   string
	jsonOutput bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the ragengine CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragengine",
		Short: "Local hybrid search over your documents",
		Long: `ragengine stores documents in a local collection and answers queries
with hybrid retrieval: BM25 keyword matching fused with vector
similarity. Everything runs locally under a single data directory.

Upload documents, then search:

  ragengine upload notes.md
  ragengine search "error handling strategy"`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("ragengine version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(), "Data directory for the collection")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output machine-readable JSON")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRunE = teardownLogging

	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newEmbedCmd())
	cmd.AddCommand(newSettingsCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// defaultDataDir resolves the data directory: flag beats
// RAGENGINE_DATA_DIR beats .ragengine in the working directory.
func defaultDataDir() string {
	if dir := os.Getenv("RAGENGINE_DATA_DIR"); dir != "" {
		return dir
	}
	return ".ragengine"
}

// setupLogging routes slog to a rotated file under the data directory.
// Stdout stays reserved for command output.
func setupLogging(_ *cobra.Command, _ []string) error {
	level := logLevel
	if level == "" {
		if env := os.Getenv("RAGENGINE_LOG_LEVEL"); env != "" {
			level = env
		} else {
			level = "info"
		}
	}

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         level,
		FilePath:      filepath.Join(dataDir, "logs", "ragengine.log"),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: level == "debug",
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		printError(os.Stderr, err, jsonOutput)
		return err
	}
	return nil
}

// printError writes an error in the CLI's error format, or as a JSON
// object when machine-readable output is requested.
func printError(w io.Writer, err error, jsonMode bool) {
	if jsonMode {
		data, jerr := ragerrors.FormatJSON(err)
		if jerr == nil {
			fmt.Fprintln(w, string(data))
			return
		}
	}
	fmt.Fprint(w, ragerrors.FormatForCLI(err))
}
