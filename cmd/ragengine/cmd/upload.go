package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	ragerrors "github.com/trueup-laplace/ragengine/internal/errors"
	"github.com/trueup-laplace/ragengine/internal/rag"
	"github.com/trueup-laplace/ragengine/internal/store"
	"github.com/trueup-laplace/ragengine/internal/ui"
)

func newUploadCmd() *cobra.Command {
	var dryRun bool
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Add documents to the collection",
		Long: `Upload one or more files. Each file is validated, chunked, indexed
for keyword search, and queued for embedding generation. Files whose
content already exists in the collection are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *rag.Engine, p *ui.Printer) error {
				return runUpload(ctx, eng, p, args, dryRun, wait)
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and check for duplicates without storing")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Block until embeddings are ready (0 = return immediately)")

	return cmd
}

func runUpload(ctx context.Context, eng *rag.Engine, p *ui.Printer, paths []string, dryRun bool, wait time.Duration) error {
	var uploaded []*store.Document
	var firstErr error

	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			p.Errorf("%s: %v", path, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		name := filepath.Base(path)

		if dryRun {
			if err := checkUpload(ctx, eng, p, name, content); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}

		doc, err := eng.UploadDocument(ctx, name, content)
		if err != nil {
			var ragErr *ragerrors.RagError
			if errors.As(err, &ragErr) && ragErr.Code == ragerrors.ErrCodeDuplicateDocument {
				p.Warnf("%s: already in collection as %s", name, ragErr.Details["existing_document_id"])
				continue
			}
			p.Errorf("%s: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		uploaded = append(uploaded, doc)
		if !p.JSONMode() {
			p.Successf("%s: uploaded as %s (%d chunks)", name, doc.ID, doc.ChunkCount)
		}
	}

	if wait > 0 && len(uploaded) > 0 {
		ids := make([]string, len(uploaded))
		for i, doc := range uploaded {
			ids[i] = doc.ID
		}
		if _, err := eng.EnsureReadyForSearch(ctx, ids, wait); err != nil {
			p.Warnf("embeddings not ready: %v", err)
		}
	}

	if p.JSONMode() {
		if err := p.JSON(uploaded); err != nil {
			return err
		}
	}
	return firstErr
}

// checkUpload reports what an upload would do without storing anything.
func checkUpload(ctx context.Context, eng *rag.Engine, p *ui.Printer, name string, content []byte) error {
	v, err := eng.ValidateUpload(name, int64(len(content)))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if !v.Valid {
		p.Errorf("%s: %s (size ok: %t, type ok: %t)", name, v.Reason, v.SizeValid, v.TypeValid)
		return ragerrors.ValidationError(v.Reason, nil)
	}
	existing, err := eng.CheckDuplicate(ctx, content)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if existing != nil {
		p.Warnf("%s: duplicate of %s", name, existing.ID)
		return nil
	}
	p.Successf("%s: ok", name)
	return nil
}
