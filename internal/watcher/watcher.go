// Package watcher ingests documents dropped into an inbox directory:
// fsnotify events are debounced, filtered to supported file types, and
// fed to the engine's upload pipeline.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/trueup-laplace/ragengine/internal/config"
	ragerrors "github.com/trueup-laplace/ragengine/internal/errors"
	"github.com/trueup-laplace/ragengine/internal/store"
)

// Uploader is the slice of the engine the watcher needs.
type Uploader interface {
	UploadDocument(ctx context.Context, name string, content []byte) (*store.Document, error)
}

// Options configures the inbox watcher.
type Options struct {
	// Debounce is the quiet period before a batch of file events is
	// ingested. Default 500ms.
	Debounce time.Duration
}

// InboxWatcher watches one directory (non-recursive) and uploads every
// supported file that appears in it. Duplicate uploads are skipped
// quietly; other failures are logged and do not stop the watcher.
type InboxWatcher struct {
	dir       string
	uploader  Uploader
	debouncer *Debouncer
	fsw       *fsnotify.Watcher
	logger    *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a watcher over the inbox directory, creating it if
// needed.
func New(dir string, uploader Uploader, opts Options, logger *slog.Logger) (*InboxWatcher, error) {
	if dir == "" {
		return nil, ragerrors.ValidationError("inbox directory is required", nil)
	}
	if uploader == nil {
		return nil, ragerrors.ValidationError("uploader is required", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch inbox directory: %w", err)
	}

	return &InboxWatcher{
		dir:       dir,
		uploader:  uploader,
		debouncer: NewDebouncer(opts.Debounce),
		fsw:       fsw,
		logger:    logger.With(slog.String("component", "inbox_watcher"), slog.String("dir", dir)),
		stopCh:    make(chan struct{}),
	}, nil
}

// Run processes events until ctx is cancelled or Stop is called.
// Files already sitting in the inbox are ingested first.
func (w *InboxWatcher) Run(ctx context.Context) error {
	w.logger.Info("watching inbox")

	w.wg.Add(1)
	go w.consume(ctx)

	w.ingestExisting(ctx)

	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				w.debouncer.Add(event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

// Stop shuts the watcher down. Safe to call multiple times.
func (w *InboxWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.fsw.Close()
		w.debouncer.Stop()
		w.wg.Wait()
	})
}

// consume drains debounced batches and ingests each path.
func (w *InboxWatcher) consume(ctx context.Context) {
	defer w.wg.Done()
	for paths := range w.debouncer.Output() {
		for _, path := range paths {
			w.ingest(ctx, path)
		}
	}
}

// ingestExisting uploads files already present when the watcher starts.
func (w *InboxWatcher) ingestExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("failed to scan inbox", slog.String("error", err.Error()))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.ingest(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

// ingest uploads one file. Unsupported types and duplicates are skipped
// without noise; everything else is logged.
func (w *InboxWatcher) ingest(ctx context.Context, path string) {
	name := filepath.Base(path)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	if !config.IsSupportedFileType(filepath.Ext(name)) {
		w.logger.Debug("skipping unsupported file", slog.String("name", name))
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("failed to read inbox file",
			slog.String("name", name),
			slog.String("error", err.Error()))
		return
	}

	doc, err := w.uploader.UploadDocument(ctx, name, content)
	if err != nil {
		var ragErr *ragerrors.RagError
		if errors.As(err, &ragErr) && ragErr.Code == ragerrors.ErrCodeDuplicateDocument {
			w.logger.Debug("skipping duplicate", slog.String("name", name))
			return
		}
		w.logger.Warn("inbox upload failed",
			slog.String("name", name),
			slog.String("error", err.Error()))
		return
	}

	w.logger.Info("ingested document",
		slog.String("name", name),
		slog.String("document_id", doc.ID),
		slog.Int("chunks", doc.ChunkCount))
}
