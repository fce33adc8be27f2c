package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trueup-laplace/ragengine/internal/chunker"
	"github.com/trueup-laplace/ragengine/internal/config"
	ragerrors "github.com/trueup-laplace/ragengine/internal/errors"
	"github.com/trueup-laplace/ragengine/internal/store"
)

// Fingerprint returns the sha256 hex digest used for duplicate
// detection. Two uploads are duplicates iff their raw bytes match,
// regardless of file name.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// fileTypeOf extracts the lowercase extension without the dot.
func fileTypeOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// UploadValidation reports the per-check verdict of an upload
// pre-flight. Reason carries the first failure's explanation.
type UploadValidation struct {
	Valid     bool   `json:"valid"`
	SizeValid bool   `json:"size_valid"`
	TypeValid bool   `json:"type_valid"`
	Reason    string `json:"reason,omitempty"`
}

// ValidateUpload checks name and size against the configured limits
// without touching any state.
func (e *Engine) ValidateUpload(name string, sizeBytes int64) (*UploadValidation, error) {
	if err := e.ensureInitialized("ValidateUpload"); err != nil {
		return nil, err
	}

	v := &UploadValidation{SizeValid: true, TypeValid: true}

	if strings.TrimSpace(name) == "" {
		v.TypeValid = false
		v.Reason = "document name is required"
	} else if ext := fileTypeOf(name); ext == "" || !config.IsSupportedFileType(ext) {
		v.TypeValid = false
		v.Reason = fmt.Sprintf("unsupported file type %q", ext)
	}

	maxBytes := int64(e.Settings().Storage.MaxDocumentSizeMB) * 1024 * 1024
	if sizeBytes > maxBytes {
		v.SizeValid = false
		if v.Reason == "" {
			v.Reason = fmt.Sprintf("document is %d bytes, limit is %d", sizeBytes, maxBytes)
		}
	}

	v.Valid = v.SizeValid && v.TypeValid
	return v, nil
}

// validateUpload is the ingest-path form of ValidateUpload: the first
// failed check becomes a coded error.
func (e *Engine) validateUpload(name string, sizeBytes int64) error {
	if strings.TrimSpace(name) == "" {
		return ragerrors.ValidationError("document name is required", nil)
	}

	ext := fileTypeOf(name)
	if ext == "" || !config.IsSupportedFileType(ext) {
		return ragerrors.New(ragerrors.ErrCodeUnsupportedFileType,
			fmt.Sprintf("unsupported file type %q", ext), nil)
	}

	maxBytes := int64(e.Settings().Storage.MaxDocumentSizeMB) * 1024 * 1024
	if sizeBytes > maxBytes {
		return ragerrors.New(ragerrors.ErrCodeDocumentTooLarge,
			fmt.Sprintf("document is %d bytes, limit is %d", sizeBytes, maxBytes), nil)
	}
	return nil
}

// CheckDuplicate returns the already-stored document with the same
// content fingerprint, or nil when the content is new.
func (e *Engine) CheckDuplicate(ctx context.Context, content []byte) (*store.Document, error) {
	if err := e.ensureInitialized("CheckDuplicate"); err != nil {
		return nil, err
	}
	return e.docs.GetDocumentByHash(ctx, Fingerprint(content))
}

// UploadDocument runs the full ingest pipeline: validate, duplicate
// check, capacity check, clean, chunk, persist, lexical index, and
// (when auto-embedding is on) submit the embedding job. No state is
// mutated when any validation step fails.
func (e *Engine) UploadDocument(ctx context.Context, name string, content []byte) (*store.Document, error) {
	return e.UploadDocumentWithMetadata(ctx, name, content, nil)
}

// UploadDocumentWithMetadata is UploadDocument with caller-supplied
// attributes persisted on the document record.
func (e *Engine) UploadDocumentWithMetadata(ctx context.Context, name string, content []byte, metadata map[string]string) (*store.Document, error) {
	if err := e.ensureInitialized("UploadDocument"); err != nil {
		return nil, err
	}

	if len(content) == 0 {
		return nil, ragerrors.New(ragerrors.ErrCodeEmptyDocument, "document content is empty", nil)
	}
	if err := e.validateUpload(name, int64(len(content))); err != nil {
		return nil, err
	}

	cleaned := chunker.CleanText(string(content))
	if strings.TrimSpace(cleaned) == "" {
		return nil, ragerrors.New(ragerrors.ErrCodeEmptyDocument, "document has no indexable text", nil)
	}

	settings := e.Settings()
	spans := chunker.Chunk(cleaned, chunker.Config{
		ChunkSize:                  settings.Chunking.ChunkSize,
		ChunkOverlap:               settings.Chunking.ChunkOverlap,
		MaxChunkSize:               settings.Chunking.MaxChunkSize,
		MinChunkSize:               settings.Chunking.MinChunkSize,
		RespectSentenceBoundaries:  settings.Chunking.RespectSentenceBoundaries,
		RespectParagraphBoundaries: settings.Chunking.RespectParagraphBoundaries,
	})
	if len(spans) == 0 {
		return nil, ragerrors.New(ragerrors.ErrCodeEmptyDocument, "document produced no chunks", nil)
	}

	hash := Fingerprint(content)
	now := time.Now()
	doc := &store.Document{
		ID:              uuid.New().String(),
		Name:            name,
		FileType:        fileTypeOf(name),
		SizeBytes:       int64(len(content)),
		ContentHash:     hash,
		Content:         content,
		Metadata:        metadata,
		ChunkCount:      len(spans),
		EmbeddingStatus: store.EmbeddingPending,
		EmbeddingModel:  e.embedder.ModelName(),
		CreatedAt:       now,
		UpdatedAt:       now,
		LastAccessedAt:  now,
	}

	chunks := make([]*store.Chunk, len(spans))
	entries := make([]*store.LexicalEntry, len(spans))
	for i, span := range spans {
		chunk := &store.Chunk{
			ID:          uuid.New().String(),
			DocumentID:  doc.ID,
			Ordinal:     i,
			Text:        span.Text,
			StartOffset: span.StartOffset,
			EndOffset:   span.EndOffset,
			TokenCount:  span.TokenCount,
		}
		chunks[i] = chunk
		entries[i] = &store.LexicalEntry{ChunkID: chunk.ID, DocumentID: doc.ID, Text: chunk.Text}
	}

	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	if existing, err := e.docs.GetDocumentByHash(ctx, hash); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ragerrors.DuplicateError(existing.ID)
	}

	if err := e.checkCollectionCapacity(ctx, doc.SizeBytes); err != nil {
		return nil, err
	}

	if err := e.docs.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}
	if err := e.docs.SaveChunks(ctx, chunks); err != nil {
		e.rollbackUpload(ctx, doc.ID)
		return nil, err
	}
	if err := e.lexical.Index(ctx, entries); err != nil {
		e.rollbackUpload(ctx, doc.ID)
		return nil, ragerrors.New(ragerrors.ErrCodeIndexFailed, "failed to index document", err)
	}

	e.logger.Info("document uploaded",
		slog.String("document_id", doc.ID),
		slog.String("name", doc.Name),
		slog.Int("chunks", len(chunks)),
		slog.Int64("size_bytes", doc.SizeBytes))

	if settings.Processing.AutoEmbedding {
		job, err := e.submitEmbedding(ctx, doc, chunks)
		switch {
		case err != nil:
			// The document is stored and lexically searchable; embedding
			// can be retried explicitly.
			e.logger.Warn("auto-embedding submit failed",
				slog.String("document_id", doc.ID),
				slog.String("error", err.Error()))
		case job == nil:
			doc.EmbeddingStatus = store.EmbeddingCompleted
		case !settings.Processing.BackgroundProcessing:
			// Foreground mode: the upload call returns with embedding done.
			if err := job.Wait(ctx); err != nil {
				return nil, ragerrors.Wrap(ragerrors.ErrCodeEmbeddingFailed, err)
			}
			refreshed, err := e.docs.GetDocument(ctx, doc.ID)
			if err != nil {
				return nil, err
			}
			doc = refreshed
		default:
			doc.EmbeddingStatus = store.EmbeddingProcessing
		}
	}

	return doc, nil
}

// checkCollectionCapacity fails when adding sizeBytes would push the
// collection past the configured ceiling.
func (e *Engine) checkCollectionCapacity(ctx context.Context, sizeBytes int64) error {
	stats, err := e.docs.Stats(ctx)
	if err != nil {
		return err
	}

	maxBytes := int64(e.Settings().Storage.MaxCollectionSizeGB) * 1024 * 1024 * 1024
	if stats.TotalSizeBytes+sizeBytes > maxBytes {
		return ragerrors.CapacityError(fmt.Sprintf(
			"collection is %d bytes, adding %d would exceed the %d byte limit",
			stats.TotalSizeBytes, sizeBytes, maxBytes))
	}
	return nil
}

// rollbackUpload removes a half-ingested document. Failures are logged
// and swallowed; the caller is already returning the original error.
func (e *Engine) rollbackUpload(ctx context.Context, docID string) {
	if err := e.lexical.DeleteDocument(ctx, docID); err != nil {
		e.logger.Warn("rollback: lexical cleanup failed", slog.String("document_id", docID), slog.String("error", err.Error()))
	}
	if err := e.docs.DeleteDocument(ctx, docID); err != nil {
		e.logger.Warn("rollback: store cleanup failed", slog.String("document_id", docID), slog.String("error", err.Error()))
	}
}
