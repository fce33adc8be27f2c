package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	ragerrors "github.com/trueup-laplace/ragengine/internal/errors"
)

// SQLiteDocumentStore implements DocumentStore on SQLite with WAL mode.
type SQLiteDocumentStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ DocumentStore = (*SQLiteDocumentStore)(nil)

// NewSQLiteDocumentStore opens or creates the metadata database at
// path. Empty path creates an in-memory store for testing.
func NewSQLiteDocumentStore(path string) (*SQLiteDocumentStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteDocumentStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteDocumentStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		file_type        TEXT NOT NULL,
		size_bytes       INTEGER NOT NULL,
		content_hash     TEXT NOT NULL UNIQUE,
		content          BLOB NOT NULL DEFAULT X'',
		metadata         TEXT NOT NULL DEFAULT '{}',
		chunk_count      INTEGER NOT NULL DEFAULT 0,
		embedding_status TEXT NOT NULL DEFAULT 'pending',
		embedding_model  TEXT NOT NULL DEFAULT '',
		failure_reason   TEXT NOT NULL DEFAULT '',
		cached           INTEGER NOT NULL DEFAULT 0,
		access_count     INTEGER NOT NULL DEFAULT 0,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL,
		last_accessed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
	CREATE INDEX IF NOT EXISTS idx_documents_accessed ON documents(last_accessed_at, access_count);

	CREATE TABLE IF NOT EXISTS chunks (
		id            TEXT PRIMARY KEY,
		document_id   TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		ordinal       INTEGER NOT NULL,
		text          TEXT NOT NULL,
		start_offset  INTEGER NOT NULL,
		end_offset    INTEGER NOT NULL,
		token_count   INTEGER NOT NULL,
		has_embedding INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, ordinal);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveDocument inserts or updates a document record.
func (s *SQLiteDocumentStore) SaveDocument(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.LastAccessedAt.IsZero() {
		doc.LastAccessedAt = now
	}
	if doc.EmbeddingStatus == "" {
		doc.EmbeddingStatus = EmbeddingPending
	}

	metadata, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	content := doc.Content
	if content == nil {
		content = []byte{}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (
			id, name, file_type, size_bytes, content_hash, content, metadata,
			chunk_count, embedding_status, embedding_model, failure_reason,
			cached, access_count, created_at, updated_at, last_accessed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			file_type = excluded.file_type,
			size_bytes = excluded.size_bytes,
			content_hash = excluded.content_hash,
			content = excluded.content,
			metadata = excluded.metadata,
			chunk_count = excluded.chunk_count,
			embedding_status = excluded.embedding_status,
			embedding_model = excluded.embedding_model,
			failure_reason = excluded.failure_reason,
			cached = excluded.cached,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Name, doc.FileType, doc.SizeBytes, doc.ContentHash,
		content, metadata, doc.ChunkCount, string(doc.EmbeddingStatus),
		doc.EmbeddingModel, doc.FailureReason, boolToInt(doc.Cached),
		doc.AccessCount, doc.CreatedAt.UnixMilli(), doc.UpdatedAt.UnixMilli(),
		doc.LastAccessedAt.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: documents.content_hash") {
			existing, lookupErr := s.getDocumentByHashLocked(ctx, doc.ContentHash)
			if lookupErr == nil && existing != nil {
				return ragerrors.DuplicateError(existing.ID)
			}
		}
		return fmt.Errorf("failed to save document: %w", err)
	}

	return nil
}

// documentColumns deliberately omits content: the raw bytes can be
// large and only GetDocumentContent needs them.
const documentColumns = `id, name, file_type, size_bytes, content_hash, metadata,
	chunk_count, embedding_status, embedding_model, failure_reason, cached,
	access_count, created_at, updated_at, last_accessed_at`

// GetDocument returns a document by ID.
func (s *SQLiteDocumentStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ragerrors.NotFoundError(id)
	}
	return doc, err
}

// GetDocumentByHash returns the document with the given content hash,
// or nil if no document matches.
func (s *SQLiteDocumentStore) GetDocumentByHash(ctx context.Context, contentHash string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	return s.getDocumentByHashLocked(ctx, contentHash)
}

func (s *SQLiteDocumentStore) getDocumentByHashLocked(ctx context.Context, contentHash string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE content_hash = ?`, contentHash)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return doc, err
}

// GetDocumentContent returns a document's raw bytes.
func (s *SQLiteDocumentStore) GetDocumentContent(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM documents WHERE id = ?`, id).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ragerrors.NotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document content: %w", err)
	}
	return content, nil
}

// ListDocuments returns all documents, newest first.
func (s *SQLiteDocumentStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document; its chunks cascade.
func (s *SQLiteDocumentStore) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ragerrors.NotFoundError(id)
	}
	return nil
}

// UpdateEmbeddingStatus sets the document's embedding status.
func (s *SQLiteDocumentStore) UpdateEmbeddingStatus(ctx context.Context, id string, status EmbeddingStatus, failureReason string) error {
	if !status.Valid() {
		return ragerrors.ValidationError(fmt.Sprintf("invalid embedding status %q", status), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET embedding_status = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(status), failureReason, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update embedding status: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ragerrors.NotFoundError(id)
	}
	return nil
}

// SetCached flags whether the document's vectors are resident.
func (s *SQLiteDocumentStore) SetCached(ctx context.Context, id string, cached bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET cached = ?, updated_at = ? WHERE id = ?`,
		boolToInt(cached), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update cached flag: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ragerrors.NotFoundError(id)
	}
	return nil
}

// TouchDocument bumps access count and last access time. Called on
// search hits and direct reads; the eviction policy keys off both.
func (s *SQLiteDocumentStore) TouchDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to touch document: %w", err)
	}
	return nil
}

// EvictionCandidates returns cached documents in eviction order: least
// recently accessed first, ties broken by lowest access count.
func (s *SQLiteDocumentStore) EvictionCandidates(ctx context.Context, limit int) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE cached = 1
		ORDER BY last_accessed_at ASC, access_count ASC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query eviction candidates: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SaveChunks inserts or replaces chunks in one transaction.
func (s *SQLiteDocumentStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
		(id, document_id, ordinal, text, start_offset, end_offset, token_count, has_embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.Ordinal, c.Text, c.StartOffset,
			c.EndOffset, c.TokenCount, boolToInt(c.HasEmbedding)); err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

const chunkColumns = `id, document_id, ordinal, text, start_offset, end_offset, token_count, has_embedding`

// GetChunk returns a chunk by ID.
func (s *SQLiteDocumentStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ragerrors.NotFoundError(id)
	}
	return chunk, err
}

// GetChunks returns chunks for the given IDs, in ID order. Missing IDs
// are silently skipped.
func (s *SQLiteDocumentStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT `+chunkColumns+` FROM chunks WHERE id IN (%s)`,
		strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// GetChunksByDocument returns a document's chunks in ordinal order.
func (s *SQLiteDocumentStore) GetChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? ORDER BY ordinal`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// MarkChunkEmbedded flags a chunk as having a vector.
func (s *SQLiteDocumentStore) MarkChunkEmbedded(ctx context.Context, chunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET has_embedding = 1 WHERE id = ?`, chunkID)
	if err != nil {
		return fmt.Errorf("failed to mark chunk embedded: %w", err)
	}
	return nil
}

// ClearEmbeddings resets the embedded flag on all of a document's
// chunks. Used when vectors are evicted or regenerated.
func (s *SQLiteDocumentStore) ClearEmbeddings(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET has_embedding = 0 WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("failed to clear embeddings: %w", err)
	}
	return nil
}

// Stats returns collection-level aggregates.
func (s *SQLiteDocumentStore) Stats(ctx context.Context) (*CollectionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	stats := &CollectionStats{StatusCounts: make(map[string]int)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0), COALESCE(SUM(cached), 0)
		FROM documents`).
		Scan(&stats.DocumentCount, &stats.TotalSizeBytes, &stats.CachedCount)
	if err != nil {
		return nil, fmt.Errorf("failed to query document stats: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks`).Scan(&stats.ChunkCount); err != nil {
		return nil, fmt.Errorf("failed to query chunk stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT embedding_status, COUNT(*) FROM documents GROUP BY embedding_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query status counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.StatusCounts[status] = count
	}

	return stats, rows.Err()
}

// GetState returns a runtime state value, empty string if unset.
func (s *SQLiteDocumentStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores a runtime state value.
func (s *SQLiteDocumentStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// Close checkpoints and closes the database. Idempotent.
func (s *SQLiteDocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var status, metadata string
	var cached int
	var createdAt, updatedAt, lastAccessedAt int64

	err := row.Scan(&doc.ID, &doc.Name, &doc.FileType, &doc.SizeBytes,
		&doc.ContentHash, &metadata, &doc.ChunkCount, &status,
		&doc.EmbeddingModel, &doc.FailureReason, &cached, &doc.AccessCount,
		&createdAt, &updatedAt, &lastAccessedAt)
	if err != nil {
		return nil, err
	}

	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	doc.EmbeddingStatus = EmbeddingStatus(status)
	doc.Cached = cached != 0
	doc.CreatedAt = time.UnixMilli(createdAt)
	doc.UpdatedAt = time.UnixMilli(updatedAt)
	doc.LastAccessedAt = time.UnixMilli(lastAccessedAt)
	return &doc, nil
}

// encodeMetadata serializes the metadata map as JSON. A nil map
// encodes as the empty object so the column stays NOT NULL.
func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var hasEmbedding int

	err := row.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text,
		&c.StartOffset, &c.EndOffset, &c.TokenCount, &hasEmbedding)
	if err != nil {
		return nil, err
	}

	c.HasEmbedding = hasEmbedding != 0
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
