// Package store is the persistence layer: document and chunk metadata
// in SQLite, the lexical (BM25) index, and the HNSW vector index.
package store

import (
	"context"
	"time"
)

// EmbeddingStatus tracks a document's progress through the embedding
// pipeline.
type EmbeddingStatus string

const (
	// EmbeddingPending means no embedding work has started.
	EmbeddingPending EmbeddingStatus = "pending"
	// EmbeddingProcessing means an embedding job is running.
	EmbeddingProcessing EmbeddingStatus = "processing"
	// EmbeddingCompleted means every chunk has a vector.
	EmbeddingCompleted EmbeddingStatus = "completed"
	// EmbeddingFailed means the job exhausted its retry budget.
	EmbeddingFailed EmbeddingStatus = "failed"
)

// Valid reports whether s is a known status value.
func (s EmbeddingStatus) Valid() bool {
	switch s {
	case EmbeddingPending, EmbeddingProcessing, EmbeddingCompleted, EmbeddingFailed:
		return true
	}
	return false
}

// Document is an uploaded document's metadata record.
type Document struct {
	ID              string            // UUID
	Name            string            // Display name, usually the file name
	FileType        string            // Extension without the dot, lowercase
	SizeBytes       int64             // Raw content size
	ContentHash     string            // SHA256 hex of the raw bytes
	Content         []byte            // Raw content; persisted on save, loaded only by GetDocumentContent
	Metadata        map[string]string // Free-form caller-supplied attributes
	ChunkCount      int               // Number of chunks produced
	EmbeddingStatus EmbeddingStatus   //
	EmbeddingModel  string            // Model the vectors were built with
	FailureReason   string            // Set when EmbeddingStatus is failed
	Cached          bool              // Vectors resident in the vector index
	AccessCount     int64             // Search hits and direct reads
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastAccessedAt  time.Time
}

// Chunk is one indexed span of a document.
type Chunk struct {
	ID           string // UUID
	DocumentID   string
	Ordinal      int // 0-based position within the document
	Text         string
	StartOffset  int // Byte offset into the cleaned content
	EndOffset    int
	TokenCount   int
	HasEmbedding bool
}

// CollectionStats summarizes the stored collection.
type CollectionStats struct {
	DocumentCount  int            `json:"document_count"`
	ChunkCount     int            `json:"chunk_count"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	CachedCount    int            `json:"cached_count"`
	StatusCounts   map[string]int `json:"status_counts"`
}

// DocumentStore persists documents, chunks, and runtime state.
type DocumentStore interface {
	// Document operations
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	GetDocumentByHash(ctx context.Context, contentHash string) (*Document, error)
	ListDocuments(ctx context.Context) ([]*Document, error)
	GetDocumentContent(ctx context.Context, id string) ([]byte, error)
	DeleteDocument(ctx context.Context, id string) error

	// Status and lifecycle updates
	UpdateEmbeddingStatus(ctx context.Context, id string, status EmbeddingStatus, failureReason string) error
	SetCached(ctx context.Context, id string, cached bool) error
	TouchDocument(ctx context.Context, id string) error
	EvictionCandidates(ctx context.Context, limit int) ([]*Document, error)

	// Chunk operations
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error)
	MarkChunkEmbedded(ctx context.Context, chunkID string) error
	ClearEmbeddings(ctx context.Context, documentID string) error

	// Aggregates
	Stats(ctx context.Context) (*CollectionStats, error)

	// State operations (key-value store for runtime state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// State keys for the document store's key-value table.
const (
	// StateKeyIndexDimension records the vector dimensionality the
	// index was built with.
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel records the embedding model the index was
	// built with.
	StateKeyIndexModel = "index_embedding_model"
)

// LexicalEntry is one chunk submitted for lexical indexing.
type LexicalEntry struct {
	ChunkID    string
	DocumentID string
	Text       string
}

// LexicalHit is a single lexical search result.
type LexicalHit struct {
	ChunkID      string
	DocumentID   string
	Score        float64 // Raw BM25 score, higher is better
	MatchedTerms []string
}

// LexicalStats provides statistics about the lexical index.
type LexicalStats struct {
	ChunkCount int
}

// LexicalIndex provides BM25 keyword search over chunks.
type LexicalIndex interface {
	// Index adds entries. Existing chunk IDs are replaced.
	Index(ctx context.Context, entries []*LexicalEntry) error

	// Search returns chunks matching query, best first. When documentIDs
	// is non-empty, only chunks from those documents are considered.
	Search(ctx context.Context, query string, limit int, documentIDs []string) ([]*LexicalHit, error)

	// Delete removes chunks by ID.
	Delete(ctx context.Context, chunkIDs []string) error

	// DeleteDocument removes every chunk of a document.
	DeleteDocument(ctx context.Context, documentID string) error

	// AllIDs returns all indexed chunk IDs, for consistency checks.
	AllIDs() ([]string, error)

	// Stats returns index statistics.
	Stats() *LexicalStats

	// Flush forces pending writes to disk.
	Flush() error

	Close() error
}

// LexicalConfig configures the lexical index.
type LexicalConfig struct {
	// StopWords are filtered out during tokenization.
	StopWords []string

	// MinTokenLength is the minimum token length to index.
	MinTokenLength int
}

// DefaultLexicalConfig returns the default lexical configuration.
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords are common English function words that carry no
// retrieval signal.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "he", "in", "is", "it", "its", "of", "on", "that", "the",
	"to", "was", "were", "will", "with",
}

// VectorHit is a single vector search result.
type VectorHit struct {
	ChunkID    string
	Similarity float32 // Cosine similarity mapped to [0, 1], higher is better
}

// VectorConfig configures the HNSW vector index.
type VectorConfig struct {
	// Dimensions is the vector dimensionality. Required.
	Dimensions int

	// M is the HNSW max connections per layer.
	M int

	// EfSearch is the HNSW query-time search width.
	EfSearch int

	// Normalize unit-normalizes vectors on insert and query. Cosine
	// distance is scale-invariant either way.
	Normalize bool
}

// DefaultVectorConfig returns defaults for the given dimensionality.
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   20,
		Normalize:  true,
	}
}

// VectorIndex provides approximate nearest neighbor search over chunk
// vectors.
type VectorIndex interface {
	// Add inserts vectors keyed by chunk ID. Existing IDs are replaced.
	Add(ctx context.Context, chunkIDs []string, vectors [][]float32) error

	// Search finds the k most similar chunks to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorHit, error)

	// Delete removes vectors by chunk ID.
	Delete(ctx context.Context, chunkIDs []string) error

	// Contains reports whether a chunk ID has a vector.
	Contains(chunkID string) bool

	// Count returns the number of live vectors.
	Count() int

	// AllIDs returns all live chunk IDs.
	AllIDs() []string

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}
