package rag

import (
	"context"
)

// StorageStats summarizes collection usage against the configured
// limits.
type StorageStats struct {
	DocumentCount      int            `json:"document_count"`
	ChunkCount         int            `json:"chunk_count"`
	TotalSizeBytes     int64          `json:"total_size_bytes"`
	MaxCollectionBytes int64          `json:"max_collection_bytes"`
	UsagePercent       float64        `json:"usage_percent"`
	CachedDocuments    int            `json:"cached_documents"`
	MaxCachedDocuments int            `json:"max_cached_documents"`
	VectorCount        int            `json:"vector_count"`
	LexicalChunks      int            `json:"lexical_chunks"`
	EmbeddingCoverage  float64        `json:"embedding_coverage"`
	StatusCounts       map[string]int `json:"status_counts"`
}

// StorageStats reports collection size, cache occupancy, and index
// coverage.
func (e *Engine) StorageStats(ctx context.Context) (*StorageStats, error) {
	if err := e.ensureInitialized("StorageStats"); err != nil {
		return nil, err
	}

	collection, err := e.docs.Stats(ctx)
	if err != nil {
		return nil, err
	}

	settings := e.Settings()
	stats := &StorageStats{
		DocumentCount:      collection.DocumentCount,
		ChunkCount:         collection.ChunkCount,
		TotalSizeBytes:     collection.TotalSizeBytes,
		MaxCollectionBytes: int64(settings.Storage.MaxCollectionSizeGB) * 1024 * 1024 * 1024,
		CachedDocuments:    collection.CachedCount,
		MaxCachedDocuments: settings.Storage.MaxCachedDocuments,
		VectorCount:        e.vector.Count(),
		LexicalChunks:      e.lexical.Stats().ChunkCount,
		StatusCounts:       collection.StatusCounts,
	}
	if stats.MaxCollectionBytes > 0 {
		stats.UsagePercent = float64(stats.TotalSizeBytes) / float64(stats.MaxCollectionBytes) * 100
	}
	if stats.ChunkCount > 0 {
		stats.EmbeddingCoverage = float64(stats.VectorCount) / float64(stats.ChunkCount)
	}
	return stats, nil
}
