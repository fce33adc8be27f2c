// Package config defines the engine settings, their defaults, and the
// load/merge/validate pipeline.
//
// Settings are applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. config.yaml in the data directory
//  3. Environment variables (RAGENGINE_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the settings file name inside the data directory.
const ConfigFileName = "config.yaml"

// Settings represents the complete engine configuration.
type Settings struct {
	Version    int                `yaml:"version" json:"version"`
	Chunking   ChunkingSettings   `yaml:"chunking" json:"chunking"`
	Search     SearchSettings     `yaml:"search" json:"search"`
	Embedding  EmbeddingSettings  `yaml:"embedding" json:"embedding"`
	Storage    StorageSettings    `yaml:"storage" json:"storage"`
	Processing ProcessingSettings `yaml:"processing" json:"processing"`
	Watch      WatchSettings      `yaml:"watch" json:"watch"`
	LogLevel   string             `yaml:"log_level" json:"log_level"`
}

// ChunkingSettings configures document segmentation.
type ChunkingSettings struct {
	// ChunkSize is the target chunk size in tokens.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// ChunkOverlap is the number of tokens shared between adjacent chunks.
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	// MaxChunkSize is the hard upper bound on chunk size in tokens.
	MaxChunkSize int `yaml:"max_chunk_size" json:"max_chunk_size"`
	// MinChunkSize is the minimum chunk size in tokens; boundary
	// retraction never shrinks a chunk below this.
	MinChunkSize int `yaml:"min_chunk_size" json:"min_chunk_size"`
	// RespectSentenceBoundaries prefers ending chunks at sentence ends.
	RespectSentenceBoundaries bool `yaml:"respect_sentence_boundaries" json:"respect_sentence_boundaries"`
	// RespectParagraphBoundaries prefers ending chunks at paragraph ends.
	RespectParagraphBoundaries bool `yaml:"respect_paragraph_boundaries" json:"respect_paragraph_boundaries"`
}

// SearchSettings configures hybrid retrieval.
type SearchSettings struct {
	// LexicalWeight is the weight for BM25 keyword matching (0.0-1.0).
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`

	// VectorWeight is the weight for vector similarity (0.0-1.0).
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`

	// MaxResults caps the number of results returned per query.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// MinScoreThreshold drops results with a combined score below it.
	MinScoreThreshold float64 `yaml:"min_score_threshold" json:"min_score_threshold"`

	// LexicalBackend selects the lexical index backend.
	// Options: "sqlite" (default, FTS5 with concurrent access) or "bleve".
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`

	// RerankingEnabled runs the reranker over the top results.
	RerankingEnabled bool `yaml:"reranking_enabled" json:"reranking_enabled"`
}

// EmbeddingSettings configures the embedding backend.
type EmbeddingSettings struct {
	// Provider selects the backend: "static" (deterministic local) or
	// "ollama" (remote HTTP service). Empty defaults to static.
	Provider string `yaml:"provider" json:"provider"`
	// Model is the embedding model identifier.
	Model string `yaml:"model" json:"model"`
	// Dimensions is the vector dimensionality (0 = backend default).
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// MaxLength is the maximum input length in tokens per embedding call.
	MaxLength int `yaml:"max_length" json:"max_length"`
	// Normalize unit-normalizes vectors before indexing.
	Normalize bool `yaml:"normalize" json:"normalize"`
	// BatchSize for batch embedding requests.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// OllamaHost is the Ollama API endpoint (used when provider is "ollama").
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// CacheSize is the embedding LRU cache capacity (entries).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// StorageSettings configures collection limits and eviction.
type StorageSettings struct {
	// MaxDocumentSizeMB is the per-document size ceiling (inclusive).
	MaxDocumentSizeMB int `yaml:"max_document_size_mb" json:"max_document_size_mb"`
	// MaxCollectionSizeGB is the total collection size ceiling.
	MaxCollectionSizeGB int `yaml:"max_collection_size_gb" json:"max_collection_size_gb"`
	// MaxCachedDocuments is the number of documents allowed to hold
	// vectors at once; exceeding it demotes the least recently used.
	MaxCachedDocuments int `yaml:"max_cached_documents" json:"max_cached_documents"`
}

// ProcessingSettings configures asynchronous embedding work.
type ProcessingSettings struct {
	// AutoEmbedding queues embedding generation on upload.
	AutoEmbedding bool `yaml:"auto_embedding" json:"auto_embedding"`
	// BackgroundProcessing runs embedding jobs off the caller's goroutine.
	BackgroundProcessing bool `yaml:"background_processing" json:"background_processing"`
	// Workers bounds concurrent embedding jobs.
	Workers int `yaml:"workers" json:"workers"`
}

// WatchSettings configures the inbox watcher.
type WatchSettings struct {
	// InboxDir is the directory watched for new documents. Empty disables.
	InboxDir string `yaml:"inbox_dir" json:"inbox_dir"`
	// Debounce is the event coalescing window (e.g. "500ms").
	Debounce string `yaml:"debounce" json:"debounce"`
}

// SupportedFileTypes are the file extensions accepted on upload,
// lowercase without the leading dot.
var SupportedFileTypes = []string{
	"txt", "md", "markdown", "text", "rst",
	"html", "htm", "csv", "json", "xml", "yaml", "yml", "toml", "log",
	"go", "py", "js", "ts", "rs", "java", "c", "cpp", "h", "sh",
}

// IsSupportedFileType reports whether ext (with or without leading dot)
// is an accepted upload type.
func IsSupportedFileType(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, t := range SupportedFileTypes {
		if t == ext {
			return true
		}
	}
	return false
}

// DefaultSettings returns the engine defaults.
func DefaultSettings() *Settings {
	return &Settings{
		Version: 1,
		Chunking: ChunkingSettings{
			ChunkSize:                  512,
			ChunkOverlap:               64,
			MaxChunkSize:               800,
			MinChunkSize:               100,
			RespectSentenceBoundaries:  true,
			RespectParagraphBoundaries: true,
		},
		Search: SearchSettings{
			LexicalWeight:     0.7,
			VectorWeight:      0.3,
			MaxResults:        50,
			MinScoreThreshold: 0.1,
			LexicalBackend:    "sqlite",
			RerankingEnabled:  false,
		},
		Embedding: EmbeddingSettings{
			Provider:   "static",
			Model:      "bge-small-en-v1.5",
			Dimensions: 0, // backend default
			MaxLength:  512,
			Normalize:  true,
			BatchSize:  32,
			OllamaHost: "",
			CacheSize:  10000,
		},
		Storage: StorageSettings{
			MaxDocumentSizeMB:   50,
			MaxCollectionSizeGB: 2,
			MaxCachedDocuments:  10,
		},
		Processing: ProcessingSettings{
			AutoEmbedding:        true,
			BackgroundProcessing: true,
			Workers:              runtime.NumCPU(),
		},
		Watch: WatchSettings{
			InboxDir: "",
			Debounce: "500ms",
		},
		LogLevel: "info",
	}
}

// Load loads settings for the given data directory.
func Load(dataDir string) (*Settings, error) {
	s := DefaultSettings()

	path := filepath.Join(dataDir, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		if err := s.loadYAML(path); err != nil {
			return nil, err
		}
	}

	s.applyEnvOverrides()

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return s, nil
}

// loadYAML loads and merges settings from a YAML file.
func (s *Settings) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Settings
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	s.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into s.
// Booleans whose zero value is meaningful ride along with a sibling
// field that marks the section as present.
func (s *Settings) mergeWith(other *Settings) {
	if other.Version != 0 {
		s.Version = other.Version
	}

	if other.Chunking.ChunkSize != 0 {
		s.Chunking = other.Chunking
	}

	if other.Search.LexicalWeight != 0 {
		s.Search.LexicalWeight = other.Search.LexicalWeight
	}
	if other.Search.VectorWeight != 0 {
		s.Search.VectorWeight = other.Search.VectorWeight
	}
	if other.Search.MaxResults != 0 {
		s.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.MinScoreThreshold != 0 {
		s.Search.MinScoreThreshold = other.Search.MinScoreThreshold
	}
	if other.Search.LexicalBackend != "" {
		s.Search.LexicalBackend = other.Search.LexicalBackend
	}
	if other.Search.RerankingEnabled {
		s.Search.RerankingEnabled = true
	}

	if other.Embedding.Provider != "" {
		s.Embedding.Provider = other.Embedding.Provider
	}
	if other.Embedding.Model != "" {
		s.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.Dimensions != 0 {
		s.Embedding.Dimensions = other.Embedding.Dimensions
	}
	if other.Embedding.MaxLength != 0 {
		s.Embedding.MaxLength = other.Embedding.MaxLength
	}
	if other.Embedding.BatchSize != 0 {
		s.Embedding.BatchSize = other.Embedding.BatchSize
	}
	if other.Embedding.OllamaHost != "" {
		s.Embedding.OllamaHost = other.Embedding.OllamaHost
	}
	if other.Embedding.CacheSize != 0 {
		s.Embedding.CacheSize = other.Embedding.CacheSize
	}
	if other.Embedding.Model != "" || other.Embedding.Provider != "" {
		s.Embedding.Normalize = other.Embedding.Normalize
	}

	if other.Storage.MaxDocumentSizeMB != 0 {
		s.Storage.MaxDocumentSizeMB = other.Storage.MaxDocumentSizeMB
	}
	if other.Storage.MaxCollectionSizeGB != 0 {
		s.Storage.MaxCollectionSizeGB = other.Storage.MaxCollectionSizeGB
	}
	if other.Storage.MaxCachedDocuments != 0 {
		s.Storage.MaxCachedDocuments = other.Storage.MaxCachedDocuments
	}

	if other.Processing.Workers != 0 {
		s.Processing = other.Processing
	}

	if other.Watch.InboxDir != "" {
		s.Watch.InboxDir = other.Watch.InboxDir
	}
	if other.Watch.Debounce != "" {
		s.Watch.Debounce = other.Watch.Debounce
	}

	if other.LogLevel != "" {
		s.LogLevel = other.LogLevel
	}
}

// applyEnvOverrides applies RAGENGINE_* environment variable overrides.
func (s *Settings) applyEnvOverrides() {
	if v := os.Getenv("RAGENGINE_LEXICAL_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			s.Search.LexicalWeight = w
		}
	}
	if v := os.Getenv("RAGENGINE_VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			s.Search.VectorWeight = w
		}
	}
	if v := os.Getenv("RAGENGINE_LEXICAL_BACKEND"); v != "" {
		s.Search.LexicalBackend = v
	}
	if v := os.Getenv("RAGENGINE_EMBEDDING_PROVIDER"); v != "" {
		s.Embedding.Provider = v
	}
	if v := os.Getenv("RAGENGINE_EMBEDDING_MODEL"); v != "" {
		s.Embedding.Model = v
	}
	if v := os.Getenv("RAGENGINE_OLLAMA_HOST"); v != "" {
		s.Embedding.OllamaHost = v
	}
	if v := os.Getenv("RAGENGINE_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
}

// Validate validates the settings and returns an error if invalid.
func (s *Settings) Validate() error {
	if s.Search.LexicalWeight < 0 || s.Search.LexicalWeight > 1 {
		return fmt.Errorf("lexical_weight must be between 0 and 1, got %f", s.Search.LexicalWeight)
	}
	if s.Search.VectorWeight < 0 || s.Search.VectorWeight > 1 {
		return fmt.Errorf("vector_weight must be between 0 and 1, got %f", s.Search.VectorWeight)
	}

	if s.Search.MaxResults < 1 {
		return fmt.Errorf("max_results must be positive, got %d", s.Search.MaxResults)
	}
	if s.Search.MinScoreThreshold < 0 || s.Search.MinScoreThreshold > 1 {
		return fmt.Errorf("min_score_threshold must be between 0 and 1, got %f", s.Search.MinScoreThreshold)
	}

	switch strings.ToLower(s.Search.LexicalBackend) {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("lexical_backend must be 'sqlite' or 'bleve', got %s", s.Search.LexicalBackend)
	}

	if s.Chunking.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", s.Chunking.ChunkSize)
	}
	if s.Chunking.ChunkOverlap < 0 || s.Chunking.ChunkOverlap >= s.Chunking.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", s.Chunking.ChunkOverlap)
	}
	if s.Chunking.MinChunkSize < 0 || s.Chunking.MinChunkSize > s.Chunking.ChunkSize {
		return fmt.Errorf("min_chunk_size must be in [0, chunk_size], got %d", s.Chunking.MinChunkSize)
	}
	if s.Chunking.MaxChunkSize < s.Chunking.ChunkSize {
		return fmt.Errorf("max_chunk_size must be >= chunk_size, got %d", s.Chunking.MaxChunkSize)
	}

	if s.Embedding.Provider != "" {
		switch strings.ToLower(s.Embedding.Provider) {
		case "static", "ollama":
		default:
			return fmt.Errorf("embedding.provider must be 'static' or 'ollama', got %s", s.Embedding.Provider)
		}
	}

	if s.Storage.MaxDocumentSizeMB < 1 {
		return fmt.Errorf("max_document_size_mb must be positive, got %d", s.Storage.MaxDocumentSizeMB)
	}
	if s.Storage.MaxCollectionSizeGB < 1 {
		return fmt.Errorf("max_collection_size_gb must be positive, got %d", s.Storage.MaxCollectionSizeGB)
	}
	if s.Storage.MaxCachedDocuments < 1 {
		return fmt.Errorf("max_cached_documents must be positive, got %d", s.Storage.MaxCachedDocuments)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(s.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", s.LogLevel)
	}

	return nil
}

// WriteYAML writes the settings to a YAML file.
func (s *Settings) WriteYAML(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Save writes the settings into the data directory.
func (s *Settings) Save(dataDir string) error {
	return s.WriteYAML(filepath.Join(dataDir, ConfigFileName))
}

// Clone returns a deep copy of the settings.
func (s *Settings) Clone() *Settings {
	cp := *s
	return &cp
}
