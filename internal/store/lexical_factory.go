package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// LexicalBackend selects the lexical index implementation.
type LexicalBackend string

const (
	// LexicalBackendSQLite uses SQLite FTS5 (default). WAL mode allows
	// concurrent multi-process readers.
	LexicalBackendSQLite LexicalBackend = "sqlite"

	// LexicalBackendBleve uses Bleve v2. BoltDB holds an exclusive
	// lock, so this backend is single-process.
	LexicalBackendBleve LexicalBackend = "bleve"
)

// NewLexicalIndex creates a LexicalIndex with the given backend. The
// basePath is extended with a backend-specific suffix (.db for SQLite,
// .bleve for Bleve). Empty basePath creates an in-memory index.
func NewLexicalIndex(basePath string, config LexicalConfig, backend string) (LexicalIndex, error) {
	switch backend {
	case string(LexicalBackendSQLite), "":
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewSQLiteLexicalIndex(path, config)

	case string(LexicalBackendBleve):
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveLexicalIndex(path, config)

	default:
		return nil, fmt.Errorf("unknown lexical backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// DetectLexicalBackend detects which backend an existing index uses.
// Returns empty string if no index exists yet.
func DetectLexicalBackend(basePath string) LexicalBackend {
	if info, err := os.Stat(basePath + ".db"); err == nil && !info.IsDir() {
		return LexicalBackendSQLite
	}
	if info, err := os.Stat(basePath + ".bleve"); err == nil && info.IsDir() {
		return LexicalBackendBleve
	}
	return ""
}

// LexicalIndexPath returns the on-disk path for a backend under dataDir.
func LexicalIndexPath(dataDir, backend string) string {
	basePath := filepath.Join(dataDir, "lexical")
	if backend == string(LexicalBackendBleve) {
		return basePath + ".bleve"
	}
	return basePath + ".db"
}
