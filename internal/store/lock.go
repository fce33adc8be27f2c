package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// LockFileName is the advisory lock file inside the data directory.
const LockFileName = ".ragengine.lock"

// DataLock guards a data directory against concurrent writers from
// other processes. Readers of the SQLite stores are fine concurrently
// (WAL mode); the lock protects the vector index files, which have no
// coordination of their own.
type DataLock struct {
	lock *flock.Flock
	path string
}

// NewDataLock creates an (unheld) lock for the data directory.
func NewDataLock(dataDir string) (*DataLock, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(dataDir, LockFileName)
	return &DataLock{lock: flock.New(path), path: path}, nil
}

// Acquire takes the exclusive lock, retrying until ctx is done.
func (l *DataLock) Acquire(ctx context.Context) error {
	retryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ok, err := l.lock.TryLockContext(retryCtx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire data lock %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("data directory is locked by another process: %s", l.path)
	}
	return nil
}

// TryAcquire takes the lock without waiting.
func (l *DataLock) TryAcquire() (bool, error) {
	ok, err := l.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to try data lock %s: %w", l.path, err)
	}
	return ok, nil
}

// Release drops the lock. Safe to call when not held.
func (l *DataLock) Release() error {
	return l.lock.Unlock()
}

// Path returns the lock file path.
func (l *DataLock) Path() string {
	return l.path
}
