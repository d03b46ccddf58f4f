// Package checkpoint provides durable snapshot storage for suspended
// and in-flight workflow threads.
package checkpoint

import (
	"errors"
	"time"
)

// Store persists checkpoints, keyed by thread identifier.
// Implementations must be safe for concurrent use, and Save must replace
// the latest snapshot atomically: a concurrent LoadLatest never observes
// a partially written checkpoint.
//
// Only the latest snapshot per thread is required for resumption.
// Implementations retain the full sequence as a diagnostic aid; Clear
// discards everything for a thread.
type Store interface {
	// Save appends a snapshot for a thread, making it the latest.
	Save(threadID string, data []byte) error

	// LoadLatest retrieves the most recent snapshot for a thread.
	// Returns ErrNotFound if the thread has no checkpoints.
	LoadLatest(threadID string) ([]byte, error)

	// List returns metadata for all snapshots of a thread, ordered by
	// sequence. Returns an empty slice (not an error) for unknown threads.
	List(threadID string) ([]Info, error)

	// Clear removes all snapshots for a thread.
	// Returns nil if the thread has no checkpoints.
	Clear(threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides snapshot metadata without loading full state.
type Info struct {
	ThreadID  string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates no checkpoint exists for the thread.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
