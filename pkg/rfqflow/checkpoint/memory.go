package checkpoint

import (
	"sync"
	"time"
)

// MemoryStore is an in-memory checkpoint store for testing and
// single-process use. Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]storedCheckpoint // threadID -> snapshots, oldest first
	closed bool
}

// storedCheckpoint holds snapshot data with metadata for List().
type storedCheckpoint struct {
	data      []byte
	sequence  int
	timestamp time.Time
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]storedCheckpoint),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(threadID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	seq := 1
	if snaps := m.data[threadID]; len(snaps) > 0 {
		seq = snaps[len(snaps)-1].sequence + 1
	}

	// Copy data to avoid retaining caller's slice
	stored := make([]byte, len(data))
	copy(stored, data)

	m.data[threadID] = append(m.data[threadID], storedCheckpoint{
		data:      stored,
		sequence:  seq,
		timestamp: time.Now().UTC(),
	})

	return nil
}

// LoadLatest implements Store.
func (m *MemoryStore) LoadLatest(threadID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	snaps, ok := m.data[threadID]
	if !ok || len(snaps) == 0 {
		return nil, ErrNotFound
	}

	latest := snaps[len(snaps)-1]

	// Return a copy to prevent modification
	result := make([]byte, len(latest.data))
	copy(result, latest.data)
	return result, nil
}

// List implements Store.
func (m *MemoryStore) List(threadID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	snaps := m.data[threadID]
	infos := make([]Info, 0, len(snaps))
	for _, cp := range snaps {
		infos = append(infos, Info{
			ThreadID:  threadID,
			Sequence:  cp.sequence,
			Timestamp: cp.timestamp,
			Size:      int64(len(cp.data)),
		})
	}
	return infos, nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.data, threadID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Len returns the total number of snapshots across all threads.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, snaps := range m.data {
		count += len(snaps)
	}
	return count
}
