package storage

import (
	"context"
	"strings"
	"sync"
)

// MemStore is an in-memory Store used by tests and dry runs. Tx stages
// writes against a copy and swaps it in on success, matching the
// all-or-nothing semantics of SQLiteStore.
type MemStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string][]byte)}
}

func recordKey(kind, key string) string {
	return kind + "\x00" + key
}

// Get returns the value for (kind, key), or ErrNotFound.
func (m *MemStore) Get(_ context.Context, kind, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.records[recordKey(kind, key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put stores the value for (kind, key).
func (m *MemStore) Put(_ context.Context, kind, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.records[recordKey(kind, key)] = stored
	return nil
}

// Delete removes the record for (kind, key).
func (m *MemStore) Delete(_ context.Context, kind, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, recordKey(kind, key))
	return nil
}

// List returns the keys present under kind.
func (m *MemStore) List(_ context.Context, kind string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := kind + "\x00"
	var keys []string
	for k := range m.records {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	return keys, nil
}

// Tx runs fn against a staged copy of the store. The copy replaces the
// live map only when fn returns nil.
func (m *MemStore) Tx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := &MemStore{records: make(map[string][]byte, len(m.records))}
	for k, v := range m.records {
		copied := make([]byte, len(v))
		copy(copied, v)
		staged.records[k] = copied
	}

	if err := fn(staged); err != nil {
		return err
	}

	m.records = staged.records
	return nil
}
