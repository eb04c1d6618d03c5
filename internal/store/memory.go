package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process CursorStore.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string

	// FailGet and FailSet, when non-nil, are returned (wrapped in a
	// StorageError) instead of touching the map.
	FailGet error
	FailSet error
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

// Get implements CursorStore.
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailGet != nil {
		return "", false, &StorageError{Op: "get", Key: key, Err: m.FailGet}
	}
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements CursorStore.
func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSet != nil {
		return &StorageError{Op: "set", Key: key, Err: m.FailSet}
	}
	m.data[key] = value
	return nil
}

// List implements Lister.
func (m *Memory) List(ctx context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]Entry, 0, len(m.data))
	for k, v := range m.data {
		entries = append(entries, Entry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}
