// Package memory keeps cache snapshots in-memory for tests and dry runs.
package memory

import (
	"context"
	"encoding/json"
	"sync"
)

// Store holds the last saved snapshot.
type Store struct {
	mu    sync.RWMutex
	data  map[string]json.RawMessage
	saves int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string]json.RawMessage)}
}

// NewWithData seeds the store as if data had been saved earlier.
func NewWithData(data map[string]json.RawMessage) *Store {
	s := New()
	for k, v := range data {
		s.data[k] = append(json.RawMessage(nil), v...)
	}
	return s
}

// Load returns a copy of the snapshot.
func (s *Store) Load(_ context.Context) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyData(s.data), nil
}

// Save replaces the snapshot with a copy of data.
func (s *Store) Save(_ context.Context, data map[string]json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = copyData(data)
	s.saves++
	return nil
}

// Saves reports how many times Save was called.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func copyData(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
