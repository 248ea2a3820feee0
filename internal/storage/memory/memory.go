// Package memory implements storage.Adapter in-memory; intended for
// tests and local development.
package memory

import (
	"context"
	"sync"

	"pkt.systems/paird/internal/storage"
)

// Store holds session blobs in a process-local map.
type Store struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// New returns a ready to use in-memory store.
func New() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

// Read returns a copy of the blob stored under key.
func (s *Store) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Write stores a copy of data under key, replacing any previous value.
func (s *Store) Write(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

// Remove deletes key; removing an absent key succeeds.
func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// List enumerates the stored keys.
func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.blobs))
	for key := range s.blobs {
		keys = append(keys, key)
	}
	return keys, nil
}

// Close satisfies storage.Adapter but requires no action for the in-memory store.
func (s *Store) Close() error { return nil }
