// Package credstore bridges the protocol client's credential and
// key-material files onto a storage adapter. The client expects "load my
// files" on startup and "persist whatever changed" on every mutation
// notification; both are expressed against storage.Adapter only.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"pkt.systems/pslog"

	"pkt.systems/paird/internal/loggingutil"
	"pkt.systems/paird/internal/storage"
)

const (
	// CredsKey is the well-known key holding the registration record.
	CredsKey = "creds.json"
	// KeyPrefix namespaces key-material entries within the adapter.
	KeyPrefix = "key-"
	keySuffix = ".json"
)

// Credentials is the protocol client's registration record. The identity
// material is opaque to us; only the registration flag is inspected.
type Credentials struct {
	Registered   bool            `json:"registered"`
	Identity     json.RawMessage `json:"identity,omitempty"`
	Registration json.RawMessage `json:"registration,omitempty"`
}

// Bundle is the in-memory credential state owned by exactly one
// connection lifecycle manager for the duration of one pairing attempt.
// The protocol client mutates it from its own goroutines, so every field
// lives behind the bundle lock.
type Bundle struct {
	mu    sync.RWMutex
	creds Credentials
	keys  map[string][]byte
}

// NewBundle returns an empty, unregistered bundle.
func NewBundle() *Bundle {
	return &Bundle{keys: make(map[string][]byte)}
}

// Registered reports the registration flag.
func (b *Bundle) Registered() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.creds.Registered
}

// SetRegistered flips the registration flag.
func (b *Bundle) SetRegistered(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creds.Registered = v
}

// Credentials returns a snapshot of the registration record.
func (b *Bundle) Credentials() Credentials {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.creds
}

// SetCredentials replaces the registration record.
func (b *Bundle) SetCredentials(creds Credentials) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creds = creds
}

// Key returns the key material stored under id.
func (b *Bundle) Key(id string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.keys[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// SetKey stores key material under id, replacing any previous value.
func (b *Bundle) SetKey(id string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.keys == nil {
		b.keys = make(map[string][]byte)
	}
	b.keys[id] = append([]byte(nil), data...)
}

// KeyIDs reports the ids of all stored key material.
func (b *Bundle) KeyIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.keys))
	for id := range b.keys {
		ids = append(ids, id)
	}
	return ids
}

// Update names what changed in a bundle. Save persists only the named
// entries, never a full rewrite.
type Update struct {
	// Creds marks the registration record dirty.
	Creds bool
	// KeyIDs lists the key-material entries that changed.
	KeyIDs []string
}

type keyEntry struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

// Store loads and saves credential bundles through a storage adapter.
type Store struct {
	adapter storage.Adapter
	logger  pslog.Logger
	writeMu sync.Mutex
}

// New constructs a Store over adapter.
func New(adapter storage.Adapter, logger pslog.Logger) *Store {
	return &Store{
		adapter: adapter,
		logger:  loggingutil.WithSubsystem(logger, "credstore"),
	}
}

// Load reads the credential bundle from the adapter. A missing creds key
// yields a fresh unregistered bundle. Key-material entries are decoded
// independently: a corrupt entry is logged and skipped, never aborting
// the rest of the bundle.
func (s *Store) Load(ctx context.Context) (*Bundle, error) {
	bundle := NewBundle()
	data, err := s.adapter.Read(ctx, CredsKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Fresh session: registration flag stays unset.
	case err != nil:
		return nil, fmt.Errorf("credstore: load %s: %w", CredsKey, err)
	default:
		var creds Credentials
		if err := json.Unmarshal(data, &creds); err != nil {
			return nil, fmt.Errorf("credstore: decode %s: %w", CredsKey, err)
		}
		bundle.SetCredentials(creds)
	}

	keys, err := s.adapter.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("credstore: list keys: %w", err)
	}
	for _, key := range keys {
		id, ok := keyID(key)
		if !ok {
			continue
		}
		payload, err := s.adapter.Read(ctx, key)
		if err != nil {
			s.logger.Warn("credstore.load.key_read_failed", "key", key, "error", err)
			continue
		}
		var entry keyEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			s.logger.Warn("credstore.load.key_decode_failed", "key", key, "error", err)
			continue
		}
		if entry.ID == "" {
			entry.ID = id
		}
		bundle.SetKey(entry.ID, entry.Data)
	}
	return bundle, nil
}

// Save persists the entries named by update. It is invoked on every
// credential-mutation notification from the protocol client, so it holds
// the event source for at most one write's latency per entry.
func (s *Store) Save(ctx context.Context, bundle *Bundle, update Update) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if update.Creds {
		data, err := json.Marshal(bundle.Credentials())
		if err != nil {
			return fmt.Errorf("credstore: encode %s: %w", CredsKey, err)
		}
		if err := s.write(ctx, CredsKey, data); err != nil {
			return err
		}
	}
	for _, id := range update.KeyIDs {
		material, ok := bundle.Key(id)
		if !ok {
			s.logger.Warn("credstore.save.unknown_key", "id", id)
			continue
		}
		data, err := json.Marshal(keyEntry{ID: id, Data: material})
		if err != nil {
			return fmt.Errorf("credstore: encode key %s: %w", id, err)
		}
		if err := s.write(ctx, keyName(id), data); err != nil {
			return err
		}
	}
	return nil
}

// write retries a single failing key once when the backend marks the
// failure as transient; anything else surfaces immediately.
func (s *Store) write(ctx context.Context, key string, data []byte) error {
	err := s.adapter.Write(ctx, key, data)
	if err == nil {
		return nil
	}
	if !storage.IsTransient(err) {
		return fmt.Errorf("credstore: write %s: %w", key, err)
	}
	s.logger.Warn("credstore.write.retry", "key", key, "error", err)
	if err := s.adapter.Write(ctx, key, data); err != nil {
		return fmt.Errorf("credstore: write %s: %w", key, err)
	}
	return nil
}

// Wipe removes the session's entire credential footprint from the
// adapter, used during cleanup after a session is archived.
func (s *Store) Wipe(ctx context.Context) error {
	keys, err := s.adapter.List(ctx)
	if err != nil {
		return fmt.Errorf("credstore: list for wipe: %w", err)
	}
	var firstErr error
	for _, key := range keys {
		if err := s.adapter.Remove(ctx, key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("credstore: remove %s: %w", key, err)
		}
	}
	return firstErr
}

func keyName(id string) string {
	return KeyPrefix + id + keySuffix
}

func keyID(key string) (string, bool) {
	if !strings.HasPrefix(key, KeyPrefix) || !strings.HasSuffix(key, keySuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, KeyPrefix), keySuffix)
	if id == "" {
		return "", false
	}
	return id, true
}
