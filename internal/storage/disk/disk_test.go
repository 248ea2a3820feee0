package disk

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"pkt.systems/paird/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestDiskRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Read(ctx, "creds.json"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	payload := []byte(`{"registered":true}`)
	if err := store.Write(ctx, "creds.json", payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := store.Read(ctx, "creds.json")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("unexpected payload %q", got)
	}
	if err := store.Remove(ctx, "creds.json"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove(ctx, "creds.json"); err != nil {
		t.Fatalf("expected idempotent remove, got %v", err)
	}
}

func TestDiskListSkipsTempDir(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, key := range []string{"creds.json", "key-1.json"} {
		if err := store.Write(ctx, key, []byte("x")); err != nil {
			t.Fatalf("write %s: %v", key, err)
		}
	}
	if err := os.WriteFile(filepath.Join(store.tmpDir, "blob-leftover"), []byte("x"), 0o600); err != nil {
		t.Fatalf("plant temp file: %v", err)
	}
	keys, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "creds.json" || keys[1] != "key-1.json" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestDiskNestedKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Write(ctx, "sess-1/creds.json", []byte("x")); err != nil {
		t.Fatalf("write nested: %v", err)
	}
	keys, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0] != "sess-1/creds.json" {
		t.Fatalf("expected slash-separated key, got %v", keys)
	}
}

func TestDiskRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, key := range []string{"../escape", "/abs/path", ""} {
		if err := store.Write(ctx, key, []byte("x")); err == nil {
			t.Fatalf("expected rejection for key %q", key)
		}
	}
}
