package storage_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"pkt.systems/paird/internal/storage"
	"pkt.systems/paird/internal/storage/memory"
)

func TestWithPrefixScopesKeys(t *testing.T) {
	base := memory.New()
	ctx := context.Background()
	view := storage.WithPrefix(base, "sess-1")

	if err := view.Write(ctx, "creds.json", []byte("a")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := base.Write(ctx, "sess-2/creds.json", []byte("b")); err != nil {
		t.Fatalf("write other session: %v", err)
	}

	got, err := base.Read(ctx, "sess-1/creds.json")
	if err != nil || string(got) != "a" {
		t.Fatalf("expected prefixed key in base, got %q err %v", got, err)
	}
	got, err = view.Read(ctx, "creds.json")
	if err != nil || string(got) != "a" {
		t.Fatalf("expected trimmed read through view, got %q err %v", got, err)
	}

	keys, err := view.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 1 || keys[0] != "creds.json" {
		t.Fatalf("expected only scoped keys, got %v", keys)
	}

	if err := view.Remove(ctx, "creds.json"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := base.Read(ctx, "sess-1/creds.json"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected key removed from base, got %v", err)
	}
	if _, err := base.Read(ctx, "sess-2/creds.json"); err != nil {
		t.Fatalf("other session must survive, got %v", err)
	}
}

func TestWithPrefixEmptyReturnsBase(t *testing.T) {
	base := memory.New()
	if storage.WithPrefix(base, "") != base {
		t.Fatalf("expected base adapter for empty prefix")
	}
	if storage.WithPrefix(base, "//") != base {
		t.Fatalf("expected base adapter for slash-only prefix")
	}
}

func TestWithPrefixCloseIsNoop(t *testing.T) {
	base := memory.New()
	ctx := context.Background()
	view := storage.WithPrefix(base, "sess-1")
	if err := view.Close(); err != nil {
		t.Fatalf("close view: %v", err)
	}
	if err := base.Write(ctx, "k", []byte("x")); err != nil {
		t.Fatalf("base must stay usable after view close: %v", err)
	}
}
