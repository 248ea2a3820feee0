// Package pairguard serializes pairing flows so at most one connection
// lifecycle manager runs per process. A second concurrent request waits
// for the slot instead of spawning a second protocol session.
package pairguard

import (
	"context"
	"sync"
)

// Guard is a one-slot, context-aware mutex. The zero value is not
// usable; construct with New.
type Guard struct {
	slot chan struct{}
}

// New returns an unheld guard.
func New() *Guard {
	return &Guard{slot: make(chan struct{}, 1)}
}

// Acquire blocks until the slot is free or ctx is done. The returned
// release func is idempotent, so deferred and explicit releases on
// different error paths cannot double-free the slot.
func (g *Guard) Acquire(ctx context.Context) (func(), error) {
	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-g.slot })
	}, nil
}

// TryAcquire takes the slot without blocking. ok is false when another
// flow holds it.
func (g *Guard) TryAcquire() (release func(), ok bool) {
	select {
	case g.slot <- struct{}{}:
	default:
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-g.slot })
	}, true
}

// Held reports whether the slot is currently taken. Diagnostic only; the
// answer may be stale by the time the caller acts on it.
func (g *Guard) Held() bool {
	return len(g.slot) > 0
}
