// Package storage defines the adapter contract every session-material
// backend implements. Keys are opaque strings, values are opaque byte
// blobs; there is no ordering or transactional guarantee across keys.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound indicates the requested key is missing.
var ErrNotFound = errors.New("storage: not found")

// Adapter is the uniform key/value-with-listing contract the credential
// store and upload pipeline are written against. Writing an existing key
// overwrites it atomically from the caller's perspective; Remove on an
// absent key succeeds.
type Adapter interface {
	// Read returns the blob stored under key, or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)
	// Write stores data under key, replacing any previous value.
	Write(ctx context.Context, key string, data []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// List enumerates every existing key in no particular order.
	List(ctx context.Context) ([]string, error)
	// Close releases backend resources.
	Close() error
}

type transientError struct {
	err error
}

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

// NewTransientError marks err as retryable.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked as retryable.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}
