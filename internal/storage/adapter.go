// Package storage implements the persistence layer for change blocks:
// the Key addressing scheme and the Adapter variants (in-memory, sqlite,
// bundle-backed) documents are loaded from and saved to (spec.md §4.2).
package storage

import "context"

// Entry pairs a Key with its stored bytes, returned by LoadRange.
type Entry struct {
	Key   Key
	Value []byte
}

// Adapter persists change blocks addressed by Key. Implementations must be
// safe for concurrent use and must agree on Key.Canonical() so a bundle
// exported from one adapter imports cleanly into another.
type Adapter interface {
	// Load returns the bytes stored at key, or ok=false if absent.
	Load(ctx context.Context, key Key) (data []byte, ok bool, err error)

	// Save persists data at key, overwriting any existing value. On a
	// persistent backend the write is durable before Save returns.
	Save(ctx context.Context, key Key, data []byte) error

	// Remove deletes key if present; removing an absent key is a no-op.
	Remove(ctx context.Context, key Key) error

	// LoadRange returns every entry whose key has prefix as a component-wise
	// prefix, in canonical-key sorted order, a stable, deterministic view
	// relative to concurrent writes from the same process.
	LoadRange(ctx context.Context, prefix Key) ([]Entry, error)

	// RemoveRange deletes every entry under prefix.
	RemoveRange(ctx context.Context, prefix Key) error

	// Close releases any resources held by the adapter.
	Close() error
}
