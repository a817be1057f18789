// Package reactive implements the reactive-state contract (spec.md §6): a
// caller registers an external store at a VFS path, and the engine keeps it
// mirrored bidirectionally against the document's content through the same
// minimal-diff path vfs.VFS.UpdateFile already uses.
package reactive

import (
	"context"
	"sync"

	"github.com/grovefs/grovefs/internal/crdt"
	"github.com/grovefs/grovefs/internal/grovefserr"
	"github.com/grovefs/grovefs/internal/repo"
	"github.com/grovefs/grovefs/internal/vfs"
)

// Store is an external, UI-layer state container a Mirror keeps in sync with
// a document's content. Load/Store access the store's current value; the
// callback passed to Subscribe is invoked for every local change the store
// itself originates (e.g. a UI edit), and Subscribe must be called exactly
// once per Store.
type Store interface {
	Load() crdt.Value
	Store(crdt.Value)
	Subscribe(func(crdt.Value)) (unsubscribe func())
}

// VFS is the subset of *vfs.VFS (or *engine.Engine, which mirrors the same
// signatures gated by readiness) a Mirror binds against.
type VFS interface {
	ReadFile(ctx context.Context, path string) (*vfs.Entry, error)
	UpdateFile(ctx context.Context, path string, content crdt.Value, data []byte) (bool, error)
	CreateFile(ctx context.Context, path string, content crdt.Value, data []byte) error
	WatchFile(ctx context.Context, path string, cb func(*vfs.Entry)) (*repo.Watcher, error)
}

// Mirror is one active binding between a Store and a document path. Close
// tears down both directions of the mirror.
type Mirror struct {
	unsubscribeStore func()
	watcher          *repo.Watcher

	mu        sync.Mutex
	applying  bool // true while a remote→store or store→remote propagation is in flight
	lastValue crdt.Value
}

// Bind registers store at path: it seeds the store from the document's
// current content if the document already exists (creating it from the
// store's current value otherwise), then wires both propagation directions. The returned Mirror
// must be Close()'d when the binding is no longer needed.
func Bind(ctx context.Context, fs VFS, path string, store Store) (*Mirror, error) {
	entry, err := fs.ReadFile(ctx, path)
	if err != nil {
		if kind, ok := grovefserr.Of(err); !ok || kind != grovefserr.NotFound {
			return nil, err
		}
		if err := fs.CreateFile(ctx, path, store.Load(), nil); err != nil {
			return nil, err
		}
		entry = &vfs.Entry{Content: store.Load()}
	}

	m := &Mirror{lastValue: entry.Content}
	store.Store(entry.Content)

	watcher, err := fs.WatchFile(ctx, path, func(next *vfs.Entry) {
		m.mu.Lock()
		if m.applying || crdt.Equal(m.lastValue, next.Content) {
			m.mu.Unlock()
			return
		}
		m.applying = true
		m.lastValue = next.Content
		m.mu.Unlock()

		store.Store(next.Content)

		m.mu.Lock()
		m.applying = false
		m.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	m.watcher = watcher

	m.unsubscribeStore = store.Subscribe(func(next crdt.Value) {
		m.mu.Lock()
		if m.applying || crdt.Equal(m.lastValue, next) {
			m.mu.Unlock()
			return
		}
		m.applying = true
		m.lastValue = next
		m.mu.Unlock()

		// The document may have been deleted concurrently; the watcher's
		// unavailable termination is the authoritative signal for that case,
		// so a failed write-back here is not separately retried.
		_, _ = fs.UpdateFile(ctx, path, next, nil)

		m.mu.Lock()
		m.applying = false
		m.mu.Unlock()
	})

	return m, nil
}

// Close stops both propagation directions. Safe to call more than once.
func (m *Mirror) Close() {
	if m.unsubscribeStore != nil {
		m.unsubscribeStore()
		m.unsubscribeStore = nil
	}
	if m.watcher != nil {
		m.watcher.Stop()
		m.watcher = nil
	}
}
