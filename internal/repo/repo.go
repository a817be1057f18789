// Package repo implements the single in-process owner of all live
// documents: brokering loads, creates, and deletes, throttling write-back
// to storage, and dispatching change events to subscribers (spec.md §4.3).
package repo

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/grovefs/grovefs/internal/crdt"
	"github.com/grovefs/grovefs/internal/grovefserr"
	"github.com/grovefs/grovefs/internal/ids"
	"github.com/grovefs/grovefs/internal/storage"
)

// snapshotKey returns the [id, "snapshot"] StorageKey a document's full
// state is persisted under.
func snapshotKey(id ids.DocumentId) storage.Key {
	k, _ := storage.NewKey(id.String(), storage.SnapshotCategory)
	return k
}

// Broadcaster is implemented by the sync engine's network binding. The
// repository calls Broadcast after every successful local mutation; it is
// the repository's only coupling to the network layer, kept as an
// interface to avoid an import cycle.
type Broadcaster interface {
	Broadcast(id ids.DocumentId, block *crdt.Block)
}

// ThrottleConfig controls the write-back debounce window (spec.md §4.3:
// "default 100ms leading-edge + 1s trailing-edge").
type ThrottleConfig struct {
	Leading  time.Duration
	Trailing time.Duration
}

// DefaultThrottleConfig returns the spec-mandated debounce window.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{Leading: 100 * time.Millisecond, Trailing: time.Second}
}

// Repository owns every live Handle for a process, brokering loads via the
// storage adapter (and, once bound, the network layer), coordinating
// throttled write-back, and dispatching change notifications.
type Repository struct {
	actor    string
	storage  storage.Adapter
	throttle ThrottleConfig

	mu      sync.Mutex
	handles map[ids.DocumentId]*Handle
	pending map[ids.DocumentId]*writeback

	group singleflight.Group

	broadcastMu sync.RWMutex
	broadcaster Broadcaster

	fetchMu sync.RWMutex
	fetch   func(ctx context.Context, id ids.DocumentId) (*crdt.Document, bool, error)
}

type writeback struct {
	leading  *time.Timer
	trailing *time.Timer
}

// New creates a Repository backed by adapter. actor identifies this
// process as a CRDT author across every document it creates or mutates.
func New(actor string, adapter storage.Adapter, opts ...Option) *Repository {
	r := &Repository{
		actor:    actor,
		storage:  adapter,
		throttle: DefaultThrottleConfig(),
		handles:  make(map[ids.DocumentId]*Handle),
		pending:  make(map[ids.DocumentId]*writeback),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Option configures a Repository at construction time.
type Option func(*Repository)

// WithThrottle overrides the default write-back debounce window.
func WithThrottle(cfg ThrottleConfig) Option {
	return func(r *Repository) { r.throttle = cfg }
}

// SetBroadcaster registers the network binding used to propagate locally
// committed blocks to peers. Nil disables broadcasting.
func (r *Repository) SetBroadcaster(b Broadcaster) {
	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()
	r.broadcaster = b
}

// SetFetcher registers a fallback used when a document is not found in
// storage, e.g. the sync engine's "ask every connected peer" path. Nil
// means a storage miss goes straight to unavailable.
func (r *Repository) SetFetcher(fn func(ctx context.Context, id ids.DocumentId) (*crdt.Document, bool, error)) {
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()
	r.fetch = fn
}

func (r *Repository) broadcast(id ids.DocumentId, block *crdt.Block) {
	r.broadcastMu.RLock()
	b := r.broadcaster
	r.broadcastMu.RUnlock()
	if b != nil {
		b.Broadcast(id, block)
	}
}

// Find returns the handle for id, loading it from storage (and, if
// registered, the network fetcher) in the background if not already live.
// The returned handle may still be loading; call WhenReady to await it.
func (r *Repository) Find(ctx context.Context, id ids.DocumentId) (*Handle, error) {
	if !id.Valid() {
		return nil, grovefserr.New(grovefserr.InvalidPath, "invalid document id %q", id)
	}

	r.mu.Lock()
	if h, ok := r.handles[id]; ok {
		r.mu.Unlock()
		return h, nil
	}
	h := newHandle(id, r)
	r.handles[id] = h
	r.mu.Unlock()

	go r.load(context.WithoutCancel(ctx), h)
	return h, nil
}

func (r *Repository) load(ctx context.Context, h *Handle) {
	_, err, _ := r.group.Do(h.id.String(), func() (any, error) {
		data, ok, err := r.storage.Load(ctx, snapshotKey(h.id))
		if err != nil {
			return nil, err
		}
		if ok {
			doc, err := crdt.Hydrate(h.id, r.actor, data)
			if err != nil {
				return nil, err
			}
			h.markReady(doc)
			return nil, nil
		}

		r.fetchMu.RLock()
		fetch := r.fetch
		r.fetchMu.RUnlock()
		if fetch != nil {
			doc, found, ferr := fetch(ctx, h.id)
			if ferr == nil && found {
				h.markReady(doc)
				return nil, nil
			}
		}

		h.markUnavailable(grovefserr.New(grovefserr.NotFound, "document %s not found in storage or via any peer", h.id))
		return nil, nil
	})
	if err != nil {
		log.Printf("[repo] load %s failed: %v", h.id, err)
		h.markUnavailable(grovefserr.Wrap(grovefserr.StorageError, err, "load document %s", h.id))
	}
}

// Create allocates a fresh DocumentId and returns a ready handle. If
// initial is an object, its top-level fields are applied as the first change
// block so storage and peers see a non-empty document immediately.
func (r *Repository) Create(ctx context.Context, initial crdt.Value) (*Handle, error) {
	return r.CreateWithID(ctx, ids.NewDocumentId(), initial)
}

// CreateWithID is Create with a caller-supplied id; it fails with
// IDConflict if the id is already live or already persisted. A handle whose
// load gave up as unavailable does not count as live and is replaced.
func (r *Repository) CreateWithID(ctx context.Context, id ids.DocumentId, initial crdt.Value) (*Handle, error) {
	r.mu.Lock()
	if existing, ok := r.handles[id]; ok {
		if unavailable, _ := existing.IsUnavailable(); !unavailable {
			r.mu.Unlock()
			return nil, grovefserr.New(grovefserr.IDConflict, "document %s already exists", id)
		}
	}
	if _, ok, err := r.storage.Load(ctx, snapshotKey(id)); err == nil && ok {
		r.mu.Unlock()
		return nil, grovefserr.New(grovefserr.IDConflict, "document %s already exists", id)
	}
	h := newHandle(id, r)
	r.handles[id] = h
	r.mu.Unlock()

	doc := crdt.New(id, r.actor)
	h.markReady(doc)

	if initial.Kind == crdt.KindObject {
		if _, err := h.Change(func(m *crdt.MutableView) error {
			for _, field := range initial.ObjectKeys() {
				m.Set(field, initial.Object[field])
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// EnsureRemote returns a ready handle for id, promoting it to an empty
// document in place if it could not be loaded from storage or any
// registered fetcher. The sync engine calls this before absorbing a
// remote block for a document id it is learning about for the first time
// (spec.md §4.1, §4.7).
func (r *Repository) EnsureRemote(ctx context.Context, id ids.DocumentId) (*Handle, error) {
	h, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if werr := h.WhenReady(ctx); werr != nil {
		h.promoteEmpty(r.actor)
	}
	return h, nil
}

// Handles returns a snapshot of every currently live document id. The sync
// engine uses this to bootstrap a newly connected peer with every document
// this process already holds in memory (spec.md §4.7).
func (r *Repository) Handles() []ids.DocumentId {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ids.DocumentId, 0, len(r.handles))
	for id := range r.handles {
		out = append(out, id)
	}
	return out
}

// Delete removes all local storage for id and its live handle, if any.
// This is a local-only operation; peers are not compelled to delete.
func (r *Repository) Delete(ctx context.Context, id ids.DocumentId) error {
	r.mu.Lock()
	delete(r.handles, id)
	delete(r.pending, id)
	r.mu.Unlock()

	prefix, _ := storage.NewKey(id.String())
	if err := r.storage.RemoveRange(ctx, prefix); err != nil {
		return grovefserr.Wrap(grovefserr.StorageError, err, "delete document %s", id)
	}
	return nil
}

// scheduleWriteback debounces a snapshot save for id: leading-edge fires
// promptly after the first change in a quiet period, trailing-edge
// coalesces a burst and fires once after it settles.
func (r *Repository) scheduleWriteback(id ids.DocumentId) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wb, ok := r.pending[id]; ok {
		if wb.trailing != nil {
			wb.trailing.Stop()
		}
		wb.trailing = time.AfterFunc(r.throttle.Trailing, func() { r.flushOne(id) })
		return
	}

	wb := &writeback{}
	wb.leading = time.AfterFunc(r.throttle.Leading, func() { r.flushOne(id) })
	r.pending[id] = wb
}

func (r *Repository) flushOne(id ids.DocumentId) {
	r.mu.Lock()
	h, ok := r.handles[id]
	delete(r.pending, id)
	r.mu.Unlock()
	if !ok || !h.IsReady() {
		return
	}

	data, err := h.doc.MarshalSnapshot()
	if err != nil {
		log.Printf("[repo] marshal snapshot %s: %v", id, err)
		return
	}
	if err := r.storage.Save(context.Background(), snapshotKey(id), data); err != nil {
		log.Printf("[repo] write-back %s failed: %v", id, err)
	}
}

// Flush drains every pending write-back synchronously, e.g. on shutdown.
func (r *Repository) Flush(ctx context.Context) error {
	r.mu.Lock()
	pendingIDs := make([]ids.DocumentId, 0, len(r.pending))
	for id, wb := range r.pending {
		if wb.leading != nil {
			wb.leading.Stop()
		}
		if wb.trailing != nil {
			wb.trailing.Stop()
		}
		pendingIDs = append(pendingIDs, id)
	}
	r.pending = make(map[ids.DocumentId]*writeback)
	handles := r.handles
	r.mu.Unlock()

	var firstErr error
	for _, id := range pendingIDs {
		h, ok := handles[id]
		if !ok || !h.IsReady() {
			continue
		}
		data, err := h.doc.MarshalSnapshot()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := r.storage.Save(ctx, snapshotKey(id), data); err != nil {
			if firstErr == nil {
				firstErr = grovefserr.Wrap(grovefserr.StorageError, err, "flush document %s", id)
			}
		}
	}
	return firstErr
}

// Stats reports introspection counters used by operational tooling
// (supplemented feature: mirrors the teacher's Worker.Running/LastSync
// pattern for a "serve --debug-stats" status line).
type Stats struct {
	Live             int
	PendingWriteback int
	Unavailable      int
}

// Stats snapshots the repository's current live-handle bookkeeping.
func (r *Repository) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{Live: len(r.handles), PendingWriteback: len(r.pending)}
	for _, h := range r.handles {
		if unavailable, _ := h.IsUnavailable(); unavailable {
			s.Unavailable++
		}
	}
	return s
}
