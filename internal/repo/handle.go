package repo

import (
	"context"
	"sync"

	"github.com/grovefs/grovefs/internal/crdt"
	"github.com/grovefs/grovefs/internal/grovefserr"
	"github.com/grovefs/grovefs/internal/ids"
)

// Handle is the repository's single in-process owner of one document's
// live state. A handle is either *ready* (the document value is available)
// or *loading* (pending a storage/network fetch); callers await readiness
// via WhenReady (spec.md §4.3, §5).
type Handle struct {
	id   ids.DocumentId
	repo *Repository

	mu          sync.Mutex
	doc         *crdt.Document
	ready       bool
	readyCh     chan struct{}
	unavailable bool
	unavailErr  error

	callbacks map[int]func(crdt.Value)
	watchers  map[int]*Watcher
	nextSubID int
}

func newHandle(id ids.DocumentId, repo *Repository) *Handle {
	return &Handle{
		id:        id,
		repo:      repo,
		readyCh:   make(chan struct{}),
		callbacks: make(map[int]func(crdt.Value)),
		watchers:  make(map[int]*Watcher),
	}
}

// ID returns the document identifier this handle owns.
func (h *Handle) ID() ids.DocumentId { return h.id }

// IsReady reports whether the document's value is currently available.
func (h *Handle) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// IsUnavailable reports whether the handle gave up trying to load the
// document, and if so, the error that caused it.
func (h *Handle) IsUnavailable() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unavailable, h.unavailErr
}

// WhenReady blocks until the handle becomes ready, becomes unavailable, or
// ctx is done, whichever happens first.
func (h *Handle) WhenReady(ctx context.Context) error {
	h.mu.Lock()
	if h.ready {
		h.mu.Unlock()
		return nil
	}
	if h.unavailable {
		err := h.unavailErr
		h.mu.Unlock()
		return err
	}
	ch := h.readyCh
	h.mu.Unlock()

	select {
	case <-ch:
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.unavailable {
			return h.unavailErr
		}
		return nil
	case <-ctx.Done():
		return grovefserr.Wrap(grovefserr.Timeout, ctx.Err(), "waiting for document %s to become ready", h.id)
	}
}

// Document returns the underlying CRDT document kernel, for use by the
// sync engine's sync-message generation and absorption (spec.md §4.1,
// §4.7). Only meaningful once IsReady() is true.
func (h *Handle) Document() *crdt.Document {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc
}

// Value returns the document's current folded value. It is only meaningful
// once IsReady() is true; callers not holding that guarantee should go
// through WhenReady first.
func (h *Handle) Value() crdt.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.doc == nil {
		return crdt.Null()
	}
	return h.doc.Value()
}

// Change applies a local mutation, notifies subscribers, schedules a
// throttled write-back, and hands the resulting block to the repository's
// broadcaster (if any) for propagation to peers. Subscribers observe the
// new value before this call returns (spec.md §5: "observed by local
// watchers before storage flush completes").
func (h *Handle) Change(mutator crdt.Mutator) (*crdt.Block, error) {
	h.mu.Lock()
	if !h.ready {
		h.mu.Unlock()
		return nil, grovefserr.New(grovefserr.NotReady, "document %s is not ready", h.id)
	}
	doc := h.doc
	h.mu.Unlock()

	value, block, err := doc.ApplyLocal(mutator)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, nil
	}

	h.notify(value)
	h.repo.scheduleWriteback(h.id)
	h.repo.broadcast(h.id, block)
	return block, nil
}

// ApplyRemoteBlock merges a remote change block, e.g. one absorbed from a
// sync message, and notifies subscribers exactly as Change does.
func (h *Handle) ApplyRemoteBlock(block *crdt.Block) error {
	h.mu.Lock()
	if !h.ready {
		h.mu.Unlock()
		return grovefserr.New(grovefserr.NotReady, "document %s is not ready", h.id)
	}
	doc := h.doc
	h.mu.Unlock()

	value, err := doc.ApplyRemote(block)
	if err != nil {
		return err
	}
	h.notify(value)
	h.repo.scheduleWriteback(h.id)
	return nil
}

// OnChange subscribes cb to every future value change and returns a Watcher
// the caller can Stop(). Callbacks must be cheap and non-blocking: a slow
// callback only delays further notifications for this document. If the
// document is already unavailable, the returned watcher is handed back
// pre-terminated (spec.md §7: a watcher attached after its document has
// already given up is still notified, not silently left dangling).
func (h *Handle) OnChange(cb func(crdt.Value)) *Watcher {
	h.mu.Lock()
	id := h.nextSubID
	h.nextSubID++

	w := &Watcher{handle: h, id: id}
	if h.unavailable {
		w.stopped = true
		w.err = h.unavailErr
		h.mu.Unlock()
		return w
	}

	h.callbacks[id] = cb
	h.watchers[id] = w
	h.mu.Unlock()

	return w
}

func (h *Handle) notify(value crdt.Value) {
	h.mu.Lock()
	cbs := make([]func(crdt.Value), 0, len(h.callbacks))
	for _, cb := range h.callbacks {
		cbs = append(cbs, cb)
	}
	h.mu.Unlock()

	for _, cb := range cbs {
		cb(value)
	}
}

func (h *Handle) stopWatch(id int) {
	h.mu.Lock()
	delete(h.callbacks, id)
	delete(h.watchers, id)
	h.mu.Unlock()
}

func (h *Handle) markReady(doc *crdt.Document) {
	h.mu.Lock()
	h.doc = doc
	h.ready = true
	ch := h.readyCh
	h.mu.Unlock()
	close(ch)
}

// promoteEmpty turns an unavailable handle into a ready, empty document.
// The sync engine uses this when it receives a remote change block for a
// document it could not load from storage or any fetcher: apply_remote
// must succeed even when the document itself was previously unknown
// locally (spec.md §4.1). A no-op if the handle is already ready.
func (h *Handle) promoteEmpty(actor string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ready {
		return
	}
	h.doc = crdt.New(h.id, actor)
	h.ready = true
	h.unavailable = false
	h.unavailErr = nil
}

// markUnavailable gives up on loading the document and terminates every
// watcher currently attached to it with reason err (spec.md §7: "a watcher
// whose underlying document becomes unavailable is notified via stop() with
// a reason of unavailable (terminal)"). A no-op if the handle is already
// ready or already unavailable.
func (h *Handle) markUnavailable(err error) {
	h.mu.Lock()
	if h.ready || h.unavailable {
		h.mu.Unlock()
		return
	}
	h.unavailable = true
	h.unavailErr = err
	ch := h.readyCh
	watchers := make([]*Watcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		watchers = append(watchers, w)
	}
	h.mu.Unlock()
	close(ch)

	for _, w := range watchers {
		w.terminate(err)
	}
}

// Watcher is a live subscription to a Handle's changes. Stop is idempotent
// and synchronous: once it returns, no further callbacks are delivered.
type Watcher struct {
	handle  *Handle
	id      int
	mu      sync.Mutex
	stopped bool
	err     error
}

// Stop cancels the subscription. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()
	w.handle.stopWatch(w.id)
}

// Err returns the reason the watcher stopped, if it was terminated due to
// the underlying document becoming unavailable rather than a caller-issued
// Stop(). Nil until the watcher has stopped for that reason.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Watcher) terminate(reason error) {
	w.mu.Lock()
	w.stopped = true
	w.err = reason
	w.mu.Unlock()
	w.handle.stopWatch(w.id)
}
