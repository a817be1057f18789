// Package engine is the sync engine: the lifecycle owner that binds a
// repository, a storage adapter, and zero or more network adapters behind
// a single readiness signal and the VFS facade (spec.md §4.7).
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grovefs/grovefs/internal/bundle"
	"github.com/grovefs/grovefs/internal/crdt"
	"github.com/grovefs/grovefs/internal/grovefserr"
	"github.com/grovefs/grovefs/internal/ids"
	"github.com/grovefs/grovefs/internal/network"
	"github.com/grovefs/grovefs/internal/repo"
	"github.com/grovefs/grovefs/internal/storage"
	"github.com/grovefs/grovefs/internal/tree"
	"github.com/grovefs/grovefs/internal/vfs"
)

// State is one of the three lifecycle stages spec.md §4.7 names.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
)

// rootMetaKey is the reserved storage key a persistent adapter's root id
// is recorded under, so a fresh process can rediscover it on startup
// without a bundle (spec.md §4.7 "search for a persisted root id").
var rootMetaKey = mustKey("_meta", "root")

func mustKey(components ...string) storage.Key {
	k, err := storage.NewKey(components...)
	if err != nil {
		panic(err)
	}
	return k
}

// DefaultReadyTimeout is the bound spec.md §4.7 mandates for operations
// submitted before readiness: "queued (for a bounded time, default 10s) or
// rejected with NotReady".
const DefaultReadyTimeout = 10 * time.Second

// Engine owns one repository, one storage adapter, and any number of
// network bindings, and exposes the VFS facade over them gated by a
// one-shot readiness latch (spec.md §4.7, §5 "readiness barrier").
type Engine struct {
	actor        string
	readyTimeout time.Duration
	repoOpts     []repo.Option

	mu      sync.Mutex
	state   State
	storage storage.Adapter
	repo    *repo.Repository
	tree    *tree.Tree
	vfs     *vfs.VFS
	rootID  ids.DocumentId
	readyCh chan struct{}

	netsMu sync.RWMutex
	nets   []*netBinding

	peerMu     sync.Mutex
	peerStates map[ids.DocumentId]map[network.PeerID]*crdt.PeerState
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithActor overrides the random default actor id used to author local
// CRDT blocks. Actors should be stable for a process's lifetime.
func WithActor(actor string) Option {
	return func(e *Engine) { e.actor = actor }
}

// WithReadyTimeout overrides DefaultReadyTimeout.
func WithReadyTimeout(d time.Duration) Option {
	return func(e *Engine) { e.readyTimeout = d }
}

// WithRepoOptions passes additional repo.Option values (e.g. a custom
// write-back throttle) through to the underlying Repository.
func WithRepoOptions(opts ...repo.Option) Option {
	return func(e *Engine) { e.repoOpts = append(e.repoOpts, opts...) }
}

// New constructs an Engine bound to adapter, in StateUninitialized until
// Start, CreateRoot, or LoadBundle brings it to readiness.
func New(adapter storage.Adapter, opts ...Option) *Engine {
	e := &Engine{
		actor:        uuid.New().String(),
		readyTimeout: DefaultReadyTimeout,
		state:        StateUninitialized,
		storage:      adapter,
		readyCh:      make(chan struct{}),
		peerStates:   make(map[ids.DocumentId]map[network.PeerID]*crdt.PeerState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State reports the engine's current lifecycle stage.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RootID returns the engine's root document id. Only meaningful once the
// engine has left StateUninitialized.
func (e *Engine) RootID() ids.DocumentId {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rootID
}

// Start attempts to hydrate the engine from a previously persisted root id
// in the storage adapter. If none is found the engine remains
// uninitialized until CreateRoot or LoadBundle is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateUninitialized {
		e.mu.Unlock()
		return nil
	}
	e.state = StateInitializing
	e.mu.Unlock()

	data, ok, err := e.storage.Load(ctx, rootMetaKey)
	if err != nil {
		return grovefserr.Wrap(grovefserr.StorageError, err, "hydrate engine root")
	}
	if !ok {
		e.mu.Lock()
		e.state = StateUninitialized
		e.mu.Unlock()
		return nil
	}

	e.bindRoot(ids.DocumentId(data))
	e.markReady()
	log.Printf("[engine] hydrated root %s from storage", e.rootID)
	return nil
}

// CreateRoot allocates a brand-new root directory document, persists its
// id under the reserved meta key, and transitions the engine to ready. It
// fails if the engine is already initialized.
func (e *Engine) CreateRoot(ctx context.Context) (ids.DocumentId, error) {
	e.mu.Lock()
	if e.state != StateUninitialized {
		e.mu.Unlock()
		return "", grovefserr.New(grovefserr.Internal, "engine already initialized (state=%s)", e.state)
	}
	e.state = StateInitializing
	e.mu.Unlock()

	rootID := ids.NewDocumentId()
	r := e.newRepository()
	if _, err := r.CreateWithID(ctx, rootID, tree.NewDirValue("/", time.Now())); err != nil {
		e.mu.Lock()
		e.state = StateUninitialized
		e.mu.Unlock()
		return "", err
	}
	if err := r.Flush(ctx); err != nil {
		return "", err
	}
	if err := e.storage.Save(ctx, rootMetaKey, []byte(rootID.String())); err != nil {
		return "", grovefserr.Wrap(grovefserr.StorageError, err, "persist root id")
	}

	e.mu.Lock()
	e.repo = r
	e.tree = tree.New(r, rootID)
	e.vfs = vfs.New(e.tree)
	e.rootID = rootID
	e.mu.Unlock()
	e.markReady()
	log.Printf("[engine] created new root %s", rootID)
	return rootID, nil
}

// LoadBundle hydrates the engine from a bundle archive (spec.md §4.8
// import procedure): it wraps a read-only view over the archive's blocks
// in a mutable Overlay, binds a fresh repository to it, and becomes ready
// immediately. It fails if the engine is already initialized.
func (e *Engine) LoadBundle(ctx context.Context, data []byte) error {
	e.mu.Lock()
	if e.state != StateUninitialized {
		e.mu.Unlock()
		return grovefserr.New(grovefserr.Internal, "engine already initialized (state=%s)", e.state)
	}
	e.state = StateInitializing
	e.mu.Unlock()

	imported, err := bundle.Import(data)
	if err != nil {
		e.mu.Lock()
		e.state = StateUninitialized
		e.mu.Unlock()
		return err
	}

	overlay := storage.NewOverlay(imported.Storage)
	r := e.newRepositoryOn(overlay)

	e.mu.Lock()
	e.storage = overlay
	e.repo = r
	e.rootID = imported.Manifest.RootID
	e.tree = tree.New(r, e.rootID)
	e.vfs = vfs.New(e.tree)
	e.mu.Unlock()
	e.markReady()
	log.Printf("[engine] loaded bundle, root %s, manifestVersion %d", e.rootID, imported.Manifest.ManifestVersion)
	return nil
}

func (e *Engine) newRepository() *repo.Repository {
	return e.newRepositoryOn(e.storage)
}

func (e *Engine) newRepositoryOn(adapter storage.Adapter) *repo.Repository {
	r := repo.New(e.actor, adapter, e.repoOpts...)
	r.SetBroadcaster(e)
	return r
}

func (e *Engine) bindRoot(rootID ids.DocumentId) {
	r := e.newRepository()
	e.mu.Lock()
	e.repo = r
	e.rootID = rootID
	e.tree = tree.New(r, rootID)
	e.vfs = vfs.New(e.tree)
	e.mu.Unlock()
}

func (e *Engine) markReady() {
	e.mu.Lock()
	if e.state == StateReady {
		e.mu.Unlock()
		return
	}
	e.state = StateReady
	ch := e.readyCh
	e.mu.Unlock()
	close(ch)
}

// WhenReady blocks until the engine becomes ready or the given timeout (or
// ctx) elapses, whichever is first. A non-positive timeout uses the
// engine's ready timeout (DefaultReadyTimeout unless WithReadyTimeout set
// another). Expiry surfaces as NotReady, never a partial state
// (spec.md §4.7 "cold-start race").
func (e *Engine) WhenReady(ctx context.Context, timeout time.Duration) error {
	e.mu.Lock()
	ready := e.state == StateReady
	ch := e.readyCh
	e.mu.Unlock()
	if ready {
		return nil
	}

	if timeout <= 0 {
		timeout = e.readyTimeout
	}
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-ch:
		return nil
	case <-deadline.Done():
		return grovefserr.New(grovefserr.NotReady, "engine not ready after %s", timeout)
	}
}

// VFS returns the bound facade. Only valid once WhenReady has returned nil;
// callers that need the cold-start guarantee should prefer the Engine's own
// mirrored operations below, which await readiness first.
func (e *Engine) VFS() *vfs.VFS {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vfs
}

// Repo exposes the bound Repository, e.g. for Stats() introspection.
func (e *Engine) Repo() *repo.Repository {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.repo
}

// Tree exposes the bound Tree.
func (e *Engine) Tree() *tree.Tree {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree
}

// Storage exposes the bound storage.Adapter, e.g. for bundle.Export.
func (e *Engine) Storage() storage.Adapter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.storage
}

// Flush drains the repository's pending write-backs.
func (e *Engine) Flush(ctx context.Context) error {
	r := e.Repo()
	if r == nil {
		return nil
	}
	return r.Flush(ctx)
}

// Shutdown flushes the repository and disconnects every bound network
// adapter. Safe to call on an uninitialized engine.
func (e *Engine) Shutdown(ctx context.Context) error {
	if err := e.Flush(ctx); err != nil {
		log.Printf("[engine] flush on shutdown failed: %v", err)
	}
	e.netsMu.Lock()
	nets := e.nets
	e.nets = nil
	e.netsMu.Unlock()

	var firstErr error
	for _, nb := range nets {
		if err := nb.adapter.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats mirrors the teacher's Worker introspection pattern: repository
// counters plus the number of currently connected peers across every
// bound network adapter (spec.md SPEC_FULL §13.3).
type Stats struct {
	repo.Stats
	ConnectedPeers int
}

// Stats snapshots the engine's current operational counters.
func (e *Engine) Stats() Stats {
	s := Stats{}
	if r := e.Repo(); r != nil {
		s.Stats = r.Stats()
	}
	e.netsMu.RLock()
	defer e.netsMu.RUnlock()
	for _, nb := range e.nets {
		s.ConnectedPeers += nb.peerCount()
	}
	return s
}
