package reactive

import (
	"sync"

	"github.com/grovefs/grovefs/internal/crdt"
)

// MemoryStore is a minimal in-process Store, useful for tests and for
// embedding grovefs in a process that has no UI-layer state container of its
// own yet. Set is how an external caller (e.g. a UI handler) pushes a local
// edit; Bind's Mirror observes it through Subscribe.
type MemoryStore struct {
	mu        sync.Mutex
	value     crdt.Value
	listeners map[int]func(crdt.Value)
	nextID    int
}

// NewMemoryStore returns a store seeded with initial.
func NewMemoryStore(initial crdt.Value) *MemoryStore {
	return &MemoryStore{value: initial, listeners: make(map[int]func(crdt.Value))}
}

// Load returns the store's current value.
func (s *MemoryStore) Load() crdt.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Store sets the store's current value without notifying local subscribers;
// a Mirror calls this when propagating a remote change inward.
func (s *MemoryStore) Store(v crdt.Value) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

// Set is the UI-layer entry point: it records v and notifies every
// subscriber, including a bound Mirror, which will propagate it to the
// document.
func (s *MemoryStore) Set(v crdt.Value) {
	s.mu.Lock()
	s.value = v
	cbs := make([]func(crdt.Value), 0, len(s.listeners))
	for _, cb := range s.listeners {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(v)
	}
}

// Subscribe implements Store.
func (s *MemoryStore) Subscribe(cb func(crdt.Value)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = cb
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}
