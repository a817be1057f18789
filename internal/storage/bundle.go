package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/grovefs/grovefs/internal/grovefserr"
)

// ReadOnly wraps a fixed snapshot of entries (e.g. parsed from a bundle
// archive) as a read-only Adapter. Writes fail with StorageError; callers
// that need a mutable bundle-backed view should wrap a ReadOnly in an
// Overlay (spec.md §4.2, §4.8).
type ReadOnly struct {
	entries map[string][]byte
}

// NewReadOnly builds a read-only adapter from a set of canonical-key to
// bytes entries, typically the blocks parsed out of a bundle archive.
func NewReadOnly(entries map[string][]byte) *ReadOnly {
	cp := make(map[string][]byte, len(entries))
	for k, v := range entries {
		cp[k] = v
	}
	return &ReadOnly{entries: cp}
}

func (r *ReadOnly) Load(_ context.Context, key Key) ([]byte, bool, error) {
	data, ok := r.entries[key.Canonical()]
	return data, ok, nil
}

func (r *ReadOnly) Save(_ context.Context, key Key, _ []byte) error {
	return grovefserr.New(grovefserr.StorageError, "cannot save %s: read-only bundle storage", key.Canonical())
}

func (r *ReadOnly) Remove(_ context.Context, key Key) error {
	return grovefserr.New(grovefserr.StorageError, "cannot remove %s: read-only bundle storage", key.Canonical())
}

func (r *ReadOnly) LoadRange(_ context.Context, prefix Key) ([]Entry, error) {
	var out []Entry
	for k, v := range r.entries {
		key := ParseKey(k)
		if prefix.IsPrefix(key) {
			out = append(out, Entry{Key: key, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Canonical() < out[j].Key.Canonical() })
	return out, nil
}

func (r *ReadOnly) RemoveRange(_ context.Context, prefix Key) error {
	return grovefserr.New(grovefserr.StorageError, "cannot remove range %s: read-only bundle storage", prefix.Canonical())
}

func (r *ReadOnly) Close() error { return nil }

// tombstone marks a key as deleted in an Overlay without touching base.
type tombstone struct{}

// Overlay layers a mutable in-memory map of writes over a read-only base
// adapter, so a bundle import can be mutated in-process without rewriting
// the archive (spec.md §4.8 "import ... wrap it in an overlay adapter").
type Overlay struct {
	base base
	mu   sync.RWMutex
	over map[string]any // []byte for a live write, tombstone{} for a deletion
}

type base interface {
	Load(ctx context.Context, key Key) ([]byte, bool, error)
	LoadRange(ctx context.Context, prefix Key) ([]Entry, error)
}

// NewOverlay wraps base in a mutable overlay.
func NewOverlay(base base) *Overlay {
	return &Overlay{base: base, over: make(map[string]any)}
}

func (o *Overlay) Load(ctx context.Context, key Key) ([]byte, bool, error) {
	o.mu.RLock()
	v, ok := o.over[key.Canonical()]
	o.mu.RUnlock()
	if ok {
		if _, deleted := v.(tombstone); deleted {
			return nil, false, nil
		}
		return v.([]byte), true, nil
	}
	return o.base.Load(ctx, key)
}

func (o *Overlay) Save(_ context.Context, key Key, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	o.mu.Lock()
	o.over[key.Canonical()] = cp
	o.mu.Unlock()
	return nil
}

func (o *Overlay) Remove(_ context.Context, key Key) error {
	o.mu.Lock()
	o.over[key.Canonical()] = tombstone{}
	o.mu.Unlock()
	return nil
}

func (o *Overlay) LoadRange(ctx context.Context, prefix Key) ([]Entry, error) {
	baseEntries, err := o.base.LoadRange(ctx, prefix)
	if err != nil {
		return nil, err
	}

	merged := make(map[string][]byte, len(baseEntries))
	for _, e := range baseEntries {
		merged[e.Key.Canonical()] = e.Value
	}

	o.mu.RLock()
	for k, v := range o.over {
		if !prefix.IsPrefix(ParseKey(k)) {
			continue
		}
		if _, deleted := v.(tombstone); deleted {
			delete(merged, k)
			continue
		}
		merged[k] = v.([]byte)
	}
	o.mu.RUnlock()

	out := make([]Entry, 0, len(merged))
	for k, v := range merged {
		out = append(out, Entry{Key: ParseKey(k), Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Canonical() < out[j].Key.Canonical() })
	return out, nil
}

func (o *Overlay) RemoveRange(ctx context.Context, prefix Key) error {
	entries, err := o.LoadRange(ctx, prefix)
	if err != nil {
		return err
	}
	o.mu.Lock()
	for _, e := range entries {
		o.over[e.Key.Canonical()] = tombstone{}
	}
	o.mu.Unlock()
	return nil
}

func (o *Overlay) Close() error { return nil }
