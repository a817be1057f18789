package crdt

import (
	"strings"
	"sync"

	"github.com/grovefs/grovefs/internal/ids"
)

// register is the per-field last-writer-wins state. Comparisons are made on
// (Counter, Actor) so the winner is identical on every replica regardless of
// the order blocks are applied in: max() over a total order is commutative.
type register struct {
	value   Value
	counter uint64
	actor   string
	set     bool
}

// wins reports whether a candidate (counter, actor) would overwrite r.
func (r register) wins(counter uint64, actor string) bool {
	if !r.set {
		return true
	}
	if counter != r.counter {
		return counter > r.counter
	}
	return actor > r.actor
}

// Document is the CRDT kernel's per-document state: the full block DAG,
// the materialized field registers folded from every ready block, and
// this replica's own actor/counter for authoring new blocks.
//
// A Document is safe for concurrent use; the repository additionally
// serializes logical mutations per DocumentId (spec.md §5), but the kernel
// itself does not depend on that for correctness.
type Document struct {
	mu sync.Mutex

	id    ids.DocumentId
	actor string

	counter uint64 // highest counter this actor has used
	clock   uint64 // highest counter observed from any actor (for new local counters)

	blocks  map[ids.BlockHash]*Block
	pending map[ids.BlockHash]*Block // known but waiting on missing parents
	heads   map[ids.BlockHash]struct{}

	fields map[string]register
}

// New creates an empty document kernel for id, authored locally by actor.
// actor should be stable for the process lifetime (e.g. a random session id)
// so Counter/Actor pairs form a total order across restarts too.
func New(id ids.DocumentId, actor string) *Document {
	return &Document{
		id:      id,
		actor:   actor,
		blocks:  make(map[ids.BlockHash]*Block),
		pending: make(map[ids.BlockHash]*Block),
		heads:   make(map[ids.BlockHash]struct{}),
		fields:  make(map[string]register),
	}
}

// ID returns the document's identifier.
func (d *Document) ID() ids.DocumentId { return d.id }

// Value folds every known, ready field register into a single object Value.
// This is the "document's value" of spec.md §3.
func (d *Document) Value() Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.valueLocked()
}

// valueLocked folds every set field register into a single nested object.
// Field keys may themselves be "."-separated paths (e.g. "content.title"),
// used to give individual keys of a nested object their own LWW register so
// a change to one key doesn't require replacing the whole subtree (spec.md
// §8, minimal sync messages). Caller holds d.mu.
func (d *Document) valueLocked() Value {
	root := Object(nil)
	for field, r := range d.fields {
		if !r.set {
			continue
		}
		root = insertPath(root, strings.Split(field, "."), r.value)
	}
	return root
}

// insertPath returns a copy of v with value placed at the nested path
// described by segments, creating intermediate objects as needed.
func insertPath(v Value, segments []string, value Value) Value {
	if len(segments) == 0 {
		return value
	}
	head, rest := segments[0], segments[1:]
	if len(rest) == 0 {
		return v.WithField(head, value)
	}
	child, ok := v.Get(head)
	if !ok || child.Kind != KindObject {
		child = Object(nil)
	}
	return v.WithField(head, insertPath(child, rest, value))
}

// Heads returns the set of causally maximal, ready block hashes.
func (d *Document) Heads() []ids.BlockHash {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ids.BlockHash, 0, len(d.heads))
	for h := range d.heads {
		out = append(out, h)
	}
	return out
}

// MutableView is the mutable handle a Mutator closure edits during
// ApplyLocal. It reads the folded value before any edit in this call and
// records only the fields actually touched, so the resulting block captures
// exactly the edits performed (spec.md §4.1).
type MutableView struct {
	doc     *Document
	base    Value
	touched map[string]Value  // field -> new value (nil entry means delete, tracked via deleted set)
	deleted map[string]bool
	order   []string
}

// Get returns the current value of a field, reflecting any edits already
// made earlier in the same mutator call. field may be a "."-separated path
// into a nested object (e.g. "content.title").
func (m *MutableView) Get(field string) (Value, bool) {
	if m.deleted[field] {
		return Value{}, false
	}
	if v, ok := m.touched[field]; ok {
		return v, true
	}
	return m.base.GetPath(field)
}

// Set assigns a field; field may be a "."-separated path such as
// "content.title".
func (m *MutableView) Set(field string, v Value) {
	delete(m.deleted, field)
	if _, already := m.touched[field]; !already {
		m.order = append(m.order, field)
	}
	m.touched[field] = v
}

// Delete removes a field; field may be a "."-separated path as for Set.
func (m *MutableView) Delete(field string) {
	delete(m.touched, field)
	if !m.deleted[field] {
		m.order = append(m.order, field)
	}
	m.deleted[field] = true
}

// Mutator is a pure function recording edits against a mutable view of a
// document's current value.
type Mutator func(v *MutableView) error

// ApplyLocal runs mutator against the document's current value and, if it
// touched any fields, commits a new change block capturing exactly those
// edits. It returns the resulting folded value and the block (nil if the
// mutator made no changes).
func (d *Document) ApplyLocal(mutator Mutator) (Value, *Block, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	view := &MutableView{
		doc:     d,
		base:    d.valueLocked(),
		touched: make(map[string]Value),
		deleted: make(map[string]bool),
	}
	if err := mutator(view); err != nil {
		return Value{}, nil, err
	}
	if len(view.order) == 0 {
		return d.valueLocked(), nil, nil
	}

	ops := make([]Op, 0, len(view.order))
	for _, field := range view.order {
		if view.deleted[field] {
			ops = append(ops, Op{Field: field, Kind: OpDelete})
			continue
		}
		ops = append(ops, Op{Field: field, Kind: OpSet, Value: view.touched[field]})
	}

	parents := make([]ids.BlockHash, 0, len(d.heads))
	for h := range d.heads {
		parents = append(parents, h)
	}

	d.counter++
	if d.counter <= d.clock {
		d.counter = d.clock + 1
	}
	d.clock = d.counter

	block := &Block{
		Parents: parents,
		Actor:   d.actor,
		Counter: d.counter,
		Ops:     ops,
	}
	if err := block.seal(); err != nil {
		return Value{}, nil, err
	}

	d.foldLocked(block)
	return d.valueLocked(), block, nil
}

// ApplyRemote merges a remote change block into the document. It succeeds
// even if causal predecessors are missing; the block is held pending until
// its parents are known (spec.md §4.1). Applying an already-known block
// hash is an idempotent no-op.
func (d *Document) ApplyRemote(block *Block) (Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, known := d.blocks[block.Hash]; known {
		return d.valueLocked(), nil
	}
	if _, known := d.pending[block.Hash]; known {
		return d.valueLocked(), nil
	}

	if d.readyLocked(block) {
		d.foldLocked(block)
		d.promotePendingLocked()
	} else {
		d.pending[block.Hash] = block
	}
	return d.valueLocked(), nil
}

func (d *Document) readyLocked(block *Block) bool {
	for _, p := range block.Parents {
		if _, ok := d.blocks[p]; !ok {
			return false
		}
	}
	return true
}

// foldLocked merges block's ops into the field registers, records it in the
// block DAG, and updates the heads frontier. Caller holds d.mu.
func (d *Document) foldLocked(block *Block) {
	d.blocks[block.Hash] = block

	for _, op := range block.Ops {
		cur := d.fields[op.Field]
		if !cur.wins(block.Counter, block.Actor) {
			continue
		}
		switch op.Kind {
		case OpSet:
			d.fields[op.Field] = register{value: op.Value, counter: block.Counter, actor: block.Actor, set: true}
		case OpDelete:
			d.fields[op.Field] = register{counter: block.Counter, actor: block.Actor, set: false}
		}
	}

	if block.Counter > d.clock {
		d.clock = block.Counter
	}

	for _, p := range block.Parents {
		delete(d.heads, p)
	}
	d.heads[block.Hash] = struct{}{}
}

// promotePendingLocked folds any pending blocks whose parents have all
// become known, repeating until a fixed point (handles chains of arrivals).
func (d *Document) promotePendingLocked() {
	for {
		progressed := false
		for hash, block := range d.pending {
			if d.readyLocked(block) {
				delete(d.pending, hash)
				d.foldLocked(block)
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

// KnownBlocks returns every block (ready or pending) this document has
// seen, keyed by hash, used by the sync layer to compute deltas.
func (d *Document) KnownBlocks() map[ids.BlockHash]*Block {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[ids.BlockHash]*Block, len(d.blocks)+len(d.pending))
	for h, b := range d.blocks {
		out[h] = b
	}
	for h, b := range d.pending {
		out[h] = b
	}
	return out
}

// Block looks up a known block by hash (ready or pending).
func (d *Document) Block(hash ids.BlockHash) (*Block, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.blocks[hash]; ok {
		return b, true
	}
	b, ok := d.pending[hash]
	return b, ok
}
