package tree

import "github.com/grovefs/grovefs/internal/crdt"

// SetContent records the minimal set of field edits needed to move a
// document's "content" field from its current value to next, inside a
// mutator. When next is an object, each changed or removed key gets its own
// "content.<key>" register instead of replacing the field wholesale, so a
// one-key edit produces a change block proportional to that key alone
// (spec.md §8). Any non-object keys previously present are cleared first so
// the field never has both a bare "content" register and per-key registers
// set at once, which would make the folded value depend on map iteration
// order.
//
// When next is not an object (a scalar, array, or null), it replaces the
// field wholesale and any per-key registers from a prior object-shaped
// content are cleared.
//
// The diff is one level deep only: a changed key's whole value becomes one
// register, so editing content.a.b replaces all of content.a rather than
// just the b leaf. Recursing further would let the change block size track
// edit depth exactly, but would also mean a concurrent edit to content.a.c
// made by another actor could be silently overwritten by this one instead
// of merging, which last-writer-wins-per-register is built to avoid one
// level down (spec.md §8).
func SetContent(m *crdt.MutableView, next crdt.Value) {
	current, _ := m.Get("content")

	if next.Kind != crdt.KindObject {
		for _, key := range current.ObjectKeys() {
			m.Delete("content." + key)
		}
		m.Set("content", next)
		return
	}

	m.Delete("content")

	seen := make(map[string]bool, len(next.Object))
	for _, key := range next.ObjectKeys() {
		seen[key] = true
		newVal := next.Object[key]
		if oldVal, ok := current.Get(key); ok && crdt.Equal(oldVal, newVal) {
			continue
		}
		m.Set("content."+key, newVal)
	}
	for _, key := range current.ObjectKeys() {
		if !seen[key] {
			m.Delete("content." + key)
		}
	}
}
