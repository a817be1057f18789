// Package tree implements path-to-document resolution and mutation over
// the directory graph rooted at a repository's RootId (spec.md §4.4).
package tree

import (
	"time"

	"github.com/grovefs/grovefs/internal/crdt"
	"github.com/grovefs/grovefs/internal/ids"
)

// NodeType discriminates the two document shapes the tree is built from.
type NodeType string

const (
	TypeDir NodeType = "dir"
	TypeDoc NodeType = "doc"
)

// Timestamps tracks creation and last-modification instants for a node.
// Modified is never allowed to precede Created (spec.md §3 invariant 3).
type Timestamps struct {
	Created  time.Time
	Modified time.Time
}

func (t Timestamps) toValue() crdt.Value {
	return crdt.Object(map[string]crdt.Value{
		"created":  crdt.String(t.Created.UTC().Format(time.RFC3339Nano)),
		"modified": crdt.String(t.Modified.UTC().Format(time.RFC3339Nano)),
	})
}

func timestampsFromValue(v crdt.Value) Timestamps {
	var ts Timestamps
	if created, ok := v.Get("created"); ok {
		if t, err := time.Parse(time.RFC3339Nano, created.Str); err == nil {
			ts.Created = t
		}
	}
	if modified, ok := v.Get("modified"); ok {
		if t, err := time.Parse(time.RFC3339Nano, modified.Str); err == nil {
			ts.Modified = t
		}
	}
	return ts
}

// RefEntry is one entry in a directory's children list: a named pointer to
// another document plus its own timestamps (set when the reference itself
// was created/renamed, distinct from the target document's timestamps).
type RefEntry struct {
	Name       string
	Type       NodeType
	Pointer    ids.DocumentId
	Timestamps Timestamps
}

func (e RefEntry) toValue() crdt.Value {
	return crdt.Object(map[string]crdt.Value{
		"name":       crdt.String(e.Name),
		"type":       crdt.String(string(e.Type)),
		"pointer":    crdt.String(e.Pointer.String()),
		"timestamps": e.Timestamps.toValue(),
	})
}

func refEntryFromValue(v crdt.Value) RefEntry {
	var e RefEntry
	if name, ok := v.Get("name"); ok {
		e.Name = name.Str
	}
	if typ, ok := v.Get("type"); ok {
		e.Type = NodeType(typ.Str)
	}
	if ptr, ok := v.Get("pointer"); ok {
		e.Pointer = ids.DocumentId(ptr.Str)
	}
	if ts, ok := v.Get("timestamps"); ok {
		e.Timestamps = timestampsFromValue(ts)
	}
	return e
}

// NewDirValue builds the initial crdt.Value for a freshly created
// directory document.
func NewDirValue(name string, now time.Time) crdt.Value {
	return crdt.Object(map[string]crdt.Value{
		"type":       crdt.String(string(TypeDir)),
		"name":       crdt.String(name),
		"timestamps": Timestamps{Created: now, Modified: now}.toValue(),
		"children":   crdt.Array(),
	})
}

// NewDocValue builds the initial crdt.Value for a freshly created file
// document, excluding "content": that field is applied separately through
// SetContent so it always goes through the per-key minimal-diff convention,
// even on creation. bytes may be nil.
func NewDocValue(name string, bytes []byte, now time.Time) crdt.Value {
	fields := map[string]crdt.Value{
		"type":       crdt.String(string(TypeDoc)),
		"name":       crdt.String(name),
		"timestamps": Timestamps{Created: now, Modified: now}.toValue(),
	}
	if bytes != nil {
		fields["bytes"] = crdt.BytesVal(bytes)
	}
	return crdt.Object(fields)
}

// Children returns the ordered RefEntry list of a directory value. Callers
// must check NodeTypeOf(v) == TypeDir first.
func Children(v crdt.Value) []RefEntry {
	arr, ok := v.Get("children")
	if !ok {
		return nil
	}
	return entriesFromArray(arr)
}

func entriesFromArray(arr crdt.Value) []RefEntry {
	if arr.Kind != crdt.KindArray {
		return nil
	}
	out := make([]RefEntry, 0, len(arr.Array))
	for _, item := range arr.Array {
		out = append(out, refEntryFromValue(item))
	}
	return out
}

func childrenToValue(entries []RefEntry) crdt.Value {
	items := make([]crdt.Value, len(entries))
	for i, e := range entries {
		items[i] = e.toValue()
	}
	return crdt.Array(items...)
}

// NodeTypeOf reports the type discriminator of a document value.
func NodeTypeOf(v crdt.Value) (NodeType, bool) {
	t, ok := v.Get("type")
	if !ok {
		return "", false
	}
	return NodeType(t.Str), true
}

// NameOf returns a document value's name field.
func NameOf(v crdt.Value) string {
	n, ok := v.Get("name")
	if !ok {
		return ""
	}
	return n.Str
}

// TimestampsOf returns a document value's timestamps field.
func TimestampsOf(v crdt.Value) Timestamps {
	ts, ok := v.Get("timestamps")
	if !ok {
		return Timestamps{}
	}
	return timestampsFromValue(ts)
}
