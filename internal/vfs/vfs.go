// Package vfs is the public facade a consumer programs against: a small set
// of path-addressed operations over the document tree, each one either a
// read of a folded CRDT value or a mutation that goes through the tree
// package's traversal and linking logic (spec.md §4.5).
package vfs

import (
	"context"

	"github.com/grovefs/grovefs/internal/crdt"
	"github.com/grovefs/grovefs/internal/grovefserr"
	"github.com/grovefs/grovefs/internal/ids"
	"github.com/grovefs/grovefs/internal/repo"
	"github.com/grovefs/grovefs/internal/tree"
)

// VFS is the facade bound to a single document tree.
type VFS struct {
	tree *tree.Tree
}

// New binds a facade to t.
func New(t *tree.Tree) *VFS {
	return &VFS{tree: t}
}

// Entry is the shape returned by ReadFile and delivered to file watchers.
type Entry struct {
	Name       string
	Type       tree.NodeType
	Timestamps tree.Timestamps
	Content    crdt.Value
	Bytes      []byte
}

// Metadata is the shape returned by ListDirectory and Metadata, and
// delivered to directory watchers.
type Metadata struct {
	Name       string
	Type       tree.NodeType
	Timestamps tree.Timestamps
	Pointer    ids.DocumentId
}

// CreateFile creates a new document at path with the given content and
// optional opaque bytes. data may be nil to omit the bytes field entirely.
func (v *VFS) CreateFile(ctx context.Context, path string, content crdt.Value, data []byte) error {
	_, err := v.tree.CreateDocument(ctx, path, content, data)
	return err
}

// ReadFile returns the current value of the document at path.
func (v *VFS) ReadFile(ctx context.Context, path string) (*Entry, error) {
	h, ref, err := v.tree.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, grovefserr.New(grovefserr.NotFound, "%q not found", path)
	}
	if ref.Type != tree.TypeDoc {
		return nil, grovefserr.New(grovefserr.IsDirectory, "%q is a directory", path)
	}
	return entryFromValue(ref.Name, h.Value()), nil
}

// UpdateFile replaces the content (and, if data is non-nil, the bytes) of
// the document at path through a minimal diff, so only the changed content
// keys produce ops (spec.md §4.5, tree.SetContent). It returns false if
// path does not name an existing document.
func (v *VFS) UpdateFile(ctx context.Context, path string, content crdt.Value, data []byte) (bool, error) {
	h, ref, err := v.tree.Open(ctx, path)
	if err != nil {
		return false, err
	}
	if h == nil {
		return false, nil
	}
	if ref.Type != tree.TypeDoc {
		return false, grovefserr.New(grovefserr.IsDirectory, "%q is a directory", path)
	}

	_, err = h.Change(func(m *crdt.MutableView) error {
		tree.SetContent(m, content)
		if data != nil {
			m.Set("bytes", crdt.BytesVal(data))
		}
		tree.TouchTimestamps(m)
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteFile removes the node at path. Directories are removed recursively
// rather than rejected (a deliberate relaxation of the documented
// IsDirectory failure mode, spec.md §4.5); it returns false if nothing was
// there to remove.
func (v *VFS) DeleteFile(ctx context.Context, path string) (bool, error) {
	return v.tree.RemoveDocument(ctx, path)
}

// CreateDirectory creates a new directory node at path.
func (v *VFS) CreateDirectory(ctx context.Context, path string) error {
	_, err := v.tree.CreateDirectory(ctx, path)
	return err
}

// ListDirectory returns the ordered children of the directory at path.
func (v *VFS) ListDirectory(ctx context.Context, path string) ([]Metadata, error) {
	h, ref, err := v.tree.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, grovefserr.New(grovefserr.NotFound, "%q not found", path)
	}
	if ref.Type != tree.TypeDir {
		return nil, grovefserr.New(grovefserr.NotADirectory, "%q is not a directory", path)
	}
	return metadataFromEntries(tree.Children(h.Value())), nil
}

// Exists reports whether a node is present at path. A path that traverses
// through a non-directory ancestor is reported as simply absent, never as
// an error (spec.md §14 open question b).
func (v *VFS) Exists(ctx context.Context, path string) (bool, error) {
	h, _, err := v.tree.Open(ctx, path)
	if err != nil {
		if kind, ok := grovefserr.Of(err); ok && kind == grovefserr.NotADirectory {
			return false, nil
		}
		return false, err
	}
	return h != nil, nil
}

// Metadata returns the entry describing the node at path, or (nil, nil) if
// nothing is there. A path through a non-directory ancestor fails with
// NotADirectory rather than resolving to absent (spec.md §14 open
// question b); this is the one place Metadata and Exists disagree on
// purpose.
func (v *VFS) Metadata(ctx context.Context, path string) (*Metadata, error) {
	h, ref, err := v.tree.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, nil
	}
	return &Metadata{Name: ref.Name, Type: ref.Type, Timestamps: ref.Timestamps, Pointer: ref.Pointer}, nil
}

// WatchFile subscribes cb to every future value change of the document at
// path. The returned Watcher must be Stop()'d by the caller when done.
func (v *VFS) WatchFile(ctx context.Context, path string, cb func(*Entry)) (*repo.Watcher, error) {
	h, ref, err := v.tree.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, grovefserr.New(grovefserr.NotFound, "%q not found", path)
	}
	if ref.Type != tree.TypeDoc {
		return nil, grovefserr.New(grovefserr.IsDirectory, "%q is a directory", path)
	}

	name := ref.Name
	return h.OnChange(func(val crdt.Value) {
		cb(entryFromValue(name, val))
	}), nil
}

// WatchDirectory subscribes cb to every future change of the directory at
// path's own document, its children list or its own metadata. It never
// fires for mutations inside a child's subtree, since those live in the
// child's own document and are dispatched under the child's DocumentId
// (spec.md §14 open question a).
func (v *VFS) WatchDirectory(ctx context.Context, path string, cb func([]Metadata)) (*repo.Watcher, error) {
	h, ref, err := v.tree.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, grovefserr.New(grovefserr.NotFound, "%q not found", path)
	}
	if ref.Type != tree.TypeDir {
		return nil, grovefserr.New(grovefserr.NotADirectory, "%q is not a directory", path)
	}

	return h.OnChange(func(val crdt.Value) {
		cb(metadataFromEntries(tree.Children(val)))
	}), nil
}

func entryFromValue(name string, val crdt.Value) *Entry {
	content, _ := val.Get("content")
	var data []byte
	if b, ok := val.Get("bytes"); ok && b.Kind == crdt.KindBytes {
		data = b.Bytes
	}
	typ, _ := tree.NodeTypeOf(val)
	return &Entry{
		Name:       name,
		Type:       typ,
		Timestamps: tree.TimestampsOf(val),
		Content:    content,
		Bytes:      data,
	}
}

func metadataFromEntries(entries []tree.RefEntry) []Metadata {
	out := make([]Metadata, len(entries))
	for i, e := range entries {
		out[i] = Metadata{Name: e.Name, Type: e.Type, Timestamps: e.Timestamps, Pointer: e.Pointer}
	}
	return out
}
