package tree

import (
	"context"
	"strings"
	"time"

	"github.com/grovefs/grovefs/internal/crdt"
	"github.com/grovefs/grovefs/internal/grovefserr"
	"github.com/grovefs/grovefs/internal/ids"
	"github.com/grovefs/grovefs/internal/repo"
)

// Tree resolves absolute paths against the document graph rooted at a
// fixed RootId and performs path-scoped mutations on it (spec.md §4.4).
type Tree struct {
	repo   *repo.Repository
	rootID ids.DocumentId
}

// New binds a Tree to repository r, rooted at rootID. The root document
// itself is created lazily the first time a mutating traversal needs it.
func New(r *repo.Repository, rootID ids.DocumentId) *Tree {
	return &Tree{repo: r, rootID: rootID}
}

// RootID returns the tree's root document identifier.
func (t *Tree) RootID() ids.DocumentId { return t.rootID }

// Resolution is the outcome of a path traversal: the handle of the
// directory that would contain (or contains) the final path segment, and
// that segment's RefEntry if it exists.
type Resolution struct {
	ParentHandle *repo.Handle
	Ref          *RefEntry
}

// normalize strips leading/trailing slashes and splits on "/", dropping
// empty segments; an empty result denotes the root itself. Both "" and "/"
// denote the root (spec.md §3 invariant 5); anything else must be absolute,
// so a path that names a segment without a leading slash is rejected rather
// than silently treated as relative to root.
func normalize(path string) ([]string, error) {
	if strings.ContainsRune(path, 0) {
		return nil, grovefserr.New(grovefserr.InvalidPath, "path %q contains an embedded null", path)
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		return nil, grovefserr.New(grovefserr.InvalidPath, "path %q must be absolute", path)
	}
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (t *Tree) ensureRoot(ctx context.Context, createMissing bool) (*repo.Handle, error) {
	h, err := t.repo.Find(ctx, t.rootID)
	if err != nil {
		return nil, err
	}
	if err := h.WhenReady(ctx); err != nil {
		if !createMissing {
			return nil, err
		}
		created, cerr := t.repo.CreateWithID(ctx, t.rootID, NewDirValue("/", time.Now()))
		if cerr != nil {
			return nil, cerr
		}
		return created, nil
	}
	return h, nil
}

func findChild(h *repo.Handle, name string) (RefEntry, bool) {
	for _, e := range Children(h.Value()) {
		if e.Name == name {
			return e, true
		}
	}
	return RefEntry{}, false
}

// Traverse walks path over the directory graph. When createMissing is
// true, any missing intermediate *directory* segments are created with the
// "check-inside-mutator" pattern so concurrent ancestor creation from other
// callers never produces duplicate RefNodes (spec.md §4.4 step 3c).
func (t *Tree) Traverse(ctx context.Context, path string, createMissing bool) (*Resolution, error) {
	segments, err := normalize(path)
	if err != nil {
		return nil, err
	}

	root, err := t.ensureRoot(ctx, createMissing)
	if err != nil {
		// A root that was never created holds nothing: report the path as
		// absent (nil ParentHandle and Ref) instead of failing.
		if kind, ok := grovefserr.Of(err); ok && kind == grovefserr.NotFound && !createMissing {
			return &Resolution{}, nil
		}
		return nil, err
	}
	if len(segments) == 0 {
		return &Resolution{ParentHandle: root, Ref: nil}, nil
	}

	current := root
	for i, seg := range segments {
		last := i == len(segments)-1

		if typ, ok := NodeTypeOf(current.Value()); !ok || typ != TypeDir {
			return nil, grovefserr.New(grovefserr.NotADirectory, "path component before %q is not a directory", seg)
		}

		ref, found := findChild(current, seg)
		if found {
			if last {
				return &Resolution{ParentHandle: current, Ref: &ref}, nil
			}
			if ref.Type != TypeDir {
				return nil, grovefserr.New(grovefserr.NotADirectory, "%q is not a directory", seg)
			}
			next, err := t.repo.Find(ctx, ref.Pointer)
			if err != nil {
				return nil, err
			}
			if err := next.WhenReady(ctx); err != nil {
				return nil, err
			}
			current = next
			continue
		}

		if !createMissing {
			return &Resolution{ParentHandle: current, Ref: nil}, nil
		}
		if last {
			return &Resolution{ParentHandle: current, Ref: nil}, nil
		}

		next, err := t.createMissingDir(ctx, current, seg)
		if err != nil {
			return nil, err
		}
		current = next
	}

	return &Resolution{ParentHandle: current, Ref: nil}, nil
}

// Open resolves path to the handle of the node it names (not its parent's),
// waiting for that handle to become ready. It returns (nil, nil, nil) if
// nothing exists at path. The root path resolves to a synthetic RefEntry
// describing the root directory itself, since the root has no entry in any
// parent's children list.
func (t *Tree) Open(ctx context.Context, path string) (*repo.Handle, *RefEntry, error) {
	segments, err := normalize(path)
	if err != nil {
		return nil, nil, err
	}
	if len(segments) == 0 {
		root, err := t.ensureRoot(ctx, false)
		if err != nil {
			return nil, nil, err
		}
		ref := RefEntry{Name: "/", Type: TypeDir, Pointer: t.rootID, Timestamps: TimestampsOf(root.Value())}
		return root, &ref, nil
	}

	res, err := t.Traverse(ctx, path, false)
	if err != nil {
		return nil, nil, err
	}
	if res.Ref == nil {
		return nil, nil, nil
	}

	h, err := t.repo.Find(ctx, res.Ref.Pointer)
	if err != nil {
		return nil, nil, err
	}
	if err := h.WhenReady(ctx); err != nil {
		return nil, nil, err
	}
	return h, res.Ref, nil
}

// createMissingDir allocates a new directory document and links it into
// parent's children, re-checking for a same-named child from inside the
// mutation closure since another caller may have raced this exact creation
// (spec.md §4.4 step 3c, tested by scenario S6).
func (t *Tree) createMissingDir(ctx context.Context, parent *repo.Handle, name string) (*repo.Handle, error) {
	candidateID := ids.NewDocumentId()
	candidate, err := t.repo.CreateWithID(ctx, candidateID, NewDirValue(name, time.Now()))
	if err != nil {
		return nil, err
	}

	var winner ids.DocumentId
	_, err = parent.Change(func(m *crdt.MutableView) error {
		childrenVal, _ := m.Get("children")
		entries := entriesFromArray(childrenVal)
		for _, e := range entries {
			if e.Name == name {
				winner = e.Pointer
				return nil
			}
		}
		now := time.Now()
		entries = append(entries, RefEntry{Name: name, Type: TypeDir, Pointer: candidateID, Timestamps: Timestamps{Created: now, Modified: now}})
		m.Set("children", childrenToValue(entries))
		TouchTimestamps(m)
		winner = candidateID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if winner == candidateID {
		return candidate, nil
	}
	winnerHandle, err := t.repo.Find(ctx, winner)
	if err != nil {
		return nil, err
	}
	if err := winnerHandle.WhenReady(ctx); err != nil {
		return nil, err
	}
	return winnerHandle, nil
}

// TouchTimestamps refreshes a node's own modified time inside a mutator. It
// is a no-op if the view has no timestamps field yet.
func TouchTimestamps(m *crdt.MutableView) {
	ts, ok := m.Get("timestamps")
	if !ok {
		return
	}
	created, _ := ts.Get("created")
	m.Set("timestamps", Timestamps{Created: parseOrNow(created), Modified: time.Now()}.toValue())
}

func parseOrNow(v crdt.Value) time.Time {
	if v.Kind != crdt.KindString {
		return time.Now()
	}
	if t, err := time.Parse(time.RFC3339Nano, v.Str); err == nil {
		return t
	}
	return time.Now()
}

// CreateDocument creates a new doc-type leaf at path with the given
// content and optional bytes. Fails with AlreadyExists if a child with the
// same name is already present in the parent directory.
func (t *Tree) CreateDocument(ctx context.Context, path string, content crdt.Value, data []byte) (*repo.Handle, error) {
	parentPath, name, err := splitParent(path)
	if err != nil {
		return nil, err
	}

	res, err := t.Traverse(ctx, parentPath, true)
	if err != nil {
		return nil, err
	}
	child, err := t.linkNewChild(ctx, res.ParentHandle, name, TypeDoc, NewDocValue(name, data, time.Now()))
	if err != nil {
		return nil, err
	}
	if _, err := child.Change(func(m *crdt.MutableView) error {
		SetContent(m, content)
		return nil
	}); err != nil {
		return nil, err
	}
	return child, nil
}

// CreateDirectory creates a new dir-type node at path. Fails with
// AlreadyExists if a child with the same name already exists in the parent.
func (t *Tree) CreateDirectory(ctx context.Context, path string) (*repo.Handle, error) {
	parentPath, name, err := splitParent(path)
	if err != nil {
		return nil, err
	}

	res, err := t.Traverse(ctx, parentPath, true)
	if err != nil {
		return nil, err
	}
	return t.linkNewChild(ctx, res.ParentHandle, name, TypeDir, NewDirValue(name, time.Now()))
}

func (t *Tree) linkNewChild(ctx context.Context, parent *repo.Handle, name string, typ NodeType, initial crdt.Value) (*repo.Handle, error) {
	if _, found := findChild(parent, name); found {
		return nil, grovefserr.New(grovefserr.AlreadyExists, "%q already exists", name)
	}

	childID := ids.NewDocumentId()
	child, err := t.repo.CreateWithID(ctx, childID, initial)
	if err != nil {
		return nil, err
	}

	conflict := false
	_, err = parent.Change(func(m *crdt.MutableView) error {
		childrenVal, _ := m.Get("children")
		entries := entriesFromArray(childrenVal)
		for _, e := range entries {
			if e.Name == name {
				conflict = true
				return nil
			}
		}
		now := time.Now()
		entries = append(entries, RefEntry{Name: name, Type: typ, Pointer: childID, Timestamps: Timestamps{Created: now, Modified: now}})
		m.Set("children", childrenToValue(entries))
		TouchTimestamps(m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if conflict {
		_ = t.repo.Delete(ctx, childID)
		return nil, grovefserr.New(grovefserr.AlreadyExists, "%q already exists", name)
	}
	return child, nil
}

// RemoveDocument removes the node at path, recursively removing every
// descendant first when the target is a directory (spec.md §4.4). It
// returns false if there was nothing at path to remove.
func (t *Tree) RemoveDocument(ctx context.Context, path string) (bool, error) {
	res, err := t.Traverse(ctx, path, false)
	if err != nil {
		return false, err
	}
	if res.Ref == nil {
		return false, nil
	}
	ref := *res.Ref

	if ref.Type == TypeDir {
		childHandle, err := t.repo.Find(ctx, ref.Pointer)
		if err != nil {
			return false, err
		}
		if err := childHandle.WhenReady(ctx); err == nil {
			for _, child := range Children(childHandle.Value()) {
				childPath := strings.TrimSuffix(path, "/") + "/" + child.Name
				if _, err := t.RemoveDocument(ctx, childPath); err != nil {
					return false, err
				}
			}
		}
	}

	if _, err := res.ParentHandle.Change(func(m *crdt.MutableView) error {
		childrenVal, _ := m.Get("children")
		entries := entriesFromArray(childrenVal)
		out := entries[:0:0]
		for _, e := range entries {
			if e.Name != ref.Name {
				out = append(out, e)
			}
		}
		m.Set("children", childrenToValue(out))
		TouchTimestamps(m)
		return nil
	}); err != nil {
		return false, err
	}

	if err := t.repo.Delete(ctx, ref.Pointer); err != nil {
		return false, err
	}
	return true, nil
}

func splitParent(path string) (parentPath, name string, err error) {
	segments, err := normalize(path)
	if err != nil {
		return "", "", err
	}
	if len(segments) == 0 {
		return "", "", grovefserr.New(grovefserr.InvalidPath, "cannot create the root itself")
	}
	name = segments[len(segments)-1]
	parentPath = "/" + strings.Join(segments[:len(segments)-1], "/")
	return parentPath, name, nil
}
