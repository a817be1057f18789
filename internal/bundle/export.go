package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/grovefs/grovefs/internal/crdt"
	"github.com/grovefs/grovefs/internal/grovefserr"
	"github.com/grovefs/grovefs/internal/ids"
	"github.com/grovefs/grovefs/internal/storage"
	"github.com/grovefs/grovefs/internal/tree"
)

// ExportOptions parameterizes Export.
type ExportOptions struct {
	RootID      ids.DocumentId
	Actor       string // used only to hydrate documents read from storage; never persisted
	Entrypoints []string
	NetworkURIs []string

	// Slim restricts the export to the root and to those reachable
	// documents whose id shares the root's two-character prefix (the first
	// component of the sharded archive path), per the "Slim bundle variant"
	// (spec.md §4.8). The full reachability walk still runs; reachable
	// documents with any other prefix are left out of the archive.
	Slim bool
}

// Export flushes nothing itself (callers flush the repository first, per
// spec.md §4.8 step 1) and serializes every storage block reachable from
// RootID into a deterministic ZIP archive.
func Export(ctx context.Context, adapter storage.Adapter, opts ExportOptions) ([]byte, error) {
	reachable, err := reachableDocuments(ctx, adapter, opts.Actor, opts.RootID)
	if err != nil {
		return nil, err
	}

	if opts.Slim {
		rootPrefix := opts.RootID.Prefix()
		filtered := reachable[:0:0]
		for _, id := range reachable {
			if id == opts.RootID || id.Prefix() == rootPrefix {
				filtered = append(filtered, id)
			}
		}
		reachable = filtered
	}

	type entry struct {
		path string
		data []byte
	}
	entries := make([]entry, len(reachable))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range reachable {
		i, id := i, id
		g.Go(func() error {
			key, err := storage.NewKey(id.String(), storage.SnapshotCategory)
			if err != nil {
				return err
			}
			data, ok, err := adapter.Load(gctx, key)
			if err != nil {
				return grovefserr.Wrap(grovefserr.StorageError, err, "export document %s", id)
			}
			if !ok {
				return grovefserr.New(grovefserr.BundleError, "document %s is reachable but has no stored snapshot", id)
			}
			entries[i] = entry{path: blockPath(id.String(), storage.SnapshotCategory), data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	manifest := Manifest{
		ManifestVersion: ManifestVersion,
		Version:         VersionInfo{Major: 1, Minor: 0},
		RootID:          opts.RootID,
		Entrypoints:     opts.Entrypoints,
		NetworkURIs:     opts.NetworkURIs,
	}
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return nil, grovefserr.Wrap(grovefserr.BundleError, err, "marshal manifest")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	mw, err := zw.Create(manifestMember)
	if err != nil {
		return nil, grovefserr.Wrap(grovefserr.BundleError, err, "write manifest.json")
	}
	if _, err := mw.Write(manifestBytes); err != nil {
		return nil, grovefserr.Wrap(grovefserr.BundleError, err, "write manifest.json")
	}

	for _, e := range entries {
		w, err := zw.Create(e.path)
		if err != nil {
			return nil, grovefserr.Wrap(grovefserr.BundleError, err, "write %s", e.path)
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, grovefserr.Wrap(grovefserr.BundleError, err, "write %s", e.path)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, grovefserr.Wrap(grovefserr.BundleError, err, "finalize archive")
	}
	return buf.Bytes(), nil
}

// reachableDocuments performs the breadth-first walk of the directory graph
// spec.md §4.8 step 2 describes: everything reachable from root is live,
// everything else is excluded (the compaction mechanism).
func reachableDocuments(ctx context.Context, adapter storage.Adapter, actor string, root ids.DocumentId) ([]ids.DocumentId, error) {
	seen := map[ids.DocumentId]bool{root: true}
	queue := []ids.DocumentId{root}
	order := []ids.DocumentId{root}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		key, err := storage.NewKey(id.String(), storage.SnapshotCategory)
		if err != nil {
			return nil, err
		}
		data, ok, err := adapter.Load(ctx, key)
		if err != nil {
			return nil, grovefserr.Wrap(grovefserr.StorageError, err, "walk document %s", id)
		}
		if !ok {
			continue
		}
		doc, err := crdt.Hydrate(id, actor, data)
		if err != nil {
			return nil, grovefserr.Wrap(grovefserr.BundleError, err, "hydrate document %s", id)
		}

		val := doc.Value()
		typ, ok := tree.NodeTypeOf(val)
		if !ok || typ != tree.TypeDir {
			continue
		}
		for _, child := range tree.Children(val) {
			if seen[child.Pointer] {
				continue
			}
			seen[child.Pointer] = true
			queue = append(queue, child.Pointer)
			order = append(order, child.Pointer)
		}
	}
	return order, nil
}
