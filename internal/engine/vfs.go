package engine

import (
	"context"

	"github.com/grovefs/grovefs/internal/crdt"
	"github.com/grovefs/grovefs/internal/repo"
	"github.com/grovefs/grovefs/internal/vfs"
)

// The operations below mirror internal/vfs.VFS one-for-one, each awaiting
// engine readiness first so a caller that races engine startup observes
// either success after readiness completes within the timeout, or a clean
// NotReady failure, never a partial write or a silent hang (spec.md §4.7
// "cold-start race", testable property 7).

func (e *Engine) await(ctx context.Context) (*vfs.VFS, error) {
	if err := e.WhenReady(ctx, 0); err != nil {
		return nil, err
	}
	return e.VFS(), nil
}

// CreateFile awaits readiness then delegates to the bound VFS.
func (e *Engine) CreateFile(ctx context.Context, path string, content crdt.Value, data []byte) error {
	v, err := e.await(ctx)
	if err != nil {
		return err
	}
	return v.CreateFile(ctx, path, content, data)
}

// ReadFile awaits readiness then delegates to the bound VFS.
func (e *Engine) ReadFile(ctx context.Context, path string) (*vfs.Entry, error) {
	v, err := e.await(ctx)
	if err != nil {
		return nil, err
	}
	return v.ReadFile(ctx, path)
}

// UpdateFile awaits readiness then delegates to the bound VFS.
func (e *Engine) UpdateFile(ctx context.Context, path string, content crdt.Value, data []byte) (bool, error) {
	v, err := e.await(ctx)
	if err != nil {
		return false, err
	}
	return v.UpdateFile(ctx, path, content, data)
}

// DeleteFile awaits readiness then delegates to the bound VFS.
func (e *Engine) DeleteFile(ctx context.Context, path string) (bool, error) {
	v, err := e.await(ctx)
	if err != nil {
		return false, err
	}
	return v.DeleteFile(ctx, path)
}

// CreateDirectory awaits readiness then delegates to the bound VFS.
func (e *Engine) CreateDirectory(ctx context.Context, path string) error {
	v, err := e.await(ctx)
	if err != nil {
		return err
	}
	return v.CreateDirectory(ctx, path)
}

// ListDirectory awaits readiness then delegates to the bound VFS.
func (e *Engine) ListDirectory(ctx context.Context, path string) ([]vfs.Metadata, error) {
	v, err := e.await(ctx)
	if err != nil {
		return nil, err
	}
	return v.ListDirectory(ctx, path)
}

// Exists awaits readiness then delegates to the bound VFS.
func (e *Engine) Exists(ctx context.Context, path string) (bool, error) {
	v, err := e.await(ctx)
	if err != nil {
		return false, err
	}
	return v.Exists(ctx, path)
}

// Metadata awaits readiness then delegates to the bound VFS.
func (e *Engine) Metadata(ctx context.Context, path string) (*vfs.Metadata, error) {
	v, err := e.await(ctx)
	if err != nil {
		return nil, err
	}
	return v.Metadata(ctx, path)
}

// WatchFile awaits readiness then delegates to the bound VFS.
func (e *Engine) WatchFile(ctx context.Context, path string, cb func(*vfs.Entry)) (*repo.Watcher, error) {
	v, err := e.await(ctx)
	if err != nil {
		return nil, err
	}
	return v.WatchFile(ctx, path, cb)
}

// WatchDirectory awaits readiness then delegates to the bound VFS.
func (e *Engine) WatchDirectory(ctx context.Context, path string, cb func([]vfs.Metadata)) (*repo.Watcher, error) {
	v, err := e.await(ctx)
	if err != nil {
		return nil, err
	}
	return v.WatchDirectory(ctx, path, cb)
}
