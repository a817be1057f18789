package storage

import (
	"context"
	"testing"
)

func mustKey(t *testing.T, components ...string) Key {
	t.Helper()
	k, err := NewKey(components...)
	if err != nil {
		t.Fatalf("NewKey(%v) error: %v", components, err)
	}
	return k
}

func TestKeyCanonicalAndPrefix(t *testing.T) {
	t.Parallel()
	k := mustKey(t, "doc1", "snapshot")
	if k.Canonical() != "doc1/snapshot" {
		t.Errorf("Canonical() = %q, want doc1/snapshot", k.Canonical())
	}
	if got := ParseKey(k.Canonical()); got.Canonical() != k.Canonical() {
		t.Errorf("ParseKey() round trip = %q, want %q", got.Canonical(), k.Canonical())
	}

	prefix := mustKey(t, "doc1")
	if !prefix.IsPrefix(k) {
		t.Error("IsPrefix() = false, want true")
	}
	other := mustKey(t, "doc2", "snapshot")
	if prefix.IsPrefix(other) {
		t.Error("IsPrefix() = true across unrelated documents")
	}
}

func TestNewKeyRejectsEmptyComponents(t *testing.T) {
	t.Parallel()
	if _, err := NewKey(); err == nil {
		t.Error("NewKey() with no components should fail")
	}
	if _, err := NewKey("doc1", ""); err == nil {
		t.Error("NewKey() with an empty component should fail")
	}
}

func testAdapterRoundTrip(t *testing.T, newAdapter func(t *testing.T) Adapter) {
	t.Helper()
	ctx := context.Background()
	a := newAdapter(t)
	defer a.Close()

	k := mustKey(t, "doc1", "snapshot")
	if _, ok, err := a.Load(ctx, k); err != nil || ok {
		t.Fatalf("Load() on empty adapter = (_, %v, %v), want (_, false, nil)", ok, err)
	}

	if err := a.Save(ctx, k, []byte("hello")); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	data, ok, err := a.Load(ctx, k)
	if err != nil || !ok || string(data) != "hello" {
		t.Fatalf("Load() = (%q, %v, %v), want (hello, true, nil)", data, ok, err)
	}

	inc := mustKey(t, "doc1", "incremental-0")
	if err := a.Save(ctx, inc, []byte("a")); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	other := mustKey(t, "doc2", "snapshot")
	if err := a.Save(ctx, other, []byte("b")); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	entries, err := a.LoadRange(ctx, mustKey(t, "doc1"))
	if err != nil {
		t.Fatalf("LoadRange() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("LoadRange() returned %d entries, want 2", len(entries))
	}

	if err := a.Remove(ctx, k); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, ok, _ := a.Load(ctx, k); ok {
		t.Error("Load() after Remove() still found the key")
	}

	if err := a.RemoveRange(ctx, mustKey(t, "doc1")); err != nil {
		t.Fatalf("RemoveRange() error: %v", err)
	}
	entries, err = a.LoadRange(ctx, mustKey(t, "doc1"))
	if err != nil {
		t.Fatalf("LoadRange() error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("LoadRange() after RemoveRange() = %v, want empty", entries)
	}
}

func TestMemoryAdapter(t *testing.T) {
	t.Parallel()
	testAdapterRoundTrip(t, func(t *testing.T) Adapter { return NewMemory() })
}

func TestSQLiteAdapter(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	testAdapterRoundTrip(t, func(t *testing.T) Adapter {
		a, err := OpenSQLite(dir + "/storage.db")
		if err != nil {
			t.Fatalf("OpenSQLite() error: %v", err)
		}
		return a
	})
}

func TestOverlayShadowsReadOnlyBase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := mustKey(t, "doc1", "snapshot")
	base := NewReadOnly(map[string][]byte{k.Canonical(): []byte("from-bundle")})
	overlay := NewOverlay(base)

	data, ok, err := overlay.Load(ctx, k)
	if err != nil || !ok || string(data) != "from-bundle" {
		t.Fatalf("Load() = (%q, %v, %v), want (from-bundle, true, nil)", data, ok, err)
	}

	if err := overlay.Save(ctx, k, []byte("overwritten")); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	data, ok, err = overlay.Load(ctx, k)
	if err != nil || !ok || string(data) != "overwritten" {
		t.Fatalf("Load() after overlay write = (%q, %v, %v), want (overwritten, true, nil)", data, ok, err)
	}

	if err := overlay.Remove(ctx, k); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, ok, _ := overlay.Load(ctx, k); ok {
		t.Error("Load() after overlay Remove() should not see the base value")
	}

	if err := base.Save(ctx, k, []byte("ignored")); err == nil {
		t.Error("Save() on a ReadOnly base should fail")
	}
}
