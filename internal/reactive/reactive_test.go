package reactive_test

import (
	"context"
	"testing"
	"time"

	"github.com/grovefs/grovefs/internal/crdt"
	"github.com/grovefs/grovefs/internal/engine"
	"github.com/grovefs/grovefs/internal/reactive"
	"github.com/grovefs/grovefs/internal/storage"
)

func newReadyEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New(storage.NewMemory(), engine.WithActor("actor-a"))
	if _, err := e.CreateRoot(context.Background()); err != nil {
		t.Fatalf("CreateRoot() error: %v", err)
	}
	return e
}

func TestBindSeedsStoreFromExistingDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newReadyEngine(t)

	content := crdt.Object(map[string]crdt.Value{"count": crdt.Number(1)})
	if err := e.CreateFile(ctx, "/counter.json", content, nil); err != nil {
		t.Fatalf("CreateFile() error: %v", err)
	}

	store := reactive.NewMemoryStore(crdt.Null())
	m, err := reactive.Bind(ctx, e, "/counter.json", store)
	if err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	defer m.Close()

	if got, ok := store.Load().Get("count"); !ok || got.Number != 1 {
		t.Fatalf("store.Load() = %+v, want count=1", store.Load())
	}
}

func TestBindCreatesDocumentWhenMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newReadyEngine(t)

	store := reactive.NewMemoryStore(crdt.Object(map[string]crdt.Value{"ready": crdt.Bool(true)}))
	m, err := reactive.Bind(ctx, e, "/state.json", store)
	if err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	defer m.Close()

	entry, err := e.ReadFile(ctx, "/state.json")
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if got, ok := entry.Content.Get("ready"); !ok || !got.Bool {
		t.Fatalf("Content = %+v, want ready=true", entry.Content)
	}
}

func TestBindPropagatesStoreWritesToDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newReadyEngine(t)

	store := reactive.NewMemoryStore(crdt.Object(map[string]crdt.Value{"count": crdt.Number(0)}))
	m, err := reactive.Bind(ctx, e, "/counter.json", store)
	if err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	defer m.Close()

	store.Set(crdt.Object(map[string]crdt.Value{"count": crdt.Number(42)}))

	entry, err := e.ReadFile(ctx, "/counter.json")
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if got, ok := entry.Content.Get("count"); !ok || got.Number != 42 {
		t.Fatalf("Content = %+v, want count=42", entry.Content)
	}
}

func TestBindPropagatesRemoteChangesToStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newReadyEngine(t)

	if err := e.CreateFile(ctx, "/counter.json", crdt.Object(map[string]crdt.Value{"count": crdt.Number(0)}), nil); err != nil {
		t.Fatalf("CreateFile() error: %v", err)
	}

	store := reactive.NewMemoryStore(crdt.Null())
	m, err := reactive.Bind(ctx, e, "/counter.json", store)
	if err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	defer m.Close()

	if _, err := e.UpdateFile(ctx, "/counter.json", crdt.Object(map[string]crdt.Value{"count": crdt.Number(7)}), nil); err != nil {
		t.Fatalf("UpdateFile() error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		if got, ok := store.Load().Get("count"); ok && got.Number == 7 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("store never observed remote update, last value: %+v", store.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
