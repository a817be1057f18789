package engine

import (
	"context"
	"testing"
	"time"

	"github.com/grovefs/grovefs/internal/bundle"
	"github.com/grovefs/grovefs/internal/crdt"
	"github.com/grovefs/grovefs/internal/grovefserr"
	"github.com/grovefs/grovefs/internal/network"
	"github.com/grovefs/grovefs/internal/storage"
)

func newReadyEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(storage.NewMemory(), WithActor("actor-a"))
	if _, err := e.CreateRoot(context.Background()); err != nil {
		t.Fatalf("CreateRoot() error: %v", err)
	}
	return e
}

func TestWhenReadyBeforeCreateRootTimesOut(t *testing.T) {
	t.Parallel()
	e := New(storage.NewMemory())
	err := e.WhenReady(context.Background(), 20*time.Millisecond)
	if kind, _ := grovefserr.Of(err); kind != grovefserr.NotReady {
		t.Fatalf("WhenReady() error kind = %v, want NotReady", kind)
	}
}

func TestWhenReadyUnblocksAfterCreateRoot(t *testing.T) {
	t.Parallel()
	e := New(storage.NewMemory())

	done := make(chan error, 1)
	go func() { done <- e.WhenReady(context.Background(), time.Second) }()

	time.Sleep(10 * time.Millisecond)
	if _, err := e.CreateRoot(context.Background()); err != nil {
		t.Fatalf("CreateRoot() error: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WhenReady() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WhenReady() never unblocked after CreateRoot")
	}
}

func TestCreateRootTwiceFails(t *testing.T) {
	t.Parallel()
	e := newReadyEngine(t)
	if _, err := e.CreateRoot(context.Background()); err == nil {
		t.Fatal("CreateRoot() on an already-initialized engine should fail")
	}
}

func TestEngineFileRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newReadyEngine(t)

	content := crdt.Object(map[string]crdt.Value{"msg": crdt.String("Hello, World!")})
	if err := e.CreateFile(ctx, "/hello.txt", content, nil); err != nil {
		t.Fatalf("CreateFile() error: %v", err)
	}

	entry, err := e.ReadFile(ctx, "/hello.txt")
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if entry.Name != "hello.txt" {
		t.Errorf("Name = %q, want hello.txt", entry.Name)
	}
	if got, ok := entry.Content.Get("msg"); !ok || got.Str != "Hello, World!" {
		t.Errorf("Content = %+v, want msg=Hello, World!", entry.Content)
	}
}

func TestEngineBundleRoundTripViaLoadBundle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e1 := newReadyEngine(t)

	if err := e1.CreateDirectory(ctx, "/a"); err != nil {
		t.Fatalf("CreateDirectory() error: %v", err)
	}
	if err := e1.CreateFile(ctx, "/a/b.txt", crdt.Object(map[string]crdt.Value{"x": crdt.Number(1)}), nil); err != nil {
		t.Fatalf("CreateFile() error: %v", err)
	}
	if err := e1.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	data, err := bundle.Export(ctx, e1.Storage(), bundle.ExportOptions{RootID: e1.RootID(), Actor: "actor-a"})
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}

	e2 := New(storage.NewMemory())
	if err := e2.LoadBundle(ctx, data); err != nil {
		t.Fatalf("LoadBundle() error: %v", err)
	}
	if err := e2.WhenReady(ctx, time.Second); err != nil {
		t.Fatalf("WhenReady() after LoadBundle(): %v", err)
	}

	entry, err := e2.ReadFile(ctx, "/a/b.txt")
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if got, ok := entry.Content.Get("x"); !ok || got.Number != 1 {
		t.Errorf("Content = %+v, want x=1", entry.Content)
	}
}

// pairAdapter is a minimal in-process network.Adapter pair used to test
// convergence without a real socket (spec.md §8 testable property 6).
type pairAdapter struct {
	id     network.PeerID
	events chan network.Event
	peer   *pairAdapter
}

func newPairAdapters(a, b network.PeerID) (*pairAdapter, *pairAdapter) {
	pa := &pairAdapter{id: a, events: make(chan network.Event, 64)}
	pb := &pairAdapter{id: b, events: make(chan network.Event, 64)}
	pa.peer, pb.peer = pb, pa
	return pa, pb
}

func (p *pairAdapter) Connect(ctx context.Context, localPeerID network.PeerID, metadata map[string]string) error {
	go func() {
		p.events <- network.Event{Kind: network.EventPeerConnected, PeerID: p.peer.id}
	}()
	return nil
}

func (p *pairAdapter) Send(msg network.Message) error {
	p.peer.events <- network.Event{Kind: network.EventMessage, PeerID: p.id, Type: msg.Type, Payload: msg.Payload}
	return nil
}

func (p *pairAdapter) Events() <-chan network.Event { return p.events }

func (p *pairAdapter) Disconnect() error {
	close(p.events)
	return nil
}

func TestTwoEnginesConverge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e1 := newReadyEngine(t)

	e2 := New(storage.NewMemory(), WithActor("actor-b"))
	if err := e2.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	// Bind e2 to the same root as e1 via a bundle, then reconnect networks.
	if err := e1.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	data, err := bundle.Export(ctx, e1.Storage(), bundle.ExportOptions{RootID: e1.RootID(), Actor: "actor-a"})
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if err := e2.LoadBundle(ctx, data); err != nil {
		t.Fatalf("LoadBundle() error: %v", err)
	}

	a1, a2 := newPairAdapters("peer-1", "peer-2")
	if err := e1.AddNetwork(ctx, a1, "peer-1", nil); err != nil {
		t.Fatalf("AddNetwork() error: %v", err)
	}
	if err := e2.AddNetwork(ctx, a2, "peer-2", nil); err != nil {
		t.Fatalf("AddNetwork() error: %v", err)
	}

	if err := e1.CreateFile(ctx, "/note.txt", crdt.Object(map[string]crdt.Value{"v": crdt.Number(7)}), nil); err != nil {
		t.Fatalf("CreateFile() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		entry, err := e2.ReadFile(ctx, "/note.txt")
		if err == nil {
			if got, ok := entry.Content.Get("v"); ok && got.Number == 7 {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("peer 2 never converged on /note.txt, last error: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
