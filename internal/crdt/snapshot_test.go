package crdt

import (
	"testing"

	"github.com/grovefs/grovefs/internal/ids"
)

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	id := ids.NewDocumentId()
	doc := New(id, "actor-a")
	if _, _, err := doc.ApplyLocal(setField("name", String("root"))); err != nil {
		t.Fatalf("ApplyLocal() error: %v", err)
	}
	if _, _, err := doc.ApplyLocal(setField("children", Array(String("a"), String("b")))); err != nil {
		t.Fatalf("ApplyLocal() error: %v", err)
	}

	data, err := doc.MarshalSnapshot()
	if err != nil {
		t.Fatalf("MarshalSnapshot() error: %v", err)
	}

	restored, err := Hydrate(id, "actor-b", data)
	if err != nil {
		t.Fatalf("Hydrate() error: %v", err)
	}
	if !Equal(restored.Value(), doc.Value()) {
		t.Errorf("Hydrate() value = %+v, want %+v", restored.Value(), doc.Value())
	}
	if len(restored.Heads()) != len(doc.Heads()) {
		t.Errorf("Hydrate() heads = %v, want same cardinality as %v", restored.Heads(), doc.Heads())
	}
}
