package tree

import (
	"context"
	"testing"

	"github.com/grovefs/grovefs/internal/crdt"
)

func TestSetContentUpdatingOneKeyTouchesOnlyThatKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTestTree(t)

	h, err := tr.CreateDocument(ctx, "/note.txt", crdt.Object(map[string]crdt.Value{
		"title": crdt.String("first"),
		"body":  crdt.String("unchanged"),
	}), nil)
	if err != nil {
		t.Fatalf("CreateDocument() error: %v", err)
	}

	block, err := h.Change(func(m *crdt.MutableView) error {
		SetContent(m, crdt.Object(map[string]crdt.Value{
			"title": crdt.String("second"),
			"body":  crdt.String("unchanged"),
		}))
		return nil
	})
	if err != nil {
		t.Fatalf("Change() error: %v", err)
	}
	if block == nil {
		t.Fatal("Change() returned a nil block for a real edit")
	}
	for _, op := range block.Ops {
		if op.Field == "content.body" {
			t.Errorf("unchanged key body should not produce an op, got %+v", block.Ops)
		}
	}

	content, _ := h.Value().Get("content")
	if title, _ := content.Get("title"); title.Str != "second" {
		t.Errorf("content.title = %q, want second", title.Str)
	}
	if body, _ := content.Get("body"); body.Str != "unchanged" {
		t.Errorf("content.body = %q, want unchanged", body.Str)
	}
}

func TestSetContentRemovesDroppedKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTestTree(t)

	h, err := tr.CreateDocument(ctx, "/note.txt", crdt.Object(map[string]crdt.Value{
		"title": crdt.String("first"),
		"body":  crdt.String("gone soon"),
	}), nil)
	if err != nil {
		t.Fatalf("CreateDocument() error: %v", err)
	}

	if _, err := h.Change(func(m *crdt.MutableView) error {
		SetContent(m, crdt.Object(map[string]crdt.Value{"title": crdt.String("first")}))
		return nil
	}); err != nil {
		t.Fatalf("Change() error: %v", err)
	}

	content, _ := h.Value().Get("content")
	if _, ok := content.Get("body"); ok {
		t.Error("body should have been removed from content")
	}
	if title, _ := content.Get("title"); title.Str != "first" {
		t.Errorf("content.title = %q, want first", title.Str)
	}
}

func TestSetContentSwitchesBetweenObjectAndScalar(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTestTree(t)

	h, err := tr.CreateDocument(ctx, "/note.txt", crdt.Object(map[string]crdt.Value{
		"title": crdt.String("first"),
	}), nil)
	if err != nil {
		t.Fatalf("CreateDocument() error: %v", err)
	}

	if _, err := h.Change(func(m *crdt.MutableView) error {
		SetContent(m, crdt.String("plain text now"))
		return nil
	}); err != nil {
		t.Fatalf("Change() error: %v", err)
	}
	content, ok := h.Value().Get("content")
	if !ok || content.Kind != crdt.KindString || content.Str != "plain text now" {
		t.Fatalf("content = %+v, want plain string", content)
	}

	if _, err := h.Change(func(m *crdt.MutableView) error {
		SetContent(m, crdt.Object(map[string]crdt.Value{"title": crdt.String("back to object")}))
		return nil
	}); err != nil {
		t.Fatalf("Change() error: %v", err)
	}
	content, ok = h.Value().Get("content")
	if !ok || content.Kind != crdt.KindObject {
		t.Fatalf("content = %+v, want object", content)
	}
	if title, _ := content.Get("title"); title.Str != "back to object" {
		t.Errorf("content.title = %q, want back to object", title.Str)
	}
}
