package crdt

import "testing"

func TestValueGetSet(t *testing.T) {
	t.Parallel()
	obj := Object(map[string]Value{"name": String("a")})

	v, ok := obj.Get("name")
	if !ok {
		t.Fatal("Get() on existing field returned false")
	}
	if v.Str != "a" {
		t.Errorf("Get() = %q, want %q", v.Str, "a")
	}

	_, ok = obj.Get("missing")
	if ok {
		t.Error("Get() on missing field should return false")
	}
}

func TestValueWithFieldIsImmutable(t *testing.T) {
	t.Parallel()
	base := Object(map[string]Value{"a": Number(1)})
	updated := base.WithField("b", Number(2))

	if _, ok := base.Get("b"); ok {
		t.Error("WithField() mutated the receiver")
	}
	if v, ok := updated.Get("b"); !ok || v.Number != 2 {
		t.Errorf("WithField() result missing field b, got %+v", updated)
	}
	if v, ok := updated.Get("a"); !ok || v.Number != 1 {
		t.Error("WithField() dropped an existing field")
	}
}

func TestValueWithoutField(t *testing.T) {
	t.Parallel()
	base := Object(map[string]Value{"a": Number(1), "b": Number(2)})
	updated := base.WithoutField("a")

	if _, ok := updated.Get("a"); ok {
		t.Error("WithoutField() did not remove the field")
	}
	if _, ok := base.Get("a"); !ok {
		t.Error("WithoutField() mutated the receiver")
	}
}

func TestFromAnyToAnyRoundTrip(t *testing.T) {
	t.Parallel()
	in := map[string]any{
		"title":  "note",
		"count":  float64(3),
		"active": true,
		"tags":   []any{"x", "y"},
		"nested": map[string]any{"k": "v"},
		"empty":  nil,
	}

	v := FromAny(in)
	out, ok := v.ToAny().(map[string]any)
	if !ok {
		t.Fatalf("ToAny() = %T, want map[string]any", v.ToAny())
	}

	if out["title"] != "note" {
		t.Errorf("title = %v, want note", out["title"])
	}
	if out["count"] != float64(3) {
		t.Errorf("count = %v, want 3", out["count"])
	}
	tags, ok := out["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "x" || tags[1] != "y" {
		t.Errorf("tags = %v, want [x y]", out["tags"])
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"equal strings", String("x"), String("x"), true},
		{"different strings", String("x"), String("y"), false},
		{"different kinds", String("1"), Number(1), false},
		{"equal arrays", Array(Number(1), Number(2)), Array(Number(1), Number(2)), true},
		{"array order matters", Array(Number(1), Number(2)), Array(Number(2), Number(1)), false},
		{"equal objects regardless of insertion order", Object(map[string]Value{"a": Number(1), "b": Number(2)}), Object(map[string]Value{"b": Number(2), "a": Number(1)}), true},
		{"object missing a field", Object(map[string]Value{"a": Number(1)}), Object(map[string]Value{"a": Number(1), "b": Number(2)}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestObjectKeysSorted(t *testing.T) {
	t.Parallel()
	v := Object(map[string]Value{"z": Null(), "a": Null(), "m": Null()})
	keys := v.ObjectKeys()
	want := []string{"a", "m", "z"}
	if len(keys) != len(want) {
		t.Fatalf("ObjectKeys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("ObjectKeys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}
