package crdt

import (
	"sort"
	"strings"
)

// Kind discriminates the JSON-compatible sum type documents are built from
// (spec.md §9: "Dynamic / untyped document values").
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindBytes
	KindArray
	KindObject
)

// Value is the dynamic tree type every document field (content, children,
// timestamps, ...) is expressed in. Only one of the typed fields is
// meaningful, selected by Kind.
type Value struct {
	Kind   Kind             `msgpack:"k"`
	Bool   bool             `msgpack:"b,omitempty"`
	Number float64          `msgpack:"n,omitempty"`
	Str    string           `msgpack:"s,omitempty"`
	Bytes  []byte           `msgpack:"y,omitempty"`
	Array  []Value          `msgpack:"a,omitempty"`
	Object map[string]Value `msgpack:"o,omitempty"`
}

func Null() Value                { return Value{Kind: KindNull} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Number(n float64) Value     { return Value{Kind: KindNumber, Number: n} }
func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func BytesVal(b []byte) Value    { return Value{Kind: KindBytes, Bytes: b} }
func Array(items ...Value) Value { return Value{Kind: KindArray, Array: items} }
func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{Kind: KindObject, Object: m}
}

func (v Value) IsNull() bool { return v.Kind == KindNull }

// Get returns the field of an object-kind value, or (Null, false) otherwise.
func (v Value) Get(field string) (Value, bool) {
	if v.Kind != KindObject {
		return Value{}, false
	}
	child, ok := v.Object[field]
	return child, ok
}

// GetPath walks a "."-separated sequence of object keys and returns the
// value at the end of it, or (Null, false) if any segment is missing or
// not itself an object.
func (v Value) GetPath(path string) (Value, bool) {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		child, ok := cur.Get(seg)
		if !ok {
			return Value{}, false
		}
		cur = child
	}
	return cur, true
}

// WithField returns a shallow copy of v (which must be KindObject or Null)
// with field set to child. Values are treated as immutable.
func (v Value) WithField(field string, child Value) Value {
	m := make(map[string]Value, len(v.Object)+1)
	for k, val := range v.Object {
		m[k] = val
	}
	m[field] = child
	return Object(m)
}

// WithoutField returns a shallow copy of v with field removed.
func (v Value) WithoutField(field string) Value {
	m := make(map[string]Value, len(v.Object))
	for k, val := range v.Object {
		if k == field {
			continue
		}
		m[k] = val
	}
	return Object(m)
}

// FromAny converts a JSON-decoded any (as produced by encoding/json.Unmarshal
// into interface{}, or hand-built by callers) into a Value.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case string:
		return String(t)
	case []byte:
		return BytesVal(t)
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = FromAny(e)
		}
		return Array(items...)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromAny(e)
		}
		return Object(m)
	default:
		return Null()
	}
}

// ToAny converts a Value back into a JSON-compatible any tree.
func (v Value) ToAny() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Number
	case KindString:
		return v.Str
	case KindBytes:
		return v.Bytes
	case KindArray:
		out := make([]any, len(v.Array))
		for i, e := range v.Array {
			out[i] = e.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.Object))
		for k, e := range v.Object {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}

// Equal reports deep, order-sensitive-for-arrays structural equality.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindNumber:
		return a.Number == b.Number
	case KindString:
		return a.Str == b.Str
	case KindBytes:
		if len(a.Bytes) != len(b.Bytes) {
			return false
		}
		for i := range a.Bytes {
			if a.Bytes[i] != b.Bytes[i] {
				return false
			}
		}
		return true
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Equal(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.Object) != len(b.Object) {
			return false
		}
		for k, av := range a.Object {
			bv, ok := b.Object[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ObjectKeys returns the sorted field names of an object-kind value, used
// anywhere output must be deterministic (diffing, canonicalization).
func (v Value) ObjectKeys() []string {
	keys := make([]string, 0, len(v.Object))
	for k := range v.Object {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
