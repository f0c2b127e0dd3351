// Package noetl holds the core data model shared by the event store, queue
// service, and engine: executions, events, queue entries, runtime components,
// and the hierarchical Value type used to model template scopes.
package noetl

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind tags the variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindMap
)

// Value is a hierarchical tagged union standing in for the dynamic
// dictionaries a Jinja2-style template engine would work against. Execution
// context, call buffers, and tool results are all represented as Values so
// the TemplateEvaluator interface has one scope type to render against.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	m    map[string]Value
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Int(i int64) Value          { return Value{kind: KindInt, i: i} }
func Float(f float64) Value      { return Value{kind: KindFloat, f: f} }
func String(s string) Value      { return Value{kind: KindString, s: s} }
func Array(vs ...Value) Value    { return Value{kind: KindArray, arr: vs} }
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind  { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Truthy mirrors Jinja2/Python truthiness: false/0/0.0/""/[]/{}/null are falsy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return v.s != ""
	case KindArray:
		return len(v.arr) > 0
	case KindMap:
		return len(v.m) > 0
	default:
		return false
	}
}

func (v Value) Bool() bool { return v.b }
func (v Value) Int() int64 { return v.i }
func (v Value) Float() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindNull:
		return ""
	default:
		b, _ := json.Marshal(v.Native())
		return string(b)
	}
}
func (v Value) Array() []Value       { return v.arr }
func (v Value) MapValue() map[string]Value { return v.m }

// Get looks up a key on a map Value; returns Null if absent or not a map.
func (v Value) Get(key string) Value {
	if v.kind != KindMap {
		return Null()
	}
	if val, ok := v.m[key]; ok {
		return val
	}
	return Null()
}

// Native converts a Value into plain interface{} (map[string]interface{},
// []interface{}, string, float64, int64, bool, nil) for JSON marshalling.
func (v Value) Native() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Native()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.m))
		for k, e := range v.m {
			out[k] = e.Native()
		}
		return out
	default:
		return nil
	}
}

// FromNative wraps a decoded JSON value (as produced by encoding/json into
// interface{}) into a Value.
func FromNative(n interface{}) Value {
	switch t := n.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t))
		}
		return Float(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case string:
		return String(t)
	case []interface{}:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = FromNative(e)
		}
		return Array(vs...)
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromNative(e)
		}
		return Map(m)
	default:
		return Null()
	}
}

// MarshalJSON implements json.Marshaler via the Native() projection.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

// UnmarshalJSON implements json.Unmarshaler via FromNative.
func (v *Value) UnmarshalJSON(data []byte) error {
	var n interface{}
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = FromNative(n)
	return nil
}

// DeepMerge merges src into dst per the call-buffer semantics: nested maps
// merge recursively, arrays and scalars are replaced outright, and later
// writes win on conflicts.
func DeepMerge(dst, src Value) Value {
	if src.kind != KindMap || dst.kind != KindMap {
		return src
	}
	out := make(map[string]Value, len(dst.m)+len(src.m))
	for k, v := range dst.m {
		out[k] = v
	}
	for k, v := range src.m {
		if existing, ok := out[k]; ok && existing.kind == KindMap && v.kind == KindMap {
			out[k] = DeepMerge(existing, v)
		} else {
			out[k] = v
		}
	}
	return Map(out)
}

// SortedKeys returns a map Value's keys in deterministic order, useful for
// stable iteration in tests and logging.
func SortedKeys(v Value) []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
