package record

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Metadata is an open key/value map attached to a record. Values are
// restricted to a JSON-compatible set so every driver can serialize them
// without reflection surprises.
type Metadata map[string]Value

// ValueKind enumerates the JSON-compatible types a metadata value can hold.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindObject
)

// Value is a typed, JSON-compatible metadata value.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	list []Value
	obj  map[string]Value
}

// Null returns the null metadata value.
func Null() Value { return Value{kind: KindNull} }

// String wraps s as a metadata value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps n as a metadata value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool wraps b as a metadata value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List wraps vs as a metadata value.
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// Object wraps m as a metadata value.
func Object(m map[string]Value) Value { return Value{kind: KindObject, obj: m} }

// Kind returns the value's type tag.
func (v Value) Kind() ValueKind { return v.kind }

// AsString returns the string payload and whether the value holds one.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the numeric payload and whether the value holds one.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the boolean payload and whether the value holds one.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsList returns the list payload and whether the value holds one.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsObject returns the object payload and whether the value holds one.
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// MarshalJSON serializes the value as its plain JSON equivalent.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	}
	return nil, fmt.Errorf("unknown metadata value kind %d", v.kind)
}

// UnmarshalJSON parses any JSON value into the matching kind.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts a decoded-JSON Go value (string, float64, bool, nil,
// []any, map[string]any) into a Value. Unsupported types error out rather
// than being coerced.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(x), nil
	case float64:
		return Number(x), nil
	case int:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case bool:
		return Bool(x), nil
	case []any:
		list := make([]Value, 0, len(x))
		for _, item := range x {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			list = append(list, v)
		}
		return List(list...), nil
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, item := range x {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			obj[k] = v
		}
		return Object(obj), nil
	}
	return Value{}, fmt.Errorf("unsupported metadata value type %T", raw)
}

// MetadataFromAny converts a decoded-JSON map into Metadata. A nil map
// yields nil metadata.
func MetadataFromAny(raw map[string]any) (Metadata, error) {
	if raw == nil {
		return nil, nil
	}
	out := make(Metadata, len(raw))
	for k, item := range raw {
		v, err := FromAny(item)
		if err != nil {
			return nil, fmt.Errorf("metadata key %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Clone deep-copies the metadata map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v.clone()
	}
	return out
}

// Keys returns the metadata keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns the union of m and other. On key conflict m wins; the
// overridden keys are returned so callers can log them.
func (m Metadata) Merge(other Metadata) (Metadata, []string) {
	out := m.Clone()
	if out == nil {
		out = Metadata{}
	}
	var conflicts []string
	for k, v := range other {
		if _, ok := out[k]; ok {
			conflicts = append(conflicts, k)
			continue
		}
		out[k] = v.clone()
	}
	sort.Strings(conflicts)
	return out, conflicts
}

func (v Value) clone() Value {
	out := v
	if v.list != nil {
		out.list = make([]Value, len(v.list))
		for i, item := range v.list {
			out.list[i] = item.clone()
		}
	}
	if v.obj != nil {
		out.obj = make(map[string]Value, len(v.obj))
		for k, item := range v.obj {
			out.obj[k] = item.clone()
		}
	}
	return out
}
