// Package types defines the dynamic value graph (spec §3 "Value grammar")
// that the codec, WAL, and filter engine all walk, plus the Record tuple
// stored under each key.
package types

import "fmt"

// Kind tags a Value's underlying representation; it doubles as the wire
// tag byte used by the binary codec (§4.1).
type Kind byte

const (
	KindNull   Kind = 0x00
	KindBool   Kind = 0x01
	KindI32    Kind = 0x02
	KindF64    Kind = 0x03
	KindString Kind = 0x04
	KindArray  Kind = 0x05
	KindObject Kind = 0x06
	KindDate   Kind = 0x07
)

// ObjectEntry is one key/value pair of an Object, in insertion order.
// Order is preserved but not semantically required (spec §9).
type ObjectEntry struct {
	Key   string
	Value Value
}

// Value is the tagged sum type Null | Bool | I32 | F64 | Str | Arr[Value] |
// Obj[(Str,Value)] | Date(i64) described in spec §9.
type Value struct {
	Kind Kind

	Bool   bool
	I32    int32
	F64    float64
	Str    string
	Arr    []Value
	Obj    []ObjectEntry
	DateMS int64
}

func Null() Value                 { return Value{Kind: KindNull} }
func Bool(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func I32(i int32) Value           { return Value{Kind: KindI32, I32: i} }
func F64(f float64) Value         { return Value{Kind: KindF64, F64: f} }
func String(s string) Value       { return Value{Kind: KindString, Str: s} }
func Array(v []Value) Value       { return Value{Kind: KindArray, Arr: v} }
func Object(v []ObjectEntry) Value { return Value{Kind: KindObject, Obj: v} }
func Date(ms int64) Value         { return Value{Kind: KindDate, DateMS: ms} }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// ObjectGet looks up a single key within an Object value. The filter
// engine's path walker does not use it; it walks Native() maps instead.
func (v Value) ObjectGet(key string) (Value, bool) {
	if v.Kind != KindObject {
		return Value{}, false
	}
	for _, e := range v.Obj {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Native converts a Value into a plain Go value (map[string]any,
// []any, string, float64, bool, int32, int64 for dates, or nil) suitable
// for JSON encoding on the WAL line, or for the filter engine to compare
// against caller-supplied Go literals.
func (v Value) Native() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindI32:
		return v.I32
	case KindF64:
		return v.F64
	case KindString:
		return v.Str
	case KindDate:
		return v.DateMS
	case KindArray:
		out := make([]interface{}, len(v.Arr))
		for i, e := range v.Arr {
			out[i] = e.Native()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.Obj))
		for _, e := range v.Obj {
			out[e.Key] = e.Value.Native()
		}
		return out
	default:
		return nil
	}
}

// FromNative converts an arbitrary Go value (as produced by encoding/json
// Unmarshal into interface{}, or supplied directly by a caller) into a
// Value, per the coercion rules of spec §3: integers outside int32 range
// become f64; unsupported/unknown types are coerced to their string
// representation.
func FromNative(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case int:
		return fromInt64(int64(x))
	case int32:
		return I32(x)
	case int64:
		return fromInt64(x)
	case float32:
		return F64(float64(x))
	case float64:
		if isIntegral32(x) {
			return I32(int32(x))
		}
		return F64(x)
	case string:
		return String(x)
	case []interface{}:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = FromNative(e)
		}
		return Array(out)
	case []Value:
		return Array(x)
	case map[string]interface{}:
		out := make([]ObjectEntry, 0, len(x))
		for k, val := range x {
			out = append(out, ObjectEntry{Key: k, Value: FromNative(val)})
		}
		return Object(out)
	case []ObjectEntry:
		return Object(x)
	case Value:
		return x
	default:
		return String(fmt.Sprintf("%v", x))
	}
}

func fromInt64(x int64) Value {
	if x >= -(1<<31) && x <= (1<<31)-1 {
		return I32(int32(x))
	}
	return F64(float64(x))
}

func isIntegral32(f float64) bool {
	if f != float64(int32(f)) {
		return false
	}
	return true
}
