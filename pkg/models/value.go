// Package models defines the data model shared by every engine component.
package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Kind discriminates the closed set of value shapes a query body or row
// cell may take. Adding a kind requires updating every switch in this
// package; the compiler flags the rest of the engine through the
// accessor methods.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a tagged variant holding one JSON-shaped value. The zero
// Value is Null.
type Value struct {
	kind Kind
	b    bool
	num  float64
	str  string
	arr  []Value
	obj  map[string]Value
}

// Constructors.

func Null() Value                     { return Value{} }
func Bool(b bool) Value               { return Value{kind: KindBool, b: b} }
func Number(n float64) Value          { return Value{kind: KindNumber, num: n} }
func String(s string) Value           { return Value{kind: KindString, str: s} }
func Array(items ...Value) Value      { return Value{kind: KindArray, arr: items} }
func Object(m map[string]Value) Value { return Value{kind: KindObject, obj: m} }

// Kind returns the value's discriminant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload, or false for any other kind.
func (v Value) Bool() bool { return v.kind == KindBool && v.b }

// Number returns the numeric payload, or 0 for any other kind.
func (v Value) Number() float64 {
	if v.kind == KindNumber {
		return v.num
	}
	return 0
}

// Str returns the string payload, or "" for any other kind.
func (v Value) Str() string {
	if v.kind == KindString {
		return v.str
	}
	return ""
}

// Array returns the array payload, or nil for any other kind.
func (v Value) Array() []Value {
	if v.kind == KindArray {
		return v.arr
	}
	return nil
}

// Object returns the object payload, or nil for any other kind.
func (v Value) Object() map[string]Value {
	if v.kind == KindObject {
		return v.obj
	}
	return nil
}

// Get looks up a field on an object value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Null(), false
	}
	val, ok := v.obj[key]
	return val, ok
}

// GetString returns a string field of an object, or "" when absent or
// not a string.
func (v Value) GetString(key string) string {
	val, _ := v.Get(key)
	return val.Str()
}

// Set returns a shallow copy of an object value with one field
// replaced. Calling Set on a non-object yields a fresh object.
func (v Value) Set(key string, val Value) Value {
	next := make(map[string]Value, len(v.obj)+1)
	for k, existing := range v.obj {
		next[k] = existing
	}
	next[key] = val
	return Object(next)
}

// Keys returns an object's field names in sorted order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports deep equality. NaN never equals anything, matching SQL
// join semantics.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.num == o.num && !math.IsNaN(v.num)
	case KindString:
		return v.str == o.str
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, val := range v.obj {
			other, ok := o.obj[k]
			if !ok || !val.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare imposes a total order for sorting: null < bool < number <
// string < array < object; composite kinds fall back to their JSON
// text, which keeps the order stable if arbitrary.
func Compare(a, b Value) int {
	if a.kind != b.kind {
		return int(a.kind) - int(b.kind)
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindBool:
		if a.b == b.b {
			return 0
		}
		if !a.b {
			return -1
		}
		return 1
	case KindNumber:
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		default:
			return 0
		}
	case KindString:
		return strings.Compare(a.str, b.str)
	default:
		return strings.Compare(a.String(), b.String())
	}
}

// String renders the value as compact JSON. Used for logs and for size
// accounting in the validator.
func (v Value) String() string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<unencodable %s>", v.kind)
	}
	return string(data)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if v.num == math.Trunc(v.num) && math.Abs(v.num) < 1e15 {
			return json.Marshal(int64(v.num))
		}
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// FromAny converts a dynamically typed payload (driver results,
// decoded JSON) into the closed variant. Unrepresentable types fall
// back to their string form so a row never drops a cell.
func FromAny(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int:
		return Number(float64(t))
	case int8:
		return Number(float64(t))
	case int16:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint8:
		return Number(float64(t))
	case uint16:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case float32:
		return Number(float64(t))
	case float64:
		return Number(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case string:
		return String(t)
	case time.Time:
		return String(t.UTC().Format(time.RFC3339))
	case []byte:
		return String(string(t))
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return Array(items...)
	case map[string]interface{}:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			fields[k] = FromAny(item)
		}
		return Object(fields)
	case Value:
		return t
	case fmt.Stringer:
		return String(t.String())
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// ToAny converts back to dynamically typed form for driver payloads.
func (v Value) ToAny() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		if v.num == math.Trunc(v.num) && math.Abs(v.num) < 1e15 {
			return int64(v.num)
		}
		return v.num
	case KindString:
		return v.str
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.ToAny()
		}
		return out
	}
	return nil
}

// Strings coerces a parameter that may be a single string or an array
// of strings into a slice. Used for sort keys, column lists and step
// inputs, which the upstream generator emits in either shape.
func (v Value) Strings() []string {
	switch v.kind {
	case KindString:
		return []string{v.str}
	case KindArray:
		out := make([]string, 0, len(v.arr))
		for _, item := range v.arr {
			if item.kind == KindString {
				out = append(out, item.str)
			}
		}
		return out
	default:
		return nil
	}
}
