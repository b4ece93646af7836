package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Kind enumerates the variants of a decoded document Value.
type Kind int

// Value kinds.
const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a decoded document node: Null, a scalar, a List or an ordered Map.
// The zero Value is Null. Values are immutable once built.
type Value struct {
	kind   Kind
	scalar string
	b      bool
	items  []Value
	keys   []string
	fields map[string]Value
}

// Field is one key/value pair of a Map.
type Field struct {
	Key   string
	Value Value
}

// Null returns the null Value.
func Null() Value { return Value{} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, scalar: s} }

// Number returns a number Value holding the literal n.
func Number(n json.Number) Value { return Value{kind: KindNumber, scalar: n.String()} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List returns a list Value.
func List(items ...Value) Value {
	return Value{kind: KindList, items: append([]Value{}, items...)}
}

// Map returns a map Value preserving the order of fields. A repeated key keeps
// its first position and its last value.
func Map(fields ...Field) Value {
	v := Value{kind: KindMap, fields: make(map[string]Value, len(fields))}
	for _, f := range fields {
		if _, seen := v.fields[f.Key]; !seen {
			v.keys = append(v.keys, f.Key)
		}
		v.fields[f.Key] = f.Value
	}
	return v
}

// Kind reports the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Get returns the value under key, or Null when v is not a Map or lacks key.
func (v Value) Get(key string) Value {
	if v.kind != KindMap {
		return Null()
	}
	return v.fields[key]
}

// Has reports whether v is a Map containing key.
func (v Value) Has(key string) bool {
	if v.kind != KindMap {
		return false
	}
	_, ok := v.fields[key]
	return ok
}

// Keys returns the keys of a Map in document order.
func (v Value) Keys() []string {
	return append([]string(nil), v.keys...)
}

// Items returns the elements of a List.
func (v Value) Items() []Value {
	return append([]Value(nil), v.items...)
}

// Len returns the number of list items or map fields.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.items)
	case KindMap:
		return len(v.keys)
	default:
		return 0
	}
}

// Str returns the string held by a String Value.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.scalar, true
}

// Text renders a scalar as text. Null, List and Map render as "".
func (v Value) Text() string {
	switch v.kind {
	case KindString, KindNumber:
		return v.scalar
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Float returns the numeric value of a Number, or of a String holding a number.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber && v.kind != KindString {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.scalar, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Int returns the integral value of a Number, or of a String holding one.
func (v Value) Int() (int, bool) {
	if v.kind != KindNumber && v.kind != KindString {
		return 0, false
	}
	n, err := strconv.Atoi(v.scalar)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Equal reports deep equality, including map key order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString, KindNumber:
		return v.scalar == o.scalar
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.keys) != len(o.keys) {
			return false
		}
		for i, k := range v.keys {
			if o.keys[i] != k || !v.fields[k].Equal(o.fields[k]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON encodes v preserving map key order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		b, err := json.Marshal(v.scalar)
		if err != nil {
			return fmt.Errorf("encode string: %w", err)
		}
		buf.Write(b)
	case KindNumber:
		buf.WriteString(v.scalar)
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("encode key: %w", err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := v.fields[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// UnmarshalJSON decodes data into v preserving map key order.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// Decode parses a JSON document into a Value, preserving map key order and
// number literals.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, fmt.Errorf("decode document: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("decode document: trailing data after top-level value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case json.Number:
		return Number(t), nil
	case bool:
		return Bool(t), nil
	case json.Delim:
		switch t {
		case '[':
			var items []Value
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return List(items...), nil
		case '{':
			var fields []Field
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("unexpected object key %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				fields = append(fields, Field{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Map(fields...), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}
