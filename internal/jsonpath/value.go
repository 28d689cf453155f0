// Package jsonpath provides a tagged JSON value and dotted-path lookup over
// it. Numeric path segments index arrays; any missing segment yields a
// not-found result instead of an error.
package jsonpath

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind tags the dynamic type held by a Value.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "null"
	}
}

// Value is an immutable decoded JSON value.
type Value struct {
	kind Kind
	b    bool
	num  json.Number
	str  string
	arr  []Value
	obj  map[string]Value
}

// Parse decodes a single JSON document. Numbers keep their source text so
// re-rendering never changes precision.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("jsonpath: decode: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, errors.New("jsonpath: trailing data after document")
	}
	return FromAny(raw), nil
}

// FromAny converts the output of encoding/json (with or without UseNumber)
// into a Value.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{kind: Null}
	case bool:
		return Value{kind: Bool, b: t}
	case json.Number:
		return Value{kind: Number, num: t}
	case float64:
		return Value{kind: Number, num: json.Number(strconv.FormatFloat(t, 'f', -1, 64))}
	case int:
		return Value{kind: Number, num: json.Number(strconv.Itoa(t))}
	case int64:
		return Value{kind: Number, num: json.Number(strconv.FormatInt(t, 10))}
	case string:
		return Value{kind: String, str: t}
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			arr[i] = FromAny(e)
		}
		return Value{kind: Array, arr: arr}
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			obj[k] = FromAny(e)
		}
		return Value{kind: Object, obj: obj}
	default:
		return Value{kind: String, str: fmt.Sprint(t)}
	}
}

// Kind returns the dynamic type of v.
func (v Value) Kind() Kind { return v.kind }

// Lookup walks a dotted path such as "items.0.full_name". An empty path
// returns v itself.
func (v Value) Lookup(path string) (Value, bool) {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			continue
		}
		switch cur.kind {
		case Array:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur.arr) {
				return Value{}, false
			}
			cur = cur.arr[idx]
		case Object:
			next, ok := cur.obj[seg]
			if !ok {
				return Value{}, false
			}
			cur = next
		default:
			return Value{}, false
		}
	}
	return cur, true
}

// Decimal returns the numeric value of a number, or of a string holding a
// decimal literal.
func (v Value) Decimal() (decimal.Decimal, bool) {
	var text string
	switch v.kind {
	case Number:
		text = v.num.String()
	case String:
		text = strings.TrimSpace(v.str)
	default:
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// Text returns the string payload when v is a string.
func (v Value) Text() (string, bool) {
	if v.kind != String {
		return "", false
	}
	return v.str, true
}

// String renders v for template substitution: strings verbatim, scalars in
// their JSON form, containers as compact JSON.
func (v Value) String() string {
	switch v.kind {
	case Null:
		return "null"
	case Bool:
		return strconv.FormatBool(v.b)
	case Number:
		return v.num.String()
	case String:
		return v.str
	default:
		var buf bytes.Buffer
		v.writeJSON(&buf)
		return buf.String()
	}
}

// MarshalJSON encodes v with object keys in sorted order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	v.writeJSON(&buf)
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) {
	switch v.kind {
	case Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(v.b))
	case Number:
		buf.WriteString(v.num.String())
	case String:
		b, _ := json.Marshal(v.str)
		buf.Write(b)
	case Array:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			e.writeJSON(buf)
		}
		buf.WriteByte(']')
	case Object:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			v.obj[k].writeJSON(buf)
		}
		buf.WriteByte('}')
	}
}
