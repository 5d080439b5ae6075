package change

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrTypeMismatch reports a raw value that cannot be read as the type its
// field expects.
var ErrTypeMismatch = errors.New("change: value does not match field type")

// Value is an immutable int, bool or string field value. The zero Value is
// typeless and compares equal only to itself.
type Value struct {
	typ ValueType
	i   int64
	b   bool
	s   string
}

// Int wraps an integer.
func Int(v int64) Value { return Value{typ: TypeInt, i: v} }

// Bool wraps a boolean.
func Bool(v bool) Value { return Value{typ: TypeBool, b: v} }

// String wraps a string.
func String(v string) Value { return Value{typ: TypeString, s: v} }

// Type reports which variant v holds.
func (v Value) Type() ValueType { return v.typ }

// IsZero reports whether v holds nothing.
func (v Value) IsZero() bool { return v.typ == TypeNone }

// AsInt returns the integer and whether v holds one.
func (v Value) AsInt() (int64, bool) { return v.i, v.typ == TypeInt }

// AsBool returns the boolean and whether v holds one.
func (v Value) AsBool() (bool, bool) { return v.b, v.typ == TypeBool }

// AsString returns the string and whether v holds one.
func (v Value) AsString() (string, bool) { return v.s, v.typ == TypeString }

// Equal compares type and payload.
func (v Value) Equal(other Value) bool {
	return v == other
}

// String formats the value the way the display shows it.
func (v Value) String() string {
	switch v.typ {
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeString:
		return v.s
	default:
		return ""
	}
}

// MarshalJSON encodes the value as a bare JSON scalar (null when empty).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case TypeInt:
		return json.Marshal(v.i)
	case TypeBool:
		return json.Marshal(v.b)
	case TypeString:
		return json.Marshal(v.s)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a bare JSON scalar; numbers must be integral.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("change: decode string value: %w", err)
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("change: decode bool value: %w", err)
		}
		*v = Bool(b)
	default:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("change: decode int value: %w", err)
		}
		*v = Int(n)
	}
	return nil
}

// Classify reads raw widget text as the type the kind expects. Anything
// that is not cleanly of that type is ErrTypeMismatch, including text caught
// mid-edit such as "12a" or "".
func Classify(kind Kind, raw string) (Value, error) {
	switch kind.ValueType() {
	case TypeInt:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s wants int, got %q", ErrTypeMismatch, kind, raw)
		}
		return Int(n), nil
	case TypeBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s wants bool, got %q", ErrTypeMismatch, kind, raw)
		}
		return Bool(b), nil
	case TypeString:
		return String(raw), nil
	default:
		return Value{}, fmt.Errorf("%w: %s holds no editable value", ErrTypeMismatch, kind)
	}
}

// Coerce checks that v holds the type kind expects.
func Coerce(kind Kind, v Value) (Value, error) {
	if v.typ != kind.ValueType() || v.typ == TypeNone {
		return Value{}, fmt.Errorf("%w: %s wants %s, got %s", ErrTypeMismatch, kind, kind.ValueType(), v.typ)
	}
	return v, nil
}
