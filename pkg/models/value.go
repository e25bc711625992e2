// Package models provides the data model shared by every Vortex connector:
// the tagged Value union carried in extracted rows, the Row type the
// transformation engine operates on, and the structure descriptors returned
// by schema discovery.
//
// Values are a closed union so that transformation rules can switch
// exhaustively over Kind instead of runtime type-testing arbitrary
// interface{} payloads.
package models

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the concrete type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTimestamp
	KindBinary
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the types a backend can produce. The zero
// Value is null.
type Value struct {
	kind Kind
	str  string
	num  int64
	flt  float64
	b    bool
	ts   time.Time
	bin  []byte
}

// Null returns the null value
func Null() Value { return Value{} }

// String wraps a string
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int wraps an integer
func Int(i int64) Value { return Value{kind: KindInt, num: i} }

// Float wraps a float
func Float(f float64) Value { return Value{kind: KindFloat, flt: f} }

// Bool wraps a bool
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Timestamp wraps a time
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, ts: t} }

// Binary wraps a byte slice
func Binary(b []byte) Value { return Value{kind: KindBinary, bin: b} }

// Kind returns the tag of the union
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null
func (v Value) IsNull() bool { return v.kind == KindNull }

// StringValue returns the held string (empty unless KindString)
func (v Value) StringValue() string { return v.str }

// IntValue returns the held integer (zero unless KindInt)
func (v Value) IntValue() int64 { return v.num }

// FloatValue returns the held float (zero unless KindFloat)
func (v Value) FloatValue() float64 { return v.flt }

// BoolValue returns the held bool (false unless KindBool)
func (v Value) BoolValue() bool { return v.b }

// TimeValue returns the held timestamp (zero unless KindTimestamp)
func (v Value) TimeValue() time.Time { return v.ts }

// BinaryValue returns the held bytes (nil unless KindBinary)
func (v Value) BinaryValue() []byte { return v.bin }

// FromAny converts a loosely typed backend value into a Value. Unknown
// types fall back to their string rendering.
func FromAny(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case []byte:
		return Binary(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case time.Time:
		return Timestamp(t)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// Transport renders the value in its transport-safe form: binary becomes
// base64, timestamps become canonical RFC 3339 UTC strings, everything
// else its literal rendering. Null renders as the empty string.
func (v Value) Transport() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTimestamp:
		return v.ts.UTC().Format(time.RFC3339Nano)
	case KindBinary:
		return base64.StdEncoding.EncodeToString(v.bin)
	default:
		return ""
	}
}

// asTime attempts instant coercion: timestamps directly, strings through
// RFC 3339 parsing. Continuation tokens carry timestamp boundaries in
// their transport rendering, so a replayed boundary string must order as
// an instant against timestamp columns, not as text.
func (v Value) asTime() (time.Time, bool) {
	switch v.kind {
	case KindTimestamp:
		return v.ts, true
	case KindString:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v.str))
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

// asFloat attempts numeric coercion of the value.
func (v Value) asFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.num), true
	case KindFloat:
		return v.flt, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindTimestamp:
		return float64(v.ts.UnixNano()), true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Compare orders two values for tracking-field progression. When either
// side is a timestamp, instant coercion is attempted first so RFC 3339
// boundary strings order chronologically; numeric coercion follows, and
// when neither applies the comparison falls back to the transport string
// ordering. Nulls sort before everything. Returns -1, 0 or 1.
//
// The string fallback is lexicographic, so mixed-kind tracking fields
// such as "10" vs 9 do not order numerically; tracking columns should be
// kept to one kind.
func (v Value) Compare(other Value) int {
	if v.kind == KindNull || other.kind == KindNull {
		switch {
		case v.kind == other.kind:
			return 0
		case v.kind == KindNull:
			return -1
		default:
			return 1
		}
	}

	if v.kind == KindTimestamp || other.kind == KindTimestamp {
		if a, ok := v.asTime(); ok {
			if b, ok := other.asTime(); ok {
				switch {
				case a.Before(b):
					return -1
				case a.After(b):
					return 1
				default:
					return 0
				}
			}
		}
	}

	if a, ok := v.asFloat(); ok {
		if b, ok := other.asFloat(); ok {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			default:
				return 0
			}
		}
	}

	return strings.Compare(v.Transport(), other.Transport())
}

// Equal reports value equality using Compare semantics plus kind-aware
// binary comparison.
func (v Value) Equal(other Value) bool {
	if v.kind == KindBinary || other.kind == KindBinary {
		return v.kind == other.kind && string(v.bin) == string(other.bin)
	}
	return v.Compare(other) == 0
}
