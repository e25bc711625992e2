package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAny(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   interface{}
		kind Kind
	}{
		{"nil", nil, KindNull},
		{"string", "hello", KindString},
		{"bytes", []byte{0x01}, KindBinary},
		{"bool", true, KindBool},
		{"int", 42, KindInt},
		{"int64", int64(42), KindInt},
		{"float64", 4.2, KindFloat},
		{"time", ts, KindTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, FromAny(tt.in).Kind())
		})
	}
}

func TestTransport(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))

	assert.Equal(t, "", Null().Transport())
	assert.Equal(t, "42", Int(42).Transport())
	assert.Equal(t, "4.25", Float(4.25).Transport())
	assert.Equal(t, "true", Bool(true).Transport())
	// Binary travels as base64.
	assert.Equal(t, "AQID", Binary([]byte{1, 2, 3}).Transport())
	// Timestamps travel as canonical RFC 3339 UTC.
	assert.Equal(t, "2024-03-01T11:30:00Z", Timestamp(ts).Transport())
}

func TestCompareNumericCoercion(t *testing.T) {
	// Numeric coercion applies before any string fallback.
	assert.Equal(t, 1, Int(10).Compare(Int(9)))
	assert.Equal(t, 1, Float(10).Compare(Int(9)))
	assert.Equal(t, 1, String("10").Compare(Int(9)))
	assert.Equal(t, -1, String("9").Compare(String("10")))
	assert.Equal(t, 0, Int(7).Compare(Float(7)))
}

func TestCompareNulls(t *testing.T) {
	assert.Equal(t, -1, Null().Compare(Int(0)))
	assert.Equal(t, 1, Int(0).Compare(Null()))
	assert.Equal(t, 0, Null().Compare(Null()))
}

func TestCompareTimestamps(t *testing.T) {
	early := Timestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	late := Timestamp(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, -1, early.Compare(late))
	assert.Equal(t, 1, late.Compare(early))
}

func TestCompareTimestampAgainstBoundaryString(t *testing.T) {
	whole := Timestamp(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC))
	fractional := Timestamp(time.Date(2024, 1, 1, 0, 0, 1, 250_000_000, time.UTC))

	// A replayed incremental boundary arrives as the transport string of
	// the prior maximum; instants with fractional seconds past it must
	// still sort above it, not below it as text ('.' < 'Z').
	boundary := String(whole.Transport())
	assert.Equal(t, 1, fractional.Compare(boundary))
	assert.Equal(t, -1, boundary.Compare(fractional))
	assert.Equal(t, 0, whole.Compare(boundary))
	assert.Equal(t, 0, boundary.Compare(whole))

	// Equivalent instants in different zones compare equal as strings too.
	cet := String("2024-01-01T01:00:01+01:00")
	assert.Equal(t, 0, whole.Compare(cet))
}

func TestCompareMixedKindFallback(t *testing.T) {
	// Non-numeric strings fall back to lexicographic ordering; tracking
	// columns should be kept to one kind.
	assert.Equal(t, -1, String("abc").Compare(String("abd")))
	// "b" cannot coerce, so it is compared against "999" as text.
	assert.Equal(t, 1, String("b").Compare(Int(999)))
}

func TestRowCloneIsolatesBinary(t *testing.T) {
	buf := []byte{1, 2, 3}
	row := Row{"payload": Binary(buf)}
	clone := row.Clone()

	buf[0] = 99
	require.Equal(t, byte(1), clone["payload"].BinaryValue()[0])
}

func TestRowProject(t *testing.T) {
	row := Row{"a": Int(1), "b": Int(2), "c": Int(3)}

	all := row.Project(nil)
	assert.Len(t, all, 3)

	some := row.Project([]string{"a", "c", "missing"})
	assert.Len(t, some, 2)
	assert.Equal(t, int64(1), some["a"].IntValue())
}
