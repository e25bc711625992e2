package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexdata/vortex/pkg/errors"
)

func TestTokenEncodeDecode(t *testing.T) {
	tok := ContinuationToken{Target: "orders", TrackingField: "updated_at", Value: "2024-03-01T00:00:00Z"}
	raw := tok.Encode()
	assert.Equal(t, "orders|updated_at|2024-03-01T00:00:00Z", raw)

	decoded, err := DecodeToken(raw)
	require.NoError(t, err)
	assert.Equal(t, tok, decoded)
	assert.False(t, decoded.IsOffset())
}

func TestOffsetToken(t *testing.T) {
	tok := ContinuationToken{Target: "orders", Value: "5000"}
	raw := tok.Encode()
	assert.Equal(t, "orders|5000", raw)

	decoded, err := DecodeToken(raw)
	require.NoError(t, err)
	assert.True(t, decoded.IsOffset())
	assert.Equal(t, "5000", decoded.Value)
}

func TestDecodeTokenMalformed(t *testing.T) {
	for _, raw := range []string{"", "justone", "a|b|c|d", "|5000", "|field|1"} {
		_, err := DecodeToken(raw)
		require.Error(t, err, "raw=%q", raw)
		assert.True(t, errors.IsType(err, errors.ErrorTypeExtraction))
	}
}

func TestDecodeTokenForWrongTarget(t *testing.T) {
	raw := ContinuationToken{Target: "orders", TrackingField: "id", Value: "10"}.Encode()

	_, err := DecodeTokenFor(raw, "customers")
	require.Error(t, err)

	// Target matching is case-insensitive.
	tok, err := DecodeTokenFor(raw, "Orders")
	require.NoError(t, err)
	assert.Equal(t, "10", tok.Value)
}

func TestStateTransitions(t *testing.T) {
	legal := []struct{ from, to ConnectionState }{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateConnected},
		{StateConnecting, StateError},
		{StateConnected, StateDisconnecting},
		{StateDisconnecting, StateDisconnected},
		{StateDisconnecting, StateError},
		{StateError, StateConnecting},
	}
	for _, tr := range legal {
		assert.True(t, tr.from.CanTransition(tr.to), "%s -> %s", tr.from, tr.to)
	}

	illegal := []struct{ from, to ConnectionState }{
		{StateDisconnected, StateConnected},
		{StateConnected, StateConnecting},
		{StateError, StateDisconnected},
		{StateConnected, StateConnected},
	}
	for _, tr := range illegal {
		assert.False(t, tr.from.CanTransition(tr.to), "%s -> %s", tr.from, tr.to)
	}
}

func TestExtractionParameterHelpers(t *testing.T) {
	p := &ExtractionParameters{TargetStructures: []string{"*"}}
	assert.True(t, p.WantsAllStructures())
	assert.Equal(t, 500, p.EffectiveBatchSize(500))
	assert.Equal(t, 1000, p.EffectiveBatchSize(0))

	p = &ExtractionParameters{TargetStructures: []string{"orders"}, BatchSize: 50, MaxRecords: 10}
	assert.False(t, p.WantsAllStructures())
	assert.Equal(t, 50, p.EffectiveBatchSize(500))
	assert.Equal(t, 10, p.EffectiveLimit(0))
}
