package synthetic

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexdata/vortex/pkg/config"
	"github.com/vortexdata/vortex/pkg/connector/core"
	"github.com/vortexdata/vortex/pkg/errors"
)

func connected(t *testing.T, params map[string]string) core.Connector {
	t.Helper()

	src := NewSource()
	cfg := config.NewConnectorConfiguration("syn-test", "synthetic under test", "tenant-1", params)
	require.NoError(t, src.Initialize(context.Background(), cfg))

	result, err := src.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)

	t.Cleanup(func() { _ = src.Close(context.Background()) })
	return src
}

func TestValidateConnection(t *testing.T) {
	src := NewSource()

	ok := src.ValidateConnection(map[string]string{"seed": "7", "row_count": "10"})
	assert.True(t, ok.Valid)

	bad := src.ValidateConnection(map[string]string{"seed": "x", "row_count": "-1"})
	assert.False(t, bad.Valid)
	assert.Len(t, bad.Errors, 2)
}

func TestExtractRequiresConnection(t *testing.T) {
	src := NewSource()
	cfg := config.NewConnectorConfiguration("syn", "syn", "", nil)
	require.NoError(t, src.Initialize(context.Background(), cfg))

	_, err := src.Extract(context.Background(), &core.ExtractionParameters{TargetStructures: []string{"events"}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestDiscoverStructures(t *testing.T) {
	src := connected(t, nil)

	all, err := src.DiscoverStructures(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	events, err := src.DiscoverStructures(context.Background(), "events")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"id"}, events[0].PrimaryKeys())
}

func TestFullExtractionPaginates(t *testing.T) {
	src := connected(t, map[string]string{"row_count": "250"})

	params := &core.ExtractionParameters{TargetStructures: []string{"events"}, MaxRecords: 100}
	first, err := src.Extract(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 100, first.RowCount)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.ContinuationToken)

	params.ContinuationToken = first.ContinuationToken
	second, err := src.Extract(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 100, second.RowCount)
	assert.NotEqual(t, first.Rows[0]["id"].IntValue(), second.Rows[0]["id"].IntValue())

	params.ContinuationToken = second.ContinuationToken
	last, err := src.Extract(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 50, last.RowCount)
	assert.False(t, last.HasMore)
	assert.Empty(t, last.ContinuationToken)
}

func TestIncrementalRoundTrip(t *testing.T) {
	const n = 120
	src := connected(t, map[string]string{"row_count": strconv.Itoa(n)})

	params := &core.ExtractionParameters{
		TargetStructures: []string{"events"},
		Incremental:      true,
		TrackingField:    "id",
	}

	first, err := src.Extract(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, n, first.RowCount)
	assert.Equal(t, "events|id|120", first.ContinuationToken)

	// Replaying the boundary token returns zero rows and does not move
	// the boundary.
	params.ContinuationToken = first.ContinuationToken
	second, err := src.Extract(context.Background(), params)
	require.NoError(t, err)
	assert.Zero(t, second.RowCount)
	assert.Equal(t, first.ContinuationToken, second.ContinuationToken)

	// New rows appear: exactly the new rows come back.
	grown := connected(t, map[string]string{"row_count": strconv.Itoa(n + 5)})
	third, err := grown.Extract(context.Background(), &core.ExtractionParameters{
		TargetStructures:  []string{"events"},
		Incremental:       true,
		TrackingField:     "id",
		ContinuationToken: first.ContinuationToken,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, third.RowCount)
	assert.Equal(t, "events|id|125", third.ContinuationToken)
}

func TestIncrementalRequiresKnownTrackingField(t *testing.T) {
	src := connected(t, nil)

	_, err := src.Extract(context.Background(), &core.ExtractionParameters{
		TargetStructures: []string{"events"},
		Incremental:      true,
		TrackingField:    "no_such_field",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExtraction))

	_, err = src.Extract(context.Background(), &core.ExtractionParameters{
		TargetStructures: []string{"events"},
		Incremental:      true,
	})
	require.Error(t, err)
}

func TestTokenForWrongStructureRejected(t *testing.T) {
	src := connected(t, nil)

	token := core.ContinuationToken{Target: "metrics", TrackingField: "id", Value: "10"}.Encode()
	_, err := src.Extract(context.Background(), &core.ExtractionParameters{
		TargetStructures:  []string{"events"},
		Incremental:       true,
		TrackingField:     "id",
		ContinuationToken: token,
	})
	require.Error(t, err)
}

func TestSyncVersionAgedOutRequiresFullReload(t *testing.T) {
	src := connected(t, map[string]string{"min_retained_version": "50"})

	_, err := src.Extract(context.Background(), &core.ExtractionParameters{
		TargetStructures: []string{"events"},
		Options:          map[string]string{"sync_version": "10"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full reload required")

	// A retained version proceeds normally.
	result, err := src.Extract(context.Background(), &core.ExtractionParameters{
		TargetStructures: []string{"events"},
		MaxRecords:       10,
		Options:          map[string]string{"sync_version": "60"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestCancellationReturnsPartialFailure(t *testing.T) {
	src := connected(t, map[string]string{"row_count": "5000"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := src.Extract(ctx, &core.ExtractionParameters{
		TargetStructures: []string{"events"},
		BatchSize:        100,
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
	assert.False(t, result.Success)
	assert.LessOrEqual(t, result.RowCount, 5000)
	assert.Empty(t, result.ContinuationToken, "no token may advance past an unflushed batch")
}

func TestDeterministicGeneration(t *testing.T) {
	a := connected(t, map[string]string{"seed": "7", "row_count": "20"})
	b := connected(t, map[string]string{"seed": "7", "row_count": "20"})

	ra, err := a.Extract(context.Background(), &core.ExtractionParameters{TargetStructures: []string{"events"}})
	require.NoError(t, err)
	rb, err := b.Extract(context.Background(), &core.ExtractionParameters{TargetStructures: []string{"events"}})
	require.NoError(t, err)

	require.Equal(t, ra.RowCount, rb.RowCount)
	for i := range ra.Rows {
		for k, v := range ra.Rows[i] {
			assert.True(t, v.Equal(rb.Rows[i][k]), "row %d field %s", i, k)
		}
	}
}

func TestTestConnectionLeavesNoState(t *testing.T) {
	src := NewSource()
	result, err := src.TestConnection(context.Background(), map[string]string{"seed": "1"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, core.StateDisconnected, src.State())
}
