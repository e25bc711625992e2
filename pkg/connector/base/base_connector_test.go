package base

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexdata/vortex/pkg/connector/core"
	"github.com/vortexdata/vortex/pkg/errors"
)

func newTestBase() *BaseConnector {
	return NewBaseConnector(
		core.Metadata{ID: "test", SourceType: "test"},
		core.Capabilities{},
	)
}

func okConnect(ctx context.Context) (string, error) { return "backend/1.0", nil }

func TestRunConnectTransitionsToConnected(t *testing.T) {
	bc := newTestBase()

	var changes []core.StateChange
	bc.OnStateChange(func(c core.StateChange) { changes = append(changes, c) })

	result, err := bc.RunConnect(context.Background(), okConnect)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "backend/1.0", result.BackendVersion)
	assert.Equal(t, core.StateConnected, bc.State())

	require.Len(t, changes, 2)
	assert.Equal(t, core.StateConnecting, changes[0].New)
	assert.Equal(t, core.StateConnected, changes[1].New)
}

func TestConnectWhileConnectedShortCircuits(t *testing.T) {
	bc := newTestBase()

	first, err := bc.RunConnect(context.Background(), okConnect)
	require.NoError(t, err)

	attempts := 0
	var changes []core.StateChange
	bc.OnStateChange(func(c core.StateChange) { changes = append(changes, c) })

	second, err := bc.RunConnect(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		return "", nil
	})
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, "already connected", second.Message)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Zero(t, attempts, "backend must not be touched")
	assert.Empty(t, changes, "no state change on an already-connected connect")
}

func TestConnectFailureEntersErrorState(t *testing.T) {
	bc := newTestBase()
	bc.retry = NoRetryPolicy()

	result, err := bc.RunConnect(context.Background(), func(ctx context.Context) (string, error) {
		return "", errors.New(errors.ErrorTypeAuthentication, "bad credentials")
	})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, core.StateError, bc.State())
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))

	// Error state is recoverable by a fresh Connect.
	result, err = bc.RunConnect(context.Background(), okConnect)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, core.StateConnected, bc.State())
}

func TestConnectRetriesTransientFailures(t *testing.T) {
	bc := newTestBase()
	bc.retry = NewRetryPolicy(3, time.Millisecond)

	attempts := 0
	result, err := bc.RunConnect(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New(errors.ErrorTypeConnection, "transient")
		}
		return "backend/1.0", nil
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, attempts)
}

func TestConnectDoesNotRetryNonRetryable(t *testing.T) {
	bc := newTestBase()
	bc.retry = NewRetryPolicy(5, time.Millisecond)

	attempts := 0
	_, err := bc.RunConnect(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		return "", errors.New(errors.ErrorTypeValidation, "permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDisconnectWhileDisconnectedIsIdempotent(t *testing.T) {
	bc := newTestBase()

	var changes []core.StateChange
	bc.OnStateChange(func(c core.StateChange) { changes = append(changes, c) })

	already, err := bc.RunDisconnect(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, already, "disconnect while disconnected reports true")
	assert.Empty(t, changes, "no state change event may fire")
}

func TestDisconnectClearsSession(t *testing.T) {
	bc := newTestBase()
	_, err := bc.RunConnect(context.Background(), okConnect)
	require.NoError(t, err)
	require.NotEmpty(t, bc.SessionID())

	already, err := bc.RunDisconnect(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, core.StateDisconnected, bc.State())
	assert.Empty(t, bc.SessionID())
}

func TestRequireConnected(t *testing.T) {
	bc := newTestBase()
	err := bc.RequireConnected()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))

	_, err = bc.RunConnect(context.Background(), okConnect)
	require.NoError(t, err)
	assert.NoError(t, bc.RequireConnected())
}

func TestClassifyFailureDistinguishesTimeoutFromCancel(t *testing.T) {
	bc := newTestBase()

	caller := context.Background()
	timedOut, cancel := context.WithTimeout(caller, time.Nanosecond)
	defer cancel()
	<-timedOut.Done()

	err := bc.ClassifyFailure(caller, timedOut, timedOut.Err())
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))

	cancelled, cancelFn := context.WithCancel(context.Background())
	cancelFn()
	err = bc.ClassifyFailure(cancelled, cancelled, cancelled.Err())
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
}

func TestClassifyFailurePreservesTypedErrors(t *testing.T) {
	bc := newTestBase()
	ctx := context.Background()

	// An extraction error from the backend keeps its type instead of
	// being relabeled as a retryable connection failure.
	typed := errors.New(errors.ErrorTypeExtraction, "relation does not exist")
	err := bc.ClassifyFailure(ctx, ctx, typed)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExtraction))
	assert.False(t, errors.IsRetryable(err))

	validation := errors.New(errors.ErrorTypeValidation, "bad parameter")
	assert.True(t, errors.IsType(bc.ClassifyFailure(ctx, ctx, validation), errors.ErrorTypeValidation))

	// Untyped driver errors still default to the connection type.
	err = bc.ClassifyFailure(ctx, ctx, fmt.Errorf("dial tcp: connection refused"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.True(t, errors.IsRetryable(err))
}

func TestRetryPolicyDelaysGrow(t *testing.T) {
	rp := &RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
	}
	assert.Equal(t, time.Second, rp.GetDelay(0))
	assert.Equal(t, 2*time.Second, rp.GetDelay(1))
	assert.Equal(t, 4*time.Second, rp.GetDelay(2))

	rp.MaxDelay = 3 * time.Second
	assert.Equal(t, 3*time.Second, rp.GetDelay(5))
}

func TestProgressReporterCadence(t *testing.T) {
	bc := newTestBase()

	var events []core.Progress
	bc.OnProgress(func(p core.Progress) { events = append(events, p) })

	pr := bc.NewProgressReporter(1000, 100, "start")
	require.Len(t, events, 1, "initial notification")

	for i := 0; i < 10; i++ {
		pr.Add(50, "")
	}
	// 500 rows at cadence 100 fires on each boundary crossing.
	assert.GreaterOrEqual(t, len(events), 5)

	pr.Finish("done")
	last := events[len(events)-1]
	assert.Equal(t, int64(500), last.Current)
	assert.Equal(t, pr.OperationID(), last.OperationID)
}
