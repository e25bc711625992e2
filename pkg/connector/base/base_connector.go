// Package base provides the foundational BaseConnector that all Vortex
// connectors embed. It owns the connection lifecycle state machine, the
// per-instance connect lock, state-change and progress listeners, retry
// policy for transient connect failures, extraction rate limiting, and
// the timeout plumbing shared by every backend family.
//
// Connectors embed BaseConnector and drive the lifecycle through
// RunConnect/RunDisconnect, which serialize transitions and emit
// state-changed notifications:
//
//	type MySource struct {
//	    *base.BaseConnector
//	    // backend-specific fields
//	}
package base

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vortexdata/vortex/pkg/config"
	"github.com/vortexdata/vortex/pkg/connector/core"
	"github.com/vortexdata/vortex/pkg/errors"
	"github.com/vortexdata/vortex/pkg/logger"
)

// BaseConnector provides the lifecycle and notification machinery shared
// by all connectors. One instance owns one logical connection.
type BaseConnector struct {
	metadata core.Metadata
	caps     core.Capabilities
	logger   *zap.Logger

	// Configuration, set by Initialize
	cfg     *config.ConnectorConfiguration
	base    *config.BaseConfig
	cfgMu   sync.RWMutex
	initSet bool

	// connMu serializes Connect/Disconnect and connection-dependent
	// setup. Extraction assumes an already-connected instance and does
	// not take it.
	connMu sync.Mutex

	stateMu   sync.RWMutex
	state     core.ConnectionState
	sessionID string
	closed    bool

	handlerMu        sync.RWMutex
	stateHandlers    []core.StateChangeHandler
	progressHandlers []core.ProgressHandler

	limiter *rate.Limiter
	retry   *RetryPolicy
}

// NewBaseConnector creates a base connector for the given metadata and
// capabilities.
func NewBaseConnector(metadata core.Metadata, caps core.Capabilities) *BaseConnector {
	return &BaseConnector{
		metadata: metadata,
		caps:     caps,
		state:    core.StateDisconnected,
		retry:    DefaultRetryPolicy(),
		logger:   logger.Get().With(zap.String("connector", metadata.ID)),
	}
}

// Metadata returns the immutable connector identity.
func (bc *BaseConnector) Metadata() core.Metadata { return bc.metadata }

// Capabilities returns the capability descriptor.
func (bc *BaseConnector) Capabilities() core.Capabilities { return bc.caps }

// State returns the current connection state.
func (bc *BaseConnector) State() core.ConnectionState {
	bc.stateMu.RLock()
	defer bc.stateMu.RUnlock()
	return bc.state
}

// SessionID returns the current backend session identifier, empty when
// disconnected.
func (bc *BaseConnector) SessionID() string {
	bc.stateMu.RLock()
	defer bc.stateMu.RUnlock()
	return bc.sessionID
}

// OnStateChange registers a state transition listener.
func (bc *BaseConnector) OnStateChange(handler core.StateChangeHandler) {
	bc.handlerMu.Lock()
	defer bc.handlerMu.Unlock()
	bc.stateHandlers = append(bc.stateHandlers, handler)
}

// OnProgress registers a progress listener.
func (bc *BaseConnector) OnProgress(handler core.ProgressHandler) {
	bc.handlerMu.Lock()
	defer bc.handlerMu.Unlock()
	bc.progressHandlers = append(bc.progressHandlers, handler)
}

// StoreConfiguration records the configuration handed to Initialize and
// derives performance settings. It never connects.
func (bc *BaseConnector) StoreConfiguration(cfg *config.ConnectorConfiguration, base *config.BaseConfig) {
	bc.cfgMu.Lock()
	defer bc.cfgMu.Unlock()
	bc.cfg = cfg
	bc.base = base
	bc.initSet = true

	if base != nil && base.Reliability.RateLimitPerSec > 0 {
		bc.limiter = rate.NewLimiter(rate.Limit(base.Reliability.RateLimitPerSec), base.Reliability.RateLimitPerSec)
	}
	if base != nil {
		bc.retry = NewRetryPolicy(base.Reliability.RetryAttempts, base.Reliability.RetryDelay).
			WithDelay(base.Reliability.RetryDelay, base.Reliability.MaxRetryDelay).
			WithMultiplier(base.Reliability.RetryMultiplier)
	}
}

// Configuration returns the stored connector configuration, nil before
// Initialize.
func (bc *BaseConnector) Configuration() *config.ConnectorConfiguration {
	bc.cfgMu.RLock()
	defer bc.cfgMu.RUnlock()
	return bc.cfg
}

// BaseConfig returns the stored performance configuration, nil before
// Initialize.
func (bc *BaseConnector) BaseConfig() *config.BaseConfig {
	bc.cfgMu.RLock()
	defer bc.cfgMu.RUnlock()
	return bc.base
}

// Initialized reports whether Initialize has stored a configuration.
func (bc *BaseConnector) Initialized() bool {
	bc.cfgMu.RLock()
	defer bc.cfgMu.RUnlock()
	return bc.initSet
}

// transition moves the state machine, emitting the state-changed
// notification. Illegal transitions are programmer errors.
func (bc *BaseConnector) transition(next core.ConnectionState) error {
	bc.stateMu.Lock()
	old := bc.state
	if !old.CanTransition(next) {
		bc.stateMu.Unlock()
		return errors.Newf(errors.ErrorTypeInternal, "illegal state transition %s -> %s", old, next)
	}
	bc.state = next
	bc.stateMu.Unlock()

	bc.logger.Debug("connection state changed",
		zap.String("old", string(old)),
		zap.String("new", string(next)))

	change := core.StateChange{ConnectorID: bc.metadata.ID, Old: old, New: next}
	bc.handlerMu.RLock()
	handlers := bc.stateHandlers
	bc.handlerMu.RUnlock()
	for _, h := range handlers {
		h(change)
	}
	return nil
}

// ConnectFunc builds a backend session and returns backend version/info.
type ConnectFunc func(ctx context.Context) (backendVersion string, err error)

// RunConnect serializes a connect attempt through the per-instance lock.
// Connecting while connected short-circuits into an "already connected"
// success without touching the backend. Transient failures are retried
// per the reliability configuration; the final failure transitions the
// instance to the error state.
func (bc *BaseConnector) RunConnect(ctx context.Context, connect ConnectFunc) (*core.ConnectResult, error) {
	bc.connMu.Lock()
	defer bc.connMu.Unlock()

	if bc.isClosed() {
		return nil, errors.New(errors.ErrorTypeInternal, "connector is closed")
	}

	if bc.State() == core.StateConnected {
		return &core.ConnectResult{
			Success:   true,
			SessionID: bc.SessionID(),
			Message:   "already connected",
		}, nil
	}

	if err := bc.transition(core.StateConnecting); err != nil {
		return nil, err
	}

	opCtx, cancel := bc.connectContext(ctx)
	defer cancel()

	var version string
	err := bc.retry.ExecuteWithCondition(opCtx, func() error {
		v, err := connect(opCtx)
		if err != nil {
			return err
		}
		version = v
		return nil
	}, errors.IsRetryable)

	if err != nil {
		_ = bc.transition(core.StateError)
		failure := bc.classifyFailure(ctx, opCtx, err)
		return &core.ConnectResult{
			Success: false,
			Message: failure.Error(),
			Errors:  []core.ValidationError{{Field: "", Message: failure.Error()}},
		}, failure
	}

	session := uuid.NewString()
	bc.stateMu.Lock()
	bc.sessionID = session
	bc.stateMu.Unlock()

	if err := bc.transition(core.StateConnected); err != nil {
		return nil, err
	}

	bc.logger.Info("connected",
		zap.String("session_id", session),
		zap.String("backend_version", version))

	return &core.ConnectResult{
		Success:        true,
		SessionID:      session,
		BackendVersion: version,
	}, nil
}

// RunDisconnect serializes a disconnect through the per-instance lock.
// It is idempotent: disconnecting while already disconnected (or in the
// error state, where no session exists) returns true without emitting a
// state-changed event.
func (bc *BaseConnector) RunDisconnect(ctx context.Context, disconnect func(ctx context.Context) error) (bool, error) {
	bc.connMu.Lock()
	defer bc.connMu.Unlock()

	switch bc.State() {
	case core.StateDisconnected, core.StateError:
		return true, nil
	}

	if err := bc.transition(core.StateDisconnecting); err != nil {
		return false, err
	}

	if err := disconnect(ctx); err != nil {
		_ = bc.transition(core.StateError)
		return false, errors.Wrap(err, errors.ErrorTypeConnection, "disconnect failed")
	}

	bc.stateMu.Lock()
	bc.sessionID = ""
	bc.stateMu.Unlock()

	if err := bc.transition(core.StateDisconnected); err != nil {
		return false, err
	}

	bc.logger.Info("disconnected")
	return false, nil
}

// RequireConnected guards connection-dependent operations.
func (bc *BaseConnector) RequireConnected() error {
	if s := bc.State(); s != core.StateConnected {
		return errors.Newf(errors.ErrorTypeConnection, "operation requires a connected instance (state: %s)", s)
	}
	return nil
}

// MarkClosed flags the instance as disposed.
func (bc *BaseConnector) MarkClosed() {
	bc.stateMu.Lock()
	defer bc.stateMu.Unlock()
	bc.closed = true
}

func (bc *BaseConnector) isClosed() bool {
	bc.stateMu.RLock()
	defer bc.stateMu.RUnlock()
	return bc.closed
}

// connectContext derives a linked context from the caller's plus the
// configured connection timeout.
func (bc *BaseConnector) connectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := 10 * time.Second
	if b := bc.BaseConfig(); b != nil && b.Timeouts.Connection > 0 {
		timeout = b.Timeouts.Connection
	}
	return context.WithTimeout(ctx, timeout)
}

// RequestContext derives a linked context from the caller's plus the
// configured request timeout.
func (bc *BaseConnector) RequestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := 30 * time.Second
	if b := bc.BaseConfig(); b != nil && b.Timeouts.Request > 0 {
		timeout = b.Timeouts.Request
	}
	return context.WithTimeout(ctx, timeout)
}

// classifyFailure distinguishes a configured timeout from caller
// cancellation. Errors the connector already typed pass through
// unchanged so extraction or validation failures are not relabeled as
// retryable connection failures; only untyped errors default to the
// connection type.
func (bc *BaseConnector) classifyFailure(callerCtx, opCtx context.Context, err error) error {
	if opCtx.Err() == context.DeadlineExceeded && callerCtx.Err() == nil {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "operation timed out")
	}
	if callerCtx.Err() != nil {
		return errors.Wrap(err, errors.ErrorTypeCancelled, "operation cancelled")
	}
	var typed *errors.Error
	if errors.As(err, &typed) {
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "connect failed")
}

// ClassifyFailure is the exported form used by connectors for extraction
// paths.
func (bc *BaseConnector) ClassifyFailure(callerCtx, opCtx context.Context, err error) error {
	return bc.classifyFailure(callerCtx, opCtx, err)
}

// Throttle enforces the configured row rate limit, blocking when
// necessary. A nil limiter means unlimited.
func (bc *BaseConnector) Throttle(ctx context.Context, n int) error {
	if bc.limiter == nil || n <= 0 {
		return nil
	}
	return bc.limiter.WaitN(ctx, n)
}

// EmitProgress fans a progress notification out to the registered
// listeners.
func (bc *BaseConnector) EmitProgress(p core.Progress) {
	bc.handlerMu.RLock()
	handlers := bc.progressHandlers
	bc.handlerMu.RUnlock()
	for _, h := range handlers {
		h(p)
	}
}

// Logger returns the connector logger.
func (bc *BaseConnector) Logger() *zap.Logger { return bc.logger }
