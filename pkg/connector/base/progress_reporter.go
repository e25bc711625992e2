package base

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vortexdata/vortex/pkg/connector/core"
)

// DefaultProgressInterval is the row cadence at which progress
// notifications fire.
const DefaultProgressInterval = 1000

// ProgressReporter tracks one long-running operation and fires progress
// notifications at a fixed row cadence.
type ProgressReporter struct {
	operationID string
	total       int64
	interval    int64
	current     atomic.Int64
	lastEmit    atomic.Int64
	startTime   time.Time

	emit   func(core.Progress)
	logger *zap.Logger
}

// NewProgressReporter starts tracking an operation. A zero interval uses
// the default cadence; a zero total means unknown.
func (bc *BaseConnector) NewProgressReporter(total int64, interval int64, message string) *ProgressReporter {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	pr := &ProgressReporter{
		operationID: uuid.NewString(),
		total:       total,
		interval:    interval,
		startTime:   time.Now(),
		emit:        bc.EmitProgress,
		logger:      bc.logger,
	}
	if message != "" {
		pr.fire(0, message)
	}
	return pr
}

// OperationID returns the operation identifier carried in notifications.
func (pr *ProgressReporter) OperationID() string { return pr.operationID }

// Add advances the processed counter, firing a notification whenever the
// cadence boundary is crossed.
func (pr *ProgressReporter) Add(n int64, message string) {
	current := pr.current.Add(n)
	last := pr.lastEmit.Load()
	if current-last >= pr.interval && pr.lastEmit.CompareAndSwap(last, current) {
		pr.fire(current, message)
	}
}

// Current returns the processed counter.
func (pr *ProgressReporter) Current() int64 { return pr.current.Load() }

// Finish fires the final notification with the closing message.
func (pr *ProgressReporter) Finish(message string) {
	current := pr.current.Load()
	pr.fire(current, message)

	elapsed := time.Since(pr.startTime)
	fields := []zap.Field{
		zap.String("operation_id", pr.operationID),
		zap.Int64("processed", current),
		zap.Duration("elapsed", elapsed),
	}
	if elapsed > 0 {
		fields = append(fields, zap.Float64("rows_per_second", float64(current)/elapsed.Seconds()))
	}
	pr.logger.Info("operation completed", fields...)
}

func (pr *ProgressReporter) fire(current int64, message string) {
	pr.emit(core.Progress{
		OperationID: pr.operationID,
		Current:     current,
		Total:       pr.total,
		Message:     message,
	})
}
