package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vortexdata/vortex/pkg/errors"
	"github.com/vortexdata/vortex/pkg/logger"
)

// CronEngine abstracts the scheduling backend: recurring triggers keyed
// by job ID plus a queue for immediate executions. The execution logic
// never depends on which engine backs it.
type CronEngine interface {
	// AddOrUpdate registers the handler under the job ID, replacing any
	// existing trigger. An invalid expression is a scheduling error.
	AddOrUpdate(jobID, cronExpr string, handler func()) error
	// RemoveIfExists unregisters the trigger; absent IDs are a no-op.
	RemoveIfExists(jobID string)
	// Enqueue hands one immediate execution to the worker pool.
	Enqueue(handler func())
	// Start begins firing triggers and draining the queue.
	Start()
	// Stop waits for running handlers and workers to finish.
	Stop(ctx context.Context) error
}

// defaultWorkers sizes the immediate-execution pool.
const defaultWorkers = 4

// CronConfig configures the robfig-backed engine.
type CronConfig struct {
	// Location is the timezone recurring triggers evaluate in. It is
	// explicit configuration, never a hidden default; nil means UTC.
	Location *time.Location
	// Workers sizes the worker pool for immediate executions.
	Workers int
	// QueueDepth bounds the immediate-execution queue.
	QueueDepth int
}

// RobfigEngine is the production CronEngine over robfig/cron with a
// bounded worker pool for TriggerNow executions.
type RobfigEngine struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID

	// queueMu serializes queue sends against the close in Stop so a
	// late Enqueue can never send on a closed channel.
	queueMu     sync.Mutex
	queueClosed bool
	queue       chan func()
	workers     int
	wg          sync.WaitGroup
	once        sync.Once
	stopped     chan struct{}
}

// NewRobfigEngine builds the engine from configuration.
func NewRobfigEngine(cfg CronConfig) *RobfigEngine {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 64
	}

	return &RobfigEngine{
		cron:    cron.New(cron.WithLocation(loc)),
		logger:  logger.Get().With(zap.String("component", "cron_engine")),
		entries: make(map[string]cron.EntryID),
		queue:   make(chan func(), depth),
		stopped: make(chan struct{}),
		workers: workers,
	}
}

// AddOrUpdate registers or replaces the recurring trigger for a job.
func (e *RobfigEngine) AddOrUpdate(jobID, cronExpr string, handler func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.entries[jobID]; ok {
		e.cron.Remove(existing)
		delete(e.entries, jobID)
	}

	id, err := e.cron.AddFunc(cronExpr, handler)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeScheduling, "invalid cron expression %q", cronExpr)
	}
	e.entries[jobID] = id
	e.logger.Info("recurring trigger registered",
		zap.String("job_id", jobID),
		zap.String("cron", cronExpr))
	return nil
}

// RemoveIfExists unregisters the trigger for a job.
func (e *RobfigEngine) RemoveIfExists(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id, ok := e.entries[jobID]; ok {
		e.cron.Remove(id)
		delete(e.entries, jobID)
		e.logger.Info("recurring trigger removed", zap.String("job_id", jobID))
	}
}

// Enqueue hands one execution to the worker pool, blocking when the
// queue is full. Enqueues during or after shutdown are dropped.
func (e *RobfigEngine) Enqueue(handler func()) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	if e.queueClosed {
		return
	}
	select {
	case <-e.stopped:
	case e.queue <- handler:
	}
}

// Start launches the workers and the cron loop.
func (e *RobfigEngine) Start() {
	e.once.Do(func() {
		for i := 0; i < e.workers; i++ {
			e.wg.Add(1)
			go e.worker()
		}
		e.cron.Start()
	})
}

func (e *RobfigEngine) worker() {
	defer e.wg.Done()
	for handler := range e.queue {
		handler()
	}
}

// Stop halts the cron loop, drains the queue and waits for running
// handlers, honoring the context deadline.
func (e *RobfigEngine) Stop(ctx context.Context) error {
	// Closing stopped first wakes any Enqueue blocked on a full queue;
	// it releases queueMu before the close below needs it.
	close(e.stopped)
	cronCtx := e.cron.Stop()

	e.queueMu.Lock()
	e.queueClosed = true
	close(e.queue)
	e.queueMu.Unlock()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "engine shutdown timed out")
	}
}
