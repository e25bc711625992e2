package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vortexdata/vortex/pkg/errors"
	"github.com/vortexdata/vortex/pkg/logger"
)

// Scheduler manages job definitions and their recurring triggers. All
// trigger firings and TriggerNow executions flow through the cron
// engine's worker pool into the executor.
type Scheduler struct {
	store    JobStore
	engine   CronEngine
	executor *Executor
	logger   *zap.Logger
}

// NewScheduler wires the scheduler.
func NewScheduler(store JobStore, engine CronEngine, executor *Executor) *Scheduler {
	return &Scheduler{
		store:    store,
		engine:   engine,
		executor: executor,
		logger:   logger.Get().With(zap.String("component", "scheduler")),
	}
}

// Start launches the cron engine and re-registers triggers for every
// unpaused recurring job in the store.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeScheduling, "cannot list jobs")
	}
	for _, job := range jobs {
		if job.CronExpression == "" || job.IsPaused {
			continue
		}
		if err := s.registerTrigger(job); err != nil {
			return err
		}
	}
	s.engine.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(jobs)))
	return nil
}

// Stop shuts the engine down, waiting for running executions.
func (s *Scheduler) Stop(ctx context.Context) error {
	return s.engine.Stop(ctx)
}

// Schedule persists a new job and registers its recurring trigger when a
// cron expression is present. A job without an expression is one-off and
// runs only through TriggerNow.
func (s *Scheduler) Schedule(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New(errors.ErrorTypeValidation, "job is required")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Name == "" {
		return errors.New(errors.ErrorTypeValidation, "job name is required")
	}
	if job.SourceType == "" {
		return errors.New(errors.ErrorTypeValidation, "job source type is required")
	}

	now := time.Now()
	job.Status = StatusScheduled
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := s.store.Save(ctx, job); err != nil {
		return errors.Wrap(err, errors.ErrorTypeScheduling, "cannot persist job")
	}
	if job.CronExpression != "" && !job.IsPaused {
		if err := s.registerTrigger(job); err != nil {
			_, _ = s.store.Delete(ctx, job.ID)
			return err
		}
	}
	s.logger.Info("job scheduled",
		zap.String("job_id", job.ID),
		zap.String("name", job.Name),
		zap.String("cron", job.CronExpression))
	return nil
}

// Update persists changed job fields and re-registers the recurring
// trigger when the cron expression or pause flag changed.
func (s *Scheduler) Update(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return errors.New(errors.ErrorTypeValidation, "job ID is required")
	}

	existing, ok, err := s.store.Load(ctx, job.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeScheduling, "cannot load job")
	}
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "job %q not found", job.ID)
	}

	job.CreatedAt = existing.CreatedAt
	job.UpdatedAt = time.Now()
	if err := s.store.Save(ctx, job); err != nil {
		return errors.Wrap(err, errors.ErrorTypeScheduling, "cannot persist job")
	}

	triggerChanged := existing.CronExpression != job.CronExpression || existing.IsPaused != job.IsPaused
	if triggerChanged {
		s.engine.RemoveIfExists(job.ID)
		if job.CronExpression != "" && !job.IsPaused {
			if err := s.registerTrigger(job); err != nil {
				return err
			}
		}
	}
	return nil
}

// Pause sets the pause flag and unregisters the recurring trigger.
// Pausing an already paused job is a scheduling error.
func (s *Scheduler) Pause(ctx context.Context, jobID string) error {
	job, ok, err := s.store.Load(ctx, jobID)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeScheduling, "cannot load job")
	}
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "job %q not found", jobID)
	}
	if job.IsPaused {
		return errors.Newf(errors.ErrorTypeScheduling, "job %q is already paused", jobID)
	}

	job.IsPaused = true
	job.UpdatedAt = time.Now()
	if err := s.store.Save(ctx, job); err != nil {
		return errors.Wrap(err, errors.ErrorTypeScheduling, "cannot persist job")
	}
	s.engine.RemoveIfExists(jobID)
	s.logger.Info("job paused", zap.String("job_id", jobID))
	return nil
}

// Resume clears the pause flag, resets the failure counter and
// re-registers the recurring trigger.
func (s *Scheduler) Resume(ctx context.Context, jobID string) error {
	job, ok, err := s.store.Load(ctx, jobID)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeScheduling, "cannot load job")
	}
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "job %q not found", jobID)
	}
	if !job.IsPaused {
		return errors.Newf(errors.ErrorTypeScheduling, "job %q is not paused", jobID)
	}

	job.IsPaused = false
	job.FailureCount = 0
	job.UpdatedAt = time.Now()
	if err := s.store.Save(ctx, job); err != nil {
		return errors.Wrap(err, errors.ErrorTypeScheduling, "cannot persist job")
	}
	if job.CronExpression != "" {
		if err := s.registerTrigger(job); err != nil {
			return err
		}
	}
	s.logger.Info("job resumed", zap.String("job_id", jobID))
	return nil
}

// TriggerNow enqueues one immediate execution. Paused jobs reject the
// trigger.
func (s *Scheduler) TriggerNow(ctx context.Context, jobID string) error {
	job, ok, err := s.store.Load(ctx, jobID)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeScheduling, "cannot load job")
	}
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "job %q not found", jobID)
	}
	if job.IsPaused {
		return errors.Newf(errors.ErrorTypeScheduling, "job %q is paused", jobID)
	}

	s.engine.Enqueue(func() {
		s.executor.ExecuteJob(context.Background(), jobID)
	})
	s.logger.Info("job triggered", zap.String("job_id", jobID))
	return nil
}

// Delete unregisters the recurring trigger and removes the job record.
func (s *Scheduler) Delete(ctx context.Context, jobID string) error {
	s.engine.RemoveIfExists(jobID)
	removed, err := s.store.Delete(ctx, jobID)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeScheduling, "cannot delete job")
	}
	if !removed {
		return errors.Newf(errors.ErrorTypeNotFound, "job %q not found", jobID)
	}
	s.logger.Info("job deleted", zap.String("job_id", jobID))
	return nil
}

// Get returns one job.
func (s *Scheduler) Get(ctx context.Context, jobID string) (*Job, error) {
	job, ok, err := s.store.Load(ctx, jobID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeScheduling, "cannot load job")
	}
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "job %q not found", jobID)
	}
	return job, nil
}

// List returns every job.
func (s *Scheduler) List(ctx context.Context) ([]*Job, error) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeScheduling, "cannot list jobs")
	}
	return jobs, nil
}

func (s *Scheduler) registerTrigger(job *Job) error {
	id := job.ID
	return s.engine.AddOrUpdate(id, job.CronExpression, func() {
		s.executor.ExecuteJob(context.Background(), id)
	})
}
