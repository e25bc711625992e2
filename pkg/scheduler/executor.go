package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vortexdata/vortex/pkg/config"
	"github.com/vortexdata/vortex/pkg/connector/core"
	"github.com/vortexdata/vortex/pkg/connector/registry"
	"github.com/vortexdata/vortex/pkg/credentials"
	"github.com/vortexdata/vortex/pkg/errors"
	"github.com/vortexdata/vortex/pkg/logger"
	"github.com/vortexdata/vortex/pkg/notify"
	"github.com/vortexdata/vortex/pkg/transform"
)

// Executor drives one connector through one full ingestion run. It is
// safe to invoke concurrently for different job IDs; one physical
// execution per job at a time is the trigger layer's concern.
type Executor struct {
	store       JobStore
	factory     *registry.Factory
	creds       *credentials.Store
	engine      CronEngine
	transformer *transform.Engine
	logger      *zap.Logger

	// WebhookClient overrides the HTTP client for webhook delivery;
	// mainly for tests.
	WebhookClient *http.Client
	// EmailSender backs the email channel; nil logs instead of sending.
	EmailSender notify.EmailSender
}

// NewExecutor wires the executor's collaborators. The cron engine may be
// nil when auto-pause never needs to unregister triggers (tests).
func NewExecutor(store JobStore, factory *registry.Factory, creds *credentials.Store, engine CronEngine) *Executor {
	return &Executor{
		store:       store,
		factory:     factory,
		creds:       creds,
		engine:      engine,
		transformer: transform.NewEngine(),
		logger:      logger.Get().With(zap.String("component", "job_executor")),
	}
}

// ExecuteJob runs one ingestion for the job. All failures are absorbed
// into the job record and notifications; a single job's failure never
// escapes to crash the caller. The executor itself never loops or
// sleeps: retries beyond auto-pause belong to the next cron tick.
func (e *Executor) ExecuteJob(ctx context.Context, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("job execution panicked",
				zap.String("job_id", jobID),
				zap.Any("panic", r))
			e.recordFailure(ctx, jobID, errors.Newf(errors.ErrorTypeInternal, "execution panicked: %v", r))
		}
	}()

	job, ok, err := e.store.Load(ctx, jobID)
	if err != nil {
		e.logger.Error("job reload failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if !ok || job.IsPaused {
		// Deleted or paused between trigger and execution: nothing to do.
		return
	}

	now := time.Now()
	job.Status = StatusRunning
	job.LastRunAt = &now
	job.UpdatedAt = now
	if err := e.store.Save(ctx, job); err != nil {
		e.logger.Error("job state not persisted", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	summary, err := e.run(ctx, job)
	if err != nil {
		e.recordFailure(ctx, jobID, err)
		return
	}

	job, ok, loadErr := e.store.Load(ctx, jobID)
	if loadErr != nil || !ok {
		return
	}
	job.Status = StatusCompleted
	job.FailureCount = 0
	job.LastMessage = summary
	job.UpdatedAt = time.Now()
	if err := e.store.Save(ctx, job); err != nil {
		e.logger.Error("job state not persisted", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	e.logger.Info("job completed", zap.String("job_id", jobID), zap.String("summary", summary))
	e.sendNotification(ctx, job, StatusCompleted, summary)
}

// run performs the extraction itself, returning a human-readable run
// summary.
func (e *Executor) run(ctx context.Context, job *Job) (string, error) {
	connector, err := e.resolveConnector(job.SourceType)
	if err != nil {
		return "", err
	}
	defer func() { _ = connector.Close(context.Background()) }()

	params, err := e.resolveParameters(ctx, job)
	if err != nil {
		return "", err
	}

	cfg := config.NewConnectorConfiguration(job.DataSourceID, job.Name, job.TenantID, params)
	if err := connector.Initialize(ctx, cfg); err != nil {
		return "", err
	}
	if result := connector.ValidateConnection(params); !result.Valid {
		return "", errors.Newf(errors.ErrorTypeValidation,
			"connection parameters invalid: %s (%s)", result.Errors[0].Message, result.Errors[0].Field)
	}

	if _, err := connector.Connect(ctx); err != nil {
		return "", err
	}
	defer func() { _, _ = connector.Disconnect(context.Background()) }()

	targets := job.Extraction.TargetStructures
	if len(targets) == 0 || job.Extraction.WantsAllStructures() {
		descs, err := connector.DiscoverStructures(ctx, "")
		if err != nil {
			return "", err
		}
		targets = targets[:0]
		for _, d := range descs {
			targets = append(targets, d.Name)
		}
	}

	totalRows := 0
	for _, target := range targets {
		extraction := job.Extraction
		extraction.TargetStructures = []string{target}

		result, err := connector.Extract(ctx, &extraction)
		if err != nil {
			return "", err
		}

		rows := result.Rows
		if len(job.TransformRules) > 0 {
			pipeline := e.transformer.Apply(ctx, rows, job.TransformRules, nil)
			if !pipeline.Success {
				return "", errors.Newf(errors.ErrorTypeTransformation,
					"transformation failed on %s: %s", target, firstOf(pipeline.Errors))
			}
			rows = pipeline.Rows
		}
		totalRows += len(rows)
	}

	return fmt.Sprintf("extracted %d rows from %d structures", totalRows, len(targets)), nil
}

func (e *Executor) resolveConnector(sourceType string) (core.Connector, error) {
	if sourceType == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "job has no source type")
	}
	return e.factory.CreateBySourceType(sourceType)
}

// resolveParameters merges secrets from the credential store over the
// stored connection parameters. Secrets win on key collision.
func (e *Executor) resolveParameters(ctx context.Context, job *Job) (map[string]string, error) {
	params := make(map[string]string, len(job.ConnectionParams))
	for k, v := range job.ConnectionParams {
		params[k] = v
	}
	if job.CredentialGroup != "" && e.creds != nil {
		secrets, err := e.creds.ResolveGroup(ctx, job.CredentialGroup)
		if err != nil {
			return nil, err
		}
		for k, v := range secrets {
			params[k] = v
		}
	}
	return params, nil
}

// recordFailure persists the failed status, notifies, and auto-pauses
// the job when the failure budget is exhausted.
func (e *Executor) recordFailure(ctx context.Context, jobID string, cause error) {
	job, ok, err := e.store.Load(ctx, jobID)
	if err != nil || !ok {
		return
	}

	job.FailureCount++
	job.Status = StatusFailed
	job.LastMessage = cause.Error()
	job.UpdatedAt = time.Now()

	autoPause := job.MaxRetryCount > 0 && job.FailureCount >= job.MaxRetryCount
	if autoPause {
		job.IsPaused = true
	}
	if err := e.store.Save(ctx, job); err != nil {
		e.logger.Error("job state not persisted", zap.String("job_id", jobID), zap.Error(err))
	}

	e.logger.Warn("job failed",
		zap.String("job_id", jobID),
		zap.Int("failure_count", job.FailureCount),
		zap.Error(cause))
	e.sendNotification(ctx, job, StatusFailed, cause.Error())

	if autoPause {
		if e.engine != nil {
			e.engine.RemoveIfExists(jobID)
		}
		e.logger.Warn("job auto-paused",
			zap.String("job_id", jobID),
			zap.Int("failure_count", job.FailureCount),
			zap.Int("max_retry_count", job.MaxRetryCount))
		e.sendNotification(ctx, job, StatusPaused,
			fmt.Sprintf("auto-paused after %d consecutive failures", job.FailureCount))
	}
}

// sendNotification delivers a job event over the channels the job
// configures. Delivery failures are logged, never propagated.
func (e *Executor) sendNotification(ctx context.Context, job *Job, status JobStatus, message string) {
	var channels []notify.Notifier
	if len(job.Notification.WebhookURLs) > 0 {
		channels = append(channels, notify.NewWebhookNotifier(job.Notification.WebhookURLs, e.WebhookClient))
	}
	if len(job.Notification.EmailRecipients) > 0 {
		sender := e.EmailSender
		if sender == nil {
			sender = notify.NewLogEmailSender()
		}
		channels = append(channels, notify.NewEmailNotifier(job.Notification.EmailRecipients, sender))
	}
	if len(channels) == 0 {
		channels = append(channels, notify.NewLogNotifier())
	}

	event := notify.Event{
		JobID:     job.ID,
		JobName:   job.Name,
		TenantID:  job.TenantID,
		Status:    string(status),
		Timestamp: time.Now(),
		Message:   message,
	}
	if err := notify.NewMulti(channels...).Notify(ctx, event); err != nil {
		e.logger.Warn("notification delivery failed",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
}

func firstOf(errs []string) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	return errs[0]
}
