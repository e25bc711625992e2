// Package scheduler owns ingestion job definitions, their recurring cron
// triggers and the executor that drives a connector through one full
// ingestion run. The cron engine behind the triggers is an interface, so
// the execution logic is independent of which scheduling backend fires
// it.
package scheduler

import (
	"time"

	"github.com/vortexdata/vortex/pkg/connector/core"
	"github.com/vortexdata/vortex/pkg/notify"
	"github.com/vortexdata/vortex/pkg/transform"
)

// JobStatus is the lifecycle status of a job's most recent execution.
type JobStatus string

const (
	StatusScheduled JobStatus = "scheduled"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
	StatusPaused    JobStatus = "paused"
)

// Job is one ingestion job definition. IsPaused is orthogonal to Status:
// a paused job keeps its last execution status but fires no triggers.
type Job struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	TenantID      string `json:"tenant_id" yaml:"tenant_id"`
	SourceType    string `json:"source_type" yaml:"source_type"`
	DataSourceID  string `json:"data_source_id" yaml:"data_source_id"`
	// CronExpression is empty for one-off, manually triggered jobs.
	CronExpression string    `json:"cron_expression,omitempty" yaml:"cron_expression,omitempty"`
	Status         JobStatus `json:"status" yaml:"status"`
	IsPaused       bool      `json:"is_paused" yaml:"is_paused"`
	FailureCount   int       `json:"failure_count" yaml:"failure_count"`
	MaxRetryCount  int       `json:"max_retry_count" yaml:"max_retry_count"`

	// ConnectionParams are merged with secrets resolved from the
	// credential store at execution time; plaintext secrets are never
	// stored on the job.
	ConnectionParams map[string]string `json:"connection_params,omitempty" yaml:"connection_params,omitempty"`
	// CredentialGroup names the credential-store group whose decrypted
	// entries are merged into the connection parameters.
	CredentialGroup string `json:"credential_group,omitempty" yaml:"credential_group,omitempty"`

	Extraction core.ExtractionParameters `json:"extraction" yaml:"extraction"`
	// TransformRules run against the extracted rows before the run is
	// summarized; an empty list skips the transformation stage.
	TransformRules []transform.Rule `json:"transform_rules,omitempty" yaml:"transform_rules,omitempty"`
	Notification   notify.Config    `json:"notification,omitempty" yaml:"notification,omitempty"`

	LastRunAt   *time.Time `json:"last_run_at,omitempty" yaml:"last_run_at,omitempty"`
	LastMessage string     `json:"last_message,omitempty" yaml:"last_message,omitempty"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Clone deep-copies the job.
func (j *Job) Clone() *Job {
	cp := *j
	if j.ConnectionParams != nil {
		cp.ConnectionParams = make(map[string]string, len(j.ConnectionParams))
		for k, v := range j.ConnectionParams {
			cp.ConnectionParams[k] = v
		}
	}
	cp.Extraction.TargetStructures = append([]string(nil), j.Extraction.TargetStructures...)
	cp.Extraction.IncludeFields = append([]string(nil), j.Extraction.IncludeFields...)
	if j.Extraction.FilterCriteria != nil {
		cp.Extraction.FilterCriteria = make(map[string]string, len(j.Extraction.FilterCriteria))
		for k, v := range j.Extraction.FilterCriteria {
			cp.Extraction.FilterCriteria[k] = v
		}
	}
	if j.Extraction.Options != nil {
		cp.Extraction.Options = make(map[string]string, len(j.Extraction.Options))
		for k, v := range j.Extraction.Options {
			cp.Extraction.Options[k] = v
		}
	}
	cp.TransformRules = append([]transform.Rule(nil), j.TransformRules...)
	cp.Notification.WebhookURLs = append([]string(nil), j.Notification.WebhookURLs...)
	cp.Notification.EmailRecipients = append([]string(nil), j.Notification.EmailRecipients...)
	if j.LastRunAt != nil {
		t := *j.LastRunAt
		cp.LastRunAt = &t
	}
	return &cp
}
