// Package transform implements the ordered transformation-rule pipeline
// applied to extracted rows. Rules execute in ascending Order (ties keep
// original list order) against the working row set; each rule records an
// execution result, and FailOnError escalates a single rule failure into
// a pipeline abort.
package transform

import (
	"time"

	"github.com/vortexdata/vortex/pkg/models"
)

// RuleType identifies the operation a rule performs.
type RuleType string

const (
	RuleTypeMap       RuleType = "map"
	RuleTypeFilter    RuleType = "filter"
	RuleTypeAggregate RuleType = "aggregate"
	RuleTypeJoin      RuleType = "join"
	RuleTypeFormat    RuleType = "format"
	RuleTypeAdd       RuleType = "add"
	RuleTypeRemove    RuleType = "remove"
	RuleTypeRename    RuleType = "rename"
	RuleTypeCustom    RuleType = "custom"
)

// Rule is one step of the pipeline.
type Rule struct {
	ID     string   `json:"id" yaml:"id"`
	Order  int      `json:"order" yaml:"order"`
	Type   RuleType `json:"type" yaml:"type"`
	// Condition gates the rule per row; rows failing it are skipped
	// (not removed). Empty means "always".
	Condition    string            `json:"condition,omitempty" yaml:"condition,omitempty"`
	SourceFields []string          `json:"source_fields,omitempty" yaml:"source_fields,omitempty"`
	TargetFields []string          `json:"target_fields,omitempty" yaml:"target_fields,omitempty"`
	Expression   string            `json:"expression,omitempty" yaml:"expression,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	// FailOnError aborts the whole pipeline on the first failure of
	// this rule instead of accumulating failure counts.
	FailOnError bool `json:"fail_on_error,omitempty" yaml:"fail_on_error,omitempty"`
}

// Param returns a rule parameter with a fallback.
func (r *Rule) Param(key, def string) string {
	if v, ok := r.Parameters[key]; ok {
		return v
	}
	return def
}

// RuleExecutionResult records one rule application over the row set.
type RuleExecutionResult struct {
	RuleID       string        `json:"rule_id"`
	Success      bool          `json:"success"`
	Elapsed      time.Duration `json:"elapsed"`
	RowsSeen     int           `json:"rows_seen"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// PipelineResult is the outcome of a full pipeline run. On an aborted
// run (FailOnError) RuleResults carries the partial per-rule results up
// to and including the failing rule.
type PipelineResult struct {
	Success     bool                  `json:"success"`
	Rows        []models.Row          `json:"-"`
	RuleResults []RuleExecutionResult `json:"rule_results"`
	Errors      []string              `json:"errors,omitempty"`
}
