// Package core defines the contract every Vortex connector implements:
// the lifecycle state machine, the capability descriptor, parameter
// validation results, and the extraction parameter/result types shared by
// all backend families.
package core

import (
	"context"
	"time"

	"github.com/vortexdata/vortex/pkg/config"
	"github.com/vortexdata/vortex/pkg/models"
)

// ConnectionState is the lifecycle state of a connector instance.
type ConnectionState string

const (
	StateDisconnected  ConnectionState = "disconnected"
	StateConnecting    ConnectionState = "connecting"
	StateConnected     ConnectionState = "connected"
	StateDisconnecting ConnectionState = "disconnecting"
	// StateError is recoverable by a fresh Connect attempt, not terminal.
	StateError ConnectionState = "error"
)

// CanTransition reports whether moving from s to next is a legal state
// machine step.
func (s ConnectionState) CanTransition(next ConnectionState) bool {
	switch s {
	case StateDisconnected:
		return next == StateConnecting
	case StateConnecting:
		return next == StateConnected || next == StateError
	case StateConnected:
		return next == StateDisconnecting
	case StateDisconnecting:
		return next == StateDisconnected || next == StateError
	case StateError:
		return next == StateConnecting
	default:
		return false
	}
}

// StateChange is emitted on every connection state transition.
type StateChange struct {
	ConnectorID string
	Old         ConnectionState
	New         ConnectionState
}

// StateChangeHandler receives state transitions.
type StateChangeHandler func(StateChange)

// Progress is emitted at a fixed row cadence during long extractions.
type Progress struct {
	OperationID string
	Current     int64
	Total       int64
	Message     string
}

// ProgressHandler receives progress notifications.
type ProgressHandler func(Progress)

// Metadata identifies a connector implementation. It is immutable per
// variant and returned by the implementation itself, so the registry
// needs no reflection.
type Metadata struct {
	ID          string
	Name        string
	SourceType  string
	Version     string
	Description string
}

// ParameterDescriptor describes one connection parameter a connector
// accepts.
type ParameterDescriptor struct {
	Name        string
	Required    bool
	Secret      bool
	Description string
	Default     string
}

// AuthMode is a supported authentication mode.
type AuthMode string

const (
	AuthModeNone     AuthMode = "none"
	AuthModeBasic    AuthMode = "basic"
	AuthModePassword AuthMode = "password"
	AuthModeAPIKey   AuthMode = "api_key"
)

// Capabilities describes what a connector supports.
type Capabilities struct {
	SupportsIncremental       bool
	SupportsSchemaDiscovery   bool
	SupportsAdvancedFiltering bool
	SupportsPreview           bool
	MaxConcurrentExtractions  int
	AuthModes                 []AuthMode
	SourceTypeAliases         []string
}

// ValidationError is a structured, non-fatal parameter problem.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult carries structured errors and non-fatal warnings from
// ValidateConnection. It is returned, never thrown.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// AddError appends a field error and marks the result invalid.
func (r *ValidationResult) AddError(field, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning appends a non-fatal warning.
func (r *ValidationResult) AddWarning(message string) {
	r.Warnings = append(r.Warnings, message)
}

// NewValidationResult returns a passing result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// ConnectResult reports the outcome of Connect or TestConnection.
type ConnectResult struct {
	Success        bool              `json:"success"`
	SessionID      string            `json:"session_id,omitempty"`
	BackendVersion string            `json:"backend_version,omitempty"`
	Message        string            `json:"message,omitempty"`
	Errors         []ValidationError `json:"errors,omitempty"`
}

// Connector is the uniform contract every backend driver satisfies. One
// connector instance owns one logical connection and is never shared
// across tenants.
type Connector interface {
	// Metadata returns the immutable identity of the implementation.
	Metadata() Metadata
	// Parameters describes the accepted connection parameters.
	Parameters() []ParameterDescriptor
	// Capabilities returns the capability descriptor.
	Capabilities() Capabilities
	// State returns the current connection state.
	State() ConnectionState

	// Initialize stores the configuration and validates its parameters.
	// It never connects.
	Initialize(ctx context.Context, cfg *config.ConnectorConfiguration) error
	// ValidateConnection is a pure check of the given parameters. It
	// must not mutate state or require connectivity.
	ValidateConnection(params map[string]string) *ValidationResult
	// Connect builds a backend session from the stored configuration.
	// Calls are serialized per instance; connecting while connected is
	// an "already connected" success.
	Connect(ctx context.Context) (*ConnectResult, error)
	// TestConnection connects with a throwaway session using the given
	// parameters and disconnects immediately, leaving no persistent
	// state.
	TestConnection(ctx context.Context, params map[string]string) (*ConnectResult, error)
	// Disconnect is idempotent and returns true when the instance was
	// already disconnected.
	Disconnect(ctx context.Context) (bool, error)

	// DiscoverStructures lists extractable structures. Requires
	// StateConnected; the filter restricts by name when non-empty.
	DiscoverStructures(ctx context.Context, filter string) ([]models.StructureDescriptor, error)
	// Extract runs a bounded full or incremental extraction.
	Extract(ctx context.Context, params *ExtractionParameters) (*ExtractionResult, error)

	// OnStateChange registers a transition listener.
	OnStateChange(handler StateChangeHandler)
	// OnProgress registers a progress listener.
	OnProgress(handler ProgressHandler)

	// Close releases all resources. The instance is unusable afterwards.
	Close(ctx context.Context) error
}

// ExtractionParameters configures one extraction run.
type ExtractionParameters struct {
	// TargetStructures lists table/collection identifiers; the single
	// entry "*" means "all discoverable".
	TargetStructures []string `json:"target_structures" yaml:"target_structures"`
	// IncludeFields restricts extracted fields (empty = all).
	IncludeFields []string `json:"include_fields,omitempty" yaml:"include_fields,omitempty"`
	// FilterCriteria is an equality filter map applied backend-side
	// where possible.
	FilterCriteria map[string]string `json:"filter_criteria,omitempty" yaml:"filter_criteria,omitempty"`
	// MaxRecords caps the run (0 = connector default).
	MaxRecords int `json:"max_records,omitempty" yaml:"max_records,omitempty"`
	// BatchSize sets the fetch granularity (0 = connector default).
	BatchSize int `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	// Incremental enables change-tracking extraction.
	Incremental bool `json:"incremental,omitempty" yaml:"incremental,omitempty"`
	// TrackingField is the monotonic column used to detect new rows.
	TrackingField string `json:"tracking_field,omitempty" yaml:"tracking_field,omitempty"`
	// ChangesFrom extracts rows changed at or after this instant when
	// the backend tracks timestamps natively.
	ChangesFrom time.Time `json:"changes_from,omitempty" yaml:"changes_from,omitempty"`
	// ContinuationToken is the opaque cursor from a prior run, replayed
	// verbatim.
	ContinuationToken string `json:"continuation_token,omitempty" yaml:"continuation_token,omitempty"`
	// Options is the backend-specific escape hatch (e.g. a raw
	// change-tracking version).
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// EffectiveBatchSize resolves the batch size against a connector default.
func (p *ExtractionParameters) EffectiveBatchSize(def int) int {
	if p.BatchSize > 0 {
		return p.BatchSize
	}
	if def > 0 {
		return def
	}
	return 1000
}

// EffectiveLimit resolves the row cap against a connector default. Zero
// means unlimited.
func (p *ExtractionParameters) EffectiveLimit(def int) int {
	if p.MaxRecords > 0 {
		return p.MaxRecords
	}
	return def
}

// WantsAllStructures reports whether the target list is the "*" wildcard.
func (p *ExtractionParameters) WantsAllStructures() bool {
	return len(p.TargetStructures) == 1 && p.TargetStructures[0] == "*"
}

// Option returns a backend-specific option value.
func (p *ExtractionParameters) Option(key string) (string, bool) {
	v, ok := p.Options[key]
	return v, ok
}

// ExtractionResult reports one extraction run.
type ExtractionResult struct {
	Success  bool          `json:"success"`
	Rows     []models.Row  `json:"-"`
	RowCount int           `json:"row_count"`
	Elapsed  time.Duration `json:"elapsed"`
	// Structure is the schema of the extracted rows when discovery ran.
	Structure *models.StructureDescriptor `json:"structure,omitempty"`
	// HasMore is true when the run returned exactly the requested limit.
	HasMore bool `json:"has_more"`
	// ContinuationToken is the opaque cursor to replay on the next call.
	ContinuationToken string   `json:"continuation_token,omitempty"`
	Errors            []string `json:"errors,omitempty"`
}

// Failed builds a failure result carrying the given message.
func Failed(msg string, elapsed time.Duration) *ExtractionResult {
	return &ExtractionResult{Success: false, Elapsed: elapsed, Errors: []string{msg}}
}
