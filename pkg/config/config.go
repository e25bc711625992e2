// Package config provides the unified configuration system for Vortex.
// It defines a single BaseConfig structure that all connectors share plus
// the per-source ConnectorConfiguration handed to a connector at
// Initialize time.
//
// The configuration is organized into logical sections:
//   - Performance: batch sizes, record caps, concurrency
//   - Timeouts: connection and request timeouts
//   - Reliability: retry logic and rate limiting
//   - Security: credential references
package config

import (
	"fmt"
	"time"
)

// BaseConfig is the unified configuration structure shared by all
// connectors.
type BaseConfig struct {
	// Name identifies the connector instance
	Name string `yaml:"name" json:"name"`
	// Type specifies the source type (e.g. "postgres", "mysql", "file")
	Type string `yaml:"type" json:"type"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version"`

	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Timeouts    TimeoutConfig     `yaml:"timeouts" json:"timeouts"`
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`
	Security    SecurityConfig    `yaml:"security" json:"security"`
}

// PerformanceConfig contains throughput-related settings.
type PerformanceConfig struct {
	// BatchSize controls the number of records fetched together
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// MaxRecords caps a single extraction (0 = unlimited)
	MaxRecords int `yaml:"max_records" json:"max_records"`
	// BufferSize sets the size of internal row buffers
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
	// MaxConcurrency limits concurrent operations (connection pool size)
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`
}

// TimeoutConfig contains timeout-related settings.
type TimeoutConfig struct {
	// Connection timeout for establishing backend sessions
	Connection time.Duration `yaml:"connection" json:"connection"`
	// Request timeout for individual extraction commands
	Request time.Duration `yaml:"request" json:"request"`
}

// ReliabilityConfig contains retry and rate-limit settings.
type ReliabilityConfig struct {
	// RetryAttempts sets maximum retry attempts for transient connect failures
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// RetryMultiplier increases delay exponentially
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier"`
	// MaxRetryDelay caps the maximum retry delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	// RateLimitPerSec limits extracted rows per second (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
}

// SecurityConfig contains credential settings. Values here are references
// resolved through the credential store at execution time; plaintext
// secrets never appear in logs.
type SecurityConfig struct {
	// Credentials stores authentication parameters
	Credentials map[string]string `yaml:"credentials" json:"credentials"`
}

// NewBaseConfig creates a new BaseConfig with sensible defaults.
func NewBaseConfig(name, sourceType string) *BaseConfig {
	return &BaseConfig{
		Name:    name,
		Type:    sourceType,
		Version: "1.0.0",
		Performance: PerformanceConfig{
			BatchSize:      1000,
			MaxRecords:     0,
			BufferSize:     10000,
			MaxConcurrency: 10,
		},
		Timeouts: TimeoutConfig{
			Connection: 10 * time.Second,
			Request:    30 * time.Second,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   60 * time.Second,
			RateLimitPerSec: 0,
		},
		Security: SecurityConfig{
			Credentials: make(map[string]string),
		},
	}
}

// Validate validates the configuration for correctness.
func (bc *BaseConfig) Validate() error {
	if bc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if bc.Type == "" {
		return fmt.Errorf("type is required")
	}
	if bc.Performance.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if bc.Performance.MaxRecords < 0 {
		return fmt.Errorf("max_records cannot be negative")
	}
	if bc.Performance.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive")
	}
	if bc.Reliability.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}
	if bc.Reliability.RateLimitPerSec < 0 {
		return fmt.Errorf("rate_limit_per_sec cannot be negative")
	}
	return nil
}

// ConnectorConfiguration is the immutable per-source configuration handed
// to a connector at Initialize time. ConnectionParameters is the sole
// carrier of backend-specific settings (host, credentials, timeouts,
// feature toggles).
type ConnectorConfiguration struct {
	connectorID string
	displayName string
	tenantID    string
	params      map[string]string
}

// NewConnectorConfiguration builds an immutable connector configuration.
// The parameter map is copied on construction.
func NewConnectorConfiguration(connectorID, displayName, tenantID string, params map[string]string) *ConnectorConfiguration {
	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}
	return &ConnectorConfiguration{
		connectorID: connectorID,
		displayName: displayName,
		tenantID:    tenantID,
		params:      copied,
	}
}

// ConnectorID returns the target connector identifier
func (c *ConnectorConfiguration) ConnectorID() string { return c.connectorID }

// DisplayName returns the human-readable name
func (c *ConnectorConfiguration) DisplayName() string { return c.displayName }

// TenantID returns the owning tenant
func (c *ConnectorConfiguration) TenantID() string { return c.tenantID }

// Parameter returns a single connection parameter.
func (c *ConnectorConfiguration) Parameter(key string) (string, bool) {
	v, ok := c.params[key]
	return v, ok
}

// Parameters returns a copy of the connection parameter map.
func (c *ConnectorConfiguration) Parameters() map[string]string {
	copied := make(map[string]string, len(c.params))
	for k, v := range c.params {
		copied[k] = v
	}
	return copied
}
