// Package registry manages connector registration and instantiation. It
// maps source-type identifiers to connector factories, discovered through
// each implementation's self-described metadata, and exposes a factory
// that resolves instances through dependency injection with a
// direct-construction fallback.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vortexdata/vortex/pkg/connector/core"
	"github.com/vortexdata/vortex/pkg/errors"
	"github.com/vortexdata/vortex/pkg/logger"
)

// ConnectorFactory constructs a fresh connector instance.
type ConnectorFactory func() core.Connector

// Registration is the immutable record of one registered implementation.
type Registration struct {
	ID           string
	Name         string
	SourceType   string
	Aliases      []string
	Factory      ConnectorFactory
	RegisteredAt time.Time
}

// Registry maps connector IDs to registrations. It is safe under
// concurrent registration from multiple discovery scans.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Registration),
		logger:  logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// Register probes the factory's metadata and stores the registration.
// Implementations lacking an ID or source type are rejected.
// Re-registration under an existing ID overwrites the previous entry and
// is logged, never silently dropped.
func (r *Registry) Register(factory ConnectorFactory) error {
	if factory == nil {
		return errors.New(errors.ErrorTypeValidation, "connector factory is required")
	}

	probe := factory()
	if probe == nil {
		return errors.New(errors.ErrorTypeValidation, "connector factory returned nil")
	}
	meta := probe.Metadata()
	caps := probe.Capabilities()

	if meta.ID == "" {
		return errors.New(errors.ErrorTypeValidation, "connector metadata lacks an ID")
	}
	if meta.SourceType == "" {
		return errors.Newf(errors.ErrorTypeValidation, "connector %s lacks a source type", meta.ID)
	}

	reg := Registration{
		ID:           meta.ID,
		Name:         meta.Name,
		SourceType:   meta.SourceType,
		Aliases:      caps.SourceTypeAliases,
		Factory:      factory,
		RegisteredAt: time.Now(),
	}

	r.mu.Lock()
	previous, overwrite := r.entries[meta.ID]
	r.entries[meta.ID] = reg
	r.mu.Unlock()

	if overwrite {
		r.logger.Warn("connector registration overwritten",
			zap.String("id", meta.ID),
			zap.String("previous_source_type", previous.SourceType),
			zap.String("source_type", meta.SourceType))
	} else {
		r.logger.Info("connector registered",
			zap.String("id", meta.ID),
			zap.String("source_type", meta.SourceType))
	}
	return nil
}

// Get returns the registration for an ID.
func (r *Registry) Get(id string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[id]
	return reg, ok
}

// GetBySourceType returns every registration whose source type or alias
// matches, case-insensitively.
func (r *Registry) GetBySourceType(sourceType string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Registration
	for _, reg := range r.entries {
		if strings.EqualFold(reg.SourceType, sourceType) {
			out = append(out, reg)
			continue
		}
		for _, alias := range reg.Aliases {
			if strings.EqualFold(alias, sourceType) {
				out = append(out, reg)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List returns all registrations sorted by ID.
func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, 0, len(r.entries))
	for _, reg := range r.entries {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of surviving distinct IDs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Unregister removes a registration.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Clear removes all registrations (mainly for testing).
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]Registration)
}

// Global registry instance
var globalRegistry = NewRegistry()

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}

// Register registers a connector in the global registry.
func Register(factory ConnectorFactory) error {
	return globalRegistry.Register(factory)
}

// MustRegister registers in the global registry and panics on a rejected
// implementation; used from connector package init functions where a
// rejection is a programming error.
func MustRegister(factory ConnectorFactory) {
	if err := globalRegistry.Register(factory); err != nil {
		panic(err)
	}
}
