package registry

import (
	"context"

	"github.com/vortexdata/vortex/pkg/config"
	"github.com/vortexdata/vortex/pkg/connector/core"
	"github.com/vortexdata/vortex/pkg/errors"
)

// Resolver resolves connector instances from an external container
// (dependency injection). A resolver that cannot serve an ID returns
// false and the factory falls back to direct construction.
type Resolver interface {
	Resolve(id string) (core.Connector, bool)
}

// Factory creates connector instances from registrations.
type Factory struct {
	registry *Registry
	resolver Resolver
}

// NewFactory creates a factory over the given registry. The resolver is
// optional.
func NewFactory(registry *Registry, resolver Resolver) *Factory {
	if registry == nil {
		registry = globalRegistry
	}
	return &Factory{registry: registry, resolver: resolver}
}

// Create resolves an instance for the connector ID, trying the injected
// resolver first and falling back to the registration's constructor.
func (f *Factory) Create(id string) (core.Connector, error) {
	if f.resolver != nil {
		if instance, ok := f.resolver.Resolve(id); ok {
			return instance, nil
		}
	}

	reg, ok := f.registry.Get(id)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "connector %s is not registered", id)
	}
	return reg.Factory(), nil
}

// CreateBySourceType resolves an instance for a source type; ambiguous
// source types resolve to the lowest connector ID for determinism.
func (f *Factory) CreateBySourceType(sourceType string) (core.Connector, error) {
	regs := f.registry.GetBySourceType(sourceType)
	if len(regs) == 0 {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "no connector registered for source type %s", sourceType)
	}
	return f.Create(regs[0].ID)
}

// CreateAndInitialize creates an instance and runs Initialize, disposing
// the instance when initialization fails so no session leaks.
func (f *Factory) CreateAndInitialize(ctx context.Context, id string, cfg *config.ConnectorConfiguration) (core.Connector, error) {
	instance, err := f.Create(id)
	if err != nil {
		return nil, err
	}

	if err := instance.Initialize(ctx, cfg); err != nil {
		_ = instance.Close(ctx)
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "connector initialization failed")
	}
	return instance, nil
}
