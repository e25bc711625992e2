package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexdata/vortex/pkg/config"
	"github.com/vortexdata/vortex/pkg/connector/core"
	"github.com/vortexdata/vortex/pkg/errors"
	"github.com/vortexdata/vortex/pkg/models"
)

// fakeConnector is a minimal core.Connector for registry tests.
type fakeConnector struct {
	meta    core.Metadata
	caps    core.Capabilities
	initErr error
	closed  bool
}

func (f *fakeConnector) Metadata() core.Metadata             { return f.meta }
func (f *fakeConnector) Parameters() []core.ParameterDescriptor { return nil }
func (f *fakeConnector) Capabilities() core.Capabilities     { return f.caps }
func (f *fakeConnector) State() core.ConnectionState         { return core.StateDisconnected }
func (f *fakeConnector) Initialize(ctx context.Context, cfg *config.ConnectorConfiguration) error {
	return f.initErr
}
func (f *fakeConnector) ValidateConnection(params map[string]string) *core.ValidationResult {
	return core.NewValidationResult()
}
func (f *fakeConnector) Connect(ctx context.Context) (*core.ConnectResult, error) {
	return &core.ConnectResult{Success: true}, nil
}
func (f *fakeConnector) TestConnection(ctx context.Context, params map[string]string) (*core.ConnectResult, error) {
	return &core.ConnectResult{Success: true}, nil
}
func (f *fakeConnector) Disconnect(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeConnector) DiscoverStructures(ctx context.Context, filter string) ([]models.StructureDescriptor, error) {
	return nil, nil
}
func (f *fakeConnector) Extract(ctx context.Context, params *core.ExtractionParameters) (*core.ExtractionResult, error) {
	return &core.ExtractionResult{Success: true}, nil
}
func (f *fakeConnector) OnStateChange(handler core.StateChangeHandler) {}
func (f *fakeConnector) OnProgress(handler core.ProgressHandler)       {}
func (f *fakeConnector) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

func factoryFor(meta core.Metadata, caps core.Capabilities) ConnectorFactory {
	return func() core.Connector { return &fakeConnector{meta: meta, caps: caps} }
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(factoryFor(core.Metadata{ID: "alpha", SourceType: "alpha"}, core.Capabilities{})))

	reg, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", reg.SourceType)
	assert.Equal(t, 1, r.Count())
}

func TestRegisterRejectsMissingMetadata(t *testing.T) {
	r := NewRegistry()

	err := r.Register(factoryFor(core.Metadata{SourceType: "x"}, core.Capabilities{}))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	err = r.Register(factoryFor(core.Metadata{ID: "x"}, core.Capabilities{}))
	require.Error(t, err)

	err = r.Register(nil)
	require.Error(t, err)
}

func TestRegisterOverwriteKeepsLatest(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(factoryFor(core.Metadata{ID: "dup", SourceType: "first"}, core.Capabilities{})))
	require.NoError(t, r.Register(factoryFor(core.Metadata{ID: "dup", SourceType: "second"}, core.Capabilities{})))

	assert.Equal(t, 1, r.Count())
	reg, ok := r.Get("dup")
	require.True(t, ok)
	assert.Equal(t, "second", reg.SourceType)
}

func TestGetBySourceTypeCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(factoryFor(
		core.Metadata{ID: "pg", SourceType: "postgres"},
		core.Capabilities{SourceTypeAliases: []string{"postgresql"}})))

	assert.Len(t, r.GetBySourceType("POSTGRES"), 1)
	assert.Len(t, r.GetBySourceType("PostgreSQL"), 1)
	assert.Empty(t, r.GetBySourceType("mysql"))
}

func TestUnregisterAndClear(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(factoryFor(core.Metadata{ID: "a", SourceType: "a"}, core.Capabilities{})))

	assert.True(t, r.Unregister("a"))
	assert.False(t, r.Unregister("a"))
	assert.Equal(t, 0, r.Count())
}

func TestFactoryPrefersResolver(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(factoryFor(core.Metadata{ID: "a", SourceType: "a"}, core.Capabilities{})))

	injected := &fakeConnector{meta: core.Metadata{ID: "a", SourceType: "a"}}
	f := NewFactory(r, resolverFunc(func(id string) (core.Connector, bool) {
		if id == "a" {
			return injected, true
		}
		return nil, false
	}))

	got, err := f.Create("a")
	require.NoError(t, err)
	assert.Same(t, injected, got)
}

type resolverFunc func(id string) (core.Connector, bool)

func (f resolverFunc) Resolve(id string) (core.Connector, bool) { return f(id) }

func TestFactoryUnknownID(t *testing.T) {
	f := NewFactory(NewRegistry(), nil)
	_, err := f.Create("nope")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestCreateAndInitializeDisposesOnFailure(t *testing.T) {
	r := NewRegistry()
	failing := &fakeConnector{
		meta:    core.Metadata{ID: "bad", SourceType: "bad"},
		initErr: errors.New(errors.ErrorTypeValidation, "bad parameters"),
	}
	require.NoError(t, r.Register(func() core.Connector { return failing }))

	f := NewFactory(r, nil)
	_, err := f.CreateAndInitialize(context.Background(), "bad",
		config.NewConnectorConfiguration("bad", "bad", "", nil))
	require.Error(t, err)
	assert.True(t, failing.closed, "instance must be disposed when initialization fails")
}
