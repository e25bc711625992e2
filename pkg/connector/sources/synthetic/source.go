// Package synthetic provides a deterministic in-memory source. Rows are
// generated from a seed, so two instances configured identically produce
// byte-identical extractions. It is the reference implementation of the
// extraction protocol and the backend used by the executor tests.
package synthetic

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vortexdata/vortex/pkg/config"
	"github.com/vortexdata/vortex/pkg/connector/base"
	"github.com/vortexdata/vortex/pkg/connector/core"
	"github.com/vortexdata/vortex/pkg/errors"
	"github.com/vortexdata/vortex/pkg/models"
)

const (
	defaultRowCount  = 1000
	defaultBatchSize = 200

	// optSyncVersion carries a backend-native change-tracking version in
	// the extraction options.
	optSyncVersion = "sync_version"
)

// Source is the synthetic connector.
type Source struct {
	*base.BaseConnector

	seed     int64
	rowCount int

	// minRetainedVersion simulates native change-tracking retention. A
	// replayed sync version below it has aged out of the change feed.
	minRetainedVersion int64
}

// NewSource creates an unconfigured synthetic connector.
func NewSource() core.Connector {
	return &Source{
		BaseConnector: base.NewBaseConnector(
			core.Metadata{
				ID:          "synthetic",
				Name:        "Synthetic Generator",
				SourceType:  "synthetic",
				Version:     "1.0.0",
				Description: "Deterministic seeded row generator",
			},
			core.Capabilities{
				SupportsIncremental:      true,
				SupportsSchemaDiscovery:  true,
				SupportsPreview:          true,
				MaxConcurrentExtractions: 4,
				AuthModes:                []core.AuthMode{core.AuthModeNone},
				SourceTypeAliases:        []string{"generator", "testdata"},
			},
		),
		seed:     42,
		rowCount: defaultRowCount,
	}
}

// Parameters describes the accepted connection parameters.
func (s *Source) Parameters() []core.ParameterDescriptor {
	return []core.ParameterDescriptor{
		{Name: "seed", Description: "Generation seed", Default: "42"},
		{Name: "row_count", Description: "Rows per structure", Default: strconv.Itoa(defaultRowCount)},
		{Name: "min_retained_version", Description: "Oldest change-tracking version still replayable", Default: "0"},
	}
}

// Initialize stores the configuration and validates its parameters.
func (s *Source) Initialize(ctx context.Context, cfg *config.ConnectorConfiguration) error {
	if cfg == nil {
		return errors.New(errors.ErrorTypeValidation, "configuration is required")
	}
	if result := s.ValidateConnection(cfg.Parameters()); !result.Valid {
		return errors.Newf(errors.ErrorTypeValidation, "invalid configuration: %s", result.Errors[0].Message)
	}

	if v, ok := cfg.Parameter("seed"); ok {
		s.seed, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := cfg.Parameter("row_count"); ok {
		s.rowCount, _ = strconv.Atoi(v)
	}
	if v, ok := cfg.Parameter("min_retained_version"); ok {
		s.minRetainedVersion, _ = strconv.ParseInt(v, 10, 64)
	}

	s.StoreConfiguration(cfg, config.NewBaseConfig(cfg.DisplayName(), "synthetic"))
	return nil
}

// ValidateConnection checks parameters without touching any backend.
func (s *Source) ValidateConnection(params map[string]string) *core.ValidationResult {
	result := core.NewValidationResult()
	if v, ok := params["seed"]; ok {
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			result.AddError("seed", "seed must be an integer")
		}
	}
	if v, ok := params["row_count"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			result.AddError("row_count", "row_count must be a non-negative integer")
		}
	}
	if v, ok := params["min_retained_version"]; ok {
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			result.AddError("min_retained_version", "min_retained_version must be an integer")
		}
	}
	return result
}

// Connect establishes the (virtual) session.
func (s *Source) Connect(ctx context.Context) (*core.ConnectResult, error) {
	if !s.Initialized() {
		return nil, errors.New(errors.ErrorTypeConfig, "connector is not initialized")
	}
	return s.RunConnect(ctx, func(ctx context.Context) (string, error) {
		return fmt.Sprintf("synthetic/%d", s.seed), nil
	})
}

// TestConnection validates the parameters with a throwaway instance.
func (s *Source) TestConnection(ctx context.Context, params map[string]string) (*core.ConnectResult, error) {
	if result := s.ValidateConnection(params); !result.Valid {
		return &core.ConnectResult{
			Success: false,
			Message: "parameter validation failed",
			Errors:  result.Errors,
		}, nil
	}

	probe := NewSource()
	defer func() { _ = probe.Close(ctx) }()

	cfg := config.NewConnectorConfiguration("synthetic-test", "synthetic test", "", params)
	if err := probe.Initialize(ctx, cfg); err != nil {
		return &core.ConnectResult{Success: false, Message: err.Error()}, nil
	}
	result, err := probe.Connect(ctx)
	if err != nil {
		return result, err
	}
	_, _ = probe.Disconnect(ctx)
	return result, nil
}

// Disconnect tears down the session.
func (s *Source) Disconnect(ctx context.Context) (bool, error) {
	return s.RunDisconnect(ctx, func(ctx context.Context) error { return nil })
}

// Close releases the instance.
func (s *Source) Close(ctx context.Context) error {
	if s.State() == core.StateConnected {
		if _, err := s.Disconnect(ctx); err != nil {
			return err
		}
	}
	s.MarkClosed()
	return nil
}

// DiscoverStructures lists the generated structures.
func (s *Source) DiscoverStructures(ctx context.Context, filter string) ([]models.StructureDescriptor, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}

	var out []models.StructureDescriptor
	for _, st := range structures() {
		if filter != "" && st.Name != filter {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// Extract runs a bounded full or incremental extraction.
func (s *Source) Extract(ctx context.Context, params *core.ExtractionParameters) (*core.ExtractionResult, error) {
	started := time.Now()

	if err := s.RequireConnected(); err != nil {
		return core.Failed(err.Error(), time.Since(started)), err
	}
	if params == nil || len(params.TargetStructures) == 0 {
		err := errors.New(errors.ErrorTypeValidation, "at least one target structure is required")
		return core.Failed(err.Error(), time.Since(started)), err
	}

	target, structure, err := s.resolveTarget(params)
	if err != nil {
		return core.Failed(err.Error(), time.Since(started)), err
	}

	if raw, ok := params.Option(optSyncVersion); ok {
		if err := s.validateSyncVersion(raw); err != nil {
			return core.Failed(err.Error(), time.Since(started)), err
		}
	}

	if params.Incremental {
		return s.extractIncremental(ctx, params, target, structure, started)
	}
	return s.extractFull(ctx, params, target, structure, started)
}

// validateSyncVersion checks a replayed change-tracking version against
// the minimum retained version. An aged-out version means the change feed
// no longer covers the gap and the caller must run a full reload; an
// empty result is never silently treated as "no changes".
func (s *Source) validateSyncVersion(raw string) error {
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return errors.Newf(errors.ErrorTypeExtraction, "invalid sync version %q", raw)
	}
	if version < s.minRetainedVersion {
		return errors.Newf(errors.ErrorTypeExtraction,
			"full reload required: sync version %d predates minimum retained version %d",
			version, s.minRetainedVersion)
	}
	return nil
}

func (s *Source) resolveTarget(params *core.ExtractionParameters) (string, models.StructureDescriptor, error) {
	target := params.TargetStructures[0]
	if params.WantsAllStructures() {
		target = "events"
	}
	for _, st := range structures() {
		if st.Name == target {
			return target, st, nil
		}
	}
	return "", models.StructureDescriptor{}, errors.Newf(errors.ErrorTypeExtraction, "unknown structure %q", target)
}

func (s *Source) extractFull(ctx context.Context, params *core.ExtractionParameters, target string, structure models.StructureDescriptor, started time.Time) (*core.ExtractionResult, error) {
	offset := 0
	if params.ContinuationToken != "" {
		tok, err := core.DecodeTokenFor(params.ContinuationToken, target)
		if err != nil {
			return core.Failed(err.Error(), time.Since(started)), err
		}
		if !tok.IsOffset() {
			err := errors.New(errors.ErrorTypeExtraction, "tracking token replayed on a full extraction")
			return core.Failed(err.Error(), time.Since(started)), err
		}
		if offset, err = strconv.Atoi(tok.Value); err != nil {
			err = errors.Newf(errors.ErrorTypeExtraction, "malformed offset %q", tok.Value)
			return core.Failed(err.Error(), time.Since(started)), err
		}
	}

	limit := params.EffectiveLimit(s.rowCount)
	batch := params.EffectiveBatchSize(defaultBatchSize)
	reporter := s.NewProgressReporter(int64(limit), int64(batch), "extracting "+target)

	var rows []models.Row
	idx := offset
	for idx < s.rowCount && len(rows) < limit {
		if err := ctx.Err(); err != nil {
			return s.cancelled(len(rows), started)
		}

		n := 0
		for idx < s.rowCount && len(rows) < limit && n < batch {
			row := s.generate(target, idx)
			if matchesFilters(row, params.FilterCriteria) {
				rows = append(rows, row.Project(params.IncludeFields))
				n++
			}
			idx++
		}
		if err := s.Throttle(ctx, n); err != nil {
			return s.cancelled(len(rows), started)
		}
		reporter.Add(int64(n), "")
	}
	reporter.Finish("extraction complete")

	result := &core.ExtractionResult{
		Success:   true,
		Rows:      rows,
		RowCount:  len(rows),
		Elapsed:   time.Since(started),
		Structure: &structure,
		HasMore:   len(rows) == limit,
	}
	if result.HasMore {
		result.ContinuationToken = core.ContinuationToken{Target: target, Value: strconv.Itoa(idx)}.Encode()
	}
	return result, nil
}

func (s *Source) extractIncremental(ctx context.Context, params *core.ExtractionParameters, target string, structure models.StructureDescriptor, started time.Time) (*core.ExtractionResult, error) {
	if params.TrackingField == "" {
		err := errors.New(errors.ErrorTypeExtraction, "incremental extraction requires a tracking field")
		return core.Failed(err.Error(), time.Since(started)), err
	}
	if _, ok := structure.Field(params.TrackingField); !ok {
		err := errors.Newf(errors.ErrorTypeExtraction,
			"tracking field %q does not exist on structure %q", params.TrackingField, target)
		return core.Failed(err.Error(), time.Since(started)), err
	}

	var last models.Value
	haveLast := false
	if params.ContinuationToken != "" {
		tok, err := core.DecodeTokenFor(params.ContinuationToken, target)
		if err != nil {
			return core.Failed(err.Error(), time.Since(started)), err
		}
		if tok.TrackingField != params.TrackingField {
			err := errors.Newf(errors.ErrorTypeExtraction,
				"continuation token tracks %q, not %q", tok.TrackingField, params.TrackingField)
			return core.Failed(err.Error(), time.Since(started)), err
		}
		last = models.String(tok.Value)
		haveLast = true
	}

	limit := params.EffectiveLimit(s.rowCount)
	batch := params.EffectiveBatchSize(defaultBatchSize)
	reporter := s.NewProgressReporter(0, int64(batch), "incremental extraction of "+target)

	var rows []models.Row
	var maxSeen models.Value
	for idx := 0; idx < s.rowCount && len(rows) < limit; idx += batch {
		if err := ctx.Err(); err != nil {
			return s.cancelled(len(rows), started)
		}

		n := 0
		for j := idx; j < idx+batch && j < s.rowCount && len(rows) < limit; j++ {
			row := s.generate(target, j)
			tv := row[params.TrackingField]
			if haveLast && tv.Compare(last) <= 0 {
				continue
			}
			if !matchesFilters(row, params.FilterCriteria) {
				continue
			}
			if maxSeen.IsNull() || tv.Compare(maxSeen) > 0 {
				maxSeen = tv
			}
			rows = append(rows, row.Project(params.IncludeFields))
			n++
		}
		if err := s.Throttle(ctx, n); err != nil {
			return s.cancelled(len(rows), started)
		}
		reporter.Add(int64(n), "")
	}
	reporter.Finish("incremental extraction complete")

	result := &core.ExtractionResult{
		Success:   true,
		Rows:      rows,
		RowCount:  len(rows),
		Elapsed:   time.Since(started),
		Structure: &structure,
		HasMore:   len(rows) == limit,
	}
	switch {
	case !maxSeen.IsNull():
		result.ContinuationToken = core.ContinuationToken{
			Target:        target,
			TrackingField: params.TrackingField,
			Value:         maxSeen.Transport(),
		}.Encode()
	case params.ContinuationToken != "":
		// No new rows: the boundary does not move.
		result.ContinuationToken = params.ContinuationToken
	}
	return result, nil
}

func (s *Source) cancelled(partial int, started time.Time) (*core.ExtractionResult, error) {
	err := errors.Newf(errors.ErrorTypeCancelled, "extraction cancelled after %d rows", partial)
	result := core.Failed(err.Error(), time.Since(started))
	result.RowCount = partial
	return result, err
}

// generate produces row idx of a structure. Same seed, same row.
func (s *Source) generate(target string, idx int) models.Row {
	id := int64(idx + 1)
	mixed := s.seed*1103515245 + id*12345
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	switch target {
	case "metrics":
		return models.Row{
			"id":          models.Int(id),
			"metric":      models.String(fmt.Sprintf("metric_%02d", mixed%16)),
			"value":       models.Float(float64(mixed%100000) / 100),
			"recorded_at": models.Timestamp(base.Add(time.Duration(id) * time.Second)),
		}
	default:
		return models.Row{
			"id":         models.Int(id),
			"name":       models.String(fmt.Sprintf("event-%06d", id)),
			"score":      models.Float(float64(mixed%10000) / 100),
			"active":     models.Bool(mixed%2 == 0),
			"created_at": models.Timestamp(base.Add(time.Duration(id) * time.Minute)),
		}
	}
}

func matchesFilters(row models.Row, filters map[string]string) bool {
	for field, want := range filters {
		v, ok := row[field]
		if !ok || v.Transport() != want {
			return false
		}
	}
	return true
}

func structures() []models.StructureDescriptor {
	return []models.StructureDescriptor{
		{
			Name: "events",
			Fields: []models.FieldDescriptor{
				{Name: "id", Type: models.FieldTypeInt, PrimaryKey: true},
				{Name: "name", Type: models.FieldTypeString, Size: 64},
				{Name: "score", Type: models.FieldTypeFloat},
				{Name: "active", Type: models.FieldTypeBool},
				{Name: "created_at", Type: models.FieldTypeTimestamp},
			},
		},
		{
			Name: "metrics",
			Fields: []models.FieldDescriptor{
				{Name: "id", Type: models.FieldTypeInt, PrimaryKey: true},
				{Name: "metric", Type: models.FieldTypeString, Size: 32},
				{Name: "value", Type: models.FieldTypeFloat},
				{Name: "recorded_at", Type: models.FieldTypeTimestamp},
			},
		},
	}
}
