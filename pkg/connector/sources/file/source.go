// Package file provides a connector over a directory of CSV and JSON
// files. Each file is one extractable structure named after its base
// name; CSV headers and JSON object keys become the field list.
package file

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/vortexdata/vortex/pkg/config"
	"github.com/vortexdata/vortex/pkg/connector/base"
	"github.com/vortexdata/vortex/pkg/connector/core"
	"github.com/vortexdata/vortex/pkg/errors"
	"github.com/vortexdata/vortex/pkg/models"
)

const defaultBatchSize = 500

// Source is the file-directory connector.
type Source struct {
	*base.BaseConnector

	dir       string
	delimiter rune
}

// NewSource creates an unconfigured file connector.
func NewSource() core.Connector {
	return &Source{
		BaseConnector: base.NewBaseConnector(
			core.Metadata{
				ID:          "file",
				Name:        "File Directory",
				SourceType:  "file",
				Version:     "1.0.0",
				Description: "CSV and JSON files in a local directory",
			},
			core.Capabilities{
				SupportsIncremental:      true,
				SupportsSchemaDiscovery:  true,
				SupportsPreview:          true,
				MaxConcurrentExtractions: 2,
				AuthModes:                []core.AuthMode{core.AuthModeNone},
				SourceTypeAliases:        []string{"csv", "json"},
			},
		),
		delimiter: ',',
	}
}

// Parameters describes the accepted connection parameters.
func (s *Source) Parameters() []core.ParameterDescriptor {
	return []core.ParameterDescriptor{
		{Name: "path", Required: true, Description: "Directory containing the data files"},
		{Name: "delimiter", Description: "CSV field delimiter", Default: ","},
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

	s.dir, _ = cfg.Parameter("path")
	if d, ok := cfg.Parameter("delimiter"); ok && d != "" {
		s.delimiter = rune(d[0])
	}

	s.StoreConfiguration(cfg, config.NewBaseConfig(cfg.DisplayName(), "file"))
	return nil
}

// ValidateConnection checks parameters without touching the filesystem
// beyond a directory stat.
func (s *Source) ValidateConnection(params map[string]string) *core.ValidationResult {
	result := core.NewValidationResult()
	path, ok := params["path"]
	if !ok || path == "" {
		result.AddError("path", "path is required")
		return result
	}
	if d, ok := params["delimiter"]; ok && len(d) > 1 {
		result.AddError("delimiter", "delimiter must be a single character")
	}
	return result
}

// Connect verifies the directory exists and is readable.
func (s *Source) Connect(ctx context.Context) (*core.ConnectResult, error) {
	if !s.Initialized() {
		return nil, errors.New(errors.ErrorTypeConfig, "connector is not initialized")
	}
	return s.RunConnect(ctx, func(ctx context.Context) (string, error) {
		info, err := os.Stat(s.dir)
		if err != nil {
			return "", errors.Wrapf(err, errors.ErrorTypeConnection, "cannot access directory %s", s.dir)
		}
		if !info.IsDir() {
			return "", errors.Newf(errors.ErrorTypeConnection, "%s is not a directory", s.dir)
		}
		return "file/" + filepath.Base(s.dir), nil
	})
}

// TestConnection probes the directory with a throwaway instance.
func (s *Source) TestConnection(ctx context.Context, params map[string]string) (*core.ConnectResult, error) {
	if result := s.ValidateConnection(params); !result.Valid {
		return &core.ConnectResult{Success: false, Message: "parameter validation failed", Errors: result.Errors}, nil
	}

	probe := NewSource()
	defer func() { _ = probe.Close(ctx) }()

	cfg := config.NewConnectorConfiguration("file-test", "file test", "", params)
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

// DiscoverStructures lists the CSV/JSON files in the directory.
func (s *Source) DiscoverStructures(ctx context.Context, filter string) ([]models.StructureDescriptor, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeExtraction, "cannot list directory %s", s.dir)
	}

	var out []models.StructureDescriptor
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ext := splitName(entry.Name())
		if ext != ".csv" && ext != ".json" {
			continue
		}
		if filter != "" && !strings.EqualFold(name, filter) {
			continue
		}
		rows, err := s.load(name)
		if err != nil {
			return nil, err
		}
		out = append(out, describe(name, rows))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Extract runs a bounded full or incremental extraction over one file.
func (s *Source) Extract(ctx context.Context, params *core.ExtractionParameters) (*core.ExtractionResult, error) {
	started := time.Now()

	if err := s.RequireConnected(); err != nil {
		return core.Failed(err.Error(), time.Since(started)), err
	}
	if params == nil || len(params.TargetStructures) == 0 {
		err := errors.New(errors.ErrorTypeValidation, "at least one target structure is required")
		return core.Failed(err.Error(), time.Since(started)), err
	}

	target := params.TargetStructures[0]
	if params.WantsAllStructures() {
		descs, err := s.DiscoverStructures(ctx, "")
		if err != nil {
			return core.Failed(err.Error(), time.Since(started)), err
		}
		if len(descs) == 0 {
			return &core.ExtractionResult{Success: true, Elapsed: time.Since(started)}, nil
		}
		target = descs[0].Name
	}

	all, err := s.load(target)
	if err != nil {
		return core.Failed(err.Error(), time.Since(started)), err
	}
	structure := describe(target, all)

	if params.Incremental {
		return s.extractIncremental(ctx, params, target, structure, all, started)
	}
	return s.extractFull(ctx, params, target, structure, all, started)
}

func (s *Source) extractFull(ctx context.Context, params *core.ExtractionParameters, target string, structure models.StructureDescriptor, all []models.Row, started time.Time) (*core.ExtractionResult, error) {
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

	limit := params.EffectiveLimit(len(all))
	batch := params.EffectiveBatchSize(defaultBatchSize)
	reporter := s.NewProgressReporter(int64(limit), int64(batch), "extracting "+target)

	var rows []models.Row
	idx := offset
	for idx < len(all) && len(rows) < limit {
		if err := ctx.Err(); err != nil {
			return cancelled(len(rows), started)
		}
		n := 0
		for idx < len(all) && len(rows) < limit && n < batch {
			row := all[idx]
			if matchesFilters(row, params.FilterCriteria) {
				rows = append(rows, row.Project(params.IncludeFields))
				n++
			}
			idx++
		}
		if err := s.Throttle(ctx, n); err != nil {
			return cancelled(len(rows), started)
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

func (s *Source) extractIncremental(ctx context.Context, params *core.ExtractionParameters, target string, structure models.StructureDescriptor, all []models.Row, started time.Time) (*core.ExtractionResult, error) {
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

	// Files have no backend ordering; sort ascending by tracking field so
	// the token boundary is stable.
	candidates := make([]models.Row, 0, len(all))
	for _, row := range all {
		tv := row[params.TrackingField]
		if haveLast && tv.Compare(last) <= 0 {
			continue
		}
		if matchesFilters(row, params.FilterCriteria) {
			candidates = append(candidates, row)
		}
	}
	field := params.TrackingField
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i][field].Compare(candidates[j][field]) < 0
	})

	limit := params.EffectiveLimit(len(candidates))
	batch := params.EffectiveBatchSize(defaultBatchSize)
	reporter := s.NewProgressReporter(0, int64(batch), "incremental extraction of "+target)

	var rows []models.Row
	var maxSeen models.Value
	for idx := 0; idx < len(candidates) && len(rows) < limit; idx += batch {
		if err := ctx.Err(); err != nil {
			return cancelled(len(rows), started)
		}
		n := 0
		for j := idx; j < idx+batch && j < len(candidates) && len(rows) < limit; j++ {
			row := candidates[j]
			tv := row[field]
			if maxSeen.IsNull() || tv.Compare(maxSeen) > 0 {
				maxSeen = tv
			}
			rows = append(rows, row.Project(params.IncludeFields))
			n++
		}
		if err := s.Throttle(ctx, n); err != nil {
			return cancelled(len(rows), started)
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
		HasMore:   len(rows) == limit && len(candidates) > limit,
	}
	switch {
	case !maxSeen.IsNull():
		result.ContinuationToken = core.ContinuationToken{
			Target:        target,
			TrackingField: field,
			Value:         maxSeen.Transport(),
		}.Encode()
	case params.ContinuationToken != "":
		result.ContinuationToken = params.ContinuationToken
	}
	return result, nil
}

func cancelled(partial int, started time.Time) (*core.ExtractionResult, error) {
	err := errors.Newf(errors.ErrorTypeCancelled, "extraction cancelled after %d rows", partial)
	result := core.Failed(err.Error(), time.Since(started))
	result.RowCount = partial
	return result, err
}

// load reads every row of the named structure into memory. Files are
// bounded working sets by definition here; streaming readers are not
// worth the complexity at this layer.
func (s *Source) load(name string) ([]models.Row, error) {
	csvPath := filepath.Join(s.dir, name+".csv")
	if _, err := os.Stat(csvPath); err == nil {
		return s.loadCSV(csvPath)
	}
	jsonPath := filepath.Join(s.dir, name+".json")
	if _, err := os.Stat(jsonPath); err == nil {
		return s.loadJSON(jsonPath)
	}
	return nil, errors.Newf(errors.ErrorTypeExtraction, "no file backs structure %q in %s", name, s.dir)
}

func (s *Source) loadCSV(path string) ([]models.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeExtraction, "cannot open %s", path)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = s.delimiter
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeExtraction, "cannot parse %s", path)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	rows := make([]models.Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(models.Row, len(header))
		for i, field := range header {
			if i < len(record) {
				row[field] = parseScalar(record[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Source) loadJSON(path string) ([]models.Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeExtraction, "cannot open %s", path)
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeExtraction, "cannot parse %s", path)
	}

	rows := make([]models.Row, 0, len(raw))
	for _, obj := range raw {
		row := make(models.Row, len(obj))
		for k, v := range obj {
			if s, ok := v.(string); ok {
				row[k] = parseScalar(s)
				continue
			}
			row[k] = models.FromAny(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseScalar infers a typed value from its text rendering.
func parseScalar(s string) models.Value {
	if s == "" {
		return models.Null()
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return models.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return models.Float(f)
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return models.Bool(b)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return models.Timestamp(t)
	}
	return models.String(s)
}

// describe infers a structure descriptor from the loaded rows.
func describe(name string, rows []models.Row) models.StructureDescriptor {
	desc := models.StructureDescriptor{Name: name}
	if len(rows) == 0 {
		return desc
	}

	fields := rows[0].Fields()
	sort.Strings(fields)
	for _, f := range fields {
		desc.Fields = append(desc.Fields, models.FieldDescriptor{
			Name:     f,
			Type:     fieldType(rows[0][f]),
			Nullable: true,
		})
	}
	return desc
}

func fieldType(v models.Value) models.FieldType {
	switch v.Kind() {
	case models.KindInt:
		return models.FieldTypeInt
	case models.KindFloat:
		return models.FieldTypeFloat
	case models.KindBool:
		return models.FieldTypeBool
	case models.KindTimestamp:
		return models.FieldTypeTimestamp
	case models.KindBinary:
		return models.FieldTypeBinary
	default:
		return models.FieldTypeString
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

func splitName(filename string) (name, ext string) {
	ext = strings.ToLower(filepath.Ext(filename))
	return strings.TrimSuffix(filename, filepath.Ext(filename)), ext
}
