// Package postgres provides the PostgreSQL connector. It speaks the
// native protocol through pgx with a connection pool sized from the
// performance configuration, discovers schema through the information
// schema, and pushes filters, ordering and row caps down to the server.
package postgres

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vortexdata/vortex/pkg/config"
	"github.com/vortexdata/vortex/pkg/connector/base"
	"github.com/vortexdata/vortex/pkg/connector/core"
	"github.com/vortexdata/vortex/pkg/errors"
	"github.com/vortexdata/vortex/pkg/models"
)

const (
	defaultBatchSize = 1000

	// optSyncVersion carries a backend-native change-tracking version in
	// the extraction options.
	optSyncVersion = "sync_version"
)

// Source is the PostgreSQL connector.
type Source struct {
	*base.BaseConnector

	pool   *pgxpool.Pool
	schema string

	// minRetainedVersion bounds change-tracking replay. A replayed sync
	// version below it has aged out of the change feed.
	minRetainedVersion int64
}

// NewSource creates an unconfigured PostgreSQL connector.
func NewSource() core.Connector {
	return &Source{
		BaseConnector: base.NewBaseConnector(
			core.Metadata{
				ID:          "postgres",
				Name:        "PostgreSQL",
				SourceType:  "postgres",
				Version:     "1.0.0",
				Description: "PostgreSQL relational database",
			},
			core.Capabilities{
				SupportsIncremental:       true,
				SupportsSchemaDiscovery:   true,
				SupportsAdvancedFiltering: true,
				SupportsPreview:           true,
				MaxConcurrentExtractions:  8,
				AuthModes:                 []core.AuthMode{core.AuthModePassword},
				SourceTypeAliases:         []string{"postgresql", "pg"},
			},
		),
		schema: "public",
	}
}

// Parameters describes the accepted connection parameters.
func (s *Source) Parameters() []core.ParameterDescriptor {
	return []core.ParameterDescriptor{
		{Name: "host", Required: true, Description: "Server hostname"},
		{Name: "port", Description: "Server port", Default: "5432"},
		{Name: "database", Required: true, Description: "Database name"},
		{Name: "username", Required: true, Description: "Login role"},
		{Name: "password", Required: true, Secret: true, Description: "Login password"},
		{Name: "sslmode", Description: "TLS mode (disable/prefer/require/verify-full)", Default: "prefer"},
		{Name: "schema", Description: "Schema to discover and extract from", Default: "public"},
		{Name: "min_retained_version", Description: "Oldest change-tracking version still replayable", Default: "0"},
	}
}

// Initialize stores the configuration and validates its parameters.
func (s *Source) Initialize(ctx context.Context, cfg *config.ConnectorConfiguration) error {
	if cfg == nil {
		return errors.New(errors.ErrorTypeValidation, "configuration is required")
	}
	if result := s.ValidateConnection(cfg.Parameters()); !result.Valid {
		return errors.Newf(errors.ErrorTypeValidation, "invalid configuration: %s (%s)",
			result.Errors[0].Message, result.Errors[0].Field)
	}

	if schema, ok := cfg.Parameter("schema"); ok && schema != "" {
		s.schema = schema
	}
	if v, ok := cfg.Parameter("min_retained_version"); ok {
		s.minRetainedVersion, _ = strconv.ParseInt(v, 10, 64)
	}

	s.StoreConfiguration(cfg, config.NewBaseConfig(cfg.DisplayName(), "postgres"))
	return nil
}

// ValidateConnection checks parameters without connecting.
func (s *Source) ValidateConnection(params map[string]string) *core.ValidationResult {
	result := core.NewValidationResult()
	for _, required := range []string{"host", "database", "username", "password"} {
		if params[required] == "" {
			result.AddError(required, required+" is required")
		}
	}
	if port, ok := params["port"]; ok && port != "" {
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			result.AddError("port", "port must be between 1 and 65535")
		}
	}
	switch params["sslmode"] {
	case "", "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		result.AddError("sslmode", "unknown sslmode "+params["sslmode"])
	}
	if v, ok := params["min_retained_version"]; ok && v != "" {
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			result.AddError("min_retained_version", "min_retained_version must be an integer")
		}
	}
	if params["sslmode"] == "disable" {
		result.AddWarning("TLS is disabled; credentials travel in cleartext")
	}
	return result
}

// Connect builds the pool and verifies connectivity with SELECT version().
func (s *Source) Connect(ctx context.Context) (*core.ConnectResult, error) {
	if !s.Initialized() {
		return nil, errors.New(errors.ErrorTypeConfig, "connector is not initialized")
	}
	return s.RunConnect(ctx, func(ctx context.Context) (string, error) {
		pool, err := s.openPool(ctx, s.Configuration().Parameters())
		if err != nil {
			return "", err
		}

		var version string
		if err := pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
			pool.Close()
			return "", errors.Wrap(err, errors.ErrorTypeConnection, "version probe failed")
		}

		s.pool = pool
		return version, nil
	})
}

func (s *Source) openPool(ctx context.Context, params map[string]string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(buildDSN(params))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid connection parameters")
	}
	if b := s.BaseConfig(); b != nil && b.Performance.MaxConcurrency > 0 {
		poolCfg.MaxConns = int32(b.Performance.MaxConcurrency)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "cannot create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if strings.Contains(err.Error(), "password authentication") {
			return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "authentication failed")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "server unreachable")
	}
	return pool, nil
}

func buildDSN(params map[string]string) string {
	port := params["port"]
	if port == "" {
		port = "5432"
	}
	sslmode := params["sslmode"]
	if sslmode == "" {
		sslmode = "prefer"
	}
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		params["host"], port, params["database"], params["username"], params["password"], sslmode)
}

// TestConnection connects with a throwaway pool and tears it down.
func (s *Source) TestConnection(ctx context.Context, params map[string]string) (*core.ConnectResult, error) {
	if result := s.ValidateConnection(params); !result.Valid {
		return &core.ConnectResult{Success: false, Message: "parameter validation failed", Errors: result.Errors}, nil
	}

	pool, err := s.openPool(ctx, params)
	if err != nil {
		return &core.ConnectResult{
			Success: false,
			Message: err.Error(),
			Errors:  []core.ValidationError{{Message: err.Error()}},
		}, nil
	}
	defer pool.Close()

	var version string
	if err := pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return &core.ConnectResult{Success: false, Message: err.Error()}, nil
	}
	return &core.ConnectResult{Success: true, BackendVersion: version, Message: "connection ok"}, nil
}

// Disconnect closes the pool.
func (s *Source) Disconnect(ctx context.Context) (bool, error) {
	return s.RunDisconnect(ctx, func(ctx context.Context) error {
		if s.pool != nil {
			s.pool.Close()
			s.pool = nil
		}
		return nil
	})
}

// Close releases the instance.
func (s *Source) Close(ctx context.Context) error {
	if s.State() == core.StateConnected {
		if _, err := s.Disconnect(ctx); err != nil {
			return err
		}
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	s.MarkClosed()
	return nil
}

// DiscoverStructures lists tables of the configured schema through the
// information schema, including nullability, declared sizes and primary
// keys.
func (s *Source) DiscoverStructures(ctx context.Context, filter string) ([]models.StructureDescriptor, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}

	opCtx, cancel := s.RequestContext(ctx)
	defer cancel()

	query := `
		SELECT
			c.table_name,
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			COALESCE(c.character_maximum_length, 0),
			EXISTS (
				SELECT 1
				FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
				  ON kcu.constraint_name = tc.constraint_name
				 AND kcu.table_schema = tc.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
				  AND tc.table_schema = c.table_schema
				  AND tc.table_name = c.table_name
				  AND kcu.column_name = c.column_name
			)
		FROM information_schema.columns c
		WHERE c.table_schema = $1
		  AND ($2 = '' OR c.table_name = $2)
		ORDER BY c.table_name, c.ordinal_position`

	rows, err := s.pool.Query(opCtx, query, s.schema, filter)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExtraction, "schema discovery failed")
	}
	defer rows.Close()

	var out []models.StructureDescriptor
	var current *models.StructureDescriptor
	for rows.Next() {
		var table, column, dataType string
		var nullable, primaryKey bool
		var size int
		if err := rows.Scan(&table, &column, &dataType, &nullable, &size, &primaryKey); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeExtraction, "schema discovery scan failed")
		}
		if current == nil || current.Name != table {
			out = append(out, models.StructureDescriptor{Name: table})
			current = &out[len(out)-1]
		}
		current.Fields = append(current.Fields, models.FieldDescriptor{
			Name:       column,
			Type:       mapFieldType(dataType),
			Nullable:   nullable,
			PrimaryKey: primaryKey,
			Size:       size,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExtraction, "schema discovery failed")
	}
	return out, nil
}

func mapFieldType(dataType string) models.FieldType {
	switch strings.ToLower(dataType) {
	case "smallint", "integer", "bigint", "smallserial", "serial", "bigserial":
		return models.FieldTypeInt
	case "real", "double precision", "numeric", "decimal", "money":
		return models.FieldTypeFloat
	case "boolean":
		return models.FieldTypeBool
	case "timestamp without time zone", "timestamp with time zone", "time without time zone", "time with time zone":
		return models.FieldTypeTimestamp
	case "date":
		return models.FieldTypeDate
	case "bytea":
		return models.FieldTypeBinary
	case "json", "jsonb":
		return models.FieldTypeJSON
	default:
		return models.FieldTypeString
	}
}

// Extract runs a bounded full or incremental extraction against one
// table. Ordering is pushed to the server so pagination is stable.
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

	descs, err := s.DiscoverStructures(ctx, target)
	if err != nil {
		return core.Failed(err.Error(), time.Since(started)), err
	}
	if len(descs) == 0 {
		err := errors.Newf(errors.ErrorTypeExtraction, "table %q does not exist in schema %q", target, s.schema)
		return core.Failed(err.Error(), time.Since(started)), err
	}
	structure := descs[0]

	if raw, ok := params.Option(optSyncVersion); ok {
		if err := s.validateSyncVersion(raw); err != nil {
			return core.Failed(err.Error(), time.Since(started)), err
		}
	}

	if params.Incremental {
		return s.extractIncremental(ctx, params, structure, started)
	}
	return s.extractFull(ctx, params, structure, started)
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

func (s *Source) extractFull(ctx context.Context, params *core.ExtractionParameters, structure models.StructureDescriptor, started time.Time) (*core.ExtractionResult, error) {
	target := structure.Name

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

	limit := params.EffectiveLimit(s.configuredMaxRecords())
	if limit <= 0 {
		limit = defaultBatchSize
	}

	where, args := buildFilters(params.FilterCriteria, nil)
	orderBy := orderByPrimaryKeys(structure)

	query := fmt.Sprintf("SELECT %s FROM %s%s%s LIMIT %d OFFSET %d",
		columnList(params.IncludeFields, structure),
		qualifiedName(s.schema, target),
		where, orderBy, limit, offset)

	rows, stopped, err := s.runQuery(ctx, params, query, args)
	if err != nil {
		return core.Failed(err.Error(), time.Since(started)), err
	}
	if stopped {
		return s.cancelled(len(rows), started)
	}

	result := &core.ExtractionResult{
		Success:   true,
		Rows:      rows,
		RowCount:  len(rows),
		Elapsed:   time.Since(started),
		Structure: &structure,
		HasMore:   len(rows) == limit,
	}
	if result.HasMore {
		result.ContinuationToken = core.ContinuationToken{Target: target, Value: strconv.Itoa(offset + len(rows))}.Encode()
	}
	return result, nil
}

func (s *Source) extractIncremental(ctx context.Context, params *core.ExtractionParameters, structure models.StructureDescriptor, started time.Time) (*core.ExtractionResult, error) {
	target := structure.Name

	if params.TrackingField == "" {
		err := errors.New(errors.ErrorTypeExtraction, "incremental extraction requires a tracking field")
		return core.Failed(err.Error(), time.Since(started)), err
	}
	if _, ok := structure.Field(params.TrackingField); !ok {
		err := errors.Newf(errors.ErrorTypeExtraction,
			"tracking field %q does not exist on table %q", params.TrackingField, target)
		return core.Failed(err.Error(), time.Since(started)), err
	}

	var lastValue string
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
		lastValue = tok.Value
		haveLast = true
	}

	limit := params.EffectiveLimit(s.configuredMaxRecords())
	if limit <= 0 {
		limit = defaultBatchSize
	}

	var tracking []filterClause
	if haveLast {
		tracking = []filterClause{{column: params.TrackingField, op: ">", value: lastValue}}
	}
	where, args := buildFilters(params.FilterCriteria, tracking)

	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s ASC LIMIT %d",
		columnList(params.IncludeFields, structure),
		qualifiedName(s.schema, target),
		where, quoteIdent(params.TrackingField), limit)

	rows, stopped, err := s.runQuery(ctx, params, query, args)
	if err != nil {
		return core.Failed(err.Error(), time.Since(started)), err
	}
	if stopped {
		return s.cancelled(len(rows), started)
	}

	var maxSeen models.Value
	for _, row := range rows {
		tv := row[params.TrackingField]
		if maxSeen.IsNull() || tv.Compare(maxSeen) > 0 {
			maxSeen = tv
		}
	}

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
		result.ContinuationToken = params.ContinuationToken
	}
	return result, nil
}

// runQuery executes a built extraction query, streaming rows in batches
// with cancellation polled between batches. On mid-stream cancellation
// it reports stopped=true along with the rows streamed so far, so the
// cancelled result can carry the partial count.
func (s *Source) runQuery(ctx context.Context, params *core.ExtractionParameters, query string, args []interface{}) (rows []models.Row, stopped bool, err error) {
	opCtx, cancel := s.RequestContext(ctx)
	defer cancel()

	batch := params.EffectiveBatchSize(s.configuredBatchSize())
	reporter := s.NewProgressReporter(0, int64(batch), "extracting")

	pgRows, err := s.pool.Query(opCtx, query, args...)
	if err != nil {
		return nil, false, s.ClassifyFailure(ctx, opCtx, errors.Wrap(err, errors.ErrorTypeExtraction, "extraction query failed"))
	}
	defer pgRows.Close()

	fields := pgRows.FieldDescriptions()
	var out []models.Row
	n := 0
	for pgRows.Next() {
		values, err := pgRows.Values()
		if err != nil {
			return nil, false, errors.Wrap(err, errors.ErrorTypeExtraction, "row decode failed")
		}
		row := make(models.Row, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = models.FromAny(values[i])
		}
		out = append(out, row)

		n++
		if n == batch {
			if err := ctx.Err(); err != nil {
				return out, true, nil
			}
			if err := s.Throttle(ctx, n); err != nil {
				return out, true, nil
			}
			reporter.Add(int64(n), "")
			n = 0
		}
	}
	if err := pgRows.Err(); err != nil {
		return nil, false, s.ClassifyFailure(ctx, opCtx, errors.Wrap(err, errors.ErrorTypeExtraction, "extraction stream failed"))
	}
	reporter.Add(int64(n), "")
	reporter.Finish("extraction complete")
	return out, false, nil
}

func (s *Source) cancelled(partial int, started time.Time) (*core.ExtractionResult, error) {
	err := errors.Newf(errors.ErrorTypeCancelled, "extraction cancelled after %d rows", partial)
	result := core.Failed(err.Error(), time.Since(started))
	result.RowCount = partial
	return result, err
}

func (s *Source) configuredBatchSize() int {
	if b := s.BaseConfig(); b != nil {
		return b.Performance.BatchSize
	}
	return defaultBatchSize
}

func (s *Source) configuredMaxRecords() int {
	if b := s.BaseConfig(); b != nil {
		return b.Performance.MaxRecords
	}
	return 0
}

type filterClause struct {
	column string
	op     string
	value  string
}

// buildFilters renders equality filters plus any extra clauses as a
// parameterized WHERE fragment. Values travel as parameters, never
// spliced into the SQL.
func buildFilters(criteria map[string]string, extra []filterClause) (string, []interface{}) {
	var clauses []filterClause
	for _, column := range sortedKeys(criteria) {
		clauses = append(clauses, filterClause{column: column, op: "=", value: criteria[column]})
	}
	clauses = append(clauses, extra...)
	if len(clauses) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(clauses))
	args := make([]interface{}, 0, len(clauses))
	for i, c := range clauses {
		parts = append(parts, fmt.Sprintf("%s %s $%d", quoteIdent(c.column), c.op, i+1))
		args = append(args, c.value)
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// columnList renders the include list, or * when empty. Included columns
// are validated against the discovered structure so unknown names fail
// before reaching the server.
func columnList(include []string, structure models.StructureDescriptor) string {
	if len(include) == 0 {
		return "*"
	}
	cols := make([]string, 0, len(include))
	for _, c := range include {
		if _, ok := structure.Field(c); ok {
			cols = append(cols, quoteIdent(c))
		}
	}
	if len(cols) == 0 {
		return "*"
	}
	return strings.Join(cols, ", ")
}

// orderByPrimaryKeys renders a deterministic ordering clause preferring
// primary keys, falling back to the first column.
func orderByPrimaryKeys(structure models.StructureDescriptor) string {
	keys := structure.PrimaryKeys()
	if len(keys) == 0 && len(structure.Fields) > 0 {
		keys = []string{structure.Fields[0].Name}
	}
	if len(keys) == 0 {
		return ""
	}
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = quoteIdent(k)
	}
	return " ORDER BY " + strings.Join(quoted, ", ")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualifiedName(schema, table string) string {
	return quoteIdent(schema) + "." + quoteIdent(table)
}
