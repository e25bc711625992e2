// Package mysql provides the MySQL connector over database/sql with the
// go-sql-driver driver. Discovery goes through the information schema;
// extraction pushes filters, ordering and row caps down to the server.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/vortexdata/vortex/pkg/config"
	"github.com/vortexdata/vortex/pkg/connector/base"
	"github.com/vortexdata/vortex/pkg/connector/core"
	"github.com/vortexdata/vortex/pkg/errors"
	"github.com/vortexdata/vortex/pkg/models"
)

const defaultBatchSize = 1000

// Source is the MySQL connector.
type Source struct {
	*base.BaseConnector

	db       *sql.DB
	database string
}

// NewSource creates an unconfigured MySQL connector.
func NewSource() core.Connector {
	return &Source{
		BaseConnector: base.NewBaseConnector(
			core.Metadata{
				ID:          "mysql",
				Name:        "MySQL",
				SourceType:  "mysql",
				Version:     "1.0.0",
				Description: "MySQL relational database",
			},
			core.Capabilities{
				SupportsIncremental:       true,
				SupportsSchemaDiscovery:   true,
				SupportsAdvancedFiltering: true,
				SupportsPreview:           true,
				MaxConcurrentExtractions:  8,
				AuthModes:                 []core.AuthMode{core.AuthModePassword},
				SourceTypeAliases:         []string{"mariadb"},
			},
		),
	}
}

// Parameters describes the accepted connection parameters.
func (s *Source) Parameters() []core.ParameterDescriptor {
	return []core.ParameterDescriptor{
		{Name: "host", Required: true, Description: "Server hostname"},
		{Name: "port", Description: "Server port", Default: "3306"},
		{Name: "database", Required: true, Description: "Database name"},
		{Name: "username", Required: true, Description: "Login user"},
		{Name: "password", Required: true, Secret: true, Description: "Login password"},
		{Name: "tls", Description: "TLS mode (false/true/skip-verify/preferred)", Default: "preferred"},
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

	s.database, _ = cfg.Parameter("database")
	s.StoreConfiguration(cfg, config.NewBaseConfig(cfg.DisplayName(), "mysql"))
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
	switch params["tls"] {
	case "", "false", "true", "skip-verify", "preferred":
	default:
		result.AddError("tls", "unknown tls mode "+params["tls"])
	}
	if params["tls"] == "false" {
		result.AddWarning("TLS is disabled; credentials travel in cleartext")
	}
	return result
}

func buildDSN(params map[string]string, timeout time.Duration) string {
	cfg := mysql.NewConfig()
	cfg.User = params["username"]
	cfg.Passwd = params["password"]
	cfg.Net = "tcp"
	port := params["port"]
	if port == "" {
		port = "3306"
	}
	cfg.Addr = params["host"] + ":" + port
	cfg.DBName = params["database"]
	cfg.ParseTime = true
	cfg.Timeout = timeout
	if tls := params["tls"]; tls != "" {
		cfg.TLSConfig = tls
	} else {
		cfg.TLSConfig = "preferred"
	}
	return cfg.FormatDSN()
}

// Connect opens the pool and verifies connectivity with SELECT VERSION().
func (s *Source) Connect(ctx context.Context) (*core.ConnectResult, error) {
	if !s.Initialized() {
		return nil, errors.New(errors.ErrorTypeConfig, "connector is not initialized")
	}
	return s.RunConnect(ctx, func(ctx context.Context) (string, error) {
		db, version, err := s.open(ctx, s.Configuration().Parameters())
		if err != nil {
			return "", err
		}
		s.db = db
		return version, nil
	})
}

func (s *Source) open(ctx context.Context, params map[string]string) (*sql.DB, string, error) {
	timeout := 10 * time.Second
	if b := s.BaseConfig(); b != nil && b.Timeouts.Connection > 0 {
		timeout = b.Timeouts.Connection
	}

	db, err := sql.Open("mysql", buildDSN(params, timeout))
	if err != nil {
		return nil, "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid connection parameters")
	}
	if b := s.BaseConfig(); b != nil && b.Performance.MaxConcurrency > 0 {
		db.SetMaxOpenConns(b.Performance.MaxConcurrency)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		_ = db.Close()
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == 1045 {
			return nil, "", errors.Wrap(err, errors.ErrorTypeAuthentication, "authentication failed")
		}
		return nil, "", errors.Wrap(err, errors.ErrorTypeConnection, "server unreachable")
	}
	return db, version, nil
}

// TestConnection connects with a throwaway pool and tears it down.
func (s *Source) TestConnection(ctx context.Context, params map[string]string) (*core.ConnectResult, error) {
	if result := s.ValidateConnection(params); !result.Valid {
		return &core.ConnectResult{Success: false, Message: "parameter validation failed", Errors: result.Errors}, nil
	}

	db, version, err := s.open(ctx, params)
	if err != nil {
		return &core.ConnectResult{
			Success: false,
			Message: err.Error(),
			Errors:  []core.ValidationError{{Message: err.Error()}},
		}, nil
	}
	defer db.Close()

	return &core.ConnectResult{Success: true, BackendVersion: version, Message: "connection ok"}, nil
}

// Disconnect closes the pool.
func (s *Source) Disconnect(ctx context.Context) (bool, error) {
	return s.RunDisconnect(ctx, func(ctx context.Context) error {
		if s.db != nil {
			err := s.db.Close()
			s.db = nil
			return err
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
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
	s.MarkClosed()
	return nil
}

// DiscoverStructures lists tables of the configured database through the
// information schema.
func (s *Source) DiscoverStructures(ctx context.Context, filter string) ([]models.StructureDescriptor, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}

	opCtx, cancel := s.RequestContext(ctx)
	defer cancel()

	query := `
		SELECT
			TABLE_NAME,
			COLUMN_NAME,
			DATA_TYPE,
			IS_NULLABLE = 'YES',
			COALESCE(CHARACTER_MAXIMUM_LENGTH, 0),
			COLUMN_KEY = 'PRI'
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ?
		  AND (? = '' OR TABLE_NAME = ?)
		ORDER BY TABLE_NAME, ORDINAL_POSITION`

	rows, err := s.db.QueryContext(opCtx, query, s.database, filter, filter)
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
	case "tinyint", "smallint", "mediumint", "int", "bigint", "year":
		return models.FieldTypeInt
	case "float", "double", "decimal":
		return models.FieldTypeFloat
	case "bit":
		return models.FieldTypeBool
	case "datetime", "timestamp", "time":
		return models.FieldTypeTimestamp
	case "date":
		return models.FieldTypeDate
	case "binary", "varbinary", "blob", "tinyblob", "mediumblob", "longblob":
		return models.FieldTypeBinary
	case "json":
		return models.FieldTypeJSON
	default:
		return models.FieldTypeString
	}
}

// Extract runs a bounded full or incremental extraction against one
// table.
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
		err := errors.Newf(errors.ErrorTypeExtraction, "table %q does not exist in database %q", target, s.database)
		return core.Failed(err.Error(), time.Since(started)), err
	}
	structure := descs[0]

	if params.Incremental {
		return s.extractIncremental(ctx, params, structure, started)
	}
	return s.extractFull(ctx, params, structure, started)
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
	query := fmt.Sprintf("SELECT %s FROM %s%s%s LIMIT %d OFFSET %d",
		columnList(params.IncludeFields, structure),
		quoteIdent(target), where, orderByPrimaryKeys(structure), limit, offset)

	rows, stopped, err := s.runQuery(ctx, params, structure, query, args)
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
		quoteIdent(target), where, quoteIdent(params.TrackingField), limit)

	rows, stopped, err := s.runQuery(ctx, params, structure, query, args)
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

// runQuery executes a built extraction query, decoding driver bytes into
// typed values by column type, with cancellation polled between batches.
// On mid-stream cancellation it reports stopped=true along with the rows
// streamed so far, so the cancelled result can carry the partial count.
func (s *Source) runQuery(ctx context.Context, params *core.ExtractionParameters, structure models.StructureDescriptor, query string, args []interface{}) (rows []models.Row, stopped bool, err error) {
	opCtx, cancel := s.RequestContext(ctx)
	defer cancel()

	batch := params.EffectiveBatchSize(s.configuredBatchSize())
	reporter := s.NewProgressReporter(0, int64(batch), "extracting")

	sqlRows, err := s.db.QueryContext(opCtx, query, args...)
	if err != nil {
		return nil, false, s.ClassifyFailure(ctx, opCtx, errors.Wrap(err, errors.ErrorTypeExtraction, "extraction query failed"))
	}
	defer sqlRows.Close()

	columns, err := sqlRows.Columns()
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrorTypeExtraction, "cannot read result columns")
	}

	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var out []models.Row
	n := 0
	for sqlRows.Next() {
		if err := sqlRows.Scan(ptrs...); err != nil {
			return nil, false, errors.Wrap(err, errors.ErrorTypeExtraction, "row decode failed")
		}
		row := make(models.Row, len(columns))
		for i, col := range columns {
			row[col] = decodeValue(values[i], col, structure)
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
	if err := sqlRows.Err(); err != nil {
		return nil, false, s.ClassifyFailure(ctx, opCtx, errors.Wrap(err, errors.ErrorTypeExtraction, "extraction stream failed"))
	}
	reporter.Add(int64(n), "")
	reporter.Finish("extraction complete")
	return out, false, nil
}

// decodeValue converts a driver value into the tagged union. The driver
// hands back []byte for most text and numeric columns, so the discovered
// field type decides the decoding.
func decodeValue(raw interface{}, column string, structure models.StructureDescriptor) models.Value {
	buf, isBytes := raw.([]byte)
	if !isBytes {
		return models.FromAny(raw)
	}

	fd, ok := structure.Field(column)
	if !ok {
		return models.String(string(buf))
	}
	text := string(buf)
	switch fd.Type {
	case models.FieldTypeInt:
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return models.Int(i)
		}
	case models.FieldTypeFloat:
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return models.Float(f)
		}
	case models.FieldTypeBool:
		// bit columns deliver the raw bitfield bytes, not ASCII digits;
		// bit(1) false is []byte{0x00}.
		v := false
		for _, b := range buf {
			if b != 0 {
				v = true
			}
		}
		return models.Bool(v)
	case models.FieldTypeTimestamp, models.FieldTypeDate:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, text); err == nil {
				return models.Timestamp(t)
			}
		}
	case models.FieldTypeBinary:
		cp := make([]byte, len(buf))
		copy(cp, buf)
		return models.Binary(cp)
	}
	return models.String(text)
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

func buildFilters(criteria map[string]string, extra []filterClause) (string, []interface{}) {
	var clauses []filterClause
	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, column := range keys {
		clauses = append(clauses, filterClause{column: column, op: "=", value: criteria[column]})
	}
	clauses = append(clauses, extra...)
	if len(clauses) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(clauses))
	args := make([]interface{}, 0, len(clauses))
	for _, c := range clauses {
		parts = append(parts, fmt.Sprintf("%s %s ?", quoteIdent(c.column), c.op))
		args = append(args, c.value)
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

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
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
