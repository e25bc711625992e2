package transform

import (
	"context"
	"strconv"
	"strings"

	"github.com/vortexdata/vortex/pkg/errors"
	"github.com/vortexdata/vortex/pkg/models"
)

// applyRule dispatches one rule over the working row set and returns the
// new working set plus the execution record.
func (e *Engine) applyRule(ctx context.Context, rule *Rule, rows []models.Row, opts *Options) ([]models.Row, RuleExecutionResult) {
	res := RuleExecutionResult{RuleID: rule.ID, Success: true, RowsSeen: len(rows)}

	gate, err := parseCondition(rule.Condition)
	if err != nil {
		res.Success = false
		res.ErrorMessage = err.Error()
		res.FailureCount = len(rows)
		return rows, res
	}

	switch rule.Type {
	case RuleTypeMap:
		return e.applyPerRow(ctx, rule, rows, gate, &res, applyMap)
	case RuleTypeFormat:
		return e.applyPerRow(ctx, rule, rows, gate, &res, applyFormat)
	case RuleTypeAdd:
		return e.applyPerRow(ctx, rule, rows, gate, &res, applyAdd)
	case RuleTypeRemove:
		return e.applyPerRow(ctx, rule, rows, gate, &res, applyRemove)
	case RuleTypeRename:
		return e.applyPerRow(ctx, rule, rows, gate, &res, applyRename)
	case RuleTypeFilter:
		return applyFilter(rule, rows, gate, &res)
	case RuleTypeAggregate:
		return applyAggregate(rule, rows, gate, &res)
	case RuleTypeJoin:
		return applyJoin(rule, rows, gate, opts, &res)
	case RuleTypeCustom:
		return e.applyCustom(ctx, rule, rows, gate, &res)
	default:
		// Unknown rule types fail this rule only.
		res.Success = false
		res.FailureCount = len(rows)
		res.ErrorMessage = "unknown rule type: " + string(rule.Type)
		return rows, res
	}
}

// rowFunc mutates one row in place; it may return a replacement row.
type rowFunc func(rule *Rule, row models.Row) (models.Row, error)

// applyPerRow runs a row-mutating rule across the set with cancellation
// polling between blocks of rows.
func (e *Engine) applyPerRow(ctx context.Context, rule *Rule, rows []models.Row, gate *condition, res *RuleExecutionResult, fn rowFunc) ([]models.Row, RuleExecutionResult) {
	out := make([]models.Row, 0, len(rows))

	for i, row := range rows {
		if i%cancelCheckInterval == 0 && ctx.Err() != nil {
			res.Success = false
			res.ErrorMessage = "cancelled"
			return rows, *res
		}

		if !gate.evaluate(row) {
			out = append(out, row)
			continue
		}

		replaced, err := fn(rule, row)
		if err != nil {
			res.FailureCount++
			if res.ErrorMessage == "" {
				res.ErrorMessage = err.Error()
			}
			if rule.FailOnError {
				res.Success = false
				return rows, *res
			}
			out = append(out, row)
			continue
		}

		res.SuccessCount++
		if replaced != nil {
			out = append(out, replaced)
		} else {
			out = append(out, row)
		}
	}

	if res.FailureCount > 0 && res.SuccessCount == 0 {
		res.Success = false
	}
	return out, *res
}

// applyMap copies one source field to one target field, or assigns the
// evaluated expression when one is configured.
func applyMap(rule *Rule, row models.Row) (models.Row, error) {
	if len(rule.TargetFields) == 0 {
		return nil, errTransform("map rule %s has no target field", rule.ID)
	}
	target := rule.TargetFields[0]

	if rule.Expression != "" {
		row[target] = models.String(evalExpression(rule.Expression, row))
		return nil, nil
	}

	if len(rule.SourceFields) == 0 {
		return nil, errTransform("map rule %s has neither source field nor expression", rule.ID)
	}
	src := rule.SourceFields[0]
	v, ok := row[src]
	if !ok {
		return nil, errTransform("map rule %s: source field %q missing", rule.ID, src)
	}
	row[target] = v
	return nil, nil
}

// applyFormat renders a template over the row into the target field.
func applyFormat(rule *Rule, row models.Row) (models.Row, error) {
	if len(rule.TargetFields) == 0 {
		return nil, errTransform("format rule %s has no target field", rule.ID)
	}
	tmpl := rule.Expression
	if tmpl == "" {
		tmpl = rule.Param("format", "")
	}
	if tmpl == "" {
		return nil, errTransform("format rule %s has no format template", rule.ID)
	}
	row[rule.TargetFields[0]] = models.String(evalExpression(tmpl, row))
	return nil, nil
}

// applyAdd inserts a constant or expression value.
func applyAdd(rule *Rule, row models.Row) (models.Row, error) {
	if len(rule.TargetFields) == 0 {
		return nil, errTransform("add rule %s has no target field", rule.ID)
	}
	if rule.Expression != "" {
		row[rule.TargetFields[0]] = models.String(evalExpression(rule.Expression, row))
		return nil, nil
	}
	row[rule.TargetFields[0]] = models.String(rule.Param("value", ""))
	return nil, nil
}

// applyRemove deletes the source fields.
func applyRemove(rule *Rule, row models.Row) (models.Row, error) {
	if len(rule.SourceFields) == 0 {
		return nil, errTransform("remove rule %s has no source fields", rule.ID)
	}
	for _, f := range rule.SourceFields {
		delete(row, f)
	}
	return nil, nil
}

// applyRename moves SourceFields[i] to TargetFields[i].
func applyRename(rule *Rule, row models.Row) (models.Row, error) {
	if len(rule.SourceFields) == 0 || len(rule.SourceFields) != len(rule.TargetFields) {
		return nil, errTransform("rename rule %s needs matching source and target fields", rule.ID)
	}
	for i, src := range rule.SourceFields {
		if v, ok := row[src]; ok {
			delete(row, src)
			row[rule.TargetFields[i]] = v
		}
	}
	return nil, nil
}

// applyFilter removes rows matching the configured predicate. The
// predicate comes from the field/operator/value parameters; rows failing
// the gate condition pass through untouched.
func applyFilter(rule *Rule, rows []models.Row, gate *condition, res *RuleExecutionResult) ([]models.Row, RuleExecutionResult) {
	field := rule.Param("field", "")
	if field == "" && len(rule.SourceFields) > 0 {
		field = rule.SourceFields[0]
	}
	if field == "" {
		res.Success = false
		res.FailureCount = len(rows)
		res.ErrorMessage = "filter rule " + rule.ID + " has no predicate field"
		return rows, *res
	}

	pred := &condition{
		field: field,
		op:    Operator(rule.Param("operator", string(OpEqual))),
		value: literalValue(rule.Param("value", "")),
	}

	out := rows[:0]
	for _, row := range rows {
		if gate.evaluate(row) && pred.evaluate(row) {
			res.SuccessCount++
			continue // excluded
		}
		out = append(out, row)
	}
	return out, *res
}

// applyAggregate groups the gated rows by the configured key set and
// collapses each group to one row. Rows failing the gate pass through
// ahead of the aggregated groups.
func applyAggregate(rule *Rule, rows []models.Row, gate *condition, res *RuleExecutionResult) ([]models.Row, RuleExecutionResult) {
	groupBy := splitList(rule.Param("group_by", ""))
	fn := rule.Param("function", "count")
	if len(groupBy) == 0 {
		res.Success = false
		res.FailureCount = len(rows)
		res.ErrorMessage = "aggregate rule " + rule.ID + " has no group_by keys"
		return rows, *res
	}

	var out []models.Row
	groups := make(map[string][]models.Row)
	var order []string

	for _, row := range rows {
		if !gate.evaluate(row) {
			out = append(out, row)
			continue
		}
		key := groupKey(row, groupBy)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	for _, key := range order {
		members := groups[key]
		collapsed := make(models.Row, len(groupBy)+len(rule.TargetFields))
		for _, k := range groupBy {
			collapsed[k] = members[0][k]
		}

		targets := rule.TargetFields
		if fn == "count" && len(targets) == 0 {
			targets = []string{"count"}
		}
		for _, target := range targets {
			v, err := aggregateField(members, target, fn)
			if err != nil {
				res.FailureCount++
				if res.ErrorMessage == "" {
					res.ErrorMessage = err.Error()
				}
				continue
			}
			collapsed[target] = v
		}

		res.SuccessCount += len(members)
		out = append(out, collapsed)
	}

	if rule.FailOnError && res.FailureCount > 0 {
		res.Success = false
		return rows, *res
	}
	return out, *res
}

// aggregateField collapses one field across group members.
func aggregateField(members []models.Row, field, fn string) (models.Value, error) {
	if fn == "count" {
		return models.Int(int64(len(members))), nil
	}

	var sum float64
	var count int
	min := models.Null()
	max := models.Null()

	for _, row := range members {
		v, ok := row[field]
		if !ok || v.IsNull() {
			continue
		}
		if min.IsNull() || v.Compare(min) < 0 {
			min = v
		}
		if max.IsNull() || v.Compare(max) > 0 {
			max = v
		}
		f, err := strconv.ParseFloat(v.Transport(), 64)
		if err == nil {
			sum += f
			count++
		}
	}

	switch fn {
	case "sum":
		return models.Float(sum), nil
	case "avg":
		if count == 0 {
			return models.Null(), nil
		}
		return models.Float(sum / float64(count)), nil
	case "min":
		return min, nil
	case "max":
		return max, nil
	default:
		return models.Null(), errTransform("unknown aggregate function %q", fn)
	}
}

// applyJoin merges fields from an externally supplied right-side row set
// using equality over SourceFields. Matched right-side fields land under
// the configured target prefix; join keys are not duplicated. On
// multiple right matches the first wins.
func applyJoin(rule *Rule, rows []models.Row, gate *condition, opts *Options, res *RuleExecutionResult) ([]models.Row, RuleExecutionResult) {
	if len(rule.SourceFields) == 0 {
		res.Success = false
		res.FailureCount = len(rows)
		res.ErrorMessage = "join rule " + rule.ID + " has no join keys"
		return rows, *res
	}

	right := opts.JoinData[rule.ID]
	joinType := rule.Param("type", "inner")
	prefix := rule.Param("target_prefix", rule.ID+"_")

	// Index the right side by join key.
	index := make(map[string]models.Row, len(right))
	for _, r := range right {
		key := groupKey(r, rule.SourceFields)
		if _, dup := index[key]; !dup {
			index[key] = r
		}
	}

	keySet := make(map[string]struct{}, len(rule.SourceFields))
	for _, k := range rule.SourceFields {
		keySet[k] = struct{}{}
	}

	var out []models.Row
	for _, row := range rows {
		if !gate.evaluate(row) {
			out = append(out, row)
			continue
		}

		match, ok := index[groupKey(row, rule.SourceFields)]
		if !ok {
			if joinType == "left" {
				out = append(out, row)
				res.SuccessCount++
			}
			// inner join drops unmatched left rows
			continue
		}

		for k, v := range match {
			if _, isKey := keySet[k]; isKey {
				continue
			}
			row[prefix+k] = v
		}
		res.SuccessCount++
		out = append(out, row)
	}

	return out, *res
}

// applyCustom invokes a registered hook named by the expression (or the
// "function" parameter).
func (e *Engine) applyCustom(ctx context.Context, rule *Rule, rows []models.Row, gate *condition, res *RuleExecutionResult) ([]models.Row, RuleExecutionResult) {
	name := rule.Expression
	if name == "" {
		name = rule.Param("function", "")
	}
	fn, ok := e.customFunc(name)
	if !ok {
		res.Success = false
		res.FailureCount = len(rows)
		res.ErrorMessage = "custom rule " + rule.ID + ": no hook registered as " + strconv.Quote(name)
		return rows, *res
	}

	return e.applyPerRow(ctx, rule, rows, gate, res, func(r *Rule, row models.Row) (models.Row, error) {
		return fn(row, r)
	})
}

// groupKey builds a composite key from the given fields.
func groupKey(row models.Row, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = row[f].Transport()
	}
	return strings.Join(parts, "\x1f")
}

// splitList splits a comma-separated parameter.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// errTransform builds a transformation-scoped error.
func errTransform(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrorTypeTransformation, format, args...)
}
