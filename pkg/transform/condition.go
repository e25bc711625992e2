package transform

import (
	"strings"

	"github.com/vortexdata/vortex/pkg/errors"
	"github.com/vortexdata/vortex/pkg/models"
)

// Operator is a comparison operator usable in rule conditions and filter
// predicates.
type Operator string

const (
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpContains       Operator = "contains"
	OpExists         Operator = "exists"
	OpNotExists      Operator = "not_exists"
)

// ordered by prefix length so ">=" wins over ">"
var operators = []Operator{
	OpNotExists, OpExists, OpContains,
	OpGreaterOrEqual, OpLessOrEqual, OpNotEqual, OpEqual,
	OpGreater, OpLess,
}

// condition is a parsed "field op value" predicate.
type condition struct {
	field string
	op    Operator
	value models.Value
	raw   string
}

// parseCondition parses "field op value" (value optional for the exists
// operators). An empty expression parses to the always-true condition.
func parseCondition(expr string) (*condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	for _, op := range operators {
		idx := strings.Index(expr, " "+string(op))
		if idx <= 0 {
			continue
		}
		field := strings.TrimSpace(expr[:idx])
		rest := strings.TrimSpace(expr[idx+len(op)+1:])

		if op == OpExists || op == OpNotExists {
			return &condition{field: field, op: op, raw: expr}, nil
		}
		return &condition{field: field, op: op, value: literalValue(rest), raw: expr}, nil
	}

	return nil, errors.Newf(errors.ErrorTypeTransformation, "cannot parse condition %q", expr)
}

// literalValue interprets a condition literal: quoted strings stay
// strings, bare numerals become numbers, true/false become bools.
func literalValue(lit string) models.Value {
	if len(lit) >= 2 && (lit[0] == '\'' || lit[0] == '"') && lit[len(lit)-1] == lit[0] {
		return models.String(lit[1 : len(lit)-1])
	}
	switch lit {
	case "true":
		return models.Bool(true)
	case "false":
		return models.Bool(false)
	case "null":
		return models.Null()
	}
	return models.String(lit)
}

// evaluate applies the condition to one row. A nil condition is true.
func (c *condition) evaluate(row models.Row) bool {
	if c == nil {
		return true
	}

	val, present := row[c.field]

	switch c.op {
	case OpExists:
		return present && !val.IsNull()
	case OpNotExists:
		return !present || val.IsNull()
	case OpContains:
		return present && strings.Contains(val.Transport(), c.value.Transport())
	}

	if !present {
		return false
	}

	cmp := val.Compare(c.value)
	switch c.op {
	case OpEqual:
		return cmp == 0
	case OpNotEqual:
		return cmp != 0
	case OpGreater:
		return cmp > 0
	case OpGreaterOrEqual:
		return cmp >= 0
	case OpLess:
		return cmp < 0
	case OpLessOrEqual:
		return cmp <= 0
	default:
		return false
	}
}
