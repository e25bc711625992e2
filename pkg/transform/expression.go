package transform

import (
	"strings"

	"github.com/vortexdata/vortex/pkg/models"
)

// evalExpression substitutes ${field} references in a template with the
// transport rendering of the row's values. Unknown fields substitute to
// the empty string. A template without references is a literal.
func evalExpression(expr string, row models.Row) string {
	if !strings.Contains(expr, "${") {
		return expr
	}

	var b strings.Builder
	b.Grow(len(expr))

	for {
		start := strings.Index(expr, "${")
		if start < 0 {
			b.WriteString(expr)
			break
		}
		end := strings.Index(expr[start:], "}")
		if end < 0 {
			b.WriteString(expr)
			break
		}
		end += start

		b.WriteString(expr[:start])
		field := expr[start+2 : end]
		if v, ok := row[field]; ok {
			b.WriteString(v.Transport())
		}
		expr = expr[end+1:]
	}

	return b.String()
}

// CustomFunc is the extension hook for custom rules. It receives the row
// and the rule and returns the replacement row; returning nil keeps the
// row unchanged.
type CustomFunc func(row models.Row, rule *Rule) (models.Row, error)
