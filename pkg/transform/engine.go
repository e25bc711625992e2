package transform

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vortexdata/vortex/pkg/logger"
	"github.com/vortexdata/vortex/pkg/models"
)

// Options configures one pipeline run.
type Options struct {
	// PreserveOriginal deep-copies the input so the extraction buffer is
	// never mutated in place.
	PreserveOriginal bool
	// JoinData supplies the right-side row set for join rules, keyed by
	// rule ID.
	JoinData map[string][]models.Row
}

// Engine executes rule pipelines. It is safe for concurrent use; custom
// rule hooks are registered once at startup.
type Engine struct {
	logger *zap.Logger

	mu     sync.RWMutex
	custom map[string]CustomFunc
}

// NewEngine creates a transformation engine.
func NewEngine() *Engine {
	return &Engine{
		logger: logger.Get().With(zap.String("component", "transform_engine")),
		custom: make(map[string]CustomFunc),
	}
}

// RegisterCustom registers a named hook for custom rules. Re-registering
// a name replaces the previous hook.
func (e *Engine) RegisterCustom(name string, fn CustomFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom[name] = fn
}

func (e *Engine) customFunc(name string) (CustomFunc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.custom[name]
	return fn, ok
}

// cancelCheckInterval is how many rows are processed between cancellation
// polls.
const cancelCheckInterval = 256

// Apply runs the rules in ascending Order over the row set. Ties keep
// the original list order. A rule failure is scoped to that rule unless
// its FailOnError flag is set, in which case the pipeline aborts and the
// result carries the partial rule results accumulated so far.
func (e *Engine) Apply(ctx context.Context, rows []models.Row, rules []Rule, opts *Options) *PipelineResult {
	if opts == nil {
		opts = &Options{}
	}

	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	working := rows
	if opts.PreserveOriginal {
		working = models.CloneRows(rows)
	}

	result := &PipelineResult{Success: true}

	for i := range ordered {
		rule := &ordered[i]

		if err := ctx.Err(); err != nil {
			// Cancellation is not a partial commit: the partially
			// transformed working set is discarded.
			result.Success = false
			result.Rows = nil
			result.Errors = append(result.Errors, "pipeline cancelled before rule "+rule.ID)
			return result
		}

		start := time.Now()
		out, ruleRes := e.applyRule(ctx, rule, working, opts)
		ruleRes.Elapsed = time.Since(start)
		result.RuleResults = append(result.RuleResults, ruleRes)

		if !ruleRes.Success {
			e.logger.Warn("rule failed",
				zap.String("rule_id", rule.ID),
				zap.String("rule_type", string(rule.Type)),
				zap.String("error", ruleRes.ErrorMessage))

			if rule.FailOnError {
				result.Success = false
				result.Rows = nil
				result.Errors = append(result.Errors, ruleRes.ErrorMessage)
				return result
			}
			// Failure scoped to this rule; the working set is left as
			// the rule produced it and the pipeline continues.
		}

		working = out
	}

	result.Rows = working
	return result
}
