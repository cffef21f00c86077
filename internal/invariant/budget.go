package invariant

import (
	"strings"

	"github.com/roach88/warrant/internal/clock"
)

// DefaultBudgets are the enforced operation latency budgets in
// milliseconds. Lookup is case- and separator-insensitive; operations
// without a budget pass silently.
var DefaultBudgets = map[string]float64{
	"ticketverify": 25,
	"fullvalidate": 400,
	"streamstart":  100,
	"endtoend":     750,
}

// MergeBudgets lays caller overrides over the default budgets. Override
// keys may use any separator style.
func MergeBudgets(overrides map[string]float64) map[string]float64 {
	merged := make(map[string]float64, len(DefaultBudgets)+len(overrides))
	for name, ms := range DefaultBudgets {
		merged[name] = ms
	}
	for name, ms := range overrides {
		merged[normalizeOperation(name)] = ms
	}
	return merged
}

// severeDegradationFactor marks the point where an overage becomes a
// second, independent violation.
const severeDegradationFactor = 2.0

// PerformanceBudgetRule checks operation timings against their latency
// budgets. Exceeding a budget is an error; exceeding twice the budget adds
// a severe-degradation error on top.
type PerformanceBudgetRule struct {
	clock   clock.Clock
	budgets map[string]float64
}

// NewPerformanceBudgetRule creates the budget rule with DefaultBudgets.
func NewPerformanceBudgetRule(c clock.Clock) *PerformanceBudgetRule {
	return NewPerformanceBudgetRuleWith(c, DefaultBudgets)
}

// NewPerformanceBudgetRuleWith creates the budget rule with caller-supplied
// budgets, keyed by operation name (any separator style).
func NewPerformanceBudgetRuleWith(c clock.Clock, budgets map[string]float64) *PerformanceBudgetRule {
	normalized := make(map[string]float64, len(budgets))
	for name, ms := range budgets {
		normalized[normalizeOperation(name)] = ms
	}
	return &PerformanceBudgetRule{clock: c, budgets: normalized}
}

// Meta implements Rule.
func (r *PerformanceBudgetRule) Meta() RuleMeta {
	return RuleMeta{
		Name:        "performance_budget",
		Description: "Gated operations must complete within their latency budgets",
		Expression:  "endTime - startTime <= budget(operation)",
		Severity:    SeverityError,
	}
}

// SubjectKind implements Rule.
func (r *PerformanceBudgetRule) SubjectKind() Kind { return KindTiming }

// Evaluate implements Rule.
func (r *PerformanceBudgetRule) Evaluate(subject Subject, ctx Context) []Violation {
	now := ctx.now(r.clock.Now())

	ts, ok := subject.(TimingSubject)
	if !ok {
		return mismatchViolation(r.Meta(), subject, KindTiming, now)
	}

	if ts.Metrics.StartTime == nil || ts.Metrics.EndTime == nil {
		// Budget cannot be assessed without both readings; advisory only.
		missing := make([]string, 0, 2)
		if ts.Metrics.StartTime == nil {
			missing = append(missing, "startTime")
		}
		if ts.Metrics.EndTime == nil {
			missing = append(missing, "endTime")
		}
		return []Violation{{
			Invariant: r.Meta().Name,
			Message:   "timing metrics incomplete, budget not assessed",
			Severity:  SeverityWarning,
			Context:   ctx.Operation,
			Details: map[string]any{
				"operation":      ts.Operation,
				"missing_fields": missing,
			},
			Timestamp: now,
		}}
	}

	budget, enforced := r.budgets[normalizeOperation(ts.Operation)]
	if !enforced {
		return nil
	}

	actual := *ts.Metrics.EndTime - *ts.Metrics.StartTime
	if actual <= budget {
		return nil
	}

	overage := actual - budget
	violations := []Violation{{
		Invariant: r.Meta().Name,
		Message:   "operation exceeded its latency budget",
		Severity:  SeverityError,
		Context:   ctx.Operation,
		Details: map[string]any{
			"operation":       ts.Operation,
			"budget_ms":       budget,
			"actual_ms":       actual,
			"overage_ms":      overage,
			"overage_percent": overage / budget * 100,
		},
		Timestamp: now,
	}}

	if actual > budget*severeDegradationFactor {
		violations = append(violations, Violation{
			Invariant: r.Meta().Name,
			Message:   "severe degradation: operation exceeded twice its latency budget",
			Severity:  SeverityError,
			Context:   ctx.Operation,
			Details: map[string]any{
				"operation":    ts.Operation,
				"budget_ms":    budget,
				"actual_ms":    actual,
				"threshold_ms": budget * severeDegradationFactor,
			},
			Timestamp: now,
		})
	}

	return violations
}

// normalizeOperation lowercases and strips separators so that
// "full_validate", "Full-Validate", and "full validate" all resolve to the
// same budget.
func normalizeOperation(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch r {
		case '_', '-', ' ', '.', '/':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
