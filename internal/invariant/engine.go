package invariant

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/roach88/warrant/internal/clock"
)

// Engine owns the rule registry and the violation log.
//
// Registration order is preserved: reports and validation passes iterate
// rules in the order they were registered, so output is stable across runs.
//
// Thread-safety: ValidateAll and all queries are safe for concurrent use.
// Rule-private state (nonce store, validation cache) carries its own
// locking.
type Engine struct {
	mu    sync.Mutex
	rules []*ruleEntry
	log   []Violation

	clock   clock.Clock
	logger  *slog.Logger
	budgets map[string]float64

	nonce *NonceUniquenessRule
	cache *IncrementalValidationRule
}

type ruleEntry struct {
	rule    Rule
	enabled bool
}

// Option configures engine construction.
type Option func(*Engine)

// WithClock substitutes the wall clock, for deterministic tests.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger substitutes the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBudgets overrides the default operation latency budgets.
func WithBudgets(budgets map[string]float64) Option {
	return func(e *Engine) { e.budgets = budgets }
}

// New creates an engine with the five default rules registered in report
// order: ticket TTL, nonce uniqueness, canonical patch format, performance
// budget, incremental-validation correctness.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:   clock.System{},
		logger:  slog.Default(),
		budgets: DefaultBudgets,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.nonce = NewNonceUniquenessRule(e.clock)
	e.cache = NewIncrementalValidationRule(e.clock)
	e.Register(NewTicketTTLRule(e.clock))
	e.Register(e.nonce)
	e.Register(NewCanonicalPatchRule(e.clock))
	e.Register(NewPerformanceBudgetRuleWith(e.clock, e.budgets))
	e.Register(e.cache)
	return e
}

// Register appends a rule to the registry, enabled. Registration order is
// the evaluation and report order.
func (e *Engine) Register(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, &ruleEntry{rule: r, enabled: true})
}

// SetEnabled toggles a rule by name. Returns false when no rule matches.
func (e *Engine) SetEnabled(name string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range e.rules {
		if entry.rule.Meta().Name == name {
			entry.enabled = enabled
			return true
		}
	}
	return false
}

// Rules returns rule metadata in registration order.
func (e *Engine) Rules() []RuleMeta {
	e.mu.Lock()
	defer e.mu.Unlock()
	metas := make([]RuleMeta, 0, len(e.rules))
	for _, entry := range e.rules {
		metas = append(metas, entry.rule.Meta())
	}
	return metas
}

// ValidateAll runs every enabled rule whose subject kind matches, collects
// violations into the log, and reports pass/fail. A rule that panics is
// converted into a synthetic error violation naming the rule; one failing
// rule never aborts the pass.
func (e *Engine) ValidateAll(subject Subject, ctx Context) Result {
	started := time.Now()
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = e.clock.Now()
	}

	e.mu.Lock()
	entries := make([]*ruleEntry, len(e.rules))
	copy(entries, e.rules)
	e.mu.Unlock()

	var violations []Violation
	evaluated := 0
	for _, entry := range entries {
		if !entry.enabled || entry.rule.SubjectKind() != subject.Kind() {
			continue
		}
		evaluated++
		violations = append(violations, e.evaluateRule(entry.rule, subject, ctx)...)
	}

	passed := true
	for _, v := range violations {
		if v.Severity == SeverityError {
			passed = false
			break
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	result := Result{
		Passed:     passed,
		Violations: violations,
		Metrics: PassMetrics{
			Duration:       time.Since(started),
			RulesEvaluated: evaluated,
			HeapAllocBytes: mem.HeapAlloc,
			NumGoroutine:   runtime.NumGoroutine(),
		},
		Context: ctx,
	}

	e.mu.Lock()
	e.log = append(e.log, violations...)
	e.mu.Unlock()

	if !passed {
		e.logger.Warn("invariant validation failed",
			"subject", subject.Kind().String(),
			"operation", ctx.Operation,
			"violations", len(violations),
			"duration", result.Metrics.Duration,
		)
	} else {
		e.logger.Debug("invariant validation passed",
			"subject", subject.Kind().String(),
			"operation", ctx.Operation,
			"rules", evaluated,
			"duration", result.Metrics.Duration,
		)
	}

	return result
}

// evaluateRule invokes one rule, converting a panic into a synthetic
// error violation so the pass continues.
func (e *Engine) evaluateRule(r Rule, subject Subject, ctx Context) (out []Violation) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("invariant rule panicked",
				"rule", r.Meta().Name,
				"panic", fmt.Sprint(rec),
			)
			out = []Violation{{
				Invariant: r.Meta().Name,
				Message:   fmt.Sprintf("rule evaluation failed: %v", rec),
				Severity:  SeverityError,
				Context:   "engine",
				Details:   map[string]any{"panic": fmt.Sprint(rec)},
				Timestamp: ctx.now(e.clock.Now()),
			}}
		}
	}()
	return r.Evaluate(subject, ctx)
}

// ViolationLog returns a copy of the accumulated violation log.
func (e *Engine) ViolationLog() []Violation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Violation, len(e.log))
	copy(out, e.log)
	return out
}

// ViolationsBySeverity returns logged violations of one severity, in log
// order.
func (e *Engine) ViolationsBySeverity(sev Severity) []Violation {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Violation
	for _, v := range e.log {
		if v.Severity == sev {
			out = append(out, v)
		}
	}
	return out
}

// ClearLog discards the violation log. Rule-private state is untouched.
func (e *Engine) ClearLog() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = nil
}

// Reset clears the violation log and all rule-private state (nonce store,
// validation cache). Intended for tests; production state has process
// lifetime.
func (e *Engine) Reset() {
	e.mu.Lock()
	rules := make([]*ruleEntry, len(e.rules))
	copy(rules, e.rules)
	e.log = nil
	e.mu.Unlock()

	for _, entry := range rules {
		if r, ok := entry.rule.(resettable); ok {
			r.reset()
		}
	}
}

// NonceStats exposes the replay-protection store for diagnostics.
func (e *Engine) NonceStats() NonceStats {
	return e.nonce.Stats()
}

// CacheStats exposes the validation cache for diagnostics.
func (e *Engine) CacheStats() CacheStats {
	return e.cache.Stats()
}
