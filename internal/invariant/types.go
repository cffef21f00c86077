// Package invariant implements the guarantees that gate ticket-authorized
// mutations of the managed specification repository.
//
// Each guarantee is an independent Rule evaluated against a Subject. Rules
// report InvariantViolations instead of returning errors: an expected
// failure condition (expired ticket, replayed nonce, non-canonical patch)
// is a violation, not a fault. Severity "error" blocks the gated operation;
// "warning" and "info" are advisory.
//
// The Engine orchestrates all enabled rules, accumulates a violation log,
// and renders a Markdown summary for operators.
package invariant

import (
	"time"
)

// Severity classifies a violation. Only SeverityError blocks the gated
// operation.
type Severity string

const (
	// SeverityError blocks the ticket-authorized mutation.
	SeverityError Severity = "error"
	// SeverityWarning is advisory and never blocks.
	SeverityWarning Severity = "warning"
	// SeverityInfo is informational only.
	SeverityInfo Severity = "info"
)

// RuleMeta is the immutable configuration of a rule. Expression is
// documentation only; it is never parsed or executed.
type RuleMeta struct {
	Name        string
	Description string
	Expression  string
	Severity    Severity
}

// Context carries per-call information into rule evaluation. Created by the
// caller, passed by value, never mutated by rules.
type Context struct {
	Timestamp   time.Time
	Operation   string
	Input       any
	Environment map[string]string
	Metrics     map[string]float64
}

// now returns the context timestamp when set, otherwise the fallback.
// Rules evaluate "now" from the caller's context so that one validation
// pass sees a single consistent instant.
func (c Context) now(fallback time.Time) time.Time {
	if !c.Timestamp.IsZero() {
		return c.Timestamp
	}
	return fallback
}

// Violation is one invariant failure. Created by a rule, owned thereafter
// by the engine's violation log, immutable once created.
type Violation struct {
	Invariant string         `json:"invariant_name"`
	Message   string         `json:"message"`
	Severity  Severity       `json:"severity"`
	Context   string         `json:"context,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Result is the outcome of one validation pass. Passed is true iff no
// violation has severity error. Ephemeral: returned to the caller, retained
// only through the engine's violation log.
type Result struct {
	Passed     bool
	Violations []Violation
	Metrics    PassMetrics
	Context    Context
}

// PassMetrics captures timing and a resource snapshot for one pass.
type PassMetrics struct {
	Duration       time.Duration
	RulesEvaluated int
	HeapAllocBytes uint64
	NumGoroutine   int
}

// Rule is one independent guarantee checker.
//
// Evaluate pattern-matches the subject variant it expects and returns a
// configuration-error violation for any other variant. The engine uses
// SubjectKind as the single dispatch surface, so a correctly registered
// rule only ever sees its own variant.
type Rule interface {
	Meta() RuleMeta
	SubjectKind() Kind
	Evaluate(subject Subject, ctx Context) []Violation
}

// resettable is implemented by rules that own process-lifetime state
// (nonce store, validation cache). Engine.Reset clears them for tests.
type resettable interface {
	reset()
}

// mismatchViolation reports a rule invoked with a foreign subject variant.
// This is a configuration fault, not a property of the subject.
func mismatchViolation(meta RuleMeta, got Subject, want Kind, now time.Time) []Violation {
	return []Violation{{
		Invariant: meta.Name,
		Message:   "rule received unsupported subject variant",
		Severity:  SeverityError,
		Context:   "configuration",
		Details: map[string]any{
			"expected_subject": want.String(),
			"actual_subject":   got.Kind().String(),
		},
		Timestamp: now,
	}}
}
