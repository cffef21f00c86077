package invariant

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/warrant/internal/testutil"
)

func newTestEngine(t *testing.T, clk *testutil.FixedClock) *Engine {
	t.Helper()
	return New(
		WithClock(clk),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

// panicRule always panics. Used to prove one broken rule cannot abort a
// validation pass.
type panicRule struct{}

func (panicRule) Meta() RuleMeta {
	return RuleMeta{Name: "always_panics", Severity: SeverityError}
}
func (panicRule) SubjectKind() Kind { return KindPatch }
func (panicRule) Evaluate(Subject, Context) []Violation {
	panic("boom")
}

// TestEngine_RegistersDefaultRules tests the five default rules in report
// order.
func TestEngine_RegistersDefaultRules(t *testing.T) {
	e := newTestEngine(t, testutil.NewFixedClock(testEpoch))

	metas := e.Rules()
	names := make([]string, 0, len(metas))
	for _, m := range metas {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{
		"ticket_ttl",
		"nonce_uniqueness",
		"canonical_patch_format",
		"performance_budget",
		"incremental_validation_correctness",
	}, names)
}

// TestEngine_DispatchBySubjectKind tests that only kind-matched rules run.
func TestEngine_DispatchBySubjectKind(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	e := newTestEngine(t, clk)

	ticket := e.ValidateAll(TicketSubject{Ticket: freshTicket(testEpoch, 10*time.Minute)}, Context{})
	assert.True(t, ticket.Passed)
	assert.Equal(t, 2, ticket.Metrics.RulesEvaluated)

	patch := e.ValidateAll(PatchSubject{Text: canonicalPatch}, Context{})
	assert.True(t, patch.Passed)
	assert.Equal(t, 1, patch.Metrics.RulesEvaluated)
}

// TestEngine_FailedPassAccumulatesLog tests passed=false and log growth
// for an expired ticket.
func TestEngine_FailedPassAccumulatesLog(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	e := newTestEngine(t, clk)

	expired := freshTicket(testEpoch.Add(-2*time.Hour), time.Hour)
	result := e.ValidateAll(TicketSubject{Ticket: expired}, Context{Operation: "verify_ticket"})
	assert.False(t, result.Passed)
	require.Len(t, e.ViolationLog(), 1)
	assert.Equal(t, "ticket_ttl", e.ViolationLog()[0].Invariant)
}

// TestEngine_WarningsDoNotFail tests that a warning-only pass still
// passes.
func TestEngine_WarningsDoNotFail(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	e := newTestEngine(t, clk)

	short := freshTicket(testEpoch, 30*time.Second)
	result := e.ValidateAll(TicketSubject{Ticket: short}, Context{})
	assert.True(t, result.Passed)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, SeverityWarning, result.Violations[0].Severity)
}

// TestEngine_PanickingRule tests the synthetic violation for a rule panic.
func TestEngine_PanickingRule(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	e := newTestEngine(t, clk)
	e.Register(panicRule{})

	result := e.ValidateAll(PatchSubject{Text: canonicalPatch}, Context{})
	assert.False(t, result.Passed)
	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	assert.Equal(t, "always_panics", v.Invariant)
	assert.Equal(t, "engine", v.Context)
	assert.Contains(t, v.Message, "boom")
}

// TestEngine_SetEnabled tests rule toggling by name.
func TestEngine_SetEnabled(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	e := newTestEngine(t, clk)

	require.True(t, e.SetEnabled("ticket_ttl", false))
	assert.False(t, e.SetEnabled("no_such_rule", false))

	expired := freshTicket(testEpoch.Add(-2*time.Hour), time.Hour)
	result := e.ValidateAll(TicketSubject{Ticket: expired}, Context{})
	// Only nonce uniqueness ran, and the first use passes.
	assert.True(t, result.Passed)
	assert.Equal(t, 1, result.Metrics.RulesEvaluated)
}

// TestEngine_ViolationsBySeverity tests severity filtering of the log.
func TestEngine_ViolationsBySeverity(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	e := newTestEngine(t, clk)

	// Expired and too short: one error, one warning.
	ticket := Ticket{
		Exp:    NewTimestamp(testEpoch.Add(-time.Minute)),
		Iat:    NewTimestamp(testEpoch.Add(-time.Minute - 10*time.Second)),
		RepoID: "repo-a",
		Nonce:  "n-1",
	}
	e.ValidateAll(TicketSubject{Ticket: ticket}, Context{})

	assert.Len(t, e.ViolationsBySeverity(SeverityError), 1)
	assert.Len(t, e.ViolationsBySeverity(SeverityWarning), 1)
	assert.Empty(t, e.ViolationsBySeverity(SeverityInfo))
}

// TestEngine_ClearLogKeepsRuleState tests that ClearLog leaves the nonce
// store intact.
func TestEngine_ClearLogKeepsRuleState(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	e := newTestEngine(t, clk)

	e.ValidateAll(TicketSubject{Ticket: freshTicket(testEpoch, time.Hour)}, Context{})
	e.ClearLog()

	assert.Empty(t, e.ViolationLog())
	assert.Equal(t, 1, e.NonceStats().Nonces)
}

// TestEngine_Reset tests that Reset clears the log, the nonce store, and
// the validation cache.
func TestEngine_Reset(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	e := newTestEngine(t, clk)

	e.ValidateAll(TicketSubject{Ticket: freshTicket(testEpoch, time.Hour)}, Context{})
	r := map[string]any{"valid": true}
	e.ValidateAll(ResultPairSubject{Input: "in", Incremental: r, Full: r}, Context{})
	require.Equal(t, 1, e.NonceStats().Nonces)
	require.Equal(t, 1, e.CacheStats().Entries)

	e.Reset()

	assert.Empty(t, e.ViolationLog())
	assert.Equal(t, NonceStats{}, e.NonceStats())
	assert.Equal(t, CacheStats{}, e.CacheStats())
}

// TestEngine_CustomBudgets tests that WithBudgets replaces the defaults.
func TestEngine_CustomBudgets(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	e := New(
		WithClock(clk),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithBudgets(map[string]float64{"full_validate": 10}),
	)

	result := e.ValidateAll(timingSubject("full_validate", 0, 11), Context{})
	assert.False(t, result.Passed)

	// The default ticket_verify budget is gone.
	result = e.ValidateAll(timingSubject("ticket_verify", 0, 1e6), Context{})
	assert.True(t, result.Passed)
}
