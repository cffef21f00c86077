package invariant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/warrant/internal/testutil"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func freshTicket(now time.Time, ttl time.Duration) Ticket {
	return Ticket{
		Exp:    NewTimestamp(now.Add(ttl)),
		Iat:    NewTimestamp(now),
		RepoID: "repo-a",
		Nonce:  "nonce-1",
	}
}

// TestTicketTTL_Valid tests that a well-formed ticket passes.
func TestTicketTTL_Valid(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	rule := NewTicketTTLRule(clk)

	violations := rule.Evaluate(TicketSubject{Ticket: freshTicket(testEpoch, 10*time.Minute)}, Context{})
	assert.Empty(t, violations)
}

// TestTicketTTL_MissingClaims tests the error for absent exp/iat.
func TestTicketTTL_MissingClaims(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	rule := NewTicketTTLRule(clk)

	violations := rule.Evaluate(TicketSubject{Ticket: Ticket{RepoID: "repo-a", Nonce: "n"}}, Context{})
	require.Len(t, violations, 1)
	assert.Equal(t, SeverityError, violations[0].Severity)
	assert.ElementsMatch(t, []string{"exp", "iat"}, violations[0].Details["missing_fields"])
}

// TestTicketTTL_ExpiredBoundary tests that exp = now - 1ms always fails.
func TestTicketTTL_ExpiredBoundary(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	rule := NewTicketTTLRule(clk)

	ticket := Ticket{
		Exp: NewTimestamp(testEpoch.Add(-time.Millisecond)),
		Iat: NewTimestamp(testEpoch.Add(-time.Hour)),
	}
	violations := rule.Evaluate(TicketSubject{Ticket: ticket}, Context{})
	require.Len(t, violations, 1)
	assert.Equal(t, SeverityError, violations[0].Severity)
	assert.Contains(t, violations[0].Message, "expired")
	assert.Equal(t, int64(1), violations[0].Details["overage_ms"])
}

// TestTicketTTL_ExceedsMaximum tests that exp past now + 24h + 1ms fails.
func TestTicketTTL_ExceedsMaximum(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	rule := NewTicketTTLRule(clk)

	ticket := Ticket{
		Exp: NewTimestamp(testEpoch.Add(MaxTicketTTL + time.Millisecond)),
		Iat: NewTimestamp(testEpoch),
	}
	violations := rule.Evaluate(TicketSubject{Ticket: ticket}, Context{})
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Message, "maximum")
	assert.Equal(t, int64(1), violations[0].Details["excess_ms"])
}

// TestTicketTTL_ShortTTLWarning tests that a sub-60s lifetime warns but
// never blocks.
func TestTicketTTL_ShortTTLWarning(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	rule := NewTicketTTLRule(clk)

	ticket := Ticket{
		Exp: NewTimestamp(testEpoch.Add(30 * time.Second)),
		Iat: NewTimestamp(testEpoch),
	}
	violations := rule.Evaluate(TicketSubject{Ticket: ticket}, Context{})
	require.Len(t, violations, 1)
	assert.Equal(t, SeverityWarning, violations[0].Severity)
	assert.Equal(t, int64(30000), violations[0].Details["ttl_ms"])
}

// TestTicketTTL_MultipleFailures tests that one call can report several
// independent failures.
func TestTicketTTL_MultipleFailures(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	rule := NewTicketTTLRule(clk)

	// Expired AND too short: exp in the past, iat 10s before exp.
	ticket := Ticket{
		Exp: NewTimestamp(testEpoch.Add(-time.Minute)),
		Iat: NewTimestamp(testEpoch.Add(-time.Minute - 10*time.Second)),
	}
	violations := rule.Evaluate(TicketSubject{Ticket: ticket}, Context{})
	require.Len(t, violations, 2)

	severities := []Severity{violations[0].Severity, violations[1].Severity}
	assert.Contains(t, severities, SeverityError)
	assert.Contains(t, severities, SeverityWarning)
}

// TestTicketTTL_SubjectMismatch tests the configuration violation for a
// foreign subject variant.
func TestTicketTTL_SubjectMismatch(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	rule := NewTicketTTLRule(clk)

	violations := rule.Evaluate(PatchSubject{Text: "x"}, Context{})
	require.Len(t, violations, 1)
	assert.Equal(t, "configuration", violations[0].Context)
	assert.Equal(t, "ticket", violations[0].Details["expected_subject"])
}

// TestTimestamp_UnmarshalJSON tests both wire encodings.
func TestTimestamp_UnmarshalJSON(t *testing.T) {
	var fromMillis Timestamp
	require.NoError(t, fromMillis.UnmarshalJSON([]byte("1767225600000")))
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), fromMillis.Time)

	var fromString Timestamp
	require.NoError(t, fromString.UnmarshalJSON([]byte(`"2026-01-01T00:00:00Z"`)))
	assert.Equal(t, fromMillis.Time, fromString.Time)

	var bad Timestamp
	assert.Error(t, bad.UnmarshalJSON([]byte(`"not-a-time"`)))
}
