package sink

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/warrant/internal/invariant"
	"github.com/roach88/warrant/internal/monitor"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func sampleAlert() monitor.Alert {
	return monitor.Alert{
		ID:           "a1",
		Name:         "response_time_threshold",
		Severity:     monitor.SeverityCritical,
		Message:      "breached",
		Timestamp:    testEpoch,
		SLO:          "response_time",
		CurrentValue: 900,
		TargetValue:  500,
	}
}

// TestArchive_OpenIdempotent tests that reopening an existing archive
// re-applies schema and migrations without error.
func TestArchive_OpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")

	first, err := OpenArchive(path)
	require.NoError(t, err)
	require.NoError(t, first.ArchiveAlert("raised", sampleAlert()))
	require.NoError(t, first.Close())

	second, err := OpenArchive(path)
	require.NoError(t, err)
	defer second.Close()

	counts, err := second.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Alerts)
}

// TestArchive_AlertLifecycleRows tests the insert-only raised/resolved
// history.
func TestArchive_AlertLifecycleRows(t *testing.T) {
	a := openTestArchive(t)
	alert := sampleAlert()

	require.NoError(t, a.ArchiveAlert("raised", alert))
	resolvedAt := testEpoch.Add(10 * time.Minute)
	alert.Resolved = true
	alert.ResolvedAt = &resolvedAt
	require.NoError(t, a.ArchiveAlert("resolved", alert))

	counts, err := a.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Alerts)
}

// TestArchive_SecurityEventDeduplication tests that replaying the same
// event id is ignored.
func TestArchive_SecurityEventDeduplication(t *testing.T) {
	a := openTestArchive(t)
	event := monitor.SecurityEvent{
		ID:        "e1",
		Type:      "replay_attempt",
		Timestamp: testEpoch,
		Severity:  "medium",
		Source:    "10.0.0.1",
		Blocked:   false,
	}

	require.NoError(t, a.ArchiveSecurityEvent(event))
	require.NoError(t, a.ArchiveSecurityEvent(event))

	counts, err := a.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, counts.SecurityEvents)
}

// TestArchive_IncidentRows tests incident transition archiving.
func TestArchive_IncidentRows(t *testing.T) {
	a := openTestArchive(t)
	incident := monitor.IncidentReport{
		ID:        "i1",
		Title:     "response_time objective breached",
		Status:    monitor.IncidentOpen,
		Severity:  "high",
		StartTime: testEpoch,
	}

	require.NoError(t, a.ArchiveIncident("created", incident))
	require.NoError(t, a.ArchiveIncident("escalated", incident))

	counts, err := a.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Incidents)
}

// TestArchive_ViolationsRoundTrip tests the violation flush and the
// newest-first query.
func TestArchive_ViolationsRoundTrip(t *testing.T) {
	a := openTestArchive(t)

	violations := []invariant.Violation{
		{
			Invariant: "ticket_ttl",
			Message:   "ticket expired",
			Severity:  invariant.SeverityError,
			Context:   "verify_ticket",
			Details:   map[string]any{"overage_ms": float64(60000)},
			Timestamp: testEpoch,
		},
		{
			Invariant: "performance_budget",
			Message:   "operation exceeded its latency budget",
			Severity:  invariant.SeverityError,
			Timestamp: testEpoch.Add(time.Minute),
		},
	}

	written, err := a.ArchiveViolations(violations)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	written, err = a.ArchiveViolations(nil)
	require.NoError(t, err)
	assert.Zero(t, written)

	recent, err := a.RecentViolations(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "performance_budget", recent[0].Invariant)
	assert.Equal(t, "ticket_ttl", recent[1].Invariant)
	assert.Equal(t, float64(60000), recent[1].Details["overage_ms"])
	assert.Equal(t, testEpoch, recent[1].Timestamp)
}
