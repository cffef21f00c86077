package invariant

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/warrant/internal/testutil"
)

func reportGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// TestEngine_Report tests the grouped Markdown rendering against a golden
// file.
func TestEngine_Report(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	e := New(
		WithClock(clk),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	ticket := Ticket{
		Exp:    NewTimestamp(testEpoch.Add(-time.Minute)),
		Iat:    NewTimestamp(testEpoch.Add(-time.Minute - 10*time.Second)),
		RepoID: "repo-a",
		Nonce:  "n-1",
	}
	e.ValidateAll(TicketSubject{Ticket: ticket}, Context{Operation: "verify_ticket"})
	e.ValidateAll(timingSubject("full_validate", 0, 801), Context{Operation: "validate"})

	g := reportGoldie(t)
	g.Assert(t, "violation_report", []byte(e.Report()))
}

// TestEngine_ReportEmpty tests the all-clear rendering.
func TestEngine_ReportEmpty(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	e := New(
		WithClock(clk),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	g := reportGoldie(t)
	g.Assert(t, "empty_report", []byte(e.Report()))
}
