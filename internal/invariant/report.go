package invariant

import (
	"fmt"
	"strings"
	"time"
)

// reportOrder fixes the severity grouping of the Markdown report.
var reportOrder = []struct {
	severity Severity
	heading  string
}{
	{SeverityError, "Errors"},
	{SeverityWarning, "Warnings"},
	{SeverityInfo, "Info"},
}

// Report renders the violation log as a Markdown summary grouped by
// severity. Output is deterministic for a given log and clock, which keeps
// it golden-testable.
func (e *Engine) Report() string {
	e.mu.Lock()
	log := make([]Violation, len(e.log))
	copy(log, e.log)
	e.mu.Unlock()

	return FormatReport(log, e.clock.Now())
}

// FormatReport renders a violation list as a Markdown summary. Used both
// for the live engine log and for violations read back from the archive.
func FormatReport(log []Violation, generated time.Time) string {
	var b strings.Builder
	b.WriteString("# Invariant Violation Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", generated.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Total violations: %d\n", len(log))

	for _, group := range reportOrder {
		var matching []Violation
		for _, v := range log {
			if v.Severity == group.severity {
				matching = append(matching, v)
			}
		}
		if len(matching) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s (%d)\n\n", group.heading, len(matching))
		for _, v := range matching {
			fmt.Fprintf(&b, "- **%s**: %s", v.Invariant, v.Message)
			if v.Context != "" {
				fmt.Fprintf(&b, " (`%s`)", v.Context)
			}
			fmt.Fprintf(&b, " at %s\n", v.Timestamp.UTC().Format(time.RFC3339))
		}
	}

	if len(log) == 0 {
		b.WriteString("\nAll invariants held.\n")
	}
	return b.String()
}
