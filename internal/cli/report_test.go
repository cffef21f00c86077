package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/warrant/internal/sink"
)

// TestReport_TextOutput tests the Markdown rendering from the archive.
func TestReport_TextOutput(t *testing.T) {
	path := seedArchive(t)

	out, err := execute(t, "report", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "# Invariant Violation Report")
	assert.Contains(t, out, "Total violations: 2")
	assert.Contains(t, out, "## Errors (1)")
	assert.Contains(t, out, "**ticket_ttl**: ticket expired")
	assert.Contains(t, out, "## Warnings (1)")

	// Grouped report lists the older error before the newer warning.
	assert.Less(t, strings.Index(out, "ticket_ttl"), strings.Index(out, "performance_budget"))
}

// TestReport_JSONOutput tests the raw violation records.
func TestReport_JSONOutput(t *testing.T) {
	path := seedArchive(t)

	out, err := execute(t, "--format", "json", "report", "--db", path)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), data["total"])
	violations, ok := data["violations"].([]any)
	require.True(t, ok)
	require.Len(t, violations, 2)
	first, ok := violations[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ticket_ttl", first["invariant_name"])
}

// TestReport_Limit tests that --limit keeps only the newest violations.
func TestReport_Limit(t *testing.T) {
	path := seedArchive(t)

	out, err := execute(t, "report", "--db", path, "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Total violations: 1")
	assert.Contains(t, out, "performance_budget")
	assert.NotContains(t, out, "ticket_ttl")
}

// TestReport_EmptyArchive tests the all-clear report.
func TestReport_EmptyArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := sink.OpenArchive(path)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	out, err := execute(t, "report", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "All invariants held.")
}

// TestReport_MissingArchive tests the command-error exit code.
func TestReport_MissingArchive(t *testing.T) {
	_, err := execute(t, "report", "--db", filepath.Join(t.TempDir(), "absent.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
