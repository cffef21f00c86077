package invariant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/warrant/internal/testutil"
)

const canonicalPatch = `--- a/spec.cue
+++ b/spec.cue
@@ -1,3 +1,3 @@
-old line
+new line
 context
@@ -10,2 +10,2 @@
-older
+newer
`

// TestCanonicalizePatch_Idempotent tests canonicalize(canonicalize(p)) ==
// canonicalize(p) across representative inputs.
func TestCanonicalizePatch_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		canonicalPatch,
		"\uFEFF--- a\r\n+++ b\r\n@@ -5,1 +5,1 @@\r\n-x  \r\n+y\t\r\n@@ -1,1 +1,1 @@\r\n-a\r\n+b",
		"no hunks at all",
		"@@ malformed marker @@\n-body\n",
	}
	for _, input := range inputs {
		once, err := CanonicalizePatch(input)
		require.NoError(t, err)
		twice, err := CanonicalizePatch(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "input %q", input)
	}
}

// TestCanonicalizePatch_AlreadyCanonical tests that canonical input is
// returned unchanged.
func TestCanonicalizePatch_AlreadyCanonical(t *testing.T) {
	out, err := CanonicalizePatch(canonicalPatch)
	require.NoError(t, err)
	assert.Equal(t, canonicalPatch, out)
}

// TestCanonicalizePatch_LineEndings tests BOM stripping and CRLF/CR
// normalization.
func TestCanonicalizePatch_LineEndings(t *testing.T) {
	out, err := CanonicalizePatch("\uFEFFheader\r\nbody\rmore\n")
	require.NoError(t, err)
	assert.Equal(t, "header\nbody\nmore\n", out)
}

// TestCanonicalizePatch_TrailingWhitespace tests per-line trailing
// whitespace stripping and the single trailing newline.
func TestCanonicalizePatch_TrailingWhitespace(t *testing.T) {
	out, err := CanonicalizePatch("line one  \nline two\t\n\n\n")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", out)
}

// TestCanonicalizePatch_HunkOrdering tests ascending sort by old-file
// start line.
func TestCanonicalizePatch_HunkOrdering(t *testing.T) {
	unordered := "--- a/f\n+++ b/f\n@@ -30,2 +30,2 @@\n-c\n+C\n@@ -1,2 +1,2 @@\n-a\n+A\n@@ -10,2 +10,2 @@\n-b\n+B\n"
	out, err := CanonicalizePatch(unordered)
	require.NoError(t, err)
	assert.Equal(t, "--- a/f\n+++ b/f\n@@ -1,2 +1,2 @@\n-a\n+A\n@@ -10,2 +10,2 @@\n-b\n+B\n@@ -30,2 +30,2 @@\n-c\n+C\n", out)
}

// TestCanonicalizePatch_UnparsableMarker tests that markers without a
// parseable old-start sort after parseable ones, by raw string.
func TestCanonicalizePatch_UnparsableMarker(t *testing.T) {
	input := "@@ zz @@\n-z\n@@ -2,1 +2,1 @@\n-b\n@@ aa @@\n-a\n"
	out, err := CanonicalizePatch(input)
	require.NoError(t, err)
	assert.Equal(t, "@@ -2,1 +2,1 @@\n-b\n@@ aa @@\n-a\n@@ zz @@\n-z\n", out)
}

// TestCanonicalizePatch_InvalidUTF8 tests the reported canonicalization
// failure.
func TestCanonicalizePatch_InvalidUTF8(t *testing.T) {
	_, err := CanonicalizePatch(string([]byte{0xff, 0xfe, '-'}))
	assert.Error(t, err)
}

// TestCanonicalPatchRule_Pass tests that canonical text yields no
// violations.
func TestCanonicalPatchRule_Pass(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	rule := NewCanonicalPatchRule(clk)

	violations := rule.Evaluate(PatchSubject{Text: canonicalPatch}, Context{})
	assert.Empty(t, violations)
}

// TestCanonicalPatchRule_Issues tests violation details for a
// non-canonical patch.
func TestCanonicalPatchRule_Issues(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	rule := NewCanonicalPatchRule(clk)

	violations := rule.Evaluate(PatchSubject{Text: "\uFEFFline  \r\n"}, Context{Operation: "apply_patch"})
	require.Len(t, violations, 1)
	v := violations[0]
	assert.Equal(t, SeverityError, v.Severity)
	assert.NotEqual(t, v.Details["original_hash"], v.Details["canonical_hash"])
	assert.ElementsMatch(t,
		[]string{"bom_present", "crlf_line_endings", "trailing_whitespace"},
		v.Details["issues"])
}

// TestCanonicalPatchRule_HunkOrderingIssue tests that hunk ordering is
// named when no byte-level issue explains the delta.
func TestCanonicalPatchRule_HunkOrderingIssue(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	rule := NewCanonicalPatchRule(clk)

	unordered := "@@ -9,1 +9,1 @@\n-b\n+B\n@@ -1,1 +1,1 @@\n-a\n+A\n"
	violations := rule.Evaluate(PatchSubject{Text: unordered}, Context{})
	require.Len(t, violations, 1)
	assert.Equal(t, []string{"hunk_ordering"}, violations[0].Details["issues"])
}

// TestCanonicalPatchRule_MalformedInput tests that an invalid-UTF-8 patch
// is reported as an error violation, not swallowed.
func TestCanonicalPatchRule_MalformedInput(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	rule := NewCanonicalPatchRule(clk)

	violations := rule.Evaluate(PatchSubject{Text: string([]byte{0x80})}, Context{})
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Message, "canonicalization failed")
}
