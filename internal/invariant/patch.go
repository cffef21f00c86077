package invariant

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/roach88/warrant/internal/canonical"
	"github.com/roach88/warrant/internal/clock"
)

// hunkHeader matches a unified-diff hunk marker and captures the old-file
// starting line number.
var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,\d+)? \+\d+(?:,\d+)? @@`)

// CanonicalPatchRule requires patch text to be in canonical form before it
// is hashed or signed: no BOM, newline-only line endings, hunks ordered by
// old-file start line, no trailing horizontal whitespace, and exactly one
// trailing newline.
type CanonicalPatchRule struct {
	clock clock.Clock
}

// NewCanonicalPatchRule creates the canonical-format rule.
func NewCanonicalPatchRule(c clock.Clock) *CanonicalPatchRule {
	return &CanonicalPatchRule{clock: c}
}

// Meta implements Rule.
func (r *CanonicalPatchRule) Meta() RuleMeta {
	return RuleMeta{
		Name:        "canonical_patch_format",
		Description: "Patch text must equal its canonical byte representation",
		Expression:  "patch == canonicalize(patch)",
		Severity:    SeverityError,
	}
}

// SubjectKind implements Rule.
func (r *CanonicalPatchRule) SubjectKind() Kind { return KindPatch }

// Evaluate implements Rule.
func (r *CanonicalPatchRule) Evaluate(subject Subject, ctx Context) []Violation {
	now := ctx.now(r.clock.Now())

	ps, ok := subject.(PatchSubject)
	if !ok {
		return mismatchViolation(r.Meta(), subject, KindPatch, now)
	}

	canon, err := CanonicalizePatch(ps.Text)
	if err != nil {
		// Canonicalization failure is reported, never swallowed.
		return []Violation{{
			Invariant: r.Meta().Name,
			Message:   fmt.Sprintf("patch canonicalization failed: %v", err),
			Severity:  SeverityError,
			Context:   ctx.Operation,
			Details:   map[string]any{"error": err.Error()},
			Timestamp: now,
		}}
	}

	if ps.Text == canon {
		return nil
	}

	return []Violation{{
		Invariant: r.Meta().Name,
		Message:   "patch is not in canonical form",
		Severity:  SeverityError,
		Context:   ctx.Operation,
		Details: map[string]any{
			"original_hash":  canonical.HashBytes(canonical.DomainPatch, []byte(ps.Text)),
			"canonical_hash": canonical.HashBytes(canonical.DomainPatch, []byte(canon)),
			"length_delta":   len(canon) - len(ps.Text),
			"issues":         patchIssues(ps.Text, canon),
		},
		Timestamp: now,
	}}
}

// CanonicalizePatch normalizes patch text to its single deterministic byte
// representation, in order: strip a leading BOM, normalize line terminators
// to "\n", sort hunks by old-file start line, strip trailing horizontal
// whitespace per line, and end with exactly one newline when non-empty.
//
// Canonicalization is idempotent: applying it to its own output returns
// the same bytes.
func CanonicalizePatch(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("patch text is not valid UTF-8")
	}

	text = strings.TrimPrefix(text, "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = sortHunks(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")

	text = strings.TrimRight(text, "\n")
	if text != "" {
		text += "\n"
	}
	return text, nil
}

// sortHunks partitions the patch into a literal prefix plus hunks (a hunk
// is a marker line and everything up to the next marker) and reassembles
// with hunks ordered ascending by old-file start line. Markers that do not
// parse compare after parseable ones, by raw string.
func sortHunks(text string) string {
	// Hold the final newline aside so the trailing empty split segment does
	// not attach to the last hunk and migrate with it.
	trailingNewline := strings.HasSuffix(text, "\n")
	trimmed := strings.TrimSuffix(text, "\n")
	lines := strings.Split(trimmed, "\n")

	type hunk struct {
		marker   string
		lines    []string
		oldStart int
		parsed   bool
	}

	var prefix []string
	var hunks []hunk
	current := -1
	for _, line := range lines {
		if strings.HasPrefix(line, "@@") {
			h := hunk{marker: line}
			if m := hunkHeader.FindStringSubmatch(line); m != nil {
				start, err := strconv.Atoi(m[1])
				h.oldStart, h.parsed = start, err == nil
			}
			hunks = append(hunks, h)
			current = len(hunks) - 1
			continue
		}
		if current < 0 {
			prefix = append(prefix, line)
			continue
		}
		hunks[current].lines = append(hunks[current].lines, line)
	}

	if len(hunks) < 2 {
		return text
	}

	sort.SliceStable(hunks, func(i, j int) bool {
		a, b := hunks[i], hunks[j]
		if a.parsed && b.parsed && a.oldStart != b.oldStart {
			return a.oldStart < b.oldStart
		}
		if a.parsed != b.parsed {
			return a.parsed
		}
		return a.marker < b.marker
	})

	out := make([]string, 0, len(lines))
	out = append(out, prefix...)
	for _, h := range hunks {
		out = append(out, h.marker)
		out = append(out, h.lines...)
	}
	result := strings.Join(out, "\n")
	if trailingNewline {
		result += "\n"
	}
	return result
}

// patchIssues names the specific defects found, best effort. When none of
// the byte-level issues explain the difference, hunk ordering is the
// remaining cause.
func patchIssues(original, canon string) []string {
	var issues []string
	if strings.HasPrefix(original, "\uFEFF") {
		issues = append(issues, "bom_present")
	}
	if strings.Contains(original, "\r") {
		issues = append(issues, "crlf_line_endings")
	}
	// Check trailing whitespace on newline-normalized text so spaces hiding
	// before a \r are still detected.
	unified := strings.ReplaceAll(original, "\r\n", "\n")
	unified = strings.ReplaceAll(unified, "\r", "\n")
	for _, line := range strings.Split(unified, "\n") {
		if strings.TrimRight(line, " \t") != line {
			issues = append(issues, "trailing_whitespace")
			break
		}
	}
	if !strings.HasSuffix(original, "\n") || strings.HasSuffix(original, "\n\n") {
		issues = append(issues, "trailing_newline")
	}
	if len(issues) == 0 && original != canon {
		issues = append(issues, "hunk_ordering")
	}
	return issues
}
