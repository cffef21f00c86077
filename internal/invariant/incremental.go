package invariant

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/warrant/internal/canonical"
	"github.com/roach88/warrant/internal/clock"
)

// cachePruneAge is how long cached full-validation results are retained.
const cachePruneAge = time.Hour

// previewLimit bounds the serialized result previews attached to
// violation details.
const previewLimit = 500

// IncrementalValidationRule proves that incremental validation agrees with
// full validation: the two results must be structurally deep-equal.
//
// Regardless of outcome, the full result is cached under a content hash of
// the input. The cache is advisory, for reuse by callers; this rule never
// consults it to skip a comparison. Entries older than one hour are pruned
// on every evaluation.
type IncrementalValidationRule struct {
	clock clock.Clock

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	result   any
	cachedAt time.Time
}

// CacheStats summarizes the validation cache for diagnostics.
type CacheStats struct {
	Entries        int
	OldestCachedAt time.Time
}

// Difference is one structural divergence between the incremental and full
// results, at a dotted key path.
type Difference struct {
	Path        string `json:"path"`
	Kind        string `json:"kind"` // missing_in_incremental | missing_in_full | value_mismatch
	Incremental any    `json:"incremental,omitempty"`
	Full        any    `json:"full,omitempty"`
}

// NewIncrementalValidationRule creates the consistency rule with an empty
// cache.
func NewIncrementalValidationRule(c clock.Clock) *IncrementalValidationRule {
	return &IncrementalValidationRule{
		clock: c,
		cache: make(map[string]cacheEntry),
	}
}

// Meta implements Rule.
func (r *IncrementalValidationRule) Meta() RuleMeta {
	return RuleMeta{
		Name:        "incremental_validation_correctness",
		Description: "Incremental validation must produce the same result as full validation",
		Expression:  "deepEqual(incrementalResult, fullResult)",
		Severity:    SeverityError,
	}
}

// SubjectKind implements Rule.
func (r *IncrementalValidationRule) SubjectKind() Kind { return KindResultPair }

// Evaluate implements Rule.
func (r *IncrementalValidationRule) Evaluate(subject Subject, ctx Context) []Violation {
	now := ctx.now(r.clock.Now())

	pair, ok := subject.(ResultPairSubject)
	if !ok {
		return mismatchViolation(r.Meta(), subject, KindResultPair, now)
	}

	// Cache the full result keyed by input hash before anything can fail;
	// the cache is maintained regardless of comparison outcome.
	r.cacheFullResult(pair.Input, pair.Full, now)

	inc, err := canonical.Normalize(pair.Incremental)
	if err != nil {
		return []Violation{r.faultViolation(ctx, now, fmt.Errorf("normalize incremental result: %w", err))}
	}
	full, err := canonical.Normalize(pair.Full)
	if err != nil {
		return []Violation{r.faultViolation(ctx, now, fmt.Errorf("normalize full result: %w", err))}
	}

	var diffs []Difference
	diffValues("", inc, full, &diffs)
	if len(diffs) == 0 {
		return nil
	}

	return []Violation{{
		Invariant: r.Meta().Name,
		Message:   fmt.Sprintf("incremental and full validation disagree at %d path(s)", len(diffs)),
		Severity:  SeverityError,
		Context:   ctx.Operation,
		Details: map[string]any{
			"differences":         diffs,
			"incremental_preview": preview(inc),
			"full_preview":        preview(full),
		},
		Timestamp: now,
	}}
}

func (r *IncrementalValidationRule) faultViolation(ctx Context, now time.Time, err error) Violation {
	return Violation{
		Invariant: r.Meta().Name,
		Message:   fmt.Sprintf("result comparison failed: %v", err),
		Severity:  SeverityError,
		Context:   ctx.Operation,
		Details:   map[string]any{"error": err.Error()},
		Timestamp: now,
	}
}

// cacheFullResult stores the full result under the input's content hash and
// prunes entries past the retention age. Unhashable inputs are skipped; the
// cache is advisory.
func (r *IncrementalValidationRule) cacheFullResult(input, full any, now time.Time) {
	key, err := canonical.HashValue(canonical.DomainInput, input)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-cachePruneAge)
	for k, entry := range r.cache {
		if entry.cachedAt.Before(cutoff) {
			delete(r.cache, k)
		}
	}
	r.cache[key] = cacheEntry{result: full, cachedAt: now}
}

// CachedResult returns the cached full-validation result for an input, if
// any. Callers may use this to skip re-validation of unchanged inputs.
func (r *IncrementalValidationRule) CachedResult(input any) (any, bool) {
	key, err := canonical.HashValue(canonical.DomainInput, input)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok {
		return nil, false
	}
	return entry.result, true
}

// Stats reports current cache contents.
func (r *IncrementalValidationRule) Stats() CacheStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := CacheStats{Entries: len(r.cache)}
	for _, entry := range r.cache {
		if stats.OldestCachedAt.IsZero() || entry.cachedAt.Before(stats.OldestCachedAt) {
			stats.OldestCachedAt = entry.cachedAt
		}
	}
	return stats
}

// reset clears the validation cache. Used by Engine.Reset for test isolation.
func (r *IncrementalValidationRule) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cacheEntry)
}

// diffValues walks two normalized values and records every divergence with
// its dotted key path. Array elements use bracketed indices.
func diffValues(path string, inc, full any, out *[]Difference) {
	incMap, incIsMap := inc.(map[string]any)
	fullMap, fullIsMap := full.(map[string]any)
	if incIsMap && fullIsMap {
		keys := make(map[string]struct{}, len(incMap)+len(fullMap))
		for k := range incMap {
			keys[k] = struct{}{}
		}
		for k := range fullMap {
			keys[k] = struct{}{}
		}
		sorted := make([]string, 0, len(keys))
		for k := range keys {
			sorted = append(sorted, k)
		}
		sort.Strings(sorted)

		for _, k := range sorted {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			iv, inInc := incMap[k]
			fv, inFull := fullMap[k]
			switch {
			case !inInc:
				*out = append(*out, Difference{Path: childPath, Kind: "missing_in_incremental", Full: fv})
			case !inFull:
				*out = append(*out, Difference{Path: childPath, Kind: "missing_in_full", Incremental: iv})
			default:
				diffValues(childPath, iv, fv, out)
			}
		}
		return
	}

	incArr, incIsArr := inc.([]any)
	fullArr, fullIsArr := full.([]any)
	if incIsArr && fullIsArr {
		max := len(incArr)
		if len(fullArr) > max {
			max = len(fullArr)
		}
		for i := 0; i < max; i++ {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			switch {
			case i >= len(incArr):
				*out = append(*out, Difference{Path: childPath, Kind: "missing_in_incremental", Full: fullArr[i]})
			case i >= len(fullArr):
				*out = append(*out, Difference{Path: childPath, Kind: "missing_in_full", Incremental: incArr[i]})
			default:
				diffValues(childPath, incArr[i], fullArr[i], out)
			}
		}
		return
	}

	if !scalarEqual(inc, full) {
		*out = append(*out, Difference{Path: path, Kind: "value_mismatch", Incremental: inc, Full: full})
	}
}

// scalarEqual compares normalized leaves (or mixed-kind values, which are
// never equal).
func scalarEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	default:
		// Container vs scalar or container vs container of different kinds.
		return false
	}
}

// preview serializes a value to canonical JSON truncated to previewLimit
// characters, for violation logs.
func preview(v any) string {
	data, err := canonical.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<unserializable: %v>", err)
	}
	s := string(data)
	if len(s) > previewLimit {
		return s[:previewLimit] + "…"
	}
	return s
}
