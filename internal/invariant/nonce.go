package invariant

import (
	"fmt"
	"sync"
	"time"

	"github.com/roach88/warrant/internal/clock"
)

// NonceUniquenessRule rejects replays: a nonce may authorize at most one
// mutation per repository within its TTL window. The same nonce value under
// different repositories is permitted; scoping is per-repo.
//
// The rule owns the nonce store for the process lifetime. Expired entries
// are pruned lazily on every evaluation; there is no background sweeper.
type NonceUniquenessRule struct {
	clock clock.Clock

	mu     sync.Mutex
	byRepo map[string][]nonceEntry
}

type nonceEntry struct {
	nonce  string
	expiry time.Time
}

// NonceStats summarizes the nonce store for diagnostics.
type NonceStats struct {
	Repos          int
	Nonces         int
	EarliestExpiry time.Time
}

// NewNonceUniquenessRule creates the replay-protection rule with an empty
// store.
func NewNonceUniquenessRule(c clock.Clock) *NonceUniquenessRule {
	return &NonceUniquenessRule{
		clock:  c,
		byRepo: make(map[string][]nonceEntry),
	}
}

// Meta implements Rule.
func (r *NonceUniquenessRule) Meta() RuleMeta {
	return RuleMeta{
		Name:        "nonce_uniqueness",
		Description: "A ticket nonce authorizes at most one mutation per repository within its TTL",
		Expression:  "(repo_id, nonce) unused within TTL window",
		Severity:    SeverityError,
	}
}

// SubjectKind implements Rule.
func (r *NonceUniquenessRule) SubjectKind() Kind { return KindTicket }

// Evaluate implements Rule.
func (r *NonceUniquenessRule) Evaluate(subject Subject, ctx Context) []Violation {
	now := ctx.now(r.clock.Now())

	ts, ok := subject.(TicketSubject)
	if !ok {
		return mismatchViolation(r.Meta(), subject, KindTicket, now)
	}
	ticket := ts.Ticket

	var missing []string
	if ticket.RepoID == "" {
		missing = append(missing, "repo_id")
	}
	if ticket.Nonce == "" {
		missing = append(missing, "nonce")
	}
	if ticket.Exp == nil {
		missing = append(missing, "exp")
	}
	if len(missing) > 0 {
		return []Violation{{
			Invariant: r.Meta().Name,
			Message:   fmt.Sprintf("ticket is missing fields required for replay protection: %v", missing),
			Severity:  SeverityError,
			Context:   ctx.Operation,
			Details:   map[string]any{"missing_fields": missing},
			Timestamp: now,
		}}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(now)

	for _, entry := range r.byRepo[ticket.RepoID] {
		if entry.nonce == ticket.Nonce {
			return []Violation{{
				Invariant: r.Meta().Name,
				Message:   "nonce already used within TTL window",
				Severity:  SeverityError,
				Context:   ctx.Operation,
				Details: map[string]any{
					"repo_id":         ticket.RepoID,
					"nonce":           ticket.Nonce,
					"existing_expiry": entry.expiry.UnixMilli(),
					"new_expiry":      ticket.Exp.UnixMilli(),
				},
				Timestamp: now,
			}}
		}
	}

	r.byRepo[ticket.RepoID] = append(r.byRepo[ticket.RepoID], nonceEntry{
		nonce:  ticket.Nonce,
		expiry: ticket.Exp.Time,
	})
	return nil
}

// pruneLocked drops every stored nonce whose expiry has passed, across all
// repositories. Caller holds r.mu.
func (r *NonceUniquenessRule) pruneLocked(now time.Time) {
	for repo, entries := range r.byRepo {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.expiry.After(now) {
				kept = append(kept, entry)
			}
		}
		if len(kept) == 0 {
			delete(r.byRepo, repo)
			continue
		}
		r.byRepo[repo] = kept
	}
}

// Stats reports the current store contents: repositories tracked, nonces
// tracked, and the earliest pending expiry (zero when empty).
func (r *NonceUniquenessRule) Stats() NonceStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := NonceStats{Repos: len(r.byRepo)}
	for _, entries := range r.byRepo {
		stats.Nonces += len(entries)
		for _, entry := range entries {
			if stats.EarliestExpiry.IsZero() || entry.expiry.Before(stats.EarliestExpiry) {
				stats.EarliestExpiry = entry.expiry
			}
		}
	}
	return stats
}

// reset clears the nonce store. Used by Engine.Reset for test isolation.
func (r *NonceUniquenessRule) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byRepo = make(map[string][]nonceEntry)
}
