package invariant

import (
	"time"

	"github.com/roach88/warrant/internal/clock"
)

const (
	// MaxTicketTTL is the longest lifetime a ticket may declare.
	MaxTicketTTL = 24 * time.Hour
	// MinPracticalTTL is the shortest lifetime that is practically usable;
	// shorter tickets draw a warning, not a block.
	MinPracticalTTL = 60 * time.Second
)

// TicketTTLRule checks ticket freshness: expiry must be present, in the
// future, and no further out than MaxTicketTTL. One evaluation may report
// several independent failures.
type TicketTTLRule struct {
	clock clock.Clock
}

// NewTicketTTLRule creates the TTL rule.
func NewTicketTTLRule(c clock.Clock) *TicketTTLRule {
	return &TicketTTLRule{clock: c}
}

// Meta implements Rule.
func (r *TicketTTLRule) Meta() RuleMeta {
	return RuleMeta{
		Name:        "ticket_ttl",
		Description: "Mutation tickets must carry a bounded, unexpired lifetime",
		Expression:  "iat <= now < exp <= now + 24h",
		Severity:    SeverityError,
	}
}

// SubjectKind implements Rule.
func (r *TicketTTLRule) SubjectKind() Kind { return KindTicket }

// Evaluate implements Rule.
func (r *TicketTTLRule) Evaluate(subject Subject, ctx Context) []Violation {
	now := ctx.now(r.clock.Now())

	ts, ok := subject.(TicketSubject)
	if !ok {
		return mismatchViolation(r.Meta(), subject, KindTicket, now)
	}
	ticket := ts.Ticket

	var violations []Violation
	if ticket.Exp == nil || ticket.Iat == nil {
		missing := make([]string, 0, 2)
		if ticket.Exp == nil {
			missing = append(missing, "exp")
		}
		if ticket.Iat == nil {
			missing = append(missing, "iat")
		}
		violations = append(violations, Violation{
			Invariant: r.Meta().Name,
			Message:   "ticket is missing required timestamp claims",
			Severity:  SeverityError,
			Context:   ctx.Operation,
			Details:   map[string]any{"missing_fields": missing},
			Timestamp: now,
		})
		return violations
	}

	exp := ticket.Exp.Time
	iat := ticket.Iat.Time

	if !exp.After(now) {
		violations = append(violations, Violation{
			Invariant: r.Meta().Name,
			Message:   "ticket expired",
			Severity:  SeverityError,
			Context:   ctx.Operation,
			Details: map[string]any{
				"exp":        exp.UnixMilli(),
				"now":        now.UnixMilli(),
				"overage_ms": now.Sub(exp).Milliseconds(),
			},
			Timestamp: now,
		})
	}

	if exp.After(now.Add(MaxTicketTTL)) {
		violations = append(violations, Violation{
			Invariant: r.Meta().Name,
			Message:   "ticket expiry exceeds maximum TTL",
			Severity:  SeverityError,
			Context:   ctx.Operation,
			Details: map[string]any{
				"exp":        exp.UnixMilli(),
				"max_ttl_ms": MaxTicketTTL.Milliseconds(),
				"excess_ms":  exp.Sub(now.Add(MaxTicketTTL)).Milliseconds(),
			},
			Timestamp: now,
		})
	}

	if exp.Sub(iat) < MinPracticalTTL {
		violations = append(violations, Violation{
			Invariant: r.Meta().Name,
			Message:   "ticket TTL too short for practical use",
			Severity:  SeverityWarning,
			Context:   ctx.Operation,
			Details: map[string]any{
				"ttl_ms":     exp.Sub(iat).Milliseconds(),
				"minimum_ms": MinPracticalTTL.Milliseconds(),
			},
			Timestamp: now,
		})
	}

	return violations
}
