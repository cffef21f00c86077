package invariant

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind tags the closed set of subject variants a rule can evaluate.
type Kind int

const (
	// KindTicket is a mutation ticket (TTL and nonce rules).
	KindTicket Kind = iota + 1
	// KindPatch is unified-diff patch text (canonical format rule).
	KindPatch
	// KindTiming is an operation timing pair (performance budget rule).
	KindTiming
	// KindResultPair is an incremental/full validation result pair.
	KindResultPair
)

// String returns the subject kind name used in violation details.
func (k Kind) String() string {
	switch k {
	case KindTicket:
		return "ticket"
	case KindPatch:
		return "patch"
	case KindTiming:
		return "timing"
	case KindResultPair:
		return "result_pair"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Subject is the closed sum of values a rule evaluates. The unexported
// method keeps the set closed to this package's variants.
type Subject interface {
	Kind() Kind
}

// TicketSubject wraps a mutation ticket.
type TicketSubject struct {
	Ticket Ticket
}

// Kind implements Subject.
func (TicketSubject) Kind() Kind { return KindTicket }

// PatchSubject wraps raw patch text.
type PatchSubject struct {
	Text string
}

// Kind implements Subject.
func (PatchSubject) Kind() Kind { return KindPatch }

// TimingSubject wraps one operation timing measurement.
type TimingSubject struct {
	Operation string
	Metrics   Timing
}

// Kind implements Subject.
func (TimingSubject) Kind() Kind { return KindTiming }

// Timing holds monotonic-clock readings in milliseconds. Nil fields mean
// the caller could not supply the reading.
type Timing struct {
	StartTime *float64 `json:"startTime,omitempty"`
	EndTime   *float64 `json:"endTime,omitempty"`
}

// ResultPairSubject wraps an incremental/full validation result pair plus
// the input both validations consumed.
type ResultPairSubject struct {
	Input       any
	Incremental any
	Full        any
}

// Kind implements Subject.
func (ResultPairSubject) Kind() Kind { return KindResultPair }

// Ticket is a short-lived scoped authorization token gating one mutation.
// Signature verification happens upstream; this package only checks
// freshness and replay properties.
type Ticket struct {
	Exp    *Timestamp `json:"exp,omitempty"`
	Iat    *Timestamp `json:"iat,omitempty"`
	RepoID string     `json:"repo_id,omitempty"`
	Nonce  string     `json:"nonce,omitempty"`
}

// Timestamp accepts either epoch milliseconds or an RFC 3339 string on the
// wire, the two encodings ticket issuers use.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps an instant for ticket construction in code and tests.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

// UnmarshalJSON decodes epoch milliseconds (JSON number) or an RFC 3339
// string.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp: parse %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("timestamp: parse %s: %w", data, err)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

// MarshalJSON encodes as epoch milliseconds.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UnixMilli())
}
