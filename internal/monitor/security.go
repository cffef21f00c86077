package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/warrant/internal/clock"
)

const (
	// securityRetention bounds the security event log.
	securityRetention = 24 * time.Hour
	// burstWindow is the lookback used for pattern detection.
	burstWindow = 5 * time.Minute
	// replayBurstCount is how many replay_attempt events within the burst
	// window (including the triggering one) raise a suspicious_pattern.
	replayBurstCount = 3
	// rateLimitBurstCount is the per-source rate_limit_exceeded count that
	// raises a critical suspicious_pattern.
	rateLimitBurstCount = 5
)

// Event types with built-in burst detection.
const (
	EventTypeReplayAttempt     = "replay_attempt"
	EventTypeRateLimitExceeded = "rate_limit_exceeded"
	EventTypeSuspiciousPattern = "suspicious_pattern"
)

// securityAnalyzer records security events and raises synthetic
// suspicious_pattern events when bursts match known attack shapes.
//
// Pattern events go through the same append path as recorded events, so
// they are visible to queries, but suspicious_pattern is never itself a
// trigger type: detection cannot recurse.
type securityAnalyzer struct {
	clock  clock.Clock
	ids    IDGenerator
	logger *slog.Logger
	bus    *Bus

	mu     sync.Mutex
	events []SecurityEvent
}

func newSecurityAnalyzer(c clock.Clock, ids IDGenerator, logger *slog.Logger, bus *Bus) *securityAnalyzer {
	return &securityAnalyzer{clock: c, ids: ids, logger: logger, bus: bus}
}

// record appends one event, publishes it, and runs burst analysis. The
// returned event carries the assigned id and timestamp.
func (a *securityAnalyzer) record(event SecurityEvent) SecurityEvent {
	if event.Timestamp.IsZero() {
		event.Timestamp = a.clock.Now()
	}
	if event.ID == "" {
		event.ID = a.ids.NewID()
	}

	a.mu.Lock()
	a.pruneLocked(event.Timestamp)
	a.events = append(a.events, event)
	pattern, found := a.detectLocked(event)
	if found {
		a.events = append(a.events, pattern)
	}
	a.mu.Unlock()

	a.logger.Info("security event",
		"type", event.Type,
		"severity", event.Severity,
		"source", event.Source,
		"blocked", event.Blocked,
	)
	a.bus.Publish(Event{Type: EventSecurityEvent, Timestamp: event.Timestamp, Payload: event})

	if found {
		a.logger.Warn("suspicious pattern detected",
			"pattern", pattern.Details["pattern"],
			"source", pattern.Source,
			"severity", pattern.Severity,
		)
		a.bus.Publish(Event{Type: EventSecurityEvent, Timestamp: pattern.Timestamp, Payload: pattern})
	}
	return event
}

// detectLocked inspects the burst window ending at the new event and
// returns a synthetic suspicious_pattern when an attack shape matches.
// Caller holds a.mu; the new event is already appended.
func (a *securityAnalyzer) detectLocked(event SecurityEvent) (SecurityEvent, bool) {
	if event.Type == EventTypeSuspiciousPattern {
		return SecurityEvent{}, false
	}

	cutoff := event.Timestamp.Add(-burstWindow)

	switch event.Type {
	case EventTypeReplayAttempt:
		count := 0
		for _, prior := range a.events {
			if prior.Type == EventTypeReplayAttempt && !prior.Timestamp.Before(cutoff) {
				count++
			}
		}
		if count < replayBurstCount {
			return SecurityEvent{}, false
		}
		return SecurityEvent{
			ID:        a.ids.NewID(),
			Type:      EventTypeSuspiciousPattern,
			Timestamp: event.Timestamp,
			Severity:  "high",
			Source:    event.Source,
			Blocked:   true,
			Details: map[string]any{
				"pattern":          "replay_burst",
				"trigger_type":     EventTypeReplayAttempt,
				"count":            count,
				"window_ms":        burstWindow.Milliseconds(),
				"trigger_event_id": event.ID,
			},
		}, true

	case EventTypeRateLimitExceeded:
		count := 0
		for _, prior := range a.events {
			if prior.Type == EventTypeRateLimitExceeded &&
				prior.Source == event.Source &&
				!prior.Timestamp.Before(cutoff) {
				count++
			}
		}
		if count < rateLimitBurstCount {
			return SecurityEvent{}, false
		}
		return SecurityEvent{
			ID:        a.ids.NewID(),
			Type:      EventTypeSuspiciousPattern,
			Timestamp: event.Timestamp,
			Severity:  "critical",
			Source:    event.Source,
			Blocked:   true,
			Details: map[string]any{
				"pattern":          "rate_limit_abuse",
				"trigger_type":     EventTypeRateLimitExceeded,
				"count":            count,
				"window_ms":        burstWindow.Milliseconds(),
				"trigger_event_id": event.ID,
			},
		}, true
	}

	return SecurityEvent{}, false
}

// recent returns events no older than the given duration, newest last.
func (a *securityAnalyzer) recent(age time.Duration) []SecurityEvent {
	now := a.clock.Now()
	cutoff := now.Add(-age)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked(now)

	var out []SecurityEvent
	for _, event := range a.events {
		if !event.Timestamp.Before(cutoff) {
			out = append(out, event)
		}
	}
	return out
}

// pruneLocked drops events past the retention age. Caller holds a.mu.
func (a *securityAnalyzer) pruneLocked(now time.Time) {
	cutoff := now.Add(-securityRetention)
	drop := 0
	for ; drop < len(a.events); drop++ {
		if !a.events[drop].Timestamp.Before(cutoff) {
			break
		}
	}
	if drop > 0 {
		a.events = a.events[drop:]
	}
}
