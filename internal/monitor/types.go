// Package monitor implements the continuously-running operational side of
// the guarantees runtime: SLO evaluation over rolling metric windows,
// alert and incident lifecycle, security-event burst analysis, and health
// aggregation.
//
// Recording calls are non-blocking and safe on the request path. A
// background loop (Run) sweeps SLOs every 30 seconds and stale alerts
// every 5 minutes. State changes are published as typed events on a
// bounded channel; consumers (log sinks, archives) pull from it.
package monitor

import "time"

// AlertSeverity ranks an alert. Critical and fatal alerts escalate to
// incidents.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
	SeverityFatal    AlertSeverity = "fatal"
)

// IncidentStatus is the incident lifecycle state.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentResolved      IncidentStatus = "resolved"
)

// SLOState classifies an objective's current standing.
type SLOState string

const (
	SLOStateOK       SLOState = "ok"
	SLOStateWarning  SLOState = "warning"
	SLOStateCritical SLOState = "critical"
	SLOStateNoData   SLOState = "no_data"
)

// HealthState is the aggregate service health.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// SLODefinition is one service-level objective. Loaded at construction or
// via AddSLO, immutable thereafter.
//
// Thresholds are multipliers on Target. For most objectives higher
// measured values are worse (warning when current > AlertThreshold ×
// Target); when LowerIsWorse is set the comparison direction inverts
// (availability: warning when current < AlertThreshold × Target).
type SLODefinition struct {
	Name              string        `json:"name" yaml:"name"`
	Description       string        `json:"description,omitempty" yaml:"description,omitempty"`
	Target            float64       `json:"target" yaml:"target"`
	Unit              string        `json:"unit" yaml:"unit"`
	Window            time.Duration `json:"window" yaml:"window"`
	AlertThreshold    float64       `json:"alert_threshold" yaml:"alert_threshold"`
	CriticalThreshold float64       `json:"critical_threshold" yaml:"critical_threshold"`
	LowerIsWorse      bool          `json:"lower_is_worse,omitempty" yaml:"lower_is_worse,omitempty"`
}

// SLOStatus is the evaluated standing of one objective at one instant.
type SLOStatus struct {
	Name        string    `json:"name"`
	Current     float64   `json:"current"`
	Target      float64   `json:"target"`
	Unit        string    `json:"unit"`
	State       SLOState  `json:"state"`
	SampleCount int       `json:"sample_count"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// MetricSample is one recorded measurement. Appended, never mutated,
// pruned by age.
type MetricSample struct {
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Operation string            `json:"operation,omitempty"`
}

// Alert is one live threshold crossing. Identity key is
// "<sloName>_threshold": at most one live alert per objective. Resolved
// alerts leave the live set; the resolution is published, not discarded.
type Alert struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Severity     AlertSeverity  `json:"severity"`
	Message      string         `json:"message"`
	Timestamp    time.Time      `json:"timestamp"`
	SLO          string         `json:"slo"`
	CurrentValue float64        `json:"current_value"`
	TargetValue  float64        `json:"target_value"`
	Details      map[string]any `json:"details,omitempty"`
	Resolved     bool           `json:"resolved"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
	Stale        bool           `json:"stale,omitempty"`
}

// TimelineEntry is one dated line in an incident's history.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// IncidentReport aggregates the critical alerts of one ongoing problem.
// Subsequent critical alerts for the same objective append to the open
// incident instead of creating a new one.
type IncidentReport struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Status    IncidentStatus  `json:"status"`
	Severity  string          `json:"severity"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Alerts    []Alert         `json:"alerts"`
	Timeline  []TimelineEntry `json:"timeline"`
}

// SecurityEvent is one discrete security observation. Append-only with
// 24-hour retention. A detected burst produces a synthetic event of type
// "suspicious_pattern", which never re-triggers analysis for itself.
type SecurityEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Severity  string         `json:"severity"`
	Source    string         `json:"source"`
	Details   map[string]any `json:"details,omitempty"`
	Blocked   bool           `json:"blocked"`
}

// HealthStatus is the aggregate health snapshot.
type HealthStatus struct {
	State                HealthState `json:"state"`
	SLOs                 []SLOStatus `json:"slos"`
	ActiveAlerts         int         `json:"active_alerts"`
	OpenIncidents        int         `json:"open_incidents"`
	RecentSecurityEvents int         `json:"recent_security_events"`
	EvaluatedAt          time.Time   `json:"evaluated_at"`
}

// DegradationReport is the result of the pull-style performance
// degradation query: degraded when P99 exceeds twice P95 over recent
// response-time samples.
type DegradationReport struct {
	Degraded bool    `json:"degraded"`
	P95      float64 `json:"p95"`
	P99      float64 `json:"p99"`
	Ratio    float64 `json:"ratio"`
	Samples  int     `json:"samples"`
}

// IDGenerator supplies identifiers for alerts, incidents, and security
// events. Production uses UUIDv7; tests substitute fixed sequences.
type IDGenerator interface {
	NewID() string
}
