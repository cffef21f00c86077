package monitor

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/warrant/internal/clock"
)

// staleAlertAge is how old an unresolved alert must be before the stale
// sweep flags it for operator attention.
const staleAlertAge = time.Hour

// alertManager owns the live-alert set and the incident registry.
//
// Alert identity is "<sloName>_threshold": one live alert per objective.
// Repeated crossings update the existing alert instead of duplicating it.
// Critical and fatal alerts escalate into an incident; an open incident
// for the same objective is reused.
type alertManager struct {
	clock  clock.Clock
	ids    IDGenerator
	logger *slog.Logger
	bus    *Bus

	mu              sync.Mutex
	live            map[string]*Alert
	incidents       map[string]*IncidentReport
	openByObjective map[string]string
}

func newAlertManager(c clock.Clock, ids IDGenerator, logger *slog.Logger, bus *Bus) *alertManager {
	return &alertManager{
		clock:           c,
		ids:             ids,
		logger:          logger,
		bus:             bus,
		live:            make(map[string]*Alert),
		incidents:       make(map[string]*IncidentReport),
		openByObjective: make(map[string]string),
	}
}

func alertKey(sloName string) string {
	return sloName + "_threshold"
}

// threshold records a crossed threshold for an objective. Creates the live
// alert on first crossing, updates it on repeats, and escalates critical
// and fatal severities into an incident.
func (m *alertManager) threshold(def SLODefinition, severity AlertSeverity, current float64, message string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := alertKey(def.Name)
	if existing, ok := m.live[key]; ok {
		escalated := severity == SeverityCritical && existing.Severity == SeverityWarning ||
			severity == SeverityFatal && existing.Severity != SeverityFatal
		existing.CurrentValue = current
		existing.Message = message
		existing.Severity = severity
		if escalated {
			m.escalateLocked(existing, now)
		}
		return
	}

	alert := &Alert{
		ID:           m.ids.NewID(),
		Name:         key,
		Severity:     severity,
		Message:      message,
		Timestamp:    now,
		SLO:          def.Name,
		CurrentValue: current,
		TargetValue:  def.Target,
		Details: map[string]any{
			"unit":               def.Unit,
			"window_ms":          def.Window.Milliseconds(),
			"alert_threshold":    def.AlertThreshold,
			"critical_threshold": def.CriticalThreshold,
		},
	}
	m.live[key] = alert

	m.logger.Warn("alert raised",
		"alert", alert.Name,
		"severity", string(alert.Severity),
		"slo", alert.SLO,
		"current", alert.CurrentValue,
		"target", alert.TargetValue,
	)
	m.bus.Publish(Event{Type: EventAlert, Timestamp: now, Payload: *alert})

	if severity == SeverityCritical || severity == SeverityFatal {
		m.escalateLocked(alert, now)
	}
}

// clear resolves and removes the live alert for an objective, if any. The
// resolution is published, never discarded.
func (m *alertManager) clear(sloName string, current float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := alertKey(sloName)
	alert, ok := m.live[key]
	if !ok {
		return
	}
	delete(m.live, key)

	resolvedAt := now
	alert.Resolved = true
	alert.ResolvedAt = &resolvedAt
	alert.CurrentValue = current

	m.logger.Info("alert resolved",
		"alert", alert.Name,
		"slo", alert.SLO,
		"current", current,
		"lived", now.Sub(alert.Timestamp),
	)
	m.bus.Publish(Event{Type: EventAlertResolved, Timestamp: now, Payload: *alert})
}

// escalateLocked attaches the alert to the objective's open incident, or
// opens a new one. Caller holds m.mu.
func (m *alertManager) escalateLocked(alert *Alert, now time.Time) {
	if id, ok := m.openByObjective[alert.SLO]; ok {
		incident := m.incidents[id]
		incident.Alerts = append(incident.Alerts, *alert)
		incident.Timeline = append(incident.Timeline, TimelineEntry{
			Timestamp: now,
			Message:   fmt.Sprintf("alert %s (%s) attached: %s", alert.Name, alert.Severity, alert.Message),
		})
		m.logger.Warn("incident escalated",
			"incident", incident.ID,
			"slo", alert.SLO,
			"alerts", len(incident.Alerts),
		)
		m.bus.Publish(Event{Type: EventIncidentEscalated, Timestamp: now, Payload: *incident})
		return
	}

	severity := "high"
	if alert.Severity == SeverityFatal {
		severity = "critical"
	}
	incident := &IncidentReport{
		ID:        m.ids.NewID(),
		Title:     fmt.Sprintf("%s objective breached", alert.SLO),
		Status:    IncidentOpen,
		Severity:  severity,
		StartTime: now,
		Alerts:    []Alert{*alert},
		Timeline: []TimelineEntry{{
			Timestamp: now,
			Message:   fmt.Sprintf("incident opened by alert %s (%s)", alert.Name, alert.Severity),
		}},
	}
	m.incidents[incident.ID] = incident
	m.openByObjective[alert.SLO] = incident.ID

	m.logger.Error("incident opened",
		"incident", incident.ID,
		"slo", alert.SLO,
		"severity", severity,
	)
	m.bus.Publish(Event{Type: EventIncidentCreated, Timestamp: now, Payload: *incident})
}

// resolveIncident closes an incident by id. Returns false when the id is
// unknown or the incident is already resolved.
func (m *alertManager) resolveIncident(id string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	incident, ok := m.incidents[id]
	if !ok || incident.Status == IncidentResolved {
		return false
	}
	incident.Status = IncidentResolved
	endTime := now
	incident.EndTime = &endTime
	incident.Timeline = append(incident.Timeline, TimelineEntry{
		Timestamp: now,
		Message:   "incident resolved",
	})

	for slo, openID := range m.openByObjective {
		if openID == id {
			delete(m.openByObjective, slo)
		}
	}
	m.logger.Info("incident resolved", "incident", id, "duration", now.Sub(incident.StartTime))
	return true
}

// staleSweep flags unresolved alerts older than staleAlertAge. Flagging is
// for operator visibility only; nothing auto-resolves or auto-escalates.
func (m *alertManager) staleSweep(now time.Time) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var flagged []Alert
	for _, alert := range m.live {
		if alert.Stale || now.Sub(alert.Timestamp) < staleAlertAge {
			continue
		}
		alert.Stale = true
		flagged = append(flagged, *alert)
		m.logger.Warn("alert stale",
			"alert", alert.Name,
			"slo", alert.SLO,
			"age", now.Sub(alert.Timestamp),
		)
	}
	return flagged
}

// activeAlerts returns the live alerts sorted by objective name for
// stable output.
func (m *alertManager) activeAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.live))
	for _, alert := range m.live {
		out = append(out, *alert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SLO < out[j].SLO })
	return out
}

// activeIncidents returns unresolved incidents sorted by start time.
func (m *alertManager) activeIncidents() []IncidentReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []IncidentReport
	for _, incident := range m.incidents {
		if incident.Status == IncidentResolved {
			continue
		}
		out = append(out, *incident)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (m *alertManager) counts() (alerts, openIncidents int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := 0
	for _, incident := range m.incidents {
		if incident.Status != IncidentResolved {
			open++
		}
	}
	return len(m.live), open
}
