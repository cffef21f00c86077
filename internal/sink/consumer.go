package sink

import (
	"context"
	"log/slog"

	"github.com/roach88/warrant/internal/monitor"
)

// Consumer pulls events off the monitoring bus and fans them out to the
// ndjson logs and, when configured, the sqlite archive.
//
// Persistence is best-effort: a failed write is logged and consumption
// continues, so monitoring keeps evaluating even when disk is
// unavailable.
type Consumer struct {
	logger  *slog.Logger
	ndjson  *NDJSONWriter
	archive *Archive
}

// NewConsumer creates a consumer. The archive may be nil for log-only
// operation.
func NewConsumer(logger *slog.Logger, ndjson *NDJSONWriter, archive *Archive) *Consumer {
	return &Consumer{logger: logger, ndjson: ndjson, archive: archive}
}

// Run consumes until the context is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context, events <-chan monitor.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.consume(ev)
		}
	}
}

// consume routes one event. error_recorded events feed SLO math only and
// are not persisted.
func (c *Consumer) consume(ev monitor.Event) {
	file, level, persist := route(ev)
	if !persist {
		return
	}

	if err := c.ndjson.Write(file, ev.Timestamp, level, string(ev.Type), ev.Payload); err != nil {
		c.logger.Error("sink write failed", "file", file, "type", string(ev.Type), "error", err)
	}

	if c.archive == nil {
		return
	}
	if err := c.archiveEvent(ev); err != nil {
		c.logger.Error("archive write failed", "type", string(ev.Type), "error", err)
	}
}

func (c *Consumer) archiveEvent(ev monitor.Event) error {
	switch ev.Type {
	case monitor.EventAlert:
		if alert, ok := ev.Payload.(monitor.Alert); ok {
			return c.archive.ArchiveAlert("raised", alert)
		}
	case monitor.EventAlertResolved:
		if alert, ok := ev.Payload.(monitor.Alert); ok {
			return c.archive.ArchiveAlert("resolved", alert)
		}
	case monitor.EventIncidentCreated:
		if incident, ok := ev.Payload.(monitor.IncidentReport); ok {
			return c.archive.ArchiveIncident("created", incident)
		}
	case monitor.EventIncidentEscalated:
		if incident, ok := ev.Payload.(monitor.IncidentReport); ok {
			return c.archive.ArchiveIncident("escalated", incident)
		}
	case monitor.EventSecurityEvent:
		if event, ok := ev.Payload.(monitor.SecurityEvent); ok {
			return c.archive.ArchiveSecurityEvent(event)
		}
	}
	return nil
}

// route maps an event to its log file and record level.
func route(ev monitor.Event) (file, level string, persist bool) {
	switch ev.Type {
	case monitor.EventAlert:
		if alert, ok := ev.Payload.(monitor.Alert); ok {
			return AlertsFile, string(alert.Severity), true
		}
		return AlertsFile, "warning", true
	case monitor.EventAlertResolved:
		return AlertsFile, "info", true
	case monitor.EventIncidentCreated:
		if incident, ok := ev.Payload.(monitor.IncidentReport); ok {
			return IncidentsFile, incident.Severity, true
		}
		return IncidentsFile, "high", true
	case monitor.EventIncidentEscalated:
		return IncidentsFile, "warning", true
	case monitor.EventSecurityEvent:
		if event, ok := ev.Payload.(monitor.SecurityEvent); ok {
			return SecurityFile, event.Severity, true
		}
		return SecurityFile, "low", true
	default:
		return "", "", false
	}
}
