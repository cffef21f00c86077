package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/warrant/internal/clock"
)

const (
	// defaultSweepInterval is the SLO evaluation period.
	defaultSweepInterval = 30 * time.Second
	// defaultStaleSweepInterval is the stale-alert sweep period.
	defaultStaleSweepInterval = 5 * time.Minute
	// degradationFactor is the P99/P95 ratio past which response times
	// count as degraded.
	degradationFactor = 2.0
)

// uuidGenerator issues UUIDv7 identifiers, time-ordered for log scanning.
type uuidGenerator struct{}

func (uuidGenerator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Engine composes the SLO evaluator, alert/incident manager, and security
// analyzer behind one recording and query surface.
//
// Recording calls are cheap and non-blocking; Run drives the periodic
// sweeps until its context is cancelled. All methods are safe for
// concurrent use.
type Engine struct {
	clock  clock.Clock
	ids    IDGenerator
	logger *slog.Logger
	bus    *Bus

	mu       sync.RWMutex
	slos     map[string]SLODefinition
	order    []string
	metrics  *metricStore
	alerts   *alertManager
	security *securityAnalyzer

	sweepInterval      time.Duration
	staleSweepInterval time.Duration
}

// Option configures engine construction.
type Option func(*Engine)

// WithClock substitutes the wall clock, for deterministic tests.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger substitutes the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIDGenerator substitutes the alert/incident/event id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithEventBuffer sizes the event bus buffer.
func WithEventBuffer(n int) Option {
	return func(e *Engine) { e.bus = NewBus(n) }
}

// WithSweepInterval overrides the SLO evaluation period.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) { e.sweepInterval = d }
}

// WithStaleSweepInterval overrides the stale-alert sweep period.
func WithStaleSweepInterval(d time.Duration) Option {
	return func(e *Engine) { e.staleSweepInterval = d }
}

// New creates an engine with the four default objectives registered.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		clock:              clock.System{},
		ids:                uuidGenerator{},
		logger:             slog.Default(),
		slos:               make(map[string]SLODefinition),
		sweepInterval:      defaultSweepInterval,
		staleSweepInterval: defaultStaleSweepInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = NewBus(defaultEventBuffer)
	}

	e.metrics = newMetricStore(e.clock)
	e.alerts = newAlertManager(e.clock, e.ids, e.logger, e.bus)
	e.security = newSecurityAnalyzer(e.clock, e.ids, e.logger, e.bus)

	for _, def := range DefaultSLOs() {
		if err := e.AddSLO(def); err != nil {
			return nil, fmt.Errorf("register default slo: %w", err)
		}
	}
	return e, nil
}

// AddSLO registers an additional objective. Names must be unique.
func (e *Engine) AddSLO(def SLODefinition) error {
	if err := validateSLO(def); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.slos[def.Name]; exists {
		return fmt.Errorf("slo %q: already registered", def.Name)
	}
	e.slos[def.Name] = def
	e.order = append(e.order, def.Name)
	e.metrics.setWindow(def.Name, def.Window)
	return nil
}

// Run drives the periodic sweeps until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	sloTicker := time.NewTicker(e.sweepInterval)
	defer sloTicker.Stop()
	staleTicker := time.NewTicker(e.staleSweepInterval)
	defer staleTicker.Stop()

	e.logger.Info("monitoring started",
		"slo_sweep", e.sweepInterval,
		"stale_sweep", e.staleSweepInterval,
		"objectives", len(e.definitions()),
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("monitoring stopped", "dropped_events", e.bus.Dropped())
			return
		case <-sloTicker.C:
			e.EvaluateSLOs()
		case <-staleTicker.C:
			e.alerts.staleSweep(e.clock.Now())
		}
	}
}

// Events returns the bus receive side for external consumers.
func (e *Engine) Events() <-chan Event {
	return e.bus.Events()
}

// DroppedEvents reports how many bus events were discarded on overflow.
func (e *Engine) DroppedEvents() uint64 {
	return e.bus.Dropped()
}

// Close closes the event bus. Call after Run has returned and no further
// record calls will be made.
func (e *Engine) Close() {
	e.bus.Close()
}

// RecordResponseTime records one end-to-end response latency in
// milliseconds.
func (e *Engine) RecordResponseTime(ms float64, operation string) {
	e.metrics.record("response_time", MetricSample{
		Timestamp: e.clock.Now(),
		Value:     ms,
		Operation: operation,
	})
}

// RecordTicketVerification records one ticket verification latency in
// milliseconds.
func (e *Engine) RecordTicketVerification(ms float64) {
	e.metrics.record("ticket_verification_time", MetricSample{
		Timestamp: e.clock.Now(),
		Value:     ms,
	})
}

// RecordAvailability records one availability probe outcome.
func (e *Engine) RecordAvailability(available bool) {
	value := 0.0
	if available {
		value = 1.0
	}
	e.metrics.record("availability", MetricSample{
		Timestamp: e.clock.Now(),
		Value:     value,
	})
}

// RecordError records one failed request against the error-rate objective
// and publishes an error_recorded event.
func (e *Engine) RecordError(operation, message string) {
	now := e.clock.Now()
	e.metrics.record("error_rate", MetricSample{
		Timestamp: now,
		Value:     1,
		Operation: operation,
	})
	e.bus.Publish(Event{
		Type:      EventErrorRecorded,
		Timestamp: now,
		Payload: map[string]any{
			"operation": operation,
			"message":   message,
			"timestamp": now,
		},
	})
}

// RecordSecurityEvent records one security observation and runs burst
// analysis. The returned event carries the assigned id and timestamp.
func (e *Engine) RecordSecurityEvent(eventType, severity, source string, details map[string]any, blocked bool) SecurityEvent {
	return e.security.record(SecurityEvent{
		Type:     eventType,
		Severity: severity,
		Source:   source,
		Details:  details,
		Blocked:  blocked,
	})
}

// EvaluateSLOs computes every objective's standing and drives the alert
// lifecycle: crossings raise or update alerts, cleared conditions resolve
// them. Returns the statuses in registration order.
func (e *Engine) EvaluateSLOs() []SLOStatus {
	now := e.clock.Now()
	defs := e.definitions()
	statuses := make([]SLOStatus, 0, len(defs))
	for _, def := range defs {
		status := e.evaluateSLO(def, now)
		statuses = append(statuses, status)

		switch status.State {
		case SLOStateCritical:
			e.alerts.threshold(def, SeverityCritical, status.Current, thresholdMessage(def, status.Current, "critical"), now)
		case SLOStateWarning:
			e.alerts.threshold(def, SeverityWarning, status.Current, thresholdMessage(def, status.Current, "warning"), now)
		case SLOStateOK:
			e.alerts.clear(def.Name, status.Current, now)
		case SLOStateNoData:
			// No samples, no opinion: existing alerts stay until data
			// returns.
		}
	}
	return statuses
}

// GetSLOStatus computes every objective's current standing without
// touching the alert lifecycle.
func (e *Engine) GetSLOStatus() []SLOStatus {
	now := e.clock.Now()
	defs := e.definitions()
	statuses := make([]SLOStatus, 0, len(defs))
	for _, def := range defs {
		statuses = append(statuses, e.evaluateSLO(def, now))
	}
	return statuses
}

// definitions snapshots the registry in registration order.
func (e *Engine) definitions() []SLODefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	defs := make([]SLODefinition, 0, len(e.order))
	for _, name := range e.order {
		defs = append(defs, e.slos[name])
	}
	return defs
}

// GetActiveAlerts returns the live alerts.
func (e *Engine) GetActiveAlerts() []Alert {
	return e.alerts.activeAlerts()
}

// GetActiveIncidents returns unresolved incidents.
func (e *Engine) GetActiveIncidents() []IncidentReport {
	return e.alerts.activeIncidents()
}

// ResolveIncident closes an incident by id.
func (e *Engine) ResolveIncident(id string) bool {
	return e.alerts.resolveIncident(id, e.clock.Now())
}

// GetRecentSecurityEvents returns security events from the last N hours.
// Non-positive hours means the full retention window.
func (e *Engine) GetRecentSecurityEvents(hours int) []SecurityEvent {
	age := time.Duration(hours) * time.Hour
	if hours <= 0 || age > securityRetention {
		age = securityRetention
	}
	return e.security.recent(age)
}

// DetectPerformanceDegradation flags response-time degradation when the
// P99 exceeds twice the P95 over recent samples. Pull-style query; it
// never drives alerts.
func (e *Engine) DetectPerformanceDegradation() DegradationReport {
	samples := e.metrics.samples("response_time", e.clock.Now())
	vals := values(samples)
	report := DegradationReport{
		P95:     percentile(vals, 95),
		P99:     percentile(vals, 99),
		Samples: len(vals),
	}
	if report.P95 > 0 {
		report.Ratio = report.P99 / report.P95
		report.Degraded = report.Ratio > degradationFactor
	}
	return report
}

// GetHealthStatus aggregates objectives, alerts, incidents, and recent
// security events into one health state.
func (e *Engine) GetHealthStatus() HealthStatus {
	now := e.clock.Now()
	statuses := e.GetSLOStatus()
	alerts, openIncidents := e.alerts.counts()
	recentSecurity := len(e.security.recent(time.Hour))

	state := HealthHealthy
	for _, status := range statuses {
		if status.State == SLOStateCritical {
			state = HealthUnhealthy
			break
		}
		if status.State == SLOStateWarning {
			state = HealthDegraded
		}
	}
	if openIncidents > 0 {
		state = HealthUnhealthy
	}
	if state == HealthHealthy && alerts > 0 {
		state = HealthDegraded
	}

	return HealthStatus{
		State:                state,
		SLOs:                 statuses,
		ActiveAlerts:         alerts,
		OpenIncidents:        openIncidents,
		RecentSecurityEvents: recentSecurity,
		EvaluatedAt:          now,
	}
}

// evaluateSLO computes one objective's current value and classifies it
// against the thresholds.
//
// The builtin availability objective is a success ratio and error_rate is
// an error percentage against requests in the window; every other
// objective evaluates the 95th percentile of its samples.
func (e *Engine) evaluateSLO(def SLODefinition, now time.Time) SLOStatus {
	samples := e.metrics.samples(def.Name, now)
	status := SLOStatus{
		Name:        def.Name,
		Target:      def.Target,
		Unit:        def.Unit,
		SampleCount: len(samples),
		EvaluatedAt: now,
	}
	if len(samples) == 0 {
		status.State = SLOStateNoData
		return status
	}

	switch def.Name {
	case "availability":
		sum := 0.0
		for _, sample := range samples {
			sum += sample.Value
		}
		status.Current = sum / float64(len(samples)) * 100
	case "error_rate":
		errors := len(samples)
		// Requests come from the raw buffer: the response_time window is
		// shorter than the error-rate window.
		total := e.metrics.rawCount("response_time", now.Add(-def.Window))
		if total < errors {
			total = errors
		}
		status.Current = float64(errors) / float64(total) * 100
	default:
		status.Current = percentile(values(samples), 95)
	}

	status.State = thresholdState(def, status.Current)
	return status
}

// thresholdState classifies a current value against an objective's
// thresholds, honoring the comparison direction.
func thresholdState(def SLODefinition, current float64) SLOState {
	if def.LowerIsWorse {
		if current < def.CriticalThreshold*def.Target {
			return SLOStateCritical
		}
		if current < def.AlertThreshold*def.Target {
			return SLOStateWarning
		}
		return SLOStateOK
	}
	if current > def.CriticalThreshold*def.Target {
		return SLOStateCritical
	}
	if current > def.AlertThreshold*def.Target {
		return SLOStateWarning
	}
	return SLOStateOK
}

func thresholdMessage(def SLODefinition, current float64, level string) string {
	verb := "exceeds"
	if def.LowerIsWorse {
		verb = "fell below"
	}
	return fmt.Sprintf("%s %s the %s threshold: current %.2f%s, target %.2f%s",
		def.Name, verb, level, current, def.Unit, def.Target, def.Unit)
}
