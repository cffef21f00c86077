package monitor

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType names the events published for external consumers.
type EventType string

const (
	EventAlert             EventType = "alert"
	EventAlertResolved      EventType = "alert_resolved"
	EventIncidentCreated    EventType = "incident_created"
	EventIncidentEscalated  EventType = "incident_escalated"
	EventSecurityEvent      EventType = "security_event"
	EventErrorRecorded      EventType = "error_recorded"
)

// Event is one published state change carrying its full entity payload.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Bus is a bounded single-channel event fan-out. Publish never blocks:
// when the buffer is full the event is dropped and counted, so a slow or
// absent consumer cannot stall the monitoring loop.
type Bus struct {
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// defaultEventBuffer bounds the bus when the caller does not configure it.
const defaultEventBuffer = 256

// NewBus creates a bus with the given buffer capacity; non-positive
// capacities fall back to the default.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &Bus{ch: make(chan Event, buffer)}
}

// Publish offers an event without blocking. Returns false when the buffer
// was full and the event was dropped.
func (b *Bus) Publish(ev Event) bool {
	select {
	case b.ch <- ev:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Events returns the receive side for consumers. The channel closes when
// the bus is closed; buffered events remain receivable after close.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Dropped reports how many events were discarded due to a full buffer.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes the event channel. Publish must not be called after Close.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.ch) })
}
