// Package events records domain events in a transactional outbox and relays
// them to Kafka.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	AppointmentCreated       = "appointment.created"
	AppointmentUpdated       = "appointment.updated"
	AppointmentCancelled     = "appointment.cancelled"
	AppointmentStatusChanged = "appointment.status_changed"
)

// Event is a domain event written in the same transaction as the change it
// describes. Payload is marshalled to JSON.
type Event struct {
	ID          uuid.UUID
	Type        string
	AggregateID uuid.UUID
	Payload     interface{}
}

// New builds an event with a fresh id.
func New(eventType string, aggregateID uuid.UUID, payload interface{}) Event {
	return Event{ID: uuid.New(), Type: eventType, AggregateID: aggregateID, Payload: payload}
}

// Recorder persists events. Implementations join the transaction carried by
// ctx when there is one.
type Recorder interface {
	Record(ctx context.Context, evt Event) error
}

// NoopRecorder discards events. Used when no broker is configured.
type NoopRecorder struct{}

func (NoopRecorder) Record(context.Context, Event) error { return nil }

// Record is an outbox row awaiting publication.
type Record struct {
	ID          int64
	EventID     uuid.UUID
	EventType   string
	AggregateID uuid.UUID
	Payload     []byte
	Traceparent string
	Tracestate  string
	CreatedAt   time.Time
}
