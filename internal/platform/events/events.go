// Package events publishes domain events (dose logged, medication updated)
// to Kafka. Publishing is fire-and-forget from the caller's perspective: a
// failed delivery is logged and counted, never surfaced to the request.
package events

import (
	"context"
	"time"
)

const (
	TypeDoseLogged         = "dose.logged"
	TypeDoseCorrected      = "dose.corrected"
	TypeMedicationCreated  = "medication.created"
	TypeMedicationUpdated  = "medication.updated"
	TypeMedicationDeleted  = "medication.deleted"
	TypeMedicationLowStock = "medication.low_stock"
)

// Event is the envelope written to the topic. Key selects the partition;
// events for the same user share a key so they stay ordered.
type Event struct {
	Type       string      `json:"type"`
	Key        string      `json:"-"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// Publisher is implemented by KafkaPublisher and Nop.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event. It is used when EVENTS_ENABLED is false.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder receives delivery failures. *metrics.Metrics satisfies it.
type Recorder interface {
	EventPublishFailed(eventType string)
}
