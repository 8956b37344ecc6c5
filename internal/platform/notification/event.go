// Package notification carries domain events out of the coordination core.
// Dispatch is fire-and-forget: a failing sender is logged and counted but
// never fails the state transition that produced the event.
package notification

import (
	"time"

	"github.com/google/uuid"
)

// Event is a domain event emitted after a lifecycle transition commits.
type Event struct {
	ID         uuid.UUID   `json:"id"`
	Type       string      `json:"type"`
	EntityType string      `json:"entity_type"`
	EntityID   uuid.UUID   `json:"entity_id"`
	PatientID  uuid.UUID   `json:"patient_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data,omitempty"`
}

func NewEvent(eventType, entityType string, entityID, patientID uuid.UUID, data interface{}) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
		PatientID:  patientID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}
