package prescription

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusCreated            Status = "CREATED"
	StatusReadyForProcessing Status = "READY_FOR_PROCESSING"
	StatusProcessing         Status = "PROCESSING"
	StatusReady              Status = "READY"
	StatusExpired            Status = "EXPIRED"
	StatusCancelled          Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusExpired || s == StatusCancelled
}

// transitions lists the forward moves; EXPIRED and CANCELLED are reachable
// from every non-terminal state.
var transitions = map[Status]Status{
	StatusCreated:            StatusReadyForProcessing,
	StatusReadyForProcessing: StatusProcessing,
	StatusProcessing:         StatusReady,
}

func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusExpired || to == StatusCancelled {
		return true
	}
	return transitions[from] == to
}

// DefaultValidity is the fixed lifetime of a prescription.
const DefaultValidity = 30 * 24 * time.Hour

type Item struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PrescriptionID uuid.UUID `db:"prescription_id" json:"prescription_id"`
	Position       int       `db:"position" json:"position"`
	MedicationName string    `db:"medication_name" json:"medication_name"`
	Dosage         string    `db:"dosage" json:"dosage"`
	Frequency      string    `db:"frequency" json:"frequency,omitempty"`
	Quantity       int       `db:"quantity" json:"quantity"`
	Instructions   *string   `db:"instructions" json:"instructions,omitempty"`
}

// Prescription maps to the prescriptions table; Items are stored in
// prescription_items ordered by Position.
type Prescription struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	AppointmentID uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	FacilityID    uuid.UUID  `db:"facility_id" json:"facility_id"`
	Status        Status     `db:"status" json:"status"`
	Notes         *string    `db:"notes" json:"notes,omitempty"`
	CancelReason  *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	ClaimedBy     *uuid.UUID `db:"claimed_by" json:"claimed_by,omitempty"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expires_at"`
	ReadyAt       *time.Time `db:"ready_at" json:"ready_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	Items         []Item     `json:"items"`
}

// snapshot copies p for event payloads, which are encoded asynchronously.
func (p *Prescription) snapshot() Prescription {
	c := *p
	c.Items = append([]Item(nil), p.Items...)
	return c
}

// Overdue reports whether the prescription should be EXPIRED at now.
func (p *Prescription) Overdue(now time.Time) bool {
	return !p.Status.Terminal() && !now.Before(p.ExpiresAt)
}
