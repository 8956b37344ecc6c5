package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create stores the prescription and its items; run it inside a transaction.
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Prescription, error)
	// UpdateStatus persists status fields only if the row is still in from.
	UpdateStatus(ctx context.Context, p *Prescription, from Status) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error)
	// ListExpiringBefore returns non-terminal prescriptions expiring before t.
	ListExpiringBefore(ctx context.Context, t time.Time) ([]*Prescription, error)
}
