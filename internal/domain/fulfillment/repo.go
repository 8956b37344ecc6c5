package fulfillment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *MedicationDelivery) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicationDelivery, error)
	// GetActiveByPrescription returns the non-cancelled delivery, or NotFound.
	GetActiveByPrescription(ctx context.Context, prescriptionID uuid.UUID) (*MedicationDelivery, error)
	// LockPrescription serializes delivery creation for one prescription
	// until the surrounding transaction ends.
	LockPrescription(ctx context.Context, prescriptionID uuid.UUID) error
	// Update persists the delivery only if its stored status is still from.
	Update(ctx context.Context, d *MedicationDelivery, from Status) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicationDelivery, error)
}
