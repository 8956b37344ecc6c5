package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SlotRepository interface {
	Create(ctx context.Context, s *Slot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// GetForUpdate reads the slot under an exclusive row lock held until the
	// surrounding transaction ends. It fails with db.ErrNoTx outside one.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error)
	Update(ctx context.Context, s *Slot) error
	// LockDoctor serializes slot creation and updates for one doctor until
	// the surrounding transaction ends.
	LockDoctor(ctx context.Context, doctorID uuid.UUID) error
	// ListByDoctor returns the doctor's slots intersecting [from, to),
	// ordered by start time.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Slot, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update writes a only if the stored row is still in state from;
	// otherwise it returns apperr.ErrConflict.
	Update(ctx context.Context, a *Appointment, from State) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Appointment, error)
}
