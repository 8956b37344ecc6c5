package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/telecare/telecare/internal/domain/access"
	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
)

type BookRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	SlotID    uuid.UUID `json:"slot_id"`
	Mode      Mode      `json:"mode"`
	Notes     string    `json:"notes,omitempty"`
}

func (r *BookRequest) validate() error {
	switch {
	case r.PatientID == uuid.Nil:
		return apperr.Validation("patient_id is required")
	case r.DoctorID == uuid.Nil:
		return apperr.Validation("doctor_id is required")
	case r.SlotID == uuid.Nil:
		return apperr.Validation("slot_id is required")
	case !r.Mode.Valid():
		return apperr.Validation("invalid mode %q", r.Mode)
	}
	return nil
}

// Book reserves the slot and creates a SCHEDULED appointment in one unit of
// work. Virtual consultations stay PENDING payment until MarkPaid.
func (s *Service) Book(ctx context.Context, actor auth.Actor, req BookRequest) (*Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.perms.Require(ctx, actor, req.PatientID, access.BookAppointment); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "scheduling.Book")
	span.SetAttributes(
		attribute.String("slot.id", req.SlotID.String()),
		attribute.String("doctor.id", req.DoctorID.String()),
	)
	started := time.Now()

	appt := &Appointment{
		PatientID:     req.PatientID,
		DoctorID:      req.DoctorID,
		SlotID:        req.SlotID,
		BookedBy:      actor.UserID,
		Mode:          req.Mode,
		Status:        StatusScheduled,
		PaymentStatus: initialPayment(req.Mode),
		Notes:         strPtr(req.Notes),
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		slot, err := s.bookSlot(ctx, req.SlotID, func(sl *Slot) error {
			if sl.DoctorID != req.DoctorID {
				return apperr.Validation("slot %s does not belong to doctor %s", sl.ID, req.DoctorID)
			}
			if sl.Mode != req.Mode {
				return apperr.Validation("slot %s is %s, not %s", sl.ID, sl.Mode, req.Mode)
			}
			return nil
		})
		if err != nil {
			return err
		}
		appt.StartTime = slot.StartTime
		return s.appointments.Create(ctx, appt)
	})

	outcome := "booked"
	if err != nil {
		outcome = "rejected"
		if errors.Is(err, apperr.ErrConflict) {
			outcome = "conflict"
		}
	}
	s.metrics.ObserveSlotBooking(outcome, time.Since(started).Seconds())
	endSpan(span, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", appt.ID.String()).Str("slot_id", appt.SlotID.String()).
		Str("payment_status", string(appt.PaymentStatus)).Msg("appointment booked")
	if appt.Active() {
		s.openVideo(ctx, appt)
	}
	s.publish(ctx, EventAppointmentBooked, appt)
	return appt, nil
}

// transition runs fn on a freshly read appointment inside a unit of work and
// persists the result with a compare-and-swap on its prior state.
func (s *Service) transition(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, a *Appointment) error) (*Appointment, error) {
	var appt *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		from := a.State()
		if err := fn(ctx, a); err != nil {
			return err
		}
		if err := s.appointments.Update(ctx, a, from); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func requireScheduled(a *Appointment, to Status) error {
	if a.Status != StatusScheduled {
		return apperr.InvalidTransition("appointment", string(a.Status), string(to))
	}
	return nil
}

// canManage allows the assigned doctor or an actor holding
// MANAGE_APPOINTMENTS for the patient.
func (s *Service) canManage(ctx context.Context, actor auth.Actor, a *Appointment) error {
	if actor.IsDoctor() && actor.DoctorID == a.DoctorID {
		return nil
	}
	return s.perms.Require(ctx, actor, a.PatientID, access.ManageAppointments)
}

// Cancel releases the slot and terminates a SCHEDULED appointment.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.transition(ctx, id, func(ctx context.Context, a *Appointment) error {
		if err := s.canManage(ctx, actor, a); err != nil {
			return err
		}
		if err := requireScheduled(a, StatusCancelled); err != nil {
			return err
		}
		if _, err := s.releaseSlot(ctx, a.SlotID); err != nil {
			return err
		}
		a.Status = StatusCancelled
		a.CancelReason = strPtr(reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventAppointmentCancelled, appt)
	s.closeVideo(ctx, appt)
	return appt, nil
}

// Complete is reserved to the assigned doctor. Ending the video session is
// a side effect, not a precondition.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, id uuid.UUID, doctorNotes string) (*Appointment, error) {
	appt, err := s.transition(ctx, id, func(_ context.Context, a *Appointment) error {
		if actor.DoctorID != a.DoctorID {
			return apperr.Forbidden("only the assigned doctor may complete appointment %s", a.ID)
		}
		if err := requireScheduled(a, StatusCompleted); err != nil {
			return err
		}
		if !a.Active() {
			return apperr.Conflict("appointment %s is awaiting payment", a.ID)
		}
		now := s.now().UTC()
		a.Status = StatusCompleted
		a.DoctorNotes = strPtr(doctorNotes)
		a.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventAppointmentCompleted, appt)
	s.closeVideo(ctx, appt)
	return appt, nil
}

// MarkPaid settles a PENDING appointment. It is invoked by the payment flow
// once the processor confirms the charge.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string) (*Appointment, error) {
	appt, err := s.transition(ctx, id, func(_ context.Context, a *Appointment) error {
		if err := requireScheduled(a, StatusScheduled); err != nil {
			return err
		}
		if a.PaymentStatus != PaymentPending {
			return apperr.Conflict("appointment %s payment is %s", a.ID, a.PaymentStatus)
		}
		a.PaymentStatus = PaymentPaid
		a.PaymentRef = strPtr(paymentRef)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.openVideo(ctx, appt)
	s.publish(ctx, EventAppointmentConfirmed, appt)
	return appt, nil
}

// Reschedule moves a SCHEDULED appointment onto another slot of the same
// doctor. The old appointment becomes RESCHEDULED and a new SCHEDULED one
// carries its payment status.
func (s *Service) Reschedule(ctx context.Context, actor auth.Actor, id, newSlotID uuid.UUID) (*Appointment, error) {
	var old, next *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.perms.Require(ctx, actor, a.PatientID, access.ManageAppointments); err != nil {
			return err
		}
		if err := requireScheduled(a, StatusRescheduled); err != nil {
			return err
		}
		if newSlotID == a.SlotID {
			return apperr.Validation("new slot must differ from the current slot")
		}
		from := a.State()

		if err := s.lockSlots(ctx, a.SlotID, newSlotID); err != nil {
			return err
		}
		slot, err := s.bookSlot(ctx, newSlotID, func(sl *Slot) error {
			if sl.DoctorID != a.DoctorID {
				return apperr.Validation("slot %s does not belong to doctor %s", sl.ID, a.DoctorID)
			}
			if sl.Mode != a.Mode {
				return apperr.Validation("slot %s is %s, not %s", sl.ID, sl.Mode, a.Mode)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if _, err := s.releaseSlot(ctx, a.SlotID); err != nil {
			return err
		}

		oldID := a.ID
		next = &Appointment{
			PatientID:       a.PatientID,
			DoctorID:        a.DoctorID,
			SlotID:          slot.ID,
			BookedBy:        actor.UserID,
			Mode:            a.Mode,
			Status:          StatusScheduled,
			PaymentStatus:   a.PaymentStatus,
			PaymentRef:      a.PaymentRef,
			Notes:           a.Notes,
			RescheduledFrom: &oldID,
			StartTime:       slot.StartTime,
		}
		if err := s.appointments.Create(ctx, next); err != nil {
			return err
		}

		nextID := next.ID
		a.Status = StatusRescheduled
		a.RescheduledTo = &nextID
		if err := s.appointments.Update(ctx, a, from); err != nil {
			return err
		}
		old = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventAppointmentRescheduled, old)
	s.closeVideo(ctx, old)
	if next.Active() {
		s.openVideo(ctx, next)
	}
	return next, nil
}

// MarkNoShow closes a SCHEDULED appointment whose slot has started. The
// slot stays booked as history.
func (s *Service) MarkNoShow(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.transition(ctx, id, func(_ context.Context, a *Appointment) error {
		if actor.DoctorID != a.DoctorID {
			return apperr.Forbidden("only the assigned doctor may mark appointment %s as no-show", a.ID)
		}
		if err := requireScheduled(a, StatusNoShow); err != nil {
			return err
		}
		if s.now().Before(a.StartTime) {
			return apperr.Conflict("appointment %s has not started yet", a.ID)
		}
		a.Status = StatusNoShow
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventAppointmentNoShow, appt)
	s.closeVideo(ctx, appt)
	return appt, nil
}

// Get returns the appointment to its doctor or to actors holding
// VIEW_APPOINTMENT for the patient.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsDoctor() && actor.DoctorID == a.DoctorID {
		return a, nil
	}
	if err := s.perms.Require(ctx, actor, a.PatientID, access.ViewAppointment); err != nil {
		return nil, err
	}
	return a, nil
}

// Lookup reads an appointment without an actor. It backs collaborators
// that run their own authorization, such as payment and prescriptions.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListForPatient(ctx context.Context, actor auth.Actor, patientID uuid.UUID) ([]*Appointment, error) {
	if err := s.perms.Require(ctx, actor, patientID, access.ViewAppointment); err != nil {
		return nil, err
	}
	return s.appointments.ListByPatient(ctx, patientID)
}

func (s *Service) ListForDoctor(ctx context.Context, actor auth.Actor, doctorID uuid.UUID) ([]*Appointment, error) {
	if actor.DoctorID != doctorID {
		return nil, apperr.Forbidden("doctors may only list their own appointments")
	}
	return s.appointments.ListByDoctor(ctx, doctorID)
}
