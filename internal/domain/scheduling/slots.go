package scheduling

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
)

type SlotRequest struct {
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Mode            Mode      `json:"mode"`
}

func (s *Service) validateSlot(req SlotRequest) error {
	switch {
	case req.StartTime.IsZero() || req.EndTime.IsZero():
		return apperr.Validation("start_time and end_time are required")
	case req.StartTime.Before(s.now()):
		return apperr.Validation("start_time must not be in the past")
	case !req.EndTime.After(req.StartTime):
		return apperr.Validation("end_time must be after start_time")
	case req.DurationMinutes != int(req.EndTime.Sub(req.StartTime)/time.Minute):
		return apperr.Validation("duration_minutes %d does not match the slot interval", req.DurationMinutes)
	case req.DurationMinutes < s.cfg.MinSlotMinutes || req.DurationMinutes > s.cfg.MaxSlotMinutes:
		return apperr.Validation("duration_minutes must be between %d and %d", s.cfg.MinSlotMinutes, s.cfg.MaxSlotMinutes)
	case !req.Mode.Valid():
		return apperr.Validation("invalid mode %q", req.Mode)
	}
	return nil
}

// checkOverlap must run while the doctor lock is held.
func (s *Service) checkOverlap(ctx context.Context, doctorID uuid.UUID, req SlotRequest, self uuid.UUID) error {
	existing, err := s.slots.ListByDoctor(ctx, doctorID, req.StartTime, req.EndTime)
	if err != nil {
		return err
	}
	for _, sl := range existing {
		if sl.ID != self && sl.Overlaps(req.StartTime, req.EndTime) {
			return apperr.Conflict("slot overlaps existing slot %s", sl.ID)
		}
	}
	return nil
}

func requireDoctor(actor auth.Actor) error {
	if !actor.IsDoctor() {
		return apperr.Forbidden("only doctors manage slots")
	}
	return nil
}

func requireSlotOwner(actor auth.Actor, sl *Slot) error {
	if actor.DoctorID != sl.DoctorID {
		return apperr.Forbidden("slot %s belongs to another doctor", sl.ID)
	}
	return nil
}

// CreateSlot adds an available slot for the acting doctor.
func (s *Service) CreateSlot(ctx context.Context, actor auth.Actor, req SlotRequest) (*Slot, error) {
	if err := requireDoctor(actor); err != nil {
		return nil, err
	}
	if err := s.validateSlot(req); err != nil {
		return nil, err
	}

	slot := &Slot{
		DoctorID:        actor.DoctorID,
		StartTime:       req.StartTime.UTC(),
		EndTime:         req.EndTime.UTC(),
		DurationMinutes: req.DurationMinutes,
		Mode:            req.Mode,
		IsAvailable:     true,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.slots.LockDoctor(ctx, actor.DoctorID); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, actor.DoctorID, req, uuid.Nil); err != nil {
			return err
		}
		return s.slots.Create(ctx, slot)
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// UpdateSlot re-times an unbooked slot, re-running every creation check.
func (s *Service) UpdateSlot(ctx context.Context, actor auth.Actor, slotID uuid.UUID, req SlotRequest) (*Slot, error) {
	if err := requireDoctor(actor); err != nil {
		return nil, err
	}
	if err := s.validateSlot(req); err != nil {
		return nil, err
	}

	var slot *Slot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.slots.LockDoctor(ctx, actor.DoctorID); err != nil {
			return err
		}
		var err error
		if slot, err = s.mutableSlot(ctx, actor, slotID); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, actor.DoctorID, req, slot.ID); err != nil {
			return err
		}
		slot.StartTime = req.StartTime.UTC()
		slot.EndTime = req.EndTime.UTC()
		slot.DurationMinutes = req.DurationMinutes
		slot.Mode = req.Mode
		return s.slots.Update(ctx, slot)
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

func (s *Service) EnableSlot(ctx context.Context, actor auth.Actor, slotID uuid.UUID) (*Slot, error) {
	return s.setAvailable(ctx, actor, slotID, true)
}

func (s *Service) DisableSlot(ctx context.Context, actor auth.Actor, slotID uuid.UUID) (*Slot, error) {
	return s.setAvailable(ctx, actor, slotID, false)
}

func (s *Service) setAvailable(ctx context.Context, actor auth.Actor, slotID uuid.UUID, available bool) (*Slot, error) {
	var slot *Slot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if slot, err = s.mutableSlot(ctx, actor, slotID); err != nil {
			return err
		}
		slot.IsAvailable = available
		return s.slots.Update(ctx, slot)
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// mutableSlot locks the slot and rejects it if it carries a live booking.
func (s *Service) mutableSlot(ctx context.Context, actor auth.Actor, slotID uuid.UUID) (*Slot, error) {
	slot, err := s.slots.GetForUpdate(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if err := requireSlotOwner(actor, slot); err != nil {
		return nil, err
	}
	if slot.IsBooked {
		return nil, apperr.Conflict("slot %s is booked", slot.ID)
	}
	return slot, nil
}

// BookSlot marks the slot booked under its row lock. Concurrent callers are
// strictly ordered by the lock; every loser gets apperr.ErrConflict.
func (s *Service) BookSlot(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	var slot *Slot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		slot, err = s.bookSlot(ctx, slotID, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

func (s *Service) bookSlot(ctx context.Context, slotID uuid.UUID, check func(*Slot) error) (*Slot, error) {
	ctx, span := tracer.Start(ctx, "scheduling.BookSlot")
	span.SetAttributes(attribute.String("slot.id", slotID.String()))

	slot, err := s.slots.GetForUpdate(ctx, slotID)
	if err == nil && check != nil {
		err = check(slot)
	}
	if err == nil {
		switch {
		case slot.IsBooked:
			err = apperr.Conflict("slot %s is already booked", slot.ID)
		case !slot.IsAvailable:
			err = apperr.Conflict("slot %s is not available", slot.ID)
		case !slot.StartTime.After(s.now()):
			err = apperr.Conflict("slot %s has already started", slot.ID)
		}
	}
	if err == nil {
		slot.IsBooked = true
		err = s.slots.Update(ctx, slot)
	}
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// ReleaseSlot returns a booked slot to the available pool.
func (s *Service) ReleaseSlot(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	var slot *Slot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		slot, err = s.releaseSlot(ctx, slotID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

func (s *Service) releaseSlot(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	slot, err := s.slots.GetForUpdate(ctx, slotID)
	if err != nil {
		return nil, err
	}
	slot.IsBooked = false
	slot.IsAvailable = true
	if err := s.slots.Update(ctx, slot); err != nil {
		return nil, err
	}
	return slot, nil
}

// lockSlots takes row locks on every id in ascending order.
func (s *Service) lockSlots(ctx context.Context, ids ...uuid.UUID) error {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	for _, id := range sorted {
		if _, err := s.slots.GetForUpdate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.slots.GetByID(ctx, id)
}

// ListDoctorSlots returns every slot of the doctor intersecting [from, to).
func (s *Service) ListDoctorSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Slot, error) {
	if !to.After(from) {
		return nil, apperr.Validation("to must be after from")
	}
	return s.slots.ListByDoctor(ctx, doctorID, from, to)
}

// ListAvailable narrows ListDoctorSlots to slots that can still be booked.
func (s *Service) ListAvailable(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Slot, error) {
	all, err := s.ListDoctorSlots(ctx, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]*Slot, 0, len(all))
	for _, sl := range all {
		if sl.Bookable(now) {
			out = append(out, sl)
		}
	}
	return out, nil
}
