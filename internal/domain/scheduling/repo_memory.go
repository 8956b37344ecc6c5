package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/db"
)

// In-memory repositories take their row locks through db.LockKey and
// register undo steps with db.OnRollback, so they must be driven by a
// db.MemoryTransactor.

type slotRepoMemory struct {
	mu    sync.RWMutex
	slots map[uuid.UUID]Slot
}

func NewSlotRepoMemory() SlotRepository {
	return &slotRepoMemory{slots: make(map[uuid.UUID]Slot)}
}

func (r *slotRepoMemory) Create(ctx context.Context, s *Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	r.slots[s.ID] = *s

	id := s.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.slots, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *slotRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, apperr.NotFound("slot %s not found", id)
	}
	return &s, nil
}

func (r *slotRepoMemory) GetForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	if err := db.LockKey(ctx, "slot:"+id.String()); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *slotRepoMemory) Update(ctx context.Context, s *Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.slots[s.ID]
	if !ok {
		return apperr.NotFound("slot %s not found", s.ID)
	}
	s.UpdatedAt = time.Now().UTC()
	r.slots[s.ID] = *s

	db.OnRollback(ctx, func() {
		r.mu.Lock()
		r.slots[prev.ID] = prev
		r.mu.Unlock()
	})
	return nil
}

func (r *slotRepoMemory) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	return db.LockKey(ctx, "doctor:"+doctorID.String())
}

func (r *slotRepoMemory) ListByDoctor(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Slot
	for _, s := range r.slots {
		s := s
		if s.DoctorID == doctorID && s.Overlaps(from, to) {
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

type appointmentRepoMemory struct {
	mu    sync.RWMutex
	appts map[uuid.UUID]Appointment
}

func NewAppointmentRepoMemory() AppointmentRepository {
	return &appointmentRepoMemory{appts: make(map[uuid.UUID]Appointment)}
}

func (r *appointmentRepoMemory) Create(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	r.appts[a.ID] = *a

	id := a.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.appts, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *appointmentRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, apperr.NotFound("appointment %s not found", id)
	}
	return &a, nil
}

func (r *appointmentRepoMemory) Update(ctx context.Context, a *Appointment, from State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.appts[a.ID]
	if !ok {
		return apperr.NotFound("appointment %s not found", a.ID)
	}
	if prev.State() != from {
		return apperr.Conflict("conflicting update on appointment %s", a.ID)
	}
	a.UpdatedAt = time.Now().UTC()
	r.appts[a.ID] = *a

	db.OnRollback(ctx, func() {
		r.mu.Lock()
		r.appts[prev.ID] = prev
		r.mu.Unlock()
	})
	return nil
}

func (r *appointmentRepoMemory) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	return r.filter(func(a *Appointment) bool { return a.PatientID == patientID }), nil
}

func (r *appointmentRepoMemory) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*Appointment, error) {
	return r.filter(func(a *Appointment) bool { return a.DoctorID == doctorID }), nil
}

func (r *appointmentRepoMemory) filter(keep func(*Appointment) bool) []*Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Appointment
	for _, a := range r.appts {
		a := a
		if keep(&a) {
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}
