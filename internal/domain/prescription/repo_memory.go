package prescription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/db"
)

type repoMemory struct {
	mu    sync.RWMutex
	items map[uuid.UUID]Prescription
}

func NewRepoMemory() Repository {
	return &repoMemory{items: make(map[uuid.UUID]Prescription)}
}

func clone(p Prescription) *Prescription {
	p.Items = append([]Item(nil), p.Items...)
	return &p
}

func (r *repoMemory) Create(ctx context.Context, p *Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.AppointmentID == p.AppointmentID {
			return apperr.Conflict("appointment %s already has a prescription", p.AppointmentID)
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	for i := range p.Items {
		p.Items[i].ID = uuid.New()
		p.Items[i].PrescriptionID = p.ID
		p.Items[i].Position = i + 1
	}
	r.items[p.ID] = *clone(*p)

	id := p.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *repoMemory) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("prescription %s not found", id)
	}
	return clone(p), nil
}

func (r *repoMemory) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.items {
		if p.AppointmentID == appointmentID {
			return clone(p), nil
		}
	}
	return nil, apperr.NotFound("no prescription for appointment %s", appointmentID)
}

func (r *repoMemory) UpdateStatus(ctx context.Context, p *Prescription, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.items[p.ID]
	if !ok {
		return apperr.NotFound("prescription %s not found", p.ID)
	}
	if prev.Status != from {
		return apperr.Conflict("conflicting update on prescription %s", p.ID)
	}
	next := prev
	next.Status = p.Status
	next.CancelReason = p.CancelReason
	next.ClaimedBy = p.ClaimedBy
	next.ReadyAt = p.ReadyAt
	next.UpdatedAt = time.Now().UTC()
	p.UpdatedAt = next.UpdatedAt
	r.items[p.ID] = next

	db.OnRollback(ctx, func() {
		r.mu.Lock()
		r.items[prev.ID] = prev
		r.mu.Unlock()
	})
	return nil
}

func (r *repoMemory) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return r.filter(func(p *Prescription) bool { return p.PatientID == patientID }), nil
}

func (r *repoMemory) ListExpiringBefore(_ context.Context, t time.Time) ([]*Prescription, error) {
	return r.filter(func(p *Prescription) bool {
		return !p.Status.Terminal() && p.ExpiresAt.Before(t)
	}), nil
}

func (r *repoMemory) filter(keep func(*Prescription) bool) []*Prescription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Prescription
	for _, p := range r.items {
		if c := clone(p); keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
