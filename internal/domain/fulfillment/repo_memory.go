package fulfillment

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
	items map[uuid.UUID]MedicationDelivery
}

func NewRepoMemory() Repository {
	return &repoMemory{items: make(map[uuid.UUID]MedicationDelivery)}
}

func (r *repoMemory) Create(ctx context.Context, d *MedicationDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.PrescriptionID == d.PrescriptionID && existing.Status != StatusCancelled {
			return apperr.Conflict("prescription %s already has an active delivery", d.PrescriptionID)
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	r.items[d.ID] = *d

	id := d.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *repoMemory) GetByID(_ context.Context, id uuid.UUID) (*MedicationDelivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("delivery %s not found", id)
	}
	return &d, nil
}

func (r *repoMemory) GetActiveByPrescription(_ context.Context, prescriptionID uuid.UUID) (*MedicationDelivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.items {
		if d.PrescriptionID == prescriptionID && d.Status != StatusCancelled {
			return &d, nil
		}
	}
	return nil, apperr.NotFound("no active delivery for prescription %s", prescriptionID)
}

func (r *repoMemory) LockPrescription(ctx context.Context, prescriptionID uuid.UUID) error {
	return db.LockKey(ctx, "delivery:"+prescriptionID.String())
}

func (r *repoMemory) Update(ctx context.Context, d *MedicationDelivery, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.items[d.ID]
	if !ok {
		return apperr.NotFound("delivery %s not found", d.ID)
	}
	if prev.Status != from {
		return apperr.Conflict("conflicting update on delivery %s", d.ID)
	}
	d.UpdatedAt = time.Now().UTC()
	r.items[d.ID] = *d

	db.OnRollback(ctx, func() {
		r.mu.Lock()
		r.items[prev.ID] = prev
		r.mu.Unlock()
	})
	return nil
}

func (r *repoMemory) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*MedicationDelivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*MedicationDelivery
	for _, d := range r.items {
		d := d
		if d.PatientID == patientID {
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
