package access

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/platform/apperr"
)

type memberRepoMemory struct {
	mu      sync.RWMutex
	members map[uuid.UUID]FamilyMember
}

func NewFamilyMemberRepoMemory() FamilyMemberRepository {
	return &memberRepoMemory{members: make(map[uuid.UUID]FamilyMember)}
}

func (r *memberRepoMemory) Create(_ context.Context, m *FamilyMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.members {
		if existing.PatientID == m.PatientID && strings.EqualFold(existing.Email, m.Email) {
			return apperr.Conflict("%s is already invited", m.Email)
		}
	}
	m.ID = uuid.New()
	m.CreatedAt = time.Now().UTC()
	m.UpdatedAt = m.CreatedAt
	r.members[m.ID] = *m
	return nil
}

func (r *memberRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*FamilyMember, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	if !ok {
		return nil, apperr.NotFound("family member %s not found", id)
	}
	return &m, nil
}

func (r *memberRepoMemory) Update(_ context.Context, m *FamilyMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[m.ID]; !ok {
		return apperr.NotFound("family member %s not found", m.ID)
	}
	m.UpdatedAt = time.Now().UTC()
	r.members[m.ID] = *m
	return nil
}

func (r *memberRepoMemory) Accept(_ context.Context, m *FamilyMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.members[m.ID]
	if !ok {
		return apperr.NotFound("family member %s not found", m.ID)
	}
	if !stored.Pending {
		return apperr.Conflict("invitation %s is no longer pending", m.ID)
	}
	stored.UserID = m.UserID
	stored.Pending = false
	stored.ConfirmedAt = m.ConfirmedAt
	stored.UpdatedAt = time.Now().UTC()
	r.members[m.ID] = stored
	*m = stored
	return nil
}

func (r *memberRepoMemory) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, id)
	return nil
}

func (r *memberRepoMemory) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*FamilyMember, error) {
	return r.filter(func(m *FamilyMember) bool { return m.PatientID == patientID }), nil
}

func (r *memberRepoMemory) ListByUser(_ context.Context, userID uuid.UUID) ([]*FamilyMember, error) {
	return r.filter(func(m *FamilyMember) bool { return m.BelongsTo(userID) }), nil
}

func (r *memberRepoMemory) filter(keep func(*FamilyMember) bool) []*FamilyMember {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*FamilyMember
	for _, m := range r.members {
		m := m
		if keep(&m) {
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
