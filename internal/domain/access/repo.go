package access

import (
	"context"

	"github.com/google/uuid"
)

type FamilyMemberRepository interface {
	Create(ctx context.Context, m *FamilyMember) error
	// GetByID returns apperr.ErrNotFound when the member does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*FamilyMember, error)
	Update(ctx context.Context, m *FamilyMember) error
	// Accept binds a pending member to m.UserID. It returns apperr.ErrConflict
	// when the member is no longer pending.
	Accept(ctx context.Context, m *FamilyMember) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*FamilyMember, error)
	// ListByUser returns the confirmed relations held by userID.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*FamilyMember, error)
}
