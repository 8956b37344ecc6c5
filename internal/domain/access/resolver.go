package access

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
)

// Resolver answers who may act for which patient. Missing or pending
// relations yield false, never an error; errors are infrastructure failures.
type Resolver struct {
	members FamilyMemberRepository
}

func NewResolver(members FamilyMemberRepository) *Resolver {
	return &Resolver{members: members}
}

// HasPermission is always true when the actor is the patient.
func (r *Resolver) HasPermission(ctx context.Context, actor auth.Actor, patientID uuid.UUID, p PermissionType) (bool, error) {
	if actor.IsPatient() && actor.PatientID == patientID {
		return true, nil
	}
	relations, err := r.members.ListByUser(ctx, actor.UserID)
	if err != nil {
		return false, fmt.Errorf("list family relations: %w", err)
	}
	for _, m := range relations {
		if m.PatientID == patientID && m.BelongsTo(actor.UserID) && m.Permits(p) {
			return true, nil
		}
	}
	return false, nil
}

// AuthorizedPatientIDs is the actor's own patient id plus every patient it
// holds a confirmed relation to, regardless of grants.
func (r *Resolver) AuthorizedPatientIDs(ctx context.Context, actor auth.Actor) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	if actor.IsPatient() {
		seen[actor.PatientID] = true
		ids = append(ids, actor.PatientID)
	}
	relations, err := r.members.ListByUser(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("list family relations: %w", err)
	}
	for _, m := range relations {
		if m.BelongsTo(actor.UserID) && !seen[m.PatientID] {
			seen[m.PatientID] = true
			ids = append(ids, m.PatientID)
		}
	}
	return ids, nil
}

// IsAuthorizedFor is the containment check over AuthorizedPatientIDs.
func (r *Resolver) IsAuthorizedFor(ctx context.Context, actor auth.Actor, patientID uuid.UUID) (bool, error) {
	ids, err := r.AuthorizedPatientIDs(ctx, actor)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == patientID {
			return true, nil
		}
	}
	return false, nil
}

// Require turns a negative HasPermission into apperr.ErrForbidden.
func (r *Resolver) Require(ctx context.Context, actor auth.Actor, patientID uuid.UUID, p PermissionType) error {
	ok, err := r.HasPermission(ctx, actor, patientID, p)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("not permitted to %s for patient %s", p, patientID)
	}
	return nil
}

// RequireAny passes when any of perms is held for the patient.
func (r *Resolver) RequireAny(ctx context.Context, actor auth.Actor, patientID uuid.UUID, perms ...PermissionType) error {
	for _, p := range perms {
		ok, err := r.HasPermission(ctx, actor, patientID, p)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return apperr.Forbidden("not permitted to act for patient %s", patientID)
}
