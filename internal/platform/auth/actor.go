package auth

import (
	"context"

	"github.com/google/uuid"
)

const (
	RolePatient    = "patient"
	RoleFamily     = "family"
	RoleDoctor     = "doctor"
	RolePharmacist = "pharmacist"
	RoleAdmin      = "admin"
)

// Actor is the authenticated caller. Profile ids are uuid.Nil when the user
// does not hold that profile. A user may be a patient and also a family
// member of other patients; family relations are keyed by UserID.
type Actor struct {
	UserID       uuid.UUID `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	Roles        []string  `json:"roles"`
	PatientID    uuid.UUID `json:"patient_id,omitempty"`
	DoctorID     uuid.UUID `json:"doctor_id,omitempty"`
	PharmacistID uuid.UUID `json:"pharmacist_id,omitempty"`
	FacilityID   uuid.UUID `json:"facility_id,omitempty"`
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether a holds one of roles. Admins hold every role.
func (a Actor) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if a.HasRole(r) {
			return true
		}
	}
	return a.HasRole(RoleAdmin)
}

func (a Actor) IsPatient() bool    { return a.PatientID != uuid.Nil }
func (a Actor) IsDoctor() bool     { return a.DoctorID != uuid.Nil }
func (a Actor) IsPharmacist() bool { return a.PharmacistID != uuid.Nil }

const ActorKey contextKey = "actor"

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ActorKey, a)
}

// ActorFromContext returns the actor set by the auth middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ActorKey).(Actor)
	return a, ok
}
