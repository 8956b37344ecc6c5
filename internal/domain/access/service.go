package access

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/notification"
)

const (
	EventMemberInvited   = "family_member.invited"
	EventMemberConfirmed = "family_member.confirmed"
	EventMemberRevoked   = "family_member.revoked"
)

// Service manages FamilyMember invitations and exposes the Resolver.
type Service struct {
	members  FamilyMemberRepository
	resolver *Resolver
	events   notification.Publisher
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(members FamilyMemberRepository, events notification.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		members:  members,
		resolver: NewResolver(members),
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) Resolver() *Resolver { return s.resolver }

type InviteRequest struct {
	Email        string `json:"email"`
	Relationship string `json:"relationship"`
	Grants       Grants `json:"grants"`
}

func (r *InviteRequest) validate() error {
	r.Email = strings.TrimSpace(r.Email)
	r.Relationship = strings.TrimSpace(r.Relationship)
	if r.Email == "" {
		return apperr.Validation("email is required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return apperr.Validation("invalid email: %s", r.Email)
	}
	if r.Relationship == "" {
		return apperr.Validation("relationship is required")
	}
	return nil
}

func requireOwner(actor auth.Actor, patientID uuid.UUID) error {
	if !actor.IsPatient() || actor.PatientID != patientID {
		return apperr.Forbidden("only the patient may manage family access")
	}
	return nil
}

// Invite creates a pending member. It has no effective permissions until confirmed.
func (s *Service) Invite(ctx context.Context, actor auth.Actor, patientID uuid.UUID, req InviteRequest) (*FamilyMember, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := requireOwner(actor, patientID); err != nil {
		return nil, err
	}

	existing, err := s.members.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	for _, m := range existing {
		if strings.EqualFold(m.Email, req.Email) {
			return nil, apperr.Conflict("%s is already invited", req.Email)
		}
	}

	m := &FamilyMember{
		PatientID:    patientID,
		Email:        req.Email,
		Relationship: req.Relationship,
		Pending:      true,
		Grants:       req.Grants,
	}
	if err := s.members.Create(ctx, m); err != nil {
		return nil, err
	}
	s.publish(ctx, EventMemberInvited, m)
	return m, nil
}

// Confirm binds the invitation to the confirming user, who must present the
// invited email address. Only one confirmation of an invitation succeeds.
func (s *Service) Confirm(ctx context.Context, actor auth.Actor, memberID uuid.UUID) (*FamilyMember, error) {
	m, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if !m.Pending {
		return nil, apperr.Conflict("invitation %s is already confirmed", memberID)
	}
	if actor.IsPatient() && actor.PatientID == m.PatientID {
		return nil, apperr.Validation("a patient cannot accept their own invitation")
	}
	if actor.Email == "" || !strings.EqualFold(actor.Email, m.Email) {
		return nil, apperr.Forbidden("invitation %s was issued to another address", memberID)
	}

	held, err := s.members.ListByUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	for _, h := range held {
		if h.PatientID == m.PatientID {
			return nil, apperr.Conflict("user already has access to patient %s", m.PatientID)
		}
	}

	now := s.now().UTC()
	userID := actor.UserID
	m.UserID = &userID
	m.ConfirmedAt = &now
	if err := s.members.Accept(ctx, m); err != nil {
		return nil, err
	}
	s.publish(ctx, EventMemberConfirmed, m)
	return m, nil
}

func (s *Service) UpdateGrants(ctx context.Context, actor auth.Actor, memberID uuid.UUID, grants Grants) (*FamilyMember, error) {
	m, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(actor, m.PatientID); err != nil {
		return nil, err
	}
	m.Grants = grants
	if err := s.members.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Revoke deletes the relation. Past appointments and prescriptions are untouched.
func (s *Service) Revoke(ctx context.Context, actor auth.Actor, memberID uuid.UUID) error {
	m, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return err
	}
	if err := requireOwner(actor, m.PatientID); err != nil {
		return err
	}
	if err := s.members.Delete(ctx, memberID); err != nil {
		return err
	}
	s.publish(ctx, EventMemberRevoked, m)
	return nil
}

func (s *Service) ListForPatient(ctx context.Context, actor auth.Actor, patientID uuid.UUID) ([]*FamilyMember, error) {
	if err := requireOwner(actor, patientID); err != nil {
		return nil, err
	}
	return s.members.ListByPatient(ctx, patientID)
}

func (s *Service) publish(ctx context.Context, eventType string, m *FamilyMember) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, notification.NewEvent(eventType, "family_member", m.ID, m.PatientID, *m))
}
