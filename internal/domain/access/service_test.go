package access

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/notification"
)

func newTestService() (*Service, *notification.Recorder) {
	rec := notification.NewRecorder()
	return NewService(NewFamilyMemberRepoMemory(), rec, zerolog.Nop()), rec
}

func patientActor() auth.Actor {
	return auth.Actor{UserID: uuid.New(), Roles: []string{auth.RolePatient}, PatientID: uuid.New()}
}

func TestService_InviteConfirmRevoke(t *testing.T) {
	svc, rec := newTestService()
	ctx := context.Background()
	patient := patientActor()
	relative := auth.Actor{UserID: uuid.New(), Email: "Mum@Example.com", Roles: []string{auth.RoleFamily}}

	m, err := svc.Invite(ctx, patient, patient.PatientID, InviteRequest{
		Email: "mum@example.com", Relationship: "mother",
		Grants: Grants{ViewAppointments: true, ManageAppointments: true},
	})
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if !m.Pending {
		t.Error("new member must be pending")
	}

	ok, _ := svc.Resolver().HasPermission(ctx, relative, patient.PatientID, BookAppointment)
	if ok {
		t.Error("unconfirmed invitation must not grant access")
	}

	if _, err := svc.Confirm(ctx, relative, m.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	ok, _ = svc.Resolver().HasPermission(ctx, relative, patient.PatientID, BookAppointment)
	if !ok {
		t.Error("confirmed member should hold BOOK_APPOINTMENT")
	}

	if _, err := svc.Confirm(ctx, relative, m.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second confirm: expected conflict, got %v", err)
	}

	if err := svc.Revoke(ctx, patient, m.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	ok, _ = svc.Resolver().HasPermission(ctx, relative, patient.PatientID, BookAppointment)
	if ok {
		t.Error("revoked member must lose access")
	}

	want := []string{EventMemberInvited, EventMemberConfirmed, EventMemberRevoked}
	got := rec.Types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestService_InviteValidation(t *testing.T) {
	svc, _ := newTestService()
	patient := patientActor()

	tests := []struct {
		name string
		req  InviteRequest
	}{
		{"missing email", InviteRequest{Relationship: "son"}},
		{"bad email", InviteRequest{Email: "not-an-email", Relationship: "son"}},
		{"missing relationship", InviteRequest{Email: "a@example.com"}},
	}
	for _, tt := range tests {
		_, err := svc.Invite(context.Background(), patient, patient.PatientID, tt.req)
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", tt.name, err)
		}
	}
}

func TestService_InviteDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	patient := patientActor()
	req := InviteRequest{Email: "dad@example.com", Relationship: "father"}

	if _, err := svc.Invite(context.Background(), patient, patient.PatientID, req); err != nil {
		t.Fatal(err)
	}
	req.Email = "DAD@example.com"
	if _, err := svc.Invite(context.Background(), patient, patient.PatientID, req); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestService_OnlyOwnerManages(t *testing.T) {
	svc, _ := newTestService()
	patient := patientActor()
	stranger := patientActor()

	_, err := svc.Invite(context.Background(), stranger, patient.PatientID, InviteRequest{Email: "x@example.com", Relationship: "friend"})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	m, err := svc.Invite(context.Background(), patient, patient.PatientID, InviteRequest{Email: "x@example.com", Relationship: "friend"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateGrants(context.Background(), stranger, m.ID, Grants{ViewBilling: true}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("UpdateGrants: expected forbidden, got %v", err)
	}
	if err := svc.Revoke(context.Background(), stranger, m.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Revoke: expected forbidden, got %v", err)
	}
}

func TestService_PatientCannotConfirmOwnInvitation(t *testing.T) {
	svc, _ := newTestService()
	patient := patientActor()
	m, err := svc.Invite(context.Background(), patient, patient.PatientID, InviteRequest{Email: "x@example.com", Relationship: "self"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Confirm(context.Background(), patient, m.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestService_ConfirmNotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Confirm(context.Background(), auth.Actor{UserID: uuid.New()}, uuid.New())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_ConfirmRequiresInvitedEmail(t *testing.T) {
	svc, rec := newTestService()
	ctx := context.Background()
	patient := patientActor()
	m, err := svc.Invite(ctx, patient, patient.PatientID, InviteRequest{
		Email: "sister@example.com", Relationship: "sister", Grants: Grants{ViewAppointments: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, stranger := range []auth.Actor{
		{UserID: uuid.New(), Roles: []string{auth.RoleFamily}},
		{UserID: uuid.New(), Email: "someone@example.com", Roles: []string{auth.RoleFamily}},
	} {
		if _, err := svc.Confirm(ctx, stranger, m.ID); !errors.Is(err, apperr.ErrForbidden) {
			t.Errorf("confirm as %q: expected forbidden, got %v", stranger.Email, err)
		}
		if ok, _ := svc.Resolver().HasPermission(ctx, stranger, patient.PatientID, ViewAppointment); ok {
			t.Errorf("%q must not gain access", stranger.Email)
		}
	}
	stored, err := svc.members.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Pending || stored.UserID != nil {
		t.Errorf("rejected confirmations must leave the invitation pending, got %+v", stored)
	}
	if got := rec.Types(); len(got) != 1 {
		t.Errorf("expected only the invite event, got %v", got)
	}
}

func TestService_ConcurrentConfirmSingleWinner(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	patient := patientActor()
	m, err := svc.Invite(ctx, patient, patient.PatientID, InviteRequest{Email: "son@example.com", Relationship: "son"})
	if err != nil {
		t.Fatal(err)
	}

	const attempts = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actor := auth.Actor{UserID: uuid.New(), Email: "son@example.com", Roles: []string{auth.RoleFamily}}
			_, err := svc.Confirm(ctx, actor, m.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if winners != 1 || conflicts != attempts-1 {
		t.Errorf("expected 1 winner and %d conflicts, got %d and %d", attempts-1, winners, conflicts)
	}
}
