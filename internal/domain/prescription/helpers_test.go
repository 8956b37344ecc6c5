package prescription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/domain/access"
	"github.com/telecare/telecare/internal/domain/scheduling"
	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/db"
	"github.com/telecare/telecare/internal/platform/notification"
)

type fakeAppointments map[uuid.UUID]*scheduling.Appointment

func (f fakeAppointments) Lookup(_ context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	a, ok := f[id]
	if !ok {
		return nil, apperr.NotFound("appointment %s not found", id)
	}
	return a, nil
}

type harness struct {
	svc        *Service
	repo       Repository
	appts      fakeAppointments
	members    access.FamilyMemberRepository
	events     *notification.Recorder
	now        time.Time
	doctor     auth.Actor
	patient    auth.Actor
	pharmacist auth.Actor
	facilityID uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	facilityID := uuid.New()
	h := &harness{
		repo:       NewRepoMemory(),
		appts:      fakeAppointments{},
		members:    access.NewFamilyMemberRepoMemory(),
		events:     notification.NewRecorder(),
		now:        time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
		doctor:     auth.Actor{UserID: uuid.New(), Roles: []string{auth.RoleDoctor}, DoctorID: uuid.New()},
		patient:    auth.Actor{UserID: uuid.New(), Roles: []string{auth.RolePatient}, PatientID: uuid.New()},
		facilityID: facilityID,
		pharmacist: auth.Actor{UserID: uuid.New(), Roles: []string{auth.RolePharmacist},
			PharmacistID: uuid.New(), FacilityID: facilityID},
	}
	h.svc = NewService(db.NewMemoryTransactor(), h.repo, h.appts, access.NewResolver(h.members),
		WithClock(func() time.Time { return h.now }),
		WithEvents(h.events),
	)
	return h
}

func (h *harness) appointment(status scheduling.Status) *scheduling.Appointment {
	a := &scheduling.Appointment{
		ID:        uuid.New(),
		PatientID: h.patient.PatientID,
		DoctorID:  h.doctor.DoctorID,
		Status:    status,
	}
	h.appts[a.ID] = a
	return a
}

func (h *harness) issueRequest(appointmentID uuid.UUID) IssueRequest {
	return IssueRequest{
		AppointmentID: appointmentID,
		FacilityID:    h.facilityID,
		Items: []ItemRequest{
			{MedicationName: "Amoxicillin", Dosage: "500mg", Frequency: "3x daily", Quantity: 21},
			{MedicationName: "Paracetamol", Dosage: "1g", Quantity: 10, Instructions: "as needed"},
		},
	}
}

func (h *harness) issue(t *testing.T) *Prescription {
	t.Helper()
	a := h.appointment(scheduling.StatusCompleted)
	p, err := h.svc.Issue(context.Background(), h.doctor, h.issueRequest(a.ID))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return p
}

func expectErr(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}
