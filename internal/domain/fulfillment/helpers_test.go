package fulfillment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/domain/access"
	"github.com/telecare/telecare/internal/domain/prescription"
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
	engine     *Engine
	repo       Repository
	rx         *prescription.Service
	rxRepo     prescription.Repository
	appts      fakeAppointments
	members    access.FamilyMemberRepository
	resolver   *access.Resolver
	events     *notification.Recorder
	rxEvents   *notification.Recorder
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
		rxRepo:     prescription.NewRepoMemory(),
		appts:      fakeAppointments{},
		members:    access.NewFamilyMemberRepoMemory(),
		events:     notification.NewRecorder(),
		rxEvents:   notification.NewRecorder(),
		now:        time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
		doctor:     auth.Actor{UserID: uuid.New(), Roles: []string{auth.RoleDoctor}, DoctorID: uuid.New()},
		patient:    auth.Actor{UserID: uuid.New(), Roles: []string{auth.RolePatient}, PatientID: uuid.New()},
		facilityID: facilityID,
		pharmacist: auth.Actor{UserID: uuid.New(), Roles: []string{auth.RolePharmacist},
			PharmacistID: uuid.New(), FacilityID: facilityID},
	}
	h.resolver = access.NewResolver(h.members)
	clock := func() time.Time { return h.now }
	tx := db.NewMemoryTransactor()
	h.rx = prescription.NewService(tx, h.rxRepo, h.appts, h.resolver, prescription.WithClock(clock),
		prescription.WithEvents(h.rxEvents),
	)
	h.engine = NewEngine(tx, h.repo, h.rx, h.resolver, NewStrategies(DefaultFees()),
		WithClock(clock),
		WithEvents(h.events),
	)
	return h
}

func (h *harness) issue(t *testing.T) *prescription.Prescription {
	t.Helper()
	a := &scheduling.Appointment{
		ID:        uuid.New(),
		PatientID: h.patient.PatientID,
		DoctorID:  h.doctor.DoctorID,
		Status:    scheduling.StatusCompleted,
	}
	h.appts[a.ID] = a
	p, err := h.rx.Issue(context.Background(), h.doctor, prescription.IssueRequest{
		AppointmentID: a.ID,
		FacilityID:    h.facilityID,
		Items:         []prescription.ItemRequest{{MedicationName: "Metformin", Dosage: "500mg", Quantity: 60}},
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return p
}

func (h *harness) rxStatus(t *testing.T, id uuid.UUID) prescription.Status {
	t.Helper()
	p, err := h.rxRepo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return p.Status
}

func homeAddress() *Address {
	return &Address{Line1: "12 Jalan Ampang", City: "Kuala Lumpur", PostalCode: "50450", Country: "MY"}
}

func expectErr(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

func expectStatus(t *testing.T, d *MedicationDelivery, want Status) {
	t.Helper()
	if d.Status != want {
		t.Fatalf("expected delivery %s, got %s", want, d.Status)
	}
}
