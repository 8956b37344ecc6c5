package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/domain/access"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/db"
	"github.com/telecare/telecare/internal/platform/notification"
	"github.com/telecare/telecare/internal/platform/video"
)

type harness struct {
	svc     *Service
	slots   SlotRepository
	appts   AppointmentRepository
	members access.FamilyMemberRepository
	events  *notification.Recorder
	video   *video.MemorySessions
	now     time.Time
	doctor  auth.Actor
	patient auth.Actor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		slots:   NewSlotRepoMemory(),
		appts:   NewAppointmentRepoMemory(),
		members: access.NewFamilyMemberRepoMemory(),
		events:  notification.NewRecorder(),
		video:   video.NewMemorySessions(),
		now:     time.Date(2024, 1, 9, 12, 0, 0, 0, time.UTC),
		doctor:  auth.Actor{UserID: uuid.New(), Roles: []string{auth.RoleDoctor}, DoctorID: uuid.New()},
		patient: newPatient(),
	}
	h.svc = h.build(h.appts)
	return h
}

func (h *harness) build(appts AppointmentRepository) *Service {
	return NewService(db.NewMemoryTransactor(), h.slots, appts, access.NewResolver(h.members), DefaultConfig(),
		WithClock(func() time.Time { return h.now }),
		WithEvents(h.events),
		WithVideo(h.video),
	)
}

func newPatient() auth.Actor {
	return auth.Actor{UserID: uuid.New(), Roles: []string{auth.RolePatient}, PatientID: uuid.New()}
}

func at(hour, min int) time.Time {
	return time.Date(2024, 1, 10, hour, min, 0, 0, time.UTC)
}

func (h *harness) slot(t *testing.T, start time.Time, minutes int, mode Mode) *Slot {
	t.Helper()
	sl, err := h.svc.CreateSlot(context.Background(), h.doctor, SlotRequest{
		StartTime:       start,
		EndTime:         start.Add(time.Duration(minutes) * time.Minute),
		DurationMinutes: minutes,
		Mode:            mode,
	})
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	return sl
}

func (h *harness) book(t *testing.T, sl *Slot) *Appointment {
	t.Helper()
	appt, err := h.svc.Book(context.Background(), h.patient, BookRequest{
		PatientID: h.patient.PatientID, DoctorID: sl.DoctorID, SlotID: sl.ID, Mode: sl.Mode,
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	return appt
}

func (h *harness) storedSlot(t *testing.T, id uuid.UUID) *Slot {
	t.Helper()
	sl, err := h.slots.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return sl
}

func expectErr(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}
