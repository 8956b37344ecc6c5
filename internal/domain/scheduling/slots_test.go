package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
)

func TestCreateSlot_Validation(t *testing.T) {
	h := newHarness(t)
	start := at(9, 0)

	tests := []struct {
		name string
		req  SlotRequest
	}{
		{"start in the past", SlotRequest{StartTime: h.now.Add(-time.Hour), EndTime: h.now.Add(-30 * time.Minute), DurationMinutes: 30, Mode: ModeVirtual}},
		{"end before start", SlotRequest{StartTime: start, EndTime: start.Add(-time.Minute), DurationMinutes: 30, Mode: ModeVirtual}},
		{"end equals start", SlotRequest{StartTime: start, EndTime: start, DurationMinutes: 0, Mode: ModeVirtual}},
		{"duration mismatch", SlotRequest{StartTime: start, EndTime: start.Add(30 * time.Minute), DurationMinutes: 45, Mode: ModeVirtual}},
		{"too short", SlotRequest{StartTime: start, EndTime: start.Add(10 * time.Minute), DurationMinutes: 10, Mode: ModeVirtual}},
		{"too long", SlotRequest{StartTime: start, EndTime: start.Add(241 * time.Minute), DurationMinutes: 241, Mode: ModeVirtual}},
		{"unknown mode", SlotRequest{StartTime: start, EndTime: start.Add(30 * time.Minute), DurationMinutes: 30, Mode: "PHONE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateSlot(context.Background(), h.doctor, tt.req)
			expectErr(t, err, apperr.ErrValidation)
		})
	}
}

func TestCreateSlot_Bounds(t *testing.T) {
	h := newHarness(t)
	h.slot(t, at(8, 0), 15, ModeInPerson)
	h.slot(t, at(9, 0), 240, ModeInPerson)
}

func TestCreateSlot_RequiresDoctor(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CreateSlot(context.Background(), h.patient, SlotRequest{
		StartTime: at(9, 0), EndTime: at(9, 30), DurationMinutes: 30, Mode: ModeVirtual,
	})
	expectErr(t, err, apperr.ErrForbidden)
}

func TestCreateSlot_Overlap(t *testing.T) {
	h := newHarness(t)
	h.slot(t, at(10, 15), 30, ModeInPerson)

	_, err := h.svc.CreateSlot(context.Background(), h.doctor, SlotRequest{
		StartTime: at(10, 0), EndTime: at(10, 30), DurationMinutes: 30, Mode: ModeInPerson,
	})
	expectErr(t, err, apperr.ErrConflict)

	// touching intervals do not overlap
	h.slot(t, at(10, 45), 15, ModeInPerson)
	h.slot(t, at(9, 45), 30, ModeInPerson)
}

func TestCreateSlot_OverlapAdjacentSucceeds(t *testing.T) {
	h := newHarness(t)
	h.slot(t, at(10, 0), 30, ModeInPerson)
	h.slot(t, at(10, 30), 30, ModeInPerson)
}

func TestCreateSlot_OtherDoctorMayOverlap(t *testing.T) {
	h := newHarness(t)
	h.slot(t, at(10, 0), 30, ModeInPerson)

	other := auth.Actor{UserID: uuid.New(), Roles: []string{auth.RoleDoctor}, DoctorID: uuid.New()}
	if _, err := h.svc.CreateSlot(context.Background(), other, SlotRequest{
		StartTime: at(10, 0), EndTime: at(10, 30), DurationMinutes: 30, Mode: ModeInPerson,
	}); err != nil {
		t.Fatalf("expected other doctor's slot to be accepted, got %v", err)
	}
}

func TestCreateSlot_ConcurrentOverlapSerialized(t *testing.T) {
	h := newHarness(t)
	const n = 10

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.CreateSlot(context.Background(), h.doctor, SlotRequest{
				StartTime: at(14, 0), EndTime: at(14, 30), DurationMinutes: 30, Mode: ModeVirtual,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
		} else if !errors.Is(err, apperr.ErrConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("expected exactly one slot, got %d", created)
	}
}

func TestBookSlot_NoDoubleBooking(t *testing.T) {
	h := newHarness(t)
	sl := h.slot(t, at(9, 0), 30, ModeInPerson)
	const n = 25

	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := newPatient()
			<-start
			_, err := h.svc.Book(context.Background(), p, BookRequest{
				PatientID: p.PatientID, DoctorID: sl.DoctorID, SlotID: sl.ID, Mode: sl.Mode,
			})
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	ok, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != n-1 {
		t.Errorf("expected 1 success and %d conflicts, got %d and %d", n-1, ok, conflicts)
	}
	if !h.storedSlot(t, sl.ID).IsBooked {
		t.Error("slot should be booked")
	}
}

func TestBookSlot_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	disabled := h.slot(t, at(9, 0), 30, ModeInPerson)
	if _, err := h.svc.DisableSlot(ctx, h.doctor, disabled.ID); err != nil {
		t.Fatal(err)
	}
	_, err := h.svc.BookSlot(ctx, disabled.ID)
	expectErr(t, err, apperr.ErrConflict)

	started := h.slot(t, at(10, 0), 30, ModeInPerson)
	h.now = at(10, 5)
	_, err = h.svc.BookSlot(ctx, started.ID)
	expectErr(t, err, apperr.ErrConflict)

	_, err = h.svc.BookSlot(ctx, uuid.New())
	expectErr(t, err, apperr.ErrNotFound)
}

func TestReleaseSlot(t *testing.T) {
	h := newHarness(t)
	sl := h.slot(t, at(9, 0), 30, ModeInPerson)
	if _, err := h.svc.BookSlot(context.Background(), sl.ID); err != nil {
		t.Fatal(err)
	}
	released, err := h.svc.ReleaseSlot(context.Background(), sl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if released.IsBooked || !released.IsAvailable {
		t.Errorf("expected released slot to be available, got %+v", released)
	}
}

func TestMutateBookedSlotConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sl := h.slot(t, at(9, 0), 30, ModeInPerson)
	if _, err := h.svc.BookSlot(ctx, sl.ID); err != nil {
		t.Fatal(err)
	}

	_, err := h.svc.DisableSlot(ctx, h.doctor, sl.ID)
	expectErr(t, err, apperr.ErrConflict)
	_, err = h.svc.EnableSlot(ctx, h.doctor, sl.ID)
	expectErr(t, err, apperr.ErrConflict)
	_, err = h.svc.UpdateSlot(ctx, h.doctor, sl.ID, SlotRequest{
		StartTime: at(11, 0), EndTime: at(11, 30), DurationMinutes: 30, Mode: ModeInPerson,
	})
	expectErr(t, err, apperr.ErrConflict)
}

func TestUpdateSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sl := h.slot(t, at(9, 0), 30, ModeInPerson)
	h.slot(t, at(11, 0), 30, ModeInPerson)

	// shifting within its own interval does not overlap itself
	updated, err := h.svc.UpdateSlot(ctx, h.doctor, sl.ID, SlotRequest{
		StartTime: at(9, 15), EndTime: at(9, 45), DurationMinutes: 30, Mode: ModeVirtual,
	})
	if err != nil {
		t.Fatalf("UpdateSlot: %v", err)
	}
	if !updated.StartTime.Equal(at(9, 15)) || updated.Mode != ModeVirtual {
		t.Errorf("unexpected slot %+v", updated)
	}

	_, err = h.svc.UpdateSlot(ctx, h.doctor, sl.ID, SlotRequest{
		StartTime: at(10, 45), EndTime: at(11, 15), DurationMinutes: 30, Mode: ModeVirtual,
	})
	expectErr(t, err, apperr.ErrConflict)

	other := auth.Actor{UserID: uuid.New(), DoctorID: uuid.New()}
	_, err = h.svc.UpdateSlot(ctx, other, sl.ID, SlotRequest{
		StartTime: at(15, 0), EndTime: at(15, 30), DurationMinutes: 30, Mode: ModeVirtual,
	})
	expectErr(t, err, apperr.ErrForbidden)
}

func TestListAvailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booked := h.slot(t, at(9, 0), 30, ModeInPerson)
	disabled := h.slot(t, at(10, 0), 30, ModeInPerson)
	open := h.slot(t, at(11, 0), 30, ModeInPerson)

	if _, err := h.svc.BookSlot(ctx, booked.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.DisableSlot(ctx, h.doctor, disabled.ID); err != nil {
		t.Fatal(err)
	}

	all, err := h.svc.ListDoctorSlots(ctx, h.doctor.DoctorID, at(0, 0), at(23, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(all))
	}

	avail, err := h.svc.ListAvailable(ctx, h.doctor.DoctorID, at(0, 0), at(23, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(avail) != 1 || avail[0].ID != open.ID {
		t.Errorf("expected only the open slot, got %v", avail)
	}

	_, err = h.svc.ListDoctorSlots(ctx, h.doctor.DoctorID, at(12, 0), at(11, 0))
	expectErr(t, err, apperr.ErrValidation)
}
