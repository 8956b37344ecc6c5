package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/access"
	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/idempotency"
)

type fakeStrategy struct {
	kind      Kind
	required  bool
	allowed   bool
	amount    Money
	patientID uuid.UUID
	settleErr error
	settled   []string
}

func (f *fakeStrategy) Kind() Kind { return f.kind }

func (f *fakeStrategy) IsPaymentRequired(context.Context, uuid.UUID) (bool, error) {
	return f.required, nil
}

func (f *fakeStrategy) IsAuthorizedToPayFor(context.Context, auth.Actor, uuid.UUID) (bool, error) {
	return f.allowed, nil
}

func (f *fakeStrategy) GetPatientIDForEntity(context.Context, uuid.UUID) (uuid.UUID, error) {
	return f.patientID, nil
}

func (f *fakeStrategy) GetExpectedPaymentAmount(context.Context, uuid.UUID) (Money, error) {
	if !f.required {
		return 0, nil
	}
	return f.amount, nil
}

func (f *fakeStrategy) Settle(_ context.Context, _ uuid.UUID, ref string) error {
	if f.settleErr != nil {
		return f.settleErr
	}
	f.settled = append(f.settled, ref)
	return nil
}

func newPaymentService(st *fakeStrategy) *Service {
	return NewService(NewRegistry(st), idempotency.NewMemoryStore(), nil, zerolog.Nop())
}

func TestRegistry_DuplicateKindPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate kind")
		}
	}()
	NewRegistry(&fakeStrategy{kind: KindAppointment}, &fakeStrategy{kind: KindAppointment})
}

func TestRegistry_Kinds(t *testing.T) {
	r := NewRegistry(&fakeStrategy{kind: KindDelivery}, &fakeStrategy{kind: KindAppointment})
	kinds := r.Kinds()
	if len(kinds) != 2 || kinds[0] != KindAppointment || kinds[1] != KindDelivery {
		t.Errorf("unexpected kinds %v", kinds)
	}
	if _, ok := r.Get("gift-card"); ok {
		t.Error("unknown kind must not resolve")
	}
}

func TestConfirm_SettlesOnce(t *testing.T) {
	st := &fakeStrategy{kind: KindDelivery, required: true, allowed: true, amount: 1000}
	svc := newPaymentService(st)
	ctx := context.Background()
	id := uuid.New()

	r, err := svc.Confirm(ctx, auth.Actor{}, KindDelivery, id, 1000, "ch_1")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if r.Duplicate {
		t.Error("first confirmation is not a duplicate")
	}

	r, err = svc.Confirm(ctx, auth.Actor{}, KindDelivery, id, 1000, "ch_1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !r.Duplicate {
		t.Error("replayed reference should be reported as duplicate")
	}
	if len(st.settled) != 1 {
		t.Errorf("expected one settlement, got %d", len(st.settled))
	}
}

func TestConfirm_Rejections(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		st     *fakeStrategy
		kind   Kind
		amount Money
		ref    string
		want   error
	}{
		{"unknown kind", &fakeStrategy{kind: KindDelivery}, "gift-card", 0, "r", apperr.ErrNotFound},
		{"missing ref", &fakeStrategy{kind: KindDelivery, required: true, allowed: true}, KindDelivery, 0, "", apperr.ErrValidation},
		{"not required", &fakeStrategy{kind: KindDelivery, allowed: true}, KindDelivery, 0, "r", apperr.ErrConflict},
		{"not authorized", &fakeStrategy{kind: KindDelivery, required: true, amount: 1000}, KindDelivery, 1000, "r", apperr.ErrForbidden},
		{"wrong amount", &fakeStrategy{kind: KindDelivery, required: true, allowed: true, amount: 1000}, KindDelivery, 999, "r", apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newPaymentService(tt.st).Confirm(ctx, auth.Actor{}, tt.kind, uuid.New(), tt.amount, tt.ref)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if len(tt.st.settled) != 0 {
				t.Error("rejected confirmation must not settle")
			}
		})
	}
}

func TestConfirm_SettleFailureReleasesClaim(t *testing.T) {
	st := &fakeStrategy{kind: KindAppointment, required: true, allowed: true, amount: 5000,
		settleErr: apperr.Conflict("appointment is cancelled")}
	svc := newPaymentService(st)
	ctx := context.Background()
	id := uuid.New()

	_, err := svc.Confirm(ctx, auth.Actor{}, KindAppointment, id, 5000, "ch_9")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected settle error, got %v", err)
	}

	st.settleErr = nil
	r, err := svc.Confirm(ctx, auth.Actor{}, KindAppointment, id, 5000, "ch_9")
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if r.Duplicate || len(st.settled) != 1 {
		t.Errorf("retry should settle, got %+v settled=%v", r, st.settled)
	}
}

func TestQuote(t *testing.T) {
	patientID := uuid.New()
	st := &fakeStrategy{kind: KindAppointment, required: true, allowed: true, amount: 5000, patientID: patientID}
	q, err := newPaymentService(st).Quote(context.Background(), auth.Actor{}, KindAppointment, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if !q.Required || !q.Authorized || q.Amount != 5000 || q.PatientID != patientID {
		t.Errorf("unexpected quote %+v", q)
	}
}

func TestCanPayFor(t *testing.T) {
	ctx := context.Background()
	members := access.NewFamilyMemberRepoMemory()
	resolver := access.NewResolver(members)
	patientID := uuid.New()

	self := auth.Actor{UserID: uuid.New(), PatientID: patientID}
	if ok, _ := CanPayFor(ctx, resolver, self, patientID); !ok {
		t.Error("patient may pay for themselves")
	}

	viewer := auth.Actor{UserID: uuid.New()}
	payer := auth.Actor{UserID: uuid.New()}
	for _, m := range []struct {
		actor  auth.Actor
		grants access.Grants
	}{
		{viewer, access.Grants{ViewBilling: true}},
		{payer, access.Grants{ManageBilling: true}},
	} {
		uid := m.actor.UserID
		if err := members.Create(ctx, &access.FamilyMember{
			PatientID: patientID, UserID: &uid, Email: uid.String() + "@example.com",
			Relationship: "spouse", Grants: m.grants,
		}); err != nil {
			t.Fatal(err)
		}
	}

	if ok, _ := CanPayFor(ctx, resolver, viewer, patientID); ok {
		t.Error("view-billing alone must not allow payment")
	}
	if ok, _ := CanPayFor(ctx, resolver, payer, patientID); !ok {
		t.Error("manage-billing should allow payment")
	}
	if ok, _ := CanPayFor(ctx, resolver, payer, uuid.New()); ok {
		t.Error("payment for an unrelated patient must be denied")
	}
}
