package scheduling

import (
	"context"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/domain/payment"
	"github.com/telecare/telecare/internal/platform/auth"
)

// PaymentStrategy prices appointments at a flat consultation fee. Only
// virtual consultations are charged, and only while SCHEDULED and unpaid.
type PaymentStrategy struct {
	svc   *Service
	perms payment.Permissions
	fee   payment.Money
}

func NewPaymentStrategy(svc *Service, perms payment.Permissions, fee payment.Money) *PaymentStrategy {
	return &PaymentStrategy{svc: svc, perms: perms, fee: fee}
}

func (p *PaymentStrategy) Kind() payment.Kind { return payment.KindAppointment }

func (p *PaymentStrategy) IsPaymentRequired(ctx context.Context, id uuid.UUID) (bool, error) {
	a, err := p.svc.Lookup(ctx, id)
	if err != nil {
		return false, err
	}
	return a.Mode.RequiresPayment() && a.Status == StatusScheduled && a.PaymentStatus == PaymentPending, nil
}

func (p *PaymentStrategy) IsAuthorizedToPayFor(ctx context.Context, actor auth.Actor, id uuid.UUID) (bool, error) {
	a, err := p.svc.Lookup(ctx, id)
	if err != nil {
		return false, err
	}
	return payment.CanPayFor(ctx, p.perms, actor, a.PatientID)
}

func (p *PaymentStrategy) GetPatientIDForEntity(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	a, err := p.svc.Lookup(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	return a.PatientID, nil
}

func (p *PaymentStrategy) GetExpectedPaymentAmount(ctx context.Context, id uuid.UUID) (payment.Money, error) {
	required, err := p.IsPaymentRequired(ctx, id)
	if err != nil || !required {
		return 0, err
	}
	return p.fee, nil
}

func (p *PaymentStrategy) Settle(ctx context.Context, id uuid.UUID, paymentRef string) error {
	_, err := p.svc.MarkPaid(ctx, id, paymentRef)
	return err
}
