package fulfillment

import (
	"context"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/domain/payment"
	"github.com/telecare/telecare/internal/platform/auth"
)

// PaymentStrategy charges the delivery fee fixed when the method was chosen.
// Only home deliveries awaiting payment are payable.
type PaymentStrategy struct {
	engine *Engine
	perms  payment.Permissions
}

func NewPaymentStrategy(engine *Engine, perms payment.Permissions) *PaymentStrategy {
	return &PaymentStrategy{engine: engine, perms: perms}
}

func (p *PaymentStrategy) Kind() payment.Kind { return payment.KindDelivery }

func (p *PaymentStrategy) IsPaymentRequired(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := p.engine.Lookup(ctx, id)
	if err != nil {
		return false, err
	}
	return d.Method == MethodHomeDelivery && d.Status == StatusPendingPayment && d.Fee > 0, nil
}

func (p *PaymentStrategy) IsAuthorizedToPayFor(ctx context.Context, actor auth.Actor, id uuid.UUID) (bool, error) {
	d, err := p.engine.Lookup(ctx, id)
	if err != nil {
		return false, err
	}
	return payment.CanPayFor(ctx, p.perms, actor, d.PatientID)
}

func (p *PaymentStrategy) GetPatientIDForEntity(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	d, err := p.engine.Lookup(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	return d.PatientID, nil
}

func (p *PaymentStrategy) GetExpectedPaymentAmount(ctx context.Context, id uuid.UUID) (payment.Money, error) {
	required, err := p.IsPaymentRequired(ctx, id)
	if err != nil || !required {
		return 0, err
	}
	d, err := p.engine.Lookup(ctx, id)
	if err != nil {
		return 0, err
	}
	return d.Fee, nil
}

func (p *PaymentStrategy) Settle(ctx context.Context, id uuid.UUID, paymentRef string) error {
	_, err := p.engine.MarkPaid(ctx, id, paymentRef)
	return err
}
