package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/idempotency"
	"github.com/telecare/telecare/internal/platform/metrics"
)

// DefaultClaimTTL is how long a settled payment reference is remembered.
const DefaultClaimTTL = 7 * 24 * time.Hour

type Quote struct {
	Kind       Kind      `json:"kind"`
	EntityID   uuid.UUID `json:"entity_id"`
	PatientID  uuid.UUID `json:"patient_id"`
	Required   bool      `json:"required"`
	Amount     Money     `json:"amount"`
	Authorized bool      `json:"authorized"`
}

type Receipt struct {
	Kind       Kind      `json:"kind"`
	EntityID   uuid.UUID `json:"entity_id"`
	PatientID  uuid.UUID `json:"patient_id"`
	Amount     Money     `json:"amount"`
	PaymentRef string    `json:"payment_ref"`
	// Duplicate is set when the reference was already settled.
	Duplicate bool `json:"duplicate"`
}

type Service struct {
	registry *Registry
	claims   idempotency.Store
	ttl      time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewService(registry *Registry, claims idempotency.Store, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{registry: registry, claims: claims, ttl: DefaultClaimTTL, metrics: m, logger: logger}
}

func (s *Service) strategy(kind Kind) (Strategy, error) {
	st, ok := s.registry.Get(kind)
	if !ok {
		return nil, apperr.NotFound("unknown payment kind %q", kind)
	}
	return st, nil
}

// Quote reports what the payment processor should charge the actor.
func (s *Service) Quote(ctx context.Context, actor auth.Actor, kind Kind, entityID uuid.UUID) (*Quote, error) {
	st, err := s.strategy(kind)
	if err != nil {
		return nil, err
	}
	patientID, err := st.GetPatientIDForEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	required, err := st.IsPaymentRequired(ctx, entityID)
	if err != nil {
		return nil, err
	}
	q := &Quote{Kind: kind, EntityID: entityID, PatientID: patientID, Required: required}
	if q.Authorized, err = st.IsAuthorizedToPayFor(ctx, actor, entityID); err != nil {
		return nil, err
	}
	if q.Amount, err = st.GetExpectedPaymentAmount(ctx, entityID); err != nil {
		return nil, err
	}
	return q, nil
}

// Confirm is the processor callback after a successful charge. A replayed
// payment reference is reported as a duplicate without settling again.
func (s *Service) Confirm(ctx context.Context, actor auth.Actor, kind Kind, entityID uuid.UUID, amount Money, paymentRef string) (*Receipt, error) {
	if paymentRef == "" {
		return nil, apperr.Validation("payment_ref is required")
	}
	st, err := s.strategy(kind)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("payment:%s:%s", kind, paymentRef)
	required, err := st.IsPaymentRequired(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !required {
		// A settled entity owes nothing, but its own callback may be replayed.
		if dup, err := s.duplicate(ctx, st, kind, entityID, amount, paymentRef, key); dup != nil || err != nil {
			return dup, err
		}
		s.metrics.ObservePayment(string(kind), "not_required")
		return nil, apperr.Conflict("payment is not required for %s %s", kind, entityID)
	}
	ok, err := st.IsAuthorizedToPayFor(ctx, actor, entityID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.ObservePayment(string(kind), "forbidden")
		return nil, apperr.Forbidden("not authorized to pay for %s %s", kind, entityID)
	}
	expected, err := st.GetExpectedPaymentAmount(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if amount != expected {
		s.metrics.ObservePayment(string(kind), "amount_mismatch")
		return nil, apperr.Validation("amount %s does not match expected %s", amount, expected)
	}
	patientID, err := st.GetPatientIDForEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{Kind: kind, EntityID: entityID, PatientID: patientID, Amount: amount, PaymentRef: paymentRef}

	claimed, err := s.claims.Claim(ctx, key, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("claim payment reference: %w", err)
	}
	if !claimed {
		s.metrics.ObservePayment(string(kind), "duplicate")
		receipt.Duplicate = true
		return receipt, nil
	}

	if err := st.Settle(ctx, entityID, paymentRef); err != nil {
		if rerr := s.claims.Release(ctx, key); rerr != nil {
			s.logger.Error().Err(rerr).Str("key", key).Msg("release payment claim failed")
		}
		s.metrics.ObservePayment(string(kind), "settle_failed")
		return nil, err
	}
	s.metrics.ObservePayment(string(kind), "settled")
	s.logger.Info().Str("kind", string(kind)).Str("entity_id", entityID.String()).
		Str("amount", amount.String()).Msg("payment settled")
	return receipt, nil
}

// duplicate returns a Duplicate receipt when key was claimed by an earlier
// confirmation, and nil otherwise.
func (s *Service) duplicate(ctx context.Context, st Strategy, kind Kind, entityID uuid.UUID, amount Money, paymentRef, key string) (*Receipt, error) {
	fresh, err := s.claims.Claim(ctx, key, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("claim payment reference: %w", err)
	}
	if fresh {
		if err := s.claims.Release(ctx, key); err != nil {
			s.logger.Error().Err(err).Str("key", key).Msg("release payment claim failed")
		}
		return nil, nil
	}
	patientID, err := st.GetPatientIDForEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	s.metrics.ObservePayment(string(kind), "duplicate")
	return &Receipt{Kind: kind, EntityID: entityID, PatientID: patientID, Amount: amount, PaymentRef: paymentRef, Duplicate: true}, nil
}
