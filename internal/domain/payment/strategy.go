package payment

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/domain/access"
	"github.com/telecare/telecare/internal/platform/auth"
)

// Kind names a payable entity type.
type Kind string

const (
	KindAppointment Kind = "appointment"
	KindDelivery    Kind = "prescription-delivery"
)

// Strategy answers the payment questions for one entity kind so the
// confirmation flow stays entity-agnostic.
type Strategy interface {
	Kind() Kind
	IsPaymentRequired(ctx context.Context, entityID uuid.UUID) (bool, error)
	IsAuthorizedToPayFor(ctx context.Context, actor auth.Actor, entityID uuid.UUID) (bool, error)
	GetPatientIDForEntity(ctx context.Context, entityID uuid.UUID) (uuid.UUID, error)
	// GetExpectedPaymentAmount is zero when payment is not required.
	GetExpectedPaymentAmount(ctx context.Context, entityID uuid.UUID) (Money, error)
	// Settle applies the paid transition once the processor confirmed the charge.
	Settle(ctx context.Context, entityID uuid.UUID, paymentRef string) error
}

// Registry is the immutable kind → strategy table built at startup.
type Registry struct {
	byKind map[Kind]Strategy
}

// NewRegistry panics on a nil strategy or a duplicate kind.
func NewRegistry(strategies ...Strategy) *Registry {
	byKind := make(map[Kind]Strategy, len(strategies))
	for _, s := range strategies {
		if s == nil {
			panic("payment: nil strategy")
		}
		if _, dup := byKind[s.Kind()]; dup {
			panic(fmt.Sprintf("payment: duplicate strategy for kind %q", s.Kind()))
		}
		byKind[s.Kind()] = s
	}
	return &Registry{byKind: byKind}
}

func (r *Registry) Get(kind Kind) (Strategy, bool) {
	s, ok := r.byKind[kind]
	return s, ok
}

func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Permissions is the resolver view used to authorize payers.
type Permissions interface {
	IsAuthorizedFor(ctx context.Context, actor auth.Actor, patientID uuid.UUID) (bool, error)
	HasPermission(ctx context.Context, actor auth.Actor, patientID uuid.UUID, p access.PermissionType) (bool, error)
}

// CanPayFor requires the patient to be in the actor's authorized set and the
// actor to hold MANAGE_BILLING or BOOK_APPOINTMENT for them.
func CanPayFor(ctx context.Context, perms Permissions, actor auth.Actor, patientID uuid.UUID) (bool, error) {
	ok, err := perms.IsAuthorizedFor(ctx, actor, patientID)
	if err != nil || !ok {
		return false, err
	}
	for _, p := range []access.PermissionType{access.ManageBilling, access.BookAppointment} {
		ok, err := perms.HasPermission(ctx, actor, patientID, p)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
