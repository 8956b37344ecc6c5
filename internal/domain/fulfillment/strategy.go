package fulfillment

import (
	"strings"
	"time"

	"github.com/telecare/telecare/internal/domain/payment"
	"github.com/telecare/telecare/internal/domain/prescription"
	"github.com/telecare/telecare/internal/platform/apperr"
)

// InitOptions carries what the patient supplied when choosing a method.
type InitOptions struct {
	Address      *Address
	ContactPhone string
	Instructions string
}

// Strategy is the method-specific delivery state machine. Implementations
// only mutate the delivery in memory; the engine persists the result.
type Strategy interface {
	Method() Method
	Initialize(rx *prescription.Prescription, opts InitOptions) (*MedicationDelivery, error)
	CanProcess(d *MedicationDelivery) bool
	Process(d *MedicationDelivery, rx *prescription.Prescription) error
	Complete(d *MedicationDelivery, at time.Time) error
	Cancel(d *MedicationDelivery, reason string) error
}

// Shipper is implemented by strategies that hand deliveries to a courier.
type Shipper interface {
	MarkOutForDelivery(d *MedicationDelivery, courier, tracking, contactPhone string) error
}

// Payable is implemented by strategies that collect a fee before processing.
type Payable interface {
	MarkPaid(d *MedicationDelivery, paymentRef string) error
}

type Fees struct {
	Pickup       payment.Money
	HomeDelivery payment.Money
}

func DefaultFees() Fees {
	return Fees{Pickup: 0, HomeDelivery: 1000}
}

// Strategies is the immutable method table built once at startup.
type Strategies struct {
	byMethod map[Method]Strategy
}

func NewStrategies(fees Fees) Strategies {
	return Strategies{byMethod: map[Method]Strategy{
		MethodPickup:       pickupStrategy{fee: fees.Pickup},
		MethodHomeDelivery: homeDeliveryStrategy{fee: fees.HomeDelivery},
	}}
}

func (s Strategies) For(m Method) (Strategy, error) {
	st, ok := s.byMethod[m]
	if !ok {
		return nil, apperr.Validation("unsupported delivery method %q", m)
	}
	return st, nil
}

func newDelivery(rx *prescription.Prescription, m Method, status Status, fee payment.Money, instructions string) *MedicationDelivery {
	return &MedicationDelivery{
		PrescriptionID: rx.ID,
		PatientID:      rx.PatientID,
		FacilityID:     rx.FacilityID,
		Method:         m,
		Status:         status,
		Fee:            fee,
		Instructions:   instructions,
	}
}

func invalid(d *MedicationDelivery, to Status) error {
	return apperr.InvalidTransition("delivery", string(d.Status), string(to))
}

func cancel(d *MedicationDelivery, reason string) error {
	if d.Status.Terminal() {
		return invalid(d, StatusCancelled)
	}
	d.Status = StatusCancelled
	d.CancelReason = strPtr(strings.TrimSpace(reason))
	return nil
}

func complete(d *MedicationDelivery, from Status, at time.Time) error {
	if d.Status != from {
		return invalid(d, StatusDelivered)
	}
	at = at.UTC()
	d.Status = StatusDelivered
	d.ActualDeliveryAt = &at
	return nil
}

// -- Pickup --

type pickupStrategy struct {
	fee payment.Money
}

func (pickupStrategy) Method() Method { return MethodPickup }

func (p pickupStrategy) Initialize(rx *prescription.Prescription, opts InitOptions) (*MedicationDelivery, error) {
	instructions := opts.Instructions
	if instructions == "" {
		instructions = "Collect at the pharmacy counter and quote prescription " + rx.ID.String() + "."
	}
	return newDelivery(rx, MethodPickup, StatusPendingPickup, p.fee, instructions), nil
}

func (pickupStrategy) CanProcess(d *MedicationDelivery) bool {
	return d.Status == StatusPendingPickup || d.Status == StatusPreparing
}

// Process moves PENDING_PICKUP to PREPARING, then PREPARING to
// READY_FOR_PICKUP once the prescription is READY.
func (p pickupStrategy) Process(d *MedicationDelivery, rx *prescription.Prescription) error {
	switch d.Status {
	case StatusPendingPickup:
		d.Status = StatusPreparing
	case StatusPreparing:
		if rx.Status != prescription.StatusReady {
			return apperr.Conflict("prescription %s is %s, not READY", rx.ID, rx.Status)
		}
		d.Status = StatusReadyForPickup
	default:
		return invalid(d, StatusPreparing)
	}
	return nil
}

func (pickupStrategy) Complete(d *MedicationDelivery, at time.Time) error {
	return complete(d, StatusReadyForPickup, at)
}

func (pickupStrategy) Cancel(d *MedicationDelivery, reason string) error {
	return cancel(d, reason)
}

// -- Home delivery --

type homeDeliveryStrategy struct {
	fee payment.Money
}

func (homeDeliveryStrategy) Method() Method { return MethodHomeDelivery }

func (h homeDeliveryStrategy) Initialize(rx *prescription.Prescription, opts InitOptions) (*MedicationDelivery, error) {
	a := opts.Address
	if a == nil || strings.TrimSpace(a.Line1) == "" || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.PostalCode) == "" {
		return nil, apperr.Validation("address with line1, city and postal_code is required for home delivery")
	}
	instructions := opts.Instructions
	if instructions == "" {
		instructions = "Deliver to " + a.Line1 + ", " + a.City + "."
	}
	d := newDelivery(rx, MethodHomeDelivery, StatusPendingPayment, h.fee, instructions)
	addr := *a
	d.Address = &addr
	d.ContactPhone = strPtr(strings.TrimSpace(opts.ContactPhone))
	return d, nil
}

func (homeDeliveryStrategy) CanProcess(d *MedicationDelivery) bool {
	return d.Status == StatusPaid
}

func (homeDeliveryStrategy) Process(d *MedicationDelivery, _ *prescription.Prescription) error {
	if d.Status != StatusPaid {
		return invalid(d, StatusPreparing)
	}
	d.Status = StatusPreparing
	return nil
}

func (homeDeliveryStrategy) MarkPaid(d *MedicationDelivery, paymentRef string) error {
	if d.Status != StatusPendingPayment {
		return invalid(d, StatusPaid)
	}
	d.Status = StatusPaid
	d.PaymentRef = strPtr(paymentRef)
	return nil
}

func (homeDeliveryStrategy) MarkOutForDelivery(d *MedicationDelivery, courier, tracking, contactPhone string) error {
	courier, tracking = strings.TrimSpace(courier), strings.TrimSpace(tracking)
	if courier == "" || tracking == "" {
		return apperr.Validation("courier and tracking_number are required")
	}
	if d.Status != StatusPreparing {
		return invalid(d, StatusOutForDelivery)
	}
	d.Status = StatusOutForDelivery
	d.Courier = &courier
	d.TrackingNumber = &tracking
	if phone := strings.TrimSpace(contactPhone); phone != "" {
		d.ContactPhone = &phone
	}
	return nil
}

func (homeDeliveryStrategy) Complete(d *MedicationDelivery, at time.Time) error {
	return complete(d, StatusOutForDelivery, at)
}

func (homeDeliveryStrategy) Cancel(d *MedicationDelivery, reason string) error {
	return cancel(d, reason)
}
