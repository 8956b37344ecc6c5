package fulfillment

import (
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/domain/payment"
)

type Method string

const (
	MethodPickup       Method = "PICKUP"
	MethodHomeDelivery Method = "HOME_DELIVERY"
)

func (m Method) Valid() bool {
	return m == MethodPickup || m == MethodHomeDelivery
}

type Status string

const (
	StatusPendingPickup  Status = "PENDING_PICKUP"
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusPreparing      Status = "PREPARING"
	StatusReadyForPickup Status = "READY_FOR_PICKUP"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Address is stored as JSONB on the deliveries row.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country,omitempty"`
}

// MedicationDelivery tracks the physical fulfillment of one prescription.
// Method is fixed at creation.
type MedicationDelivery struct {
	ID               uuid.UUID     `db:"id" json:"id"`
	PrescriptionID   uuid.UUID     `db:"prescription_id" json:"prescription_id"`
	PatientID        uuid.UUID     `db:"patient_id" json:"patient_id"`
	FacilityID       uuid.UUID     `db:"facility_id" json:"facility_id"`
	Method           Method        `db:"method" json:"method"`
	Status           Status        `db:"status" json:"status"`
	Fee              payment.Money `db:"fee" json:"fee"`
	Instructions     string        `db:"instructions" json:"instructions"`
	Address          *Address      `db:"address" json:"address,omitempty"`
	ContactPhone     *string       `db:"contact_phone" json:"contact_phone,omitempty"`
	Courier          *string       `db:"courier" json:"courier,omitempty"`
	TrackingNumber   *string       `db:"tracking_number" json:"tracking_number,omitempty"`
	PaymentRef       *string       `db:"payment_ref" json:"payment_ref,omitempty"`
	CancelReason     *string       `db:"cancel_reason" json:"cancel_reason,omitempty"`
	ActualDeliveryAt *time.Time    `db:"actual_delivery_at" json:"actual_delivery_at,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
