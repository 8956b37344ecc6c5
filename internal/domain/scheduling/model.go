package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Mode is the consultation mode of a slot and of the appointment booked on it.
type Mode string

const (
	ModeInPerson Mode = "IN_PERSON"
	ModeVirtual  Mode = "VIRTUAL"
)

func (m Mode) Valid() bool { return m == ModeInPerson || m == ModeVirtual }

// RequiresPayment reports whether appointments in this mode must be paid
// before they become active. Only virtual consultations are charged.
func (m Mode) RequiresPayment() bool { return m == ModeVirtual }

// Slot maps to the slots table.
type Slot struct {
	ID              uuid.UUID `db:"id" json:"id"`
	DoctorID        uuid.UUID `db:"doctor_id" json:"doctor_id"`
	StartTime       time.Time `db:"start_time" json:"start_time"`
	EndTime         time.Time `db:"end_time" json:"end_time"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	Mode            Mode      `db:"mode" json:"mode"`
	IsAvailable     bool      `db:"is_available" json:"is_available"`
	IsBooked        bool      `db:"is_booked" json:"is_booked"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Overlaps is the half-open interval test against [start, end).
func (s *Slot) Overlaps(start, end time.Time) bool {
	return start.Before(s.EndTime) && end.After(s.StartTime)
}

// Bookable reports whether the slot can take a new appointment at now.
func (s *Slot) Bookable(now time.Time) bool {
	return s.IsAvailable && !s.IsBooked && s.StartTime.After(now)
}

type Status string

const (
	StatusScheduled   Status = "SCHEDULED"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
	StatusRescheduled Status = "RESCHEDULED"
	StatusNoShow      Status = "NO_SHOW"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s != StatusScheduled }

type PaymentStatus string

const (
	PaymentNotRequired PaymentStatus = "NOT_REQUIRED"
	PaymentPending     PaymentStatus = "PENDING"
	PaymentPaid        PaymentStatus = "PAID"
)

// Appointment maps to the appointments table.
type Appointment struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	PatientID       uuid.UUID     `db:"patient_id" json:"patient_id"`
	DoctorID        uuid.UUID     `db:"doctor_id" json:"doctor_id"`
	SlotID          uuid.UUID     `db:"slot_id" json:"slot_id"`
	BookedBy        uuid.UUID     `db:"booked_by" json:"booked_by"`
	Mode            Mode          `db:"mode" json:"mode"`
	Status          Status        `db:"status" json:"status"`
	PaymentStatus   PaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentRef      *string       `db:"payment_ref" json:"payment_ref,omitempty"`
	Notes           *string       `db:"notes" json:"notes,omitempty"`
	DoctorNotes     *string       `db:"doctor_notes" json:"doctor_notes,omitempty"`
	CancelReason    *string       `db:"cancel_reason" json:"cancel_reason,omitempty"`
	VideoRoom       *string       `db:"video_room" json:"video_room,omitempty"`
	RescheduledFrom *uuid.UUID    `db:"rescheduled_from" json:"rescheduled_from,omitempty"`
	RescheduledTo   *uuid.UUID    `db:"rescheduled_to" json:"rescheduled_to,omitempty"`
	StartTime       time.Time     `db:"start_time" json:"start_time"`
	CompletedAt     *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// Active is true once both the slot and any required payment are secured.
func (a *Appointment) Active() bool {
	return a.Status == StatusScheduled && a.PaymentStatus != PaymentPending
}

// State is the compare-and-swap guard for appointment updates.
type State struct {
	Status  Status
	Payment PaymentStatus
}

func (a *Appointment) State() State {
	return State{Status: a.Status, Payment: a.PaymentStatus}
}

func initialPayment(m Mode) PaymentStatus {
	if m.RequiresPayment() {
		return PaymentPending
	}
	return PaymentNotRequired
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
