package access

import (
	"time"

	"github.com/google/uuid"
)

// PermissionType names an action performed on behalf of a patient.
type PermissionType string

const (
	ViewMedicalRecords  PermissionType = "VIEW_MEDICAL_RECORDS"
	ViewReferrals       PermissionType = "VIEW_REFERRALS"
	ViewAppointment     PermissionType = "VIEW_APPOINTMENT"
	BookAppointment     PermissionType = "BOOK_APPOINTMENT"
	ManageAppointments  PermissionType = "MANAGE_APPOINTMENTS"
	JoinVideoCall       PermissionType = "JOIN_VIDEO_CALL"
	ViewPrescriptions   PermissionType = "VIEW_PRESCRIPTIONS"
	ManagePrescriptions PermissionType = "MANAGE_PRESCRIPTIONS"
	ViewBilling         PermissionType = "VIEW_BILLING"
	ManageBilling       PermissionType = "MANAGE_BILLING"
)

// AllPermissionTypes lists every known permission type.
var AllPermissionTypes = []PermissionType{
	ViewMedicalRecords, ViewReferrals, ViewAppointment, BookAppointment,
	ManageAppointments, JoinVideoCall, ViewPrescriptions, ManagePrescriptions,
	ViewBilling, ManageBilling,
}

// Grants are the flags a patient sets on a family member.
type Grants struct {
	ViewMedicalRecords  bool `json:"view_medical_records"`
	ViewAppointments    bool `json:"view_appointments"`
	ManageAppointments  bool `json:"manage_appointments"`
	JoinVideoCall       bool `json:"join_video_call"`
	ViewPrescriptions   bool `json:"view_prescriptions"`
	ManagePrescriptions bool `json:"manage_prescriptions"`
	ViewBilling         bool `json:"view_billing"`
	ManageBilling       bool `json:"manage_billing"`
}

// Allows maps a permission type onto its grant flag. Unknown types are
// never allowed.
func (g Grants) Allows(p PermissionType) bool {
	switch p {
	case ViewMedicalRecords, ViewReferrals:
		return g.ViewMedicalRecords
	case ViewAppointment:
		return g.ViewAppointments
	case BookAppointment, ManageAppointments:
		return g.ManageAppointments
	case JoinVideoCall:
		return g.JoinVideoCall
	case ViewPrescriptions:
		return g.ViewPrescriptions
	case ManagePrescriptions:
		return g.ManagePrescriptions
	case ViewBilling:
		return g.ViewBilling
	case ManageBilling:
		return g.ManageBilling
	default:
		return false
	}
}

// FamilyMember is delegated access from one patient to another user.
// UserID is bound when the invitation is confirmed.
type FamilyMember struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	PatientID    uuid.UUID  `db:"patient_id" json:"patient_id"`
	UserID       *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	Email        string     `db:"email" json:"email"`
	Relationship string     `db:"relationship" json:"relationship"`
	Pending      bool       `db:"pending" json:"pending"`
	Grants       Grants     `json:"grants"`
	ConfirmedAt  *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Permits reports the effective permission. A pending member has none.
func (m *FamilyMember) Permits(p PermissionType) bool {
	return !m.Pending && m.Grants.Allows(p)
}

// BelongsTo reports whether the confirmed relation is held by userID.
func (m *FamilyMember) BelongsTo(userID uuid.UUID) bool {
	return !m.Pending && m.UserID != nil && *m.UserID == userID
}
