package access

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/db"
)

type memberRepoPG struct{ pool db.Querier }

func NewFamilyMemberRepoPG(pool db.Querier) FamilyMemberRepository {
	return &memberRepoPG{pool: pool}
}

func (r *memberRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const memberCols = `id, patient_id, user_id, email, relationship, pending,
	view_medical_records, view_appointments, manage_appointments, join_video_call,
	view_prescriptions, manage_prescriptions, view_billing, manage_billing,
	confirmed_at, created_at, updated_at`

func scanMember(row pgx.Row) (*FamilyMember, error) {
	var m FamilyMember
	g := &m.Grants
	err := row.Scan(&m.ID, &m.PatientID, &m.UserID, &m.Email, &m.Relationship, &m.Pending,
		&g.ViewMedicalRecords, &g.ViewAppointments, &g.ManageAppointments, &g.JoinVideoCall,
		&g.ViewPrescriptions, &g.ManagePrescriptions, &g.ViewBilling, &g.ManageBilling,
		&m.ConfirmedAt, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func (r *memberRepoPG) Create(ctx context.Context, m *FamilyMember) error {
	m.ID = uuid.New()
	g := m.Grants
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO family_members (id, patient_id, user_id, email, relationship, pending,
			view_medical_records, view_appointments, manage_appointments, join_video_call,
			view_prescriptions, manage_prescriptions, view_billing, manage_billing)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		m.ID, m.PatientID, m.UserID, m.Email, m.Relationship, m.Pending,
		g.ViewMedicalRecords, g.ViewAppointments, g.ManageAppointments, g.JoinVideoCall,
		g.ViewPrescriptions, g.ManagePrescriptions, g.ViewBilling, g.ManageBilling,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("%s is already invited", m.Email)
	}
	if err != nil {
		return fmt.Errorf("insert family member: %w", err)
	}
	return nil
}

func (r *memberRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*FamilyMember, error) {
	m, err := scanMember(r.conn(ctx).QueryRow(ctx, `SELECT `+memberCols+` FROM family_members WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("family member %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get family member: %w", err)
	}
	return m, nil
}

func (r *memberRepoPG) Update(ctx context.Context, m *FamilyMember) error {
	g := m.Grants
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE family_members SET user_id=$2, relationship=$3, pending=$4,
			view_medical_records=$5, view_appointments=$6, manage_appointments=$7, join_video_call=$8,
			view_prescriptions=$9, manage_prescriptions=$10, view_billing=$11, manage_billing=$12,
			confirmed_at=$13, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		m.ID, m.UserID, m.Relationship, m.Pending,
		g.ViewMedicalRecords, g.ViewAppointments, g.ManageAppointments, g.JoinVideoCall,
		g.ViewPrescriptions, g.ManagePrescriptions, g.ViewBilling, g.ManageBilling,
		m.ConfirmedAt,
	).Scan(&m.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("family member %s not found", m.ID)
	}
	if err != nil {
		return fmt.Errorf("update family member: %w", err)
	}
	return nil
}

func (r *memberRepoPG) Accept(ctx context.Context, m *FamilyMember) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE family_members SET user_id=$2, pending=false, confirmed_at=$3, updated_at=NOW()
		WHERE id = $1 AND pending
		RETURNING updated_at`,
		m.ID, m.UserID, m.ConfirmedAt,
	).Scan(&m.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.Conflict("invitation %s is no longer pending", m.ID)
	}
	if err != nil {
		return fmt.Errorf("accept family member: %w", err)
	}
	m.Pending = false
	return nil
}

func (r *memberRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM family_members WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete family member: %w", err)
	}
	return nil
}

func (r *memberRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*FamilyMember, error) {
	return r.list(ctx, `SELECT `+memberCols+` FROM family_members WHERE patient_id = $1 ORDER BY created_at`, patientID)
}

func (r *memberRepoPG) ListByUser(ctx context.Context, userID uuid.UUID) ([]*FamilyMember, error) {
	return r.list(ctx, `SELECT `+memberCols+` FROM family_members WHERE user_id = $1 AND NOT pending ORDER BY created_at`, userID)
}

func (r *memberRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*FamilyMember, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list family members: %w", err)
	}
	defer rows.Close()
	var items []*FamilyMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan family member: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
