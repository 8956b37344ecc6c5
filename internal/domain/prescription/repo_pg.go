package prescription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/db"
)

type repoPG struct{ pool db.Querier }

func NewRepoPG(pool db.Querier) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const rxCols = `id, appointment_id, patient_id, doctor_id, facility_id, status, notes,
	cancel_reason, claimed_by, expires_at, ready_at, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.AppointmentID, &p.PatientID, &p.DoctorID, &p.FacilityID, &p.Status, &p.Notes,
		&p.CancelReason, &p.ClaimedBy, &p.ExpiresAt, &p.ReadyAt, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	q := r.conn(ctx)
	err := q.QueryRow(ctx, `
		INSERT INTO prescriptions (id, appointment_id, patient_id, doctor_id, facility_id, status, notes, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		p.ID, p.AppointmentID, p.PatientID, p.DoctorID, p.FacilityID, string(p.Status), p.Notes, p.ExpiresAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("appointment %s already has a prescription", p.AppointmentID)
	}
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}

	for i := range p.Items {
		it := &p.Items[i]
		it.ID = uuid.New()
		it.PrescriptionID = p.ID
		it.Position = i + 1
		if _, err := q.Exec(ctx, `
			INSERT INTO prescription_items (id, prescription_id, position, medication_name, dosage, frequency, quantity, instructions)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			it.ID, it.PrescriptionID, it.Position, it.MedicationName, it.Dosage, it.Frequency, it.Quantity, it.Instructions,
		); err != nil {
			return fmt.Errorf("insert prescription item: %w", err)
		}
	}
	return nil
}

func (r *repoPG) loadItems(ctx context.Context, p *Prescription) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, prescription_id, position, medication_name, dosage, frequency, quantity, instructions
		FROM prescription_items WHERE prescription_id = $1 ORDER BY position`, p.ID)
	if err != nil {
		return fmt.Errorf("list prescription items: %w", err)
	}
	defer rows.Close()
	p.Items = nil
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.PrescriptionID, &it.Position, &it.MedicationName, &it.Dosage,
			&it.Frequency, &it.Quantity, &it.Instructions); err != nil {
			return fmt.Errorf("scan prescription item: %w", err)
		}
		p.Items = append(p.Items, it)
	}
	return rows.Err()
}

func (r *repoPG) getOne(ctx context.Context, query string, arg uuid.UUID, notFound error) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx, query, arg))
	if db.IsNoRows(err) {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	if err := r.loadItems(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return r.getOne(ctx, `SELECT `+rxCols+` FROM prescriptions WHERE id = $1`, id,
		apperr.NotFound("prescription %s not found", id))
}

func (r *repoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Prescription, error) {
	return r.getOne(ctx, `SELECT `+rxCols+` FROM prescriptions WHERE appointment_id = $1`, appointmentID,
		apperr.NotFound("no prescription for appointment %s", appointmentID))
}

func (r *repoPG) UpdateStatus(ctx context.Context, p *Prescription, from Status) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE prescriptions SET status=$3, cancel_reason=$4, claimed_by=$5, ready_at=$6, updated_at=NOW()
		WHERE id = $1 AND status = $2
		RETURNING updated_at`,
		p.ID, string(from), string(p.Status), p.CancelReason, p.ClaimedBy, p.ReadyAt,
	).Scan(&p.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.Conflict("conflicting update on prescription %s", p.ID)
	}
	if err != nil {
		return fmt.Errorf("update prescription: %w", err)
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return r.list(ctx, `SELECT `+rxCols+` FROM prescriptions WHERE patient_id = $1 ORDER BY created_at`, patientID)
}

func (r *repoPG) ListExpiringBefore(ctx context.Context, t time.Time) ([]*Prescription, error) {
	return r.list(ctx, `SELECT `+rxCols+` FROM prescriptions
		WHERE expires_at < $1 AND status NOT IN ('READY', 'EXPIRED', 'CANCELLED')
		ORDER BY expires_at`, t)
}

func (r *repoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan prescription: %w", err)
		}
		items = append(items, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	// items are loaded after the cursor is closed; a pgx connection serves one query at a time
	for _, p := range items {
		if err := r.loadItems(ctx, p); err != nil {
			return nil, err
		}
	}
	return items, nil
}
