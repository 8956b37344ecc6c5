package fulfillment

import (
	"context"
	"fmt"

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

const deliveryCols = `id, prescription_id, patient_id, facility_id, method, status, fee, instructions,
	address, contact_phone, courier, tracking_number, payment_ref, cancel_reason, actual_delivery_at,
	created_at, updated_at`

func scanDelivery(row pgx.Row) (*MedicationDelivery, error) {
	var d MedicationDelivery
	err := row.Scan(&d.ID, &d.PrescriptionID, &d.PatientID, &d.FacilityID, &d.Method, &d.Status, &d.Fee,
		&d.Instructions, &d.Address, &d.ContactPhone, &d.Courier, &d.TrackingNumber, &d.PaymentRef,
		&d.CancelReason, &d.ActualDeliveryAt, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *repoPG) Create(ctx context.Context, d *MedicationDelivery) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO deliveries (id, prescription_id, patient_id, facility_id, method, status, fee,
			instructions, address, contact_phone)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		d.ID, d.PrescriptionID, d.PatientID, d.FacilityID, string(d.Method), string(d.Status), int64(d.Fee),
		d.Instructions, d.Address, d.ContactPhone,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("prescription %s already has an active delivery", d.PrescriptionID)
	}
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func (r *repoPG) get(ctx context.Context, query string, id uuid.UUID, notFound error) (*MedicationDelivery, error) {
	d, err := scanDelivery(r.conn(ctx).QueryRow(ctx, query, id))
	if db.IsNoRows(err) {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicationDelivery, error) {
	return r.get(ctx, `SELECT `+deliveryCols+` FROM deliveries WHERE id = $1`, id,
		apperr.NotFound("delivery %s not found", id))
}

func (r *repoPG) GetActiveByPrescription(ctx context.Context, prescriptionID uuid.UUID) (*MedicationDelivery, error) {
	return r.get(ctx, `SELECT `+deliveryCols+` FROM deliveries
		WHERE prescription_id = $1 AND status <> 'CANCELLED'`, prescriptionID,
		apperr.NotFound("no active delivery for prescription %s", prescriptionID))
}

func (r *repoPG) LockPrescription(ctx context.Context, prescriptionID uuid.UUID) error {
	if db.TxFromContext(ctx) == nil {
		return db.ErrNoTx
	}
	if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		"delivery:"+prescriptionID.String()); err != nil {
		return fmt.Errorf("lock prescription delivery: %w", err)
	}
	return nil
}

func (r *repoPG) Update(ctx context.Context, d *MedicationDelivery, from Status) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE deliveries SET status=$3, contact_phone=$4, courier=$5, tracking_number=$6,
			payment_ref=$7, cancel_reason=$8, actual_delivery_at=$9, updated_at=NOW()
		WHERE id = $1 AND status = $2
		RETURNING updated_at`,
		d.ID, string(from), string(d.Status), d.ContactPhone, d.Courier, d.TrackingNumber,
		d.PaymentRef, d.CancelReason, d.ActualDeliveryAt,
	).Scan(&d.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.Conflict("conflicting update on delivery %s", d.ID)
	}
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicationDelivery, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+deliveryCols+` FROM deliveries
		WHERE patient_id = $1 ORDER BY created_at`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()
	var items []*MedicationDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
