package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/db"
)

// =========== Slot Repository ===========

type slotRepoPG struct{ pool db.Querier }

func NewSlotRepoPG(pool db.Querier) SlotRepository { return &slotRepoPG{pool: pool} }

func (r *slotRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const slotCols = `id, doctor_id, start_time, end_time, duration_minutes, mode,
	is_available, is_booked, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.DoctorID, &s.StartTime, &s.EndTime, &s.DurationMinutes, &s.Mode,
		&s.IsAvailable, &s.IsBooked, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *slotRepoPG) Create(ctx context.Context, s *Slot) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO slots (id, doctor_id, start_time, end_time, duration_minutes, mode, is_available, is_booked)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		s.ID, s.DoctorID, s.StartTime, s.EndTime, s.DurationMinutes, string(s.Mode), s.IsAvailable, s.IsBooked,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

func (r *slotRepoPG) get(ctx context.Context, query string, id uuid.UUID) (*Slot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx, query, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("slot %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return s, nil
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.get(ctx, `SELECT `+slotCols+` FROM slots WHERE id = $1`, id)
}

func (r *slotRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, db.ErrNoTx
	}
	return r.get(ctx, `SELECT `+slotCols+` FROM slots WHERE id = $1 FOR UPDATE`, id)
}

func (r *slotRepoPG) Update(ctx context.Context, s *Slot) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE slots SET start_time=$2, end_time=$3, duration_minutes=$4, mode=$5,
			is_available=$6, is_booked=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.StartTime, s.EndTime, s.DurationMinutes, string(s.Mode), s.IsAvailable, s.IsBooked,
	).Scan(&s.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("slot %s not found", s.ID)
	}
	if err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	return nil
}

func (r *slotRepoPG) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	if db.TxFromContext(ctx) == nil {
		return db.ErrNoTx
	}
	if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, doctorID.String()); err != nil {
		return fmt.Errorf("lock doctor schedule: %w", err)
	}
	return nil
}

func (r *slotRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM slots
		WHERE doctor_id = $1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time`, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()
	var items []*Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool db.Querier }

func NewAppointmentRepoPG(pool db.Querier) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, patient_id, doctor_id, slot_id, booked_by, mode, status, payment_status,
	payment_ref, notes, doctor_notes, cancel_reason, video_room, rescheduled_from, rescheduled_to,
	start_time, completed_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.SlotID, &a.BookedBy, &a.Mode, &a.Status, &a.PaymentStatus,
		&a.PaymentRef, &a.Notes, &a.DoctorNotes, &a.CancelReason, &a.VideoRoom, &a.RescheduledFrom, &a.RescheduledTo,
		&a.StartTime, &a.CompletedAt, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_id, booked_by, mode, status, payment_status,
			payment_ref, notes, rescheduled_from, start_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.SlotID, a.BookedBy, string(a.Mode), string(a.Status), string(a.PaymentStatus),
		a.PaymentRef, a.Notes, a.RescheduledFrom, a.StartTime,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("appointment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment, from State) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET status=$4, payment_status=$5, payment_ref=$6, doctor_notes=$7,
			cancel_reason=$8, video_room=$9, rescheduled_to=$10, completed_at=$11, updated_at=NOW()
		WHERE id = $1 AND status = $2 AND payment_status = $3
		RETURNING updated_at`,
		a.ID, string(from.Status), string(from.Payment),
		string(a.Status), string(a.PaymentStatus), a.PaymentRef, a.DoctorNotes,
		a.CancelReason, a.VideoRoom, a.RescheduledTo, a.CompletedAt,
	).Scan(&a.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.Conflict("conflicting update on appointment %s", a.ID)
	}
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	return r.list(ctx, `SELECT `+apptCols+` FROM appointments WHERE patient_id = $1 ORDER BY start_time`, patientID)
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Appointment, error) {
	return r.list(ctx, `SELECT `+apptCols+` FROM appointments WHERE doctor_id = $1 ORDER BY start_time`, doctorID)
}

func (r *appointmentRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
