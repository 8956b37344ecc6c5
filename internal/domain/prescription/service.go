package prescription

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/telecare/telecare/internal/domain/access"
	"github.com/telecare/telecare/internal/domain/scheduling"
	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/db"
	"github.com/telecare/telecare/internal/platform/metrics"
	"github.com/telecare/telecare/internal/platform/notification"
)

var tracer = otel.Tracer("telecare.internal.domain.prescription")

const (
	EventPrescriptionIssued     = "prescription.issued"
	EventPrescriptionConfirmed  = "prescription.confirmed"
	EventPrescriptionProcessing = "prescription.processing"
	EventPrescriptionReady      = "prescription.ready"
	EventPrescriptionCancelled  = "prescription.cancelled"
	EventPrescriptionExpired    = "prescription.expired"
	EventPrescriptionExpiring   = "prescription.expiring"
)

// Appointments resolves the consultation a prescription is issued from.
type Appointments interface {
	Lookup(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

type Permissions interface {
	Require(ctx context.Context, actor auth.Actor, patientID uuid.UUID, p access.PermissionType) error
}

type Option func(*Service)

func WithEvents(p notification.Publisher) Option { return func(s *Service) { s.events = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithValidity overrides DefaultValidity.
func WithValidity(d time.Duration) Option { return func(s *Service) { s.validity = d } }

// Service is the Prescription Lifecycle Manager. Expiry is evaluated lazily
// against ExpiresAt on every read and transition.
type Service struct {
	tx    db.Transactor
	repo  Repository
	appts Appointments
	perms Permissions

	events   notification.Publisher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
	validity time.Duration
}

func NewService(tx db.Transactor, repo Repository, appts Appointments, perms Permissions, opts ...Option) *Service {
	s := &Service{
		tx:       tx,
		repo:     repo,
		appts:    appts,
		perms:    perms,
		logger:   zerolog.Nop(),
		now:      time.Now,
		validity: DefaultValidity,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ItemRequest struct {
	MedicationName string `json:"medication_name"`
	Dosage         string `json:"dosage"`
	Frequency      string `json:"frequency,omitempty"`
	Quantity       int    `json:"quantity"`
	Instructions   string `json:"instructions,omitempty"`
}

type IssueRequest struct {
	AppointmentID uuid.UUID     `json:"appointment_id"`
	FacilityID    uuid.UUID     `json:"facility_id"`
	Items         []ItemRequest `json:"items"`
	Notes         string        `json:"notes,omitempty"`
}

func (r *IssueRequest) validate() error {
	if r.AppointmentID == uuid.Nil {
		return apperr.Validation("appointment_id is required")
	}
	if r.FacilityID == uuid.Nil {
		return apperr.Validation("facility_id is required")
	}
	if len(r.Items) == 0 {
		return apperr.Validation("at least one item is required")
	}
	for i, it := range r.Items {
		switch {
		case strings.TrimSpace(it.MedicationName) == "":
			return apperr.Validation("item %d: medication_name is required", i+1)
		case strings.TrimSpace(it.Dosage) == "":
			return apperr.Validation("item %d: dosage is required", i+1)
		case it.Quantity <= 0:
			return apperr.Validation("item %d: quantity must be positive", i+1)
		}
	}
	return nil
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

// Issue creates a CREATED prescription for a completed appointment. Only the
// appointment's doctor may issue it, and only once.
func (s *Service) Issue(ctx context.Context, actor auth.Actor, req IssueRequest) (*Prescription, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	appt, err := s.appts.Lookup(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	if !actor.IsDoctor() || actor.DoctorID != appt.DoctorID {
		return nil, apperr.Forbidden("only the appointment's doctor may issue a prescription")
	}
	if appt.Status != scheduling.StatusCompleted {
		return nil, apperr.Conflict("appointment %s is %s, not COMPLETED", appt.ID, appt.Status)
	}

	now := s.now().UTC()
	p := &Prescription{
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		FacilityID:    req.FacilityID,
		Status:        StatusCreated,
		Notes:         optional(req.Notes),
		ExpiresAt:     now.Add(s.validity),
	}
	for _, it := range req.Items {
		p.Items = append(p.Items, Item{
			MedicationName: strings.TrimSpace(it.MedicationName),
			Dosage:         strings.TrimSpace(it.Dosage),
			Frequency:      strings.TrimSpace(it.Frequency),
			Quantity:       it.Quantity,
			Instructions:   optional(it.Instructions),
		})
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetByAppointment(ctx, appt.ID); err == nil {
			return apperr.Conflict("appointment %s already has a prescription", appt.ID)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return s.repo.Create(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("prescription_id", p.ID.String()).Str("appointment_id", appt.ID.String()).
		Int("items", len(p.Items)).Msg("prescription issued")
	s.publish(ctx, EventPrescriptionIssued, p)
	return p, nil
}

// Lookup returns the prescription with lazy expiry applied and no access
// check. It serves collaborators that authorize on their own.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.expireIfOverdue(ctx, p)
	return p, nil
}

// Get is open to the issuing doctor, a pharmacist of the facility and actors
// holding VIEW_PRESCRIPTIONS for the patient.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Prescription, error) {
	p, err := s.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, actor, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) canView(ctx context.Context, actor auth.Actor, p *Prescription) error {
	if actor.IsDoctor() && actor.DoctorID == p.DoctorID {
		return nil
	}
	if atFacility(actor, p) {
		return nil
	}
	return s.perms.Require(ctx, actor, p.PatientID, access.ViewPrescriptions)
}

func atFacility(actor auth.Actor, p *Prescription) bool {
	return actor.IsPharmacist() && actor.FacilityID == p.FacilityID
}

func (s *Service) ListForPatient(ctx context.Context, actor auth.Actor, patientID uuid.UUID) ([]*Prescription, error) {
	if err := s.perms.Require(ctx, actor, patientID, access.ViewPrescriptions); err != nil {
		return nil, err
	}
	items, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	for _, p := range items {
		s.expireIfOverdue(ctx, p)
	}
	return items, nil
}

// expireIfOverdue reports an overdue prescription as EXPIRED and persists it.
// A lost race leaves the caller's view EXPIRED; the next read converges.
// Inside a unit of work the status is only reported; a later read or the
// sweep persists it.
func (s *Service) expireIfOverdue(ctx context.Context, p *Prescription) bool {
	if !p.Overdue(s.now()) {
		return false
	}
	from := p.Status
	p.Status = StatusExpired
	if db.InTx(ctx) {
		return false
	}
	if err := s.repo.UpdateStatus(ctx, p, from); err != nil {
		s.logger.Warn().Err(err).Str("prescription_id", p.ID.String()).Msg("persist expiry failed")
		return false
	}
	s.publish(ctx, EventPrescriptionExpired, p)
	return true
}

// transition moves a prescription to `to` inside a unit of work, with a
// compare-and-swap on the prior status. check runs on the freshly read row.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, check func(p *Prescription) error) (*Prescription, error) {
	ctx, span := tracer.Start(ctx, "prescription.transition")
	span.SetAttributes(
		attribute.String("prescription.id", id.String()),
		attribute.String("prescription.to", string(to)),
	)

	var out *Prescription
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(p); err != nil {
				return err
			}
		}
		if p.Overdue(s.now()) {
			return apperr.Conflict("prescription %s expired at %s", p.ID, p.ExpiresAt.Format(time.RFC3339))
		}
		if !CanTransition(p.Status, to) {
			return apperr.InvalidTransition("prescription", string(p.Status), string(to))
		}
		from := p.Status
		p.Status = to
		if to == StatusReady {
			now := s.now().UTC()
			p.ReadyAt = &now
		}
		if err := s.repo.UpdateStatus(ctx, p, from); err != nil {
			return err
		}
		out = p
		return nil
	})
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmForProcessing records the patient's intent to fulfill.
func (s *Service) ConfirmForProcessing(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Prescription, error) {
	p, err := s.transition(ctx, id, StatusReadyForProcessing, func(p *Prescription) error {
		return s.perms.Require(ctx, actor, p.PatientID, access.ManagePrescriptions)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventPrescriptionConfirmed, p)
	return p, nil
}

func requireFacility(actor auth.Actor, p *Prescription) error {
	if !atFacility(actor, p) {
		return apperr.Forbidden("pharmacist is not assigned to facility %s", p.FacilityID)
	}
	return nil
}

// Claim is a pharmacist of the prescription's facility taking it on.
func (s *Service) Claim(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Prescription, error) {
	p, err := s.transition(ctx, id, StatusProcessing, func(p *Prescription) error {
		if err := requireFacility(actor, p); err != nil {
			return err
		}
		claimant := actor.PharmacistID
		p.ClaimedBy = &claimant
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventPrescriptionProcessing, p)
	return p, nil
}

func (s *Service) MarkReady(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Prescription, error) {
	p, err := s.transition(ctx, id, StatusReady, func(p *Prescription) error {
		return requireFacility(actor, p)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventPrescriptionReady, p)
	return p, nil
}

// Cancel is reserved to the issuing doctor.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Prescription, error) {
	p, err := s.transition(ctx, id, StatusCancelled, func(p *Prescription) error {
		if !actor.IsDoctor() || actor.DoctorID != p.DoctorID {
			return apperr.Forbidden("only the issuing doctor may cancel prescription %s", p.ID)
		}
		p.CancelReason = optional(reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventPrescriptionCancelled, p)
	return p, nil
}

// Advance applies a forward transition on behalf of the fulfillment engine.
// It joins the caller's unit of work, skips actor checks and emits no event;
// the caller authorizes and publishes.
func (s *Service) Advance(ctx context.Context, id uuid.UUID, to Status) (*Prescription, error) {
	return s.transition(ctx, id, to, nil)
}

// ExpireOverdue persists EXPIRED for every overdue prescription and returns
// how many were updated.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	items, err := s.repo.ListExpiringBefore(ctx, s.now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range items {
		if s.expireIfOverdue(ctx, p) {
			n++
		}
	}
	s.logger.Info().Int("expired", n).Msg("prescription expiry sweep finished")
	return n, nil
}

// RemindExpiring emits prescription.expiring for prescriptions that lapse
// within the window but have not lapsed yet.
func (s *Service) RemindExpiring(ctx context.Context, within time.Duration) (int, error) {
	if within <= 0 {
		return 0, apperr.Validation("reminder window must be positive")
	}
	now := s.now()
	items, err := s.repo.ListExpiringBefore(ctx, now.Add(within))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range items {
		if p.Overdue(now) {
			continue
		}
		if s.events != nil {
			s.events.Publish(ctx, notification.NewEvent(EventPrescriptionExpiring, "prescription", p.ID, p.PatientID, p.snapshot()))
		}
		n++
	}
	return n, nil
}

func (s *Service) publish(ctx context.Context, eventType string, p *Prescription) {
	s.metrics.ObserveTransition("prescription", string(p.Status))
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, notification.NewEvent(eventType, "prescription", p.ID, p.PatientID, p.snapshot()))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
