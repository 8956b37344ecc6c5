package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/telecare/telecare/internal/domain/access"
	"github.com/telecare/telecare/internal/domain/prescription"
	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/db"
	"github.com/telecare/telecare/internal/platform/metrics"
	"github.com/telecare/telecare/internal/platform/notification"
)

var tracer = otel.Tracer("telecare.internal.domain.fulfillment")

const (
	EventDeliveryCreated        = "delivery.created"
	EventDeliveryPaid           = "delivery.paid"
	EventDeliveryPreparing      = "delivery.preparing"
	EventDeliveryReadyForPickup = "delivery.ready_for_pickup"
	EventDeliveryOutForDelivery = "delivery.out_for_delivery"
	EventDeliveryDelivered      = "delivery.delivered"
	EventDeliveryCancelled      = "delivery.cancelled"
)

var statusEvents = map[Status]string{
	StatusPendingPickup:  EventDeliveryCreated,
	StatusPendingPayment: EventDeliveryCreated,
	StatusPaid:           EventDeliveryPaid,
	StatusPreparing:      EventDeliveryPreparing,
	StatusReadyForPickup: EventDeliveryReadyForPickup,
	StatusOutForDelivery: EventDeliveryOutForDelivery,
	StatusDelivered:      EventDeliveryDelivered,
	StatusCancelled:      EventDeliveryCancelled,
}

// Prescriptions is the prescription lifecycle as seen by fulfillment.
type Prescriptions interface {
	Lookup(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error)
	Advance(ctx context.Context, id uuid.UUID, to prescription.Status) (*prescription.Prescription, error)
}

type Permissions interface {
	Require(ctx context.Context, actor auth.Actor, patientID uuid.UUID, p access.PermissionType) error
}

type Option func(*Engine)

func WithEvents(p notification.Publisher) Option { return func(e *Engine) { e.events = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// Engine is the Delivery Fulfillment Engine. The delivery method picks the
// Strategy; the engine adds authorization, prescription coupling and
// persistence around it.
type Engine struct {
	tx            db.Transactor
	repo          Repository
	prescriptions Prescriptions
	perms         Permissions
	strategies    Strategies

	events  notification.Publisher
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewEngine(tx db.Transactor, repo Repository, rx Prescriptions, perms Permissions, strategies Strategies, opts ...Option) *Engine {
	e := &Engine{
		tx:            tx,
		repo:          repo,
		prescriptions: rx,
		perms:         perms,
		strategies:    strategies,
		logger:        zerolog.Nop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type HomeDeliveryRequest struct {
	Address      *Address `json:"address"`
	ContactPhone string   `json:"contact_phone,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

type OutForDeliveryRequest struct {
	Courier        string `json:"courier"`
	TrackingNumber string `json:"tracking_number"`
	ContactPhone   string `json:"contact_phone,omitempty"`
}

func (e *Engine) ChoosePickup(ctx context.Context, actor auth.Actor, prescriptionID uuid.UUID, instructions string) (*MedicationDelivery, error) {
	return e.choose(ctx, actor, prescriptionID, MethodPickup, InitOptions{Instructions: instructions})
}

func (e *Engine) ChooseHomeDelivery(ctx context.Context, actor auth.Actor, prescriptionID uuid.UUID, req HomeDeliveryRequest) (*MedicationDelivery, error) {
	return e.choose(ctx, actor, prescriptionID, MethodHomeDelivery, InitOptions{
		Address:      req.Address,
		ContactPhone: req.ContactPhone,
		Instructions: req.Instructions,
	})
}

func activeFailed(rx *prescription.Prescription) error {
	if rx.Status == prescription.StatusExpired || rx.Status == prescription.StatusCancelled {
		return apperr.Conflict("prescription %s is %s", rx.ID, rx.Status)
	}
	return nil
}

// choose creates the single active delivery for a prescription. The
// existing-delivery guard runs before the strategy initializes anything.
func (e *Engine) choose(ctx context.Context, actor auth.Actor, rxID uuid.UUID, m Method, opts InitOptions) (*MedicationDelivery, error) {
	st, err := e.strategies.For(m)
	if err != nil {
		return nil, err
	}
	rx, err := e.prescriptions.Lookup(ctx, rxID)
	if err != nil {
		return nil, err
	}
	if err := e.perms.Require(ctx, actor, rx.PatientID, access.ManagePrescriptions); err != nil {
		return nil, err
	}
	if err := activeFailed(rx); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "fulfillment.Choose")
	span.SetAttributes(
		attribute.String("prescription.id", rxID.String()),
		attribute.String("delivery.method", string(m)),
	)

	var d *MedicationDelivery
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := e.repo.LockPrescription(ctx, rxID); err != nil {
			return err
		}
		if existing, err := e.repo.GetActiveByPrescription(ctx, rxID); err == nil {
			return apperr.Conflict("prescription %s already has %s delivery %s", rxID, existing.Method, existing.ID)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		nd, err := st.Initialize(rx, opts)
		if err != nil {
			return err
		}
		if err := e.repo.Create(ctx, nd); err != nil {
			return err
		}
		d = nd
		if rx.Status == prescription.StatusCreated {
			if _, err := e.prescriptions.Advance(ctx, rxID, prescription.StatusReadyForProcessing); err != nil {
				return err
			}
		}
		return nil
	})
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("delivery_id", d.ID.String()).Str("prescription_id", rxID.String()).
		Str("method", string(m)).Str("fee", d.Fee.String()).Msg("delivery created")
	e.publish(ctx, d)
	return d, nil
}

// mutate runs fn on a freshly read delivery and its prescription inside a
// unit of work, then persists the delivery with a compare-and-swap on its
// prior status.
func (e *Engine) mutate(ctx context.Context, op string, id uuid.UUID,
	fn func(ctx context.Context, st Strategy, d *MedicationDelivery, rx *prescription.Prescription) error,
) (*MedicationDelivery, error) {
	ctx, span := tracer.Start(ctx, "fulfillment."+op)
	span.SetAttributes(attribute.String("delivery.id", id.String()))

	var out *MedicationDelivery
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := e.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		st, err := e.strategies.For(d.Method)
		if err != nil {
			return err
		}
		rx, err := e.prescriptions.Lookup(ctx, d.PrescriptionID)
		if err != nil {
			return err
		}
		from := d.Status
		if err := fn(ctx, st, d, rx); err != nil {
			return err
		}
		if err := e.repo.Update(ctx, d, from); err != nil {
			return err
		}
		out = d
		return nil
	})
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	e.publish(ctx, out)
	return out, nil
}

func atFacility(actor auth.Actor, rx *prescription.Prescription) bool {
	return actor.IsPharmacist() && actor.FacilityID == rx.FacilityID
}

func requireFacility(actor auth.Actor, rx *prescription.Prescription) error {
	if !atFacility(actor, rx) {
		return apperr.Forbidden("pharmacist is not assigned to facility %s", rx.FacilityID)
	}
	return nil
}

// Process advances the delivery one step on the pharmacy side. Entering
// PREPARING claims a prescription still waiting for processing.
func (e *Engine) Process(ctx context.Context, actor auth.Actor, id uuid.UUID) (*MedicationDelivery, error) {
	return e.mutate(ctx, "Process", id, func(ctx context.Context, st Strategy, d *MedicationDelivery, rx *prescription.Prescription) error {
		if err := requireFacility(actor, rx); err != nil {
			return err
		}
		if err := activeFailed(rx); err != nil {
			return err
		}
		if !st.CanProcess(d) {
			return apperr.Conflict("delivery %s cannot be processed while %s", d.ID, d.Status)
		}
		if err := st.Process(d, rx); err != nil {
			return err
		}
		if d.Status == StatusPreparing && rx.Status == prescription.StatusReadyForProcessing {
			if _, err := e.prescriptions.Advance(ctx, rx.ID, prescription.StatusProcessing); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkOutForDelivery hands a prepared home delivery to the courier. The
// prescription must be READY.
func (e *Engine) MarkOutForDelivery(ctx context.Context, actor auth.Actor, id uuid.UUID, req OutForDeliveryRequest) (*MedicationDelivery, error) {
	return e.mutate(ctx, "MarkOutForDelivery", id, func(_ context.Context, st Strategy, d *MedicationDelivery, rx *prescription.Prescription) error {
		if err := requireFacility(actor, rx); err != nil {
			return err
		}
		shipper, ok := st.(Shipper)
		if !ok {
			return apperr.Conflict("%s deliveries are not shipped", d.Method)
		}
		if rx.Status != prescription.StatusReady {
			return apperr.Conflict("prescription %s is %s, not READY", rx.ID, rx.Status)
		}
		return shipper.MarkOutForDelivery(d, req.Courier, req.TrackingNumber, req.ContactPhone)
	})
}

// MarkPaid is the payment settlement callback. The payment flow has
// already authorized the payer.
func (e *Engine) MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string) (*MedicationDelivery, error) {
	return e.mutate(ctx, "MarkPaid", id, func(_ context.Context, st Strategy, d *MedicationDelivery, rx *prescription.Prescription) error {
		payable, ok := st.(Payable)
		if !ok {
			return apperr.Conflict("%s deliveries carry no payment", d.Method)
		}
		if err := activeFailed(rx); err != nil {
			return err
		}
		return payable.MarkPaid(d, paymentRef)
	})
}

// Complete is acknowledged by the facility pharmacist or by a patient-side
// actor holding VIEW_APPOINTMENT.
func (e *Engine) Complete(ctx context.Context, actor auth.Actor, id uuid.UUID) (*MedicationDelivery, error) {
	return e.mutate(ctx, "Complete", id, func(ctx context.Context, st Strategy, d *MedicationDelivery, rx *prescription.Prescription) error {
		if !atFacility(actor, rx) {
			if err := e.perms.Require(ctx, actor, d.PatientID, access.ViewAppointment); err != nil {
				return err
			}
		}
		return st.Complete(d, e.now())
	})
}

// Cancel ends a non-terminal delivery; the patient may then choose again.
func (e *Engine) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*MedicationDelivery, error) {
	return e.mutate(ctx, "Cancel", id, func(ctx context.Context, st Strategy, d *MedicationDelivery, rx *prescription.Prescription) error {
		if !atFacility(actor, rx) {
			if err := e.perms.Require(ctx, actor, d.PatientID, access.ManagePrescriptions); err != nil {
				return err
			}
		}
		return st.Cancel(d, reason)
	})
}

// Lookup returns a delivery without an access check.
func (e *Engine) Lookup(ctx context.Context, id uuid.UUID) (*MedicationDelivery, error) {
	return e.repo.GetByID(ctx, id)
}

func (e *Engine) canView(ctx context.Context, actor auth.Actor, d *MedicationDelivery) error {
	if actor.IsPharmacist() && actor.FacilityID == d.FacilityID {
		return nil
	}
	return e.perms.Require(ctx, actor, d.PatientID, access.ViewPrescriptions)
}

func (e *Engine) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*MedicationDelivery, error) {
	d, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.canView(ctx, actor, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetForPrescription returns the active delivery of a prescription.
func (e *Engine) GetForPrescription(ctx context.Context, actor auth.Actor, prescriptionID uuid.UUID) (*MedicationDelivery, error) {
	d, err := e.repo.GetActiveByPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	if err := e.canView(ctx, actor, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (e *Engine) ListForPatient(ctx context.Context, actor auth.Actor, patientID uuid.UUID) ([]*MedicationDelivery, error) {
	if err := e.perms.Require(ctx, actor, patientID, access.ViewPrescriptions); err != nil {
		return nil, err
	}
	return e.repo.ListByPatient(ctx, patientID)
}

func (e *Engine) publish(ctx context.Context, d *MedicationDelivery) {
	e.metrics.ObserveTransition("delivery", string(d.Status))
	if e.events == nil {
		return
	}
	e.events.Publish(ctx, notification.NewEvent(statusEvents[d.Status], "delivery", d.ID, d.PatientID, *d))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
