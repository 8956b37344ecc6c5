package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/telecare/telecare/internal/domain/access"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/db"
	"github.com/telecare/telecare/internal/platform/metrics"
	"github.com/telecare/telecare/internal/platform/notification"
	"github.com/telecare/telecare/internal/platform/video"
)

var tracer = otel.Tracer("telecare.internal.domain.scheduling")

const (
	EventAppointmentBooked      = "appointment.booked"
	EventAppointmentConfirmed   = "appointment.confirmed"
	EventAppointmentCancelled   = "appointment.cancelled"
	EventAppointmentCompleted   = "appointment.completed"
	EventAppointmentRescheduled = "appointment.rescheduled"
	EventAppointmentNoShow      = "appointment.no_show"
)

// Permissions is the subset of the access resolver scheduling relies on.
type Permissions interface {
	Require(ctx context.Context, actor auth.Actor, patientID uuid.UUID, p access.PermissionType) error
}

// Config bounds slot durations, in minutes.
type Config struct {
	MinSlotMinutes int
	MaxSlotMinutes int
}

func DefaultConfig() Config {
	return Config{MinSlotMinutes: 15, MaxSlotMinutes: 240}
}

type Option func(*Service)

func WithVideo(v video.SessionManager) Option { return func(s *Service) { s.video = v } }

func WithEvents(p notification.Publisher) Option { return func(s *Service) { s.events = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// Service is the Slot Ledger and the Appointment Lifecycle Manager. Every
// state change runs inside one tx.WithinTx call; events and video session
// calls happen only after it commits.
type Service struct {
	tx           db.Transactor
	slots        SlotRepository
	appointments AppointmentRepository
	perms        Permissions
	cfg          Config

	video   video.SessionManager
	events  notification.Publisher
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(tx db.Transactor, slots SlotRepository, appts AppointmentRepository, perms Permissions, cfg Config, opts ...Option) *Service {
	s := &Service{
		tx:           tx,
		slots:        slots,
		appointments: appts,
		perms:        perms,
		cfg:          cfg,
		logger:       zerolog.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// publish sends a copy of a; the dispatcher encodes it on another goroutine.
func (s *Service) publish(ctx context.Context, eventType string, a *Appointment) {
	s.metrics.ObserveTransition("appointment", string(a.Status))
	if s.events == nil {
		return
	}
	snap := *a
	s.events.Publish(ctx, notification.NewEvent(eventType, "appointment", a.ID, a.PatientID, snap))
}

// openVideo creates the consultation room and records it on the
// appointment. Failures are logged only.
func (s *Service) openVideo(ctx context.Context, a *Appointment) {
	if s.video == nil || a.Mode != ModeVirtual {
		return
	}
	room, err := s.video.CreateSession(ctx, a.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("create video session failed")
		return
	}
	from := a.State()
	a.VideoRoom = &room
	if err := s.appointments.Update(ctx, a, from); err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("record video room failed")
	}
}

func (s *Service) closeVideo(ctx context.Context, a *Appointment) {
	if s.video == nil || a.Mode != ModeVirtual || a.VideoRoom == nil {
		return
	}
	if err := s.video.EndSession(ctx, a.ID); err != nil {
		s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("end video session failed")
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
