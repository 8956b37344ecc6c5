package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/config"
	"github.com/telecare/telecare/internal/domain/access"
	"github.com/telecare/telecare/internal/domain/fulfillment"
	"github.com/telecare/telecare/internal/domain/payment"
	"github.com/telecare/telecare/internal/domain/prescription"
	"github.com/telecare/telecare/internal/domain/scheduling"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/db"
	"github.com/telecare/telecare/internal/platform/idempotency"
	"github.com/telecare/telecare/internal/platform/metrics"
	"github.com/telecare/telecare/internal/platform/middleware"
	"github.com/telecare/telecare/internal/platform/notification"
	"github.com/telecare/telecare/internal/platform/video"
	"github.com/telecare/telecare/internal/platform/webhook"
	"github.com/telecare/telecare/internal/platform/websocket"
)

// app holds the wired coordination core shared by every command.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	access        *access.Service
	scheduling    *scheduling.Service
	payments      *payment.Service
	prescriptions *prescription.Service
	fulfillment   *fulfillment.Engine

	dispatcher *notification.Dispatcher
	webhooks   *notification.Dispatcher
	hub        *websocket.Hub
	registry   *prometheus.Registry
	pinger     db.Pinger
	closers    []func()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

type repositories struct {
	tx            db.Transactor
	members       access.FamilyMemberRepository
	slots         scheduling.SlotRepository
	appointments  scheduling.AppointmentRepository
	prescriptions prescription.Repository
	deliveries    fulfillment.Repository
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	consultationFee, deliveryFee, err := cfg.Fees()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	repos, err := a.openStorage(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		a.registry = prometheus.NewRegistry()
		m = metrics.New(a.registry)
	}

	var sender notification.Sender = notification.NewLogSender(logger)
	if cfg.KafkaBrokers != "" {
		kafka := notification.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, func() { _ = kafka.Close() })
		sender = kafka
		logger.Info().Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
	}
	a.dispatcher = notification.NewDispatcher(sender, logger, m)
	a.hub = websocket.NewHub(logger)
	events := notification.Publishers{a.dispatcher, a.hub}
	if cfg.WebhookURL != "" {
		hook, err := webhook.NewSender(cfg.WebhookURL, cfg.WebhookSecret, webhook.WithEvents(cfg.WebhookEvents...))
		if err != nil {
			a.close()
			return nil, err
		}
		a.webhooks = notification.NewDispatcher(hook, logger, m)
		events = append(events, a.webhooks)
	}

	var claims idempotency.Store = idempotency.NewMemoryStore()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = client.Close() })
		claims = idempotency.NewRedisStore(client)
	}

	a.access = access.NewService(repos.members, events, logger)
	resolver := a.access.Resolver()

	a.scheduling = scheduling.NewService(repos.tx, repos.slots, repos.appointments, resolver,
		scheduling.Config{MinSlotMinutes: cfg.SlotMinMinutes, MaxSlotMinutes: cfg.SlotMaxMinutes},
		scheduling.WithVideo(video.NewLogSessions(logger)),
		scheduling.WithEvents(events),
		scheduling.WithMetrics(m),
		scheduling.WithLogger(logger),
	)

	a.prescriptions = prescription.NewService(repos.tx, repos.prescriptions, a.scheduling, resolver,
		prescription.WithEvents(events),
		prescription.WithMetrics(m),
		prescription.WithLogger(logger),
		prescription.WithValidity(cfg.PrescriptionValidity()),
	)

	a.fulfillment = fulfillment.NewEngine(repos.tx, repos.deliveries, a.prescriptions, resolver,
		fulfillment.NewStrategies(fulfillment.Fees{Pickup: 0, HomeDelivery: deliveryFee}),
		fulfillment.WithEvents(events),
		fulfillment.WithMetrics(m),
		fulfillment.WithLogger(logger),
	)

	registry := payment.NewRegistry(
		scheduling.NewPaymentStrategy(a.scheduling, resolver, consultationFee),
		fulfillment.NewPaymentStrategy(a.fulfillment, resolver),
	)
	a.payments = payment.NewService(registry, claims, m, logger)

	return a, nil
}

func (a *app) openStorage(ctx context.Context) (*repositories, error) {
	if a.cfg.Storage == config.StorageMemory {
		a.logger.Warn().Msg("using in-memory storage; state is lost on restart")
		return &repositories{
			tx:            db.NewMemoryTransactor(),
			members:       access.NewFamilyMemberRepoMemory(),
			slots:         scheduling.NewSlotRepoMemory(),
			appointments:  scheduling.NewAppointmentRepoMemory(),
			prescriptions: prescription.NewRepoMemory(),
			deliveries:    fulfillment.NewRepoMemory(),
		}, nil
	}

	pool, err := db.NewPool(ctx, a.cfg.DatabaseURL, a.cfg.DBMaxConns, a.cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	a.pinger = pool
	a.logger.Info().Msg("connected to database")

	return &repositories{
		tx:            db.NewPoolTransactor(pool),
		members:       access.NewFamilyMemberRepoPG(pool),
		slots:         scheduling.NewSlotRepoPG(pool),
		appointments:  scheduling.NewAppointmentRepoPG(pool),
		prescriptions: prescription.NewRepoPG(pool),
		deliveries:    fulfillment.NewRepoPG(pool),
	}, nil
}

// router builds the HTTP surface. Health and metrics sit outside auth.
func (a *app) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(a.logger)

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", db.HealthHandler(a.pinger))
	if a.pinger != nil {
		e.GET("/health/db", db.HealthHandler(a.pinger))
	}
	if a.registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	}

	var authn echo.MiddlewareFunc
	if a.cfg.IsDev() && a.cfg.AuthIssuer == "" && a.cfg.JWTSigningKey == "" {
		a.logger.Warn().Msg("dev auth enabled: identity is taken from X-Dev-* headers")
		authn = auth.DevAuthMiddleware()
	} else {
		authn = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     a.cfg.AuthIssuer,
			Audience:   a.cfg.AuthAudience,
			JWKSURL:    a.cfg.AuthJWKSURL,
			SigningKey: []byte(a.cfg.JWTSigningKey),
		})
	}

	api := e.Group("/api/v1", authn)
	access.NewHandler(a.access).RegisterRoutes(api)
	scheduling.NewHandler(a.scheduling).RegisterRoutes(api)
	payment.NewHandler(a.payments).RegisterRoutes(api)
	prescription.NewHandler(a.prescriptions).RegisterRoutes(api)
	fulfillment.NewHandler(a.fulfillment).RegisterRoutes(api)
	websocket.NewHandler(a.hub, a.access.Resolver(), a.cfg.CORSOrigins).RegisterRoutes(api)
	return e
}

// close drains pending event dispatches before releasing connections.
func (a *app) close() {
	for _, d := range []*notification.Dispatcher{a.dispatcher, a.webhooks} {
		if d != nil {
			d.Wait()
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
