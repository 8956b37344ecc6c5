package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/telecare/telecare/internal/platform/metrics"
)

var dispatchTracer = otel.Tracer("telecare.internal.platform.notification")

// Sender delivers one event to a downstream channel.
type Sender interface {
	Send(ctx context.Context, evt Event) error
}

// Publisher is what lifecycle managers depend on.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Publishers hands each event to every publisher in order.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, evt Event) {
	for _, p := range ps {
		p.Publish(ctx, evt)
	}
}

type DispatcherOption func(*Dispatcher)

func WithAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) { d.attempts = n }
}

func WithBackoff(b time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.backoff = b }
}

func WithTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// Dispatcher sends events asynchronously with bounded retries.
type Dispatcher struct {
	sender   Sender
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(sender Sender, logger zerolog.Logger, m *metrics.Metrics, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:   sender,
		logger:   logger,
		metrics:  m,
		attempts: 3,
		backoff:  200 * time.Millisecond,
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish returns immediately. The send runs on a context detached from the
// caller's cancellation.
func (d *Dispatcher) Publish(ctx context.Context, evt Event) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		d.send(sendCtx, evt)
	}()
}

func (d *Dispatcher) send(ctx context.Context, evt Event) {
	ctx, span := dispatchTracer.Start(ctx, "notification.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("telecare.event_type", evt.Type),
		attribute.String("telecare.entity_id", evt.EntityID.String()),
	)

	var lastErr error
retry:
	for attempt := 1; ; attempt++ {
		if lastErr = d.sender.Send(ctx, evt); lastErr == nil {
			d.metrics.ObserveDispatch(evt.Type, true)
			return
		}
		if attempt >= d.attempts {
			break
		}
		select {
		case <-time.After(d.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			lastErr = ctx.Err()
			break retry
		}
	}

	span.RecordError(lastErr)
	d.metrics.ObserveDispatch(evt.Type, false)
	d.logger.Error().Err(lastErr).
		Str("event_id", evt.ID.String()).
		Str("event_type", evt.Type).
		Str("entity_id", evt.EntityID.String()).
		Msg("event dispatch failed")
}

// Wait blocks until every in-flight dispatch has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
