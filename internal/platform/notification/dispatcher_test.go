package notification

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telecare/telecare/internal/platform/metrics"
)

type flakySender struct {
	failures int32
	calls    int32
	sent     *MemorySender
}

func (f *flakySender) Send(ctx context.Context, evt Event) error {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return errors.New("broker unavailable")
	}
	return f.sent.Send(ctx, evt)
}

func TestDispatcher_DeliversEvent(t *testing.T) {
	sender := NewMemorySender()
	d := NewDispatcher(sender, zerolog.Nop(), nil)

	evt := NewEvent("delivery.created", "delivery", uuid.New(), uuid.New(), nil)
	d.Publish(context.Background(), evt)
	d.Wait()

	events := sender.Events()
	require.Len(t, events, 1)
	assert.Equal(t, evt.ID, events[0].ID)
}

func TestDispatcher_RetriesThenSucceeds(t *testing.T) {
	f := &flakySender{failures: 2, sent: NewMemorySender()}
	d := NewDispatcher(f, zerolog.Nop(), nil, WithBackoff(time.Millisecond))

	d.Publish(context.Background(), NewEvent("appointment.booked", "appointment", uuid.New(), uuid.New(), nil))
	d.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&f.calls))
	assert.Len(t, f.sent.Events(), 1)
}

func TestDispatcher_GivesUpAfterAttempts(t *testing.T) {
	sender := NewMemorySender()
	sender.Err = errors.New("broker unavailable")
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(sender, zerolog.Nop(), m, WithAttempts(2), WithBackoff(time.Millisecond))

	d.Publish(context.Background(), NewEvent("prescription.ready", "prescription", uuid.New(), uuid.New(), nil))
	d.Wait()

	assert.Empty(t, sender.Events())
}

func TestDispatcher_IgnoresCallerCancellation(t *testing.T) {
	sender := NewMemorySender()
	d := NewDispatcher(sender, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Publish(ctx, NewEvent("appointment.cancelled", "appointment", uuid.New(), uuid.New(), nil))
	d.Wait()

	assert.Len(t, sender.Events(), 1)
}

func TestRecorder_PublishIsSynchronous(t *testing.T) {
	r := NewRecorder()
	r.Publish(context.Background(), NewEvent("a", "x", uuid.New(), uuid.Nil, nil))
	r.Publish(context.Background(), NewEvent("b", "x", uuid.New(), uuid.Nil, nil))
	assert.Equal(t, []string{"a", "b"}, r.Types())
}

func TestPublishers_FanOut(t *testing.T) {
	first, second := NewRecorder(), NewRecorder()
	ps := Publishers{first, second}

	evt := NewEvent("prescription.ready", "prescription", uuid.New(), uuid.New(), nil)
	ps.Publish(context.Background(), evt)

	assert.Equal(t, []string{"prescription.ready"}, first.Types())
	assert.Equal(t, []string{"prescription.ready"}, second.Types())
}
