package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telecare/telecare/internal/platform/notification"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern, eventType string
		want               bool
	}{
		{"delivery.paid", "delivery.paid", true},
		{"delivery.*", "delivery.out_for_delivery", true},
		{"delivery.*", "prescription.ready", false},
		{"*.cancelled", "appointment.cancelled", true},
		{"*.cancelled", "appointment.completed", false},
		{"*", "family_member.invited", true},
		{"prescription", "prescription.ready", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Matches(tt.pattern, tt.eventType), "%s vs %s", tt.pattern, tt.eventType)
	}
}

func TestNewSender_Validation(t *testing.T) {
	_, err := NewSender("ftp://partner.example", "s3cret")
	assert.Error(t, err)
	_, err = NewSender("https://partner.example/hooks", "")
	assert.Error(t, err)
	_, err = NewSender("https://partner.example/hooks", "s3cret")
	assert.NoError(t, err)
}

func TestSender_SignsPayload(t *testing.T) {
	var got *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, err := NewSender(srv.URL, "s3cret")
	require.NoError(t, err)

	evt := notification.NewEvent("prescription.ready", "prescription", uuid.New(), uuid.New(), nil)
	require.NoError(t, s.Send(context.Background(), evt))

	require.NotNil(t, got)
	assert.Equal(t, "prescription.ready", got.Header.Get(EventHeader))
	assert.Equal(t, evt.ID.String(), got.Header.Get(DeliveryHeader))
	assert.True(t, VerifySignature(body, "s3cret", got.Header.Get(SignatureHeader)))
	assert.False(t, VerifySignature(body, "other", got.Header.Get(SignatureHeader)))
}

func TestSender_NonSuccessIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s, err := NewSender(srv.URL, "s3cret")
	require.NoError(t, err)
	err = s.Send(context.Background(), notification.NewEvent("delivery.paid", "delivery", uuid.New(), uuid.New(), nil))
	assert.ErrorContains(t, err, "502")
}

func TestSender_SkipsUnselectedEvents(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	s, err := NewSender(srv.URL, "s3cret", WithEvents("delivery.*"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Send(ctx, notification.NewEvent("appointment.booked", "appointment", uuid.New(), uuid.New(), nil)))
	require.NoError(t, s.Send(ctx, notification.NewEvent("delivery.delivered", "delivery", uuid.New(), uuid.New(), nil)))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSender_RetriedByDispatcher(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	s, err := NewSender(srv.URL, "s3cret")
	require.NoError(t, err)
	d := notification.NewDispatcher(s, zerolog.Nop(), nil, notification.WithBackoff(time.Millisecond))

	d.Publish(context.Background(), notification.NewEvent("appointment.confirmed", "appointment", uuid.New(), uuid.New(), nil))
	d.Wait()
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
