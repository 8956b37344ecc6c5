// Package metrics holds the prometheus collectors for the coordination core.
// All methods are safe on a nil receiver so collaborators can run without metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	slotBookings    *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	payments        *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	bookingDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		slotBookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "scheduling",
			Name:      "slot_bookings_total",
			Help:      "Slot booking attempts by outcome",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telecare",
			Name:      "state_transitions_total",
			Help:      "Lifecycle state transitions applied",
		}, []string{"entity", "to"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "payment",
			Name:      "confirmations_total",
			Help:      "Payment confirmation callbacks by kind and outcome",
		}, []string{"kind", "outcome"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "notification",
			Name:      "dispatch_total",
			Help:      "Domain event dispatches by status",
		}, []string{"event_type", "status"}),
		bookingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "telecare",
			Subsystem: "scheduling",
			Name:      "booking_duration_seconds",
			Help:      "Time spent inside the booking transaction",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.slotBookings, m.transitions, m.payments, m.dispatches, m.bookingDuration)
	return m
}

// ObserveSlotBooking records "booked", "conflict" or "error".
func (m *Metrics) ObserveSlotBooking(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.slotBookings.WithLabelValues(outcome).Inc()
	m.bookingDuration.Observe(seconds)
}

func (m *Metrics) ObserveTransition(entity, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, to).Inc()
}

func (m *Metrics) ObservePayment(kind, outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveDispatch(eventType string, ok bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !ok {
		status = "failed"
	}
	m.dispatches.WithLabelValues(eventType, status).Inc()
}
