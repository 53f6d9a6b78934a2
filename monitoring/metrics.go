package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_total",
			Help: "Reservation attempts by ticket type and outcome",
		},
		[]string{"ticket_type", "outcome"},
	)

	reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliations_total",
			Help: "Gateway status events by reported status and outcome",
		},
		[]string{"status", "outcome"},
	)

	sweptTickets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swept_tickets_total",
			Help: "Expired reservations returned to the pool",
		},
	)

	checkoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checkout_reserve_duration_seconds",
			Help:    "Duration of reserve calls including the gateway round trip",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook deliveries by type and result",
		},
		[]string{"type", "result"},
	)
)

// TrackReservation records one reserve attempt
func TrackReservation(ticketType, outcome string) {
	reservations.WithLabelValues(ticketType, outcome).Inc()
}

// TrackReconcile records one gateway event dispatch
func TrackReconcile(status, outcome string) {
	reconciliations.WithLabelValues(status, outcome).Inc()
}

// TrackSwept records released reservations
func TrackSwept(count int) {
	sweptTickets.Add(float64(count))
}

// TrackCheckoutDuration records the latency of a reserve call
func TrackCheckoutDuration(d time.Duration) {
	checkoutDuration.Observe(d.Seconds())
}

// TrackWebhook records one webhook delivery
func TrackWebhook(eventType, result string) {
	webhookEvents.WithLabelValues(eventType, result).Inc()
}
