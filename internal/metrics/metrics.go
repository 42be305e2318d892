// Package metrics holds the Prometheus collectors of the booking engine.
// Collectors register with the default registry and are scraped through
// /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bookings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_operations_total",
			Help: "Booking operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	payments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transactions_total",
			Help: "Payment transactions by method and final status",
		},
		[]string{"method", "status"},
	)

	refunds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_refunds_total",
			Help: "Completed refunds",
		},
	)

	seatConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seat_conflicts_total",
			Help: "Reservations rejected because a seat was already held",
		},
	)

	promoRedemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_redemptions_total",
			Help: "Promo evaluations by result",
		},
		[]string{"result"},
	)

	expiredHolds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_holds_expired_total",
			Help: "Pending bookings released after their hold window",
		},
	)

	eventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_publish_failures_total",
			Help: "Events that could not be delivered to the broker",
		},
		[]string{"queue"},
	)

	txRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_transaction_retries_total",
			Help: "Transactions restarted after a deadlock or lock wait timeout",
		},
	)

	bookingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booking_operation_duration_seconds",
			Help:    "Latency of booking engine operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// BookingOutcome counts one booking operation. outcome is "ok" or an error code.
func BookingOutcome(operation, outcome string) {
	bookings.WithLabelValues(operation, outcome).Inc()
}

// PaymentSettled counts a payment reaching status.
func PaymentSettled(method, status string) {
	payments.WithLabelValues(method, status).Inc()
}

// RefundCompleted counts one refund written to the ledger.
func RefundCompleted() { refunds.Inc() }

// SeatConflict counts one reservation lost to an already held seat.
func SeatConflict() { seatConflicts.Inc() }

// TxRetried counts one transaction restart.
func TxRetried() { txRetries.Inc() }

// PromoEvaluated counts a promo evaluation; result is "applied" or an error code.
func PromoEvaluated(result string) {
	promoRedemptions.WithLabelValues(result).Inc()
}

// HoldsExpired adds n released holds.
func HoldsExpired(n int) {
	if n > 0 {
		expiredHolds.Add(float64(n))
	}
}

// EventPublishFailed counts an event dropped for queue.
func EventPublishFailed(queue string) {
	eventPublishFailures.WithLabelValues(queue).Inc()
}

// ObserveSince records the time elapsed since start under operation.
func ObserveSince(operation string, start time.Time) {
	bookingLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
