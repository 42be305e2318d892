// Package queue defines the booking engine's broker messages together with
// the RabbitMQ publisher and the booking log consumer.
package queue

// Queue names. Each event type has its own durable queue and is published
// through the default exchange with the queue name as routing key.
const (
	QueueBookingConfirmed = "booking.confirmed"
	QueueBookingCancelled = "booking.cancelled"
	QueuePaymentRefunded  = "payment.refunded"
)

// Queues lists every queue the engine publishes to.
var Queues = []string{QueueBookingConfirmed, QueueBookingCancelled, QueuePaymentRefunded}

// BookingConfirmedEvent is published once a booking's payment succeeds. It
// carries enough data for consumers to log or notify without querying the
// primary database.
type BookingConfirmedEvent struct {
	BookingID     uint64 `json:"booking_id"`
	Reference     string `json:"booking_reference"`
	UserID        uint64 `json:"user_id"`
	TripID        uint64 `json:"trip_id"`
	TripNumber    string `json:"trip_number"`
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureTime string `json:"departure_time"`
	Seats         []int  `json:"seats"`
	TotalAmount   string `json:"total_amount"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id"`
	ConfirmedAt   string `json:"confirmed_at"`
}

// BookingCancelledEvent is published when a booking is cancelled by the
// customer, an admin, a failed payment or an expired hold.
type BookingCancelledEvent struct {
	BookingID   uint64 `json:"booking_id"`
	Reference   string `json:"booking_reference"`
	UserID      uint64 `json:"user_id"`
	TripID      uint64 `json:"trip_id"`
	Seats       []int  `json:"seats"`
	Reason      string `json:"reason"`
	Refunded    bool   `json:"refunded"`
	CancelledAt string `json:"cancelled_at"`
}

// PaymentRefundedEvent is published after a refund commits.
type PaymentRefundedEvent struct {
	BookingID           uint64 `json:"booking_id"`
	Reference           string `json:"booking_reference"`
	UserID              uint64 `json:"user_id"`
	TransactionID       string `json:"transaction_id"`
	RefundTransactionID string `json:"refund_transaction_id"`
	RefundAmount        string `json:"refund_amount"`
	Currency            string `json:"currency"`
	Reason              string `json:"reason"`
	RefundedAt          string `json:"refunded_at"`
}
