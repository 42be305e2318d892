package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Booking records one customer's attempt to occupy seats on a trip. It is
// created pending together with its tickets, the seat occupancy rows and
// the promo redemption, and afterwards moves only along the edges allowed
// by BookingStatus.CanTransition.
//
// Fields:
//  Reference      – unique public booking code.
//  PromoCodeID    – promo applied at creation time, if any.
//  Subtotal       – seats × trip base fare.
//  DiscountAmount – discount granted by the promo.
//  TotalAmount    – amount the payment must match exactly.
//  HoldExpiresAt  – pending bookings past this instant are expired.
type Booking struct {
	ID                 uint64               `json:"id"`                            // bookings.id
	Reference          string               `json:"booking_reference"`             // bookings.booking_reference
	UserID             uint64               `json:"user_id"`                       // bookings.user_id
	TripID             uint64               `json:"trip_id"`                       // bookings.trip_id
	PromoCodeID        *uint64              `json:"promo_code_id,omitempty"`       // bookings.promo_code_id (nullable)
	PassengerName      string               `json:"passenger_name"`                // bookings.passenger_name
	PassengerEmail     string               `json:"passenger_email"`               // bookings.passenger_email
	PassengerPhone     string               `json:"passenger_phone"`               // bookings.passenger_phone
	Subtotal           decimal.Decimal      `json:"subtotal"`                      // bookings.subtotal
	DiscountAmount     decimal.Decimal      `json:"discount_amount"`               // bookings.discount_amount
	TotalAmount        decimal.Decimal      `json:"total_amount"`                  // bookings.total_amount
	Status             BookingStatus        `json:"booking_status"`                // bookings.booking_status
	PaymentStatus      BookingPaymentStatus `json:"payment_status"`                // bookings.payment_status
	NumSeats           int                  `json:"num_seats"`                     // bookings.num_seats
	SpecialRequests    string               `json:"special_requests,omitempty"`    // bookings.special_requests
	HoldExpiresAt      time.Time            `json:"hold_expires_at"`               // bookings.hold_expires_at
	CancelledAt        *time.Time           `json:"cancelled_at,omitempty"`        // bookings.cancelled_at (nullable)
	CancellationReason string               `json:"cancellation_reason,omitempty"` // bookings.cancellation_reason
	CreatedAt          time.Time            `json:"created_at"`                    // bookings.created_at
	UpdatedAt          time.Time            `json:"updated_at"`                    // bookings.updated_at

	Tickets []Ticket `json:"tickets,omitempty"`
}

// HoldExpired reports whether a pending booking has outlived its hold.
func (b Booking) HoldExpired(now time.Time) bool {
	return b.Status == BookingPending && !b.HoldExpiresAt.After(now)
}

// SeatNumbers lists the seats held through the booking's tickets.
func (b Booking) SeatNumbers() []int {
	out := make([]int, 0, len(b.Tickets))
	for _, t := range b.Tickets {
		out = append(out, t.SeatNumber)
	}
	return out
}

// Ticket is one seat assignment within a booking.
type Ticket struct {
	ID            uint64          `json:"id"`             // tickets.id
	BookingID     uint64          `json:"booking_id"`     // tickets.booking_id
	SeatNumber    int             `json:"seat_number"`    // tickets.seat_number
	PassengerName string          `json:"passenger_name"` // tickets.passenger_name
	PassengerAge  int             `json:"passenger_age"`  // tickets.passenger_age
	Price         decimal.Decimal `json:"price"`          // tickets.price
	Status        TicketStatus    `json:"status"`         // tickets.status
	CreatedAt     time.Time       `json:"created_at"`     // tickets.created_at
}

// Passenger is the traveller data collected for one seat.
type Passenger struct {
	Name string `json:"name" validate:"required,max=200"`
	Age  int    `json:"age" validate:"gte=0,lte=130"`
}
