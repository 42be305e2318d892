package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trip represents a scheduled journey between two cities. It owns the
// authoritative seat counters: AvailableSeats never leaves the range
// [0, TotalSeats] and is only changed by the seat ledger inside a booking,
// payment or refund transaction. Seat numbers on a trip run from 1 to
// TotalSeats.
//
// Fields:
//  ID             – primary key identifier.
//  TripNumber     – unique operator-facing trip code.
//  Origin         – departure city.
//  Destination    – arrival city.
//  DepartureTime  – scheduled departure (UTC).
//  ArrivalTime    – scheduled arrival (UTC).
//  BaseFare       – price of one seat.
//  TotalSeats     – physical capacity.
//  AvailableSeats – seats not held by a non-cancelled booking.
//  Status         – operational state (scheduled, boarding, ...).
//  OperatorName   – carrier running the trip.
//  VehicleType    – e.g. "Bus", "Train".
type Trip struct {
	ID             uint64          `json:"id"`              // trips.id
	TripNumber     string          `json:"trip_number"`     // trips.trip_number
	Origin         string          `json:"origin"`          // trips.origin
	Destination    string          `json:"destination"`     // trips.destination
	DepartureTime  time.Time       `json:"departure_time"`  // trips.departure_time
	ArrivalTime    time.Time       `json:"arrival_time"`    // trips.arrival_time
	BaseFare       decimal.Decimal `json:"base_fare"`       // trips.base_fare
	TotalSeats     int             `json:"total_seats"`     // trips.total_seats
	AvailableSeats int             `json:"available_seats"` // trips.available_seats
	Status         TripStatus      `json:"status"`          // trips.status
	OperatorName   string          `json:"operator_name"`   // trips.operator_name
	VehicleType    string          `json:"vehicle_type"`    // trips.vehicle_type
	CreatedAt      time.Time       `json:"created_at"`      // trips.created_at
	UpdatedAt      time.Time       `json:"updated_at"`      // trips.updated_at
}

// DurationMinutes is the scheduled travel time.
func (t Trip) DurationMinutes() int {
	return int(t.ArrivalTime.Sub(t.DepartureTime).Minutes())
}

// Departed reports whether the trip has left at now.
func (t Trip) Departed(now time.Time) bool {
	return !t.DepartureTime.After(now)
}

// Bookable reports whether new bookings may be placed at now.
func (t Trip) Bookable(now time.Time) bool {
	return t.Status == TripScheduled && !t.Departed(now)
}

// ValidSeat reports whether n is part of the trip's layout.
func (t Trip) ValidSeat(n int) bool { return n >= 1 && n <= t.TotalSeats }
