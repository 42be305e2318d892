package service

import (
	"bytes"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/trip-booking/internal/model"
)

var engineNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

var customer = model.Actor{UserID: 5, Role: model.RoleCustomer}

func newEngineMock(t *testing.T, gw Gateway) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	if gw == nil {
		gw = NewSimulator(SimulatorConfig{Now: fixedClock(engineNow), Seed: 1})
	}
	e := NewEngine(db, Options{
		Now:     fixedClock(engineNow),
		IDs:     NewIDGenerator(fixedClock(engineNow), bytes.NewReader(bytes.Repeat([]byte{0xab}, 4096))),
		Gateway: gw,
	})
	return e, mock
}

var tripCols = []string{"id", "trip_number", "origin", "destination", "departure_time", "arrival_time",
	"base_fare", "total_seats", "available_seats", "status", "operator_name", "vehicle_type", "created_at", "updated_at"}

func engineTrip() model.Trip {
	return model.Trip{
		ID:             1,
		TripNumber:     "TR100",
		Origin:         "Lisbon",
		Destination:    "Porto",
		DepartureTime:  engineNow.Add(48 * time.Hour),
		ArrivalTime:    engineNow.Add(51 * time.Hour),
		BaseFare:       dec("40.00"),
		TotalSeats:     40,
		AvailableSeats: 38,
		Status:         model.TripScheduled,
		OperatorName:   "Rede Expressos",
		VehicleType:    "Bus",
	}
}

func tripRows(trips ...model.Trip) *sqlmock.Rows {
	rows := sqlmock.NewRows(tripCols)
	for _, t := range trips {
		rows.AddRow(t.ID, t.TripNumber, t.Origin, t.Destination, t.DepartureTime, t.ArrivalTime,
			t.BaseFare.String(), t.TotalSeats, t.AvailableSeats, string(t.Status), t.OperatorName, t.VehicleType,
			engineNow, engineNow)
	}
	return rows
}

var bookingCols = []string{"id", "booking_reference", "user_id", "trip_id", "promo_code_id", "passenger_name",
	"passenger_email", "passenger_phone", "subtotal", "discount_amount", "total_amount", "booking_status",
	"payment_status", "num_seats", "special_requests", "hold_expires_at", "cancelled_at", "cancellation_reason",
	"created_at", "updated_at"}

func pendingBooking() model.Booking {
	return model.Booking{
		ID:             77,
		Reference:      "ABCDEF123456",
		UserID:         5,
		TripID:         1,
		PassengerName:  "Ana Silva",
		PassengerEmail: "ana@example.com",
		PassengerPhone: "+351900000000",
		Subtotal:       dec("80.00"),
		DiscountAmount: dec("8.00"),
		TotalAmount:    dec("72.00"),
		Status:         model.BookingPending,
		PaymentStatus:  model.PaymentUnpaid,
		NumSeats:       2,
		HoldExpiresAt:  engineNow.Add(10 * time.Minute),
	}
}

func bookingRows(bs ...model.Booking) *sqlmock.Rows {
	rows := sqlmock.NewRows(bookingCols)
	for _, b := range bs {
		var cancelled driver.Value
		if b.CancelledAt != nil {
			cancelled = *b.CancelledAt
		}
		rows.AddRow(b.ID, b.Reference, b.UserID, b.TripID, nil, b.PassengerName, b.PassengerEmail,
			b.PassengerPhone, b.Subtotal.String(), b.DiscountAmount.String(), b.TotalAmount.String(),
			string(b.Status), string(b.PaymentStatus), b.NumSeats, nil, b.HoldExpiresAt, cancelled,
			b.CancellationReason, engineNow, engineNow)
	}
	return rows
}

var ticketCols = []string{"id", "booking_id", "seat_number", "passenger_name", "passenger_age", "price", "status", "created_at"}

func ticketRows(bookingID uint64, status model.TicketStatus, seats ...int) *sqlmock.Rows {
	rows := sqlmock.NewRows(ticketCols)
	for i, s := range seats {
		rows.AddRow(500+i, bookingID, s, "Passenger", 30, "40.00", string(status), engineNow)
	}
	return rows
}

var paymentCols = []string{"id", "transaction_id", "booking_id", "user_id", "amount", "currency", "payment_method",
	"status", "payment_details", "gateway_name", "gateway_response", "is_demo", "demo_note", "failure_reason",
	"failure_code", "refund_amount", "refund_date", "refund_transaction_id", "refund_reason", "initiated_at",
	"completed_at"}

const storedGatewayResponse = `{"gateway":"DEMO_PAYMENT_GATEWAY","gateway_transaction_id":"GATEWAY_DEMO_TXN_20260601085500_01020304","status":"success"}`

func paymentRows(id uint64, txnID string, bookingID uint64, status model.TransactionStatus, response string) *sqlmock.Rows {
	var gw driver.Value
	if response != "" {
		gw = []byte(response)
	}
	return sqlmock.NewRows(paymentCols).AddRow(id, txnID, bookingID, 5, "72.00", "USD", "credit_card",
		string(status), []byte(`{"card_number":"****-****-****-1111"}`), GatewayName, gw, true, DemoNote,
		nil, nil, nil, nil, nil, nil, engineNow.Add(-5*time.Minute), nil)
}
