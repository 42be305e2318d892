package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/repository"
)

func bookingInput() CreateBookingInput {
	return CreateBookingInput{
		UserID:      5,
		TripID:      1,
		SeatNumbers: []int{3, 4},
		Passengers:  []model.Passenger{{Name: "Ana Silva", Age: 34}, {Name: "Rui Silva", Age: 36}},
		Contact:     Contact{Name: "Ana Silva", Email: "Ana@Example.com", Phone: "+351900000000"},
	}
}

func expectReserve(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT id FROM bookings\s+WHERE trip_id = \? AND booking_status = 'pending' AND hold_expires_at <= \?\s+ORDER BY id$`).
		WithArgs(uint64(1), engineNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT .+ FROM trips WHERE id = \?`).
		WithArgs(uint64(1)).
		WillReturnRows(tripRows(engineTrip()))
	mock.ExpectQuery(`SELECT seat_number FROM seat_occupancy`).
		WithArgs(uint64(1), 3, 4).
		WillReturnRows(sqlmock.NewRows([]string{"seat_number"}))
	mock.ExpectExec(`INSERT INTO seat_occupancy`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE trips SET available_seats = available_seats - \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestCreateBookingWithPromo(t *testing.T) {
	e, mock := newEngineMock(t, nil)

	mock.ExpectBegin()
	expectReserve(mock)
	mock.ExpectQuery(`FROM promo_codes WHERE code = \? FOR UPDATE`).
		WithArgs("SAVE10").
		WillReturnRows(promoRow(activePromo()))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bookings`).
		WithArgs(uint64(9), uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO bookings`).WillReturnResult(sqlmock.NewResult(77, 1))
	mock.ExpectExec(`INSERT INTO tickets`).WillReturnResult(sqlmock.NewResult(500, 2))
	mock.ExpectExec(`UPDATE promo_codes SET used_count = used_count \+ 1`).
		WithArgs(sqlmock.AnyArg(), uint64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	in := bookingInput()
	in.PromoCode = "save10"
	b, err := e.CreateBooking(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, uint64(77), b.ID)
	assert.Equal(t, model.BookingPending, b.Status)
	assert.Equal(t, model.PaymentUnpaid, b.PaymentStatus)
	assert.Equal(t, "80.00", b.Subtotal.StringFixed(2))
	assert.Equal(t, "8.00", b.DiscountAmount.StringFixed(2))
	assert.Equal(t, "72.00", b.TotalAmount.StringFixed(2))
	assert.Equal(t, "ana@example.com", b.PassengerEmail)
	assert.Equal(t, engineNow.Add(15*time.Minute), b.HoldExpiresAt)
	require.NotNil(t, b.PromoCodeID)
	assert.Equal(t, uint64(9), *b.PromoCodeID)
	assert.Equal(t, []int{3, 4}, b.SeatNumbers())
	assert.Equal(t, uint64(501), b.Tickets[1].ID)
	assert.Regexp(t, `^[0-9A-F]{12}$`, b.Reference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookingWithoutPromo(t *testing.T) {
	e, mock := newEngineMock(t, nil)

	mock.ExpectBegin()
	expectReserve(mock)
	mock.ExpectExec(`INSERT INTO bookings`).WillReturnResult(sqlmock.NewResult(78, 1))
	mock.ExpectExec(`INSERT INTO tickets`).WillReturnResult(sqlmock.NewResult(600, 2))
	mock.ExpectCommit()

	b, err := e.CreateBooking(context.Background(), bookingInput())
	require.NoError(t, err)
	assert.Nil(t, b.PromoCodeID)
	assert.True(t, b.DiscountAmount.IsZero())
	assert.Equal(t, "80.00", b.TotalAmount.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookingSeatsTaken(t *testing.T) {
	e, mock := newEngineMock(t, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM bookings\s+WHERE trip_id = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`FROM trips WHERE id = \?`).WillReturnRows(tripRows(engineTrip()))
	mock.ExpectQuery(`SELECT seat_number FROM seat_occupancy`).
		WillReturnRows(sqlmock.NewRows([]string{"seat_number"}).AddRow(4))
	mock.ExpectRollback()

	_, err := e.CreateBooking(context.Background(), bookingInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSeatsUnavailable)
	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, []int{4}, de.Details["seats"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookingPromoExhaustedRollsBack(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	p := activePromo()
	p.UsageLimit = intPtr(1)
	p.UsedCount = 1

	mock.ExpectBegin()
	expectReserve(mock)
	mock.ExpectQuery(`FROM promo_codes WHERE code = \? FOR UPDATE`).WillReturnRows(promoRow(p))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bookings`).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectRollback()

	in := bookingInput()
	in.PromoCode = "SAVE10"
	_, err := e.CreateBooking(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrPromoExhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookingTripNotFound(t *testing.T) {
	e, mock := newEngineMock(t, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM bookings\s+WHERE trip_id = \?`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`FROM trips WHERE id = \?`).WillReturnRows(sqlmock.NewRows(tripCols))
	mock.ExpectRollback()

	_, err := e.CreateBooking(context.Background(), bookingInput())
	assert.ErrorIs(t, err, domain.ErrTripNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookingDepartedTrip(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	trip := engineTrip()
	trip.DepartureTime = engineNow.Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM bookings\s+WHERE trip_id = \?`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`FROM trips WHERE id = \?`).WillReturnRows(tripRows(trip))
	mock.ExpectRollback()

	_, err := e.CreateBooking(context.Background(), bookingInput())
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookingExpiresStaleHoldsFirst(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	stale := pendingBooking()
	stale.ID = 70
	stale.Reference = "STALE0000001"
	stale.HoldExpiresAt = engineNow.Add(-time.Minute)

	paid := pendingBooking()
	paid.ID = 71
	paid.Status = model.BookingConfirmed

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM bookings\s+WHERE trip_id = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(70).AddRow(71))
	mock.ExpectQuery(`FROM bookings WHERE id = \? FOR UPDATE`).
		WithArgs(uint64(70)).
		WillReturnRows(bookingRows(stale))
	mock.ExpectQuery(`FROM tickets WHERE booking_id = \?`).
		WithArgs(uint64(70)).
		WillReturnRows(ticketRows(70, model.TicketPending, 3))
	mock.ExpectExec(`DELETE FROM seat_occupancy WHERE trip_id = \? AND booking_reference = \?`).
		WithArgs(uint64(1), "STALE0000001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE trips SET available_seats = LEAST`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bookings SET booking_status = \?, payment_status = \?, cancelled_at = \?`).
		WithArgs("cancelled", "unpaid", engineNow, reasonHoldExpired, engineNow, uint64(70)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE tickets SET status = \? WHERE booking_id = \?`).
		WithArgs("cancelled", uint64(70)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE payments SET status = 'failed'`).
		WithArgs(codeHoldExpired, sqlmock.AnyArg(), engineNow, uint64(70)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// 71 was paid between the scan and the lock and is left alone.
	mock.ExpectQuery(`FROM bookings WHERE id = \? FOR UPDATE`).
		WithArgs(uint64(71)).
		WillReturnRows(bookingRows(paid))
	mock.ExpectQuery(`FROM trips WHERE id = \?`).WillReturnRows(tripRows(engineTrip()))
	mock.ExpectQuery(`SELECT seat_number FROM seat_occupancy`).
		WillReturnRows(sqlmock.NewRows([]string{"seat_number"}))
	mock.ExpectExec(`INSERT INTO seat_occupancy`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE trips SET available_seats = available_seats - \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO bookings`).WillReturnResult(sqlmock.NewResult(79, 1))
	mock.ExpectExec(`INSERT INTO tickets`).WillReturnResult(sqlmock.NewResult(700, 2))
	mock.ExpectCommit()

	_, err := e.CreateBooking(context.Background(), bookingInput())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookingValidation(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	cases := map[string]func(in *CreateBookingInput){
		"no seats":          func(in *CreateBookingInput) { in.SeatNumbers = nil },
		"passenger count":   func(in *CreateBookingInput) { in.Passengers = in.Passengers[:1] },
		"missing contact":   func(in *CreateBookingInput) { in.Contact.Email = "" },
		"blank passenger":   func(in *CreateBookingInput) { in.Passengers[0].Name = " " },
		"negative age":      func(in *CreateBookingInput) { in.Passengers[1].Age = -1 },
		"missing trip id":   func(in *CreateBookingInput) { in.TripID = 0 },
		"anonymous request": func(in *CreateBookingInput) { in.UserID = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := bookingInput()
			mutate(&in)
			_, err := e.CreateBooking(context.Background(), in)
			assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelPendingBookingReleasesSeats(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	b := pendingBooking()

	mock.ExpectQuery(`FROM bookings WHERE id = \?`).WithArgs(uint64(77)).WillReturnRows(bookingRows(b))
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \? FOR UPDATE`).WillReturnRows(bookingRows(b))
	mock.ExpectQuery(`FROM trips WHERE id = \?`).WillReturnRows(tripRows(engineTrip()))
	mock.ExpectQuery(`FROM tickets WHERE booking_id = \?`).WillReturnRows(ticketRows(77, model.TicketPending, 3, 4))
	mock.ExpectExec(`DELETE FROM seat_occupancy`).
		WithArgs(uint64(1), b.Reference).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE trips SET available_seats = LEAST\(total_seats, available_seats \+ \?\)`).
		WithArgs(2, sqlmock.AnyArg(), uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bookings SET booking_status = \?, payment_status = \?, cancelled_at = \?`).
		WithArgs("cancelled", "unpaid", engineNow, "changed plans", engineNow, uint64(77)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE tickets SET status = \?`).
		WithArgs("cancelled", uint64(77)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE payments SET status = 'failed'`).
		WithArgs(codeCancelled, sqlmock.AnyArg(), engineNow, uint64(77)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	out, err := e.CancelBooking(context.Background(), customer, 77, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, out.Status)
	assert.Equal(t, "changed plans", out.CancellationReason)
	assert.Equal(t, []int{3, 4}, out.SeatNumbers())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelBookingOfAnotherUser(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	b := pendingBooking()
	b.UserID = 6

	mock.ExpectQuery(`FROM bookings WHERE id = \?`).WillReturnRows(bookingRows(b))

	_, err := e.CancelBooking(context.Background(), customer, 77, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelTerminalBooking(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	b := pendingBooking()
	b.Status = model.BookingCancelled

	mock.ExpectQuery(`FROM bookings WHERE id = \?`).WillReturnRows(bookingRows(b))
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \? FOR UPDATE`).WillReturnRows(bookingRows(b))
	mock.ExpectRollback()

	_, err := e.CancelBooking(context.Background(), customer, 77, "")
	assert.ErrorIs(t, err, domain.ErrCancellationWindowClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelUnknownBooking(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	mock.ExpectQuery(`FROM bookings WHERE id = \?`).WillReturnRows(sqlmock.NewRows(bookingCols))

	_, err := e.CancelBooking(context.Background(), customer, 1, "")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestExpirePending(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	b := pendingBooking()
	b.HoldExpiresAt = engineNow.Add(-time.Second)

	mock.ExpectQuery(`SELECT id FROM bookings WHERE booking_status = 'pending' AND hold_expires_at <= \?`).
		WithArgs(engineNow, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \? FOR UPDATE`).WillReturnRows(bookingRows(b))
	mock.ExpectQuery(`FROM tickets WHERE booking_id = \?`).WillReturnRows(ticketRows(77, model.TicketPending, 3, 4))
	mock.ExpectExec(`DELETE FROM seat_occupancy`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE trips SET available_seats = LEAST`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bookings SET booking_status = \?`).
		WithArgs("cancelled", "unpaid", engineNow, reasonHoldExpired, engineNow, uint64(77)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE tickets SET status = \?`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE payments SET status = 'failed'`).
		WithArgs(codeHoldExpired, sqlmock.AnyArg(), engineNow, uint64(77)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := e.ExpirePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpirePendingSkipsPaidBooking(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	b := pendingBooking()
	b.Status = model.BookingConfirmed
	b.HoldExpiresAt = engineNow.Add(-time.Second)

	mock.ExpectQuery(`SELECT id FROM bookings WHERE booking_status = 'pending'`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \? FOR UPDATE`).WillReturnRows(bookingRows(b))
	mock.ExpectCommit()

	n, err := e.ExpirePending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBookingIncludesTickets(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	mock.ExpectQuery(`FROM bookings WHERE id = \?`).WillReturnRows(bookingRows(pendingBooking()))
	mock.ExpectQuery(`FROM tickets WHERE booking_id = \?`).WillReturnRows(ticketRows(77, model.TicketPending, 3, 4))

	b, err := e.GetBooking(context.Background(), customer, 77)
	require.NoError(t, err)
	assert.Len(t, b.Tickets, 2)

	mock.ExpectQuery(`FROM bookings WHERE id = \?`).WillReturnRows(bookingRows(pendingBooking()))
	admin := model.Actor{UserID: 1, Role: model.RoleAdmin}
	mock.ExpectQuery(`FROM tickets WHERE booking_id = \?`).WillReturnRows(ticketRows(77, model.TicketPending, 3))
	_, err = e.GetBooking(context.Background(), admin, 77)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListBookingsRejectsUnknownStatus(t *testing.T) {
	e, _ := newEngineMock(t, nil)
	_, err := e.ListBookings(context.Background(), 5, repository.BookingFilter{Status: "bogus"})
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
}
