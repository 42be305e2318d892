package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/model"
)

func confirmedBooking() model.Booking {
	b := pendingBooking()
	b.Status = model.BookingConfirmed
	b.PaymentStatus = model.PaymentPaid
	return b
}

func expectRefundPreflight(mock sqlmock.Sqlmock, payments *sqlmock.Rows) {
	mock.ExpectQuery(`FROM bookings WHERE id = \?`).WithArgs(uint64(77)).WillReturnRows(bookingRows(confirmedBooking()))
	mock.ExpectQuery(`FROM trips WHERE id = \?`).WithArgs(uint64(1)).WillReturnRows(tripRows(engineTrip()))
	mock.ExpectQuery(`FROM payments WHERE booking_id = \? ORDER BY id DESC`).WillReturnRows(payments)
}

func TestRefundConfirmedBooking(t *testing.T) {
	refundID := "DEMO_REFUND_20260601090000_ABABABAB"
	gw := &mockGateway{}
	gw.On("Refund", tmock.Anything, tmock.MatchedBy(func(r RefundRequest) bool {
		return r.GatewayTransactionID == "GATEWAY_"+testTxn && r.RefundTransactionID == refundID &&
			r.Amount.Equal(dec("72")) && r.Reason == "trip cancelled"
	})).Return(model.RefundBlock{
		Status:              "success",
		RefundTransactionID: refundID,
		RefundAmount:        dec("72.00"),
		Reason:              "trip cancelled",
		Timestamp:           engineNow,
		DemoNotice:          RefundDemoNotice,
	}, nil)
	e, mock := newEngineMock(t, gw)

	expectRefundPreflight(mock, paymentRows(9, testTxn, 77, model.TxnSuccess, storedGatewayResponse))
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \? FOR UPDATE`).WillReturnRows(bookingRows(confirmedBooking()))
	mock.ExpectQuery(`FROM trips WHERE id = \?`).WithArgs(uint64(1)).WillReturnRows(tripRows(engineTrip()))
	mock.ExpectQuery(`status IN \('success', 'refunded'\)`).
		WillReturnRows(paymentRows(9, testTxn, 77, model.TxnSuccess, storedGatewayResponse))
	mock.ExpectExec(`UPDATE payments SET status = \?, gateway_response = \?, refund_amount = \?`).
		WithArgs("refunded", sqlmock.AnyArg(), sqlmock.AnyArg(), engineNow, refundID, "trip cancelled", uint64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM tickets WHERE booking_id = \?`).WillReturnRows(ticketRows(77, model.TicketConfirmed, 3, 4))
	mock.ExpectExec(`DELETE FROM seat_occupancy`).
		WithArgs(uint64(1), "ABCDEF123456").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE trips SET available_seats = LEAST`).
		WithArgs(2, sqlmock.AnyArg(), uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bookings SET booking_status = \?, payment_status = \?, cancelled_at = \?`).
		WithArgs("cancelled", "refunded", engineNow, "trip cancelled", engineNow, uint64(77)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE tickets SET status = \?`).
		WithArgs("cancelled", uint64(77)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	res, err := e.Refund(context.Background(), customer, 77, "  trip cancelled ")
	require.NoError(t, err)
	assert.Equal(t, refundID, res.RefundTransactionID)
	assert.Regexp(t, txnPattern, res.RefundTransactionID)
	assert.Equal(t, "72.00", res.RefundAmount.StringFixed(2))
	assert.Equal(t, model.BookingCancelled, res.Booking.Status)
	assert.Equal(t, model.PaymentRefunded, res.Booking.PaymentStatus)
	assert.Equal(t, model.TxnRefunded, res.Payment.Status)

	doc := gjson.ParseBytes(res.Payment.GatewayResponse)
	assert.Equal(t, "GATEWAY_"+testTxn, doc.Get("gateway_transaction_id").String())
	assert.Equal(t, "success", doc.Get("status").String())
	assert.Equal(t, refundID, doc.Get("refund.refund_transaction_id").String())
	assert.Equal(t, RefundDemoNotice, doc.Get("refund.demo_notice").String())

	gw.AssertExpectations(t)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRejectsAlreadyRefundedPayment(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	expectRefundPreflight(mock, paymentRows(9, testTxn, 77, model.TxnRefunded, storedGatewayResponse))

	_, err := e.Refund(context.Background(), customer, 77, "")
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundWithoutSuccessfulPayment(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	expectRefundPreflight(mock, paymentRows(8, testTxn, 77, model.TxnFailed, ""))

	_, err := e.Refund(context.Background(), customer, 77, "")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundAfterDeparture(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	trip := engineTrip()
	trip.DepartureTime = engineNow.Add(-time.Hour)

	mock.ExpectQuery(`FROM bookings WHERE id = \?`).WillReturnRows(bookingRows(confirmedBooking()))
	mock.ExpectQuery(`FROM trips WHERE id = \?`).WillReturnRows(tripRows(trip))

	_, err := e.Refund(context.Background(), customer, 77, "")
	assert.ErrorIs(t, err, domain.ErrCancellationWindowClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRechecksDepartureUnderLock(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	moved := engineTrip()
	moved.DepartureTime = engineNow.Add(-time.Minute)

	expectRefundPreflight(mock, paymentRows(9, testTxn, 77, model.TxnSuccess, storedGatewayResponse))
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \? FOR UPDATE`).WillReturnRows(bookingRows(confirmedBooking()))
	mock.ExpectQuery(`FROM trips WHERE id = \?`).WillReturnRows(tripRows(moved))
	mock.ExpectRollback()

	_, err := e.Refund(context.Background(), customer, 77, "")
	assert.ErrorIs(t, err, domain.ErrCancellationWindowClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundPendingBooking(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	mock.ExpectQuery(`FROM bookings WHERE id = \?`).WillReturnRows(bookingRows(pendingBooking()))

	_, err := e.Refund(context.Background(), customer, 77, "")
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelConfirmedBookingGoesThroughRefund(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	mock.ExpectQuery(`FROM bookings WHERE id = \?`).WillReturnRows(bookingRows(confirmedBooking()))
	expectRefundPreflight(mock, sqlmock.NewRows(paymentCols))

	_, err := e.CancelBooking(context.Background(), customer, 77, "")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeRefundKeepsGatewayFields(t *testing.T) {
	block := model.RefundBlock{Status: "success", RefundTransactionID: "DEMO_REFUND_20260601090000_00000001", RefundAmount: dec("10.00")}

	out, err := mergeRefund([]byte(storedGatewayResponse), block)
	require.NoError(t, err)
	assert.Equal(t, "DEMO_PAYMENT_GATEWAY", gjson.GetBytes(out, "gateway").String())
	assert.Equal(t, "DEMO_REFUND_20260601090000_00000001", gjson.GetBytes(out, "refund.refund_transaction_id").String())

	out, err = mergeRefund(nil, block)
	require.NoError(t, err)
	assert.Equal(t, "success", gjson.GetBytes(out, "refund.status").String())
	assert.False(t, gjson.GetBytes(out, "gateway").Exists())
}
