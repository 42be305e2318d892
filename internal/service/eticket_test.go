package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/model"
)

func TestRenderETicket(t *testing.T) {
	b := confirmedBooking()
	b.Tickets = []model.Ticket{
		{SeatNumber: 3, PassengerName: "Ana Silva", PassengerAge: 34, Price: dec("40.00")},
		{SeatNumber: 4, PassengerName: "Rui Silva", PassengerAge: 36, Price: dec("40.00")},
	}

	out, err := RenderETicket(b, engineTrip(), "USD")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
	assert.Greater(t, len(out), 500)
}

func TestETicketRequiresConfirmedBooking(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	mock.ExpectQuery(`FROM bookings WHERE id = \?`).WillReturnRows(bookingRows(pendingBooking()))
	mock.ExpectQuery(`FROM tickets WHERE booking_id = \?`).WillReturnRows(ticketRows(77, model.TicketPending, 3, 4))

	_, err := e.ETicket(context.Background(), customer, 77)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}
