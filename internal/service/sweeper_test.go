package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperStartStop(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	s := NewSweeper(e, time.Hour, time.Hour)

	assert.NoError(t, s.Stop(), "stop before start")
	require.NoError(t, s.Start())
	assert.NoError(t, s.Stop())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweeperDefaults(t *testing.T) {
	s := NewSweeper(nil, 0, -time.Second)
	assert.Equal(t, time.Minute, s.holdEvery)
	assert.Equal(t, 5*time.Minute, s.completeEv)
}

func TestSweeperJobs(t *testing.T) {
	e, mock := newEngineMock(t, nil)
	s := NewSweeper(e, time.Hour, time.Hour)
	s.ctx = context.Background()

	mock.ExpectQuery(`SELECT id FROM bookings WHERE booking_status = 'pending'`).
		WithArgs(engineNow, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	s.expireHolds()

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)UPDATE tickets tk.+t\.departure_time <= \?`).WithArgs(engineNow).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`(?s)UPDATE bookings b.+t\.departure_time <= \?`).WithArgs(engineNow, engineNow).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()
	s.completeTrips()

	assert.NoError(t, mock.ExpectationsWereMet())
}
