// Package service implements the booking and payment transaction engine:
// the seat ledger, promo evaluation, booking orchestration, payments,
// refunds and the background sweeps that keep holds honest.
package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/metrics"
	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/repository"
)

// Ledger reserves and releases seats. It never opens its own transaction;
// every call runs inside the caller's tx so seat changes commit or roll back
// together with the booking they belong to.
type Ledger struct {
	trips *repository.TripRepo
	seats *repository.SeatOccupancyRepo
}

// NewLedger builds a Ledger over the trip and seat occupancy tables.
func NewLedger(trips *repository.TripRepo, seats *repository.SeatOccupancyRepo) *Ledger {
	return &Ledger{trips: trips, seats: seats}
}

// ValidateSeats checks that seats is non-empty, duplicate free and inside
// the trip's layout.
func ValidateSeats(trip model.Trip, seats []int) error {
	if len(seats) == 0 {
		return domain.Validation("at least one seat is required")
	}
	seen := make(map[int]bool, len(seats))
	for _, s := range seats {
		if !trip.ValidSeat(s) {
			return domain.Validation("seat %d is outside 1..%d", s, trip.TotalSeats)
		}
		if seen[s] {
			return domain.Validation("seat %d requested twice", s)
		}
		seen[s] = true
	}
	return nil
}

// Reserve marks seats on trip as held by bookingRef. Seats already held,
// including by a transaction that commits first, yield ErrSeatConflict with
// the offending seats under the "seats" detail. A deadlock or lock wait on
// the occupancy rows is also reported as ErrSeatConflict; the lock error
// stays wrapped so inTx can restart the transaction.
func (l *Ledger) Reserve(ctx context.Context, tx *sql.Tx, trip model.Trip, bookingRef string, seats []int) error {
	if err := ValidateSeats(trip, seats); err != nil {
		return err
	}
	taken, err := l.seats.OccupiedAmongTx(ctx, tx, trip.ID, seats)
	if err != nil {
		return domain.Internal("read occupancy", err)
	}
	if len(taken) > 0 {
		sort.Ints(taken)
		metrics.SeatConflict()
		return domain.ErrSeatConflict.WithDetail("seats", taken)
	}
	if err := l.seats.InsertTx(ctx, tx, trip.ID, bookingRef, seats); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			metrics.SeatConflict()
			return domain.ErrSeatConflict.WithDetail("seats", sortedCopy(seats))
		}
		if repository.IsLockConflict(err) {
			return domain.ErrSeatConflict.WithCause(err).WithDetail("seats", sortedCopy(seats))
		}
		return domain.Internal("insert occupancy", err)
	}
	ok, err := l.trips.DecrementAvailableTx(ctx, tx, trip.ID, len(seats))
	if err != nil {
		if repository.IsLockConflict(err) {
			return domain.ErrSeatConflict.WithCause(err).WithDetail("seats", sortedCopy(seats))
		}
		return domain.Internal("decrement seats", err)
	}
	if !ok {
		metrics.SeatConflict()
		return domain.ErrSeatConflict.WithDetail("available_seats", trip.AvailableSeats)
	}
	return nil
}

// Release frees every seat held by bookingRef and returns how many seats
// went back to the trip. Calling it again for the same booking is a no-op.
func (l *Ledger) Release(ctx context.Context, tx *sql.Tx, tripID uint64, bookingRef string) (int, error) {
	n, err := l.seats.DeleteByBookingTx(ctx, tx, tripID, bookingRef)
	if err != nil {
		return 0, domain.Internal("release occupancy", err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := l.trips.IncrementAvailableTx(ctx, tx, tripID, n); err != nil {
		return 0, domain.Internal("increment seats", err)
	}
	return n, nil
}

func sortedCopy(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	return out
}

// txAttempts bounds how many times inTx restarts a transaction that lost
// a lock to a concurrent one.
const txAttempts = 3

// inTx runs fn inside a transaction, committing when fn succeeds and
// rolling back otherwise. When MySQL aborts the transaction with a deadlock
// or lock wait timeout, fn runs again in a fresh transaction, so fn must
// reset any state it captures from the enclosing scope. Once the attempts
// are used up the last domain error is returned, or ErrConflict when the
// failure was only the lock itself.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		err = runTx(ctx, db, fn)
		if !repository.IsLockConflict(err) {
			return err
		}
		if ctx.Err() != nil {
			break
		}
		metrics.TxRetried()
		logrus.WithFields(logrus.Fields{"attempt": attempt, "error": err}).Warn("transaction lost a lock, retrying")
	}
	if domain.CodeOf(err) == domain.CodeInternal {
		return domain.ErrConflict.WithCause(err).WithDetail("reason", "concurrent update, retry the request")
	}
	return err
}

func runTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Internal("begin tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.Internal("commit", err)
	}
	committed = true
	return nil
}
