package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SeatOccupancyRepo persists which booking holds each (trip, seat) pair.
// The primary key (trip_id, seat_number) is the unit of mutual exclusion
// between concurrent reservations.
type SeatOccupancyRepo struct {
	db *sql.DB
}

// NewSeatOccupancyRepo constructs a SeatOccupancyRepo.
func NewSeatOccupancyRepo(db *sql.DB) *SeatOccupancyRepo { return &SeatOccupancyRepo{db: db} }

// OccupiedAmongTx returns the subset of seats already held on the trip.
func (r *SeatOccupancyRepo) OccupiedAmongTx(ctx context.Context, tx *sql.Tx, tripID uint64, seats []int) ([]int, error) {
	if len(seats) == 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT seat_number FROM seat_occupancy WHERE trip_id = ? AND seat_number IN (%s)`,
		placeholders(len(seats)))
	args := make([]any, 0, len(seats)+1)
	args = append(args, tripID)
	for _, s := range seats {
		args = append(args, s)
	}
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var taken []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		taken = append(taken, n)
	}
	return taken, rows.Err()
}

// InsertTx records the seats as held by bookingRef. Rows are written in
// ascending seat order so concurrent holds on overlapping seats acquire
// index locks in the same order. A unique-key violation from a concurrent
// winner is reported as ErrConflict.
func (r *SeatOccupancyRepo) InsertTx(ctx context.Context, tx *sql.Tx, tripID uint64, bookingRef string, seats []int) error {
	if len(seats) == 0 {
		return nil
	}
	now := time.Now().UTC()
	var b strings.Builder
	b.WriteString("INSERT INTO seat_occupancy (trip_id, seat_number, booking_reference, created_at) VALUES ")
	ordered := append([]int(nil), seats...)
	sort.Ints(ordered)
	args := make([]any, 0, len(ordered)*4)
	for i, s := range ordered {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?)")
		args = append(args, tripID, s, bookingRef, now)
	}
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert seat occupancy: %w", err)
	}
	return nil
}

// DeleteByBookingTx frees every seat held by bookingRef on the trip and
// returns how many were freed. Deleting an already freed set returns 0.
func (r *SeatOccupancyRepo) DeleteByBookingTx(ctx context.Context, tx *sql.Tx, tripID uint64, bookingRef string) (int, error) {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM seat_occupancy WHERE trip_id = ? AND booking_reference = ?`, tripID, bookingRef)
	if err != nil {
		return 0, fmt.Errorf("delete seat occupancy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Occupied lists all held seats on a trip in ascending order.
func (r *SeatOccupancyRepo) Occupied(ctx context.Context, tripID uint64) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seat_number FROM seat_occupancy WHERE trip_id = ? ORDER BY seat_number`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
