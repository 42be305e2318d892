package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/trip-booking/internal/model"
)

// TripRepo manages persistence for trips and owns the available_seats
// counter. The counter is only written through the guarded *Tx methods.
type TripRepo struct {
	db *sql.DB
}

// NewTripRepo constructs a TripRepo.
func NewTripRepo(db *sql.DB) *TripRepo { return &TripRepo{db: db} }

const tripColumns = `id, trip_number, origin, destination, departure_time, arrival_time, base_fare,
       total_seats, available_seats, status, operator_name, vehicle_type, created_at, updated_at`

func scanTrip(s rowScanner) (model.Trip, error) {
	var t model.Trip
	err := s.Scan(&t.ID, &t.TripNumber, &t.Origin, &t.Destination, &t.DepartureTime, &t.ArrivalTime,
		&t.BaseFare, &t.TotalSeats, &t.AvailableSeats, &t.Status, &t.OperatorName, &t.VehicleType,
		&t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// Create inserts a trip with every seat available. ID, AvailableSeats and
// the timestamps are populated on t.
func (r *TripRepo) Create(ctx context.Context, t *model.Trip) error {
	now := time.Now().UTC()
	t.AvailableSeats = t.TotalSeats
	if t.Status == "" {
		t.Status = model.TripScheduled
	}
	const q = `INSERT INTO trips (trip_number, origin, destination, departure_time, arrival_time, base_fare,
	           total_seats, available_seats, status, operator_name, vehicle_type, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, t.TripNumber, t.Origin, t.Destination, t.DepartureTime, t.ArrivalTime,
		t.BaseFare, t.TotalSeats, t.AvailableSeats, t.Status, t.OperatorName, t.VehicleType, now, now)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert trip: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

// GetByID fetches a trip outside any transaction.
func (r *TripRepo) GetByID(ctx context.Context, id uint64) (model.Trip, error) {
	t, err := scanTrip(r.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = ?`, id))
	return t, notFound(err)
}

// GetByIDTx fetches a trip inside tx. The row is not locked; seat
// exclusion is enforced by the occupancy key and the guarded counter.
func (r *TripRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Trip, error) {
	t, err := scanTrip(tx.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = ?`, id))
	return t, notFound(err)
}

// TripFilter narrows Search. Zero values are ignored.
type TripFilter struct {
	Origin      string
	Destination string
	Date        time.Time
	OnlyFuture  bool
	Now         time.Time
	Limit       int
	Offset      int
}

// Search lists trips matching f ordered by departure.
func (r *TripRepo) Search(ctx context.Context, f TripFilter) ([]model.Trip, error) {
	var (
		where []string
		args  []any
	)
	if f.Origin != "" {
		where = append(where, "origin = ?")
		args = append(args, f.Origin)
	}
	if f.Destination != "" {
		where = append(where, "destination = ?")
		args = append(args, f.Destination)
	}
	if !f.Date.IsZero() {
		day := time.Date(f.Date.Year(), f.Date.Month(), f.Date.Day(), 0, 0, 0, 0, time.UTC)
		where = append(where, "departure_time >= ? AND departure_time < ?")
		args = append(args, day, day.Add(24*time.Hour))
	}
	if f.OnlyFuture {
		where = append(where, "departure_time > ? AND status = 'scheduled'")
		args = append(args, f.Now)
	}
	q := `SELECT ` + tripColumns + ` FROM trips`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q += " ORDER BY departure_time ASC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateStatus sets the operational status of a trip.
func (r *TripRepo) UpdateStatus(ctx context.Context, id uint64, status model.TripStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE trips SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DecrementAvailableTx takes n seats from the counter. It reports false
// when fewer than n seats remain, in which case nothing changes.
func (r *TripRepo) DecrementAvailableTx(ctx context.Context, tx *sql.Tx, id uint64, n int) (bool, error) {
	const q = `UPDATE trips SET available_seats = available_seats - ?, updated_at = ?
	           WHERE id = ? AND available_seats >= ?`
	res, err := tx.ExecContext(ctx, q, n, time.Now().UTC(), id, n)
	if err != nil {
		return false, fmt.Errorf("decrement available seats: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// IncrementAvailableTx gives n seats back, never exceeding total_seats.
func (r *TripRepo) IncrementAvailableTx(ctx context.Context, tx *sql.Tx, id uint64, n int) error {
	const q = `UPDATE trips SET available_seats = LEAST(total_seats, available_seats + ?), updated_at = ?
	           WHERE id = ?`
	if _, err := tx.ExecContext(ctx, q, n, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("increment available seats: %w", err)
	}
	return nil
}
