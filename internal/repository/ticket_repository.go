package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/iliyamo/trip-booking/internal/model"
)

// TicketRepo manages the per-seat rows of a booking.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo constructs a TicketRepo.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

// CreateBulkTx inserts all tickets in a single statement. IDs are assigned
// from the first inserted id, which InnoDB guarantees to be consecutive for
// a multi-row insert.
func (r *TicketRepo) CreateBulkTx(ctx context.Context, tx *sql.Tx, tickets []model.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(`INSERT INTO tickets (booking_id, seat_number, passenger_name, passenger_age, price, status, created_at) VALUES `)
	args := make([]any, 0, len(tickets)*7)
	for i, t := range tickets {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?)")
		args = append(args, t.BookingID, t.SeatNumber, t.PassengerName, t.PassengerAge, t.Price, t.Status, t.CreatedAt)
	}
	res, err := tx.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return fmt.Errorf("insert tickets: %w", err)
	}
	first, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for i := range tickets {
		tickets[i].ID = uint64(first) + uint64(i)
	}
	return nil
}

const ticketColumns = `id, booking_id, seat_number, passenger_name, passenger_age, price, status, created_at`

func scanTickets(rows *sql.Rows) ([]model.Ticket, error) {
	defer rows.Close()
	var out []model.Ticket
	for rows.Next() {
		var t model.Ticket
		if err := rows.Scan(&t.ID, &t.BookingID, &t.SeatNumber, &t.PassengerName, &t.PassengerAge,
			&t.Price, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListByBooking returns a booking's tickets ordered by seat.
func (r *TicketRepo) ListByBooking(ctx context.Context, bookingID uint64) ([]model.Ticket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE booking_id = ? ORDER BY seat_number`, bookingID)
	if err != nil {
		return nil, err
	}
	return scanTickets(rows)
}

// ListByBookingTx is ListByBooking inside tx.
func (r *TicketRepo) ListByBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64) ([]model.Ticket, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE booking_id = ? ORDER BY seat_number`, bookingID)
	if err != nil {
		return nil, err
	}
	return scanTickets(rows)
}

// MirrorBookingStatusTx sets every ticket in the booking to the status that
// mirrors the booking's new status.
func (r *TicketRepo) MirrorBookingStatusTx(ctx context.Context, tx *sql.Tx, bookingID uint64, status model.BookingStatus) error {
	if _, err := tx.ExecContext(ctx, `UPDATE tickets SET status = ? WHERE booking_id = ?`,
		model.TicketStatusFor(status), bookingID); err != nil {
		return fmt.Errorf("update ticket status: %w", err)
	}
	return nil
}
