package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/trip-booking/internal/model"
)

// BookingRepo manages persistence for bookings. Status changes always run
// inside a transaction that has locked the row with GetByIDForUpdateTx.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo constructs a BookingRepo.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, booking_reference, user_id, trip_id, promo_code_id, passenger_name, passenger_email,
       passenger_phone, subtotal, discount_amount, total_amount, booking_status, payment_status, num_seats,
       special_requests, hold_expires_at, cancelled_at, cancellation_reason, created_at, updated_at`

func scanBooking(s rowScanner) (model.Booking, error) {
	var (
		b         model.Booking
		promoID   sql.NullInt64
		special   sql.NullString
		cancelled sql.NullTime
		reason    sql.NullString
	)
	err := s.Scan(&b.ID, &b.Reference, &b.UserID, &b.TripID, &promoID, &b.PassengerName, &b.PassengerEmail,
		&b.PassengerPhone, &b.Subtotal, &b.DiscountAmount, &b.TotalAmount, &b.Status, &b.PaymentStatus,
		&b.NumSeats, &special, &b.HoldExpiresAt, &cancelled, &reason, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return b, err
	}
	if promoID.Valid {
		id := uint64(promoID.Int64)
		b.PromoCodeID = &id
	}
	b.SpecialRequests = special.String
	b.CancelledAt = nullTime(cancelled)
	b.CancellationReason = reason.String
	return b, nil
}

// CreateTx inserts b and populates its ID. CreatedAt and UpdatedAt must be
// set by the caller so the hold window is computed from the same clock.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const q = `INSERT INTO bookings (booking_reference, user_id, trip_id, promo_code_id, passenger_name,
	           passenger_email, passenger_phone, subtotal, discount_amount, total_amount, booking_status,
	           payment_status, num_seats, special_requests, hold_expires_at, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, b.Reference, b.UserID, b.TripID, b.PromoCodeID, b.PassengerName,
		b.PassengerEmail, b.PassengerPhone, b.Subtotal, b.DiscountAmount, b.TotalAmount, b.Status,
		b.PaymentStatus, b.NumSeats, b.SpecialRequests, b.HoldExpiresAt, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// GetByID loads a booking without its tickets.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	return b, notFound(err)
}

// GetByReference loads a booking by its public reference.
func (r *BookingRepo) GetByReference(ctx context.Context, ref string) (model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE booking_reference = ?`, ref))
	return b, notFound(err)
}

// GetByIDForUpdateTx loads and locks a booking row until tx ends.
func (r *BookingRepo) GetByIDForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Booking, error) {
	b, err := scanBooking(tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ? FOR UPDATE`, id))
	return b, notFound(err)
}

// StatusUpdate describes a booking state change. A nil CancelledAt leaves
// the column untouched.
type StatusUpdate struct {
	Status        model.BookingStatus
	PaymentStatus model.BookingPaymentStatus
	CancelledAt   *time.Time
	Reason        string
	Now           time.Time
}

// UpdateStatusTx applies u to the booking.
func (r *BookingRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, u StatusUpdate) error {
	var (
		res sql.Result
		err error
	)
	if u.CancelledAt != nil {
		res, err = tx.ExecContext(ctx,
			`UPDATE bookings SET booking_status = ?, payment_status = ?, cancelled_at = ?, cancellation_reason = ?,
			 updated_at = ? WHERE id = ?`,
			u.Status, u.PaymentStatus, *u.CancelledAt, u.Reason, u.Now, id)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE bookings SET booking_status = ?, payment_status = ?, updated_at = ? WHERE id = ?`,
			u.Status, u.PaymentStatus, u.Now, id)
	}
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// BookingFilter narrows ListByUser.
type BookingFilter struct {
	Status model.BookingStatus
	Limit  int
	Offset int
}

// ListByUser returns the user's bookings newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64, f BookingFilter) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = ?`
	args := []any{userID}
	if f.Status != "" {
		q += ` AND booking_status = ?`
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BookingSearch filters the admin booking listing. Zero fields match
// everything. Query matches the reference, passenger name or email.
type BookingSearch struct {
	Status        model.BookingStatus
	PaymentStatus model.BookingPaymentStatus
	UserID        uint64
	TripID        uint64
	From, To      *time.Time
	Query         string
	SortBy        string
	Asc           bool
	Limit         int
	Offset        int
}

var bookingSortColumns = map[string]string{
	"":             "created_at",
	"created_at":   "created_at",
	"total_amount": "total_amount",
}

// SortColumn resolves SortBy to a column, reporting false for unknown keys.
func (f BookingSearch) SortColumn() (string, bool) {
	col, ok := bookingSortColumns[f.SortBy]
	return col, ok
}

func (f BookingSearch) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "booking_status = ?")
		args = append(args, f.Status)
	}
	if f.PaymentStatus != "" {
		conds = append(conds, "payment_status = ?")
		args = append(args, f.PaymentStatus)
	}
	if f.UserID != 0 {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.TripID != 0 {
		conds = append(conds, "trip_id = ?")
		args = append(args, f.TripID)
	}
	if f.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, *f.From)
	}
	if f.To != nil {
		conds = append(conds, "created_at < ?")
		args = append(args, *f.To)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + likeEscaper.Replace(q) + "%"
		conds = append(conds, "(booking_reference LIKE ? OR passenger_name LIKE ? OR passenger_email LIKE ?)")
		args = append(args, like, like, like)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Search returns a page of bookings across all users and the total number
// matching f.
func (r *BookingRepo) Search(ctx context.Context, f BookingSearch) ([]model.Booking, int, error) {
	col, ok := f.SortColumn()
	if !ok {
		return nil, 0, fmt.Errorf("unknown sort key %q", f.SortBy)
	}
	where, args := f.where()
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	dir := "DESC"
	if f.Asc {
		dir = "ASC"
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings`+where+` ORDER BY `+col+` `+dir+`, id `+dir+` LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

// ExpiredPendingIDs returns up to limit pending bookings whose hold ended
// at or before now, oldest first.
func (r *BookingRepo) ExpiredPendingIDs(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM bookings WHERE booking_status = 'pending' AND hold_expires_at <= ?
		 ORDER BY hold_expires_at ASC LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StalePendingIDsForTripTx lists, in ascending id order, the pending
// bookings on a trip whose hold has ended. It is a plain read; callers lock
// each row with GetByIDForUpdateTx and re-check it, so the scan itself never
// holds range locks on the bookings index.
func (r *BookingRepo) StalePendingIDsForTripTx(ctx context.Context, tx *sql.Tx, tripID uint64, now time.Time) ([]uint64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM bookings
		 WHERE trip_id = ? AND booking_status = 'pending' AND hold_expires_at <= ?
		 ORDER BY id`, tripID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CompleteDeparted marks confirmed bookings on trips whose departure time has
// passed as completed, along with their tickets. It returns the number of
// bookings moved.
func (r *BookingRepo) CompleteDeparted(ctx context.Context, now time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`UPDATE tickets tk
		 JOIN bookings b ON b.id = tk.booking_id
		 JOIN trips t ON t.id = b.trip_id
		 SET tk.status = 'completed'
		 WHERE b.booking_status = 'confirmed' AND t.departure_time <= ?`, now); err != nil {
		return 0, fmt.Errorf("complete tickets: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE bookings b
		 JOIN trips t ON t.id = b.trip_id
		 SET b.booking_status = 'completed', b.updated_at = ?
		 WHERE b.booking_status = 'confirmed' AND t.departure_time <= ?`, now, now)
	if err != nil {
		return 0, fmt.Errorf("complete bookings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return n, nil
}
