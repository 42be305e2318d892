package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/trip-booking/internal/model"
)

// PaymentRepo manages payment transactions. A booking has at most one
// payment in initiated or processing state at any time.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo constructs a PaymentRepo.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

const paymentColumns = `id, transaction_id, booking_id, user_id, amount, currency, payment_method, status,
       payment_details, gateway_name, gateway_response, is_demo, demo_note, failure_reason, failure_code,
       refund_amount, refund_date, refund_transaction_id, refund_reason, initiated_at, completed_at`

func scanPayment(s rowScanner) (model.Payment, error) {
	var (
		p           model.Payment
		details     []byte
		gateway     []byte
		failReason  sql.NullString
		failCode    sql.NullString
		refundAmt   decimal.NullDecimal
		refundDate  sql.NullTime
		refundTxn   sql.NullString
		refundWhy   sql.NullString
		completedAt sql.NullTime
	)
	err := s.Scan(&p.ID, &p.TransactionID, &p.BookingID, &p.UserID, &p.Amount, &p.Currency, &p.Method, &p.Status,
		&details, &p.GatewayName, &gateway, &p.IsDemo, &p.DemoNote, &failReason, &failCode,
		&refundAmt, &refundDate, &refundTxn, &refundWhy, &p.InitiatedAt, &completedAt)
	if err != nil {
		return p, err
	}
	if len(details) > 0 {
		p.Details = json.RawMessage(details)
	}
	if len(gateway) > 0 {
		p.GatewayResponse = json.RawMessage(gateway)
	}
	p.FailureReason = nullString(failReason)
	p.FailureCode = nullString(failCode)
	if refundAmt.Valid {
		p.RefundAmount = &refundAmt.Decimal
	}
	p.RefundDate = nullTime(refundDate)
	p.RefundTransactionID = nullString(refundTxn)
	p.RefundReason = nullString(refundWhy)
	p.CompletedAt = nullTime(completedAt)
	return p, nil
}

// CreateTx inserts p and populates its ID.
func (r *PaymentRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
	const q = `INSERT INTO payments (transaction_id, booking_id, user_id, amount, currency, payment_method, status,
	           payment_details, gateway_name, is_demo, demo_note, initiated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, p.TransactionID, p.BookingID, p.UserID, p.Amount, p.Currency, p.Method,
		p.Status, []byte(p.Details), p.GatewayName, p.IsDemo, p.DemoNote, p.InitiatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

// UpdateStatusTx moves the payment to status without touching its outcome fields.
func (r *PaymentRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.TransactionStatus) error {
	res, err := tx.ExecContext(ctx, `UPDATE payments SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveOutcomeTx persists the terminal result of a gateway charge.
func (r *PaymentRepo) SaveOutcomeTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
	const q = `UPDATE payments SET status = ?, gateway_response = ?, failure_reason = ?, failure_code = ?,
	           completed_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, q, p.Status, nullJSON(p.GatewayResponse), p.FailureReason, p.FailureCode,
		p.CompletedAt, p.ID); err != nil {
		return fmt.Errorf("save payment outcome: %w", err)
	}
	return nil
}

// SaveRefundTx persists the refund fields and the merged gateway response.
func (r *PaymentRepo) SaveRefundTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
	const q = `UPDATE payments SET status = ?, gateway_response = ?, refund_amount = ?, refund_date = ?,
	           refund_transaction_id = ?, refund_reason = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, q, p.Status, nullJSON(p.GatewayResponse), p.RefundAmount, p.RefundDate,
		p.RefundTransactionID, p.RefundReason, p.ID); err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return fmt.Errorf("save refund: %w", err)
	}
	return nil
}

// GetByTransactionID loads a payment by its transaction id.
func (r *PaymentRepo) GetByTransactionID(ctx context.Context, txnID string) (model.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE transaction_id = ?`, txnID))
	return p, notFound(err)
}

// GetByTransactionIDForUpdateTx loads and locks a payment by transaction id.
func (r *PaymentRepo) GetByTransactionIDForUpdateTx(ctx context.Context, tx *sql.Tx, txnID string) (model.Payment, error) {
	p, err := scanPayment(tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE transaction_id = ? FOR UPDATE`, txnID))
	return p, notFound(err)
}

// OpenForBookingTx returns the booking's initiated or processing payment, if
// one exists. It does not lock: callers hold the booking row lock, which
// already serializes payment creation for the booking, and a locking read
// over an empty range would take a gap lock that blocks other bookings'
// inserts.
func (r *PaymentRepo) OpenForBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64) (model.Payment, error) {
	p, err := scanPayment(tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE booking_id = ? AND status IN ('initiated', 'processing')
		 ORDER BY id DESC LIMIT 1`, bookingID))
	return p, notFound(err)
}

// LatestSettledForBookingTx returns the most recent success or refunded
// payment of the booking, locking it.
func (r *PaymentRepo) LatestSettledForBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64) (model.Payment, error) {
	p, err := scanPayment(tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE booking_id = ? AND status IN ('success', 'refunded')
		 ORDER BY id DESC LIMIT 1 FOR UPDATE`, bookingID))
	return p, notFound(err)
}

func scanPayments(rows *sql.Rows) ([]model.Payment, error) {
	defer rows.Close()
	var out []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListByBooking returns every payment attempt for a booking, newest first.
func (r *PaymentRepo) ListByBooking(ctx context.Context, bookingID uint64) ([]model.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE booking_id = ? ORDER BY id DESC`, bookingID)
	if err != nil {
		return nil, err
	}
	return scanPayments(rows)
}

// ListByBookingTx is ListByBooking inside tx.
func (r *PaymentRepo) ListByBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64) ([]model.Payment, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE booking_id = ? ORDER BY id DESC`, bookingID)
	if err != nil {
		return nil, err
	}
	return scanPayments(rows)
}

// PaymentFilter narrows ListByUser.
type PaymentFilter struct {
	Status model.TransactionStatus
	Limit  int
	Offset int
}

// ListByUser returns a page of the user's payments and the total number of
// payments matching the filter.
func (r *PaymentRepo) ListByUser(ctx context.Context, userID uint64, f PaymentFilter) ([]model.Payment, int, error) {
	where := ` WHERE user_id = ?`
	args := []any{userID}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, f.Status)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments`+where+` ORDER BY initiated_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// PaymentSearch filters the admin payment listing. Zero fields match
// everything. Query matches the transaction id. From and To bound
// initiated_at.
type PaymentSearch struct {
	Status    model.TransactionStatus
	Method    model.PaymentMethod
	UserID    uint64
	BookingID uint64
	From, To  *time.Time
	Query     string
	SortBy    string
	Asc       bool
	Limit     int
	Offset    int
}

var paymentSortColumns = map[string]string{
	"":             "initiated_at",
	"initiated_at": "initiated_at",
	"completed_at": "completed_at",
	"amount":       "amount",
	"refund_date":  "refund_date",
}

// SortColumn resolves SortBy to a column, reporting false for unknown keys.
func (f PaymentSearch) SortColumn() (string, bool) {
	col, ok := paymentSortColumns[f.SortBy]
	return col, ok
}

func (f PaymentSearch) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.Method != "" {
		conds = append(conds, "payment_method = ?")
		args = append(args, f.Method)
	}
	if f.UserID != 0 {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.BookingID != 0 {
		conds = append(conds, "booking_id = ?")
		args = append(args, f.BookingID)
	}
	if f.From != nil {
		conds = append(conds, "initiated_at >= ?")
		args = append(args, *f.From)
	}
	if f.To != nil {
		conds = append(conds, "initiated_at < ?")
		args = append(args, *f.To)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		conds = append(conds, "transaction_id LIKE ?")
		args = append(args, "%"+likeEscaper.Replace(q)+"%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Search returns a page of payments across all users and the total number
// matching f.
func (r *PaymentRepo) Search(ctx context.Context, f PaymentSearch) ([]model.Payment, int, error) {
	col, ok := f.SortColumn()
	if !ok {
		return nil, 0, fmt.Errorf("unknown sort key %q", f.SortBy)
	}
	where, args := f.where()
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments`+where, args...).Scan(&total); err != nil {
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
		`SELECT `+paymentColumns+` FROM payments`+where+` ORDER BY `+col+` `+dir+`, id `+dir+` LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// FailOpenForBookingTx marks any open payment of the booking as failed. It
// is used when a pending booking is cancelled or expires.
func (r *PaymentRepo) FailOpenForBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64, code, reason string, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = 'failed', failure_code = ?, failure_reason = ?, completed_at = ?
		 WHERE booking_id = ? AND status IN ('initiated', 'processing')`,
		code, reason, now, bookingID); err != nil {
		return fmt.Errorf("fail open payments: %w", err)
	}
	return nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
