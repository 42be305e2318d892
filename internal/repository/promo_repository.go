package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/trip-booking/internal/model"
)

// PromoRepo manages promo_codes. used_count only changes through
// IncrementUsageTx, inside the transaction of the redeeming booking.
type PromoRepo struct {
	db *sql.DB
}

// NewPromoRepo constructs a PromoRepo.
func NewPromoRepo(db *sql.DB) *PromoRepo { return &PromoRepo{db: db} }

const promoColumns = `id, code, description, discount_type, discount_value, max_discount_amount,
       min_purchase_amount, usage_limit, used_count, usage_per_user, valid_from, valid_until,
       is_active, created_at, updated_at`

func scanPromo(s rowScanner) (model.PromoCode, error) {
	var (
		p       model.PromoCode
		maxAmt  decimal.NullDecimal
		minAmt  decimal.NullDecimal
		limit   sql.NullInt64
		perUser sql.NullInt64
	)
	err := s.Scan(&p.ID, &p.Code, &p.Description, &p.DiscountType, &p.DiscountValue, &maxAmt, &minAmt,
		&limit, &p.UsedCount, &perUser, &p.ValidFrom, &p.ValidUntil, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	if maxAmt.Valid {
		p.MaxDiscountAmount = &maxAmt.Decimal
	}
	if minAmt.Valid {
		p.MinPurchaseAmount = &minAmt.Decimal
	}
	p.UsageLimit = nullInt(limit)
	p.UsagePerUser = nullInt(perUser)
	return p, nil
}

// GetByCodeForUpdateTx loads a promo by code and locks its row until tx
// ends, serializing concurrent redemptions of the same code.
func (r *PromoRepo) GetByCodeForUpdateTx(ctx context.Context, tx *sql.Tx, code string) (model.PromoCode, error) {
	p, err := scanPromo(tx.QueryRowContext(ctx,
		`SELECT `+promoColumns+` FROM promo_codes WHERE code = ? FOR UPDATE`, normalizeCode(code)))
	return p, notFound(err)
}

// GetByCode loads a promo by code without locking.
func (r *PromoRepo) GetByCode(ctx context.Context, code string) (model.PromoCode, error) {
	p, err := scanPromo(r.db.QueryRowContext(ctx,
		`SELECT `+promoColumns+` FROM promo_codes WHERE code = ?`, normalizeCode(code)))
	return p, notFound(err)
}

// GetByID loads a promo by primary key.
func (r *PromoRepo) GetByID(ctx context.Context, id uint64) (model.PromoCode, error) {
	p, err := scanPromo(r.db.QueryRowContext(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE id = ?`, id))
	return p, notFound(err)
}

const userRedemptionsQuery = `SELECT COUNT(*) FROM bookings
	WHERE promo_code_id = ? AND user_id = ? AND booking_status <> 'cancelled'`

// CountUserRedemptionsTx counts the user's non-cancelled bookings using the promo.
func (r *PromoRepo) CountUserRedemptionsTx(ctx context.Context, tx *sql.Tx, promoID, userID uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, userRedemptionsQuery, promoID, userID).Scan(&n)
	return n, err
}

// CountUserRedemptions is CountUserRedemptionsTx outside a transaction.
func (r *PromoRepo) CountUserRedemptions(ctx context.Context, promoID, userID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, userRedemptionsQuery, promoID, userID).Scan(&n)
	return n, err
}

// IncrementUsageTx redeems the promo once. It reports false when the usage
// limit has already been reached.
func (r *PromoRepo) IncrementUsageTx(ctx context.Context, tx *sql.Tx, id uint64) (bool, error) {
	const q = `UPDATE promo_codes SET used_count = used_count + 1, updated_at = ?
	           WHERE id = ? AND (usage_limit IS NULL OR used_count < usage_limit)`
	res, err := tx.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("increment promo usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Create inserts a promo. A duplicate code yields ErrConflict.
func (r *PromoRepo) Create(ctx context.Context, p *model.PromoCode) error {
	now := time.Now().UTC()
	p.Code = normalizeCode(p.Code)
	const q = `INSERT INTO promo_codes (code, description, discount_type, discount_value, max_discount_amount,
	           min_purchase_amount, usage_limit, used_count, usage_per_user, valid_from, valid_until, is_active,
	           created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, p.Code, p.Description, p.DiscountType, p.DiscountValue,
		p.MaxDiscountAmount, p.MinPurchaseAmount, p.UsageLimit, p.UsagePerUser, p.ValidFrom, p.ValidUntil,
		p.IsActive, now, now)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert promo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	p.UsedCount = 0
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

// Update overwrites the editable fields of a promo.
func (r *PromoRepo) Update(ctx context.Context, p *model.PromoCode) error {
	now := time.Now().UTC()
	const q = `UPDATE promo_codes SET description = ?, discount_type = ?, discount_value = ?, max_discount_amount = ?,
	           min_purchase_amount = ?, usage_limit = ?, usage_per_user = ?, valid_from = ?, valid_until = ?,
	           is_active = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, p.Description, p.DiscountType, p.DiscountValue, p.MaxDiscountAmount,
		p.MinPurchaseAmount, p.UsageLimit, p.UsagePerUser, p.ValidFrom, p.ValidUntil, p.IsActive, now, p.ID)
	if err != nil {
		return fmt.Errorf("update promo: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	p.UpdatedAt = now
	return nil
}

// SetActive flips the is_active flag.
func (r *PromoRepo) SetActive(ctx context.Context, id uint64, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE promo_codes SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a promo that no booking references.
func (r *PromoRepo) Delete(ctx context.Context, id uint64) error {
	var refs int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE promo_code_id = ?`, id).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return ErrReferenced
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM promo_codes WHERE id = ?`, id)
	if err != nil {
		if isReferenced(err) {
			return ErrReferenced
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns promos ordered by newest first. With activeAt set, only
// active promos valid at that instant are returned.
func (r *PromoRepo) List(ctx context.Context, activeAt *time.Time, limit, offset int) ([]model.PromoCode, error) {
	q := `SELECT ` + promoColumns + ` FROM promo_codes`
	var args []any
	if activeAt != nil {
		q += ` WHERE is_active = 1 AND valid_from <= ? AND valid_until >= ?
		       AND (usage_limit IS NULL OR used_count < usage_limit)`
		args = append(args, *activeAt, *activeAt)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PromoCode
	for rows.Next() {
		p, err := scanPromo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Usage aggregates the bookings that redeemed the promo.
func (r *PromoRepo) Usage(ctx context.Context, id uint64) (model.PromoUsage, error) {
	p, err := r.GetByID(ctx, id)
	if err != nil {
		return model.PromoUsage{}, err
	}
	u := model.PromoUsage{PromoID: p.ID, Code: p.Code, UsedCount: p.UsedCount, UsageLimit: p.UsageLimit}
	const q = `SELECT COUNT(*),
	                  COALESCE(SUM(CASE WHEN booking_status <> 'cancelled' THEN 1 ELSE 0 END), 0),
	                  COALESCE(SUM(discount_amount), 0)
	           FROM bookings WHERE promo_code_id = ?`
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&u.Bookings, &u.ActiveBooking, &u.TotalDiscount); err != nil {
		return model.PromoUsage{}, err
	}
	return u, nil
}

func normalizeCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }
