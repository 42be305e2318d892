package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/metrics"
	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/repository"
)

// minPayable is the smallest total a discounted booking may have.
var minPayable = decimal.RequireFromString("0.01")

var hundred = decimal.NewFromInt(100)

// BookingContext carries the facts about the booking a promo is evaluated for.
type BookingContext struct {
	UserID uint64
	Now    time.Time
}

// Evaluation is the priced result of applying a promo to a subtotal.
type Evaluation struct {
	Promo    model.PromoCode `json:"promo"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount_amount"`
	Total    decimal.Decimal `json:"total_amount"`
}

// PromoEvaluator decides whether a promo applies and how much it takes off.
type PromoEvaluator struct {
	promos *repository.PromoRepo
}

// NewPromoEvaluator constructs a PromoEvaluator over promos.
func NewPromoEvaluator(promos *repository.PromoRepo) *PromoEvaluator {
	return &PromoEvaluator{promos: promos}
}

// Evaluate locks the promo row inside tx and prices subtotal with it. The
// lock holds until tx ends, so a later Redeem in the same tx cannot race
// another booking for the last use.
func (e *PromoEvaluator) Evaluate(ctx context.Context, tx *sql.Tx, code string, subtotal decimal.Decimal, bc BookingContext) (Evaluation, error) {
	p, err := e.promos.GetByCodeForUpdateTx(ctx, tx, code)
	if err != nil {
		return Evaluation{}, promoLookupError(err)
	}
	used, err := e.promos.CountUserRedemptionsTx(ctx, tx, p.ID, bc.UserID)
	if err != nil {
		return Evaluation{}, domain.Internal("count promo redemptions", err)
	}
	return evaluate(p, subtotal, bc.Now, used)
}

// Quote prices subtotal without locking or redeeming anything. The result
// is advisory; CreateBooking evaluates again under lock.
func (e *PromoEvaluator) Quote(ctx context.Context, code string, subtotal decimal.Decimal, bc BookingContext) (Evaluation, error) {
	p, err := e.promos.GetByCode(ctx, code)
	if err != nil {
		return Evaluation{}, promoLookupError(err)
	}
	used := 0
	if bc.UserID != 0 {
		if used, err = e.promos.CountUserRedemptions(ctx, p.ID, bc.UserID); err != nil {
			return Evaluation{}, domain.Internal("count promo redemptions", err)
		}
	}
	return evaluate(p, subtotal, bc.Now, used)
}

// Redeem consumes one use of the promo inside tx.
func (e *PromoEvaluator) Redeem(ctx context.Context, tx *sql.Tx, promoID uint64) error {
	ok, err := e.promos.IncrementUsageTx(ctx, tx, promoID)
	if err != nil {
		return domain.Internal("redeem promo", err)
	}
	if !ok {
		metrics.PromoEvaluated(string(domain.CodePromoExhausted))
		return domain.ErrPromoExhausted
	}
	return nil
}

func promoLookupError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		metrics.PromoEvaluated(string(domain.CodePromoNotFound))
		return domain.ErrPromoNotFound
	}
	return domain.Internal("load promo", err)
}

func evaluate(p model.PromoCode, subtotal decimal.Decimal, now time.Time, userRedemptions int) (Evaluation, error) {
	if err := checkPromo(p, subtotal, now, userRedemptions); err != nil {
		metrics.PromoEvaluated(string(domain.CodeOf(err)))
		return Evaluation{}, err
	}
	discount := ComputeDiscount(p, subtotal)
	metrics.PromoEvaluated("applied")
	return Evaluation{Promo: p, Subtotal: subtotal, Discount: discount, Total: subtotal.Sub(discount)}, nil
}

// checkPromo applies the eligibility rules in order: active flag, validity
// window, global usage limit, minimum purchase, per-user limit.
func checkPromo(p model.PromoCode, subtotal decimal.Decimal, now time.Time, userRedemptions int) error {
	if !p.IsActive {
		return domain.ErrPromoNotApplicable.WithDetail("reason", "inactive")
	}
	if !p.InWindow(now) {
		return domain.ErrPromoExpired.WithDetail("valid_until", p.ValidUntil)
	}
	if p.Exhausted() {
		return domain.ErrPromoExhausted
	}
	if p.MinPurchaseAmount != nil && subtotal.LessThan(*p.MinPurchaseAmount) {
		return domain.ErrPromoNotApplicable.WithDetail("min_purchase_amount", p.MinPurchaseAmount.StringFixed(2))
	}
	if p.UsagePerUser != nil && userRedemptions >= *p.UsagePerUser {
		return domain.ErrPromoExhausted.WithDetail("reason", "per-user limit reached")
	}
	return nil
}

// ComputeDiscount returns the discount p grants on subtotal, rounded to
// cents. Percentage discounts are capped by MaxDiscountAmount, fixed ones by
// the subtotal, and the result always leaves at least 0.01 to pay.
func ComputeDiscount(p model.PromoCode, subtotal decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch p.DiscountType {
	case model.DiscountFixed:
		d = decimal.Min(subtotal, p.DiscountValue)
	default:
		d = subtotal.Mul(p.DiscountValue).Div(hundred).Round(2)
		if p.MaxDiscountAmount != nil {
			d = decimal.Min(d, *p.MaxDiscountAmount)
		}
	}
	if d.IsNegative() {
		d = decimal.Zero
	}
	if limit := subtotal.Sub(minPayable); d.GreaterThan(limit) {
		d = decimal.Max(limit, decimal.Zero)
	}
	return d.Round(2)
}

func normalizePromoCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }
