package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/repository"
)

// PromoInput is the writable part of a promo code.
type PromoInput struct {
	Code              string             `json:"code" validate:"required,max=50"`
	Description       string             `json:"description" validate:"max=500"`
	DiscountType      model.DiscountType `json:"discount_type" validate:"required,oneof=percentage fixed"`
	DiscountValue     decimal.Decimal    `json:"discount_value"`
	MaxDiscountAmount *decimal.Decimal   `json:"max_discount_amount"`
	MinPurchaseAmount *decimal.Decimal   `json:"min_purchase_amount"`
	UsageLimit        *int               `json:"usage_limit"`
	UsagePerUser      *int               `json:"usage_per_user"`
	ValidFrom         time.Time          `json:"valid_from" validate:"required"`
	ValidUntil        time.Time          `json:"valid_until" validate:"required"`
	IsActive          *bool              `json:"is_active"`
}

func (in PromoInput) validate() error {
	if normalizePromoCode(in.Code) == "" {
		return domain.Validation("code is required")
	}
	switch in.DiscountType {
	case model.DiscountPercentage:
		if !in.DiscountValue.IsPositive() || in.DiscountValue.GreaterThan(hundred) {
			return domain.Validation("percentage discount must be in (0, 100]")
		}
	case model.DiscountFixed:
		if !in.DiscountValue.IsPositive() {
			return domain.Validation("fixed discount must be positive")
		}
	default:
		return domain.Validation("unknown discount type %q", in.DiscountType)
	}
	if !in.ValidFrom.Before(in.ValidUntil) {
		return domain.Validation("valid_from must be before valid_until")
	}
	if in.MaxDiscountAmount != nil && !in.MaxDiscountAmount.IsPositive() {
		return domain.Validation("max_discount_amount must be positive")
	}
	if in.MinPurchaseAmount != nil && in.MinPurchaseAmount.IsNegative() {
		return domain.Validation("min_purchase_amount must not be negative")
	}
	if in.UsageLimit != nil && *in.UsageLimit <= 0 {
		return domain.Validation("usage_limit must be positive")
	}
	if in.UsagePerUser != nil && *in.UsagePerUser <= 0 {
		return domain.Validation("usage_per_user must be positive")
	}
	return nil
}

func (in PromoInput) apply(p *model.PromoCode) {
	p.Code = normalizePromoCode(in.Code)
	p.Description = in.Description
	p.DiscountType = in.DiscountType
	p.DiscountValue = in.DiscountValue.Round(2)
	p.MaxDiscountAmount = in.MaxDiscountAmount
	p.MinPurchaseAmount = in.MinPurchaseAmount
	p.UsageLimit = in.UsageLimit
	p.UsagePerUser = in.UsagePerUser
	p.ValidFrom = in.ValidFrom.UTC()
	p.ValidUntil = in.ValidUntil.UTC()
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
}

// PromoAdmin manages promo codes.
type PromoAdmin struct {
	promos *repository.PromoRepo
	eval   *PromoEvaluator
	now    func() time.Time
}

// NewPromoAdmin constructs a PromoAdmin.
func NewPromoAdmin(promos *repository.PromoRepo, now func() time.Time) *PromoAdmin {
	if now == nil {
		now = time.Now
	}
	return &PromoAdmin{promos: promos, eval: NewPromoEvaluator(promos), now: now}
}

// Create validates and stores a new promo code.
func (a *PromoAdmin) Create(ctx context.Context, in PromoInput) (model.PromoCode, error) {
	if err := in.validate(); err != nil {
		return model.PromoCode{}, err
	}
	p := model.PromoCode{IsActive: true}
	in.apply(&p)
	if err := a.promos.Create(ctx, &p); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return model.PromoCode{}, domain.ErrConflict.WithDetail("code", p.Code)
		}
		return model.PromoCode{}, domain.Internal("create promo", err)
	}
	return p, nil
}

// Get loads a promo code by id.
func (a *PromoAdmin) Get(ctx context.Context, id uint64) (model.PromoCode, error) {
	p, err := a.promos.GetByID(ctx, id)
	if err != nil {
		return model.PromoCode{}, adminPromoError(err)
	}
	return p, nil
}

// List returns promo codes newest first. activeOnly keeps only codes that
// can be redeemed right now.
func (a *PromoAdmin) List(ctx context.Context, activeOnly bool, limit, offset int) ([]model.PromoCode, error) {
	var at *time.Time
	if activeOnly {
		now := a.now().UTC()
		at = &now
	}
	list, err := a.promos.List(ctx, at, limit, offset)
	if err != nil {
		return nil, domain.Internal("list promos", err)
	}
	return list, nil
}

// Update replaces the writable fields of a promo. The code itself and the
// usage counter are kept.
func (a *PromoAdmin) Update(ctx context.Context, id uint64, in PromoInput) (model.PromoCode, error) {
	p, err := a.promos.GetByID(ctx, id)
	if err != nil {
		return model.PromoCode{}, adminPromoError(err)
	}
	in.Code = p.Code
	if err := in.validate(); err != nil {
		return model.PromoCode{}, err
	}
	if in.UsageLimit != nil && *in.UsageLimit < p.UsedCount {
		return model.PromoCode{}, domain.Validation("usage_limit %d is below the %d uses already made", *in.UsageLimit, p.UsedCount)
	}
	in.apply(&p)
	if err := a.promos.Update(ctx, &p); err != nil {
		return model.PromoCode{}, adminPromoError(err)
	}
	return p, nil
}

// Toggle flips the active flag.
func (a *PromoAdmin) Toggle(ctx context.Context, id uint64) (model.PromoCode, error) {
	p, err := a.promos.GetByID(ctx, id)
	if err != nil {
		return model.PromoCode{}, adminPromoError(err)
	}
	if err := a.promos.SetActive(ctx, id, !p.IsActive); err != nil {
		return model.PromoCode{}, adminPromoError(err)
	}
	p.IsActive = !p.IsActive
	return p, nil
}

// Delete removes a promo no booking refers to.
func (a *PromoAdmin) Delete(ctx context.Context, id uint64) error {
	if err := a.promos.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrReferenced) {
			return domain.New(domain.CodeConflict, "promo code is used by existing bookings")
		}
		return adminPromoError(err)
	}
	return nil
}

// Usage reports how often a promo code has been redeemed.
func (a *PromoAdmin) Usage(ctx context.Context, id uint64) (model.PromoUsage, error) {
	u, err := a.promos.Usage(ctx, id)
	if err != nil {
		return model.PromoUsage{}, adminPromoError(err)
	}
	return u, nil
}

// Validate tells a customer what a code would take off amount. Nothing is
// redeemed.
func (a *PromoAdmin) Validate(ctx context.Context, code string, amount decimal.Decimal, userID uint64) (Evaluation, error) {
	if !amount.IsPositive() {
		return Evaluation{}, domain.Validation("amount must be positive")
	}
	return a.eval.Quote(ctx, normalizePromoCode(code), amount.Round(2), BookingContext{UserID: userID, Now: a.now().UTC()})
}

func adminPromoError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.ErrPromoNotFound
	}
	return domain.Internal("promo", err)
}
