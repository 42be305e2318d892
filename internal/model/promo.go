package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PromoCode is a named discount rule. UsedCount is incremented inside the
// same transaction that creates the booking redeeming it and never exceeds
// UsageLimit. Nil limits mean unlimited.
//
// Fields:
//  DiscountType      – percentage or fixed.
//  DiscountValue     – percent (0, 100] or a fixed amount.
//  MaxDiscountAmount – cap applied to percentage discounts.
//  MinPurchaseAmount – subtotal required for the promo to apply.
//  UsagePerUser      – redemptions allowed per customer.
type PromoCode struct {
	ID                uint64           `json:"id"`                            // promo_codes.id
	Code              string           `json:"code"`                          // promo_codes.code
	Description       string           `json:"description"`                   // promo_codes.description
	DiscountType      DiscountType     `json:"discount_type"`                 // promo_codes.discount_type
	DiscountValue     decimal.Decimal  `json:"discount_value"`                // promo_codes.discount_value
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount,omitempty"` // promo_codes.max_discount_amount
	MinPurchaseAmount *decimal.Decimal `json:"min_purchase_amount,omitempty"` // promo_codes.min_purchase_amount
	UsageLimit        *int             `json:"usage_limit,omitempty"`         // promo_codes.usage_limit
	UsedCount         int              `json:"used_count"`                    // promo_codes.used_count
	UsagePerUser      *int             `json:"usage_per_user,omitempty"`      // promo_codes.usage_per_user
	ValidFrom         time.Time        `json:"valid_from"`                    // promo_codes.valid_from
	ValidUntil        time.Time        `json:"valid_until"`                   // promo_codes.valid_until
	IsActive          bool             `json:"is_active"`                     // promo_codes.is_active
	CreatedAt         time.Time        `json:"created_at"`                    // promo_codes.created_at
	UpdatedAt         time.Time        `json:"updated_at"`                    // promo_codes.updated_at
}

// Exhausted reports whether the global usage limit has been reached.
func (p PromoCode) Exhausted() bool {
	return p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit
}

// InWindow reports whether now falls inside the validity window.
func (p PromoCode) InWindow(now time.Time) bool {
	return !now.Before(p.ValidFrom) && !now.After(p.ValidUntil)
}

// PromoUsage aggregates how a promo has been used.
type PromoUsage struct {
	PromoID       uint64          `json:"promo_id"`
	Code          string          `json:"code"`
	Bookings      int             `json:"bookings"`
	ActiveBooking int             `json:"active_bookings"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	UsedCount     int             `json:"used_count"`
	UsageLimit    *int            `json:"usage_limit,omitempty"`
}
