package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/service"
)

type promoSvc struct{ tmock.Mock }

func (m *promoSvc) Create(ctx context.Context, in service.PromoInput) (model.PromoCode, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(model.PromoCode), args.Error(1)
}

func (m *promoSvc) Get(ctx context.Context, id uint64) (model.PromoCode, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.PromoCode), args.Error(1)
}

func (m *promoSvc) List(ctx context.Context, activeOnly bool, limit, offset int) ([]model.PromoCode, error) {
	args := m.Called(ctx, activeOnly, limit, offset)
	return args.Get(0).([]model.PromoCode), args.Error(1)
}

func (m *promoSvc) Update(ctx context.Context, id uint64, in service.PromoInput) (model.PromoCode, error) {
	args := m.Called(ctx, id, in)
	return args.Get(0).(model.PromoCode), args.Error(1)
}

func (m *promoSvc) Toggle(ctx context.Context, id uint64) (model.PromoCode, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.PromoCode), args.Error(1)
}

func (m *promoSvc) Delete(ctx context.Context, id uint64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *promoSvc) Usage(ctx context.Context, id uint64) (model.PromoUsage, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.PromoUsage), args.Error(1)
}

func (m *promoSvc) Validate(ctx context.Context, code string, amount decimal.Decimal, userID uint64) (service.Evaluation, error) {
	args := m.Called(ctx, code, amount, userID)
	return args.Get(0).(service.Evaluation), args.Error(1)
}

func save10() model.PromoCode {
	return model.PromoCode{
		ID:            9,
		Code:          "SAVE10",
		DiscountType:  model.DiscountPercentage,
		DiscountValue: dec("10"),
		ValidFrom:     handlerNow.Add(-24 * time.Hour),
		ValidUntil:    handlerNow.Add(30 * 24 * time.Hour),
		IsActive:      true,
	}
}

func TestActivePromos(t *testing.T) {
	svc := &promoSvc{}
	svc.On("List", tmock.Anything, true, 50, 0).Return([]model.PromoCode{save10()}, nil)

	c, rec := request(http.MethodGet, "/v1/promo-codes", "", 0, "")
	require.NoError(t, NewPromoHandler(svc).Active(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SAVE10", gjson.Get(rec.Body.String(), "items.0.code").String())
	svc.AssertExpectations(t)
}

func TestValidatePromo(t *testing.T) {
	svc := &promoSvc{}
	svc.On("Validate", tmock.Anything, "save10", tmock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(dec("80")) }), uint64(5)).
		Return(service.Evaluation{Promo: save10(), Subtotal: dec("80"), Discount: dec("8"), Total: dec("72")}, nil)

	c, rec := request(http.MethodPost, "/v1/promo-codes/validate", `{"code": "save10", "amount": 80}`, 5, model.RoleCustomer)
	require.NoError(t, NewPromoHandler(svc).Validate(c))

	out := rec.Body.String()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gjson.Get(out, "valid").Bool())
	assert.Equal(t, "8", gjson.Get(out, "discount_amount").String())
	assert.Equal(t, "72", gjson.Get(out, "total_amount").String())
	svc.AssertExpectations(t)
}

func TestValidatePromoErrors(t *testing.T) {
	svc := &promoSvc{}
	svc.On("Validate", tmock.Anything, "NOPE", tmock.Anything, uint64(5)).Return(service.Evaluation{}, domain.ErrPromoNotFound)
	svc.On("Validate", tmock.Anything, "MAXED", tmock.Anything, uint64(5)).Return(service.Evaluation{}, domain.ErrPromoExhausted)
	h := NewPromoHandler(svc)

	for code, want := range map[string]string{"NOPE": "PROMO_NOT_FOUND", "MAXED": "PROMO_EXHAUSTED"} {
		c, rec := request(http.MethodPost, "/v1/promo-codes/validate", `{"code": "`+code+`", "amount": 80}`, 5, model.RoleCustomer)
		require.NoError(t, h.Validate(c))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, want, gjson.Get(rec.Body.String(), "error").String())
	}
}

func TestAdminCreatePromo(t *testing.T) {
	svc := &promoSvc{}
	svc.On("Create", tmock.Anything, tmock.MatchedBy(func(in service.PromoInput) bool {
		return in.Code == "summer10" && in.DiscountValue.Equal(dec("10")) && in.UsageLimit != nil && *in.UsageLimit == 100
	})).Return(save10(), nil)

	body := `{"code": "summer10", "discount_type": "percentage", "discount_value": 10, "usage_limit": 100,
	  "valid_from": "2026-06-01T00:00:00Z", "valid_until": "2026-07-01T00:00:00Z"}`
	c, rec := request(http.MethodPost, "/v1/admin/promo-codes", body, 1, model.RoleAdmin)
	require.NoError(t, NewPromoHandler(svc).Create(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	svc.AssertExpectations(t)

	c, rec = request(http.MethodPost, "/v1/admin/promo-codes", `{"code": "X", "discount_type": "bogo"}`, 1, model.RoleAdmin)
	require.NoError(t, NewPromoHandler(svc).Create(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminPromoLifecycle(t *testing.T) {
	svc := &promoSvc{}
	off := save10()
	off.IsActive = false
	svc.On("Toggle", tmock.Anything, uint64(9)).Return(off, nil)
	svc.On("Delete", tmock.Anything, uint64(9)).Return(domain.New(domain.CodeConflict, "promo code is used by existing bookings"))
	svc.On("Usage", tmock.Anything, uint64(9)).Return(model.PromoUsage{PromoID: 9, Code: "SAVE10", Bookings: 3, UsedCount: 3}, nil)
	svc.On("Get", tmock.Anything, uint64(10)).Return(model.PromoCode{}, domain.ErrPromoNotFound)
	h := NewPromoHandler(svc)

	c, rec := request(http.MethodPost, "/v1/admin/promo-codes/9/toggle", "", 1, model.RoleAdmin)
	require.NoError(t, h.Toggle(withParam(c, "id", "9")))
	assert.False(t, gjson.Get(rec.Body.String(), "is_active").Bool())

	c, rec = request(http.MethodDelete, "/v1/admin/promo-codes/9", "", 1, model.RoleAdmin)
	require.NoError(t, h.Delete(withParam(c, "id", "9")))
	assert.Equal(t, http.StatusConflict, rec.Code)

	c, rec = request(http.MethodGet, "/v1/admin/promo-codes/9/usage", "", 1, model.RoleAdmin)
	require.NoError(t, h.Usage(withParam(c, "id", "9")))
	assert.Equal(t, int64(3), gjson.Get(rec.Body.String(), "bookings").Int())

	c, rec = request(http.MethodGet, "/v1/admin/promo-codes/10", "", 1, model.RoleAdmin)
	require.NoError(t, h.Get(withParam(c, "id", "10")))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	svc.AssertExpectations(t)
}
