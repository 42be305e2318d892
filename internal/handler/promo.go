package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/service"
)

// PromoService is the promo administration surface.
type PromoService interface {
	Create(ctx context.Context, in service.PromoInput) (model.PromoCode, error)
	Get(ctx context.Context, id uint64) (model.PromoCode, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]model.PromoCode, error)
	Update(ctx context.Context, id uint64, in service.PromoInput) (model.PromoCode, error)
	Toggle(ctx context.Context, id uint64) (model.PromoCode, error)
	Delete(ctx context.Context, id uint64) error
	Usage(ctx context.Context, id uint64) (model.PromoUsage, error)
	Validate(ctx context.Context, code string, amount decimal.Decimal, userID uint64) (service.Evaluation, error)
}

// PromoHandler serves the promo code endpoints.
type PromoHandler struct {
	Promos PromoService
}

// NewPromoHandler constructs a PromoHandler.
func NewPromoHandler(p PromoService) *PromoHandler { return &PromoHandler{Promos: p} }

// Active lists the codes redeemable right now.
func (h *PromoHandler) Active(c echo.Context) error {
	limit, offset := page(c, 50)
	list, err := h.Promos.List(c.Request().Context(), true, limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": list, "count": len(list)})
}

type validatePromoReq struct {
	Code   string          `json:"code" validate:"required,max=50"`
	Amount decimal.Decimal `json:"amount" validate:"money"`
}

// Validate previews a code against an amount for the caller, including
// the per-user limit.
func (h *PromoHandler) Validate(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req validatePromoReq
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, err)
	}
	ev, err := h.Promos.Validate(c.Request().Context(), req.Code, req.Amount, actor.UserID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"valid":           true,
		"code":            ev.Promo.Code,
		"discount_type":   ev.Promo.DiscountType,
		"subtotal":        ev.Subtotal,
		"discount_amount": ev.Discount,
		"total_amount":    ev.Total,
	})
}

// ----- admin -----

// List pages through promo codes, optionally only active ones.
func (h *PromoHandler) List(c echo.Context) error {
	limit, offset := page(c, 50)
	list, err := h.Promos.List(c.Request().Context(), c.QueryParam("active") == "true", limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": list, "count": len(list)})
}

// Create adds a promo code.
func (h *PromoHandler) Create(c echo.Context) error {
	var req service.PromoInput
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, err)
	}
	p, err := h.Promos.Create(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// Get returns one promo code.
func (h *PromoHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	p, err := h.Promos.Get(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// Update replaces the writable fields; the code in the body is ignored.
func (h *PromoHandler) Update(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req service.PromoInput
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, err)
	}
	p, err := h.Promos.Update(c.Request().Context(), id, req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// Toggle flips a promo code between active and inactive.
func (h *PromoHandler) Toggle(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	p, err := h.Promos.Toggle(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// Delete removes a promo code that no booking references.
func (h *PromoHandler) Delete(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	if err := h.Promos.Delete(c.Request().Context(), id); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Usage reports redemption statistics for one code.
func (h *PromoHandler) Usage(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	u, err := h.Promos.Usage(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, u)
}
