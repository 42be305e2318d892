package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/repository"
	"github.com/iliyamo/trip-booking/internal/service"
)

// PaymentService is the engine surface used by the payment endpoints.
type PaymentService interface {
	InitiatePayment(ctx context.Context, in service.InitiatePaymentInput) (model.Payment, error)
	CompletePayment(ctx context.Context, userID uint64, txnID, scenario string) (service.PaymentOutcome, error)
	GetPayment(ctx context.Context, actor model.Actor, txnID string) (model.Payment, error)
	PaymentHistory(ctx context.Context, userID uint64, f repository.PaymentFilter) ([]model.Payment, int, error)
}

// PaymentHandler serves the payment endpoints.
type PaymentHandler struct {
	Payments PaymentService
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(p PaymentService) *PaymentHandler { return &PaymentHandler{Payments: p} }

type initiatePaymentReq struct {
	BookingID uint64               `json:"booking_id" validate:"required"`
	Method    model.PaymentMethod  `json:"payment_method" validate:"required"`
	Amount    decimal.Decimal      `json:"amount" validate:"money"`
	Details   model.PaymentDetails `json:"payment_details"`
}

type completePaymentReq struct {
	Scenario string `json:"test_scenario" validate:"max=50"`
}

// Initiate opens a processing payment for one of the caller's bookings.
func (h *PaymentHandler) Initiate(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req initiatePaymentReq
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, err)
	}
	p, err := h.Payments.InitiatePayment(c.Request().Context(), service.InitiatePaymentInput{
		UserID:    actor.UserID,
		BookingID: req.BookingID,
		Method:    req.Method,
		Amount:    req.Amount,
		Details:   req.Details,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, p.View(false))
}

// Complete runs the gateway charge for :txn. A declined charge is still a
// 200 with success=false.
func (h *PaymentHandler) Complete(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req completePaymentReq
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, err)
	}
	out, err := h.Payments.CompletePayment(c.Request().Context(), actor.UserID, c.Param("txn"), req.Scenario)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": out.Success,
		"message": out.Message,
		"payment": out.Payment.View(false),
		"booking": out.Booking,
	})
}

// Get returns one of the caller's payments.
func (h *PaymentHandler) Get(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	p, err := h.Payments.GetPayment(c.Request().Context(), actor, c.Param("txn"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, p.View(false))
}

// GetSensitive is the admin view of a payment, including the gateway
// response and masked instrument details.
func (h *PaymentHandler) GetSensitive(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	p, err := h.Payments.GetPayment(c.Request().Context(), actor, c.Param("txn"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, p.View(true))
}

// History pages through the caller's payments, newest first.
func (h *PaymentHandler) History(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	f := repository.PaymentFilter{Status: model.TransactionStatus(c.QueryParam("status"))}
	f.Limit, f.Offset = page(c, 20)

	list, total, err := h.Payments.PaymentHistory(c.Request().Context(), actor.UserID, f)
	if err != nil {
		return fail(c, err)
	}
	views := make([]model.PaymentView, 0, len(list))
	for _, p := range list {
		views = append(views, p.View(false))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"items":  views,
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

// PaymentMethods lists the supported payment methods.
func PaymentMethods(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"items": service.PaymentMethodCatalog()})
}

// PaymentScenarios lists the simulator outcomes a client may request.
func PaymentScenarios(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"items": service.Scenarios()})
}
