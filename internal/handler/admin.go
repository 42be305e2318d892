package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/repository"
	"github.com/iliyamo/trip-booking/internal/service"
)

// AdminService is the engine surface used by the back-office endpoints.
type AdminService interface {
	SearchBookings(ctx context.Context, f repository.BookingSearch) ([]model.Booking, int, error)
	SearchPayments(ctx context.Context, f repository.PaymentSearch) ([]model.Payment, int, error)
	GetBooking(ctx context.Context, actor model.Actor, bookingID uint64) (model.Booking, error)
	OverrideBookingStatus(ctx context.Context, actor model.Actor, bookingID uint64, to model.BookingStatus, reason string) (service.StatusChange, error)
	OverridePaymentStatus(ctx context.Context, actor model.Actor, bookingID uint64, to model.BookingPaymentStatus) (service.StatusChange, error)
}

// AdminHandler serves the admin booking and payment views.
type AdminHandler struct {
	Admin AdminService
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(a AdminService) *AdminHandler { return &AdminHandler{Admin: a} }

type bookingStatusReq struct {
	Status model.BookingStatus `json:"booking_status" validate:"required"`
	Reason string              `json:"reason" validate:"max=500"`
}

type paymentStatusReq struct {
	Status model.BookingPaymentStatus `json:"payment_status" validate:"required"`
}

// Bookings handles GET /v1/admin/bookings with optional status,
// payment_status, user_id, trip_id, date_from, date_to, search, sort_by and
// sort_order filters.
func (h *AdminHandler) Bookings(c echo.Context) error {
	f := repository.BookingSearch{
		Status:        model.BookingStatus(strings.ToLower(c.QueryParam("status"))),
		PaymentStatus: model.BookingPaymentStatus(strings.ToLower(c.QueryParam("payment_status"))),
		Query:         c.QueryParam("search"),
		SortBy:        c.QueryParam("sort_by"),
		Asc:           strings.EqualFold(c.QueryParam("sort_order"), "asc"),
	}
	var err error
	if f.UserID, err = queryID(c, "user_id"); err != nil {
		return fail(c, err)
	}
	if f.TripID, err = queryID(c, "trip_id"); err != nil {
		return fail(c, err)
	}
	if f.From, f.To, err = dateRange(c); err != nil {
		return fail(c, err)
	}
	f.Limit, f.Offset = page(c, 50)

	list, total, err := h.Admin.SearchBookings(c.Request().Context(), f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"items":  list,
		"count":  len(list),
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

// Booking returns any booking with its tickets.
func (h *AdminHandler) Booking(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	b, err := h.Admin.GetBooking(c.Request().Context(), actor, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// SetBookingStatus handles PUT /v1/admin/bookings/:id/status.
func (h *AdminHandler) SetBookingStatus(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req bookingStatusReq
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, err)
	}
	to := model.BookingStatus(strings.ToLower(string(req.Status)))
	change, err := h.Admin.OverrideBookingStatus(c.Request().Context(), actor, id, to, req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, change)
}

// SetPaymentStatus handles PUT /v1/admin/bookings/:id/payment.
func (h *AdminHandler) SetPaymentStatus(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req paymentStatusReq
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, err)
	}
	to := model.BookingPaymentStatus(strings.ToLower(string(req.Status)))
	change, err := h.Admin.OverridePaymentStatus(c.Request().Context(), actor, id, to)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, change)
}

// Payments handles GET /v1/admin/payments with optional status,
// payment_method, user_id, booking_id, date_from, date_to, search, sort_by
// and sort_order filters.
func (h *AdminHandler) Payments(c echo.Context) error {
	f := repository.PaymentSearch{
		Status: model.TransactionStatus(strings.ToLower(c.QueryParam("status"))),
		Method: model.PaymentMethod(strings.ToLower(c.QueryParam("payment_method"))),
		Query:  c.QueryParam("search"),
		SortBy: c.QueryParam("sort_by"),
		Asc:    strings.EqualFold(c.QueryParam("sort_order"), "asc"),
	}
	var err error
	if f.UserID, err = queryID(c, "user_id"); err != nil {
		return fail(c, err)
	}
	if f.BookingID, err = queryID(c, "booking_id"); err != nil {
		return fail(c, err)
	}
	if f.From, f.To, err = dateRange(c); err != nil {
		return fail(c, err)
	}
	return h.listPayments(c, f)
}

// FailedPayments lists failed attempts, newest first.
func (h *AdminHandler) FailedPayments(c echo.Context) error {
	return h.listPayments(c, repository.PaymentSearch{Status: model.TxnFailed})
}

// Refunds lists refunded payments by refund date, newest first.
func (h *AdminHandler) Refunds(c echo.Context) error {
	return h.listPayments(c, repository.PaymentSearch{Status: model.TxnRefunded, SortBy: "refund_date"})
}

func (h *AdminHandler) listPayments(c echo.Context, f repository.PaymentSearch) error {
	f.Limit, f.Offset = page(c, 50)
	list, total, err := h.Admin.SearchPayments(c.Request().Context(), f)
	if err != nil {
		return fail(c, err)
	}
	views := make([]model.PaymentView, 0, len(list))
	for _, p := range list {
		views = append(views, p.View(true))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"items":  views,
		"count":  len(views),
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

// queryID reads an optional positive id from the query string.
func queryID(c echo.Context, name string) (uint64, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, domain.Validation("invalid %s", name)
	}
	return id, nil
}

// dateRange reads date_from and date_to as YYYY-MM-DD. The upper bound
// covers the whole of date_to.
func dateRange(c echo.Context) (from, to *time.Time, err error) {
	if raw := strings.TrimSpace(c.QueryParam("date_from")); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, nil, domain.Validation("date_from must be YYYY-MM-DD")
		}
		from = &d
	}
	if raw := strings.TrimSpace(c.QueryParam("date_to")); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, nil, domain.Validation("date_to must be YYYY-MM-DD")
		}
		end := d.AddDate(0, 0, 1)
		to = &end
	}
	if from != nil && to != nil && !from.Before(*to) {
		return nil, nil, domain.Validation("date_from must not be after date_to")
	}
	return from, to, nil
}
