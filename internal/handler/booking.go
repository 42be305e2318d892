package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/repository"
	"github.com/iliyamo/trip-booking/internal/service"
)

// BookingService is the engine surface used by the booking endpoints.
type BookingService interface {
	CreateBooking(ctx context.Context, in service.CreateBookingInput) (model.Booking, error)
	CancelBooking(ctx context.Context, actor model.Actor, bookingID uint64, reason string) (model.Booking, error)
	GetBooking(ctx context.Context, actor model.Actor, bookingID uint64) (model.Booking, error)
	GetBookingByReference(ctx context.Context, actor model.Actor, ref string) (model.Booking, error)
	ListBookings(ctx context.Context, userID uint64, f repository.BookingFilter) ([]model.Booking, error)
	ETicket(ctx context.Context, actor model.Actor, bookingID uint64) ([]byte, error)
	Refund(ctx context.Context, actor model.Actor, bookingID uint64, reason string) (service.RefundResult, error)
	PaymentsForBooking(ctx context.Context, actor model.Actor, bookingID uint64) ([]model.Payment, error)
}

// BookingHandler serves the customer booking endpoints.
type BookingHandler struct {
	Bookings BookingService
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(b BookingService) *BookingHandler { return &BookingHandler{Bookings: b} }

type createBookingReq struct {
	TripID          uint64            `json:"trip_id" validate:"required"`
	SeatNumbers     []int             `json:"seat_numbers" validate:"required,min=1,max=10,dive,min=1"`
	Passengers      []model.Passenger `json:"passengers" validate:"required,min=1,max=10,dive"`
	Contact         service.Contact   `json:"contact"`
	PromoCode       string            `json:"promo_code" validate:"max=50"`
	SpecialRequests string            `json:"special_requests" validate:"max=1000"`
}

type reasonReq struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Create holds seats and opens a pending booking for the caller.
func (h *BookingHandler) Create(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req createBookingReq
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, err)
	}
	b, err := h.Bookings.CreateBooking(c.Request().Context(), service.CreateBookingInput{
		UserID:          actor.UserID,
		TripID:          req.TripID,
		SeatNumbers:     req.SeatNumbers,
		Passengers:      req.Passengers,
		Contact:         req.Contact,
		PromoCode:       req.PromoCode,
		SpecialRequests: req.SpecialRequests,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// List returns the caller's bookings, optionally filtered by ?status=.
func (h *BookingHandler) List(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	f := repository.BookingFilter{Status: model.BookingStatus(c.QueryParam("status"))}
	f.Limit, f.Offset = page(c, 20)

	list, err := h.Bookings.ListBookings(c.Request().Context(), actor.UserID, f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": list, "count": len(list)})
}

// Get returns one of the caller's bookings with its tickets.
func (h *BookingHandler) Get(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	b, err := h.Bookings.GetBooking(c.Request().Context(), actor, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// GetByReference looks a booking up by its public reference.
func (h *BookingHandler) GetByReference(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	b, err := h.Bookings.GetBookingByReference(c.Request().Context(), actor, c.Param("ref"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Cancel cancels a booking. Pending bookings release their hold, confirmed
// ones are refunded. Admins reach the same handler through their own route.
func (h *BookingHandler) Cancel(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req reasonReq
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, err)
	}
	b, err := h.Bookings.CancelBooking(c.Request().Context(), actor, id, req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Refund refunds a confirmed booking and cancels it.
func (h *BookingHandler) Refund(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req reasonReq
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, err)
	}
	res, err := h.Bookings.Refund(c.Request().Context(), actor, id, req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"booking":               res.Booking,
		"payment":               res.Payment.View(false),
		"refund_transaction_id": res.RefundTransactionID,
		"refund_amount":         res.RefundAmount,
	})
}

// ETicket streams the PDF ticket of a confirmed booking.
func (h *BookingHandler) ETicket(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	pdf, err := h.Bookings.ETicket(c.Request().Context(), actor, id)
	if err != nil {
		return fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`inline; filename="eticket-%d.pdf"`, id))
	return c.Blob(http.StatusOK, "application/pdf", pdf)
}

// Payments lists every payment attempt of a booking.
func (h *BookingHandler) Payments(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	list, err := h.Bookings.PaymentsForBooking(c.Request().Context(), actor, id)
	if err != nil {
		return fail(c, err)
	}
	views := make([]model.PaymentView, 0, len(list))
	for _, p := range list {
		views = append(views, p.View(false))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": views, "count": len(views)})
}
