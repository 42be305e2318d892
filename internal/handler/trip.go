package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/repository"
	"github.com/iliyamo/trip-booking/internal/service"
)

// TripService is the catalog surface used by the trip endpoints.
type TripService interface {
	CreateTrip(ctx context.Context, in service.CreateTripInput) (model.Trip, error)
	UpdateTripStatus(ctx context.Context, id uint64, status model.TripStatus) (model.Trip, error)
	SearchTrips(ctx context.Context, f repository.TripFilter) ([]model.Trip, error)
	GetTrip(ctx context.Context, id uint64) (model.Trip, error)
	SeatMap(ctx context.Context, id uint64) (service.SeatMap, error)
	QuoteFare(ctx context.Context, tripID uint64, seats int, promoCode string, userID uint64) (service.FareQuote, error)
}

// TripHandler serves the trip catalog endpoints.
type TripHandler struct {
	Trips TripService
}

// NewTripHandler constructs a TripHandler.
func NewTripHandler(trips TripService) *TripHandler { return &TripHandler{Trips: trips} }

// Search handles GET /v1/trips?origin=&destination=&date=YYYY-MM-DD.
func (h *TripHandler) Search(c echo.Context) error {
	f := repository.TripFilter{
		Origin:      c.QueryParam("origin"),
		Destination: c.QueryParam("destination"),
	}
	if raw := strings.TrimSpace(c.QueryParam("date")); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return fail(c, domain.Validation("date must be YYYY-MM-DD"))
		}
		f.Date = d
	}
	f.Limit, f.Offset = page(c, 20)

	trips, err := h.Trips.SearchTrips(c.Request().Context(), f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": trips, "count": len(trips)})
}

// Get returns one trip.
func (h *TripHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	t, err := h.Trips.GetTrip(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// Seats returns the seat map of a trip.
func (h *TripHandler) Seats(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	m, err := h.Trips.SeatMap(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

type fareReq struct {
	TripID    uint64 `json:"trip_id" validate:"required"`
	Seats     int    `json:"seats" validate:"required,min=1"`
	PromoCode string `json:"promo_code" validate:"max=50"`
}

// Fare prices a prospective booking. The promo check is anonymous, so
// per-user limits are not applied here.
func (h *TripHandler) Fare(c echo.Context) error {
	var req fareReq
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, err)
	}
	q, err := h.Trips.QuoteFare(c.Request().Context(), req.TripID, req.Seats, req.PromoCode, 0)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, q)
}

// ----- admin -----

// Create schedules a new trip.
func (h *TripHandler) Create(c echo.Context) error {
	var req service.CreateTripInput
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, err)
	}
	t, err := h.Trips.CreateTrip(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

type tripStatusReq struct {
	Status model.TripStatus `json:"status" validate:"required"`
}

// UpdateStatus moves a trip to a new operational status.
func (h *TripHandler) UpdateStatus(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req tripStatusReq
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, err)
	}
	t, err := h.Trips.UpdateTripStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}
