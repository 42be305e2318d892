package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/trip-booking/internal/cache"
	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/repository"
)

// TripCatalog serves trip reads. Trip details and seat maps are cached in
// Redis and dropped whenever a reservation or release touches the trip.
type TripCatalog struct {
	trips *repository.TripRepo
	seats *repository.SeatOccupancyRepo
	promo *PromoEvaluator
	cache *cache.Cache
	now   func() time.Time
	group singleflight.Group
}

// NewTripCatalog constructs a TripCatalog that caches reads in c.
func NewTripCatalog(trips *repository.TripRepo, seats *repository.SeatOccupancyRepo, promos *repository.PromoRepo, c *cache.Cache, now func() time.Time) *TripCatalog {
	if now == nil {
		now = time.Now
	}
	return &TripCatalog{trips: trips, seats: seats, promo: NewPromoEvaluator(promos), cache: c, now: now}
}

func tripKey(id uint64) string    { return fmt.Sprintf("trip:%d", id) }
func seatMapKey(id uint64) string { return fmt.Sprintf("trip:%d:seats", id) }

// CreateTripInput describes a new trip.
type CreateTripInput struct {
	TripNumber    string          `json:"trip_number" validate:"required,max=20"`
	Origin        string          `json:"origin" validate:"required,max=100"`
	Destination   string          `json:"destination" validate:"required,max=100"`
	DepartureTime time.Time       `json:"departure_time" validate:"required"`
	ArrivalTime   time.Time       `json:"arrival_time" validate:"required"`
	BaseFare      decimal.Decimal `json:"base_fare"`
	TotalSeats    int             `json:"total_seats" validate:"required,min=1,max=500"`
	OperatorName  string          `json:"operator_name" validate:"required,max=100"`
	VehicleType   string          `json:"vehicle_type" validate:"required,max=50"`
}

// CreateTrip adds a scheduled trip with every seat available.
func (c *TripCatalog) CreateTrip(ctx context.Context, in CreateTripInput) (model.Trip, error) {
	origin, dest := strings.TrimSpace(in.Origin), strings.TrimSpace(in.Destination)
	if strings.EqualFold(origin, dest) {
		return model.Trip{}, domain.Validation("origin and destination must differ")
	}
	if !in.ArrivalTime.After(in.DepartureTime) {
		return model.Trip{}, domain.Validation("arrival_time must be after departure_time")
	}
	if !in.DepartureTime.After(c.now()) {
		return model.Trip{}, domain.Validation("departure_time must be in the future")
	}
	if !in.BaseFare.IsPositive() {
		return model.Trip{}, domain.Validation("base_fare must be positive")
	}
	if in.TotalSeats <= 0 {
		return model.Trip{}, domain.Validation("total_seats must be positive")
	}
	t := model.Trip{
		TripNumber:    strings.ToUpper(strings.TrimSpace(in.TripNumber)),
		Origin:        origin,
		Destination:   dest,
		DepartureTime: in.DepartureTime.UTC(),
		ArrivalTime:   in.ArrivalTime.UTC(),
		BaseFare:      in.BaseFare.Round(2),
		TotalSeats:    in.TotalSeats,
		Status:        model.TripScheduled,
		OperatorName:  strings.TrimSpace(in.OperatorName),
		VehicleType:   strings.TrimSpace(in.VehicleType),
	}
	if err := c.trips.Create(ctx, &t); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return model.Trip{}, domain.ErrConflict.WithDetail("trip_number", t.TripNumber)
		}
		return model.Trip{}, domain.Internal("create trip", err)
	}
	return t, nil
}

// UpdateTripStatus changes a trip's operational status.
func (c *TripCatalog) UpdateTripStatus(ctx context.Context, id uint64, status model.TripStatus) (model.Trip, error) {
	if !status.Valid() {
		return model.Trip{}, domain.Validation("unknown trip status %q", status)
	}
	if err := c.trips.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Trip{}, domain.ErrTripNotFound
		}
		return model.Trip{}, domain.Internal("update trip", err)
	}
	c.Invalidate(ctx, id)
	return c.load(ctx, id)
}

// SearchTrips lists upcoming scheduled trips matching the filter.
func (c *TripCatalog) SearchTrips(ctx context.Context, f repository.TripFilter) ([]model.Trip, error) {
	f.Origin = strings.TrimSpace(f.Origin)
	f.Destination = strings.TrimSpace(f.Destination)
	f.OnlyFuture = true
	f.Now = c.now().UTC()
	list, err := c.trips.Search(ctx, f)
	if err != nil {
		return nil, domain.Internal("search trips", err)
	}
	return list, nil
}

// GetTrip returns a trip, serving from the cache when possible. Concurrent
// misses for the same trip share one database read.
func (c *TripCatalog) GetTrip(ctx context.Context, id uint64) (model.Trip, error) {
	var t model.Trip
	if err := c.cache.GetJSON(ctx, tripKey(id), &t); err == nil {
		return t, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		logrus.WithFields(logrus.Fields{"key": tripKey(id), "error": err}).Warn("catalog cache read failed")
	}
	v, err, _ := c.group.Do(tripKey(id), func() (any, error) {
		t, err := c.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := c.cache.SetJSON(ctx, tripKey(id), t); err != nil {
			logrus.WithFields(logrus.Fields{"key": tripKey(id), "error": err}).Warn("catalog cache write failed")
		}
		return t, nil
	})
	if err != nil {
		return model.Trip{}, err
	}
	return v.(model.Trip), nil
}

func (c *TripCatalog) load(ctx context.Context, id uint64) (model.Trip, error) {
	t, err := c.trips.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Trip{}, domain.ErrTripNotFound
		}
		return model.Trip{}, domain.Internal("load trip", err)
	}
	return t, nil
}

// SeatMap is the availability view of a trip.
type SeatMap struct {
	TripID         uint64 `json:"trip_id"`
	TotalSeats     int    `json:"total_seats"`
	AvailableSeats int    `json:"available_seats"`
	Available      []int  `json:"available"`
	Occupied       []int  `json:"occupied"`
}

// SeatMap lists which seats of the trip are free.
func (c *TripCatalog) SeatMap(ctx context.Context, id uint64) (SeatMap, error) {
	var m SeatMap
	if err := c.cache.GetJSON(ctx, seatMapKey(id), &m); err == nil {
		return m, nil
	}
	v, err, _ := c.group.Do(seatMapKey(id), func() (any, error) {
		t, err := c.load(ctx, id)
		if err != nil {
			return nil, err
		}
		occupied, err := c.seats.Occupied(ctx, id)
		if err != nil {
			return nil, domain.Internal("load occupancy", err)
		}
		m := buildSeatMap(t, occupied)
		if err := c.cache.SetJSON(ctx, seatMapKey(id), m); err != nil {
			logrus.WithFields(logrus.Fields{"key": seatMapKey(id), "error": err}).Warn("catalog cache write failed")
		}
		return m, nil
	})
	if err != nil {
		return SeatMap{}, err
	}
	return v.(SeatMap), nil
}

func buildSeatMap(t model.Trip, occupied []int) SeatMap {
	taken := make(map[int]bool, len(occupied))
	for _, s := range occupied {
		taken[s] = true
	}
	m := SeatMap{TripID: t.ID, TotalSeats: t.TotalSeats, Available: []int{}, Occupied: []int{}}
	for s := 1; s <= t.TotalSeats; s++ {
		if taken[s] {
			m.Occupied = append(m.Occupied, s)
		} else {
			m.Available = append(m.Available, s)
		}
	}
	m.AvailableSeats = len(m.Available)
	return m
}

// FareQuote is an advisory price for a prospective booking.
type FareQuote struct {
	TripID   uint64          `json:"trip_id"`
	Seats    int             `json:"seats"`
	BaseFare decimal.Decimal `json:"base_fare"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount_amount"`
	Total    decimal.Decimal `json:"total_amount"`
	Promo    string          `json:"promo_code,omitempty"`
}

// QuoteFare prices seats on a trip with an optional promo. Nothing is
// reserved or redeemed.
func (c *TripCatalog) QuoteFare(ctx context.Context, tripID uint64, seats int, promoCode string, userID uint64) (FareQuote, error) {
	if seats <= 0 {
		return FareQuote{}, domain.Validation("seats must be positive")
	}
	t, err := c.GetTrip(ctx, tripID)
	if err != nil {
		return FareQuote{}, err
	}
	if seats > t.TotalSeats {
		return FareQuote{}, domain.Validation("trip has only %d seats", t.TotalSeats)
	}
	subtotal := t.BaseFare.Mul(decimal.NewFromInt(int64(seats))).Round(2)
	q := FareQuote{TripID: t.ID, Seats: seats, BaseFare: t.BaseFare, Subtotal: subtotal, Discount: decimal.Zero, Total: subtotal}
	if code := strings.TrimSpace(promoCode); code != "" {
		ev, err := c.promo.Quote(ctx, code, subtotal, BookingContext{UserID: userID, Now: c.now().UTC()})
		if err != nil {
			return FareQuote{}, err
		}
		q.Discount, q.Total, q.Promo = ev.Discount, ev.Total, ev.Promo.Code
	}
	return q, nil
}

// Invalidate drops the cached views of a trip. It is safe on a nil catalog.
func (c *TripCatalog) Invalidate(ctx context.Context, tripID uint64) {
	if c == nil {
		return
	}
	if err := c.cache.Delete(ctx, tripKey(tripID), seatMapKey(tripID)); err != nil {
		logrus.WithFields(logrus.Fields{"trip_id": tripID, "error": err}).Warn("catalog invalidation failed")
	}
}
