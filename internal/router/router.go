// Package router maps the HTTP API onto handlers and their middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/trip-booking/internal/handler"
	"github.com/iliyamo/trip-booking/internal/middleware"
	"github.com/iliyamo/trip-booking/internal/model"
)

// Handlers is everything the router mounts.
type Handlers struct {
	Auth     *handler.AuthHandler
	Trips    *handler.TripHandler
	Bookings *handler.BookingHandler
	Payments *handler.PaymentHandler
	Promos   *handler.PromoHandler
	Admin    *handler.AdminHandler
	Health   echo.HandlerFunc

	JWTSecret string
	// Throttle guards booking and payment writes. Nil disables it.
	Throttle echo.MiddlewareFunc
}

// Register mounts every route on e.
func Register(e *echo.Echo, h Handlers) {
	throttle := h.Throttle
	if throttle == nil {
		throttle = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	e.GET("/healthz", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// public
	a := e.Group("/v1/auth")
	a.POST("/register", h.Auth.Register)
	a.POST("/login", h.Auth.Login)

	v1 := e.Group("/v1")
	v1.GET("/trips", h.Trips.Search)
	v1.POST("/trips/fare", h.Trips.Fare)
	v1.GET("/trips/:id", h.Trips.Get)
	v1.GET("/trips/:id/seats", h.Trips.Seats)
	v1.GET("/promo-codes", h.Promos.Active)
	v1.GET("/payments/methods", handler.PaymentMethods)
	v1.GET("/payments/test-scenarios", handler.PaymentScenarios)

	jwt := middleware.JWTAuth(h.JWTSecret)

	// any signed-in account
	me := e.Group("/v1", jwt, middleware.RequireRole(model.RoleCustomer, model.RoleAdmin))
	me.GET("/me", h.Auth.Me)

	// customer
	cust := e.Group("/v1", jwt, middleware.RequireRole(model.RoleCustomer))
	cust.POST("/promo-codes/validate", h.Promos.Validate)

	cust.POST("/bookings", h.Bookings.Create, throttle)
	cust.GET("/bookings", h.Bookings.List)
	cust.GET("/bookings/reference/:ref", h.Bookings.GetByReference)
	cust.GET("/bookings/:id", h.Bookings.Get)
	cust.GET("/bookings/:id/eticket", h.Bookings.ETicket)
	cust.GET("/bookings/:id/payments", h.Bookings.Payments)
	cust.POST("/bookings/:id/cancel", h.Bookings.Cancel, throttle)
	cust.POST("/bookings/:id/refund", h.Bookings.Refund, throttle)

	cust.POST("/payments", h.Payments.Initiate, throttle)
	cust.GET("/payments/history", h.Payments.History)
	cust.GET("/payments/:txn", h.Payments.Get)
	cust.POST("/payments/:txn/complete", h.Payments.Complete, throttle)

	// admin
	adm := e.Group("/v1/admin", jwt, middleware.RequireRole(model.RoleAdmin))
	adm.POST("/trips", h.Trips.Create)
	adm.PATCH("/trips/:id/status", h.Trips.UpdateStatus)

	adm.GET("/promo-codes", h.Promos.List)
	adm.POST("/promo-codes", h.Promos.Create)
	adm.GET("/promo-codes/:id", h.Promos.Get)
	adm.PUT("/promo-codes/:id", h.Promos.Update)
	adm.DELETE("/promo-codes/:id", h.Promos.Delete)
	adm.POST("/promo-codes/:id/toggle", h.Promos.Toggle)
	adm.GET("/promo-codes/:id/usage", h.Promos.Usage)

	adm.GET("/bookings", h.Admin.Bookings)
	adm.GET("/bookings/:id", h.Admin.Booking)
	adm.PUT("/bookings/:id/status", h.Admin.SetBookingStatus)
	adm.PUT("/bookings/:id/payment", h.Admin.SetPaymentStatus)
	adm.POST("/bookings/:id/cancel", h.Bookings.Cancel)

	adm.GET("/payments", h.Admin.Payments)
	adm.GET("/payments/failed", h.Admin.FailedPayments)
	adm.GET("/payments/refunds", h.Admin.Refunds)
	adm.GET("/payments/:txn", h.Payments.GetSensitive)
}
