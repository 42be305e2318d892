package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/metrics"
	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/queue"
	"github.com/iliyamo/trip-booking/internal/repository"
)

const (
	reasonHoldExpired = "hold expired"
	codeHoldExpired   = "HOLD_EXPIRED"
	codeCancelled     = "BOOKING_CANCELLED"
)

// Contact is the lead passenger's contact data stored on the booking.
type Contact struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"required,max=20"`
}

// CreateBookingInput is a booking attempt. SeatNumbers[i] is assigned to
// Passengers[i].
type CreateBookingInput struct {
	UserID          uint64
	TripID          uint64
	SeatNumbers     []int
	Passengers      []model.Passenger
	Contact         Contact
	PromoCode       string
	SpecialRequests string
}

func (in CreateBookingInput) validate() error {
	if in.UserID == 0 {
		return domain.Validation("user is required")
	}
	if in.TripID == 0 {
		return domain.Validation("trip_id is required")
	}
	if len(in.SeatNumbers) == 0 {
		return domain.Validation("at least one seat is required")
	}
	if len(in.SeatNumbers) != len(in.Passengers) {
		return domain.Validation("%d seats requested for %d passengers", len(in.SeatNumbers), len(in.Passengers))
	}
	for i, p := range in.Passengers {
		if strings.TrimSpace(p.Name) == "" {
			return domain.Validation("passenger %d has no name", i+1)
		}
		if p.Age < 0 {
			return domain.Validation("passenger %d has a negative age", i+1)
		}
	}
	if strings.TrimSpace(in.Contact.Name) == "" || strings.TrimSpace(in.Contact.Email) == "" {
		return domain.Validation("contact name and email are required")
	}
	return nil
}

// CreateBooking reserves the seats, prices the booking, applies the promo
// and records a pending booking with its tickets, all in one transaction.
// Any failure leaves no seat, booking or promo usage behind.
func (e *Engine) CreateBooking(ctx context.Context, in CreateBookingInput) (model.Booking, error) {
	start := time.Now()
	defer metrics.ObserveSince("create_booking", start)

	if err := in.validate(); err != nil {
		metrics.BookingOutcome("create", string(domain.CodeOf(err)))
		return model.Booking{}, err
	}
	ref, err := e.ids.BookingReference()
	if err != nil {
		return model.Booking{}, domain.Internal("booking reference", err)
	}

	now := e.clock()
	var (
		b       model.Booking
		expired []model.Booking
	)
	err = inTx(ctx, e.db, func(tx *sql.Tx) error {
		expired = expired[:0]
		staleIDs, err := e.bookings.StalePendingIDsForTripTx(ctx, tx, in.TripID, now)
		if err != nil {
			return domain.Internal("load stale holds", err)
		}
		for _, id := range staleIDs {
			s, err := e.bookings.GetByIDForUpdateTx(ctx, tx, id)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				return domain.Internal("lock stale hold", err)
			}
			// Paid or expired by someone else between the scan and the lock.
			if !s.HoldExpired(now) {
				continue
			}
			if err := e.expireTx(ctx, tx, &s, now); err != nil {
				return err
			}
			expired = append(expired, s)
		}

		trip, err := e.trips.GetByIDTx(ctx, tx, in.TripID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrTripNotFound
			}
			return domain.Internal("load trip", err)
		}
		if !trip.Bookable(now) {
			return domain.Validation("trip %s is not open for booking", trip.TripNumber)
		}
		if err := e.ledger.Reserve(ctx, tx, trip, ref, in.SeatNumbers); err != nil {
			if errors.Is(err, domain.ErrSeatConflict) {
				return seatsUnavailable(err)
			}
			return err
		}

		subtotal := trip.BaseFare.Mul(decimal.NewFromInt(int64(len(in.SeatNumbers)))).Round(2)
		discount := decimal.Zero
		var promoID *uint64
		if code := strings.TrimSpace(in.PromoCode); code != "" {
			ev, err := e.promo.Evaluate(ctx, tx, code, subtotal, BookingContext{UserID: in.UserID, Now: now})
			if err != nil {
				return err
			}
			discount = ev.Discount
			id := ev.Promo.ID
			promoID = &id
		}

		b = model.Booking{
			Reference:       ref,
			UserID:          in.UserID,
			TripID:          trip.ID,
			PromoCodeID:     promoID,
			PassengerName:   strings.TrimSpace(in.Contact.Name),
			PassengerEmail:  strings.ToLower(strings.TrimSpace(in.Contact.Email)),
			PassengerPhone:  strings.TrimSpace(in.Contact.Phone),
			Subtotal:        subtotal,
			DiscountAmount:  discount,
			TotalAmount:     subtotal.Sub(discount),
			Status:          model.BookingPending,
			PaymentStatus:   model.PaymentUnpaid,
			NumSeats:        len(in.SeatNumbers),
			SpecialRequests: in.SpecialRequests,
			HoldExpiresAt:   now.Add(e.holdWindow),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := e.bookings.CreateTx(ctx, tx, &b); err != nil {
			return domain.Internal("insert booking", err)
		}

		tickets := make([]model.Ticket, len(in.SeatNumbers))
		for i, seat := range in.SeatNumbers {
			tickets[i] = model.Ticket{
				BookingID:     b.ID,
				SeatNumber:    seat,
				PassengerName: strings.TrimSpace(in.Passengers[i].Name),
				PassengerAge:  in.Passengers[i].Age,
				Price:         trip.BaseFare,
				Status:        model.TicketPending,
				CreatedAt:     now,
			}
		}
		if err := e.tickets.CreateBulkTx(ctx, tx, tickets); err != nil {
			return domain.Internal("insert tickets", err)
		}
		b.Tickets = tickets

		if promoID != nil {
			if err := e.promo.Redeem(ctx, tx, *promoID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.BookingOutcome("create", string(domain.CodeOf(err)))
		return model.Booking{}, err
	}

	metrics.BookingOutcome("create", "ok")
	metrics.HoldsExpired(len(expired))
	e.catalog.Invalidate(ctx, in.TripID)
	for _, s := range expired {
		e.publishCancelled(s, reasonHoldExpired, false, now)
	}
	return b, nil
}

// seatsUnavailable restates a ledger conflict for the caller, keeping its
// details and any wrapped lock error.
func seatsUnavailable(err error) error {
	out := domain.ErrSeatsUnavailable
	var de *domain.Error
	if errors.As(err, &de) {
		out = out.WithCause(de.Unwrap())
		for k, v := range de.Details {
			out = out.WithDetail(k, v)
		}
	}
	return out
}

// expireTx cancels a pending booking whose hold ran out: seats go back to
// the trip, tickets are cancelled and an in-flight payment is failed.
func (e *Engine) expireTx(ctx context.Context, tx *sql.Tx, b *model.Booking, now time.Time) error {
	tickets, err := e.tickets.ListByBookingTx(ctx, tx, b.ID)
	if err != nil {
		return domain.Internal("load tickets", err)
	}
	b.Tickets = tickets
	if _, err := e.ledger.Release(ctx, tx, b.TripID, b.Reference); err != nil {
		return err
	}
	if err := e.bookings.UpdateStatusTx(ctx, tx, b.ID, repository.StatusUpdate{
		Status:        model.BookingCancelled,
		PaymentStatus: b.PaymentStatus,
		CancelledAt:   &now,
		Reason:        reasonHoldExpired,
		Now:           now,
	}); err != nil {
		return domain.Internal("expire booking", err)
	}
	if err := e.tickets.MirrorBookingStatusTx(ctx, tx, b.ID, model.BookingCancelled); err != nil {
		return domain.Internal("cancel tickets", err)
	}
	if err := e.payments.FailOpenForBookingTx(ctx, tx, b.ID, codeHoldExpired, "booking hold expired", now); err != nil {
		return domain.Internal("fail open payment", err)
	}
	b.Status = model.BookingCancelled
	b.CancelledAt, b.CancellationReason = &now, reasonHoldExpired
	b.UpdatedAt = now
	return nil
}

// errBecameConfirmed signals that a booking read as pending was confirmed
// before its row lock was taken.
var errBecameConfirmed = errors.New("booking confirmed concurrently")

// CancelBooking cancels a pending or confirmed booking before departure.
// Confirmed bookings are refunded in full. Customers may only cancel their
// own bookings.
func (e *Engine) CancelBooking(ctx context.Context, actor model.Actor, bookingID uint64, reason string) (model.Booking, error) {
	b, err := e.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return model.Booking{}, bookingLookupError(err)
	}
	if !actor.Owns(b.UserID) {
		return model.Booking{}, domain.ErrForbidden
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "cancelled by customer"
		if actor.IsAdmin() && actor.UserID != b.UserID {
			reason = "cancelled by admin"
		}
	}
	if b.Status == model.BookingConfirmed {
		return e.cancelConfirmed(ctx, actor, bookingID, reason)
	}

	out, err := e.cancelPending(ctx, bookingID, reason)
	if errors.Is(err, errBecameConfirmed) {
		return e.cancelConfirmed(ctx, actor, bookingID, reason)
	}
	if err != nil {
		metrics.BookingOutcome("cancel", string(domain.CodeOf(err)))
		return model.Booking{}, err
	}
	metrics.BookingOutcome("cancel", "ok")
	return out, nil
}

func (e *Engine) cancelConfirmed(ctx context.Context, actor model.Actor, bookingID uint64, reason string) (model.Booking, error) {
	res, err := e.refund(ctx, actor, bookingID, reason, true)
	if err != nil {
		metrics.BookingOutcome("cancel", string(domain.CodeOf(err)))
		return model.Booking{}, err
	}
	metrics.BookingOutcome("cancel", "ok")
	return res.Booking, nil
}

func (e *Engine) cancelPending(ctx context.Context, bookingID uint64, reason string) (model.Booking, error) {
	now := e.clock()
	var b model.Booking
	err := inTx(ctx, e.db, func(tx *sql.Tx) error {
		var err error
		b, err = e.bookings.GetByIDForUpdateTx(ctx, tx, bookingID)
		if err != nil {
			return bookingLookupError(err)
		}
		if b.Status == model.BookingConfirmed {
			return errBecameConfirmed
		}
		if !b.Status.CanTransition(model.BookingCancelled) {
			return domain.ErrCancellationWindowClosed.WithDetail("booking_status", b.Status)
		}
		trip, err := e.trips.GetByIDTx(ctx, tx, b.TripID)
		if err != nil {
			return domain.Internal("load trip", err)
		}
		if trip.Departed(now) {
			return domain.ErrCancellationWindowClosed.WithDetail("departure_time", trip.DepartureTime)
		}
		if b.Tickets, err = e.tickets.ListByBookingTx(ctx, tx, b.ID); err != nil {
			return domain.Internal("load tickets", err)
		}
		if _, err := e.ledger.Release(ctx, tx, b.TripID, b.Reference); err != nil {
			return err
		}
		if err := e.bookings.UpdateStatusTx(ctx, tx, b.ID, repository.StatusUpdate{
			Status:        model.BookingCancelled,
			PaymentStatus: b.PaymentStatus,
			CancelledAt:   &now,
			Reason:        reason,
			Now:           now,
		}); err != nil {
			return domain.Internal("cancel booking", err)
		}
		if err := e.tickets.MirrorBookingStatusTx(ctx, tx, b.ID, model.BookingCancelled); err != nil {
			return domain.Internal("cancel tickets", err)
		}
		if err := e.payments.FailOpenForBookingTx(ctx, tx, b.ID, codeCancelled, "booking cancelled", now); err != nil {
			return domain.Internal("fail open payment", err)
		}
		return nil
	})
	if err != nil {
		return model.Booking{}, err
	}
	b.Status = model.BookingCancelled
	b.CancelledAt = &now
	b.CancellationReason = reason
	b.UpdatedAt = now
	e.catalog.Invalidate(ctx, b.TripID)
	e.publishCancelled(b, reason, false, now)
	return b, nil
}

// GetBooking returns a booking with its tickets.
func (e *Engine) GetBooking(ctx context.Context, actor model.Actor, bookingID uint64) (model.Booking, error) {
	b, err := e.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return model.Booking{}, bookingLookupError(err)
	}
	if !actor.Owns(b.UserID) {
		return model.Booking{}, domain.ErrForbidden
	}
	if b.Tickets, err = e.tickets.ListByBooking(ctx, b.ID); err != nil {
		return model.Booking{}, domain.Internal("load tickets", err)
	}
	return b, nil
}

// GetBookingByReference returns a booking by its public reference.
func (e *Engine) GetBookingByReference(ctx context.Context, actor model.Actor, ref string) (model.Booking, error) {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	if ref == "" {
		return model.Booking{}, domain.Validation("booking reference is required")
	}
	b, err := e.bookings.GetByReference(ctx, ref)
	if err != nil {
		return model.Booking{}, bookingLookupError(err)
	}
	if !actor.Owns(b.UserID) {
		return model.Booking{}, domain.ErrForbidden
	}
	if b.Tickets, err = e.tickets.ListByBooking(ctx, b.ID); err != nil {
		return model.Booking{}, domain.Internal("load tickets", err)
	}
	return b, nil
}

// ListBookings returns a page of the user's bookings, newest first.
func (e *Engine) ListBookings(ctx context.Context, userID uint64, f repository.BookingFilter) ([]model.Booking, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, domain.Validation("unknown booking status %q", f.Status)
	}
	list, err := e.bookings.ListByUser(ctx, userID, f)
	if err != nil {
		return nil, domain.Internal("list bookings", err)
	}
	return list, nil
}

// ExpirePending cancels up to one batch of pending bookings whose hold has
// ended, each in its own transaction, and returns how many were expired.
func (e *Engine) ExpirePending(ctx context.Context) (int, error) {
	now := e.clock()
	ids, err := e.bookings.ExpiredPendingIDs(ctx, now, e.sweepBatch)
	if err != nil {
		return 0, domain.Internal("list expired holds", err)
	}
	var expired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.sweepWorkers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			ok, err := e.expireOne(gctx, id, now)
			if err != nil {
				e.log.WithFields(logrus.Fields{"booking_id": id, "error": err}).Warn("hold expiry failed")
				return nil
			}
			if ok {
				expired.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	n := int(expired.Load())
	metrics.HoldsExpired(n)
	return n, ctx.Err()
}

func (e *Engine) expireOne(ctx context.Context, id uint64, now time.Time) (bool, error) {
	var b model.Booking
	done := false
	err := inTx(ctx, e.db, func(tx *sql.Tx) error {
		var err error
		b, err = e.bookings.GetByIDForUpdateTx(ctx, tx, id)
		if err != nil {
			return bookingLookupError(err)
		}
		if !b.HoldExpired(now) {
			return nil
		}
		if err := e.expireTx(ctx, tx, &b, now); err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil || !done {
		return false, err
	}
	e.catalog.Invalidate(ctx, b.TripID)
	e.publishCancelled(b, reasonHoldExpired, false, now)
	return true, nil
}

// CompleteDeparted moves confirmed bookings whose trip has arrived to
// completed.
func (e *Engine) CompleteDeparted(ctx context.Context) (int64, error) {
	n, err := e.bookings.CompleteDeparted(ctx, e.clock())
	if err != nil {
		return 0, domain.Internal("complete bookings", err)
	}
	return n, nil
}

func bookingLookupError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.ErrBookingNotFound
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Internal("load booking", err)
}

func (e *Engine) publishCancelled(b model.Booking, reason string, refunded bool, at time.Time) {
	ev := queue.BookingCancelledEvent{
		BookingID:   b.ID,
		Reference:   b.Reference,
		UserID:      b.UserID,
		TripID:      b.TripID,
		Seats:       b.SeatNumbers(),
		Reason:      reason,
		Refunded:    refunded,
		CancelledAt: at.Format(time.RFC3339),
	}
	e.events.emit(queue.QueueBookingCancelled, func(ctx context.Context, pub EventPublisher) error {
		return pub.BookingCancelled(ctx, ev)
	})
}
