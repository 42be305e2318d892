package service

import (
	"context"
	"database/sql"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/metrics"
	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/repository"
)

// StatusChange reports an administrative status override.
type StatusChange struct {
	Booking   model.Booking `json:"booking"`
	OldStatus string        `json:"old_status"`
	NewStatus string        `json:"new_status"`
}

// SearchBookings lists bookings across all users.
func (e *Engine) SearchBookings(ctx context.Context, f repository.BookingSearch) ([]model.Booking, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, domain.Validation("unknown booking status %q", f.Status)
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return nil, 0, domain.Validation("unknown payment status %q", f.PaymentStatus)
	}
	if _, ok := f.SortColumn(); !ok {
		return nil, 0, domain.Validation("cannot sort by %q", f.SortBy)
	}
	list, total, err := e.bookings.Search(ctx, f)
	if err != nil {
		return nil, 0, domain.Internal("search bookings", err)
	}
	return list, total, nil
}

// SearchPayments lists payment attempts across all users.
func (e *Engine) SearchPayments(ctx context.Context, f repository.PaymentSearch) ([]model.Payment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, domain.Validation("unknown transaction status %q", f.Status)
	}
	if f.Method != "" && !f.Method.Valid() {
		return nil, 0, domain.Validation("unknown payment method %q", f.Method)
	}
	if _, ok := f.SortColumn(); !ok {
		return nil, 0, domain.Validation("cannot sort by %q", f.SortBy)
	}
	list, total, err := e.payments.Search(ctx, f)
	if err != nil {
		return nil, 0, domain.Internal("search payments", err)
	}
	return list, total, nil
}

// OverrideBookingStatus moves a booking to status on behalf of an admin.
// Cancellation goes through CancelBooking so holds are released and paid
// bookings refunded. Completion is accepted only for confirmed bookings
// whose trip has departed. Pending and confirmed cannot be forced: a
// booking is confirmed only by a successful payment.
func (e *Engine) OverrideBookingStatus(ctx context.Context, actor model.Actor, bookingID uint64, to model.BookingStatus, reason string) (StatusChange, error) {
	if !actor.IsAdmin() {
		return StatusChange{}, domain.ErrForbidden
	}
	if !to.Valid() {
		return StatusChange{}, domain.Validation("unknown booking status %q", to)
	}
	b, err := e.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return StatusChange{}, bookingLookupError(err)
	}
	change := StatusChange{OldStatus: string(b.Status), NewStatus: string(to)}
	if b.Status == to {
		if b.Tickets, err = e.tickets.ListByBooking(ctx, b.ID); err != nil {
			return StatusChange{}, domain.Internal("load tickets", err)
		}
		change.Booking = b
		return change, nil
	}
	if b.Status.Terminal() {
		return StatusChange{}, domain.ErrInvalidStateTransition.
			WithDetail("booking_status", b.Status).WithDetail("requested", to)
	}

	switch to {
	case model.BookingCancelled:
		if reason = strings.TrimSpace(reason); reason == "" {
			reason = "cancelled by admin"
		}
		change.Booking, err = e.CancelBooking(ctx, actor, bookingID, reason)
	case model.BookingCompleted:
		change.Booking, err = e.completeBooking(ctx, bookingID)
	default:
		err = domain.ErrInvalidStateTransition.WithDetail("booking_status", b.Status).WithDetail("requested", to)
	}
	if err != nil {
		return StatusChange{}, err
	}
	e.log.WithFields(logrus.Fields{
		"booking_id": bookingID, "admin_id": actor.UserID, "from": b.Status, "to": to,
	}).Info("booking status overridden")
	return change, nil
}

func (e *Engine) completeBooking(ctx context.Context, bookingID uint64) (model.Booking, error) {
	now := e.clock()
	var b model.Booking
	err := inTx(ctx, e.db, func(tx *sql.Tx) error {
		var err error
		if b, err = e.bookings.GetByIDForUpdateTx(ctx, tx, bookingID); err != nil {
			return bookingLookupError(err)
		}
		if !b.Status.CanTransition(model.BookingCompleted) {
			return domain.ErrInvalidStateTransition.WithDetail("booking_status", b.Status)
		}
		trip, err := e.trips.GetByIDTx(ctx, tx, b.TripID)
		if err != nil {
			return domain.Internal("load trip", err)
		}
		if !trip.Departed(now) {
			return domain.ErrInvalidStateTransition.WithDetail("departure_time", trip.DepartureTime)
		}
		if err := e.bookings.UpdateStatusTx(ctx, tx, b.ID, repository.StatusUpdate{
			Status:        model.BookingCompleted,
			PaymentStatus: b.PaymentStatus,
			Now:           now,
		}); err != nil {
			return domain.Internal("complete booking", err)
		}
		if err := e.tickets.MirrorBookingStatusTx(ctx, tx, b.ID, model.BookingCompleted); err != nil {
			return domain.Internal("complete tickets", err)
		}
		if b.Tickets, err = e.tickets.ListByBookingTx(ctx, tx, b.ID); err != nil {
			return domain.Internal("load tickets", err)
		}
		return nil
	})
	if err != nil {
		return model.Booking{}, err
	}
	b.Status = model.BookingCompleted
	b.UpdatedAt = now
	metrics.BookingOutcome("complete", "ok")
	return b, nil
}

// OverridePaymentStatus corrects a booking's payment_status. The new value
// must agree with the booking's payment attempts: paid needs a successful
// payment, refunded needs a refunded one, and unpaid or failed are only
// accepted on pending or cancelled bookings. No change is made while a
// payment is in flight.
func (e *Engine) OverridePaymentStatus(ctx context.Context, actor model.Actor, bookingID uint64, to model.BookingPaymentStatus) (StatusChange, error) {
	if !actor.IsAdmin() {
		return StatusChange{}, domain.ErrForbidden
	}
	if !to.Valid() {
		return StatusChange{}, domain.Validation("unknown payment status %q", to)
	}
	now := e.clock()
	var change StatusChange
	err := inTx(ctx, e.db, func(tx *sql.Tx) error {
		b, err := e.bookings.GetByIDForUpdateTx(ctx, tx, bookingID)
		if err != nil {
			return bookingLookupError(err)
		}
		change = StatusChange{OldStatus: string(b.PaymentStatus), NewStatus: string(to)}
		if b.Tickets, err = e.tickets.ListByBookingTx(ctx, tx, b.ID); err != nil {
			return domain.Internal("load tickets", err)
		}
		if b.PaymentStatus == to {
			change.Booking = b
			return nil
		}
		attempts, err := e.payments.ListByBookingTx(ctx, tx, b.ID)
		if err != nil {
			return domain.Internal("load payments", err)
		}
		var settled, refunded bool
		for _, p := range attempts {
			switch {
			case p.Status.Open():
				return domain.ErrPaymentInProgress.WithDetail("transaction_id", p.TransactionID)
			case p.Status == model.TxnSuccess:
				settled = true
			case p.Status == model.TxnRefunded:
				refunded = true
			}
		}
		reject := domain.ErrInvalidStateTransition.
			WithDetail("payment_status", b.PaymentStatus).WithDetail("requested", to)
		switch to {
		case model.PaymentPaid:
			if !settled {
				return reject.WithDetail("reason", "no successful payment")
			}
		case model.PaymentRefunded:
			if !refunded {
				return reject.WithDetail("reason", "no refunded payment")
			}
		default:
			if b.Status != model.BookingPending && b.Status != model.BookingCancelled {
				return reject.WithDetail("booking_status", b.Status)
			}
		}
		if err := e.bookings.UpdateStatusTx(ctx, tx, b.ID, repository.StatusUpdate{
			Status:        b.Status,
			PaymentStatus: to,
			Now:           now,
		}); err != nil {
			return domain.Internal("update payment status", err)
		}
		b.PaymentStatus = to
		b.UpdatedAt = now
		change.Booking = b
		return nil
	})
	if err != nil {
		return StatusChange{}, err
	}
	e.log.WithFields(logrus.Fields{
		"booking_id": bookingID, "admin_id": actor.UserID, "from": change.OldStatus, "to": to,
	}).Info("payment status overridden")
	return change, nil
}
