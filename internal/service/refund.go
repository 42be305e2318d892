package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/metrics"
	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/repository"
)

// RefundResult describes a completed refund.
type RefundResult struct {
	Booking             model.Booking   `json:"-"`
	Payment             model.Payment   `json:"-"`
	RefundTransactionID string          `json:"refund_transaction_id"`
	RefundAmount        decimal.Decimal `json:"refund_amount"`
}

// Refund returns the full amount of a confirmed booking's successful
// payment, cancels the booking and frees its seats. It is only allowed
// before departure, and a payment is refunded at most once.
func (e *Engine) Refund(ctx context.Context, actor model.Actor, bookingID uint64, reason string) (RefundResult, error) {
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "requested by customer"
	}
	return e.refund(ctx, actor, bookingID, reason, false)
}

func (e *Engine) refund(ctx context.Context, actor model.Actor, bookingID uint64, reason string, viaCancel bool) (RefundResult, error) {
	start := time.Now()
	defer metrics.ObserveSince("refund", start)

	b, p, err := e.refundPreflight(ctx, actor, bookingID)
	if err != nil {
		return RefundResult{}, err
	}
	refundID, err := e.ids.RefundTransactionID()
	if err != nil {
		return RefundResult{}, domain.Internal("refund transaction id", err)
	}
	block, err := e.gateway.Refund(ctx, RefundRequest{
		GatewayTransactionID: gjson.GetBytes(p.GatewayResponse, "gateway_transaction_id").String(),
		RefundTransactionID:  refundID,
		Amount:               p.Amount,
		Reason:               reason,
	})
	if err != nil {
		return RefundResult{}, domain.Internal("gateway refund", err)
	}

	now := e.clock()
	err = inTx(ctx, e.db, func(tx *sql.Tx) error {
		b, err = e.bookings.GetByIDForUpdateTx(ctx, tx, bookingID)
		if err != nil {
			return bookingLookupError(err)
		}
		if b.Status != model.BookingConfirmed {
			return domain.ErrInvalidStateTransition.WithDetail("booking_status", b.Status)
		}
		trip, err := e.trips.GetByIDTx(ctx, tx, b.TripID)
		if err != nil {
			return domain.Internal("load trip", err)
		}
		if trip.Departed(now) {
			return domain.ErrCancellationWindowClosed.WithDetail("departure_time", trip.DepartureTime)
		}
		p, err = e.payments.LatestSettledForBookingTx(ctx, tx, b.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrPaymentNotFound
			}
			return domain.Internal("load payment", err)
		}
		if !p.Status.CanTransition(model.TxnRefunded) {
			return domain.ErrInvalidStateTransition.WithDetail("status", p.Status)
		}
		merged, err := mergeRefund(p.GatewayResponse, block)
		if err != nil {
			return domain.Internal("encode gateway response", err)
		}
		amount := p.Amount
		p.Status = model.TxnRefunded
		p.GatewayResponse = merged
		p.RefundAmount = &amount
		p.RefundDate = &now
		p.RefundTransactionID = &refundID
		p.RefundReason = &reason
		if err := e.payments.SaveRefundTx(ctx, tx, &p); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return domain.ErrConflict.WithDetail("refund_transaction_id", refundID)
			}
			return domain.Internal("save refund", err)
		}

		if b.Tickets, err = e.tickets.ListByBookingTx(ctx, tx, b.ID); err != nil {
			return domain.Internal("load tickets", err)
		}
		if _, err := e.ledger.Release(ctx, tx, b.TripID, b.Reference); err != nil {
			return err
		}
		if err := e.bookings.UpdateStatusTx(ctx, tx, b.ID, repository.StatusUpdate{
			Status:        model.BookingCancelled,
			PaymentStatus: model.PaymentRefunded,
			CancelledAt:   &now,
			Reason:        reason,
			Now:           now,
		}); err != nil {
			return domain.Internal("cancel booking", err)
		}
		if err := e.tickets.MirrorBookingStatusTx(ctx, tx, b.ID, model.BookingCancelled); err != nil {
			return domain.Internal("cancel tickets", err)
		}
		b.Status, b.PaymentStatus = model.BookingCancelled, model.PaymentRefunded
		b.CancelledAt, b.CancellationReason, b.UpdatedAt = &now, reason, now
		return nil
	})
	if err != nil {
		if !viaCancel {
			metrics.BookingOutcome("refund", string(domain.CodeOf(err)))
		}
		return RefundResult{}, err
	}

	metrics.RefundCompleted()
	if !viaCancel {
		metrics.BookingOutcome("refund", "ok")
	}
	e.catalog.Invalidate(ctx, b.TripID)
	e.publishRefunded(b, p)
	e.publishCancelled(b, reason, true, now)
	return RefundResult{Booking: b, Payment: p, RefundTransactionID: refundID, RefundAmount: *p.RefundAmount}, nil
}

// refundPreflight checks a refund can proceed before the gateway is called.
// The same checks run again under lock.
func (e *Engine) refundPreflight(ctx context.Context, actor model.Actor, bookingID uint64) (model.Booking, model.Payment, error) {
	b, err := e.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return model.Booking{}, model.Payment{}, bookingLookupError(err)
	}
	if !actor.Owns(b.UserID) {
		return model.Booking{}, model.Payment{}, domain.ErrForbidden
	}
	if b.Status != model.BookingConfirmed {
		return model.Booking{}, model.Payment{}, domain.ErrInvalidStateTransition.WithDetail("booking_status", b.Status)
	}
	trip, err := e.trips.GetByID(ctx, b.TripID)
	if err != nil {
		return model.Booking{}, model.Payment{}, domain.Internal("load trip", err)
	}
	if trip.Departed(e.clock()) {
		return model.Booking{}, model.Payment{}, domain.ErrCancellationWindowClosed.WithDetail("departure_time", trip.DepartureTime)
	}
	list, err := e.payments.ListByBooking(ctx, b.ID)
	if err != nil {
		return model.Booking{}, model.Payment{}, domain.Internal("list payments", err)
	}
	for _, p := range list {
		switch p.Status {
		case model.TxnSuccess:
			return b, p, nil
		case model.TxnRefunded:
			return model.Booking{}, model.Payment{}, domain.ErrInvalidStateTransition.
				WithDetail("status", p.Status).
				WithDetail("transaction_id", p.TransactionID)
		}
	}
	return model.Booking{}, model.Payment{}, domain.ErrPaymentNotFound
}

// mergeRefund adds the refund block to a stored gateway response, keeping
// every field the gateway originally returned.
func mergeRefund(raw json.RawMessage, block model.RefundBlock) (json.RawMessage, error) {
	doc := map[string]any{}
	if len(raw) > 0 && gjson.ValidBytes(raw) {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
	}
	doc["refund"] = block
	return json.Marshal(doc)
}
