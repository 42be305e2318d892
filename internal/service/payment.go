package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/metrics"
	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/queue"
	"github.com/iliyamo/trip-booking/internal/repository"
)

const (
	codeGatewayError      = "GATEWAY_ERROR"
	reasonLateCharge      = "booking expired before the charge settled"
	reasonCancelledCharge = "booking cancelled before the charge settled"
)

// InitiatePaymentInput opens a payment attempt for a pending booking.
type InitiatePaymentInput struct {
	UserID    uint64
	BookingID uint64
	Method    model.PaymentMethod
	Amount    decimal.Decimal
	Details   model.PaymentDetails
}

// PaymentOutcome is the result of completing a payment.
type PaymentOutcome struct {
	Payment model.Payment `json:"-"`
	Booking model.Booking `json:"-"`
	Success bool          `json:"success"`
	Message string        `json:"message"`
}

// InitiatePayment records a processing payment for a pending booking whose
// hold is still valid. Amount must equal the booking total exactly. Only
// masked instrument details are stored.
func (e *Engine) InitiatePayment(ctx context.Context, in InitiatePaymentInput) (model.Payment, error) {
	start := time.Now()
	defer metrics.ObserveSince("initiate_payment", start)

	if !in.Method.Valid() {
		return model.Payment{}, domain.Validation("unsupported payment method %q", in.Method)
	}
	if err := validateDetails(in.Method, in.Details); err != nil {
		return model.Payment{}, err
	}
	if !in.Amount.IsPositive() {
		return model.Payment{}, domain.Validation("amount must be positive")
	}
	masked, err := json.Marshal(MaskDetails(in.Details))
	if err != nil {
		return model.Payment{}, domain.Internal("encode payment details", err)
	}
	txnID, err := e.ids.TransactionID()
	if err != nil {
		return model.Payment{}, domain.Internal("transaction id", err)
	}

	now := e.clock()
	var (
		p       model.Payment
		expired *model.Booking
	)
	err = inTx(ctx, e.db, func(tx *sql.Tx) error {
		p, expired = model.Payment{}, nil
		b, err := e.bookings.GetByIDForUpdateTx(ctx, tx, in.BookingID)
		if err != nil {
			return bookingLookupError(err)
		}
		if b.UserID != in.UserID {
			return domain.ErrForbidden
		}
		if b.Status != model.BookingPending {
			return domain.ErrInvalidStateTransition.WithDetail("booking_status", b.Status)
		}
		if b.HoldExpired(now) {
			if err := e.expireTx(ctx, tx, &b, now); err != nil {
				return err
			}
			expired = &b
			return nil
		}
		if open, err := e.payments.OpenForBookingTx(ctx, tx, b.ID); err == nil {
			return domain.ErrPaymentInProgress.WithDetail("transaction_id", open.TransactionID)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return domain.Internal("load open payment", err)
		}
		if !in.Amount.Round(2).Equal(b.TotalAmount) {
			return domain.ErrAmountMismatch.
				WithDetail("expected", b.TotalAmount.StringFixed(2)).
				WithDetail("got", in.Amount.StringFixed(2))
		}

		p = model.Payment{
			TransactionID: txnID,
			BookingID:     b.ID,
			UserID:        b.UserID,
			Amount:        b.TotalAmount,
			Currency:      e.currency,
			Method:        in.Method,
			Status:        model.TxnInitiated,
			Details:       masked,
			GatewayName:   GatewayName,
			IsDemo:        true,
			DemoNote:      DemoNote,
			InitiatedAt:   now,
		}
		if err := e.payments.CreateTx(ctx, tx, &p); err != nil {
			return domain.Internal("insert payment", err)
		}
		if err := e.payments.UpdateStatusTx(ctx, tx, p.ID, model.TxnProcessing); err != nil {
			return domain.Internal("mark payment processing", err)
		}
		p.Status = model.TxnProcessing
		return nil
	})
	if err != nil {
		metrics.PaymentSettled(string(in.Method), string(domain.CodeOf(err)))
		return model.Payment{}, err
	}
	if expired != nil {
		metrics.HoldsExpired(1)
		e.catalog.Invalidate(ctx, expired.TripID)
		e.publishCancelled(*expired, reasonHoldExpired, false, now)
		return model.Payment{}, domain.ErrBookingExpired
	}
	metrics.PaymentSettled(string(in.Method), string(model.TxnProcessing))
	return p, nil
}

// CompletePayment runs the gateway charge for a processing payment and
// applies the outcome. On success the booking is confirmed; on failure its
// seats are released. A charge that succeeds after the hold has expired,
// or after the booking was cancelled or swept while the charge was in
// flight, is recorded and refunded automatically.
func (e *Engine) CompletePayment(ctx context.Context, userID uint64, txnID, scenario string) (PaymentOutcome, error) {
	start := time.Now()
	defer metrics.ObserveSince("complete_payment", start)

	scenario = strings.TrimSpace(scenario)
	if scenario != "" {
		if _, ok := LookupScenario(scenario); !ok {
			return PaymentOutcome{}, domain.Validation("unknown payment scenario %q", scenario)
		}
	}
	current, err := e.payments.GetByTransactionID(ctx, txnID)
	if err != nil {
		return PaymentOutcome{}, paymentLookupError(err)
	}
	if current.UserID != userID {
		return PaymentOutcome{}, domain.ErrForbidden
	}
	if current.Status != model.TxnProcessing {
		return PaymentOutcome{}, domain.ErrInvalidStateTransition.WithDetail("status", current.Status)
	}

	resp, err := e.gateway.Charge(ctx, ChargeRequest{
		TransactionID: current.TransactionID,
		Amount:        current.Amount,
		Method:        current.Method,
		Scenario:      scenario,
	})
	if err != nil {
		resp = model.GatewayResponse{
			Gateway:    GatewayName,
			Timestamp:  e.clock(),
			Amount:     current.Amount,
			DemoNotice: DemoNotice,
			Status:     "failed",
			Message:    err.Error(),
			ErrorCode:  codeGatewayError,
		}
	}
	refundID, err := e.ids.RefundTransactionID()
	if err != nil {
		return PaymentOutcome{}, domain.Internal("refund transaction id", err)
	}

	now := e.clock()
	var (
		out      PaymentOutcome
		trip     model.Trip
		expired  bool
		refunded bool
		cancel   string
	)
	err = inTx(ctx, e.db, func(tx *sql.Tx) error {
		out, trip, expired, refunded, cancel = PaymentOutcome{}, model.Trip{}, false, false, ""

		// Booking before payment, the same order every other writer uses.
		b, err := e.bookings.GetByIDForUpdateTx(ctx, tx, current.BookingID)
		if err != nil {
			return bookingLookupError(err)
		}
		p, err := e.payments.GetByTransactionIDForUpdateTx(ctx, tx, txnID)
		if err != nil {
			return paymentLookupError(err)
		}
		late := resp.Status == "success" && abandoned(p)
		if p.Status != model.TxnProcessing && !late {
			return domain.ErrInvalidStateTransition.WithDetail("status", p.Status)
		}
		if b.HoldExpired(now) {
			if err := e.expireTx(ctx, tx, &b, now); err != nil {
				return err
			}
			expired, cancel = true, reasonHoldExpired
		} else if b.Tickets, err = e.tickets.ListByBookingTx(ctx, tx, b.ID); err != nil {
			return domain.Internal("load tickets", err)
		}

		raw, err := json.Marshal(resp)
		if err != nil {
			return domain.Internal("encode gateway response", err)
		}
		p.GatewayResponse = raw
		p.CompletedAt = &now

		switch {
		case resp.Status == "success" && b.Status == model.BookingPending:
			p.Status = model.TxnSuccess
			if err := e.payments.SaveOutcomeTx(ctx, tx, &p); err != nil {
				return domain.Internal("save payment", err)
			}
			if err := e.bookings.UpdateStatusTx(ctx, tx, b.ID, repository.StatusUpdate{
				Status: model.BookingConfirmed, PaymentStatus: model.PaymentPaid, Now: now,
			}); err != nil {
				return domain.Internal("confirm booking", err)
			}
			if err := e.tickets.MirrorBookingStatusTx(ctx, tx, b.ID, model.BookingConfirmed); err != nil {
				return domain.Internal("confirm tickets", err)
			}
			if trip, err = e.trips.GetByIDTx(ctx, tx, b.TripID); err != nil {
				return domain.Internal("load trip", err)
			}
			b.Status, b.PaymentStatus = model.BookingConfirmed, model.PaymentPaid
			out = PaymentOutcome{Success: true, Message: resp.Message}

		case resp.Status == "success":
			// The money moved but the booking is gone; give it back.
			reason, msg := reasonLateCharge, "booking hold expired; the charge was refunded"
			if b.Status == model.BookingCancelled && b.CancellationReason != reasonHoldExpired {
				reason, msg = reasonCancelledCharge, "booking was cancelled; the charge was refunded"
			}
			p.Status = model.TxnSuccess
			p.FailureReason, p.FailureCode = nil, nil
			if err := e.payments.SaveOutcomeTx(ctx, tx, &p); err != nil {
				return domain.Internal("save payment", err)
			}
			if err := e.refundLateTx(ctx, tx, &p, resp, refundID, reason, now); err != nil {
				return err
			}
			if err := e.bookings.UpdateStatusTx(ctx, tx, b.ID, repository.StatusUpdate{
				Status: b.Status, PaymentStatus: model.PaymentRefunded, Now: now,
			}); err != nil {
				return domain.Internal("update booking", err)
			}
			b.PaymentStatus = model.PaymentRefunded
			refunded = true
			out = PaymentOutcome{Success: false, Message: msg}

		default:
			p.Status = model.TxnFailed
			reason, code := resp.Message, resp.ErrorCode
			p.FailureReason, p.FailureCode = &reason, &code
			if err := e.payments.SaveOutcomeTx(ctx, tx, &p); err != nil {
				return domain.Internal("save payment", err)
			}
			if b.Status == model.BookingPending {
				if _, err := e.ledger.Release(ctx, tx, b.TripID, b.Reference); err != nil {
					return err
				}
				cancel = "payment failed: " + code
				if err := e.bookings.UpdateStatusTx(ctx, tx, b.ID, repository.StatusUpdate{
					Status:        model.BookingCancelled,
					PaymentStatus: model.PaymentFailed,
					CancelledAt:   &now,
					Reason:        cancel,
					Now:           now,
				}); err != nil {
					return domain.Internal("cancel booking", err)
				}
				if err := e.tickets.MirrorBookingStatusTx(ctx, tx, b.ID, model.BookingCancelled); err != nil {
					return domain.Internal("cancel tickets", err)
				}
				b.Status, b.PaymentStatus = model.BookingCancelled, model.PaymentFailed
				b.CancelledAt, b.CancellationReason = &now, cancel
			}
			out = PaymentOutcome{Success: false, Message: resp.Message}
		}
		b.UpdatedAt = now
		out.Payment, out.Booking = p, b
		return nil
	})
	if err != nil {
		metrics.PaymentSettled(string(current.Method), string(domain.CodeOf(err)))
		return PaymentOutcome{}, err
	}

	metrics.PaymentSettled(string(current.Method), string(out.Payment.Status))
	b := out.Booking
	switch {
	case out.Success:
		e.publishConfirmed(b, trip, out.Payment)
	case refunded:
		metrics.RefundCompleted()
		e.publishRefunded(b, out.Payment)
	}
	if expired {
		metrics.HoldsExpired(1)
	}
	if cancel != "" {
		e.catalog.Invalidate(ctx, b.TripID)
		e.publishCancelled(b, cancel, refunded, now)
	}
	return out, nil
}

// abandoned reports whether p was failed because its booking expired or was
// cancelled while the charge was still in flight.
func abandoned(p model.Payment) bool {
	if p.Status != model.TxnFailed || p.FailureCode == nil {
		return false
	}
	return *p.FailureCode == codeHoldExpired || *p.FailureCode == codeCancelled
}

// refundLateTx refunds a charge that settled for a booking that no longer
// exists, recording the refund block in the gateway response.
func (e *Engine) refundLateTx(ctx context.Context, tx *sql.Tx, p *model.Payment, resp model.GatewayResponse, refundID, reason string, now time.Time) error {
	block := model.RefundBlock{
		Status:              "success",
		RefundTransactionID: refundID,
		RefundAmount:        p.Amount,
		Reason:              reason,
		Timestamp:           now,
		DemoNotice:          RefundDemoNotice,
	}
	resp.Refund = &block
	raw, err := json.Marshal(resp)
	if err != nil {
		return domain.Internal("encode gateway response", err)
	}
	amount := p.Amount
	p.Status = model.TxnRefunded
	p.GatewayResponse = raw
	p.RefundAmount = &amount
	p.RefundDate = &now
	p.RefundTransactionID = &refundID
	p.RefundReason = &reason
	if err := e.payments.SaveRefundTx(ctx, tx, p); err != nil {
		return domain.Internal("save refund", err)
	}
	return nil
}

// GetPayment returns a payment by transaction id.
func (e *Engine) GetPayment(ctx context.Context, actor model.Actor, txnID string) (model.Payment, error) {
	p, err := e.payments.GetByTransactionID(ctx, txnID)
	if err != nil {
		return model.Payment{}, paymentLookupError(err)
	}
	if !actor.Owns(p.UserID) {
		return model.Payment{}, domain.ErrForbidden
	}
	return p, nil
}

// PaymentsForBooking lists every payment attempt made for a booking.
func (e *Engine) PaymentsForBooking(ctx context.Context, actor model.Actor, bookingID uint64) ([]model.Payment, error) {
	b, err := e.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, bookingLookupError(err)
	}
	if !actor.Owns(b.UserID) {
		return nil, domain.ErrForbidden
	}
	list, err := e.payments.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, domain.Internal("list payments", err)
	}
	return list, nil
}

// PaymentHistory returns a page of the user's payments and the total count.
func (e *Engine) PaymentHistory(ctx context.Context, userID uint64, f repository.PaymentFilter) ([]model.Payment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, domain.Validation("unknown payment status %q", f.Status)
	}
	list, total, err := e.payments.ListByUser(ctx, userID, f)
	if err != nil {
		return nil, 0, domain.Internal("list payments", err)
	}
	return list, total, nil
}

func paymentLookupError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.ErrPaymentNotFound
	}
	return domain.Internal("load payment", err)
}

func (e *Engine) publishConfirmed(b model.Booking, trip model.Trip, p model.Payment) {
	ev := queue.BookingConfirmedEvent{
		BookingID:     b.ID,
		Reference:     b.Reference,
		UserID:        b.UserID,
		TripID:        trip.ID,
		TripNumber:    trip.TripNumber,
		Origin:        trip.Origin,
		Destination:   trip.Destination,
		DepartureTime: trip.DepartureTime.UTC().Format(time.RFC3339),
		Seats:         b.SeatNumbers(),
		TotalAmount:   b.TotalAmount.StringFixed(2),
		Currency:      p.Currency,
		TransactionID: p.TransactionID,
		ConfirmedAt:   b.UpdatedAt.Format(time.RFC3339),
	}
	e.events.emit(queue.QueueBookingConfirmed, func(ctx context.Context, pub EventPublisher) error {
		return pub.BookingConfirmed(ctx, ev)
	})
}

func (e *Engine) publishRefunded(b model.Booking, p model.Payment) {
	ev := queue.PaymentRefundedEvent{
		BookingID:     b.ID,
		Reference:     b.Reference,
		UserID:        b.UserID,
		TransactionID: p.TransactionID,
		Currency:      p.Currency,
	}
	if p.RefundTransactionID != nil {
		ev.RefundTransactionID = *p.RefundTransactionID
	}
	if p.RefundAmount != nil {
		ev.RefundAmount = p.RefundAmount.StringFixed(2)
	}
	if p.RefundReason != nil {
		ev.Reason = *p.RefundReason
	}
	if p.RefundDate != nil {
		ev.RefundedAt = p.RefundDate.Format(time.RFC3339)
	}
	e.events.emit(queue.QueuePaymentRefunded, func(ctx context.Context, pub EventPublisher) error {
		return pub.PaymentRefunded(ctx, ev)
	})
}
