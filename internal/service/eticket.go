package service

import (
	"bytes"
	"context"
	"fmt"

	"github.com/phpdave11/gofpdf"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/model"
)

// ETicket renders the PDF e-ticket of a confirmed or completed booking.
func (e *Engine) ETicket(ctx context.Context, actor model.Actor, bookingID uint64) ([]byte, error) {
	b, err := e.GetBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BookingConfirmed && b.Status != model.BookingCompleted {
		return nil, domain.ErrInvalidStateTransition.WithDetail("booking_status", b.Status)
	}
	trip, err := e.trips.GetByID(ctx, b.TripID)
	if err != nil {
		return nil, domain.Internal("load trip", err)
	}
	out, err := RenderETicket(b, trip, e.currency)
	if err != nil {
		return nil, domain.Internal("render e-ticket", err)
	}
	return out, nil
}

// RenderETicket lays out a one-page A4 ticket.
func RenderETicket(b model.Booking, t model.Trip, currency string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("E-Ticket "+b.Reference, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "E-TICKET")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	lines := []string{
		"Booking reference : " + b.Reference,
		"Trip              : " + t.TripNumber + " (" + t.OperatorName + ", " + t.VehicleType + ")",
		"Route             : " + t.Origin + " -> " + t.Destination,
		"Departure         : " + t.DepartureTime.UTC().Format("2006-01-02 15:04 UTC"),
		"Arrival           : " + t.ArrivalTime.UTC().Format("2006-01-02 15:04 UTC"),
		"Contact           : " + b.PassengerName + " <" + b.PassengerEmail + ">",
		"Status            : " + string(b.Status),
	}
	for _, s := range lines {
		pdf.Cell(0, 7, s)
		pdf.Ln(7)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(30, 8, "Seat", "1", 0, "C", false, 0, "")
	pdf.CellFormat(100, 8, "Passenger", "1", 0, "L", false, 0, "")
	pdf.CellFormat(20, 8, "Age", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 8, "Price", "1", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	for _, tk := range b.Tickets {
		pdf.CellFormat(30, 7, fmt.Sprintf("%d", tk.SeatNumber), "1", 0, "C", false, 0, "")
		pdf.CellFormat(100, 7, tk.PassengerName, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 7, fmt.Sprintf("%d", tk.PassengerAge), "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 7, tk.Price.StringFixed(2), "1", 1, "R", false, 0, "")
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 7, fmt.Sprintf("Subtotal: %s %s", b.Subtotal.StringFixed(2), currency))
	pdf.Ln(7)
	if b.DiscountAmount.IsPositive() {
		pdf.Cell(0, 7, fmt.Sprintf("Discount: -%s %s", b.DiscountAmount.StringFixed(2), currency))
		pdf.Ln(7)
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, fmt.Sprintf("Total paid: %s %s", b.TotalAmount.StringFixed(2), currency))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(0, 6, "Please present this e-ticket at boarding. Demo booking: no real money was charged.", "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
