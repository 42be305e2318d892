package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLineConfirmed(t *testing.T) {
	body, err := json.Marshal(BookingConfirmedEvent{
		Reference:     "AB12CD34EF56",
		UserID:        7,
		TripNumber:    "TR-100",
		Origin:        "Lyon",
		Destination:   "Paris",
		DepartureTime: "2026-05-01T08:00:00Z",
		Seats:         []int{3, 4},
		TotalAmount:   "72.00",
		Currency:      "USD",
		TransactionID: "DEMO_TXN_20260401120000_0A1B2C3D",
		ConfirmedAt:   "2026-04-01T12:00:05Z",
	})
	require.NoError(t, err)

	line, err := FormatLine(QueueBookingConfirmed, body)
	require.NoError(t, err)
	assert.Equal(t, "[2026-04-01T12:00:05Z] Booking confirmed | booking=AB12CD34EF56 | user_id=7 | trip=TR-100 | route=\"Lyon -> Paris\" | departs=2026-05-01T08:00:00Z | total=72.00 USD | txn=DEMO_TXN_20260401120000_0A1B2C3D | seats=[3,4]\n", line)
}

func TestFormatLineCancelledAndRefunded(t *testing.T) {
	body, _ := json.Marshal(BookingCancelledEvent{Reference: "R1", UserID: 2, TripID: 9, Reason: "hold expired", CancelledAt: "t"})
	line, err := FormatLine(QueueBookingCancelled, body)
	require.NoError(t, err)
	assert.Contains(t, line, "Booking cancelled | booking=R1")
	assert.Contains(t, line, "refunded=false")
	assert.Contains(t, line, "seats=[]")

	body, _ = json.Marshal(PaymentRefundedEvent{Reference: "R1", RefundTransactionID: "DEMO_REFUND_X", RefundAmount: "80.00", Currency: "USD"})
	line, err = FormatLine(QueuePaymentRefunded, body)
	require.NoError(t, err)
	assert.Contains(t, line, "refund=DEMO_REFUND_X | amount=80.00 USD")
}

func TestFormatLineRejectsBadInput(t *testing.T) {
	_, err := FormatLine("unknown.queue", []byte(`{}`))
	assert.Error(t, err)

	_, err = FormatLine(QueueBookingConfirmed, []byte(`not json`))
	assert.Error(t, err)
}

func TestHandleAppendsToLogFile(t *testing.T) {
	dir := t.TempDir()
	c := &Consumer{LogDir: dir}
	body, _ := json.Marshal(BookingCancelledEvent{Reference: "R1"})

	require.NoError(t, c.handle(QueueBookingCancelled, body))
	require.NoError(t, c.handle(QueueBookingCancelled, body))

	data, err := os.ReadFile(filepath.Join(dir, "booking.log"))
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(string(data)))
}

func countLines(s string) int {
	n := 0
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	return n
}
