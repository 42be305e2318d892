package service

import (
	"bytes"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var txnPattern = regexp.MustCompile(`^DEMO_(TXN|REFUND)_\d{14}_[0-9A-F]{8}$`)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestTransactionIDFormat(t *testing.T) {
	now := time.Date(2026, 3, 9, 14, 5, 7, 0, time.UTC)
	g := NewIDGenerator(fixedClock(now), bytes.NewReader([]byte{0x0a, 0x1b, 0x2c, 0x3d, 0xff, 0xee, 0xdd, 0xcc}))

	id, err := g.TransactionID()
	require.NoError(t, err)
	assert.Equal(t, "DEMO_TXN_20260309140507_0A1B2C3D", id)

	ref, err := g.RefundTransactionID()
	require.NoError(t, err)
	assert.Equal(t, "DEMO_REFUND_20260309140507_FFEEDDCC", ref)
}

func TestTransactionIDUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	now := time.Date(2026, 3, 9, 1, 0, 0, 0, loc)
	g := NewIDGenerator(fixedClock(now), bytes.NewReader(make([]byte, 4)))

	id, err := g.TransactionID()
	require.NoError(t, err)
	assert.Equal(t, "DEMO_TXN_20260308230000_00000000", id)
}

func TestTransactionIDRandomSourceExhausted(t *testing.T) {
	g := NewIDGenerator(nil, bytes.NewReader([]byte{1, 2}))
	_, err := g.TransactionID()
	assert.Error(t, err)
}

func TestDefaultGeneratorMatchesPattern(t *testing.T) {
	g := NewIDGenerator(nil, nil)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := g.TransactionID()
		require.NoError(t, err)
		assert.Regexp(t, txnPattern, id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestBookingReference(t *testing.T) {
	g := NewIDGenerator(nil, bytes.NewReader(bytes.Repeat([]byte{0xab}, 16)))
	ref, err := g.BookingReference()
	require.NoError(t, err)
	assert.Len(t, ref, 12)
	assert.Regexp(t, `^[0-9A-F]{12}$`, ref)
}
