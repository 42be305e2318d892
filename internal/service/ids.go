package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	txnPrefix    = "DEMO_TXN"
	refundPrefix = "DEMO_REFUND"
	idTimeLayout = "20060102150405"
)

// IDGenerator produces transaction ids and booking references from an
// injected clock and random source so that tests can pin both.
type IDGenerator struct {
	mu   sync.Mutex
	now  func() time.Time
	rand io.Reader
}

// NewIDGenerator returns a generator. Nil arguments default to the wall
// clock and crypto/rand.
func NewIDGenerator(now func() time.Time, random io.Reader) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	if random == nil {
		random = rand.Reader
	}
	return &IDGenerator{now: now, rand: random}
}

// TransactionID returns DEMO_TXN_<YYYYMMDDHHMMSS>_<8 uppercase hex>.
func (g *IDGenerator) TransactionID() (string, error) { return g.build(txnPrefix) }

// RefundTransactionID returns DEMO_REFUND_<YYYYMMDDHHMMSS>_<8 uppercase hex>.
func (g *IDGenerator) RefundTransactionID() (string, error) { return g.build(refundPrefix) }

func (g *IDGenerator) build(prefix string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var b [4]byte
	if _, err := io.ReadFull(g.rand, b[:]); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("%s_%s_%s", prefix, g.now().UTC().Format(idTimeLayout),
		strings.ToUpper(hex.EncodeToString(b[:]))), nil
}

// BookingReference returns 12 uppercase alphanumerics taken from a random
// UUID.
func (g *IDGenerator) BookingReference() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, err := uuid.NewRandomFromReader(g.rand)
	if err != nil {
		return "", fmt.Errorf("booking reference: %w", err)
	}
	return strings.ToUpper(strings.ReplaceAll(u.String(), "-", "")[:12]), nil
}
