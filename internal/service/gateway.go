package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/trip-booking/internal/model"
)

const (
	GatewayName      = "DEMO_PAYMENT_GATEWAY"
	DemoNotice       = "THIS IS A MOCK TRANSACTION - NO REAL MONEY PROCESSED"
	RefundDemoNotice = "MOCK REFUND - NO REAL MONEY REFUNDED"
	DemoNote         = "Demo payment: no real money is charged"
)

// Gateway charges and refunds payments. The engine calls it outside any
// database transaction.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (model.GatewayResponse, error)
	Refund(ctx context.Context, req RefundRequest) (model.RefundBlock, error)
}

// ChargeRequest asks the gateway to capture Amount for a transaction.
// Scenario forces a simulated outcome; empty lets the simulator decide.
type ChargeRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Method        model.PaymentMethod
	Scenario      string
}

// RefundRequest asks the gateway to return Amount of an earlier charge.
type RefundRequest struct {
	GatewayTransactionID string
	RefundTransactionID  string
	Amount               decimal.Decimal
	Reason               string
}

// Scenario is a selectable simulated gateway outcome.
type Scenario struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	errorCode   string
	message     string
}

// Success reports whether the scenario approves the charge.
func (s Scenario) Success() bool { return s.errorCode == "" }

var scenarios = []Scenario{
	{Code: "success", Name: "Successful Payment", Description: "Payment processes successfully",
		message: "Payment processed successfully (DEMO)"},
	{Code: "insufficient_funds", Name: "Insufficient Funds", Description: "Payment fails due to insufficient funds",
		errorCode: "INSUFFICIENT_FUNDS", message: "Insufficient funds in account (DEMO)"},
	{Code: "invalid_card", Name: "Invalid Card", Description: "Payment fails due to invalid card details",
		errorCode: "INVALID_CARD", message: "Invalid card details (DEMO)"},
	{Code: "network_error", Name: "Network Error", Description: "Payment fails due to network issues",
		errorCode: "NETWORK_ERROR", message: "Network error occurred (DEMO)"},
	{Code: "timeout", Name: "Transaction Timeout", Description: "Payment times out",
		errorCode: "TIMEOUT", message: "Transaction timed out (DEMO)"},
	{Code: "declined", Name: "Payment Declined", Description: "Payment declined by bank",
		errorCode: "DECLINED", message: "Payment declined by bank (DEMO)"},
}

// randomFailures are the scenarios drawn when the failure rate triggers.
var randomFailures = []string{"insufficient_funds", "network_error", "declined"}

// Scenarios lists the selectable outcomes in display order.
func Scenarios() []Scenario { return append([]Scenario(nil), scenarios...) }

// LookupScenario finds a scenario by code.
func LookupScenario(code string) (Scenario, bool) {
	for _, s := range scenarios {
		if s.Code == code {
			return s, true
		}
	}
	return Scenario{}, false
}

// PaymentMethodInfo describes a payment method for clients.
type PaymentMethodInfo struct {
	Code        model.PaymentMethod `json:"code"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Demo        bool                `json:"demo"`
}

// PaymentMethodCatalog lists every supported method.
func PaymentMethodCatalog() []PaymentMethodInfo {
	return []PaymentMethodInfo{
		{model.MethodCreditCard, "Credit Card", "Pay with Visa, MasterCard, Amex (DEMO)", true},
		{model.MethodDebitCard, "Debit Card", "Pay with your debit card (DEMO)", true},
		{model.MethodDigitalWallet, "Digital Wallet", "PayPal, Apple Pay, Google Pay (DEMO)", true},
		{model.MethodNetBanking, "Net Banking", "Pay directly from your bank account (DEMO)", true},
		{model.MethodUPI, "UPI", "Unified Payments Interface (DEMO)", true},
	}
}

// SimulatorConfig tunes the Simulator.
type SimulatorConfig struct {
	FailureRate float64       // probability an unforced charge fails
	Latency     time.Duration // artificial processing delay
	Now         func() time.Time
	Seed        int64
}

// Simulator is an in-process Gateway that never moves real money.
type Simulator struct {
	cfg SimulatorConfig
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator returns a Simulator. A zero Seed derives one from the clock.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.cfg.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.cfg.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Simulator) pick(code string) Scenario {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code == "" {
		code = "success"
		if s.cfg.FailureRate > 0 && s.rng.Float64() < s.cfg.FailureRate {
			code = randomFailures[s.rng.Intn(len(randomFailures))]
		}
	}
	sc, ok := LookupScenario(code)
	if !ok {
		sc, _ = LookupScenario("success")
	}
	return sc
}

func (s *Simulator) authCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("AUTH_%06d", 100000+s.rng.Intn(900000))
}

// Charge simulates capturing a payment. It fails only when ctx ends during
// the simulated latency; declines are reported through the response.
func (s *Simulator) Charge(ctx context.Context, req ChargeRequest) (model.GatewayResponse, error) {
	if err := s.wait(ctx); err != nil {
		return model.GatewayResponse{}, fmt.Errorf("gateway charge: %w", err)
	}
	sc := s.pick(req.Scenario)
	resp := model.GatewayResponse{
		Gateway:              GatewayName,
		GatewayTransactionID: "GATEWAY_" + req.TransactionID,
		Timestamp:            s.cfg.Now().UTC(),
		Amount:               req.Amount,
		PaymentMethod:        req.Method,
		DemoNotice:           DemoNotice,
		Message:              sc.message,
	}
	if sc.Success() {
		resp.Status = "success"
		resp.AuthorizationCode = s.authCode()
	} else {
		resp.Status = "failed"
		resp.ErrorCode = sc.errorCode
	}
	return resp, nil
}

// Refund simulates returning money. Refunds always succeed.
func (s *Simulator) Refund(ctx context.Context, req RefundRequest) (model.RefundBlock, error) {
	if err := s.wait(ctx); err != nil {
		return model.RefundBlock{}, fmt.Errorf("gateway refund: %w", err)
	}
	return model.RefundBlock{
		Status:              "success",
		RefundTransactionID: req.RefundTransactionID,
		RefundAmount:        req.Amount,
		Reason:              req.Reason,
		Timestamp:           s.cfg.Now().UTC(),
		DemoNotice:          RefundDemoNotice,
	}, nil
}
