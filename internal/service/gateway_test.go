package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/trip-booking/internal/model"
)

func TestSimulatorScenarios(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sim := NewSimulator(SimulatorConfig{Now: fixedClock(now), Seed: 1})
	cases := map[string]string{
		"insufficient_funds": "INSUFFICIENT_FUNDS",
		"invalid_card":       "INVALID_CARD",
		"network_error":      "NETWORK_ERROR",
		"timeout":            "TIMEOUT",
		"declined":           "DECLINED",
	}
	for scenario, code := range cases {
		t.Run(scenario, func(t *testing.T) {
			resp, err := sim.Charge(context.Background(), ChargeRequest{
				TransactionID: "DEMO_TXN_X", Amount: decimal.NewFromInt(10), Method: model.MethodUPI, Scenario: scenario,
			})
			require.NoError(t, err)
			assert.Equal(t, "failed", resp.Status)
			assert.Equal(t, code, resp.ErrorCode)
			assert.Empty(t, resp.AuthorizationCode)
			assert.Contains(t, resp.Message, "(DEMO)")
		})
	}
}

func TestSimulatorSuccess(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sim := NewSimulator(SimulatorConfig{Now: fixedClock(now), Seed: 7})

	resp, err := sim.Charge(context.Background(), ChargeRequest{
		TransactionID: "DEMO_TXN_1", Amount: decimal.RequireFromString("72.00"), Method: model.MethodCreditCard,
	})
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, GatewayName, resp.Gateway)
	assert.Equal(t, "GATEWAY_DEMO_TXN_1", resp.GatewayTransactionID)
	assert.Regexp(t, `^AUTH_\d{6}$`, resp.AuthorizationCode)
	assert.Equal(t, now, resp.Timestamp)
	assert.Equal(t, DemoNotice, resp.DemoNotice)
}

func TestSimulatorFailureRate(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{FailureRate: 1, Seed: 3})
	resp, err := sim.Charge(context.Background(), ChargeRequest{TransactionID: "T"})
	require.NoError(t, err)
	assert.Equal(t, "failed", resp.Status)
	assert.Contains(t, []string{"INSUFFICIENT_FUNDS", "NETWORK_ERROR", "DECLINED"}, resp.ErrorCode)
}

func TestSimulatorLatencyRespectsContext(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Latency: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sim.Charge(ctx, ChargeRequest{TransactionID: "T"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulatorRefund(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{})
	block, err := sim.Refund(context.Background(), RefundRequest{
		GatewayTransactionID: "GATEWAY_T", RefundTransactionID: "DEMO_REFUND_1", Amount: decimal.NewFromInt(5), Reason: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", block.Status)
	assert.Equal(t, "DEMO_REFUND_1", block.RefundTransactionID)
	assert.Equal(t, RefundDemoNotice, block.DemoNotice)
}

func TestScenarioCatalog(t *testing.T) {
	list := Scenarios()
	require.Len(t, list, 6)
	assert.Equal(t, "success", list[0].Code)
	_, ok := LookupScenario("bogus")
	assert.False(t, ok)
	assert.Len(t, PaymentMethodCatalog(), len(model.PaymentMethods))
}
