package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Payment is one transaction attempt against a booking. Only masked
// instrument details are ever stored. FailureReason/FailureCode are set only
// when Status is failed and the Refund* fields only when Status is refunded.
type Payment struct {
	ID                  uint64            // payments.id
	TransactionID       string            // payments.transaction_id
	BookingID           uint64            // payments.booking_id
	UserID              uint64            // payments.user_id
	Amount              decimal.Decimal   // payments.amount
	Currency            string            // payments.currency
	Method              PaymentMethod     // payments.payment_method
	Status              TransactionStatus // payments.status
	Details             json.RawMessage   // payments.payment_details (masked)
	GatewayName         string            // payments.gateway_name
	GatewayResponse     json.RawMessage   // payments.gateway_response (nullable)
	IsDemo              bool              // payments.is_demo
	DemoNote            string            // payments.demo_note
	FailureReason       *string           // payments.failure_reason
	FailureCode         *string           // payments.failure_code
	RefundAmount        *decimal.Decimal  // payments.refund_amount
	RefundDate          *time.Time        // payments.refund_date
	RefundTransactionID *string           // payments.refund_transaction_id
	RefundReason        *string           // payments.refund_reason
	InitiatedAt         time.Time         // payments.initiated_at
	CompletedAt         *time.Time        // payments.completed_at
}

// PaymentView is the serialized projection of a Payment.
type PaymentView struct {
	ID                  uint64            `json:"id"`
	TransactionID       string            `json:"transaction_id"`
	BookingID           uint64            `json:"booking_id"`
	UserID              uint64            `json:"user_id"`
	Amount              decimal.Decimal   `json:"amount"`
	Currency            string            `json:"currency"`
	Method              PaymentMethod     `json:"payment_method"`
	Status              TransactionStatus `json:"status"`
	GatewayName         string            `json:"gateway_name"`
	IsDemo              bool              `json:"is_demo"`
	DemoNote            string            `json:"demo_note,omitempty"`
	FailureReason       *string           `json:"failure_reason,omitempty"`
	FailureCode         *string           `json:"failure_code,omitempty"`
	RefundAmount        *decimal.Decimal  `json:"refund_amount,omitempty"`
	RefundDate          *time.Time        `json:"refund_date,omitempty"`
	RefundTransactionID *string           `json:"refund_transaction_id,omitempty"`
	InitiatedAt         time.Time         `json:"initiated_at"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
	PaymentDetails      json.RawMessage   `json:"payment_details,omitempty"`
	GatewayResponse     json.RawMessage   `json:"gateway_response,omitempty"`
}

// View projects p for output. Masked instrument details and the raw gateway
// response are included only when includeSensitive is set.
func (p Payment) View(includeSensitive bool) PaymentView {
	v := PaymentView{
		ID:                  p.ID,
		TransactionID:       p.TransactionID,
		BookingID:           p.BookingID,
		UserID:              p.UserID,
		Amount:              p.Amount,
		Currency:            p.Currency,
		Method:              p.Method,
		Status:              p.Status,
		GatewayName:         p.GatewayName,
		IsDemo:              p.IsDemo,
		DemoNote:            p.DemoNote,
		FailureReason:       p.FailureReason,
		FailureCode:         p.FailureCode,
		RefundAmount:        p.RefundAmount,
		RefundDate:          p.RefundDate,
		RefundTransactionID: p.RefundTransactionID,
		InitiatedAt:         p.InitiatedAt,
		CompletedAt:         p.CompletedAt,
	}
	if includeSensitive {
		v.PaymentDetails = p.Details
		v.GatewayResponse = p.GatewayResponse
	}
	return v
}

// PaymentDetails is the raw instrument data a client submits. It is never
// persisted; see MaskedDetails.
type PaymentDetails struct {
	CardNumber    string `json:"card_number,omitempty"`
	CardHolder    string `json:"card_holder,omitempty"`
	ExpiryMonth   string `json:"expiry_month,omitempty"`
	ExpiryYear    string `json:"expiry_year,omitempty"`
	CVV           string `json:"cvv,omitempty"`
	WalletID      string `json:"wallet_id,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	UPIID         string `json:"upi_id,omitempty"`
}

// MaskedDetails is the storable form of PaymentDetails.
type MaskedDetails struct {
	CardNumber    string `json:"card_number,omitempty"`
	CardHolder    string `json:"card_holder,omitempty"`
	Expiry        string `json:"expiry,omitempty"`
	CVV           string `json:"cvv,omitempty"`
	WalletID      string `json:"wallet_id,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	UPIID         string `json:"upi_id,omitempty"`
}

// GatewayResponse is the mock payload returned by the gateway simulator and
// stored on the payment row.
type GatewayResponse struct {
	Gateway              string          `json:"gateway"`
	GatewayTransactionID string          `json:"gateway_transaction_id"`
	Timestamp            time.Time       `json:"timestamp"`
	Amount               decimal.Decimal `json:"amount"`
	PaymentMethod        PaymentMethod   `json:"payment_method"`
	DemoNotice           string          `json:"demo_notice"`
	Status               string          `json:"status"`
	Message              string          `json:"message"`
	ErrorCode            string          `json:"error_code,omitempty"`
	AuthorizationCode    string          `json:"authorization_code,omitempty"`
	Refund               *RefundBlock    `json:"refund,omitempty"`
}

// RefundBlock is merged into the stored gateway response when a payment is
// refunded.
type RefundBlock struct {
	Status              string          `json:"status"`
	RefundTransactionID string          `json:"refund_transaction_id"`
	RefundAmount        decimal.Decimal `json:"refund_amount"`
	Reason              string          `json:"reason"`
	Timestamp           time.Time       `json:"timestamp"`
	DemoNotice          string          `json:"demo_notice"`
}
