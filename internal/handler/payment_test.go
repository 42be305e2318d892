package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/model"
	"github.com/iliyamo/trip-booking/internal/repository"
	"github.com/iliyamo/trip-booking/internal/service"
)

const txn = "DEMO_TXN_20260601085500_01020304"

func processingPayment() model.Payment {
	return model.Payment{
		ID:              9,
		TransactionID:   txn,
		BookingID:       77,
		UserID:          5,
		Amount:          dec("72.00"),
		Currency:        "USD",
		Method:          model.MethodCreditCard,
		Status:          model.TxnProcessing,
		Details:         []byte(`{"card_number":"****-****-****-1111","cvv":"***"}`),
		GatewayName:     "DEMO_PAYMENT_GATEWAY",
		GatewayResponse: []byte(`{"authorization_code":"AUTH_123456"}`),
		IsDemo:          true,
		InitiatedAt:     handlerNow,
	}
}

func TestInitiatePayment(t *testing.T) {
	svc := &paymentSvc{}
	svc.On("InitiatePayment", tmock.Anything, tmock.MatchedBy(func(in service.InitiatePaymentInput) bool {
		return in.UserID == 5 && in.BookingID == 77 && in.Method == model.MethodCreditCard &&
			in.Amount.Equal(dec("72")) && in.Details.CardNumber == "4111111111111111"
	})).Return(processingPayment(), nil)

	body := `{"booking_id": 77, "payment_method": "credit_card", "amount": "72.00",
	  "payment_details": {"card_number": "4111111111111111", "card_holder": "Ana Silva",
	  "expiry_month": "12", "expiry_year": "2030", "cvv": "123"}}`
	c, rec := request(http.MethodPost, "/v1/payments", body, 5, model.RoleCustomer)
	require.NoError(t, NewPaymentHandler(svc).Initiate(c))

	out := rec.Body.String()
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, txn, gjson.Get(out, "transaction_id").String())
	assert.Equal(t, "processing", gjson.Get(out, "status").String())
	assert.False(t, gjson.Get(out, "payment_details").Exists())
	assert.False(t, gjson.Get(out, "gateway_response").Exists())
	svc.AssertExpectations(t)
}

func TestInitiatePaymentRequiresPositiveAmount(t *testing.T) {
	for _, body := range []string{
		`{"booking_id": 77, "payment_method": "upi"}`,
		`{"booking_id": 77, "payment_method": "upi", "amount": 0}`,
		`{"booking_id": 77, "payment_method": "upi", "amount": "-1"}`,
	} {
		svc := &paymentSvc{}
		c, rec := request(http.MethodPost, "/v1/payments", body, 5, model.RoleCustomer)
		require.NoError(t, NewPaymentHandler(svc).Initiate(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		svc.AssertNotCalled(t, "InitiatePayment", tmock.Anything, tmock.Anything)
	}
}

func TestInitiatePaymentAmountMismatch(t *testing.T) {
	svc := &paymentSvc{}
	svc.On("InitiatePayment", tmock.Anything, tmock.Anything).Return(model.Payment{},
		domain.ErrAmountMismatch.WithDetail("expected", "72.00").WithDetail("got", "70.00"))

	c, rec := request(http.MethodPost, "/v1/payments", `{"booking_id": 77, "payment_method": "upi", "amount": 70}`, 5, model.RoleCustomer)
	require.NoError(t, NewPaymentHandler(svc).Initiate(c))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "72.00", gjson.Get(rec.Body.String(), "details.expected").String())
}

func TestCompletePaymentDeclined(t *testing.T) {
	failed := processingPayment()
	failed.Status = model.TxnFailed
	svc := &paymentSvc{}
	svc.On("CompletePayment", tmock.Anything, uint64(5), txn, "insufficient_funds").Return(service.PaymentOutcome{
		Payment: failed,
		Booking: heldBooking(),
		Success: false,
		Message: "Insufficient funds",
	}, nil)

	c, rec := request(http.MethodPost, "/v1/payments/"+txn+"/complete", `{"test_scenario": "insufficient_funds"}`, 5, model.RoleCustomer)
	require.NoError(t, NewPaymentHandler(svc).Complete(withParam(c, "txn", txn)))

	out := rec.Body.String()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, gjson.Get(out, "success").Bool())
	assert.Equal(t, "failed", gjson.Get(out, "payment.status").String())
	assert.Equal(t, "ABCDEF123456", gjson.Get(out, "booking.booking_reference").String())
	svc.AssertExpectations(t)
}

func TestCompletePaymentExpiredHold(t *testing.T) {
	svc := &paymentSvc{}
	svc.On("CompletePayment", tmock.Anything, uint64(5), txn, "").Return(service.PaymentOutcome{}, domain.ErrBookingExpired)

	c, rec := request(http.MethodPost, "/v1/payments/"+txn+"/complete", "", 5, model.RoleCustomer)
	require.NoError(t, NewPaymentHandler(svc).Complete(withParam(c, "txn", txn)))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "BOOKING_EXPIRED", gjson.Get(rec.Body.String(), "error").String())
}

func TestGetPaymentViews(t *testing.T) {
	svc := &paymentSvc{}
	svc.On("GetPayment", tmock.Anything, tmock.Anything, txn).Return(processingPayment(), nil)
	h := NewPaymentHandler(svc)

	c, rec := request(http.MethodGet, "/v1/payments/"+txn, "", 5, model.RoleCustomer)
	require.NoError(t, h.Get(withParam(c, "txn", txn)))
	assert.False(t, gjson.Get(rec.Body.String(), "payment_details").Exists())

	c, rec = request(http.MethodGet, "/v1/admin/payments/"+txn, "", 1, model.RoleAdmin)
	require.NoError(t, h.GetSensitive(withParam(c, "txn", txn)))
	assert.Equal(t, "****-****-****-1111", gjson.Get(rec.Body.String(), "payment_details.card_number").String())
	assert.Equal(t, "AUTH_123456", gjson.Get(rec.Body.String(), "gateway_response.authorization_code").String())
}

func TestPaymentHistory(t *testing.T) {
	svc := &paymentSvc{}
	svc.On("PaymentHistory", tmock.Anything, uint64(5), repository.PaymentFilter{Status: model.TxnSuccess, Limit: 20}).
		Return([]model.Payment{processingPayment()}, 41, nil)

	c, rec := request(http.MethodGet, "/v1/payments/history?status=success", "", 5, model.RoleCustomer)
	require.NoError(t, NewPaymentHandler(svc).History(c))

	out := rec.Body.String()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(41), gjson.Get(out, "total").Int())
	assert.Equal(t, int64(20), gjson.Get(out, "limit").Int())
	assert.Len(t, gjson.Get(out, "items").Array(), 1)
}

func TestPaymentCatalogs(t *testing.T) {
	c, rec := request(http.MethodGet, "/v1/payments/methods", "", 0, "")
	require.NoError(t, PaymentMethods(c))
	assert.Equal(t, "credit_card", gjson.Get(rec.Body.String(), "items.0.code").String())

	c, rec = request(http.MethodGet, "/v1/payments/test-scenarios", "", 0, "")
	require.NoError(t, PaymentScenarios(c))
	assert.True(t, gjson.Get(rec.Body.String(), `items.#(code=="success")`).Exists())
}
