package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/trip-booking/internal/model"
)

func TestMaskDetailsCard(t *testing.T) {
	m := MaskDetails(model.PaymentDetails{
		CardNumber:  "4111 1111 1111 1234",
		CardHolder:  " Ada Lovelace ",
		ExpiryMonth: "7",
		ExpiryYear:  "2028",
		CVV:         "123",
	})
	assert.Equal(t, "****-****-****-1234", m.CardNumber)
	assert.Equal(t, "Ada Lovelace", m.CardHolder)
	assert.Equal(t, "07/2028", m.Expiry)
	assert.Equal(t, "***", m.CVV)
}

func TestMaskDetailsShortCard(t *testing.T) {
	assert.Equal(t, "****", MaskDetails(model.PaymentDetails{CardNumber: "12"}).CardNumber)
}

func TestMaskDetailsBankAndWallet(t *testing.T) {
	m := MaskDetails(model.PaymentDetails{BankCode: "HDFC", AccountNumber: "000123456789", WalletID: "w-1", UPIID: "a@upi"})
	assert.Equal(t, "****6789", m.AccountNumber)
	assert.Equal(t, "HDFC", m.BankCode)
	assert.Equal(t, "w-1", m.WalletID)
	assert.Equal(t, "a@upi", m.UPIID)
	assert.Empty(t, m.CardNumber)
	assert.Empty(t, m.CVV)
}

func TestValidateDetails(t *testing.T) {
	err := validateDetails(model.MethodCreditCard, model.PaymentDetails{CardNumber: "4111"})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "card_holder")
		assert.Contains(t, err.Error(), "cvv")
	}
	assert.NoError(t, validateDetails(model.MethodUPI, model.PaymentDetails{UPIID: "a@upi"}))
	assert.Error(t, validateDetails(model.MethodNetBanking, model.PaymentDetails{BankCode: "X"}))
	assert.Error(t, validateDetails(model.MethodDigitalWallet, model.PaymentDetails{}))
}
