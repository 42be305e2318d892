package service

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/model"
)

// MaskDetails converts raw instrument data into its storable form. Card
// numbers keep the last four digits, CVVs are replaced entirely and bank
// account numbers keep the last four characters.
func MaskDetails(d model.PaymentDetails) model.MaskedDetails {
	m := model.MaskedDetails{
		CardHolder: strings.TrimSpace(d.CardHolder),
		WalletID:   d.WalletID,
		BankCode:   d.BankCode,
		UPIID:      d.UPIID,
	}
	if d.CardNumber != "" {
		m.CardNumber = maskCard(d.CardNumber)
	}
	if d.CVV != "" {
		m.CVV = "***"
	}
	if d.ExpiryMonth != "" && d.ExpiryYear != "" {
		m.Expiry = fmt.Sprintf("%s/%s", pad2(d.ExpiryMonth), d.ExpiryYear)
	}
	if d.AccountNumber != "" {
		m.AccountNumber = "****" + lastN(d.AccountNumber, 4)
	}
	return m
}

func maskCard(number string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, number)
	if len(digits) < 4 {
		return "****"
	}
	return "****-****-****-" + digits[len(digits)-4:]
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// validateDetails checks that the instrument fields required by method are
// present.
func validateDetails(method model.PaymentMethod, d model.PaymentDetails) error {
	var missing []string
	switch {
	case method.IsCard():
		if d.CardNumber == "" {
			missing = append(missing, "card_number")
		}
		if d.CardHolder == "" {
			missing = append(missing, "card_holder")
		}
		if d.ExpiryMonth == "" || d.ExpiryYear == "" {
			missing = append(missing, "expiry")
		}
		if d.CVV == "" {
			missing = append(missing, "cvv")
		}
	case method == model.MethodDigitalWallet:
		if d.WalletID == "" {
			missing = append(missing, "wallet_id")
		}
	case method == model.MethodNetBanking:
		if d.BankCode == "" {
			missing = append(missing, "bank_code")
		}
		if d.AccountNumber == "" {
			missing = append(missing, "account_number")
		}
	case method == model.MethodUPI:
		if d.UPIID == "" {
			missing = append(missing, "upi_id")
		}
	}
	if len(missing) > 0 {
		return domain.Validation("missing payment details: %s", strings.Join(missing, ", "))
	}
	return nil
}
