package model

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled},
	BookingConfirmed: {BookingCancelled, BookingCompleted},
}

// Valid reports whether s is a known booking status.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled, BookingCompleted:
		return true
	}
	return false
}

// CanTransition reports whether the edge s -> to is legal.
func (s BookingStatus) CanTransition(to BookingStatus) bool {
	for _, next := range bookingTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s BookingStatus) Terminal() bool { return len(bookingTransitions[s]) == 0 }

// BookingPaymentStatus summarizes the money side of a booking.
type BookingPaymentStatus string

const (
	PaymentUnpaid   BookingPaymentStatus = "unpaid"
	PaymentPaid     BookingPaymentStatus = "paid"
	PaymentRefunded BookingPaymentStatus = "refunded"
	PaymentFailed   BookingPaymentStatus = "failed"
)

// Valid reports whether s is a known payment status.
func (s BookingPaymentStatus) Valid() bool {
	switch s {
	case PaymentUnpaid, PaymentPaid, PaymentRefunded, PaymentFailed:
		return true
	}
	return false
}

// TicketStatus mirrors the owning booking's status.
type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketConfirmed TicketStatus = "confirmed"
	TicketCancelled TicketStatus = "cancelled"
	TicketCompleted TicketStatus = "completed"
)

// TicketStatusFor returns the ticket status that mirrors b.
func TicketStatusFor(b BookingStatus) TicketStatus {
	switch b {
	case BookingConfirmed:
		return TicketConfirmed
	case BookingCancelled:
		return TicketCancelled
	case BookingCompleted:
		return TicketCompleted
	}
	return TicketPending
}

// TransactionStatus is the lifecycle state of a payment attempt.
type TransactionStatus string

const (
	TxnInitiated  TransactionStatus = "initiated"
	TxnProcessing TransactionStatus = "processing"
	TxnSuccess    TransactionStatus = "success"
	TxnFailed     TransactionStatus = "failed"
	TxnRefunded   TransactionStatus = "refunded"
)

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TxnInitiated:  {TxnProcessing},
	TxnProcessing: {TxnSuccess, TxnFailed},
	TxnSuccess:    {TxnRefunded},
}

// Valid reports whether s is a known transaction status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TxnInitiated, TxnProcessing, TxnSuccess, TxnFailed, TxnRefunded:
		return true
	}
	return false
}

// CanTransition reports whether the edge s -> to is legal.
func (s TransactionStatus) CanTransition(to TransactionStatus) bool {
	for _, next := range transactionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Open reports whether the payment is still in flight.
func (s TransactionStatus) Open() bool { return s == TxnInitiated || s == TxnProcessing }

// PaymentMethod is the instrument used for a payment.
type PaymentMethod string

const (
	MethodCreditCard    PaymentMethod = "credit_card"
	MethodDebitCard     PaymentMethod = "debit_card"
	MethodDigitalWallet PaymentMethod = "digital_wallet"
	MethodNetBanking    PaymentMethod = "net_banking"
	MethodUPI           PaymentMethod = "upi"
)

// PaymentMethods lists every supported method in display order.
var PaymentMethods = []PaymentMethod{MethodCreditCard, MethodDebitCard, MethodDigitalWallet, MethodNetBanking, MethodUPI}

// Valid reports whether m is a supported method.
func (m PaymentMethod) Valid() bool {
	for _, v := range PaymentMethods {
		if v == m {
			return true
		}
	}
	return false
}

// IsCard reports whether m carries card details.
func (m PaymentMethod) IsCard() bool { return m == MethodCreditCard || m == MethodDebitCard }

// TripStatus is the operational state of a trip.
type TripStatus string

const (
	TripScheduled TripStatus = "scheduled"
	TripBoarding  TripStatus = "boarding"
	TripInTransit TripStatus = "in_transit"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

// Valid reports whether s is a known trip status.
func (s TripStatus) Valid() bool {
	switch s {
	case TripScheduled, TripBoarding, TripInTransit, TripCompleted, TripCancelled:
		return true
	}
	return false
}

// DiscountType selects how a promo computes its discount.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool { return t == DiscountPercentage || t == DiscountFixed }

// Role names recognised in access tokens.
const (
	RoleCustomer = "CUSTOMER"
	RoleAdmin    = "ADMIN"
)
