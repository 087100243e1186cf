package domain

import "strings"

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
	PaymentPix  PaymentMethod = "pix"
)

const (
	CardTypeCredit = "credit"
	CardTypeDebit  = "debit"
)

// CardDetails accompanies a payment only when the method is card.
type CardDetails struct {
	Type          string `json:"type"`
	Brand         string `json:"brand"`
	ReceiptNumber string `json:"receipt_number"`
}

// Payment is the tagged payment variant: Card is set iff Method is card.
type Payment struct {
	Method PaymentMethod `json:"method"`
	Card   *CardDetails  `json:"card,omitempty"`
}

// NewPayment builds and validates a payment variant from raw request input.
func NewPayment(method string, card *CardDetails) (Payment, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(method)))
	if m == "" {
		m = PaymentCash
	}

	switch m {
	case PaymentCash, PaymentPix:
		if card != nil {
			return Payment{}, ErrUnexpectedCardDetails
		}
		return Payment{Method: m}, nil
	case PaymentCard:
		if card == nil {
			return Payment{}, ErrMissingCardDetails
		}
		normalized := CardDetails{
			Type:          strings.ToLower(strings.TrimSpace(card.Type)),
			Brand:         NormalizeCardBrand(card.Brand),
			ReceiptNumber: strings.TrimSpace(card.ReceiptNumber),
		}
		if normalized.Type != CardTypeCredit && normalized.Type != CardTypeDebit {
			return Payment{}, ErrMissingCardDetails
		}
		if normalized.Brand == "" || normalized.ReceiptNumber == "" {
			return Payment{}, ErrMissingCardDetails
		}
		return Payment{Method: PaymentCard, Card: &normalized}, nil
	default:
		return Payment{}, ErrUnsupportedPaymentMethod
	}
}

// NormalizeCardBrand maps free-form brand labels from terminal receipts to a
// canonical lowercase form. Unrecognized brands pass through trimmed so new
// acquirer brands do not block checkout.
func NormalizeCardBrand(brand string) string {
	b := strings.ToLower(strings.TrimSpace(brand))
	switch b {
	case "visa", "visa electron":
		return "visa"
	case "master", "mastercard", "maestro":
		return "mastercard"
	case "elo":
		return "elo"
	case "amex", "american express":
		return "amex"
	case "hiper", "hipercard":
		return "hipercard"
	}
	return b
}
