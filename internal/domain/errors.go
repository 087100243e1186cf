package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCart is returned before anything is persisted.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrRegisterAlreadyOpen and ErrRegisterNotOpen are register lifecycle
	// misuse; state is authoritative, retrying does not help.
	ErrRegisterAlreadyOpen = errors.New("register already open for cashier today")
	ErrRegisterNotOpen     = errors.New("register is not open")

	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
	ErrMissingCardDetails       = errors.New("card payments require type, brand and receipt number")
	ErrUnexpectedCardDetails    = errors.New("card details are only valid for card payments")
)

// StockError reports a failed reservation. No partial decrement is ever
// observable when it is returned; the caller may shrink the cart and retry.
type StockError struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

// PersistenceError wraps a transient storage failure after the sale's stock
// reservation was already released. Safe to retry with the same idempotency
// key.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
