package domain

import "time"

// InventoryItem is a read model over the inventory rows owned by the
// Inventory module. The sale core only consumes stock and is_service;
// threshold is carried through for reorder alerts handled elsewhere.
type InventoryItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
	IsService bool   `json:"is_service"`
	Threshold int    `json:"threshold"`
}

// CartLine is one caller-owned cart entry. UnitPriceCents is the price
// snapshot at sale time; the core never reprices from the catalog.
type CartLine struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
	IsService      bool   `json:"is_service"`
}

type SaleItem struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type Sale struct {
	ID             string     `json:"id"`
	IdempotencyKey string     `json:"idempotency_key"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	DiscountCents  int64      `json:"discount_cents"`
	DiscountReason string     `json:"discount_reason,omitempty"`
	TotalCents     int64      `json:"total_cents"`
	Payment        Payment    `json:"payment"`
	CashRegisterID string     `json:"cash_register_id,omitempty"`
	Unreconciled   bool       `json:"unreconciled"`
	ActorID        string     `json:"actor_id"`
	ClientID       string     `json:"client_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Items          []SaleItem `json:"items"`
}

type CashRegister struct {
	ID                 string     `json:"id"`
	CashierName        string     `json:"cashier_name"`
	InitialAmountCents int64      `json:"initial_amount_cents"`
	FinalAmountCents   *int64     `json:"final_amount_cents,omitempty"`
	DifferenceCents    *int64     `json:"difference_cents,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	OpenedAt           time.Time  `json:"opened_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
	IsOpen             bool       `json:"is_open"`
}

// ClientProfile is the loyalty snapshot supplied by the Clients module.
// The sale core never loads or mutates client records itself.
type ClientProfile struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Visits    int        `json:"visits"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
}

// LoyaltyRule grants a percentage discount once a client reaches the
// configured visit count.
type LoyaltyRule struct {
	VisitThreshold  int
	DiscountPercent float64
	Reason          string
}

// BirthdayRule grants a percentage discount when the sale date matches the
// client's birth month and day.
type BirthdayRule struct {
	DiscountPercent float64
	Reason          string
}

type Discount struct {
	Percent     float64 `json:"percent"`
	AmountCents int64   `json:"amount_cents"`
	Reason      string  `json:"reason"`
}

// ReservationLine is a single non-service decrement applied to inventory.
type ReservationLine struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// Reservation records the exact decrements applied by the stock ledger so a
// compensating release can restore precisely what was taken.
type Reservation struct {
	Reference string            `json:"reference"`
	Lines     []ReservationLine `json:"lines"`
}

type Actor struct {
	ID   string
	Role string
}

type AuditLog struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type SaleRequest struct {
	IdempotencyKey string         `json:"idempotency_key"`
	CashierName    string         `json:"cashier_name,omitempty"`
	RegisterID     string         `json:"register_id,omitempty"`
	PaymentMethod  string         `json:"payment_method"`
	Card           *CardDetails   `json:"card,omitempty"`
	ClientID       string         `json:"client_id,omitempty"`
	Client         *ClientProfile `json:"client,omitempty"`
	Items          []CartLine     `json:"items"`
}

type SaleResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type SaleLookupResponse struct {
	Found bool  `json:"found"`
	Sale  *Sale `json:"sale,omitempty"`
}

type OpenRegisterRequest struct {
	CashierName        string `json:"cashier_name"`
	InitialAmountCents int64  `json:"initial_amount_cents"`
	Notes              string `json:"notes,omitempty"`
}

type CloseRegisterRequest struct {
	RegisterID       string `json:"register_id"`
	FinalAmountCents int64  `json:"final_amount_cents"`
	Notes            string `json:"notes,omitempty"`
}

type RegisterResponse struct {
	Register CashRegister `json:"register"`
}

// RegisterSalesResponse is the reconciliation report for one register: all
// linked sales plus the cash portion counted against the drawer.
type RegisterSalesResponse struct {
	Register       CashRegister `json:"register"`
	Sales          []Sale       `json:"sales"`
	CashTotalCents int64        `json:"cash_total_cents"`
}
