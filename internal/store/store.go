package store

import (
	"context"
	"errors"
	"time"

	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/domain"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidSale = errors.New("invalid sale")
)

// Repository is the persistence collaborator for the sale core. Both
// implementations (memory for dev/tests, postgres for production) must make
// DecrementStock, CreateSale and OpenRegister atomic: the conditional
// checks happen inside the storage operation, never as a read-then-write
// pair in application code.
type Repository interface {
	GetInventoryItem(ctx context.Context, productID string) (*domain.InventoryItem, error)
	GetStockMap(ctx context.Context, productIDs []string) (map[string]int, error)
	UpsertInventoryItem(ctx context.Context, item domain.InventoryItem) error

	// DecrementStock applies every line or none. Rows flagged is_service
	// are skipped; the returned lines are exactly those decremented, so a
	// compensating RestoreStock can undo them. A missing row or a row with
	// stock < qty yields *domain.StockError and no mutation.
	DecrementStock(ctx context.Context, lines []domain.ReservationLine) ([]domain.ReservationLine, error)
	RestoreStock(ctx context.Context, lines []domain.ReservationLine) error

	// CreateSale persists the sale and its items in one transaction,
	// conditional on the idempotency key being unused. When the key
	// already exists the previously persisted sale is returned with
	// duplicate=true and nothing is written.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, bool, error)
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotencyKey(ctx context.Context, key string) (*domain.Sale, error)
	ListRegisterSales(ctx context.Context, registerID string) ([]domain.Sale, error)

	// OpenRegister inserts the register only if the cashier has no open
	// register inside [dayStart, dayEnd); otherwise
	// domain.ErrRegisterAlreadyOpen.
	OpenRegister(ctx context.Context, reg domain.CashRegister, dayStart, dayEnd time.Time) (*domain.CashRegister, error)

	// CloseRegister computes difference = final - initial - sum of cash
	// sale totals linked to the register, inside the same transaction that
	// flips is_open.
	CloseRegister(ctx context.Context, registerID string, finalAmountCents int64, notes string, closedAt time.Time) (*domain.CashRegister, error)
	FindRegisterByID(ctx context.Context, id string) (*domain.CashRegister, error)
	CurrentRegister(ctx context.Context, cashier string, dayStart, dayEnd time.Time) (*domain.CashRegister, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
