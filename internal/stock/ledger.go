// Package stock holds the reservation ledger that sits between checkout and
// the inventory rows. Reservations are the unit of compensation: whatever a
// Reserve call decremented, a Release call puts back.
package stock

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/domain"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/metrics"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/store"
)

type Ledger struct {
	repo store.Repository
}

func NewLedger(repo store.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Reserve decrements stock for every physical line in the cart, all or
// nothing. Service lines carry no stock and are skipped. Cart lines for the
// same product aggregate into one reservation line, so the availability
// check sees the full requested quantity at once. On shortfall the returned
// error wraps *domain.StockError and no row is touched.
func (l *Ledger) Reserve(ctx context.Context, items []domain.CartLine) (*domain.Reservation, error) {
	lines := make([]domain.ReservationLine, 0, len(items))
	byProduct := make(map[string]int, len(items))
	for _, item := range items {
		if item.IsService {
			continue
		}
		if idx, ok := byProduct[item.ProductID]; ok {
			lines[idx].Qty += item.Qty
			continue
		}
		byProduct[item.ProductID] = len(lines)
		lines = append(lines, domain.ReservationLine{ProductID: item.ProductID, Qty: item.Qty})
	}

	reservation := &domain.Reservation{Reference: uuid.NewString()}
	if len(lines) == 0 {
		return reservation, nil
	}

	applied, err := l.repo.DecrementStock(ctx, lines)
	if err != nil {
		var stockErr *domain.StockError
		if errors.As(err, &stockErr) {
			metrics.StockConflict()
		}
		return nil, err
	}

	reservation.Lines = applied
	return reservation, nil
}

// Release compensates a reservation. Failures are logged and returned; the
// caller decides whether a stuck compensation blocks the sale outcome.
func (l *Ledger) Release(ctx context.Context, reservation *domain.Reservation) error {
	if reservation == nil || len(reservation.Lines) == 0 {
		return nil
	}
	if err := l.repo.RestoreStock(ctx, reservation.Lines); err != nil {
		log.Printf("[stock] WARN: release reservation %s failed: %v", reservation.Reference, err)
		return err
	}
	return nil
}
