package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/domain"
)

func TestDecrementStockIsAtomicIntegration(t *testing.T) {
	databaseURL := os.Getenv("PIERCEHUB_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set PIERCEHUB_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productA := fmt.Sprintf("prod-it-a-%d", stamp)
	productB := fmt.Sprintf("prod-it-b-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_items WHERE id IN ($1, $2)`, productA, productB)
	})

	seed := []domain.InventoryItem{
		{ID: productA, Name: "Argola Titanio IT", Stock: 5},
		{ID: productB, Name: "Labret Aco IT", Stock: 1},
	}
	for _, item := range seed {
		if err := s.UpsertInventoryItem(ctx, item); err != nil {
			t.Fatalf("seed inventory: %v", err)
		}
	}

	_, err = s.DecrementStock(ctx, []domain.ReservationLine{
		{ProductID: productA, Qty: 2},
		{ProductID: productB, Qty: 3},
	})
	var stockErr *domain.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected StockError, got %v", err)
	}
	if stockErr.ProductID != productB || stockErr.Available != 1 || stockErr.Requested != 3 {
		t.Fatalf("unexpected StockError fields: %+v", stockErr)
	}

	stocks, err := s.GetStockMap(ctx, []string{productA, productB})
	if err != nil {
		t.Fatalf("stock map: %v", err)
	}
	if stocks[productA] != 5 || stocks[productB] != 1 {
		t.Fatalf("expected untouched stock after failed decrement, got %v", stocks)
	}

	applied, err := s.DecrementStock(ctx, []domain.ReservationLine{
		{ProductID: productA, Qty: 2},
		{ProductID: productB, Qty: 1},
	})
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("expected 2 applied lines, got %d", len(applied))
	}

	if err := s.RestoreStock(ctx, applied); err != nil {
		t.Fatalf("restore: %v", err)
	}

	stocks, err = s.GetStockMap(ctx, []string{productA, productB})
	if err != nil {
		t.Fatalf("stock map after restore: %v", err)
	}
	if stocks[productA] != 5 || stocks[productB] != 1 {
		t.Fatalf("expected restored stock, got %v", stocks)
	}
}

func TestConcurrentDecrementLastUnitIntegration(t *testing.T) {
	databaseURL := os.Getenv("PIERCEHUB_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set PIERCEHUB_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	productID := fmt.Sprintf("prod-it-race-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_items WHERE id = $1`, productID)
	})

	if err := s.UpsertInventoryItem(ctx, domain.InventoryItem{ID: productID, Name: "Barbell IT", Stock: 1}); err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.DecrementStock(ctx, []domain.ReservationLine{{ProductID: productID, Qty: 1}})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		// Every loser gets a StockError, never a serialization failure.
		var stockErr *domain.StockError
		if !errors.As(err, &stockErr) {
			t.Fatalf("unexpected error: %v", err)
		}
		if stockErr.Available != 0 || stockErr.Requested != 1 {
			t.Fatalf("unexpected StockError fields: %+v", stockErr)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful decrement, got %d", wins)
	}

	stocks, err := s.GetStockMap(ctx, []string{productID})
	if err != nil {
		t.Fatalf("stock map: %v", err)
	}
	if stocks[productID] != 0 {
		t.Fatalf("expected stock 0, got %d", stocks[productID])
	}
}
