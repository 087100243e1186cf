package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/domain"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/store"
)

func dayWindow(t *testing.T) (time.Time, time.Time) {
	t.Helper()
	start := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

func TestOpenRegisterConcurrentSameCashier(t *testing.T) {
	s := New()
	dayStart, dayEnd := dayWindow(t)

	const attempts = 12
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.OpenRegister(context.Background(), domain.CashRegister{
				CashierName:        "Ana",
				InitialAmountCents: 5000,
				OpenedAt:           dayStart.Add(9 * time.Hour),
			}, dayStart, dayEnd)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	opened, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			opened++
		case errors.Is(err, domain.ErrRegisterAlreadyOpen):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if opened != 1 || conflicts != attempts-1 {
		t.Fatalf("opened=%d conflicts=%d, want exactly one open", opened, conflicts)
	}
}

func TestReopenAfterCloseSameDay(t *testing.T) {
	s := New()
	dayStart, dayEnd := dayWindow(t)

	first, err := s.OpenRegister(context.Background(), domain.CashRegister{
		CashierName:        "Bruno",
		InitialAmountCents: 10000,
		OpenedAt:           dayStart.Add(8 * time.Hour),
	}, dayStart, dayEnd)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.CloseRegister(context.Background(), first.ID, 10000, "", dayStart.Add(12*time.Hour)); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := s.OpenRegister(context.Background(), domain.CashRegister{
		CashierName:        "Bruno",
		InitialAmountCents: 8000,
		OpenedAt:           dayStart.Add(13 * time.Hour),
	}, dayStart, dayEnd)
	if err != nil {
		t.Fatalf("reopen after close should be allowed, got %v", err)
	}

	current, err := s.CurrentRegister(context.Background(), "Bruno", dayStart, dayEnd)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.ID != second.ID {
		t.Fatalf("current register = %s, want latest %s", current.ID, second.ID)
	}
}

func TestCreateSaleDuplicateKey(t *testing.T) {
	s := New()
	sale := domain.Sale{
		IdempotencyKey: "idem-abc",
		SubtotalCents:  4500,
		TotalCents:     4500,
		Payment:        domain.Payment{Method: domain.PaymentPix},
		Items: []domain.SaleItem{
			{ProductID: "prod-labret-aco", Name: "Labret Aço Cirúrgico", UnitPriceCents: 4500, Qty: 1},
		},
	}

	first, duplicate, err := s.CreateSale(context.Background(), sale)
	if err != nil || duplicate {
		t.Fatalf("first create: duplicate=%v err=%v", duplicate, err)
	}

	replay := sale
	replay.TotalCents = 9999
	second, duplicate, err := s.CreateSale(context.Background(), replay)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !duplicate {
		t.Fatal("replay with same idempotency key should report duplicate")
	}
	if second.ID != first.ID || second.TotalCents != first.TotalCents {
		t.Fatalf("replay returned %+v, want original sale %+v", second, first)
	}

	if _, _, err := s.CreateSale(context.Background(), domain.Sale{IdempotencyKey: "idem-empty"}); !errors.Is(err, store.ErrInvalidSale) {
		t.Fatalf("sale without items: got %v, want ErrInvalidSale", err)
	}
}
