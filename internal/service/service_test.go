package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/domain"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/loyalty"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/stock"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/store"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	seed := []domain.InventoryItem{
		{ID: "prod-argola", Name: "Argola Titanio", Stock: 10},
		{ID: "prod-labret", Name: "Labret Aco", Stock: 3},
		{ID: "svc-aplicacao", Name: "Aplicacao", IsService: true},
	}
	ctx := context.Background()
	for _, item := range seed {
		if err := repo.UpsertInventoryItem(ctx, item); err != nil {
			t.Fatalf("seed inventory: %v", err)
		}
	}

	engine := loyalty.NewEngine(
		&domain.LoyaltyRule{VisitThreshold: 2, DiscountPercent: 15, Reason: "cliente frequente"},
		&domain.BirthdayRule{DiscountPercent: 10, Reason: "aniversario"},
		time.UTC,
	)
	svc := New(repo, stock.NewLedger(repo), engine, nil, time.UTC, time.Hour)
	return svc, repo
}

func actorCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: "user-ana", Role: "piercer"})
}

func cashRequest(key string, items ...domain.CartLine) domain.SaleRequest {
	return domain.SaleRequest{
		IdempotencyKey: key,
		CashierName:    "Ana",
		PaymentMethod:  "cash",
		Items:          items,
	}
}

func TestProcessSaleEmptyCart(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ProcessSale(actorCtx(), cashRequest("idem-empty"))
	if !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}

	// Lines with zero qty normalize away; the cart is still empty.
	_, err = svc.ProcessSale(actorCtx(), cashRequest("idem-empty-2", domain.CartLine{ProductID: "prod-argola", Qty: 0, UnitPriceCents: 4500}))
	if !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart for zero-qty cart, got %v", err)
	}
}

func TestProcessSaleHappyPathWithRegister(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := actorCtx()

	opened, err := svc.OpenRegister(ctx, domain.OpenRegisterRequest{CashierName: "Ana", InitialAmountCents: 10000})
	if err != nil {
		t.Fatalf("open register: %v", err)
	}

	resp, err := svc.ProcessSale(ctx, cashRequest("idem-happy",
		domain.CartLine{ProductID: "prod-argola", Name: "Argola Titanio", Qty: 2, UnitPriceCents: 4500},
		domain.CartLine{ProductID: "svc-aplicacao", Name: "Aplicacao", Qty: 1, UnitPriceCents: 8000, IsService: true},
	))
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}
	if resp.Duplicate {
		t.Fatal("unexpected duplicate flag")
	}
	sale := resp.Sale
	if sale.SubtotalCents != 17000 {
		t.Fatalf("expected subtotal 17000, got %d", sale.SubtotalCents)
	}
	if sale.TotalCents != sale.SubtotalCents-sale.DiscountCents {
		t.Fatalf("total %d does not equal subtotal %d minus discount %d", sale.TotalCents, sale.SubtotalCents, sale.DiscountCents)
	}
	if sale.CashRegisterID != opened.Register.ID {
		t.Fatalf("expected sale linked to register %s, got %q", opened.Register.ID, sale.CashRegisterID)
	}
	if sale.Unreconciled {
		t.Fatal("expected reconciled sale when register is open")
	}

	stocks, err := repo.GetStockMap(context.Background(), []string{"prod-argola"})
	if err != nil {
		t.Fatalf("stock map: %v", err)
	}
	if stocks["prod-argola"] != 8 {
		t.Fatalf("expected stock 8 after sale, got %d", stocks["prod-argola"])
	}
}

func TestProcessSaleKeepsDifferentlyPricedLines(t *testing.T) {
	svc, repo := newTestService(t)

	// Same product twice, e.g. one unit at full price and one discounted at
	// the counter. Each line keeps its own price snapshot.
	resp, err := svc.ProcessSale(actorCtx(), cashRequest("idem-two-prices",
		domain.CartLine{ProductID: "prod-argola", Name: "Argola", Qty: 1, UnitPriceCents: 10000},
		domain.CartLine{ProductID: "prod-argola", Name: "Argola", Qty: 1, UnitPriceCents: 5000},
	))
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}
	if resp.Sale.SubtotalCents != 15000 {
		t.Fatalf("expected subtotal 15000, got %d", resp.Sale.SubtotalCents)
	}
	if len(resp.Sale.Items) != 2 {
		t.Fatalf("expected both lines preserved, got %+v", resp.Sale.Items)
	}

	stocks, err := repo.GetStockMap(context.Background(), []string{"prod-argola"})
	if err != nil {
		t.Fatalf("stock map: %v", err)
	}
	if stocks["prod-argola"] != 8 {
		t.Fatalf("expected both units decremented to 8, got %d", stocks["prod-argola"])
	}
}

func TestProcessSaleStockShortage(t *testing.T) {
	svc, repo := newTestService(t)

	_, err := svc.ProcessSale(actorCtx(), cashRequest("idem-short",
		domain.CartLine{ProductID: "prod-labret", Qty: 5, UnitPriceCents: 2500},
	))
	var stockErr *domain.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected StockError, got %v", err)
	}
	if stockErr.ProductID != "prod-labret" || stockErr.Available != 3 || stockErr.Requested != 5 {
		t.Fatalf("unexpected StockError fields: %+v", stockErr)
	}

	stocks, err := repo.GetStockMap(context.Background(), []string{"prod-labret"})
	if err != nil {
		t.Fatalf("stock map: %v", err)
	}
	if stocks["prod-labret"] != 3 {
		t.Fatalf("expected untouched stock 3, got %d", stocks["prod-labret"])
	}
}

func TestProcessSaleIdempotentReplay(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := actorCtx()

	req := cashRequest("idem-replay", domain.CartLine{ProductID: "prod-argola", Name: "Argola", Qty: 1, UnitPriceCents: 4500})
	first, err := svc.ProcessSale(ctx, req)
	if err != nil {
		t.Fatalf("first sale: %v", err)
	}
	second, err := svc.ProcessSale(ctx, req)
	if err != nil {
		t.Fatalf("replay sale: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("expected duplicate on replay")
	}
	if second.Sale.ID != first.Sale.ID {
		t.Fatalf("expected same sale returned, got %s and %s", first.Sale.ID, second.Sale.ID)
	}

	stocks, err := repo.GetStockMap(context.Background(), []string{"prod-argola"})
	if err != nil {
		t.Fatalf("stock map: %v", err)
	}
	if stocks["prod-argola"] != 9 {
		t.Fatalf("expected stock decremented once to 9, got %d", stocks["prod-argola"])
	}
}

// failingRepo fails CreateSale to exercise the compensating release path.
type failingRepo struct {
	store.Repository
}

func (f *failingRepo) CreateSale(_ context.Context, _ domain.Sale) (*domain.Sale, bool, error) {
	return nil, false, fmt.Errorf("connection reset")
}

func TestProcessSalePersistFailureReleasesStock(t *testing.T) {
	_, repo := newTestService(t)
	svc := New(&failingRepo{Repository: repo}, stock.NewLedger(repo), nil, nil, time.UTC, time.Hour)

	_, err := svc.ProcessSale(actorCtx(), cashRequest("idem-fail",
		domain.CartLine{ProductID: "prod-argola", Qty: 4, UnitPriceCents: 4500},
	))
	var persistErr *domain.PersistenceError
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}

	stocks, err := repo.GetStockMap(context.Background(), []string{"prod-argola"})
	if err != nil {
		t.Fatalf("stock map: %v", err)
	}
	if stocks["prod-argola"] != 10 {
		t.Fatalf("expected stock restored to 10, got %d", stocks["prod-argola"])
	}
}

func TestProcessSaleAppliesLoyaltyDiscount(t *testing.T) {
	svc, _ := newTestService(t)

	req := cashRequest("idem-loyal", domain.CartLine{ProductID: "prod-argola", Name: "Argola", Qty: 2, UnitPriceCents: 10000})
	req.ClientID = "cli-ana"
	req.Client = &domain.ClientProfile{Name: "Ana", Visits: 3}

	resp, err := svc.ProcessSale(actorCtx(), req)
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}
	if resp.Sale.DiscountCents != 3000 {
		t.Fatalf("expected 3000 discount on 20000 at 15%%, got %d", resp.Sale.DiscountCents)
	}
	if resp.Sale.TotalCents != 17000 {
		t.Fatalf("expected total 17000, got %d", resp.Sale.TotalCents)
	}
	if resp.Sale.DiscountReason != "cliente frequente" {
		t.Fatalf("unexpected discount reason %q", resp.Sale.DiscountReason)
	}
}

func TestProcessSaleDoesNotMutateClientProfile(t *testing.T) {
	svc, _ := newTestService(t)

	profile := &domain.ClientProfile{Name: "Ana", Visits: 3}
	req := cashRequest("idem-nomut", domain.CartLine{ProductID: "prod-argola", Name: "Argola", Qty: 1, UnitPriceCents: 4500})
	req.ClientID = "cli-ana"
	req.Client = profile

	if _, err := svc.ProcessSale(actorCtx(), req); err != nil {
		t.Fatalf("process sale: %v", err)
	}
	if profile.ID != "" {
		t.Fatalf("caller profile mutated: ID = %q", profile.ID)
	}
}

func TestProcessSaleWithoutRegisterIsUnreconciled(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.ProcessSale(actorCtx(), cashRequest("idem-noreg",
		domain.CartLine{ProductID: "prod-argola", Qty: 1, UnitPriceCents: 4500},
	))
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}
	if resp.Sale.CashRegisterID != "" || !resp.Sale.Unreconciled {
		t.Fatalf("expected unreconciled sale without register, got register=%q unreconciled=%t", resp.Sale.CashRegisterID, resp.Sale.Unreconciled)
	}
}

func TestProcessSaleCardValidation(t *testing.T) {
	svc, _ := newTestService(t)
	line := domain.CartLine{ProductID: "prod-argola", Qty: 1, UnitPriceCents: 4500}

	req := cashRequest("idem-card-1", line)
	req.PaymentMethod = "card"
	if _, err := svc.ProcessSale(actorCtx(), req); !errors.Is(err, domain.ErrMissingCardDetails) {
		t.Fatalf("expected ErrMissingCardDetails, got %v", err)
	}

	req = cashRequest("idem-card-2", line)
	req.PaymentMethod = "pix"
	req.Card = &domain.CardDetails{Type: "credit", Brand: "visa", ReceiptNumber: "123"}
	if _, err := svc.ProcessSale(actorCtx(), req); !errors.Is(err, domain.ErrUnexpectedCardDetails) {
		t.Fatalf("expected ErrUnexpectedCardDetails, got %v", err)
	}

	req = cashRequest("idem-card-3", line)
	req.PaymentMethod = "boleto"
	if _, err := svc.ProcessSale(actorCtx(), req); !errors.Is(err, domain.ErrUnsupportedPaymentMethod) {
		t.Fatalf("expected ErrUnsupportedPaymentMethod, got %v", err)
	}

	req = cashRequest("idem-card-4", line)
	req.PaymentMethod = "card"
	req.Card = &domain.CardDetails{Type: "debit", Brand: "mastercard", ReceiptNumber: "900123"}
	resp, err := svc.ProcessSale(actorCtx(), req)
	if err != nil {
		t.Fatalf("card sale: %v", err)
	}
	if resp.Sale.Payment.Method != domain.PaymentCard || resp.Sale.Payment.Card == nil {
		t.Fatalf("expected card payment recorded, got %+v", resp.Sale.Payment)
	}
}

func TestRegisterReconciliation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := actorCtx()

	opened, err := svc.OpenRegister(ctx, domain.OpenRegisterRequest{CashierName: "Ana", InitialAmountCents: 10000})
	if err != nil {
		t.Fatalf("open register: %v", err)
	}

	totals := []int64{8000, 9000, 8000}
	for i, total := range totals {
		_, err := svc.ProcessSale(ctx, cashRequest(fmt.Sprintf("idem-rec-%d", i),
			domain.CartLine{ProductID: "prod-argola", Name: "Argola", Qty: 1, UnitPriceCents: total},
		))
		if err != nil {
			t.Fatalf("cash sale %d: %v", i, err)
		}
	}

	closed, err := svc.CloseRegister(ctx, domain.CloseRegisterRequest{
		RegisterID:       opened.Register.ID,
		FinalAmountCents: 34000,
	})
	if err != nil {
		t.Fatalf("close register: %v", err)
	}
	if closed.Register.DifferenceCents == nil {
		t.Fatal("expected difference computed")
	}
	// 34000 - 10000 - 25000 = -1000, a drawer short of R$10.
	if *closed.Register.DifferenceCents != -1000 {
		t.Fatalf("expected difference -1000, got %d", *closed.Register.DifferenceCents)
	}
	if closed.Register.IsOpen {
		t.Fatal("expected register closed")
	}
}

func TestCardSalesExcludedFromCashCount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := actorCtx()

	opened, err := svc.OpenRegister(ctx, domain.OpenRegisterRequest{CashierName: "Ana", InitialAmountCents: 5000})
	if err != nil {
		t.Fatalf("open register: %v", err)
	}

	req := cashRequest("idem-cardonly", domain.CartLine{ProductID: "prod-argola", Name: "Argola", Qty: 1, UnitPriceCents: 9000})
	req.PaymentMethod = "card"
	req.Card = &domain.CardDetails{Type: "credit", Brand: "visa", ReceiptNumber: "777"}
	if _, err := svc.ProcessSale(ctx, req); err != nil {
		t.Fatalf("card sale: %v", err)
	}

	closed, err := svc.CloseRegister(ctx, domain.CloseRegisterRequest{
		RegisterID:       opened.Register.ID,
		FinalAmountCents: 5000,
	})
	if err != nil {
		t.Fatalf("close register: %v", err)
	}
	if *closed.Register.DifferenceCents != 0 {
		t.Fatalf("expected zero difference with no cash sales, got %d", *closed.Register.DifferenceCents)
	}
}

func TestOpenRegisterTwiceSameDay(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := actorCtx()

	if _, err := svc.OpenRegister(ctx, domain.OpenRegisterRequest{CashierName: "Ana", InitialAmountCents: 5000}); err != nil {
		t.Fatalf("first open: %v", err)
	}
	_, err := svc.OpenRegister(ctx, domain.OpenRegisterRequest{CashierName: "Ana", InitialAmountCents: 5000})
	if !errors.Is(err, domain.ErrRegisterAlreadyOpen) {
		t.Fatalf("expected ErrRegisterAlreadyOpen, got %v", err)
	}

	// A different cashier is unaffected.
	if _, err := svc.OpenRegister(ctx, domain.OpenRegisterRequest{CashierName: "Bruno", InitialAmountCents: 3000}); err != nil {
		t.Fatalf("other cashier open: %v", err)
	}
}

func TestCloseRegisterTwice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := actorCtx()

	opened, err := svc.OpenRegister(ctx, domain.OpenRegisterRequest{CashierName: "Ana", InitialAmountCents: 5000})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.CloseRegister(ctx, domain.CloseRegisterRequest{RegisterID: opened.Register.ID, FinalAmountCents: 5000}); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err = svc.CloseRegister(ctx, domain.CloseRegisterRequest{RegisterID: opened.Register.ID, FinalAmountCents: 5000})
	if !errors.Is(err, domain.ErrRegisterNotOpen) {
		t.Fatalf("expected ErrRegisterNotOpen, got %v", err)
	}
}

func TestCurrentRegister(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := actorCtx()

	if _, err := svc.CurrentRegister(ctx, "Ana"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before open, got %v", err)
	}

	opened, err := svc.OpenRegister(ctx, domain.OpenRegisterRequest{CashierName: "Ana", InitialAmountCents: 5000})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	current, err := svc.CurrentRegister(ctx, "Ana")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.Register.ID != opened.Register.ID || !current.Register.IsOpen {
		t.Fatalf("unexpected current register %+v", current.Register)
	}

	if _, err := svc.CloseRegister(ctx, domain.CloseRegisterRequest{RegisterID: opened.Register.ID, FinalAmountCents: 5000}); err != nil {
		t.Fatalf("close: %v", err)
	}
	current, err = svc.CurrentRegister(ctx, "Ana")
	if err != nil {
		t.Fatalf("current after close: %v", err)
	}
	if current.Register.IsOpen {
		t.Fatal("expected closed register returned as latest of the day")
	}
}

func TestRegisterSalesReport(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := actorCtx()

	opened, err := svc.OpenRegister(ctx, domain.OpenRegisterRequest{CashierName: "Ana", InitialAmountCents: 5000})
	if err != nil {
		t.Fatalf("open register: %v", err)
	}

	if _, err := svc.ProcessSale(ctx, cashRequest("idem-rep-cash",
		domain.CartLine{ProductID: "prod-argola", Name: "Argola", Qty: 1, UnitPriceCents: 6000},
	)); err != nil {
		t.Fatalf("cash sale: %v", err)
	}

	cardReq := cashRequest("idem-rep-card", domain.CartLine{ProductID: "prod-argola", Name: "Argola", Qty: 1, UnitPriceCents: 9000})
	cardReq.PaymentMethod = "card"
	cardReq.Card = &domain.CardDetails{Type: "credit", Brand: "visa", ReceiptNumber: "555"}
	if _, err := svc.ProcessSale(ctx, cardReq); err != nil {
		t.Fatalf("card sale: %v", err)
	}

	report, err := svc.RegisterSales(ctx, opened.Register.ID)
	if err != nil {
		t.Fatalf("register sales: %v", err)
	}
	if len(report.Sales) != 2 {
		t.Fatalf("expected 2 sales in report, got %d", len(report.Sales))
	}
	// Only the cash sale counts against the drawer.
	if report.CashTotalCents != 6000 {
		t.Fatalf("expected cash total 6000, got %d", report.CashTotalCents)
	}

	if _, err := svc.RegisterSales(ctx, "reg-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown register, got %v", err)
	}
}

func TestInventoryItemLookup(t *testing.T) {
	svc, _ := newTestService(t)

	item, err := svc.InventoryItem(context.Background(), "prod-labret")
	if err != nil {
		t.Fatalf("inventory item: %v", err)
	}
	if item.Stock != 3 || item.IsService {
		t.Fatalf("unexpected item %+v", item)
	}

	if _, err := svc.InventoryItem(context.Background(), "prod-ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupSaleByIdempotency(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := actorCtx()

	missing, err := svc.LookupSaleByIdempotency(ctx, "idem-none")
	if err != nil {
		t.Fatalf("lookup missing: %v", err)
	}
	if missing.Found {
		t.Fatal("expected not found")
	}

	created, err := svc.ProcessSale(ctx, cashRequest("idem-lookup",
		domain.CartLine{ProductID: "prod-argola", Qty: 1, UnitPriceCents: 4500},
	))
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}

	found, err := svc.LookupSaleByIdempotency(ctx, "idem-lookup")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !found.Found || found.Sale == nil || found.Sale.ID != created.Sale.ID {
		t.Fatalf("unexpected lookup result %+v", found)
	}
}

func TestProcessSaleWritesAuditLog(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := actorCtx()

	if _, err := svc.ProcessSale(ctx, cashRequest("idem-audit",
		domain.CartLine{ProductID: "prod-argola", Qty: 1, UnitPriceCents: 4500},
	)); err != nil {
		t.Fatalf("process sale: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, "", 50)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "sale_process" && entry.ActorID == "user-ana" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sale_process audit entry, got %+v", logs)
	}
}
