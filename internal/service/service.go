package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/cache"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/domain"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/loyalty"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/metrics"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/stock"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/store"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo           store.Repository
	ledger         *stock.Ledger
	loyalty        *loyalty.Engine
	saleCache      cache.SaleCache
	loc            *time.Location
	idempotencyTTL time.Duration
}

func New(repo store.Repository, ledger *stock.Ledger, engine *loyalty.Engine, saleCache cache.SaleCache, loc *time.Location, idempotencyTTL time.Duration) *Service {
	if saleCache == nil {
		saleCache = cache.NoopSaleCache{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if idempotencyTTL < time.Second {
		idempotencyTTL = 24 * time.Hour
	}

	return &Service{
		repo:           repo,
		ledger:         ledger,
		loyalty:        engine,
		saleCache:      saleCache,
		loc:            loc,
		idempotencyTTL: idempotencyTTL,
	}
}

// dayBounds returns the [start, end) window of the business day containing t
// in the configured timezone.
func (s *Service) dayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(s.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	return start, start.Add(24 * time.Hour)
}

func (s *Service) OpenRegister(ctx context.Context, req domain.OpenRegisterRequest) (domain.RegisterResponse, error) {
	req.CashierName = strings.TrimSpace(req.CashierName)
	if req.CashierName == "" || req.InitialAmountCents < 0 {
		return domain.RegisterResponse{}, store.ErrInvalidSale
	}

	now := time.Now().UTC()
	dayStart, dayEnd := s.dayBounds(now)

	reg := domain.CashRegister{
		ID:                 xid.New("reg"),
		CashierName:        req.CashierName,
		InitialAmountCents: req.InitialAmountCents,
		Notes:              strings.TrimSpace(req.Notes),
		OpenedAt:           now,
		IsOpen:             true,
	}
	saved, err := s.repo.OpenRegister(ctx, reg, dayStart, dayEnd)
	if err != nil {
		return domain.RegisterResponse{}, err
	}

	metrics.RegisterOpened()
	s.logAudit(ctx, "register_open", "cash_register", saved.ID, fmt.Sprintf("cashier=%s,initial=%d", saved.CashierName, saved.InitialAmountCents))

	return domain.RegisterResponse{Register: *saved}, nil
}

func (s *Service) CloseRegister(ctx context.Context, req domain.CloseRegisterRequest) (domain.RegisterResponse, error) {
	req.RegisterID = strings.TrimSpace(req.RegisterID)
	if req.RegisterID == "" || req.FinalAmountCents < 0 {
		return domain.RegisterResponse{}, store.ErrInvalidSale
	}

	closed, err := s.repo.CloseRegister(ctx, req.RegisterID, req.FinalAmountCents, strings.TrimSpace(req.Notes), time.Now().UTC())
	if err != nil {
		return domain.RegisterResponse{}, err
	}

	metrics.RegisterClosed()
	difference := int64(0)
	if closed.DifferenceCents != nil {
		difference = *closed.DifferenceCents
	}
	s.logAudit(ctx, "register_close", "cash_register", closed.ID, fmt.Sprintf("final=%d,difference=%d", req.FinalAmountCents, difference))

	return domain.RegisterResponse{Register: *closed}, nil
}

func (s *Service) CurrentRegister(ctx context.Context, cashierName string) (domain.RegisterResponse, error) {
	cashierName = strings.TrimSpace(cashierName)
	if cashierName == "" {
		return domain.RegisterResponse{}, store.ErrInvalidSale
	}

	dayStart, dayEnd := s.dayBounds(time.Now().UTC())
	reg, err := s.repo.CurrentRegister(ctx, cashierName, dayStart, dayEnd)
	if err != nil {
		return domain.RegisterResponse{}, err
	}
	return domain.RegisterResponse{Register: *reg}, nil
}

// ProcessSale runs a checkout end to end: validate, dedupe, discount,
// reserve, persist. The reservation is the only step with side effects
// before the sale row lands, so any later failure releases it.
func (s *Service) ProcessSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	normalized := normalizeCart(req.Items)
	if len(normalized) == 0 {
		return domain.SaleResponse{}, domain.ErrEmptyCart
	}

	payment, err := domain.NewPayment(req.PaymentMethod, req.Card)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	if existing, found := s.lookupDuplicate(ctx, req.IdempotencyKey); found {
		return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
	}

	subtotal := int64(0)
	for _, line := range normalized {
		subtotal += int64(line.Qty) * line.UnitPriceCents
	}

	now := time.Now().UTC()
	discountCents := int64(0)
	discountReason := ""
	if s.loyalty != nil {
		client := req.Client
		if client != nil && client.ID == "" {
			// Patch the ID on a copy; req.Client belongs to the caller.
			patched := *client
			patched.ID = req.ClientID
			client = &patched
		}
		if d := s.loyalty.ComputeDiscount(client, subtotal, now); d != nil {
			discountCents = d.AmountCents
			discountReason = d.Reason
			metrics.DiscountApplied(d.Reason)
		}
	}

	registerID, unreconciled := s.resolveRegister(ctx, req, payment.Method, now)

	reservation, err := s.ledger.Reserve(ctx, normalized)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	actor, _ := ActorFromContext(ctx)
	items := make([]domain.SaleItem, 0, len(normalized))
	for _, line := range normalized {
		items = append(items, domain.SaleItem{
			ProductID:      line.ProductID,
			Name:           line.Name,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
		})
	}

	sale := domain.Sale{
		ID:             xid.New("sale"),
		IdempotencyKey: req.IdempotencyKey,
		SubtotalCents:  subtotal,
		DiscountCents:  discountCents,
		DiscountReason: discountReason,
		TotalCents:     subtotal - discountCents,
		Payment:        payment,
		CashRegisterID: registerID,
		Unreconciled:   unreconciled,
		ActorID:        actor.ID,
		ClientID:       req.ClientID,
		CreatedAt:      now,
		Items:          items,
	}

	created, duplicate, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		if releaseErr := s.ledger.Release(ctx, reservation); releaseErr != nil {
			log.Printf("[service] WARN: compensating release failed for key=%s: %v", req.IdempotencyKey, releaseErr)
		}
		return domain.SaleResponse{}, &domain.PersistenceError{Op: "create sale", Err: err}
	}
	if duplicate {
		// A concurrent submission with the same key won the insert. The
		// fresh reservation double-counted the stock, so give it back.
		if releaseErr := s.ledger.Release(ctx, reservation); releaseErr != nil {
			log.Printf("[service] WARN: duplicate release failed for key=%s: %v", req.IdempotencyKey, releaseErr)
		}
		return domain.SaleResponse{Sale: *created, Duplicate: true}, nil
	}

	metrics.SaleProcessed(string(payment.Method))
	s.logAudit(ctx, "sale_process", "sale", created.ID, fmt.Sprintf("total=%d,payment=%s,discount=%d,register=%s", created.TotalCents, payment.Method, created.DiscountCents, registerID))

	if err := s.saleCache.Set(ctx, created.IdempotencyKey, created, s.idempotencyTTL); err != nil {
		log.Printf("[service] WARN: failed to cache sale key=%s: %v", created.IdempotencyKey, err)
	}

	return domain.SaleResponse{Sale: *created, Duplicate: false}, nil
}

// lookupDuplicate checks the cache first and falls back to the repository.
// Cache failures degrade to a repo lookup rather than failing the sale.
func (s *Service) lookupDuplicate(ctx context.Context, idempotencyKey string) (*domain.Sale, bool) {
	cached, found, err := s.saleCache.Get(ctx, idempotencyKey)
	if err != nil {
		log.Printf("[service] WARN: sale cache lookup failed key=%s: %v", idempotencyKey, err)
	}
	if found {
		return cached, true
	}

	existing, err := s.repo.FindSaleByIdempotencyKey(ctx, idempotencyKey)
	if err == nil {
		return existing, true
	}
	if !errors.Is(err, store.ErrNotFound) {
		log.Printf("[service] WARN: idempotency lookup failed key=%s: %v", idempotencyKey, err)
	}
	return nil, false
}

// resolveRegister links the sale to an open register. A missing register
// does not block the sale; it is persisted unreconciled and excluded from
// that register's cash count.
func (s *Service) resolveRegister(ctx context.Context, req domain.SaleRequest, method domain.PaymentMethod, now time.Time) (string, bool) {
	if req.RegisterID != "" {
		reg, err := s.repo.FindRegisterByID(ctx, req.RegisterID)
		if err == nil && reg.IsOpen {
			return reg.ID, false
		}
	}

	cashier := strings.TrimSpace(req.CashierName)
	if cashier != "" {
		dayStart, dayEnd := s.dayBounds(now)
		reg, err := s.repo.CurrentRegister(ctx, cashier, dayStart, dayEnd)
		if err == nil && reg.IsOpen {
			return reg.ID, false
		}
	}

	if method == domain.PaymentCash {
		log.Printf("[service] WARN: cash sale without open register cashier=%q", cashier)
	}
	return "", true
}

func (s *Service) InventoryItem(ctx context.Context, productID string) (domain.InventoryItem, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.InventoryItem{}, store.ErrInvalidSale
	}
	item, err := s.repo.GetInventoryItem(ctx, productID)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	return *item, nil
}

// RegisterSales returns the reconciliation report for a register: every
// linked sale and the cash total counted against the drawer.
func (s *Service) RegisterSales(ctx context.Context, registerID string) (domain.RegisterSalesResponse, error) {
	registerID = strings.TrimSpace(registerID)
	if registerID == "" {
		return domain.RegisterSalesResponse{}, store.ErrInvalidSale
	}

	reg, err := s.repo.FindRegisterByID(ctx, registerID)
	if err != nil {
		return domain.RegisterSalesResponse{}, err
	}
	sales, err := s.repo.ListRegisterSales(ctx, registerID)
	if err != nil {
		return domain.RegisterSalesResponse{}, err
	}

	cashTotal := int64(0)
	for _, sale := range sales {
		if sale.Payment.Method == domain.PaymentCash {
			cashTotal += sale.TotalCents
		}
	}

	return domain.RegisterSalesResponse{
		Register:       *reg,
		Sales:          sales,
		CashTotalCents: cashTotal,
	}, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, store.ErrInvalidSale
	}
	sale, err := s.repo.FindSaleByID(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) LookupSaleByIdempotency(ctx context.Context, idempotencyKey string) (domain.SaleLookupResponse, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return domain.SaleLookupResponse{}, store.ErrInvalidSale
	}

	sale, err := s.repo.FindSaleByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleLookupResponse{Found: false}, nil
		}
		return domain.SaleLookupResponse{}, err
	}
	return domain.SaleLookupResponse{Found: true, Sale: sale}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from, _ = s.dayBounds(time.Now().UTC())
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", date, s.loc)
		if err != nil {
			return nil, store.ErrInvalidSale
		}
		from = parsed
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

type cartLineKey struct {
	productID      string
	unitPriceCents int64
}

// normalizeCart drops unusable lines and merges repeats. Unit price is a
// per-line snapshot, so two lines for the same product merge only when
// their prices match; differently priced lines stay distinct.
func normalizeCart(items []domain.CartLine) []domain.CartLine {
	normalized := make([]domain.CartLine, 0, len(items))
	seen := make(map[cartLineKey]int, len(items))
	for _, line := range items {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" || line.Qty < 1 || line.UnitPriceCents < 0 {
			continue
		}
		key := cartLineKey{productID: line.ProductID, unitPriceCents: line.UnitPriceCents}
		if idx, ok := seen[key]; ok {
			normalized[idx].Qty += line.Qty
			continue
		}
		seen[key] = len(normalized)
		normalized = append(normalized, line)
	}
	return normalized
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{ID: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
