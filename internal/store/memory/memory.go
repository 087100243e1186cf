package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/domain"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/store"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/xid"
)

// Store is the in-memory Repository used for dev/demo mode and tests. A
// single mutex serializes all mutations, which makes DecrementStock and
// OpenRegister trivially atomic.
type Store struct {
	mu             sync.RWMutex
	inventory      map[string]domain.InventoryItem
	salesByID      map[string]*domain.Sale
	salesByIdemKey map[string]*domain.Sale
	registersByID  map[string]domain.CashRegister
	registerOrder  []string
	auditLogs      []domain.AuditLog
}

func New() *Store {
	return &Store{
		inventory:      make(map[string]domain.InventoryItem),
		salesByID:      make(map[string]*domain.Sale),
		salesByIdemKey: make(map[string]*domain.Sale),
		registersByID:  make(map[string]domain.CashRegister),
		auditLogs:      make([]domain.AuditLog, 0, 128),
	}
}

// NewSeeded returns a store preloaded with studio inventory: physical
// jewelry/aftercare items plus application services that never decrement.
func NewSeeded() *Store {
	s := New()
	for _, item := range []domain.InventoryItem{
		{ID: "prod-argola-titanio", Name: "Argola Titânio 8mm", Stock: 40, Threshold: 10},
		{ID: "prod-labret-aco", Name: "Labret Aço Cirúrgico", Stock: 60, Threshold: 15},
		{ID: "prod-barbell-16g", Name: "Barbell 16g", Stock: 35, Threshold: 8},
		{ID: "prod-piercing-nostril", Name: "Piercing Nostril Zircônia", Stock: 25, Threshold: 6},
		{ID: "prod-soro-aftercare", Name: "Solução Salina Aftercare", Stock: 80, Threshold: 20},
		{ID: "prod-pomada-cicatriz", Name: "Pomada Cicatrizante", Stock: 50, Threshold: 12},
		{ID: "svc-aplicacao-orelha", Name: "Aplicação Lóbulo", IsService: true},
		{ID: "svc-aplicacao-cartilagem", Name: "Aplicação Cartilagem", IsService: true},
		{ID: "svc-troca-joia", Name: "Troca de Joia", IsService: true},
	} {
		s.inventory[item.ID] = item
	}
	return s
}

func (s *Store) GetInventoryItem(_ context.Context, productID string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.inventory[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (s *Store) GetStockMap(_ context.Context, productIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stockMap := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		stockMap[id] = s.inventory[id].Stock
	}
	return stockMap, nil
}

func (s *Store) UpsertInventoryItem(_ context.Context, item domain.InventoryItem) error {
	if strings.TrimSpace(item.ID) == "" || item.Stock < 0 {
		return store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[item.ID] = item
	return nil
}

func (s *Store) DecrementStock(_ context.Context, lines []domain.ReservationLine) ([]domain.ReservationLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check every line before touching anything so a late failure cannot
	// leave a partial decrement.
	applicable := make([]domain.ReservationLine, 0, len(lines))
	for _, line := range lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidSale
		}
		item, exists := s.inventory[line.ProductID]
		if !exists {
			return nil, &domain.StockError{ProductID: line.ProductID, Available: 0, Requested: line.Qty}
		}
		if item.IsService {
			continue
		}
		if item.Stock < line.Qty {
			return nil, &domain.StockError{ProductID: line.ProductID, Available: item.Stock, Requested: line.Qty}
		}
		applicable = append(applicable, line)
	}

	for _, line := range applicable {
		item := s.inventory[line.ProductID]
		item.Stock -= line.Qty
		s.inventory[line.ProductID] = item
	}
	return applicable, nil
}

func (s *Store) RestoreStock(_ context.Context, lines []domain.ReservationLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range lines {
		item, exists := s.inventory[line.ProductID]
		if !exists {
			continue
		}
		item.Stock += line.Qty
		s.inventory[line.ProductID] = item
	}
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, bool, error) {
	if sale.IdempotencyKey == "" || len(sale.Items) == 0 {
		return nil, false, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.salesByIdemKey[sale.IdempotencyKey]; exists {
		copySale := *existing
		return &copySale, true, nil
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	stored := sale
	stored.Items = slices.Clone(sale.Items)
	s.salesByID[stored.ID] = &stored
	s.salesByIdemKey[stored.IdempotencyKey] = &stored

	copySale := stored
	return &copySale, false, nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := *sale
	copySale.Items = slices.Clone(sale.Items)
	return &copySale, nil
}

func (s *Store) FindSaleByIdempotencyKey(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByIdemKey[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := *sale
	copySale.Items = slices.Clone(sale.Items)
	return &copySale, nil
}

func (s *Store) ListRegisterSales(_ context.Context, registerID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 16)
	for _, sale := range s.salesByID {
		if sale.CashRegisterID != registerID {
			continue
		}
		copySale := *sale
		copySale.Items = slices.Clone(sale.Items)
		sales = append(sales, copySale)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return sales, nil
}

func (s *Store) OpenRegister(_ context.Context, reg domain.CashRegister, dayStart, dayEnd time.Time) (*domain.CashRegister, error) {
	if strings.TrimSpace(reg.CashierName) == "" || reg.InitialAmountCents < 0 {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.registersByID {
		if !existing.IsOpen || existing.CashierName != reg.CashierName {
			continue
		}
		if !existing.OpenedAt.Before(dayStart) && existing.OpenedAt.Before(dayEnd) {
			return nil, domain.ErrRegisterAlreadyOpen
		}
	}

	if reg.ID == "" {
		reg.ID = xid.New("reg")
	}
	if reg.OpenedAt.IsZero() {
		reg.OpenedAt = time.Now().UTC()
	}
	reg.IsOpen = true
	reg.FinalAmountCents = nil
	reg.DifferenceCents = nil
	reg.ClosedAt = nil

	s.registersByID[reg.ID] = reg
	s.registerOrder = append(s.registerOrder, reg.ID)
	saved := reg
	return &saved, nil
}

func (s *Store) CloseRegister(_ context.Context, registerID string, finalAmountCents int64, notes string, closedAt time.Time) (*domain.CashRegister, error) {
	if finalAmountCents < 0 {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, exists := s.registersByID[registerID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !reg.IsOpen {
		return nil, domain.ErrRegisterNotOpen
	}

	cashSales := int64(0)
	for _, sale := range s.salesByID {
		if sale.CashRegisterID == registerID && sale.Payment.Method == domain.PaymentCash {
			cashSales += sale.TotalCents
		}
	}

	difference := finalAmountCents - reg.InitialAmountCents - cashSales
	reg.FinalAmountCents = &finalAmountCents
	reg.DifferenceCents = &difference
	if strings.TrimSpace(notes) != "" {
		reg.Notes = strings.TrimSpace(notes)
	}
	reg.ClosedAt = &closedAt
	reg.IsOpen = false

	s.registersByID[registerID] = reg
	saved := reg
	return &saved, nil
}

func (s *Store) FindRegisterByID(_ context.Context, id string) (*domain.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, exists := s.registersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyReg := reg
	return &copyReg, nil
}

func (s *Store) CurrentRegister(_ context.Context, cashier string, dayStart, dayEnd time.Time) (*domain.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Walk newest-first so a reopened day returns the latest register.
	for i := len(s.registerOrder) - 1; i >= 0; i-- {
		reg, exists := s.registersByID[s.registerOrder[i]]
		if !exists || reg.CashierName != cashier {
			continue
		}
		if !reg.OpenedAt.Before(dayStart) && reg.OpenedAt.Before(dayEnd) {
			copyReg := reg
			return &copyReg, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}
