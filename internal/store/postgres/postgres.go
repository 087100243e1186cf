package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/domain"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/store"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/xid"
)

// Store is the PostgreSQL Repository. Expected tables: inventory_items,
// sales (unique index on idempotency_key), sale_items, cash_registers
// (partial unique index on (cashier_name, business_day) WHERE is_open),
// audit_logs.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetInventoryItem(ctx context.Context, productID string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, stock, is_service, threshold
		FROM inventory_items
		WHERE id = $1
	`, productID).Scan(&item.ID, &item.Name, &item.Stock, &item.IsService, &item.Threshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetStockMap(ctx context.Context, productIDs []string) (map[string]int, error) {
	stockMap := make(map[string]int, len(productIDs))
	if len(productIDs) == 0 {
		return stockMap, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stock
		FROM inventory_items
		WHERE id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var stock int
		if err := rows.Scan(&id, &stock); err != nil {
			return nil, err
		}
		stockMap[id] = stock
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range productIDs {
		if _, ok := stockMap[id]; !ok {
			stockMap[id] = 0
		}
	}

	return stockMap, nil
}

func (s *Store) UpsertInventoryItem(ctx context.Context, item domain.InventoryItem) error {
	if strings.TrimSpace(item.ID) == "" || item.Stock < 0 {
		return store.ErrInvalidSale
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (id, name, stock, is_service, threshold, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, stock = EXCLUDED.stock,
			is_service = EXCLUDED.is_service, threshold = EXCLUDED.threshold,
			updated_at = now()
	`, item.ID, item.Name, item.Stock, item.IsService, item.Threshold)
	return err
}

// DecrementStock runs every line's conditional update inside one
// transaction. The WHERE stock >= qty guard makes check-and-decrement a
// single atomic statement, so two terminals cannot both take the last unit.
// Read committed on purpose: the loser of a row-lock wait re-evaluates the
// guard and gets a clean StockError, where serializable would abort it with
// a serialization failure.
func (s *Store) DecrementStock(ctx context.Context, lines []domain.ReservationLine) ([]domain.ReservationLine, error) {
	if len(lines) == 0 {
		return nil, nil
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	applied := make([]domain.ReservationLine, 0, len(lines))
	for _, line := range lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidSale
		}

		res, err := pgTx.ExecContext(ctx, `
			UPDATE inventory_items
			SET stock = stock - $2, updated_at = now()
			WHERE id = $1 AND is_service = false AND stock >= $2
		`, line.ProductID, line.Qty)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 1 {
			applied = append(applied, line)
			continue
		}

		// The guard did not match: service item (no-op), missing row, or
		// insufficient stock. Distinguish before rolling back.
		var available int
		var isService bool
		err = pgTx.QueryRowContext(ctx, `
			SELECT stock, is_service FROM inventory_items WHERE id = $1
		`, line.ProductID).Scan(&available, &isService)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.StockError{ProductID: line.ProductID, Available: 0, Requested: line.Qty}
		}
		if err != nil {
			return nil, err
		}
		if isService {
			continue
		}
		return nil, &domain.StockError{ProductID: line.ProductID, Available: available, Requested: line.Qty}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Store) RestoreStock(ctx context.Context, lines []domain.ReservationLine) error {
	if len(lines) == 0 {
		return nil
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	for _, line := range lines {
		if line.Qty < 1 {
			continue
		}
		_, err := pgTx.ExecContext(ctx, `
			UPDATE inventory_items
			SET stock = stock + $2, updated_at = now()
			WHERE id = $1
		`, line.ProductID, line.Qty)
		if err != nil {
			return err
		}
	}

	return pgTx.Commit()
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, bool, error) {
	if sale.IdempotencyKey == "" || len(sale.Items) == 0 {
		return nil, false, store.ErrInvalidSale
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var cardType, cardBrand, receiptNumber any
	if sale.Payment.Card != nil {
		cardType = sale.Payment.Card.Type
		cardBrand = sale.Payment.Card.Brand
		receiptNumber = sale.Payment.Card.ReceiptNumber
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, idempotency_key, subtotal_cents, discount_cents, discount_reason,
			total_cents, payment_method, card_type, card_brand, receipt_number,
			cash_register_id, unreconciled, actor_id, client_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, sale.ID, sale.IdempotencyKey, sale.SubtotalCents, sale.DiscountCents,
		nullIfEmpty(sale.DiscountReason), sale.TotalCents, string(sale.Payment.Method),
		cardType, cardBrand, receiptNumber, nullIfEmpty(sale.CashRegisterID),
		sale.Unreconciled, sale.ActorID, nullIfEmpty(sale.ClientID), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.FindSaleByIdempotencyKey(ctx, sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, true, nil
			}
		}
		return nil, false, err
	}

	for _, item := range sale.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, name, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, item.ProductID, item.Name, item.Qty, item.UnitPriceCents)
		if err != nil {
			return nil, false, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, false, err
	}

	return &sale, false, nil
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, "id", id)
}

func (s *Store) FindSaleByIdempotencyKey(ctx context.Context, key string) (*domain.Sale, error) {
	return s.findSale(ctx, "idempotency_key", key)
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.Sale, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, store.ErrInvalidSale
	}

	query := `
		SELECT id, idempotency_key, subtotal_cents, discount_cents,
			COALESCE(discount_reason,''), total_cents, payment_method,
			card_type, card_brand, receipt_number,
			COALESCE(cash_register_id,''), unreconciled, actor_id,
			COALESCE(client_id,''), created_at
		FROM sales
		WHERE ` + column + ` = $1
	`

	sale, err := scanSale(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		return nil, err
	}

	items, err := s.loadSaleItems(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return sale, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var method string
	var cardType, cardBrand, receiptNumber sql.NullString

	err := row.Scan(
		&sale.ID,
		&sale.IdempotencyKey,
		&sale.SubtotalCents,
		&sale.DiscountCents,
		&sale.DiscountReason,
		&sale.TotalCents,
		&method,
		&cardType,
		&cardBrand,
		&receiptNumber,
		&sale.CashRegisterID,
		&sale.Unreconciled,
		&sale.ActorID,
		&sale.ClientID,
		&sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	sale.Payment.Method = domain.PaymentMethod(method)
	if cardType.Valid {
		sale.Payment.Card = &domain.CardDetails{
			Type:          cardType.String,
			Brand:         cardBrand.String,
			ReceiptNumber: receiptNumber.String,
		}
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func (s *Store) loadSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, name, qty, unit_price_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Qty, &item.UnitPriceCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListRegisterSales(ctx context.Context, registerID string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, idempotency_key, subtotal_cents, discount_cents,
			COALESCE(discount_reason,''), total_cents, payment_method,
			card_type, card_brand, receipt_number,
			COALESCE(cash_register_id,''), unreconciled, actor_id,
			COALESCE(client_id,''), created_at
		FROM sales
		WHERE cash_register_id = $1
		ORDER BY created_at ASC
	`, registerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		items, err := s.loadSaleItems(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Items = items
	}
	return sales, nil
}

// OpenRegister relies on both an in-transaction existence check and the
// partial unique index on (cashier_name, business_day) WHERE is_open, so
// concurrent opens for the same cashier cannot both succeed.
func (s *Store) OpenRegister(ctx context.Context, reg domain.CashRegister, dayStart, dayEnd time.Time) (*domain.CashRegister, error) {
	if strings.TrimSpace(reg.CashierName) == "" || reg.InitialAmountCents < 0 {
		return nil, store.ErrInvalidSale
	}
	if reg.ID == "" {
		reg.ID = xid.New("reg")
	}
	if reg.OpenedAt.IsZero() {
		reg.OpenedAt = time.Now().UTC()
	}
	reg.IsOpen = true

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var existingID string
	err = pgTx.QueryRowContext(ctx, `
		SELECT id
		FROM cash_registers
		WHERE cashier_name = $1 AND is_open = true
			AND opened_at >= $2 AND opened_at < $3
		FOR UPDATE
	`, reg.CashierName, dayStart, dayEnd).Scan(&existingID)
	if err == nil {
		return nil, domain.ErrRegisterAlreadyOpen
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO cash_registers (
			id, cashier_name, initial_amount_cents, notes,
			opened_at, business_day, is_open
		)
		VALUES ($1,$2,$3,$4,$5,$6,true)
	`, reg.ID, reg.CashierName, reg.InitialAmountCents, strings.TrimSpace(reg.Notes),
		reg.OpenedAt, dayStart.Format("2006-01-02"))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrRegisterAlreadyOpen
		}
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	saved := reg
	return &saved, nil
}

func (s *Store) CloseRegister(ctx context.Context, registerID string, finalAmountCents int64, notes string, closedAt time.Time) (*domain.CashRegister, error) {
	if finalAmountCents < 0 {
		return nil, store.ErrInvalidSale
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var reg domain.CashRegister
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, cashier_name, initial_amount_cents, COALESCE(notes,''), opened_at, is_open
		FROM cash_registers
		WHERE id = $1
		FOR UPDATE
	`, registerID).Scan(&reg.ID, &reg.CashierName, &reg.InitialAmountCents, &reg.Notes, &reg.OpenedAt, &reg.IsOpen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !reg.IsOpen {
		return nil, domain.ErrRegisterNotOpen
	}

	var cashSales int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_cents), 0)
		FROM sales
		WHERE cash_register_id = $1 AND payment_method = 'cash'
	`, registerID).Scan(&cashSales)
	if err != nil {
		return nil, err
	}

	difference := finalAmountCents - reg.InitialAmountCents - cashSales
	if strings.TrimSpace(notes) != "" {
		reg.Notes = strings.TrimSpace(notes)
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE cash_registers
		SET final_amount_cents = $2, difference_cents = $3, notes = $4,
			closed_at = $5, is_open = false
		WHERE id = $1
	`, registerID, finalAmountCents, difference, reg.Notes, closedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	reg.FinalAmountCents = &finalAmountCents
	reg.DifferenceCents = &difference
	reg.ClosedAt = &closedAt
	reg.IsOpen = false
	reg.OpenedAt = reg.OpenedAt.UTC()
	return &reg, nil
}

func (s *Store) FindRegisterByID(ctx context.Context, id string) (*domain.CashRegister, error) {
	return s.findRegister(ctx, `WHERE id = $1`, id)
}

func (s *Store) CurrentRegister(ctx context.Context, cashier string, dayStart, dayEnd time.Time) (*domain.CashRegister, error) {
	return s.findRegister(ctx, `
		WHERE cashier_name = $1 AND opened_at >= $2 AND opened_at < $3
		ORDER BY opened_at DESC
		LIMIT 1
	`, cashier, dayStart, dayEnd)
}

func (s *Store) findRegister(ctx context.Context, clause string, args ...any) (*domain.CashRegister, error) {
	var reg domain.CashRegister
	var finalAmount, difference sql.NullInt64
	var closedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, cashier_name, initial_amount_cents, final_amount_cents,
			difference_cents, COALESCE(notes,''), opened_at, closed_at, is_open
		FROM cash_registers
	`+clause, args...).Scan(
		&reg.ID,
		&reg.CashierName,
		&reg.InitialAmountCents,
		&finalAmount,
		&difference,
		&reg.Notes,
		&reg.OpenedAt,
		&closedAt,
		&reg.IsOpen,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if finalAmount.Valid {
		reg.FinalAmountCents = &finalAmount.Int64
	}
	if difference.Valid {
		reg.DifferenceCents = &difference.Int64
	}
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		reg.ClosedAt = &at
	}
	reg.OpenedAt = reg.OpenedAt.UTC()
	return &reg, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
