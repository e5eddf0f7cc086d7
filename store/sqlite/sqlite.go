/*
Package sqlite provides a SQLite-backed implementation of pos.TxStore.

PURPOSE:
  Persists the product catalog, inventory records, sales and the
  accounting ledger. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements exist for accounting_entries
  - No UPDATE or DELETE statements exist for stock_movements
  - sales has exactly one UPDATE: the completed -> refunded transition,
    guarded by a status predicate and a rows-affected check

KEY TABLES:
  products:           catalog (price/cost/tax as decimal TEXT)
  inventory:          per-product quantity with a version column for
                      optimistic locking and a CHECK (quantity >= 0)
  stock_movements:    attributed audit trail of every quantity change
  sales:              sale records; line items and payments as JSON
  accounting_entries: immutable financial ledger

CONCURRENCY:
  Uses sync.Mutex around transactions; SQLite allows a single writer at
  a time anyway. The inventory version column still guards against
  lost updates from reads taken outside the transaction.

WAL MODE:
  Opened with WAL (Write-Ahead Logging): readers don't block, single
  writer, better crash recovery.

USAGE:
  st, err := sqlite.New("./data/pos.db")   // ":memory:" for tests
  engine := pos.NewEngine(st)
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/pos-engine/pos"
)

// Store implements pos.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		sku TEXT NOT NULL UNIQUE,
		category TEXT,
		price TEXT NOT NULL,
		cost TEXT NOT NULL,
		tax_rate TEXT NOT NULL DEFAULT '0',
		barcode TEXT,
		image_url TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS inventory (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL UNIQUE REFERENCES products(id),
		quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		location TEXT,
		low_stock_threshold INTEGER NOT NULL DEFAULT 0,
		last_restocked TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_inventory_product
		ON inventory(product_id);

	-- Attributed audit trail of every inventory mutation (append-only)
	CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		cause TEXT NOT NULL,
		reference TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_record
		ON stock_movements(record_id, recorded_at);

	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		items_json TEXT NOT NULL,
		payments_json TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		tax TEXT NOT NULL,
		total TEXT NOT NULL,
		change_due TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		customer_id TEXT,
		notes TEXT,
		status TEXT NOT NULL DEFAULT 'completed',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_created_at
		ON sales(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sales_employee
		ON sales(employee_id);

	-- Immutable financial ledger (append-only)
	CREATE TABLE IF NOT EXISTS accounting_entries (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL,
		reference TEXT NOT NULL,
		category TEXT NOT NULL,
		recorded_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_date
		ON accounting_entries(date DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_type
		ON accounting_entries(type);
	CREATE INDEX IF NOT EXISTS idx_entries_category
		ON accounting_entries(category);
	CREATE INDEX IF NOT EXISTS idx_entries_reference
		ON accounting_entries(reference);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", pos.ErrStorageFailure, op, err)
}

// =============================================================================
// CATALOG
// =============================================================================

const productColumns = `id, name, description, sku, category, price, cost, tax_rate,
	barcode, image_url, is_active, created_at, updated_at`

func (s *Store) GetProduct(ctx context.Context, id pos.ProductID) (pos.Product, error) {
	return getProduct(ctx, s.db, id)
}

func getProduct(ctx context.Context, db dbtx, id pos.ProductID) (pos.Product, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	return scanProduct(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (pos.Product, error) {
	var (
		p                     pos.Product
		description, category sql.NullString
		barcode, imageURL     sql.NullString
		price, cost, taxRate  string
		createdAt, updatedAt  string
	)
	err := row.Scan(&p.ID, &p.Name, &description, &p.SKU, &category,
		&price, &cost, &taxRate, &barcode, &imageURL, &p.IsActive,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return pos.Product{}, pos.ErrNotFound
	}
	if err != nil {
		return pos.Product{}, storageErr("scan product", err)
	}
	p.Description = description.String
	p.Category = category.String
	p.Barcode = barcode.String
	p.ImageURL = imageURL.String
	if p.Price, err = parseDecimal(price); err != nil {
		return pos.Product{}, err
	}
	if p.Cost, err = parseDecimal(cost); err != nil {
		return pos.Product{}, err
	}
	if p.TaxRate, err = parseDecimal(taxRate); err != nil {
		return pos.Product{}, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func (s *Store) InsertProduct(ctx context.Context, p pos.Product) error {
	return insertProduct(ctx, s.db, p)
}

func insertProduct(ctx context.Context, db dbtx, p pos.Product) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO products
		(id, name, description, sku, category, price, cost, tax_rate,
		 barcode, image_url, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.SKU, p.Category,
		p.Price.String(), p.Cost.String(), p.TaxRate.String(),
		p.Barcode, p.ImageURL, p.IsActive,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return &pos.ValidationError{Field: "sku", Message: "sku already exists"}
		}
		return storageErr("insert product", err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]pos.Product, error) {
	return listProducts(ctx, s.db)
}

func listProducts(ctx context.Context, db dbtx) ([]pos.Product, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY created_at DESC`)
	if err != nil {
		return nil, storageErr("list products", err)
	}
	defer rows.Close()

	var out []pos.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// INVENTORY
// =============================================================================

const inventoryColumns = `id, product_id, quantity, location, low_stock_threshold,
	last_restocked, version, created_at, updated_at`

func (s *Store) GetInventoryByProduct(ctx context.Context, productID pos.ProductID) (pos.InventoryRecord, error) {
	return getInventoryByProduct(ctx, s.db, productID)
}

func getInventoryByProduct(ctx context.Context, db dbtx, productID pos.ProductID) (pos.InventoryRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+inventoryColumns+` FROM inventory WHERE product_id = ?`, productID)
	return scanInventory(row)
}

func (s *Store) GetInventoryRecord(ctx context.Context, id pos.RecordID) (pos.InventoryRecord, error) {
	return getInventoryRecord(ctx, s.db, id)
}

func getInventoryRecord(ctx context.Context, db dbtx, id pos.RecordID) (pos.InventoryRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+inventoryColumns+` FROM inventory WHERE id = ?`, id)
	return scanInventory(row)
}

func scanInventory(row rowScanner) (pos.InventoryRecord, error) {
	var (
		rec                  pos.InventoryRecord
		location             sql.NullString
		lastRestocked        sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&rec.ID, &rec.ProductID, &rec.Quantity, &location,
		&rec.LowStockThreshold, &lastRestocked, &rec.Version,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return pos.InventoryRecord{}, pos.ErrNotFound
	}
	if err != nil {
		return pos.InventoryRecord{}, storageErr("scan inventory", err)
	}
	rec.Location = location.String
	if lastRestocked.Valid {
		rec.LastRestocked = parseTime(lastRestocked.String)
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}

func (s *Store) ListInventory(ctx context.Context) ([]pos.InventoryRecord, error) {
	return listInventory(ctx, s.db)
}

func listInventory(ctx context.Context, db dbtx) ([]pos.InventoryRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+inventoryColumns+` FROM inventory ORDER BY quantity ASC`)
	if err != nil {
		return nil, storageErr("list inventory", err)
	}
	defer rows.Close()

	var out []pos.InventoryRecord
	for rows.Next() {
		rec, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) InsertInventoryRecord(ctx context.Context, rec pos.InventoryRecord) error {
	return insertInventoryRecord(ctx, s.db, rec)
}

func insertInventoryRecord(ctx context.Context, db dbtx, rec pos.InventoryRecord) error {
	var lastRestocked any
	if !rec.LastRestocked.IsZero() {
		lastRestocked = formatTime(rec.LastRestocked)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO inventory
		(id, product_id, quantity, location, low_stock_threshold,
		 last_restocked, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProductID, rec.Quantity, rec.Location, rec.LowStockThreshold,
		lastRestocked, rec.Version, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	if err != nil {
		return storageErr("insert inventory record", err)
	}
	return nil
}

func (s *Store) UpdateQuantity(ctx context.Context, u pos.QuantityUpdate) error {
	return updateQuantity(ctx, s.db, u)
}

func updateQuantity(ctx context.Context, db dbtx, u pos.QuantityUpdate) error {
	if u.NewQuantity < 0 {
		return &pos.InsufficientStockError{ProductID: u.ProductID, Requested: -u.Delta}
	}

	now := time.Now().UTC()
	var restocked any
	if u.BumpRestocked && u.Delta > 0 {
		restocked = formatTime(now)
	}

	res, err := db.ExecContext(ctx, `
		UPDATE inventory
		SET quantity = ?, version = version + 1, updated_at = ?,
		    last_restocked = COALESCE(?, last_restocked)
		WHERE id = ? AND version = ?`,
		u.NewQuantity, formatTime(now), restocked, u.RecordID, u.ExpectedVersion)
	if err != nil {
		return storageErr("update quantity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update quantity", err)
	}
	if n == 0 {
		// Either the record is gone or someone else won the version race.
		var v int64
		err := db.QueryRowContext(ctx,
			`SELECT version FROM inventory WHERE id = ?`, u.RecordID).Scan(&v)
		if err == sql.ErrNoRows {
			return pos.ErrNotFound
		}
		if err != nil {
			return storageErr("update quantity", err)
		}
		return pos.ErrConcurrentModification
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO stock_movements
		(id, record_id, product_id, delta, cause, reference, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pos.NewMovementID(), u.RecordID, u.ProductID, u.Delta,
		u.Cause, u.Reference, formatTime(now))
	if err != nil {
		return storageErr("record stock movement", err)
	}
	return nil
}

func (s *Store) ListMovements(ctx context.Context, recordID pos.RecordID) ([]pos.StockMovement, error) {
	return listMovements(ctx, s.db, recordID)
}

func listMovements(ctx context.Context, db dbtx, recordID pos.RecordID) ([]pos.StockMovement, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, record_id, product_id, delta, cause, reference, recorded_at
		FROM stock_movements
		WHERE record_id = ?
		ORDER BY recorded_at ASC`, recordID)
	if err != nil {
		return nil, storageErr("list movements", err)
	}
	defer rows.Close()

	var out []pos.StockMovement
	for rows.Next() {
		var (
			m          pos.StockMovement
			recordedAt string
		)
		if err := rows.Scan(&m.ID, &m.RecordID, &m.ProductID, &m.Delta,
			&m.Cause, &m.Reference, &recordedAt); err != nil {
			return nil, storageErr("scan movement", err)
		}
		m.RecordedAt = parseTime(recordedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// SALES
// =============================================================================

// saleItemRow / paymentRow are the JSON shapes stored in the sales table.
type saleItemRow struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	TaxRate   string `json:"tax_rate"`
	Discount  string `json:"discount"`
}

type paymentRow struct {
	Method string `json:"method"`
	Amount string `json:"amount"`
}

func (s *Store) InsertSale(ctx context.Context, sale pos.Sale) error {
	return insertSale(ctx, s.db, sale)
}

func insertSale(ctx context.Context, db dbtx, sale pos.Sale) error {
	items := make([]saleItemRow, len(sale.Items))
	for i, it := range sale.Items {
		items[i] = saleItemRow{
			ProductID: string(it.ProductID),
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.String(),
			TaxRate:   it.TaxRate.String(),
			Discount:  it.Discount.String(),
		}
	}
	payments := make([]paymentRow, len(sale.Payments))
	for i, p := range sale.Payments {
		payments[i] = paymentRow{Method: p.Method, Amount: p.Amount.String()}
	}

	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return storageErr("marshal sale items", err)
	}
	paymentsJSON, err := json.Marshal(payments)
	if err != nil {
		return storageErr("marshal sale payments", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO sales
		(id, items_json, payments_json, subtotal, tax, total, change_due,
		 employee_id, customer_id, notes, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.ID, string(itemsJSON), string(paymentsJSON),
		sale.Subtotal.String(), sale.Tax.String(), sale.Total.String(),
		sale.ChangeDue.String(), sale.EmployeeID, sale.CustomerID,
		sale.Notes, sale.Status, formatTime(sale.CreatedAt))
	if err != nil {
		return storageErr("insert sale", err)
	}
	return nil
}

const saleColumns = `id, items_json, payments_json, subtotal, tax, total, change_due,
	employee_id, customer_id, notes, status, created_at`

func (s *Store) GetSale(ctx context.Context, id pos.SaleID) (pos.Sale, error) {
	return getSale(ctx, s.db, id)
}

func getSale(ctx context.Context, db dbtx, id pos.SaleID) (pos.Sale, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = ?`, id)
	return scanSale(row)
}

func scanSale(row rowScanner) (pos.Sale, error) {
	var (
		sale                    pos.Sale
		itemsJSON, paymentsJSON string
		subtotal, tax, total    string
		changeDue               string
		customerID, notes       sql.NullString
		createdAt               string
	)
	err := row.Scan(&sale.ID, &itemsJSON, &paymentsJSON, &subtotal, &tax,
		&total, &changeDue, &sale.EmployeeID, &customerID, &notes,
		&sale.Status, &createdAt)
	if err == sql.ErrNoRows {
		return pos.Sale{}, pos.ErrNotFound
	}
	if err != nil {
		return pos.Sale{}, storageErr("scan sale", err)
	}

	var items []saleItemRow
	if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
		return pos.Sale{}, storageErr("unmarshal sale items", err)
	}
	sale.Items = make([]pos.SaleLineItem, len(items))
	for i, it := range items {
		li := pos.SaleLineItem{
			ProductID: pos.ProductID(it.ProductID),
			Quantity:  it.Quantity,
		}
		if li.UnitPrice, err = parseDecimal(it.UnitPrice); err != nil {
			return pos.Sale{}, err
		}
		if li.TaxRate, err = parseDecimal(it.TaxRate); err != nil {
			return pos.Sale{}, err
		}
		if li.Discount, err = parseDecimal(it.Discount); err != nil {
			return pos.Sale{}, err
		}
		sale.Items[i] = li
	}

	var payments []paymentRow
	if err := json.Unmarshal([]byte(paymentsJSON), &payments); err != nil {
		return pos.Sale{}, storageErr("unmarshal sale payments", err)
	}
	sale.Payments = make([]pos.Payment, len(payments))
	for i, p := range payments {
		amount, err := parseDecimal(p.Amount)
		if err != nil {
			return pos.Sale{}, err
		}
		sale.Payments[i] = pos.Payment{Method: p.Method, Amount: amount}
	}

	if sale.Subtotal, err = parseDecimal(subtotal); err != nil {
		return pos.Sale{}, err
	}
	if sale.Tax, err = parseDecimal(tax); err != nil {
		return pos.Sale{}, err
	}
	if sale.Total, err = parseDecimal(total); err != nil {
		return pos.Sale{}, err
	}
	if sale.ChangeDue, err = parseDecimal(changeDue); err != nil {
		return pos.Sale{}, err
	}
	sale.CustomerID = customerID.String
	sale.Notes = notes.String
	sale.CreatedAt = parseTime(createdAt)
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, f pos.SaleFilter) ([]pos.Sale, error) {
	return listSales(ctx, s.db, f)
}

func listSales(ctx context.Context, db dbtx, f pos.SaleFilter) ([]pos.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales`
	var (
		conds []string
		args  []any
	)
	if f.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(*f.To))
	}
	if f.EmployeeID != "" {
		conds = append(conds, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list sales", err)
	}
	defer rows.Close()

	var out []pos.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, rows.Err()
}

func (s *Store) MarkRefunded(ctx context.Context, id pos.SaleID, notes string) error {
	return markRefunded(ctx, s.db, id, notes)
}

// markRefunded is the single UPDATE allowed on a sale. The status
// predicate makes the transition first-wins under concurrency.
func markRefunded(ctx context.Context, db dbtx, id pos.SaleID, notes string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE sales SET status = ?, notes = ?
		WHERE id = ? AND status = ?`,
		pos.SaleRefunded, notes, id, pos.SaleCompleted)
	if err != nil {
		return storageErr("mark refunded", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("mark refunded", err)
	}
	if n == 0 {
		var status string
		err := db.QueryRowContext(ctx,
			`SELECT status FROM sales WHERE id = ?`, id).Scan(&status)
		if err == sql.ErrNoRows {
			return pos.ErrNotFound
		}
		if err != nil {
			return storageErr("mark refunded", err)
		}
		return pos.ErrAlreadyRefunded
	}
	return nil
}

// =============================================================================
// ACCOUNTING LEDGER (append-only)
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e pos.AccountingEntry) error {
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, db dbtx, e pos.AccountingEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO accounting_entries
		(id, date, type, amount, description, reference, category, recorded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.Date), e.Type, e.Amount.String(),
		e.Description, e.Reference, e.Category, e.RecordedBy,
		formatTime(e.CreatedAt))
	if err != nil {
		return storageErr("append entry", err)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, f pos.EntryFilter) ([]pos.AccountingEntry, error) {
	return listEntries(ctx, s.db, f)
}

func listEntries(ctx context.Context, db dbtx, f pos.EntryFilter) ([]pos.AccountingEntry, error) {
	query := `SELECT id, date, type, amount, description, reference, category,
		recorded_by, created_at FROM accounting_entries`
	var (
		conds []string
		args  []any
	)
	if f.From != nil {
		conds = append(conds, "date >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "date <= ?")
		args = append(args, formatTime(*f.To))
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, f.Type)
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY date DESC, created_at DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list entries", err)
	}
	defer rows.Close()

	var out []pos.AccountingEntry
	for rows.Next() {
		var (
			e            pos.AccountingEntry
			date, amount string
			createdAt    string
		)
		if err := rows.Scan(&e.ID, &date, &e.Type, &amount, &e.Description,
			&e.Reference, &e.Category, &e.RecordedBy, &createdAt); err != nil {
			return nil, storageErr("scan entry", err)
		}
		e.Date = parseTime(date)
		if e.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (pos.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The store
// mutex serializes transactions; SQLite permits one writer at a time.
func (s *Store) WithTx(ctx context.Context, fn func(store pos.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// txStore routes every Store call through the open *sql.Tx, so reads
// inside the transaction see its own uncommitted writes.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetProduct(ctx context.Context, id pos.ProductID) (pos.Product, error) {
	return getProduct(ctx, ts.tx, id)
}

func (ts *txStore) InsertProduct(ctx context.Context, p pos.Product) error {
	return insertProduct(ctx, ts.tx, p)
}

func (ts *txStore) ListProducts(ctx context.Context) ([]pos.Product, error) {
	return listProducts(ctx, ts.tx)
}

func (ts *txStore) GetInventoryByProduct(ctx context.Context, productID pos.ProductID) (pos.InventoryRecord, error) {
	return getInventoryByProduct(ctx, ts.tx, productID)
}

func (ts *txStore) GetInventoryRecord(ctx context.Context, id pos.RecordID) (pos.InventoryRecord, error) {
	return getInventoryRecord(ctx, ts.tx, id)
}

func (ts *txStore) ListInventory(ctx context.Context) ([]pos.InventoryRecord, error) {
	return listInventory(ctx, ts.tx)
}

func (ts *txStore) InsertInventoryRecord(ctx context.Context, rec pos.InventoryRecord) error {
	return insertInventoryRecord(ctx, ts.tx, rec)
}

func (ts *txStore) UpdateQuantity(ctx context.Context, u pos.QuantityUpdate) error {
	return updateQuantity(ctx, ts.tx, u)
}

func (ts *txStore) ListMovements(ctx context.Context, recordID pos.RecordID) ([]pos.StockMovement, error) {
	return listMovements(ctx, ts.tx, recordID)
}

func (ts *txStore) InsertSale(ctx context.Context, sale pos.Sale) error {
	return insertSale(ctx, ts.tx, sale)
}

func (ts *txStore) GetSale(ctx context.Context, id pos.SaleID) (pos.Sale, error) {
	return getSale(ctx, ts.tx, id)
}

func (ts *txStore) ListSales(ctx context.Context, f pos.SaleFilter) ([]pos.Sale, error) {
	return listSales(ctx, ts.tx, f)
}

func (ts *txStore) MarkRefunded(ctx context.Context, id pos.SaleID, notes string) error {
	return markRefunded(ctx, ts.tx, id, notes)
}

func (ts *txStore) AppendEntry(ctx context.Context, e pos.AccountingEntry) error {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) ListEntries(ctx context.Context, f pos.EntryFilter) ([]pos.AccountingEntry, error) {
	return listEntries(ctx, ts.tx, f)
}

// =============================================================================
// HELPERS
// =============================================================================

// A stored decimal that no longer parses is corruption, never silently
// read back as zero.
func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, storageErr("parse stored decimal", err)
	}
	return d, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// Fixed-width fractional seconds keep lexicographic ordering equal to
// chronological ordering (RFC3339Nano strips trailing zeros).
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
