/*
store.go - Persistence interface for the sale engine

PURPOSE:
  Defines the boundary between domain logic and the database. The Store
  exposes reads plus a small set of disciplined writes; TxStore adds the
  atomic unit of work (WithTx) that the engine runs every sale and
  refund inside.

WRITE DISCIPLINE:
  - accounting_entries: AppendEntry only. No update, no delete. Ever.
  - stock_movements:    written as a side effect of UpdateQuantity.
  - inventory:          UpdateQuantity only, version-checked.
  - sales:              InsertSale once, then MarkRefunded exactly once.

ATOMICITY:
  WithTx(fn) executes fn against a transactional Store view. If fn
  returns an error every write inside it is rolled back; no reader ever
  observes inventory decremented without the matching Sale and
  AccountingEntry, or vice versa.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite
  - pos/store:    in-memory, for tests
*/
package pos

import (
	"context"
	"time"
)

// =============================================================================
// STORE - reads plus disciplined writes
// =============================================================================

// Store handles persistence for products, inventory, sales and the
// accounting ledger.
type Store interface {
	// --- Catalog ---

	// GetProduct returns a product by id. ErrNotFound if missing.
	GetProduct(ctx context.Context, id ProductID) (Product, error)

	// InsertProduct creates a catalog record.
	InsertProduct(ctx context.Context, p Product) error

	// ListProducts returns all products, newest first.
	ListProducts(ctx context.Context) ([]Product, error)

	// --- Inventory ---

	// GetInventoryByProduct returns the inventory record holding stock
	// for a product. ErrNotFound if the product has no record.
	GetInventoryByProduct(ctx context.Context, productID ProductID) (InventoryRecord, error)

	// GetInventoryRecord returns an inventory record by its own id.
	GetInventoryRecord(ctx context.Context, id RecordID) (InventoryRecord, error)

	// ListInventory returns all inventory records, lowest quantity first.
	ListInventory(ctx context.Context) ([]InventoryRecord, error)

	// InsertInventoryRecord creates a stock record for a product.
	InsertInventoryRecord(ctx context.Context, rec InventoryRecord) error

	// UpdateQuantity applies a version-checked quantity change and
	// records the attributed StockMovement in the same write. Returns
	// ErrConcurrentModification if ExpectedVersion no longer matches,
	// ErrNotFound if the record is gone.
	UpdateQuantity(ctx context.Context, u QuantityUpdate) error

	// ListMovements returns the movement trail for one record,
	// chronologically.
	ListMovements(ctx context.Context, recordID RecordID) ([]StockMovement, error)

	// --- Sales ---

	// InsertSale persists a new sale with all line items and payments.
	InsertSale(ctx context.Context, s Sale) error

	// GetSale returns a sale by id. ErrNotFound if missing.
	GetSale(ctx context.Context, id SaleID) (Sale, error)

	// ListSales returns sales matching the filter, newest first.
	ListSales(ctx context.Context, f SaleFilter) ([]Sale, error)

	// MarkRefunded performs the single allowed status transition
	// completed -> refunded, replacing the notes. Returns
	// ErrAlreadyRefunded if the sale is not in completed status,
	// ErrNotFound if it does not exist. This is the ONLY mutation of a
	// persisted sale.
	MarkRefunded(ctx context.Context, id SaleID, notes string) error

	// --- Accounting ledger ---

	// AppendEntry appends an immutable accounting entry. This is the
	// only write operation on the ledger.
	AppendEntry(ctx context.Context, e AccountingEntry) error

	// ListEntries returns entries matching the filter, newest first.
	ListEntries(ctx context.Context, f EntryFilter) ([]AccountingEntry, error)
}

// QuantityUpdate describes one attributed inventory mutation.
type QuantityUpdate struct {
	RecordID        RecordID
	ProductID       ProductID
	NewQuantity     int   // must be >= 0; stores reject negatives
	ExpectedVersion int64 // version observed when the record was read
	Delta           int   // signed change, recorded on the movement
	Cause           MovementCause
	Reference       string // sale id or manual reason
	BumpRestocked   bool   // set LastRestocked to now (additive restocks)
}

// SaleFilter narrows sale listings.
type SaleFilter struct {
	From       *time.Time
	To         *time.Time
	EmployeeID ActorID // empty = all
}

// EntryFilter narrows accounting entry listings.
type EntryFilter struct {
	From     *time.Time
	To       *time.Time
	Type     EntryType     // empty = all
	Category EntryCategory // empty = all
}

// =============================================================================
// TRANSACTIONAL STORE - the atomic unit of work
// =============================================================================

// TxStore wraps Store with transaction support. Every sale, refund and
// inventory adjustment runs inside WithTx.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, every write is rolled back.
	// If fn returns nil, all writes commit together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
