/*
Package pos contains the core point-of-sale transaction engine.

PURPOSE:
  Domain types and algorithms for sale processing: converting a cart of
  line items and tendered payments into a durable state change across the
  product catalog, the inventory ledger, and an append-only accounting
  ledger - with a refund operation that exactly reverses it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: catalog record with price/cost/tax snapshot fields
  - InventoryRecord: per-product on-hand quantity (never negative)
  - StockMovement: attributed record of every inventory mutation
  - Sale: the transaction record, append-only after creation except for
    a single completed -> refunded status transition
  - AccountingEntry: immutable, signed ledger entry

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money, never float64
  2. Snapshots: unit price and tax rate are copied into line items at
     sale time, so later catalog changes never alter historical sales
  3. Attribution: every inventory mutation carries a cause and reference
  4. Immutability: accounting entries are corrected by posting a new
     opposite-sign entry, never by editing

SEE ALSO:
  - engine.go: ProcessSale / RefundSale orchestration
  - inventory.go: reserve/release/adjust operations
  - ledger.go: accounting entry posting
*/
package pos

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type RecordID string // inventory record
type SaleID string
type EntryID string
type ActorID string

// NewSaleID returns a fresh sale identifier.
func NewSaleID() SaleID { return SaleID("sale-" + uuid.NewString()) }

// NewEntryID returns a fresh accounting entry identifier.
func NewEntryID() EntryID { return EntryID("entry-" + uuid.NewString()) }

// NewRecordID returns a fresh inventory record identifier.
func NewRecordID() RecordID { return RecordID("inv-" + uuid.NewString()) }

// NewProductID returns a fresh product identifier.
func NewProductID() ProductID { return ProductID("prod-" + uuid.NewString()) }

// NewMovementID returns a fresh stock movement identifier.
func NewMovementID() string { return "mov-" + uuid.NewString() }

// =============================================================================
// MONEY - decimal helpers
// =============================================================================
// Rounding policy: every derived monetary value (line net, line tax,
// subtotal, tax, total, change) is rounded to 2 decimal places at the
// point it is computed. Applied once, consistently, everywhere.

// Round2 rounds a monetary value to 2 decimal places.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// MustMoney parses a decimal string and panics on failure. Test helper
// and constant construction only.
func MustMoney(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// PRODUCT - catalog record
// =============================================================================

// Product is a catalog item. It is read-only from the sale engine's
// perspective; mutation happens through the catalog-management flow.
type Product struct {
	ID          ProductID
	Name        string
	Description string
	SKU         string // unique
	Category    string
	Price       decimal.Decimal // >= 0
	Cost        decimal.Decimal // >= 0, used for COGS postings
	TaxRate     decimal.Decimal // percent, >= 0
	Barcode     string
	ImageURL    string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// INVENTORY - on-hand stock
// =============================================================================

// InventoryRecord holds the on-hand quantity for one product.
//
// INVARIANT: Quantity is never negative. All mutations go through
// version-checked quantity updates that record a StockMovement.
type InventoryRecord struct {
	ID                RecordID
	ProductID         ProductID
	Quantity          int
	Location          string
	LowStockThreshold int
	LastRestocked     time.Time // zero value = never restocked
	Version           int64     // optimistic concurrency token
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LowStock reports whether the record is at or below its threshold.
func (r InventoryRecord) LowStock() bool {
	return r.Quantity <= r.LowStockThreshold
}

// MovementCause identifies what caused an inventory mutation.
type MovementCause string

const (
	CauseSale       MovementCause = "sale"
	CauseRefund     MovementCause = "refund"
	CauseAdjustment MovementCause = "adjustment"
)

// StockMovement is the attributed audit record of one inventory mutation.
// Append-only.
type StockMovement struct {
	ID         string
	RecordID   RecordID
	ProductID  ProductID
	Delta      int // signed: negative = reservation, positive = release/restock
	Cause      MovementCause
	Reference  string // sale id, or manual adjustment reason
	RecordedAt time.Time
}

// AdjustMode selects how Adjust interprets its quantity argument.
type AdjustMode string

const (
	AdjustAdd AdjustMode = "add" // quantity is a delta
	AdjustSet AdjustMode = "set" // quantity is the new absolute value
)

// =============================================================================
// SALE
// =============================================================================

type SaleStatus string

const (
	SaleCompleted SaleStatus = "completed"
	SaleRefunded  SaleStatus = "refunded"
)

// SaleLineItem is a value object embedded in a Sale. UnitPrice and
// TaxRate are captured at sale time; later catalog price changes never
// retroactively alter a historical sale.
type SaleLineItem struct {
	ProductID ProductID
	Quantity  int             // >= 1
	UnitPrice decimal.Decimal // snapshot of Product.Price
	TaxRate   decimal.Decimal // snapshot of Product.TaxRate (percent)
	Discount  decimal.Decimal // >= 0, subtracted from the line before tax
}

// Net returns unitPrice*quantity - discount, rounded.
func (li SaleLineItem) Net() decimal.Decimal {
	gross := li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
	return Round2(gross.Sub(li.Discount))
}

// Tax returns the tax due on the discounted line amount (tax-on-net),
// rounded.
func (li SaleLineItem) Tax() decimal.Decimal {
	return Round2(li.Net().Mul(li.TaxRate).Div(decimal.NewFromInt(100)))
}

// Payment is one tendered payment toward a sale.
type Payment struct {
	Method string // "cash", "card", ...
	Amount decimal.Decimal
}

// Sale is the durable record of one processed transaction.
//
// INVARIANTS:
//   - total = subtotal + tax = sum of line nets plus tax
//   - status transitions completed -> refunded exactly once; no other
//     field is ever mutated after creation (notes are appended only as
//     part of that single transition)
type Sale struct {
	ID         SaleID
	Items      []SaleLineItem
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
	Payments   []Payment
	ChangeDue  decimal.Decimal
	EmployeeID ActorID
	CustomerID string // optional
	Notes      string
	Status     SaleStatus
	CreatedAt  time.Time
}

// =============================================================================
// ACCOUNTING ENTRY - immutable ledger record
// =============================================================================

type EntryType string

const (
	EntrySale      EntryType = "sale"
	EntryExpense   EntryType = "expense"
	EntryPayroll   EntryType = "payroll"
	EntryInventory EntryType = "inventory"
	EntryOther     EntryType = "other"
)

type EntryCategory string

const (
	CategoryRevenue   EntryCategory = "revenue"
	CategoryCOGS      EntryCategory = "cogs"
	CategoryPayroll   EntryCategory = "payroll"
	CategoryUtilities EntryCategory = "utilities"
	CategoryRent      EntryCategory = "rent"
	CategorySupplies  EntryCategory = "supplies"
	CategoryOther     EntryCategory = "other"
)

// ValidEntryType reports whether t is a known entry type.
func ValidEntryType(t EntryType) bool {
	switch t {
	case EntrySale, EntryExpense, EntryPayroll, EntryInventory, EntryOther:
		return true
	}
	return false
}

// ValidEntryCategory reports whether c is a known category.
func ValidEntryCategory(c EntryCategory) bool {
	switch c {
	case CategoryRevenue, CategoryCOGS, CategoryPayroll, CategoryUtilities,
		CategoryRent, CategorySupplies, CategoryOther:
		return true
	}
	return false
}

// AccountingEntry is one immutable financial record.
//
// Reference is polymorphic: a SaleID for type=sale, an inventory
// RecordID for type=inventory. The Type field disambiguates.
// A refund is a NEW negative-amount entry referencing the same sale,
// never an edit of the original.
type AccountingEntry struct {
	ID          EntryID
	Date        time.Time
	Type        EntryType
	Amount      decimal.Decimal // signed
	Description string
	Reference   string
	Category    EntryCategory
	RecordedBy  ActorID
	CreatedAt   time.Time
}
