/*
engine.go - Sale transaction engine

PURPOSE:
  Orchestrates sale processing and refunds. A sale converts a cart of
  line items plus tendered payments into one atomic state change across
  three entities:
    1. inventory  - per-product quantities decremented (reservation)
    2. sales      - the Sale record with captured price snapshots
    3. accounting - one revenue entry for the sale total
  A refund exactly reverses the sale: restock every line item and post a
  new negative entry referencing the same sale.

ATOMICITY:
  Every operation runs inside a single Store transaction (WithTx). Any
  failure - unknown product, short stock on the third of five items,
  short payment, storage error - aborts the whole unit: no partial
  inventory decrement or dangling ledger entry ever survives.

CONCURRENCY:
  Inventory writes are version-checked (optimistic locking). On a
  version conflict the whole transaction is retried a bounded number of
  times; exhaustion surfaces as ErrConflictRetryExhausted. Requests for
  different products proceed independently; requests racing on the same
  product serialize through the version check.

PRICING:
  itemNet  = unitPrice * quantity - discount   (tax-on-net)
  itemTax  = itemNet * taxRate / 100
  total    = sum(itemNet) + sum(itemTax)
  Payments must cover total exactly or more; change is paid out for the
  excess. All derived values rounded to 2 decimal places at computation.

REFUND POLICY:
  Full refund only: the refund amount is the original sale total,
  unconditionally. Partial refunds are not supported. A missing
  inventory record during restock is logged as a warning and skipped,
  not fatal.
*/
package pos

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// defaultMaxAttempts bounds retries on optimistic-lock conflicts.
const defaultMaxAttempts = 3

// Engine processes sales and refunds. It is the only component with
// business logic; it reads the catalog, reserves inventory, persists
// the sale and posts the ledger entry, all inside one transaction.
type Engine struct {
	Store  TxStore
	Logger *log.Logger      // warnings (e.g. refund restock misses); nil = stdlib default
	Now    func() time.Time // defaults to time.Now().UTC
	// MaxAttempts bounds retries on ErrConcurrentModification.
	// Zero means defaultMaxAttempts.
	MaxAttempts int
}

func NewEngine(store TxStore) *Engine {
	return &Engine{Store: store}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Engine) warnf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf("WARN: "+format, args...)
		return
	}
	log.Printf("WARN: "+format, args...)
}

// runAtomic executes fn inside a transaction, retrying the whole unit
// on optimistic-lock conflicts up to MaxAttempts times.
func (e *Engine) runAtomic(ctx context.Context, fn func(Store) error) error {
	attempts := e.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return runAtomic(ctx, e.Store, attempts, fn)
}

// runAtomic retries a whole transactional unit on version conflicts.
// Shared by the sale engine and the inventory service.
func runAtomic(ctx context.Context, store TxStore, attempts int, fn func(Store) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = store.WithTx(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrConflictRetryExhausted, err)
}

// =============================================================================
// PROCESS SALE
// =============================================================================

// SaleItemInput is one requested cart line.
type SaleItemInput struct {
	ProductID ProductID
	Quantity  int
	Discount  decimal.Decimal // optional, >= 0
}

// PaymentInput is one tendered payment.
type PaymentInput struct {
	Method string
	Amount decimal.Decimal
}

// SaleRequest is a validated request payload plus the authenticated
// actor, as supplied by the caller (HTTP layer).
type SaleRequest struct {
	Items      []SaleItemInput
	Payments   []PaymentInput
	CustomerID string // optional
	Notes      string // optional
	ActorID    ActorID
}

func (r SaleRequest) validate() error {
	if r.ActorID == "" {
		return &ValidationError{Field: "actorId", Message: "actor is required"}
	}
	if len(r.Items) == 0 {
		return &ValidationError{Field: "items", Message: "sale items are required"}
	}
	for i, it := range r.Items {
		if it.ProductID == "" {
			return &ValidationError{Field: fmt.Sprintf("items[%d].productId", i), Message: "product id is required"}
		}
		if it.Quantity < 1 {
			return &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Message: "quantity must be at least 1"}
		}
		if it.Discount.IsNegative() {
			return &ValidationError{Field: fmt.Sprintf("items[%d].discount", i), Message: "discount cannot be negative"}
		}
	}
	if len(r.Payments) == 0 {
		return &ValidationError{Field: "payments", Message: "payment information is required"}
	}
	for i, p := range r.Payments {
		if p.Method == "" {
			return &ValidationError{Field: fmt.Sprintf("payments[%d].method", i), Message: "payment method is required"}
		}
		if p.Amount.IsNegative() {
			return &ValidationError{Field: fmt.Sprintf("payments[%d].amount", i), Message: "payment amount must be positive"}
		}
	}
	return nil
}

// ProcessSale runs the full sale transaction and returns the persisted
// Sale. On any failure the transaction aborts with no partial state.
func (e *Engine) ProcessSale(ctx context.Context, req SaleRequest) (Sale, error) {
	if err := req.validate(); err != nil {
		return Sale{}, err
	}

	var sale Sale
	err := e.runAtomic(ctx, func(s Store) error {
		now := e.now()

		// Reservation plan: record id + version observed at read time,
		// applied only after every line has been checked. Reservations
		// are aggregated per record so a cart listing the same product
		// on several lines issues one version-checked write.
		type reservation struct {
			record InventoryRecord
			qty    int
		}

		var (
			items        []SaleLineItem
			reservations []reservation
			resIdx       = make(map[RecordID]int)
			subtotal     = decimal.Zero
			tax          = decimal.Zero
		)

		for _, in := range req.Items {
			product, err := s.GetProduct(ctx, in.ProductID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return &ProductUnavailableError{ProductID: in.ProductID}
				}
				return err
			}
			if !product.IsActive {
				return &ProductUnavailableError{ProductID: in.ProductID}
			}

			rec, err := s.GetInventoryByProduct(ctx, in.ProductID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return &InsufficientStockError{ProductID: in.ProductID, Requested: in.Quantity, Available: 0}
				}
				return err
			}
			idx, seen := resIdx[rec.ID]
			if !seen {
				reservations = append(reservations, reservation{record: rec})
				idx = len(reservations) - 1
				resIdx[rec.ID] = idx
			}
			reservations[idx].qty += in.Quantity
			if reservations[idx].record.Quantity < reservations[idx].qty {
				return &InsufficientStockError{
					ProductID: in.ProductID,
					Requested: reservations[idx].qty,
					Available: reservations[idx].record.Quantity,
				}
			}

			item := SaleLineItem{
				ProductID: product.ID,
				Quantity:  in.Quantity,
				UnitPrice: product.Price,
				TaxRate:   product.TaxRate,
				Discount:  in.Discount,
			}
			net := item.Net()
			if net.IsNegative() {
				return &ValidationError{Field: "discount", Message: "discount exceeds line total"}
			}
			subtotal = subtotal.Add(net)
			tax = tax.Add(item.Tax())

			items = append(items, item)
		}

		total := subtotal.Add(tax)

		paymentTotal := decimal.Zero
		payments := make([]Payment, 0, len(req.Payments))
		for _, p := range req.Payments {
			paymentTotal = paymentTotal.Add(p.Amount)
			payments = append(payments, Payment{Method: p.Method, Amount: p.Amount})
		}
		if paymentTotal.LessThan(total) {
			return &InsufficientPaymentError{Required: total, Given: paymentTotal}
		}
		changeDue := Round2(paymentTotal.Sub(total))

		sale = Sale{
			ID:         NewSaleID(),
			Items:      items,
			Subtotal:   subtotal,
			Tax:        tax,
			Total:      total,
			Payments:   payments,
			ChangeDue:  changeDue,
			EmployeeID: req.ActorID,
			CustomerID: req.CustomerID,
			Notes:      req.Notes,
			Status:     SaleCompleted,
			CreatedAt:  now,
		}

		// All checks passed: apply the reservations. The version
		// observed at read time guards against concurrent writers.
		for _, r := range reservations {
			err := s.UpdateQuantity(ctx, QuantityUpdate{
				RecordID:        r.record.ID,
				ProductID:       r.record.ProductID,
				NewQuantity:     r.record.Quantity - r.qty,
				ExpectedVersion: r.record.Version,
				Delta:           -r.qty,
				Cause:           CauseSale,
				Reference:       string(sale.ID),
			})
			if err != nil {
				return err
			}
		}

		if err := s.InsertSale(ctx, sale); err != nil {
			return err
		}

		_, err := NewPoster(s).Post(ctx, AccountingEntry{
			Date:        now,
			Type:        EntrySale,
			Amount:      total,
			Description: fmt.Sprintf("Sale #%s", sale.ID),
			Reference:   string(sale.ID),
			Category:    CategoryRevenue,
			RecordedBy:  req.ActorID,
		})
		return err
	})
	if err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// =============================================================================
// REFUND SALE
// =============================================================================

// RefundSale reverses a completed sale: flips its status, restocks
// every line item and posts a negative ledger entry for the full
// original total. Refunding twice fails with ErrAlreadyRefunded and
// performs no further mutation.
func (e *Engine) RefundSale(ctx context.Context, saleID SaleID, reason string, actor ActorID) (Sale, error) {
	if reason == "" {
		return Sale{}, &ValidationError{Field: "reason", Message: "refund reason is required"}
	}
	if actor == "" {
		return Sale{}, &ValidationError{Field: "actorId", Message: "actor is required"}
	}

	var refunded Sale
	err := e.runAtomic(ctx, func(s Store) error {
		sale, err := s.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status == SaleRefunded {
			return ErrAlreadyRefunded
		}

		now := e.now()

		// Preserve the audit trail: append, never overwrite.
		note := fmt.Sprintf("Refund: %s. Processed by %s", reason, actor)
		notes := note
		if sale.Notes != "" {
			notes = sale.Notes + "\n" + note
		}

		if err := s.MarkRefunded(ctx, sale.ID, notes); err != nil {
			return err
		}

		// Restock. A missing record is tolerated (non-strict policy)
		// but surfaced as a warning, never silently dropped.
		for _, item := range sale.Items {
			rec, err := s.GetInventoryByProduct(ctx, item.ProductID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					e.warnf("refund %s: no inventory record for product %s, skipping restock of %d",
						sale.ID, item.ProductID, item.Quantity)
					continue
				}
				return err
			}
			err = s.UpdateQuantity(ctx, QuantityUpdate{
				RecordID:        rec.ID,
				ProductID:       rec.ProductID,
				NewQuantity:     rec.Quantity + item.Quantity,
				ExpectedVersion: rec.Version,
				Delta:           item.Quantity,
				Cause:           CauseRefund,
				Reference:       string(sale.ID),
			})
			if err != nil {
				return err
			}
		}

		_, err = NewPoster(s).Post(ctx, AccountingEntry{
			Date:        now,
			Type:        EntrySale,
			Amount:      sale.Total.Neg(),
			Description: fmt.Sprintf("Refund for sale #%s: %s", sale.ID, reason),
			Reference:   string(sale.ID),
			Category:    CategoryRevenue,
			RecordedBy:  actor,
		})
		if err != nil {
			return err
		}

		sale.Status = SaleRefunded
		sale.Notes = notes
		refunded = sale
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	return refunded, nil
}
