/*
inventory.go - Inventory ledger operations

PURPOSE:
  Exposes the stock operations around the non-negativity invariant:
  reserve (decrement for a sale), release (increment for a refund or
  restock), and adjust (manual add/set from the inventory-management
  flow). Every mutation is attributed to its cause and recorded as a
  StockMovement.

ADJUSTMENT ACCOUNTING:
  Whenever Adjust changes a quantity it posts a matching accounting
  entry (type=inventory, category=cogs, amount = |delta| * product.cost,
  reference = inventory record id) in the SAME transaction as the
  quantity change. This mirrors the sale engine's posting discipline.

INVARIANT:
  Quantity never goes negative. Reserve fails with InsufficientStock
  rather than undershoot; Adjust rejects a set below zero or an add
  that would cross it.
*/
package pos

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Inventory is the inventory ledger service. Reserve/Release are also
// invoked internally by the sale engine through the same store
// discipline; this service is the standalone surface for the
// inventory-management flow.
type Inventory struct {
	Store TxStore
	Now   func() time.Time
	// MaxAttempts bounds retries on version conflicts. Zero means
	// defaultMaxAttempts.
	MaxAttempts int
}

func NewInventory(store TxStore) *Inventory {
	return &Inventory{Store: store}
}

func (inv *Inventory) now() time.Time {
	if inv.Now != nil {
		return inv.Now()
	}
	return time.Now().UTC()
}

func (inv *Inventory) attempts() int {
	if inv.MaxAttempts > 0 {
		return inv.MaxAttempts
	}
	return defaultMaxAttempts
}

// GetQuantity returns the on-hand quantity for a product.
func (inv *Inventory) GetQuantity(ctx context.Context, productID ProductID) (int, error) {
	rec, err := inv.Store.GetInventoryByProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return rec.Quantity, nil
}

// Reserve decrements on-hand stock for a product, attributed to the
// given cause and reference. Fails with InsufficientStock if the
// decrement would go negative.
func (inv *Inventory) Reserve(ctx context.Context, productID ProductID, qty int, cause MovementCause, reference string) error {
	if qty < 1 {
		return &ValidationError{Field: "quantity", Message: "quantity must be at least 1"}
	}
	return runAtomic(ctx, inv.Store, inv.attempts(), func(s Store) error {
		rec, err := s.GetInventoryByProduct(ctx, productID)
		if err != nil {
			return err
		}
		if rec.Quantity < qty {
			return &InsufficientStockError{ProductID: productID, Requested: qty, Available: rec.Quantity}
		}
		return s.UpdateQuantity(ctx, QuantityUpdate{
			RecordID:        rec.ID,
			ProductID:       rec.ProductID,
			NewQuantity:     rec.Quantity - qty,
			ExpectedVersion: rec.Version,
			Delta:           -qty,
			Cause:           cause,
			Reference:       reference,
		})
	})
}

// Release increments on-hand stock, attributed to the given cause and
// reference. Used by refunds and restocks.
func (inv *Inventory) Release(ctx context.Context, productID ProductID, qty int, cause MovementCause, reference string) error {
	if qty < 1 {
		return &ValidationError{Field: "quantity", Message: "quantity must be at least 1"}
	}
	return runAtomic(ctx, inv.Store, inv.attempts(), func(s Store) error {
		rec, err := s.GetInventoryByProduct(ctx, productID)
		if err != nil {
			return err
		}
		return s.UpdateQuantity(ctx, QuantityUpdate{
			RecordID:        rec.ID,
			ProductID:       rec.ProductID,
			NewQuantity:     rec.Quantity + qty,
			ExpectedVersion: rec.Version,
			Delta:           qty,
			Cause:           cause,
			Reference:       reference,
			BumpRestocked:   true,
		})
	})
}

// Adjust applies a manual stock correction from the inventory-management
// flow and posts the matching COGS accounting entry atomically with the
// quantity change. Mode add treats quantity as a delta; mode set as the
// new absolute value. Returns the updated record.
func (inv *Inventory) Adjust(ctx context.Context, recordID RecordID, quantity int, mode AdjustMode, reason string, actor ActorID) (InventoryRecord, error) {
	if mode != AdjustAdd && mode != AdjustSet {
		return InventoryRecord{}, &ValidationError{Field: "adjustmentType", Message: "must be add or set"}
	}
	if mode == AdjustSet && quantity < 0 {
		return InventoryRecord{}, &ValidationError{Field: "quantity", Message: "quantity cannot be negative"}
	}
	if actor == "" {
		return InventoryRecord{}, &ValidationError{Field: "actorId", Message: "actor is required"}
	}

	var updated InventoryRecord
	err := runAtomic(ctx, inv.Store, inv.attempts(), func(s Store) error {
		rec, err := s.GetInventoryRecord(ctx, recordID)
		if err != nil {
			return err
		}

		newQty := quantity
		if mode == AdjustAdd {
			newQty = rec.Quantity + quantity
		}
		if newQty < 0 {
			return &ValidationError{Field: "quantity", Message: "adjustment would make quantity negative"}
		}

		delta := newQty - rec.Quantity
		updated = rec
		updated.Quantity = newQty
		if delta == 0 {
			// Nothing changed; no movement, no ledger entry.
			return nil
		}

		if reason == "" {
			reason = "No reason provided"
		}

		if err := s.UpdateQuantity(ctx, QuantityUpdate{
			RecordID:        rec.ID,
			ProductID:       rec.ProductID,
			NewQuantity:     newQty,
			ExpectedVersion: rec.Version,
			Delta:           delta,
			Cause:           CauseAdjustment,
			Reference:       reason,
			BumpRestocked:   mode == AdjustAdd && quantity > 0,
		}); err != nil {
			return err
		}
		// Read the written row back rather than reconstructing it; the
		// store owns version, timestamps and restock bookkeeping.
		updated, err = s.GetInventoryRecord(ctx, rec.ID)
		if err != nil {
			return err
		}

		product, err := s.GetProduct(ctx, rec.ProductID)
		if err != nil {
			return err
		}

		absDelta := delta
		if absDelta < 0 {
			absDelta = -absDelta
		}
		_, err = NewPoster(s).Post(ctx, AccountingEntry{
			Date:        inv.now(),
			Type:        EntryInventory,
			Amount:      Round2(product.Cost.Mul(decimal.NewFromInt(int64(absDelta)))),
			Description: fmt.Sprintf("Inventory adjustment: %s", reason),
			Reference:   string(rec.ID),
			Category:    CategoryCOGS,
			RecordedBy:  actor,
		})
		return err
	})
	if err != nil {
		return InventoryRecord{}, err
	}
	return updated, nil
}
