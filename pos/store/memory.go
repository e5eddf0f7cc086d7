// Package store provides an in-memory pos.TxStore implementation
// (for testing and development).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/pos-engine/pos"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	products  map[pos.ProductID]pos.Product
	inventory map[pos.RecordID]pos.InventoryRecord
	byProduct map[pos.ProductID]pos.RecordID
	movements map[pos.RecordID][]pos.StockMovement
	sales     map[pos.SaleID]pos.Sale
	saleOrder []pos.SaleID
	entries   []pos.AccountingEntry
}

func NewMemory() *Memory {
	return &Memory{
		products:  make(map[pos.ProductID]pos.Product),
		inventory: make(map[pos.RecordID]pos.InventoryRecord),
		byProduct: make(map[pos.ProductID]pos.RecordID),
		movements: make(map[pos.RecordID][]pos.StockMovement),
		sales:     make(map[pos.SaleID]pos.Sale),
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) GetProduct(_ context.Context, id pos.ProductID) (pos.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProductLocked(id)
}

func (m *Memory) getProductLocked(id pos.ProductID) (pos.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return pos.Product{}, pos.ErrNotFound
	}
	return p, nil
}

func (m *Memory) InsertProduct(_ context.Context, p pos.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertProductLocked(p)
}

func (m *Memory) insertProductLocked(p pos.Product) error {
	m.products[p.ID] = p
	return nil
}

func (m *Memory) ListProducts(_ context.Context) ([]pos.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listProductsLocked()
}

func (m *Memory) listProductsLocked() ([]pos.Product, error) {
	out := make([]pos.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// INVENTORY
// =============================================================================

func (m *Memory) GetInventoryByProduct(_ context.Context, productID pos.ProductID) (pos.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getInventoryByProductLocked(productID)
}

func (m *Memory) getInventoryByProductLocked(productID pos.ProductID) (pos.InventoryRecord, error) {
	id, ok := m.byProduct[productID]
	if !ok {
		return pos.InventoryRecord{}, pos.ErrNotFound
	}
	return m.inventory[id], nil
}

func (m *Memory) GetInventoryRecord(_ context.Context, id pos.RecordID) (pos.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getInventoryRecordLocked(id)
}

func (m *Memory) getInventoryRecordLocked(id pos.RecordID) (pos.InventoryRecord, error) {
	rec, ok := m.inventory[id]
	if !ok {
		return pos.InventoryRecord{}, pos.ErrNotFound
	}
	return rec, nil
}

func (m *Memory) ListInventory(_ context.Context) ([]pos.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listInventoryLocked()
}

func (m *Memory) listInventoryLocked() ([]pos.InventoryRecord, error) {
	out := make([]pos.InventoryRecord, 0, len(m.inventory))
	for _, rec := range m.inventory {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quantity < out[j].Quantity })
	return out, nil
}

func (m *Memory) InsertInventoryRecord(_ context.Context, rec pos.InventoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertInventoryRecordLocked(rec)
}

func (m *Memory) insertInventoryRecordLocked(rec pos.InventoryRecord) error {
	m.inventory[rec.ID] = rec
	m.byProduct[rec.ProductID] = rec.ID
	return nil
}

func (m *Memory) UpdateQuantity(_ context.Context, u pos.QuantityUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateQuantityLocked(u)
}

func (m *Memory) updateQuantityLocked(u pos.QuantityUpdate) error {
	rec, ok := m.inventory[u.RecordID]
	if !ok {
		return pos.ErrNotFound
	}
	if rec.Version != u.ExpectedVersion {
		return pos.ErrConcurrentModification
	}
	if u.NewQuantity < 0 {
		// The non-negativity invariant holds at the storage layer too.
		return &pos.InsufficientStockError{ProductID: rec.ProductID, Requested: -u.Delta, Available: rec.Quantity}
	}

	now := time.Now().UTC()
	rec.Quantity = u.NewQuantity
	rec.Version++
	rec.UpdatedAt = now
	if u.BumpRestocked && u.Delta > 0 {
		rec.LastRestocked = now
	}
	m.inventory[u.RecordID] = rec

	m.movements[u.RecordID] = append(m.movements[u.RecordID], pos.StockMovement{
		ID:         pos.NewMovementID(),
		RecordID:   u.RecordID,
		ProductID:  u.ProductID,
		Delta:      u.Delta,
		Cause:      u.Cause,
		Reference:  u.Reference,
		RecordedAt: now,
	})
	return nil
}

func (m *Memory) ListMovements(_ context.Context, recordID pos.RecordID) ([]pos.StockMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listMovementsLocked(recordID)
}

func (m *Memory) listMovementsLocked(recordID pos.RecordID) ([]pos.StockMovement, error) {
	out := make([]pos.StockMovement, len(m.movements[recordID]))
	copy(out, m.movements[recordID])
	return out, nil
}

// =============================================================================
// SALES
// =============================================================================

func (m *Memory) InsertSale(_ context.Context, s pos.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertSaleLocked(s)
}

func (m *Memory) insertSaleLocked(s pos.Sale) error {
	m.sales[s.ID] = copySale(s)
	m.saleOrder = append(m.saleOrder, s.ID)
	return nil
}

func (m *Memory) GetSale(_ context.Context, id pos.SaleID) (pos.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSaleLocked(id)
}

func (m *Memory) getSaleLocked(id pos.SaleID) (pos.Sale, error) {
	s, ok := m.sales[id]
	if !ok {
		return pos.Sale{}, pos.ErrNotFound
	}
	return copySale(s), nil
}

func (m *Memory) ListSales(_ context.Context, f pos.SaleFilter) ([]pos.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSalesLocked(f)
}

func (m *Memory) listSalesLocked(f pos.SaleFilter) ([]pos.Sale, error) {
	var out []pos.Sale
	// saleOrder is insertion order; walk backwards for newest-first.
	for i := len(m.saleOrder) - 1; i >= 0; i-- {
		s := m.sales[m.saleOrder[i]]
		if f.From != nil && s.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && s.CreatedAt.After(*f.To) {
			continue
		}
		if f.EmployeeID != "" && s.EmployeeID != f.EmployeeID {
			continue
		}
		out = append(out, copySale(s))
	}
	return out, nil
}

func (m *Memory) MarkRefunded(_ context.Context, id pos.SaleID, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markRefundedLocked(id, notes)
}

func (m *Memory) markRefundedLocked(id pos.SaleID, notes string) error {
	s, ok := m.sales[id]
	if !ok {
		return pos.ErrNotFound
	}
	if s.Status != pos.SaleCompleted {
		return pos.ErrAlreadyRefunded
	}
	s.Status = pos.SaleRefunded
	s.Notes = notes
	m.sales[id] = s
	return nil
}

// =============================================================================
// ACCOUNTING LEDGER (append-only)
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, e pos.AccountingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(e)
}

func (m *Memory) appendEntryLocked(e pos.AccountingEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) ListEntries(_ context.Context, f pos.EntryFilter) ([]pos.AccountingEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEntriesLocked(f)
}

func (m *Memory) listEntriesLocked(f pos.EntryFilter) ([]pos.AccountingEntry, error) {
	var out []pos.AccountingEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if f.From != nil && e.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && e.Date.After(*f.To) {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func copySale(s pos.Sale) pos.Sale {
	items := make([]pos.SaleLineItem, len(s.Items))
	copy(items, s.Items)
	payments := make([]pos.Payment, len(s.Payments))
	copy(payments, s.Payments)
	s.Items = items
	s.Payments = payments
	return s
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a snapshot + rollback on error; the store lock is held
// for the duration, so transactions serialize.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(pos.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snap := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	products  map[pos.ProductID]pos.Product
	inventory map[pos.RecordID]pos.InventoryRecord
	byProduct map[pos.ProductID]pos.RecordID
	movements map[pos.RecordID][]pos.StockMovement
	sales     map[pos.SaleID]pos.Sale
	saleOrder []pos.SaleID
	entries   []pos.AccountingEntry
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		products:  make(map[pos.ProductID]pos.Product, len(tm.products)),
		inventory: make(map[pos.RecordID]pos.InventoryRecord, len(tm.inventory)),
		byProduct: make(map[pos.ProductID]pos.RecordID, len(tm.byProduct)),
		movements: make(map[pos.RecordID][]pos.StockMovement, len(tm.movements)),
		sales:     make(map[pos.SaleID]pos.Sale, len(tm.sales)),
		saleOrder: append([]pos.SaleID{}, tm.saleOrder...),
		entries:   append([]pos.AccountingEntry{}, tm.entries...),
	}
	for k, v := range tm.products {
		s.products[k] = v
	}
	for k, v := range tm.inventory {
		s.inventory[k] = v
	}
	for k, v := range tm.byProduct {
		s.byProduct[k] = v
	}
	for k, v := range tm.movements {
		s.movements[k] = append([]pos.StockMovement{}, v...)
	}
	for k, v := range tm.sales {
		s.sales[k] = copySale(v)
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.products = s.products
	tm.inventory = s.inventory
	tm.byProduct = s.byProduct
	tm.movements = s.movements
	tm.sales = s.sales
	tm.saleOrder = s.saleOrder
	tm.entries = s.entries
}

// txMemoryView routes Store calls to the parent's locked internals.
// The parent lock is already held by WithTx.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) GetProduct(_ context.Context, id pos.ProductID) (pos.Product, error) {
	return tv.parent.getProductLocked(id)
}

func (tv *txMemoryView) InsertProduct(_ context.Context, p pos.Product) error {
	return tv.parent.insertProductLocked(p)
}

func (tv *txMemoryView) ListProducts(_ context.Context) ([]pos.Product, error) {
	return tv.parent.listProductsLocked()
}

func (tv *txMemoryView) GetInventoryByProduct(_ context.Context, productID pos.ProductID) (pos.InventoryRecord, error) {
	return tv.parent.getInventoryByProductLocked(productID)
}

func (tv *txMemoryView) GetInventoryRecord(_ context.Context, id pos.RecordID) (pos.InventoryRecord, error) {
	return tv.parent.getInventoryRecordLocked(id)
}

func (tv *txMemoryView) ListInventory(_ context.Context) ([]pos.InventoryRecord, error) {
	return tv.parent.listInventoryLocked()
}

func (tv *txMemoryView) InsertInventoryRecord(_ context.Context, rec pos.InventoryRecord) error {
	return tv.parent.insertInventoryRecordLocked(rec)
}

func (tv *txMemoryView) UpdateQuantity(_ context.Context, u pos.QuantityUpdate) error {
	return tv.parent.updateQuantityLocked(u)
}

func (tv *txMemoryView) ListMovements(_ context.Context, recordID pos.RecordID) ([]pos.StockMovement, error) {
	return tv.parent.listMovementsLocked(recordID)
}

func (tv *txMemoryView) InsertSale(_ context.Context, s pos.Sale) error {
	return tv.parent.insertSaleLocked(s)
}

func (tv *txMemoryView) GetSale(_ context.Context, id pos.SaleID) (pos.Sale, error) {
	return tv.parent.getSaleLocked(id)
}

func (tv *txMemoryView) ListSales(_ context.Context, f pos.SaleFilter) ([]pos.Sale, error) {
	return tv.parent.listSalesLocked(f)
}

func (tv *txMemoryView) MarkRefunded(_ context.Context, id pos.SaleID, notes string) error {
	return tv.parent.markRefundedLocked(id, notes)
}

func (tv *txMemoryView) AppendEntry(_ context.Context, e pos.AccountingEntry) error {
	return tv.parent.appendEntryLocked(e)
}

func (tv *txMemoryView) ListEntries(_ context.Context, f pos.EntryFilter) ([]pos.AccountingEntry, error) {
	return tv.parent.listEntriesLocked(f)
}
