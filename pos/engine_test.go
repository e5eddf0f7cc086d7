package pos_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pos-engine/pos"
	"github.com/warp/pos-engine/pos/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func money(s string) decimal.Decimal { return pos.MustMoney(s) }

type fixture struct {
	store  *store.TxMemory
	engine *pos.Engine
}

func newFixture() *fixture {
	st := store.NewTxMemory()
	return &fixture{store: st, engine: pos.NewEngine(st)}
}

// seedProduct creates a product and its inventory record, returning the
// product id.
func (f *fixture) seedProduct(t *testing.T, name, price, taxRate string, stock int) pos.ProductID {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	product := pos.Product{
		ID:       pos.NewProductID(),
		Name:     name,
		SKU:      "sku-" + name,
		Price:    money(price),
		Cost:     money(price).Div(decimal.NewFromInt(2)).Round(2),
		TaxRate:  money(taxRate),
		IsActive: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.store.InsertProduct(ctx, product))
	require.NoError(t, f.store.InsertInventoryRecord(ctx, pos.InventoryRecord{
		ID:        pos.NewRecordID(),
		ProductID: product.ID,
		Quantity:  stock,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	return product.ID
}

func (f *fixture) quantity(t *testing.T, productID pos.ProductID) int {
	t.Helper()
	rec, err := f.store.GetInventoryByProduct(context.Background(), productID)
	require.NoError(t, err)
	return rec.Quantity
}

func (f *fixture) entries(t *testing.T) []pos.AccountingEntry {
	t.Helper()
	entries, err := f.store.ListEntries(context.Background(), pos.EntryFilter{})
	require.NoError(t, err)
	return entries
}

func cashPayment(amount string) []pos.PaymentInput {
	return []pos.PaymentInput{{Method: "cash", Amount: money(amount)}}
}

// =============================================================================
// PROCESS SALE
// =============================================================================

func TestProcessSale_ConcreteScenario(t *testing.T) {
	// GIVEN: product P (price=10.00, taxRate=10%, stock=5)
	// WHEN: selling qty=2 with a 25.00 payment
	// THEN: subtotal=20.00, tax=2.00, total=22.00, change=3.00, stock=3,
	//       one revenue entry of 22.00 referencing the sale

	ctx := context.Background()
	f := newFixture()
	productID := f.seedProduct(t, "widget", "10.00", "10", 5)

	sale, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
		Items:    []pos.SaleItemInput{{ProductID: productID, Quantity: 2}},
		Payments: cashPayment("25.00"),
		ActorID:  "emp-1",
	})
	require.NoError(t, err)

	assert.True(t, sale.Subtotal.Equal(money("20.00")), "subtotal: %s", sale.Subtotal)
	assert.True(t, sale.Tax.Equal(money("2.00")), "tax: %s", sale.Tax)
	assert.True(t, sale.Total.Equal(money("22.00")), "total: %s", sale.Total)
	assert.True(t, sale.ChangeDue.Equal(money("3.00")), "change: %s", sale.ChangeDue)
	assert.Equal(t, pos.SaleCompleted, sale.Status)
	assert.Equal(t, pos.ActorID("emp-1"), sale.EmployeeID)

	// Price snapshot captured on the line item
	require.Len(t, sale.Items, 1)
	assert.True(t, sale.Items[0].UnitPrice.Equal(money("10.00")))
	assert.True(t, sale.Items[0].TaxRate.Equal(money("10")))

	assert.Equal(t, 3, f.quantity(t, productID))

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, pos.EntrySale, entries[0].Type)
	assert.Equal(t, pos.CategoryRevenue, entries[0].Category)
	assert.True(t, entries[0].Amount.Equal(money("22.00")))
	assert.Equal(t, string(sale.ID), entries[0].Reference)
	assert.Equal(t, pos.ActorID("emp-1"), entries[0].RecordedBy)
}

func TestProcessSale_TotalEqualsSubtotalPlusTax(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	p1 := f.seedProduct(t, "a", "3.99", "8.25", 10)
	p2 := f.seedProduct(t, "b", "12.50", "0", 10)

	sale, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
		Items: []pos.SaleItemInput{
			{ProductID: p1, Quantity: 3},
			{ProductID: p2, Quantity: 1},
		},
		Payments: cashPayment("100.00"),
		ActorID:  "emp-1",
	})
	require.NoError(t, err)

	assert.True(t, sale.Total.Equal(sale.Subtotal.Add(sale.Tax)),
		"total %s != subtotal %s + tax %s", sale.Total, sale.Subtotal, sale.Tax)

	var wantSubtotal decimal.Decimal
	for _, it := range sale.Items {
		wantSubtotal = wantSubtotal.Add(it.Net())
	}
	assert.True(t, sale.Subtotal.Equal(wantSubtotal))
}

func TestProcessSale_DiscountTaxedOnNet(t *testing.T) {
	// GIVEN: price=10.00, taxRate=10%, discount=5.00 on a 2-unit line
	// WHEN: processing the sale
	// THEN: net=15.00 and tax=1.50 (tax applies after the discount)

	ctx := context.Background()
	f := newFixture()
	productID := f.seedProduct(t, "widget", "10.00", "10", 5)

	sale, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
		Items:    []pos.SaleItemInput{{ProductID: productID, Quantity: 2, Discount: money("5.00")}},
		Payments: cashPayment("20.00"),
		ActorID:  "emp-1",
	})
	require.NoError(t, err)

	assert.True(t, sale.Subtotal.Equal(money("15.00")), "subtotal: %s", sale.Subtotal)
	assert.True(t, sale.Tax.Equal(money("1.50")), "tax: %s", sale.Tax)
	assert.True(t, sale.Total.Equal(money("16.50")), "total: %s", sale.Total)
}

func TestProcessSale_DuplicateProductLines(t *testing.T) {
	// GIVEN: stock=5 and a cart listing the same product on two lines
	//        (qty 2 and qty 1)
	// WHEN: processing the sale
	// THEN: it succeeds with both lines priced, stock drops by the
	//       combined quantity and a single attributed movement records it

	ctx := context.Background()
	f := newFixture()
	productID := f.seedProduct(t, "widget", "10.00", "0", 5)

	sale, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
		Items: []pos.SaleItemInput{
			{ProductID: productID, Quantity: 2},
			{ProductID: productID, Quantity: 1},
		},
		Payments: cashPayment("30.00"),
		ActorID:  "emp-1",
	})
	require.NoError(t, err)

	require.Len(t, sale.Items, 2, "lines stay separate on the sale record")
	assert.True(t, sale.Subtotal.Equal(money("30.00")))
	assert.True(t, sale.Total.Equal(money("30.00")))
	assert.Equal(t, 2, f.quantity(t, productID))

	rec, err := f.store.GetInventoryByProduct(ctx, productID)
	require.NoError(t, err)
	ms, err := f.store.ListMovements(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, ms, 1, "combined reservation applies as one write")
	assert.Equal(t, -3, ms[0].Delta)
	assert.Equal(t, string(sale.ID), ms[0].Reference)
}

func TestProcessSale_DuplicateLines_CombinedShortageRejected(t *testing.T) {
	// Each line fits on its own, but together they exceed stock.

	ctx := context.Background()
	f := newFixture()
	productID := f.seedProduct(t, "widget", "10.00", "0", 5)

	_, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
		Items: []pos.SaleItemInput{
			{ProductID: productID, Quantity: 3},
			{ProductID: productID, Quantity: 3},
		},
		Payments: cashPayment("100.00"),
		ActorID:  "emp-1",
	})
	require.Error(t, err)

	var stockErr *pos.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 6, stockErr.Requested, "shortage reported against the combined quantity")
	assert.Equal(t, 5, stockErr.Available)
	assert.Equal(t, 5, f.quantity(t, productID))
}

func TestRefundSale_DuplicateProductLines_RestoresStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	productID := f.seedProduct(t, "widget", "10.00", "0", 5)

	sale, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
		Items: []pos.SaleItemInput{
			{ProductID: productID, Quantity: 2},
			{ProductID: productID, Quantity: 1},
		},
		Payments: cashPayment("30.00"),
		ActorID:  "emp-1",
	})
	require.NoError(t, err)
	require.Equal(t, 2, f.quantity(t, productID))

	_, err = f.engine.RefundSale(ctx, sale.ID, "returned", "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, 5, f.quantity(t, productID))
}

func TestProcessSale_ExactPaymentAccepted(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	productID := f.seedProduct(t, "widget", "10.00", "10", 5)

	sale, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
		Items:    []pos.SaleItemInput{{ProductID: productID, Quantity: 2}},
		Payments: cashPayment("22.00"),
		ActorID:  "emp-1",
	})
	require.NoError(t, err)
	assert.True(t, sale.ChangeDue.IsZero())
}

func TestProcessSale_SplitPayments(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	productID := f.seedProduct(t, "widget", "10.00", "10", 5)

	sale, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
		Items: []pos.SaleItemInput{{ProductID: productID, Quantity: 2}},
		Payments: []pos.PaymentInput{
			{Method: "card", Amount: money("20.00")},
			{Method: "cash", Amount: money("5.00")},
		},
		ActorID: "emp-1",
	})
	require.NoError(t, err)
	assert.True(t, sale.ChangeDue.Equal(money("3.00")))
	assert.Len(t, sale.Payments, 2)
}

// =============================================================================
// PROCESS SALE - FAILURE ATOMICITY
// =============================================================================

func TestProcessSale_InsufficientStock_AbortsWholeSale(t *testing.T) {
	// GIVEN: two items, the second short on stock
	// WHEN: processing the sale
	// THEN: the whole sale aborts; the first item's stock is untouched
	//       and no sale or ledger entry exists

	ctx := context.Background()
	f := newFixture()
	plenty := f.seedProduct(t, "plenty", "5.00", "0", 100)
	scarce := f.seedProduct(t, "scarce", "5.00", "0", 1)

	_, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
		Items: []pos.SaleItemInput{
			{ProductID: plenty, Quantity: 10},
			{ProductID: scarce, Quantity: 2},
		},
		Payments: cashPayment("100.00"),
		ActorID:  "emp-1",
	})
	require.Error(t, err)

	var stockErr *pos.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, scarce, stockErr.ProductID)
	assert.Equal(t, 2, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)

	assert.Equal(t, 100, f.quantity(t, plenty), "first item's stock must be untouched")
	assert.Equal(t, 1, f.quantity(t, scarce))
	assert.Empty(t, f.entries(t), "no ledger entry may survive an aborted sale")

	sales, err := f.store.ListSales(ctx, pos.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestProcessSale_InsufficientPayment_NoStateMutated(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	productID := f.seedProduct(t, "widget", "10.00", "10", 5)

	_, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
		Items:    []pos.SaleItemInput{{ProductID: productID, Quantity: 2}},
		Payments: cashPayment("21.99"), // total is 22.00
		ActorID:  "emp-1",
	})
	require.ErrorIs(t, err, pos.ErrInsufficientPayment)

	var payErr *pos.InsufficientPaymentError
	require.ErrorAs(t, err, &payErr)
	assert.True(t, payErr.Required.Equal(money("22.00")))
	assert.True(t, payErr.Given.Equal(money("21.99")))

	assert.Equal(t, 5, f.quantity(t, productID))
	assert.Empty(t, f.entries(t))
}

func TestProcessSale_InactiveProduct_Rejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	now := time.Now().UTC()

	product := pos.Product{
		ID: pos.NewProductID(), Name: "retired", SKU: "sku-retired",
		Price: money("10.00"), Cost: money("5.00"), TaxRate: money("0"),
		IsActive: false, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.store.InsertProduct(ctx, product))

	_, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
		Items:    []pos.SaleItemInput{{ProductID: product.ID, Quantity: 1}},
		Payments: cashPayment("10.00"),
		ActorID:  "emp-1",
	})
	assert.ErrorIs(t, err, pos.ErrProductUnavailable)
}

func TestProcessSale_UnknownProduct_Rejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
		Items:    []pos.SaleItemInput{{ProductID: "prod-nope", Quantity: 1}},
		Payments: cashPayment("10.00"),
		ActorID:  "emp-1",
	})
	assert.ErrorIs(t, err, pos.ErrProductUnavailable)
}

func TestProcessSale_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	productID := f.seedProduct(t, "widget", "10.00", "0", 5)

	cases := []struct {
		name string
		req  pos.SaleRequest
	}{
		{"no items", pos.SaleRequest{
			Payments: cashPayment("10.00"), ActorID: "emp-1",
		}},
		{"zero quantity", pos.SaleRequest{
			Items:    []pos.SaleItemInput{{ProductID: productID, Quantity: 0}},
			Payments: cashPayment("10.00"), ActorID: "emp-1",
		}},
		{"no payments", pos.SaleRequest{
			Items:   []pos.SaleItemInput{{ProductID: productID, Quantity: 1}},
			ActorID: "emp-1",
		}},
		{"negative payment", pos.SaleRequest{
			Items:    []pos.SaleItemInput{{ProductID: productID, Quantity: 1}},
			Payments: []pos.PaymentInput{{Method: "cash", Amount: money("-1.00")}},
			ActorID:  "emp-1",
		}},
		{"negative discount", pos.SaleRequest{
			Items:    []pos.SaleItemInput{{ProductID: productID, Quantity: 1, Discount: money("-1")}},
			Payments: cashPayment("10.00"), ActorID: "emp-1",
		}},
		{"missing actor", pos.SaleRequest{
			Items:    []pos.SaleItemInput{{ProductID: productID, Quantity: 1}},
			Payments: cashPayment("10.00"),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.ProcessSale(ctx, tc.req)
			assert.ErrorIs(t, err, pos.ErrValidation)
		})
	}

	// Validation failures write nothing
	assert.Equal(t, 5, f.quantity(t, productID))
	assert.Empty(t, f.entries(t))
}

// =============================================================================
// REFUND
// =============================================================================

func TestRefundSale_RoundTrip(t *testing.T) {
	// GIVEN: a completed sale of qty=2 from stock=5
	// WHEN: refunding it
	// THEN: stock returns to 5 and the two ledger entries sum to zero

	ctx := context.Background()
	f := newFixture()
	productID := f.seedProduct(t, "widget", "10.00", "10", 5)

	sale, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
		Items:    []pos.SaleItemInput{{ProductID: productID, Quantity: 2}},
		Payments: cashPayment("25.00"),
		ActorID:  "emp-1",
	})
	require.NoError(t, err)
	require.Equal(t, 3, f.quantity(t, productID))

	refunded, err := f.engine.RefundSale(ctx, sale.ID, "customer returned items", "mgr-1")
	require.NoError(t, err)

	assert.Equal(t, pos.SaleRefunded, refunded.Status)
	assert.Contains(t, refunded.Notes, "customer returned items")
	assert.Contains(t, refunded.Notes, "mgr-1")
	assert.Equal(t, 5, f.quantity(t, productID), "refund must restore pre-sale stock")

	entries := f.entries(t)
	require.Len(t, entries, 2)
	sum := decimal.Zero
	for _, e := range entries {
		assert.Equal(t, string(sale.ID), e.Reference)
		sum = sum.Add(e.Amount)
	}
	assert.True(t, sum.IsZero(), "sale + refund entries must sum to zero, got %s", sum)
}

func TestRefundSale_PreservesExistingNotes(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	productID := f.seedProduct(t, "widget", "10.00", "0", 5)

	sale, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
		Items:    []pos.SaleItemInput{{ProductID: productID, Quantity: 1}},
		Payments: cashPayment("10.00"),
		Notes:    "gift wrap requested",
		ActorID:  "emp-1",
	})
	require.NoError(t, err)

	refunded, err := f.engine.RefundSale(ctx, sale.ID, "damaged", "mgr-1")
	require.NoError(t, err)

	assert.Contains(t, refunded.Notes, "gift wrap requested", "refund must append, not overwrite")
	assert.Contains(t, refunded.Notes, "damaged")
}

func TestRefundSale_Idempotence(t *testing.T) {
	// GIVEN: a sale that has already been refunded
	// WHEN: refunding it again
	// THEN: AlreadyRefunded, and quantities/ledger are unchanged from
	//       after the first refund

	ctx := context.Background()
	f := newFixture()
	productID := f.seedProduct(t, "widget", "10.00", "10", 5)

	sale, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
		Items:    []pos.SaleItemInput{{ProductID: productID, Quantity: 2}},
		Payments: cashPayment("25.00"),
		ActorID:  "emp-1",
	})
	require.NoError(t, err)

	_, err = f.engine.RefundSale(ctx, sale.ID, "first refund", "mgr-1")
	require.NoError(t, err)
	qtyAfterFirst := f.quantity(t, productID)
	entriesAfterFirst := len(f.entries(t))

	_, err = f.engine.RefundSale(ctx, sale.ID, "second refund", "mgr-1")
	assert.ErrorIs(t, err, pos.ErrAlreadyRefunded)

	assert.Equal(t, qtyAfterFirst, f.quantity(t, productID), "no double restock")
	assert.Len(t, f.entries(t), entriesAfterFirst, "no double ledger posting")
}

func TestRefundSale_UnknownSale(t *testing.T) {
	f := newFixture()
	_, err := f.engine.RefundSale(context.Background(), "sale-nope", "reason", "mgr-1")
	assert.ErrorIs(t, err, pos.ErrNotFound)
}

func TestRefundSale_MissingInventoryRecord_Tolerated(t *testing.T) {
	// GIVEN: a persisted sale whose product has no inventory record
	// WHEN: refunding it
	// THEN: the refund succeeds (restock skipped with a warning) and the
	//       negative entry is still posted

	ctx := context.Background()
	f := newFixture()
	now := time.Now().UTC()

	sale := pos.Sale{
		ID: pos.NewSaleID(),
		Items: []pos.SaleLineItem{{
			ProductID: "prod-ghost", Quantity: 1,
			UnitPrice: money("10.00"), TaxRate: money("0"), Discount: decimal.Zero,
		}},
		Subtotal: money("10.00"), Tax: decimal.Zero, Total: money("10.00"),
		Payments:   []pos.Payment{{Method: "cash", Amount: money("10.00")}},
		ChangeDue:  decimal.Zero,
		EmployeeID: "emp-1",
		Status:     pos.SaleCompleted,
		CreatedAt:  now,
	}
	require.NoError(t, f.store.InsertSale(ctx, sale))

	refunded, err := f.engine.RefundSale(ctx, sale.ID, "no record", "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, pos.SaleRefunded, refunded.Status)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Amount.Equal(money("-10.00")))
}

// =============================================================================
// CONCURRENCY & CONTENTION
// =============================================================================

func TestProcessSale_ConcurrentSales_NeverOversell(t *testing.T) {
	// GIVEN: stock=5 and 10 concurrent buyers of qty=1
	// THEN: exactly 5 sales succeed and stock ends at 0

	ctx := context.Background()
	f := newFixture()
	productID := f.seedProduct(t, "widget", "10.00", "0", 5)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.engine.ProcessSale(ctx, pos.SaleRequest{
				Items:    []pos.SaleItemInput{{ProductID: productID, Quantity: 1}},
				Payments: cashPayment("10.00"),
				ActorID:  pos.ActorID(fmt.Sprintf("emp-%d", n)),
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded, failed := 0, 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, pos.ErrInsufficientStock)
			failed++
		}
	}
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, failed)
	assert.Equal(t, 0, f.quantity(t, productID))
	assert.Len(t, f.entries(t), 5)
}

// contentiousStore fails WithTx with a version conflict a fixed number
// of times before delegating.
type contentiousStore struct {
	pos.TxStore
	conflicts int
}

func (c *contentiousStore) WithTx(ctx context.Context, fn func(pos.Store) error) error {
	if c.conflicts > 0 {
		c.conflicts--
		return pos.ErrConcurrentModification
	}
	return c.TxStore.WithTx(ctx, fn)
}

func TestProcessSale_ConflictRetry_SucceedsWithinBudget(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	productID := f.seedProduct(t, "widget", "10.00", "0", 5)

	engine := pos.NewEngine(&contentiousStore{TxStore: f.store, conflicts: 2})
	sale, err := engine.ProcessSale(ctx, pos.SaleRequest{
		Items:    []pos.SaleItemInput{{ProductID: productID, Quantity: 1}},
		Payments: cashPayment("10.00"),
		ActorID:  "emp-1",
	})
	require.NoError(t, err, "two conflicts fit inside the default retry budget")
	assert.Equal(t, pos.SaleCompleted, sale.Status)
}

func TestProcessSale_ConflictRetry_Exhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	productID := f.seedProduct(t, "widget", "10.00", "0", 5)

	engine := pos.NewEngine(&contentiousStore{TxStore: f.store, conflicts: 100})
	_, err := engine.ProcessSale(ctx, pos.SaleRequest{
		Items:    []pos.SaleItemInput{{ProductID: productID, Quantity: 1}},
		Payments: cashPayment("10.00"),
		ActorID:  "emp-1",
	})
	assert.ErrorIs(t, err, pos.ErrConflictRetryExhausted)
	assert.Equal(t, 5, f.quantity(t, productID), "nothing committed")
}
