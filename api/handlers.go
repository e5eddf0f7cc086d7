/*
handlers.go - HTTP API handlers for the point-of-sale backend

PURPOSE:
  Exposes the sale engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Sales:
    POST   /api/sales                Process a sale
    GET    /api/sales                List sales (date range, employee)
    GET    /api/sales/{id}           Get sale details
    POST   /api/sales/{id}/refund    Refund a completed sale

  Products:
    GET    /api/products             List products
    POST   /api/products             Create product (+ inventory record)
    GET    /api/products/{id}        Get product

  Inventory:
    GET    /api/inventory            List stock (?lowStock=true to filter)
    GET    /api/inventory/{id}/movements  Attributed movement trail
    PUT    /api/inventory/{id}/stock Manual adjustment (posts COGS entry)

  Accounting:
    GET    /api/accounting           List ledger entries (filters)
    POST   /api/accounting           Manual ledger entry

ACTOR IDENTITY:
  The authenticated actor arrives as the X-Actor-ID header, supplied by
  the authenticating front layer. Requests without it are rejected.

ERROR HANDLING:
  Errors are returned as JSON with the appropriate HTTP status:
  - 400: Validation, unavailable product, short stock, short payment
  - 404: Missing sale/product/record
  - 409: Already refunded, conflict retries exhausted
  - 500: Storage failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/pos-engine/pos"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     pos.TxStore
	Engine    *pos.Engine
	Inventory *pos.Inventory
	Ledger    *pos.LedgerPoster
}

// NewHandler creates a new handler with the given store.
func NewHandler(store pos.TxStore) *Handler {
	return &Handler{
		Store:     store,
		Engine:    pos.NewEngine(store),
		Inventory: pos.NewInventory(store),
		Ledger:    pos.NewPoster(store),
	}
}

// actorID extracts the authenticated actor from the request. The
// authenticating layer in front of this service is responsible for
// populating the header.
func actorID(r *http.Request) pos.ActorID {
	return pos.ActorID(r.Header.Get("X-Actor-ID"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pos.ErrAlreadyRefunded),
		errors.Is(err, pos.ErrConflictRetryExhausted):
		status = http.StatusConflict
	case pos.IsNotFound(err):
		status = http.StatusNotFound
	case pos.IsClientError(err):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// =============================================================================
// SALES
// =============================================================================

// CreateSale processes a new sale.
// POST /api/sales
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing actor identity"})
		return
	}

	var req CreateSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	items := make([]pos.SaleItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		discount, err := parseMoney(it.Discount)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid discount amount"})
			return
		}
		items = append(items, pos.SaleItemInput{
			ProductID: pos.ProductID(it.ProductID),
			Quantity:  it.Quantity,
			Discount:  discount,
		})
	}

	payments := make([]pos.PaymentInput, 0, len(req.Payments))
	for _, p := range req.Payments {
		amount, err := parseMoney(p.Amount)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payment amount"})
			return
		}
		payments = append(payments, pos.PaymentInput{Method: p.Method, Amount: amount})
	}

	sale, err := h.Engine.ProcessSale(r.Context(), pos.SaleRequest{
		Items:      items,
		Payments:   payments,
		CustomerID: req.CustomerID,
		Notes:      req.Notes,
		ActorID:    actor,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(sale))
}

// ListSales lists sales, optionally filtered.
// GET /api/sales?startDate=...&endDate=...&employee=...
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	var filter pos.SaleFilter
	if v := r.URL.Query().Get("startDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid startDate"})
			return
		}
		filter.From = &t
	}
	if v := r.URL.Query().Get("endDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid endDate"})
			return
		}
		filter.To = &t
	}
	filter.EmployeeID = pos.ActorID(r.URL.Query().Get("employee"))

	sales, err := h.Store.ListSales(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]SaleDTO, len(sales))
	for i, s := range sales {
		out[i] = toSaleDTO(s)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSale returns one sale.
// GET /api/sales/{id}
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Store.GetSale(r.Context(), pos.SaleID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// RefundSale refunds a completed sale.
// POST /api/sales/{id}/refund
func (h *Handler) RefundSale(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing actor identity"})
		return
	}

	var req RefundSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	sale, err := h.Engine.RefundSale(r.Context(), pos.SaleID(chi.URLParam(r, "id")), req.Reason, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// =============================================================================
// PRODUCTS
// =============================================================================

// CreateProduct creates a catalog product and its zero-quantity
// inventory record in one transaction.
// POST /api/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing actor identity"})
		return
	}

	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Name == "" || req.SKU == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "name and sku are required"})
		return
	}

	price, err := parseMoney(req.Price)
	if err != nil || price.IsNegative() {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "price must be a non-negative decimal"})
		return
	}
	cost, err := parseMoney(req.Cost)
	if err != nil || cost.IsNegative() {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "cost must be a non-negative decimal"})
		return
	}
	taxRate, err := parseMoney(req.TaxRate)
	if err != nil || taxRate.IsNegative() {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "tax_rate must be a non-negative decimal"})
		return
	}

	now := time.Now().UTC()
	product := pos.Product{
		ID:          pos.NewProductID(),
		Name:        req.Name,
		Description: req.Description,
		SKU:         req.SKU,
		Category:    req.Category,
		Price:       price,
		Cost:        cost,
		TaxRate:     taxRate,
		Barcode:     req.Barcode,
		ImageURL:    req.ImageURL,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	record := pos.InventoryRecord{
		ID:                pos.NewRecordID(),
		ProductID:         product.ID,
		Quantity:          0,
		Location:          req.Location,
		LowStockThreshold: req.LowStockThreshold,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = h.Store.WithTx(r.Context(), func(s pos.Store) error {
		if err := s.InsertProduct(r.Context(), product); err != nil {
			return err
		}
		return s.InsertInventoryRecord(r.Context(), record)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(product))
}

// ListProducts lists catalog products.
// GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]ProductDTO, len(products))
	for i, p := range products {
		out[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetProduct returns one product.
// GET /api/products/{id}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetProduct(r.Context(), pos.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// =============================================================================
// INVENTORY
// =============================================================================

// ListInventory lists stock records, lowest quantity first.
// GET /api/inventory?lowStock=true
func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListInventory(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	lowOnly := r.URL.Query().Get("lowStock") == "true"
	out := make([]InventoryDTO, 0, len(records))
	for _, rec := range records {
		if lowOnly && !rec.LowStock() {
			continue
		}
		out = append(out, toInventoryDTO(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListMovements returns the attributed movement trail for a record.
// GET /api/inventory/{id}/movements
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	recordID := pos.RecordID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetInventoryRecord(r.Context(), recordID); err != nil {
		writeError(w, err)
		return
	}
	movements, err := h.Store.ListMovements(r.Context(), recordID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]MovementDTO, len(movements))
	for i, m := range movements {
		out[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, out)
}

// AdjustStock applies a manual stock adjustment. The matching COGS
// ledger entry is posted atomically with the quantity change.
// PUT /api/inventory/{id}/stock
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing actor identity"})
		return
	}

	var req AdjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	rec, err := h.Inventory.Adjust(r.Context(),
		pos.RecordID(chi.URLParam(r, "id")),
		req.Quantity, pos.AdjustMode(req.AdjustmentType), req.Reason, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryDTO(rec))
}

// =============================================================================
// ACCOUNTING
// =============================================================================

// ListEntries lists ledger entries with optional filters.
// GET /api/accounting?startDate=...&endDate=...&type=...&category=...
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	var filter pos.EntryFilter
	if v := r.URL.Query().Get("startDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid startDate"})
			return
		}
		filter.From = &t
	}
	if v := r.URL.Query().Get("endDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid endDate"})
			return
		}
		filter.To = &t
	}
	filter.Type = pos.EntryType(r.URL.Query().Get("type"))
	filter.Category = pos.EntryCategory(r.URL.Query().Get("category"))

	entries, err := h.Ledger.Entries(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateEntry posts a manual accounting entry.
// POST /api/accounting
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing actor identity"})
		return
	}

	var req CreateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "amount must be a decimal"})
		return
	}

	entry := pos.AccountingEntry{
		Type:        pos.EntryType(req.Type),
		Amount:      amount,
		Description: req.Description,
		Reference:   req.Reference,
		Category:    pos.EntryCategory(req.Category),
		RecordedBy:  actor,
	}
	if req.Date != "" {
		t, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid date"})
			return
		}
		entry.Date = t
	}

	id, err := h.Ledger.Post(r.Context(), entry)
	if err != nil {
		writeError(w, err)
		return
	}
	entry.ID = id
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}
