/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY ON THE WIRE:
  All monetary fields are decimal strings ("22.00"), never floats.
  Quantities are integers.

VALIDATION:
  Structural validation (shape, presence) happens in handlers; business
  validation lives in the pos package. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/pos-engine/pos"
)

// =============================================================================
// SALES
// =============================================================================

// SaleItemRequest is one cart line in a create-sale request.
type SaleItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Discount  string `json:"discount,omitempty"` // decimal string, optional
}

// PaymentRequest is one tendered payment in a create-sale request.
type PaymentRequest struct {
	Method string `json:"method"`
	Amount string `json:"amount"` // decimal string
}

// CreateSaleRequest is the request to process a sale.
type CreateSaleRequest struct {
	Items      []SaleItemRequest `json:"items"`
	Payments   []PaymentRequest  `json:"payments"`
	CustomerID string            `json:"customer_id,omitempty"`
	Notes      string            `json:"notes,omitempty"`
}

// RefundSaleRequest is the request to refund a sale.
type RefundSaleRequest struct {
	Reason string `json:"reason"`
}

// SaleLineItemDTO is one line of a sale in responses.
type SaleLineItemDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	TaxRate   string `json:"tax_rate"`
	Discount  string `json:"discount"`
}

// PaymentDTO is one payment in responses.
type PaymentDTO struct {
	Method string `json:"method"`
	Amount string `json:"amount"`
}

// SaleDTO represents a sale in API responses.
type SaleDTO struct {
	ID         string            `json:"id"`
	Items      []SaleLineItemDTO `json:"items"`
	Subtotal   string            `json:"subtotal"`
	Tax        string            `json:"tax"`
	Total      string            `json:"total"`
	Payments   []PaymentDTO      `json:"payments"`
	ChangeDue  string            `json:"change_due"`
	EmployeeID string            `json:"employee_id"`
	CustomerID string            `json:"customer_id,omitempty"`
	Notes      string            `json:"notes,omitempty"`
	Status     string            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
}

func toSaleDTO(s pos.Sale) SaleDTO {
	items := make([]SaleLineItemDTO, len(s.Items))
	for i, it := range s.Items {
		items[i] = SaleLineItemDTO{
			ProductID: string(it.ProductID),
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
			TaxRate:   it.TaxRate.String(),
			Discount:  it.Discount.StringFixed(2),
		}
	}
	payments := make([]PaymentDTO, len(s.Payments))
	for i, p := range s.Payments {
		payments[i] = PaymentDTO{Method: p.Method, Amount: p.Amount.StringFixed(2)}
	}
	return SaleDTO{
		ID:         string(s.ID),
		Items:      items,
		Subtotal:   s.Subtotal.StringFixed(2),
		Tax:        s.Tax.StringFixed(2),
		Total:      s.Total.StringFixed(2),
		Payments:   payments,
		ChangeDue:  s.ChangeDue.StringFixed(2),
		EmployeeID: string(s.EmployeeID),
		CustomerID: s.CustomerID,
		Notes:      s.Notes,
		Status:     string(s.Status),
		CreatedAt:  s.CreatedAt,
	}
}

// =============================================================================
// PRODUCTS
// =============================================================================

// CreateProductRequest creates a catalog product (and its empty
// inventory record).
type CreateProductRequest struct {
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	SKU               string `json:"sku"`
	Category          string `json:"category,omitempty"`
	Price             string `json:"price"`
	Cost              string `json:"cost"`
	TaxRate           string `json:"tax_rate,omitempty"`
	Barcode           string `json:"barcode,omitempty"`
	ImageURL          string `json:"image_url,omitempty"`
	Location          string `json:"location,omitempty"`
	LowStockThreshold int    `json:"low_stock_threshold,omitempty"`
}

// ProductDTO represents a product in API responses.
type ProductDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	SKU         string    `json:"sku"`
	Category    string    `json:"category,omitempty"`
	Price       string    `json:"price"`
	Cost        string    `json:"cost"`
	TaxRate     string    `json:"tax_rate"`
	Barcode     string    `json:"barcode,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

func toProductDTO(p pos.Product) ProductDTO {
	return ProductDTO{
		ID:          string(p.ID),
		Name:        p.Name,
		Description: p.Description,
		SKU:         p.SKU,
		Category:    p.Category,
		Price:       p.Price.StringFixed(2),
		Cost:        p.Cost.StringFixed(2),
		TaxRate:     p.TaxRate.String(),
		Barcode:     p.Barcode,
		ImageURL:    p.ImageURL,
		IsActive:    p.IsActive,
		CreatedAt:   p.CreatedAt,
	}
}

// =============================================================================
// INVENTORY
// =============================================================================

// AdjustStockRequest updates an inventory record's quantity.
type AdjustStockRequest struct {
	Quantity       int    `json:"quantity"`
	AdjustmentType string `json:"adjustment_type"` // "add" or "set"
	Reason         string `json:"reason,omitempty"`
}

// InventoryDTO represents an inventory record in API responses.
type InventoryDTO struct {
	ID                string     `json:"id"`
	ProductID         string     `json:"product_id"`
	Quantity          int        `json:"quantity"`
	Location          string     `json:"location,omitempty"`
	LowStockThreshold int        `json:"low_stock_threshold"`
	LowStock          bool       `json:"low_stock"`
	LastRestocked     *time.Time `json:"last_restocked,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toInventoryDTO(rec pos.InventoryRecord) InventoryDTO {
	dto := InventoryDTO{
		ID:                string(rec.ID),
		ProductID:         string(rec.ProductID),
		Quantity:          rec.Quantity,
		Location:          rec.Location,
		LowStockThreshold: rec.LowStockThreshold,
		LowStock:          rec.LowStock(),
		UpdatedAt:         rec.UpdatedAt,
	}
	if !rec.LastRestocked.IsZero() {
		t := rec.LastRestocked
		dto.LastRestocked = &t
	}
	return dto
}

// MovementDTO is one attributed stock movement.
type MovementDTO struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"product_id"`
	Delta      int       `json:"delta"`
	Cause      string    `json:"cause"`
	Reference  string    `json:"reference"`
	RecordedAt time.Time `json:"recorded_at"`
}

func toMovementDTO(m pos.StockMovement) MovementDTO {
	return MovementDTO{
		ID:         m.ID,
		ProductID:  string(m.ProductID),
		Delta:      m.Delta,
		Cause:      string(m.Cause),
		Reference:  m.Reference,
		RecordedAt: m.RecordedAt,
	}
}

// =============================================================================
// ACCOUNTING
// =============================================================================

// CreateEntryRequest posts a manual accounting entry.
type CreateEntryRequest struct {
	Date        string `json:"date,omitempty"` // RFC3339, defaults to now
	Type        string `json:"type"`
	Amount      string `json:"amount"` // decimal string, signed
	Description string `json:"description"`
	Reference   string `json:"reference"`
	Category    string `json:"category"`
}

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	Type        string    `json:"type"`
	Amount      string    `json:"amount"`
	Description string    `json:"description"`
	Reference   string    `json:"reference"`
	Category    string    `json:"category"`
	RecordedBy  string    `json:"recorded_by"`
}

func toEntryDTO(e pos.AccountingEntry) EntryDTO {
	return EntryDTO{
		ID:          string(e.ID),
		Date:        e.Date,
		Type:        string(e.Type),
		Amount:      e.Amount.StringFixed(2),
		Description: e.Description,
		Reference:   e.Reference,
		Category:    string(e.Category),
		RecordedBy:  string(e.RecordedBy),
	}
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// parseMoney parses an optional decimal string, "" meaning zero.
func parseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
