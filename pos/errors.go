/*
errors.go - Centralized error types for the sale engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch on sentinels with errors.Is and extract context from
  structured errors with errors.As.

ERROR CATEGORIES:
  1. Validation errors - malformed input, rejected before any write
  2. Business errors - unavailable product, short stock, short payment,
     refund of an already-refunded sale
  3. Contention errors - optimistic-lock conflicts and retry exhaustion
  4. Storage errors - underlying commit failures, never swallowed

SEE ALSO:
  - engine.go: produces most of these
  - store.go: storage implementations map driver errors onto these
*/
package pos

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input. Nothing was written.
	ErrValidation = errors.New("validation failed")

	// ErrProductUnavailable is returned when a sale references a missing
	// or inactive product.
	ErrProductUnavailable = errors.New("product unavailable")

	// ErrInsufficientStock is returned when on-hand quantity cannot cover
	// a requested reservation.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientPayment is returned when tendered payments sum to
	// strictly less than the sale total.
	ErrInsufficientPayment = errors.New("insufficient payment")

	// ErrNotFound is returned when a referenced sale/product/record
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRefunded is returned when refunding a sale whose status
	// is already refunded. The second refund performs zero mutations.
	ErrAlreadyRefunded = errors.New("sale already refunded")

	// ErrConcurrentModification is returned when an optimistic version
	// check fails. Retryable.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrConflictRetryExhausted is returned when bounded retries on
	// version conflicts are used up.
	ErrConflictRetryExhausted = errors.New("conflict retries exhausted")

	// ErrStorageFailure wraps underlying storage/commit failures.
	ErrStorageFailure = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a single rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ProductUnavailableError identifies which product blocked a sale.
type ProductUnavailableError struct {
	ProductID ProductID
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s not found or inactive", e.ProductID)
}

func (e *ProductUnavailableError) Unwrap() error { return ErrProductUnavailable }

// InsufficientStockError reports a stock shortage for one line item.
type InsufficientStockError struct {
	ProductID ProductID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InsufficientPaymentError reports a payment shortfall.
type InsufficientPaymentError struct {
	Required decimal.Decimal
	Given    decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: required %s, given %s",
		e.Required.StringFixed(2), e.Given.StringFixed(2))
}

func (e *InsufficientPaymentError) Unwrap() error { return ErrInsufficientPayment }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input
// or a business-rule rejection (HTTP 400/409 class).
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrProductUnavailable) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientPayment) ||
		errors.Is(err, ErrAlreadyRefunded)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
