/*
ledger.go - Append-only accounting ledger poster

PURPOSE:
  The accounting ledger is the immutable financial record of the system.
  Every sale, refund and inventory adjustment posts exactly one entry
  here. Entries are never updated or deleted; a refund is a new
  negative-amount entry referencing the same sale.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Post is the only write. No update, no delete. EVER.
  2. ATTRIBUTED: every entry carries a reference (the causing sale or
     inventory record) and the actor who recorded it.
  3. TYPED: type and category come from closed enums; unknown values
     are rejected before any write.

SEE ALSO:
  - engine.go: posts sale and refund entries inside the sale transaction
  - inventory.go: posts COGS entries for manual adjustments
*/
package pos

import (
	"context"
	"time"
)

// Poster appends immutable accounting entries. No update or delete
// operation exists.
type Poster interface {
	Post(ctx context.Context, e AccountingEntry) (EntryID, error)
}

// LedgerPoster is the default Poster over a Store. Construct it over a
// transactional Store view to make the posting part of a larger atomic
// unit of work.
type LedgerPoster struct {
	Store Store
	Now   func() time.Time // defaults to time.Now
}

func NewPoster(store Store) *LedgerPoster {
	return &LedgerPoster{Store: store}
}

func (p *LedgerPoster) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// Post validates, stamps and appends one entry, returning its id.
func (p *LedgerPoster) Post(ctx context.Context, e AccountingEntry) (EntryID, error) {
	if !ValidEntryType(e.Type) {
		return "", &ValidationError{Field: "type", Message: "unknown entry type"}
	}
	if !ValidEntryCategory(e.Category) {
		return "", &ValidationError{Field: "category", Message: "unknown entry category"}
	}
	if e.Description == "" {
		return "", &ValidationError{Field: "description", Message: "description is required"}
	}
	if e.Reference == "" {
		return "", &ValidationError{Field: "reference", Message: "reference is required"}
	}
	if e.RecordedBy == "" {
		return "", &ValidationError{Field: "recordedBy", Message: "actor is required"}
	}

	if e.ID == "" {
		e.ID = NewEntryID()
	}
	if e.Date.IsZero() {
		e.Date = p.now()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = p.now()
	}

	if err := p.Store.AppendEntry(ctx, e); err != nil {
		return "", err
	}
	return e.ID, nil
}

// Entries returns ledger entries matching the filter. Read-only.
func (p *LedgerPoster) Entries(ctx context.Context, f EntryFilter) ([]AccountingEntry, error) {
	return p.Store.ListEntries(ctx, f)
}
