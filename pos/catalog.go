package pos

import "context"

// Catalog is the read-only product lookup the engine consumes. The full
// Store satisfies it; callers that only need pricing/tax/activity state
// should depend on this narrow view.
type Catalog interface {
	GetProduct(ctx context.Context, id ProductID) (Product, error)
}
