package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item owned by a single store. Quantity is the
// on-hand stock and is never negative; the database enforces the same bound.
type Product struct {
	StoreID   string
	Code      string
	Name      string
	CostPrice decimal.Decimal
	SalePrice decimal.Decimal
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidationError indicates malformed product input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InsufficientStockError indicates a requested quantity exceeds on-hand stock.
type InsufficientStockError struct {
	Code      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.Code, e.Requested, e.Available)
}

// Repository defines persistence operations for the product catalog.
type Repository interface {
	Get(ctx context.Context, storeID, code string) (*Product, error)
	List(ctx context.Context, storeID string) ([]Product, error)
	Upsert(ctx context.Context, p *Product) (*Product, error)
	// DecrementStock subtracts qty from on-hand stock with a conditional
	// update. It returns ErrNotFound when the product does not exist and
	// *InsufficientStockError when stock is short.
	DecrementStock(ctx context.Context, storeID, code string, qty int) error
	Delete(ctx context.Context, storeID, code string) error
}

// Cache provides read-through caching of products. Implementations must treat
// a miss as (nil, false, nil); errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, storeID, code string) (*Product, bool, error)
	Set(ctx context.Context, p *Product, ttl time.Duration) error
	Invalidate(ctx context.Context, storeID string, codes ...string) error
}
