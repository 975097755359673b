package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// cacheTTL bounds how stale a cached product read may be. Stock authority is
// always the conditional update in the repository, so a stale quantity here
// only ever affects display.
const cacheTTL = 30 * time.Second

// ProductInput holds the caller-supplied attributes for an upsert.
type ProductInput struct {
	Code      string
	Name      string
	CostPrice decimal.Decimal
	SalePrice decimal.Decimal
	Quantity  int
}

// Service encapsulates catalog business rules: input validation, stock
// adjustment, and read-through caching in front of the repository.
type Service struct {
	repo  Repository
	cache Cache
}

// NewService creates a catalog Service. The cache may be a no-op
// implementation when caching is disabled.
func NewService(repo Repository, cache Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Get looks a product up by exact code, whitespace-trimmed. Cache hits skip
// the repository; misses populate the cache on the way out.
func (s *Service) Get(ctx context.Context, storeID, code string) (*Product, error) {
	storeID = strings.TrimSpace(storeID)
	code = strings.TrimSpace(code)
	if storeID == "" {
		return nil, &ValidationError{Field: "store", Reason: "must not be empty"}
	}
	if code == "" {
		return nil, &ValidationError{Field: "code", Reason: "must not be empty"}
	}

	if p, ok, err := s.cache.Get(ctx, storeID, code); err == nil && ok {
		return p, nil
	}

	p, err := s.repo.Get(ctx, storeID, code)
	if err != nil {
		return nil, err
	}

	_ = s.cache.Set(ctx, p, cacheTTL)
	return p, nil
}

// List returns every product of the store ordered by name.
func (s *Service) List(ctx context.Context, storeID string) ([]Product, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return nil, &ValidationError{Field: "store", Reason: "must not be empty"}
	}
	return s.repo.List(ctx, storeID)
}

// Upsert inserts or replaces a product keyed by (store, code).
func (s *Service) Upsert(ctx context.Context, storeID string, in ProductInput) (*Product, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return nil, &ValidationError{Field: "store", Reason: "must not be empty"}
	}

	p, err := buildProduct(storeID, in)
	if err != nil {
		return nil, err
	}

	saved, err := s.repo.Upsert(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("upsert product %q: %w", p.Code, err)
	}

	_ = s.cache.Invalidate(ctx, storeID, p.Code)
	return saved, nil
}

// Sync bulk-upserts a batch of products into one store. The first invalid or
// failing row aborts the whole batch; rows already written stay written, so
// callers treat Sync as repeatable rather than atomic.
func (s *Service) Sync(ctx context.Context, storeID string, inputs []ProductInput) (int, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return 0, &ValidationError{Field: "store", Reason: "must not be empty"}
	}

	codes := make([]string, 0, len(inputs))
	for i, in := range inputs {
		p, err := buildProduct(storeID, in)
		if err != nil {
			return i, fmt.Errorf("sync row %d: %w", i, err)
		}
		if _, err := s.repo.Upsert(ctx, p); err != nil {
			return i, fmt.Errorf("sync product %q: %w", p.Code, err)
		}
		codes = append(codes, p.Code)
	}

	if len(codes) > 0 {
		_ = s.cache.Invalidate(ctx, storeID, codes...)
	}
	return len(inputs), nil
}

// DecrementStock subtracts qty from on-hand stock, failing when stock is
// short. The conditional update in the repository is the authoritative check.
func (s *Service) DecrementStock(ctx context.Context, storeID, code string, qty int) error {
	storeID = strings.TrimSpace(storeID)
	code = strings.TrimSpace(code)
	if storeID == "" {
		return &ValidationError{Field: "store", Reason: "must not be empty"}
	}
	if code == "" {
		return &ValidationError{Field: "code", Reason: "must not be empty"}
	}
	if qty <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be greater than 0"}
	}

	if err := s.repo.DecrementStock(ctx, storeID, code, qty); err != nil {
		return err
	}

	_ = s.cache.Invalidate(ctx, storeID, code)
	return nil
}

// Evict drops cached entries for the given codes. Sale settlement calls
// this after its transaction commits, because its stock decrements run
// inside the transaction and bypass DecrementStock.
func (s *Service) Evict(ctx context.Context, storeID string, codes ...string) {
	if len(codes) == 0 {
		return
	}
	_ = s.cache.Invalidate(ctx, storeID, codes...)
}

// Delete removes a product unconditionally. Historical sales keep their own
// snapshots, so deletion never breaks the ledger.
func (s *Service) Delete(ctx context.Context, storeID, code string) error {
	storeID = strings.TrimSpace(storeID)
	code = strings.TrimSpace(code)
	if storeID == "" {
		return &ValidationError{Field: "store", Reason: "must not be empty"}
	}
	if code == "" {
		return &ValidationError{Field: "code", Reason: "must not be empty"}
	}

	if err := s.repo.Delete(ctx, storeID, code); err != nil {
		return err
	}

	_ = s.cache.Invalidate(ctx, storeID, code)
	return nil
}

func buildProduct(storeID string, in ProductInput) (*Product, error) {
	code := strings.TrimSpace(in.Code)
	name := strings.TrimSpace(in.Name)

	switch {
	case code == "":
		return nil, &ValidationError{Field: "code", Reason: "must not be empty"}
	case name == "":
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	case !in.SalePrice.IsPositive():
		return nil, &ValidationError{Field: "sale_price", Reason: "must be greater than 0"}
	case in.CostPrice.IsNegative():
		return nil, &ValidationError{Field: "cost_price", Reason: "must not be negative"}
	case in.Quantity < 0:
		return nil, &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}

	return &Product{
		StoreID:   storeID,
		Code:      code,
		Name:      name,
		CostPrice: in.CostPrice.Round(2),
		SalePrice: in.SalePrice.Round(2),
		Quantity:  in.Quantity,
	}, nil
}
