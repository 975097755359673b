package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/tillpoint/internal/domain/catalog"
)

const (
	productColumns = `store_id, code, name, cost_price, sale_price, quantity, created_at, updated_at`

	getProductSQL = `SELECT ` + productColumns + `
		FROM products WHERE store_id = $1 AND code = $2`

	listProductsSQL = `SELECT ` + productColumns + `
		FROM products WHERE store_id = $1 ORDER BY name, code`

	upsertProductSQL = `INSERT INTO products (store_id, code, name, cost_price, sale_price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (store_id, code) DO UPDATE SET
			name = EXCLUDED.name,
			cost_price = EXCLUDED.cost_price,
			sale_price = EXCLUDED.sale_price,
			quantity = EXCLUDED.quantity,
			updated_at = now()
		RETURNING ` + productColumns

	// The quantity guard makes the decrement and the availability check one
	// statement; zero rows affected is the out-of-stock signal.
	decrementStockSQL = `UPDATE products
		SET quantity = quantity - $3, updated_at = now()
		WHERE store_id = $1 AND code = $2 AND quantity >= $3`

	getQuantitySQL = `SELECT quantity FROM products WHERE store_id = $1 AND code = $2`

	deleteProductSQL = `DELETE FROM products WHERE store_id = $1 AND code = $2`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// Get returns a single product by its store-scoped code.
func (r *CatalogRepository) Get(ctx context.Context, storeID, code string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductSQL, storeID, code)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", code, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", code, err)
	}
	return &p, nil
}

// List returns all products of a store ordered by name.
func (r *CatalogRepository) List(ctx context.Context, storeID string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL, storeID)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert inserts or replaces a product keyed by (store, code) and returns
// the stored row.
func (r *CatalogRepository) Upsert(ctx context.Context, p *catalog.Product) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, upsertProductSQL,
		p.StoreID, p.Code, p.Name, p.CostPrice, p.SalePrice, p.Quantity,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting product %q: %w", p.Code, err)
	}

	saved, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("upserting product %q: %w", p.Code, err)
	}
	return &saved, nil
}

// DecrementStock subtracts qty from on-hand stock via a conditional update.
// When the guard matches no row, the current quantity is re-read to tell
// an unknown product apart from insufficient stock.
func (r *CatalogRepository) DecrementStock(ctx context.Context, storeID, code string, qty int) error {
	tag, err := r.pool.Exec(ctx, decrementStockSQL, storeID, code, qty)
	if err != nil {
		return fmt.Errorf("decrementing stock for %q: %w", code, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var available int
	if err := r.pool.QueryRow(ctx, getQuantitySQL, storeID, code).Scan(&available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.ErrNotFound
		}
		return fmt.Errorf("checking stock for %q: %w", code, err)
	}
	return &catalog.InsufficientStockError{Code: code, Requested: qty, Available: available}
}

// Delete removes a product. Historical sales are untouched since they keep
// their own snapshots.
func (r *CatalogRepository) Delete(ctx context.Context, storeID, code string) error {
	tag, err := r.pool.Exec(ctx, deleteProductSQL, storeID, code)
	if err != nil {
		return fmt.Errorf("deleting product %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(
		&p.StoreID, &p.Code, &p.Name, &p.CostPrice, &p.SalePrice, &p.Quantity,
		&p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}
