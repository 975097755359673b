package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/tillpoint/internal/domain/till"
)

const (
	storeOpenSessionSQL = `SELECT id FROM till_sessions WHERE store_id = $1 AND status = 'OPEN'`

	deleteStoreSalesSQL    = `DELETE FROM sales WHERE store_id = $1`
	deleteStoreSessionsSQL = `DELETE FROM till_sessions WHERE store_id = $1`
	deleteStoreProductsSQL = `DELETE FROM products WHERE store_id = $1`
)

// ResetResult reports how many rows a store reset removed. Sale items ride
// along with their sales via the cascade.
type ResetResult struct {
	Sales    int64
	Sessions int64
	Products int64
}

// AdminRepository bundles destructive maintenance operations that the
// normal sale flow never touches.
type AdminRepository struct {
	pool *pgxpool.Pool
}

// NewAdminRepository returns an AdminRepository that uses the given pool.
func NewAdminRepository(pool *pgxpool.Pool) *AdminRepository {
	return &AdminRepository{pool: pool}
}

// ResetStore wipes one store's sales, sessions, and products in a single
// transaction. It refuses while the store's till is open; close it first.
func (r *AdminRepository) ResetStore(ctx context.Context, storeID string) (*ResetResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning store reset: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sessionID string
	err = tx.QueryRow(ctx, storeOpenSessionSQL, storeID).Scan(&sessionID)
	switch {
	case err == nil:
		return nil, &till.SessionAlreadyOpenError{StoreID: storeID, SessionID: sessionID}
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("checking open session: %w", err)
	}

	var res ResetResult

	// Sales go first: they reference sessions, and their items cascade.
	tag, err := tx.Exec(ctx, deleteStoreSalesSQL, storeID)
	if err != nil {
		return nil, fmt.Errorf("deleting sales: %w", err)
	}
	res.Sales = tag.RowsAffected()

	tag, err = tx.Exec(ctx, deleteStoreSessionsSQL, storeID)
	if err != nil {
		return nil, fmt.Errorf("deleting sessions: %w", err)
	}
	res.Sessions = tag.RowsAffected()

	tag, err = tx.Exec(ctx, deleteStoreProductsSQL, storeID)
	if err != nil {
		return nil, fmt.Errorf("deleting products: %w", err)
	}
	res.Products = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing store reset: %w", err)
	}
	return &res, nil
}
