package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/tillpoint/internal/domain/catalog"
	"github.com/xenking/tillpoint/internal/domain/sale"
	"github.com/xenking/tillpoint/internal/domain/till"
)

const (
	// COALESCE because legacy rows may predate session tracking.
	saleColumns = `id, store_id, COALESCE(session_id, ''), sold_at, subtotal, discount, total,
		payment_method, tendered, change_due, status`

	insertSaleSQL = `INSERT INTO sales (id, store_id, session_id, subtotal, discount, total,
			payment_method, tendered, change_due, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING sold_at`

	insertSaleItemSQL = `INSERT INTO sale_items (sale_id, product_code, product_name,
			unit_price, unit_cost, quantity, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	getSaleSQL = `SELECT ` + saleColumns + `
		FROM sales WHERE store_id = $1 AND id = $2`

	listSaleItemsSQL = `SELECT product_code, product_name, unit_price, unit_cost, quantity, line_total
		FROM sale_items WHERE sale_id = $1 ORDER BY id`

	listSalesSQL = `SELECT ` + saleColumns + `
		FROM sales
		WHERE store_id = $1
		  AND ($2::timestamptz IS NULL OR sold_at >= $2)
		  AND ($3::timestamptz IS NULL OR sold_at < $3)
		ORDER BY sold_at DESC
		LIMIT $4`

	itemHistorySQL = `SELECT s.id, s.sold_at, i.product_code, i.product_name,
			i.unit_price, i.quantity, i.line_total
		FROM sale_items i
		JOIN sales s ON s.id = i.sale_id
		WHERE s.store_id = $1 AND s.status = 'FINALIZED'
		  AND ($2::timestamptz IS NULL OR s.sold_at >= $2)
		  AND ($3::timestamptz IS NULL OR s.sold_at < $3)
		  AND ($4::text IS NULL OR i.product_code = $4)
		ORDER BY s.sold_at DESC, i.id
		LIMIT $5`

	dailyTotalsSQL = `SELECT h.day, h.sales_count, h.gross, h.discount, COALESCE(c.cost, 0)
		FROM (
			SELECT date_trunc('day', sold_at) AS day,
				COUNT(*) AS sales_count,
				COALESCE(SUM(total), 0) AS gross,
				COALESCE(SUM(discount), 0) AS discount
			FROM sales
			WHERE store_id = $1 AND status = 'FINALIZED'
			  AND sold_at >= $2 AND sold_at < $3
			GROUP BY 1
		) h
		LEFT JOIN (
			SELECT date_trunc('day', s.sold_at) AS day,
				SUM(i.unit_cost * i.quantity) AS cost
			FROM sales s
			JOIN sale_items i ON i.sale_id = s.id
			WHERE s.store_id = $1 AND s.status = 'FINALIZED'
			  AND s.sold_at >= $2 AND s.sold_at < $3
			GROUP BY 1
		) c ON c.day = h.day
		ORDER BY h.day`
)

var _ sale.Repository = (*SaleRepository)(nil)

// SaleRepository implements sale.Repository backed by PostgreSQL.
type SaleRepository struct {
	pool *pgxpool.Pool
}

// NewSaleRepository returns a SaleRepository that uses the given pool.
func NewSaleRepository(pool *pgxpool.Pool) *SaleRepository {
	return &SaleRepository{pool: pool}
}

// Create commits one settlement atomically: session guard, header, items,
// and stock decrements all stand or fall together.
//
// The session row is locked first, so settlement serializes against a
// concurrent close of the same session. Each line's decrement is the
// conditional update from the catalog; when it matches no row the whole
// transaction rolls back and the losing line surfaces as
// *catalog.InsufficientStockError with the quantity that remains.
func (r *SaleRepository) Create(ctx context.Context, sl *sale.Sale) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning settlement: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var opening decimal.Decimal
	if err := tx.QueryRow(ctx, lockOpenSessionSQL, sl.SessionID, sl.StoreID).Scan(&opening); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &till.NoOpenSessionError{StoreID: sl.StoreID}
		}
		return fmt.Errorf("locking session %q: %w", sl.SessionID, err)
	}

	if err := tx.QueryRow(ctx, insertSaleSQL,
		sl.ID, sl.StoreID, sl.SessionID, sl.Subtotal, sl.Discount, sl.Total,
		string(sl.PaymentMethod), sl.Tendered, sl.ChangeDue, string(sl.Status),
	).Scan(&sl.SoldAt); err != nil {
		return fmt.Errorf("inserting sale %q: %w", sl.ID, err)
	}

	for _, item := range sl.Items {
		if _, err := tx.Exec(ctx, insertSaleItemSQL,
			sl.ID, item.ProductCode, item.ProductName,
			item.UnitPrice, item.UnitCost, item.Quantity, item.LineTotal,
		); err != nil {
			return fmt.Errorf("inserting sale item %q: %w", item.ProductCode, err)
		}

		tag, err := tx.Exec(ctx, decrementStockSQL, sl.StoreID, item.ProductCode, item.Quantity)
		if err != nil {
			return fmt.Errorf("decrementing stock for %q: %w", item.ProductCode, err)
		}
		if tag.RowsAffected() == 0 {
			var available int
			err := tx.QueryRow(ctx, getQuantitySQL, sl.StoreID, item.ProductCode).Scan(&available)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("product %q: %w", item.ProductCode, catalog.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("checking stock for %q: %w", item.ProductCode, err)
			}
			return &catalog.InsufficientStockError{
				Code:      item.ProductCode,
				Requested: item.Quantity,
				Available: available,
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing settlement: %w", err)
	}
	return nil
}

// Get returns one sale with its line items.
func (r *SaleRepository) Get(ctx context.Context, storeID, saleID string) (*sale.Sale, error) {
	rows, err := r.pool.Query(ctx, getSaleSQL, storeID, saleID)
	if err != nil {
		return nil, fmt.Errorf("getting sale %q: %w", saleID, err)
	}

	s, err := pgx.CollectExactlyOneRow(rows, scanSale)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sale.ErrNotFound
		}
		return nil, fmt.Errorf("getting sale %q: %w", saleID, err)
	}

	itemRows, err := r.pool.Query(ctx, listSaleItemsSQL, saleID)
	if err != nil {
		return nil, fmt.Errorf("getting sale items for %q: %w", saleID, err)
	}
	s.Items, err = pgx.CollectRows(itemRows, scanSaleItem)
	if err != nil {
		return nil, fmt.Errorf("getting sale items for %q: %w", saleID, err)
	}
	return &s, nil
}

// History lists sale headers newest first. Items are loaded by Get only.
func (r *SaleRepository) History(ctx context.Context, storeID string, filter sale.HistoryFilter) ([]sale.Sale, error) {
	var from, to *time.Time
	if !filter.From.IsZero() {
		from = &filter.From
	}
	if !filter.To.IsZero() {
		to = &filter.To
	}

	rows, err := r.pool.Query(ctx, listSalesSQL, storeID, from, to, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("listing sales: %w", err)
	}
	return pgx.CollectRows(rows, scanSale)
}

// ItemHistory lists sold lines joined with their headers, newest first,
// optionally narrowed to one product code.
func (r *SaleRepository) ItemHistory(ctx context.Context, storeID string, filter sale.ItemHistoryFilter) ([]sale.SoldItem, error) {
	var from, to *time.Time
	if !filter.From.IsZero() {
		from = &filter.From
	}
	if !filter.To.IsZero() {
		to = &filter.To
	}
	var code *string
	if filter.Code != "" {
		code = &filter.Code
	}

	rows, err := r.pool.Query(ctx, itemHistorySQL, storeID, from, to, code, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("listing sold items: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (sale.SoldItem, error) {
		var it sale.SoldItem
		err := row.Scan(
			&it.SaleID, &it.SoldAt, &it.ProductCode, &it.ProductName,
			&it.UnitPrice, &it.Quantity, &it.LineTotal,
		)
		return it, err
	})
}

// DailyTotals aggregates sales per day over [from, to), with cost of goods
// taken from the line-item cost snapshots.
func (r *SaleRepository) DailyTotals(ctx context.Context, storeID string, from, to time.Time) ([]sale.DailyTotal, error) {
	rows, err := r.pool.Query(ctx, dailyTotalsSQL, storeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("computing daily totals: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (sale.DailyTotal, error) {
		var d sale.DailyTotal
		if err := row.Scan(&d.Day, &d.SalesCount, &d.Gross, &d.Discount, &d.CostOfGoods); err != nil {
			return d, err
		}
		d.Margin = d.Gross.Sub(d.CostOfGoods)
		return d, nil
	})
}

func scanSale(row pgx.CollectableRow) (sale.Sale, error) {
	var s sale.Sale
	err := row.Scan(
		&s.ID, &s.StoreID, &s.SessionID, &s.SoldAt, &s.Subtotal, &s.Discount,
		&s.Total, &s.PaymentMethod, &s.Tendered, &s.ChangeDue, &s.Status,
	)
	return s, err
}

func scanSaleItem(row pgx.CollectableRow) (sale.Item, error) {
	var it sale.Item
	err := row.Scan(
		&it.ProductCode, &it.ProductName, &it.UnitPrice, &it.UnitCost,
		&it.Quantity, &it.LineTotal,
	)
	return it, err
}
