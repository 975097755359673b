package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/tillpoint/internal/domain/till"
)

const (
	sessionColumns = `id, store_id, status, opened_at, closed_at, opening_float,
		computed_closing, declared_closing, variance, operator_name, open_note, close_note`

	openSessionSQL = `INSERT INTO till_sessions (id, store_id, status, opening_float, operator_name, open_note)
		VALUES ($1, $2, 'OPEN', $3, $4, $5)
		RETURNING ` + sessionColumns

	getSessionSQL = `SELECT ` + sessionColumns + `
		FROM till_sessions WHERE id = $1`

	getOpenSessionSQL = `SELECT ` + sessionColumns + `
		FROM till_sessions WHERE store_id = $1 AND status = 'OPEN'`

	sessionTotalsSQL = `SELECT s.id, s.opening_float,
			COUNT(v.id), COALESCE(SUM(v.total), 0), COALESCE(SUM(v.discount), 0)
		FROM till_sessions s
		LEFT JOIN sales v ON v.session_id = s.id AND v.status = 'FINALIZED'
		WHERE s.id = $1
		GROUP BY s.id, s.opening_float`

	paymentSummarySQL = `SELECT payment_method, COUNT(*), COALESCE(SUM(total), 0)
		FROM sales
		WHERE session_id = $1 AND status = 'FINALIZED'
		GROUP BY payment_method
		ORDER BY payment_method`

	// Settlement and close both take this lock first, so closing
	// serializes against in-flight sales on the same session.
	lockOpenSessionSQL = `SELECT opening_float FROM till_sessions
		WHERE id = $1 AND store_id = $2 AND status = 'OPEN'
		FOR UPDATE`

	sessionSalesSumSQL = `SELECT COALESCE(SUM(total), 0) FROM sales
		WHERE session_id = $1 AND status = 'FINALIZED'`

	closeSessionSQL = `UPDATE till_sessions
		SET status = 'CLOSED', closed_at = now(), computed_closing = $3,
			declared_closing = $4, variance = $5, close_note = $6
		WHERE id = $1 AND store_id = $2 AND status = 'OPEN'
		RETURNING ` + sessionColumns

	// PostgreSQL unique_violation, raised here by the partial unique index
	// on (store_id) WHERE status = 'OPEN'.
	uniqueViolationCode = "23505"
)

var _ till.Repository = (*TillRepository)(nil)

// TillRepository implements till.Repository backed by PostgreSQL.
type TillRepository struct {
	pool *pgxpool.Pool
}

// NewTillRepository returns a TillRepository that uses the given pool.
func NewTillRepository(pool *pgxpool.Pool) *TillRepository {
	return &TillRepository{pool: pool}
}

// Open inserts a new OPEN session. Losing the open race to another terminal
// surfaces as *till.SessionAlreadyOpenError via the unique index.
func (r *TillRepository) Open(ctx context.Context, s *till.Session) (*till.Session, error) {
	rows, err := r.pool.Query(ctx, openSessionSQL,
		s.ID, s.StoreID, s.OpeningFloat, s.OperatorName, s.OpenNote,
	)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}

	created, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return nil, &till.SessionAlreadyOpenError{StoreID: s.StoreID}
		}
		return nil, fmt.Errorf("opening session: %w", err)
	}
	return &created, nil
}

// Get returns a session by ID regardless of status.
func (r *TillRepository) Get(ctx context.Context, sessionID string) (*till.Session, error) {
	rows, err := r.pool.Query(ctx, getSessionSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("getting session %q: %w", sessionID, err)
	}

	s, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, till.ErrNotFound
		}
		return nil, fmt.Errorf("getting session %q: %w", sessionID, err)
	}
	return &s, nil
}

// GetOpen returns the store's single open session.
func (r *TillRepository) GetOpen(ctx context.Context, storeID string) (*till.Session, error) {
	rows, err := r.pool.Query(ctx, getOpenSessionSQL, storeID)
	if err != nil {
		return nil, fmt.Errorf("getting open session: %w", err)
	}

	s, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &till.NoOpenSessionError{StoreID: storeID}
		}
		return nil, fmt.Errorf("getting open session: %w", err)
	}
	return &s, nil
}

// Totals aggregates the session's finalized sales.
func (r *TillRepository) Totals(ctx context.Context, sessionID string) (*till.Totals, error) {
	var t till.Totals
	err := r.pool.QueryRow(ctx, sessionTotalsSQL, sessionID).Scan(
		&t.SessionID, &t.OpeningFloat, &t.SalesCount, &t.TotalSales, &t.DiscountTotal,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, till.ErrNotFound
		}
		return nil, fmt.Errorf("computing session totals: %w", err)
	}
	t.ComputedClosing = t.OpeningFloat.Add(t.TotalSales)
	return &t, nil
}

// PaymentSummary breaks the session's takings down by payment method.
func (r *TillRepository) PaymentSummary(ctx context.Context, sessionID string) ([]till.PaymentTotal, error) {
	rows, err := r.pool.Query(ctx, paymentSummarySQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("summarizing payments: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (till.PaymentTotal, error) {
		var pt till.PaymentTotal
		err := row.Scan(&pt.Method, &pt.Count, &pt.Total)
		return pt, err
	})
}

// Close computes the closing figures and flips the session to CLOSED in one
// transaction. The session row is locked first so the sales sum cannot be
// diluted by a settlement committing mid-close, and the status flip is
// guarded so a concurrent double close loses cleanly.
func (r *TillRepository) Close(ctx context.Context, storeID, sessionID string, declared decimal.Decimal, closeNote string) (*till.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning close transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var opening decimal.Decimal
	if err := tx.QueryRow(ctx, lockOpenSessionSQL, sessionID, storeID).Scan(&opening); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &till.SessionNotOpenError{SessionID: sessionID}
		}
		return nil, fmt.Errorf("locking session %q: %w", sessionID, err)
	}

	var totalSales decimal.Decimal
	if err := tx.QueryRow(ctx, sessionSalesSumSQL, sessionID).Scan(&totalSales); err != nil {
		return nil, fmt.Errorf("summing session sales: %w", err)
	}

	computed := opening.Add(totalSales)
	variance := declared.Sub(computed)

	rows, err := tx.Query(ctx, closeSessionSQL, sessionID, storeID, computed, declared, variance, closeNote)
	if err != nil {
		return nil, fmt.Errorf("closing session %q: %w", sessionID, err)
	}

	closed, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &till.SessionNotOpenError{SessionID: sessionID}
		}
		return nil, fmt.Errorf("closing session %q: %w", sessionID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing close: %w", err)
	}
	return &closed, nil
}

func scanSession(row pgx.CollectableRow) (till.Session, error) {
	var s till.Session
	err := row.Scan(
		&s.ID, &s.StoreID, &s.Status, &s.OpenedAt, &s.ClosedAt, &s.OpeningFloat,
		&s.ComputedClosing, &s.DeclaredClosing, &s.Variance,
		&s.OperatorName, &s.OpenNote, &s.CloseNote,
	)
	return s, err
}
