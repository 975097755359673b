package till

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a session lookup by ID matches nothing.
var ErrNotFound = errors.New("session not found")

// Status is the lifecycle state of a till session.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Session is one cash-drawer shift of a store. At most one session per store
// is OPEN at any time. The closing fields stay nil until the session closes.
type Session struct {
	ID              string
	StoreID         string
	Status          Status
	OpenedAt        time.Time
	ClosedAt        *time.Time
	OpeningFloat    decimal.Decimal
	ComputedClosing *decimal.Decimal
	DeclaredClosing *decimal.Decimal
	Variance        *decimal.Decimal
	OperatorName    string
	OpenNote        string
	CloseNote       string
}

// Totals aggregates the finalized sales recorded against one session.
// ComputedClosing is always OpeningFloat plus TotalSales.
type Totals struct {
	SessionID       string
	OpeningFloat    decimal.Decimal
	SalesCount      int
	TotalSales      decimal.Decimal
	DiscountTotal   decimal.Decimal
	ComputedClosing decimal.Decimal
}

// PaymentTotal is the per-method slice of a session's takings.
type PaymentTotal struct {
	Method string
	Count  int
	Total  decimal.Decimal
}

// VarianceLevel grades how far the declared drawer count strayed from the
// computed total at close.
type VarianceLevel string

const (
	VarianceOK       VarianceLevel = "OK"
	VarianceWarning  VarianceLevel = "WARNING"
	VarianceCritical VarianceLevel = "CRITICAL"
)

// ReconciliationResult is the outcome of closing a session: the closed
// session snapshot plus the variance verdict.
type ReconciliationResult struct {
	Session  *Session
	Computed decimal.Decimal
	Declared decimal.Decimal
	Variance decimal.Decimal
	Level    VarianceLevel
}

// ValidationError reports caller input that fails a till business rule.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SessionAlreadyOpenError is returned by Open when the store already has an
// open session. SessionID names the blocking session when known.
type SessionAlreadyOpenError struct {
	StoreID   string
	SessionID string
}

func (e *SessionAlreadyOpenError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("store %s already has an open session", e.StoreID)
	}
	return fmt.Sprintf("store %s already has open session %s", e.StoreID, e.SessionID)
}

// NoOpenSessionError is returned when an operation needs the store's open
// session and none exists.
type NoOpenSessionError struct {
	StoreID string
}

func (e *NoOpenSessionError) Error() string {
	return fmt.Sprintf("store %s has no open session", e.StoreID)
}

// SessionNotOpenError is returned by Close when the targeted session was
// closed (or never open) by the time the conditional update ran.
type SessionNotOpenError struct {
	SessionID string
}

func (e *SessionNotOpenError) Error() string {
	return fmt.Sprintf("session %s is not open", e.SessionID)
}

// Repository is the storage contract for till sessions.
//
// Close must compute the closing figures and flip OPEN to CLOSED in a single
// transaction whose update is guarded by session id, store id, and current
// status, returning *SessionNotOpenError when the guard matches no row. Open
// must surface the one-open-session-per-store constraint as
// *SessionAlreadyOpenError when the insert loses a race.
type Repository interface {
	Open(ctx context.Context, s *Session) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	GetOpen(ctx context.Context, storeID string) (*Session, error)
	Totals(ctx context.Context, sessionID string) (*Totals, error)
	PaymentSummary(ctx context.Context, sessionID string) ([]PaymentTotal, error)
	Close(ctx context.Context, storeID, sessionID string, declared decimal.Decimal, closeNote string) (*Session, error)
}
