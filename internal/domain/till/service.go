package till

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	varianceWarnRatio = decimal.RequireFromString("0.01")
	varianceCritRatio = decimal.RequireFromString("0.05")
)

// OpenInput holds the caller-supplied attributes for opening a session.
type OpenInput struct {
	OpeningFloat decimal.Decimal
	Operator     string
	Note         string
}

// CloseInput holds the declared drawer count used to close a session.
type CloseInput struct {
	Declared decimal.Decimal
	Note     string
}

// Service manages the till session lifecycle for all stores.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Open starts a new session for the store. Exactly one session per store may
// be open; a second Open fails with *SessionAlreadyOpenError naming the
// session that is in the way.
func (s *Service) Open(ctx context.Context, storeID string, in OpenInput) (*Session, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return nil, &ValidationError{Field: "store", Reason: "must not be empty"}
	}
	if in.OpeningFloat.IsNegative() {
		return nil, &ValidationError{Field: "opening_float", Reason: "must not be negative"}
	}

	if open, err := s.repo.GetOpen(ctx, storeID); err == nil {
		return nil, &SessionAlreadyOpenError{StoreID: storeID, SessionID: open.ID}
	} else if !isNoOpenSession(err) {
		return nil, fmt.Errorf("check open session for store %s: %w", storeID, err)
	}

	session := &Session{
		ID:           uuid.New().String(),
		StoreID:      storeID,
		Status:       StatusOpen,
		OpeningFloat: in.OpeningFloat.Round(2),
		OperatorName: strings.TrimSpace(in.Operator),
		OpenNote:     strings.TrimSpace(in.Note),
	}

	created, err := s.repo.Open(ctx, session)
	if err != nil {
		// The partial unique index can still reject the insert when two
		// opens race past the check above.
		var already *SessionAlreadyOpenError
		if errors.As(err, &already) && already.SessionID == "" {
			if open, gerr := s.repo.GetOpen(ctx, storeID); gerr == nil {
				already.SessionID = open.ID
			}
			return nil, already
		}
		return nil, err
	}
	return created, nil
}

// GetOpen returns the store's open session or *NoOpenSessionError. Every
// sale-affecting operation consults this before acting.
func (s *Service) GetOpen(ctx context.Context, storeID string) (*Session, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return nil, &ValidationError{Field: "store", Reason: "must not be empty"}
	}
	return s.repo.GetOpen(ctx, storeID)
}

// Get returns a session by ID regardless of status.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, &ValidationError{Field: "session", Reason: "must not be empty"}
	}
	return s.repo.Get(ctx, sessionID)
}

// Totals aggregates the finalized sales of a session. A session id belonging
// to a different store reports ErrNotFound rather than another store's
// figures.
func (s *Service) Totals(ctx context.Context, storeID, sessionID string) (*Totals, error) {
	session, err := s.lookup(ctx, storeID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.repo.Totals(ctx, session.ID)
}

// PaymentSummary breaks a session's takings down by payment method.
func (s *Service) PaymentSummary(ctx context.Context, storeID, sessionID string) ([]PaymentTotal, error) {
	session, err := s.lookup(ctx, storeID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.repo.PaymentSummary(ctx, session.ID)
}

// Close settles a session against the declared drawer count. The status flip
// is one conditional update guarded by id, store, and OPEN status, so a
// double close or a cross-store id fails with *SessionNotOpenError instead
// of overwriting the first close.
func (s *Service) Close(ctx context.Context, storeID, sessionID string, in CloseInput) (*ReconciliationResult, error) {
	storeID = strings.TrimSpace(storeID)
	sessionID = strings.TrimSpace(sessionID)
	if storeID == "" {
		return nil, &ValidationError{Field: "store", Reason: "must not be empty"}
	}
	if sessionID == "" {
		return nil, &ValidationError{Field: "session", Reason: "must not be empty"}
	}
	if in.Declared.IsNegative() {
		return nil, &ValidationError{Field: "declared_closing", Reason: "must not be negative"}
	}

	closed, err := s.repo.Close(ctx, storeID, sessionID, in.Declared.Round(2), strings.TrimSpace(in.Note))
	if err != nil {
		return nil, err
	}

	computed := decimal.Zero
	if closed.ComputedClosing != nil {
		computed = *closed.ComputedClosing
	}
	declared := decimal.Zero
	if closed.DeclaredClosing != nil {
		declared = *closed.DeclaredClosing
	}
	variance := declared.Sub(computed)

	return &ReconciliationResult{
		Session:  closed,
		Computed: computed,
		Declared: declared,
		Variance: variance,
		Level:    classifyVariance(variance, computed),
	}, nil
}

func (s *Service) lookup(ctx context.Context, storeID, sessionID string) (*Session, error) {
	storeID = strings.TrimSpace(storeID)
	sessionID = strings.TrimSpace(sessionID)
	if storeID == "" {
		return nil, &ValidationError{Field: "store", Reason: "must not be empty"}
	}
	if sessionID == "" {
		return nil, &ValidationError{Field: "session", Reason: "must not be empty"}
	}

	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.StoreID != storeID {
		return nil, ErrNotFound
	}
	return session, nil
}

// classifyVariance grades the drawer difference relative to the computed
// closing figure: within 1% is OK, within 5% a warning, beyond that critical.
// Any nonzero variance against an empty till is critical.
func classifyVariance(variance, computed decimal.Decimal) VarianceLevel {
	if variance.IsZero() {
		return VarianceOK
	}
	if computed.IsZero() {
		return VarianceCritical
	}
	ratio := variance.Abs().Div(computed.Abs())
	switch {
	case ratio.LessThanOrEqual(varianceWarnRatio):
		return VarianceOK
	case ratio.LessThanOrEqual(varianceCritRatio):
		return VarianceWarning
	default:
		return VarianceCritical
	}
}

func isNoOpenSession(err error) bool {
	var noOpen *NoOpenSessionError
	return errors.As(err, &noOpen)
}
