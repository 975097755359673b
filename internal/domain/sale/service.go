package sale

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/tillpoint/internal/domain/till"
)

// ErrEmptyCart indicates a settlement attempted with nothing to sell.
var ErrEmptyCart = fmt.Errorf("cart is empty")

// ValidationError reports a malformed settlement input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidDiscountError indicates a discount outside the 0..subtotal range.
// Discounts are rejected, never clamped, so the ledger records exactly what
// the operator authorized.
type InvalidDiscountError struct {
	Discount decimal.Decimal
	Subtotal decimal.Decimal
}

func (e *InvalidDiscountError) Error() string {
	return fmt.Sprintf("discount %s must be between 0 and subtotal %s",
		e.Discount.StringFixed(2), e.Subtotal.StringFixed(2))
}

// InsufficientPaymentError indicates cash tendered below the sale total.
type InsufficientPaymentError struct {
	Total    decimal.Decimal
	Tendered decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("tendered %s does not cover total %s",
		e.Tendered.StringFixed(2), e.Total.StringFixed(2))
}

// SessionSource yields the open till session a settlement must attach to.
// *till.Service satisfies it.
type SessionSource interface {
	GetOpen(ctx context.Context, storeID string) (*till.Session, error)
}

// SettleRequest holds the checkout input for one sale.
type SettleRequest struct {
	SessionID     string
	Lines         []Line
	PaymentMethod PaymentMethod
	Discount      decimal.Decimal
	Tendered      decimal.Decimal
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Service is the sale settlement engine plus the read side of the ledger.
type Service struct {
	sessions SessionSource
	repo     Repository
}

// NewService creates a sale Service with the required domain dependencies.
func NewService(sessions SessionSource, repo Repository) *Service {
	return &Service{
		sessions: sessions,
		repo:     repo,
	}
}

// Settle converts a cart into a permanent sale. Preconditions fail in a
// fixed order with no side effects: empty cart, malformed input, no open
// session matching the request, invalid discount, insufficient cash. Stock
// is then checked by the conditional decrements inside the commit
// transaction itself, so two settlements racing for the last unit cannot
// both succeed; the loser rolls back entirely and surfaces
// *catalog.InsufficientStockError.
func (s *Service) Settle(ctx context.Context, storeID string, req SettleRequest) (*Sale, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return nil, &ValidationError{Field: "store", Reason: "must not be empty"}
	}

	if len(req.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	// Shape checks on the caller-supplied lines. The cart maintains these
	// invariants already, but settlement accepts raw lines too.
	for _, line := range req.Lines {
		switch {
		case strings.TrimSpace(line.ProductCode) == "":
			return nil, &ValidationError{Field: "code", Reason: "must not be empty"}
		case line.Quantity <= 0:
			return nil, &ValidationError{Field: "quantity", Reason: "must be greater than 0"}
		case !line.UnitPrice.IsPositive():
			return nil, &ValidationError{Field: "unit_price", Reason: "must be greater than 0"}
		case line.UnitCost.IsNegative():
			return nil, &ValidationError{Field: "unit_cost", Reason: "must not be negative"}
		}
	}
	if !req.PaymentMethod.Valid() {
		return nil, &ValidationError{Field: "payment_method", Reason: "unknown payment method"}
	}
	if req.Tendered.IsNegative() {
		return nil, &ValidationError{Field: "tendered", Reason: "must not be negative"}
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return nil, &ValidationError{Field: "session", Reason: "must not be empty"}
	}

	// The requested session must be the store's open one. A closed or
	// cross-store session id gets the same answer as no session at all.
	session, err := s.sessions.GetOpen(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if session.ID != sessionID {
		return nil, &till.NoOpenSessionError{StoreID: storeID}
	}

	// Subtotal is the live sum over lines; the discount must fit inside it.
	subtotal := decimal.Zero
	for _, line := range req.Lines {
		subtotal = subtotal.Add(line.Total())
	}
	subtotal = subtotal.Round(2)

	discount := req.Discount.Round(2)
	if discount.IsNegative() || discount.GreaterThan(subtotal) {
		return nil, &InvalidDiscountError{Discount: discount, Subtotal: subtotal}
	}

	// Total = subtotal - discount, floored at zero and rounded to 2 decimal places.
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	total = total.Round(2)

	// Cash must cover the total; every other method settles exactly.
	tendered, change := decimal.Zero, decimal.Zero
	if req.PaymentMethod == PaymentCash {
		tendered = req.Tendered.Round(2)
		if tendered.LessThan(total) {
			return nil, &InsufficientPaymentError{Total: total, Tendered: tendered}
		}
		change = tendered.Sub(total)
	}

	items := make([]Item, len(req.Lines))
	for i, line := range req.Lines {
		items[i] = Item{
			ProductCode: strings.TrimSpace(line.ProductCode),
			ProductName: line.ProductName,
			UnitPrice:   line.UnitPrice.Round(2),
			UnitCost:    line.UnitCost.Round(2),
			Quantity:    line.Quantity,
			LineTotal:   line.Total().Round(2),
		}
	}

	sl := &Sale{
		ID:            uuid.New().String(),
		StoreID:       storeID,
		SessionID:     session.ID,
		Subtotal:      subtotal,
		Discount:      discount,
		Total:         total,
		PaymentMethod: req.PaymentMethod,
		Tendered:      tendered,
		ChangeDue:     change,
		Status:        StatusFinalized,
		Items:         items,
	}
	if err := s.repo.Create(ctx, sl); err != nil {
		return nil, err
	}
	return sl, nil
}

// Get returns one sale with its items.
func (s *Service) Get(ctx context.Context, storeID, saleID string) (*Sale, error) {
	storeID = strings.TrimSpace(storeID)
	saleID = strings.TrimSpace(saleID)
	if storeID == "" {
		return nil, &ValidationError{Field: "store", Reason: "must not be empty"}
	}
	if saleID == "" {
		return nil, &ValidationError{Field: "sale", Reason: "must not be empty"}
	}
	return s.repo.Get(ctx, storeID, saleID)
}

// History lists a store's sales, newest first.
func (s *Service) History(ctx context.Context, storeID string, filter HistoryFilter) ([]Sale, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return nil, &ValidationError{Field: "store", Reason: "must not be empty"}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, &ValidationError{Field: "period", Reason: "end must not precede start"}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}
	return s.repo.History(ctx, storeID, filter)
}

// ItemHistory lists sold lines joined with their sale headers, newest first,
// optionally narrowed to one product code.
func (s *Service) ItemHistory(ctx context.Context, storeID string, filter ItemHistoryFilter) ([]SoldItem, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return nil, &ValidationError{Field: "store", Reason: "must not be empty"}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, &ValidationError{Field: "period", Reason: "end must not precede start"}
	}
	filter.Code = strings.TrimSpace(filter.Code)
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}
	return s.repo.ItemHistory(ctx, storeID, filter)
}

// DailyTotals aggregates a store's sales per day over [from, to).
func (s *Service) DailyTotals(ctx context.Context, storeID string, from, to time.Time) ([]DailyTotal, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return nil, &ValidationError{Field: "store", Reason: "must not be empty"}
	}
	if from.IsZero() || to.IsZero() {
		return nil, &ValidationError{Field: "period", Reason: "start and end are required"}
	}
	if to.Before(from) {
		return nil, &ValidationError{Field: "period", Reason: "end must not precede start"}
	}
	return s.repo.DailyTotals(ctx, storeID, from, to)
}

// MonthlyReport aggregates one calendar month of a store's sales: the per-day
// rows plus the month-wide sums.
func (s *Service) MonthlyReport(ctx context.Context, storeID string, year int, month time.Month) (*MonthlyReport, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return nil, &ValidationError{Field: "store", Reason: "must not be empty"}
	}
	if year < 2000 || year > 2200 {
		return nil, &ValidationError{Field: "year", Reason: "out of range"}
	}
	if month < time.January || month > time.December {
		return nil, &ValidationError{Field: "month", Reason: "out of range"}
	}

	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	days, err := s.repo.DailyTotals(ctx, storeID, from, to)
	if err != nil {
		return nil, err
	}

	report := &MonthlyReport{
		Year:        year,
		Month:       month,
		Days:        days,
		Gross:       decimal.Zero,
		Discount:    decimal.Zero,
		CostOfGoods: decimal.Zero,
		Margin:      decimal.Zero,
	}
	for _, day := range days {
		report.SalesCount += day.SalesCount
		report.Gross = report.Gross.Add(day.Gross)
		report.Discount = report.Discount.Add(day.Discount)
		report.CostOfGoods = report.CostOfGoods.Add(day.CostOfGoods)
		report.Margin = report.Margin.Add(day.Margin)
	}
	return report, nil
}
