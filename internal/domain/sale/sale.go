package sale

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a sale lookup by ID matches nothing.
var ErrNotFound = errors.New("sale not found")

// PaymentMethod is how a sale was paid. Only CASH involves tendered amounts
// and change; every other method settles exactly.
type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "CASH"
	PaymentPix        PaymentMethod = "PIX"
	PaymentCreditCard PaymentMethod = "CREDIT_CARD"
	PaymentDebitCard  PaymentMethod = "DEBIT_CARD"
	PaymentOther      PaymentMethod = "OTHER"
)

// Valid reports whether m is one of the accepted payment methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentPix, PaymentCreditCard, PaymentDebitCard, PaymentOther:
		return true
	}
	return false
}

// Status is the lifecycle state of a sale. Sales are immutable once written,
// so FINALIZED is the only state.
type Status string

const StatusFinalized Status = "FINALIZED"

// Sale is one settled checkout: the audit-trail header plus its line items.
// Never edited or deleted after settlement.
type Sale struct {
	ID            string
	StoreID       string
	SessionID     string
	SoldAt        time.Time
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	PaymentMethod PaymentMethod
	Tendered      decimal.Decimal
	ChangeDue     decimal.Decimal
	Status        Status
	Items         []Item
}

// Item is one line of a sale. Name, price, and cost are snapshots taken at
// settlement so history survives later product edits and deletes.
type Item struct {
	ProductCode string
	ProductName string
	UnitPrice   decimal.Decimal
	UnitCost    decimal.Decimal
	Quantity    int
	LineTotal   decimal.Decimal
}

// HistoryFilter narrows a sales history query. Zero From/To leave that end
// unbounded (To is exclusive); Limit is clamped by the service.
type HistoryFilter struct {
	From  time.Time
	To    time.Time
	Limit int
}

// ItemHistoryFilter narrows a per-line sale history query. Code, when set,
// restricts the result to one product.
type ItemHistoryFilter struct {
	From  time.Time
	To    time.Time
	Code  string
	Limit int
}

// SoldItem is one sold line joined with its sale header, the row shape of
// the per-item history report.
type SoldItem struct {
	SaleID      string
	SoldAt      time.Time
	ProductCode string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
	LineTotal   decimal.Decimal
}

// DailyTotal is one day's slice of a store's sales, with margin figures
// derived from the cost snapshots on the line items.
type DailyTotal struct {
	Day         time.Time
	SalesCount  int
	Gross       decimal.Decimal
	Discount    decimal.Decimal
	CostOfGoods decimal.Decimal
	Margin      decimal.Decimal
}

// MonthlyReport folds one calendar month of daily totals plus the month-wide
// sums.
type MonthlyReport struct {
	Year        int
	Month       time.Month
	Days        []DailyTotal
	SalesCount  int
	Gross       decimal.Decimal
	Discount    decimal.Decimal
	CostOfGoods decimal.Decimal
	Margin      decimal.Decimal
}

// Repository defines persistence operations for sales.
//
// Create is the atomic settlement commit: within one transaction it must
// re-verify the target session is still OPEN for the store, insert the
// header and items, and conditionally decrement stock for every line.
// A failed decrement rolls the whole transaction back and surfaces
// *catalog.InsufficientStockError; a closed session surfaces
// *till.NoOpenSessionError.
type Repository interface {
	Create(ctx context.Context, sale *Sale) error
	Get(ctx context.Context, storeID, saleID string) (*Sale, error)
	History(ctx context.Context, storeID string, filter HistoryFilter) ([]Sale, error)
	ItemHistory(ctx context.Context, storeID string, filter ItemHistoryFilter) ([]SoldItem, error)
	DailyTotals(ctx context.Context, storeID string, from, to time.Time) ([]DailyTotal, error)
}
