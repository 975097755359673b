package sale

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/tillpoint/internal/domain/catalog"
)

// ErrLineNotFound is returned when a cart edit targets a product code with
// no line in the cart.
var ErrLineNotFound = fmt.Errorf("cart line not found")

// Line is one cart entry: a product snapshot with an operator-editable unit
// price and a positive quantity.
type Line struct {
	ProductCode string
	ProductName string
	UnitPrice   decimal.Decimal
	UnitCost    decimal.Decimal
	Quantity    int
}

// Total is the live line amount, unit price times quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart accumulates lines for one in-progress sale. It is caller-local state,
// never persisted; settlement consumes its lines and re-checks stock itself,
// so any availability check against a Cart is advisory only.
//
// Cart is not safe for concurrent use. Each terminal session owns its own.
type Cart struct {
	lines []Line
}

func NewCart() *Cart {
	return &Cart{}
}

// Add merges qty into the existing line for the product's code, or appends a
// new line snapshotting the product's name and prices. The product's on-hand
// quantity caps the merged line; the cap is advisory, settlement re-verifies
// against live stock.
func (c *Cart) Add(p catalog.Product, qty int) error {
	if qty <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be greater than 0"}
	}
	for i := range c.lines {
		if c.lines[i].ProductCode == p.Code {
			merged := c.lines[i].Quantity + qty
			if merged > p.Quantity {
				return &catalog.InsufficientStockError{Code: p.Code, Requested: merged, Available: p.Quantity}
			}
			c.lines[i].Quantity = merged
			return nil
		}
	}
	if qty > p.Quantity {
		return &catalog.InsufficientStockError{Code: p.Code, Requested: qty, Available: p.Quantity}
	}
	c.lines = append(c.lines, Line{
		ProductCode: p.Code,
		ProductName: p.Name,
		UnitPrice:   p.SalePrice,
		UnitCost:    p.CostPrice,
		Quantity:    qty,
	})
	return nil
}

// SetQuantity replaces a line's quantity. A quantity of zero or below
// removes the line, since an empty line has no meaning.
func (c *Cart) SetQuantity(code string, qty int) error {
	for i := range c.lines {
		if c.lines[i].ProductCode == code {
			if qty <= 0 {
				c.lines = append(c.lines[:i], c.lines[i+1:]...)
				return nil
			}
			c.lines[i].Quantity = qty
			return nil
		}
	}
	return ErrLineNotFound
}

// SetUnitPrice overrides a line's unit price, for operator price edits at
// the terminal. The price must stay positive.
func (c *Cart) SetUnitPrice(code string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return &ValidationError{Field: "unit_price", Reason: "must be greater than 0"}
	}
	for i := range c.lines {
		if c.lines[i].ProductCode == code {
			c.lines[i].UnitPrice = price
			return nil
		}
	}
	return ErrLineNotFound
}

// Remove drops the line for code entirely.
func (c *Cart) Remove(code string) error {
	for i := range c.lines {
		if c.lines[i].ProductCode == code {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return nil
		}
	}
	return ErrLineNotFound
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.lines = c.lines[:0]
}

// Len is the number of lines in the cart.
func (c *Cart) Len() int {
	return len(c.lines)
}

// Lines returns a copy of the cart's lines in insertion order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Subtotal is the live sum of line totals. It is recomputed on every call,
// never cached.
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// Find returns the line for code, if present.
func (c *Cart) Find(code string) (Line, bool) {
	code = strings.TrimSpace(code)
	for _, l := range c.lines {
		if l.ProductCode == code {
			return l, true
		}
	}
	return Line{}, false
}
