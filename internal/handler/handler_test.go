package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/tillpoint/internal/cache"
	"github.com/xenking/tillpoint/internal/domain/catalog"
	"github.com/xenking/tillpoint/internal/domain/sale"
	"github.com/xenking/tillpoint/internal/domain/till"
)

// --- Mock implementations ---

// The three mocks share state so the routes behave end to end: settling a
// sale decrements catalog stock and shows up in the session totals, exactly
// like the real repositories backed by one database.

type mockCatalogRepo struct {
	products map[string]*catalog.Product
	listErr  error
}

func catalogKey(storeID, code string) string {
	return storeID + "/" + code
}

func (m *mockCatalogRepo) Get(_ context.Context, storeID, code string) (*catalog.Product, error) {
	p, ok := m.products[catalogKey(storeID, code)]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockCatalogRepo) List(_ context.Context, storeID string) ([]catalog.Product, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []catalog.Product
	for _, p := range m.products {
		if p.StoreID == storeID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockCatalogRepo) Upsert(_ context.Context, p *catalog.Product) (*catalog.Product, error) {
	now := time.Now().UTC()
	cp := *p
	cp.CreatedAt = now
	cp.UpdatedAt = now
	if existing, ok := m.products[catalogKey(p.StoreID, p.Code)]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	m.products[catalogKey(p.StoreID, p.Code)] = &cp
	out := cp
	return &out, nil
}

func (m *mockCatalogRepo) DecrementStock(_ context.Context, storeID, code string, qty int) error {
	p, ok := m.products[catalogKey(storeID, code)]
	if !ok {
		return catalog.ErrNotFound
	}
	if p.Quantity < qty {
		return &catalog.InsufficientStockError{Code: code, Requested: qty, Available: p.Quantity}
	}
	p.Quantity -= qty
	return nil
}

func (m *mockCatalogRepo) Delete(_ context.Context, storeID, code string) error {
	if _, ok := m.products[catalogKey(storeID, code)]; !ok {
		return catalog.ErrNotFound
	}
	delete(m.products, catalogKey(storeID, code))
	return nil
}

type mockTillRepo struct {
	sessions map[string]*till.Session
	totals   map[string]*till.Totals
	payments map[string][]till.PaymentTotal
}

func (m *mockTillRepo) Open(_ context.Context, s *till.Session) (*till.Session, error) {
	for _, existing := range m.sessions {
		if existing.StoreID == s.StoreID && existing.Status == till.StatusOpen {
			return nil, &till.SessionAlreadyOpenError{StoreID: s.StoreID, SessionID: existing.ID}
		}
	}
	cp := *s
	cp.OpenedAt = time.Now().UTC()
	m.sessions[s.ID] = &cp
	out := cp
	return &out, nil
}

func (m *mockTillRepo) Get(_ context.Context, sessionID string) (*till.Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, till.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockTillRepo) GetOpen(_ context.Context, storeID string) (*till.Session, error) {
	for _, s := range m.sessions {
		if s.StoreID == storeID && s.Status == till.StatusOpen {
			cp := *s
			return &cp, nil
		}
	}
	return nil, &till.NoOpenSessionError{StoreID: storeID}
}

func (m *mockTillRepo) Totals(_ context.Context, sessionID string) (*till.Totals, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, till.ErrNotFound
	}
	t := &till.Totals{
		SessionID:     sessionID,
		OpeningFloat:  s.OpeningFloat,
		TotalSales:    decimal.Zero,
		DiscountTotal: decimal.Zero,
	}
	if recorded, ok := m.totals[sessionID]; ok {
		t.SalesCount = recorded.SalesCount
		t.TotalSales = recorded.TotalSales
		t.DiscountTotal = recorded.DiscountTotal
	}
	t.ComputedClosing = t.OpeningFloat.Add(t.TotalSales)
	return t, nil
}

func (m *mockTillRepo) PaymentSummary(_ context.Context, sessionID string) ([]till.PaymentTotal, error) {
	out := append([]till.PaymentTotal(nil), m.payments[sessionID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out, nil
}

func (m *mockTillRepo) Close(_ context.Context, storeID, sessionID string, declared decimal.Decimal, note string) (*till.Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok || s.StoreID != storeID || s.Status != till.StatusOpen {
		return nil, &till.SessionNotOpenError{SessionID: sessionID}
	}
	computed := s.OpeningFloat
	if recorded, ok := m.totals[sessionID]; ok {
		computed = computed.Add(recorded.TotalSales)
	}
	variance := declared.Sub(computed)
	now := time.Now().UTC()
	s.Status = till.StatusClosed
	s.ClosedAt = &now
	s.ComputedClosing = &computed
	s.DeclaredClosing = &declared
	s.Variance = &variance
	s.CloseNote = note
	cp := *s
	return &cp, nil
}

type mockSaleRepo struct {
	catalog *mockCatalogRepo
	till    *mockTillRepo

	sales map[string]*sale.Sale
	order []string
}

func (m *mockSaleRepo) Create(_ context.Context, sl *sale.Sale) error {
	s, ok := m.till.sessions[sl.SessionID]
	if !ok || s.StoreID != sl.StoreID || s.Status != till.StatusOpen {
		return &till.NoOpenSessionError{StoreID: sl.StoreID}
	}

	// All-or-nothing, like the conditional decrements inside the real
	// transaction: a short line leaves every other line untouched.
	for _, it := range sl.Items {
		p, ok := m.catalog.products[catalogKey(sl.StoreID, it.ProductCode)]
		if !ok {
			return fmt.Errorf("product %q: %w", it.ProductCode, catalog.ErrNotFound)
		}
		if p.Quantity < it.Quantity {
			return &catalog.InsufficientStockError{
				Code:      it.ProductCode,
				Requested: it.Quantity,
				Available: p.Quantity,
			}
		}
	}
	for _, it := range sl.Items {
		m.catalog.products[catalogKey(sl.StoreID, it.ProductCode)].Quantity -= it.Quantity
	}

	sl.SoldAt = time.Now().UTC()
	cp := *sl
	cp.Items = append([]sale.Item(nil), sl.Items...)
	m.sales[sl.ID] = &cp
	m.order = append(m.order, sl.ID)

	tot, ok := m.till.totals[sl.SessionID]
	if !ok {
		tot = &till.Totals{SessionID: sl.SessionID, TotalSales: decimal.Zero, DiscountTotal: decimal.Zero}
		m.till.totals[sl.SessionID] = tot
	}
	tot.SalesCount++
	tot.TotalSales = tot.TotalSales.Add(sl.Total)
	tot.DiscountTotal = tot.DiscountTotal.Add(sl.Discount)

	merged := false
	for i, pt := range m.till.payments[sl.SessionID] {
		if pt.Method == string(sl.PaymentMethod) {
			m.till.payments[sl.SessionID][i].Count++
			m.till.payments[sl.SessionID][i].Total = pt.Total.Add(sl.Total)
			merged = true
			break
		}
	}
	if !merged {
		m.till.payments[sl.SessionID] = append(m.till.payments[sl.SessionID], till.PaymentTotal{
			Method: string(sl.PaymentMethod),
			Count:  1,
			Total:  sl.Total,
		})
	}
	return nil
}

func (m *mockSaleRepo) Get(_ context.Context, storeID, saleID string) (*sale.Sale, error) {
	sl, ok := m.sales[saleID]
	if !ok || sl.StoreID != storeID {
		return nil, sale.ErrNotFound
	}
	cp := *sl
	cp.Items = append([]sale.Item(nil), sl.Items...)
	return &cp, nil
}

func (m *mockSaleRepo) History(_ context.Context, storeID string, filter sale.HistoryFilter) ([]sale.Sale, error) {
	var out []sale.Sale
	for i := len(m.order) - 1; i >= 0 && len(out) < filter.Limit; i-- {
		sl := m.sales[m.order[i]]
		if sl.StoreID != storeID {
			continue
		}
		if !filter.From.IsZero() && sl.SoldAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sl.SoldAt.Before(filter.To) {
			continue
		}
		cp := *sl
		cp.Items = nil
		out = append(out, cp)
	}
	return out, nil
}

func (m *mockSaleRepo) ItemHistory(_ context.Context, storeID string, filter sale.ItemHistoryFilter) ([]sale.SoldItem, error) {
	var out []sale.SoldItem
	for i := len(m.order) - 1; i >= 0; i-- {
		sl := m.sales[m.order[i]]
		if sl.StoreID != storeID {
			continue
		}
		if !filter.From.IsZero() && sl.SoldAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sl.SoldAt.Before(filter.To) {
			continue
		}
		for _, it := range sl.Items {
			if filter.Code != "" && it.ProductCode != filter.Code {
				continue
			}
			if len(out) == filter.Limit {
				return out, nil
			}
			out = append(out, sale.SoldItem{
				SaleID:      sl.ID,
				SoldAt:      sl.SoldAt,
				ProductCode: it.ProductCode,
				ProductName: it.ProductName,
				UnitPrice:   it.UnitPrice,
				Quantity:    it.Quantity,
				LineTotal:   it.LineTotal,
			})
		}
	}
	return out, nil
}

func (m *mockSaleRepo) DailyTotals(_ context.Context, storeID string, from, to time.Time) ([]sale.DailyTotal, error) {
	byDay := make(map[time.Time]*sale.DailyTotal)
	for _, id := range m.order {
		sl := m.sales[id]
		if sl.StoreID != storeID || sl.SoldAt.Before(from) || !sl.SoldAt.Before(to) {
			continue
		}
		at := sl.SoldAt.UTC()
		day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		d, ok := byDay[day]
		if !ok {
			d = &sale.DailyTotal{Day: day, Gross: decimal.Zero, Discount: decimal.Zero, CostOfGoods: decimal.Zero}
			byDay[day] = d
		}
		d.SalesCount++
		d.Gross = d.Gross.Add(sl.Total)
		d.Discount = d.Discount.Add(sl.Discount)
		for _, it := range sl.Items {
			d.CostOfGoods = d.CostOfGoods.Add(it.UnitCost.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
	}

	out := make([]sale.DailyTotal, 0, len(byDay))
	for _, d := range byDay {
		d.Margin = d.Gross.Sub(d.CostOfGoods)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// --- Helpers ---

type backends struct {
	catalog *mockCatalogRepo
	till    *mockTillRepo
	sales   *mockSaleRepo
}

func newRouter() (http.Handler, *backends) {
	b := &backends{
		catalog: &mockCatalogRepo{products: make(map[string]*catalog.Product)},
		till: &mockTillRepo{
			sessions: make(map[string]*till.Session),
			totals:   make(map[string]*till.Totals),
			payments: make(map[string][]till.PaymentTotal),
		},
	}
	b.sales = &mockSaleRepo{catalog: b.catalog, till: b.till, sales: make(map[string]*sale.Sale)}

	catalogSvc := catalog.NewService(b.catalog, cache.Noop{})
	tillSvc := till.NewService(b.till)
	saleSvc := sale.NewService(tillSvc, b.sales)

	h := NewHandler(catalogSvc, tillSvc, saleSvc)
	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	return r, b
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func wantError(t *testing.T, rec *httptest.ResponseRecorder, status int) errorBody {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
	var body errorBody
	decodeInto(t, rec, &body)
	assert.Equal(t, status, body.Code)
	assert.NotEmpty(t, body.Message)
	return body
}

func putProduct(t *testing.T, h http.Handler, store, code string, req upsertProductRequest) productResponse {
	t.Helper()
	rec := do(t, h, http.MethodPut, "/api/v1/stores/"+store+"/products/"+code, req)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var p productResponse
	decodeInto(t, rec, &p)
	return p
}

func openTill(t *testing.T, h http.Handler, store, openingFloat string) sessionResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/stores/"+store+"/sessions/", openSessionRequest{
		OpeningFloat: openingFloat,
		Operator:     "maria",
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	var s sessionResponse
	decodeInto(t, rec, &s)
	return s
}

func settle(t *testing.T, h http.Handler, store string, req settleSaleRequest) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodPost, "/api/v1/stores/"+store+"/sales/", req)
}

// --- Tests ---

func TestUpsertProduct(t *testing.T) {
	h, _ := newRouter()

	p := putProduct(t, h, "s1", "LATTE", upsertProductRequest{
		Name:      "Latte",
		CostPrice: "10.2",
		SalePrice: "25.5",
		Quantity:  10,
	})

	assert.Equal(t, "LATTE", p.Code)
	assert.Equal(t, "Latte", p.Name)
	assert.Equal(t, "10.20", p.CostPrice)
	assert.Equal(t, "25.50", p.SalePrice)
	assert.Equal(t, 10, p.Quantity)
	assert.False(t, p.CreatedAt.IsZero())
}

func TestUpsertProduct_Validation(t *testing.T) {
	h, _ := newRouter()

	rec := do(t, h, http.MethodPut, "/api/v1/stores/s1/products/BAD", upsertProductRequest{
		Name: "Bad", CostPrice: "1.00", SalePrice: "-3.00", Quantity: 1,
	})
	body := wantError(t, rec, http.StatusBadRequest)
	assert.Contains(t, body.Message, "sale_price")

	rec = do(t, h, http.MethodPut, "/api/v1/stores/s1/products/BAD", upsertProductRequest{
		Name: "Bad", CostPrice: "cheap", SalePrice: "3.00", Quantity: 1,
	})
	body = wantError(t, rec, http.StatusBadRequest)
	assert.Contains(t, body.Message, "not a decimal amount")

	rec = do(t, h, http.MethodPut, "/api/v1/stores/s1/products/BAD", `{"name":`)
	wantError(t, rec, http.StatusBadRequest)
}

func TestGetProduct_NotFound(t *testing.T) {
	h, _ := newRouter()

	rec := do(t, h, http.MethodGet, "/api/v1/stores/s1/products/GHOST", nil)
	wantError(t, rec, http.StatusNotFound)
}

func TestListProducts(t *testing.T) {
	h, _ := newRouter()
	putProduct(t, h, "s1", "MUFFIN", upsertProductRequest{Name: "Muffin", CostPrice: "3.00", SalePrice: "8.00", Quantity: 5})
	putProduct(t, h, "s1", "LATTE", upsertProductRequest{Name: "Latte", CostPrice: "10.20", SalePrice: "25.50", Quantity: 10})
	putProduct(t, h, "s2", "LATTE", upsertProductRequest{Name: "Latte", CostPrice: "9.00", SalePrice: "22.00", Quantity: 3})

	rec := do(t, h, http.MethodGet, "/api/v1/stores/s1/products/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []productResponse
	decodeInto(t, rec, &out)
	require.Len(t, out, 2)
	assert.Equal(t, "LATTE", out[0].Code)
	assert.Equal(t, "MUFFIN", out[1].Code)
}

func TestListProducts_RepoError(t *testing.T) {
	h, b := newRouter()
	b.catalog.listErr = fmt.Errorf("connection reset")

	rec := do(t, h, http.MethodGet, "/api/v1/stores/s1/products/", nil)
	body := wantError(t, rec, http.StatusInternalServerError)
	assert.Equal(t, "internal error", body.Message)
}

func TestDecrementStock(t *testing.T) {
	h, _ := newRouter()
	putProduct(t, h, "s1", "LATTE", upsertProductRequest{Name: "Latte", CostPrice: "10.20", SalePrice: "25.50", Quantity: 10})

	rec := do(t, h, http.MethodPost, "/api/v1/stores/s1/products/LATTE/decrement", decrementStockRequest{Quantity: 3})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var p productResponse
	decodeInto(t, rec, &p)
	assert.Equal(t, 7, p.Quantity)

	rec = do(t, h, http.MethodPost, "/api/v1/stores/s1/products/LATTE/decrement", decrementStockRequest{Quantity: 100})
	body := wantError(t, rec, http.StatusConflict)
	assert.Contains(t, body.Message, "insufficient stock")

	rec = do(t, h, http.MethodPost, "/api/v1/stores/s1/products/LATTE/decrement", decrementStockRequest{Quantity: 0})
	wantError(t, rec, http.StatusBadRequest)

	rec = do(t, h, http.MethodPost, "/api/v1/stores/s1/products/GHOST/decrement", decrementStockRequest{Quantity: 1})
	wantError(t, rec, http.StatusNotFound)
}

func TestDeleteProduct(t *testing.T) {
	h, _ := newRouter()
	putProduct(t, h, "s1", "LATTE", upsertProductRequest{Name: "Latte", CostPrice: "10.20", SalePrice: "25.50", Quantity: 10})

	rec := do(t, h, http.MethodDelete, "/api/v1/stores/s1/products/LATTE", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/products/LATTE", nil)
	wantError(t, rec, http.StatusNotFound)
}

func TestOpenSession(t *testing.T) {
	h, _ := newRouter()

	s := openTill(t, h, "s1", "100.00")
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "s1", s.StoreID)
	assert.Equal(t, "OPEN", s.Status)
	assert.Equal(t, "100.00", s.OpeningFloat)
	assert.Equal(t, "maria", s.Operator)
	assert.False(t, s.OpenedAt.IsZero())
	assert.Nil(t, s.ClosedAt)
	assert.Nil(t, s.Variance)
}

func TestOpenSession_AlreadyOpen(t *testing.T) {
	h, _ := newRouter()
	first := openTill(t, h, "s1", "100.00")

	rec := do(t, h, http.MethodPost, "/api/v1/stores/s1/sessions/", openSessionRequest{OpeningFloat: "50.00"})
	body := wantError(t, rec, http.StatusConflict)
	assert.Equal(t, first.ID, body.SessionID)
}

func TestOpenSession_MissingFloat(t *testing.T) {
	h, _ := newRouter()

	rec := do(t, h, http.MethodPost, "/api/v1/stores/s1/sessions/", openSessionRequest{Operator: "maria"})
	body := wantError(t, rec, http.StatusBadRequest)
	assert.Contains(t, body.Message, "opening_float is required")
}

func TestCurrentSession(t *testing.T) {
	h, _ := newRouter()

	rec := do(t, h, http.MethodGet, "/api/v1/stores/s1/sessions/current", nil)
	wantError(t, rec, http.StatusConflict)

	opened := openTill(t, h, "s1", "100.00")
	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/sessions/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var s sessionResponse
	decodeInto(t, rec, &s)
	assert.Equal(t, opened.ID, s.ID)
}

func TestSettleSale_Cash(t *testing.T) {
	h, _ := newRouter()
	putProduct(t, h, "s1", "LATTE", upsertProductRequest{Name: "Latte", CostPrice: "10.20", SalePrice: "25.50", Quantity: 10})
	session := openTill(t, h, "s1", "100.00")

	rec := settle(t, h, "s1", settleSaleRequest{
		SessionID:     session.ID,
		Lines:         []settleLineRequest{{Code: "LATTE", Quantity: 2}},
		PaymentMethod: "CASH",
		Tendered:      "60.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	var sl saleResponse
	decodeInto(t, rec, &sl)
	assert.NotEmpty(t, sl.ID)
	assert.Regexp(t, `^\d{8}-[0-9A-F]{8}$`, sl.ReceiptNumber)
	assert.Equal(t, session.ID, sl.SessionID)
	assert.Equal(t, "51.00", sl.Subtotal)
	assert.Equal(t, "0.00", sl.Discount)
	assert.Equal(t, "51.00", sl.Total)
	assert.Equal(t, "CASH", sl.PaymentMethod)
	assert.Equal(t, "60.00", sl.Tendered)
	assert.Equal(t, "9.00", sl.ChangeDue)
	assert.Equal(t, "FINALIZED", sl.Status)
	require.Len(t, sl.Items, 1)
	assert.Equal(t, "LATTE", sl.Items[0].Code)
	assert.Equal(t, "Latte", sl.Items[0].Name)
	assert.Equal(t, 2, sl.Items[0].Quantity)
	assert.Equal(t, "51.00", sl.Items[0].LineTotal)

	// Stock came down and the session totals went up.
	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/products/LATTE", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p productResponse
	decodeInto(t, rec, &p)
	assert.Equal(t, 8, p.Quantity)

	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/sessions/"+session.ID+"/totals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var totals sessionTotalsResponse
	decodeInto(t, rec, &totals)
	assert.Equal(t, 1, totals.SalesCount)
	assert.Equal(t, "51.00", totals.TotalSales)
	assert.Equal(t, "151.00", totals.ComputedClosing)
}

func TestSettleSale_DiscountAndPriceOverride(t *testing.T) {
	h, _ := newRouter()
	putProduct(t, h, "s1", "MUG", upsertProductRequest{Name: "Mug", CostPrice: "8.00", SalePrice: "30.00", Quantity: 4})
	session := openTill(t, h, "s1", "100.00")

	rec := settle(t, h, "s1", settleSaleRequest{
		SessionID:     session.ID,
		Lines:         []settleLineRequest{{Code: "MUG", Quantity: 1, UnitPrice: "20.00"}},
		PaymentMethod: "CREDIT_CARD",
		Discount:      "5.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	var sl saleResponse
	decodeInto(t, rec, &sl)
	assert.Equal(t, "20.00", sl.Subtotal)
	assert.Equal(t, "5.00", sl.Discount)
	assert.Equal(t, "15.00", sl.Total)
	assert.Equal(t, "0.00", sl.Tendered)
	assert.Equal(t, "0.00", sl.ChangeDue)
	require.Len(t, sl.Items, 1)
	assert.Equal(t, "20.00", sl.Items[0].UnitPrice)
	assert.Equal(t, "8.00", sl.Items[0].UnitCost)
}

func TestSettleSale_UnknownProduct(t *testing.T) {
	h, _ := newRouter()
	session := openTill(t, h, "s1", "100.00")

	rec := settle(t, h, "s1", settleSaleRequest{
		SessionID:     session.ID,
		Lines:         []settleLineRequest{{Code: "GHOST", Quantity: 1}},
		PaymentMethod: "CASH",
		Tendered:      "10.00",
	})
	body := wantError(t, rec, http.StatusBadRequest)
	assert.Contains(t, body.Message, `unknown product "GHOST"`)
}

func TestSettleSale_EmptyCart(t *testing.T) {
	h, _ := newRouter()
	session := openTill(t, h, "s1", "100.00")

	rec := settle(t, h, "s1", settleSaleRequest{
		SessionID:     session.ID,
		PaymentMethod: "CASH",
		Tendered:      "10.00",
	})
	body := wantError(t, rec, http.StatusBadRequest)
	assert.Contains(t, body.Message, "cart is empty")
}

func TestSettleSale_NoOpenSession(t *testing.T) {
	h, _ := newRouter()
	putProduct(t, h, "s1", "LATTE", upsertProductRequest{Name: "Latte", CostPrice: "10.20", SalePrice: "25.50", Quantity: 10})

	rec := settle(t, h, "s1", settleSaleRequest{
		SessionID:     "nope",
		Lines:         []settleLineRequest{{Code: "LATTE", Quantity: 1}},
		PaymentMethod: "CASH",
		Tendered:      "30.00",
	})
	wantError(t, rec, http.StatusConflict)

	// A session id that is not the store's open one gets the same conflict.
	session := openTill(t, h, "s1", "100.00")
	rec = settle(t, h, "s1", settleSaleRequest{
		SessionID:     session.ID + "-stale",
		Lines:         []settleLineRequest{{Code: "LATTE", Quantity: 1}},
		PaymentMethod: "CASH",
		Tendered:      "30.00",
	})
	wantError(t, rec, http.StatusConflict)
}

func TestSettleSale_InsufficientStock(t *testing.T) {
	h, _ := newRouter()
	putProduct(t, h, "s1", "LATTE", upsertProductRequest{Name: "Latte", CostPrice: "10.20", SalePrice: "25.50", Quantity: 10})
	putProduct(t, h, "s1", "MUFFIN", upsertProductRequest{Name: "Muffin", CostPrice: "3.00", SalePrice: "8.00", Quantity: 2})
	session := openTill(t, h, "s1", "100.00")

	rec := settle(t, h, "s1", settleSaleRequest{
		SessionID: session.ID,
		Lines: []settleLineRequest{
			{Code: "LATTE", Quantity: 1},
			{Code: "MUFFIN", Quantity: 5},
		},
		PaymentMethod: "CASH",
		Tendered:      "100.00",
	})
	body := wantError(t, rec, http.StatusConflict)
	assert.Contains(t, body.Message, "MUFFIN")

	// The whole settlement rolled back: no stock moved, no sale recorded.
	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/products/LATTE", nil)
	var p productResponse
	decodeInto(t, rec, &p)
	assert.Equal(t, 10, p.Quantity)

	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/sales/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sales []saleResponse
	decodeInto(t, rec, &sales)
	assert.Empty(t, sales)
}

func TestSettleSale_InsufficientCash(t *testing.T) {
	h, _ := newRouter()
	putProduct(t, h, "s1", "LATTE", upsertProductRequest{Name: "Latte", CostPrice: "10.20", SalePrice: "25.50", Quantity: 10})
	session := openTill(t, h, "s1", "100.00")

	rec := settle(t, h, "s1", settleSaleRequest{
		SessionID:     session.ID,
		Lines:         []settleLineRequest{{Code: "LATTE", Quantity: 2}},
		PaymentMethod: "CASH",
		Tendered:      "50.00",
	})
	body := wantError(t, rec, http.StatusBadRequest)
	assert.Contains(t, body.Message, "does not cover total")
}

func TestSettleSale_UnknownPaymentMethod(t *testing.T) {
	h, _ := newRouter()
	putProduct(t, h, "s1", "LATTE", upsertProductRequest{Name: "Latte", CostPrice: "10.20", SalePrice: "25.50", Quantity: 10})
	session := openTill(t, h, "s1", "100.00")

	rec := settle(t, h, "s1", settleSaleRequest{
		SessionID:     session.ID,
		Lines:         []settleLineRequest{{Code: "LATTE", Quantity: 1}},
		PaymentMethod: "BARTER",
	})
	body := wantError(t, rec, http.StatusBadRequest)
	assert.Contains(t, body.Message, "payment_method")
}

func TestSessionPayments(t *testing.T) {
	h, _ := newRouter()
	putProduct(t, h, "s1", "LATTE", upsertProductRequest{Name: "Latte", CostPrice: "10.20", SalePrice: "25.50", Quantity: 10})
	session := openTill(t, h, "s1", "100.00")

	rec := settle(t, h, "s1", settleSaleRequest{
		SessionID:     session.ID,
		Lines:         []settleLineRequest{{Code: "LATTE", Quantity: 2}},
		PaymentMethod: "CASH",
		Tendered:      "60.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = settle(t, h, "s1", settleSaleRequest{
		SessionID:     session.ID,
		Lines:         []settleLineRequest{{Code: "LATTE", Quantity: 1}},
		PaymentMethod: "CREDIT_CARD",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/sessions/"+session.ID+"/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payments []paymentTotalResponse
	decodeInto(t, rec, &payments)
	require.Len(t, payments, 2)
	assert.Equal(t, "CASH", payments[0].Method)
	assert.Equal(t, 1, payments[0].Count)
	assert.Equal(t, "51.00", payments[0].Total)
	assert.Equal(t, "CREDIT_CARD", payments[1].Method)
	assert.Equal(t, "25.50", payments[1].Total)
}

func TestCloseSession(t *testing.T) {
	h, _ := newRouter()
	putProduct(t, h, "s1", "MUG", upsertProductRequest{Name: "Mug", CostPrice: "8.00", SalePrice: "50.00", Quantity: 4})
	session := openTill(t, h, "s1", "100.00")

	rec := settle(t, h, "s1", settleSaleRequest{
		SessionID:     session.ID,
		Lines:         []settleLineRequest{{Code: "MUG", Quantity: 2}},
		PaymentMethod: "DEBIT_CARD",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Computed 200.00, declared 195.00: short by 2.5%, a warning.
	rec = do(t, h, http.MethodPost, "/api/v1/stores/s1/sessions/"+session.ID+"/close", closeSessionRequest{
		DeclaredClosing: "195.00",
		Note:            "evening count",
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var result reconciliationResponse
	decodeInto(t, rec, &result)
	assert.Equal(t, "200.00", result.Computed)
	assert.Equal(t, "195.00", result.Declared)
	assert.Equal(t, "-5.00", result.Variance)
	assert.Equal(t, "WARNING", result.Level)
	assert.Equal(t, "CLOSED", result.Session.Status)
	assert.NotNil(t, result.Session.ClosedAt)
	require.NotNil(t, result.Session.Variance)
	assert.Equal(t, "-5.00", *result.Session.Variance)
	assert.Equal(t, "evening count", result.Session.CloseNote)

	// The till is now free, but the same session cannot close twice.
	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/sessions/current", nil)
	wantError(t, rec, http.StatusConflict)

	rec = do(t, h, http.MethodPost, "/api/v1/stores/s1/sessions/"+session.ID+"/close", closeSessionRequest{
		DeclaredClosing: "195.00",
	})
	wantError(t, rec, http.StatusConflict)
}

func TestCloseSession_ExactCount(t *testing.T) {
	h, _ := newRouter()
	session := openTill(t, h, "s1", "80.00")

	rec := do(t, h, http.MethodPost, "/api/v1/stores/s1/sessions/"+session.ID+"/close", closeSessionRequest{
		DeclaredClosing: "80.00",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result reconciliationResponse
	decodeInto(t, rec, &result)
	assert.Equal(t, "0.00", result.Variance)
	assert.Equal(t, "OK", result.Level)
}

func TestSaleHistoryAndGet(t *testing.T) {
	h, _ := newRouter()
	putProduct(t, h, "s1", "LATTE", upsertProductRequest{Name: "Latte", CostPrice: "10.20", SalePrice: "25.50", Quantity: 10})
	session := openTill(t, h, "s1", "100.00")

	rec := settle(t, h, "s1", settleSaleRequest{
		SessionID:     session.ID,
		Lines:         []settleLineRequest{{Code: "LATTE", Quantity: 1}},
		PaymentMethod: "PIX",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = settle(t, h, "s1", settleSaleRequest{
		SessionID:     session.ID,
		Lines:         []settleLineRequest{{Code: "LATTE", Quantity: 2}},
		PaymentMethod: "CASH",
		Tendered:      "51.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var second saleResponse
	decodeInto(t, rec, &second)

	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/sales/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sales []saleResponse
	decodeInto(t, rec, &sales)
	require.Len(t, sales, 2)
	assert.Equal(t, second.ID, sales[0].ID)
	assert.Empty(t, sales[0].Items)

	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/sales/?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &sales)
	require.Len(t, sales, 1)

	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/sales/"+second.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got saleResponse
	decodeInto(t, rec, &got)
	assert.Equal(t, second.ID, got.ID)
	require.Len(t, got.Items, 1)

	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/sales/missing", nil)
	wantError(t, rec, http.StatusNotFound)

	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/sales/?limit=abc", nil)
	wantError(t, rec, http.StatusBadRequest)
}

func TestItemHistory(t *testing.T) {
	h, _ := newRouter()
	putProduct(t, h, "s1", "LATTE", upsertProductRequest{Name: "Latte", CostPrice: "10.20", SalePrice: "25.50", Quantity: 10})
	putProduct(t, h, "s1", "MUFFIN", upsertProductRequest{Name: "Muffin", CostPrice: "3.00", SalePrice: "8.00", Quantity: 5})
	session := openTill(t, h, "s1", "100.00")

	rec := settle(t, h, "s1", settleSaleRequest{
		SessionID: session.ID,
		Lines: []settleLineRequest{
			{Code: "LATTE", Quantity: 2},
			{Code: "MUFFIN", Quantity: 1},
		},
		PaymentMethod: "CASH",
		Tendered:      "59.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/reports/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []soldItemResponse
	decodeInto(t, rec, &items)
	require.Len(t, items, 2)

	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/reports/items?code=MUFFIN", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &items)
	require.Len(t, items, 1)
	assert.Equal(t, "MUFFIN", items[0].Code)
	assert.Equal(t, 1, items[0].Quantity)
	assert.Equal(t, "8.00", items[0].LineTotal)
}

func TestDailyTotals(t *testing.T) {
	h, _ := newRouter()
	putProduct(t, h, "s1", "LATTE", upsertProductRequest{Name: "Latte", CostPrice: "10.20", SalePrice: "25.50", Quantity: 10})
	session := openTill(t, h, "s1", "100.00")

	rec := settle(t, h, "s1", settleSaleRequest{
		SessionID:     session.ID,
		Lines:         []settleLineRequest{{Code: "LATTE", Quantity: 2}},
		PaymentMethod: "CASH",
		Tendered:      "51.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sl saleResponse
	decodeInto(t, rec, &sl)

	day := sl.SoldAt.UTC().Format(time.DateOnly)
	next := sl.SoldAt.UTC().AddDate(0, 0, 1).Format(time.DateOnly)

	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/reports/daily?from="+day+"&to="+next, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var days []dailyTotalResponse
	decodeInto(t, rec, &days)
	require.Len(t, days, 1)
	assert.Equal(t, day, days[0].Day)
	assert.Equal(t, 1, days[0].SalesCount)
	assert.Equal(t, "51.00", days[0].Gross)
	assert.Equal(t, "20.40", days[0].CostOfGoods)
	assert.Equal(t, "30.60", days[0].Margin)

	// The period is mandatory for the daily report.
	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/reports/daily?from="+day, nil)
	wantError(t, rec, http.StatusBadRequest)
}

func TestMonthlyReport(t *testing.T) {
	h, _ := newRouter()
	putProduct(t, h, "s1", "LATTE", upsertProductRequest{Name: "Latte", CostPrice: "10.20", SalePrice: "25.50", Quantity: 10})
	session := openTill(t, h, "s1", "100.00")

	rec := settle(t, h, "s1", settleSaleRequest{
		SessionID:     session.ID,
		Lines:         []settleLineRequest{{Code: "LATTE", Quantity: 2}},
		PaymentMethod: "CASH",
		Tendered:      "51.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sl saleResponse
	decodeInto(t, rec, &sl)

	at := sl.SoldAt.UTC()
	target := fmt.Sprintf("/api/v1/stores/s1/reports/monthly?year=%d&month=%d", at.Year(), int(at.Month()))
	rec = do(t, h, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var report monthlyReportResponse
	decodeInto(t, rec, &report)
	assert.Equal(t, at.Year(), report.Year)
	assert.Equal(t, int(at.Month()), report.Month)
	assert.Equal(t, 1, report.SalesCount)
	assert.Equal(t, "51.00", report.Gross)
	assert.Equal(t, "30.60", report.Margin)
	require.Len(t, report.Days, 1)

	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/reports/monthly?year=2099&month=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &report)
	assert.Zero(t, report.SalesCount)
	assert.Equal(t, "0.00", report.Gross)
	assert.Empty(t, report.Days)

	rec = do(t, h, http.MethodGet, "/api/v1/stores/s1/reports/monthly?month=1", nil)
	body := wantError(t, rec, http.StatusBadRequest)
	assert.Contains(t, body.Message, "year is required")
}

func TestReceiptNumber(t *testing.T) {
	soldAt := time.Date(2024, time.June, 11, 15, 4, 5, 0, time.UTC)

	sl := &sale.Sale{ID: "8f14e45f-ceea-467f-a34e-cd8bdba96c3e", SoldAt: soldAt}
	assert.Equal(t, "20240611-8F14E45F", receiptNumber(sl))

	sl = &sale.Sale{ID: "abc", SoldAt: soldAt}
	assert.Equal(t, "20240611-ABC", receiptNumber(sl))
}
