package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/tillpoint/internal/domain/catalog"
	"github.com/xenking/tillpoint/internal/domain/sale"
	"github.com/xenking/tillpoint/internal/domain/till"
)

// Handler exposes the POS core over HTTP, delegating business logic to the
// domain services. Every route is store-scoped: the store id always comes
// from the URL, never from server state.
type Handler struct {
	catalog *catalog.Service
	till    *till.Service
	sales   *sale.Service
}

// NewHandler constructs a Handler with the required domain services.
func NewHandler(catalogSvc *catalog.Service, tillSvc *till.Service, saleSvc *sale.Service) *Handler {
	return &Handler{
		catalog: catalogSvc,
		till:    tillSvc,
		sales:   saleSvc,
	}
}

// Routes registers every API route on r. The caller mounts r under its
// version prefix.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/stores/{store}", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.listProducts)
			r.Put("/{code}", h.upsertProduct)
			r.Get("/{code}", h.getProduct)
			r.Delete("/{code}", h.deleteProduct)
			r.Post("/{code}/decrement", h.decrementStock)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.openSession)
			r.Get("/current", h.currentSession)
			r.Get("/{session}/totals", h.sessionTotals)
			r.Get("/{session}/payments", h.sessionPayments)
			r.Post("/{session}/close", h.closeSession)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.settleSale)
			r.Get("/", h.listSales)
			r.Get("/{sale}", h.getSale)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/items", h.itemHistory)
			r.Get("/daily", h.dailyTotals)
			r.Get("/monthly", h.monthlyReport)
		})
	})
}

func storeParam(r *http.Request) string {
	return chi.URLParam(r, "store")
}

// decode reads the JSON request body into v, turning malformed input into a
// 400 rather than a 500.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequestf("invalid request body: %s", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(r.Context()).Warn("encode response", zap.Error(err))
	}
}

// parseDecimal parses a required amount field sent as a JSON string.
func parseDecimal(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, badRequestf("%s is required", field)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, badRequestf("invalid %s: %q is not a decimal amount", field, raw)
	}
	return d, nil
}

// optionalDecimal is parseDecimal for fields that default to zero.
func optionalDecimal(field, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	return parseDecimal(field, raw)
}

// parseTimeParam accepts RFC 3339 timestamps and bare dates.
func parseTimeParam(name, raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, badRequestf("invalid %s: want RFC 3339 or YYYY-MM-DD", name)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func moneyPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}
