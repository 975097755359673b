package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/tillpoint/internal/domain/till"
)

type sessionResponse struct {
	ID              string     `json:"id"`
	StoreID         string     `json:"store_id"`
	Status          string     `json:"status"`
	OpenedAt        time.Time  `json:"opened_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	OpeningFloat    string     `json:"opening_float"`
	ComputedClosing *string    `json:"computed_closing,omitempty"`
	DeclaredClosing *string    `json:"declared_closing,omitempty"`
	Variance        *string    `json:"variance,omitempty"`
	Operator        string     `json:"operator"`
	OpenNote        string     `json:"open_note,omitempty"`
	CloseNote       string     `json:"close_note,omitempty"`
}

func toSessionResponse(s *till.Session) sessionResponse {
	return sessionResponse{
		ID:              s.ID,
		StoreID:         s.StoreID,
		Status:          string(s.Status),
		OpenedAt:        s.OpenedAt,
		ClosedAt:        s.ClosedAt,
		OpeningFloat:    money(s.OpeningFloat),
		ComputedClosing: moneyPtr(s.ComputedClosing),
		DeclaredClosing: moneyPtr(s.DeclaredClosing),
		Variance:        moneyPtr(s.Variance),
		Operator:        s.OperatorName,
		OpenNote:        s.OpenNote,
		CloseNote:       s.CloseNote,
	}
}

type openSessionRequest struct {
	OpeningFloat string `json:"opening_float"`
	Operator     string `json:"operator"`
	Note         string `json:"note"`
}

func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	openingFloat, err := parseDecimal("opening_float", req.OpeningFloat)
	if err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.till.Open(r.Context(), storeParam(r), till.OpenInput{
		OpeningFloat: openingFloat,
		Operator:     req.Operator,
		Note:         req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toSessionResponse(session))
}

func (h *Handler) currentSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.till.GetOpen(r.Context(), storeParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toSessionResponse(session))
}

type sessionTotalsResponse struct {
	SessionID       string `json:"session_id"`
	OpeningFloat    string `json:"opening_float"`
	SalesCount      int    `json:"sales_count"`
	TotalSales      string `json:"total_sales"`
	DiscountTotal   string `json:"discount_total"`
	ComputedClosing string `json:"computed_closing"`
}

func (h *Handler) sessionTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.till.Totals(r.Context(), storeParam(r), chi.URLParam(r, "session"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sessionTotalsResponse{
		SessionID:       totals.SessionID,
		OpeningFloat:    money(totals.OpeningFloat),
		SalesCount:      totals.SalesCount,
		TotalSales:      money(totals.TotalSales),
		DiscountTotal:   money(totals.DiscountTotal),
		ComputedClosing: money(totals.ComputedClosing),
	})
}

type paymentTotalResponse struct {
	Method string `json:"method"`
	Count  int    `json:"count"`
	Total  string `json:"total"`
}

func (h *Handler) sessionPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.till.PaymentSummary(r.Context(), storeParam(r), chi.URLParam(r, "session"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]paymentTotalResponse, len(payments))
	for i, p := range payments {
		out[i] = paymentTotalResponse{
			Method: p.Method,
			Count:  p.Count,
			Total:  money(p.Total),
		}
	}
	writeJSON(w, r, http.StatusOK, out)
}

type closeSessionRequest struct {
	DeclaredClosing string `json:"declared_closing"`
	Note            string `json:"note"`
}

type reconciliationResponse struct {
	Session  sessionResponse `json:"session"`
	Computed string          `json:"computed_closing"`
	Declared string          `json:"declared_closing"`
	Variance string          `json:"variance"`
	Level    string          `json:"level"`
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	var req closeSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	declared, err := parseDecimal("declared_closing", req.DeclaredClosing)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.till.Close(r.Context(), storeParam(r), chi.URLParam(r, "session"), till.CloseInput{
		Declared: declared,
		Note:     req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, reconciliationResponse{
		Session:  toSessionResponse(result.Session),
		Computed: money(result.Computed),
		Declared: money(result.Declared),
		Variance: money(result.Variance),
		Level:    string(result.Level),
	})
}
