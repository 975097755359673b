package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/tillpoint/internal/domain/catalog"
)

type productResponse struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CostPrice string    `json:"cost_price"`
	SalePrice string    `json:"sale_price"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toProductResponse(p *catalog.Product) productResponse {
	return productResponse{
		Code:      p.Code,
		Name:      p.Name,
		CostPrice: money(p.CostPrice),
		SalePrice: money(p.SalePrice),
		Quantity:  p.Quantity,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.List(r.Context(), storeParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]productResponse, len(products))
	for i := range products {
		out[i] = toProductResponse(&products[i])
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.Get(r.Context(), storeParam(r), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toProductResponse(p))
}

type upsertProductRequest struct {
	Name      string `json:"name"`
	CostPrice string `json:"cost_price"`
	SalePrice string `json:"sale_price"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	var req upsertProductRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cost, err := parseDecimal("cost_price", req.CostPrice)
	if err != nil {
		writeError(w, r, err)
		return
	}
	price, err := parseDecimal("sale_price", req.SalePrice)
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.catalog.Upsert(r.Context(), storeParam(r), catalog.ProductInput{
		Code:      chi.URLParam(r, "code"),
		Name:      req.Name,
		CostPrice: cost,
		SalePrice: price,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toProductResponse(p))
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(r.Context(), storeParam(r), chi.URLParam(r, "code")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type decrementStockRequest struct {
	Quantity int `json:"quantity"`
}

// decrementStock is the manual stock adjustment. Sale settlement decrements
// inside its own transaction and never passes through here.
func (h *Handler) decrementStock(w http.ResponseWriter, r *http.Request) {
	var req decrementStockRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	store, code := storeParam(r), chi.URLParam(r, "code")
	if err := h.catalog.DecrementStock(r.Context(), store, code, req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.catalog.Get(r.Context(), store, code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toProductResponse(p))
}
