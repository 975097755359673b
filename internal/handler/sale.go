package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/tillpoint/internal/domain/catalog"
	"github.com/xenking/tillpoint/internal/domain/sale"
)

type settleLineRequest struct {
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`

	// UnitPrice overrides the catalog sale price when set, covering the
	// operator-adjusted-price flow. Name and cost always come from the
	// catalog snapshot.
	UnitPrice string `json:"unit_price,omitempty"`
}

type settleSaleRequest struct {
	SessionID     string              `json:"session_id"`
	Lines         []settleLineRequest `json:"lines"`
	PaymentMethod string              `json:"payment_method"`
	Discount      string              `json:"discount,omitempty"`
	Tendered      string              `json:"tendered,omitempty"`
}

type saleItemResponse struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	UnitCost  string `json:"unit_cost"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"line_total"`
}

type saleResponse struct {
	ID            string             `json:"id"`
	ReceiptNumber string             `json:"receipt_number"`
	StoreID       string             `json:"store_id"`
	SessionID     string             `json:"session_id"`
	SoldAt        time.Time          `json:"sold_at"`
	Subtotal      string             `json:"subtotal"`
	Discount      string             `json:"discount"`
	Total         string             `json:"total"`
	PaymentMethod string             `json:"payment_method"`
	Tendered      string             `json:"tendered"`
	ChangeDue     string             `json:"change_due"`
	Status        string             `json:"status"`
	Items         []saleItemResponse `json:"items,omitempty"`
}

func toSaleResponse(sl *sale.Sale, withItems bool) saleResponse {
	resp := saleResponse{
		ID:            sl.ID,
		ReceiptNumber: receiptNumber(sl),
		StoreID:       sl.StoreID,
		SessionID:     sl.SessionID,
		SoldAt:        sl.SoldAt,
		Subtotal:      money(sl.Subtotal),
		Discount:      money(sl.Discount),
		Total:         money(sl.Total),
		PaymentMethod: string(sl.PaymentMethod),
		Tendered:      money(sl.Tendered),
		ChangeDue:     money(sl.ChangeDue),
		Status:        string(sl.Status),
	}
	if withItems {
		resp.Items = make([]saleItemResponse, len(sl.Items))
		for i, it := range sl.Items {
			resp.Items[i] = saleItemResponse{
				Code:      it.ProductCode,
				Name:      it.ProductName,
				UnitPrice: money(it.UnitPrice),
				UnitCost:  money(it.UnitCost),
				Quantity:  it.Quantity,
				LineTotal: money(it.LineTotal),
			}
		}
	}
	return resp
}

// receiptNumber derives the human receipt reference shown on confirmations:
// the sold-at date plus the leading id segment, e.g. 20240611-8F14E45F.
func receiptNumber(sl *sale.Sale) string {
	prefix := sl.ID
	if i := strings.IndexByte(prefix, '-'); i > 0 {
		prefix = prefix[:i]
	}
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return sl.SoldAt.Format("20060102") + "-" + strings.ToUpper(prefix)
}

// settleSale resolves each requested code against the catalog, then hands
// the snapshot lines to the settlement engine. The engine re-checks stock
// inside its transaction, so a stale catalog read here can delay a sale but
// never oversell one.
func (h *Handler) settleSale(w http.ResponseWriter, r *http.Request) {
	var req settleSaleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	discount, err := optionalDecimal("discount", req.Discount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tendered, err := optionalDecimal("tendered", req.Tendered)
	if err != nil {
		writeError(w, r, err)
		return
	}

	store := storeParam(r)
	lines := make([]sale.Line, 0, len(req.Lines))
	for _, lr := range req.Lines {
		p, err := h.catalog.Get(r.Context(), store, lr.Code)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				writeError(w, r, badRequestf("unknown product %q", lr.Code))
				return
			}
			writeError(w, r, err)
			return
		}

		unitPrice := p.SalePrice
		if strings.TrimSpace(lr.UnitPrice) != "" {
			unitPrice, err = parseDecimal("unit_price", lr.UnitPrice)
			if err != nil {
				writeError(w, r, err)
				return
			}
		}
		lines = append(lines, sale.Line{
			ProductCode: p.Code,
			ProductName: p.Name,
			UnitPrice:   unitPrice,
			UnitCost:    p.CostPrice,
			Quantity:    lr.Quantity,
		})
	}

	sl, err := h.sales.Settle(r.Context(), store, sale.SettleRequest{
		SessionID:     req.SessionID,
		Lines:         lines,
		PaymentMethod: sale.PaymentMethod(req.PaymentMethod),
		Discount:      discount,
		Tendered:      tendered,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The settlement transaction decremented stock behind the cache's back.
	codes := make([]string, len(sl.Items))
	for i, it := range sl.Items {
		codes[i] = it.ProductCode
	}
	h.catalog.Evict(r.Context(), store, codes...)

	writeJSON(w, r, http.StatusCreated, toSaleResponse(sl, true))
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	sl, err := h.sales.Get(r.Context(), storeParam(r), chi.URLParam(r, "sale"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toSaleResponse(sl, true))
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	filter := sale.HistoryFilter{}
	if err := parsePeriod(r, &filter.From, &filter.To); err != nil {
		writeError(w, r, err)
		return
	}
	var err error
	if filter.Limit, err = parseLimit(r); err != nil {
		writeError(w, r, err)
		return
	}

	sales, err := h.sales.History(r.Context(), storeParam(r), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]saleResponse, len(sales))
	for i := range sales {
		out[i] = toSaleResponse(&sales[i], false)
	}
	writeJSON(w, r, http.StatusOK, out)
}

type soldItemResponse struct {
	SaleID    string    `json:"sale_id"`
	SoldAt    time.Time `json:"sold_at"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	UnitPrice string    `json:"unit_price"`
	Quantity  int       `json:"quantity"`
	LineTotal string    `json:"line_total"`
}

func (h *Handler) itemHistory(w http.ResponseWriter, r *http.Request) {
	filter := sale.ItemHistoryFilter{Code: r.URL.Query().Get("code")}
	if err := parsePeriod(r, &filter.From, &filter.To); err != nil {
		writeError(w, r, err)
		return
	}
	var err error
	if filter.Limit, err = parseLimit(r); err != nil {
		writeError(w, r, err)
		return
	}

	items, err := h.sales.ItemHistory(r.Context(), storeParam(r), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]soldItemResponse, len(items))
	for i, it := range items {
		out[i] = soldItemResponse{
			SaleID:    it.SaleID,
			SoldAt:    it.SoldAt,
			Code:      it.ProductCode,
			Name:      it.ProductName,
			UnitPrice: money(it.UnitPrice),
			Quantity:  it.Quantity,
			LineTotal: money(it.LineTotal),
		}
	}
	writeJSON(w, r, http.StatusOK, out)
}

type dailyTotalResponse struct {
	Day         string `json:"day"`
	SalesCount  int    `json:"sales_count"`
	Gross       string `json:"gross"`
	Discount    string `json:"discount"`
	CostOfGoods string `json:"cost_of_goods"`
	Margin      string `json:"margin"`
}

func toDailyTotalResponse(d sale.DailyTotal) dailyTotalResponse {
	return dailyTotalResponse{
		Day:         d.Day.Format(time.DateOnly),
		SalesCount:  d.SalesCount,
		Gross:       money(d.Gross),
		Discount:    money(d.Discount),
		CostOfGoods: money(d.CostOfGoods),
		Margin:      money(d.Margin),
	}
}

func (h *Handler) dailyTotals(w http.ResponseWriter, r *http.Request) {
	var from, to time.Time
	if err := parsePeriod(r, &from, &to); err != nil {
		writeError(w, r, err)
		return
	}

	days, err := h.sales.DailyTotals(r.Context(), storeParam(r), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]dailyTotalResponse, len(days))
	for i, d := range days {
		out[i] = toDailyTotalResponse(d)
	}
	writeJSON(w, r, http.StatusOK, out)
}

type monthlyReportResponse struct {
	Year        int                  `json:"year"`
	Month       int                  `json:"month"`
	Days        []dailyTotalResponse `json:"days"`
	SalesCount  int                  `json:"sales_count"`
	Gross       string               `json:"gross"`
	Discount    string               `json:"discount"`
	CostOfGoods string               `json:"cost_of_goods"`
	Margin      string               `json:"margin"`
}

func (h *Handler) monthlyReport(w http.ResponseWriter, r *http.Request) {
	year, err := intQueryParam(r, "year")
	if err != nil {
		writeError(w, r, err)
		return
	}
	month, err := intQueryParam(r, "month")
	if err != nil {
		writeError(w, r, err)
		return
	}

	report, err := h.sales.MonthlyReport(r.Context(), storeParam(r), year, time.Month(month))
	if err != nil {
		writeError(w, r, err)
		return
	}

	days := make([]dailyTotalResponse, len(report.Days))
	for i, d := range report.Days {
		days[i] = toDailyTotalResponse(d)
	}
	writeJSON(w, r, http.StatusOK, monthlyReportResponse{
		Year:        report.Year,
		Month:       int(report.Month),
		Days:        days,
		SalesCount:  report.SalesCount,
		Gross:       money(report.Gross),
		Discount:    money(report.Discount),
		CostOfGoods: money(report.CostOfGoods),
		Margin:      money(report.Margin),
	})
}

// parsePeriod reads the optional from/to query bounds.
func parsePeriod(r *http.Request, from, to *time.Time) error {
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := parseTimeParam("from", raw)
		if err != nil {
			return err
		}
		*from = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := parseTimeParam("to", raw)
		if err != nil {
			return err
		}
		*to = t
	}
	return nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, badRequestf("invalid limit: %q", raw)
	}
	return limit, nil
}

func intQueryParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, badRequestf("%s is required", name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequestf("invalid %s: %q", name, raw)
	}
	return v, nil
}
