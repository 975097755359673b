package handler

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/tillpoint/internal/domain/catalog"
	"github.com/xenking/tillpoint/internal/domain/sale"
	"github.com/xenking/tillpoint/internal/domain/till"
)

// errorBody is the JSON error envelope, the same shape the rate limiter
// uses for its 429 responses.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`

	// SessionID names the blocking open session on a 409 from open-session,
	// so the caller can prompt to close it.
	SessionID string `json:"session_id,omitempty"`
}

// badRequestError is a handler-level 400 raised before any service call:
// malformed JSON, unparsable amounts, bad query parameters.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string {
	return e.msg
}

func badRequestf(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// writeError maps a domain error onto the HTTP taxonomy: validation and
// checkout-input failures are 400, missing resources 404, state-machine and
// stock conflicts 409, anything unrecognized a logged 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{}

	var (
		badReq      *badRequestError
		catalogVal  *catalog.ValidationError
		tillVal     *till.ValidationError
		saleVal     *sale.ValidationError
		discountErr *sale.InvalidDiscountError
		paymentErr  *sale.InsufficientPaymentError
		alreadyOpen *till.SessionAlreadyOpenError
		notOpen     *till.SessionNotOpenError
		noOpen      *till.NoOpenSessionError
		stockErr    *catalog.InsufficientStockError
	)

	switch {
	case errors.As(err, &badReq),
		errors.As(err, &catalogVal),
		errors.As(err, &tillVal),
		errors.As(err, &saleVal),
		errors.As(err, &discountErr),
		errors.As(err, &paymentErr),
		errors.Is(err, sale.ErrEmptyCart):
		body.Code = http.StatusBadRequest

	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, sale.ErrNotFound),
		errors.Is(err, till.ErrNotFound):
		body.Code = http.StatusNotFound

	case errors.As(err, &alreadyOpen):
		body.Code = http.StatusConflict
		body.SessionID = alreadyOpen.SessionID

	case errors.As(err, &notOpen),
		errors.As(err, &noOpen),
		errors.As(err, &stockErr):
		body.Code = http.StatusConflict

	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		writeJSON(w, r, http.StatusInternalServerError, errorBody{
			Code:    http.StatusInternalServerError,
			Message: "internal error",
		})
		return
	}

	body.Message = err.Error()
	writeJSON(w, r, body.Code, body)
}
