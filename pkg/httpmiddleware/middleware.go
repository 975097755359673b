package httpmiddleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware decorates an http.Handler with cross-cutting behaviour.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares so the first one listed is outermost, matching
// the order they read in.
func Wrap(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RouteFinder resolves a request to its route pattern for logging and
// telemetry labels, so per-id URLs collapse into one series.
type RouteFinder func(*http.Request) (route string, ok bool)

// ChiRouteFinder reads the matched pattern from chi's route context. It only
// yields a pattern for middleware mounted inside the router, where the
// pattern is filled in by the time the handler returns.
func ChiRouteFinder() RouteFinder {
	return func(r *http.Request) (string, bool) {
		rctx := chi.RouteContext(r.Context())
		if rctx == nil {
			return "", false
		}
		pattern := rctx.RoutePattern()
		return pattern, pattern != ""
	}
}
