package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Instrument wraps the handler with otelhttp so every request produces a
// server span and the standard http metrics, wired to the app telemetry
// providers instead of the otel globals.
func Instrument(serviceName string, m *app.Telemetry) Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
			otelhttp.WithPropagators(m.TextMapPropagator()),
		)
	}
}

// Labeler renames the server span and stamps the http.route attribute once
// the router has matched, so telemetry groups by pattern rather than by raw
// URL. It must sit inside the router, after Instrument.
func Labeler(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			route, ok := find(r)
			if !ok {
				return
			}
			attr := attribute.String("http.route", route)
			span := trace.SpanFromContext(r.Context())
			span.SetName(r.Method + " " + route)
			span.SetAttributes(attr)
			if labeler, found := otelhttp.LabelerFromContext(r.Context()); found {
				labeler.Add(attr)
			}
		})
	}
}
