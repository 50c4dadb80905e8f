// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sgaydamakov/counters-engine/internal/metrics"
)

// PrometheusMetrics instruments every ingestion/example/health request with
// latency, status, and active-request gauges. The route's chi pattern (e.g.
// "/api/v1/message/{t}/json") is used as the path label rather than the raw
// URL, since spec §6's message-type and format path segments are unbounded
// user input and would otherwise blow up Prometheus cardinality with one
// series per distinct message type ever submitted.
func PrometheusMetrics(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.TrackActiveRequest(true)
		defer metrics.TrackActiveRequest(false)

		start := time.Now()

		wrapper := &metricsResponseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(wrapper, r)

		duration := time.Since(start)

		metrics.RecordAPIRequest(
			r.Method,
			routeLabel(r),
			strconv.Itoa(wrapper.statusCode),
			duration,
		)
	}
}

// routeLabel returns the matched chi route pattern for metrics purposes,
// falling back to the raw path when no chi route context is present (e.g.
// a 404 that never reached route matching, or a request built in a test
// without a chi router).
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
