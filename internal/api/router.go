// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sgaydamakov/counters-engine/internal/apperrors"
	"github.com/sgaydamakov/counters-engine/internal/middleware"
)

var notFoundErr = apperrors.NewValidationError("no such route")

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// chiAdapt adapts an http.HandlerFunc middleware to Chi's func(http.Handler) http.Handler.
func chiAdapt(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// NewRouter builds the chi.Router serving spec §6's external interface.
// A PerformanceMonitor runs alongside Prometheus metrics purely for
// in-process slow-request logging (spec's ambient observability stack).
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	perfMon := middleware.NewPerformanceMonitor(1000)

	r.Use(chiAdapt(middleware.RequestID))
	r.Use(chimiddleware.Recoverer)
	r.Use(chiAdapt(middleware.PrometheusMetrics))
	r.Use(chiAdapt(middleware.Compression))
	r.Use(perfMon.Middleware)

	r.Get("/health", handler.Health)
	r.Handle("/metrics", metricsHandler())

	r.Route("/api/v1/message", func(r chi.Router) {
		r.Post("/iris", handler.PostIRIS)
		r.Post("/{t}/json", handler.PostJSON)
		r.Get("/{t}/{format}", handler.GetExample)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", notFoundErr)
	})

	return r
}
