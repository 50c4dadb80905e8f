// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/sgaydamakov/counters-engine/internal/logging"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

// requestIDHeader is the header ingestion clients and upstream proxies use to
// correlate a message across retries. It has no relation to the dispatcher's
// internal queryId (§4.6), which is assigned per counter-evaluation fan-out
// rather than per HTTP request.
const requestIDHeader = "X-Request-ID"

// RequestID middleware assigns a request ID to every ingestion call and adds
// it to both the response header and request context. The same ID becomes
// the request_id logging.PipelineLogger attaches to every pipeline-stage
// event emitted while processing the request (mapping failure, fact and
// index persisted, request completed), next to a correlation_id freshly
// generated per request, so a single X-Request-ID ties together the full
// trace for one fact submission.
func RequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// A caller resubmitting a message after a timeout may carry its own ID.
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(requestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		ctx = logging.ContextWithRequestID(ctx, requestID)
		ctx = logging.ContextWithNewCorrelationID(ctx)

		next(w, r.WithContext(ctx))
	}
}

// GetRequestID extracts the request ID assigned to the current ingestion
// request, or "" if RequestID never ran (e.g. inside a unit test handler).
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
