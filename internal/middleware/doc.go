// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package middleware provides the HTTP middleware chain the counters engine
wraps every ingestion, example, health, and metrics route with.

This package has no auth, CORS, or rate-limiting layer: the engine has no
user-facing accounts or multi-tenant boundary to authenticate, so the chain
is infrastructure-only — request tracking, crash recovery, metrics,
compression, and in-process latency sampling.

Key Components:

  - Request ID: UUID-based correlation, threaded into internal/logging's
    context helpers so every pipeline-stage log line for a request shares
    one correlation_id
  - Prometheus Metrics: latency/status instrumentation keyed by chi route
    pattern rather than raw path, since message-type path segments are
    unbounded user input
  - Compression: gzip for the IRIS/JSON response bodies, which routinely
    carry a full counters map or XML document
  - Performance Monitor: sliding-window latency percentiles plus
    slow-request logging, independent of the Prometheus histogram

Middleware Stack:

internal/api.NewRouter wires these, in order, ahead of every route:

	r.Use(chiAdapt(middleware.RequestID))        // Layer 1: correlation ID
	r.Use(chimiddleware.Recoverer)                // Layer 2: panic recovery
	r.Use(chiAdapt(middleware.PrometheusMetrics)) // Layer 3: metrics
	r.Use(chiAdapt(middleware.Compression))       // Layer 4: gzip
	r.Use(perfMon.Middleware)                     // Layer 5: latency sampling

Usage Example - Performance Monitoring:

	// internal/api.NewRouter keeps a 1000-sample sliding window per process
	perfMon := middleware.NewPerformanceMonitor(1000)

	r.Use(perfMon.Middleware)

	// Get performance statistics, e.g. for an operator debug endpoint
	stats := perfMon.GetStats()
	for _, s := range stats {
	    fmt.Printf("%s p50=%dms p95=%dms p99=%dms\n", s.Path, s.P50Duration, s.P95Duration, s.P99Duration)
	}

Usage Example - Request ID:

	http.HandleFunc("/api/v1/message/1/json",
	    middleware.RequestID(handler),
	)

	func handler(w http.ResponseWriter, r *http.Request) {
	    requestID := middleware.GetRequestID(r.Context())
	    logging.Ctx(r.Context()).Info().Msg("processing ingestion request")
	}

Compression Details:

The compression middleware:
  - Only engages when the client sends Accept-Encoding: gzip
  - Skips Upgrade: websocket requests (not applicable to this synchronous API)
  - Pools gzip.Writer instances via sync.Pool to bound allocations under load
  - Removes Content-Length, since the compressed size differs from the original

Performance Monitor:

The performance monitor tracks, independently of the Prometheus histogram:
  - Request count and latency percentiles (p50, p95, p99) per method+path
  - A rolling window of the most recent N requests (configurable at construction)
  - Thread-safe concurrent access with RWMutex

Thread Safety:

All middleware components are thread-safe:
  - Compression takes gzip writers from a sync.Pool; each request holds its own until it completes
  - Performance monitor uses sync.RWMutex
  - Request ID uses context.Context (immutable)
  - Prometheus metrics use atomic operations

See Also:

  - internal/api: HTTP handlers wrapped by middleware
  - internal/metrics: Prometheus metrics definitions
*/
package middleware
