// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package middleware provides HTTP middleware components for the application.

This package implements infrastructure middleware for compression, performance
monitoring, request ID tracking, and Prometheus metrics integration. These
components work alongside the authentication middleware to create a complete
middleware stack for HTTP request processing.

Key Components:

  - Compression: Gzip compression for clients that accept gzip
  - Performance Monitor: Request latency tracking with percentile calculations
  - Request ID: UUID-based request tracking for distributed tracing
  - Prometheus Metrics: HTTP request/response instrumentation

Middleware Stack:

The Admin REST router (internal/api) installs three of them through chi,
outermost first:

	r.Use(asStdMiddleware(middleware.RequestID))         // Layer 1: Request tracking
	r.Use(asStdMiddleware(middleware.Compression))       // Layer 2: Gzip
	r.Use(asStdMiddleware(middleware.PrometheusMetrics)) // Layer 3: Metrics

Usage Example - Compression:

	import "github.com/guardctl/guardctl/internal/middleware"

	// Wrap handler with gzip compression
	http.HandleFunc("/api/v1/data",
	    middleware.Compression(handler),
	)

	// Every response is compressed, whatever its size
	// Accept-Encoding: gzip header is required

Usage Example - Performance Monitoring:

	// Create performance monitor keeping the 1000 most recent requests
	perfMon := middleware.NewPerformanceMonitor(1000)

	// Wrap handler
	http.Handle("/api/v1/stats",
	    perfMon.Middleware(handler),
	)

	// Get performance statistics, one entry per "METHOD path"
	for _, s := range perfMon.GetStats() {
	    fmt.Printf("%s p50: %dms, p95: %dms, p99: %dms\n",
	        s.Path, s.P50Duration, s.P95Duration, s.P99Duration)
	}

Usage Example - Request ID:

	// Request ID middleware
	http.HandleFunc("/api/v1/logs",
	    middleware.RequestID(handler),
	)

	// Access request ID in handler
	func handler(w http.ResponseWriter, r *http.Request) {
	    requestID := r.Context().Value(middleware.RequestIDKey).(string)
	    log.Printf("[%s] Processing request", requestID)
	}

Performance Characteristics:

  - Compression: 70-90% size reduction for JSON (text/json mime types)
  - Compression overhead: ~1-2ms for typical responses
  - Metrics overhead: <0.1ms per request
  - Request ID overhead: <0.01ms (UUID generation)
  - Performance monitor: mutex-guarded sliding window of latency samples

Compression Details:

The compression middleware:
  - Compresses every response, whatever its size or mime type; there is
    no size threshold and no content-type filter
  - Supports gzip encoding (Accept-Encoding: gzip)
  - Skips requests carrying Upgrade: websocket
  - Sets Content-Encoding: gzip and removes Content-Length
  - Does not implement http.Flusher; compressed data is written when the
    gzip writer fills or is closed at the end of the request

Performance Monitor:

The performance monitor tracks:
  - Request count per endpoint (method and path)
  - Latency percentiles (p50, p95, p99), minimum, maximum and average
  - Sliding window of the maxMetrics most recent requests given to
    NewPerformanceMonitor
  - Thread-safe concurrent access with RWMutex

Each request's status code is stored, but no error rate is computed.

Thread Safety:

All middleware components are thread-safe:
  - Compression uses per-request gzip writers
  - Performance monitor uses sync.RWMutex
  - Request ID uses context.Context (immutable)
  - Prometheus metrics use atomic operations

See Also:

  - internal/auth: Authentication middleware
  - internal/api: HTTP handlers wrapped by middleware
  - internal/metrics: Prometheus metrics definitions
*/
package middleware
