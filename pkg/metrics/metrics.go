// Package metrics provides the centralized Prometheus registry reference
// for the bulk engine. All metrics are defined in their respective
// packages (client, ratelimit, retry, bulk) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the engine.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - bulk_rate_limit_remaining (Gauge): Remaining request quota in the current remote window
//   - bulk_rate_limit_holds_total (Counter): Reservations that blocked on a throttle hold
//   - bulk_rate_limit_throttle_signals_total (Counter): 429 throttle signals observed
//
// Request Metrics (pkg/client):
//   - bulk_api_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - bulk_api_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - bulk_api_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, malformed)
//
// Retry Metrics (pkg/retry):
//   - bulk_retries_total{error_class} (Counter): Retry attempts by error class
//   - bulk_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - bulk_retry_exhausted_total{error_class} (Counter): Calls that exhausted max attempts
//
// Engine Metrics (pkg/bulk):
//   - bulk_items_discovered_total (Counter): Items discovered by search
//   - bulk_items_processed_total{outcome} (Counter): Terminal results by outcome
//   - bulk_run_duration_seconds (Histogram): Duration of complete runs
//
// Example Prometheus Queries:
//
//   # Success rate
//   rate(bulk_items_processed_total{outcome="success"}[5m]) /
//   rate(bulk_items_processed_total[5m])
//
//   # Throttle pressure
//   rate(bulk_rate_limit_throttle_signals_total[5m])
//
//   # P95 call latency
//   histogram_quantile(0.95, rate(bulk_api_request_duration_seconds_bucket[5m]))
