// Package metrics exposes the migrator's Prometheus metrics.
// All metrics are defined in their respective packages with promauto
// to maintain modularity and avoid circular dependencies.
//
// This package provides documentation for all available metrics and the
// scrape handler served by the CLI.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the migrator.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry scraped by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Source API Metrics (pkg/client, pkg/pagination):
//   - pandascore_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - pandascore_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - pandascore_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//   - pandascore_pages_fetched_total{endpoint} (Counter): Pages fetched
//   - pandascore_collections_aborted_total{endpoint} (Counter): Collection fetches discarded after a failed page
//
// Page Cache Metrics (pkg/cache):
//   - page_cache_hits_total (Counter): Pages served from Redis
//   - page_cache_misses_total (Counter): Pages not found in Redis
//   - page_cache_errors_total{operation} (Counter): Cache operation errors
//
// Download Metrics (pkg/download):
//   - downloads_total{result} (Counter): Downloads by result (ok, exhausted, transport_error)
//   - download_retries_total (Counter): Retry attempts
//   - download_retry_backoff_seconds (Histogram): Backoff slept before a retry
//   - download_retry_exhausted_total (Counter): Downloads that ran out of retries
//
// Migration Metrics (pkg/images, pkg/upload, pkg/barrier, pkg/pipeline):
//   - images_resolved_total{outcome} (Counter): cached, existing, uploaded, download_failed, upload_failed, missing_id
//   - records_processed_total{collection, outcome} (Counter): Records stored (ok) or lost (failed)
//   - barrier_polls_total (Counter): Completion barrier polls
//   - barrier_pending_tasks (Gauge): Tasks outstanding at the last poll
//   - migration_run_duration_seconds (Histogram): Run duration
//   - migration_records_fetched{collection} (Gauge): Records fetched in the last run
//
// Destination Metrics (pkg/destination/redisdest):
//   - destination_operations_total{backend, operation, result} (Counter): Store operations
//
// Example Prometheus Queries:
//
//   # Record Failure Rate
//   sum(rate(records_processed_total{outcome="failed"}[5m])) /
//   sum(rate(records_processed_total[5m]))
//
//   # Images Skipped Because Already Uploaded
//   rate(images_resolved_total{outcome="existing"}[5m])
//
//   # Download Retry Pressure
//   rate(download_retries_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(pandascore_request_duration_seconds_bucket[5m]))
