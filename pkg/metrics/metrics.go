// Package metrics provides the centralized Prometheus surface for the proxy.
// All metrics are defined in their respective packages (swr, cachestore,
// botdetect, renderclient, ratelimit) to maintain modularity and avoid
// circular dependencies.
//
// This package provides the scrape handler and documentation for all
// available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the proxy.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Serving Metrics (pkg/swr):
//   - seoshield_serves_total{source} (Counter): Served requests by source
//     (cache_fresh, cache_stale, cache_bot, render, passthrough, debug)
//   - seoshield_renders_total{outcome} (Counter): Render calls by outcome
//   - seoshield_render_duration_seconds (Histogram): Successful render duration
//   - seoshield_revalidations_total{outcome} (Counter): Background revalidations
//   - seoshield_traffic_report_failures_total (Counter): Traffic sink failures
//
// Cache Metrics (pkg/cachestore):
//   - seoshield_cache_hits_total{backend} (Counter): Cache hits by backend
//   - seoshield_cache_misses_total{backend} (Counter): Cache misses by backend
//   - seoshield_cache_errors_total{backend} (Counter): Cache operation errors
//   - seoshield_cache_decode_failures_total (Counter): Corrupt records dropped
//   - seoshield_cache_evictions_total (Counter): LRU evictions
//   - seoshield_shadow_refreshes_total{outcome} (Counter): Shadow fetches
//   - seoshield_backend_fallbacks_total (Counter): Redis-to-memory fallbacks
//
// Bot Detection Metrics (pkg/botdetect):
//   - seoshield_bot_classifications_total{tier,verdict} (Counter): Classifications
//   - seoshield_bot_detector_failures_total (Counter): Advanced detector failures
//
// Render Client Metrics (pkg/renderclient):
//   - seoshield_render_client_requests_total{status} (Counter): Render service calls
//   - seoshield_render_client_request_duration_seconds (Histogram): Call duration
//   - seoshield_render_client_errors_total{class} (Counter): Errors by class
//   - seoshield_render_client_retries_total{error_class} (Counter): Retries
//   - seoshield_render_client_retry_backoff_seconds{error_class} (Histogram): Backoff
//   - seoshield_render_client_retry_exhausted_total{error_class} (Counter): Exhaustions
//
// Render Budget Metrics (pkg/ratelimit):
//   - seoshield_render_budget_remaining (Gauge): Renders left in the window
//   - seoshield_render_budget_blocks_total (Counter): Blocked render calls
//   - seoshield_render_budget_throttles_total (Counter): Throttled render calls
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(seoshield_serves_total{source=~"cache_.*"}[5m])) /
//   sum(rate(seoshield_serves_total{source!~"passthrough|debug"}[5m]))
//
//   # Render Budget Status
//   seoshield_render_budget_remaining < 20
//
//   # Revalidation Failure Rate
//   rate(seoshield_revalidations_total{outcome="failure"}[5m])
//
//   # P95 Render Latency
//   histogram_quantile(0.95, rate(seoshield_render_duration_seconds_bucket[5m]))
