// Package metrics provides the centralized Prometheus metrics registry
// for the raster downloader. All metrics are defined in their
// respective packages (imagery, fetch, dispatch, assemble, downloader,
// quota, export) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the downloader.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Upstream Request Metrics (pkg/imagery):
//   - raster_upstream_requests_total{operation, status} (Counter): Requests by operation and HTTP status
//   - raster_upstream_request_duration_seconds{operation} (Histogram): Request duration by operation
//   - raster_upstream_errors_total{class} (Counter): Upstream errors by class
//
// Tile Fetch Metrics (pkg/fetch):
//   - raster_tiles_fetched_total{outcome} (Counter): Tile fetch attempts by outcome (success, fetch_error, decode_error)
//   - raster_tile_fetch_duration_seconds{outcome} (Histogram): Fetch and decode duration by outcome
//
// Retry Metrics (pkg/dispatch):
//   - raster_retries_total{error_class} (Counter): Tile retry attempts by error class
//   - raster_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - raster_retry_exhausted_total{error_class} (Counter): Tiles that exhausted max retries
//
// Assembly Metrics (pkg/assemble):
//   - raster_tiles_assembled_total{outcome} (Counter): Tiles merged by outcome (merged, failed, misfit)
//   - raster_assembled_pixels_total (Counter): Total pixels written into assembled arrays
//
// Download Metrics (pkg/downloader):
//   - raster_downloads_total{outcome} (Counter): Band downloads by outcome (complete, partial, error)
//   - raster_download_duration_seconds{outcome} (Histogram): End-to-end download duration
//   - raster_download_tiles_planned (Histogram): Tiles planned per download
//
// Quota Metrics (pkg/quota):
//   - raster_quota_remaining (Gauge): Remaining upstream request quota
//   - raster_quota_blocks_total (Counter): Requests blocked at critical quota
//   - raster_quota_throttles_total (Counter): Requests throttled at warning quota
//
// Export Metrics (pkg/export):
//   - raster_exports_total{outcome} (Counter): Band exports by outcome
//   - raster_export_bytes_total (Counter): Pixel bytes written to blob storage
//
// Example Prometheus Queries:
//
//   # Tile success rate
//   sum(rate(raster_tiles_fetched_total{outcome="success"}[5m])) /
//   sum(rate(raster_tiles_fetched_total[5m]))
//
//   # Quota pressure
//   raster_quota_remaining < 20
//
//   # Retry rate by class
//   rate(raster_retries_total[5m])
//
//   # P95 tile fetch latency
//   histogram_quantile(0.95, rate(raster_tile_fetch_duration_seconds_bucket[5m]))
//
//   # Share of partial downloads
//   rate(raster_downloads_total{outcome="partial"}[5m]) / rate(raster_downloads_total[5m])
