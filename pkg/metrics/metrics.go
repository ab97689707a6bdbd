// Package metrics documents the exporter's Prometheus metrics and writes them
// out at the end of a run. The metrics themselves are defined with promauto in
// the packages that record them (client, cache, fetch, pipeline).
//
// The exporter is a batch job with no HTTP listener, so metrics are written
// in the node-exporter textfile format for a textfile collector to pick up.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Gatherer collects the metrics written by WriteTextfile.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// WriteTextfile writes every gathered metric to path in the text exposition
// format. The file is replaced atomically and parent directories are created.
func WriteTextfile(path string) error {
	if path == "" {
		return fmt.Errorf("metrics file path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics directory: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, Gatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - ctgov_requests_total{endpoint, status} (Counter): Registry requests by endpoint and HTTP status ("cache" when served from cache)
//   - ctgov_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - ctgov_errors_total{class} (Counter): Errors by class (client, server, network, decode)
//
// Cache Metrics (pkg/cache):
//   - ctgov_cache_hits_total (Counter): Cache hits
//   - ctgov_cache_misses_total (Counter): Cache misses
//   - ctgov_cache_written_bytes_total (Counter): Serialized entry bytes written to Redis
//   - ctgov_cache_evictions_total{reason} (Counter): Entries evicted (expired, invalid, undecodable)
//   - ctgov_cache_errors_total{operation} (Counter): Cache operation errors
//
// Fetch Metrics (pkg/fetch):
//   - ctgov_chunks_total{outcome} (Counter): Chunks queried by outcome (ok, failed)
//   - ctgov_reconciliation_misses_total (Counter): Returned studies matching no requested identifier
//   - ctgov_studies_fetched_total (Counter): Reconciled studies emitted
//
// Pipeline Metrics (pkg/pipeline):
//   - ctgov_records_flattened_total (Counter): Studies flattened into records
//   - ctgov_records_skipped_total{reason} (Counter): Studies skipped while flattening (too_deep, path_collision, error)
//   - ctgov_schema_columns (Gauge): Columns in the schema of the last run
//
// Example Prometheus Queries:
//
//   # Failed chunk ratio of the last run
//   ctgov_chunks_total{outcome="failed"} / ignoring(outcome) sum without(outcome) (ctgov_chunks_total)
//
//   # Studies that matched no requested identifier
//   ctgov_reconciliation_misses_total > 0
//
//   # Cache Hit Rate
//   ctgov_cache_hits_total / (ctgov_cache_hits_total + ctgov_cache_misses_total)
//
//   # P95 Request Latency
//   histogram_quantile(0.95, ctgov_request_duration_seconds_bucket)
