package handler

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/keygate/keygate/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "keygate_auth_cache_hits_total %d\n", snap.AuthCacheHits)
	writeMetric(w, "keygate_auth_cache_misses_total %d\n", snap.AuthCacheMisses)

	writeMetric(w, "keygate_validations_total{result=\"accepted\"} %d\n", snap.ValidationsAccepted)
	writeMetric(w, "keygate_validations_total{result=\"not_found\"} %d\n", snap.ValidationsNotFound)
	writeLabeled(w, "keygate_validations_denied_total", "reason", snap.ValidationsDenied)

	writeMetric(w, "keygate_devices_bound_total %d\n", snap.DevicesBound)
	writeMetric(w, "keygate_devices_refreshed_total %d\n", snap.DevicesRefreshed)

	writeLabeled(w, "keygate_audit_published_total", "status", snap.AuditPublished)
	writeLabeled(w, "keygate_audit_processed_total", "status", snap.AuditProcessed)
	writeMetric(w, "keygate_audit_queue_depth %d\n", snap.AuditQueueDepth)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

// writeLabeled emits one series per label value, in stable order.
func writeLabeled(w http.ResponseWriter, name, label string, values map[string]int64) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeMetric(w, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}
