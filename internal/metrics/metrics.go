// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Denial reason labels for validation metrics.
const (
	DenialStatus  = "status"
	DenialExpired = "expired"
	DenialQuota   = "quota"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Authentication metrics
	IncAuthCacheHit()
	IncAuthCacheMiss()

	// Validation verdict metrics
	IncValidationAccepted()
	IncValidationDenied(reason string) // reason: "status", "expired", "quota"
	IncValidationNotFound()
	ObserveValidationDuration(duration time.Duration)

	// Device binding metrics
	IncDeviceBound()
	IncDeviceRefreshed()

	// Audit pipeline metrics
	IncAuditPublished(status string) // status: "success" or "dropped"
	IncAuditProcessed(status string) // status: "success", "failed", "dead_lettered"
	ObserveAuditBatchSize(size int)
	SetAuditQueueDepth(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}

// Snapshot is a point-in-time view of recorded metrics.
type Snapshot struct {
	AuthCacheHits       int64            `json:"auth_cache_hits"`
	AuthCacheMisses     int64            `json:"auth_cache_misses"`
	ValidationsAccepted int64            `json:"validations_accepted"`
	ValidationsDenied   map[string]int64 `json:"validations_denied"`
	ValidationsNotFound int64            `json:"validations_not_found"`
	DevicesBound        int64            `json:"devices_bound"`
	DevicesRefreshed    int64            `json:"devices_refreshed"`
	AuditPublished      map[string]int64 `json:"audit_published"`
	AuditProcessed      map[string]int64 `json:"audit_processed"`
	AuditQueueDepth     int64            `json:"audit_queue_depth"`
}
