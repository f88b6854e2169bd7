package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// InMemory is a Recorder backed by atomic counters. It is safe for
// concurrent use and suitable for tests and the /readyz debug view.
type InMemory struct {
	authCacheHits       atomic.Int64
	authCacheMisses     atomic.Int64
	validationsAccepted atomic.Int64
	validationsNotFound atomic.Int64
	devicesBound        atomic.Int64
	devicesRefreshed    atomic.Int64
	auditQueueDepth     atomic.Int64

	mu                sync.Mutex
	validationsDenied map[string]int64
	auditPublished    map[string]int64
	auditProcessed    map[string]int64
	durationTotal     time.Duration
	durationCount     int64
	batchSizeTotal    int64
	batchCount        int64
}

// NewInMemory returns an empty in-memory Recorder.
func NewInMemory() *InMemory {
	return &InMemory{
		validationsDenied: make(map[string]int64),
		auditPublished:    make(map[string]int64),
		auditProcessed:    make(map[string]int64),
	}
}

func (m *InMemory) IncAuthCacheHit()       { m.authCacheHits.Add(1) }
func (m *InMemory) IncAuthCacheMiss()      { m.authCacheMisses.Add(1) }
func (m *InMemory) IncValidationAccepted() { m.validationsAccepted.Add(1) }
func (m *InMemory) IncValidationNotFound() { m.validationsNotFound.Add(1) }
func (m *InMemory) IncDeviceBound()        { m.devicesBound.Add(1) }
func (m *InMemory) IncDeviceRefreshed()    { m.devicesRefreshed.Add(1) }

func (m *InMemory) IncValidationDenied(reason string) {
	m.mu.Lock()
	m.validationsDenied[reason]++
	m.mu.Unlock()
}

func (m *InMemory) ObserveValidationDuration(duration time.Duration) {
	m.mu.Lock()
	m.durationTotal += duration
	m.durationCount++
	m.mu.Unlock()
}

func (m *InMemory) IncAuditPublished(status string) {
	m.mu.Lock()
	m.auditPublished[status]++
	m.mu.Unlock()
}

func (m *InMemory) IncAuditProcessed(status string) {
	m.mu.Lock()
	m.auditProcessed[status]++
	m.mu.Unlock()
}

func (m *InMemory) ObserveAuditBatchSize(size int) {
	m.mu.Lock()
	m.batchSizeTotal += int64(size)
	m.batchCount++
	m.mu.Unlock()
}

func (m *InMemory) SetAuditQueueDepth(depth int64) { m.auditQueueDepth.Store(depth) }

// Snapshot returns a copy of all counters.
func (m *InMemory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		AuthCacheHits:       m.authCacheHits.Load(),
		AuthCacheMisses:     m.authCacheMisses.Load(),
		ValidationsAccepted: m.validationsAccepted.Load(),
		ValidationsNotFound: m.validationsNotFound.Load(),
		DevicesBound:        m.devicesBound.Load(),
		DevicesRefreshed:    m.devicesRefreshed.Load(),
		AuditQueueDepth:     m.auditQueueDepth.Load(),
		ValidationsDenied:   make(map[string]int64, len(m.validationsDenied)),
		AuditPublished:      make(map[string]int64, len(m.auditPublished)),
		AuditProcessed:      make(map[string]int64, len(m.auditProcessed)),
	}
	for k, v := range m.validationsDenied {
		snap.ValidationsDenied[k] = v
	}
	for k, v := range m.auditPublished {
		snap.AuditPublished[k] = v
	}
	for k, v := range m.auditProcessed {
		snap.AuditProcessed[k] = v
	}
	return snap
}
