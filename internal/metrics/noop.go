package metrics

import "time"

// Noop is a Recorder that discards all events.
type Noop struct{}

// NewNoop returns a Recorder that does nothing.
func NewNoop() *Noop { return &Noop{} }

func (*Noop) IncAuthCacheHit()                        {}
func (*Noop) IncAuthCacheMiss()                       {}
func (*Noop) IncValidationAccepted()                  {}
func (*Noop) IncValidationDenied(string)              {}
func (*Noop) IncValidationNotFound()                  {}
func (*Noop) ObserveValidationDuration(time.Duration) {}
func (*Noop) IncDeviceBound()                         {}
func (*Noop) IncDeviceRefreshed()                     {}
func (*Noop) IncAuditPublished(string)                {}
func (*Noop) IncAuditProcessed(string)                {}
func (*Noop) ObserveAuditBatchSize(int)               {}
func (*Noop) SetAuditQueueDepth(int64)                {}
