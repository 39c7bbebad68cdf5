package provider

import (
	"sync"
	"time"
)

// HealthStatus summarises how reliably a provider has been answering.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// Health tracks consecutive failure counts for a provider's polls.
// Fields are protected by mu because the poll loop writes them while the
// HTTP API reads them.
type Health struct {
	mu                sync.Mutex
	threshold         int
	failures          int
	lastErr           string
	lastFail          time.Time
	lastSuccess       time.Time
	lastEmittedStatus HealthStatus
}

// NewHealth returns a tracker that reports StatusFailed after threshold
// consecutive failures. A threshold below 1 is treated as 1.
func NewHealth(threshold int) *Health {
	if threshold < 1 {
		threshold = 1
	}
	return &Health{threshold: threshold, lastEmittedStatus: StatusHealthy}
}

func (h *Health) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	h.lastErr = ""
	h.lastSuccess = time.Now()
}

func (h *Health) RecordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.lastErr = err.Error()
	h.lastFail = time.Now()
}

// HealthSnapshot is a consistent copy of the tracker's fields.
type HealthSnapshot struct {
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	LastError           string       `json:"lastError,omitempty"`
	LastSuccess         time.Time    `json:"lastSuccess,omitempty"`
}

func (h *Health) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{
		Status:              h.statusLocked(),
		ConsecutiveFailures: h.failures,
		LastError:           h.lastErr,
		LastSuccess:         h.lastSuccess,
	}
}

// Transition returns the current status and whether it differs from the
// status returned by the previous Transition call, so a status change is
// logged once.
func (h *Health) Transition() (HealthStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := h.statusLocked()
	changed := status != h.lastEmittedStatus
	h.lastEmittedStatus = status
	return status, changed
}

// statusLocked computes health status. Caller must hold h.mu.
func (h *Health) statusLocked() HealthStatus {
	switch {
	case h.failures >= h.threshold:
		return StatusFailed
	case h.failures > 0:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
