package services

import (
	"sync"
	"time"

	"github.com/manthysbr/templaterelay/internal/core/domain"
)

// DefaultAvailabilityTimeout is how long a heartbeat keeps the worker available.
const DefaultAvailabilityTimeout = 10 * time.Second

// AvailabilityTracker derives worker liveness from heartbeats. A worker that
// never sent one is simply unavailable; that is not an error.
type AvailabilityTracker struct {
	mu              sync.RWMutex
	timeout         time.Duration
	lastHeartbeatAt time.Time
	heartbeated     bool
}

func NewAvailabilityTracker(timeout time.Duration) *AvailabilityTracker {
	if timeout <= 0 {
		timeout = DefaultAvailabilityTimeout
	}
	return &AvailabilityTracker{timeout: timeout}
}

// RecordHeartbeat marks the worker as seen at now.
func (t *AvailabilityTracker) RecordHeartbeat(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastHeartbeatAt = now
	t.heartbeated = true
}

// IsAvailable is recomputed on every call; nothing expires in the background.
func (t *AvailabilityTracker) IsAvailable(now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.availableLocked(now)
}

func (t *AvailabilityTracker) availableLocked(now time.Time) bool {
	return t.heartbeated && now.Sub(t.lastHeartbeatAt) <= t.timeout
}

// Snapshot returns the availability and heartbeat age at now.
func (t *AvailabilityTracker) Snapshot(now time.Time) domain.Availability {
	t.mu.RLock()
	defer t.mu.RUnlock()

	a := domain.Availability{Available: t.availableLocked(now)}
	if t.heartbeated {
		last := t.lastHeartbeatAt
		age := now.Sub(last)
		a.LastHeartbeatAt = &last
		a.LastHeartbeatAge = &age
	}
	return a
}

// Timeout returns the configured liveness window.
func (t *AvailabilityTracker) Timeout() time.Duration {
	return t.timeout
}

// Reset forgets every heartbeat.
func (t *AvailabilityTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastHeartbeatAt = time.Time{}
	t.heartbeated = false
}
