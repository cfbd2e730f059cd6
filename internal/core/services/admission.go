package services

import (
	"sync"
	"time"

	"github.com/manthysbr/templaterelay/internal/core/domain"
)

// DefaultLockTimeout bounds how long one submitter can hold admission.
const DefaultLockTimeout = 5 * time.Minute

// Admission is the outcome of a successful admission check.
type Admission struct {
	Acquired      bool         // the submission took the lock
	ForcedRelease *domain.Lock // stale lock discarded by this check, if any
}

// AdmissionController grants one submitter at a time the right to start new
// jobs. It is not distributed mutual exclusion: losing a race costs a
// rejected request, and the timeout bounds any lockout.
type AdmissionController struct {
	mu      sync.Mutex
	timeout time.Duration
	lock    *domain.Lock
}

func NewAdmissionController(timeout time.Duration) *AdmissionController {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &AdmissionController{timeout: timeout}
}

// Admit decides whether a submission may proceed at now. Follow-ups pass
// without touching the lock. New submissions acquire a free lock or fail with
// a *domain.BusyError naming the holder.
func (c *AdmissionController) Admit(submitterID string, followUp bool, now time.Time) (Admission, error) {
	return c.AdmitThen(submitterID, followUp, now, nil)
}

// AdmitThen is Admit, running onAdmit under the controller's lock when the
// submission is admitted. A sweep cannot observe the lock before the job
// that justifies it is stored.
func (c *AdmissionController) AdmitThen(submitterID string, followUp bool, now time.Time, onAdmit func()) (Admission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result Admission
	if c.lock != nil && now.Sub(c.lock.AcquiredAt) > c.timeout {
		stale := *c.lock
		result.ForcedRelease = &stale
		c.lock = nil
	}

	if !followUp {
		if c.lock != nil {
			return result, &domain.BusyError{OwnerID: c.lock.OwnerID}
		}
		c.lock = &domain.Lock{OwnerID: submitterID, AcquiredAt: now}
		result.Acquired = true
	}

	if onAdmit != nil {
		onAdmit()
	}
	return result, nil
}

// Release frees the lock if ownerID holds it.
func (c *AdmissionController) Release(ownerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lock == nil || c.lock.OwnerID != ownerID {
		return false
	}
	c.lock = nil
	return true
}

// ForceRelease frees the lock regardless of owner and returns what was held.
func (c *AdmissionController) ForceRelease() *domain.Lock {
	c.mu.Lock()
	defer c.mu.Unlock()

	held := c.lock
	c.lock = nil
	return held
}

// ReleaseIdle frees the lock when idle reports that no job justifies it.
// idle runs under the controller's lock so no admission interleaves.
func (c *AdmissionController) ReleaseIdle(idle func() bool) *domain.Lock {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lock == nil || !idle() {
		return nil
	}
	held := c.lock
	c.lock = nil
	return held
}

// Snapshot returns a copy of the current lock, nil when unlocked.
func (c *AdmissionController) Snapshot() *domain.Lock {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lock == nil {
		return nil
	}
	cp := *c.lock
	return &cp
}

// Reset clears the lock.
func (c *AdmissionController) Reset() {
	c.ForceRelease()
}
