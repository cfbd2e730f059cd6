package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Lock records the submitter currently granted exclusive admission.
type Lock struct {
	OwnerID    string    `json:"owner_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Availability is the derived liveness of the remote worker.
type Availability struct {
	Available        bool
	LastHeartbeatAt  *time.Time
	LastHeartbeatAge *time.Duration
}

// LastHeartbeatAgeMs returns the heartbeat age in milliseconds, nil if the
// worker never sent one.
func (a Availability) LastHeartbeatAgeMs() *int64 {
	if a.LastHeartbeatAge == nil {
		return nil
	}
	ms := a.LastHeartbeatAge.Milliseconds()
	return &ms
}

type availabilityJSON struct {
	Available          bool       `json:"available"`
	LastHeartbeatAt    *time.Time `json:"last_heartbeat_at"`
	LastHeartbeatAgeMs *int64     `json:"last_heartbeat_age_ms"`
}

// MarshalJSON emits the heartbeat age in milliseconds, null when unknown.
func (a Availability) MarshalJSON() ([]byte, error) {
	return json.Marshal(availabilityJSON{
		Available:          a.Available,
		LastHeartbeatAt:    a.LastHeartbeatAt,
		LastHeartbeatAgeMs: a.LastHeartbeatAgeMs(),
	})
}

func (a *Availability) UnmarshalJSON(data []byte) error {
	var v availabilityJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	a.Available = v.Available
	a.LastHeartbeatAt = v.LastHeartbeatAt
	a.LastHeartbeatAge = nil
	if v.LastHeartbeatAgeMs != nil {
		age := time.Duration(*v.LastHeartbeatAgeMs) * time.Millisecond
		a.LastHeartbeatAge = &age
	}
	return nil
}

// SystemStatus is a point-in-time view of the coordination state.
type SystemStatus struct {
	Availability Availability `json:"availability"`
	Lock         *Lock        `json:"lock,omitempty"`
	Jobs         int          `json:"jobs"`
}

var (
	ErrBusy              = errors.New("system is busy")
	ErrWorkerUnavailable = errors.New("worker is not available")
)

// BusyError is returned when another submitter holds the admission lock.
type BusyError struct {
	OwnerID string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("system is currently in use by %s", e.OwnerID)
}

func (e *BusyError) Unwrap() error {
	return ErrBusy
}

// ErrPermanent marks collaborator failures that retrying cannot fix, such as
// missing credentials or a rejected request.
var ErrPermanent = errors.New("permanent failure")
