package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/templaterelay/internal/core/domain"
)

// CoordinatorConfig holds the windows that drive admission and pruning.
type CoordinatorConfig struct {
	LockTimeout         time.Duration // forced lock release
	AvailabilityTimeout time.Duration // heartbeat validity
	Freshness           time.Duration // pending jobs older than this are ignored
	Retention           time.Duration // any job older than this is dropped
	TerminalRetention   time.Duration // completed/error jobs older than this are dropped
}

// DefaultCoordinatorConfig mirrors the timings the chat integration expects.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		LockTimeout:         DefaultLockTimeout,
		AvailabilityTimeout: DefaultAvailabilityTimeout,
		Freshness:           3 * time.Minute,
		Retention:           10 * time.Minute,
		TerminalRetention:   time.Minute,
	}
}

// Coordinator is the authoritative coordination state. It owns the job
// store, the availability tracker and the admission lock, each guarded by
// its own mutex, and reconciles lock state with job status.
type Coordinator struct {
	logger       *slog.Logger
	cfg          CoordinatorConfig
	store        *JobStore
	availability *AvailabilityTracker
	admission    *AdmissionController
	events       *EventBus
	now          func() time.Time
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithEventBus publishes job transitions on bus.
func WithEventBus(bus *EventBus) CoordinatorOption {
	return func(c *Coordinator) {
		c.events = bus
	}
}

func NewCoordinator(logger *slog.Logger, cfg CoordinatorConfig, opts ...CoordinatorOption) *Coordinator {
	def := DefaultCoordinatorConfig()
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if cfg.AvailabilityTimeout <= 0 {
		cfg.AvailabilityTimeout = def.AvailabilityTimeout
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = def.Freshness
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.TerminalRetention <= 0 {
		cfg.TerminalRetention = def.TerminalRetention
	}

	c := &Coordinator{
		logger:       logger,
		cfg:          cfg,
		availability: NewAvailabilityTracker(cfg.AvailabilityTimeout),
		admission:    NewAdmissionController(cfg.LockTimeout),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.store = NewJobStore(c.now)
	return c
}

// Config returns the effective configuration.
func (c *Coordinator) Config() CoordinatorConfig {
	return c.cfg
}

// SubmitJob admits and enqueues a submission. It fails with
// domain.ErrWorkerUnavailable when no recent heartbeat exists, or with a
// *domain.BusyError when another submission holds the lock.
func (c *Coordinator) SubmitJob(ctx context.Context, sub domain.Submission) (domain.Job, error) {
	if err := sub.Validate(); err != nil {
		return domain.Job{}, err
	}

	now := c.now()
	if !c.availability.IsAvailable(now) {
		c.logger.WarnContext(ctx, "worker not available, rejecting submission",
			"submitter_id", sub.SubmitterID, "title", sub.Title)
		return domain.Job{}, domain.ErrWorkerUnavailable
	}

	id, err := uuid.NewV7()
	if err != nil {
		return domain.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := domain.Job{
		ID:           domain.JobID(id.String()),
		Title:        sub.Title,
		SubmitterID:  sub.SubmitterID,
		Destination:  sub.Destination,
		CreatedAt:    now,
		Status:       domain.JobStatusPending,
		SelectionRef: sub.SelectionRef,
	}

	// enqueue while admission is held so the sweep never sees a lock without its job
	admission, err := c.admission.AdmitThen(sub.SubmitterID, sub.FollowUp(), now, func() {
		c.store.Enqueue(job)
	})
	if admission.ForcedRelease != nil {
		c.logger.WarnContext(ctx, "lock timeout, discarding stale lock",
			"owner_id", admission.ForcedRelease.OwnerID,
			"held_for", now.Sub(admission.ForcedRelease.AcquiredAt))
	}
	if err != nil {
		var busy *domain.BusyError
		if errors.As(err, &busy) {
			c.logger.InfoContext(ctx, "system busy, rejecting submission",
				"submitter_id", sub.SubmitterID, "owner_id", busy.OwnerID)
		}
		return domain.Job{}, err
	}
	if admission.Acquired {
		c.logger.InfoContext(ctx, "system locked", "owner_id", sub.SubmitterID)
	}

	c.logger.InfoContext(ctx, "job submitted",
		"job_id", job.ID, "title", job.Title, "submitter_id", job.SubmitterID, "follow_up", job.FollowUp())
	c.publish(job, EventTypeSubmitted)
	return job, nil
}

// Heartbeat records worker liveness.
func (c *Coordinator) Heartbeat(ctx context.Context) error {
	c.availability.RecordHeartbeat(c.now())
	c.logger.DebugContext(ctx, "worker heartbeat received")
	return nil
}

// ListJobs prunes the store, releases an orphaned lock, and returns the
// jobs matching filter.
func (c *Coordinator) ListJobs(ctx context.Context, filter domain.JobFilter) []domain.Job {
	c.maintain(ctx)
	return c.store.List(filter)
}

// ListPending returns fresh jobs awaiting the worker.
func (c *Coordinator) ListPending(ctx context.Context) ([]domain.Job, error) {
	c.maintain(ctx)
	return c.store.ListPending(c.cfg.Freshness), nil
}

// GetJob returns one job by id.
func (c *Coordinator) GetJob(_ context.Context, id domain.JobID) (domain.Job, error) {
	return c.store.Get(id)
}

// UpdateJobStatus applies a transition. Reaching a terminal status releases
// the lock when the job's submitter holds it, even if that submitter still
// has other jobs queued.
func (c *Coordinator) UpdateJobStatus(ctx context.Context, id domain.JobID, status domain.JobStatus, message string) (domain.Job, error) {
	job, err := c.store.UpdateStatus(id, status, message)
	if err != nil {
		c.logger.WarnContext(ctx, "job status update failed", "job_id", id, "status", status, "error", err)
		return job, err
	}
	c.logger.InfoContext(ctx, "job status updated", "job_id", id, "status", status)

	if status.Terminal() && c.admission.Release(job.SubmitterID) {
		c.logger.InfoContext(ctx, "lock released, job finished", "job_id", id, "owner_id", job.SubmitterID)
	}
	c.publish(job, EventTypeStatus)
	return job, nil
}

// QueryAvailability reports whether the worker is live.
func (c *Coordinator) QueryAvailability(_ context.Context) domain.Availability {
	return c.availability.Snapshot(c.now())
}

// Status returns a snapshot used by status commands and the API.
func (c *Coordinator) Status(_ context.Context) domain.SystemStatus {
	return domain.SystemStatus{
		Availability: c.availability.Snapshot(c.now()),
		Lock:         c.admission.Snapshot(),
		Jobs:         c.store.Len(),
	}
}

// Reset clears jobs, lock and availability.
func (c *Coordinator) Reset(ctx context.Context) {
	c.store.Reset()
	c.admission.Reset()
	c.availability.Reset()
	c.logger.InfoContext(ctx, "system reset complete")
}

// maintain is the read-path sweep: prune, then drop a lock no active job
// justifies. Jobs past the freshness window no longer count as active.
func (c *Coordinator) maintain(ctx context.Context) {
	if removed := c.store.PruneExpired(c.cfg.Retention, c.cfg.TerminalRetention); removed > 0 {
		c.logger.DebugContext(ctx, "pruned jobs", "count", removed)
	}
	idle := func() bool { return !c.store.HasActive(c.cfg.Freshness) }
	if held := c.admission.ReleaseIdle(idle); held != nil {
		c.logger.InfoContext(ctx, "lock released, no active jobs", "owner_id", held.OwnerID)
	}
}

func (c *Coordinator) publish(job domain.Job, typ EventType) {
	if c.events == nil {
		return
	}
	c.events.Publish(Event{
		JobID:     string(job.ID),
		Type:      typ,
		Status:    job.Status,
		Message:   job.StatusMessage,
		Timestamp: c.now().Unix(),
	})
}
