package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/manthysbr/templaterelay/internal/core/domain"
)

// JobStore is the process-resident, insertion-ordered collection of jobs.
// It never persists anything; a restart loses every record.
type JobStore struct {
	mu   sync.RWMutex
	jobs []domain.Job
	now  func() time.Time
}

// NewJobStore creates an empty store. A nil clock defaults to time.Now.
func NewJobStore(now func() time.Time) *JobStore {
	if now == nil {
		now = time.Now
	}
	return &JobStore{now: now}
}

// Enqueue appends a job. Admission is decided elsewhere, so content is not
// checked here.
func (s *JobStore) Enqueue(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// List returns copies of the jobs matching filter, oldest first.
func (s *JobStore) List(filter domain.JobFilter) []domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Matches(job, now) {
			out = append(out, job)
		}
	}
	return out
}

// ListPending returns jobs awaiting the worker created within maxAge.
// Older jobs are skipped but stay in the store until pruned.
func (s *JobStore) ListPending(maxAge time.Duration) []domain.Job {
	return s.List(domain.JobFilter{
		Statuses: []domain.JobStatus{domain.JobStatusPending, domain.JobStatusWaitingForSelection},
		MaxAge:   maxAge,
	})
}

// Get returns the job with the given id.
func (s *JobStore) Get(id domain.JobID) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.jobs {
		if job.ID == id {
			return job, nil
		}
	}
	return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
}

// UpdateStatus moves a job to status, setting its message when non-empty.
// Terminal jobs only accept a repeat of their own status, and a job that left
// pending cannot go back to it. waiting_for_selection may return to
// processing when the worker picks the job up again.
func (s *JobStore) UpdateStatus(id domain.JobID, status domain.JobStatus, message string) (domain.Job, error) {
	if !status.Valid() {
		return domain.Job{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		job := &s.jobs[i]
		if job.ID != id {
			continue
		}
		if job.Status.Terminal() && job.Status != status {
			return *job, fmt.Errorf("%w: %s is %s", domain.ErrInvalidTransition, id, job.Status)
		}
		// status only moves forward; nothing returns a job to pending
		if status == domain.JobStatusPending && job.Status != domain.JobStatusPending {
			return *job, fmt.Errorf("%w: %s cannot move from %s back to pending", domain.ErrInvalidTransition, id, job.Status)
		}
		job.Status = status
		if message != "" {
			job.StatusMessage = message
		}
		return *job, nil
	}
	return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
}

// PruneExpired drops jobs older than maxAge, terminal jobs older than
// terminalMaxAge, and every record whose title (and follow-up option)
// reappears later in the collection. It returns how many records were removed.
func (s *JobStore) PruneExpired(maxAge, terminalMaxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// last insertion index per title wins; follow-ups dedupe per option
	latest := make(map[string]int, len(s.jobs))
	for i, job := range s.jobs {
		latest[dedupeKey(job)] = i
	}

	kept := s.jobs[:0]
	removed := 0
	for i, job := range s.jobs {
		age := job.Age(now)
		switch {
		case maxAge > 0 && age > maxAge:
			removed++
		case terminalMaxAge > 0 && job.Status.Terminal() && age > terminalMaxAge:
			removed++
		case latest[dedupeKey(job)] != i:
			removed++
		default:
			kept = append(kept, job)
		}
	}
	// clear the tail so dropped records can be collected
	for i := len(kept); i < len(s.jobs); i++ {
		s.jobs[i] = domain.Job{}
	}
	s.jobs = kept
	return removed
}

func dedupeKey(job domain.Job) string {
	if job.SelectionRef == nil {
		return job.Title
	}
	return fmt.Sprintf("%s\x00%d", job.Title, *job.SelectionRef)
}

// HasActive reports whether a processing job, or a pending job younger than
// maxAge, exists. A zero maxAge considers every pending job.
func (s *JobStore) HasActive(maxAge time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	for _, job := range s.jobs {
		if !job.Status.Active() {
			continue
		}
		if job.Status == domain.JobStatusPending && maxAge > 0 && job.Age(now) > maxAge {
			continue
		}
		return true
	}
	return false
}

// Len returns the number of stored jobs.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Reset clears the entire collection.
func (s *JobStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = nil
}
