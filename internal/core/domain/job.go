package domain

import (
	"errors"
	"fmt"
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusPending             JobStatus = "pending"
	JobStatusProcessing          JobStatus = "processing"
	JobStatusWaitingForSelection JobStatus = "waiting_for_selection"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusError               JobStatus = "error"
)

// Valid reports whether s is one of the known job statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusWaitingForSelection,
		JobStatusCompleted, JobStatusError:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are expected from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// Awaiting reports whether the worker should pick up a job in status s.
func (s JobStatus) Awaiting() bool {
	return s == JobStatusPending || s == JobStatusWaitingForSelection
}

// Active reports whether a job in status s still holds the submitter's slot.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Job is one template request relayed from chat to the worker.
type Job struct {
	ID            JobID     `json:"id"`
	Title         string    `json:"title"`
	SubmitterID   string    `json:"submitter_id"`
	Destination   string    `json:"destination"`
	CreatedAt     time.Time `json:"created_at"`
	Status        JobStatus `json:"status"`
	StatusMessage string    `json:"status_message,omitempty"`
	SelectionRef  *int      `json:"selection_ref,omitempty"` // 1-based option of a prior job
}

// FollowUp reports whether the job continues a previous request.
func (j Job) FollowUp() bool {
	return j.SelectionRef != nil
}

// Age returns how long ago the job was created relative to now.
func (j Job) Age(now time.Time) time.Duration {
	return now.Sub(j.CreatedAt)
}

// Submission is an inbound request to create a job.
type Submission struct {
	Title        string `json:"title"`
	SubmitterID  string `json:"submitter_id"`
	Destination  string `json:"destination"`
	SelectionRef *int   `json:"selection_ref,omitempty"`
}

// FollowUp reports whether the submission references prior output.
func (s Submission) FollowUp() bool {
	return s.SelectionRef != nil
}

// Validate checks the fields every submission must carry.
func (s Submission) Validate() error {
	if s.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidSubmission)
	}
	if s.SubmitterID == "" {
		return fmt.Errorf("%w: submitter_id is required", ErrInvalidSubmission)
	}
	if s.SelectionRef != nil && *s.SelectionRef < 1 {
		return fmt.Errorf("%w: selection_ref must be positive", ErrInvalidSubmission)
	}
	return nil
}

// JobFilter narrows ListJobs results. Zero values match everything.
type JobFilter struct {
	Statuses []JobStatus
	MaxAge   time.Duration
}

// Matches reports whether job passes the filter at time now.
func (f JobFilter) Matches(job Job, now time.Time) bool {
	if f.MaxAge > 0 && job.Age(now) > f.MaxAge {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if job.Status == s {
			return true
		}
	}
	return false
}

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidStatus     = errors.New("invalid job status")
	ErrInvalidTransition = errors.New("job is already in a terminal state")
	ErrInvalidSubmission = errors.New("invalid submission")
)
