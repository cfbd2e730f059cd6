package ports

import (
	"context"

	"github.com/manthysbr/templaterelay/internal/core/domain"
)

// JobSource is the worker's view of the coordination state. In a deployment
// it is the Kernel HTTP API; tests use the Coordinator directly.
type JobSource interface {
	// ListPending returns fresh jobs awaiting the worker, in insertion order.
	ListPending(ctx context.Context) ([]domain.Job, error)

	// UpdateJobStatus reports a status transition for a job.
	UpdateJobStatus(ctx context.Context, id domain.JobID, status domain.JobStatus, message string) (domain.Job, error)

	// Heartbeat signals that the worker is alive.
	Heartbeat(ctx context.Context) error
}

// CompletionProvider abstracts the text-completion service used to pick
// the best matching label for a prompt.
type CompletionProvider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ImageRenderer produces the bytes of one template variation.
type ImageRenderer interface {
	Render(ctx context.Context, spec domain.TemplateSpec) ([]byte, error)
}

// Uploader stores rendered bytes and returns a retrievable reference.
type Uploader interface {
	Upload(ctx context.Context, fileName, title string, data []byte) (string, error)
}

// Notifier delivers text to a chat destination.
type Notifier interface {
	Notify(ctx context.Context, destination, text string) error
}
