package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/templaterelay/internal/core/domain"
)

type EventType string

const (
	EventTypeSubmitted EventType = "submitted"
	EventTypeStatus    EventType = "status"
)

// AllJobs subscribes to events of every job.
const AllJobs = "*"

type Event struct {
	JobID     string           `json:"job_id"`
	Type      EventType        `json:"type"`
	Status    domain.JobStatus `json:"status"`
	Message   string           `json:"message,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event // Key: JobID or AllJobs
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel that receives events for a specific job
func (b *EventBus) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 32) // Buffer to prevent blocking publisher
	b.subs[jobID] = append(b.subs[jobID], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[jobID]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
		})
	}

	return ch, unsub
}

// Publish sends an event to the job's subscribers and to AllJobs subscribers.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliverLocked(b.subs[e.JobID], e)
	if e.JobID != AllJobs {
		b.deliverLocked(b.subs[AllJobs], e)
	}
}

func (b *EventBus) deliverLocked(subscribers []chan Event, e Event) {
	for _, ch := range subscribers {
		select {
		case ch <- e:
		default:
			// If channel is full, drop event to prevent blocking application
			b.logger.Warn("event bus channel full, dropping event", "job_id", e.JobID)
		}
	}
}
