package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/manthysbr/templaterelay/internal/core/domain"
	"github.com/manthysbr/templaterelay/internal/core/ports"
	"golang.org/x/sync/semaphore"
)

// WorkerConfig holds the poller timings.
type WorkerConfig struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	Retention         time.Duration // processed ids are forgotten after this
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:      5 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		Retention:         10 * time.Minute,
	}
}

// Worker polls the job source and turns each pending job into a set of
// rendered, uploaded templates announced to the job's destination. Jobs are
// processed one at a time in list order.
type Worker struct {
	logger   *slog.Logger
	cfg      WorkerConfig
	source   ports.JobSource
	selector *Selector
	renderer ports.ImageRenderer
	uploader ports.Uploader
	notifier ports.Notifier
	retry    RetryPolicy
	now      func() time.Time

	busy *semaphore.Weighted

	mu         sync.Mutex
	processed  map[domain.JobID]time.Time // job id -> job created_at
	selections map[string][]string        // title -> last delivered picks
}

type WorkerDeps struct {
	Source   ports.JobSource
	Selector *Selector
	Renderer ports.ImageRenderer
	Uploader ports.Uploader
	Notifier ports.Notifier
	Retry    RetryPolicy
	Now      func() time.Time
}

func NewWorker(logger *slog.Logger, cfg WorkerConfig, deps WorkerDeps) *Worker {
	def := DefaultWorkerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Worker{
		logger:     logger,
		cfg:        cfg,
		source:     deps.Source,
		selector:   deps.Selector,
		renderer:   deps.Renderer,
		uploader:   deps.Uploader,
		notifier:   deps.Notifier,
		retry:      deps.Retry,
		now:        deps.Now,
		busy:       semaphore.NewWeighted(1),
		processed:  make(map[domain.JobID]time.Time),
		selections: make(map[string][]string),
	}
}

// Run schedules polling and heartbeats until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("initializing gocron scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(w.cfg.HeartbeatInterval),
		gocron.NewTask(func() { w.SendHeartbeat(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("initializing heartbeat job: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(w.cfg.PollInterval),
		gocron.NewTask(func() { w.PollOnce(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("initializing poll job: %w", err)
	}

	w.logger.Info("worker started", "poll_interval", w.cfg.PollInterval, "heartbeat_interval", w.cfg.HeartbeatInterval)
	s.Start()
	<-ctx.Done()

	if err := s.Shutdown(); err != nil {
		w.logger.Error("shutting down gocron has failed", "error", err)
	}
	w.logger.Info("worker stopped")
	return nil
}

// SendHeartbeat reports liveness. Failures are logged only.
func (w *Worker) SendHeartbeat(ctx context.Context) {
	if err := w.source.Heartbeat(ctx); err != nil {
		w.logger.WarnContext(ctx, "heartbeat failed", "error", err)
	}
}

// PollOnce fetches pending jobs and processes the ones not seen yet. It
// returns false without doing anything when a previous poll is still
// running.
func (w *Worker) PollOnce(ctx context.Context) bool {
	if !w.busy.TryAcquire(1) {
		w.logger.DebugContext(ctx, "poll skipped, worker busy")
		return false
	}
	defer w.busy.Release(1)

	w.pruneProcessed()

	jobs, err := w.source.ListPending(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "failed to fetch pending jobs", "error", err)
		return true
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return true
		}
		if !w.markSeen(job) {
			continue
		}
		w.process(ctx, job)
	}
	return true
}

// Seen reports whether id is in the processed set.
func (w *Worker) Seen(id domain.JobID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.processed[id]
	return ok
}

func (w *Worker) markSeen(job domain.Job) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.processed[job.ID]; ok {
		return false
	}
	w.processed[job.ID] = job.CreatedAt
	return true
}

func (w *Worker) forget(id domain.JobID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.processed, id)
}

func (w *Worker) pruneProcessed() {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, created := range w.processed {
		if now.Sub(created) > w.cfg.Retention {
			delete(w.processed, id)
		}
	}
}

func (w *Worker) process(ctx context.Context, job domain.Job) {
	logger := w.logger.With("job_id", job.ID, "title", job.Title)

	if _, err := w.source.UpdateJobStatus(ctx, job.ID, domain.JobStatusProcessing, ""); err != nil {
		// the job stays pending upstream; let the next poll pick it up again
		logger.WarnContext(ctx, "failed to mark job processing", "error", err)
		if !errors.Is(err, domain.ErrJobNotFound) {
			w.forget(job.ID)
		}
		return
	}
	logger.InfoContext(ctx, "processing job", "follow_up", job.FollowUp())

	deliveries, err := w.render(ctx, job)
	if err != nil {
		logger.ErrorContext(ctx, "job failed", "error", err)
		w.fail(ctx, job, err)
		return
	}

	w.notify(ctx, job.Destination, DeliveryMessage(job, deliveries))

	done := fmt.Sprintf("delivered %d template(s)", len(deliveries))
	if _, err := w.source.UpdateJobStatus(ctx, job.ID, domain.JobStatusCompleted, done); err != nil {
		logger.WarnContext(ctx, "failed to mark job completed", "error", err)
		return
	}
	logger.InfoContext(ctx, "job completed", "templates", len(deliveries))
}

func (w *Worker) render(ctx context.Context, job domain.Job) ([]domain.Delivery, error) {
	picks, options, err := w.candidates(ctx, job)
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.Delivery, 0, len(picks))
	for i, main := range picks {
		spec := domain.TemplateSpec{
			Title:      job.Title,
			MainImage:  main,
			Background: w.selector.Background(),
			Option:     options[i],
		}

		var data []byte
		err := w.retry.Do(ctx, w.logger, "render", func(ctx context.Context) error {
			var err error
			data, err = w.renderer.Render(ctx, spec)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("render option %d: %w", spec.Option, err)
		}
		w.selector.RecordUsage(main)

		var url string
		name := UploadFileName(job.Title, spec.Option, w.now())
		err = w.retry.Do(ctx, w.logger, "upload", func(ctx context.Context) error {
			var err error
			url, err = w.uploader.Upload(ctx, name, job.Title, data)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("upload option %d: %w", spec.Option, err)
		}

		deliveries = append(deliveries, domain.Delivery{Option: spec.Option, MainImage: main, URL: url})
	}

	if !job.FollowUp() {
		w.mu.Lock()
		w.selections[job.Title] = picks
		w.mu.Unlock()
	}
	return deliveries, nil
}

// candidates returns the main images to render with their option numbers.
// A follow-up reuses the picks of the last delivery for the same title when
// known and renders only the referenced option.
func (w *Worker) candidates(ctx context.Context, job domain.Job) ([]string, []int, error) {
	if job.FollowUp() {
		ref := *job.SelectionRef
		w.mu.Lock()
		picks, ok := w.selections[job.Title]
		w.mu.Unlock()
		if !ok {
			var err error
			if picks, err = w.selector.Pick(ctx, job.Title); err != nil {
				return nil, nil, err
			}
		}
		if ref > len(picks) {
			return nil, nil, Permanent(fmt.Errorf("option %d does not exist, %d available", ref, len(picks)))
		}
		return []string{picks[ref-1]}, []int{ref}, nil
	}

	picks, err := w.selector.Pick(ctx, job.Title)
	if err != nil {
		return nil, nil, err
	}
	if len(picks) == 0 {
		return nil, nil, Permanent(errors.New("no candidates selected"))
	}
	options := make([]int, len(picks))
	for i := range picks {
		options[i] = i + 1
	}
	return picks, options, nil
}

func (w *Worker) fail(ctx context.Context, job domain.Job, cause error) {
	if _, err := w.source.UpdateJobStatus(ctx, job.ID, domain.JobStatusError, cause.Error()); err != nil {
		w.logger.WarnContext(ctx, "failed to mark job error", "job_id", job.ID, "error", err)
	}
	w.notify(ctx, job.Destination, fmt.Sprintf("❌ Error creating template for %q: %v", job.Title, cause))
}

// notify is best effort.
func (w *Worker) notify(ctx context.Context, destination, text string) {
	if w.notifier == nil || destination == "" {
		return
	}
	err := w.retry.Do(ctx, w.logger, "notify", func(ctx context.Context) error {
		return w.notifier.Notify(ctx, destination, text)
	})
	if err != nil {
		w.logger.WarnContext(ctx, "failed to notify destination", "destination", destination, "error", err)
	}
}

// DeliveryMessage formats the reply listing every delivered template.
func DeliveryMessage(job domain.Job, deliveries []domain.Delivery) string {
	var sb strings.Builder
	if job.FollowUp() {
		fmt.Fprintf(&sb, "🎨 Here is option %d for %q:\n\n", *job.SelectionRef, job.Title)
	} else {
		fmt.Fprintf(&sb, "🎨 Here are all %d templates for %q:\n\n", len(deliveries), job.Title)
	}
	for _, d := range deliveries {
		fmt.Fprintf(&sb, "Option %d (%s): %s\n", d.Option, d.MainImage, d.URL)
	}
	return strings.TrimRight(sb.String(), "\n")
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// UploadFileName builds a sanitized, unique file name for one option.
func UploadFileName(title string, option int, now time.Time) string {
	base := strings.Trim(unsafeFileChars.ReplaceAllString(strings.ToLower(title), "_"), "_")
	if base == "" {
		base = "template"
	}
	if len(base) > 60 {
		base = base[:60]
	}
	return fmt.Sprintf("%s_option%d_%d.png", base, option, now.UnixMilli())
}
