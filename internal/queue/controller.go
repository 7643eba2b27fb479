package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"soradesk/internal/domain"
	"soradesk/internal/infra"
	"soradesk/internal/providers/sora"
)

// GenerationClient is the slice of the remote client the controller drives.
type GenerationClient interface {
	GenerateVideo(ctx context.Context, req sora.CreateJobRequest, onUpdate func(domain.JobStatus)) (*sora.JobDescriptor, []byte, string, error)
}

// NoticeLevel classifies a transient user notification.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a short, human-readable message surfaced to the UI as a toast.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Completion is the success hand-off: the durable generation record plus the
// downloaded video bytes for local archiving.
type Completion struct {
	Generation domain.SavedGeneration
	Video      []byte
}

// Options wires a controller to its collaborators and tunes the queue.
type Options struct {
	Store     *Store
	Client    GenerationClient
	Persister *Persister
	Logger    *infra.Logger

	OnComplete func(Completion)
	OnNotice   func(Notice)
	OnJobs     func([]domain.Job)

	MaxConcurrent       int
	AdmissionInterval   time.Duration
	GracePeriod         time.Duration
	MaxRetries          int
	BaseRetryDelay      time.Duration
	RateLimitRetryDelay time.Duration
	SaveDebounce        time.Duration
	Now                 func() time.Time
}

// Controller orchestrates the queue: admission under the concurrency cap,
// dispatch to the remote client, progress mapping, error classification,
// retry scheduling and resumption after restart. It owns the job store; all
// job mutation flows through it.
type Controller struct {
	store     *Store
	client    GenerationClient
	persister *Persister
	logger    *infra.Logger

	onComplete func(Completion)
	onNotice   func(Notice)
	onJobs     func([]domain.Job)

	maxConcurrent       int
	admissionInterval   time.Duration
	gracePeriod         time.Duration
	maxRetries          int
	baseRetryDelay      time.Duration
	rateLimitRetryDelay time.Duration
	now                 func() time.Time

	saveDebounce *Debouncer

	ctx context.Context

	timerMu    sync.Mutex
	retryTimer *time.Timer
}

// NewController constructs a controller, applying the queue's documented
// defaults for any zero option.
func NewController(opts Options) *Controller {
	store := opts.Store
	if store == nil {
		store = NewStore()
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	admissionInterval := opts.AdmissionInterval
	if admissionInterval <= 0 {
		admissionInterval = 2 * time.Second
	}
	gracePeriod := opts.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = 3 * time.Second
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	baseRetryDelay := opts.BaseRetryDelay
	if baseRetryDelay <= 0 {
		baseRetryDelay = 5 * time.Second
	}
	rateLimitRetryDelay := opts.RateLimitRetryDelay
	if rateLimitRetryDelay <= 0 {
		rateLimitRetryDelay = time.Minute
	}
	saveDebounce := opts.SaveDebounce
	if saveDebounce <= 0 {
		saveDebounce = 500 * time.Millisecond
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Controller{
		store:               store,
		client:              opts.Client,
		persister:           opts.Persister,
		logger:              logger,
		onComplete:          opts.OnComplete,
		onNotice:            opts.OnNotice,
		onJobs:              opts.OnJobs,
		maxConcurrent:       maxConcurrent,
		admissionInterval:   admissionInterval,
		gracePeriod:         gracePeriod,
		maxRetries:          maxRetries,
		baseRetryDelay:      baseRetryDelay,
		rateLimitRetryDelay: rateLimitRetryDelay,
		now:                 now,
		ctx:                 context.Background(),
	}
	c.saveDebounce = NewDebouncer(saveDebounce, c.persist)
	return c
}

// Run restores persisted state, then drives the admission sweep until ctx is
// cancelled. On shutdown any pending persistence write is flushed.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	c.resume(ctx)
	c.admit()

	ticker := time.NewTicker(c.admissionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.stopRetryTimer()
			c.saveDebounce.Flush()
			return ctx.Err()
		case <-ticker.C:
			c.admit()
		}
	}
}

// Submit validates and enqueues a new job, returning its id.
func (c *Controller) Submit(prompt string, settings domain.GenerationSettings, mode domain.GenerationMode, media *domain.MediaFile) (string, error) {
	if err := domain.ValidatePrompt(prompt); err != nil {
		return "", err
	}
	if err := settings.Validate(); err != nil {
		return "", err
	}
	if mode != domain.ModeText && media == nil {
		return "", fmt.Errorf("%w: mode %q requires a media file", domain.ErrInvalidSettings, mode)
	}
	if mode == domain.ModeText && media != nil {
		return "", fmt.Errorf("%w: text mode does not accept a media file", domain.ErrInvalidSettings)
	}
	if err := media.Validate(); err != nil {
		return "", err
	}

	id := c.store.AddJob(prompt, settings, mode, media)
	c.logger.Info().Str("job_id", id).Str("mode", string(mode)).Msg("queue: job submitted")
	c.notify(NoticeInfo, fmt.Sprintf("Added %q to queue", domain.PromptPreview(prompt)))
	c.changed()
	return id, nil
}

// Remove deletes a job by user action. Only queued and failed jobs may be
// removed; an actively processing job keeps its in-flight work.
func (c *Controller) Remove(id string) error {
	job, ok := c.store.Get(id)
	if !ok {
		return domain.ErrNotFound
	}
	if c.store.IsProcessing(id) {
		return domain.ErrJobProcessing
	}
	if job.Status != domain.JobStatusQueued && job.Status != domain.JobStatusFailed {
		return domain.ErrJobProcessing
	}
	c.store.RemoveJob(id)
	c.changed()
	return nil
}

// ClearCompleted removes every terminal job and returns how many were removed.
func (c *Controller) ClearCompleted() int {
	removed := c.store.ClearCompleted()
	if removed > 0 {
		c.changed()
	}
	return removed
}

// Jobs returns a snapshot of the queue in insertion order.
func (c *Controller) Jobs() []domain.Job {
	return c.store.ListJobs()
}

// resume loads the persisted queue. Demoted jobs re-enter through the normal
// admission path; a fresh remote job is created for them, prior-session
// remote ids are treated as stale.
func (c *Controller) resume(ctx context.Context) {
	if c.persister == nil {
		return
	}
	jobs, demoted, err := c.persister.Load(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("queue: failed to load persisted queue")
		c.notify(NoticeError, "Failed to load queue from storage")
		return
	}
	if len(jobs) == 0 {
		return
	}
	c.store.Restore(jobs)
	c.logger.Info().Int("jobs", len(jobs)).Int("resumed", demoted).Msg("queue: restored persisted queue")
	if demoted > 0 {
		c.notify(NoticeInfo, fmt.Sprintf("Resuming %d job(s) from previous session", demoted))
	}
	c.changed()
}

// admit runs one admission sweep: it computes free slots and hands eligible
// queued jobs to the remote client. The sweep is idempotent and re-entrant
// safe; MarkProcessing is the only gate, so an overlapping sweep cannot
// double-dispatch a job.
func (c *Controller) admit() {
	candidates := c.store.JobsToProcess(c.maxConcurrent, c.now())
	admitted := 0
	for _, job := range candidates {
		if !c.store.MarkProcessing(job.ID) {
			continue
		}
		// Claim the job inside this tick so a repeated sweep cannot
		// re-select it before the remote echoes a status.
		c.store.UpdateJob(job.ID, func(j *domain.Job) {
			j.Status = domain.JobStatusPreprocessing
			j.Progress = 5
		})
		admitted++
		go c.process(c.ctx, job)
	}
	if admitted > 0 {
		c.changed()
	}
}

// process executes one attempt of one job. The processing slot is released on
// every path out, so a failed request never permanently occupies a slot.
func (c *Controller) process(ctx context.Context, job domain.Job) {
	defer func() {
		c.store.ClearProcessing(job.ID)
		c.changed()
	}()

	fullPrompt := job.Prompt
	if suffix := job.Settings.MovementPreset.PromptSuffix(); suffix != "" {
		fullPrompt = job.Prompt + " " + suffix
	}

	completed, video, generationID, err := c.client.GenerateVideo(ctx, sora.CreateJobRequest{
		Prompt:    fullPrompt,
		Width:     job.Settings.Width,
		Height:    job.Settings.Height,
		NSeconds:  job.Settings.Duration,
		NVariants: job.Settings.NVariants,
		Media:     job.Media,
	}, func(status domain.JobStatus) {
		c.store.UpdateJob(job.ID, func(j *domain.Job) {
			j.Status = status
			j.Progress = domain.ProgressFor(status)
		})
		c.changed()
	})
	if err != nil {
		current, ok := c.store.Get(job.ID)
		if !ok {
			// Removed while in flight; the outcome is deliberately dropped.
			return
		}
		c.handleFailure(current, err)
		return
	}

	var expiresAt *time.Time
	if completed.ExpiresAt != nil {
		t := time.Unix(*completed.ExpiresAt, 0)
		expiresAt = &t
	}
	generation := domain.SavedGeneration{
		ID:           completed.ID,
		GenerationID: generationID,
		Prompt:       job.Prompt,
		Timestamp:    c.now(),
		ExpiresAt:    expiresAt,
		Settings:     job.Settings,
		Mode:         job.Mode,
	}

	c.store.UpdateJob(job.ID, func(j *domain.Job) {
		j.Status = domain.JobStatusSucceeded
		j.Progress = 100
		j.Error = ""
	})
	if c.onComplete != nil {
		c.onComplete(Completion{Generation: generation, Video: video})
	}
	c.logger.Info().
		Str("job_id", job.ID).
		Str("generation_id", generationID).
		Msg("queue: job succeeded")
	c.notify(NoticeSuccess, fmt.Sprintf("Video %q generated successfully!", domain.PromptPreview(job.Prompt)))
	c.changed()

	time.AfterFunc(c.gracePeriod, func() {
		c.store.RemoveJob(job.ID)
		c.changed()
	})
}

// handleFailure classifies an attempt failure and either requeues the job
// with backoff or finalizes it.
func (c *Controller) handleFailure(job domain.Job, err error) {
	errMsg := err.Error()
	preview := domain.PromptPreview(job.Prompt)
	c.logger.Error().
		Err(err).
		Str("job_id", job.ID).
		Int("attempt", job.RetryCount+1).
		Msg("queue: job attempt failed")

	if errors.Is(err, sora.ErrJobCancelled) {
		c.store.UpdateJob(job.ID, func(j *domain.Job) {
			j.Status = domain.JobStatusCancelled
			j.Error = errMsg
		})
		c.notify(NoticeError, fmt.Sprintf("Job %q was cancelled", preview))
		return
	}

	if sora.StatusOf(err) == http.StatusNotFound {
		// The remote no longer recognizes the job; retrying against a
		// nonexistent id can never succeed.
		c.store.RemoveJob(job.ID)
		c.notify(NoticeInfo, fmt.Sprintf("Job %q no longer exists on server (removed)", preview))
		return
	}

	rateLimited := isRateLimitError(err)
	var delay time.Duration
	if rateLimited {
		delay = c.rateLimitRetryDelay
	} else {
		delay = c.baseRetryDelay * (1 << uint(job.RetryCount))
	}

	if job.RetryCount < c.maxRetries {
		now := c.now()
		next := now.Add(delay)
		c.store.UpdateJob(job.ID, func(j *domain.Job) {
			j.Status = domain.JobStatusQueued
			j.Progress = 0
			j.Error = fmt.Sprintf("%s (retry %d/%d in %ds)", errMsg, job.RetryCount+1, c.maxRetries, int(delay.Seconds()))
			j.RetryCount = job.RetryCount + 1
			j.LastRetryAt = now
			j.NextRetryAt = next
		})
		if rateLimited {
			c.notify(NoticeInfo, fmt.Sprintf("Rate limited. Retrying %q in %ds", preview, int(delay.Seconds())))
		} else {
			c.notify(NoticeInfo, fmt.Sprintf("Retrying %q in %ds", preview, int(delay.Seconds())))
		}
		return
	}

	c.store.UpdateJob(job.ID, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.Error = errMsg + " (max retries exceeded)"
	})
	c.notify(NoticeError, fmt.Sprintf("Failed to generate %q after %d attempts", preview, c.maxRetries))
}

// isRateLimitError reports whether err is a rate-limit failure: an explicit
// 429 status where one is available, with message matching as the documented
// fallback for providers that bury the code in text.
func isRateLimitError(err error) bool {
	if sora.StatusOf(err) == http.StatusTooManyRequests {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Too many running tasks") || strings.Contains(msg, "429")
}

// changed runs after every job-set mutation: it debounces a persistence
// write, re-arms the one-shot retry timer, and publishes a snapshot.
func (c *Controller) changed() {
	jobs := c.store.ListJobs()
	if c.persister != nil {
		c.saveDebounce.Trigger()
	}
	c.rearmRetryTimer(jobs)
	if c.onJobs != nil {
		c.onJobs(jobs)
	}
}

func (c *Controller) persist() {
	if c.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.persister.Save(ctx, c.store.ListJobs()); err != nil {
		// Storage trouble must never stall the queue.
		c.logger.Error().Err(err).Msg("queue: failed to persist queue")
	}
}

// rearmRetryTimer points a one-shot timer at the earliest future retry so
// backoff expiry is picked up without busy polling; the steady admission
// sweep bounds the added latency either way.
func (c *Controller) rearmRetryTimer(jobs []domain.Job) {
	now := c.now()
	var next time.Time
	for _, job := range jobs {
		if job.Status != domain.JobStatusQueued || job.NextRetryAt.IsZero() || !job.NextRetryAt.After(now) {
			continue
		}
		if next.IsZero() || job.NextRetryAt.Before(next) {
			next = job.NextRetryAt
		}
	}

	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if next.IsZero() {
		return
	}
	c.retryTimer = time.AfterFunc(next.Sub(now), c.admit)
}

func (c *Controller) stopRetryTimer() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Controller) notify(level NoticeLevel, message string) {
	if c.onNotice != nil {
		c.onNotice(Notice{Level: level, Message: message})
	}
}
