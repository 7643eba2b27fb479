package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"soradesk/internal/domain"
	"soradesk/internal/infra"
	"soradesk/internal/storage"
)

const (
	queueSlotKey     = "sora-queue"
	queueSlotVersion = 1
	maxStoredJobs    = 50
	maxResumeAge     = 24 * time.Hour
)

// storedJob is the wire form of a job in the queue slot. Media payloads are
// never serialized; hadMediaFile records that one existed.
type storedJob struct {
	ID           string                    `json:"id"`
	Prompt       string                    `json:"prompt"`
	Status       domain.JobStatus          `json:"status"`
	Progress     int                       `json:"progress"`
	Settings     domain.GenerationSettings `json:"settings"`
	Mode         domain.GenerationMode     `json:"mode"`
	CreatedAt    int64                     `json:"createdAt"`
	Error        string                    `json:"error,omitempty"`
	HadMediaFile bool                      `json:"hadMediaFile"`
	RetryCount   int                       `json:"retryCount"`
	LastRetryAt  int64                     `json:"lastRetryAt,omitempty"`
	NextRetryAt  int64                     `json:"nextRetryAt,omitempty"`
}

type queueSlot struct {
	Version int         `json:"version"`
	Jobs    []storedJob `json:"jobs"`
}

// Persister serializes a bounded, filtered view of the job store to a
// durable key/value slot. It is invoked by the controller, never by the
// store itself.
type Persister struct {
	kv     *storage.KV
	logger *infra.Logger
	now    func() time.Time
}

// NewPersister wires a persister to the slot store.
func NewPersister(kv *storage.KV, logger *infra.Logger) *Persister {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Persister{kv: kv, logger: logger, now: time.Now}
}

// Save writes the queue slot. Succeeded jobs are dropped (they already live
// in the gallery), failed jobs older than 24 hours are dropped, and the
// remainder is truncated to the most recent 50.
func (p *Persister) Save(ctx context.Context, jobs []domain.Job) error {
	now := p.now()
	filtered := make([]domain.Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Status == domain.JobStatusSucceeded {
			continue
		}
		if job.Status == domain.JobStatusFailed && now.Sub(job.CreatedAt) > maxResumeAge {
			continue
		}
		filtered = append(filtered, job)
	}
	if len(filtered) > maxStoredJobs {
		filtered = filtered[len(filtered)-maxStoredJobs:]
	}

	stored := make([]storedJob, len(filtered))
	for i, job := range filtered {
		stored[i] = storedJob{
			ID:           job.ID,
			Prompt:       job.Prompt,
			Status:       job.Status,
			Progress:     job.Progress,
			Settings:     job.Settings,
			Mode:         job.Mode,
			CreatedAt:    job.CreatedAt.UnixMilli(),
			Error:        job.Error,
			HadMediaFile: job.HadMedia || job.Media != nil,
			RetryCount:   job.RetryCount,
			LastRetryAt:  unixMilliOrZero(job.LastRetryAt),
			NextRetryAt:  unixMilliOrZero(job.NextRetryAt),
		}
	}

	raw, err := json.Marshal(queueSlot{Version: queueSlotVersion, Jobs: stored})
	if err != nil {
		return fmt.Errorf("queue: encode slot: %w", err)
	}
	return p.kv.Save(ctx, queueSlotKey, raw)
}

// Load reads the queue slot back. A version mismatch is a cache miss, not an
// error. Jobs found in a non-terminal, non-queued status younger than 24
// hours are demoted to queued with progress reset; older ones are discarded.
// The second return value counts the demoted jobs, i.e. the jobs that were
// mid-flight in a previous session.
func (p *Persister) Load(ctx context.Context) ([]domain.Job, int, error) {
	raw, err := p.kv.Load(ctx, queueSlotKey)
	if errors.Is(err, storage.ErrSlotEmpty) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	var slot queueSlot
	if err := json.Unmarshal(raw, &slot); err != nil {
		return nil, 0, fmt.Errorf("queue: decode slot: %w", err)
	}
	if slot.Version != queueSlotVersion {
		p.logger.Warn().
			Int("stored_version", slot.Version).
			Int("current_version", queueSlotVersion).
			Msg("queue: slot version mismatch, discarding stored queue")
		if err := p.kv.Clear(ctx, queueSlotKey); err != nil {
			p.logger.Error().Err(err).Msg("queue: failed to clear outdated slot")
		}
		return nil, 0, nil
	}

	now := p.now()
	jobs := make([]domain.Job, 0, len(slot.Jobs))
	demoted := 0
	for _, sj := range slot.Jobs {
		if !sj.Status.Valid() {
			continue
		}
		job := domain.Job{
			ID:          sj.ID,
			Prompt:      sj.Prompt,
			Status:      sj.Status,
			Progress:    sj.Progress,
			Settings:    sj.Settings,
			Mode:        sj.Mode,
			HadMedia:    sj.HadMediaFile,
			CreatedAt:   time.UnixMilli(sj.CreatedAt),
			Error:       sj.Error,
			RetryCount:  sj.RetryCount,
			LastRetryAt: timeOrZero(sj.LastRetryAt),
			NextRetryAt: timeOrZero(sj.NextRetryAt),
		}

		switch job.Status {
		case domain.JobStatusPreprocessing, domain.JobStatusRunning, domain.JobStatusProcessing:
			// The in-flight network work cannot have survived a restart.
			if now.Sub(job.CreatedAt) >= maxResumeAge {
				continue
			}
			job.Status = domain.JobStatusQueued
			job.Progress = 0
			demoted++
		}
		jobs = append(jobs, job)
	}
	return jobs, demoted, nil
}

// Clear drops the queue slot entirely.
func (p *Persister) Clear(ctx context.Context) error {
	return p.kv.Clear(ctx, queueSlotKey)
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeOrZero(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
