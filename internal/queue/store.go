// Package queue implements the client-side job queue and retry engine: an
// in-memory job store, a restart-safe persistence adapter, and the controller
// that drives admission, dispatch, backoff and resumption.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"soradesk/internal/domain"
)

// Store holds the ordered collection of jobs and the set of job ids currently
// occupying a concurrency slot. It is the single source of truth for job
// state; all mutation goes through its methods, which appear atomic to
// concurrent callers.
type Store struct {
	mu         sync.Mutex
	jobs       []*domain.Job
	processing map[string]struct{}
}

// NewStore creates an empty job store.
func NewStore() *Store {
	return &Store{processing: make(map[string]struct{})}
}

// AddJob appends a new queued job and returns its id.
func (s *Store) AddJob(prompt string, settings domain.GenerationSettings, mode domain.GenerationMode, media *domain.MediaFile) string {
	job := &domain.Job{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Status:    domain.JobStatusQueued,
		Progress:  0,
		Settings:  settings,
		Mode:      mode,
		Media:     media,
		HadMedia:  media != nil,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return job.ID
}

// Restore appends previously persisted jobs in their stored order. Ids are
// preserved; duplicates of already present ids are skipped.
func (s *Store) Restore(jobs []domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	present := make(map[string]struct{}, len(s.jobs))
	for _, j := range s.jobs {
		present[j.ID] = struct{}{}
	}
	for i := range jobs {
		if _, ok := present[jobs[i].ID]; ok {
			continue
		}
		job := jobs[i]
		s.jobs = append(s.jobs, &job)
		present[job.ID] = struct{}{}
	}
}

// UpdateJob applies fn to the job under the store lock, so that related
// fields (status and progress in particular) change as one unit. It reports
// whether the id was present; updating an absent id is a no-op.
func (s *Store) UpdateJob(id string, fn func(*domain.Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ID == id {
			fn(job)
			return true
		}
	}
	return false
}

// RemoveJob deletes the job and releases its processing slot if held.
func (s *Store) RemoveJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, job := range s.jobs {
		if job.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			break
		}
	}
	delete(s.processing, id)
}

// Get returns a copy of the job with the given id.
func (s *Store) Get(id string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ID == id {
			return *job, true
		}
	}
	return domain.Job{}, false
}

// ListJobs returns copies of all jobs in insertion order.
func (s *Store) ListJobs() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Job, len(s.jobs))
	for i, job := range s.jobs {
		out[i] = *job
	}
	return out
}

// ClearCompleted removes every terminal job in one pass and returns how many
// were removed.
func (s *Store) ClearCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.jobs[:0]
	removed := 0
	for _, job := range s.jobs {
		if job.Status.Terminal() {
			removed++
			continue
		}
		kept = append(kept, job)
	}
	s.jobs = kept
	return removed
}

// MarkProcessing claims a concurrency slot for the job. It returns false when
// the job is already marked, making it the mutual-exclusion primitive the
// admission sweep relies on.
func (s *Store) MarkProcessing(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processing[id]; ok {
		return false
	}
	s.processing[id] = struct{}{}
	return true
}

// ClearProcessing releases the job's concurrency slot.
func (s *Store) ClearProcessing(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processing, id)
}

// IsProcessing reports whether the job currently holds a slot.
func (s *Store) IsProcessing(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processing[id]
	return ok
}

// ProcessingCount returns the number of jobs currently holding a slot.
func (s *Store) ProcessingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processing)
}

// JobsToProcess selects, in queue order, up to the available number of slots
// worth of jobs eligible for admission at now: queued, untouched progress,
// retry time elapsed (or none), and not already processing.
func (s *Store) JobsToProcess(maxConcurrent int, now time.Time) []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	slots := maxConcurrent - len(s.processing)
	if slots <= 0 {
		return nil
	}

	var out []domain.Job
	for _, job := range s.jobs {
		if len(out) >= slots {
			break
		}
		if job.Status != domain.JobStatusQueued || job.Progress != 0 {
			continue
		}
		if !job.NextRetryAt.IsZero() && job.NextRetryAt.After(now) {
			continue
		}
		if _, busy := s.processing[job.ID]; busy {
			continue
		}
		out = append(out, *job)
	}
	return out
}
