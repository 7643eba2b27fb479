package sora

import (
	"errors"
	"fmt"

	"soradesk/internal/domain"
)

// Generation is one variant produced by a finished job.
type Generation struct {
	ID       string `json:"id"`
	VideoURL string `json:"video_url,omitempty"`
}

// JobDescriptor mirrors the remote job resource.
type JobDescriptor struct {
	Object        string           `json:"object"`
	ID            string           `json:"id"`
	Status        domain.JobStatus `json:"status"`
	CreatedAt     int64            `json:"created_at"`
	FinishedAt    *int64           `json:"finished_at"`
	ExpiresAt     *int64           `json:"expires_at"`
	Generations   []Generation     `json:"generations"`
	Prompt        string           `json:"prompt"`
	Model         string           `json:"model"`
	NVariants     int              `json:"n_variants"`
	NSeconds      int              `json:"n_seconds"`
	Height        int              `json:"height"`
	Width         int              `json:"width"`
	FailureReason string           `json:"failure_reason"`
}

// CreateJobRequest carries everything needed to open a generation job. When
// Media is set the request goes out as multipart with the binary payload and
// an inpaint descriptor; otherwise as plain JSON.
type CreateJobRequest struct {
	Prompt    string
	Width     int
	Height    int
	NSeconds  int
	NVariants int
	Media     *domain.MediaFile
}

// APIError preserves the HTTP status code and raw response body of a failed
// remote call so callers can tell rate limiting (429) and stale jobs (404)
// apart from generic failures without string matching.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sora: %s: status %d: %s", e.Op, e.Status, e.Body)
}

// StatusOf extracts the HTTP status from err, or 0 when err carries none.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

var (
	// ErrPollTimeout indicates polling exceeded the bounded attempt count.
	ErrPollTimeout = errors.New("sora: job polling timeout")
	// ErrJobFailed indicates the remote reported a terminal job failure.
	ErrJobFailed = errors.New("sora: job failed")
	// ErrJobCancelled indicates the remote reported the job as cancelled.
	ErrJobCancelled = errors.New("sora: job was cancelled")
)
