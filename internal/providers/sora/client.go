package sora

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"soradesk/internal/domain"
	"soradesk/internal/infra"
)

// Options configures the Azure OpenAI video generation client.
type Options struct {
	Endpoint        string
	APIKey          string
	APIVersion      string
	Model           string
	HTTPClient      *http.Client
	Logger          *infra.Logger
	PollInterval    time.Duration
	PollMaxAttempts int
}

// Client performs HTTP calls against the video generation job API. It is
// stateless; every method is safe for concurrent use.
type Client struct {
	endpoint        string
	apiKey          string
	apiVersion      string
	model           string
	httpClient      *http.Client
	logger          *infra.Logger
	pollInterval    time.Duration
	pollMaxAttempts int
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("sora: endpoint is required")
	}
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("sora: api key is required")
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "preview"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "sora"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	pollMaxAttempts := opts.PollMaxAttempts
	if pollMaxAttempts <= 0 {
		pollMaxAttempts = 120
	}
	return &Client{
		endpoint:        endpoint,
		apiKey:          apiKey,
		apiVersion:      apiVersion,
		model:           model,
		httpClient:      httpClient,
		logger:          logger,
		pollInterval:    pollInterval,
		pollMaxAttempts: pollMaxAttempts,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

func (c *Client) jobsURL() string {
	return fmt.Sprintf("%s/openai/v1/video/generations/jobs?api-version=%s", c.endpoint, c.apiVersion)
}

func (c *Client) jobURL(jobID string) string {
	return fmt.Sprintf("%s/openai/v1/video/generations/jobs/%s?api-version=%s", c.endpoint, jobID, c.apiVersion)
}

func (c *Client) contentURL(generationID string) string {
	return fmt.Sprintf("%s/openai/v1/video/generations/%s/content/video?api-version=%s", c.endpoint, generationID, c.apiVersion)
}

// CreateJob opens a new generation job. Text-only requests go out as JSON;
// media-conditioned requests as multipart including the binary file, crop
// bounds and frame-insertion offset.
func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (*JobDescriptor, error) {
	if req.Media != nil {
		return c.createMediaJob(ctx, req)
	}
	return c.createTextJob(ctx, req)
}

type createJobPayload struct {
	Prompt    string `json:"prompt"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	NSeconds  int    `json:"n_seconds"`
	NVariants int    `json:"n_variants"`
	Model     string `json:"model"`
}

type inpaintItem struct {
	FrameIndex int               `json:"frame_index"`
	Type       string            `json:"type"`
	FileName   string            `json:"file_name"`
	CropBounds domain.CropBounds `json:"crop_bounds"`
}

func (c *Client) createTextJob(ctx context.Context, req CreateJobRequest) (*JobDescriptor, error) {
	payload := createJobPayload{
		Prompt:    req.Prompt,
		Width:     req.Width,
		Height:    req.Height,
		NSeconds:  req.NSeconds,
		NVariants: req.NVariants,
		Model:     c.model,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("sora: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.jobsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sora: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.apiKey)
	return c.doJob(httpReq, "create job")
}

func (c *Client) createMediaJob(ctx context.Context, req CreateJobRequest) (*JobDescriptor, error) {
	media := req.Media
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	fields := map[string]string{
		"prompt":     req.Prompt,
		"height":     strconv.Itoa(req.Height),
		"width":      strconv.Itoa(req.Width),
		"n_seconds":  strconv.Itoa(req.NSeconds),
		"n_variants": strconv.Itoa(req.NVariants),
		"model":      c.model,
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("sora: write field %s: %w", name, err)
		}
	}

	items := []inpaintItem{{
		FrameIndex: media.FrameIndex,
		Type:       string(media.Type),
		FileName:   media.Filename,
		CropBounds: media.CropBounds,
	}}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("sora: encode inpaint items: %w", err)
	}
	if err := mw.WriteField("inpaint_items", string(itemsJSON)); err != nil {
		return nil, fmt.Errorf("sora: write inpaint items: %w", err)
	}

	fw, err := mw.CreateFormFile("files", media.Filename)
	if err != nil {
		return nil, fmt.Errorf("sora: create file part: %w", err)
	}
	if _, err := fw.Write(media.Data); err != nil {
		return nil, fmt.Errorf("sora: write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("sora: close multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.jobsURL(), buf)
	if err != nil {
		return nil, fmt.Errorf("sora: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("api-key", c.apiKey)
	return c.doJob(httpReq, "create job")
}

// GetJobStatus fetches the current descriptor for a job.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*JobDescriptor, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jobURL(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("sora: build request: %w", err)
	}
	httpReq.Header.Set("api-key", c.apiKey)
	return c.doJob(httpReq, "get job status")
}

func (c *Client) doJob(req *http.Request, op string) (*JobDescriptor, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sora: %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sora: %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	var job JobDescriptor
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("sora: %s: decode response: %w", op, err)
	}
	return &job, nil
}

// PollJobStatus polls a job at the configured interval until it reaches a
// terminal status, invoking onUpdate on every observed status transition. It
// returns ErrPollTimeout past the attempt bound and a typed error immediately
// when the remote reports failed or cancelled.
func (c *Client) PollJobStatus(ctx context.Context, jobID string, onUpdate func(domain.JobStatus)) (*JobDescriptor, error) {
	var lastStatus domain.JobStatus
	for attempts := 0; attempts < c.pollMaxAttempts; attempts++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		job, err := c.GetJobStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}

		if job.Status != lastStatus {
			lastStatus = job.Status
			if onUpdate != nil {
				onUpdate(job.Status)
			}
		}

		switch job.Status {
		case domain.JobStatusSucceeded:
			return job, nil
		case domain.JobStatusFailed:
			reason := job.FailureReason
			if reason == "" {
				reason = "job failed"
			}
			return nil, fmt.Errorf("%w: %s", ErrJobFailed, reason)
		case domain.JobStatusCancelled:
			return nil, ErrJobCancelled
		}
	}
	return nil, ErrPollTimeout
}

// DownloadVideo fetches the binary artifact for a finished generation.
func (c *Client) DownloadVideo(ctx context.Context, generationID string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentURL(generationID), nil)
	if err != nil {
		return nil, fmt.Errorf("sora: build request: %w", err)
	}
	httpReq.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sora: download video: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sora: download video: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Op: "download video", Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	c.logger.Debug().
		Str("generation_id", generationID).
		Int("bytes", len(raw)).
		Msg("sora: downloaded video artifact")
	return raw, nil
}

// GenerateVideo runs the full create, poll, download sequence and returns the
// finished descriptor, the video bytes and the generation id backing them.
func (c *Client) GenerateVideo(ctx context.Context, req CreateJobRequest, onUpdate func(domain.JobStatus)) (*JobDescriptor, []byte, string, error) {
	job, err := c.CreateJob(ctx, req)
	if err != nil {
		return nil, nil, "", err
	}
	if onUpdate != nil {
		onUpdate(job.Status)
	}

	completed, err := c.PollJobStatus(ctx, job.ID, onUpdate)
	if err != nil {
		return nil, nil, "", err
	}
	if len(completed.Generations) == 0 {
		return nil, nil, "", domain.ErrNoGenerations
	}

	generationID := completed.Generations[0].ID
	video, err := c.DownloadVideo(ctx, generationID)
	if err != nil {
		return nil, nil, "", err
	}
	return completed, video, generationID, nil
}
