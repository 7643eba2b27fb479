package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"soradesk/internal/domain"
)

// maxMediaBytes bounds an uploaded conditioning image or video clip.
const maxMediaBytes = 100 << 20

type submitRequest struct {
	Prompt   string                    `json:"prompt"`
	Settings domain.GenerationSettings `json:"settings"`
	Mode     domain.GenerationMode     `json:"mode"`
}

type jobResponse struct {
	ID          string                    `json:"id"`
	Prompt      string                    `json:"prompt"`
	Status      domain.JobStatus          `json:"status"`
	Progress    int                       `json:"progress"`
	Settings    domain.GenerationSettings `json:"settings"`
	Mode        domain.GenerationMode     `json:"mode"`
	HadMedia    bool                      `json:"hadMediaFile"`
	CreatedAt   time.Time                 `json:"createdAt"`
	Error       string                    `json:"error,omitempty"`
	RetryCount  int                       `json:"retryCount"`
	NextRetryAt *time.Time                `json:"nextRetryAt,omitempty"`
}

func toJobResponse(job domain.Job) jobResponse {
	resp := jobResponse{
		ID:         job.ID,
		Prompt:     job.Prompt,
		Status:     job.Status,
		Progress:   job.Progress,
		Settings:   job.Settings,
		Mode:       job.Mode,
		HadMedia:   job.HadMedia || job.Media != nil,
		CreatedAt:  job.CreatedAt,
		Error:      job.Error,
		RetryCount: job.RetryCount,
	}
	if !job.NextRetryAt.IsZero() {
		t := job.NextRetryAt
		resp.NextRetryAt = &t
	}
	return resp
}

// JobsSubmit accepts a new generation job. Text-to-video jobs arrive as
// JSON; image- and video-to-video jobs arrive as multipart with the binary
// in a "media" part.
func (a *App) JobsSubmit(w http.ResponseWriter, r *http.Request) {
	var (
		req   submitRequest
		media *domain.MediaFile
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		parsed, parsedMedia, ok := a.parseMultipartSubmit(w, r)
		if !ok {
			return
		}
		req, media = parsed, parsedMedia
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		}
	}
	if req.Mode == "" {
		req.Mode = domain.ModeText
	}

	id, err := a.Queue.Submit(req.Prompt, req.Settings, req.Mode, media)
	if err != nil {
		a.domainError(w, err)
		return
	}

	job, _ := findJob(a.Queue.Jobs(), id)
	a.json(w, http.StatusAccepted, toJobResponse(job))
}

func (a *App) parseMultipartSubmit(w http.ResponseWriter, r *http.Request) (submitRequest, *domain.MediaFile, bool) {
	var req submitRequest
	if err := r.ParseMultipartForm(maxMediaBytes); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return req, nil, false
	}

	req.Prompt = r.FormValue("prompt")
	req.Mode = domain.GenerationMode(r.FormValue("mode"))
	if raw := r.FormValue("settings"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Settings); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid settings payload")
			return req, nil, false
		}
	}

	file, header, err := r.FormFile("media")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "media part is required")
		return req, nil, false
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxMediaBytes+1))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read media part")
		return req, nil, false
	}
	if len(data) > maxMediaBytes {
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "media payload too large")
		return req, nil, false
	}

	media := &domain.MediaFile{
		Filename: header.Filename,
		Data:     data,
		Type:     req.Mode,
		// Full frame unless the UI sends an explicit crop.
		CropBounds: domain.CropBounds{RightFraction: 1, BottomFraction: 1},
	}
	if raw := r.FormValue("cropBounds"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &media.CropBounds); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid crop bounds payload")
			return req, nil, false
		}
	}
	if raw := r.FormValue("frameIndex"); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid frame index")
			return req, nil, false
		}
		media.FrameIndex = idx
	}
	return req, media, true
}

func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"items": JobsPayload(a.Queue.Jobs())})
}

func (a *App) JobsRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	if err := a.Queue.Remove(id); err != nil {
		a.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) JobsClearCompleted(w http.ResponseWriter, r *http.Request) {
	removed := a.Queue.ClearCompleted()
	a.json(w, http.StatusOK, map[string]int{"removed": removed})
}

// JobsPayload maps a queue snapshot onto the wire shape shared by the REST
// list endpoint and the websocket event stream.
func JobsPayload(jobs []domain.Job) []jobResponse {
	items := make([]jobResponse, len(jobs))
	for i, job := range jobs {
		items[i] = toJobResponse(job)
	}
	return items
}

func findJob(jobs []domain.Job, id string) (domain.Job, bool) {
	for _, job := range jobs {
		if job.ID == id {
			return job, true
		}
	}
	return domain.Job{}, false
}
