package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"soradesk/internal/domain"
	"soradesk/internal/gallery"
	"soradesk/internal/infra"
	"soradesk/internal/queue"
	"soradesk/internal/storage"
)

type fakeEnhancer struct {
	result string
	err    error
}

func (f *fakeEnhancer) Enhance(ctx context.Context, prompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

func testApp(t *testing.T) (*App, *gallery.Library) {
	t.Helper()
	dir := t.TempDir()
	kv, err := storage.OpenKV(dir)
	if err != nil {
		t.Fatalf("OpenKV: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	files, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	lib := gallery.NewLibrary(kv, files, nil)
	ctrl := queue.NewController(queue.Options{})
	discard := zerolog.New(io.Discard)
	logger := infra.Logger(discard)
	return NewApp(ctrl, lib, &fakeEnhancer{result: "an enhanced prompt"}, &logger), lib
}

// route builds a minimal router so chi URL params resolve in tests.
func route(app *App) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/jobs", app.JobsSubmit)
	r.Get("/v1/jobs", app.JobsList)
	r.Post("/v1/jobs/clear-completed", app.JobsClearCompleted)
	r.Delete("/v1/jobs/{id}", app.JobsRemove)
	r.Get("/v1/generations", app.GenerationsList)
	r.Get("/v1/generations/export", app.GenerationsExport)
	r.Delete("/v1/generations/{id}", app.GenerationsDelete)
	r.Get("/v1/generations/{id}/video", app.GenerationVideo)
	r.Put("/v1/generations/{id}/thumbnail", app.GenerationThumbnailUpload)
	r.Post("/v1/prompt/enhance", app.PromptEnhance)
	return r
}

func submitBody(prompt string) *bytes.Buffer {
	payload := map[string]any{
		"prompt": prompt,
		"mode":   "text",
		"settings": map[string]any{
			"width": 480, "height": 480, "duration": 5, "nVariants": 1,
		},
	}
	raw, _ := json.Marshal(payload)
	return bytes.NewBuffer(raw)
}

func TestJobsSubmitAndList(t *testing.T) {
	app, _ := testApp(t)
	r := route(app)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", submitBody("a whale in orbit")))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d: %s", rec.Code, rec.Body.String())
	}

	var created jobResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" || created.Status != domain.JobStatusQueued || created.Progress != 0 {
		t.Fatalf("created = %+v", created)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Items []jobResponse `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != created.ID {
		t.Fatalf("list = %+v", list.Items)
	}
}

func TestJobsSubmitValidation(t *testing.T) {
	app, _ := testApp(t)
	r := route(app)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", submitBody("")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty prompt status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec.Code)
	}
}

func TestJobsRemove(t *testing.T) {
	app, _ := testApp(t)
	r := route(app)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", submitBody("short lived")))
	var created jobResponse
	json.NewDecoder(rec.Body).Decode(&created)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/jobs/"+created.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/jobs/"+created.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second remove status = %d", rec.Code)
	}
}

func TestJobsClearCompleted(t *testing.T) {
	app, _ := testApp(t)
	r := route(app)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/clear-completed", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}
	var resp map[string]int
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["removed"] != 0 {
		t.Fatalf("removed = %d, want 0", resp["removed"])
	}
}

func TestGenerationsLifecycle(t *testing.T) {
	app, lib := testApp(t)
	r := route(app)
	ctx := context.Background()

	gen := domain.SavedGeneration{
		ID:        "task-1",
		Prompt:    "city at night",
		Timestamp: time.Now(),
		Settings:  domain.GenerationSettings{Width: 480, Height: 480, Duration: 5, NVariants: 1},
		Mode:      domain.ModeText,
	}
	if _, err := lib.Add(ctx, gen, []byte("mp4-bytes")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/generations", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/generations/task-1/video", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("video status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Fatalf("video content-type = %q", ct)
	}
	if rec.Body.String() != "mp4-bytes" {
		t.Fatalf("video body = %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/generations/task-1/thumbnail", bytes.NewReader([]byte("jpeg"))))
	if rec.Code != http.StatusOK {
		t.Fatalf("thumbnail upload status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/generations/task-1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/generations/task-1/video", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("video after delete status = %d", rec.Code)
	}
}

func TestGenerationsExport(t *testing.T) {
	app, lib := testApp(t)
	r := route(app)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/generations/export", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty export status = %d", rec.Code)
	}

	for i := 0; i < 2; i++ {
		gen := domain.SavedGeneration{
			ID:        fmt.Sprintf("task-%d", i),
			Prompt:    "export me",
			Timestamp: time.Now(),
		}
		if _, err := lib.Add(ctx, gen, []byte("video")); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/generations/export", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("export content-type = %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("export body is empty")
	}
}

func TestPromptEnhance(t *testing.T) {
	app, _ := testApp(t)
	r := route(app)

	body := bytes.NewBufferString(`{"prompt":"a dog"}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/prompt/enhance", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("enhance status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp enhanceResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Prompt != "an enhanced prompt" {
		t.Fatalf("enhanced prompt = %q", resp.Prompt)
	}
}

func TestPromptEnhanceFailurePropagates(t *testing.T) {
	app, _ := testApp(t)
	app.Enhancer = &fakeEnhancer{err: errors.New("deployment offline")}
	r := route(app)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/prompt/enhance", bytes.NewBufferString(`{"prompt":"a dog"}`)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("enhance failure status = %d", rec.Code)
	}
}
