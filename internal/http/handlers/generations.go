package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"soradesk/internal/domain"
	"soradesk/pkg/zip"
)

// maxThumbnailBytes bounds a UI-rendered thumbnail upload.
const maxThumbnailBytes = 5 << 20

func (a *App) GenerationsList(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"items": a.Gallery.List()})
}

func (a *App) GenerationsDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	if err := a.Gallery.Delete(r.Context(), id); err != nil {
		a.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) GenerationVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := a.Gallery.Video(r.Context(), id)
	if err != nil {
		a.domainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *App) GenerationThumbnail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := a.Gallery.Thumbnail(r.Context(), id)
	if err != nil {
		a.domainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GenerationThumbnailUpload stores a thumbnail the UI rendered from the
// first video frame. The sidecar never decodes video itself.
func (a *App) GenerationThumbnailUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxThumbnailBytes+1))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read thumbnail")
		return
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "thumbnail payload is empty")
		return
	}
	if len(data) > maxThumbnailBytes {
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "thumbnail payload too large")
		return
	}

	gen, err := a.Gallery.AttachThumbnail(r.Context(), id, data)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, gen)
}

// GenerationsExport streams a zip of every cached video in the gallery.
func (a *App) GenerationsExport(w http.ResponseWriter, r *http.Request) {
	var entries []zip.Entry
	for _, gen := range a.Gallery.List() {
		data, err := a.Gallery.Video(r.Context(), gen.ID)
		if err != nil {
			continue
		}
		entries = append(entries, zip.Entry{
			Filename: exportFilename(gen),
			Data:     data,
		})
	}
	if len(entries) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no cached videos to export")
		return
	}

	archive := zip.Archive(entries)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename=generations.zip`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// exportFilename builds a stable, filesystem-safe name from the prompt.
func exportFilename(gen domain.SavedGeneration) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, gen.Prompt)
	if len(slug) > 40 {
		slug = slug[:40]
	}
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "generation"
	}
	return fmt.Sprintf("%s-%s.mp4", slug, gen.ID)
}
