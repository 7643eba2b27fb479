package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"soradesk/internal/providers/prompt"
)

type enhanceRequest struct {
	Prompt string `json:"prompt"`
}

type enhanceResponse struct {
	Prompt string `json:"prompt"`
}

// PromptEnhance rewrites a rough prompt into a richer one. Failures are
// surfaced as errors; the original prompt is never silently returned as if
// it had been enhanced.
func (a *App) PromptEnhance(w http.ResponseWriter, r *http.Request) {
	if a.Enhancer == nil {
		a.error(w, http.StatusNotImplemented, "unavailable", "prompt enhancement is not configured")
		return
	}
	var req enhanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	enhanced, err := a.Enhancer.Enhance(r.Context(), req.Prompt)
	if err != nil {
		var apiErr *prompt.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
			a.error(w, http.StatusTooManyRequests, "rate_limited", "enhancement service is rate limited")
			return
		}
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, enhanceResponse{Prompt: enhanced})
}
