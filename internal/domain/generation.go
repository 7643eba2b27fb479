package domain

import "time"

// SavedGeneration is the durable record of a successfully completed job. The
// video binary itself is not part of the record; it is refetched on demand by
// GenerationID or served from the local file store when cached.
type SavedGeneration struct {
	ID           string             `json:"id"`
	GenerationID string             `json:"generationId"`
	Prompt       string             `json:"prompt"`
	VideoKey     string             `json:"videoKey,omitempty"`
	ThumbnailKey string             `json:"thumbnailKey,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
	ExpiresAt    *time.Time         `json:"expiresAt,omitempty"`
	Settings     GenerationSettings `json:"settings"`
	Mode         GenerationMode     `json:"mode"`
}

// Expired reports whether the remote artifact is past its retrievability
// window at the given instant.
func (g SavedGeneration) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && g.ExpiresAt.Before(now)
}
