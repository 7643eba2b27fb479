package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"soradesk/internal/domain"
	"soradesk/internal/infra"
	"soradesk/internal/storage"
)

const (
	gallerySlotKey     = "sora-generations"
	gallerySlotVersion = 2
	maxGenerations     = 20
)

// storedGeneration is the wire form of a gallery record in the slot.
type storedGeneration struct {
	ID           string                    `json:"id"`
	GenerationID string                    `json:"generationId"`
	Prompt       string                    `json:"prompt"`
	VideoKey     string                    `json:"videoKey,omitempty"`
	ThumbnailKey string                    `json:"thumbnailKey,omitempty"`
	Timestamp    int64                     `json:"timestamp"`
	ExpiresAt    int64                     `json:"expiresAt,omitempty"`
	Settings     domain.GenerationSettings `json:"settings"`
	Mode         domain.GenerationMode     `json:"mode"`
}

type gallerySlot struct {
	Version     int                `json:"version"`
	Generations []storedGeneration `json:"generations"`
}

// VideoFetcher refetches a video artifact from the remote by generation id.
type VideoFetcher interface {
	DownloadVideo(ctx context.Context, generationID string) ([]byte, error)
}

// Library is the saved-generations gallery: an ordered, bounded list of
// completed generations (newest first) whose video and thumbnail binaries
// live in the file store and whose metadata lives in a durable slot.
type Library struct {
	kv     *storage.KV
	files  *storage.FileStore
	logger *infra.Logger
	now    func() time.Time
	fetch  VideoFetcher

	mu          sync.Mutex
	generations []domain.SavedGeneration
}

// NewLibrary wires a gallery to its slot store and file store.
func NewLibrary(kv *storage.KV, files *storage.FileStore, logger *infra.Logger) *Library {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Library{kv: kv, files: files, logger: logger, now: time.Now}
}

// SetFetcher enables on-demand refetching of videos that are not cached
// locally. Without a fetcher the gallery serves the local cache only.
func (l *Library) SetFetcher(fetch VideoFetcher) {
	l.fetch = fetch
}

// Load restores the gallery from its slot. A version mismatch discards the
// stored gallery rather than failing startup. Expired generations with no
// locally cached video are pruned here; they can never be displayed again.
func (l *Library) Load(ctx context.Context) error {
	raw, err := l.kv.Load(ctx, gallerySlotKey)
	if errors.Is(err, storage.ErrSlotEmpty) {
		return nil
	}
	if err != nil {
		return err
	}

	var slot gallerySlot
	if err := json.Unmarshal(raw, &slot); err != nil {
		return fmt.Errorf("gallery: decode slot: %w", err)
	}
	if slot.Version != gallerySlotVersion {
		l.logger.Warn().
			Int("stored_version", slot.Version).
			Int("current_version", gallerySlotVersion).
			Msg("gallery: slot version mismatch, discarding stored gallery")
		if err := l.kv.Clear(ctx, gallerySlotKey); err != nil {
			l.logger.Error().Err(err).Msg("gallery: failed to clear outdated slot")
		}
		return nil
	}

	now := l.now()
	generations := make([]domain.SavedGeneration, 0, len(slot.Generations))
	pruned := 0
	for _, sg := range slot.Generations {
		gen := domain.SavedGeneration{
			ID:           sg.ID,
			GenerationID: sg.GenerationID,
			Prompt:       sg.Prompt,
			VideoKey:     sg.VideoKey,
			ThumbnailKey: sg.ThumbnailKey,
			Timestamp:    time.UnixMilli(sg.Timestamp),
			Settings:     sg.Settings,
			Mode:         sg.Mode,
		}
		if sg.ExpiresAt != 0 {
			t := time.UnixMilli(sg.ExpiresAt)
			gen.ExpiresAt = &t
		}
		if gen.Expired(now) && (gen.VideoKey == "" || !l.files.Exists(gen.VideoKey)) {
			pruned++
			continue
		}
		generations = append(generations, gen)
	}

	l.mu.Lock()
	l.generations = generations
	l.mu.Unlock()

	l.logger.Info().Int("generations", len(generations)).Int("pruned", pruned).Msg("gallery: restored")
	if pruned > 0 {
		return l.persist(ctx)
	}
	return nil
}

// Add archives a completed generation: the video binary goes to the file
// store and the record is prepended to the gallery. When the gallery exceeds
// its capacity the oldest records fall off and their binaries are released.
func (l *Library) Add(ctx context.Context, gen domain.SavedGeneration, video []byte) (domain.SavedGeneration, error) {
	if len(video) > 0 {
		key, err := l.files.Write(ctx, "videos/"+gen.ID+".mp4", video)
		if err != nil {
			return domain.SavedGeneration{}, fmt.Errorf("gallery: store video: %w", err)
		}
		gen.VideoKey = key
	}

	l.mu.Lock()
	l.generations = append([]domain.SavedGeneration{gen}, l.generations...)
	var evicted []domain.SavedGeneration
	if len(l.generations) > maxGenerations {
		evicted = l.generations[maxGenerations:]
		l.generations = l.generations[:maxGenerations]
	}
	l.mu.Unlock()

	for _, old := range evicted {
		l.removeBinaries(ctx, old)
	}
	if err := l.persist(ctx); err != nil {
		return domain.SavedGeneration{}, err
	}
	return gen, nil
}

// AttachThumbnail stores a UI-rendered thumbnail for an existing generation.
func (l *Library) AttachThumbnail(ctx context.Context, id string, data []byte) (domain.SavedGeneration, error) {
	key, err := l.files.Write(ctx, "thumbnails/"+id+".jpg", data)
	if err != nil {
		return domain.SavedGeneration{}, fmt.Errorf("gallery: store thumbnail: %w", err)
	}

	l.mu.Lock()
	var updated *domain.SavedGeneration
	for i := range l.generations {
		if l.generations[i].ID == id {
			l.generations[i].ThumbnailKey = key
			gen := l.generations[i]
			updated = &gen
			break
		}
	}
	l.mu.Unlock()

	if updated == nil {
		l.files.Remove(ctx, key)
		return domain.SavedGeneration{}, domain.ErrNotFound
	}
	if err := l.persist(ctx); err != nil {
		return domain.SavedGeneration{}, err
	}
	return *updated, nil
}

// List returns a snapshot of the gallery, newest first.
func (l *Library) List() []domain.SavedGeneration {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.SavedGeneration, len(l.generations))
	copy(out, l.generations)
	return out
}

// Get returns one gallery record by id.
func (l *Library) Get(id string) (domain.SavedGeneration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, gen := range l.generations {
		if gen.ID == id {
			return gen, true
		}
	}
	return domain.SavedGeneration{}, false
}

// Delete removes a generation record and releases its stored binaries.
func (l *Library) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	idx := -1
	for i, gen := range l.generations {
		if gen.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return domain.ErrNotFound
	}
	removed := l.generations[idx]
	l.generations = append(l.generations[:idx], l.generations[idx+1:]...)
	l.mu.Unlock()

	l.removeBinaries(ctx, removed)
	return l.persist(ctx)
}

// Video returns the video bytes for a generation, serving the local cache
// first and refetching from the remote when possible. An expired generation
// with no cached copy is unrecoverable.
func (l *Library) Video(ctx context.Context, id string) ([]byte, error) {
	gen, ok := l.Get(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	if gen.VideoKey != "" && l.files.Exists(gen.VideoKey) {
		return l.files.Read(ctx, gen.VideoKey)
	}
	if gen.Expired(l.now()) {
		return nil, domain.ErrExpired
	}
	if l.fetch == nil || gen.GenerationID == "" {
		return nil, domain.ErrNotFound
	}

	data, err := l.fetch.DownloadVideo(ctx, gen.GenerationID)
	if err != nil {
		return nil, fmt.Errorf("gallery: refetch video: %w", err)
	}
	key, err := l.files.Write(ctx, "videos/"+gen.ID+".mp4", data)
	if err != nil {
		l.logger.Error().Err(err).Str("id", gen.ID).Msg("gallery: failed to cache refetched video")
		return data, nil
	}
	l.mu.Lock()
	for i := range l.generations {
		if l.generations[i].ID == gen.ID {
			l.generations[i].VideoKey = key
			break
		}
	}
	l.mu.Unlock()
	if err := l.persist(ctx); err != nil {
		l.logger.Error().Err(err).Msg("gallery: failed to persist after refetch")
	}
	return data, nil
}

// Thumbnail returns the stored thumbnail bytes for a generation.
func (l *Library) Thumbnail(ctx context.Context, id string) ([]byte, error) {
	gen, ok := l.Get(id)
	if !ok || gen.ThumbnailKey == "" {
		return nil, domain.ErrNotFound
	}
	return l.files.Read(ctx, gen.ThumbnailKey)
}

func (l *Library) removeBinaries(ctx context.Context, gen domain.SavedGeneration) {
	for _, key := range []string{gen.VideoKey, gen.ThumbnailKey} {
		if key == "" {
			continue
		}
		if err := l.files.Remove(ctx, key); err != nil {
			l.logger.Error().Err(err).Str("key", key).Msg("gallery: failed to remove binary")
		}
	}
}

func (l *Library) persist(ctx context.Context) error {
	l.mu.Lock()
	stored := make([]storedGeneration, len(l.generations))
	for i, gen := range l.generations {
		stored[i] = storedGeneration{
			ID:           gen.ID,
			GenerationID: gen.GenerationID,
			Prompt:       gen.Prompt,
			VideoKey:     gen.VideoKey,
			ThumbnailKey: gen.ThumbnailKey,
			Timestamp:    gen.Timestamp.UnixMilli(),
			Settings:     gen.Settings,
			Mode:         gen.Mode,
		}
		if gen.ExpiresAt != nil {
			stored[i].ExpiresAt = gen.ExpiresAt.UnixMilli()
		}
	}
	l.mu.Unlock()

	raw, err := json.Marshal(gallerySlot{Version: gallerySlotVersion, Generations: stored})
	if err != nil {
		return fmt.Errorf("gallery: encode slot: %w", err)
	}
	return l.kv.Save(ctx, gallerySlotKey, raw)
}
