package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"soradesk/internal/domain"
	"soradesk/internal/storage"
)

func testLibrary(t *testing.T) (*Library, *storage.KV, *storage.FileStore) {
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
	return NewLibrary(kv, files, nil), kv, files
}

func sampleGeneration(id string) domain.SavedGeneration {
	return domain.SavedGeneration{
		ID:           id,
		GenerationID: "gen-" + id,
		Prompt:       "prompt for " + id,
		Timestamp:    time.Now(),
		Settings:     domain.GenerationSettings{Width: 480, Height: 480, Duration: 5, NVariants: 1},
		Mode:         domain.ModeText,
	}
}

func TestLibraryAddStoresVideoAndPersists(t *testing.T) {
	ctx := context.Background()
	lib, kv, files := testLibrary(t)

	gen, err := lib.Add(ctx, sampleGeneration("task-1"), []byte("video-bytes"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if gen.VideoKey != "videos/task-1.mp4" {
		t.Fatalf("videoKey = %q", gen.VideoKey)
	}
	if !files.Exists(gen.VideoKey) {
		t.Fatal("video binary not written")
	}

	// A second library over the same stores sees the record.
	reloaded := NewLibrary(kv, files, nil)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := reloaded.List()
	if len(got) != 1 || got[0].ID != "task-1" {
		t.Fatalf("reloaded gallery = %+v", got)
	}

	video, err := reloaded.Video(ctx, "task-1")
	if err != nil {
		t.Fatalf("Video: %v", err)
	}
	if string(video) != "video-bytes" {
		t.Fatalf("video = %q", video)
	}
}

func TestLibraryNewestFirstAndCapacity(t *testing.T) {
	ctx := context.Background()
	lib, _, files := testLibrary(t)

	for i := 0; i < maxGenerations+3; i++ {
		if _, err := lib.Add(ctx, sampleGeneration(fmt.Sprintf("task-%02d", i)), []byte("v")); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	got := lib.List()
	if len(got) != maxGenerations {
		t.Fatalf("gallery holds %d records, want %d", len(got), maxGenerations)
	}
	if got[0].ID != "task-22" {
		t.Fatalf("newest record = %s, want task-22", got[0].ID)
	}
	if got[len(got)-1].ID != "task-03" {
		t.Fatalf("oldest record = %s, want task-03", got[len(got)-1].ID)
	}

	// Evicted records released their binaries.
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("videos/task-%02d.mp4", i)
		if files.Exists(key) {
			t.Fatalf("evicted binary %s still present", key)
		}
	}
}

func TestLibraryDeleteReleasesBinaries(t *testing.T) {
	ctx := context.Background()
	lib, _, files := testLibrary(t)

	gen, err := lib.Add(ctx, sampleGeneration("task-1"), []byte("video"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := lib.AttachThumbnail(ctx, "task-1", []byte("jpg")); err != nil {
		t.Fatalf("AttachThumbnail: %v", err)
	}

	if err := lib.Delete(ctx, "task-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(lib.List()) != 0 {
		t.Fatal("record survived delete")
	}
	if files.Exists(gen.VideoKey) || files.Exists("thumbnails/task-1.jpg") {
		t.Fatal("binaries survived delete")
	}

	if err := lib.Delete(ctx, "task-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestLibraryAttachThumbnail(t *testing.T) {
	ctx := context.Background()
	lib, _, _ := testLibrary(t)

	if _, err := lib.Add(ctx, sampleGeneration("task-1"), []byte("video")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	gen, err := lib.AttachThumbnail(ctx, "task-1", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("AttachThumbnail: %v", err)
	}
	if gen.ThumbnailKey != "thumbnails/task-1.jpg" {
		t.Fatalf("thumbnailKey = %q", gen.ThumbnailKey)
	}

	data, err := lib.Thumbnail(ctx, "task-1")
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("thumbnail = %q", data)
	}

	if _, err := lib.AttachThumbnail(ctx, "ghost", []byte("x")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("attach to unknown id: err = %v, want ErrNotFound", err)
	}
}

func TestLibraryLoadPrunesExpiredWithoutCache(t *testing.T) {
	ctx := context.Background()
	lib, kv, files := testLibrary(t)

	past := time.Now().Add(-time.Hour)
	expiredUncached := sampleGeneration("gone")
	expiredUncached.ExpiresAt = &past

	expiredCached := sampleGeneration("cached")
	expiredCached.ExpiresAt = &past

	fresh := sampleGeneration("fresh")

	if _, err := lib.Add(ctx, fresh, nil); err != nil {
		t.Fatalf("Add fresh: %v", err)
	}
	if _, err := lib.Add(ctx, expiredCached, []byte("video")); err != nil {
		t.Fatalf("Add cached: %v", err)
	}
	if _, err := lib.Add(ctx, expiredUncached, nil); err != nil {
		t.Fatalf("Add uncached: %v", err)
	}

	reloaded := NewLibrary(kv, files, nil)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := reloaded.List()
	if len(got) != 2 {
		t.Fatalf("gallery holds %d records after prune, want 2", len(got))
	}
	for _, gen := range got {
		if gen.ID == "gone" {
			t.Fatal("expired uncached record survived load")
		}
	}

	if _, err := reloaded.Video(ctx, "cached"); err != nil {
		t.Fatalf("Video for cached expired generation: %v", err)
	}
}

func TestLibraryLoadVersionMismatch(t *testing.T) {
	ctx := context.Background()
	lib, kv, _ := testLibrary(t)

	raw, _ := json.Marshal(gallerySlot{Version: 1, Generations: []storedGeneration{{ID: "legacy"}}})
	if err := kv.Save(ctx, gallerySlotKey, raw); err != nil {
		t.Fatalf("kv.Save: %v", err)
	}

	if err := lib.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(lib.List()) != 0 {
		t.Fatal("records loaded from mismatched slot version")
	}
	if _, err := kv.Load(ctx, gallerySlotKey); !errors.Is(err, storage.ErrSlotEmpty) {
		t.Fatalf("outdated slot not cleared: err = %v", err)
	}
}

type fakeFetcher struct {
	data  []byte
	err   error
	calls int
}

func (f *fakeFetcher) DownloadVideo(ctx context.Context, generationID string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func TestLibraryVideoRefetchesAndCaches(t *testing.T) {
	ctx := context.Background()
	lib, _, files := testLibrary(t)
	fetcher := &fakeFetcher{data: []byte("refetched-bytes")}
	lib.SetFetcher(fetcher)

	// Archived without a local copy, e.g. after a cache wipe.
	if _, err := lib.Add(ctx, sampleGeneration("task-1"), nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	data, err := lib.Video(ctx, "task-1")
	if err != nil {
		t.Fatalf("Video: %v", err)
	}
	if string(data) != "refetched-bytes" {
		t.Fatalf("video = %q", data)
	}
	if !files.Exists("videos/task-1.mp4") {
		t.Fatal("refetched video not cached locally")
	}

	// The second read is served from cache; the remote is not hit again.
	if _, err := lib.Video(ctx, "task-1"); err != nil {
		t.Fatalf("second Video: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("fetcher calls = %d, want 1", fetcher.calls)
	}
}

func TestLibraryVideoExpired(t *testing.T) {
	ctx := context.Background()
	lib, _, _ := testLibrary(t)

	past := time.Now().Add(-time.Hour)
	gen := sampleGeneration("stale")
	gen.ExpiresAt = &past
	if _, err := lib.Add(ctx, gen, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := lib.Video(ctx, "stale"); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("Video: err = %v, want ErrExpired", err)
	}
	if _, err := lib.Video(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Video unknown: err = %v, want ErrNotFound", err)
	}
}
