package storage

import (
	"context"
	"errors"
	"testing"
)

func TestKVRoundTrip(t *testing.T) {
	kv, err := OpenKV(t.TempDir())
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	defer kv.Close()

	ctx := context.Background()
	if err := kv.Save(ctx, "sora-queue", []byte(`{"version":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := kv.Load(ctx, "sora-queue")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != `{"version":1}` {
		t.Fatalf("load = %q", got)
	}
}

func TestKVSaveReplaces(t *testing.T) {
	kv, err := OpenKV(t.TempDir())
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	defer kv.Close()

	ctx := context.Background()
	if err := kv.Save(ctx, "slot", []byte("first")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := kv.Save(ctx, "slot", []byte("second")); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := kv.Load(ctx, "slot")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("load = %q, want second", got)
	}
}

func TestKVLoadEmptySlot(t *testing.T) {
	kv, err := OpenKV(t.TempDir())
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	defer kv.Close()

	if _, err := kv.Load(context.Background(), "missing"); !errors.Is(err, ErrSlotEmpty) {
		t.Fatalf("load missing slot: err = %v, want ErrSlotEmpty", err)
	}
}

func TestKVClear(t *testing.T) {
	kv, err := OpenKV(t.TempDir())
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	defer kv.Close()

	ctx := context.Background()
	if err := kv.Save(ctx, "slot", []byte("value")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := kv.Clear(ctx, "slot"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := kv.Load(ctx, "slot"); !errors.Is(err, ErrSlotEmpty) {
		t.Fatalf("load cleared slot: err = %v, want ErrSlotEmpty", err)
	}
	// Clearing again is a no-op.
	if err := kv.Clear(ctx, "slot"); err != nil {
		t.Fatalf("clear absent slot: %v", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	key, err := fs.Write(ctx, "videos/gen-1.mp4", []byte{0x00, 0x01})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if key != "videos/gen-1.mp4" {
		t.Fatalf("key = %q", key)
	}
	if !fs.Exists(key) {
		t.Fatalf("expected key to exist")
	}
	data, err := fs.Read(ctx, key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 2 {
		t.Fatalf("read %d bytes, want 2", len(data))
	}
	if err := fs.Remove(ctx, key); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if fs.Exists(key) {
		t.Fatalf("key should be gone after remove")
	}
	if err := fs.Remove(ctx, key); err != nil {
		t.Fatalf("remove absent key: %v", err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if _, err := fs.Write(context.Background(), "../escape.mp4", []byte("x")); err == nil {
		t.Fatalf("expected traversal key to be rejected")
	}
}
