package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/gurre/convopipe/blobstore"
	"github.com/gurre/convopipe/bucket"
	"github.com/gurre/convopipe/config"
	"github.com/gurre/convopipe/logging"
	"github.com/gurre/convopipe/taskqueue"
)

func testSettings() *config.Settings {
	return &config.Settings{
		UploadsBucket:         "uploads",
		ProcessingBucket:      "processing",
		JSONBucket:            "json",
		ProcessedBucket:       "processed",
		MaxFileSizeBytes:      1024,
		QueueCheckIntervalSec: 1,
	}
}

func TestRecoverMovesProcessingBackToUploads(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewMemoryBackend()
	settings := testSettings()
	manager := bucket.New(backend, settings)
	queue := taskqueue.New(10)
	w := New(manager, queue, settings, logging.NewNop())

	if err := backend.Write(ctx, "processing", "a.wav", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if _, err := backend.Read(ctx, "uploads", "a.wav"); err != nil {
		t.Errorf("expected object recovered to uploads: %v", err)
	}
}

func TestScanOnceEnqueuesUnseenValidObjects(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewMemoryBackend()
	settings := testSettings()
	manager := bucket.New(backend, settings)
	queue := taskqueue.New(10)
	w := New(manager, queue, settings, logging.NewNop())

	backend.Write(ctx, "uploads", "a.wav", []byte("payload"))
	backend.Write(ctx, "uploads", "notes.txt", []byte("ignored"))

	w.scanOnce(ctx)

	if queue.Len() != 1 {
		t.Fatalf("queue.Len() = %d, want 1", queue.Len())
	}
	task, ok := queue.Dequeue(ctx, time.Second)
	if !ok || task.Name != "a.wav" {
		t.Errorf("dequeued task = %+v ok=%v, want a.wav", task, ok)
	}
}

func TestScanOnceDoesNotReenqueueSeenObjects(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewMemoryBackend()
	settings := testSettings()
	manager := bucket.New(backend, settings)
	queue := taskqueue.New(10)
	w := New(manager, queue, settings, logging.NewNop())

	backend.Write(ctx, "uploads", "a.wav", []byte("payload"))
	w.scanOnce(ctx)
	queue.Dequeue(ctx, time.Second)

	w.scanOnce(ctx)
	if queue.Len() != 0 {
		t.Errorf("queue.Len() = %d, want 0 (object already seen)", queue.Len())
	}
}

func TestResetSeenAllowsReenqueue(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewMemoryBackend()
	settings := testSettings()
	manager := bucket.New(backend, settings)
	queue := taskqueue.New(10)
	w := New(manager, queue, settings, logging.NewNop())

	backend.Write(ctx, "uploads", "a.wav", []byte("payload"))
	w.scanOnce(ctx)
	queue.Dequeue(ctx, time.Second)

	w.ResetSeen()
	w.scanOnce(ctx)
	if queue.Len() != 1 {
		t.Errorf("queue.Len() = %d, want 1 after ResetSeen", queue.Len())
	}
}

func TestPauseBlocksScanLoop(t *testing.T) {
	settings := testSettings()
	w := New(bucket.New(blobstore.NewMemoryBackend(), settings), taskqueue.New(10), settings, logging.NewNop())

	w.Pause()
	if !w.IsPaused() {
		t.Fatal("expected paused")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if w.waitIfPaused(ctx) {
		t.Error("expected waitIfPaused to block until context deadline while paused")
	}

	w.Resume()
	if w.IsPaused() {
		t.Error("expected resumed")
	}
	if !w.waitIfPaused(context.Background()) {
		t.Error("expected waitIfPaused to return immediately once resumed")
	}
}
