package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gurre/convopipe/blobstore"
	"github.com/gurre/convopipe/bucket"
	"github.com/gurre/convopipe/config"
	"github.com/gurre/convopipe/deliver"
	"github.com/gurre/convopipe/logging"
	"github.com/gurre/convopipe/metrics"
	"github.com/gurre/convopipe/taskqueue"
	"github.com/gurre/convopipe/transcript"
	"github.com/gurre/convopipe/watcher"
)

func testSettings(submitURL, pollURL, apiURL string) *config.Settings {
	return &config.Settings{
		Backend:                 "local",
		UploadsBucket:           "uploads",
		ProcessingBucket:        "processing",
		JSONBucket:              "json",
		ProcessedBucket:         "processed",
		MaxFileSizeBytes:        1 << 20,
		MaxConcurrentTasks:      2,
		MaxTranscriptionCalls:   2,
		MaxAPICalls:             2,
		TaskQueueMaxSize:        10,
		QueueCheckIntervalSec:   1,
		TranscriptionURL:        submitURL,
		ResultURL:               pollURL,
		APIEndpoint:             apiURL,
		TranscriptionTimeoutSec: 60,
		APITimeoutSec:           10,
		APIMaxRetries:           2,
		MaxPollingAttempts:      5,
		PollingIntervalSec:      0,
		ShutdownTimeout:         2 * time.Second,
		RecognitionParams:       map[string]string{"vad": "webrtc"},
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *blobstore.MemoryBackend) {
	t.Helper()
	submitSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"taskID":"T1"}`))
	}))
	t.Cleanup(submitSrv.Close)
	pollSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ready","transcript":"hi"}`))
	}))
	t.Cleanup(pollSrv.Close)
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1}`))
	}))
	t.Cleanup(apiSrv.Close)

	settings := testSettings(submitSrv.URL, pollSrv.URL, apiSrv.URL)
	backend := blobstore.NewMemoryBackend()
	manager := bucket.New(backend, settings)
	queue := taskqueue.New(settings.TaskQueueMaxSize)
	w := watcher.New(manager, queue, settings, logging.NewNop())
	m := metrics.NewCollector()

	o := New(settings, manager, w, queue, m, transcript.New(settings), deliver.New(settings), logging.NewNop())
	return o, backend
}

func TestStartProcessesEnqueuedObject(t *testing.T) {
	o, backend := newTestOrchestrator(t)
	ctx := context.Background()
	backend.Write(ctx, "uploads", "a.wav", []byte("payload"))

	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop()

	waitFor(t, func() bool {
		_, err := backend.Read(ctx, "processed", "a.wav")
		return err == nil
	})
}

func TestRestartWorkerPoolRecoversInFlightObjects(t *testing.T) {
	o, backend := newTestOrchestrator(t)
	ctx := context.Background()

	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop()

	backend.Write(ctx, "processing", "b.wav", []byte("payload"))

	if err := o.RestartWorkerPool(ctx); err != nil {
		t.Fatalf("RestartWorkerPool: %v", err)
	}

	waitFor(t, func() bool {
		_, err := backend.Read(ctx, "processed", "b.wav")
		return err == nil
	})
}

func TestUpdateConfigTriggersRestartOnConcurrencyChange(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop()

	if err := o.UpdateConfig(ctx, map[string]any{"maxConcurrentTasks": 3}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if o.GetConfig().MaxConcurrentTasks != 3 {
		t.Errorf("MaxConcurrentTasks = %d, want 3", o.GetConfig().MaxConcurrentTasks)
	}
	status := o.GetStatus(ctx)
	if !status.Running {
		t.Error("expected pool running again after restart")
	}
}

func TestUpdateConfigSkipsRestartForNonConcurrencyField(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop()

	if err := o.UpdateConfig(ctx, map[string]any{"apiTimeoutSec": 20}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if o.GetConfig().APITimeoutSec != 20 {
		t.Errorf("APITimeoutSec = %d, want 20", o.GetConfig().APITimeoutSec)
	}
}

func TestPauseResume(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop()

	o.Pause()
	if !o.GetStatus(ctx).Paused {
		t.Error("expected paused")
	}
	o.Resume()
	if o.GetStatus(ctx).Paused {
		t.Error("expected resumed")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
