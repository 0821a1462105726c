package config

import (
	"testing"
	"time"
)

func validSettings() *Settings {
	return &Settings{
		Backend:                 "local",
		UploadsBucket:           "uploads",
		ProcessingBucket:        "processing",
		JSONBucket:              "json",
		ProcessedBucket:         "processed",
		Region:                  "us-west-2",
		MaxConcurrentTasks:      3,
		MaxTranscriptionCalls:   3,
		MaxAPICalls:             5,
		TaskQueueMaxSize:        100,
		QueueCheckIntervalSec:   2,
		TranscriptionTimeoutSec: 300,
		APITimeoutSec:           30,
		APIMaxRetries:           3,
		MaxFileSizeBytes:        500 * 1024 * 1024,
		ShutdownTimeout:         time.Minute,
	}
}

func TestValidSettings(t *testing.T) {
	s := validSettings()
	if err := s.Validate(); err != nil {
		t.Errorf("expected valid settings to pass validation, got: %v", err)
	}
}

func TestInvalidBackend(t *testing.T) {
	for _, b := range []string{"", "gcs", "S3", "Local"} {
		t.Run(b, func(t *testing.T) {
			s := validSettings()
			s.Backend = b
			if err := s.Validate(); err == nil {
				t.Errorf("expected error for invalid backend: %q", b)
			}
		})
	}
}

func TestMaxConcurrentTasksBounds(t *testing.T) {
	for _, n := range []int{0, -1, 21, 100} {
		t.Run("bad", func(t *testing.T) {
			s := validSettings()
			s.MaxConcurrentTasks = n
			if err := s.Validate(); err == nil {
				t.Errorf("expected error for maxConcurrentTasks=%d", n)
			}
		})
	}
	for _, n := range []int{1, 20} {
		t.Run("ok", func(t *testing.T) {
			s := validSettings()
			s.MaxConcurrentTasks = n
			if err := s.Validate(); err != nil {
				t.Errorf("expected maxConcurrentTasks=%d to be valid, got: %v", n, err)
			}
		})
	}
}

func TestTaskQueueMaxSizeBounds(t *testing.T) {
	for _, n := range []int{9, 1001} {
		s := validSettings()
		s.TaskQueueMaxSize = n
		if err := s.Validate(); err == nil {
			t.Errorf("expected error for taskQueueMaxSize=%d", n)
		}
	}
}

func TestTaskQueueMustCoverConcurrency(t *testing.T) {
	s := validSettings()
	s.MaxConcurrentTasks = 20
	s.TaskQueueMaxSize = 10
	if err := s.Validate(); err == nil {
		t.Error("expected error when taskQueueMaxSize < maxConcurrentTasks")
	}
}

func TestInvalidShutdownTimeout(t *testing.T) {
	for _, timeout := range []time.Duration{0, 500 * time.Millisecond, -time.Second} {
		s := validSettings()
		s.ShutdownTimeout = timeout
		if err := s.Validate(); err == nil {
			t.Errorf("expected error for invalid shutdown timeout: %v", timeout)
		}
	}
}

func TestS3BackendRequiresRegion(t *testing.T) {
	s := validSettings()
	s.Backend = "s3"
	s.Region = ""
	if err := s.Validate(); err == nil {
		t.Error("expected error when s3 backend has no region")
	}
}

func TestBucketName(t *testing.T) {
	s := validSettings()
	cases := map[BucketRole]string{
		RoleUploads:    "uploads",
		RoleProcessing: "processing",
		RoleJSON:       "json",
		RoleProcessed:  "processed",
	}
	for role, want := range cases {
		if got := s.BucketName(role); got != want {
			t.Errorf("BucketName(%s) = %q, want %q", role, got, want)
		}
	}
}

func TestApplyPatchConcurrencyField(t *testing.T) {
	s := validSettings()
	changed, err := s.ApplyPatch(map[string]any{"maxConcurrentTasks": 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed.IsZero() {
		t.Error("expected maxConcurrentTasks to be reported as changed")
	}
	if s.MaxConcurrentTasks != 5 {
		t.Errorf("expected MaxConcurrentTasks=5, got %d", s.MaxConcurrentTasks)
	}
}

func TestApplyPatchNonConcurrencyField(t *testing.T) {
	s := validSettings()
	changed, err := s.ApplyPatch(map[string]any{"apiMaxRetries": 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed.IsZero() {
		t.Error("expected apiMaxRetries patch to report no concurrency change")
	}
	if s.APIMaxRetries != 7 {
		t.Errorf("expected APIMaxRetries=7, got %d", s.APIMaxRetries)
	}
}

func TestApplyPatchRejectsOutOfBounds(t *testing.T) {
	s := validSettings()
	originalMax := s.MaxConcurrentTasks
	if _, err := s.ApplyPatch(map[string]any{"maxConcurrentTasks": 99}); err == nil {
		t.Error("expected error for out-of-bounds patch")
	}
	if s.MaxConcurrentTasks != originalMax {
		t.Error("expected settings to be unmodified after a rejected patch")
	}
}

func TestApplyPatchUnknownField(t *testing.T) {
	s := validSettings()
	if _, err := s.ApplyPatch(map[string]any{"doesNotExist": 1}); err == nil {
		t.Error("expected error for unknown settings field")
	}
}
