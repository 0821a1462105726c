// Package config implements the Settings entity from section 3 of the design
// specification. It handles loading configuration from the environment and
// validating every bounded-integer knob before the orchestrator starts.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AudioExtensions is the allowed extension set for objects entering the
// uploads bucket, as required by section 4.1 listAudio/validate.
var AudioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".aac":  true,
	".wma":  true,
}

// BucketRole names a logical bucket role from section 3's Bucket entity.
type BucketRole string

const (
	RoleUploads    BucketRole = "uploads"
	RoleProcessing BucketRole = "processing"
	RoleJSON       BucketRole = "json"
	RoleProcessed  BucketRole = "processed"
)

// Settings holds the Settings entity from section 3 of the design
// specification: bounded-integer knobs, credentials, endpoint URLs, and the
// useAuthorization flag. It is process-wide and mutable via the control
// plane (section 4.8); certain mutations force a worker-pool restart.
type Settings struct {
	// Backend selects the storage backend: "s3" or "local".
	Backend string

	// Bucket names, one physical bucket/directory per logical role.
	// On the local backend these are directory paths.
	UploadsBucket    string
	ProcessingBucket string
	JSONBucket       string
	ProcessedBucket  string

	// Region is the AWS region for the S3 backend; ignored for local.
	Region string

	// LocalRoot is the filesystem root under which bucket directories are
	// created when Backend is "local"; ignored for s3.
	LocalRoot string

	// Endpoints for the external collaborators (section 6).
	TranscriptionURL   string
	ResultURL          string
	AuthURL            string
	APIEndpoint        string
	UseAuthorization   bool
	TranscriptionToken string
	Login              string
	Password           string

	// Concurrency knobs (section 4.4, 4.8 updateConfig bounds).
	MaxConcurrentTasks    int // [1,20]
	MaxTranscriptionCalls int // [1,10]
	MaxAPICalls           int // [1,20]
	TaskQueueMaxSize      int // [10,1000]

	// Timing knobs.
	QueueCheckIntervalSec   int // [1,10]
	TranscriptionTimeoutSec int // [60,3600]
	APITimeoutSec           int // [10,300]
	APIMaxRetries           int // [1,10]
	MaxPollingAttempts      int
	PollingIntervalSec      int
	AuthMaxRetries          int
	AuthRetryDelaySec       int

	// MaxFileSizeBytes bounds the size of an object accepted by validate
	// (section 4.1).
	MaxFileSizeBytes int64

	// RecognitionParams is the fixed recognition flag bag sent verbatim on
	// every submit call (section 4.5): speakers, vad, classifiers, etc.
	RecognitionParams map[string]string

	// LogLevel and LogFile configure the ambient logging stack.
	LogLevel string
	LogFile  string

	// ShutdownTimeout bounds the hard-stop window for worker-pool drain
	// (section 4.4 "pool imposes a hard stop timeout").
	ShutdownTimeout time.Duration
}

// ConcurrencyFields reports which concurrency knobs a patch touched; the
// control plane (section 4.8) uses it to decide whether restartWorkerPool
// is required.
type ConcurrencyFields struct {
	MaxConcurrentTasks    *int
	MaxTranscriptionCalls *int
	MaxAPICalls           *int
	TaskQueueMaxSize      *int
}

// IsZero reports whether the patch touched no concurrency field.
func (c ConcurrencyFields) IsZero() bool {
	return c.MaxConcurrentTasks == nil && c.MaxTranscriptionCalls == nil &&
		c.MaxAPICalls == nil && c.TaskQueueMaxSize == nil
}

// defaultRecognitionParams mirrors the fixed parameter bag observed in the
// source system's submit call (section 4.5): speaker detection, async mode,
// and the classifier bundle, none of which vary per request.
func defaultRecognitionParams() map[string]string {
	return map[string]string{
		"speakers":        "true",
		"speaker_counter": "true",
		"async":           "1",
		"punctuation":     "true",
		"normalization":   "true",
		"toxicity":        "true",
		"emotion":         "true",
		"voice_analyzer":  "true",
		"vad":             "webrtc",
		"classifiers":     `["toxicity","emotion"]`,
	}
}

// Load builds Settings from the environment via viper, applying the
// documented default for every field per section 6 "Environment-supplied
// configuration".
func Load() (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("CONVOPIPE")
	v.AutomaticEnv()

	v.SetDefault("backend", "local")
	v.SetDefault("uploads_bucket", "uploads")
	v.SetDefault("processing_bucket", "processing")
	v.SetDefault("json_bucket", "json")
	v.SetDefault("processed_bucket", "processed")
	v.SetDefault("region", "us-east-1")
	v.SetDefault("local_root", "/var/lib/convopipe/data")

	v.SetDefault("transcription_url", "")
	v.SetDefault("result_url", "")
	v.SetDefault("auth_url", "")
	v.SetDefault("api_endpoint", "")
	v.SetDefault("use_authorization", false)
	v.SetDefault("transcription_token", "")
	v.SetDefault("login", "")
	v.SetDefault("password", "")

	v.SetDefault("max_concurrent_tasks", 3)
	v.SetDefault("max_transcription_calls", 3)
	v.SetDefault("max_api_calls", 5)
	v.SetDefault("task_queue_max_size", 100)

	v.SetDefault("queue_check_interval_sec", 2)
	v.SetDefault("transcription_timeout_sec", 300)
	v.SetDefault("api_timeout_sec", 30)
	v.SetDefault("api_max_retries", 3)
	v.SetDefault("max_polling_attempts", 300)
	v.SetDefault("polling_interval_sec", 2)
	v.SetDefault("auth_max_retries", 5)
	v.SetDefault("auth_retry_delay_sec", 5)

	v.SetDefault("max_file_size_bytes", int64(500*1024*1024))

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "convopipe.log")

	v.SetDefault("shutdown_timeout_sec", 15)

	s := &Settings{
		Backend:                 v.GetString("backend"),
		UploadsBucket:           v.GetString("uploads_bucket"),
		ProcessingBucket:        v.GetString("processing_bucket"),
		JSONBucket:              v.GetString("json_bucket"),
		ProcessedBucket:         v.GetString("processed_bucket"),
		Region:                  v.GetString("region"),
		LocalRoot:               v.GetString("local_root"),
		TranscriptionURL:        v.GetString("transcription_url"),
		ResultURL:               v.GetString("result_url"),
		AuthURL:                 v.GetString("auth_url"),
		APIEndpoint:             v.GetString("api_endpoint"),
		UseAuthorization:        v.GetBool("use_authorization"),
		TranscriptionToken:      v.GetString("transcription_token"),
		Login:                   v.GetString("login"),
		Password:                v.GetString("password"),
		MaxConcurrentTasks:      v.GetInt("max_concurrent_tasks"),
		MaxTranscriptionCalls:   v.GetInt("max_transcription_calls"),
		MaxAPICalls:             v.GetInt("max_api_calls"),
		TaskQueueMaxSize:        v.GetInt("task_queue_max_size"),
		QueueCheckIntervalSec:   v.GetInt("queue_check_interval_sec"),
		TranscriptionTimeoutSec: v.GetInt("transcription_timeout_sec"),
		APITimeoutSec:           v.GetInt("api_timeout_sec"),
		APIMaxRetries:           v.GetInt("api_max_retries"),
		MaxPollingAttempts:      v.GetInt("max_polling_attempts"),
		PollingIntervalSec:      v.GetInt("polling_interval_sec"),
		AuthMaxRetries:          v.GetInt("auth_max_retries"),
		AuthRetryDelaySec:       v.GetInt("auth_retry_delay_sec"),
		MaxFileSizeBytes:        v.GetInt64("max_file_size_bytes"),
		RecognitionParams:       defaultRecognitionParams(),
		LogLevel:                v.GetString("log_level"),
		LogFile:                 v.GetString("log_file"),
		ShutdownTimeout:         time.Duration(v.GetInt("shutdown_timeout_sec")) * time.Second,
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate enforces the bounds from section 3 invariant 5 and section 4.8
// updateConfig, field by field, failing closed on the first violation.
func (s *Settings) Validate() error {
	if s.Backend != "s3" && s.Backend != "local" {
		return fmt.Errorf("backend must be s3 or local, got %q", s.Backend)
	}

	if s.MaxConcurrentTasks < 1 || s.MaxConcurrentTasks > 20 {
		return fmt.Errorf("maxConcurrentTasks must be in [1,20], got %d", s.MaxConcurrentTasks)
	}
	if s.MaxTranscriptionCalls < 1 || s.MaxTranscriptionCalls > 10 {
		return fmt.Errorf("maxTranscriptionCalls must be in [1,10], got %d", s.MaxTranscriptionCalls)
	}
	if s.MaxAPICalls < 1 || s.MaxAPICalls > 20 {
		return fmt.Errorf("maxApiCalls must be in [1,20], got %d", s.MaxAPICalls)
	}
	if s.TaskQueueMaxSize < 10 || s.TaskQueueMaxSize > 1000 {
		return fmt.Errorf("taskQueueMaxSize must be in [10,1000], got %d", s.TaskQueueMaxSize)
	}
	if s.TaskQueueMaxSize < s.MaxConcurrentTasks {
		return fmt.Errorf("taskQueueMaxSize (%d) must be >= maxConcurrentTasks (%d)", s.TaskQueueMaxSize, s.MaxConcurrentTasks)
	}

	if s.QueueCheckIntervalSec < 1 || s.QueueCheckIntervalSec > 10 {
		return fmt.Errorf("queueCheckIntervalSec must be in [1,10], got %d", s.QueueCheckIntervalSec)
	}
	if s.TranscriptionTimeoutSec < 60 || s.TranscriptionTimeoutSec > 3600 {
		return fmt.Errorf("transcriptionTimeoutSec must be in [60,3600], got %d", s.TranscriptionTimeoutSec)
	}
	if s.APITimeoutSec < 10 || s.APITimeoutSec > 300 {
		return fmt.Errorf("apiTimeoutSec must be in [10,300], got %d", s.APITimeoutSec)
	}
	if s.APIMaxRetries < 1 || s.APIMaxRetries > 10 {
		return fmt.Errorf("apiMaxRetries must be in [1,10], got %d", s.APIMaxRetries)
	}
	if s.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("maxFileSizeBytes must be positive, got %d", s.MaxFileSizeBytes)
	}
	if s.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second")
	}

	if s.Backend == "s3" && s.Region == "" {
		return fmt.Errorf("region is required for the s3 backend")
	}

	return nil
}

// ApplyPatch applies a partial patch of field name -> raw value pairs,
// validating bounds before committing, and reports which concurrency fields
// (section 4.8) changed. On validation failure the Settings are left
// unmodified.
func (s *Settings) ApplyPatch(patch map[string]any) (ConcurrencyFields, error) {
	candidate := *s
	var changed ConcurrencyFields

	for key, raw := range patch {
		switch strings.ToLower(key) {
		case "maxconcurrenttasks":
			n, err := asInt(raw)
			if err != nil {
				return ConcurrencyFields{}, fmt.Errorf("maxConcurrentTasks: %w", err)
			}
			candidate.MaxConcurrentTasks = n
			changed.MaxConcurrentTasks = &n
		case "maxtranscriptioncalls":
			n, err := asInt(raw)
			if err != nil {
				return ConcurrencyFields{}, fmt.Errorf("maxTranscriptionCalls: %w", err)
			}
			candidate.MaxTranscriptionCalls = n
			changed.MaxTranscriptionCalls = &n
		case "maxapicalls":
			n, err := asInt(raw)
			if err != nil {
				return ConcurrencyFields{}, fmt.Errorf("maxApiCalls: %w", err)
			}
			candidate.MaxAPICalls = n
			changed.MaxAPICalls = &n
		case "taskqueuemaxsize":
			n, err := asInt(raw)
			if err != nil {
				return ConcurrencyFields{}, fmt.Errorf("taskQueueMaxSize: %w", err)
			}
			candidate.TaskQueueMaxSize = n
			changed.TaskQueueMaxSize = &n
		case "queuecheckintervalsec":
			n, err := asInt(raw)
			if err != nil {
				return ConcurrencyFields{}, fmt.Errorf("queueCheckIntervalSec: %w", err)
			}
			candidate.QueueCheckIntervalSec = n
		case "transcriptiontimeoutsec":
			n, err := asInt(raw)
			if err != nil {
				return ConcurrencyFields{}, fmt.Errorf("transcriptionTimeoutSec: %w", err)
			}
			candidate.TranscriptionTimeoutSec = n
		case "apitimeoutsec":
			n, err := asInt(raw)
			if err != nil {
				return ConcurrencyFields{}, fmt.Errorf("apiTimeoutSec: %w", err)
			}
			candidate.APITimeoutSec = n
		case "apimaxretries":
			n, err := asInt(raw)
			if err != nil {
				return ConcurrencyFields{}, fmt.Errorf("apiMaxRetries: %w", err)
			}
			candidate.APIMaxRetries = n
		case "maxfilesizebytes":
			n, err := asInt64(raw)
			if err != nil {
				return ConcurrencyFields{}, fmt.Errorf("maxFileSizeBytes: %w", err)
			}
			candidate.MaxFileSizeBytes = n
		default:
			return ConcurrencyFields{}, fmt.Errorf("unknown or immutable settings field: %s", key)
		}
	}

	if err := candidate.Validate(); err != nil {
		return ConcurrencyFields{}, err
	}

	*s = candidate
	return changed, nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

// BucketName maps a logical role to its physical bucket/directory name, as
// required by section 4.1's File Manager role->bucket map.
func (s *Settings) BucketName(role BucketRole) string {
	switch role {
	case RoleUploads:
		return s.UploadsBucket
	case RoleProcessing:
		return s.ProcessingBucket
	case RoleJSON:
		return s.JSONBucket
	case RoleProcessed:
		return s.ProcessedBucket
	default:
		return ""
	}
}
