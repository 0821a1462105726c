// Package orchestrator implements the Worker Pool lifecycle and the
// Control Plane from sections 4.4 and 4.8: it owns pool start/stop/
// pause/resume/restart, the per-worker status table, and updateConfig's
// drain-then-rebuild sequence, generalizing a worker-status/report-progress
// pattern.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gurre/convopipe/bucket"
	"github.com/gurre/convopipe/config"
	"github.com/gurre/convopipe/deliver"
	"github.com/gurre/convopipe/metrics"
	"github.com/gurre/convopipe/pipeline"
	"github.com/gurre/convopipe/taskqueue"
	"github.com/gurre/convopipe/transcript"
	"github.com/gurre/convopipe/watcher"
)

// WorkerStatus tracks one worker's progress, generalizing a restore-worker
// status type to the pipeline's object-oriented unit of work.
type WorkerStatus struct {
	StartTime     time.Time
	LastActive    time.Time
	LastErrorTime time.Time
	LastError     error
	CurrentObject string
	ObjectsDone   int64
	ID            int
}

// Status is the snapshot returned by GetStatus (section 4.8 getStatus).
type Status struct {
	Running      bool
	Paused       bool
	Workers      []WorkerStatus
	QueueLen     int
	QueueCap     int
	QueueFullCnt int64
	Session      metrics.Summary
	AllTime      metrics.Summary
	// Reachable maps each downstream dependency name ("transcript",
	// "deliver") to its health probe's error text, empty on success.
	Reachable map[string]string
}

// Orchestrator is the Control Plane from section 4.8.
type Orchestrator struct {
	settings   *config.Settings
	manager    *bucket.Manager
	watcher    *watcher.Watcher
	queue      *taskqueue.Queue
	metrics    *metrics.Collector
	transcript *transcript.Client
	deliver    *deliver.Client
	log        *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	paused  bool

	statusMu     sync.RWMutex
	workerStatus map[int]*WorkerStatus
}

// New constructs an Orchestrator bound to its collaborators. queue must be
// the same Queue the Watcher enqueues onto, so workers drain exactly what
// the Watcher discovers. The caller retains ownership of settings and may
// mutate it via UpdateConfig.
func New(settings *config.Settings, manager *bucket.Manager, w *watcher.Watcher, queue *taskqueue.Queue, m *metrics.Collector, t *transcript.Client, d *deliver.Client, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		settings:     settings,
		manager:      manager,
		watcher:      w,
		queue:        queue,
		metrics:      m,
		transcript:   t,
		deliver:      d,
		log:          log,
		workerStatus: make(map[int]*WorkerStatus),
	}
}

// Start builds the queue, starts maxConcurrentTasks workers and the
// Watcher's scan loop, after running the recovery sweep (section 4.2
// Recovery on start, section 4.4 Pool shape).
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}

	if err := o.manager.EnsureBuckets(ctx); err != nil {
		return fmt.Errorf("failed to ensure buckets: %w", err)
	}
	if err := o.watcher.Recover(ctx); err != nil {
		return fmt.Errorf("recovery sweep failed: %w", err)
	}
	o.watcher.ResetSeen()

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	if o.queue == nil || o.queue.Cap() != o.settings.TaskQueueMaxSize {
		o.queue = taskqueue.New(o.settings.TaskQueueMaxSize)
		o.watcher.SetQueue(o.queue)
	}

	transcriptionSem := pipeline.NewSemaphore(o.settings.MaxTranscriptionCalls)
	apiSem := pipeline.NewSemaphore(o.settings.MaxAPICalls)

	for i := 0; i < o.settings.MaxConcurrentTasks; i++ {
		o.initWorker(i)
		o.wg.Add(1)
		go o.worker(runCtx, i, transcriptionSem, apiSem)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.watcher.Run(runCtx)
	}()

	o.running = true
	o.paused = false
	return nil
}

// Stop drains the pool with a hard stop timeout (section 4.4
// "Cancellation", default 15s via settings.ShutdownTimeout).
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.running = false
	o.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(o.settings.ShutdownTimeout):
		o.log.Warn("worker pool did not drain within shutdown timeout")
	}
}

// Pause engages the cooperative pause gate on the Watcher; in-flight
// worker pipeline steps are not interrupted (section 5 "Pause is
// cooperative").
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
	o.watcher.Pause()
}

// Resume clears the pause gate.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	o.watcher.Resume()
}

// RestartWorkerPool executes the six-step drain-then-rebuild sequence
// from section 4.8, used both standalone and by UpdateConfig when a
// concurrency field changes.
func (o *Orchestrator) RestartWorkerPool(ctx context.Context) error {
	o.Stop()                 // steps 1-2: drain, workers exit
	o.metrics.ResetSession() // step 4: session reset, history preserved
	return o.Start(ctx)      // steps 3, 5, 6: recovery + seen-reset + restart, all inside Start
}

// Restart performs a full stop/start cycle without resetting session
// metrics, for the control-plane "restart" (full) operation.
func (o *Orchestrator) Restart(ctx context.Context) error {
	o.Stop()
	return o.Start(ctx)
}

// UpdateConfig applies a patch to Settings and, if any concurrency field
// changed, triggers RestartWorkerPool (section 4.8 updateConfig).
func (o *Orchestrator) UpdateConfig(ctx context.Context, patch map[string]any) error {
	changed, err := o.settings.ApplyPatch(patch)
	if err != nil {
		return err
	}
	if !changed.IsZero() {
		return o.RestartWorkerPool(ctx)
	}
	return nil
}

// GetConfig returns the live Settings (section 4.8 getConfig).
func (o *Orchestrator) GetConfig() *config.Settings {
	return o.settings
}

// GetStatus reports running/paused state, per-worker progress, queue
// depth, both metric views, and downstream reachability (section 4.8
// getStatus). The reachability probes run with ctx's deadline and never
// mutate pipeline state.
func (o *Orchestrator) GetStatus(ctx context.Context) Status {
	o.mu.Lock()
	running := o.running
	paused := o.paused
	queue := o.queue
	o.mu.Unlock()

	o.statusMu.RLock()
	workers := make([]WorkerStatus, 0, len(o.workerStatus))
	for _, s := range o.workerStatus {
		workers = append(workers, *s)
	}
	o.statusMu.RUnlock()

	status := Status{
		Running:   running,
		Paused:    paused,
		Workers:   workers,
		Session:   o.metrics.SessionSummary(),
		AllTime:   o.metrics.AllTimeSummary(),
		Reachable: map[string]string{
			"transcript": pingText(o.transcript.Ping(ctx)),
			"deliver":    pingText(o.deliver.Ping(ctx)),
		},
	}
	if queue != nil {
		status.QueueLen = queue.Len()
		status.QueueCap = queue.Cap()
		status.QueueFullCnt = queue.FullCount()
	}
	return status
}

func pingText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (o *Orchestrator) initWorker(id int) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	o.workerStatus[id] = &WorkerStatus{ID: id, StartTime: time.Now()}
}

func (o *Orchestrator) updateWorkerStatus(id int, fn func(*WorkerStatus)) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	if s, ok := o.workerStatus[id]; ok {
		fn(s)
		s.LastActive = time.Now()
	}
}

// worker is the long-lived task from section 4.4: it dequeues with a
// short read timeout so it can observe cancellation, then drives the
// object through the Pipeline.
func (o *Orchestrator) worker(ctx context.Context, id int, transcriptionSem, apiSem pipeline.Semaphore) {
	defer o.wg.Done()

	p := &pipeline.Pipeline{
		Manager:                o.manager,
		Transcript:             o.transcript,
		Deliver:                o.deliver,
		Metrics:                o.metrics,
		Log:                    o.log,
		TranscriptionSemaphore: transcriptionSem,
		APISemaphore:           apiSem,
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok := o.queue.Dequeue(ctx, 2*time.Second)
		if !ok {
			continue
		}

		o.updateWorkerStatus(id, func(s *WorkerStatus) {
			s.CurrentObject = task.Name
		})

		p.Run(ctx, task.Name)

		o.updateWorkerStatus(id, func(s *WorkerStatus) {
			s.CurrentObject = ""
			s.ObjectsDone++
		})
	}
}
