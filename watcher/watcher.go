// Package watcher implements the Watcher from section 4.2: it discovers
// new objects in the uploads bucket and enqueues them, and performs the
// processing->uploads recovery sweep on startup and on worker-pool
// restart.
package watcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gurre/convopipe/bucket"
	"github.com/gurre/convopipe/config"
	"github.com/gurre/convopipe/taskqueue"
)

// Watcher is the component from section 4.2.
type Watcher struct {
	manager  *bucket.Manager
	settings *config.Settings
	log      *zap.Logger

	mu      sync.Mutex
	queue   *taskqueue.Queue
	seen    map[string]bool
	paused  bool
	pauseCh chan struct{}
}

// New builds a Watcher bound to a bucket Manager and Task Queue.
func New(manager *bucket.Manager, queue *taskqueue.Queue, settings *config.Settings, log *zap.Logger) *Watcher {
	return &Watcher{
		manager:  manager,
		queue:    queue,
		settings: settings,
		log:      log,
		seen:     make(map[string]bool),
		pauseCh:  make(chan struct{}),
	}
}

// Recover moves every object currently in processing back to uploads, per
// section 4.2 "Recovery on start (and on worker-pool restart)". It is
// idempotent: an object already relocated by a prior call is a no-op
// success at the backend layer.
func (w *Watcher) Recover(ctx context.Context) error {
	names, err := w.manager.ListAudio(ctx, config.RoleProcessing)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := w.manager.Move(ctx, config.RoleProcessing, config.RoleUploads, name); err != nil {
			w.log.Warn("recovery move failed", zap.String("object", name), zap.Error(err))
			continue
		}
		w.log.Info("recovered in-flight object", zap.String("object", name))
	}
	return nil
}

// SetQueue replaces the queue new scans enqueue onto, used by
// restartWorkerPool when taskQueueMaxSize changes and a differently-sized
// queue is constructed (section 4.8 step 4).
func (w *Watcher) SetQueue(queue *taskqueue.Queue) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = queue
}

// ResetSeen clears the in-memory seen set, required after a recovery sweep
// so recovered objects can re-enter the queue (section 4.2 "Reset
// semantics").
func (w *Watcher) ResetSeen() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = make(map[string]bool)
}

// Pause blocks the scan loop before its next iteration.
func (w *Watcher) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.paused {
		w.paused = true
		w.pauseCh = make(chan struct{})
	}
}

// Resume unblocks a paused scan loop.
func (w *Watcher) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused {
		w.paused = false
		close(w.pauseCh)
	}
}

// IsPaused reports the current pause state.
func (w *Watcher) IsPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

func (w *Watcher) waitIfPaused(ctx context.Context) bool {
	w.mu.Lock()
	ch := w.pauseCh
	paused := w.paused
	w.mu.Unlock()
	if !paused {
		return true
	}
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run executes the scan loop until ctx is cancelled: every
// queueCheckIntervalSec, while not paused, it lists uploads, validates and
// enqueues names not yet in the seen set (section 4.2 Algorithm). A full
// queue or a failed enqueue is not an error: the object remains in uploads
// and is rediscovered on the next tick.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(w.settings.QueueCheckIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.waitIfPaused(ctx) {
				return
			}
			w.scanOnce(ctx)
		}
	}
}

func (w *Watcher) scanOnce(ctx context.Context) {
	names, err := w.manager.ListAudio(ctx, config.RoleUploads)
	if err != nil {
		w.log.Warn("scan failed to list uploads", zap.Error(err))
		return
	}

	for _, name := range names {
		w.mu.Lock()
		alreadySeen := w.seen[name]
		queue := w.queue
		w.mu.Unlock()
		if alreadySeen {
			continue
		}
		if !w.manager.Validate(ctx, config.RoleUploads, name) {
			w.log.Warn("object failed validation, marking seen", zap.String("object", name))
			w.mu.Lock()
			w.seen[name] = true
			w.mu.Unlock()
			continue
		}
		if err := queue.TryEnqueue(name); err != nil {
			w.log.Debug("enqueue deferred, queue saturated", zap.String("object", name))
			continue
		}
		w.mu.Lock()
		w.seen[name] = true
		w.mu.Unlock()
	}
}
