// Package pipeline implements the Per-Object Pipeline from section 4.4:
// the eight-step, strictly-ordered sequence that moves one object from
// uploads through transcription and delivery to processed.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gurre/convopipe/bucket"
	"github.com/gurre/convopipe/config"
	"github.com/gurre/convopipe/deliver"
	"github.com/gurre/convopipe/metrics"
	"github.com/gurre/convopipe/transcript"
)

// Semaphore is a counting semaphore bounding concurrent access to an
// external dependency, independent of the worker pool's own size (section
// 4.4 "Two additional bounds are applied across workers as counting
// semaphores").
type Semaphore chan struct{}

// NewSemaphore returns a Semaphore with n slots.
func NewSemaphore(n int) Semaphore {
	return make(Semaphore, n)
}

// Acquire blocks until a slot is free or ctx is cancelled.
func (s Semaphore) Acquire(ctx context.Context) error {
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot to the semaphore.
func (s Semaphore) Release() {
	<-s
}

// Pipeline wires the collaborators a single object's run needs: the
// bucket Manager (storage moves), the Transcription and Deliver clients
// (bounded by their own semaphores), and the Metrics Collector.
type Pipeline struct {
	Manager    *bucket.Manager
	Transcript *transcript.Client
	Deliver    *deliver.Client
	Metrics    *metrics.Collector
	Log        *zap.Logger

	TranscriptionSemaphore Semaphore
	APISemaphore           Semaphore
}

// Run executes the eight-step pipeline for a single object name (section
// 4.4). It never returns an error to the caller: every failure is
// terminal for this object and is recorded via Metrics, matching the
// "record FAILED, stop" language throughout section 4.4. A panic inside a
// step is recovered here and recorded as a failure, so the worker survives.
func (p *Pipeline) Run(ctx context.Context, name string) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.Log.Error("pipeline panicked", zap.String("object", name), zap.Any("panic", r))
			p.fail(name, start, fmt.Errorf("panic: %v", r))
		}
	}()

	size, ok := p.claim(ctx, name, start)
	if !ok {
		return
	}

	data, ok := p.fetch(ctx, name, start)
	if !ok {
		return
	}

	taskID, ok := p.submit(ctx, name, data, start)
	if !ok {
		return
	}

	document, ok := p.poll(ctx, name, taskID, start)
	if !ok {
		return
	}

	if !p.persist(ctx, name, document, start) {
		return
	}

	p.deliver(ctx, name, document)

	if err := p.Manager.Move(ctx, config.RoleProcessing, config.RoleProcessed, name); err != nil {
		p.Log.Error("finalize move failed", zap.String("object", name), zap.Error(err))
		p.fail(name, start, err)
		return
	}

	p.Metrics.RecordSuccess(name, time.Since(start).Seconds(), size)
}

// claim performs step 1: uploads -> processing.
func (p *Pipeline) claim(ctx context.Context, name string, start time.Time) (int64, bool) {
	info, err := statBeforeMove(ctx, p.Manager, name)
	if err != nil {
		p.Log.Error("claim stat failed", zap.String("object", name), zap.Error(err))
		p.fail(name, start, err)
		return 0, false
	}
	if err := p.Manager.Move(ctx, config.RoleUploads, config.RoleProcessing, name); err != nil {
		p.Log.Error("claim move failed", zap.String("object", name), zap.Error(err))
		p.fail(name, start, err)
		return 0, false
	}
	return info, true
}

func statBeforeMove(ctx context.Context, manager *bucket.Manager, name string) (int64, error) {
	if !manager.Validate(ctx, config.RoleUploads, name) {
		return 0, fmt.Errorf("object %s failed validation before claim", name)
	}
	return manager.Size(ctx, config.RoleUploads, name)
}

// fetch performs step 2: read bytes from processing. On failure it
// attempts to move the object back to uploads so it is retried (section
// 4.4 step 2).
func (p *Pipeline) fetch(ctx context.Context, name string, start time.Time) ([]byte, bool) {
	data, err := p.Manager.ReadBytes(ctx, config.RoleProcessing, name)
	if err != nil {
		p.Log.Error("fetch failed", zap.String("object", name), zap.Error(err))
		if mvErr := p.Manager.Move(ctx, config.RoleProcessing, config.RoleUploads, name); mvErr != nil {
			p.Log.Error("fetch recovery move failed", zap.String("object", name), zap.Error(mvErr))
		}
		p.fail(name, start, err)
		return nil, false
	}
	return data, true
}

// submit performs step 3, bounded by the transcription semaphore.
func (p *Pipeline) submit(ctx context.Context, name string, data []byte, start time.Time) (string, bool) {
	if err := p.TranscriptionSemaphore.Acquire(ctx); err != nil {
		p.fail(name, start, err)
		return "", false
	}
	defer p.TranscriptionSemaphore.Release()

	taskID, err := p.Transcript.Submit(ctx, name, data)
	if err != nil {
		p.Log.Error("submit failed", zap.String("object", name), zap.Error(err))
		if mvErr := p.Manager.Move(ctx, config.RoleProcessing, config.RoleUploads, name); mvErr != nil {
			p.Log.Error("submit recovery move failed", zap.String("object", name), zap.Error(mvErr))
		}
		p.fail(name, start, err)
		return "", false
	}
	return taskID, true
}

// poll performs step 4, bounded by the same transcription semaphore the
// submit step used (both occupy the transcription region, section 4.4
// pool shape).
func (p *Pipeline) poll(ctx context.Context, name, taskID string, start time.Time) (map[string]any, bool) {
	if err := p.TranscriptionSemaphore.Acquire(ctx); err != nil {
		p.fail(name, start, err)
		return nil, false
	}
	defer p.TranscriptionSemaphore.Release()

	result, err := p.Transcript.PollUntilTerminal(ctx, taskID)
	if err != nil {
		p.Log.Error("poll failed", zap.String("object", name), zap.Error(err))
		p.fail(name, start, err)
		return nil, false
	}
	switch result.Status {
	case transcript.PollReady:
		return result.Document, true
	default:
		p.Log.Warn("poll terminated without ready status", zap.String("object", name), zap.String("status", string(result.Status)))
		p.fail(name, start, fmt.Errorf("poll ended with status %s", result.Status))
		return nil, false
	}
}

// persist performs step 5: write the ResultDocument to the json bucket.
func (p *Pipeline) persist(ctx context.Context, name string, document map[string]any, start time.Time) bool {
	stem := bucket.Stem(name)
	if err := p.Manager.WriteDocument(ctx, stem, document); err != nil {
		p.Log.Error("persist failed", zap.String("object", name), zap.Error(err))
		p.fail(name, start, err)
		return false
	}
	return true
}

// deliver performs step 6. Delivery is best-effort: a failure here is
// logged but does not stop the pipeline, matching section 4.4 step 6 and
// the Open Question resolution in section 9 ("delivery does not block the
// final move").
func (p *Pipeline) deliver(ctx context.Context, name string, document map[string]any) {
	if err := p.APISemaphore.Acquire(ctx); err != nil {
		p.Log.Warn("deliver semaphore acquire failed", zap.String("object", name), zap.Error(err))
		return
	}
	defer p.APISemaphore.Release()

	if _, err := p.Deliver.Deliver(ctx, name, document); err != nil {
		p.Log.Warn("delivery failed, proceeding to finalize", zap.String("object", name), zap.Error(err))
	}
}

func (p *Pipeline) fail(name string, start time.Time, err error) {
	p.Metrics.RecordFailure(name, time.Since(start).Seconds(), err.Error())
}
