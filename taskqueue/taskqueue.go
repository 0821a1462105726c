// Package taskqueue implements the Task Queue from section 4.3: a bounded
// FIFO of object names that producers fail-fast against when full and
// workers consume with a short read timeout so they can observe
// shutdown/pause signals.
package taskqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrFull is returned by TryEnqueue when the queue is at capacity.
var ErrFull = errors.New("task queue is full")

// Task is the entity from section 3: an object name and the time it was
// enqueued.
type Task struct {
	Name       string
	EnqueuedAt time.Time
}

// Queue is the Task Queue from section 4.3.
type Queue struct {
	ch        chan Task
	fullCount atomic.Int64
}

// New returns a Queue with the given capacity (Settings.TaskQueueMaxSize).
func New(capacity int) *Queue {
	return &Queue{ch: make(chan Task, capacity)}
}

// TryEnqueue attempts a non-blocking enqueue, incrementing the full-event
// counter and returning ErrFull when the queue has no spare capacity.
func (q *Queue) TryEnqueue(name string) error {
	select {
	case q.ch <- Task{Name: name, EnqueuedAt: time.Now().UTC()}:
		return nil
	default:
		q.fullCount.Add(1)
		return ErrFull
	}
}

// Dequeue blocks for up to timeout waiting for a Task, returning ok=false
// on timeout or context cancellation so a worker can re-check shutdown and
// pause signals between attempts (section 4.3 "consume with a short read
// timeout").
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Task, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case t := <-q.ch:
		return t, true
	case <-timer.C:
		return Task{}, false
	case <-ctx.Done():
		return Task{}, false
	}
}

// Len reports the number of tasks currently queued.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the queue's configured capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// FullCount reports how many TryEnqueue calls were refused for lack of
// capacity since the queue was created.
func (q *Queue) FullCount() int64 {
	return q.fullCount.Load()
}
