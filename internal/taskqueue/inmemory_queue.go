package taskqueue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// InMemoryQueue is a simple Queue implementation backed by a buffered channel.
// It is safe for concurrent use. Tasks with a future NotBefore are held on a
// timer and pushed when they become due.
type InMemoryQueue struct {
	ch      chan Task
	delayed atomic.Int64

	mu     sync.Mutex
	queued map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewInMemoryQueue creates a new queue with the given capacity.
// For tests and small deployments, a modest capacity (e.g. 1024) is fine.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{
		ch:     make(chan Task, capacity),
		queued: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	now := time.Now()
	t = stamp(t, now)
	if !q.claimID(t.ID) {
		return nil
	}

	if wait := t.NotBefore.Sub(now); wait > 0 {
		q.delayed.Add(1)
		time.AfterFunc(wait, func() { q.pushDelayed(t) })
		return nil
	}

	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		q.releaseID(t.ID)
		return ctx.Err()
	case <-q.done:
		q.releaseID(t.ID)
		return ErrQueueClosed
	}
}

// pushDelayed moves a due task onto the channel, waiting for room until the
// queue is closed.
func (q *InMemoryQueue) pushDelayed(t Task) {
	defer q.delayed.Add(-1)
	select {
	case q.ch <- t:
	case <-q.done:
		q.releaseID(t.ID)
		slog.Warn("in-memory queue closed, dropping delayed task",
			slog.String("task_id", t.ID),
			slog.String("type", string(t.Type)),
			slog.String("instance_id", t.InstanceID),
		)
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case t := <-q.ch:
		q.releaseID(t.ID)
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *InMemoryQueue) Len() int {
	return len(q.ch) + int(q.delayed.Load())
}

// Close rejects further tasks and releases delayed tasks still waiting for
// room. Tasks already on the channel can still be dequeued.
func (q *InMemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

func (q *InMemoryQueue) claimID(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queued[id]; ok {
		return false
	}
	q.queued[id] = struct{}{}
	return true
}

func (q *InMemoryQueue) releaseID(id string) {
	q.mu.Lock()
	delete(q.queued, id)
	q.mu.Unlock()
}
