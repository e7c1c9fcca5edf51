// Package taskqueue carries advance and activity work between the engine
// and workers. Every implementation is at-least-once: a task removed by
// Dequeue is gone, and redelivery after a crash comes from the engine's
// recovery sweep, not from the queue.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	// TaskTypeAdvance asks a worker to run a replay pass for InstanceID.
	TaskTypeAdvance TaskType = "advance"

	// TaskTypeActivity asks a worker to execute ActivityName for task
	// TaskID of InstanceID and record its outcome.
	TaskTypeActivity TaskType = "activity"
)

// Task represents a unit of work for the worker.
type Task struct {
	ID   string
	Type TaskType

	InstanceID string

	// For activity tasks
	TaskID       int
	ActivityName string
	Input        json.RawMessage

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately" (i.e., at enqueue time).
	NotBefore time.Time

	// Attempts counts how many times the task was handed back to the queue.
	Attempts int
}

// NewAdvanceTask builds an advance task for instanceID.
func NewAdvanceTask(instanceID string) Task {
	return Task{ID: uuid.NewString(), Type: TaskTypeAdvance, InstanceID: instanceID}
}

// ErrQueueClosed is returned by Enqueue on a queue that has been closed.
var ErrQueueClosed = errors.New("queue closed")

// ActivityTaskID is the queue ID of the activity task for taskID of
// instanceID. Every dispatch of the same scheduled task uses the same ID, so
// a queue holds at most one copy of it.
func ActivityTaskID(instanceID string, taskID int) string {
	return fmt.Sprintf("%s/%d", instanceID, taskID)
}

// NewActivityTask builds an activity task.
func NewActivityTask(instanceID string, taskID int, name string, input json.RawMessage) Task {
	return Task{
		ID:           ActivityTaskID(instanceID, taskID),
		Type:         TaskTypeActivity,
		InstanceID:   instanceID,
		TaskID:       taskID,
		ActivityName: name,
		Input:        input,
	}
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	// Enqueueing a task whose ID is still queued is a no-op; once the task
	// has been dequeued its ID may be enqueued again.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task whose NotBefore has passed,
	// blocking until one is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}

// stamp fills in the bookkeeping fields of t before it is stored.
func stamp(t Task, now time.Time) Task {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = now
	}
	if t.NotBefore.IsZero() {
		t.NotBefore = t.EnqueuedAt
	}
	return t
}
