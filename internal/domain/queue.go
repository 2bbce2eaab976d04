package domain

import (
	"context"
	"time"
)

// QueuedTask pairs a task with its queue bookkeeping, as seen by the
// reaper and by workers scanning for work.
type QueuedTask struct {
	Task       Task      `json:"task"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Claim represents a worker's exclusive, lease-backed hold on one task.
type Claim interface {
	// Release drops the claim and deletes the task from the queue.
	// Called after the task's outcome has been published.
	Release(ctx context.Context) error
}

// TaskSource is the worker-facing side of the queue: a feed of existing
// and newly enqueued tasks. Delivery is at-least-once; workers deduplicate
// through Claim.
type TaskSource interface {
	Watch(ctx context.Context) (<-chan Task, error)
}

// TaskQueue is the durable work queue shared by all gateway and worker
// nodes. Delivery is at-least-once; the event stream, not the queue,
// reports task outcomes.
type TaskQueue interface {
	// Enqueue makes the task visible to the worker fleet.
	Enqueue(ctx context.Context, task *Task) error

	// Claim attempts to take exclusive ownership of the task.
	// Returns ErrTaskNotClaimed when another worker holds it.
	Claim(ctx context.Context, task *Task) (Claim, error)

	// Pending lists queued tasks older than the given age whose claim is
	// gone, i.e. candidates for removal by the reaper.
	Pending(ctx context.Context, olderThan time.Duration) ([]QueuedTask, error)

	// Remove deletes a task (and any stale claim) from the queue.
	Remove(ctx context.Context, task *Task) error
}
