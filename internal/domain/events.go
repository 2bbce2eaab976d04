package domain

import (
	"context"
	"fmt"
)

// EventKind is one of the three queue lifecycle notifications a resolver
// consumes.
type EventKind string

const (
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventRemoved   EventKind = "removed"
)

// QueueEvent is one notification on the shared event stream. Every event
// carries enough identity (task id + request id) to test batch membership;
// completed events additionally carry the task's outcome, failed and
// removed events a reason.
type QueueEvent struct {
	Kind      EventKind   `json:"kind"`
	TaskID    string      `json:"task_id"`
	RequestID string      `json:"request_id"`
	Result    *TaskResult `json:"result,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// Validate checks the per-kind payload contract.
func (e *QueueEvent) Validate() error {
	if e.TaskID == "" {
		return fmt.Errorf("queue event task id cannot be empty")
	}
	if e.RequestID == "" {
		return fmt.Errorf("queue event request id cannot be empty")
	}
	switch e.Kind {
	case EventCompleted:
		if e.Result == nil {
			return fmt.Errorf("completed event for task %s must carry a result", e.TaskID)
		}
		return e.Result.Validate()
	case EventFailed:
		if e.Reason == "" {
			return fmt.Errorf("failed event for task %s must carry a reason", e.TaskID)
		}
	case EventRemoved:
		// Reason is optional for removals.
	default:
		return fmt.Errorf("invalid queue event kind: %s", e.Kind)
	}
	return nil
}

// EventStream is the shared, externally provided channel of lifecycle
// notifications for all queued work, multiplexed across all active batches.
type EventStream interface {
	// Events returns the stream of notifications. The channel is closed
	// when ctx is cancelled or the underlying watch ends.
	Events(ctx context.Context) (<-chan QueueEvent, error)
}

// EventPublisher is the producing side of the stream, used by workers and
// the reaper.
type EventPublisher interface {
	Publish(ctx context.Context, event QueueEvent) error
}
