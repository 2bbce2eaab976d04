// internal/batch/resolver.go
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"batch-dispatch/internal/domain"
	"batch-dispatch/internal/metrics"
)

// DefaultTimeout bounds batch resolution when the caller does not supply
// a duration.
const DefaultTimeout = 10 * time.Second

// Resolver owns one batch's lifecycle: it accumulates per-task outcomes
// from the shared event stream and resolves exactly once, either with a
// BatchResult when every task has reported or with a gateway-timeout
// BatchError when the timer fires first. Whichever transition happens
// first wins; the other becomes a no-op.
//
// NewResolver attaches to the router and arms the timeout before
// returning, so tasks enqueued afterwards cannot complete unobserved.
type Resolver struct {
	requestID string
	tasks     map[string]domain.Task
	timeout   time.Duration
	router    *Router
	logger    *slog.Logger

	events chan domain.QueueEvent
	quit   chan struct{}
	once   sync.Once

	done   chan struct{}
	result *domain.BatchResult
	err    error
}

// NewResolver constructs and starts a resolver for the batch. A
// non-positive timeout selects DefaultTimeout. The caller must only
// enqueue the batch's tasks after NewResolver returns.
func NewResolver(router *Router, b *domain.TaskBatch, timeout time.Duration, logger *slog.Logger) (*Resolver, error) {
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tasks := make(map[string]domain.Task, len(b.Tasks))
	for _, t := range b.Tasks {
		if _, dup := tasks[t.ID]; dup {
			return nil, fmt.Errorf("batch %s contains duplicate task id %s", b.RequestID, t.ID)
		}
		tasks[t.ID] = t
	}

	r := &Resolver{
		requestID: b.RequestID,
		tasks:     tasks,
		timeout:   timeout,
		router:    router,
		logger:    logger.With("component", "batch-resolver", "request_id", b.RequestID),
		// Sized for every task to report through each event kind, with
		// headroom for at-least-once redelivery.
		events: make(chan domain.QueueEvent, 4*len(tasks)+16),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if err := router.attach(r.requestID, r.events); err != nil {
		return nil, err
	}
	go r.run()
	return r, nil
}

// Await suspends until the batch resolves, returning the aggregate result
// or the batch-level error. Cancelling ctx abandons the wait but not the
// resolver, which still cleans itself up on its own terminal transition.
func (r *Resolver) Await(ctx context.Context) (*domain.BatchResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return r.result, r.err
	}
}

// Close abandons a resolver whose tasks never reached the queue. It exists
// for the orchestrator's enqueue-failure path only; it is not an external
// cancellation API. Idempotent, and a no-op once the resolver is terminal.
func (r *Resolver) Close() {
	r.once.Do(func() { close(r.quit) })
}

// run is the resolver's single goroutine. All state below is owned by it
// exclusively, so no locking is needed; cross-batch contamination is
// prevented by the membership check on every event.
func (r *Resolver) run() {
	timer := time.NewTimer(r.timeout)
	defer func() {
		r.router.detach(r.requestID)
		timer.Stop()
		close(r.done)
	}()

	results := make(map[string]*domain.TaskResult, len(r.tasks))
	remaining := len(r.tasks)

	for {
		select {
		case event := <-r.events:
			if recorded := r.record(results, event); recorded {
				remaining--
			}
			if remaining == 0 {
				r.result = r.assemble(results)
				metrics.BatchesResolvedTotal.WithLabelValues("done").Inc()
				r.logger.Info("batch resolved", "tasks", len(r.tasks))
				return
			}
		case <-timer.C:
			// Collected outcomes are discarded, not surfaced partially.
			// Still-pending tasks stay on the queue as wasted work; the
			// reaper removes them later.
			r.err = domain.NewBatchTimeout(r.requestID, remaining)
			metrics.BatchesResolvedTotal.WithLabelValues("timeout").Inc()
			r.logger.Warn("batch timed out", "pending", remaining, "timeout", r.timeout)
			return
		case <-r.quit:
			r.err = domain.NewInternalFault("batch abandoned before any task was queued", nil)
			return
		}
	}
}

// record applies one event to the outcome map and reports whether it
// consumed a previously unreported task. Entries are never overwritten:
// the first event to account for a task wins, so a task reported through
// two event kinds is only counted once.
func (r *Resolver) record(results map[string]*domain.TaskResult, event domain.QueueEvent) bool {
	task, mine := r.tasks[event.TaskID]
	if !mine || event.RequestID != r.requestID {
		return false
	}
	if _, already := results[event.TaskID]; already {
		// Includes a removal following the task's natural completion,
		// which must stay a no-op.
		return false
	}

	switch event.Kind {
	case domain.EventCompleted:
		if event.Result == nil {
			results[event.TaskID] = domain.FailResult(&task, "completed event carried no result")
			return true
		}
		results[event.TaskID] = event.Result
	case domain.EventFailed:
		reason := event.Reason
		if reason == "" {
			reason = "task failed without a reason"
		}
		results[event.TaskID] = domain.FailResult(&task, reason)
	case domain.EventRemoved:
		results[event.TaskID] = domain.FailResult(&task, "task removed from queue before completion")
	default:
		r.logger.Warn("ignoring queue event of unknown kind", "kind", event.Kind, "task_id", event.TaskID)
		return false
	}
	return true
}

// assemble keys the collected outcomes by service name for the response.
func (r *Resolver) assemble(results map[string]*domain.TaskResult) *domain.BatchResult {
	out := &domain.BatchResult{
		RequestID: r.requestID,
		Services:  make(map[string]domain.ServiceOutcome, len(r.tasks)),
	}
	for id, task := range r.tasks {
		res := results[id]
		out.Services[task.ServiceName] = domain.ServiceOutcome{
			ID:     id,
			Status: res.Status,
			Result: res.Result,
		}
	}
	return out
}
