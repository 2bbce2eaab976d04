// internal/reaper/reaper.go
package reaper

import (
	"context"
	"log/slog"
	"time"

	"batch-dispatch/internal/domain"
	"batch-dispatch/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Reaper periodically removes stale tasks from the queue: tasks older than
// the TTL whose claim lease is gone (crashed worker, or a batch that timed
// out and left its pending tasks behind). Every removal is announced with
// a removed event so an owning resolver, if still alive, can account for
// the task.
type Reaper struct {
	queue     domain.TaskQueue
	publisher domain.EventPublisher
	taskTTL   time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New creates a reaper sweeping on the given six-field cron schedule.
func New(queue domain.TaskQueue, publisher domain.EventPublisher, schedule string, taskTTL time.Duration, logger *slog.Logger) (*Reaper, error) {
	r := &Reaper{
		queue:     queue,
		publisher: publisher,
		taskTTL:   taskTTL,
		cron:      cron.New(cron.WithSeconds()),
		logger:    logger.With("component", "queue-reaper"),
		tracer:    otel.Tracer("batch-dispatch-reaper"),
	}
	if _, err := r.cron.AddFunc(schedule, r.sweep); err != nil {
		return nil, err
	}
	return r, nil
}

// Start runs sweeps until ctx is cancelled. Blocking; run it on the
// elected leader only so the fleet performs one sweep per schedule tick.
func (r *Reaper) Start(ctx context.Context) error {
	r.logger.Info("queue reaper started", "task_ttl", r.taskTTL)
	r.cron.Start()
	<-ctx.Done()
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.logger.Info("queue reaper stopped")
	return ctx.Err()
}

func (r *Reaper) sweep() {
	ctx, span := r.tracer.Start(context.Background(), "reaper.Sweep")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	stale, err := r.queue.Pending(ctx, r.taskTTL)
	if err != nil {
		r.logger.Error("failed to list stale tasks", "error", err)
		span.RecordError(err)
		return
	}
	if len(stale) == 0 {
		return
	}
	span.SetAttributes(attribute.Int("stale_count", len(stale)))

	for _, queued := range stale {
		task := queued.Task
		// Announce before deleting: a resolver that misses the removal
		// only times out, but one that never learns of a silently deleted
		// task waits the full timeout for nothing.
		event := domain.QueueEvent{
			Kind:      domain.EventRemoved,
			TaskID:    task.ID,
			RequestID: task.RequestID,
			Reason:    "task expired on queue without completion",
		}
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.Error("failed to publish removed event", "task_id", task.ID, "error", err)
			continue
		}
		if err := r.queue.Remove(ctx, &task); err != nil {
			r.logger.Error("failed to remove stale task", "task_id", task.ID, "error", err)
			continue
		}
		metrics.TasksReapedTotal.Inc()
		r.logger.Info("reaped stale task",
			"task_id", task.ID, "request_id", task.RequestID,
			"enqueued_at", queued.EnqueuedAt)
	}
}
