// internal/worker/consumer.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"batch-dispatch/internal/domain"
	"batch-dispatch/internal/metrics"
	"batch-dispatch/internal/service"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Consumer drives one worker node: it watches the shared queue, claims
// tasks, executes the named service, and publishes each task's outcome
// onto the event stream.
type Consumer struct {
	queue       domain.TaskQueue
	source      domain.TaskSource
	publisher   domain.EventPublisher
	records     domain.ResultRecordRepository
	registry    *domain.ServiceRegistry
	workerID    string
	concurrency int
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewConsumer creates a consumer executing at most concurrency tasks at
// once.
func NewConsumer(
	queue domain.TaskQueue,
	source domain.TaskSource,
	publisher domain.EventPublisher,
	records domain.ResultRecordRepository,
	registry *domain.ServiceRegistry,
	workerID string,
	concurrency int,
	logger *slog.Logger,
) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Consumer{
		queue:       queue,
		source:      source,
		publisher:   publisher,
		records:     records,
		registry:    registry,
		workerID:    workerID,
		concurrency: concurrency,
		logger:      logger.With("component", "task-consumer", "worker_id", workerID),
		tracer:      otel.Tracer("batch-dispatch-worker"),
	}
}

// Run consumes tasks until ctx is cancelled or the task feed ends.
// This is a blocking call and should be run in a goroutine.
func (c *Consumer) Run(ctx context.Context) error {
	tasks, err := c.source.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch task queue: %w", err)
	}
	c.logger.Info("consuming tasks", "concurrency", c.concurrency)

	sem := make(chan struct{}, c.concurrency)
	for task := range tasks {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		go func(task domain.Task) {
			defer func() { <-sem }()
			c.handle(ctx, task)
		}(task)
	}
	return ctx.Err()
}

// handle processes one offered task end to end. Claim contention is the
// normal case on a multi-worker fleet and is not an error.
func (c *Consumer) handle(ctx context.Context, task domain.Task) {
	ctx, span := c.tracer.Start(ctx, "worker.handle",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("request.id", task.RequestID),
			attribute.String("service.name", task.ServiceName),
		))
	defer span.End()

	claim, err := c.queue.Claim(ctx, &task)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotClaimed) {
			span.AddEvent("lost_claim")
			return
		}
		c.logger.Error("failed to claim task", "task_id", task.ID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return
	}

	logger := c.logger.With("task_id", task.ID, "request_id", task.RequestID, "service", task.ServiceName)

	svc, ok := c.registry.Lookup(task.ServiceName)
	if !ok {
		// Deployment skew: a gateway accepted a service this worker does
		// not carry. Fail the task so the batch can still resolve.
		logger.Error("no service registered for task")
		span.SetStatus(codes.Error, "unknown service")
		c.publish(ctx, domain.QueueEvent{
			Kind:      domain.EventFailed,
			TaskID:    task.ID,
			RequestID: task.RequestID,
			Reason:    fmt.Sprintf("worker %s has no service named %s", c.workerID, task.ServiceName),
		}, claim, logger)
		return
	}

	start := time.Now()
	result := service.Do(ctx, svc, &task, logger)
	end := time.Now()

	metrics.TasksExecutedTotal.WithLabelValues(task.ServiceName, string(result.Status)).Inc()
	logger.Info("task executed", "status", result.Status, "duration", end.Sub(start))

	record := &domain.ResultRecord{
		TaskID:      task.ID,
		RequestID:   task.RequestID,
		ServiceName: task.ServiceName,
		Status:      result.Status,
		Issues:      result.Result.Issues,
		WorkerID:    c.workerID,
		StartTime:   start,
		EndTime:     end,
	}
	if err := c.records.Save(ctx, record); err != nil {
		logger.Error("failed to save result record", "error", err)
		span.RecordError(err)
	}

	c.publish(ctx, domain.QueueEvent{
		Kind:      domain.EventCompleted,
		TaskID:    task.ID,
		RequestID: task.RequestID,
		Result:    result,
	}, claim, logger)
}

// publish emits the task's terminal event and only then releases the
// claim. If publishing fails the claim is kept, so the task falls to the
// reaper instead of silently vanishing.
func (c *Consumer) publish(ctx context.Context, event domain.QueueEvent, claim domain.Claim, logger *slog.Logger) {
	if err := c.publisher.Publish(ctx, event); err != nil {
		logger.Error("failed to publish queue event", "kind", event.Kind, "error", err)
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := claim.Release(releaseCtx); err != nil {
		logger.Error("failed to release task claim", "error", err)
	}
}
