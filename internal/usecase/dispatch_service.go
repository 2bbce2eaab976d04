// internal/usecase/dispatch_service.go
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"batch-dispatch/internal/batch"
	"batch-dispatch/internal/domain"
	"batch-dispatch/internal/metrics"
	"batch-dispatch/internal/validate"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DispatchService turns one validated inbound request into a batch of
// tasks, submits them to the shared queue, and awaits the aggregate
// outcome. It stays thin: requirement checking lives in validate, batch
// lifecycle in batch.
type DispatchService struct {
	registry *domain.ServiceRegistry
	queue    domain.TaskQueue
	router   *batch.Router
	records  domain.ResultRecordRepository
	defaults []string
	timeout  time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewDispatchService creates a new DispatchService instance.
func NewDispatchService(
	registry *domain.ServiceRegistry,
	queue domain.TaskQueue,
	router *batch.Router,
	records domain.ResultRecordRepository,
	defaults []string,
	timeout time.Duration,
	logger *slog.Logger,
) *DispatchService {
	return &DispatchService{
		registry: registry,
		queue:    queue,
		router:   router,
		records:  records,
		defaults: defaults,
		timeout:  timeout,
		logger:   logger.With("component", "dispatch-service"),
		tracer:   otel.Tracer("batch-dispatch-usecase"),
	}
}

// Dispatch validates the request against the requested services, enqueues
// one task per service under a fresh batch id, and blocks until the batch
// resolves or times out.
func (s *DispatchService) Dispatch(ctx context.Context, payload map[string]any, serviceNames []string) (*domain.BatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.Dispatch")
	defer span.End()

	if len(serviceNames) == 0 {
		serviceNames = s.defaults
	}
	serviceNames = dedupe(serviceNames)
	span.SetAttributes(attribute.StringSlice("services", serviceNames))

	if len(serviceNames) == 0 {
		return nil, domain.NewValidationError("no services requested and no defaults configured")
	}

	// Availability first: an unknown requested name is the caller's
	// mistake, unlike a registry hole behind a known name (validate
	// reports that one as an internal fault).
	for _, name := range serviceNames {
		if _, ok := s.registry.Lookup(name); !ok {
			return nil, domain.NewValidationError(
				fmt.Sprintf("unknown service %q; available services: %s",
					name, strings.Join(s.registry.Names(), ", ")))
		}
	}

	if err := validate.Requirements(payload, serviceNames, s.registry); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "requirement validation failed")
		return nil, err
	}

	requestID := uuid.NewString()
	span.SetAttributes(attribute.String("request.id", requestID))

	taskBatch := &domain.TaskBatch{RequestID: requestID}
	for _, name := range serviceNames {
		taskBatch.Tasks = append(taskBatch.Tasks, domain.Task{
			ID:          uuid.NewString(),
			RequestID:   requestID,
			ServiceName: name,
			Data:        payload,
		})
	}

	// The resolver must be listening before the first task can possibly
	// complete, so it is constructed before anything is enqueued.
	resolver, err := batch.NewResolver(s.router, taskBatch, s.timeout, s.logger)
	if err != nil {
		return nil, domain.NewInternalFault("failed to construct batch resolver", err)
	}
	metrics.BatchesStartedTotal.Inc()

	for i := range taskBatch.Tasks {
		if err := s.queue.Enqueue(ctx, &taskBatch.Tasks[i]); err != nil {
			resolver.Close()
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to enqueue task")
			return nil, domain.NewInternalFault(
				fmt.Sprintf("failed to enqueue task for service %s", taskBatch.Tasks[i].ServiceName), err)
		}
	}
	s.logger.Info("batch dispatched", "request_id", requestID, "tasks", len(taskBatch.Tasks))

	result, err := resolver.Await(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch did not resolve successfully")
		return nil, err
	}
	return result, nil
}

// History lists the execution records written for one batch.
func (s *DispatchService) History(ctx context.Context, requestID string) ([]*domain.ResultRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.History")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID))

	records, err := s.records.ListByRequestID(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list result records")
	}
	return records, err
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
