// internal/service/do.go
package service

import (
	"context"
	"fmt"
	"log/slog"

	"batch-dispatch/internal/domain"
)

// Do is the sole execution entry point for a task service. It runs
// structural validation first and rejects without ever invoking the
// service when the task is malformed; otherwise it delegates to the
// service's Execute and converts any error or panic into a fail outcome.
// Do always returns a settled TaskResult, never nil and never an escaping
// failure, because the worker loop depends on every claimed task producing
// an outcome to publish.
func Do(ctx context.Context, svc domain.TaskService, task *domain.Task, logger *slog.Logger) *domain.TaskResult {
	if issues := structuralIssues(svc, task); len(issues) > 0 {
		return domain.RejectResult(task, issues...)
	}

	result, err := execute(ctx, svc, task, logger)
	if err != nil {
		return domain.FailResult(task, err.Error())
	}
	if result == nil {
		return domain.FailResult(task, fmt.Sprintf("service %s returned no result", svc.Name()))
	}
	if err := result.Validate(); err != nil {
		logger.Error("service produced an invalid result", "service", svc.Name(), "task_id", task.ID, "error", err)
		return domain.FailResult(task, fmt.Sprintf("service %s produced an invalid result: %v", svc.Name(), err))
	}
	return result
}

// execute isolates the recover so a panicking service degrades to a fail
// outcome instead of killing the worker.
func execute(ctx context.Context, svc domain.TaskService, task *domain.Task, logger *slog.Logger) (result *domain.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task execution panicked", "service", svc.Name(), "task_id", task.ID, "panic", r)
			result = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return svc.Execute(ctx, task)
}

// structuralIssues collects one issue per contract violation: missing
// identity fields, a service-name mismatch, and every schema field absent
// from the payload or present with the wrong shape.
func structuralIssues(svc domain.TaskService, task *domain.Task) []string {
	var issues []string
	if task.ID == "" {
		issues = append(issues, "task id is missing")
	}
	if task.RequestID == "" {
		issues = append(issues, "task request id is missing")
	}
	if task.ServiceName != svc.Name() {
		issues = append(issues, fmt.Sprintf(
			"task names service %q but was given to service %q", task.ServiceName, svc.Name()))
	}
	schema := svc.Requirements()
	for field, want := range schema.Fields {
		value, present := task.Data[field]
		if !present {
			issues = append(issues, fmt.Sprintf("required field %q is missing", field))
			continue
		}
		if got := domain.ShapeOf(value); got != want {
			issues = append(issues, fmt.Sprintf("field %q must be a %s", field, want))
		}
	}
	if len(schema.OneOf) > 0 && !oneOfSatisfied(task.Data, schema.OneOf) {
		issues = append(issues, fmt.Sprintf("service %s requires one of its alternative field sets", svc.Name()))
	}
	return issues
}

func oneOfSatisfied(data map[string]any, group [][]string) bool {
	for _, alternative := range group {
		complete := len(alternative) > 0
		for _, field := range alternative {
			if _, present := data[field]; !present {
				complete = false
				break
			}
		}
		if complete {
			return true
		}
	}
	return false
}
