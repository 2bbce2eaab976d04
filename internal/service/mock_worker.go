// internal/service/mock_worker.go
package service

import (
	"context"
	"errors"
	"time"

	"batch-dispatch/internal/domain"
)

// MockWorker echoes its payload back. The optional delay_ms and boom
// fields exercise the slow-task and failure paths end to end.
type MockWorker struct{}

func NewMockWorker() *MockWorker { return &MockWorker{} }

func (s *MockWorker) Name() string { return "mock-worker" }

func (s *MockWorker) Description() string {
	return "Echo service for exercising dispatch, delay and failure paths."
}

func (s *MockWorker) Requirements() domain.RequirementSchema {
	return domain.RequirementSchema{
		Fields: map[string]domain.FieldShape{"payload": domain.ShapeString},
	}
}

func (s *MockWorker) Execute(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
	if ms, ok := task.Data["delay_ms"].(float64); ok && ms > 0 {
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if boom, ok := task.Data["boom"].(bool); ok && boom {
		return nil, errors.New("boom")
	}
	return domain.DoneResult(task, map[string]any{"echo": task.Data["payload"]}), nil
}
