package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"batch-dispatch/internal/domain"
)

// scriptedService lets each test dictate the execution outcome.
type scriptedService struct {
	name    string
	schema  domain.RequirementSchema
	execute func(context.Context, *domain.Task) (*domain.TaskResult, error)
	called  bool
}

func (s *scriptedService) Name() string                           { return s.name }
func (s *scriptedService) Description() string                    { return "scripted" }
func (s *scriptedService) Requirements() domain.RequirementSchema { return s.schema }

func (s *scriptedService) Execute(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
	s.called = true
	return s.execute(ctx, task)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validTask(serviceName string, data map[string]any) *domain.Task {
	return &domain.Task{
		ID:          "t1",
		RequestID:   "r1",
		ServiceName: serviceName,
		Data:        data,
	}
}

func TestDoDelegatesWhenValid(t *testing.T) {
	svc := &scriptedService{
		name:   "echo",
		schema: domain.RequirementSchema{Fields: map[string]domain.FieldShape{"payload": domain.ShapeString}},
		execute: func(_ context.Context, task *domain.Task) (*domain.TaskResult, error) {
			return domain.DoneResult(task, map[string]any{"echo": task.Data["payload"]}), nil
		},
	}

	result := Do(context.Background(), svc, validTask("echo", map[string]any{"payload": "hi"}), testLogger())

	if !svc.called {
		t.Fatal("Execute was not invoked for a valid task")
	}
	if result.Status != domain.TaskStatusDone {
		t.Fatalf("status = %s, want done", result.Status)
	}
	if result.Result.Data["echo"] != "hi" {
		t.Errorf("data = %v, want echo=hi", result.Result.Data)
	}
}

func TestDoRejectsStructuralViolations(t *testing.T) {
	tests := []struct {
		name       string
		task       *domain.Task
		wantIssues int
	}{
		{
			name: "missing ids",
			task: &domain.Task{ServiceName: "echo", Data: map[string]any{"payload": "x"}},
			// id missing + request id missing
			wantIssues: 2,
		},
		{
			name:       "service name mismatch",
			task:       validTask("other", map[string]any{"payload": "x"}),
			wantIssues: 1,
		},
		{
			name:       "missing required field",
			task:       validTask("echo", map[string]any{}),
			wantIssues: 1,
		},
		{
			name:       "wrong field shape",
			task:       validTask("echo", map[string]any{"payload": 7}),
			wantIssues: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &scriptedService{
				name:   "echo",
				schema: domain.RequirementSchema{Fields: map[string]domain.FieldShape{"payload": domain.ShapeString}},
				execute: func(context.Context, *domain.Task) (*domain.TaskResult, error) {
					t.Fatal("Execute must not run for an invalid task")
					return nil, nil
				},
			}

			result := Do(context.Background(), svc, tt.task, testLogger())

			if result.Status != domain.TaskStatusReject {
				t.Fatalf("status = %s, want reject", result.Status)
			}
			if len(result.Result.Issues) != tt.wantIssues {
				t.Errorf("issues = %v, want %d of them", result.Result.Issues, tt.wantIssues)
			}
		})
	}
}

func TestDoRejectsUnsatisfiedOneOf(t *testing.T) {
	svc := &scriptedService{
		name:   "lookup",
		schema: domain.RequirementSchema{OneOf: [][]string{{"ip"}, {"domain"}}},
		execute: func(context.Context, *domain.Task) (*domain.TaskResult, error) {
			t.Fatal("Execute must not run for an invalid task")
			return nil, nil
		},
	}

	result := Do(context.Background(), svc, validTask("lookup", map[string]any{}), testLogger())

	if result.Status != domain.TaskStatusReject {
		t.Fatalf("status = %s, want reject", result.Status)
	}
}

func TestDoConvertsErrorToFail(t *testing.T) {
	svc := &scriptedService{
		name:   "echo",
		schema: domain.RequirementSchema{},
		execute: func(context.Context, *domain.Task) (*domain.TaskResult, error) {
			return nil, errors.New("upstream unreachable")
		},
	}

	result := Do(context.Background(), svc, validTask("echo", nil), testLogger())

	if result.Status != domain.TaskStatusFail {
		t.Fatalf("status = %s, want fail", result.Status)
	}
	if len(result.Result.Issues) != 1 || result.Result.Issues[0] != "upstream unreachable" {
		t.Errorf("issues = %v, want the error message", result.Result.Issues)
	}
}

func TestDoRecoversPanicAsFail(t *testing.T) {
	svc := &scriptedService{
		name:   "echo",
		schema: domain.RequirementSchema{},
		execute: func(context.Context, *domain.Task) (*domain.TaskResult, error) {
			panic("nil map write")
		},
	}

	result := Do(context.Background(), svc, validTask("echo", nil), testLogger())

	if result.Status != domain.TaskStatusFail {
		t.Fatalf("status = %s, want fail", result.Status)
	}
	if len(result.Result.Issues) != 1 || !strings.Contains(result.Result.Issues[0], "nil map write") {
		t.Errorf("issues = %v, want the panic message", result.Result.Issues)
	}
}

func TestDoFailsOnNilResult(t *testing.T) {
	svc := &scriptedService{
		name:   "echo",
		schema: domain.RequirementSchema{},
		execute: func(context.Context, *domain.Task) (*domain.TaskResult, error) {
			return nil, nil
		},
	}

	result := Do(context.Background(), svc, validTask("echo", nil), testLogger())

	if result.Status != domain.TaskStatusFail {
		t.Fatalf("status = %s, want fail for a nil result", result.Status)
	}
}

func TestDoFailsOnInvariantViolatingResult(t *testing.T) {
	svc := &scriptedService{
		name:   "echo",
		schema: domain.RequirementSchema{},
		execute: func(_ context.Context, task *domain.Task) (*domain.TaskResult, error) {
			// fail without issues violates the result contract
			return &domain.TaskResult{
				ID:        task.ID,
				RequestID: task.RequestID,
				Status:    domain.TaskStatusFail,
			}, nil
		},
	}

	result := Do(context.Background(), svc, validTask("echo", nil), testLogger())

	if result.Status != domain.TaskStatusFail {
		t.Fatalf("status = %s, want fail", result.Status)
	}
	if len(result.Result.Issues) == 0 {
		t.Error("sanitized result must carry an issue")
	}
}

func TestIPValidationService(t *testing.T) {
	svc := NewIPValidation()

	tests := []struct {
		ip      string
		valid   bool
		version int
	}{
		{"192.0.2.7", true, 4},
		{"2001:db8::1", true, 6},
		{"not-an-ip", false, 0},
	}
	for _, tt := range tests {
		task := validTask("ip-validation", map[string]any{"ip": tt.ip})
		result := Do(context.Background(), svc, task, testLogger())
		if result.Status != domain.TaskStatusDone {
			t.Fatalf("Do(%s) status = %s, want done", tt.ip, result.Status)
		}
		if got, _ := result.Result.Data["valid"].(bool); got != tt.valid {
			t.Errorf("valid(%s) = %v, want %v", tt.ip, got, tt.valid)
		}
		if tt.valid {
			if got, _ := result.Result.Data["version"].(int); got != tt.version {
				t.Errorf("version(%s) = %v, want %d", tt.ip, result.Result.Data["version"], tt.version)
			}
		}
	}
}

func TestMockWorkerBoom(t *testing.T) {
	svc := NewMockWorker()

	task := validTask("mock-worker", map[string]any{"payload": "x", "boom": true})
	result := Do(context.Background(), svc, task, testLogger())

	if result.Status != domain.TaskStatusFail {
		t.Fatalf("status = %s, want fail", result.Status)
	}
	if len(result.Result.Issues) != 1 || result.Result.Issues[0] != "boom" {
		t.Errorf("issues = %v, want [boom]", result.Result.Issues)
	}
}
