package domain

import "fmt"

// TaskStatus is the terminal status of one unit of work.
type TaskStatus string

const (
	TaskStatusDone   TaskStatus = "done"
	TaskStatusFail   TaskStatus = "fail"
	TaskStatusReject TaskStatus = "reject"
)

// Task is one unit of work dispatched to the shared queue. One task is
// created per requested service per inbound request; it is immutable once
// queued.
type Task struct {
	ID          string         `json:"id"`
	RequestID   string         `json:"request_id"`
	ServiceName string         `json:"service_name"`
	Data        map[string]any `json:"data,omitempty"`
}

// Validate checks the identity fields every queued task must carry.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id cannot be empty")
	}
	if t.RequestID == "" {
		return fmt.Errorf("task request id cannot be empty")
	}
	if t.ServiceName == "" {
		return fmt.Errorf("task service name cannot be empty")
	}
	return nil
}

// ResultData is the payload half of a TaskResult: Data when the task
// succeeded, Issues when it was rejected or failed. The two are mutually
// exclusive.
type ResultData struct {
	Data   map[string]any `json:"data,omitempty"`
	Issues []string       `json:"issues,omitempty"`
}

// TaskResult is the outcome of processing one task. It is never mutated
// after creation; use the constructors below so the status/payload
// invariant cannot be violated.
type TaskResult struct {
	ID        string     `json:"id"`
	RequestID string     `json:"request_id"`
	Status    TaskStatus `json:"status"`
	Result    ResultData `json:"result"`
}

// DoneResult builds a successful outcome carrying service-defined data.
func DoneResult(task *Task, data map[string]any) *TaskResult {
	return &TaskResult{
		ID:        task.ID,
		RequestID: task.RequestID,
		Status:    TaskStatusDone,
		Result:    ResultData{Data: data},
	}
}

// FailResult builds a processing-failure outcome from one or more issues.
func FailResult(task *Task, issues ...string) *TaskResult {
	return &TaskResult{
		ID:        task.ID,
		RequestID: task.RequestID,
		Status:    TaskStatusFail,
		Result:    ResultData{Issues: issues},
	}
}

// RejectResult builds a validation-rejection outcome from one or more issues.
func RejectResult(task *Task, issues ...string) *TaskResult {
	return &TaskResult{
		ID:        task.ID,
		RequestID: task.RequestID,
		Status:    TaskStatusReject,
		Result:    ResultData{Issues: issues},
	}
}

// Validate checks the status/payload invariant: done never carries issues,
// fail and reject always carry at least one.
func (r *TaskResult) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("task result id cannot be empty")
	}
	if r.RequestID == "" {
		return fmt.Errorf("task result request id cannot be empty")
	}
	switch r.Status {
	case TaskStatusDone:
		if len(r.Result.Issues) > 0 {
			return fmt.Errorf("done result for task %s must not carry issues", r.ID)
		}
	case TaskStatusFail, TaskStatusReject:
		if len(r.Result.Issues) == 0 {
			return fmt.Errorf("%s result for task %s must carry at least one issue", r.Status, r.ID)
		}
	default:
		return fmt.Errorf("invalid task status: %s", r.Status)
	}
	return nil
}

// TaskBatch is the set of tasks issued together for one inbound request.
// It lives in memory only for the duration of resolution and is owned by
// exactly one resolver.
type TaskBatch struct {
	RequestID string `json:"request_id"`
	Tasks     []Task `json:"tasks"`
}

// Validate checks batch identity and that every task belongs to the batch.
func (b *TaskBatch) Validate() error {
	if b.RequestID == "" {
		return fmt.Errorf("batch request id cannot be empty")
	}
	if len(b.Tasks) == 0 {
		return fmt.Errorf("batch %s must contain at least one task", b.RequestID)
	}
	for i := range b.Tasks {
		if err := b.Tasks[i].Validate(); err != nil {
			return err
		}
		if b.Tasks[i].RequestID != b.RequestID {
			return fmt.Errorf("task %s belongs to request %s, not batch %s",
				b.Tasks[i].ID, b.Tasks[i].RequestID, b.RequestID)
		}
	}
	return nil
}

// ServiceOutcome is one service's entry in a resolved batch, keyed by
// service name in BatchResult.
type ServiceOutcome struct {
	ID     string     `json:"id"`
	Status TaskStatus `json:"status"`
	Result ResultData `json:"result"`
}

// BatchResult is the aggregate outcome of a fully resolved batch.
type BatchResult struct {
	RequestID string                    `json:"request_id"`
	Services  map[string]ServiceOutcome `json:"services"`
}
