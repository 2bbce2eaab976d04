package domain

import (
	"context"
	"fmt"
	"time"
)

// ResultRecord is the audit trail entry a worker writes for one executed
// task. Unlike a TaskResult it carries execution metadata and survives
// batch resolution.
type ResultRecord struct {
	TaskID      string     `json:"task_id"`
	RequestID   string     `json:"request_id"`
	ServiceName string     `json:"service_name"`
	Status      TaskStatus `json:"status"`
	Issues      []string   `json:"issues,omitempty"`
	WorkerID    string     `json:"worker_id,omitempty"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
}

// Validate checks if the result record is valid.
func (r *ResultRecord) Validate() error {
	if r.TaskID == "" {
		return fmt.Errorf("result record task id cannot be empty")
	}
	if r.RequestID == "" {
		return fmt.Errorf("result record request id cannot be empty")
	}
	if r.ServiceName == "" {
		return fmt.Errorf("result record service name cannot be empty")
	}
	if r.StartTime.IsZero() {
		return fmt.Errorf("result record start time cannot be zero")
	}
	return nil
}

// ResultRecordRepository persists and retrieves per-task execution records.
type ResultRecordRepository interface {
	// Save persists a single record.
	Save(ctx context.Context, record *ResultRecord) error
	// ListByRequestID retrieves all records written for one batch.
	ListByRequestID(ctx context.Context, requestID string) ([]*ResultRecord, error)
}
