// internal/infra/etcd/etcd_record_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"batch-dispatch/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// RecordDir holds per-task execution records, keyed as
	// /dispatch/records/{requestID}/{taskID}.
	RecordDir = "/dispatch/records/"
)

type etcdRecordRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdRecordRepository creates a repository for task execution records
// backed by etcd.
func NewEtcdRecordRepository(client *clientv3.Client, logger *slog.Logger) domain.ResultRecordRepository {
	return &etcdRecordRepository{
		client: client,
		logger: logger,
		tracer: otel.Tracer("batch-dispatch-etcd-records"),
	}
}

// Save persists a single execution record to etcd.
func (r *etcdRecordRepository) Save(ctx context.Context, record *domain.ResultRecord) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveRecord")
	defer span.End()

	if err := record.Validate(); err != nil {
		return err
	}

	recordJSON, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal result record")
		return fmt.Errorf("failed to marshal record for task %s: %w", record.TaskID, err)
	}

	key := path.Join(RecordDir, record.RequestID, record.TaskID)
	span.SetAttributes(
		attribute.String("task.id", record.TaskID),
		attribute.String("request.id", record.RequestID),
		attribute.String("etcd.key", key),
	)

	if _, err := r.client.Put(ctx, key, string(recordJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put result record to etcd")
		return fmt.Errorf("failed to save record for task %s: %w", record.TaskID, err)
	}
	return nil
}

// ListByRequestID retrieves all records written for one batch, oldest
// first.
func (r *etcdRecordRepository) ListByRequestID(ctx context.Context, requestID string) ([]*domain.ResultRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListRecords")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID))

	prefix := path.Join(RecordDir, requestID) + "/"
	resp, err := r.client.Get(ctx, prefix,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list result records from etcd")
		return nil, fmt.Errorf("failed to list records for request %s: %w", requestID, err)
	}

	records := make([]*domain.ResultRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var record domain.ResultRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			r.logger.Warn("failed to unmarshal result record from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		records = append(records, &record)
	}
	span.SetAttributes(attribute.Int("records_returned", len(records)))
	return records, nil
}
