// internal/infra/etcd/etcd_task_queue.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"batch-dispatch/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TaskQueueDir is the etcd prefix under which queued tasks live, one
	// key per task: /dispatch/tasks/{requestID}/{taskID}.
	TaskQueueDir = "/dispatch/tasks/"
	// ClaimDir holds lease-backed claim keys, one per claimed task.
	ClaimDir = "/dispatch/claims/"
	// ClaimTTL bounds how long a crashed worker's claim survives.
	ClaimTTL = 60 // seconds
)

type etcdTaskQueue struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdTaskQueue creates the shared work queue backed by etcd. Workers
// see enqueued tasks through a watch on TaskQueueDir; claims are etcd
// leases, so a dead worker's tasks become reclaimable when its lease
// expires.
func NewEtcdTaskQueue(client *clientv3.Client, logger *slog.Logger) domain.TaskQueue {
	return &etcdTaskQueue{
		client: client,
		logger: logger.With("component", "etcd-task-queue"),
		tracer: otel.Tracer("batch-dispatch-etcd-queue"),
	}
}

func taskKey(task *domain.Task) string {
	return path.Join(TaskQueueDir, task.RequestID, task.ID)
}

func claimKey(taskID string) string {
	return ClaimDir + taskID
}

// Enqueue makes the task visible to the worker fleet.
func (q *etcdTaskQueue) Enqueue(ctx context.Context, task *domain.Task) error {
	ctx, span := q.tracer.Start(ctx, "queue.etcd.Enqueue")
	defer span.End()

	if err := task.Validate(); err != nil {
		return err
	}

	queued := domain.QueuedTask{Task: *task, EnqueuedAt: time.Now()}
	payload, err := json.Marshal(queued)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}

	key := taskKey(task)
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("request.id", task.RequestID),
		attribute.String("etcd.key", key),
	)

	if _, err := q.client.Put(ctx, key, string(payload)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put task to etcd")
		return fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// Claim takes exclusive ownership of the task by creating its claim key
// under a fresh lease. The create-revision guard makes the claim
// first-writer-wins across the fleet.
func (q *etcdTaskQueue) Claim(ctx context.Context, task *domain.Task) (domain.Claim, error) {
	ctx, span := q.tracer.Start(ctx, "queue.etcd.Claim")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", task.ID))

	lease, err := q.client.Grant(ctx, ClaimTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to grant claim lease for task %s: %w", task.ID, err)
	}

	ck := claimKey(task.ID)
	txn, err := q.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(ck), "=", 0)).
		Then(clientv3.OpPut(ck, "", clientv3.WithLease(lease.ID))).
		Commit()
	if err != nil {
		_, _ = q.client.Revoke(ctx, lease.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim transaction failed")
		return nil, fmt.Errorf("claim transaction for task %s failed: %w", task.ID, err)
	}
	if !txn.Succeeded {
		_, _ = q.client.Revoke(ctx, lease.ID)
		return nil, domain.ErrTaskNotClaimed
	}

	return &etcdClaim{queue: q, task: task, leaseID: lease.ID}, nil
}

// Pending lists queued tasks older than the given age whose claim key is
// gone. Used by the reaper only.
func (q *etcdTaskQueue) Pending(ctx context.Context, olderThan time.Duration) ([]domain.QueuedTask, error) {
	ctx, span := q.tracer.Start(ctx, "queue.etcd.Pending")
	defer span.End()

	claims, err := q.client.Get(ctx, ClaimDir, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	claimed := make(map[string]bool, len(claims.Kvs))
	for _, kv := range claims.Kvs {
		claimed[string(kv.Key)] = true
	}

	resp, err := q.client.Get(ctx, TaskQueueDir, clientv3.WithPrefix())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list queued tasks")
		return nil, fmt.Errorf("failed to list queued tasks: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	var stale []domain.QueuedTask
	for _, kv := range resp.Kvs {
		var queued domain.QueuedTask
		if err := json.Unmarshal(kv.Value, &queued); err != nil {
			q.logger.Warn("failed to unmarshal queued task", "key", string(kv.Key), "error", err)
			continue
		}
		if queued.EnqueuedAt.After(cutoff) || claimed[claimKey(queued.Task.ID)] {
			continue
		}
		stale = append(stale, queued)
	}
	span.SetAttributes(attribute.Int("stale_count", len(stale)))
	return stale, nil
}

// Remove deletes a task and any stale claim from the queue.
func (q *etcdTaskQueue) Remove(ctx context.Context, task *domain.Task) error {
	ctx, span := q.tracer.Start(ctx, "queue.etcd.Remove")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", task.ID))

	if _, err := q.client.Delete(ctx, taskKey(task)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete task from etcd")
		return fmt.Errorf("failed to remove task %s: %w", task.ID, err)
	}
	if _, err := q.client.Delete(ctx, claimKey(task.ID)); err != nil {
		return fmt.Errorf("failed to remove claim for task %s: %w", task.ID, err)
	}
	return nil
}

// Watch feeds workers every task already queued plus each new enqueue.
// The channel is closed when ctx is cancelled or the watch ends.
func (q *etcdTaskQueue) Watch(ctx context.Context) (<-chan domain.Task, error) {
	out := make(chan domain.Task, 64)

	// Snapshot before watching so tasks enqueued while the worker was
	// down are still offered.
	resp, err := q.client.Get(ctx, TaskQueueDir, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to load queued tasks: %w", err)
	}
	watchChan := q.client.Watch(ctx, TaskQueueDir,
		clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))

	go func() {
		defer close(out)
		for _, kv := range resp.Kvs {
			if task, ok := q.decode(kv.Key, kv.Value); ok {
				select {
				case out <- task:
				case <-ctx.Done():
					return
				}
			}
		}
		for watchResp := range watchChan {
			if err := watchResp.Err(); err != nil {
				q.logger.Error("task watch failed", "error", err)
				return
			}
			for _, ev := range watchResp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				if task, ok := q.decode(ev.Kv.Key, ev.Kv.Value); ok {
					select {
					case out <- task:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

func (q *etcdTaskQueue) decode(key, value []byte) (domain.Task, bool) {
	var queued domain.QueuedTask
	if err := json.Unmarshal(value, &queued); err != nil {
		q.logger.Warn("failed to unmarshal queued task", "key", string(key), "error", err)
		return domain.Task{}, false
	}
	return queued.Task, true
}

// etcdClaim implements domain.Claim on top of one lease.
type etcdClaim struct {
	queue   *etcdTaskQueue
	task    *domain.Task
	leaseID clientv3.LeaseID
}

// Release deletes the task and drops the claim lease. Called after the
// task's outcome has been published.
func (c *etcdClaim) Release(ctx context.Context) error {
	if _, err := c.queue.client.Delete(ctx, taskKey(c.task)); err != nil {
		return fmt.Errorf("failed to delete task %s on release: %w", c.task.ID, err)
	}
	if _, err := c.queue.client.Revoke(ctx, c.leaseID); err != nil {
		return fmt.Errorf("failed to revoke claim lease for task %s: %w", c.task.ID, err)
	}
	return nil
}
