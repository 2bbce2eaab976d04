// internal/infra/etcd/etcd_event_stream.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"batch-dispatch/internal/domain"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// EventDir is the etcd prefix carrying queue lifecycle events. Every
	// gateway watches it; workers and the reaper publish to it.
	EventDir = "/dispatch/events/"
	// EventTTL expires published events so the prefix does not grow
	// without bound. Consumers see events through the watch, not the
	// stored keys, so expiry never loses a delivery.
	EventTTL = 300 // seconds
)

type EventStream struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdEventStream creates the shared completion/failure/removal stream
// backed by an etcd watch on EventDir.
func NewEtcdEventStream(client *clientv3.Client, logger *slog.Logger) *EventStream {
	return &EventStream{
		client: client,
		logger: logger.With("component", "etcd-event-stream"),
		tracer: otel.Tracer("batch-dispatch-etcd-events"),
	}
}

// Publish writes one event under a fresh lease-backed key.
func (s *EventStream) Publish(ctx context.Context, event domain.QueueEvent) error {
	ctx, span := s.tracer.Start(ctx, "events.etcd.Publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.kind", string(event.Kind)),
		attribute.String("task.id", event.TaskID),
	)

	if err := event.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal queue event for task %s: %w", event.TaskID, err)
	}

	lease, err := s.client.Grant(ctx, EventTTL)
	if err != nil {
		return fmt.Errorf("failed to grant event lease: %w", err)
	}

	key := EventDir + uuid.NewString()
	if _, err := s.client.Put(ctx, key, string(payload), clientv3.WithLease(lease.ID)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put event to etcd")
		return fmt.Errorf("failed to publish %s event for task %s: %w", event.Kind, event.TaskID, err)
	}
	return nil
}

// Events opens the watch and returns the decoded stream. The channel is
// closed when ctx is cancelled or the watch ends.
func (s *EventStream) Events(ctx context.Context) (<-chan domain.QueueEvent, error) {
	watchChan := s.client.Watch(ctx, EventDir, clientv3.WithPrefix())
	out := make(chan domain.QueueEvent, 256)

	go func() {
		defer close(out)
		for watchResp := range watchChan {
			if err := watchResp.Err(); err != nil {
				s.logger.Error("event watch failed", "error", err)
				return
			}
			for _, ev := range watchResp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				var event domain.QueueEvent
				if err := json.Unmarshal(ev.Kv.Value, &event); err != nil {
					s.logger.Warn("failed to unmarshal queue event", "key", string(ev.Kv.Key), "error", err)
					continue
				}
				if err := event.Validate(); err != nil {
					s.logger.Warn("dropping malformed queue event", "key", string(ev.Kv.Key), "error", err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
