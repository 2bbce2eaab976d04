// internal/batch/router.go
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"batch-dispatch/internal/domain"
	"batch-dispatch/internal/metrics"
)

// Router multiplexes the shared event stream across all active resolvers.
// It consumes the stream exactly once and dispatches each event to the
// owning resolver through a request-id index, so per-event cost stays O(1)
// regardless of how many batches are in flight.
type Router struct {
	stream domain.EventStream
	logger *slog.Logger

	mu        sync.RWMutex
	resolvers map[string]chan<- domain.QueueEvent
}

// NewRouter creates a router over the given stream. Run must be started
// before any resolver is constructed.
func NewRouter(stream domain.EventStream, logger *slog.Logger) *Router {
	return &Router{
		stream:    stream,
		logger:    logger.With("component", "batch-router"),
		resolvers: make(map[string]chan<- domain.QueueEvent),
	}
}

// Run consumes the event stream until ctx is cancelled or the stream ends.
// This is a blocking call and should be run in a goroutine.
func (r *Router) Run(ctx context.Context) error {
	events, err := r.stream.Events(ctx)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	r.logger.Info("routing queue events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				r.logger.Info("event stream closed")
				return nil
			}
			r.dispatch(event)
		}
	}
}

// dispatch hands the event to the resolver owning its batch. Events for
// unknown batches (already resolved, or another gateway's) are dropped
// after the O(1) lookup.
func (r *Router) dispatch(event domain.QueueEvent) {
	metrics.QueueEventsTotal.WithLabelValues(string(event.Kind)).Inc()

	r.mu.RLock()
	ch, ok := r.resolvers[event.RequestID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	// Non-blocking: a resolver that stopped draining (terminal transition
	// racing a burst) must not stall delivery to every other batch. The
	// per-resolver buffer is sized so this only drops events the resolver
	// no longer needs.
	select {
	case ch <- event:
	default:
		r.logger.Warn("dropping queue event for saturated resolver",
			"request_id", event.RequestID, "task_id", event.TaskID, "kind", event.Kind)
	}
}

// attach registers a resolver's inbox for its request id. It fails if the
// id is already claimed, which would indicate a duplicate batch.
func (r *Router) attach(requestID string, ch chan<- domain.QueueEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.resolvers[requestID]; dup {
		return fmt.Errorf("resolver for request %s already attached", requestID)
	}
	r.resolvers[requestID] = ch
	return nil
}

// detach removes a resolver's inbox. Safe to call for an id that was
// already detached.
func (r *Router) detach(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resolvers, requestID)
}
