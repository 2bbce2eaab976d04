package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"batch-dispatch/internal/domain"
)

// fakeStream feeds hand-crafted events to the router under test.
type fakeStream struct {
	ch chan domain.QueueEvent
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan domain.QueueEvent, 64)}
}

func (f *fakeStream) Events(ctx context.Context) (<-chan domain.QueueEvent, error) {
	return f.ch, nil
}

func (f *fakeStream) emit(e domain.QueueEvent) {
	f.ch <- e
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startRouter(t *testing.T) (*Router, *fakeStream) {
	t.Helper()
	stream := newFakeStream()
	router := NewRouter(stream, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = router.Run(ctx) }()
	return router, stream
}

func makeBatch(requestID string, serviceByTask map[string]string) *domain.TaskBatch {
	b := &domain.TaskBatch{RequestID: requestID}
	for id, svc := range serviceByTask {
		b.Tasks = append(b.Tasks, domain.Task{
			ID:          id,
			RequestID:   requestID,
			ServiceName: svc,
			Data:        map[string]any{},
		})
	}
	return b
}

func completedEvent(requestID, taskID string, result *domain.TaskResult) domain.QueueEvent {
	return domain.QueueEvent{
		Kind:      domain.EventCompleted,
		TaskID:    taskID,
		RequestID: requestID,
		Result:    result,
	}
}

func awaitResult(t *testing.T, r *Resolver) (*domain.BatchResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Await(ctx)
}

// One task completes done, one fails with reason "boom"; the resolved
// batch carries both outcomes, keyed by service name.
func TestResolverMixedOutcomes(t *testing.T) {
	router, stream := startRouter(t)

	b := makeBatch("r1", map[string]string{
		"t1": "ip-validation",
		"t2": "mock-worker",
	})
	r, err := NewResolver(router, b, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	stream.emit(completedEvent("r1", "t1", &domain.TaskResult{
		ID:        "t1",
		RequestID: "r1",
		Status:    domain.TaskStatusDone,
		Result:    domain.ResultData{Data: map[string]any{"valid": true}},
	}))
	stream.emit(domain.QueueEvent{
		Kind:      domain.EventFailed,
		TaskID:    "t2",
		RequestID: "r1",
		Reason:    "boom",
	})

	result, err := awaitResult(t, r)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if len(result.Services) != 2 {
		t.Fatalf("got %d service entries, want 2", len(result.Services))
	}

	ip := result.Services["ip-validation"]
	if ip.ID != "t1" || ip.Status != domain.TaskStatusDone {
		t.Errorf("ip-validation = %+v, want done for t1", ip)
	}
	if valid, _ := ip.Result.Data["valid"].(bool); !valid {
		t.Errorf("ip-validation data = %v, want valid=true", ip.Result.Data)
	}

	mock := result.Services["mock-worker"]
	if mock.Status != domain.TaskStatusFail {
		t.Errorf("mock-worker status = %s, want fail", mock.Status)
	}
	if len(mock.Result.Issues) != 1 || mock.Result.Issues[0] != "boom" {
		t.Errorf("mock-worker issues = %v, want [boom]", mock.Result.Issues)
	}
}

// A full batch of completions resolves exactly once with one entry per
// service, even when every event is delivered twice.
func TestResolverResolvesOnceWithDuplicateDelivery(t *testing.T) {
	router, stream := startRouter(t)

	tasks := map[string]string{"a": "svc-a", "b": "svc-b", "c": "svc-c"}
	b := makeBatch("r2", tasks)
	r, err := NewResolver(router, b, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	for id := range tasks {
		ev := completedEvent("r2", id, &domain.TaskResult{
			ID:        id,
			RequestID: "r2",
			Status:    domain.TaskStatusDone,
			Result:    domain.ResultData{Data: map[string]any{}},
		})
		stream.emit(ev)
		stream.emit(ev) // at-least-once redelivery
	}

	result, err := awaitResult(t, r)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if len(result.Services) != len(tasks) {
		t.Fatalf("got %d entries, want %d", len(result.Services), len(tasks))
	}

	// A second Await must observe the same, already-terminal outcome.
	again, err := awaitResult(t, r)
	if err != nil || again != result {
		t.Fatalf("second Await = (%v, %v), want identical resolved result", again, err)
	}
}

// With no events, a 50ms batch resolves to a 504 at roughly 50ms and
// surfaces no partial state.
func TestResolverTimeout(t *testing.T) {
	router, stream := startRouter(t)

	b := makeBatch("r3", map[string]string{"t1": "svc-a", "t2": "svc-b"})
	r, err := NewResolver(router, b, 50*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	// One of two tasks completes; the collected outcome must be discarded.
	stream.emit(completedEvent("r3", "t1", &domain.TaskResult{
		ID:        "t1",
		RequestID: "r3",
		Status:    domain.TaskStatusDone,
		Result:    domain.ResultData{Data: map[string]any{}},
	}))

	start := time.Now()
	result, err := awaitResult(t, r)
	elapsed := time.Since(start)

	if result != nil {
		t.Fatalf("got partial result %+v, want none on timeout", result)
	}
	var be *domain.BatchError
	if !errors.As(err, &be) || be.Code != 504 {
		t.Fatalf("Await error = %v, want BatchError with code 504", err)
	}
	if elapsed > time.Second {
		t.Errorf("timeout took %v, expected ≪1s for a 50ms timer", elapsed)
	}
}

// Events after resolution, including a late timer-adjacent flood, must be
// no-ops; in particular a removed event for a task already recorded done.
func TestResolverRemovedAfterDoneIsNoOp(t *testing.T) {
	router, stream := startRouter(t)

	b := makeBatch("r4", map[string]string{"t1": "svc-a", "t2": "svc-b"})
	r, err := NewResolver(router, b, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	stream.emit(completedEvent("r4", "t1", &domain.TaskResult{
		ID:        "t1",
		RequestID: "r4",
		Status:    domain.TaskStatusDone,
		Result:    domain.ResultData{Data: map[string]any{}},
	}))
	// t1's natural completion preceded its removal from the queue.
	stream.emit(domain.QueueEvent{Kind: domain.EventRemoved, TaskID: "t1", RequestID: "r4"})
	// t2 was never recorded, so its removal counts as a failure.
	stream.emit(domain.QueueEvent{Kind: domain.EventRemoved, TaskID: "t2", RequestID: "r4"})

	result, err := awaitResult(t, r)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got := result.Services["svc-a"].Status; got != domain.TaskStatusDone {
		t.Errorf("svc-a status = %s, want done (removal after done is a no-op)", got)
	}
	if got := result.Services["svc-b"].Status; got != domain.TaskStatusFail {
		t.Errorf("svc-b status = %s, want fail (removal before completion)", got)
	}

	// Late events for a resolved batch must not disturb anything.
	stream.emit(domain.QueueEvent{Kind: domain.EventFailed, TaskID: "t1", RequestID: "r4", Reason: "late"})
	if got := result.Services["svc-a"].Status; got != domain.TaskStatusDone {
		t.Errorf("svc-a status mutated after resolution: %s", got)
	}
}

// Events belonging to a different batch, even ones reusing this batch's
// task ids, never affect an unrelated resolver.
func TestResolverCrossBatchIsolation(t *testing.T) {
	router, stream := startRouter(t)

	a := makeBatch("batch-a", map[string]string{"t1": "svc-a"})
	ra, err := NewResolver(router, a, 150*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("NewResolver(a): %v", err)
	}
	bb := makeBatch("batch-b", map[string]string{"t9": "svc-b"})
	rb, err := NewResolver(router, bb, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewResolver(b): %v", err)
	}

	// Wrong batch id entirely, and batch-b carrying batch-a's task id.
	stream.emit(completedEvent("someone-else", "t1", &domain.TaskResult{
		ID: "t1", RequestID: "someone-else", Status: domain.TaskStatusDone,
		Result: domain.ResultData{Data: map[string]any{}},
	}))
	stream.emit(completedEvent("batch-b", "t1", &domain.TaskResult{
		ID: "t1", RequestID: "batch-b", Status: domain.TaskStatusDone,
		Result: domain.ResultData{Data: map[string]any{}},
	}))

	// Resolver A saw nothing of its own and must time out.
	if _, err := awaitResult(t, ra); err == nil {
		t.Fatal("resolver a resolved from foreign events")
	}

	// Resolver B still resolves from its own task's event.
	stream.emit(completedEvent("batch-b", "t9", &domain.TaskResult{
		ID: "t9", RequestID: "batch-b", Status: domain.TaskStatusDone,
		Result: domain.ResultData{Data: map[string]any{}},
	}))
	result, err := awaitResult(t, rb)
	if err != nil {
		t.Fatalf("Await(b): %v", err)
	}
	if got := result.Services["svc-b"].Status; got != domain.TaskStatusDone {
		t.Errorf("svc-b status = %s, want done", got)
	}
}

// A resolver detaches from the router on resolution, freeing its request
// id for the (pathological) case of reuse.
func TestResolverDetachesOnTerminal(t *testing.T) {
	router, stream := startRouter(t)

	b := makeBatch("r5", map[string]string{"t1": "svc-a"})
	r, err := NewResolver(router, b, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	stream.emit(completedEvent("r5", "t1", &domain.TaskResult{
		ID: "t1", RequestID: "r5", Status: domain.TaskStatusDone,
		Result: domain.ResultData{Data: map[string]any{}},
	}))
	if _, err := awaitResult(t, r); err != nil {
		t.Fatalf("Await: %v", err)
	}

	if err := router.attach("r5", make(chan domain.QueueEvent)); err != nil {
		t.Errorf("request id still attached after resolution: %v", err)
	}
	router.detach("r5")
}

// Duplicate request ids are refused at construction.
func TestResolverDuplicateRequestID(t *testing.T) {
	router, _ := startRouter(t)

	b := makeBatch("r6", map[string]string{"t1": "svc-a"})
	r, err := NewResolver(router, b, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	defer r.Close()

	if _, err := NewResolver(router, b, time.Second, testLogger()); err == nil {
		t.Fatal("second resolver for the same request id was allowed")
	}
}
