// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts HTTP requests handled by the gateway.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// BatchesStartedTotal counts batches handed to a resolver.
	BatchesStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batches_started_total",
			Help: "Total number of task batches dispatched to the queue.",
		},
	)

	// BatchesResolvedTotal counts terminal resolver transitions by path.
	BatchesResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batches_resolved_total",
			Help: "Total number of batch resolutions, by terminal state (done/timeout).",
		},
		[]string{"state"},
	)

	// QueueEventsTotal counts lifecycle events seen on the shared stream.
	QueueEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_events_total",
			Help: "Total number of queue lifecycle events consumed, by kind.",
		},
		[]string{"kind"},
	)

	// TasksExecutedTotal counts task executions on the worker, by outcome.
	TasksExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_executed_total",
			Help: "Total number of task executions, by service and status.",
		},
		[]string{"service", "status"},
	)

	// TasksReapedTotal counts stale tasks removed from the queue.
	TasksReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasks_reaped_total",
			Help: "Total number of stale tasks removed from the queue by the reaper.",
		},
	)

	// WorkersAvailable tracks the size of the registered worker fleet as
	// seen by this gateway.
	WorkersAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workers_available",
			Help: "Number of workers currently registered in etcd.",
		},
	)
)
