// internal/gateway/discovery.go
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"batch-dispatch/internal/metrics"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	// WorkerRegistryPrefix is the etcd prefix where workers register themselves.
	WorkerRegistryPrefix = "/dispatch/workers/"
)

// WorkerDiscovery tracks the registered worker fleet so the gateway can
// log membership changes and export fleet size. Dispatch itself never
// targets a worker; the queue does the distribution.
type WorkerDiscovery struct {
	client  *clientv3.Client
	logger  *slog.Logger
	workers map[string]string // map of workerID -> hostname
	mu      sync.RWMutex
}

// NewWorkerDiscovery creates a new discovery service.
func NewWorkerDiscovery(client *clientv3.Client, logger *slog.Logger) *WorkerDiscovery {
	return &WorkerDiscovery{
		client:  client,
		logger:  logger.With("component", "worker-discovery"),
		workers: make(map[string]string),
	}
}

// WatchWorkers starts watching etcd for worker registrations and deregistrations.
// This is a blocking call and should be run in a goroutine.
func (d *WorkerDiscovery) WatchWorkers(ctx context.Context) {
	d.logger.Info("starting to watch for workers")

	// 1. Initial load of all existing workers
	if err := d.loadInitialWorkers(ctx); err != nil {
		d.logger.Error("failed to perform initial worker load", "error", err)
	}

	// 2. Set up a watch for future changes
	watchChan := d.client.Watch(ctx, WorkerRegistryPrefix, clientv3.WithPrefix())

	for watchResp := range watchChan {
		for _, event := range watchResp.Events {
			workerID := string(event.Kv.Key)
			hostname := string(event.Kv.Value)

			d.mu.Lock()
			switch event.Type {
			case clientv3.EventTypePut:
				// A new worker registered or an existing one's lease was updated
				if _, ok := d.workers[workerID]; !ok {
					d.logger.Info("new worker discovered", "id", workerID, "host", hostname)
				}
				d.workers[workerID] = hostname
			case clientv3.EventTypeDelete:
				// A worker deregistered (lease expired or graceful shutdown)
				d.logger.Info("worker deregistered", "id", workerID, "host", d.workers[workerID])
				delete(d.workers, workerID)
			}
			metrics.WorkersAvailable.Set(float64(len(d.workers)))
			d.mu.Unlock()
		}
	}
	d.logger.Info("stopped watching for workers")
}

func (d *WorkerDiscovery) loadInitialWorkers(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := d.client.Get(ctx, WorkerRegistryPrefix, clientv3.WithPrefix())
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, kv := range resp.Kvs {
		workerID := string(kv.Key)
		hostname := string(kv.Value)
		d.logger.Info("found existing worker", "id", workerID, "host", hostname)
		d.workers[workerID] = hostname
	}
	metrics.WorkersAvailable.Set(float64(len(d.workers)))
	return nil
}

// WorkerCount returns the number of currently registered workers.
func (d *WorkerDiscovery) WorkerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.workers)
}
