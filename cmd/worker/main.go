// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"batch-dispatch/internal/config"
	"batch-dispatch/internal/domain"
	"batch-dispatch/internal/infra/etcd"
	"batch-dispatch/internal/service"
	"batch-dispatch/internal/tracing"
	"batch-dispatch/internal/worker"

	"github.com/google/uuid"
)

func main() {
	// 1. Init logger, tracer, config
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer("batch-dispatch-worker")
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	workerID := uuid.New().String()
	hostname, _ := os.Hostname()
	log.Printf("Starting worker node %s on %s", workerID, hostname)

	// 2. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Setup graceful shutdown
	setupGracefulShutdown(cancel)

	// 4. Init etcd client
	etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
	if err != nil {
		log.Fatalf("Failed to create etcd client: %v", err)
	}
	defer etcdClient.Close()
	log.Println("Connected to etcd.")

	// 5. Register this worker in etcd
	registry := worker.NewRegistry(etcdClient, logger)
	regCtx, regCancel := context.WithTimeout(rootCtx, 5*time.Second)
	defer regCancel()
	if err := registry.Register(regCtx, workerID, hostname, cfg.WorkerTTL); err != nil {
		log.Fatalf("Failed to register worker: %v", err)
	}

	defer func() {
		deregCtx, deregCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer deregCancel()
		if err := registry.Deregister(deregCtx); err != nil {
			logger.Error("failed to deregister worker", "error", err)
		}
	}()

	// 6. Build the service registry this worker executes
	services, err := domain.NewServiceRegistry(
		service.NewIPValidation(),
		service.NewDomainLookup(),
		service.NewMockWorker(),
	)
	if err != nil {
		log.Fatalf("Failed to build service registry: %v", err)
	}

	// 7. Wire queue, event publisher, records, and run the consumer
	queue := etcd.NewEtcdTaskQueue(etcdClient, logger)
	stream := etcd.NewEtcdEventStream(etcdClient, logger)
	records := etcd.NewEtcdRecordRepository(etcdClient, logger)

	source, ok := queue.(domain.TaskSource)
	if !ok {
		log.Fatalf("task queue does not expose a task feed")
	}

	consumer := worker.NewConsumer(
		queue, source, stream, records, services,
		workerID, cfg.WorkerConcurrency, logger)

	log.Println("Worker consuming tasks.")
	if err := consumer.Run(rootCtx); err != nil && err != context.Canceled {
		logger.Error("consumer stopped", "error", err)
	}

	log.Println("Worker node shut down.")
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v. Initiating graceful shutdown...", sig)
		cancel()
	}()
}
