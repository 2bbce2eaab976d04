// cmd/gateway/main.go
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	http_api "batch-dispatch/internal/api/http"
	"batch-dispatch/internal/batch"
	"batch-dispatch/internal/config"
	"batch-dispatch/internal/domain"
	"batch-dispatch/internal/gateway"
	"batch-dispatch/internal/infra/etcd"
	"batch-dispatch/internal/reaper"
	"batch-dispatch/internal/service"
	"batch-dispatch/internal/tracing"
	"batch-dispatch/internal/usecase"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// corsMiddleware wraps an http.Handler with CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // For local dev, allow all origins
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	// 1. Initialize logger and tracer
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer("batch-dispatch-gateway")
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	log.Println("Starting batch dispatch gateway node...")

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	nodeID := uuid.New().String()
	log.Printf("Node ID: %s", nodeID)

	// 3. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Setup graceful shutdown
	setupGracefulShutdown(cancel)

	// 5. Init etcd client
	etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
	if err != nil {
		log.Fatalf("Failed to create etcd client: %v", err)
	}
	defer etcdClient.Close()
	log.Println("Connected to etcd.")

	// 6. Service registry: the gateway only needs requirement schemas, but
	// registering the full implementations keeps gateway and worker
	// deployments from drifting apart.
	registry, err := domain.NewServiceRegistry(
		service.NewIPValidation(),
		service.NewDomainLookup(),
		service.NewMockWorker(),
	)
	if err != nil {
		log.Fatalf("Failed to build service registry: %v", err)
	}

	// 7. Queue, event stream, and the shared batch router
	stream := etcd.NewEtcdEventStream(etcdClient, logger)
	queue := etcd.NewEtcdTaskQueue(etcdClient, logger)
	records := etcd.NewEtcdRecordRepository(etcdClient, logger)

	router := batch.NewRouter(stream, logger)
	go func() {
		if err := router.Run(rootCtx); err != nil && err != context.Canceled {
			logger.Error("batch router stopped", "error", err)
		}
	}()

	// 8. Worker discovery (fleet visibility) and the elected reaper
	discovery := gateway.NewWorkerDiscovery(etcdClient, logger)
	go discovery.WatchWorkers(rootCtx)

	queueReaper, err := reaper.New(queue, stream, cfg.ReaperSchedule, cfg.TaskTTL, logger)
	if err != nil {
		log.Fatalf("Failed to create queue reaper: %v", err)
	}
	leaderManager := etcd.NewEtcdLeaderElectionManager(etcdClient, nodeID, cfg.LeaderElectionTTL, logger)
	leaderService := usecase.NewLeaderService(leaderManager, queueReaper, nodeID, logger)
	go func() {
		if err := leaderService.Start(rootCtx); err != nil && err != context.Canceled {
			logger.Error("leader service stopped", "error", err)
		}
	}()

	// 9. Dispatch service and HTTP surface
	dispatchService := usecase.NewDispatchService(
		registry, queue, router, records, cfg.DefaultServices, cfg.BatchTimeout, logger)
	handler := http_api.NewDispatchHandler(dispatchService, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    cfg.HttpListenAddr,
		Handler: corsMiddleware(mux),
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HttpListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 10. Block until shutdown signal
	<-rootCtx.Done()
	log.Println("Shutting down gateway node gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	log.Println("Gateway node shut down.")
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
