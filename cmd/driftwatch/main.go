// Driftwatch server — ingests migration signals over HTTP and Kafka, runs
// the detection/analysis/decision pipeline, and executes remediations.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/commerceops/driftwatch/pkg/analyzer"
	"github.com/commerceops/driftwatch/pkg/api"
	"github.com/commerceops/driftwatch/pkg/audit"
	"github.com/commerceops/driftwatch/pkg/breaker"
	"github.com/commerceops/driftwatch/pkg/bus"
	"github.com/commerceops/driftwatch/pkg/cache"
	"github.com/commerceops/driftwatch/pkg/config"
	"github.com/commerceops/driftwatch/pkg/configmgr"
	"github.com/commerceops/driftwatch/pkg/decision"
	"github.com/commerceops/driftwatch/pkg/degradation"
	"github.com/commerceops/driftwatch/pkg/detector"
	"github.com/commerceops/driftwatch/pkg/executor"
	"github.com/commerceops/driftwatch/pkg/notify"
	"github.com/commerceops/driftwatch/pkg/orchestrator"
	"github.com/commerceops/driftwatch/pkg/platform"
	"github.com/commerceops/driftwatch/pkg/redaction"
	"github.com/commerceops/driftwatch/pkg/safemode"
	"github.com/commerceops/driftwatch/pkg/services"
	"github.com/commerceops/driftwatch/pkg/store"
	"github.com/commerceops/driftwatch/pkg/tickets"
	"github.com/commerceops/driftwatch/pkg/worker"
)

// dispatchMinConfidence is the pattern confidence floor below which the
// dispatch worker waits for the detector to republish with more evidence.
const dispatchMinConfidence = 0.7

// drainInterval is how often the drainer checks the degraded-mode buffer.
const drainInterval = 30 * time.Second

// calibrationInterval is how often confidence calibration drift is evaluated.
const calibrationInterval = time.Minute

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the process identifier for the drain lease.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	// Parse command-line flags
	configPath := flag.String("config",
		getEnv("DRIFTWATCH_CONFIG", "./deploy/driftwatch.yaml"),
		"Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	podID := resolvePodID()
	slog.Info("Starting driftwatch", "pod_id", podID, "config", *configPath)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(*configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database
	db, err := store.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Initialize Redis
	redisClient, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	slog.Info("Connected to Redis")

	// 4. Degradation tracking, circuit breakers, redaction, audit ledger
	tracker := degradation.NewTracker()
	breakers := breaker.NewRegistry(tracker.BreakerListener)
	redactor := redaction.NewService(cfg.Redaction)
	ledger := audit.NewLedger(db.Audit)
	notifier := notify.New(cfg.Slack)

	// 5. Safe mode: every state change lands on the audit trail and in Slack
	safeMode := safemode.NewManager(func(active bool, reason string) {
		if _, err := ledger.Record(ctx, "system", audit.EventSafeModeChanged, "safe_mode",
			map[string]any{"reason": reason},
			map[string]any{"active": active},
			"Safe mode state changed."); err != nil {
			slog.Error("Failed to record safe mode change", "error", err)
		}
		notifier.SafeModeChanged(ctx, active, reason)
	})
	safeDetector := safemode.NewDetector(cfg.SafeMode, safeMode)

	// Broker loss and compound outages trip the interlock through the same
	// detector the pipeline stages report to.
	tracker.OnEdge(func(dep string, degraded bool, totalDegraded int) {
		if !degraded {
			return
		}
		if dep == degradation.DepBus {
			safeDetector.ReportCriticalError("kafka_broker_unavailable")
		}
		if totalDegraded >= 2 {
			safeDetector.ReportCriticalError("multiple_service_failures")
		}
	})

	// 6. Event bus publisher
	publisher, err := bus.NewKafkaPublisher(cfg.Kafka)
	if err != nil {
		slog.Error("Failed to connect to Kafka", "brokers", cfg.Kafka.Brokers, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Error("Error closing Kafka publisher", "error", err)
		}
	}()

	// 7. Pipeline stages
	det := detector.New(cfg.Detection, db.Patterns, db.Signals, redisClient, publisher, tracker)

	llmClient, err := analyzer.NewAnthropicClient(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	anlz := analyzer.New(llmClient, breakers, tracker, redactor, safeDetector)
	engine := decision.New(cfg.Decision, safeMode)

	platformClient := platform.NewClient(cfg.Platform, breakers)
	cfgManager := configmgr.NewManager(platformClient, db.ConfigChanges)
	desk := tickets.NewClient(cfg.Support, breakers)

	exec := executor.New(cfg.Executor, executor.Deps{
		Desk:      desk,
		Mitigator: cfgManager,
		Messenger: platformClient,
		Gate:      redisClient,
		Ledger:    ledger,
		SafeMode:  safeMode,
		Volume:    safeDetector,
		Redactor:  redactor,
		Notifier:  notifier,
	})

	metrics := services.NewMetrics(db.Issues, db.Signals, safeDetector)

	orch := orchestrator.New(orchestrator.Deps{
		Issues:    db.Issues,
		Signals:   db.Signals,
		Analyzer:  anlz,
		Decider:   engine,
		Runner:    exec,
		Approvals: db.Approvals,
		Ledger:    ledger,
		Notifier:  notifier,
		Outcomes:  metrics,
	})
	slog.Info("Pipeline initialized", "model", cfg.LLM.Model)

	// 8. Consumer groups and background loops
	ingest := worker.NewIngest(db.Signals, det, safeDetector)
	ingestConsumer, err := bus.NewConsumer(cfg.Kafka, cfg.Kafka.IngestGroup, cfg.Kafka.SignalsTopic, ingest.Handle)
	if err != nil {
		slog.Error("Failed to join ingest consumer group", "error", err)
		os.Exit(1)
	}
	defer ingestConsumer.Close()

	dispatch := worker.NewDispatch(orch, dispatchMinConfidence, cfg.Detection.MinFrequencyCount)
	dispatchConsumer, err := bus.NewConsumer(cfg.Kafka, cfg.Kafka.DetectGroup, cfg.Kafka.PatternsTopic, dispatch.Handle)
	if err != nil {
		slog.Error("Failed to join dispatch consumer group", "error", err)
		os.Exit(1)
	}
	defer dispatchConsumer.Close()

	drainer := worker.NewDrainer(redisClient, publisher, tracker, podID, drainInterval)

	runCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	var wg sync.WaitGroup
	runConsumer := func(name string, c *bus.Consumer) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Consumer loop exited", "consumer", name, "error", err)
			}
		}()
	}
	runConsumer("ingest", ingestConsumer)
	runConsumer("dispatch", dispatchConsumer)

	wg.Add(1)
	go func() {
		defer wg.Done()
		det.Run(runCtx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		drainer.Run(runCtx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		metrics.Run(runCtx, calibrationInterval)
	}()
	slog.Info("Workers started",
		"signals_topic", cfg.Kafka.SignalsTopic, "patterns_topic", cfg.Kafka.PatternsTopic)

	// 9. HTTP API
	ingestion := services.NewIngestion(publisher, redisClient, tracker)
	approvals := services.NewApprovals(db.Approvals, db.Issues, exec, ledger)
	issues := services.NewIssues(db.Issues, ledger)

	httpServer := api.NewServer(cfg, api.Deps{
		Ingestion: ingestion,
		Approvals: approvals,
		Issues:    issues,
		Metrics:   metrics,
		SafeMode:  safeMode,
		Tracker:   tracker,
		Breakers:  breakers,
		DB:        db.DB(),
	})

	// 10. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Driftwatch started successfully", "pod_id", podID)

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: drain workers first, then the HTTP listener
	cancelWorkers()

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
		slog.Info("Workers stopped gracefully")
	case <-time.After(cfg.Server.ShutdownTimeout):
		slog.Warn("Worker shutdown timeout exceeded")
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	slog.Info("Shutdown complete")
}
