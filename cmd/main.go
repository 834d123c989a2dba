package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/proxy-scraper-checker/internal/api"
	"github.com/proxy-scraper-checker/internal/config"
	"github.com/proxy-scraper-checker/internal/metrics"
	"github.com/proxy-scraper-checker/internal/pipeline"
	"github.com/proxy-scraper-checker/internal/snapshot"
	"github.com/proxy-scraper-checker/internal/storage"
	"github.com/proxy-scraper-checker/internal/writer"
	log "github.com/sirupsen/logrus"
)

const version = "1.0.0"

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
	log.Infof("Starting proxy scraper-checker v%s", version)

	configPath := "config.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	applyLogging(cfg.Logging)

	// Set GOMAXPROCS to use all available CPUs
	numCPU := runtime.NumCPU()
	runtime.GOMAXPROCS(numCPU)
	log.Infof("GOMAXPROCS set to %d", numCPU)

	metricsCollector := metrics.NewCollector(cfg.Metrics.Namespace)

	out, err := writer.New(cfg.Output)
	if err != nil {
		log.Fatalf("Failed to prepare output directories: %v", err)
	}
	defer out.Close()

	pipe, err := pipeline.New(cfg, metricsCollector, out)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}

	if cfg.Run.IntervalSeconds == 0 {
		runOnce(cfg, pipe, out)
		return
	}

	runService(cfg, metricsCollector, pipe)
}

func applyLogging(cfg config.LoggingConfig) {
	if cfg.Format == "text" {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if level, err := log.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
}

// runOnce executes a single check cycle and exits. Output goes to the
// result files only; storage and the API never come up.
func runOnce(cfg *config.Config, pipe *pipeline.Pipeline, out *writer.Writer) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Interrupt received, stopping run...")
		cancel()
	}()

	if _, err := pipe.Run(ctx); err != nil {
		log.Fatalf("Check cycle failed: %v", err)
	}

	for category, lines := range out.Counts() {
		log.Infof("Wrote %d lines under %s/%s", lines, cfg.Output.Path, category)
	}
}

// runService runs check cycles on an interval and serves the HTTP API until
// a shutdown signal arrives.
func runService(cfg *config.Config, collector *metrics.Collector, pipe *pipeline.Pipeline) {
	store, err := storage.NewStorage(cfg.Storage.Type, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	snapshotMgr := snapshot.NewManager(store, cfg.Storage.PersistIntervalSeconds)
	defer snapshotMgr.Close()

	if err := snapshotMgr.LoadFromStorage(); err != nil {
		log.Warnf("Failed to load existing snapshot: %v (starting fresh)", err)
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runLoop(ctx, pipe, snapshotMgr, cfg.Run.IntervalSeconds)

	apiServer := api.NewServer(cfg, snapshotMgr, collector, pipe)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	log.Infof("Service started on %s, checking every %ds", cfg.API.Addr, cfg.Run.IntervalSeconds)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("API server shutdown error: %v", err)
	}

	log.Info("Shutdown complete")
}

func runLoop(ctx context.Context, pipe *pipeline.Pipeline, snap *snapshot.Manager, intervalSeconds int) {
	// Run immediately on startup
	runCycle(ctx, pipe, snap)

	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Check loop stopped")
			return
		case <-ticker.C:
			runCycle(ctx, pipe, snap)
		}
	}
}

func runCycle(ctx context.Context, pipe *pipeline.Pipeline, snap *snapshot.Manager) {
	result, err := pipe.Run(ctx)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrWrite):
			log.Fatalf("Output write failed: %v", err)
		case errors.Is(err, pipeline.ErrBusy):
			log.Warn("Skipping cycle: previous one still running")
		case ctx.Err() != nil:
			// Shutting down
		default:
			log.Errorf("Check cycle failed: %v", err)
		}
		return
	}

	snap.Update(result)
	logMemStats()
}

func logMemStats() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	log.Infof("Memory: Alloc=%dMB, TotalAlloc=%dMB, Sys=%dMB, NumGC=%d, Goroutines=%d",
		m.Alloc/1024/1024, m.TotalAlloc/1024/1024, m.Sys/1024/1024, m.NumGC, runtime.NumGoroutine())
}
