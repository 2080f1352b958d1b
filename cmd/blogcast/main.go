// Blogcast core — accepts blog URLs over HTTP, runs the script, audio,
// slides and video stages through a worker pool, and serves the finished
// videos.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/blogcast/blogcast/pkg/admission"
	"github.com/blogcast/blogcast/pkg/api"
	"github.com/blogcast/blogcast/pkg/cleanup"
	"github.com/blogcast/blogcast/pkg/clock"
	"github.com/blogcast/blogcast/pkg/config"
	"github.com/blogcast/blogcast/pkg/pipeline"
	"github.com/blogcast/blogcast/pkg/probe"
	"github.com/blogcast/blogcast/pkg/queue"
	"github.com/blogcast/blogcast/pkg/stages"
	"github.com/blogcast/blogcast/pkg/store"
	"github.com/blogcast/blogcast/pkg/version"
)

// resolveWorkerID determines the worker identifier written into claimed
// records. Priority: WORKER_ID env > HOSTNAME env > "local"
func resolveWorkerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	workerID := resolveWorkerID()
	slog.Info("Starting blogcast",
		"version", version.Full(),
		"worker_id", workerID,
		"server_enabled", cfg.HTTP.ServerEnabled,
		"worker_enabled", cfg.Queue.WorkerEnabled,
		"data_root", cfg.DataRoot)

	if !cfg.HTTP.ServerEnabled && !cfg.Queue.WorkerEnabled {
		slog.Error("Nothing to do: both SERVER_ENABLED and WORKER_ENABLED are false")
		os.Exit(1)
	}

	ctx := context.Background()
	clk := clock.New()
	st := store.New(cfg.Store)

	// Worker role: orphan recovery, then worker pool and expiry reaper.
	var pool *queue.Pool
	var reaper *cleanup.Service
	if cfg.Queue.WorkerEnabled {
		recovered, err := queue.RecoverStuckJobs(ctx, st, clk)
		if err != nil {
			slog.Error("Startup recovery failed", "error", err)
			// Non-fatal — stuck jobs stay visible and the next restart retries.
		} else if recovered > 0 {
			slog.Info("Recovered stuck jobs from previous run", "count", recovered)
		}

		runner := pipeline.NewRunner(stages.New(), st, cfg.Pipeline, cfg.DataRoot, clk)
		pool = queue.NewPool(workerID, st, cfg.Queue, runner, clk)
		pool.Start(ctx)

		reaper = cleanup.NewService(st, cfg.Retention, cfg.DataRoot, clk)
		reaper.Start(ctx)
	}

	// Server role: admission controller and HTTP API.
	var server *api.Server
	errCh := make(chan error, 1)
	if cfg.HTTP.ServerEnabled {
		prober := probe.New(cfg.Probe)
		controller := admission.NewController(st, prober, cfg.Admission, clk)

		var poolSurface api.WorkerPool
		if pool != nil {
			poolSurface = pool
		}
		server = api.NewServer(st, controller, poolSurface, clk, cfg.DataRoot)

		go func() {
			addr := ":" + cfg.HTTP.Port
			slog.Info("HTTP server listening", "addr", addr)
			if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown incomplete", "error", err)
		}
	}

	if pool != nil {
		done := make(chan struct{})
		go func() {
			pool.Stop()
			close(done)
		}()
		select {
		case <-done:
			slog.Info("Worker pool stopped gracefully")
		case <-shutdownCtx.Done():
			slog.Warn("Worker pool shutdown timeout exceeded")
		}
	}
	if reaper != nil {
		reaper.Stop()
	}

	slog.Info("Shutdown complete")
}
