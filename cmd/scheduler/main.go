package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/metronome/internal/config"
	"github.com/muaviaUsmani/metronome/internal/cronexpr"
	"github.com/muaviaUsmani/metronome/internal/dispatch"
	"github.com/muaviaUsmani/metronome/internal/engine"
	"github.com/muaviaUsmani/metronome/internal/executor"
	"github.com/muaviaUsmani/metronome/internal/logger"
	"github.com/muaviaUsmani/metronome/internal/outcome"
	"github.com/muaviaUsmani/metronome/internal/store"
)

// connectWithRetry attempts to connect to Redis with exponential backoff
func connectWithRetry(redisURL string, maxRetries int, log logger.Logger) (*redis.Client, error) {
	var client *redis.Client
	var err error

	for attempt := 0; attempt < maxRetries; attempt++ {
		client, err = store.Connect(redisURL)
		if err == nil {
			return client, nil
		}

		// Exponential backoff delay: 2^attempt seconds (max 30 seconds)
		delay := time.Duration(1<<uint(attempt)) * time.Second
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}

		log.Warn("Failed to connect to Redis, retrying",
			"attempt", attempt+1,
			"max_attempts", maxRetries,
			"error", err,
			"retry_in", delay)

		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries, err)
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	// Set as default logger
	logger.SetDefault(log)

	mainLog := log.WithComponent(logger.ComponentDispatcher).WithSource(logger.LogSourceInternal)

	mainLog.Info("Scheduler starting",
		"redis_url", cfg.RedisURL,
		"dispatch_interval", cfg.DispatchInterval,
		"executor_concurrency", cfg.ExecutorConcurrency,
		"agent_runner_url", cfg.AgentRunnerURL)

	// Start pprof server on separate port for profiling
	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6062"
	}
	go func() {
		mainLog.Info("Starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
		if err := http.ListenAndServe(":"+pprofPort, nil); err != nil {
			mainLog.Error("pprof server failed", "error", err)
		}
	}()

	// Connect to Redis with retry logic
	redisClient, err := connectWithRetry(cfg.RedisURL, 5, mainLog)
	if err != nil {
		mainLog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	mainLog.Info("Successfully connected to Redis")

	// Wire the engine: one store and one engine instance shared by the
	// dispatcher and the executor (no ambient globals)
	scheduleStore := store.NewRedisStore(redisClient)
	eval := cronexpr.NewEvaluator()
	eng := engine.New(scheduleStore, eval)

	var outcomes outcome.Backend
	if cfg.OutcomeBackendEnabled {
		outcomes = outcome.NewRedisBackend(redisClient, cfg.OutcomeTTLSuccess, cfg.OutcomeTTLFailure)
	}

	runner := executor.NewHTTPRunner(cfg.AgentRunnerURL, cfg.AgentRunnerTimeout)

	dispatcher := dispatch.NewDispatcher(scheduleStore, eval, redisClient, cfg.DispatchInterval, cfg.ExecutionBuffer)
	dispatcher.SetLockTTL(cfg.DispatchLockTTL)

	exec := executor.NewExecutor(runner, eng, outcomes, dispatcher.Executions(), cfg.ExecutorConcurrency, cfg.RunTimeout)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exec.Start(ctx)

	dispatcherDone := make(chan struct{})
	go func() {
		dispatcher.Start(ctx)
		close(dispatcherDone)
	}()

	sig := <-sigChan
	mainLog.Info("Shutdown signal received", "signal", sig.String())

	// Stop scheduling new ticks; the dispatcher closes the executions
	// channel and the executor drains in-flight and enqueued work
	cancel()
	<-dispatcherDone
	exec.Wait()

	mainLog.Info("Scheduler stopped")
}
