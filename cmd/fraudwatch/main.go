// Fraudwatch - Rule-based fraud evaluation for payment transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/fraudwatch/internal/api"
	"github.com/opensource-finance/fraudwatch/internal/bus"
	"github.com/opensource-finance/fraudwatch/internal/config"
	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/metricstore"
	"github.com/opensource-finance/fraudwatch/internal/repository"
	"github.com/opensource-finance/fraudwatch/internal/rules"
	"github.com/opensource-finance/fraudwatch/internal/scheduler"
	"github.com/opensource-finance/fraudwatch/internal/telemetry"
	"github.com/opensource-finance/fraudwatch/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	cfg, err := config.Load(os.Getenv("FRAUDWATCH_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting fraudwatch",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"rules_source", cfg.Rules.Source,
		"metrics_store", cfg.MetricsStore.Type,
		"eventbus", cfg.EventBus.Type,
		"tracing", cfg.Tracing.Enabled,
		"tracing_sample_ratio", cfg.Tracing.SampleRatio,
	)

	// Spans go to stderr so they stay apart from the JSON logs on stdout.
	shutdownTracing, err := telemetry.InitTracing(cfg.Tracing, os.Stderr)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Rules come from the database (editable through the API) or from a
	// read-only YAML file.
	var ruleStore domain.RuleStore = repo
	var ruleWriter domain.RuleWriter = repo
	if cfg.Rules.Source == "file" {
		ruleStore = repository.NewFileRuleStore(cfg.Rules.File)
		ruleWriter = nil
	}

	engine, err := rules.NewEngine(ruleStore, nil)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := engine.ReloadRules(ctx); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount(), "source", cfg.Rules.Source)

	metricsStore, err := metricstore.New(cfg.MetricsStore, repo)
	if err != nil {
		slog.Error("failed to initialize metrics store", "error", err)
		os.Exit(1)
	}
	var sched *scheduler.Scheduler
	if metricsStore != nil {
		if c, ok := metricsStore.(io.Closer); ok && metricsStore != domain.MetricsStore(repo) {
			defer c.Close()
		}
		if persisted, err := metricsStore.LoadMetrics(ctx); err != nil {
			slog.Warn("failed to load persisted rule metrics", "error", err)
		} else {
			engine.Recorder().Seed(persisted)
			slog.Info("rule metrics restored", "rules", len(persisted))
		}

		sched = scheduler.New(engine.Recorder(), metricsStore)
		if err := sched.Start(cfg.MetricsStore.FlushSchedule); err != nil {
			slog.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
	}

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	pipeline := worker.NewPipeline(engine, repo, busImpl)

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, pipeline)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Engine:     engine,
		Pipeline:   pipeline,
		Repo:       repo,
		RuleWriter: ruleWriter,
		Bus:        busImpl,
		Metrics:    telemetry.NewRegistry(telemetry.NewRuleCollector(engine, engine.RulesCount)),
		Version:    Version,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("fraudwatch is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}
	// Last: flushes metrics from requests drained above.
	if sched != nil {
		sched.Stop()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("fraudwatch shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  FRAUDWATCH  rule-based transaction screening")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Rules:    %s\n", cfg.Rules.Source)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /evaluate                   - Evaluate a transaction")
	fmt.Println("    POST   /transactions               - Queue a transaction for the worker")
	fmt.Println("    GET    /evaluations/{txId}         - Stored verdict")
	fmt.Println("    GET    /evaluations/{txId}/alerts  - Alerts raised for a transaction")
	fmt.Println("    GET    /rules                      - Active rules")
	fmt.Println("    POST   /rules                      - Create or update a rule")
	fmt.Println("    DELETE /rules/{id}                 - Deactivate a rule")
	fmt.Println("    POST   /rules/reload               - Reload rules from the store")
	fmt.Println("    GET    /rules/metrics              - Per-rule evaluation metrics")
	fmt.Println("    GET    /metrics                    - Prometheus metrics")
	fmt.Println("    GET    /health                     - Health check")
	fmt.Println()
}
