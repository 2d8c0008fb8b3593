// AuditWatch - case detection and audit pipeline for financial crime review.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/auditwatch/auditwatch/internal/api"
	"github.com/auditwatch/auditwatch/internal/bus"
	"github.com/auditwatch/auditwatch/internal/cache"
	"github.com/auditwatch/auditwatch/internal/casefile"
	"github.com/auditwatch/auditwatch/internal/collab"
	"github.com/auditwatch/auditwatch/internal/domain"
	"github.com/auditwatch/auditwatch/internal/ledger"
	"github.com/auditwatch/auditwatch/internal/narrative"
	"github.com/auditwatch/auditwatch/internal/patterns"
	"github.com/auditwatch/auditwatch/internal/pipeline"
	"github.com/auditwatch/auditwatch/internal/typology"
	"github.com/auditwatch/auditwatch/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := domain.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting auditwatch",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"ledger", cfg.Ledger.Driver,
		"cache", cfg.Cache.Type,
		"bus", cfg.Bus.Type,
		"generator", generatorName(cfg),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Durable ledger store plus in-memory mirror behind the failover front.
	durable, err := ledger.NewSQLStore(cfg.Ledger)
	if err != nil {
		slog.Error("failed to open durable ledger store", "error", err)
		os.Exit(1)
	}
	led := ledger.NewFailover(durable, ledger.NewMemStore(), logger)
	defer led.Close()
	slog.Info("audit ledger initialized", "driver", cfg.Ledger.Driver)

	// Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Event bus
	busImpl, err := bus.New(cfg.Bus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.Bus.Type)

	// Pattern engine with the builtin indicator battery plus any
	// operator-defined CEL rules from the config.
	engine := patterns.NewEngine()
	if err := engine.RegisterAll(patterns.BuiltinRules(cfg.Rules)); err != nil {
		slog.Error("failed to register indicator rules", "error", err)
		os.Exit(1)
	}
	celRules, err := patterns.CompileCELRules(cfg.Rules.CELRules)
	if err != nil {
		slog.Error("failed to compile configured CEL rules", "error", err)
		os.Exit(1)
	}
	if err := engine.RegisterAll(celRules); err != nil {
		slog.Error("failed to register configured CEL rules", "error", err)
		os.Exit(1)
	}
	slog.Info("pattern engine initialized",
		"rules_count", engine.RuleCount(),
		"cel_rules", len(celRules))

	// Template retriever, cached.
	retriever := collab.NewCachedRetriever(collab.NewMemoryRetriever(), cacheImpl, cfg.Cache.TTL, logger)

	// Narrative generator. Without an inference endpoint the composed
	// fallback narrative is the only generator.
	var generator narrative.Generator
	if cfg.Collab.GeneratorURL != "" {
		generator = narrative.NewOllamaGenerator(cfg.Collab.GeneratorURL, cfg.Collab.GeneratorModel, cfg.Collab.GenerateTimeout)
	} else {
		generator = narrative.NewComposer()
	}

	// Register pipeline stages.
	stages := &pipeline.Stages{
		Parser:     casefile.NewParser(cfg.AnonymizePII),
		Engine:     engine,
		Classifier: typology.NewClassifier(),
		Retriever:  retriever,
		Generator:  generator,
	}
	registry := pipeline.NewRegistry()
	if err := stages.Register(registry); err != nil {
		slog.Error("failed to register pipeline stages", "error", err)
		os.Exit(1)
	}

	// Direct mode routes stage calls in-process. Task-message mode binds
	// every capability to a bus subject and routes through request-reply,
	// so stages can be relocated to separate processes.
	var router pipeline.Router
	if strings.EqualFold(os.Getenv("AUDITWATCH_TASK_DISPATCH"), "bus") {
		subs, err := pipeline.BindRegistry(ctx, busImpl, registry)
		if err != nil {
			slog.Error("failed to bind capabilities to bus", "error", err)
			os.Exit(1)
		}
		defer func() {
			for _, sub := range subs {
				_ = sub.Unsubscribe()
			}
		}()
		router = pipeline.NewBusRouter(busImpl)
		slog.Info("task dispatch mode: bus", "capabilities", len(registry.Capabilities()))
	} else {
		router = pipeline.NewLocalRouter(registry)
		slog.Info("task dispatch mode: direct")
	}

	dispatcher := pipeline.NewDispatcher(router, led, durable, cfg, logger)

	// Async worker for queued submissions.
	w := worker.New(busImpl, dispatcher, worker.Config{}, logger)
	if err := w.Start(); err != nil {
		slog.Error("failed to start worker", "error", err)
		os.Exit(1)
	}
	slog.Info("async worker started")

	// HTTP API
	handler := api.NewHandler(dispatcher, led, durable, busImpl, cacheImpl, Version)
	srv := api.NewServer(cfg.Server, handler)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("auditwatch is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the worker first so in-flight runs finish their audit trails.
	if err := w.Stop(); err != nil {
		slog.Error("failed to stop worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("auditwatch shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func generatorName(cfg *domain.Config) string {
	if cfg.Collab.GeneratorURL != "" {
		return "ollama"
	}
	return "composer"
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  AuditWatch - case detection and audit pipeline")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /cases                    - Run the pipeline on a case")
	fmt.Println("    POST /cases/submit             - Queue a case for async processing")
	fmt.Println("    GET  /cases/{id}/audit         - Fetch the audit trail")
	fmt.Println("    GET  /cases/{id}/audit/export  - Export the trail (structured|tabular)")
	fmt.Println("    GET  /cases/{id}/result        - Fetch the case result")
	fmt.Println("    POST /cases/{id}/approve       - Approve the narrative")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}
