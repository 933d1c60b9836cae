package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"marketintel/internal/adapters/config"
	"marketintel/internal/adapters/errors/noop"
	"marketintel/internal/adapters/errors/sentry"
	"marketintel/internal/bootstrap"
	"marketintel/internal/metrics"
	"marketintel/pkg/errors"
	"marketintel/pkg/logger"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	var opts cliOptions
	var listModels bool
	flag.StringVar(&opts.subject, "subject", "", "run one analysis for this company, print the report and exit")
	flag.StringVar(&opts.industry, "industry", "", "industry context for the one-shot run")
	flag.Float64Var(&opts.budget, "budget", 0, "budget ceiling in USD for the one-shot run (default from config)")
	flag.StringVar(&opts.model, "model", "", "model override for the one-shot run")
	flag.StringVar(&opts.resume, "resume", "", "resume a suspended run by ID and exit")
	flag.IntVar(&opts.fromSeq, "from", 0, "with -resume, replay from this checkpoint sequence instead of the latest")
	flag.BoolVar(&opts.history, "history", false, "list stored runs and exit")
	flag.BoolVar(&listModels, "models", false, "list available models with pricing and exit")
	flag.Parse()

	if listModels {
		printModels(os.Stdout)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s %s in %s mode", cfg.App.Name, version, cfg.App.Env)

	if err := cfg.Validate(); err != nil {
		log.Fatalw("Invalid configuration", "error", err)
	}

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	metrics.Init()

	container, err := bootstrap.Build(cfg, errorTracker, version)
	if err != nil {
		log.Fatalw("Failed to build application", "error", err)
	}

	if opts.oneShot() {
		os.Exit(runOnce(container, opts))
	}

	serve(container, log)
}

// serve runs the HTTP server and background workers until a shutdown signal.
func serve(container *bootstrap.Container, log *logger.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := container.Start(ctx); err != nil {
		log.Fatalw("Failed to start application", "error", err)
	}

	cfg := container.Config
	log.Infow("System initialized",
		"addr", cfg.App.HTTPAddr,
		"storage", cfg.Storage.Driver,
		"model", cfg.AI.DefaultModel,
		"auto_approve", cfg.Pipeline.AutoApprove,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Infow("Shutdown signal received", "signal", sig.String())

	cancel()
	container.Shutdown()
}

// initErrorTracker initializes error tracking (Sentry or no-op).
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}
