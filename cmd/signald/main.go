// Signald discovers credible voices in a public feed network, tracks their
// credibility and publishes consensus signals.
//
// Configuration is read from an optional YAML file, an optional .env file in
// the working directory and SIGNALD_-prefixed environment variables. See
// internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	signald
//
//	# Start with a config file
//	signald -config /etc/signald/config.yaml
//
//	# Override via environment
//	SIGNALD_SERVER_HTTP_PORT=9292 SIGNALD_STORE_DRIVER=sqlite signald
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/signald/internal/breaker"
	"github.com/fyrsmithlabs/signald/internal/config"
	"github.com/fyrsmithlabs/signald/internal/consensus"
	"github.com/fyrsmithlabs/signald/internal/credibility"
	"github.com/fyrsmithlabs/signald/internal/discovery"
	"github.com/fyrsmithlabs/signald/internal/feed"
	"github.com/fyrsmithlabs/signald/internal/governor"
	httpserver "github.com/fyrsmithlabs/signald/internal/http"
	"github.com/fyrsmithlabs/signald/internal/ingest"
	"github.com/fyrsmithlabs/signald/internal/logging"
	"github.com/fyrsmithlabs/signald/internal/oracle"
	"github.com/fyrsmithlabs/signald/internal/publish"
	"github.com/fyrsmithlabs/signald/internal/retry"
	"github.com/fyrsmithlabs/signald/internal/scheduler"
	"github.com/fyrsmithlabs/signald/internal/store"
	"github.com/fyrsmithlabs/signald/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("SIGNALD_CONFIG"), "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  signald [-config file]   Start the signald daemon\n")
			fmt.Fprintf(os.Stderr, "  signald version          Show version information\n")
			os.Exit(1)
		}
	}

	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ignoring .env: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("signald by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every component and blocks until ctx is cancelled.
//
//  1. Loads configuration
//  2. Initializes logger and telemetry
//  3. Opens the store and builds the call executor
//  4. Builds the pipelines and registers their loops
//  5. Serves the HTTP API until shutdown
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zl := logger.Underlying()

	logger.Info(ctx, "starting signald",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("oracle", cfg.Oracle.Provider),
		logging.Secret("oracle_api_key", cfg.Oracle.APIKey),
		zap.String("publish", cfg.Publish.Driver),
		zap.Bool("telemetry", tel.Enabled()))
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("error", h.LastError))
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	comps, err := buildComponents(cfg, st, tel, zl)
	if err != nil {
		return err
	}
	defer comps.sink.Close()

	if n, err := comps.discovery.SeedApproved(ctx, cfg.Discovery.Seeds); err != nil {
		logger.Warn(ctx, "seeding approved identities failed", zap.Error(err))
	} else if n > 0 {
		logger.Info(ctx, "seeded approved identities", zap.Int("count", n))
	}

	sched := scheduler.New(scheduler.WithLogger(zl))
	for _, job := range jobs(cfg.Scheduler, comps) {
		if err := sched.Add(job); err != nil {
			return fmt.Errorf("failed to register job: %w", err)
		}
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Discovery: comps.discovery,
		Consensus: comps.consensus,
		Quotas:    comps.governor,
		Circuits:  comps.breakers,
		Loops:     sched,
		Telemetry: tel,
	}, zl, &httpserver.Config{Host: "localhost", Port: cfg.Server.Port})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "http shutdown incomplete", zap.Error(err))
	}
	return nil
}

// initLogger builds the structured logger. Telemetry adds the OTEL bridge.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	lc.Format = cfg.Logging.Format
	lc.Service = cfg.Telemetry.ServiceName

	if cfg.Telemetry.Enabled {
		lc.OTEL = true
		return logging.NewLogger(lc, global.GetLoggerProvider())
	}
	return logging.NewLogger(lc, nil)
}

// components holds everything the loops and the API drive.
type components struct {
	governor  *governor.Governor
	breakers  *breaker.Registry
	executor  *retry.Executor
	poller    *ingest.Poller
	discovery *discovery.Pipeline
	tracker   *credibility.Tracker
	consensus *consensus.Detector
	sink      publish.Sink
	digest    *publish.Digest
}

func buildComponents(cfg *config.Config, st store.Store, tel *telemetry.Telemetry, logger *zap.Logger) (*components, error) {
	windows := make([]governor.Window, 0, len(cfg.Quotas))
	for _, q := range cfg.Quotas {
		windows = append(windows, governor.Window{Resource: q.Resource, Window: q.Window.Duration(), Limit: q.Limit})
	}
	gov, err := governor.New(windows, governor.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate governor: %w", err)
	}

	breakers := newBreakers(cfg.Breakers, logger)
	exec := newExecutor(cfg.Retry, gov, breakers, tel, logger)

	src, err := feed.NewRSS(cfg.Feed)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed source: %w", err)
	}
	cls, err := oracle.New(cfg.Oracle, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle: %w", err)
	}

	dcfg, err := discovery.ConfigFrom(cfg.Discovery)
	if err != nil {
		return nil, fmt.Errorf("invalid discovery config: %w", err)
	}
	ccfg := consensus.ConfigFrom(cfg.Consensus)
	det := consensus.New(st, ccfg, consensus.WithLogger(logger))

	sink, err := newSink(cfg.Publish, logger)
	if err != nil {
		return nil, err
	}

	poller := ingest.NewPoller(st, src, exec, cfg.Retry.BatchConcurrency, logger,
		ingest.WithRetention(cfg.Store.ObservationRetention.Duration()))

	return &components{
		governor:  gov,
		breakers:  breakers,
		executor:  exec,
		poller:    poller,
		discovery: discovery.New(dcfg, st, src, cls, exec, discovery.WithLogger(logger)),
		tracker:   credibility.New(st, cfg.Credibility.Alpha, credibility.WithLogger(logger)),
		consensus: det,
		sink:      sink,
		digest:    publish.NewDigest(det, sink, exec, ccfg.Topics, ccfg.Window, logger),
	}, nil
}

func newBreakers(cfg config.BreakersConfig, logger *zap.Logger) *breaker.Registry {
	opts := []breaker.RegistryOption{breaker.WithLogger(logger)}
	for dep := range cfg.Dependencies {
		opts = append(opts, breaker.WithOverride(dep, breakerConfig(cfg.For(dep))))
	}
	return breaker.NewRegistry(breakerConfig(cfg.Default), opts...)
}

func breakerConfig(c config.BreakerConfig) breaker.Config {
	return breaker.Config{FailureThreshold: c.FailureThreshold, ResetTimeout: c.ResetTimeout.Duration()}
}

func newExecutor(cfg config.RetryConfig, gov *governor.Governor, breakers *breaker.Registry, tel *telemetry.Telemetry, logger *zap.Logger) *retry.Executor {
	opts := []retry.Option{
		retry.WithLogger(logger),
		retry.WithTracer(tel.Tracer("signald/retry")),
		retry.WithDefaultPolicy(policy(cfg.Default)),
	}
	for dep := range cfg.Dependencies {
		opts = append(opts, retry.WithPolicy(dep, policy(cfg.For(dep))))
	}
	return retry.NewExecutor(gov, breakers, opts...)
}

func policy(c config.RetryPolicyConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:   c.MaxAttempts,
		InitialDelay:  c.InitialDelay.Duration(),
		MaxDelay:      c.MaxDelay.Duration(),
		Multiplier:    c.Multiplier,
		JitterPercent: c.JitterPercent,
		MinDelay:      c.MinDelay.Duration(),
		Timeout:       c.Timeout.Duration(),
	}
}

func newSink(cfg config.PublishConfig, logger *zap.Logger) (publish.Sink, error) {
	switch cfg.Driver {
	case "", "log":
		return publish.NewLogSink(logger), nil
	case "nats":
		sink, err := publish.DialNATS(cfg.URL, cfg.SubjectPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown publish driver %q", cfg.Driver)
	}
}

// jobs returns the enabled background loops.
func jobs(cfg config.SchedulerConfig, c *components) []scheduler.Job {
	all := []struct {
		name string
		cfg  config.JobConfig
		run  func(context.Context) error
	}{
		{"discovery", cfg.Discovery, c.discovery.Run},
		{"ingest", cfg.Ingest, c.poller.Run},
		{"credibility", cfg.Credibility, c.tracker.Run},
		{"consensus-snapshot", cfg.Snapshot, c.consensus.SnapshotAll},
		{"digest", cfg.Digest, c.digest.Run},
	}

	out := make([]scheduler.Job, 0, len(all))
	for _, j := range all {
		if j.cfg.Disabled {
			continue
		}
		out = append(out, scheduler.Job{
			Name:         j.name,
			Interval:     j.cfg.Interval.Duration(),
			ErrorBackoff: j.cfg.ErrorBackoff.Duration(),
			Jitter:       j.cfg.Jitter.Duration(),
			Run:          j.run,
		})
	}
	return out
}
