// ServiceNow change-management adapter
//
// Fetches the first record of a ServiceNow table through the Table API and
// reports how the call turned out: success, transport error, status error or
// hibernating instance.
//
// # Usage
//
//	adapter [flags]
//
//	Flags:
//	  -config string     Path to config YAML file (default "config.yaml")
//	  -table string      Table to fetch from (default "change_request")
//	  -interval duration Repeat the fetch on this interval; 0 fetches once (default 0)
//	  -env-file string   Optional dotenv file loaded before the config
//	  -version           Print version information and exit
//
// # Modes
//
// With -interval 0 the adapter performs one fetch, prints the response body to
// stdout on success and exits 0. Any other outcome is logged and the exit code
// is 1.
//
// With a positive -interval the adapter serves /healthz, /readyz, /metrics and
// /status and repeats the fetch until SIGINT/SIGTERM. Each attempt is a fresh
// request. Editing the config file restarts the run with the new settings.
//
// Logs are JSON on stderr so that stdout carries only the fetched body.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/RaikaSurendra/servicenow-change-adapter/internal/config"
	"github.com/RaikaSurendra/servicenow-change-adapter/internal/kafka"
	"github.com/RaikaSurendra/servicenow-change-adapter/internal/observability"
	"github.com/RaikaSurendra/servicenow-change-adapter/internal/report"
	"github.com/RaikaSurendra/servicenow-change-adapter/internal/servicenow"
	"github.com/RaikaSurendra/servicenow-change-adapter/internal/status"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration YAML file")
	table := flag.String("table", "change_request", "ServiceNow table to fetch the first record from")
	interval := flag.Duration("interval", 0, "Repeat the fetch on this interval; 0 fetches once")
	envFile := flag.String("env-file", "", "Optional dotenv file loaded before the configuration")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("servicenow-change-adapter %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := newLogger(os.Stderr, "info")
	slog.SetDefault(logger)

	if *envFile != "" {
		if err := config.LoadEnvFile(*envFile); err != nil {
			logger.Error("failed to load env file", "path", *envFile, "error", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger = newLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	if *interval <= 0 {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		code := runOnce(ctx, cfg, *table, os.Stdout, logger)
		stop()
		os.Exit(code)
	}

	logger.Info("starting servicenow-change-adapter",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
		"table", *table,
		"interval", interval.String(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	reloadCh := make(chan struct{}, 1)
	go watchConfig(ctx, *configPath, reloadCh, logger)

	for {
		runCtx, runCancel := context.WithCancel(ctx)

		errCh := make(chan error, 1)
		go func() {
			errCh <- run(runCtx, *configPath, *table, *interval, logger)
		}()

		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			runCancel()
			cancel()
			<-errCh
			logger.Info("adapter shutdown complete")
			return
		case <-reloadCh:
			logger.Info("reloading configuration...")
			runCancel()
			if err := <-errCh; err != nil && err != context.Canceled {
				logger.Error("previous run exited with error on reload", "error", err)
			}
			logger.Info("restarting with new configuration")
		case err := <-errCh:
			runCancel()
			if err != nil && err != context.Canceled {
				logger.Error("adapter exited with error", "error", err)
				os.Exit(1)
			}
			logger.Info("adapter shutdown complete")
			return
		}
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// watchConfig uses fsnotify to watch the config file for changes.
func watchConfig(ctx context.Context, path string, reloadCh chan<- struct{}, logger *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create config watcher", "error", err)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(path); err != nil {
		logger.Error("failed to watch config file", "path", path, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// Some editors replace the file instead of writing it in place.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				logger.Info("config file changed", "event", event.Name)
				select {
				case reloadCh <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}

// runOnce performs a single fetch and returns the process exit code. Nothing
// serves /status in this mode, so the outcome is kept in memory only.
func runOnce(ctx context.Context, cfg *config.Config, table string, out io.Writer, logger *slog.Logger) int {
	a, err := newAdapter(cfg, status.NewMemoryStore(), logger)
	if err != nil {
		logger.Error("failed to initialize adapter", "error", err)
		return 1
	}
	defer a.Close()

	outcome := a.probe(ctx, table)
	if !outcome.OK() {
		logger.Error("fetch failed",
			"table", table,
			"outcome", outcome.Kind().String(),
			"error", outcome.Err(),
		)
		return 1
	}

	if _, err := fmt.Fprintln(out, string(outcome.Response().Body)); err != nil {
		logger.Error("failed to write response body", "error", err)
		return 1
	}
	return 0
}

// run repeats the fetch on interval until ctx is cancelled. It is separated
// from main() so that a config reload can start it again.
func run(ctx context.Context, configPath, table string, interval time.Duration, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration from %s: %w", configPath, err)
	}

	store, err := status.NewFileStore(cfg.Status.FilePath)
	if err != nil {
		return fmt.Errorf("initializing status store: %w", err)
	}

	a, err := newAdapter(cfg, store, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	obsSrv := observability.NewServer(cfg.Observability.Addr, store, logger)
	defer obsSrv.SetReady(false)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return obsSrv.Start(gCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Status.FlushInterval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				if err := store.Flush(); err != nil {
					logger.Error("status flush failed", "error", err)
				}
			}
		}
	})

	g.Go(func() error {
		return probeLoop(gCtx, a, table, interval)
	})

	obsSrv.SetReady(true)
	logger.Info("adapter is ready",
		"table", table,
		"report_enabled", cfg.Report.Enabled,
		"observability_addr", cfg.Observability.Addr,
	)

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// probeLoop fetches immediately and then once per interval.
func probeLoop(ctx context.Context, a *adapter, table string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		outcome := a.probe(ctx, table)
		if outcome.OK() {
			a.logger.Info("fetch succeeded", "table", table, "status", outcome.StatusCode())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// adapter ties one fetcher to its status store and optional outcome reporting.
type adapter struct {
	fetcher   *servicenow.Fetcher
	store     status.Store
	publisher *report.KafkaPublisher
	producer  *kafka.Producer
	logger    *slog.Logger
}

// newAdapter takes ownership of store and closes it on every error path.
func newAdapter(cfg *config.Config, store status.Store, logger *slog.Logger) (*adapter, error) {
	a := &adapter{
		fetcher: servicenow.NewFetcher(cfg.ServiceNow, logger,
			servicenow.WithRateLimiter(cfg.ServiceNow.RateLimitRPS)),
		store:  store,
		logger: logger.With("component", "adapter"),
	}

	if !cfg.Report.Enabled {
		return a, nil
	}

	var encoder report.Encoder = report.JSONEncoder{}
	var err error
	if cfg.Report.Format == "avro" {
		encoder, err = report.NewAvroEncoder(kafka.NewHTTPRegistryClient(cfg.Kafka.SchemaRegistryURL), cfg.Report.Topic)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("creating avro encoder: %w", err)
		}
	}

	a.producer, err = kafka.NewProducer(cfg.Kafka, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating Kafka producer: %w", err)
	}
	a.publisher = report.NewKafkaPublisher(a.producer, encoder, cfg.Report.Topic, logger)

	return a, nil
}

// probe fetches once, records the outcome and reports it. Status and report
// failures are logged and never change the returned outcome. Outcomes that
// complete after ctx is cancelled are neither recorded nor reported.
func (a *adapter) probe(ctx context.Context, table string) servicenow.Outcome {
	outcome := a.fetcher.FetchFirstRecord(ctx, table)
	if ctx.Err() != nil {
		a.logger.Debug("fetch interrupted by shutdown", "table", table, "outcome", outcome.Kind().String())
		return outcome
	}
	now := time.Now()

	if err := a.store.Set(table, status.EntryFromOutcome(outcome, now)); err != nil {
		a.logger.Error("failed to record status", "table", table, "error", err)
	}

	if a.publisher != nil {
		// Publish errors are already logged and counted by the publisher.
		_ = a.publisher.Publish(ctx, report.FromOutcome(table, outcome, now))
	}

	return outcome
}

// Close flushes the status store and closes the Kafka producer.
func (a *adapter) Close() {
	if a.producer != nil {
		a.producer.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("final status flush failed", "error", err)
	}
}
