// Package main is the entry point for the flowstate runner.
//
// The runner loads Lua module scripts, enables them, then reads actions
// from standard input, one per line:
//
//	counter increment 2
//	counter rename "total"
//	state counter
//
// After each action it waits for effects to settle and prints the
// module's state as JSON.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dshills/flowstate/internal/config"
	"github.com/dshills/flowstate/internal/logging"
	"github.com/dshills/flowstate/internal/metrics"
	"github.com/dshills/flowstate/internal/script"
	"github.com/dshills/flowstate/internal/script/watcher"
	"github.com/dshills/flowstate/internal/store"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath string
	scriptsDir string
	logLevel   string
	watch      bool
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.scriptsDir != "" {
		cfg.Scripts.Dir = opts.scriptsDir
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.watch {
		cfg.Scripts.Watch = true
	}

	logger := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    logging.Format(cfg.Logging.Format),
		Component: "flowstate",
	})

	loader := script.NewLoader(script.WithLogger(logger))
	defer loader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeOpts := []store.Option{store.WithLogger(logger), store.WithContext(ctx)}
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		collector = metrics.New(reg, cfg.Metrics.Namespace)
		storeOpts = append(storeOpts, store.WithMetrics(collector))

		srv := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout.Std())
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	registry := store.New(storeOpts...)
	detach := logging.Attach(registry, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout.Std())
		defer cancel()
		if err := registry.Close(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
		detach()
	}()

	mods, err := loader.LoadDir(cfg.Scripts.Dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Error().Err(err).Str("dir", cfg.Scripts.Dir).Msg("load scripts")
		return 1
	}
	for _, m := range mods {
		h, err := m.Register(registry)
		if err == nil {
			err = h.Enable()
		}
		if err != nil {
			logger.Error().Err(err).Str("module", m.Name()).Msg("enable module")
			return 1
		}
	}
	logger.Info().Int("modules", len(mods)).Str("dir", cfg.Scripts.Dir).Msg("modules enabled")

	if cfg.Scripts.Watch {
		wopts := []watcher.Option{
			watcher.WithDebounce(cfg.Scripts.Debounce.Std()),
			watcher.WithLogger(logger),
		}
		if collector != nil {
			wopts = append(wopts, watcher.WithMetrics(collector))
		}
		w := watcher.New(loader, registry, cfg.Scripts.Dir, wopts...)
		if err := w.Start(); err != nil {
			logger.Error().Err(err).Msg("start script watcher")
			return 1
		}
		defer w.Stop()
	}

	r := &runner{
		registry:     registry,
		loader:       loader,
		out:          os.Stdout,
		flushTimeout: cfg.Engine.FlushTimeout.Std(),
		logger:       logger,
	}
	if err := r.run(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("read input")
		return 1
	}
	return 0
}

func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file (.toml, .yaml)")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.scriptsDir, "scripts", "", "Directory of Lua module scripts")
	flag.StringVar(&opts.scriptsDir, "s", "", "Directory of Lua module scripts (shorthand)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.watch, "watch", false, "Reload scripts when they change")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "flowstate - reactive state runner\n\n")
		fmt.Fprintf(os.Stderr, "Usage: flowstate [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nInput lines:\n")
		fmt.Fprintf(os.Stderr, "  <module> <type> [json]   Dispatch an action\n")
		fmt.Fprintf(os.Stderr, "  state <module>           Print a module's state\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("flowstate %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	switch opts.logLevel {
	case "", "debug", "info", "warn", "error":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.logLevel)
		os.Exit(1)
	}

	return opts
}
