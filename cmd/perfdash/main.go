// Command perfdash serves aggregated performance-test results over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixge/fgprof"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/meigma/perfdash"
	"github.com/meigma/perfdash/cache/disk"
	perfhttp "github.com/meigma/perfdash/http"
	"github.com/meigma/perfdash/internal/config"
	"github.com/meigma/perfdash/metrics"
	"github.com/meigma/perfdash/server"
)

const (
	shutdownGrace     = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "perfdash: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	cfg, err := loadConfig(args, stderr)
	if err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store, err := disk.New(cfg.Cache.File,
		disk.WithMaxSize(cfg.Cache.MaxSize),
		disk.WithCompression(cfg.Cache.Compress),
		disk.WithLogger(logger.With(slog.String("component", "cache"))),
		disk.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}

	fetcher := perfhttp.New(perfhttp.WithTimeout(cfg.Upstream.Timeout))
	resolver, err := perfdash.NewResolver(fetcher, store,
		perfdash.WithResultsURL(cfg.Upstream.ResultsURL),
		perfdash.WithSummaryURL(cfg.Upstream.SummaryURL),
		perfdash.WithResultsRoot(cfg.Upstream.ResultsRoot),
		perfdash.WithFileView(cfg.Upstream.FileView),
		perfdash.WithFetchTimeout(cfg.Upstream.Timeout),
		perfdash.WithWorkers(cfg.Upstream.Workers),
		perfdash.WithBatchConcurrency(cfg.Upstream.BatchConcurrency),
		perfdash.WithLogger(logger.With(slog.String("component", "resolver"))),
		perfdash.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("create resolver: %w", err)
	}

	api, err := server.New(resolver,
		server.WithCache(store),
		server.WithGatherer(reg),
		server.WithBatchFile(cfg.BatchFile),
		server.WithLogger(logger.With(slog.String("component", "server"))),
		server.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	servers := []*nethttp.Server{{
		Addr:              cfg.Listen,
		Handler:           api,
		ReadHeaderTimeout: readHeaderTimeout,
	}}
	if cfg.DebugListen != "" {
		//nolint:gosec // debug listener has no write timeout so long profiles can finish
		servers = append(servers, &nethttp.Server{
			Addr:              cfg.DebugListen,
			Handler:           debugHandler(),
			ReadHeaderTimeout: readHeaderTimeout,
		})
	}

	errc := make(chan error, len(servers))
	for _, srv := range servers {
		logger.Info("listening", slog.String("addr", srv.Addr))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				errc <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errc:
		logger.Error("server failed", slog.Any("error", serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", slog.String("addr", srv.Addr), slog.Any("error", err))
		}
	}
	return serveErr
}

// loadConfig reads the config file named by -config and applies the
// remaining flags over it. Only flags given on the command line override
// file values.
func loadConfig(args []string, stderr io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("perfdash", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath  = fs.String("config", "", "YAML config file")
		listen      = fs.String("listen", "", "API listen address (e.g. :8000)")
		debugListen = fs.String("debug-listen", "", "pprof and fgprof listen address (e.g. :6060)")
		cacheFile   = fs.String("cache-file", "", "cache file path")
		cacheSize   = fs.Int("cache-size", 0, "maximum cached runs")
		resultsURL  = fs.String("results-url", "", "results browser base URL")
		summaryURL  = fs.String("summary-url", "", "run summary service base URL")
		batchFile   = fs.String("batch-file", "", "file receiving each batch result")
		logLevel    = fs.String("log-level", "", "log level: debug, info, warn, error")
	)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listen
		case "debug-listen":
			cfg.DebugListen = *debugListen
		case "cache-file":
			cfg.Cache.File = *cacheFile
		case "cache-size":
			cfg.Cache.MaxSize = *cacheSize
		case "results-url":
			cfg.Upstream.ResultsURL = *resultsURL
		case "summary-url":
			cfg.Upstream.SummaryURL = *summaryURL
		case "batch-file":
			cfg.BatchFile = *batchFile
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func debugHandler() nethttp.Handler {
	mux := nethttp.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/fgprof", fgprof.Handler())
	return mux
}
