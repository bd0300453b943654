// Command assetcached runs the asset-cache engine as a caching reverse
// proxy in front of a site origin.
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

	"github.com/assetcache/assetcache/internal/circuit"
	"github.com/assetcache/assetcache/internal/config"
	"github.com/assetcache/assetcache/internal/engine"
	"github.com/assetcache/assetcache/internal/lifecycle"
	"github.com/assetcache/assetcache/internal/metrics"
	"github.com/assetcache/assetcache/internal/partition"
	"github.com/assetcache/assetcache/internal/strategy"
	"github.com/assetcache/assetcache/pkg/health"
	"github.com/assetcache/assetcache/pkg/types"
)

const version = "0.1.0"

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML configuration file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("assetcached %s\n", version)
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("assetcached failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.NewDefault()
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Origin.URL == "" {
		return fmt.Errorf("origin url is required (set origin.url or ASSETCACHE_ORIGIN_URL)")
	}

	setupLogging(cfg.Global.LogLevel)
	logger := slog.Default().With("component", "main")
	logger.Info("starting assetcached",
		"version", version,
		"cache_version", cfg.Cache.Version,
		"backend", cfg.Cache.Backend,
		"origin", cfg.Origin.URL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled: true,
		Addr:    cfg.Global.MetricsAddr,
		Path:    cfg.Global.MetricsPath,
	})
	if err != nil {
		return err
	}
	if err := collector.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		collector.Stop(shutdownCtx)
	}()

	storage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	httpFetcher, err := strategy.NewHTTPFetcher(cfg.Origin.URL, cfg.Origin.FetchTimeout)
	if err != nil {
		return err
	}
	breaker := circuit.NewBreaker(circuit.Config{
		TripAfter: 5,
		Cooldown:  15 * time.Second,
		OnStateChange: func(from, to circuit.State) {
			logger.Warn("origin breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	fetcher := circuit.WrapFetcher(httpFetcher, breaker)

	eng, err := engine.New(cfg, storage, fetcher, cfg.Cache.Manifest, collector)
	if err != nil {
		return err
	}

	if err := eng.Install(ctx); err != nil {
		return err
	}
	if err := eng.Activate(ctx); err != nil {
		return err
	}
	eng.Start(ctx)

	reporter := health.NewReporter(cfg.Cache.Version)
	reporter.Register("storage", func(ctx context.Context) error {
		_, err := storage.List(ctx)
		return err
	})
	reporter.Register("origin", func(ctx context.Context) error {
		if breaker.State() == circuit.StateOpen {
			return circuit.ErrOpen
		}
		return nil
	})
	reporter.Register("lifecycle", func(ctx context.Context) error {
		if state := eng.State(); state != lifecycle.StateActivated {
			return fmt.Errorf("engine not activated: %s", state)
		}
		return nil
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/control", eng.ServeControl)
	mux.Handle("/healthz", reporter)
	mux.Handle("/", eng)

	server := &http.Server{
		Addr:    cfg.Global.ListenAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("proxy listening", "addr", cfg.Global.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("proxy shutdown incomplete", "error", err)
	}
	eng.Close()
	return nil
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

func openStorage(ctx context.Context, cfg *config.Configuration) (types.Storage, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return partition.NewMemoryStorage(), nil
	case "s3":
		return partition.NewS3Storage(ctx, partition.S3StorageConfig{
			Bucket: cfg.Cache.S3.Bucket,
			Prefix: cfg.Cache.S3.Prefix,
			Region: cfg.Cache.S3.Region,
		})
	default:
		return partition.NewDiskStorage(cfg.Cache.Directory, cfg.Cache.Compression)
	}
}
