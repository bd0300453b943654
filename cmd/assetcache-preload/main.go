// Command assetcache-preload warms the model partition from outside the
// engine, the way a page-side preloader would. It shares the engine's
// partition naming, so both ends of a shared backend see one cache.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/assetcache/assetcache/internal/config"
	"github.com/assetcache/assetcache/internal/metrics"
	"github.com/assetcache/assetcache/internal/partition"
	"github.com/assetcache/assetcache/internal/preload"
	"github.com/assetcache/assetcache/internal/strategy"
	"github.com/assetcache/assetcache/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("preload failed", "error", err)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, err := metrics.NewCollector(&metrics.Config{Enabled: false})
	if err != nil {
		return err
	}

	storage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	fetcher, err := strategy.NewHTTPFetcher(cfg.Origin.URL, cfg.Origin.FetchTimeout)
	if err != nil {
		return err
	}

	table := partition.NewTable(cfg.Cache.Version)
	p := preload.New(table, storage, fetcher, cfg.Cache.Manifest, collector, preload.Config{
		IdleDelay:     cfg.Preload.IdleDelay,
		RetryAttempts: cfg.Preload.RetryAttempts,
	})
	p.Start(ctx)
	p.Wait()

	slog.Info("preload passes complete", "models", len(cfg.Cache.Manifest.ModelAssets))
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
