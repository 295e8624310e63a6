// Command rasterfetch downloads one full-resolution band of a satellite
// image through a size-capped imagery API and optionally exports the
// assembled raster to blob storage.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/bfruehauf/rasterfetch/internal/config"
	"github.com/bfruehauf/rasterfetch/pkg/assemble"
	"github.com/bfruehauf/rasterfetch/pkg/downloader"
	"github.com/bfruehauf/rasterfetch/pkg/export"
	"github.com/bfruehauf/rasterfetch/pkg/imagery"
	"github.com/bfruehauf/rasterfetch/pkg/logging"
	"github.com/bfruehauf/rasterfetch/pkg/quota"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := loadConfig()
	if err != nil {
		logging.Setup(logging.DefaultConfig())
		logger := logging.NewLogger("main")
		logger.Error().Err(err).Msg("Configuration error")
		return 1
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	}).With().Str("component", "main").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tracker *quota.Tracker
	if cfg.Redis != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error().Err(err).Str("redis", cfg.Redis).Msg("Cannot reach Redis")
			return 1
		}
		defer redisClient.Close()
		tracker = quota.NewTracker(redisClient, logger)
		logger.Info().Str("redis", cfg.Redis).Msg("Quota tracking enabled")
	}

	client, err := imagery.NewHTTPClient(imagery.Config{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
		Quota:     tracker,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Cannot create imagery client")
		return 1
	}

	d, err := downloader.New(client, downloader.Config{
		MaxBytes:       cfg.MaxBytes,
		Concurrency:    cfg.Workers,
		MaxRetries:     cfg.Retry.Attempts,
		FetchTimeout:   cfg.Timeout,
		InitialBackoff: cfg.Retry.Backoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Cannot create downloader")
		return 1
	}

	outcome, err := d.Download(ctx, cfg.Image, cfg.Band)
	if err != nil {
		logger.Error().Err(err).
			Str("image", cfg.Image).
			Str("band", cfg.Band).
			Msg("Download failed")
		return 1
	}

	if !outcome.Complete() {
		logger.Warn().
			Int("failed_tiles", len(outcome.Failed)).
			Msg("Download finished with gaps")
	}

	if cfg.Bucket != "" {
		if err := exportOutcome(ctx, cfg, outcome); err != nil {
			logger.Error().Err(err).Str("bucket", cfg.Bucket).Msg("Export failed")
			return 1
		}
	}

	if !outcome.Complete() {
		return 2
	}
	return 0
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if path := os.Getenv("RASTERFETCH_CONFIG"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func exportOutcome(ctx context.Context, cfg config.Config, outcome *assemble.Outcome) error {
	bucket, err := blob.OpenBucket(ctx, cfg.Bucket)
	if err != nil {
		return err
	}
	defer bucket.Close()

	w, err := export.NewWriter(bucket)
	if err != nil {
		return err
	}
	return w.Save(ctx, cfg.ExportKey, cfg.Image, cfg.Band, outcome)
}
