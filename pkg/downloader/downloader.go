// Package downloader is the top-level façade that turns one band
// request into a planned tile grid, a bounded parallel fetch, and an
// assembled array. It is the package library consumers import.
package downloader

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bfruehauf/rasterfetch/pkg/assemble"
	"github.com/bfruehauf/rasterfetch/pkg/dispatch"
	"github.com/bfruehauf/rasterfetch/pkg/fetch"
	"github.com/bfruehauf/rasterfetch/pkg/grid"
	"github.com/bfruehauf/rasterfetch/pkg/imagery"
	"github.com/bfruehauf/rasterfetch/pkg/raster"
)

// Prometheus metrics for whole-band downloads.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raster_downloads_total",
		Help: "Total band downloads by outcome (complete, partial, error)",
	}, []string{"outcome"})

	downloadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "raster_download_duration_seconds",
		Help:    "End-to-end band download duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"outcome"})

	downloadTilesPlanned = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "raster_download_tiles_planned",
		Help:    "Number of tiles planned per band download",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
	})
)

// Config holds downloader configuration.
type Config struct {
	// MaxBytes is the upstream per-request payload ceiling in raw pixel
	// bytes. Tiles are planned so no single request exceeds it.
	// Default: 32 MiB.
	MaxBytes int64

	// Concurrency is the maximum number of parallel tile fetches.
	Concurrency int

	// MaxRetries is the per-tile retry budget for transient failures.
	MaxRetries int

	// FetchTimeout bounds a single tile fetch attempt.
	FetchTimeout time.Duration

	// InitialBackoff, MaxBackoff and BackoffMultiplier shape the
	// exponential backoff between tile retries.
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	d := dispatch.DefaultConfig()
	return Config{
		MaxBytes:          32 << 20,
		Concurrency:       d.Concurrency,
		MaxRetries:        d.MaxRetries,
		FetchTimeout:      d.FetchTimeout,
		InitialBackoff:    d.InitialBackoff,
		MaxBackoff:        d.MaxBackoff,
		BackoffMultiplier: d.BackoffMultiplier,
	}
}

// Downloader downloads whole imagery bands through a size-capped API.
// It is safe for concurrent use; the remembered last outcome is the one
// of the most recent Download call to finish.
type Downloader struct {
	client     imagery.Client
	dispatcher *dispatch.Dispatcher
	config     Config
	logger     zerolog.Logger

	mu   sync.Mutex
	last *assemble.Outcome
}

// New creates a Downloader over the given imagery client. Zero config
// fields fall back to defaults; a negative MaxBytes is rejected.
func New(client imagery.Client, config Config) (*Downloader, error) {
	if client == nil {
		return nil, raster.NewError(raster.ClassConfiguration, "imagery client is required")
	}
	if config.MaxBytes < 0 {
		return nil, raster.NewError(raster.ClassConfiguration, "max bytes must be positive, got %d", config.MaxBytes)
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = DefaultConfig().MaxBytes
	}

	dispatcher := dispatch.New(fetch.NewFetcher(client), dispatch.Config{
		Concurrency:       config.Concurrency,
		MaxRetries:        config.MaxRetries,
		FetchTimeout:      config.FetchTimeout,
		InitialBackoff:    config.InitialBackoff,
		MaxBackoff:        config.MaxBackoff,
		BackoffMultiplier: config.BackoffMultiplier,
	})

	return &Downloader{
		client:     client,
		dispatcher: dispatcher,
		config:     config,
		logger:     log.With().Str("component", "downloader").Logger(),
	}, nil
}

// Download fetches the named band of an image in full resolution. It
// returns an error only when the download could not start at all: the
// band spec was unavailable, the tiling could not be planned, or the
// context was cancelled before any tile completed spec discovery.
// Per-tile failures are contained in the returned Outcome.
func (d *Downloader) Download(ctx context.Context, image, band string) (*assemble.Outcome, error) {
	start := time.Now()

	spec, err := d.discoverSpec(ctx, image, band)
	if err != nil {
		observeDownload(start, "error")
		return nil, err
	}

	g, err := grid.Plan(spec, d.config.MaxBytes)
	if err != nil {
		observeDownload(start, "error")
		return nil, err
	}
	downloadTilesPlanned.Observe(float64(len(g)))

	d.logger.Info().
		Str("image", image).
		Str("band", band).
		Int("height", spec.Height).
		Int("width", spec.Width).
		Str("dtype", string(spec.DType)).
		Int64("raster_bytes", spec.ByteSize()).
		Int("tiles", len(g)).
		Msg("Starting band download")

	results := d.dispatcher.Run(ctx, image, band, spec.DType, g)

	outcome, err := assemble.Assemble(spec, results)
	if err != nil {
		observeDownload(start, "error")
		return nil, err
	}

	d.mu.Lock()
	d.last = outcome
	d.mu.Unlock()

	label := "complete"
	if !outcome.Complete() {
		label = "partial"
	}
	observeDownload(start, label)

	d.logger.Info().
		Str("image", image).
		Str("band", band).
		Int("tiles", len(g)).
		Int("failed", len(outcome.Failed)).
		Dur("duration", time.Since(start)).
		Msg("Band download finished")

	return outcome, nil
}

// discoverSpec queries the upstream band spec and validates it.
func (d *Downloader) discoverSpec(ctx context.Context, image, band string) (raster.Spec, error) {
	spec, err := d.client.RasterSpec(ctx, image, band)
	if err != nil {
		if raster.ClassOf(err) == raster.ClassCancelled {
			return raster.Spec{}, err
		}
		return raster.Spec{}, raster.WrapError(raster.ClassUnavailable, err, "band spec discovery failed")
	}
	if err := spec.Validate(); err != nil {
		return raster.Spec{}, raster.WrapError(raster.ClassUnavailable, err, "upstream reported an unusable band spec")
	}
	return spec, nil
}

// LastOutcome returns the outcome of the most recent completed download,
// or nil when none has finished yet.
func (d *Downloader) LastOutcome() *assemble.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// LastArray returns the assembled array of the most recent completed
// download, or nil when none has finished yet.
func (d *Downloader) LastArray() *raster.Array {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return nil
	}
	return d.last.Array
}

// LastFailed returns the failed tiles of the most recent completed
// download. Empty for a complete download, nil when none has run.
func (d *Downloader) LastFailed() []assemble.FailedTile {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return nil
	}
	return d.last.Failed
}

func observeDownload(start time.Time, outcome string) {
	downloadsTotal.WithLabelValues(outcome).Inc()
	downloadDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
