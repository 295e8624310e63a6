package dispatch

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/bfruehauf/rasterfetch/pkg/fetch"
	"github.com/bfruehauf/rasterfetch/pkg/grid"
	"github.com/bfruehauf/rasterfetch/pkg/raster"
)

// Prometheus metrics for retry behavior.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raster_retries_total",
		Help: "Total number of tile retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "raster_retry_backoff_seconds",
		Help:    "Backoff duration before tile retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raster_retry_exhausted_total",
		Help: "Total number of tiles that exhausted their retry budget by error class",
	}, []string{"error_class"})
)

// Config holds dispatcher configuration.
type Config struct {
	// Concurrency is the maximum number of parallel tile fetches.
	// Default: 5, conservative for upstream rate limits.
	Concurrency int

	// MaxRetries is the number of retries after the first attempt for
	// transient failures. A tile is attempted at most 1+MaxRetries times.
	MaxRetries int

	// FetchTimeout bounds one fetch attempt. Exceeding it counts as a
	// transient failure subject to the retry policy.
	FetchTimeout time.Duration

	// InitialBackoff is the backoff before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the backoff between retries.
	BackoffMultiplier float64

	// ProgressInterval controls how often completion progress is logged,
	// in completed tiles.
	ProgressInterval int
}

// DefaultConfig returns safe dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       5,
		MaxRetries:        3,
		FetchTimeout:      30 * time.Second,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		ProgressInterval:  50,
	}
}

// Dispatcher drives a tile grid to terminal states.
type Dispatcher struct {
	fetcher *fetch.Fetcher
	config  Config
	logger  zerolog.Logger
}

// New creates a dispatcher. Out-of-range config fields fall back to the
// defaults.
func New(fetcher *fetch.Fetcher, config Config) *Dispatcher {
	def := DefaultConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = def.FetchTimeout
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.BackoffMultiplier <= 1 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}
	if config.ProgressInterval <= 0 {
		config.ProgressInterval = def.ProgressInterval
	}

	return &Dispatcher{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "dispatcher").Logger(),
	}
}

// Run fetches every tile of the grid and returns one terminal result per
// tile, ordered by tile index. Per-tile failures never abort sibling
// tiles; Run only returns once all tiles are terminal.
func (d *Dispatcher) Run(ctx context.Context, image, band string, dtype raster.DType, g grid.Grid) []fetch.Result {
	start := time.Now()
	results := make([]fetch.Result, len(g))

	d.logger.Info().
		Str("image", image).
		Str("band", band).
		Int("tiles", len(g)).
		Int("concurrency", d.config.Concurrency).
		Msg("Starting tile dispatch")

	var completed atomic.Int64

	var eg errgroup.Group
	eg.SetLimit(d.config.Concurrency)

	for i, tile := range g {
		eg.Go(func() error {
			results[i] = d.runTile(ctx, image, band, dtype, tile)

			done := completed.Add(1)
			if int(done)%d.config.ProgressInterval == 0 {
				d.logger.Info().
					Int64("completed", done).
					Int("total", len(g)).
					Float64("progress_pct", float64(done)/float64(len(g))*100).
					Msg("Dispatch progress")
			}
			return nil
		})
	}

	// Completion barrier: every tile is terminal past this point.
	eg.Wait()

	failed := 0
	for _, res := range results {
		if !res.OK() {
			failed++
		}
	}

	evt := d.logger.Info()
	if failed > 0 {
		evt = d.logger.Warn()
	}
	evt.
		Int("tiles", len(g)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Dispatch complete")

	return results
}

// runTile drives one tile to a terminal state. A panic below this frame
// becomes a failure result rather than a process fault, so the tile is
// still accounted for exactly once.
func (d *Dispatcher) runTile(ctx context.Context, image, band string, dtype raster.DType, tile grid.Tile) (res fetch.Result) {
	attempts := 0
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Stringer("tile", tile).
				Any("panic", r).
				Msg("Tile worker panicked")
			res = fetch.Result{
				Tile:     tile,
				Err:      raster.NewError(raster.ClassPermanent, "tile worker panic: %v", r),
				Attempts: attempts,
			}
		}
	}()

	backoff := d.config.InitialBackoff

	for attempt := 1; attempt <= 1+d.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fetch.Result{
				Tile:     tile,
				Err:      raster.WrapError(raster.ClassCancelled, err, "download cancelled"),
				Attempts: attempts,
			}
		}

		attempts = attempt
		attemptCtx, cancel := context.WithTimeout(ctx, d.config.FetchTimeout)
		res = d.fetcher.Fetch(attemptCtx, image, band, dtype, tile)
		cancel()
		res.Attempts = attempt

		if res.OK() {
			if attempt > 1 {
				d.logger.Info().
					Stringer("tile", tile).
					Int("attempt", attempt).
					Msg("Tile succeeded after retry")
			}
			return res
		}

		// The parent context ending makes the attempt's failure a
		// cancellation, whatever the fetch reported.
		if ctx.Err() != nil {
			res.Err = raster.WrapError(raster.ClassCancelled, ctx.Err(), "download cancelled")
			return res
		}

		class := raster.ClassOf(res.Err)
		if !raster.IsRetryable(res.Err) {
			d.logger.Warn().
				Stringer("tile", tile).
				Str("error_class", string(class)).
				Err(res.Err).
				Msg("Tile failed, not retryable")
			return res
		}

		if attempt >= 1+d.config.MaxRetries {
			break
		}

		retriesTotal.WithLabelValues(string(class)).Inc()

		// Jitter of ±20% avoids synchronized retries across workers.
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(jitter.Seconds())

		d.logger.Debug().
			Stringer("tile", tile).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying tile after backoff")

		select {
		case <-ctx.Done():
			return fetch.Result{
				Tile:     tile,
				Err:      raster.WrapError(raster.ClassCancelled, ctx.Err(), "download cancelled"),
				Attempts: attempts,
			}
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * d.config.BackoffMultiplier)
		if backoff > d.config.MaxBackoff {
			backoff = d.config.MaxBackoff
		}
	}

	class := raster.ClassOf(res.Err)
	retryExhaustedTotal.WithLabelValues(string(class)).Inc()
	d.logger.Warn().
		Stringer("tile", tile).
		Int("attempts", attempts).
		Err(res.Err).
		Msg("Tile retry attempts exhausted")

	return res
}
