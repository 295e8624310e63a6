// Package fetch retrieves and decodes a single tile. One Fetch call maps
// to exactly one upstream region request.
package fetch

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bfruehauf/rasterfetch/pkg/decode"
	"github.com/bfruehauf/rasterfetch/pkg/grid"
	"github.com/bfruehauf/rasterfetch/pkg/imagery"
	"github.com/bfruehauf/rasterfetch/pkg/raster"
)

// Prometheus metrics for tile fetches.
var (
	tilesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raster_tiles_fetched_total",
		Help: "Total tile fetch attempts by outcome",
	}, []string{"outcome"})

	tileFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "raster_tile_fetch_duration_seconds",
		Help:    "Tile fetch and decode duration in seconds by outcome",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"outcome"})
)

// Result is the terminal state of one tile: either a decoded buffer of
// the tile's shape or a classified error. Attempts counts how many
// fetches the dispatcher made for the tile, including the first.
type Result struct {
	Tile     grid.Tile
	Data     *raster.Array
	Err      error
	Attempts int
}

// OK reports whether the tile reached a successful terminal state.
func (r Result) OK() bool {
	return r.Err == nil
}

// Fetcher retrieves single tiles through an imagery client.
type Fetcher struct {
	client imagery.Client
}

// NewFetcher creates a tile fetcher over the given imagery client.
func NewFetcher(client imagery.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch downloads and decodes one tile of the band. The returned
// Result's Err carries the failure class: transient errors may be
// retried with the identical tile, permanent and decode errors may not.
func (f *Fetcher) Fetch(ctx context.Context, image, band string, dtype raster.DType, tile grid.Tile) Result {
	start := time.Now()

	payload, err := f.client.FetchRegion(ctx, image, band, tile)
	if err != nil {
		observe(start, "fetch_error")
		return Result{Tile: tile, Err: err}
	}

	data, err := decode.Decode(payload, tile.Rows(), tile.Cols(), dtype)
	if err != nil {
		observe(start, "decode_error")
		return Result{Tile: tile, Err: err}
	}

	observe(start, "success")
	return Result{Tile: tile, Data: data}
}

func observe(start time.Time, outcome string) {
	tilesFetchedTotal.WithLabelValues(outcome).Inc()
	tileFetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
