// Package assemble reconstructs the full band array from the terminal
// tile results produced by the dispatcher. It runs strictly after the
// completion barrier, so the destination buffer is written from a
// single goroutine.
package assemble

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/bfruehauf/rasterfetch/pkg/fetch"
	"github.com/bfruehauf/rasterfetch/pkg/grid"
	"github.com/bfruehauf/rasterfetch/pkg/logging"
	"github.com/bfruehauf/rasterfetch/pkg/raster"
)

// Prometheus metrics for assembly.
var (
	tilesAssembledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raster_tiles_assembled_total",
		Help: "Tiles merged into the destination array by outcome",
	}, []string{"outcome"})

	assembledPixelsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raster_assembled_pixels_total",
		Help: "Total pixels written into assembled arrays",
	})
)

// FailedTile records a tile that never reached a successful terminal
// state, with the classified error that exhausted it.
type FailedTile struct {
	Tile grid.Tile
	Err  error
}

// Outcome is the result of assembling one band download. Array always
// has the full raster shape; regions of failed tiles hold the zero
// fill value.
type Outcome struct {
	Array  *raster.Array
	Failed []FailedTile
}

// Complete reports whether every tile was merged successfully.
func (o *Outcome) Complete() bool {
	return len(o.Failed) == 0
}

// Assemble merges tile results into a freshly allocated array of the
// full band spec. Failed tiles are collected in tile-index order and
// never abort the merge; a successful neighbor is kept even when the
// tile next to it failed. The only error return is an invalid spec.
func Assemble(spec raster.Spec, results []fetch.Result) (*Outcome, error) {
	logger := logging.NewLogger("assemble")

	dst, err := raster.NewArray(spec)
	if err != nil {
		return nil, raster.WrapError(raster.ClassConfiguration, err, "cannot allocate destination array")
	}

	outcome := &Outcome{Array: dst}
	for _, res := range results {
		if !res.OK() {
			tilesAssembledTotal.WithLabelValues("failed").Inc()
			outcome.Failed = append(outcome.Failed, FailedTile{Tile: res.Tile, Err: res.Err})
			continue
		}

		if err := dst.CopyRegion(res.Tile.RowStart, res.Tile.ColStart, res.Data); err != nil {
			// A decoded tile that does not fit the destination means the
			// upstream answered with the wrong shape.
			wrapped := raster.WrapError(raster.ClassDecode, err, "tile does not fit destination")
			tilesAssembledTotal.WithLabelValues("misfit").Inc()
			logger.Error().
				Stringer("tile", res.Tile).
				Err(err).
				Msg("Decoded tile rejected during assembly")
			outcome.Failed = append(outcome.Failed, FailedTile{Tile: res.Tile, Err: wrapped})
			continue
		}

		tilesAssembledTotal.WithLabelValues("merged").Inc()
		assembledPixelsTotal.Add(float64(res.Tile.Pixels()))
	}

	logAssembly(logger, spec, len(results), outcome)
	return outcome, nil
}

func logAssembly(logger zerolog.Logger, spec raster.Spec, tiles int, outcome *Outcome) {
	evt := logger.Info()
	if !outcome.Complete() {
		evt = logger.Warn()
	}
	evt.
		Int("height", spec.Height).
		Int("width", spec.Width).
		Str("dtype", string(spec.DType)).
		Int("tiles", tiles).
		Int("failed", len(outcome.Failed)).
		Msg("Band assembly finished")
}
