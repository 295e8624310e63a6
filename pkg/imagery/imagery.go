// Package imagery defines the upstream imagery-service capability and
// provides an HTTP implementation of it with quota gating, error
// classification, and structured logging.
package imagery

import (
	"context"

	"github.com/bfruehauf/rasterfetch/pkg/grid"
	"github.com/bfruehauf/rasterfetch/pkg/raster"
)

// Client is the capability the downloader needs from an imagery service:
// report a band's full raster dimensions and native dtype, and deliver
// the encoded bytes of one rectangular sub-region. Any implementation
// satisfies it structurally, including test doubles.
type Client interface {
	// RasterSpec reports the full raster extent and dtype of one band.
	RasterSpec(ctx context.Context, image, band string) (raster.Spec, error)

	// FetchRegion returns the encoded payload for the tile's pixel
	// ranges. One outbound request per call, no caching.
	FetchRegion(ctx context.Context, image, band string, tile grid.Tile) ([]byte, error)
}
