// Package grid plans the tile grid for a raster download. Planning is a
// pure function of the raster spec and the per-request payload ceiling:
// the same inputs always yield the same grid.
package grid

import (
	"fmt"

	"github.com/bfruehauf/rasterfetch/pkg/raster"
)

// Tile is one rectangular sub-region of the raster, addressed by
// half-open pixel ranges. Index is the tile's position in the planned
// grid and stays stable through dispatch for diagnostics.
type Tile struct {
	Index    int
	RowStart int
	RowEnd   int
	ColStart int
	ColEnd   int
}

// Rows returns the tile height in pixels.
func (t Tile) Rows() int {
	return t.RowEnd - t.RowStart
}

// Cols returns the tile width in pixels.
func (t Tile) Cols() int {
	return t.ColEnd - t.ColStart
}

// Pixels returns the number of samples in the tile.
func (t Tile) Pixels() int {
	return t.Rows() * t.Cols()
}

// ByteSize returns the uncompressed tile size for the given sample width.
func (t Tile) ByteSize(pixelBytes int) int64 {
	return int64(t.Pixels()) * int64(pixelBytes)
}

// String renders the tile's pixel ranges, e.g. "tile 3 [512:1024,0:512]".
func (t Tile) String() string {
	return fmt.Sprintf("tile %d [%d:%d,%d:%d]", t.Index, t.RowStart, t.RowEnd, t.ColStart, t.ColEnd)
}

// Grid is an ordered tile sequence that partitions the raster exactly:
// tiles are pairwise disjoint and their union covers the full extent.
type Grid []Tile

// Plan computes the tile grid for spec under the maxBytes payload
// ceiling.
//
// The policy is row-strip-first: when a full-width row strip fits the
// ceiling, tiles keep the full raster width and only rows are split.
// Only when a single row exceeds the ceiling are columns split as well,
// with one-row tiles. The last tile in each dimension absorbs the
// remainder, so grids are deterministic and reproducible.
func Plan(spec raster.Spec, maxBytes int64) (Grid, error) {
	if err := spec.Validate(); err != nil {
		return nil, raster.WrapError(raster.ClassConfiguration, err, "plan tile grid")
	}
	px := int64(spec.PixelBytes())
	if maxBytes < px {
		return nil, raster.NewError(raster.ClassConfiguration,
			"max request size %d is smaller than one %s pixel (%d bytes)", maxBytes, spec.DType, px)
	}

	// Whole raster under the ceiling: one tile, full extent.
	if spec.ByteSize() <= maxBytes {
		return Grid{{Index: 0, RowEnd: spec.Height, ColEnd: spec.Width}}, nil
	}

	var tileH, tileW int
	rowBytes := int64(spec.Width) * px
	if rowBytes <= maxBytes {
		tileH = int(maxBytes / rowBytes)
		tileW = spec.Width
	} else {
		tileH = 1
		tileW = int(maxBytes / px)
	}

	var tiles Grid
	for rs := 0; rs < spec.Height; rs += tileH {
		re := rs + tileH
		if re > spec.Height {
			re = spec.Height
		}
		for cs := 0; cs < spec.Width; cs += tileW {
			ce := cs + tileW
			if ce > spec.Width {
				ce = spec.Width
			}
			tiles = append(tiles, Tile{
				Index:    len(tiles),
				RowStart: rs,
				RowEnd:   re,
				ColStart: cs,
				ColEnd:   ce,
			})
		}
	}

	return tiles, nil
}
