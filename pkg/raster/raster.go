// Package raster defines the core raster data model: sample types,
// raster specifications, and the in-memory 2-D array that tiles are
// assembled into. It also carries the error taxonomy shared by all
// downloader components.
package raster

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType identifies the native sample type of a raster band.
type DType string

const (
	// Uint8 is an unsigned 8-bit sample (1 byte per pixel).
	Uint8 DType = "uint8"

	// Int16 is a signed 16-bit sample (2 bytes per pixel).
	Int16 DType = "int16"

	// Uint16 is an unsigned 16-bit sample (2 bytes per pixel).
	Uint16 DType = "uint16"

	// Int32 is a signed 32-bit sample (4 bytes per pixel).
	Int32 DType = "int32"

	// Float32 is an IEEE-754 32-bit sample (4 bytes per pixel).
	Float32 DType = "float32"
)

// Size returns the number of bytes per sample, or 0 for an unknown dtype.
func (d DType) Size() int {
	switch d {
	case Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Float32:
		return 4
	default:
		return 0
	}
}

// ParseDType converts a dtype name into a DType.
func ParseDType(s string) (DType, error) {
	d := DType(s)
	if d.Size() == 0 {
		return "", fmt.Errorf("unknown dtype %q", s)
	}
	return d, nil
}

// Spec describes the full extent of one imagery band as reported by the
// upstream service. It is immutable once obtained.
type Spec struct {
	Height int   `json:"height"`
	Width  int   `json:"width"`
	DType  DType `json:"dtype"`
}

// Validate checks that the spec describes a non-empty raster with a
// known sample type.
func (s Spec) Validate() error {
	if s.Height <= 0 || s.Width <= 0 {
		return fmt.Errorf("invalid raster dimensions %dx%d", s.Height, s.Width)
	}
	if s.DType.Size() == 0 {
		return fmt.Errorf("unknown dtype %q", s.DType)
	}
	return nil
}

// PixelBytes returns the number of bytes per sample.
func (s Spec) PixelBytes() int {
	return s.DType.Size()
}

// ByteSize returns the uncompressed size of the full raster in bytes.
func (s Spec) ByteSize() int64 {
	return int64(s.Height) * int64(s.Width) * int64(s.PixelBytes())
}

// Array is a row-major 2-D sample array backed by a flat byte buffer in
// the raster's native dtype (little-endian). It serves both as a decoded
// tile buffer and as the full assembled destination. Cells that no tile
// has written remain at the zero fill value.
type Array struct {
	spec Spec
	pix  []byte
}

// NewArray allocates a zero-filled array of the given spec.
func NewArray(spec Spec) (*Array, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Array{
		spec: spec,
		pix:  make([]byte, spec.ByteSize()),
	}, nil
}

// NewArrayFrom wraps an existing little-endian sample buffer. The buffer
// length must match the spec exactly; Array takes ownership of it.
func NewArrayFrom(spec Spec, pix []byte) (*Array, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if int64(len(pix)) != spec.ByteSize() {
		return nil, fmt.Errorf("buffer size %d does not match raster size %d", len(pix), spec.ByteSize())
	}
	return &Array{spec: spec, pix: pix}, nil
}

// Spec returns the array's raster specification.
func (a *Array) Spec() Spec {
	return a.spec
}

// Bytes returns the underlying sample buffer. The caller must not grow it.
func (a *Array) Bytes() []byte {
	return a.pix
}

// At returns the sample at (row, col) widened to float64. Integer dtypes
// up to 32 bits and float32 are represented exactly.
func (a *Array) At(row, col int) float64 {
	px := a.spec.PixelBytes()
	off := (row*a.spec.Width + col) * px

	switch a.spec.DType {
	case Uint8:
		return float64(a.pix[off])
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(a.pix[off:])))
	case Uint16:
		return float64(binary.LittleEndian.Uint16(a.pix[off:]))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(a.pix[off:])))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(a.pix[off:])))
	default:
		return 0
	}
}

// CopyRegion copies src into the destination starting at (rowOff, colOff).
// Writes are row-wise byte copies; callers that copy disjoint regions may
// do so concurrently without locking.
func (a *Array) CopyRegion(rowOff, colOff int, src *Array) error {
	if src.spec.DType != a.spec.DType {
		return fmt.Errorf("dtype mismatch: %s vs %s", src.spec.DType, a.spec.DType)
	}
	if rowOff < 0 || colOff < 0 ||
		rowOff+src.spec.Height > a.spec.Height ||
		colOff+src.spec.Width > a.spec.Width {
		return fmt.Errorf("region %dx%d at (%d,%d) exceeds raster %dx%d",
			src.spec.Height, src.spec.Width, rowOff, colOff, a.spec.Height, a.spec.Width)
	}

	px := a.spec.PixelBytes()
	srcRowLen := src.spec.Width * px
	for r := 0; r < src.spec.Height; r++ {
		dstOff := ((rowOff+r)*a.spec.Width + colOff) * px
		copy(a.pix[dstOff:dstOff+srcRowLen], src.pix[r*srcRowLen:(r+1)*srcRowLen])
	}
	return nil
}
