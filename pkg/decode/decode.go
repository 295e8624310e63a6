// Package decode turns a tile payload from the imagery service into a
// raster array. Payloads are zip archives holding a single encoded band
// region, mirroring the upstream download format: either a grayscale
// TIFF or raw little-endian samples.
package decode

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"image"
	"io"
	"path"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/bfruehauf/rasterfetch/pkg/raster"
)

// maxEntryBytes caps how much of a single archive entry is read, so a
// corrupt or malicious payload cannot exhaust memory.
const maxEntryBytes = 512 << 20

// Decode parses payload into an array of exactly rows x cols samples of
// dtype. All failures are classified as decode errors: a payload that
// does not match the requested shape signals a protocol mismatch and
// must not be retried.
func Decode(payload []byte, rows, cols int, dtype raster.DType) (*raster.Array, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, raster.WrapError(raster.ClassDecode, err, "open payload archive")
	}
	if len(zr.File) == 0 {
		return nil, raster.NewError(raster.ClassDecode, "payload archive is empty")
	}

	entry := zr.File[0]
	rc, err := entry.Open()
	if err != nil {
		return nil, raster.WrapError(raster.ClassDecode, err, "open archive entry")
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, raster.WrapError(raster.ClassDecode, err, "read archive entry")
	}
	if len(data) > maxEntryBytes {
		return nil, raster.NewError(raster.ClassDecode, "archive entry %q exceeds %d bytes", entry.Name, maxEntryBytes)
	}

	spec := raster.Spec{Height: rows, Width: cols, DType: dtype}

	switch strings.ToLower(path.Ext(entry.Name)) {
	case ".tif", ".tiff":
		return decodeTIFF(data, spec)
	case ".raw", ".bin":
		return decodeRaw(data, spec)
	default:
		return nil, raster.NewError(raster.ClassDecode, "unsupported payload entry %q", entry.Name)
	}
}

// decodeRaw interprets data as row-major little-endian samples.
func decodeRaw(data []byte, spec raster.Spec) (*raster.Array, error) {
	if int64(len(data)) != spec.ByteSize() {
		return nil, raster.NewError(raster.ClassDecode,
			"raw payload is %d bytes, want %d for %dx%d %s", len(data), spec.ByteSize(), spec.Height, spec.Width, spec.DType)
	}
	arr, err := raster.NewArrayFrom(spec, data)
	if err != nil {
		return nil, raster.WrapError(raster.ClassDecode, err, "wrap raw payload")
	}
	return arr, nil
}

// decodeTIFF decodes a grayscale TIFF. Only 8-bit and 16-bit gray images
// are produced by the upstream for the matching dtypes; anything else is
// a protocol mismatch.
func decodeTIFF(data []byte, spec raster.Spec) (*raster.Array, error) {
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, raster.WrapError(raster.ClassDecode, err, "decode tiff")
	}

	bounds := img.Bounds()
	if bounds.Dx() != spec.Width || bounds.Dy() != spec.Height {
		return nil, raster.NewError(raster.ClassDecode,
			"tiff is %dx%d, want %dx%d", bounds.Dy(), bounds.Dx(), spec.Height, spec.Width)
	}

	pix := make([]byte, spec.ByteSize())

	switch m := img.(type) {
	case *image.Gray:
		if spec.DType != raster.Uint8 {
			return nil, raster.NewError(raster.ClassDecode, "8-bit tiff for dtype %s", spec.DType)
		}
		for r := 0; r < spec.Height; r++ {
			src := m.Pix[r*m.Stride : r*m.Stride+spec.Width]
			copy(pix[r*spec.Width:], src)
		}
	case *image.Gray16:
		if spec.DType != raster.Int16 && spec.DType != raster.Uint16 {
			return nil, raster.NewError(raster.ClassDecode, "16-bit tiff for dtype %s", spec.DType)
		}
		// Gray16 stores samples big-endian; the array is little-endian.
		for r := 0; r < spec.Height; r++ {
			for c := 0; c < spec.Width; c++ {
				off := r*m.Stride + c*2
				v := uint16(m.Pix[off])<<8 | uint16(m.Pix[off+1])
				binary.LittleEndian.PutUint16(pix[(r*spec.Width+c)*2:], v)
			}
		}
	default:
		return nil, raster.NewError(raster.ClassDecode, "unsupported tiff color model for dtype %s", spec.DType)
	}

	arr, err := raster.NewArrayFrom(spec, pix)
	if err != nil {
		return nil, raster.WrapError(raster.ClassDecode, err, "wrap tiff samples")
	}
	return arr, nil
}
