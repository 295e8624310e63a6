// Package export persists assembled bands into a blob bucket. The
// gocloud.dev/blob portable type keeps the writer agnostic of the
// backing store (filesystem, memory, S3, GCS).
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocloud.dev/blob"

	"github.com/bfruehauf/rasterfetch/pkg/assemble"
	"github.com/bfruehauf/rasterfetch/pkg/raster"
)

// Prometheus metrics for band exports.
var (
	exportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raster_exports_total",
		Help: "Total band exports by outcome",
	}, []string{"outcome"})

	exportBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raster_export_bytes_total",
		Help: "Total pixel bytes written to blob storage",
	})
)

// Metadata is the sidecar document written next to the pixel blob. It
// carries everything needed to reinterpret the raw samples, plus the
// gaps of a partial download.
type Metadata struct {
	Image      string       `json:"image"`
	Band       string       `json:"band"`
	Height     int          `json:"height"`
	Width      int          `json:"width"`
	DType      raster.DType `json:"dtype"`
	Complete   bool         `json:"complete"`
	Failed     []FailedSpan `json:"failed,omitempty"`
	ExportedAt time.Time    `json:"exported_at"`
}

// FailedSpan is the pixel range of one tile that holds fill values.
type FailedSpan struct {
	RowStart int    `json:"row_start"`
	RowEnd   int    `json:"row_end"`
	ColStart int    `json:"col_start"`
	ColEnd   int    `json:"col_end"`
	Error    string `json:"error"`
}

// Writer exports assembled bands to a bucket.
type Writer struct {
	bucket *blob.Bucket
	logger zerolog.Logger
}

// NewWriter creates a Writer over an open bucket. The caller keeps
// ownership of the bucket and closes it.
func NewWriter(bucket *blob.Bucket) (*Writer, error) {
	if bucket == nil {
		return nil, raster.NewError(raster.ClassConfiguration, "bucket is required")
	}
	return &Writer{
		bucket: bucket,
		logger: log.With().Str("component", "export").Logger(),
	}, nil
}

// Save writes the outcome under two keys: <key>.raw holds the raw
// little-endian samples, <key>.json the sidecar metadata. Partial
// outcomes are written too; the metadata records the gaps.
func (w *Writer) Save(ctx context.Context, key, image, band string, outcome *assemble.Outcome) error {
	if outcome == nil || outcome.Array == nil {
		return raster.NewError(raster.ClassConfiguration, "nothing to export")
	}

	spec := outcome.Array.Spec()
	meta := Metadata{
		Image:      image,
		Band:       band,
		Height:     spec.Height,
		Width:      spec.Width,
		DType:      spec.DType,
		Complete:   outcome.Complete(),
		ExportedAt: time.Now().UTC(),
	}
	for _, f := range outcome.Failed {
		meta.Failed = append(meta.Failed, FailedSpan{
			RowStart: f.Tile.RowStart,
			RowEnd:   f.Tile.RowEnd,
			ColStart: f.Tile.ColStart,
			ColEnd:   f.Tile.ColEnd,
			Error:    f.Err.Error(),
		})
	}

	pix := outcome.Array.Bytes()
	if err := w.bucket.WriteAll(ctx, key+".raw", pix, &blob.WriterOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		exportsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("writing pixel blob %s.raw: %w", key, err)
	}

	doc, err := json.Marshal(meta)
	if err != nil {
		exportsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("encoding metadata for %s: %w", key, err)
	}
	if err := w.bucket.WriteAll(ctx, key+".json", doc, &blob.WriterOptions{
		ContentType: "application/json",
	}); err != nil {
		exportsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("writing metadata %s.json: %w", key, err)
	}

	exportsTotal.WithLabelValues("success").Inc()
	exportBytesTotal.Add(float64(len(pix)))

	w.logger.Info().
		Str("key", key).
		Int("pixel_bytes", len(pix)).
		Bool("complete", meta.Complete).
		Int("failed_spans", len(meta.Failed)).
		Msg("Band exported")

	return nil
}
