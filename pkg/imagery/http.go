package imagery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bfruehauf/rasterfetch/pkg/grid"
	"github.com/bfruehauf/rasterfetch/pkg/quota"
	"github.com/bfruehauf/rasterfetch/pkg/raster"
)

// Prometheus metrics for upstream requests.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raster_upstream_requests_total",
		Help: "Total imagery service requests by operation and status",
	}, []string{"operation", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "raster_upstream_request_duration_seconds",
		Help:    "Imagery service request duration in seconds by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raster_upstream_errors_total",
		Help: "Total imagery service errors by class",
	}, []string{"class"})
)

// maxPayloadBytes caps a region response body. Responses above the cap
// indicate an upstream that ignored the requested ranges.
const maxPayloadBytes = 256 << 20

// Config holds the HTTP client configuration.
type Config struct {
	// BaseURL of the imagery service, without a trailing slash.
	BaseURL string

	// UserAgent sent with every request (required by the service).
	UserAgent string

	// Timeout bounds each HTTP request. Defaults to 30s.
	Timeout time.Duration

	// Quota optionally gates region fetches on the shared service quota.
	// Nil disables gating.
	Quota *quota.Tracker
}

// HTTPClient talks to a REST imagery service. Region payloads come back
// as zip archives holding the encoded band region.
type HTTPClient struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// NewHTTPClient creates an imagery service client.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: log.With().Str("component", "imagery-client").Logger(),
	}, nil
}

// RasterSpec queries the band metadata endpoint. All failures carry the
// unavailable class: without dimensions no tiling can be attempted.
func (c *HTTPClient) RasterSpec(ctx context.Context, image, band string) (raster.Spec, error) {
	endpoint := fmt.Sprintf("%s/v1/images/%s/bands/%s", c.config.BaseURL, url.PathEscape(image), url.PathEscape(band))

	body, _, err := c.get(ctx, "spec", endpoint, func(status int) raster.ErrorClass {
		return raster.ClassUnavailable
	})
	if err != nil {
		if raster.ClassOf(err) == raster.ClassCancelled {
			return raster.Spec{}, err
		}
		return raster.Spec{}, &raster.Error{Class: raster.ClassUnavailable, Message: "query raster spec", Err: err}
	}

	var spec raster.Spec
	if err := json.Unmarshal(body, &spec); err != nil {
		return raster.Spec{}, raster.WrapError(raster.ClassUnavailable, err, "parse raster spec")
	}
	if err := spec.Validate(); err != nil {
		return raster.Spec{}, raster.WrapError(raster.ClassUnavailable, err, "validate raster spec")
	}

	c.logger.Debug().
		Str("image", image).
		Str("band", band).
		Int("height", spec.Height).
		Int("width", spec.Width).
		Str("dtype", string(spec.DType)).
		Msg("Raster spec retrieved")

	return spec, nil
}

// FetchRegion requests the encoded payload for one tile.
func (c *HTTPClient) FetchRegion(ctx context.Context, image, band string, tile grid.Tile) ([]byte, error) {
	if c.config.Quota != nil {
		allowed, err := c.config.Quota.ShouldAllowRequest(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Quota check failed, proceeding without gating")
		} else if !allowed {
			upstreamRequestsTotal.WithLabelValues("region", "quota_blocked").Inc()
			return nil, raster.NewError(raster.ClassTransient, "request blocked: quota critical")
		}
	}

	endpoint := fmt.Sprintf("%s/v1/images/%s/bands/%s/pixels?rows=%d:%d&cols=%d:%d",
		c.config.BaseURL, url.PathEscape(image), url.PathEscape(band),
		tile.RowStart, tile.RowEnd, tile.ColStart, tile.ColEnd)

	body, _, err := c.get(ctx, "region", endpoint, classifyRegionStatus)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", tile, err)
	}
	return body, nil
}

// get performs one GET request and returns the body. classify maps an
// HTTP error status to an error class for the calling operation.
func (c *HTTPClient) get(ctx context.Context, operation, endpoint string, classify func(status int) raster.ErrorClass) ([]byte, int, error) {
	start := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, raster.WrapError(raster.ClassPermanent, err, "create request")
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/octet-stream, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		class := classifyNetworkError(ctx, err)
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()
		upstreamRequestsTotal.WithLabelValues(operation, "network_error").Inc()
		c.logger.Warn().Err(err).Str("operation", operation).Msg("Imagery request failed")
		return nil, 0, &raster.Error{Class: class, Message: "imagery request", Err: err}
	}
	defer resp.Body.Close()

	if c.config.Quota != nil {
		if err := c.config.Quota.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update quota from headers")
		}
	}

	upstreamRequestsTotal.WithLabelValues(operation, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classify(resp.StatusCode)
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("operation", operation).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Imagery request error")

		return nil, resp.StatusCode, &raster.Error{
			Class:   class,
			Status:  resp.StatusCode,
			Message: resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes+1))
	if err != nil {
		class := classifyNetworkError(ctx, err)
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()
		return nil, resp.StatusCode, &raster.Error{Class: class, Message: "read response body", Err: err}
	}
	if len(body) > maxPayloadBytes {
		return nil, resp.StatusCode, raster.NewError(raster.ClassPermanent, "response exceeds %d bytes", maxPayloadBytes)
	}

	return body, resp.StatusCode, nil
}

// classifyRegionStatus maps a region-fetch status to an error class.
// Rate limiting and server errors are worth retrying with the same tile;
// anything else in the 4xx range means the request itself is wrong.
func classifyRegionStatus(status int) raster.ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return raster.ClassTransient
	case status >= 500:
		return raster.ClassTransient
	default:
		return raster.ClassPermanent
	}
}

// classifyNetworkError separates caller-initiated cancellation from
// genuine network failures, which are retryable.
func classifyNetworkError(ctx context.Context, err error) raster.ErrorClass {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return raster.ClassCancelled
	}
	return raster.ClassTransient
}
