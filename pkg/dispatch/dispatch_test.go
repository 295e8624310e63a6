package dispatch

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bfruehauf/rasterfetch/internal/testutil"
	"github.com/bfruehauf/rasterfetch/pkg/fetch"
	"github.com/bfruehauf/rasterfetch/pkg/grid"
	"github.com/bfruehauf/rasterfetch/pkg/imagery"
	"github.com/bfruehauf/rasterfetch/pkg/raster"
)

func newFetcher(t *testing.T, baseURL string) *fetch.Fetcher {
	t.Helper()

	client, err := imagery.NewHTTPClient(imagery.Config{
		BaseURL:   baseURL,
		UserAgent: "rasterfetch-test/1.0",
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}
	return fetch.NewFetcher(client)
}

func fastConfig() Config {
	return Config{
		Concurrency:       4,
		MaxRetries:        2,
		FetchTimeout:      2 * time.Second,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		ProgressInterval:  1000,
	}
}

func planOrFatal(t *testing.T, spec raster.Spec, maxBytes int64) grid.Grid {
	t.Helper()
	g, err := grid.Plan(spec, maxBytes)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	return g
}

func TestDispatcher_Run_AllSuccess(t *testing.T) {
	spec := raster.Spec{Height: 20, Width: 10, DType: raster.Uint16}
	mock := testutil.NewMockImagery(spec, func(r, c int) float64 {
		return float64(r*10 + c)
	})
	defer mock.Close()

	g := planOrFatal(t, spec, 100) // 5 rows per strip
	d := New(newFetcher(t, mock.URL()), fastConfig())

	results := d.Run(context.Background(), "img", "B04", spec.DType, g)

	if len(results) != len(g) {
		t.Fatalf("Run() = %d results, want %d", len(results), len(g))
	}
	for i, res := range results {
		if !res.OK() {
			t.Fatalf("tile %d failed: %v", i, res.Err)
		}
		if res.Tile.Index != i {
			t.Errorf("result %d carries tile index %d", i, res.Tile.Index)
		}
		if res.Attempts != 1 {
			t.Errorf("tile %d took %d attempts, want 1", i, res.Attempts)
		}
	}
}

func TestDispatcher_Run_RetryBound(t *testing.T) {
	spec := raster.Spec{Height: 4, Width: 4, DType: raster.Uint8}
	mock := testutil.NewMockImagery(spec, func(r, c int) float64 { return 1 })
	defer mock.Close()
	mock.FailAllRegions(http.StatusServiceUnavailable)

	cfg := fastConfig()
	cfg.MaxRetries = 3

	g := planOrFatal(t, spec, spec.ByteSize())
	if len(g) != 1 {
		t.Fatalf("expected a single tile, got %d", len(g))
	}

	d := New(newFetcher(t, mock.URL()), cfg)
	results := d.Run(context.Background(), "img", "B04", spec.DType, g)

	res := results[0]
	if res.OK() {
		t.Fatal("tile should have failed")
	}
	if res.Attempts != 1+cfg.MaxRetries {
		t.Errorf("Attempts = %d, want %d", res.Attempts, 1+cfg.MaxRetries)
	}
	if got := mock.RegionRequests(0, 4, 0, 4); got != 1+cfg.MaxRetries {
		t.Errorf("upstream saw %d requests, want %d", got, 1+cfg.MaxRetries)
	}
}

func TestDispatcher_Run_PermanentNotRetried(t *testing.T) {
	spec := raster.Spec{Height: 4, Width: 4, DType: raster.Uint8}
	mock := testutil.NewMockImagery(spec, func(r, c int) float64 { return 1 })
	defer mock.Close()
	mock.FailAllRegions(http.StatusForbidden)

	g := planOrFatal(t, spec, spec.ByteSize())
	d := New(newFetcher(t, mock.URL()), fastConfig())

	results := d.Run(context.Background(), "img", "B04", spec.DType, g)

	res := results[0]
	if res.OK() {
		t.Fatal("tile should have failed")
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 for a permanent failure", res.Attempts)
	}
	if raster.ClassOf(res.Err) != raster.ClassPermanent {
		t.Errorf("ClassOf() = %q, want %q", raster.ClassOf(res.Err), raster.ClassPermanent)
	}
}

func TestDispatcher_Run_TransientThenSuccess(t *testing.T) {
	spec := raster.Spec{Height: 8, Width: 4, DType: raster.Uint8}
	mock := testutil.NewMockImagery(spec, func(r, c int) float64 {
		return float64(r)
	})
	defer mock.Close()

	g := planOrFatal(t, spec, 16) // 4 rows per strip, two tiles
	// Second tile fails twice, then recovers.
	mock.FailRegion(4, 8, 0, 4, 2, http.StatusInternalServerError)

	d := New(newFetcher(t, mock.URL()), fastConfig())
	results := d.Run(context.Background(), "img", "B04", spec.DType, g)

	if !results[0].OK() || results[0].Attempts != 1 {
		t.Errorf("tile 0: OK=%v attempts=%d, want success on first attempt", results[0].OK(), results[0].Attempts)
	}
	if !results[1].OK() {
		t.Fatalf("tile 1 should recover, got %v", results[1].Err)
	}
	if results[1].Attempts != 3 {
		t.Errorf("tile 1 Attempts = %d, want 3", results[1].Attempts)
	}
}

func TestDispatcher_Run_ConcurrencyBound(t *testing.T) {
	spec := raster.Spec{Height: 32, Width: 4, DType: raster.Uint8}
	mock := testutil.NewMockImagery(spec, func(r, c int) float64 { return 0 })
	defer mock.Close()
	mock.SetDelay(30 * time.Millisecond)

	cfg := fastConfig()
	cfg.Concurrency = 3

	g := planOrFatal(t, spec, 8) // 16 tiles
	d := New(newFetcher(t, mock.URL()), cfg)

	results := d.Run(context.Background(), "img", "B04", spec.DType, g)

	for i, res := range results {
		if !res.OK() {
			t.Fatalf("tile %d failed: %v", i, res.Err)
		}
	}
	if got := mock.MaxInFlight(); got > cfg.Concurrency {
		t.Errorf("max in-flight requests = %d, want <= %d", got, cfg.Concurrency)
	}
}

func TestDispatcher_Run_Cancellation(t *testing.T) {
	spec := raster.Spec{Height: 32, Width: 4, DType: raster.Uint8}
	mock := testutil.NewMockImagery(spec, func(r, c int) float64 { return 7 })
	defer mock.Close()
	mock.SetDelay(20 * time.Millisecond)

	cfg := fastConfig()
	cfg.Concurrency = 2

	g := planOrFatal(t, spec, 8) // 16 tiles, two at a time
	d := New(newFetcher(t, mock.URL()), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(90 * time.Millisecond)
		cancel()
	}()

	results := d.Run(ctx, "img", "B04", spec.DType, g)

	if len(results) != len(g) {
		t.Fatalf("Run() = %d results, want %d", len(results), len(g))
	}

	var ok, cancelled int
	for _, res := range results {
		switch {
		case res.OK():
			ok++
		case raster.ClassOf(res.Err) == raster.ClassCancelled:
			cancelled++
		default:
			t.Errorf("unexpected failure class %q: %v", raster.ClassOf(res.Err), res.Err)
		}
	}

	if ok == 0 {
		t.Error("expected some tiles to complete before cancellation")
	}
	if cancelled == 0 {
		t.Error("expected pending tiles to be finalized as cancelled")
	}
	if ok+cancelled != len(g) {
		t.Errorf("ok (%d) + cancelled (%d) != %d tiles", ok, cancelled, len(g))
	}
}

func TestDispatcher_Run_PanicBecomesFailure(t *testing.T) {
	spec := raster.Spec{Height: 4, Width: 4, DType: raster.Uint8}
	g := planOrFatal(t, spec, spec.ByteSize())

	d := New(fetch.NewFetcher(panickyClient{}), fastConfig())
	results := d.Run(context.Background(), "img", "B04", spec.DType, g)

	res := results[0]
	if res.OK() {
		t.Fatal("panicking worker should yield a failure result")
	}
	if raster.ClassOf(res.Err) != raster.ClassPermanent {
		t.Errorf("ClassOf() = %q, want %q", raster.ClassOf(res.Err), raster.ClassPermanent)
	}
}

func TestDispatcher_Run_OutputOrderStable(t *testing.T) {
	spec := raster.Spec{Height: 16, Width: 4, DType: raster.Uint8}
	mock := testutil.NewMockImagery(spec, func(r, c int) float64 { return 0 })
	defer mock.Close()

	// Randomized per-request latency shuffles completion order.
	mock.SetDelay(time.Millisecond)

	g := planOrFatal(t, spec, 8)
	d := New(newFetcher(t, mock.URL()), fastConfig())

	var wg sync.WaitGroup
	for run := 0; run < 3; run++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results := d.Run(context.Background(), "img", "B04", spec.DType, g)
			for i, res := range results {
				if res.Tile.Index != i {
					t.Errorf("result %d has tile index %d", i, res.Tile.Index)
				}
			}
		}()
	}
	wg.Wait()
}

type panickyClient struct{}

func (panickyClient) RasterSpec(ctx context.Context, image, band string) (raster.Spec, error) {
	return raster.Spec{}, nil
}

func (panickyClient) FetchRegion(ctx context.Context, image, band string, tile grid.Tile) ([]byte, error) {
	panic("exploded in flight")
}
