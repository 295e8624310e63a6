// Package testutil provides testing utilities for the raster downloader.
package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bfruehauf/rasterfetch/pkg/raster"
)

// MockImagery is a configurable in-memory imagery service. It serves the
// band spec endpoint and region pixel downloads with deterministic
// per-pixel values, and records request traffic so tests can assert on
// retry counts and concurrency.
type MockImagery struct {
	server *httptest.Server

	spec  raster.Spec
	value func(row, col int) float64

	mu           sync.Mutex
	specStatus   int
	regionFails  map[string]*regionFailure
	failAll      int
	delay        time.Duration
	quotaHeaders map[string]string

	// Traffic tracking
	specRequests   int
	regionRequests map[string]int
	inFlight       int
	maxInFlight    int
}

type regionFailure struct {
	remaining int
	status    int
}

// NewMockImagery creates a mock service for one band whose pixel at
// (row, col) has the given value.
func NewMockImagery(spec raster.Spec, value func(row, col int) float64) *MockImagery {
	m := &MockImagery{
		spec:           spec,
		value:          value,
		regionFails:    make(map[string]*regionFailure),
		regionRequests: make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the mock server base URL.
func (m *MockImagery) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockImagery) Close() {
	m.server.Close()
}

// SetSpecStatus makes the spec endpoint answer with an error status.
func (m *MockImagery) SetSpecStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specStatus = status
}

// FailRegion makes the region identified by its pixel ranges fail with
// status for the next times requests, then succeed.
func (m *MockImagery) FailRegion(rowStart, rowEnd, colStart, colEnd, times, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regionFails[regionKey(rowStart, rowEnd, colStart, colEnd)] = &regionFailure{
		remaining: times,
		status:    status,
	}
}

// FailAllRegions makes every region request fail with status.
func (m *MockImagery) FailAllRegions(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = status
}

// SetDelay delays each region response, for cancellation and
// concurrency tests.
func (m *MockImagery) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetQuotaHeaders attaches rate-limit headers to every response.
func (m *MockImagery) SetQuotaHeaders(remaining, resetSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotaHeaders = map[string]string{
		"X-RateLimit-Remaining": strconv.Itoa(remaining),
		"X-RateLimit-Reset":     strconv.Itoa(resetSeconds),
	}
}

// RegionRequests returns how many requests the region has received.
func (m *MockImagery) RegionRequests(rowStart, rowEnd, colStart, colEnd int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regionRequests[regionKey(rowStart, rowEnd, colStart, colEnd)]
}

// TotalRegionRequests returns the total region request count.
func (m *MockImagery) TotalRegionRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.regionRequests {
		total += n
	}
	return total
}

// SpecRequests returns how many spec requests were served.
func (m *MockImagery) SpecRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.specRequests
}

// MaxInFlight returns the highest number of simultaneous region
// requests observed.
func (m *MockImagery) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

func regionKey(rowStart, rowEnd, colStart, colEnd int) string {
	return fmt.Sprintf("%d:%d,%d:%d", rowStart, rowEnd, colStart, colEnd)
}

func (m *MockImagery) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	for k, v := range m.quotaHeaders {
		w.Header().Set(k, v)
	}
	m.mu.Unlock()

	if strings.HasSuffix(r.URL.Path, "/pixels") {
		m.handleRegion(w, r)
		return
	}
	m.handleSpec(w, r)
}

func (m *MockImagery) handleSpec(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.specRequests++
	status := m.specStatus
	m.mu.Unlock()

	if status != 0 {
		http.Error(w, "spec unavailable", status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.spec)
}

func (m *MockImagery) handleRegion(w http.ResponseWriter, r *http.Request) {
	rowStart, rowEnd, ok1 := parseRange(r.URL.Query().Get("rows"))
	colStart, colEnd, ok2 := parseRange(r.URL.Query().Get("cols"))
	if !ok1 || !ok2 {
		http.Error(w, "malformed pixel ranges", http.StatusBadRequest)
		return
	}
	if rowStart < 0 || rowEnd > m.spec.Height || colStart < 0 || colEnd > m.spec.Width ||
		rowEnd <= rowStart || colEnd <= colStart {
		http.Error(w, "pixel ranges out of bounds", http.StatusBadRequest)
		return
	}

	key := regionKey(rowStart, rowEnd, colStart, colEnd)

	m.mu.Lock()
	m.regionRequests[key]++
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	delay := m.delay
	failStatus := 0
	if m.failAll != 0 {
		failStatus = m.failAll
	} else if f := m.regionFails[key]; f != nil && f.remaining != 0 {
		failStatus = f.status
		if f.remaining > 0 {
			f.remaining--
		}
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(delay):
		}
	}

	if failStatus != 0 {
		http.Error(w, "injected failure", failStatus)
		return
	}

	payload, err := m.encodeRegion(rowStart, rowEnd, colStart, colEnd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Write(payload)
}

// encodeRegion builds the zip-wrapped raw payload for a region.
func (m *MockImagery) encodeRegion(rowStart, rowEnd, colStart, colEnd int) ([]byte, error) {
	px := m.spec.PixelBytes()
	data := make([]byte, (rowEnd-rowStart)*(colEnd-colStart)*px)

	i := 0
	for r := rowStart; r < rowEnd; r++ {
		for c := colStart; c < colEnd; c++ {
			putSample(data[i:], m.spec.DType, m.value(r, c))
			i += px
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, err := zw.Create("region.raw")
	if err != nil {
		return nil, err
	}
	if _, err := entry.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func putSample(buf []byte, dtype raster.DType, v float64) {
	switch dtype {
	case raster.Uint8:
		buf[0] = uint8(v)
	case raster.Int16:
		binary.LittleEndian.PutUint16(buf, uint16(int16(v)))
	case raster.Uint16:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case raster.Int32:
		binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
	case raster.Float32:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
	}
}

func parseRange(s string) (start, end int, ok bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err1 := strconv.Atoi(parts[0])
	end, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return start, end, true
}
