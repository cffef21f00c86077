package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/warrant/internal/testutil"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// TestPercentile_Interpolation tests linear interpolation: 95 samples at
// 100ms and 5 at 250ms give P95 near 100 and P99 at 250.
func TestPercentile_Interpolation(t *testing.T) {
	vals := make([]float64, 0, 100)
	for i := 0; i < 95; i++ {
		vals = append(vals, 100)
	}
	for i := 0; i < 5; i++ {
		vals = append(vals, 250)
	}

	assert.InDelta(t, 100, percentile(vals, 95), 10)
	assert.InDelta(t, 250, percentile(vals, 99), 1)
}

// TestPercentile_Edges tests empty input and the 0/100 bounds.
func TestPercentile_Edges(t *testing.T) {
	assert.Equal(t, float64(0), percentile(nil, 95))
	assert.Equal(t, float64(5), percentile([]float64{5}, 95))

	vals := []float64{30, 10, 20}
	assert.Equal(t, float64(10), percentile(vals, 0))
	assert.Equal(t, float64(30), percentile(vals, 100))
	assert.Equal(t, float64(20), percentile(vals, 50))
}

// TestMetricStore_WindowPruning tests that samples age out of the
// objective window on insert and on read.
func TestMetricStore_WindowPruning(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	store := newMetricStore(clk)
	store.setWindow("response_time", 5*time.Minute)

	store.record("response_time", MetricSample{Timestamp: clk.Now(), Value: 100})
	clk.Advance(4 * time.Minute)
	store.record("response_time", MetricSample{Timestamp: clk.Now(), Value: 200})
	assert.Len(t, store.samples("response_time", clk.Now()), 2)

	clk.Advance(2 * time.Minute)
	samples := store.samples("response_time", clk.Now())
	assert.Len(t, samples, 1)
	assert.Equal(t, float64(200), samples[0].Value)
}

// TestMetricStore_RawBufferOutlivesWindow tests that the shared raw
// buffer keeps samples for an hour past a short objective window.
func TestMetricStore_RawBufferOutlivesWindow(t *testing.T) {
	clk := testutil.NewFixedClock(testEpoch)
	store := newMetricStore(clk)
	store.setWindow("response_time", 5*time.Minute)

	store.record("response_time", MetricSample{Timestamp: clk.Now(), Value: 100})
	clk.Advance(30 * time.Minute)
	store.record("response_time", MetricSample{Timestamp: clk.Now(), Value: 100})

	assert.Len(t, store.samples("response_time", clk.Now()), 1)
	assert.Equal(t, 2, store.rawCount("response_time", clk.Now().Add(-time.Hour)))
	assert.Equal(t, 1, store.rawCount("response_time", clk.Now().Add(-time.Minute)))
}
