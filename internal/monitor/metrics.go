package monitor

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/roach88/warrant/internal/clock"
)

// rawBufferAge bounds the shared raw sample buffer used for ad-hoc
// queries that need to look past an objective's own window (e.g. the
// error-rate denominator).
const rawBufferAge = time.Hour

// rawSample tags a sample with the objective it was recorded for.
type rawSample struct {
	objective string
	sample    MetricSample
}

// metricStore holds rolling sample windows, one per objective, plus the
// shared raw buffer. Windows are pruned on every insert; reads prune on
// the fly without mutating.
//
// Thread-safety: all methods are safe for concurrent use.
type metricStore struct {
	clock clock.Clock

	mu          sync.Mutex
	raw         []rawSample
	byObjective map[string][]MetricSample
	windows     map[string]time.Duration
}

func newMetricStore(c clock.Clock) *metricStore {
	return &metricStore{
		clock:       c,
		byObjective: make(map[string][]MetricSample),
		windows:     make(map[string]time.Duration),
	}
}

// setWindow fixes the retention window for an objective's samples.
func (s *metricStore) setWindow(objective string, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[objective] = window
}

// record appends a sample to the objective's window and the raw buffer,
// pruning both.
func (s *metricStore) record(objective string, sample MetricSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := sample.Timestamp
	if now.IsZero() {
		now = s.clock.Now()
		sample.Timestamp = now
	}

	s.raw = append(s.raw, rawSample{objective: objective, sample: sample})
	s.raw = pruneRaw(s.raw, now.Add(-rawBufferAge))

	window := s.windows[objective]
	if window <= 0 {
		window = rawBufferAge
	}
	kept := pruneSamples(s.byObjective[objective], now.Add(-window))
	s.byObjective[objective] = append(kept, sample)
}

// samples returns a copy of the objective's window samples no older than
// its window relative to now.
func (s *metricStore) samples(objective string, now time.Time) []MetricSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := s.windows[objective]
	if window <= 0 {
		window = rawBufferAge
	}
	cutoff := now.Add(-window)

	var out []MetricSample
	for _, sample := range s.byObjective[objective] {
		if !sample.Timestamp.Before(cutoff) {
			out = append(out, sample)
		}
	}
	return out
}

// rawCount counts raw-buffer samples for an objective since the cutoff.
// The raw buffer outlives short objective windows, which is what the
// error-rate denominator needs.
func (s *metricStore) rawCount(objective string, cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, entry := range s.raw {
		if entry.objective == objective && !entry.sample.Timestamp.Before(cutoff) {
			count++
		}
	}
	return count
}

// values extracts the sample values for percentile math.
func values(samples []MetricSample) []float64 {
	out := make([]float64, len(samples))
	for i, sample := range samples {
		out[i] = sample.Value
	}
	return out
}

// percentile computes the p-th percentile (0..100) by linear
// interpolation over the sorted values. Returns 0 for an empty input.
func percentile(vals []float64, p float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := float64(len(sorted)-1) * p / 100
	lower := int(math.Floor(rank))
	frac := rank - float64(lower)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}

func pruneSamples(samples []MetricSample, cutoff time.Time) []MetricSample {
	drop := 0
	for ; drop < len(samples); drop++ {
		if !samples[drop].Timestamp.Before(cutoff) {
			break
		}
	}
	if drop == 0 {
		return samples
	}
	return samples[drop:]
}

func pruneRaw(entries []rawSample, cutoff time.Time) []rawSample {
	drop := 0
	for ; drop < len(entries); drop++ {
		if !entries[drop].sample.Timestamp.Before(cutoff) {
			break
		}
	}
	if drop == 0 {
		return entries
	}
	return entries[drop:]
}
