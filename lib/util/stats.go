package util

import (
	"math"
	"sort"
	"sync"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

// Stats summarises a series of samples, e.g. per operation latencies.
type Stats struct {
	Count        int     `json:"count"`
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
}

// NewStats computes Stats for values (population standard deviation).
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	min, max := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	mean := sum / float64(len(values))

	var squares float64
	for _, v := range values {
		squares += (v - mean) * (v - mean)
	}

	return Stats{
		Count:        len(values),
		StdDeviation: math.Sqrt(squares / float64(len(values))),
		Min:          min,
		Max:          max,
		Mean:         mean,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries are the inclusive upper bounds of the histogram buckets; one
// more bucket takes everything larger
var sizeBoundaries = []int{
	16, 64, 256, 1024, 4096,
	16384, 65536, 262144, 1048576,
	4194304, 16777216, 67108864,
	268435456, 1073741824,
}

// SizeHistogram tracks the distribution of byte sizes in exponential buckets.
//
// Thread-safety: all methods are safe for concurrent use.
type SizeHistogram struct {
	mu      sync.RWMutex
	buckets []int64
	count   int64
	sum     int64
}

// NewSizeHistogram returns an empty histogram.
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{buckets: make([]int64, len(sizeBoundaries)+1)}
}

// AddSample records one size.
func (h *SizeHistogram) AddSample(size int) {
	i := sort.SearchInts(sizeBoundaries, size)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.buckets[i]++
	h.count++
	h.sum += int64(size)
}

// Count returns the number of samples.
func (h *SizeHistogram) Count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Sum returns the sum of all samples.
func (h *SizeHistogram) Sum() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sum
}

// Average returns the mean sample size.
func (h *SizeHistogram) Average() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// Percentile estimates the given percentile (0-100) from the bucket midpoints.
func (h *SizeHistogram) Percentile(p int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 || p < 0 || p > 100 {
		return 0
	}
	target := int64(math.Ceil(float64(h.count) * float64(p) / 100))
	var seen int64
	for i, n := range h.buckets {
		seen += n
		if seen >= target && n > 0 {
			return bucketMidpoint(i)
		}
	}
	return int(h.sum / h.count)
}

// Distribution returns the bucket bounds and the share of samples (in percent)
// per bucket. The last share belongs to sizes above the last bound.
func (h *SizeHistogram) Distribution() ([]int, []float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	shares := make([]float64, len(h.buckets))
	if h.count == 0 {
		return sizeBoundaries, shares
	}
	for i, n := range h.buckets {
		shares[i] = float64(n) * 100 / float64(h.count)
	}
	return sizeBoundaries, shares
}

// Reset clears all samples.
func (h *SizeHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count, h.sum = 0, 0
	clear(h.buckets)
}

func bucketMidpoint(i int) int {
	switch {
	case i == 0:
		return sizeBoundaries[0] / 2
	case i < len(sizeBoundaries):
		return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
	default:
		return sizeBoundaries[len(sizeBoundaries)-1] * 2
	}
}
