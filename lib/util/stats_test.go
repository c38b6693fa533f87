package util

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStats(t *testing.T) {
	assert.Equal(t, Stats{}, NewStats(nil))

	s := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 8, s.Count)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 9.0, s.Max)
	assert.Equal(t, 5.0, s.Mean)
	assert.InDelta(t, 2.0, s.StdDeviation, 1e-9)
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	require.Equal(t, 0, h.Percentile(50))
	require.Equal(t, 0, h.Average())

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				h.AddSample(10)   // bucket <= 16
				h.AddSample(3000) // bucket <= 4096
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(200), h.Count())
	assert.Equal(t, int64(100*10+100*3000), h.Sum())
	assert.Equal(t, 1505, h.Average())
	assert.Equal(t, 8, h.Percentile(50))
	assert.Equal(t, (1024+4096)/2, h.Percentile(99))

	bounds, shares := h.Distribution()
	require.Len(t, shares, len(bounds)+1)
	assert.Equal(t, 50.0, shares[0])
	assert.Equal(t, 50.0, shares[4])

	h.AddSample(1 << 31)
	assert.Equal(t, sizeBoundaries[len(sizeBoundaries)-1]*2, h.Percentile(100))

	h.Reset()
	assert.Equal(t, int64(0), h.Count())
}
