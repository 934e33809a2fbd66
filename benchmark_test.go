package overlapbench

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	s := Summarize([]time.Duration{
		1 * time.Millisecond,
		2 * time.Millisecond,
		3 * time.Millisecond,
		4 * time.Millisecond,
	})

	assert.Equal(t, 2500*time.Microsecond, s.Mean)
	// Population stdev: sqrt(1.25) ms.
	assert.InDelta(t, float64(time.Duration(math.Sqrt(1.25)*float64(time.Millisecond))), float64(s.Stdev), float64(time.Microsecond))
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, 4*time.Millisecond, s.Max)
	assert.Equal(t, 10*time.Millisecond, s.Total)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestSummarizeSamples(t *testing.T) {
	samples := []Sample{
		{Post: time.Microsecond, Work: 8 * time.Millisecond, Wait: 2 * time.Millisecond},
		{Post: 3 * time.Microsecond, Work: 8 * time.Millisecond, Wait: 4 * time.Millisecond},
	}
	stats := SummarizeSamples(samples)

	assert.Equal(t, 2*time.Microsecond, stats.Post.Mean)
	assert.Equal(t, 8*time.Millisecond, stats.Work.Mean)
	assert.Equal(t, time.Duration(0), stats.Work.Stdev)
	assert.Equal(t, time.Millisecond, stats.Wait.Stdev)
	assert.Equal(t, samples[1].Total(), stats.Total.Max)
}

func TestRoundStats_PackUnpack(t *testing.T) {
	a := RoundStats{Work: Summary{Mean: 3 * time.Millisecond, Max: 4 * time.Millisecond}}
	b := RoundStats{Wait: Summary{Stdev: time.Microsecond, Total: time.Second}}

	ranks := UnpackRoundStats(append(a.Pack(), b.Pack()...))
	assert.Equal(t, []RoundStats{a, b}, ranks)

	assert.Equal(t, 1500*time.Microsecond, MeanOf(ranks, func(r RoundStats) time.Duration { return r.Work.Mean }))
	assert.Equal(t, time.Second, MaxOf(ranks, func(r RoundStats) time.Duration { return r.Wait.Total }))
}

func TestRequiredIterations(t *testing.T) {
	// (1.645 × 1 / (10 / 10))² = 2.706
	assert.InDelta(t, 2.706, RequiredIterations(10*time.Millisecond, time.Millisecond), 0.001)
	assert.Zero(t, RequiredIterations(10*time.Millisecond, 0))
	assert.True(t, math.IsInf(RequiredIterations(0, time.Millisecond), 1))
}

func TestOverlapPercent(t *testing.T) {
	tests := []struct {
		work, ref time.Duration
		want      float64
	}{
		{8 * time.Millisecond, 10 * time.Millisecond, 80},
		{12 * time.Millisecond, 10 * time.Millisecond, 100},
		{0, 10 * time.Millisecond, 0},
		{time.Millisecond, 0, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, OverlapPercent(tt.work, tt.ref), 1e-9, "work %v ref %v", tt.work, tt.ref)
	}
}
