package overlapbench

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearWork costs one microsecond per unit and records every probe.
type linearWork struct {
	probes []int64
}

func (l *linearWork) measure(units int64) time.Duration {
	l.probes = append(l.probes, units)
	return time.Duration(units) * time.Microsecond
}

func TestWorkEquivalence_Sequence(t *testing.T) {
	var l linearWork
	w := WorkEquivalence(time.Millisecond, l.measure)

	// ×2 while more than 10x short, then +50%.
	want := []int64{1, 2, 4, 8, 16, 32, 64, 128, 192, 288, 432, 648, 972, 1458}
	assert.Equal(t, want, l.probes)
	assert.Equal(t, int64(1458), w)
}

func TestWorkEquivalence_Deterministic(t *testing.T) {
	for _, target := range []time.Duration{time.Microsecond, 37 * time.Microsecond, 5 * time.Millisecond} {
		var a, b linearWork
		wa := WorkEquivalence(target, a.measure)
		wb := WorkEquivalence(target, b.measure)
		require.Equal(t, wa, wb, "target %v", target)

		for i := 1; i < len(a.probes); i++ {
			assert.Greater(t, a.probes[i], a.probes[i-1], "probes must increase")
		}
		for _, p := range a.probes[:len(a.probes)-1] {
			assert.Less(t, time.Duration(p)*time.Microsecond, target)
		}
		assert.GreaterOrEqual(t, time.Duration(wa)*time.Microsecond, target)
	}
}

func TestWorkEquivalence_ZeroTimeGrows(t *testing.T) {
	// Work below 16 units is too short for the clock.
	w := WorkEquivalence(time.Microsecond, func(units int64) time.Duration {
		if units < 16 {
			return 0
		}
		return time.Duration(units) * time.Nanosecond * 100
	})
	assert.Equal(t, int64(16), w)
}

func TestWorkEquivalence_NonPositiveTarget(t *testing.T) {
	assert.Equal(t, int64(1), WorkEquivalence(0, func(int64) time.Duration { return 0 }))
}

func TestTimedWork(t *testing.T) {
	DoWork(0)
	assert.Greater(t, TimedWork(1_000_000), time.Duration(0))
}
