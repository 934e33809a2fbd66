package overlapbench

import (
	"math"
	"sync/atomic"
	"time"
)

// sink keeps the busy loop observable so it cannot be optimized away. Ranks
// of a local group run DoWork concurrently.
var sink atomic.Uint64

// DoWork runs units iterations of a fixed arithmetic loop. It is the unit of
// injected computation.
//
//go:noinline
func DoWork(units int64) {
	x, y, a, b := 1.0, 1.0, 1.0, 1.0
	for i := int64(0); i < units; i++ {
		x = a*x + b
		y = a*y + b*x
		a = y / (x + 1)
		b = x / (y + 1)
	}
	sink.Store(math.Float64bits(x + y + a + b))
}

// WorkFunc runs units of work and returns how long it took.
type WorkFunc func(units int64) time.Duration

// TimedWork is the default WorkFunc: wall clock around DoWork.
func TimedWork(units int64) time.Duration {
	start := time.Now()
	DoWork(units)
	return time.Since(start)
}

// WorkEquivalence finds a work amount whose measured time reaches target.
// Starting at one unit, it doubles while the measured time is more than ten
// times short of target and grows by half otherwise, stopping at the first
// measurement >= target.
func WorkEquivalence(target time.Duration, measure WorkFunc) int64 {
	if measure == nil {
		measure = TimedWork
	}
	w := int64(1)
	for {
		t := measure(w)
		if t >= target {
			return w
		}
		if t <= 0 || float64(target)/float64(t) > 10 {
			w *= 2
		} else {
			w += max64(1, w/2)
		}
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
