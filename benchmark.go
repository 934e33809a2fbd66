package overlapbench

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Sample is one measured iteration: posting the collective, running the
// injected work and waiting for completion.
type Sample struct {
	Post time.Duration
	Work time.Duration
	Wait time.Duration
}

// Total is the iteration time.
func (s Sample) Total() time.Duration {
	return s.Post + s.Work + s.Wait
}

// Summary describes a series of durations.
type Summary struct {
	Mean  time.Duration
	Stdev time.Duration // population standard deviation
	Min   time.Duration
	Max   time.Duration
	Total time.Duration
}

// Summarize computes the summary of ds. An empty series has a zero summary.
func Summarize(ds []time.Duration) Summary {
	if len(ds) == 0 {
		return Summary{}
	}
	xs := make([]float64, len(ds))
	for i, d := range ds {
		xs[i] = float64(d)
	}
	mean, stdev := stat.PopMeanStdDev(xs, nil)
	return Summary{
		Mean:  time.Duration(mean),
		Stdev: time.Duration(stdev),
		Min:   time.Duration(floats.Min(xs)),
		Max:   time.Duration(floats.Max(xs)),
		Total: time.Duration(floats.Sum(xs)),
	}
}

// RoundStats is the per-rank result of a round.
type RoundStats struct {
	Post  Summary
	Work  Summary
	Wait  Summary
	Total Summary // per-iteration totals
}

// SummarizeSamples splits samples into their phases and summarizes each.
func SummarizeSamples(samples []Sample) RoundStats {
	post := make([]time.Duration, len(samples))
	work := make([]time.Duration, len(samples))
	wait := make([]time.Duration, len(samples))
	total := make([]time.Duration, len(samples))
	for i, s := range samples {
		post[i], work[i], wait[i], total[i] = s.Post, s.Work, s.Wait, s.Total()
	}
	return RoundStats{
		Post:  Summarize(post),
		Work:  Summarize(work),
		Wait:  Summarize(wait),
		Total: Summarize(total),
	}
}

// summaryWidth is the number of float64 a Summary packs into.
const summaryWidth = 5

// roundStatsWidth is the number of float64 a RoundStats packs into.
const roundStatsWidth = 4 * summaryWidth

func (s Summary) pack(dst []float64) {
	dst[0] = float64(s.Mean)
	dst[1] = float64(s.Stdev)
	dst[2] = float64(s.Min)
	dst[3] = float64(s.Max)
	dst[4] = float64(s.Total)
}

func unpackSummary(src []float64) Summary {
	return Summary{
		Mean:  time.Duration(src[0]),
		Stdev: time.Duration(src[1]),
		Min:   time.Duration(src[2]),
		Max:   time.Duration(src[3]),
		Total: time.Duration(src[4]),
	}
}

// Pack flattens r for a gather.
func (r RoundStats) Pack() []float64 {
	v := make([]float64, roundStatsWidth)
	r.Post.pack(v[0:])
	r.Work.pack(v[summaryWidth:])
	r.Wait.pack(v[2*summaryWidth:])
	r.Total.pack(v[3*summaryWidth:])
	return v
}

// UnpackRoundStats splits a gathered vector into one RoundStats per rank.
func UnpackRoundStats(v []float64) []RoundStats {
	n := len(v) / roundStatsWidth
	out := make([]RoundStats, n)
	for i := range out {
		b := v[i*roundStatsWidth:]
		out[i] = RoundStats{
			Post:  unpackSummary(b[0:]),
			Work:  unpackSummary(b[summaryWidth:]),
			Wait:  unpackSummary(b[2*summaryWidth:]),
			Total: unpackSummary(b[3*summaryWidth:]),
		}
	}
	return out
}

// MeanOf averages the durations picked from every rank.
func MeanOf(ranks []RoundStats, pick func(RoundStats) time.Duration) time.Duration {
	if len(ranks) == 0 {
		return 0
	}
	xs := make([]float64, len(ranks))
	for i, r := range ranks {
		xs[i] = float64(pick(r))
	}
	return time.Duration(stat.Mean(xs, nil))
}

// MaxOf returns the largest duration picked from every rank.
func MaxOf(ranks []RoundStats, pick func(RoundStats) time.Duration) time.Duration {
	if len(ranks) == 0 {
		return 0
	}
	xs := make([]float64, len(ranks))
	for i, r := range ranks {
		xs[i] = float64(pick(r))
	}
	return time.Duration(floats.Max(xs))
}

// confidenceZ is the critical value of a 90% confidence interval.
const confidenceZ = 1.645

// RequiredIterations estimates how many iterations are needed for the mean of
// a series with the given mean and stdev to be known within 10% at 90%
// confidence:
//
//	n = (1.645 × stdev / (mean / 10))²
func RequiredIterations(mean, stdev time.Duration) float64 {
	if mean <= 0 {
		return math.Inf(1)
	}
	return math.Pow(confidenceZ*float64(stdev)/(float64(mean)/10), 2)
}

// OverlapPercent is the share of ref that work represents, capped at 100.
func OverlapPercent(work, ref time.Duration) float64 {
	if ref <= 0 {
		return 0
	}
	return math.Min(100, float64(work)/float64(ref)*100)
}
