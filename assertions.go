package overlapbench

import (
	"testing"
)

// AssertionConfig contains the thresholds checked on overlap results.
type AssertionConfig struct {
	// Overlap range every measured size must fall in, in percent
	MinOverlap float64
	MaxOverlap float64

	// Acceptance threshold the search ran with
	ThresholdPct int
}

// DefaultAssertionConfig accepts any valid overlap with the default threshold.
func DefaultAssertionConfig() AssertionConfig {
	return AssertionConfig{
		MinOverlap:   0,
		MaxOverlap:   100,
		ThresholdPct: DefaultOverlapThreshold,
	}
}

// AssertBoundsOrdered verifies the search interval is not inverted.
//
// Property:
//
//	valid < invalid whenever both are known
func AssertBoundsOrdered(t *testing.T, s *Status) {
	t.Helper()

	if s.MaxValid != -1 && s.MinInvalid != -1 && s.MaxValid >= s.MinInvalid {
		t.Errorf("Bounds crossed: valid = %d, invalid = %d (%s)", s.MaxValid, s.MinInvalid, s.State())
	}
}

// AssertConverged verifies the search stopped on a narrow enough interval.
//
// Property:
//
//	invalid − valid ≤ invalid × threshold / 100
func AssertConverged(t *testing.T, s *Status, thresholdPct int) {
	t.Helper()

	AssertBoundsOrdered(t, s)
	if !s.Converged(thresholdPct) {
		t.Errorf("Search not converged: valid = %d, invalid = %d, threshold %d%%",
			s.MaxValid, s.MinInvalid, thresholdPct)
	}
}

// AssertOverlap verifies every size reports an overlap within the configured
// range, and that accepted work never exceeds the reference time.
func AssertOverlap(t *testing.T, results []SizeResult, cfg AssertionConfig) {
	t.Helper()

	if len(results) == 0 {
		t.Fatalf("No results")
	}
	for _, r := range results {
		if r.Overlap < cfg.MinOverlap || r.Overlap > cfg.MaxOverlap {
			t.Errorf("%d bytes: overlap = %.2f%% (range: [%.0f, %.0f])",
				r.Bytes(), r.Overlap, cfg.MinOverlap, cfg.MaxOverlap)
		}
		if r.Work == -1 && r.Overlap != 0 {
			t.Errorf("%d bytes: overlap %.2f%% without accepted work", r.Bytes(), r.Overlap)
		}
		if limit := r.Ref.Time + r.Ref.MaxStdev(); r.WorkTime > limit {
			t.Errorf("%d bytes: work time %v above %v", r.Bytes(), r.WorkTime, limit)
		}
	}
}

// PrintAnalysis outputs the results to the test log.
func PrintAnalysis(t *testing.T, results []SizeResult) {
	t.Helper()

	t.Logf("\n=== Overlap Analysis ===")
	t.Logf("  Bytes     Work units  Work time     Reference     Overlap")
	t.Logf("  --------  ----------  ------------  ------------  -------")
	for _, r := range results {
		t.Logf("  %-8d  %10d  %12v  %12v  %6.1f%%",
			r.Bytes(), r.Work, r.WorkTime, r.Ref.Time, r.Overlap)
	}
}
