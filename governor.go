package overlapbench

import (
	"fmt"
	"time"
)

// Governor makes the per-round decision of the coordinator. It owns the
// Status of the message size being searched and turns the timings of a round
// into the next work value.
//
// Control loop:
//   - a round passes when its time stays within ref + stdev
//   - a failing round at a single work unit means the collective cannot
//     overlap any work
//   - in time-driven runs, a pass at or above the reference-equivalent work
//     ends the search at full overlap
//   - otherwise the Status picks the next candidate, and the search ends once
//     the bounds are within the acceptance threshold
type Governor struct {
	status    *Status
	threshold int // %

	rounds  int
	retries int
}

// ActionType represents the governor's decision.
type ActionType string

const (
	ActionGrow        ActionType = "GROW"         // passed, no invalid bound yet
	ActionShrink      ActionType = "SHRINK"       // failed, no valid bound yet
	ActionRefine      ActionType = "REFINE"       // midpoint of known bounds
	ActionValidate    ActionType = "VALIDATE"     // failure not yet confirmed, retry
	ActionConverged   ActionType = "CONVERGED"    // bounds within threshold
	ActionNoOverlap   ActionType = "NO_OVERLAP"   // one work unit already too much
	ActionFullOverlap ActionType = "FULL_OVERLAP" // reference-equivalent work fits
	ActionAbort       ActionType = "ABORT"        // inconsistent search
)

// Round holds what the coordinator knows about one measured round. Times are
// per-iteration means.
type Round struct {
	Work    int64
	Time    time.Duration // measured iteration time with Work injected
	Ref     time.Duration // reference iteration time
	Stdev   time.Duration // acceptance margin
	RefWork int64         // work equivalent to Ref; 0 disables the full-overlap stop
}

// Limit is the largest Time that passes.
func (r Round) Limit() time.Duration {
	return r.Ref + r.Stdev
}

// Passed reports whether the round stayed within the limit.
func (r Round) Passed() bool {
	return r.Time <= r.Limit()
}

// Verdict is the outcome of Judge.
type Verdict struct {
	Type   ActionType
	Passed bool
	Next   int64 // Done when the search is over
	Reason string
}

// NewGovernor creates a governor for one message size.
func NewGovernor(validationSteps, thresholdPct int) *Governor {
	return &Governor{
		status:    NewStatus(validationSteps),
		threshold: thresholdPct,
	}
}

// Status exposes the search state.
func (g *Governor) Status() *Status { return g.status }

// Judge is the main decision function, called once per round.
func (g *Governor) Judge(r Round) (Verdict, error) {
	g.rounds++
	s := g.status
	passed := r.Passed()

	if !passed && r.Work <= 1 && r.Time > r.Ref {
		s.finish(nil)
		return Verdict{
			Type: ActionNoOverlap,
			Next: Done,
			Reason: fmt.Sprintf("no overlap: %v > %v with %d unit",
				r.Time, r.Ref, r.Work),
		}, nil
	}

	next, err := s.Update(r.Time, r.Limit(), passed, r.Work)
	if err != nil {
		s.finish(err)
		return Verdict{Type: ActionAbort, Passed: passed, Next: Done, Reason: err.Error()}, err
	}

	v := Verdict{Passed: passed, Next: next}
	switch {
	case passed && r.RefWork > 0 && r.Work >= r.RefWork:
		v.Type, v.Next = ActionFullOverlap, Done
		v.Reason = fmt.Sprintf("overlap okay with %d units, reference work %d", r.Work, r.RefWork)
	case s.Converged(g.threshold):
		v.Type, v.Next = ActionConverged, Done
		v.Reason = fmt.Sprintf("less than %d%% between valid %d and invalid %d",
			g.threshold, s.MaxValid, s.MinInvalid)
	case next <= 0:
		v.Type, v.Next = ActionConverged, Done
		v.Reason = "no candidate left"
	case !passed && s.State() == StateValidating:
		g.retries++
		v.Type = ActionValidate
		v.Reason = fmt.Sprintf("too much work (%v > %v), validating %d units",
			r.Time, r.Limit(), r.Work)
	case s.MinInvalid == -1:
		v.Type = ActionGrow
		v.Reason = fmt.Sprintf("overlap okay (%v <= %v), trying %d units", r.Time, r.Limit(), next)
	case s.MaxValid == -1:
		v.Type = ActionShrink
		v.Reason = fmt.Sprintf("too much work (%v > %v), trying %d units", r.Time, r.Limit(), next)
	default:
		v.Type = ActionRefine
		v.Reason = fmt.Sprintf("refining between %d and %d with %d units", s.MaxValid, s.MinInvalid, next)
	}
	if v.Next == Done {
		s.finish(nil)
	}
	return v, nil
}

// GetStatistics returns counters for debug output.
func (g *Governor) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"rounds":      g.rounds,
		"retries":     g.retries,
		"state":       string(g.status.State()),
		"max_valid":   g.status.MaxValid,
		"min_invalid": g.status.MinInvalid,
	}
}
