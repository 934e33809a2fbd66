package overlapbench

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Done is the work value that ends a search.
const Done int64 = -1

// ErrInconsistentBounds reports an outcome that would leave the search with
// MaxValid >= MinInvalid.
var ErrInconsistentBounds = errors.New("inconsistent overlap bounds")

// SearchState names the phase of a Status.
type SearchState string

const (
	StateUpperBound SearchState = "searching-upper-bound" // no invalid bound yet
	StateLowerBound SearchState = "searching-lower-bound" // no valid bound yet
	StateRefining   SearchState = "refining"              // both bounds known
	StateValidating SearchState = "validating"            // failure streak in progress
	StateDone       SearchState = "done"
	StateError      SearchState = "error"
)

// Status is the bisection state of one message size. Bounds are work units;
// -1 means unknown. Once both are known, MaxValid < MinInvalid.
type Status struct {
	MaxValid   int64 // largest work seen not to slow the collective
	MinInvalid int64 // smallest work confirmed to slow it

	validationUnits     int64 // work value of the current failure streak, -1 if none
	validationCount     int
	validationThreshold int

	done bool
	err  error
}

// NewStatus returns a fresh search. A failure has to repeat threshold times
// at the same work value before it bounds the search.
func NewStatus(threshold int) *Status {
	if threshold < 1 {
		threshold = 1
	}
	return &Status{
		MaxValid:            -1,
		MinInvalid:          -1,
		validationUnits:     -1,
		validationThreshold: threshold,
	}
}

// ratio returns run/limit; a non-positive limit is infinitely exceeded.
func ratio(run, limit time.Duration) float64 {
	if limit <= 0 {
		return math.Inf(1)
	}
	return float64(run) / float64(limit)
}

func (s *Status) clearStreak() {
	s.validationUnits = -1
	s.validationCount = 0
}

// Update records the outcome of a round run with work units and returns the
// next work value to try.
//
// A failure starts or extends a streak at that work value. Until the streak
// reaches the threshold the bounds stay untouched and the same value is
// retried, unless run exceeds limit by more than 10x (retry at work/10) or 2x
// (retry at work/2), never at or below MaxValid. A jump that cannot go lower
// keeps the streak. A pass that interrupts a streak is jitter: the streak is
// dropped and, if the pass lands on MinInvalid, MinInvalid moves to
// MaxValid+2.
//
// An outcome contradicting the recorded bounds leaves s unchanged and returns
// Done with ErrInconsistentBounds.
func (s *Status) Update(run, limit time.Duration, passed bool, work int64) (int64, error) {
	r := ratio(run, limit)

	if !passed {
		if s.validationUnits != work {
			s.validationUnits = work
			s.validationCount = 0
		}
		s.validationCount++

		if s.validationCount < s.validationThreshold {
			jump := work
			switch {
			case r > 10:
				jump = s.above(work / 10)
			case r > 2:
				jump = s.above(work / 2)
			}
			if jump < work {
				s.clearStreak()
			}
			return jump, nil
		}
		s.clearStreak()
	}

	prev := *s
	if passed {
		jitter := s.validationUnits != -1
		s.clearStreak()
		if s.MaxValid == -1 || work > s.MaxValid {
			s.MaxValid = work
		}
		if jitter && s.MinInvalid != -1 && s.MaxValid == s.MinInvalid {
			s.MinInvalid = s.MaxValid + 2
		}
	} else if s.MinInvalid == -1 || work < s.MinInvalid {
		s.MinInvalid = work
	}

	if s.MaxValid != -1 && s.MinInvalid != -1 && s.MaxValid >= s.MinInvalid {
		*s = prev
		return Done, fmt.Errorf("%w: valid %d, invalid %d after %s at %d units",
			ErrInconsistentBounds, s.MaxValid, s.MinInvalid, outcome(passed), work)
	}
	return s.next(r)
}

func (s *Status) next(r float64) (int64, error) {
	switch {
	case s.MaxValid == -1 && s.MinInvalid == -1:
		return Done, fmt.Errorf("%w: no bound recorded", ErrInconsistentBounds)
	case s.MinInvalid == -1:
		return s.MaxValid * 2, nil
	case s.MaxValid == -1:
		if r > 10 {
			return atLeastOne(s.MinInvalid / 10), nil
		}
		return atLeastOne(s.MinInvalid / 2), nil
	}
	return s.MaxValid + (s.MinInvalid-s.MaxValid)/2, nil
}

// above keeps a retried value inside the open interval: past MaxValid and at
// least one unit.
func (s *Status) above(w int64) int64 {
	if w <= s.MaxValid {
		w = s.MaxValid + 1
	}
	return atLeastOne(w)
}

func atLeastOne(w int64) int64 {
	if w < 1 {
		return 1
	}
	return w
}

func outcome(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}

// Converged reports whether both bounds are known and the interval between
// them is at most pct percent of MinInvalid, or holds no untested value.
func (s *Status) Converged(pct int) bool {
	if s.MaxValid == -1 || s.MinInvalid == -1 {
		return false
	}
	width := s.MinInvalid - s.MaxValid
	return width <= s.MinInvalid*int64(pct)/100 || width <= 1
}

// State returns the current phase of the search.
func (s *Status) State() SearchState {
	switch {
	case s.err != nil:
		return StateError
	case s.done:
		return StateDone
	case s.validationUnits != -1:
		return StateValidating
	case s.MinInvalid == -1:
		return StateUpperBound
	case s.MaxValid == -1:
		return StateLowerBound
	}
	return StateRefining
}

func (s *Status) finish(err error) {
	s.done = true
	s.err = err
}

func (s *Status) String() string {
	return fmt.Sprintf("%s [valid %d, invalid %d]", s.State(), s.MaxValid, s.MinInvalid)
}
