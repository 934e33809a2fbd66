package overlapbench

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/alexshd/overlapbench/comm"
)

// Environment variables read by LoadEnv.
const (
	EnvMinElts          = "OPENHPCA_OVERLAP_MIN_NUM_ELTS"
	EnvMaxElts          = "OPENHPCA_OVERLAP_MAX_NUM_ELTS"
	EnvValidationSteps  = "OPENHPCA_OVERLAP_VALIDATION_STEPS"
	EnvCalibration      = "OPENHPCA_OVERLAP_CALIBRATION"
	EnvVerbose          = "OPENHPCA_OVERLAP_VERBOSE"
	EnvDebug            = "OPENHPCA_OVERLAP_DEBUG"
	EnvDataDriven       = "OPENHPCA_DATA_DRIVEN_EXECUTION"
	EnvCutoffTime       = "OPENHPCA_OVERLAP_CUTOFF_TIME" // milliseconds
	EnvIterations       = "OPENHPCA_DEFAULT_TDM_NUM_ITERS"
	EnvMaxIterations    = "OPENHPCA_MAX_TDM_NUM_ITERS"
	EnvOverlapThreshold = "OPENHPCA_OVERLAP_ACCEPTANCE_THRESHOLD"
)

const (
	DefaultMinElts          = 1
	DefaultDataDrivenMax    = 131072
	DefaultTimeDrivenMax    = 1000000
	DefaultDataDrivenIters  = 100
	DefaultTimeDrivenIters  = 25
	DefaultMaxIterations    = 50
	DefaultValidationSteps  = 2
	DefaultCutoffTime       = 500 * time.Millisecond
	DefaultOverlapThreshold = 5 // %
	DefaultWarmup           = 100

	// MaxCalibrationPoints bounds the number of iterations the time-driven
	// mode may ask for before it grows the message size instead.
	MaxCalibrationPoints = 1000
)

// Params is the run configuration. It is read once on the coordinator,
// replicated to every rank with Sync and never modified afterwards.
type Params struct {
	MinElts int // float64 elements exchanged, first size
	MaxElts int // float64 elements exchanged, last size

	Verbose     bool
	Debug       bool
	Calibration bool
	DataDriven  bool

	ValidationSteps  int           // failures needed at one work value before it is trusted
	CutoffTime       time.Duration // time-driven target reference time
	Iterations       int           // measured iterations per round
	MaxIterations    int           // time-driven iteration cap
	OverlapThreshold int           // % width of the final bisection interval
	Warmup           int           // data-driven warm-up iterations per round
}

// DefaultParams returns the defaults of the given mode.
func DefaultParams(dataDriven bool) Params {
	p := Params{
		MinElts:          DefaultMinElts,
		DataDriven:       dataDriven,
		ValidationSteps:  DefaultValidationSteps,
		CutoffTime:       DefaultCutoffTime,
		MaxIterations:    DefaultMaxIterations,
		OverlapThreshold: DefaultOverlapThreshold,
		Warmup:           DefaultWarmup,
	}
	if dataDriven {
		p.MaxElts = DefaultDataDrivenMax
		p.Iterations = DefaultDataDrivenIters
	} else {
		p.MaxElts = DefaultTimeDrivenMax
		p.Iterations = DefaultTimeDrivenIters
	}
	return p
}

// ParamsFromEnv is LoadEnv over the process environment.
func ParamsFromEnv() (Params, error) {
	return LoadEnv(os.LookupEnv)
}

// LoadEnv builds Params from variables returned by lookup. The mode selector
// is read first so that mode-dependent defaults apply to unset variables.
// Non-positive values of the tuning variables are ignored.
func LoadEnv(lookup func(string) (string, bool)) (Params, error) {
	env := envReader{lookup: lookup}

	p := DefaultParams(env.flag(EnvDataDriven))
	p.Verbose = env.flag(EnvVerbose)
	p.Debug = env.flag(EnvDebug)
	p.Calibration = env.flag(EnvCalibration)
	env.int(EnvMinElts, &p.MinElts, false)
	env.int(EnvMaxElts, &p.MaxElts, false)
	env.int(EnvValidationSteps, &p.ValidationSteps, false)
	env.int(EnvIterations, &p.Iterations, true)
	env.int(EnvMaxIterations, &p.MaxIterations, true)
	env.int(EnvOverlapThreshold, &p.OverlapThreshold, true)

	cutoff := 0
	env.int(EnvCutoffTime, &cutoff, true)
	if cutoff > 0 {
		p.CutoffTime = time.Duration(cutoff) * time.Millisecond
	}

	if env.err != nil {
		return Params{}, env.err
	}
	return p, p.Validate()
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) raw(name string) (int, bool) {
	s, ok := e.lookup(name)
	if !ok || s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		if e.err == nil {
			e.err = fmt.Errorf("invalid %s=%q: %w", name, s, err)
		}
		return 0, false
	}
	return v, true
}

func (e *envReader) flag(name string) bool {
	v, ok := e.raw(name)
	return ok && v != 0
}

func (e *envReader) int(name string, dst *int, positiveOnly bool) {
	v, ok := e.raw(name)
	if !ok || (positiveOnly && v <= 0) {
		return
	}
	*dst = v
}

// Validate rejects records the estimator cannot run with.
func (p Params) Validate() error {
	switch {
	case p.MinElts < 1:
		return fmt.Errorf("minimum number of elements must be positive, got %d", p.MinElts)
	case p.MaxElts < p.MinElts:
		return fmt.Errorf("maximum number of elements (%d) is below the minimum (%d)", p.MaxElts, p.MinElts)
	case p.ValidationSteps < 1:
		return fmt.Errorf("validation steps must be positive, got %d", p.ValidationSteps)
	case p.Iterations < 1:
		return fmt.Errorf("iterations must be positive, got %d", p.Iterations)
	case p.MaxIterations < 1:
		return fmt.Errorf("maximum iterations must be positive, got %d", p.MaxIterations)
	case p.OverlapThreshold < 1 || p.OverlapThreshold > 100:
		return fmt.Errorf("overlap threshold must be in [1,100], got %d", p.OverlapThreshold)
	case p.Warmup < 0:
		return fmt.Errorf("warmup must not be negative, got %d", p.Warmup)
	}
	return nil
}

// Sync replaces p on every rank with the coordinator's record, so all ranks
// agree regardless of how the launcher propagated the environment.
func (p *Params) Sync(ctx context.Context, g *comm.Group) error {
	if err := g.BcastValue(ctx, p, Coordinator); err != nil {
		return fmt.Errorf("sync params: %w", err)
	}
	return nil
}

// Display writes the parameter banner shown in verbose mode.
func (p Params) Display(w io.Writer) {
	onOff := func(b bool) string {
		if b {
			return "ON"
		}
		return "OFF"
	}
	fmt.Fprintf(w, "Parameters:\n")
	fmt.Fprintf(w, "Minimum number of elements exchanged: %d (%d bytes)\n", p.MinElts, p.MinElts*EltSize)
	fmt.Fprintf(w, "Maximum number of elements exchanged: %d (%d bytes)\n", p.MaxElts, p.MaxElts*EltSize)
	fmt.Fprintf(w, "Validation steps: %d\n", p.ValidationSteps)
	fmt.Fprintf(w, "Calibration: %s\n", onOff(p.Calibration))
	fmt.Fprintf(w, "Debug mode: %s\n", onOff(p.Debug))
	if p.DataDriven {
		fmt.Fprintf(w, "Data driven execution: ON\n")
	} else {
		fmt.Fprintf(w, "Time driven execution: ON (cutoff %v)\n", p.CutoffTime)
	}
	fmt.Fprintf(w, "\n")
}
