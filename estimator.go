package overlapbench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alexshd/overlapbench/comm"
)

// Coordinator is the rank making every decision of a run.
const Coordinator = 0

var (
	// ErrMaxEltsExhausted is returned when the message size would have to
	// grow past the configured maximum to reach the time target.
	ErrMaxEltsExhausted = errors.New("cannot further increase the number of elements")

	// ErrScaleTooSmall is returned by time-driven runs whose configuration
	// ends at the maximum message size.
	ErrScaleTooSmall = errors.New("scale is too small, unable to compute overlap")

	// ErrInvalidResults is returned when the accepted work time exceeds the
	// reference time of the slowest-varying rank.
	ErrInvalidResults = errors.New("invalid overlap results")
)

// sizeProbeIterations is the number of iterations used to probe a message
// size in time-driven runs.
const sizeProbeIterations = 5

// Estimator measures how much work overlaps with a collective. Every rank
// of the group runs its own Estimator with the same Params; only the
// Coordinator decides and reports.
type Estimator struct {
	g    *comm.Group
	coll Collective
	p    Params

	log  *slog.Logger
	out  io.Writer
	work func(units int64)
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Estimator) { e.log = l }
}

// WithOutput sets where results are written. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(e *Estimator) { e.out = w }
}

// WithWork replaces DoWork as the injected computation.
func WithWork(work func(units int64)) Option {
	return func(e *Estimator) { e.work = work }
}

// New returns an estimator driving coll over g.
func New(g *comm.Group, coll Collective, p Params, opts ...Option) *Estimator {
	e := &Estimator{
		g:    g,
		coll: coll,
		p:    p,
		log:  slog.Default(),
		out:  os.Stdout,
		work: DoWork,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("rank", g.Rank(), "collective", coll.Name())
	return e
}

func (e *Estimator) coordinator() bool {
	return e.g.Rank() == Coordinator
}

func (e *Estimator) debug(msg string, args ...any) {
	if e.coordinator() {
		e.log.Debug(msg, args...)
	}
}

// measureWork is the WorkFunc of the injected computation.
func (e *Estimator) measureWork(units int64) time.Duration {
	start := time.Now()
	e.work(units)
	return time.Since(start)
}

// Run runs the calibration if enabled, then the configured mode.
func (e *Estimator) Run(ctx context.Context) error {
	if e.p.Verbose && e.coordinator() {
		e.p.Display(e.out)
	}
	if e.p.Calibration {
		if err := Calibrate(ctx, e.g, e.p, e.out); err != nil {
			return err
		}
	}
	if e.p.DataDriven {
		_, err := e.RunDataDriven(ctx)
		return err
	}
	_, err := e.RunTimeDriven(ctx)
	return err
}

// iteration posts the collective, runs work units and waits for completion.
func (e *Estimator) iteration(ctx context.Context, nElts int, work int64) (Sample, error) {
	start := time.Now()
	req, err := e.coll.Post(ctx, nElts)
	if err != nil {
		return Sample{}, err
	}
	endPost := time.Now()
	if work > 0 {
		e.work(work)
	}
	endWork := time.Now()
	if err := req.Wait(ctx); err != nil {
		return Sample{}, fmt.Errorf("%s wait: %w", e.coll.Name(), err)
	}
	end := time.Now()
	return Sample{
		Post: endPost.Sub(start),
		Work: endWork.Sub(endPost),
		Wait: end.Sub(endWork),
	}, nil
}

// runRound runs warmup then iters measured iterations, each followed by a
// barrier, and returns the measured samples.
func (e *Estimator) runRound(ctx context.Context, nElts, warmup, iters int, work int64) ([]Sample, error) {
	if err := e.g.Barrier(ctx); err != nil {
		return nil, fmt.Errorf("round barrier: %w", err)
	}
	for i := 0; i < warmup; i++ {
		if _, err := e.iteration(ctx, nElts, work); err != nil {
			return nil, err
		}
		if err := e.g.Barrier(ctx); err != nil {
			return nil, fmt.Errorf("warmup barrier: %w", err)
		}
	}
	samples := make([]Sample, iters)
	for i := range samples {
		s, err := e.iteration(ctx, nElts, work)
		if err != nil {
			return nil, err
		}
		samples[i] = s
		if err := e.g.Barrier(ctx); err != nil {
			return nil, fmt.Errorf("iteration barrier: %w", err)
		}
	}
	return samples, nil
}

// gatherStats collects the round statistics of every rank on the
// coordinator. Other ranks get nil.
func (e *Estimator) gatherStats(ctx context.Context, stats RoundStats) ([]RoundStats, error) {
	v, err := e.g.GatherFloat64s(ctx, stats.Pack(), Coordinator)
	if err != nil {
		return nil, fmt.Errorf("gather round stats: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	return UnpackRoundStats(v), nil
}

// decide broadcasts the coordinator's work value and synchronizes the group
// before the next round.
func (e *Estimator) decide(ctx context.Context, work *int64) error {
	if err := e.g.BcastInt64(ctx, work, Coordinator); err != nil {
		return fmt.Errorf("broadcast work: %w", err)
	}
	if err := e.g.Barrier(ctx); err != nil {
		return fmt.Errorf("decision barrier: %w", err)
	}
	return nil
}

// Reference is the collective time without injected work. Only the
// coordinator holds it.
type Reference struct {
	Time       time.Duration // mean of the rank means
	Stdev      time.Duration // coordinator stdev, the acceptance margin
	RankTimes  []time.Duration
	RankStdevs []time.Duration
}

// MaxStdev is the largest rank stdev.
func (r Reference) MaxStdev() time.Duration {
	var m time.Duration
	for _, s := range r.RankStdevs {
		if s > m {
			m = s
		}
	}
	return m
}

// reference measures iters iterations without work on every rank and
// combines them on the coordinator.
func (e *Estimator) reference(ctx context.Context, nElts, iters int) (Reference, error) {
	samples, err := e.runRound(ctx, nElts, 0, iters, 0)
	if err != nil {
		return Reference{}, fmt.Errorf("reference: %w", err)
	}
	local := SummarizeSamples(samples).Total

	v, err := e.g.GatherFloat64s(ctx, []float64{float64(local.Mean), float64(local.Stdev)}, Coordinator)
	if err != nil {
		return Reference{}, fmt.Errorf("gather reference: %w", err)
	}
	if v == nil {
		return Reference{}, nil
	}

	ref := Reference{
		Stdev:      local.Stdev,
		RankTimes:  make([]time.Duration, e.g.Size()),
		RankStdevs: make([]time.Duration, e.g.Size()),
	}
	means := make([]time.Duration, e.g.Size())
	for i := range ref.RankTimes {
		ref.RankTimes[i] = time.Duration(v[2*i])
		ref.RankStdevs[i] = time.Duration(v[2*i+1])
		means[i] = ref.RankTimes[i]
	}
	ref.Time = Summarize(means).Mean
	return ref, nil
}

// SizeResult is the outcome of a data-driven measurement at one size.
type SizeResult struct {
	Elts     int
	Work     int64         // largest accepted work, -1 if none
	WorkTime time.Duration // mean work time of the accepted round
	Overlap  float64       // %
	Ref      Reference
	Ranks    []RoundStats // accepted round, per rank
}

// Bytes is the message size per rank.
func (r SizeResult) Bytes() int { return r.Elts * EltSize }

// RunDataDriven measures every message size from MinElts to MaxElts,
// doubling, and writes one line per size. Results are only filled on the
// coordinator.
func (e *Estimator) RunDataDriven(ctx context.Context) ([]SizeResult, error) {
	var results []SizeResult
	for n := e.p.MinElts; n <= e.p.MaxElts; n *= 2 {
		res, err := e.measureSize(ctx, n)
		if err != nil {
			return results, fmt.Errorf("%d bytes: %w", n*EltSize, err)
		}
		if e.coordinator() {
			if e.p.Verbose {
				writeRankTables(e.out, res, e.p.Iterations)
			}
			writeSizeLine(e.out, res)
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Estimator) measureSize(ctx context.Context, nElts int) (SizeResult, error) {
	res := SizeResult{Elts: nElts, Work: -1}
	gov := NewGovernor(e.p.ValidationSteps, e.p.OverlapThreshold)

	e.debug("getting reference data", "bytes", nElts*EltSize)
	ref, err := e.reference(ctx, nElts, e.p.Iterations)
	if err != nil {
		return res, err
	}
	res.Ref = ref

	var work int64
	if e.coordinator() {
		work = WorkEquivalence(ref.Time, e.measureWork)
		e.debug("work equivalence", "ref", ref.Time, "units", work)
	}
	if err := e.decide(ctx, &work); err != nil {
		return res, err
	}

	for work > 0 {
		samples, err := e.runRound(ctx, nElts, e.p.Warmup, e.p.Iterations, work)
		if err != nil {
			return res, err
		}
		ranks, err := e.gatherStats(ctx, SummarizeSamples(samples))
		if err != nil {
			return res, err
		}

		next := Done
		if e.coordinator() {
			v, err := gov.Judge(Round{
				Work:  work,
				Time:  MeanOf(ranks, func(r RoundStats) time.Duration { return r.Total.Mean }),
				Ref:   ref.Time,
				Stdev: ref.Stdev,
			})
			if err != nil {
				return res, err
			}
			e.debug(v.Reason, "action", v.Type, "status", gov.Status().String())
			if v.Passed && work == gov.Status().MaxValid {
				res.Work, res.Ranks = work, ranks
			}
			next = v.Next
		}
		if err := e.decide(ctx, &next); err != nil {
			return res, err
		}
		work = next
	}

	if !e.coordinator() || res.Work == -1 {
		return res, nil
	}
	res.WorkTime = MeanOf(res.Ranks, func(r RoundStats) time.Duration { return r.Work.Mean })
	if limit := ref.Time + ref.MaxStdev(); res.WorkTime > limit {
		return res, fmt.Errorf("%w: work time %v exceeds %v + %v",
			ErrInvalidResults, res.WorkTime, ref.Time, ref.MaxStdev())
	}
	res.Overlap = OverlapPercent(res.WorkTime, ref.Time)
	return res, nil
}

// TimeResult is the outcome of a time-driven run.
type TimeResult struct {
	Elts       int
	Iterations int
	Work       int64
	WorkTime   time.Duration // mean injected work time of the accepted round
	Ref        time.Duration
	Stdev      time.Duration
	Overlap    float64 // %
}

// Bytes is the message size per rank.
func (r TimeResult) Bytes() int { return r.Elts * EltSize }

// tdmConfig is the configuration the coordinator broadcasts while sizing a
// time-driven run.
type tdmConfig struct {
	Elts  int
	Iters int
	Again bool
}

// configInfo runs iters iterations without warmup, each preceded by a
// barrier, and returns the local mean and stdev of the time from the start
// of the work to the completion of the collective.
func (e *Estimator) configInfo(ctx context.Context, nElts, iters int, work int64) (Summary, error) {
	ts := make([]time.Duration, iters)
	for i := range ts {
		if err := e.g.Barrier(ctx); err != nil {
			return Summary{}, fmt.Errorf("config barrier: %w", err)
		}
		s, err := e.iteration(ctx, nElts, work)
		if err != nil {
			return Summary{}, err
		}
		ts[i] = s.Work + s.Wait
	}
	return Summarize(ts), nil
}

func (e *Estimator) syncConfig(ctx context.Context, cfg *tdmConfig) error {
	if err := e.g.BcastValue(ctx, cfg, Coordinator); err != nil {
		return fmt.Errorf("broadcast configuration: %w", err)
	}
	return nil
}

// grow doubles the element count, failing past MaxElts.
func (e *Estimator) grow(n int) (int, error) {
	if n*2 > e.p.MaxElts {
		return n, fmt.Errorf("%w beyond %d, please enlarge %s", ErrMaxEltsExhausted, n, EnvMaxElts)
	}
	return n * 2, nil
}

// RunTimeDriven sizes the message so that the collective takes at least
// CutoffTime, picks the iteration count from the observed variability, then
// searches the overlapping work at that single size. The report is written
// by the coordinator.
func (e *Estimator) RunTimeDriven(ctx context.Context) (TimeResult, error) {
	cfg := tdmConfig{Elts: e.p.MinElts, Iters: e.p.Iterations}

	for again := true; again; again = cfg.Again {
		sum, err := e.configInfo(ctx, cfg.Elts, sizeProbeIterations, 0)
		if err != nil {
			return TimeResult{}, err
		}
		if e.coordinator() {
			cfg.Again = sum.Mean < e.p.CutoffTime
			if cfg.Again {
				if cfg.Elts, err = e.grow(cfg.Elts); err != nil {
					return TimeResult{}, err
				}
			}
		}
		if err := e.syncConfig(ctx, &cfg); err != nil {
			return TimeResult{}, err
		}
	}
	e.debug("size reaches cutoff", "elts", cfg.Elts, "cutoff", e.p.CutoffTime)

	for again := true; again; again = cfg.Again {
		sum, err := e.configInfo(ctx, cfg.Elts, cfg.Iters, 0)
		if err != nil {
			return TimeResult{}, err
		}
		if e.coordinator() {
			required := RequiredIterations(sum.Mean, sum.Stdev)
			e.debug("required iterations", "n", required, "elts", cfg.Elts)
			cfg.Again = required > MaxCalibrationPoints
			if cfg.Again {
				if cfg.Elts, err = e.grow(cfg.Elts); err != nil {
					return TimeResult{}, err
				}
			} else {
				if required > float64(cfg.Iters) {
					cfg.Iters = int(required)
				}
				if required > float64(e.p.MaxIterations) {
					cfg.Iters = e.p.MaxIterations
				}
			}
		}
		if err := e.syncConfig(ctx, &cfg); err != nil {
			return TimeResult{}, err
		}
	}

	res := TimeResult{Elts: cfg.Elts, Iterations: cfg.Iters, Work: -1}
	ref, err := e.configInfo(ctx, cfg.Elts, cfg.Iters, 0)
	if err != nil {
		return res, err
	}
	res.Ref, res.Stdev = ref.Mean, ref.Stdev
	e.debug("consensus", "iterations", cfg.Iters, "elts", cfg.Elts, "ref", ref.Mean, "stdev", ref.Stdev)

	if cfg.Elts >= e.p.MaxElts {
		return res, fmt.Errorf("%w (%d elements)", ErrScaleTooSmall, cfg.Elts)
	}

	var work int64
	if e.coordinator() {
		work = WorkEquivalence(ref.Mean, e.measureWork)
		e.debug("work equivalence", "ref", ref.Mean, "units", work)
	}
	if err := e.decide(ctx, &work); err != nil {
		return res, err
	}
	refWork := work

	gov := NewGovernor(e.p.ValidationSteps, e.p.OverlapThreshold)
	full := false
	for work > 0 {
		e.debug("benchmark loop", "units", work)
		samples, err := e.runRound(ctx, cfg.Elts, 0, cfg.Iters, work)
		if err != nil {
			return res, err
		}

		next := Done
		if e.coordinator() {
			ts := make([]time.Duration, len(samples))
			ws := make([]time.Duration, len(samples))
			for i, s := range samples {
				ts[i], ws[i] = s.Work+s.Wait, s.Work
			}
			v, err := gov.Judge(Round{
				Work:    work,
				Time:    Summarize(ts).Mean,
				Ref:     res.Ref,
				Stdev:   res.Stdev,
				RefWork: refWork,
			})
			if err != nil {
				return res, err
			}
			e.debug(v.Reason, "action", v.Type, "status", gov.Status().String())
			if v.Passed {
				res.Work, res.WorkTime = work, Summarize(ws).Mean
			}
			full = v.Type == ActionFullOverlap
			next = v.Next
		}
		if err := e.decide(ctx, &next); err != nil {
			return res, err
		}
		work = next
	}

	if !e.coordinator() {
		return res, nil
	}
	if full {
		res.Overlap = 100
	} else {
		res.Overlap = OverlapPercent(res.WorkTime, res.Ref)
	}
	writeTimeReport(e.out, res)
	return res, nil
}
