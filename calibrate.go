package overlapbench

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alexshd/overlapbench/comm"
)

const (
	calibrationWarmup     = 100
	calibrationIterations = 1000
)

// PollProfile describes how one rank observed the completion of a single
// collective by polling it.
type PollProfile struct {
	Total time.Duration // time spent in all polls
	Max   time.Duration // longest poll
	Last  time.Duration // poll that saw the completion
	Count int
}

// Calibrate profiles iallreduce at every size from MinElts to MaxElts,
// doubling. It writes the mean latency of a post+wait, then the polling
// profile of each rank for one operation.
func Calibrate(ctx context.Context, g *comm.Group, p Params, w io.Writer) error {
	coll, err := NewCollective("iallreduce", g, p.MaxElts)
	if err != nil {
		return err
	}
	defer coll.Close()

	if g.Rank() == Coordinator {
		fmt.Fprintf(w, "Message size\tlatency (us)\n")
	}
	for n := p.MinElts; n <= p.MaxElts; n *= 2 {
		lat, err := latency(ctx, g, coll, n)
		if err != nil {
			return fmt.Errorf("calibrate latency at %d bytes: %w", n*EltSize, err)
		}
		if g.Rank() == Coordinator {
			fmt.Fprintf(w, "%d\t\t%f\n", n*EltSize, lat)
		}
	}

	for n := p.MinElts; n <= p.MaxElts; n *= 2 {
		profiles, err := pollProfiles(ctx, g, coll, n)
		if err != nil {
			return fmt.Errorf("calibrate wait at %d bytes: %w", n*EltSize, err)
		}
		if g.Rank() == Coordinator {
			writePollProfiles(w, profiles)
		}
	}
	return nil
}

func warmup(ctx context.Context, g *comm.Group, coll Collective, n int) error {
	if err := g.Barrier(ctx); err != nil {
		return err
	}
	for i := 0; i < calibrationWarmup; i++ {
		req, err := coll.Post(ctx, n)
		if err != nil {
			return err
		}
		if err := req.Wait(ctx); err != nil {
			return err
		}
		if err := g.Barrier(ctx); err != nil {
			return err
		}
	}
	return nil
}

// latency returns the mean post+wait time in microseconds, averaged over
// ranks on the coordinator.
func latency(ctx context.Context, g *comm.Group, coll Collective, n int) (float64, error) {
	if err := warmup(ctx, g, coll, n); err != nil {
		return 0, err
	}
	var elapsed time.Duration
	for i := 0; i < calibrationIterations; i++ {
		start := time.Now()
		req, err := coll.Post(ctx, n)
		if err != nil {
			return 0, err
		}
		if err := req.Wait(ctx); err != nil {
			return 0, err
		}
		elapsed += time.Since(start)
		if err := g.Barrier(ctx); err != nil {
			return 0, err
		}
	}
	us := float64(elapsed.Microseconds()) / calibrationIterations
	sum, err := g.ReduceFloat64(ctx, us, comm.OpSum, Coordinator)
	if err != nil {
		return 0, err
	}
	if err := g.Barrier(ctx); err != nil {
		return 0, err
	}
	return sum / float64(g.Size()), nil
}

// pollProfiles polls one collective until completion on every rank and
// gathers the profiles on the coordinator.
func pollProfiles(ctx context.Context, g *comm.Group, coll Collective, n int) ([]PollProfile, error) {
	if err := warmup(ctx, g, coll, n); err != nil {
		return nil, err
	}

	var prof PollProfile
	req, err := coll.Post(ctx, n)
	if err != nil {
		return nil, err
	}
	for {
		start := time.Now()
		done, err := req.Test()
		t := time.Since(start)
		if err != nil {
			return nil, err
		}
		prof.Total += t
		prof.Count++
		if t > prof.Max {
			prof.Max = t
		}
		if done {
			prof.Last = t
			break
		}
	}
	if err := g.Barrier(ctx); err != nil {
		return nil, err
	}

	v, err := g.GatherFloat64s(ctx, []float64{
		float64(prof.Total), float64(prof.Max), float64(prof.Last), float64(prof.Count),
	}, Coordinator)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	out := make([]PollProfile, g.Size())
	for i := range out {
		out[i] = PollProfile{
			Total: time.Duration(v[4*i]),
			Max:   time.Duration(v[4*i+1]),
			Last:  time.Duration(v[4*i+2]),
			Count: int(v[4*i+3]),
		}
	}
	return out, nil
}

func writePollProfiles(w io.Writer, profiles []PollProfile) {
	row := func(title string, f func(PollProfile) string) {
		vals := make([]string, len(profiles))
		for i, p := range profiles {
			vals[i] = f(p)
		}
		fmt.Fprintf(w, "%s\n%s\n", title, strings.Join(vals, " "))
	}
	us := func(d time.Duration) string { return fmt.Sprint(d.Microseconds()) }
	row("Total test times per rank (us) - 1 iteration", func(p PollProfile) string { return us(p.Total) })
	row("Max test times per rank (us) - 1 iteration", func(p PollProfile) string { return us(p.Max) })
	row("Last test times per rank (us) - 1 iteration", func(p PollProfile) string { return us(p.Last) })
	row("Test counts per rank - 1 iteration", func(p PollProfile) string { return fmt.Sprint(p.Count) })
}
