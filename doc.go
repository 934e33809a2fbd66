// Package overlapbench measures how much host computation can overlap with a
// non-blocking collective operation.
//
// # Overview
//
// A collective is posted, some work is injected, then the collective is waited
// for. If the work fits in the time the collective needs anyway, the iteration
// takes no longer than the collective alone. overlapbench searches the largest
// amount of work for which that holds and reports it as a share of the
// collective time:
//
//	overlap = min(100, work time / reference time × 100)
//
// # Architecture
//
// The package components:
//
//   - params     - run configuration, read from OPENHPCA_* variables
//   - status     - bisection bounds with a jitter filter
//   - governor   - per-round decision of the coordinator
//   - benchmark  - timing samples and statistics
//   - work       - busy-loop work units and work/time equivalence
//   - collective - the collectives that can be measured
//   - estimator  - calibration and search, data-driven and time-driven
//   - calibrate  - latency and completion-polling profiles of iallreduce
//   - report     - result lines and verbose per-rank tables
//   - comm/      - the message-passing runtime the ranks run on
//
// # Quick Start
//
// Every rank runs the same code; rank 0 decides and reports:
//
//	err := comm.RunLocal(ctx, 4, func(ctx context.Context, g *comm.Group) error {
//	    p := overlapbench.DefaultParams(true)
//	    if err := p.Sync(ctx, g); err != nil {
//	        return err
//	    }
//	    coll, err := overlapbench.NewCollective("ibcast", g, p.MaxElts)
//	    if err != nil {
//	        return err
//	    }
//	    defer coll.Close()
//	    return overlapbench.New(g, coll, p).Run(ctx)
//	})
//
// # The Search
//
// A round passes when its mean iteration time t stays within the reference
// time plus one standard deviation:
//
//	t ≤ ref + σ
//
// Starting from the work equivalent to ref, passing rounds double the work
// until one fails, failing rounds divide it by 10 (t > 10 × limit) or 2 until
// one passes, then the interval is bisected:
//
//	next = valid + (invalid − valid) / 2
//
// A failure only bounds the search after ValidationSteps consecutive failures
// at the same work value. The search stops when
//
//	invalid − valid ≤ invalid × threshold / 100
//
// # Time-driven Runs
//
// Instead of sweeping sizes, the message size is grown until the collective
// takes CutoffTime, and the iteration count is chosen so that the mean is
// known within 10% at 90% confidence:
//
//	n = (1.645 × σ / (t / 10))²
package overlapbench
