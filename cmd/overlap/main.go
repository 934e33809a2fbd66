// Command overlap estimates how much computation a non-blocking collective
// lets a rank overlap with it.
//
// Every process of the group runs the same command. With -transport=local
// the whole group runs in this process:
//
//	overlap -collective ibcast -np 4
//
// With -transport=tcp each process is started with the same address list:
//
//	overlap -transport tcp -mpi-addr :5000 -mpi-alladdr :5000,:5001
//	overlap -transport tcp -mpi-addr :5001 -mpi-alladdr :5000,:5001
//
// The benchmark itself is configured through OPENHPCA_* environment variables,
// read on every process and taken from rank 0.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"github.com/alexshd/overlapbench"
	"github.com/alexshd/overlapbench/comm"
)

func main() {
	var (
		collective = flag.String("collective", "ibcast", "collective to benchmark: "+strings.Join(overlapbench.Collectives(), ", "))
		transport  = flag.String("transport", "local", "group transport: local or tcp")
		np         = flag.Int("np", 2, "number of ranks of a local group")
		network    comm.Network
	)
	network.RegisterFlags(flag.CommandLine)
	flag.Parse()

	p, err := overlapbench.ParamsFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := newLogger(p.Debug)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch *transport {
	case "local":
		err = comm.RunLocal(ctx, *np, func(ctx context.Context, g *comm.Group) error {
			return run(ctx, g, *collective, p, logger)
		})
	case "tcp":
		err = runNetwork(ctx, &network, *collective, p, logger)
	default:
		err = fmt.Errorf("unknown transport %q", *transport)
	}
	if err != nil {
		logger.Error("overlap failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
	}))
}

func runNetwork(ctx context.Context, n *comm.Network, collective string, p overlapbench.Params, logger *slog.Logger) error {
	if err := n.Init(ctx); err != nil {
		return fmt.Errorf("init network: %w", err)
	}
	defer n.Close()

	g := comm.NewGroup(n)
	if err := run(ctx, g, collective, p, logger); err != nil {
		g.Abort(err)
		return fmt.Errorf("rank %d: %w", g.Rank(), err)
	}
	return nil
}

// run is what every rank executes: take the coordinator's parameters, then
// estimate the overlap of the collective.
func run(ctx context.Context, g *comm.Group, collective string, p overlapbench.Params, logger *slog.Logger) error {
	if err := p.Sync(ctx, g); err != nil {
		return err
	}
	coll, err := overlapbench.NewCollective(collective, g, p.MaxElts)
	if err != nil {
		return err
	}
	defer coll.Close()

	return overlapbench.New(g, coll, p, overlapbench.WithLogger(logger)).Run(ctx)
}
