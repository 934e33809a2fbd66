package overlapbench

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/alexshd/overlapbench/comm"
)

// EltSize is the size in bytes of one exchanged element.
const EltSize = 8

// Collective issues one non-blocking collective of the group.
type Collective interface {
	Name() string
	// Post starts the collective over nElts elements per rank.
	Post(ctx context.Context, nElts int) (*comm.Request, error)
	// Close releases the buffers.
	Close() error
}

// ErrUnknownCollective is returned by NewCollective for unsupported names.
var ErrUnknownCollective = errors.New("unknown collective")

var errCollectiveClosed = errors.New("collective closed")

// postFunc issues the collective over the first n elements of the buffers.
type postFunc func(ctx context.Context, g *comm.Group, send, recv []float64, n int) *comm.Request

type collectiveKind struct {
	// buffer lengths, in elements, for a group of size ranks exchanging n
	// elements each
	sendLen func(size, n int) int
	recvLen func(size, n int) int
	post    postFunc
}

func perRank(_, n int) int     { return n }
func perGroup(size, n int) int { return size * n }
func none(_, _ int) int        { return 0 }

var collectives = map[string]collectiveKind{
	"ibcast": {perRank, none, func(ctx context.Context, g *comm.Group, send, _ []float64, n int) *comm.Request {
		return g.Ibcast(ctx, send[:n], Coordinator)
	}},
	"igather": {perRank, perGroup, func(ctx context.Context, g *comm.Group, send, recv []float64, n int) *comm.Request {
		var out []float64
		if g.Rank() == Coordinator {
			out = recv[:g.Size()*n]
		}
		return g.Igather(ctx, send[:n], out, Coordinator)
	}},
	"ibarrier": {none, none, func(ctx context.Context, g *comm.Group, _, _ []float64, _ int) *comm.Request {
		return g.Ibarrier(ctx)
	}},
	"iallreduce": {perRank, perRank, func(ctx context.Context, g *comm.Group, send, recv []float64, n int) *comm.Request {
		return g.Iallreduce(ctx, send[:n], recv[:n], comm.OpSum)
	}},
	"ireduce": {perRank, perRank, func(ctx context.Context, g *comm.Group, send, recv []float64, n int) *comm.Request {
		return g.Ireduce(ctx, send[:n], recv[:n], comm.OpSum, Coordinator)
	}},
	"iallgather": {perRank, perGroup, func(ctx context.Context, g *comm.Group, send, recv []float64, n int) *comm.Request {
		return g.Iallgather(ctx, send[:n], recv[:g.Size()*n])
	}},
	"ialltoall": {perGroup, perGroup, func(ctx context.Context, g *comm.Group, send, recv []float64, n int) *comm.Request {
		return g.Ialltoall(ctx, send[:g.Size()*n], recv[:g.Size()*n])
	}},
}

// Collectives returns the supported collective names, sorted.
func Collectives() []string {
	names := make([]string, 0, len(collectives))
	for name := range collectives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type collective struct {
	name    string
	g       *comm.Group
	maxElts int
	post    postFunc

	send, recv []float64
	closed     bool
}

// NewCollective returns the named collective with buffers sized for maxElts
// elements per rank.
func NewCollective(name string, g *comm.Group, maxElts int) (Collective, error) {
	kind, ok := collectives[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (supported: %v)", ErrUnknownCollective, name, Collectives())
	}
	if maxElts < 0 {
		return nil, fmt.Errorf("%s: negative buffer size %d", name, maxElts)
	}
	c := &collective{
		name:    name,
		g:       g,
		maxElts: maxElts,
		post:    kind.post,
		send:    make([]float64, kind.sendLen(g.Size(), maxElts)),
		recv:    make([]float64, kind.recvLen(g.Size(), maxElts)),
	}
	for i := range c.send {
		c.send[i] = float64(g.Rank())
	}
	return c, nil
}

func (c *collective) Name() string { return c.name }

func (c *collective) Post(ctx context.Context, nElts int) (*comm.Request, error) {
	if c.closed {
		return nil, fmt.Errorf("%s: %w", c.name, errCollectiveClosed)
	}
	if nElts < 0 || nElts > c.maxElts {
		return nil, fmt.Errorf("%s: %d elements outside [0,%d]", c.name, nElts, c.maxElts)
	}
	return c.post(ctx, c.g, c.send, c.recv, nElts), nil
}

func (c *collective) Close() error {
	c.closed = true
	c.send, c.recv = nil, nil
	return nil
}
