package comm

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Group provides collectives over a Comm.
//
// Each collective call consumes one tag from a per-group sequence. Collective
// tags are negative so they never collide with point-to-point tags, which must
// be >= 0. Since every rank issues collectives in the same order, the n-th
// collective gets the same tag everywhere.
type Group struct {
	c   Comm
	seq atomic.Int64
}

// NewGroup wraps c. A Comm must be wrapped by a single Group.
func NewGroup(c Comm) *Group {
	return &Group{c: c}
}

func (g *Group) Rank() int  { return g.c.Rank() }
func (g *Group) Size() int  { return g.c.Size() }
func (g *Group) Comm() Comm { return g.c }

// Abort aborts the whole group. See Comm.Abort.
func (g *Group) Abort(cause error) { g.c.Abort(cause) }

func (g *Group) nextTag() int {
	return -int(g.seq.Add(1))
}

// Send sends vals to dest with a user tag.
func (g *Group) Send(ctx context.Context, vals []float64, dest, tag int) error {
	if tag < 0 {
		return fmt.Errorf("comm: negative tag %d is reserved", tag)
	}
	return g.c.Send(ctx, dest, tag, encodeFloat64s(vals))
}

// Recv receives into vals from src with a user tag.
func (g *Group) Recv(ctx context.Context, vals []float64, src, tag int) error {
	if tag < 0 {
		return fmt.Errorf("comm: negative tag %d is reserved", tag)
	}
	b, err := g.c.Recv(ctx, src, tag)
	if err != nil {
		return err
	}
	return decodeFloat64s(vals, b)
}

// Barrier blocks until every rank entered it.
func (g *Group) Barrier(ctx context.Context) error {
	return g.barrier(ctx, g.nextTag())
}

// Ibarrier is the non-blocking variant of Barrier.
func (g *Group) Ibarrier(ctx context.Context) *Request {
	tag := g.nextTag()
	return startRequest(func() error { return g.barrier(ctx, tag) })
}

// Bcast copies buf of root into buf of every other rank. All ranks must pass
// buffers of the same length.
func (g *Group) Bcast(ctx context.Context, buf []float64, root int) error {
	return g.bcastFloat64s(ctx, g.nextTag(), buf, root)
}

// Ibcast is the non-blocking variant of Bcast.
func (g *Group) Ibcast(ctx context.Context, buf []float64, root int) *Request {
	tag := g.nextTag()
	return startRequest(func() error { return g.bcastFloat64s(ctx, tag, buf, root) })
}

// Gather concatenates send of every rank, in rank order, into recv of root.
// recv must hold Size()*len(send) elements on root and is ignored elsewhere.
func (g *Group) Gather(ctx context.Context, send, recv []float64, root int) error {
	return g.gatherFloat64s(ctx, g.nextTag(), send, recv, root)
}

// Igather is the non-blocking variant of Gather.
func (g *Group) Igather(ctx context.Context, send, recv []float64, root int) *Request {
	tag := g.nextTag()
	return startRequest(func() error { return g.gatherFloat64s(ctx, tag, send, recv, root) })
}

// Reduce combines send of every rank element-wise with op into recv of root.
func (g *Group) Reduce(ctx context.Context, send, recv []float64, op Op, root int) error {
	return g.reduce(ctx, g.nextTag(), send, recv, op, root)
}

// Ireduce is the non-blocking variant of Reduce.
func (g *Group) Ireduce(ctx context.Context, send, recv []float64, op Op, root int) *Request {
	tag := g.nextTag()
	return startRequest(func() error { return g.reduce(ctx, tag, send, recv, op, root) })
}

// Allreduce is Reduce to rank 0 followed by Bcast of the result.
func (g *Group) Allreduce(ctx context.Context, send, recv []float64, op Op) error {
	rtag, btag := g.nextTag(), g.nextTag()
	return g.allreduce(ctx, rtag, btag, send, recv, op)
}

// Iallreduce is the non-blocking variant of Allreduce.
func (g *Group) Iallreduce(ctx context.Context, send, recv []float64, op Op) *Request {
	rtag, btag := g.nextTag(), g.nextTag()
	return startRequest(func() error { return g.allreduce(ctx, rtag, btag, send, recv, op) })
}

// Allgather is Gather to rank 0 followed by Bcast of the concatenation.
// recv must hold Size()*len(send) elements on every rank.
func (g *Group) Allgather(ctx context.Context, send, recv []float64) error {
	gtag, btag := g.nextTag(), g.nextTag()
	return g.allgather(ctx, gtag, btag, send, recv)
}

// Iallgather is the non-blocking variant of Allgather.
func (g *Group) Iallgather(ctx context.Context, send, recv []float64) *Request {
	gtag, btag := g.nextTag(), g.nextTag()
	return startRequest(func() error { return g.allgather(ctx, gtag, btag, send, recv) })
}

// Alltoall sends the i-th block of send to rank i and stores the block
// received from rank i as the i-th block of recv. Both buffers hold Size()
// blocks of equal length.
func (g *Group) Alltoall(ctx context.Context, send, recv []float64) error {
	return g.alltoall(ctx, g.nextTag(), send, recv)
}

// Ialltoall is the non-blocking variant of Alltoall.
func (g *Group) Ialltoall(ctx context.Context, send, recv []float64) *Request {
	tag := g.nextTag()
	return startRequest(func() error { return g.alltoall(ctx, tag, send, recv) })
}

// BcastInt64 broadcasts a single value from root.
func (g *Group) BcastInt64(ctx context.Context, v *int64, root int) error {
	// Sent as raw bytes: a float64 round trip loses precision above 2^53.
	var raw []byte
	if g.Rank() == root {
		raw = make([]byte, 8)
		putInt64(raw, *v)
	}
	out, err := g.bcastBytes(ctx, g.nextTag(), raw, root)
	if err != nil {
		return err
	}
	if len(out) != 8 {
		return fmt.Errorf("comm: bcast int64: payload of %d bytes", len(out))
	}
	*v = getInt64(out)
	return nil
}

// BcastFloat64 broadcasts a single value from root.
func (g *Group) BcastFloat64(ctx context.Context, v *float64, root int) error {
	buf := []float64{*v}
	if err := g.Bcast(ctx, buf, root); err != nil {
		return err
	}
	*v = buf[0]
	return nil
}

// BcastValue broadcasts an arbitrary gob-encodable value from root. v must
// be a pointer.
func (g *Group) BcastValue(ctx context.Context, v any, root int) error {
	var raw []byte
	if g.Rank() == root {
		var err error
		if raw, err = encodeValue(v); err != nil {
			return fmt.Errorf("comm: bcast value: %w", err)
		}
	}
	out, err := g.bcastBytes(ctx, g.nextTag(), raw, root)
	if err != nil {
		return err
	}
	if g.Rank() == root {
		return nil
	}
	return decodeValue(out, v)
}

// GatherFloat64s gathers vals of every rank to root. On root the result holds
// Size()*len(vals) elements in rank order; elsewhere it is nil.
func (g *Group) GatherFloat64s(ctx context.Context, vals []float64, root int) ([]float64, error) {
	var recv []float64
	if g.Rank() == root {
		recv = make([]float64, g.Size()*len(vals))
	}
	if err := g.Gather(ctx, vals, recv, root); err != nil {
		return nil, err
	}
	return recv, nil
}

// ReduceFloat64 reduces a single value to root. Only root's result is
// meaningful.
func (g *Group) ReduceFloat64(ctx context.Context, v float64, op Op, root int) (float64, error) {
	recv := []float64{0}
	if err := g.Reduce(ctx, []float64{v}, recv, op, root); err != nil {
		return 0, err
	}
	return recv[0], nil
}
