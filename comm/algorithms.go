package comm

import (
	"context"
	"fmt"
)

// barrier is a dissemination barrier: ceil(log2(n)) rounds, in round k every
// rank signals rank+k and waits for rank-k.
func (g *Group) barrier(ctx context.Context, tag int) error {
	n, r := g.Size(), g.Rank()
	for k := 1; k < n; k <<= 1 {
		if err := g.c.Send(ctx, (r+k)%n, tag, nil); err != nil {
			return fmt.Errorf("comm: barrier: %w", err)
		}
		if _, err := g.c.Recv(ctx, (r-k+n)%n, tag); err != nil {
			return fmt.Errorf("comm: barrier: %w", err)
		}
	}
	return nil
}

// bcastBytes distributes payload of root along a binomial tree and returns the
// payload every rank ends up with.
func (g *Group) bcastBytes(ctx context.Context, tag int, payload []byte, root int) ([]byte, error) {
	n, r := g.Size(), g.Rank()
	if err := checkRank(root, n); err != nil {
		return nil, err
	}
	vr := (r - root + n) % n

	mask := 1
	for mask < n {
		if vr&mask != 0 {
			src := (vr - mask + root) % n
			b, err := g.c.Recv(ctx, src, tag)
			if err != nil {
				return nil, fmt.Errorf("comm: bcast: recv from %d: %w", src, err)
			}
			payload = b
			break
		}
		mask <<= 1
	}

	for mask >>= 1; mask > 0; mask >>= 1 {
		if vr+mask < n {
			dst := (vr + mask + root) % n
			if err := g.c.Send(ctx, dst, tag, payload); err != nil {
				return nil, fmt.Errorf("comm: bcast: send to %d: %w", dst, err)
			}
		}
	}
	return payload, nil
}

func (g *Group) bcastFloat64s(ctx context.Context, tag int, buf []float64, root int) error {
	var payload []byte
	if g.Rank() == root {
		payload = encodeFloat64s(buf)
	}
	out, err := g.bcastBytes(ctx, tag, payload, root)
	if err != nil {
		return err
	}
	if g.Rank() == root {
		return nil
	}
	return decodeFloat64s(buf, out)
}

func (g *Group) gatherFloat64s(ctx context.Context, tag int, send, recv []float64, root int) error {
	n, r := g.Size(), g.Rank()
	if err := checkRank(root, n); err != nil {
		return err
	}
	if r != root {
		if err := g.c.Send(ctx, root, tag, encodeFloat64s(send)); err != nil {
			return fmt.Errorf("comm: gather: send to %d: %w", root, err)
		}
		return nil
	}

	m := len(send)
	if len(recv) < n*m {
		return fmt.Errorf("comm: gather: receive buffer holds %d elements, need %d", len(recv), n*m)
	}
	copy(recv[r*m:(r+1)*m], send)
	for src := 0; src < n; src++ {
		if src == root {
			continue
		}
		b, err := g.c.Recv(ctx, src, tag)
		if err != nil {
			return fmt.Errorf("comm: gather: recv from %d: %w", src, err)
		}
		if err := decodeFloat64s(recv[src*m:(src+1)*m], b); err != nil {
			return fmt.Errorf("comm: gather: from %d: %w", src, err)
		}
	}
	return nil
}

func (g *Group) reduce(ctx context.Context, tag int, send, recv []float64, op Op, root int) error {
	n, r := g.Size(), g.Rank()
	if err := checkRank(root, n); err != nil {
		return err
	}
	if r != root {
		if err := g.c.Send(ctx, root, tag, encodeFloat64s(send)); err != nil {
			return fmt.Errorf("comm: reduce: send to %d: %w", root, err)
		}
		return nil
	}

	if len(recv) < len(send) {
		return fmt.Errorf("comm: reduce: receive buffer holds %d elements, need %d", len(recv), len(send))
	}
	acc := recv[:len(send)]
	copy(acc, send)
	tmp := make([]float64, len(send))
	for src := 0; src < n; src++ {
		if src == root {
			continue
		}
		b, err := g.c.Recv(ctx, src, tag)
		if err != nil {
			return fmt.Errorf("comm: reduce: recv from %d: %w", src, err)
		}
		if err := decodeFloat64s(tmp, b); err != nil {
			return fmt.Errorf("comm: reduce: from %d: %w", src, err)
		}
		op.apply(acc, tmp)
	}
	return nil
}

func (g *Group) allreduce(ctx context.Context, rtag, btag int, send, recv []float64, op Op) error {
	if err := g.reduce(ctx, rtag, send, recv, op, 0); err != nil {
		return err
	}
	return g.bcastFloat64s(ctx, btag, recv[:len(send)], 0)
}

func (g *Group) allgather(ctx context.Context, gtag, btag int, send, recv []float64) error {
	if err := g.gatherFloat64s(ctx, gtag, send, recv, 0); err != nil {
		return err
	}
	return g.bcastFloat64s(ctx, btag, recv[:g.Size()*len(send)], 0)
}

func (g *Group) alltoall(ctx context.Context, tag int, send, recv []float64) error {
	n, r := g.Size(), g.Rank()
	if len(send)%n != 0 || len(recv) != len(send) {
		return fmt.Errorf("comm: alltoall: buffers of %d and %d elements for %d ranks", len(send), len(recv), n)
	}
	m := len(send) / n
	for dst := 0; dst < n; dst++ {
		if dst == r {
			continue
		}
		if err := g.c.Send(ctx, dst, tag, encodeFloat64s(send[dst*m:(dst+1)*m])); err != nil {
			return fmt.Errorf("comm: alltoall: send to %d: %w", dst, err)
		}
	}
	copy(recv[r*m:(r+1)*m], send[r*m:(r+1)*m])
	for src := 0; src < n; src++ {
		if src == r {
			continue
		}
		b, err := g.c.Recv(ctx, src, tag)
		if err != nil {
			return fmt.Errorf("comm: alltoall: recv from %d: %w", src, err)
		}
		if err := decodeFloat64s(recv[src*m:(src+1)*m], b); err != nil {
			return fmt.Errorf("comm: alltoall: from %d: %w", src, err)
		}
	}
	return nil
}
