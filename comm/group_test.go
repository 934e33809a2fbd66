package comm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCollectives_Local(t *testing.T) {
	for _, size := range []int{1, 2, 3, 5, 8} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			err := RunLocal(testContext(t), size, func(ctx context.Context, g *Group) error {
				return exerciseCollectives(ctx, g)
			})
			require.NoError(t, err)
		})
	}
}

// exerciseCollectives runs every collective once and checks its result.
func exerciseCollectives(ctx context.Context, g *Group) error {
	n, r := g.Size(), g.Rank()
	root := n - 1

	if err := g.Barrier(ctx); err != nil {
		return err
	}

	buf := make([]float64, 4)
	if r == root {
		for i := range buf {
			buf[i] = float64(10 + i)
		}
	}
	if err := g.Bcast(ctx, buf, root); err != nil {
		return err
	}
	for i, v := range buf {
		if v != float64(10+i) {
			return fmt.Errorf("bcast: element %d = %v", i, v)
		}
	}

	gathered, err := g.GatherFloat64s(ctx, []float64{float64(r), float64(r * r)}, 0)
	if err != nil {
		return err
	}
	if r == 0 {
		for i := 0; i < n; i++ {
			if gathered[2*i] != float64(i) || gathered[2*i+1] != float64(i*i) {
				return fmt.Errorf("gather: block %d = %v", i, gathered[2*i:2*i+2])
			}
		}
	} else if gathered != nil {
		return errors.New("gather: non-root got a result")
	}

	sum, err := g.ReduceFloat64(ctx, float64(r+1), OpSum, 0)
	if err != nil {
		return err
	}
	if r == 0 && sum != float64(n*(n+1)/2) {
		return fmt.Errorf("reduce: sum = %v", sum)
	}

	maxv := make([]float64, 1)
	if err := g.Allreduce(ctx, []float64{float64(r)}, maxv, OpMax); err != nil {
		return err
	}
	if maxv[0] != float64(n-1) {
		return fmt.Errorf("allreduce: max = %v", maxv[0])
	}

	all := make([]float64, n)
	if err := g.Allgather(ctx, []float64{float64(r)}, all); err != nil {
		return err
	}
	for i, v := range all {
		if v != float64(i) {
			return fmt.Errorf("allgather: element %d = %v", i, v)
		}
	}

	send := make([]float64, n)
	for i := range send {
		send[i] = float64(100*r + i)
	}
	recv := make([]float64, n)
	if err := g.Alltoall(ctx, send, recv); err != nil {
		return err
	}
	for i, v := range recv {
		if v != float64(100*i+r) {
			return fmt.Errorf("alltoall: element %d = %v", i, v)
		}
	}

	var work int64
	if r == 0 {
		work = 1<<60 + 3
	}
	if err := g.BcastInt64(ctx, &work, 0); err != nil {
		return err
	}
	if work != 1<<60+3 {
		return fmt.Errorf("bcast int64: %d", work)
	}

	type record struct {
		Name  string
		Count int
	}
	rec := record{}
	if r == 0 {
		rec = record{Name: "ibcast", Count: 7}
	}
	if err := g.BcastValue(ctx, &rec, 0); err != nil {
		return err
	}
	if rec.Name != "ibcast" || rec.Count != 7 {
		return fmt.Errorf("bcast value: %+v", rec)
	}
	return g.Barrier(ctx)
}

func TestNonBlocking_Local(t *testing.T) {
	err := RunLocal(testContext(t), 4, func(ctx context.Context, g *Group) error {
		buf := make([]float64, 8)
		if g.Rank() == 0 {
			buf[7] = 42
		}
		reqs := []*Request{
			g.Ibcast(ctx, buf, 0),
			g.Ibarrier(ctx),
		}
		sum := make([]float64, 1)
		reqs = append(reqs, g.Iallreduce(ctx, []float64{1}, sum, OpSum))
		for _, req := range reqs {
			if err := req.Wait(ctx); err != nil {
				return err
			}
		}
		done, err := reqs[0].Test()
		if !done || err != nil {
			return fmt.Errorf("test after wait: %v %v", done, err)
		}
		if buf[7] != 42 || sum[0] != 4 {
			return fmt.Errorf("ibcast %v, iallreduce %v", buf[7], sum[0])
		}
		return nil
	})
	require.NoError(t, err)
}

func TestPointToPoint_Local(t *testing.T) {
	err := RunLocal(testContext(t), 2, func(ctx context.Context, g *Group) error {
		if g.Rank() == 0 {
			for i := 0; i < 3; i++ {
				if err := g.Send(ctx, []float64{float64(i)}, 1, 5); err != nil {
					return err
				}
			}
			return nil
		}
		v := make([]float64, 1)
		for i := 0; i < 3; i++ {
			if err := g.Recv(ctx, v, 0, 5); err != nil {
				return err
			}
			if v[0] != float64(i) {
				return fmt.Errorf("message %d out of order: %v", i, v[0])
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestReservedTag(t *testing.T) {
	g := NewGroup(NewLocal(1)[0])
	err := g.Send(context.Background(), []float64{1}, 0, -1)
	assert.Error(t, err)
}

func TestRunLocal_AbortUnblocksGroup(t *testing.T) {
	boom := errors.New("boom")
	err := RunLocal(testContext(t), 3, func(ctx context.Context, g *Group) error {
		if g.Rank() == 1 {
			return boom
		}
		// Never completes without rank 1.
		return g.Barrier(ctx)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestLocal_AbortFailsPendingRecv(t *testing.T) {
	comms := NewLocal(2)
	errc := make(chan error, 1)
	go func() {
		_, err := comms[0].Recv(context.Background(), 1, 0)
		errc <- err
	}()
	comms[1].Abort(errors.New("transport failure"))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(5 * time.Second):
		t.Fatal("Recv still blocked after Abort")
	}

	err := comms[0].Send(context.Background(), 1, 0, nil)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestLocal_InvalidRank(t *testing.T) {
	c := NewLocal(2)[0]
	err := c.Send(context.Background(), 2, 0, nil)
	var rerr RankError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 2, rerr.Rank)
}
