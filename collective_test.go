package overlapbench

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexshd/overlapbench/comm"
)

func TestCollectives_Names(t *testing.T) {
	assert.Equal(t, []string{
		"iallgather", "iallreduce", "ialltoall", "ibarrier", "ibcast", "igather", "ireduce",
	}, Collectives())
}

func TestCollective_PostWait(t *testing.T) {
	for _, name := range Collectives() {
		t.Run(name, func(t *testing.T) {
			err := comm.RunLocal(testContext(t), 3, func(ctx context.Context, g *comm.Group) error {
				c, err := NewCollective(name, g, 16)
				if err != nil {
					return err
				}
				defer c.Close()
				if c.Name() != name {
					return fmt.Errorf("name %q", c.Name())
				}
				for _, n := range []int{0, 1, 8, 16} {
					req, err := c.Post(ctx, n)
					if err != nil {
						return err
					}
					if err := req.Wait(ctx); err != nil {
						return fmt.Errorf("%d elements: %w", n, err)
					}
				}
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestCollective_Bounds(t *testing.T) {
	g := comm.NewGroup(comm.NewLocal(1)[0])
	c, err := NewCollective("ibcast", g, 4)
	require.NoError(t, err)

	_, err = c.Post(context.Background(), 5)
	assert.Error(t, err)

	require.NoError(t, c.Close())
	_, err = c.Post(context.Background(), 1)
	assert.ErrorIs(t, err, errCollectiveClosed)
}

func TestNewCollective_Unknown(t *testing.T) {
	g := comm.NewGroup(comm.NewLocal(1)[0])
	_, err := NewCollective("iscan", g, 4)
	assert.ErrorIs(t, err, ErrUnknownCollective)
}
