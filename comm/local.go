package comm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// localGroup is the shared state of an in-process group.
type localGroup struct {
	boxes []*mailbox

	once  sync.Once
	cause error
}

func (g *localGroup) abort(cause error) {
	g.once.Do(func() {
		g.cause = cause
		err := ErrAborted
		if cause != nil {
			err = fmt.Errorf("%w: %v", ErrAborted, cause)
		}
		for _, b := range g.boxes {
			b.fail(err)
		}
	})
}

// Local is a rank of an in-process group created by NewLocal.
type Local struct {
	rank   int
	group  *localGroup
	closed bool
	mu     sync.Mutex
}

// NewLocal creates a group of size ranks living in the current process.
// The returned slice is indexed by rank; each Comm is meant to be driven by
// its own goroutine.
func NewLocal(size int) []*Local {
	if size < 1 {
		panic(fmt.Sprintf("comm: invalid local group size %d", size))
	}
	g := &localGroup{boxes: make([]*mailbox, size)}
	comms := make([]*Local, size)
	for i := range comms {
		g.boxes[i] = newMailbox()
		comms[i] = &Local{rank: i, group: g}
	}
	return comms
}

func (l *Local) Rank() int { return l.rank }
func (l *Local) Size() int { return len(l.group.boxes) }

// Send copies payload into the destination mailbox.
func (l *Local) Send(ctx context.Context, dest, tag int, payload []byte) error {
	if err := checkRank(dest, l.Size()); err != nil {
		return err
	}
	if err := l.usable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	l.group.boxes[dest].put(l.rank, tag, buf)
	return nil
}

func (l *Local) Recv(ctx context.Context, src, tag int) ([]byte, error) {
	if err := checkRank(src, l.Size()); err != nil {
		return nil, err
	}
	if err := l.usable(); err != nil {
		return nil, err
	}
	return l.group.boxes[l.rank].get(ctx, src, tag)
}

func (l *Local) Abort(cause error) {
	l.group.abort(cause)
}

func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *Local) usable() error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return l.group.boxes[l.rank].failure()
}

// RunLocal runs fn on every rank of a fresh local group of the given size and
// waits for all of them. The first rank to fail aborts the group, so the other
// ranks return instead of blocking forever; the returned error is that first
// failure.
func RunLocal(ctx context.Context, size int, fn func(ctx context.Context, g *Group) error) error {
	comms := NewLocal(size)
	eg, ctx := errgroup.WithContext(ctx)
	for _, c := range comms {
		c := c
		eg.Go(func() error {
			defer c.Close()
			if err := fn(ctx, NewGroup(c)); err != nil {
				err = fmt.Errorf("rank %d: %w", c.Rank(), err)
				c.Abort(err)
				return err
			}
			return nil
		})
	}
	err := eg.Wait()
	if cause := comms[0].group.cause; cause != nil {
		return cause
	}
	return err
}
