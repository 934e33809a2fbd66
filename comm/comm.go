// Package comm is a small message-passing runtime for the overlap benchmarks.
//
// It offers the primitives the estimator consumes and nothing more: tagged
// point-to-point messages, collectives built on top of them (see Group), their
// non-blocking variants, and a group-wide abort.
//
// Two transports implement Comm:
//
//   - NewLocal: every rank is a goroutine of the current process. Used by tests
//     and single-host runs.
//   - Network: every rank is a process; ranks are connected all-to-all over
//     the net package, in the manner of github.com/btracey/mpi.
//
// A program is written once against Comm/Group and runs identically on both.
// All ranks must issue collectives in the same order; the collective tag
// sequence relies on it.
package comm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAborted is returned by blocking operations once any rank of the group
	// called Abort.
	ErrAborted = errors.New("comm: group aborted")

	// ErrPeerLost is returned when a peer connection closes unexpectedly.
	ErrPeerLost = errors.New("comm: peer connection lost")

	// ErrClosed is returned by operations on a closed communicator.
	ErrClosed = errors.New("comm: communicator closed")
)

// Comm is a tagged point-to-point transport between a fixed set of ranks.
//
// Send is eager: it returns once the payload is handed to the transport and the
// caller may reuse its buffer. Recv blocks until a message with the given
// source and tag arrives, the context ends or the group aborts. Messages with
// equal (source, tag) are delivered in send order.
type Comm interface {
	Rank() int
	Size() int
	Send(ctx context.Context, dest, tag int, payload []byte) error
	Recv(ctx context.Context, src, tag int) ([]byte, error)

	// Abort tears down the whole group: every pending and future blocking
	// call on every rank fails with ErrAborted.
	Abort(cause error)
	Close() error
}

// RankError reports an invalid peer rank.
type RankError struct {
	Rank int
	Size int
}

func (e RankError) Error() string {
	return fmt.Sprintf("comm: rank %d out of range [0,%d)", e.Rank, e.Size)
}

func checkRank(rank, size int) error {
	if rank < 0 || rank >= size {
		return RankError{Rank: rank, Size: size}
	}
	return nil
}
