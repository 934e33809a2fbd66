package comm

import "context"

// Request tracks a non-blocking operation started by one of the Group.I*
// methods.
type Request struct {
	done chan struct{}
	err  error
}

// Go runs fn as a non-blocking operation. It lets operations built outside
// this package be waited for like the Group ones.
func Go(fn func() error) *Request {
	return startRequest(fn)
}

func startRequest(fn func() error) *Request {
	r := &Request{done: make(chan struct{})}
	go func() {
		r.err = fn()
		close(r.done)
	}()
	return r
}

// Wait blocks until the operation completes and returns its error.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Test reports whether the operation completed, without blocking.
func (r *Request) Test() (bool, error) {
	select {
	case <-r.done:
		return true, r.err
	default:
		return false, nil
	}
}
