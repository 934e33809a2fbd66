package comm

import (
	"context"
	"sync"
)

type mailKey struct {
	src int
	tag int
}

// mailbox holds messages delivered to one rank until they are received.
// It is shared by both transports.
type mailbox struct {
	mu      sync.Mutex
	queues  map[mailKey][][]byte
	waiters map[mailKey]chan struct{}

	srcErr map[int]error

	failed chan struct{}
	err    error
}

func newMailbox() *mailbox {
	return &mailbox{
		queues:  make(map[mailKey][][]byte),
		waiters: make(map[mailKey]chan struct{}),
		srcErr:  make(map[int]error),
		failed:  make(chan struct{}),
	}
}

// put queues a message and wakes a receiver blocked on its key.
func (m *mailbox) put(src, tag int, payload []byte) {
	k := mailKey{src: src, tag: tag}
	m.mu.Lock()
	m.queues[k] = append(m.queues[k], payload)
	if ch, ok := m.waiters[k]; ok {
		close(ch)
		delete(m.waiters, k)
	}
	m.mu.Unlock()
}

// get blocks until a message for (src, tag) is available.
func (m *mailbox) get(ctx context.Context, src, tag int) ([]byte, error) {
	k := mailKey{src: src, tag: tag}
	for {
		m.mu.Lock()
		if q := m.queues[k]; len(q) > 0 {
			payload := q[0]
			if len(q) == 1 {
				delete(m.queues, k)
			} else {
				q[0] = nil
				m.queues[k] = q[1:]
			}
			m.mu.Unlock()
			return payload, nil
		}
		if m.err != nil {
			err := m.err
			m.mu.Unlock()
			return nil, err
		}
		if err := m.srcErr[src]; err != nil {
			m.mu.Unlock()
			return nil, err
		}
		ch, ok := m.waiters[k]
		if !ok {
			ch = make(chan struct{})
			m.waiters[k] = ch
		}
		m.mu.Unlock()

		select {
		case <-ch:
		case <-m.failed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// fail makes every pending and future get return err. Only the first call
// has an effect.
func (m *mailbox) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return
	}
	m.err = err
	close(m.failed)
}

// failSource makes receives from src fail with err once its queued messages
// are drained. Receives from other sources are unaffected.
func (m *mailbox) failSource(src int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.srcErr[src] != nil {
		return
	}
	m.srcErr[src] = err
	for k, ch := range m.waiters {
		if k.src == src {
			close(ch)
			delete(m.waiters, k)
		}
	}
}

func (m *mailbox) failure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}
