package comm

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLoopbackNetworks creates size initialised Networks on 127.0.0.1, indexed
// by rank.
func newLoopbackNetworks(t *testing.T, size int) []*Network {
	t.Helper()
	listeners := make([]net.Listener, size)
	addrs := make([]string, size)
	for i := range listeners {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners[i] = l
		addrs[i] = l.Addr().String()
	}

	nets := make([]*Network, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for i := range nets {
		nets[i] = &Network{
			Addr:     addrs[i],
			Addrs:    addrs,
			Timeout:  10 * time.Second,
			Password: "overlap",
			Listener: listeners[i],
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = nets[i].Init(context.Background())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	sort.Slice(nets, func(i, j int) bool { return nets[i].Rank() < nets[j].Rank() })
	for i, n := range nets {
		require.Equal(t, i, n.Rank())
		require.Equal(t, size, n.Size())
	}
	return nets
}

func TestNetwork_Collectives(t *testing.T) {
	nets := newLoopbackNetworks(t, 3)

	ctx := testContext(t)
	errs := make([]error, len(nets))
	var wg sync.WaitGroup
	for i, n := range nets {
		wg.Add(1)
		go func(i int, n *Network) {
			defer wg.Done()
			errs[i] = exerciseCollectives(ctx, NewGroup(n))
		}(i, n)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	for _, n := range nets {
		assert.NoError(t, n.Close())
	}
}

func TestNetwork_AbortPropagates(t *testing.T) {
	nets := newLoopbackNetworks(t, 2)
	defer nets[0].Close()

	errc := make(chan error, 1)
	go func() {
		_, err := nets[0].Recv(context.Background(), 1, 0)
		errc <- err
	}()
	nets[1].Abort(errors.New("transport failure"))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(5 * time.Second):
		t.Fatal("Recv still blocked after peer Abort")
	}
}

func TestNetwork_BadPassword(t *testing.T) {
	l0, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	l1, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addrs := []string{l0.Addr().String(), l1.Addr().String()}

	a := &Network{Addr: addrs[0], Addrs: addrs, Timeout: 2 * time.Second, Password: "a", Listener: l0}
	b := &Network{Addr: addrs[1], Addrs: addrs, Timeout: 2 * time.Second, Password: "b", Listener: l1}

	var errA, errB error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); errA = a.Init(context.Background()) }()
	go func() { defer wg.Done(); errB = b.Init(context.Background()) }()
	wg.Wait()

	assert.Error(t, errA)
	assert.Error(t, errB)
}

func TestNetwork_LocalAddressMissing(t *testing.T) {
	n := &Network{Addr: "127.0.0.1:1", Addrs: []string{"127.0.0.1:2", "127.0.0.1:3"}}
	err := n.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the group list")
}
