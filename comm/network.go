package comm

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Network implements Comm over the net package. Every process of the group
// creates a Network with the same address list and calls Init; ranks are
// assigned by sorting the addresses, so all processes agree on them without
// coordination. Init establishes an all-to-all set of connections: each pair
// of ranks has one connection per direction, the dialer only writes to it and
// the listener only reads from it.
//
// Messages are gob-encoded frames. A reader goroutine per incoming connection
// delivers them into the local mailbox, so Send never waits for the peer to
// post the matching Recv.
//
// Network is not built with security in mind: the password only guards against
// processes of a different run joining the group by mistake.
type Network struct {
	NetProto string        // network protocol, see net.Dial (default "tcp")
	Addr     string        // address of the local process; must be in Addrs
	Addrs    []string      // addresses of every process of the group
	Timeout  time.Duration // if set, Init fails when the group is not connected in time
	Password string

	// Listener, if set, is used instead of listening on Addr. It must be
	// bound to Addr.
	Listener net.Listener

	hashedPassword string

	myrank int
	nNodes int

	listener net.Listener
	peers    []*peer
	box      *mailbox

	closing   atomic.Bool
	abortOnce sync.Once
	closeOnce sync.Once
	readers   sync.WaitGroup
}

type peer struct {
	dial   net.Conn // send on
	enc    *gob.Encoder
	sendMu sync.Mutex

	listen net.Conn // receive from
	dec    *gob.Decoder
}

type initialMessage struct {
	Password string
	ID       int
}

type frameKind int

const (
	frameData frameKind = iota
	frameAbort
	frameBye
)

// frame is the unit sent over the wire.
type frame struct {
	Kind    frameKind
	Tag     int
	Payload []byte
	Cause   string
}

// Rank returns the local rank, or -1 before Init.
func (n *Network) Rank() int {
	if n.nNodes == 0 {
		return -1
	}
	return n.myrank
}

// Size returns the group size, or 0 before Init.
func (n *Network) Size() int {
	return n.nNodes
}

// Init connects the group. It must be called once, before any other method.
func (n *Network) Init(ctx context.Context) error {
	if n.NetProto == "" {
		n.NetProto = "tcp"
	}
	sum := sha256.Sum256([]byte(n.Password))
	n.hashedPassword = hex.EncodeToString(sum[:])

	addrs := append([]string(nil), n.Addrs...)
	sort.Strings(addrs)
	for i := 0; i < len(addrs)-1; i++ {
		if addrs[i] == addrs[i+1] {
			return fmt.Errorf("comm: network init: address %s listed twice", addrs[i])
		}
	}
	n.Addrs = addrs

	n.myrank = sort.SearchStrings(n.Addrs, n.Addr)
	if !(n.myrank < len(n.Addrs) && n.Addrs[n.myrank] == n.Addr) {
		return fmt.Errorf("comm: network init: local address %q not in the group list", n.Addr)
	}
	n.nNodes = len(n.Addrs)

	n.box = newMailbox()
	n.peers = make([]*peer, n.nNodes)
	for i := range n.peers {
		n.peers[i] = &peer{}
	}

	if n.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}

	if err := n.startConnections(ctx); err != nil {
		n.closeConns()
		return err
	}

	for i, p := range n.peers {
		if i == n.myrank {
			continue
		}
		n.readers.Add(1)
		go n.readLoop(i, p)
	}
	return nil
}

func (n *Network) startConnections(ctx context.Context) error {
	n.listener = n.Listener
	if n.listener == nil {
		l, err := net.Listen(n.NetProto, n.Addr)
		if err != nil {
			return fmt.Errorf("comm: network init: listen: %w", err)
		}
		n.listener = l
	}

	var listenErr, dialErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		listenErr = n.establishListenConnections(ctx)
	}()
	go func() {
		defer wg.Done()
		dialErr = n.establishDialConnections(ctx)
	}()
	wg.Wait()

	return errors.Join(listenErr, dialErr)
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// establishListenConnections accepts one connection from every other rank.
func (n *Network) establishListenConnections(ctx context.Context) error {
	// Unblock Accept when the context ends.
	stop := context.AfterFunc(ctx, func() { n.listener.Close() })
	defer stop()

	errs := make([]error, n.nNodes)
	var wg sync.WaitGroup
	for i := 0; i < n.nNodes-1; i++ {
		conn, err := n.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("waiting for peers: %w", ctx.Err())
			}
			wg.Wait()
			return fmt.Errorf("comm: network init: accept: %w", err)
		}

		wg.Add(1)
		go func(i int, conn net.Conn) {
			defer wg.Done()
			dec := gob.NewDecoder(conn)
			var msg initialMessage
			if err := dec.Decode(&msg); err != nil {
				errs[i] = err
				conn.Close()
				return
			}
			id, err := n.passwordAndID(msg)
			if err != nil {
				errs[i] = err
				conn.Close()
				return
			}
			if err := gob.NewEncoder(conn).Encode(initialMessage{Password: n.hashedPassword, ID: n.myrank}); err != nil {
				errs[i] = err
				conn.Close()
				return
			}
			n.peers[id].listen = conn
			n.peers[id].dec = dec
		}(i, conn)
	}
	wg.Wait()
	return joinErrors("accept", errs)
}

// establishDialConnections dials every other rank, retrying until the peer
// listens or the context ends.
func (n *Network) establishDialConnections(ctx context.Context) error {
	errs := make([]error, n.nNodes)
	var wg sync.WaitGroup
	for i := 0; i < n.nNodes; i++ {
		if i == n.myrank {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = n.dialPeer(ctx, i)
		}(i)
	}
	wg.Wait()
	return joinErrors("dial", errs)
}

func (n *Network) dialPeer(ctx context.Context, i int) error {
	var d net.Dialer
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	var conn net.Conn
	for {
		var err error
		conn, err = d.DialContext(ctx, n.NetProto, n.Addrs[i])
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", n.Addrs[i], err)
		case <-ticker.C:
		}
	}

	enc := gob.NewEncoder(conn)
	if err := enc.Encode(initialMessage{Password: n.hashedPassword, ID: n.myrank}); err != nil {
		conn.Close()
		return err
	}
	var msg initialMessage
	if err := gob.NewDecoder(conn).Decode(&msg); err != nil {
		conn.Close()
		return err
	}
	id, err := n.passwordAndID(msg)
	if err != nil {
		conn.Close()
		return err
	}
	if id != i {
		conn.Close()
		return fmt.Errorf("%s answered as rank %d, expected %d", n.Addrs[i], id, i)
	}
	n.peers[id].dial = conn
	n.peers[id].enc = enc
	return nil
}

// passwordAndID checks that the password matches what the network expects and
// that the id is valid.
func (n *Network) passwordAndID(msg initialMessage) (int, error) {
	if msg.Password != n.hashedPassword {
		return -1, errors.New("bad password")
	}
	if msg.ID >= n.nNodes || msg.ID < 0 || msg.ID == n.myrank {
		return -1, fmt.Errorf("bad id: %v", msg.ID)
	}
	return msg.ID, nil
}

func joinErrors(op string, errs []error) error {
	var msgs []string
	for i, err := range errs {
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("rank %d: %v", i, err))
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("comm: network init: %s: %s", op, strings.Join(msgs, "; "))
}

// readLoop delivers frames arriving from src until the connection closes.
func (n *Network) readLoop(src int, p *peer) {
	defer n.readers.Done()
	for {
		var f frame
		if err := p.dec.Decode(&f); err != nil {
			if !n.closing.Load() {
				n.box.failSource(src, fmt.Errorf("%w: rank %d: %v", ErrPeerLost, src, err))
			}
			return
		}
		switch f.Kind {
		case frameData:
			n.box.put(src, f.Tag, f.Payload)
		case frameAbort:
			n.box.fail(fmt.Errorf("%w by rank %d: %s", ErrAborted, src, f.Cause))
			return
		case frameBye:
			n.box.failSource(src, fmt.Errorf("%w: rank %d left the group", ErrClosed, src))
			return
		}
	}
}

func (n *Network) Send(ctx context.Context, dest, tag int, payload []byte) error {
	if err := checkRank(dest, n.nNodes); err != nil {
		return err
	}
	if n.closing.Load() {
		return ErrClosed
	}
	if err := n.box.failure(); err != nil {
		return err
	}
	if dest == n.myrank {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		n.box.put(n.myrank, tag, buf)
		return nil
	}
	return n.sendFrame(ctx, dest, frame{Kind: frameData, Tag: tag, Payload: payload})
}

func (n *Network) sendFrame(ctx context.Context, dest int, f frame) error {
	p := n.peers[dest]
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		p.dial.SetWriteDeadline(deadline)
		defer p.dial.SetWriteDeadline(time.Time{})
	}
	if err := p.enc.Encode(f); err != nil {
		return fmt.Errorf("comm: send to rank %d: %w", dest, err)
	}
	return nil
}

func (n *Network) Recv(ctx context.Context, src, tag int) ([]byte, error) {
	if err := checkRank(src, n.nNodes); err != nil {
		return nil, err
	}
	if n.closing.Load() {
		return nil, ErrClosed
	}
	return n.box.get(ctx, src, tag)
}

// Abort notifies every peer, fails local pending operations and closes the
// connections.
func (n *Network) Abort(cause error) {
	n.abortOnce.Do(func() {
		msg := "aborted"
		if cause != nil {
			msg = cause.Error()
		}
		n.broadcastFrame(frame{Kind: frameAbort, Cause: msg})
		err := ErrAborted
		if cause != nil {
			err = fmt.Errorf("%w: %v", ErrAborted, cause)
		}
		if n.box != nil {
			n.box.fail(err)
		}
		n.shutdown()
	})
}

// Close leaves the group gracefully.
func (n *Network) Close() error {
	n.closeOnce.Do(func() {
		if n.closing.Load() {
			return
		}
		n.broadcastFrame(frame{Kind: frameBye})
		n.shutdown()
	})
	return nil
}

func (n *Network) broadcastFrame(f frame) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i, p := range n.peers {
		if i == n.myrank || p.dial == nil {
			continue
		}
		n.sendFrame(ctx, i, f)
	}
}

func (n *Network) shutdown() {
	if n.closing.Swap(true) {
		return
	}
	n.closeConns()
	n.readers.Wait()
}

func (n *Network) closeConns() {
	if n.listener != nil {
		n.listener.Close()
	}
	for _, p := range n.peers {
		if p.dial != nil {
			p.dial.Close()
		}
		if p.listen != nil {
			p.listen.Close()
		}
	}
}
