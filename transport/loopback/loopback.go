// Package loopback implements an in-memory transport.Transport for
// tests and multi-node scenarios run in a single process. A Bus
// connects a set of peers; delivery is immediate and reliable except
// where a test explicitly wants otherwise (use Bus.SetDropProbability).
package loopback

import (
	"context"
	"math/rand"
	"sync"

	"github.com/pinode/mesh/linktable"
	"github.com/pinode/mesh/transport"
	"github.com/pinode/mesh/wire"
)

type inbound struct {
	src linktable.MAC
	buf [wire.FrameSize]byte
}

// Bus fans frames out to every peer attached to it, simulating a
// shared broadcast medium (the RF link the firmware talks over).
type Bus struct {
	mu    sync.Mutex
	peers map[linktable.MAC]*Link
	// dropProb is the fraction (0..1) of sends the bus silently
	// discards, modeling the unreliable datagram link. Defaults to 0.
	dropProb float64
	rng      *rand.Rand
}

// NewBus returns an empty bus. Peers attach via NewLink.
func NewBus() *Bus {
	return &Bus{
		peers: make(map[linktable.MAC]*Link),
		rng:   rand.New(rand.NewSource(1)),
	}
}

// SetDropProbability makes the bus discard a random fraction of sent
// frames, so tests can exercise retry/timeout logic under loss.
func (b *Bus) SetDropProbability(p float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropProb = p
}

// Link is one peer's attachment to a Bus; it implements transport.Transport.
type Link struct {
	bus    *Bus
	mac    linktable.MAC
	inbox  chan inbound
	closed chan struct{}
	once   sync.Once
}

// NewLink attaches a new peer with address mac to bus.
func (b *Bus) NewLink(mac linktable.MAC) *Link {
	l := &Link{
		bus:    b,
		mac:    mac,
		inbox:  make(chan inbound, 32),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	b.peers[mac] = l
	b.mu.Unlock()
	return l
}

var _ transport.Transport = (*Link)(nil)

// Send delivers buf to dst, or to every other peer when dst is the
// broadcast MAC. Delivery never blocks the sender; a full peer inbox
// drops the frame, matching net_send_raw's drop-on-congestion behavior.
func (l *Link) Send(dst linktable.MAC, buf [wire.FrameSize]byte) error {
	select {
	case <-l.closed:
		return transport.ErrClosed
	default:
	}

	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()

	if l.bus.dropProb > 0 && l.bus.rng.Float64() < l.bus.dropProb {
		return nil
	}

	deliver := func(peer *Link) {
		select {
		case peer.inbox <- inbound{src: l.mac, buf: buf}:
		default:
		}
	}

	if dst == linktable.BroadcastMAC {
		for mac, peer := range l.bus.peers {
			if mac != l.mac {
				deliver(peer)
			}
		}
		return nil
	}
	if peer, ok := l.bus.peers[dst]; ok {
		deliver(peer)
	}
	return nil
}

// Receive blocks until a frame arrives, ctx is canceled, or Close is called.
func (l *Link) Receive(ctx context.Context) (linktable.MAC, [wire.FrameSize]byte, error) {
	select {
	case in := <-l.inbox:
		return in.src, in.buf, nil
	case <-l.closed:
		return linktable.MAC{}, [wire.FrameSize]byte{}, transport.ErrClosed
	case <-ctx.Done():
		return linktable.MAC{}, [wire.FrameSize]byte{}, ctx.Err()
	}
}

// LocalMAC returns this link's own address.
func (l *Link) LocalMAC() linktable.MAC {
	return l.mac
}

// Close detaches the link from its bus.
func (l *Link) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.bus.mu.Lock()
		delete(l.bus.peers, l.mac)
		l.bus.mu.Unlock()
	})
	return nil
}
