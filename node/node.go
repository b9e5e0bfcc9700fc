// Package node implements the per-device mesh participant: the
// Join/Locate/Link handshake that forms one upstream and up to three
// downstream virtual links, the Status/Decay liveness machinery that
// keeps them honest, Freeze/Blackout network control, and the public
// send/receive surface hosted applications use.
//
// Where the firmware relies on ESP_TIMER_TASK serializing every
// callback onto one thread, Node instead guards its state with a
// single mutex: Go goroutines are not implicitly serialized the way
// FreeRTOS timer callbacks are, so the lock is load-bearing here even
// though the original comment beside NodeState argues it isn't needed.
package node

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinode/mesh/linktable"
	"github.com/pinode/mesh/outbound"
	"github.com/pinode/mesh/stats"
	"github.com/pinode/mesh/timerset"
	"github.com/pinode/mesh/transport"
	"github.com/pinode/mesh/wire"
)

// Timing constants, carried over unchanged from the firmware's
// net_layer.h (there expressed in microseconds).
const (
	PeriodLocate       = 25 * time.Second
	WindowLocate       = 5 * time.Second
	TimeoutLocate      = 1 * time.Second
	TimeoutProposeLink = 2 * time.Second
	TimeoutStatus      = 1 * time.Second
	TimeoutLinkDecay   = 30 * time.Second
	PeriodUpStatus     = 15 * time.Second
	WindowUpStatus     = 5 * time.Second
	LocateSize         = 16
)

// state flags, mirroring NodeState.flags in the original firmware.
type stateFlags uint32

const (
	flagLocating stateFlags = 1 << iota
	flagPendingLink
	flagUplinkStatus
	flagFrozen
)

// locateResponse records one LINK proposal received while locating.
type locateResponse struct {
	mac linktable.MAC
	id  wire.NodeID
}

// ErrOversizePayload is returned when a caller hands SendUp/SendDown
// more than wire.MaxPayload bytes.
var ErrOversizePayload = errors.New("node: payload exceeds maximum frame payload")

// ErrNoUplink is returned by SendUp when no upstream link is established.
var ErrNoUplink = errors.New("node: no upstream link")

// ErrRootSendUp is returned when the root node calls SendUp (it has
// nowhere to send up to).
var ErrRootSendUp = errors.New("node: root node has no upstream")

// ErrReceiveTimeout is returned by Receive when timeout elapses with no frame.
var ErrReceiveTimeout = errors.New("node: receive timed out")

// Node is one mesh participant.
type Node struct {
	mu sync.Mutex

	id     wire.NodeID
	isRoot bool
	flags  stateFlags

	table    linktable.Table
	appTable *linktable.AppTable

	locIdent  uint8
	locResp   []locateResponse
	pendingID wire.NodeID
	pendingMAC linktable.MAC

	// per-slot timer ids: slot 0 is the upstream status/probe timer,
	// slots 1..Size-1 are downstream decay timers.
	linkTimers [linktable.Size]timerset.ID
	locTimer   timerset.ID
	pendingTimer timerset.ID
	statusTimer  timerset.ID
	joinTimer    timerset.ID

	timers *timerset.Set
	out    *outbound.Sender
	tr     transport.Transport

	rng *rand.Rand

	recvCancel context.CancelFunc
	recvDone   chan struct{}

	onRestart func(time.Duration)

	counters *stats.Counters
}

// SetCounters attaches a stats.Counters for received-frame and
// app-delivery accounting. Passing nil (the default) disables it.
func (n *Node) SetCounters(c *stats.Counters) {
	n.counters = c
	n.out.SetCounters(c)
}

// New constructs a Node bound to tr. Call Init to actually join or
// seed the network, and Close to release goroutines.
func New(tr transport.Transport) *Node {
	n := &Node{
		appTable: linktable.NewAppTable(),
		timers:   timerset.New(),
		out:      outbound.New(tr),
		tr:       tr,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	return n
}

// Init assigns this node's id and either seeds it as the tree root
// (isRoot) or starts the Join timer to begin locating an upstream
// peer. ownID must be nonzero.
func (n *Node) Init(ownID wire.NodeID, isRoot bool) error {
	if ownID == 0 {
		return fmt.Errorf("node: id 0 is reserved")
	}

	n.mu.Lock()
	n.id = ownID
	n.isRoot = isRoot
	n.locIdent = uint8(n.rng.Intn(256))
	n.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	n.recvCancel = cancel
	n.recvDone = make(chan struct{})
	go n.receiveLoop(ctx)

	if isRoot {
		n.mu.Lock()
		n.table.SetRootUpstream()
		n.mu.Unlock()
		log.Infof("node %02X: initialized as root", ownID)
		return nil
	}

	wnd := PeriodLocate + jitter(n.rng, WindowLocate)
	n.joinTimer = n.timers.After(wnd, n.onJoinTimer)
	log.Infof("node %02X: initialized, joining in %s", ownID, wnd)
	return nil
}

// Close stops the receive loop, outbound sender, and timer set.
func (n *Node) Close() {
	if n.recvCancel != nil {
		n.recvCancel()
	}
	n.out.Close()
	n.timers.Stop()
}

// ID returns this node's assigned id.
func (n *Node) ID() wire.NodeID {
	return n.id
}

// IsRoot reports whether this node was initialized as the tree root.
func (n *Node) IsRoot() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isRoot
}

// ForceJoin cancels the pending join timer and runs the join attempt
// immediately. Root nodes have nothing to join; calling this on one
// is a no-op. Exposed for operators who want to trigger an
// out-of-cycle rejoin rather than waiting on PeriodLocate.
func (n *Node) ForceJoin() {
	n.mu.Lock()
	isRoot := n.isRoot
	n.mu.Unlock()
	if isRoot {
		return
	}
	n.timers.Cancel(n.joinTimer)
	n.onJoinTimer()
}

// jitter returns a random duration in [0, window).
func jitter(rng *rand.Rand, window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(window)))
}

// RegisterApp creates an inbound queue for appID, so a hosted
// application can call Receive for it.
func (n *Node) RegisterApp(appID uint16) (*linktable.AppQueue, error) {
	return n.appTable.Register(appID)
}

// Receive waits for a frame on appID's inbound queue. A negative
// timeout blocks indefinitely; zero checks once without blocking;
// positive waits up to timeout -- the same three-way convention as
// net_receive's timeout parameter.
func (n *Node) Receive(appID uint16, timeout time.Duration) (wire.AppHeader, []byte, error) {
	q, ok := n.appTable.Find(appID)
	if !ok {
		return wire.AppHeader{}, nil, linktable.ErrAppNotRegistered
	}

	if timeout < 0 {
		f := <-q.Inbound
		return f.Header, f.Payload, nil
	}
	if timeout == 0 {
		select {
		case f := <-q.Inbound:
			return f.Header, f.Payload, nil
		default:
			return wire.AppHeader{}, nil, ErrReceiveTimeout
		}
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f := <-q.Inbound:
		return f.Header, f.Payload, nil
	case <-t.C:
		return wire.AppHeader{}, nil, ErrReceiveTimeout
	}
}

// Table returns a diagnostic snapshot of the current link table.
func (n *Node) Table() linktable.Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.table.Snapshot()
}

// sendLocked hands a fully-built frame to the outbound sender, resolving
// destination id to a MAC address. Caller must hold n.mu or must be
// calling with a destination already known safe (broadcast).
func (n *Node) sendLocked(f wire.Frame) {
	mac, ok := n.resolveMACLocked(f.Destination)
	if !ok {
		log.Warnf("node %02X: cannot resolve destination 0x%02X, dropping frame", n.id, f.Destination)
		return
	}
	buf := wire.Encode(&f)
	n.out.Send(mac, buf)
}

func (n *Node) resolveMACLocked(id wire.NodeID) (linktable.MAC, bool) {
	if id == n.pendingID && n.pendingID != 0 {
		return n.pendingMAC, true
	}
	return n.table.FindMAC(id)
}
