// Package bounce implements the Bounce echo application: it re-emits
// every bounce packet it receives back out the direction it arrived
// from, incrementing a hop counter each time, until the counter
// exceeds the packet's configured life.
package bounce

import (
	"encoding/binary"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinode/mesh/node"
	"github.com/pinode/mesh/wire"
)

// AppID is the registered application type for Bounce.
const AppID = 10

// Magic identifies a valid bounce packet on the wire.
const Magic = 0x0A001B11

// BufferSize is the fixed message buffer length, matching the
// original 115-byte buffer sized so magic+counter+life+node_id+buffer
// exactly fills a MaxPayload frame.
const BufferSize = 115

// packetSize is the fixed wire size of a bounce packet.
const packetSize = 4 + 4 + 4 + 1 + BufferSize

// MinCycle is the minimum allowed drain cycle.
const MinCycle = 500 * time.Millisecond

var (
	// ErrMessageTooLong is returned when a message does not fit in BufferSize.
	ErrMessageTooLong = errors.New("bounce: message too long")
	// ErrNoLifespan is returned when life is zero.
	ErrNoLifespan = errors.New("bounce: life must be nonzero")
	// ErrCycleTooShort is returned by New when cycle is below MinCycle.
	ErrCycleTooShort = errors.New("bounce: cycle must be at least 500ms")
)

// Packet is one bounce message in flight.
type Packet struct {
	Magic   uint32
	Counter uint32
	Life    uint32
	NodeID  uint8
	Buffer  string
}

// encode serializes p into a fixed-size byte slice.
func (p Packet) encode() []byte {
	buf := make([]byte, packetSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], p.Counter)
	binary.LittleEndian.PutUint32(buf[8:12], p.Life)
	buf[12] = p.NodeID
	copy(buf[13:13+BufferSize], p.Buffer)
	return buf
}

// decode parses a Packet from its wire bytes. ok is false if the
// buffer is too short or the magic number doesn't match.
func decode(buf []byte) (Packet, bool) {
	if len(buf) < packetSize {
		return Packet{}, false
	}
	p := Packet{
		Magic:   binary.LittleEndian.Uint32(buf[0:4]),
		Counter: binary.LittleEndian.Uint32(buf[4:8]),
		Life:    binary.LittleEndian.Uint32(buf[8:12]),
		NodeID:  buf[12],
	}
	if p.Magic != Magic {
		return Packet{}, false
	}
	end := 13 + BufferSize
	nul := end
	for i := 13; i < end; i++ {
		if buf[i] == 0 {
			nul = i
			break
		}
	}
	p.Buffer = string(buf[13:nul])
	return p, true
}

// App drains its registered inbound queue on a fixed cycle, logging
// and re-emitting every bounce packet whose hop count hasn't yet
// exceeded its life.
type App struct {
	n      *node.Node
	nodeID wire.NodeID
	cycle  time.Duration

	stop chan struct{}
	done chan struct{}
}

// New registers the Bounce application on n and returns an App ready
// to Start.
func New(n *node.Node, nodeID wire.NodeID, cycle time.Duration) (*App, error) {
	if cycle < MinCycle {
		return nil, ErrCycleTooShort
	}
	if _, err := n.RegisterApp(AppID); err != nil {
		return nil, err
	}
	return &App{
		n:      n,
		nodeID: nodeID,
		cycle:  cycle,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start begins the periodic drain loop on its own goroutine.
func (a *App) Start() {
	go a.run()
}

// Stop halts the drain loop and waits for it to exit.
func (a *App) Stop() {
	close(a.stop)
	<-a.done
}

func (a *App) run() {
	defer close(a.done)
	ticker := time.NewTicker(a.cycle)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.drain()
		}
	}
}

// drain pulls every currently-queued bounce packet and processes it,
// matching app_bounce_timer_cb's while(net_receive(...)==0) loop.
func (a *App) drain() {
	for {
		hdr, payload, err := a.n.Receive(AppID, 0)
		if err != nil {
			return
		}
		a.process(hdr, payload)
	}
}

func (a *App) process(hdr wire.AppHeader, payload []byte) {
	p, ok := decode(payload)
	if !ok {
		return
	}

	log.Infof("bounce: [node: 0x%02X i: %d] %s", p.NodeID, p.Counter, p.Buffer)

	p.Counter++
	p.NodeID = a.nodeID

	if p.Counter > p.Life {
		return
	}

	out := wire.AppHeader{Type: AppID}
	buf := p.encode()
	if hdr.Direction == 1 {
		if err := a.n.SendUp(out, buf); err != nil {
			log.Debugf("bounce: send up failed: %v", err)
		}
	} else {
		if err := a.n.SendDown(out, buf); err != nil {
			log.Debugf("bounce: send down failed: %v", err)
		}
	}
}

// SendUp injects a new bounce message traveling upstream.
func (a *App) SendUp(message string, life uint32) error {
	return a.send(message, life, a.n.SendUp)
}

// SendDown injects a new bounce message traveling downstream.
func (a *App) SendDown(message string, life uint32) error {
	return a.send(message, life, a.n.SendDown)
}

func (a *App) send(message string, life uint32, via func(wire.AppHeader, []byte) error) error {
	if len(message) >= BufferSize {
		return ErrMessageTooLong
	}
	if life == 0 {
		return ErrNoLifespan
	}
	p := Packet{Magic: Magic, Life: life, NodeID: a.nodeID, Buffer: message}
	return via(wire.AppHeader{Type: AppID}, p.encode())
}
