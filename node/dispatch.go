package node

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/pinode/mesh/linktable"
	"github.com/pinode/mesh/wire"
)

// receiveLoop pulls raw frames off the transport, validates them, and
// dispatches by control code. It is the Go analog of espnow_recv,
// the firmware's receive-callback dispatcher.
func (n *Node) receiveLoop(ctx context.Context) {
	defer close(n.recvDone)
	for {
		srcMAC, buf, err := n.tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("node: receive error: %v", err)
			continue
		}
		if !wire.Valid(buf[:]) {
			continue
		}
		frame, err := wire.Decode(buf[:])
		if err != nil {
			continue
		}
		if n.counters != nil {
			n.counters.IncFramesRecv()
		}
		n.dispatch(srcMAC, frame)
	}
}

func (n *Node) dispatch(srcMAC linktable.MAC, frame wire.Frame) {
	src := frame.Source
	switch frame.Control {
	case wire.ControlLocate:
		n.handleLocate(src, srcMAC, frame)
	case wire.ControlLink:
		n.handleLink(src, srcMAC, frame)
	case wire.ControlStatus:
		n.handleStatus(src)
	case wire.ControlMap:
		n.handleMap(src, frame)
	case wire.ControlBlackout:
		n.handleBlackout(src)
	case wire.ControlFreeze:
		n.handleFreeze(src)
	case wire.ControlDefault:
		n.handleDefault(src, frame)
	}
}

// directionFromUpstream / directionFromDownstream mark an AppHeader's
// arrival direction, mirroring the firmware's reserved[0] = 0x01/0x00
// "hack" -- undocumented in the original protocol but load-bearing
// for Bounce's re-emission logic.
const (
	directionFromDownstream = 0
	directionFromUpstream   = 1
)

// handleDefault processes an application-payload frame: deliver it to
// a registered app's inbound queue if one exists, otherwise fall back
// to passthrough forwarding (up if it arrived from downstream, down
// if it arrived from upstream).
func (n *Node) handleDefault(src wire.NodeID, frame wire.Frame) {
	n.mu.Lock()
	linked := n.table.IsLinked(src)
	fromUpstream := n.table.IsUpstream(src)
	frozen := n.flags&flagFrozen != 0
	n.mu.Unlock()

	if !linked || frozen {
		return
	}

	hdr := wire.DecodeAppHeader(frame.Contents)
	if int(hdr.Length) > wire.MaxPayload {
		return
	}
	if fromUpstream {
		hdr.Direction = directionFromUpstream
	} else {
		hdr.Direction = directionFromDownstream
	}

	payload := make([]byte, hdr.Length)
	copy(payload, frame.Contents[wire.AppHeaderSize:wire.AppHeaderSize+int(hdr.Length)])

	switch n.appTable.Enqueue(hdr.Type, linktable.InboundFrame{Header: hdr, Payload: payload}) {
	case linktable.EnqueueDelivered:
		if n.counters != nil {
			n.counters.IncAppsDelivered()
		}
		return
	case linktable.EnqueueDropped:
		if n.counters != nil {
			n.counters.IncFramesDropped()
		}
		return
	}

	// No application registered for this type: default passthrough.
	hdr.Direction = 0
	if fromUpstream {
		if err := n.SendDown(hdr, payload); err != nil {
			log.Debugf("node: default passthrough down failed: %v", err)
		}
	} else {
		if err := n.SendUp(hdr, payload); err != nil {
			log.Debugf("node: default passthrough up failed: %v", err)
		}
	}
}

// SendUp transmits an application frame to the upstream peer. Root
// nodes have no upstream; SendUp sends nothing there and returns
// ErrRootSendUp.
func (n *Node) SendUp(hdr wire.AppHeader, payload []byte) error {
	if len(payload) > wire.MaxPayload {
		return ErrOversizePayload
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.isRoot {
		return ErrRootSendUp
	}
	entry, ok := n.table.UpstreamEntry()
	if !ok {
		return ErrNoUplink
	}

	hdr.Length = uint8(len(payload))
	f := wire.NewDefaultFrame(n.id, entry.ID, hdr, payload)
	n.sendLocked(f)
	return nil
}

// SendDown transmits an application frame to every downstream peer.
func (n *Node) SendDown(hdr wire.AppHeader, payload []byte) error {
	if len(payload) > wire.MaxPayload {
		return ErrOversizePayload
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	hdr.Length = uint8(len(payload))
	for _, slot := range n.table.Downstreams() {
		entry, ok := n.table.SlotEntry(slot)
		if !ok {
			continue
		}
		f := wire.NewDefaultFrame(n.id, entry.ID, hdr, payload)
		n.sendLocked(f)
	}
	return nil
}
