package node

import (
	log "github.com/sirupsen/logrus"

	"github.com/pinode/mesh/linktable"
	"github.com/pinode/mesh/wire"
)

// onJoinTimer fires when a non-root node should attempt to join the
// network: broadcast a Locate and start collecting Link proposals.
func (n *Node) onJoinTimer() {
	n.mu.Lock()
	n.flags |= flagLocating
	n.locIdent++
	ident := n.locIdent
	f := wire.Frame{}
	f.Source = n.id
	f.Destination = linktable.BroadcastID
	f.Control = wire.ControlLocate
	f.Reserved[wire.ResIdent] = ident
	n.sendLocked(f)
	n.locTimer = n.timers.After(TimeoutLocate, n.onLocateTimer)
	n.mu.Unlock()
}

// onLocateTimer fires once the Locate collection window elapses. It
// picks one collected proposal at random and sends a Link frame to
// confirm it as the upstream.
func (n *Node) onLocateTimer() {
	n.mu.Lock()
	n.flags &^= flagLocating

	if len(n.locResp) == 0 {
		n.mu.Unlock()
		log.Warn("node: failed to join network -- no nodes proposed link")
		wnd := PeriodLocate + jitter(n.rng, WindowLocate)
		n.mu.Lock()
		n.joinTimer = n.timers.After(wnd, n.onJoinTimer)
		n.mu.Unlock()
		return
	}

	choice := n.locResp[n.rng.Intn(len(n.locResp))]
	if err := n.table.FormUplink(choice.mac, choice.id); err != nil {
		n.mu.Unlock()
		log.Errorf("node: failed to form uplink: %v", err)
		return
	}
	n.linkTimers[linktable.UpSlot] = n.timers.After(PeriodUpStatus+jitter(n.rng, WindowUpStatus), n.onUpstreamStatusPeriod)

	f := wire.Frame{}
	f.Source = n.id
	f.Destination = choice.id
	f.Control = wire.ControlLink
	f.Reserved[wire.ResIdent] = n.locIdent
	n.sendLocked(f)

	id := choice.id
	n.locResp = nil
	n.mu.Unlock()
	log.Infof("node: added upstream link 0x%02X", id)
}

// handleLocate responds to a Locate request from src: propose a Link
// if we have an upstream, a free downstream slot, and no proposal
// already pending.
func (n *Node) handleLocate(src wire.NodeID, srcMAC linktable.MAC, frame wire.Frame) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.flags&flagFrozen != 0 {
		return
	}
	if !n.table.HasUplink() || n.table.AvailableDownlinkSlot() < 0 || n.flags&flagPendingLink != 0 {
		return
	}

	n.flags |= flagPendingLink
	n.pendingID = src
	n.pendingMAC = srcMAC

	f := wire.Frame{}
	f.Source = n.id
	f.Destination = src
	f.Control = wire.ControlLink
	f.Reserved[wire.ResIdent] = frame.Reserved[wire.ResIdent]
	n.sendLocked(f)

	n.pendingTimer = n.timers.After(TimeoutProposeLink, n.onPendingLinkTimer)
}

// onPendingLinkTimer fires if our Link proposal goes unanswered.
func (n *Node) onPendingLinkTimer() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.flags &^= flagPendingLink
	n.pendingID = 0
	n.pendingMAC = linktable.MAC{}
}

// handleLink processes a received Link frame: either a collected
// proposal while locating, or a confirmation of a proposal we made.
func (n *Node) handleLink(src wire.NodeID, srcMAC linktable.MAC, frame wire.Frame) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.flags&flagFrozen != 0 {
		return
	}

	if n.flags&flagLocating != 0 && frame.Reserved[wire.ResIdent] == n.locIdent {
		if len(n.locResp) < LocateSize {
			n.locResp = append(n.locResp, locateResponse{mac: srcMAC, id: src})
		}
		return
	}

	if n.flags&flagPendingLink != 0 {
		if srcMAC != n.pendingMAC || src != n.pendingID {
			return
		}
		n.timers.Cancel(n.pendingTimer)
		n.flags &^= flagPendingLink

		slot, err := n.table.FormDownlink(srcMAC, src)
		if err != nil {
			log.Errorf("node: failed to form downlink: %v", err)
			n.pendingID = 0
			n.pendingMAC = linktable.MAC{}
			return
		}
		n.linkTimers[slot] = n.timers.After(TimeoutLinkDecay, n.downstreamDecayFunc(slot))
		n.pendingID = 0
		n.pendingMAC = linktable.MAC{}
		log.Infof("node: added downstream link 0x%02X", src)
	}
}
