package node

import (
	log "github.com/sirupsen/logrus"

	"github.com/pinode/mesh/linktable"
	"github.com/pinode/mesh/wire"
)

// onUpstreamStatusPeriod fires periodically (PeriodUpStatus +
// jitter) to probe the upstream link's liveness, and rearms itself
// for the next period.
func (n *Node) onUpstreamStatusPeriod() {
	n.mu.Lock()
	defer n.mu.Unlock()

	entry, ok := n.table.UpstreamEntry()
	if !ok {
		return
	}

	f := wire.Frame{}
	f.Source = n.id
	f.Destination = entry.ID
	f.Control = wire.ControlStatus
	n.sendLocked(f)

	n.statusTimer = n.timers.After(TimeoutStatus, n.onUpstreamStatusTimeout)
	n.flags |= flagUplinkStatus

	n.linkTimers[linktable.UpSlot] = n.timers.After(PeriodUpStatus+jitter(n.rng, WindowUpStatus), n.onUpstreamStatusPeriod)
}

// onUpstreamStatusTimeout fires if a Status probe to our upstream
// goes unanswered -- treated as an upstream outage, triggering blackout.
func (n *Node) onUpstreamStatusTimeout() {
	log.Error("node: failed to receive upstream status response")
	n.execBlackout()
}

// downstreamDecayFunc returns the timer callback for a downstream
// link slot's decay timer: removing the link once it times out with
// no refreshing Status request.
func (n *Node) downstreamDecayFunc(slot int) func() {
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		entry, ok := n.table.SlotEntry(slot)
		if !ok {
			return
		}
		log.Infof("node: downstream link slot %d, 0x%02X decayed", slot, entry.ID)
		n.table.Remove(slot)
	}
}

// handleStatus processes a received Status frame: either our
// upstream's response to a probe, or a downstream peer's probe to us
// (which refreshes its decay timer and gets an immediate reply).
func (n *Node) handleStatus(src wire.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.table.IsLinked(src) || n.flags&flagFrozen != 0 {
		return
	}

	if n.flags&flagUplinkStatus != 0 && n.table.IsUpstream(src) {
		n.flags &^= flagUplinkStatus
		n.timers.Cancel(n.statusTimer)
		return
	}

	if n.table.IsDownstream(src) {
		slot, _, ok := n.table.FindEntry(src)
		if !ok {
			return
		}
		n.timers.Cancel(n.linkTimers[slot])
		n.linkTimers[slot] = n.timers.After(TimeoutLinkDecay, n.downstreamDecayFunc(slot))

		f := wire.Frame{}
		f.Source = n.id
		f.Destination = src
		f.Control = wire.ControlStatus
		n.sendLocked(f)
	}
}
