package node

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinode/mesh/linktable"
	"github.com/pinode/mesh/wire"
)

// blackoutRestartDelay is how long exec_blackout waits after
// broadcasting before restarting, giving the outbound sender time to
// actually flush the Blackout frames.
const blackoutRestartDelay = 2 * time.Second

// execBlackout broadcasts a Blackout control frame to every
// downstream peer, then restarts the process -- the Go analog of the
// firmware's esp_restart(). A process manager (systemd, Kubernetes)
// is expected to bring the node back up; that's the whole point of a
// hard restart as the recovery mechanism.
func (n *Node) execBlackout() {
	n.mu.Lock()
	for _, slot := range n.table.Downstreams() {
		entry, ok := n.table.SlotEntry(slot)
		if !ok {
			continue
		}
		f := wire.Frame{}
		f.Source = n.id
		f.Destination = entry.ID
		f.Control = wire.ControlBlackout
		n.sendLocked(f)
	}
	n.mu.Unlock()

	log.Warn("node: blacking out")
	if n.onRestart != nil {
		n.onRestart(blackoutRestartDelay)
		return
	}
	time.Sleep(blackoutRestartDelay)
	os.Exit(1)
}

// SetRestartFunc overrides the action execBlackout takes after
// broadcasting, for tests that want to observe a blackout without
// exiting the test process.
func (n *Node) SetRestartFunc(f func(time.Duration)) {
	n.onRestart = f
}

// handleBlackout processes a received Blackout frame: only the
// upstream peer may order one.
func (n *Node) handleBlackout(src wire.NodeID) {
	n.mu.Lock()
	frozen := n.flags&flagFrozen != 0
	linked := n.table.IsLinked(src) && n.table.IsUpstream(src)
	n.mu.Unlock()

	if frozen || !linked {
		return
	}
	n.execBlackout()
}

// handleFreeze toggles network-wide quiescence: Freeze cancels all
// link timers and any pending upstream status wait; a second Freeze
// un-freezes and re-arms them.
func (n *Node) handleFreeze(src wire.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.table.IsLinked(src) || !n.table.IsUpstream(src) {
		return
	}

	if n.flags&flagFrozen != 0 {
		n.flags &^= flagFrozen
		for _, slot := range n.allOccupiedSlotsLocked() {
			if slot == linktable.UpSlot {
				if !n.isRoot {
					n.linkTimers[slot] = n.timers.After(PeriodUpStatus+jitter(n.rng, WindowUpStatus), n.onUpstreamStatusPeriod)
				}
			} else {
				n.linkTimers[slot] = n.timers.After(TimeoutLinkDecay, n.downstreamDecayFunc(slot))
			}
		}
		return
	}

	n.flags |= flagFrozen
	n.flags &^= flagUplinkStatus
	n.timers.Cancel(n.statusTimer)
	for _, slot := range n.allOccupiedSlotsLocked() {
		if slot == linktable.UpSlot && n.isRoot {
			continue
		}
		n.timers.Cancel(n.linkTimers[slot])
	}
}

func (n *Node) allOccupiedSlotsLocked() []int {
	snap := n.table.Snapshot()
	out := make([]int, 0, len(snap.Slots))
	for _, s := range snap.Slots {
		out = append(out, s.Index)
	}
	return out
}

// handleMap processes a received Map frame: an upstream-origin Map
// gets an info reply and is forwarded downstream; a downstream-origin
// Map is forwarded upward (non-root only).
func (n *Node) handleMap(src wire.NodeID, frame wire.Frame) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.table.IsLinked(src) {
		return
	}

	if n.table.IsUpstream(src) {
		reply := wire.Frame{}
		reply.Source = n.id
		reply.Destination = src
		reply.Control = wire.ControlMap
		reply.Reserved[wire.ResOrigin] = n.id
		reply.Reserved[wire.ResUpstream] = src
		n.sendLocked(reply)

		forward := frame
		forward.Source = n.id
		for _, slot := range n.table.Downstreams() {
			entry, ok := n.table.SlotEntry(slot)
			if !ok {
				continue
			}
			forward.Destination = entry.ID
			n.sendLocked(forward)
		}
		return
	}

	if n.table.IsDownstream(src) && !n.isRoot {
		entry, ok := n.table.UpstreamEntry()
		if !ok {
			return
		}
		forward := frame
		forward.Source = n.id
		forward.Destination = entry.ID
		n.sendLocked(forward)
	}
}
