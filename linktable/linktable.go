// Package linktable holds the per-node link table (one upstream slot
// plus N-1 downstream slots) and the application registry (a bounded
// inbound queue per registered application id). Table does no locking
// of its own -- callers (node.Node) are responsible for serializing
// access, matching the teacher's own syncMapCli/syncMapSub pattern of
// keeping the lock at the call site that owns the invariant. AppTable
// guards itself with its own mutex.
package linktable

import (
	"errors"
	"fmt"

	"github.com/pinode/mesh/wire"
)

// Size is the fixed number of link slots: one upstream (slot 0) plus
// Size-1 downstream slots.
const Size = 4

// UpSlot is the reserved index for the upstream link.
const UpSlot = 0

// MAC is a 6-byte physical link-layer address.
type MAC [6]byte

// Broadcast is the reserved all-peers MAC/NodeID pair.
var (
	BroadcastMAC = MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	BroadcastID  = wire.Broadcast
)

// Entry is one occupied or empty link-table slot.
type Entry struct {
	MAC MAC
	ID  wire.NodeID
}

// Table is the fixed-size link table. Slot 0 is upstream; 1..Size-1
// are downstream. usage[i] holds iff entry[i] has a nonzero NodeID,
// except for the root's upstream sentinel (see SetRootUpstream).
type Table struct {
	entries [Size]Entry
	usage   [Size]bool
}

var (
	// ErrUpstreamOccupied is returned by FormUplink when slot 0 is already in use.
	ErrUpstreamOccupied = errors.New("linktable: upstream link already established")
	// ErrTableFull is returned by FormDownlink when no downstream slot is free.
	ErrTableFull = errors.New("linktable: link table full")
)

// HasUplink reports whether the upstream slot is occupied.
func (t *Table) HasUplink() bool {
	return t.usage[UpSlot]
}

// AvailableDownlinkSlot returns the lowest free downstream slot index,
// or -1 if the table is full.
func (t *Table) AvailableDownlinkSlot() int {
	for i := 1; i < Size; i++ {
		if !t.usage[i] {
			return i
		}
	}
	return -1
}

// FormUplink installs mac/id as the upstream link. It fails if the
// upstream slot is already occupied.
func (t *Table) FormUplink(mac MAC, id wire.NodeID) error {
	if t.usage[UpSlot] {
		return ErrUpstreamOccupied
	}
	t.usage[UpSlot] = true
	t.entries[UpSlot] = Entry{MAC: mac, ID: id}
	return nil
}

// FormDownlink installs mac/id into the lowest free downstream slot
// and returns the slot index. It fails if the table is full.
func (t *Table) FormDownlink(mac MAC, id wire.NodeID) (int, error) {
	slot := t.AvailableDownlinkSlot()
	if slot < 0 {
		return -1, ErrTableFull
	}
	t.usage[slot] = true
	t.entries[slot] = Entry{MAC: mac, ID: id}
	return slot, nil
}

// SetRootUpstream marks the upstream slot as present without a real
// peer -- used only by the root node, which has no actual parent.
func (t *Table) SetRootUpstream() {
	t.usage[UpSlot] = true
}

// Remove clears a slot (downstream decay, or upstream teardown).
func (t *Table) Remove(slot int) {
	t.usage[slot] = false
	t.entries[slot] = Entry{}
}

// IsUpstream reports whether id is the current upstream peer.
func (t *Table) IsUpstream(id wire.NodeID) bool {
	return t.usage[UpSlot] && t.entries[UpSlot].ID == id
}

// IsDownstream reports whether id is one of the current downstream peers.
func (t *Table) IsDownstream(id wire.NodeID) bool {
	for i := 1; i < Size; i++ {
		if t.usage[i] && t.entries[i].ID == id {
			return true
		}
	}
	return false
}

// IsLinked reports whether id is linked in either direction.
func (t *Table) IsLinked(id wire.NodeID) bool {
	return t.IsUpstream(id) || t.IsDownstream(id)
}

// SlotEntry returns the entry currently occupying slot, if any.
func (t *Table) SlotEntry(slot int) (Entry, bool) {
	if slot < 0 || slot >= Size || !t.usage[slot] {
		return Entry{}, false
	}
	return t.entries[slot], true
}

// UpstreamEntry returns the current upstream entry, if linked.
func (t *Table) UpstreamEntry() (Entry, bool) {
	return t.SlotEntry(UpSlot)
}

// FindEntry returns the slot index and entry for id, if linked.
func (t *Table) FindEntry(id wire.NodeID) (int, Entry, bool) {
	for i := 0; i < Size; i++ {
		if t.usage[i] && t.entries[i].ID == id {
			return i, t.entries[i], true
		}
	}
	return -1, Entry{}, false
}

// FindMAC resolves a NodeID to its MAC address, also recognising the
// broadcast id. Unlike the original firmware, the pending-proposal
// peer is resolved by the caller (node.Node), not smuggled in here.
func (t *Table) FindMAC(id wire.NodeID) (MAC, bool) {
	if id == BroadcastID {
		return BroadcastMAC, true
	}
	for i := 0; i < Size; i++ {
		if t.usage[i] && t.entries[i].ID == id {
			return t.entries[i].MAC, true
		}
	}
	return MAC{}, false
}

// FindID resolves a MAC address to its NodeID, also recognising the
// broadcast MAC.
func (t *Table) FindID(mac MAC) (wire.NodeID, bool) {
	if mac == BroadcastMAC {
		return BroadcastID, true
	}
	for i := 0; i < Size; i++ {
		if t.usage[i] && t.entries[i].MAC == mac {
			return t.entries[i].ID, true
		}
	}
	return 0, false
}

// Downstreams returns the slot indices currently occupied downstream.
func (t *Table) Downstreams() []int {
	var out []int
	for i := 1; i < Size; i++ {
		if t.usage[i] {
			out = append(out, i)
		}
	}
	return out
}

// Slot describes one occupied table slot for diagnostic dumps.
type Slot struct {
	Index int         `json:"index"`
	ID    wire.NodeID `json:"id"`
	MAC   MAC         `json:"mac"`
}

// Snapshot is a diagnostic dump of the link table (net_table()).
type Snapshot struct {
	Slots []Slot `json:"slots"`
}

// Snapshot returns the current occupied slots. The root's upstream
// sentinel has no peer and is not listed.
func (t *Table) Snapshot() Snapshot {
	var snap Snapshot
	for i := 0; i < Size; i++ {
		if t.usage[i] && t.entries[i].ID != 0 {
			snap.Slots = append(snap.Slots, Slot{Index: i, ID: t.entries[i].ID, MAC: t.entries[i].MAC})
		}
	}
	return snap
}

func (m MAC) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}
