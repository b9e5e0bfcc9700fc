// Package stats tracks counters and gauges for a running mesh node --
// frames sent and dropped, link table occupancy, and Collatz frame
// progress -- and exposes them over JSON and Prometheus HTTP
// endpoints for operators and dashboards.
package stats

import "sync/atomic"

// Counters is the set of atomically-updated values collected for one node.
type Counters struct {
	framesSent    int64
	framesDropped int64
	framesRecv    int64
	appsDelivered int64

	linkSlotsUsed int64
	hasUpstream   int64

	collatzBlocksDone int64
}

// New returns a zeroed Counters.
func New() *Counters {
	return &Counters{}
}

// IncFramesSent atomically adds 1 to the sent-frame counter.
func (c *Counters) IncFramesSent() { atomic.AddInt64(&c.framesSent, 1) }

// IncFramesDropped atomically adds 1 to the dropped-frame counter.
func (c *Counters) IncFramesDropped() { atomic.AddInt64(&c.framesDropped, 1) }

// IncFramesRecv atomically adds 1 to the received-frame counter.
func (c *Counters) IncFramesRecv() { atomic.AddInt64(&c.framesRecv, 1) }

// IncAppsDelivered atomically adds 1 to the app-delivered counter.
func (c *Counters) IncAppsDelivered() { atomic.AddInt64(&c.appsDelivered, 1) }

// SetLinkSlotsUsed atomically sets the occupied link-table slot count.
func (c *Counters) SetLinkSlotsUsed(n int) { atomic.StoreInt64(&c.linkSlotsUsed, int64(n)) }

// SetHasUpstream atomically records whether an upstream link is established.
func (c *Counters) SetHasUpstream(has bool) {
	var v int64
	if has {
		v = 1
	}
	atomic.StoreInt64(&c.hasUpstream, v)
}

// SetCollatzBlocksDone atomically sets the number of Done blocks in
// the current Collatz frame.
func (c *Counters) SetCollatzBlocksDone(n int) {
	atomic.StoreInt64(&c.collatzBlocksDone, int64(n))
}

// Snapshot is a point-in-time copy of Counters suitable for JSON encoding.
type Snapshot struct {
	FramesSent        int64  `json:"frames_sent"`
	FramesDropped     int64  `json:"frames_dropped"`
	FramesRecv        int64  `json:"frames_recv"`
	AppsDelivered     int64  `json:"apps_delivered"`
	LinkSlotsUsed     int64  `json:"link_slots_used"`
	HasUpstream       bool   `json:"has_upstream"`
	CollatzBlocksDone int64  `json:"collatz_blocks_done"`
	CollatzBase       string `json:"collatz_base,omitempty"`
}

// Snapshot reads every counter atomically into a Snapshot. base is an
// optional hex rendering of the current Collatz frame base, supplied
// by the caller since Counters itself has no bigint dependency.
func (c *Counters) Snapshot(base string) Snapshot {
	return Snapshot{
		FramesSent:        atomic.LoadInt64(&c.framesSent),
		FramesDropped:     atomic.LoadInt64(&c.framesDropped),
		FramesRecv:        atomic.LoadInt64(&c.framesRecv),
		AppsDelivered:     atomic.LoadInt64(&c.appsDelivered),
		LinkSlotsUsed:     atomic.LoadInt64(&c.linkSlotsUsed),
		HasUpstream:       atomic.LoadInt64(&c.hasUpstream) != 0,
		CollatzBlocksDone: atomic.LoadInt64(&c.collatzBlocksDone),
		CollatzBase:       base,
	}
}
