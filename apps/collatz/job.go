// Package collatz implements the distributed Collatz verification
// application: a cooperative work-stealing search over a shared
// integer frame of fixed-width blocks, reconciled across peers by
// progress reports rather than by a central coordinator.
package collatz

import (
	"math/rand"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/pinode/mesh/bigint"
)

// Block states, ordered Free < Taken < Done so a reconciling max()
// never demotes a block.
const (
	BlockFree  uint8 = 0
	BlockTaken uint8 = 1
	BlockDone  uint8 = 2
)

// DefaultBlockSize and DefaultBlocks size the production integer
// frame: ~4M integers per block across 32 blocks.
const (
	DefaultBlockSize = uint32(1) << 22
	DefaultBlocks    = 32
)

// TestBlockSize and TestBlocks size a small frame suitable for fast tests.
const (
	TestBlockSize = uint32(1) << 4
	TestBlocks    = 4
)

// startBase is 2^68-1, the frame's starting offset -- odd numbers below
// it are assumed already verified.
func startBase() bigint.Int {
	return bigint.Int{
		Len:   3,
		Limbs: [bigint.Limbs]uint32{0x3FFFFFFF, 0x3FFFFFFF, 0xFF},
	}
}

// Report is a progress report exchanged between peers: either "I'm
// working on this block" (BlockTaken) or "this block is verified"
// (BlockDone), relative to Base.
type Report struct {
	State   uint8
	BlockID int
	Base    bigint.Int
}

// Job holds one node's view of the shared integer frame: the base
// offset, and the state of each block ahead of it. All state is
// guarded by mu, mirroring the firmware's single mutex around job,
// block[], and the waterlevel/n scratch variables.
type Job struct {
	mu sync.Mutex

	blockSize uint32
	blocks    []uint8
	base      bigint.Int
	blockID   int // -1 if not currently computing any block

	rng *rand.Rand
}

// NewJob constructs a Job with the given frame geometry, starting
// from the fixed 2^68-1 base.
func NewJob(blockSize uint32, numBlocks int) *Job {
	return &Job{
		blockSize: blockSize,
		blocks:    make([]uint8, numBlocks),
		base:      startBase(),
		blockID:   -1,
		rng:       rand.New(rand.NewSource(int64(blockSize) + int64(numBlocks))),
	}
}

// Snapshot is a diagnostic view of the frame.
type Snapshot struct {
	Base    string
	Blocks  []uint8
	BlockID int
}

// Snapshot returns the current frame state for diagnostics.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	blocks := make([]uint8, len(j.blocks))
	copy(blocks, j.blocks)
	return Snapshot{Base: j.base.String(), Blocks: blocks, BlockID: j.blockID}
}

// PickBlock chooses the next block to compute: free blocks are
// weighted to prefer earlier indices (so the frame advances rather
// than leaving gaps), and if every block is at least Taken it falls
// back to block 0 so the node doesn't stall forever on stragglers.
func (j *Job) PickBlock() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := len(j.blocks)
	var mass uint32
	for i := 0; i < n; i++ {
		if j.blocks[i] == BlockFree {
			mass += uint32(n - i)
		}
	}
	if mass == 0 {
		return 0
	}

	rnd := uint32(j.rng.Int63n(int64(mass)))
	for i := 0; i < n; i++ {
		if j.blocks[i] != BlockFree {
			continue
		}
		p := uint32(n - i)
		if rnd < p {
			return i
		}
		rnd -= p
	}
	return 0 // unreachable
}

// shiftBlocksLocked drops the first done entries off the front of the
// frame, sliding the rest down and marking the newly exposed tail
// Free. It adjusts blockID to stay relative to the new frame, or -1
// if the in-progress block fell off the front.
func (j *Job) shiftBlocksLocked(done int) {
	n := len(j.blocks)
	if done < n {
		left := n - done
		copy(j.blocks[:left], j.blocks[done:])
		for i := left; i < n; i++ {
			j.blocks[i] = BlockFree
		}
		if j.blockID >= done {
			j.blockID -= done
		} else {
			j.blockID = -1
		}
	} else {
		for i := range j.blocks {
			j.blocks[i] = BlockFree
		}
		j.blockID = -1
	}
}

// ReportMyProgress checks whether block 0 (and any run of Done blocks
// following it) has completed, advancing the frame if so. If fin is
// true the caller just finished an isolated block that didn't reach
// the front of the frame, and it still must be reported to avoid
// duplicate work. It returns the report to broadcast, or ok=false if
// there is nothing new to announce.
func (j *Job) ReportMyProgress(fin bool) (Report, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reportMyProgressLocked(fin)
}

func (j *Job) reportMyProgressLocked(fin bool) (Report, bool) {
	if j.blocks[0] == BlockDone {
		bigint.Add(&j.base, j.blockSize)
		done := 1
		for done < len(j.blocks) && j.blocks[done] == BlockDone {
			bigint.Add(&j.base, j.blockSize)
			done++
		}
		j.shiftBlocksLocked(done)
		log.Infof("collatz: shifted %d blocks, frame is now 0x%s, block %d", done, j.base.String(), j.blockID)
	} else if !fin {
		return Report{}, false
	} else {
		log.Infof("collatz: reporting block %d from frame 0x%s", j.blockID, j.base.String())
	}

	r := Report{State: BlockDone, BlockID: j.blockID, Base: j.base}
	return r, true
}

// ReportMyStart announces that this node has started computing its
// current block.
func (j *Job) ReportMyStart() Report {
	j.mu.Lock()
	defer j.mu.Unlock()
	log.Infof("collatz: computing block %d from frame 0x%s", j.blockID, j.base.String())
	return Report{State: BlockTaken, BlockID: j.blockID, Base: j.base}
}

// ProcessReport reconciles an incoming peer report against this
// node's frame: aligning bases (shifting whichever frame lags), then
// taking the max of each block's state, and invalidating this node's
// in-progress block if a peer reports it Done first. It returns a
// possible follow-up report to broadcast, mirroring
// report_my_progress(0) at the end of process_report.
func (j *Job) ProcessReport(rpt Report) (Report, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cmp := bigint.Cmp(&rpt.Base, &j.base)

	switch {
	case cmp < 0:
		// The report's base lags ours: walk it forward block by block
		// until the bases line up, decrementing its block id to match.
		work := rpt
		for {
			if work.BlockID < 0 {
				return Report{}, false // stale report, nothing to do
			}
			bigint.Add(&work.Base, j.blockSize)
			work.BlockID--
			if bigint.Cmp(&work.Base, &j.base) >= 0 {
				break
			}
		}
		rpt = work

	case cmp > 0:
		// The report's base leads ours: advance our frame to catch up,
		// shifting out whatever we'd already completed along the way.
		left := len(j.blocks)
		for {
			bigint.Add(&j.base, j.blockSize)
			left--
			if left == 0 || !bigint.Greater(&rpt.Base, &j.base) {
				break
			}
		}
		shifted := len(j.blocks) - left
		j.shiftBlocksLocked(shifted)
		log.Infof("collatz: raised the frame by %d blocks, now 0x%s, block %d", shifted, j.base.String(), j.blockID)
		if left == 0 {
			bigint.Set(&j.base, &rpt.Base)
		}
	}

	if rpt.BlockID >= 0 && rpt.BlockID < len(j.blocks) {
		idx := rpt.BlockID
		if j.blocks[idx] > rpt.State {
			// already at least as advanced locally; nothing to raise
		} else {
			j.blocks[idx] = rpt.State
		}
		if rpt.State == BlockDone && idx == j.blockID {
			log.Info("collatz: our current computation is obsolete")
			j.blockID = -1
		}
	}

	return j.reportMyProgressLocked(false)
}

// BeginBlock marks block bi Taken (unless it's already Done, or
// already Taken by someone else -- recomputing is logged but
// allowed, matching the original's "recomputing the same block?"
// warning) and returns the report to announce plus the waterlevel to
// compute from.
func (j *Job) BeginBlock(bi int) (report Report, waterlevel bigint.Int, already bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.blockID = bi
	switch j.blocks[bi] {
	case BlockDone:
		return Report{}, bigint.Int{}, true
	case BlockTaken:
		log.Warn("collatz: recomputing the same block?")
	case BlockFree:
		j.blocks[bi] = BlockTaken
	}

	r := Report{State: BlockTaken, BlockID: j.blockID, Base: j.base}

	wl := j.base
	for i := bi; i > 0; i-- {
		bigint.Add(&wl, j.blockSize)
	}
	return r, wl, false
}

// FinishBlock marks the in-progress block Done, if it's still the
// block this node was tracking (a peer may have invalidated it via
// ProcessReport while the long compute loop ran unlocked).
func (j *Job) FinishBlock(bi int) (Report, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.blockID < 0 {
		return Report{}, false
	}
	j.blocks[j.blockID] = BlockDone
	r, ok := j.reportMyProgressLocked(true)
	j.blockID = -1
	return r, ok
}

// BlockSize returns the configured per-block integer count.
func (j *Job) BlockSize() uint32 {
	return j.blockSize
}

// NumBlocks returns the configured frame width.
func (j *Job) NumBlocks() int {
	return len(j.blocks)
}
