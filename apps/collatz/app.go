package collatz

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinode/mesh/bigint"
	"github.com/pinode/mesh/node"
	"github.com/pinode/mesh/wire"
)

// commPollTimeout bounds how long the comm loop waits for an inbound
// frame before checking its stop channel, matching the original's
// 4000ms net_receive timeout on the comm task.
const commPollTimeout = 4 * time.Second

// LED is an optional heartbeat indicator toggled roughly once a
// second of compute time, mirroring the firmware's LED_PIN blink.
// Nodes without a GPIO chip pass a nil LED, which is always a no-op.
type LED interface {
	Toggle()
}

// App wires a Job to a node, running a compute goroutine that chews
// through blocks and a comm goroutine that exchanges progress reports
// with the rest of the tree.
type App struct {
	n   *node.Node
	job *Job
	led LED

	stop chan struct{}
	done chan struct{}
}

// New registers the Collatz application on n and returns an App ready
// to Start. blockSize/numBlocks size the shared integer frame; use
// DefaultBlockSize/DefaultBlocks in production and
// TestBlockSize/TestBlocks for fast tests.
func New(n *node.Node, blockSize uint32, numBlocks int, led LED) (*App, error) {
	if _, err := n.RegisterApp(AppID); err != nil {
		return nil, err
	}
	return &App{
		n:    n,
		job:  NewJob(blockSize, numBlocks),
		led:  led,
		stop: make(chan struct{}),
		done: make(chan struct{}, 2),
	}, nil
}

// Job exposes the underlying frame state for diagnostics.
func (a *App) Job() *Job {
	return a.job
}

// Start launches the compute and comm goroutines.
func (a *App) Start() {
	go a.compute()
	go a.comm()
}

// Stop halts both goroutines and waits for them to exit.
func (a *App) Stop() {
	close(a.stop)
	<-a.done
	<-a.done
}

// compute repeatedly picks a block and works through it, mirroring
// collatz_compute's "never rests and never returns" loop.
func (a *App) compute() {
	defer func() { a.done <- struct{}{} }()
	for {
		select {
		case <-a.stop:
			return
		default:
		}

		bi := a.job.PickBlock()
		if a.computeBlock(bi) {
			return
		}
	}
}

// computeBlock runs one block to completion, broadcasting the
// start/finish reports, and returns true if the computation should
// halt (an overflow occurred or Stop was called).
func (a *App) computeBlock(bi int) (fatal bool) {
	startReport, waterlevel, already := a.job.BeginBlock(bi)
	if already {
		return false
	}
	a.broadcast(startReport)

	var ledCount uint32
	for i := uint32(0); i < a.job.BlockSize(); i += 2 {
		select {
		case <-a.stop:
			return true
		default:
		}

		n := waterlevel
		bigint.Add(&n, 2)
		for {
			if bigint.F3N1(&n) {
				log.Error("collatz: overflow detected, computation terminated")
				return true
			}
			bigint.FDiv2(&n)
			if !bigint.Greater(&n, &waterlevel) {
				break
			}
		}
		bigint.Add(&waterlevel, 2)

		if a.led != nil {
			ledCount = (ledCount + 1) & 0x1FFFF
			if ledCount == 0 {
				a.led.Toggle()
			}
		}
	}

	if finReport, ok := a.job.FinishBlock(bi); ok {
		a.broadcast(finReport)
	}
	return false
}

// broadcast sends r toward every other node: a non-root node sends it
// up to its parent (flagged BLOCK_UP so a comm task relays it further
// up without processing), the root sends it down to everyone.
func (a *App) broadcast(r Report) {
	up := !a.n.IsRoot()
	buf := encodeReport(r, up)
	hdr := wire.AppHeader{Type: AppID}
	var err error
	if up {
		err = a.n.SendUp(hdr, buf)
	} else {
		err = a.n.SendDown(hdr, buf)
	}
	if err != nil {
		log.Debugf("collatz: broadcast failed: %v", err)
	}
}

// comm drains reports from the network, relaying upward-bound ones
// toward the root untouched, and on arrival at a point where they can
// be rebroadcast downward (the root, or any report not marked
// up-bound) forwards the broadcast further down and reconciles it
// into the local frame.
func (a *App) comm() {
	defer func() { a.done <- struct{}{} }()
	for {
		select {
		case <-a.stop:
			return
		default:
		}

		hdr, payload, err := a.n.Receive(AppID, commPollTimeout)
		if err != nil {
			continue
		}

		rpt, up, ok := decodeReport(payload)
		if !ok {
			continue
		}

		if !up || a.n.IsRoot() {
			down := encodeReport(rpt, false)
			if err := a.n.SendDown(wire.AppHeader{Type: AppID}, down); err != nil {
				log.Debugf("collatz: relay down failed: %v", err)
			}
			if follow, ok := a.job.ProcessReport(rpt); ok {
				a.broadcast(follow)
			}
		} else {
			if err := a.n.SendUp(wire.AppHeader{Type: AppID}, payload); err != nil {
				log.Debugf("collatz: relay up failed: %v", err)
			}
		}
		_ = hdr
	}
}
