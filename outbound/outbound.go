// Package outbound implements the bounded FIFO that buffers frames
// between the node's FSM goroutine and the transport, matching the
// firmware's single svc_outbound task: one consumer, a small random
// jitter before each transmit to avoid bursty traffic, and silent
// drop when the queue is full rather than blocking the producer.
package outbound

import (
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinode/mesh/linktable"
	"github.com/pinode/mesh/stats"
	"github.com/pinode/mesh/transport"
	"github.com/pinode/mesh/wire"
)

// QueueDepth is the outbound queue capacity.
const QueueDepth = 16

// WindowSend is the maximum random delay injected before each send.
const WindowSend = 10 * time.Millisecond

type job struct {
	dst linktable.MAC
	buf [wire.FrameSize]byte
}

// Sender drains a bounded queue of ready-to-transmit frames on its own
// goroutine, handing each to the underlying transport after a small
// random delay.
type Sender struct {
	tr       transport.Transport
	queue    chan job
	done     chan struct{}
	rng      *rand.Rand
	counters *stats.Counters
}

// SetCounters attaches a stats.Counters to record sent/dropped frames.
// Passing nil (the default) disables recording.
func (s *Sender) SetCounters(c *stats.Counters) {
	s.counters = c
}

// New starts a Sender backed by tr. Call Close to stop it.
func New(tr transport.Transport) *Sender {
	s := &Sender{
		tr:    tr,
		queue: make(chan job, QueueDepth),
		done:  make(chan struct{}),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	go s.run()
	return s
}

// Send enqueues a frame for transmission to dst. It never blocks: a
// full queue drops the frame and logs, matching net_send_raw.
func (s *Sender) Send(dst linktable.MAC, buf [wire.FrameSize]byte) {
	select {
	case s.queue <- job{dst: dst, buf: buf}:
	default:
		log.Warn("outbound: queue full, dropping frame")
		if s.counters != nil {
			s.counters.IncFramesDropped()
		}
	}
}

func (s *Sender) run() {
	for {
		select {
		case j := <-s.queue:
			delay := time.Duration(s.rng.Int63n(int64(WindowSend)))
			time.Sleep(delay)
			if err := s.tr.Send(j.dst, j.buf); err != nil {
				log.Warnf("outbound: send failed: %v", err)
				if s.counters != nil {
					s.counters.IncFramesDropped()
				}
			} else if s.counters != nil {
				s.counters.IncFramesSent()
			}
		case <-s.done:
			return
		}
	}
}

// Close stops the sender's dispatch goroutine. Frames still queued
// are discarded.
func (s *Sender) Close() {
	close(s.done)
}
