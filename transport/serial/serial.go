// Package serial implements transport.Transport over a point-to-point
// UART link, the Go analog of the firmware's short-range RF radio: a
// single wire to a single peer, no addressing, fixed-size frames read
// back to back.
package serial

import (
	"context"
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
	goserial "go.bug.st/serial"

	"github.com/pinode/mesh/linktable"
	"github.com/pinode/mesh/transport"
	"github.com/pinode/mesh/wire"
)

// Transport is a serial-backed point-to-point link. Since a UART has
// exactly one peer, Send ignores dst (broadcast and unicast are the
// same operation) and LocalMAC/peer MAC are fixed at construction.
type Transport struct {
	device   string
	port     goserial.Port
	localMAC linktable.MAC
	peerMAC  linktable.MAC

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

var _ transport.Transport = (*Transport)(nil)

// Config configures a serial link.
type Config struct {
	Device   string
	BaudRate int
	LocalMAC linktable.MAC
	PeerMAC  linktable.MAC
}

// Open opens the configured serial device.
func Open(cfg Config) (*Transport, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = 115200
	}
	port, err := goserial.Open(cfg.Device, &goserial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	log.Infof("serial: opened %s at %d baud", cfg.Device, baud)
	return &Transport{
		device:   cfg.Device,
		port:     port,
		localMAC: cfg.LocalMAC,
		peerMAC:  cfg.PeerMAC,
	}, nil
}

// Send writes buf to the wire. dst is not consulted: a UART has
// exactly one peer on the other end.
func (t *Transport) Send(_ linktable.MAC, buf [wire.FrameSize]byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.isClosed() {
		return transport.ErrClosed
	}
	_, err := t.port.Write(buf[:])
	if err != nil {
		return fmt.Errorf("serial: write: %w", err)
	}
	return nil
}

// Receive blocks until a full frame has been read from the wire.
// Reads happen in a background goroutine so ctx cancellation can
// return promptly even mid-read; the read itself cannot be
// interrupted once issued, matching a blocking UART read.
func (t *Transport) Receive(ctx context.Context) (linktable.MAC, [wire.FrameSize]byte, error) {
	type result struct {
		buf [wire.FrameSize]byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		var buf [wire.FrameSize]byte
		_, err := io.ReadFull(t.port, buf[:])
		done <- result{buf: buf, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if t.isClosed() {
				return linktable.MAC{}, [wire.FrameSize]byte{}, transport.ErrClosed
			}
			return linktable.MAC{}, [wire.FrameSize]byte{}, fmt.Errorf("serial: read: %w", r.err)
		}
		return t.peerMAC, r.buf, nil
	case <-ctx.Done():
		return linktable.MAC{}, [wire.FrameSize]byte{}, ctx.Err()
	}
}

// LocalMAC returns this transport's configured local address.
func (t *Transport) LocalMAC() linktable.MAC {
	return t.localMAC
}

func (t *Transport) isClosed() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.closed
}

// Close closes the underlying serial port.
func (t *Transport) Close() error {
	t.closeMu.Lock()
	t.closed = true
	t.closeMu.Unlock()
	return t.port.Close()
}
