// Package udpbroadcast implements transport.Transport over IPv4 UDP
// broadcast, for running and testing a mesh across real hosts on one
// LAN segment without RF hardware. SO_BROADCAST and SO_REUSEADDR are
// set directly via golang.org/x/sys/unix, the same layer the teacher
// uses for low-level socket control.
package udpbroadcast

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/pinode/mesh/linktable"
	"github.com/pinode/mesh/transport"
	"github.com/pinode/mesh/wire"
)

// Config configures a UDP broadcast transport.
type Config struct {
	// Port is the UDP port every node listens on and broadcasts to.
	Port int
	// BroadcastAddr is the subnet broadcast address, e.g. 192.168.1.255.
	BroadcastAddr net.IP
	// LocalMAC is a synthetic 6-byte address this transport presents
	// upstream; there's no real link-layer MAC on a UDP socket, so it
	// is typically derived from the node's local IP.
	LocalMAC linktable.MAC
}

// Transport is a UDP-broadcast-backed transport.Transport.
type Transport struct {
	cfg  Config
	conn *net.UDPConn
	fd   int

	closeMu sync.Mutex
	closed  bool
}

var _ transport.Transport = (*Transport)(nil)

// Open binds a UDP socket on cfg.Port with SO_REUSEADDR and
// SO_BROADCAST set, ready to send and receive broadcast frames.
func Open(cfg Config) (*Transport, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("udpbroadcast: listen: %w", err)
	}

	rc, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("udpbroadcast: syscall conn: %w", err)
	}

	var sockErr error
	err = rc.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); e != nil {
			sockErr = fmt.Errorf("SO_BROADCAST: %w", e)
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			sockErr = fmt.Errorf("SO_REUSEADDR: %w", e)
			return
		}
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("udpbroadcast: control: %w", err)
	}
	if sockErr != nil {
		conn.Close()
		return nil, fmt.Errorf("udpbroadcast: %w", sockErr)
	}

	var fd int
	_ = rc.Control(func(f uintptr) { fd = int(f) })

	log.Infof("udpbroadcast: listening on :%d, broadcast to %s", cfg.Port, cfg.BroadcastAddr)
	return &Transport{cfg: cfg, conn: conn, fd: fd}, nil
}

// Send broadcasts buf to the configured subnet. dst is ignored: every
// node on the segment receives every frame, exactly as on a shared RF
// channel, and validity/addressing is decided at the wire/node layer.
func (t *Transport) Send(_ linktable.MAC, buf [wire.FrameSize]byte) error {
	if t.isClosed() {
		return transport.ErrClosed
	}
	addr := &net.UDPAddr{IP: t.cfg.BroadcastAddr, Port: t.cfg.Port}
	_, err := t.conn.WriteToUDP(buf[:], addr)
	if err != nil {
		if t.isClosed() {
			return transport.ErrClosed
		}
		return fmt.Errorf("udpbroadcast: write: %w", err)
	}
	return nil
}

// Receive blocks until a frame arrives, ctx is canceled, or Close is called.
func (t *Transport) Receive(ctx context.Context) (linktable.MAC, [wire.FrameSize]byte, error) {
	type result struct {
		src linktable.MAC
		buf [wire.FrameSize]byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		var raw [wire.FrameSize]byte
		n, addr, err := t.conn.ReadFromUDP(raw[:])
		if err != nil {
			done <- result{err: err}
			return
		}
		var buf [wire.FrameSize]byte
		copy(buf[:], raw[:n])
		done <- result{src: macFromIP(addr.IP), buf: buf}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if t.isClosed() {
				return linktable.MAC{}, [wire.FrameSize]byte{}, transport.ErrClosed
			}
			return linktable.MAC{}, [wire.FrameSize]byte{}, fmt.Errorf("udpbroadcast: read: %w", r.err)
		}
		return r.src, r.buf, nil
	case <-ctx.Done():
		t.conn.SetReadDeadline(time.Now())
		return linktable.MAC{}, [wire.FrameSize]byte{}, ctx.Err()
	}
}

// LocalMAC returns this transport's synthetic address.
func (t *Transport) LocalMAC() linktable.MAC {
	return t.cfg.LocalMAC
}

func (t *Transport) isClosed() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.closed
}

// Close shuts down the UDP socket.
func (t *Transport) Close() error {
	t.closeMu.Lock()
	t.closed = true
	t.closeMu.Unlock()
	return t.conn.Close()
}

// macFromIP folds an IPv4 address into the low 4 bytes of a
// synthetic MAC, leaving the top 2 bytes zero.
func macFromIP(ip net.IP) linktable.MAC {
	v4 := ip.To4()
	var m linktable.MAC
	if v4 == nil {
		return m
	}
	binary.BigEndian.PutUint16(m[0:2], 0)
	copy(m[2:], v4)
	return m
}
