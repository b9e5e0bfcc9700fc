// Package transport abstracts the physical link a node sends raw
// 152-byte frames over. The node package is transport-agnostic: it
// only knows how to address a linktable.MAC, never how bytes actually
// reach one.
package transport

import (
	"context"
	"errors"

	"github.com/pinode/mesh/linktable"
	"github.com/pinode/mesh/wire"
)

// ErrClosed is returned by Send/Receive after Close.
var ErrClosed = errors.New("transport: closed")

// Transport sends and receives raw on-air frames to/from peers
// identified by their link-layer MAC. Implementations broadcast when
// dst is linktable.BroadcastMAC.
type Transport interface {
	// Send transmits buf (always wire.FrameSize bytes) to dst.
	Send(dst linktable.MAC, buf [wire.FrameSize]byte) error

	// Receive blocks until a frame arrives, ctx is canceled, or the
	// transport is closed. It returns the sender's MAC alongside the
	// raw bytes; the caller validates and decodes.
	Receive(ctx context.Context) (src linktable.MAC, buf [wire.FrameSize]byte, err error)

	// LocalMAC returns this transport's own link-layer address.
	LocalMAC() linktable.MAC

	// Close releases the underlying link. Send/Receive return
	// ErrClosed afterward.
	Close() error
}
