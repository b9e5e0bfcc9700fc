package linktable

import (
	"errors"
	"sync"

	"github.com/pinode/mesh/wire"
)

// MaxApps is the fixed application table capacity.
const MaxApps = 32

// InboundQueueSize is the bounded depth of each application's inbound queue.
const InboundQueueSize = 6

var (
	// ErrAlreadyRegistered is returned when an app id is registered twice.
	ErrAlreadyRegistered = errors.New("linktable: application already registered")
	// ErrAppTableFull is returned when no app table slot remains.
	ErrAppTableFull = errors.New("linktable: application table full")
	// ErrAppNotRegistered is returned when a lookup misses.
	ErrAppNotRegistered = errors.New("linktable: application not registered")
)

// InboundFrame is one (header, payload) tuple delivered to an
// application's inbound queue.
type InboundFrame struct {
	Header  wire.AppHeader
	Payload []byte
}

// AppQueue is a bounded FIFO of inbound frames for one registered application.
type AppQueue struct {
	ID      uint16
	Inbound chan InboundFrame
}

// AppTable maps application ids to their bounded inbound queues.
// Register/Find are guarded by a single mutex, matching
// the teacher's binary-semaphore-guarded app table.
type AppTable struct {
	mu   sync.Mutex
	apps map[uint16]*AppQueue
}

// NewAppTable returns an empty, ready-to-use AppTable.
func NewAppTable() *AppTable {
	return &AppTable{apps: make(map[uint16]*AppQueue)}
}

// Register creates a new bounded inbound queue for appID. It fails if
// appID is already registered or the table is at capacity.
func (t *AppTable) Register(appID uint16) (*AppQueue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.apps[appID]; ok {
		return nil, ErrAlreadyRegistered
	}
	if len(t.apps) >= MaxApps {
		return nil, ErrAppTableFull
	}
	q := &AppQueue{ID: appID, Inbound: make(chan InboundFrame, InboundQueueSize)}
	t.apps[appID] = q
	return q, nil
}

// Find returns the registered queue for appID, if any.
func (t *AppTable) Find(appID uint16) (*AppQueue, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.apps[appID]
	return q, ok
}

// EnqueueResult distinguishes the three outcomes of Enqueue: delivered,
// dropped because the app's queue was full, or no app registered at
// all. The latter is the only case that should fall back to default
// passthrough forwarding; a full queue must simply drop the frame.
type EnqueueResult int

const (
	// EnqueueDelivered means f was accepted onto the app's queue.
	EnqueueDelivered EnqueueResult = iota
	// EnqueueDropped means appID is registered but its queue was full.
	EnqueueDropped
	// EnqueueNotRegistered means no app is registered for appID.
	EnqueueNotRegistered
)

// Enqueue delivers f to appID's inbound queue without blocking.
func (t *AppTable) Enqueue(appID uint16, f InboundFrame) EnqueueResult {
	q, ok := t.Find(appID)
	if !ok {
		return EnqueueNotRegistered
	}
	select {
	case q.Inbound <- f:
		return EnqueueDelivered
	default:
		return EnqueueDropped
	}
}
