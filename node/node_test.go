package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinode/mesh/linktable"
	"github.com/pinode/mesh/transport/loopback"
	"github.com/pinode/mesh/wire"
)

func newPair(t *testing.T) (rootLink, childLink *loopback.Link, rootNode, childNode *Node) {
	t.Helper()
	bus := loopback.NewBus()
	rootLink = bus.NewLink(linktable.MAC{1, 1, 1, 1, 1, 1})
	childLink = bus.NewLink(linktable.MAC{2, 2, 2, 2, 2, 2})

	rootNode = New(rootLink)
	childNode = New(childLink)
	t.Cleanup(func() {
		rootNode.Close()
		childNode.Close()
		rootLink.Close()
		childLink.Close()
	})
	return
}

// TestJoinFormsLinkBothSides exercises the Locate/Link handshake end
// to end over the loopback transport (scenario S1/S6): a root seeded
// directly and a child that must join gain reciprocal upstream/
// downstream entries.
func TestJoinFormsLinkBothSides(t *testing.T) {
	_, _, rootNode, childNode := newPair(t)

	require.NoError(t, rootNode.Init(0x01, true))

	// Drive the join handshake directly rather than waiting out the
	// full 25s PeriodLocate: send the child's Locate immediately.
	require.NoError(t, childNode.Init(0x02, false))
	childNode.ForceJoin()

	deadline := time.After(2 * time.Second)
	for {
		snap := childNode.Table()
		if len(snap.Slots) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("child never formed an upstream link")
		case <-time.After(20 * time.Millisecond):
		}
	}

	childSnap := childNode.Table()
	require.Len(t, childSnap.Slots, 1)
	assert.Equal(t, wire.NodeID(0x01), childSnap.Slots[0].ID)

	deadline = time.After(2 * time.Second)
	for {
		snap := rootNode.Table()
		if len(snap.Slots) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("root never formed a downstream link")
		case <-time.After(20 * time.Millisecond):
		}
	}
	rootSnap := rootNode.Table()
	require.Len(t, rootSnap.Slots, 1)
	assert.Equal(t, wire.NodeID(0x02), rootSnap.Slots[0].ID)
}

// TestSendDownDeliversToRegisteredApp covers the register+send+receive
// round trip through the Default control path.
func TestSendDownDeliversToRegisteredApp(t *testing.T) {
	bus := loopback.NewBus()
	rootLink := bus.NewLink(linktable.MAC{1, 1, 1, 1, 1, 1})
	childLink := bus.NewLink(linktable.MAC{2, 2, 2, 2, 2, 2})
	rootNode := New(rootLink)
	childNode := New(childLink)
	t.Cleanup(func() {
		rootNode.Close()
		childNode.Close()
	})

	require.NoError(t, rootNode.Init(0x01, true))
	require.NoError(t, childNode.Init(0x02, false))
	childNode.ForceJoin()

	require.Eventually(t, func() bool {
		return len(rootNode.Table().Slots) > 0
	}, 2*time.Second, 20*time.Millisecond)

	_, err := childNode.RegisterApp(7)
	require.NoError(t, err)

	payload := []byte("hello")
	require.NoError(t, rootNode.SendDown(wire.AppHeader{Type: 7}, payload))

	hdr, got, err := childNode.Receive(7, time.Second)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, uint8(directionFromUpstream), hdr.Direction)
}

func TestSendUpRejectsOversizePayload(t *testing.T) {
	bus := loopback.NewBus()
	link := bus.NewLink(linktable.MAC{3, 3, 3, 3, 3, 3})
	n := New(link)
	t.Cleanup(n.Close)
	require.NoError(t, n.Init(0x03, false))

	big := make([]byte, wire.MaxPayload+1)
	err := n.SendUp(wire.AppHeader{Type: 1}, big)
	assert.ErrorIs(t, err, ErrOversizePayload)
}

func TestSendUpFailsWithoutUplink(t *testing.T) {
	bus := loopback.NewBus()
	link := bus.NewLink(linktable.MAC{4, 4, 4, 4, 4, 4})
	n := New(link)
	t.Cleanup(n.Close)
	require.NoError(t, n.Init(0x04, false))

	err := n.SendUp(wire.AppHeader{Type: 1}, nil)
	assert.ErrorIs(t, err, ErrNoUplink)
}

func TestSendUpNoOpOnRoot(t *testing.T) {
	bus := loopback.NewBus()
	link := bus.NewLink(linktable.MAC{5, 5, 5, 5, 5, 5})
	n := New(link)
	t.Cleanup(n.Close)
	require.NoError(t, n.Init(0x05, true))

	err := n.SendUp(wire.AppHeader{Type: 1}, nil)
	assert.ErrorIs(t, err, ErrRootSendUp)
}

func TestFreezeTogglesFlag(t *testing.T) {
	_, _, rootNode, childNode := newPair(t)
	require.NoError(t, rootNode.Init(0x01, true))
	require.NoError(t, childNode.Init(0x02, false))
	childNode.ForceJoin()

	require.Eventually(t, func() bool {
		return len(childNode.Table().Slots) > 0
	}, 2*time.Second, 20*time.Millisecond)

	childNode.handleFreeze(0x01)
	childNode.mu.Lock()
	frozen := childNode.flags&flagFrozen != 0
	childNode.mu.Unlock()
	assert.True(t, frozen)

	childNode.handleFreeze(0x01)
	childNode.mu.Lock()
	frozen = childNode.flags&flagFrozen != 0
	childNode.mu.Unlock()
	assert.False(t, frozen)
}

func TestBlackoutBroadcastsAndRestarts(t *testing.T) {
	_, _, rootNode, childNode := newPair(t)
	require.NoError(t, rootNode.Init(0x01, true))
	require.NoError(t, childNode.Init(0x02, false))
	childNode.ForceJoin()

	require.Eventually(t, func() bool {
		return len(rootNode.Table().Slots) > 0
	}, 2*time.Second, 20*time.Millisecond)

	restarted := make(chan struct{}, 1)
	rootNode.SetRestartFunc(func(time.Duration) { restarted <- struct{}{} })
	rootNode.execBlackout()

	select {
	case <-restarted:
	case <-time.After(time.Second):
		t.Fatal("execBlackout did not invoke the restart hook")
	}
}
