package bounce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinode/mesh/linktable"
	"github.com/pinode/mesh/node"
	"github.com/pinode/mesh/transport/loopback"
	"github.com/pinode/mesh/wire"
)

func TestPacketRoundTrip(t *testing.T) {
	p := Packet{Magic: Magic, Counter: 3, Life: 10, NodeID: 0x02, Buffer: "hi"}
	buf := p.encode()
	got, ok := decode(buf)
	require.True(t, ok)
	assert.Equal(t, p, got)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := make([]byte, packetSize)
	_, ok := decode(buf)
	assert.False(t, ok)
}

func TestNewRejectsShortCycle(t *testing.T) {
	bus := loopback.NewBus()
	link := bus.NewLink(linktable.MAC{9, 9, 9, 9, 9, 9})
	n := node.New(link)
	t.Cleanup(n.Close)
	require.NoError(t, n.Init(0x09, true))

	_, err := New(n, 0x09, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrCycleTooShort)
}

// TestBounceEchoesAndIncrementsCounter covers scenario S2: a bounce
// packet sent downstream from the root arrives at the child, gets
// echoed back upstream with an incremented counter, since it arrived
// from upstream (direction 1).
func TestBounceEchoesAndIncrementsCounter(t *testing.T) {
	bus := loopback.NewBus()
	rootLink := bus.NewLink(linktable.MAC{1, 1, 1, 1, 1, 1})
	childLink := bus.NewLink(linktable.MAC{2, 2, 2, 2, 2, 2})

	rootNode := node.New(rootLink)
	childNode := node.New(childLink)
	t.Cleanup(func() {
		rootNode.Close()
		childNode.Close()
	})
	require.NoError(t, rootNode.Init(0x01, true))
	require.NoError(t, childNode.Init(0x02, false))

	childBounce, err := New(childNode, 0x02, MinCycle)
	require.NoError(t, err)
	childBounce.Start()
	t.Cleanup(childBounce.Stop)

	_, err = rootNode.RegisterApp(AppID)
	require.NoError(t, err)

	childNode.ForceJoin()
	require.Eventually(t, func() bool {
		return len(rootNode.Table().Slots) > 0
	}, 2*time.Second, 20*time.Millisecond)

	p := Packet{Magic: Magic, Counter: 0, Life: 5, NodeID: 0x01, Buffer: "ping"}
	require.NoError(t, rootNode.SendDown(wire.AppHeader{Type: AppID}, p.encode()))

	hdr, payload, err := rootNode.Receive(AppID, 2*time.Second)
	require.NoError(t, err)
	_ = hdr
	got, ok := decode(payload)
	require.True(t, ok)
	assert.EqualValues(t, 1, got.Counter)
	assert.Equal(t, wire.NodeID(0x02), wire.NodeID(got.NodeID))
}
