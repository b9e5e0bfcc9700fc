package collatz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pinode/mesh/linktable"
	"github.com/pinode/mesh/node"
	"github.com/pinode/mesh/transport/loopback"
)

// TestRootAndChildConverge drives two full Apps over a real (loopback)
// transport through the join handshake and a small integer frame,
// and checks they reach the same base -- an end-to-end version of
// property 10 exercising the wire encoding and the comm relay too.
func TestRootAndChildConverge(t *testing.T) {
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
	childNode.ForceJoin()

	require.Eventually(t, func() bool {
		return len(rootNode.Table().Slots) > 0
	}, 2*time.Second, 20*time.Millisecond)

	rootApp, err := New(rootNode, TestBlockSize, TestBlocks, nil)
	require.NoError(t, err)
	childApp, err := New(childNode, TestBlockSize, TestBlocks, nil)
	require.NoError(t, err)

	rootApp.Start()
	childApp.Start()
	t.Cleanup(func() {
		rootApp.Stop()
		childApp.Stop()
	})

	require.Eventually(t, func() bool {
		rs := rootApp.Job().Snapshot()
		cs := childApp.Job().Snapshot()
		return rs.Base == cs.Base && rs.Base != startBase().String()
	}, 10*time.Second, 50*time.Millisecond, "root and child never converged on an advanced base")
}

func TestAppRegistersOnNew(t *testing.T) {
	bus := loopback.NewBus()
	link := bus.NewLink(linktable.MAC{9, 9, 9, 9, 9, 9})
	n := node.New(link)
	t.Cleanup(n.Close)
	require.NoError(t, n.Init(0x09, true))

	app, err := New(n, TestBlockSize, TestBlocks, nil)
	require.NoError(t, err)
	require.NotNil(t, app.Job())

	_, err = n.RegisterApp(AppID)
	require.ErrorIs(t, err, linktable.ErrAlreadyRegistered)
}
