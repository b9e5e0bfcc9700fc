package linktable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mac(b byte) MAC {
	return MAC{b, b, b, b, b, b}
}

func TestFormUplinkOnceOnly(t *testing.T) {
	var tbl Table
	require.NoError(t, tbl.FormUplink(mac(1), 10))
	assert.ErrorIs(t, tbl.FormUplink(mac(2), 20), ErrUpstreamOccupied)
	assert.True(t, tbl.HasUplink())
	assert.True(t, tbl.IsUpstream(10))
}

func TestFormDownlinkLowestFreeSlot(t *testing.T) {
	var tbl Table
	slot1, err := tbl.FormDownlink(mac(1), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, slot1)

	slot2, err := tbl.FormDownlink(mac(2), 20)
	require.NoError(t, err)
	assert.Equal(t, 2, slot2)

	tbl.Remove(slot1)
	slot3, err := tbl.FormDownlink(mac(3), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, slot3, "lowest freed slot should be reused")
}

func TestDownlinkTableFull(t *testing.T) {
	var tbl Table
	for i := 1; i < Size; i++ {
		_, err := tbl.FormDownlink(mac(byte(i)), wire_NodeID(i))
		require.NoError(t, err)
	}
	_, err := tbl.FormDownlink(mac(99), 99)
	assert.ErrorIs(t, err, ErrTableFull)
}

// wire_NodeID avoids importing wire just for a cast in the test file.
func wire_NodeID(i int) uint8 { return uint8(i) }

// TestInvariants fuzzes a sequence of form/remove operations and
// checks: usage set iff NodeID != 0, at most one upstream, no
// duplicate NodeIDs (property 3).
func TestInvariants(t *testing.T) {
	var tbl Table
	ops := []struct {
		up     bool
		id     uint8
		remove int
	}{
		{up: true, id: 1},
		{id: 2},
		{id: 3},
		{remove: 2},
		{id: 4},
		{up: true, id: 99}, // should fail, already has uplink
	}
	for _, op := range ops {
		switch {
		case op.remove != 0:
			tbl.Remove(op.remove)
		case op.up:
			_ = tbl.FormUplink(mac(op.id), op.id)
		default:
			_, _ = tbl.FormDownlink(mac(op.id), op.id)
		}
	}

	seen := map[uint8]int{}
	upCount := 0
	for i := 0; i < Size; i++ {
		idx, e, ok := tbl.FindEntry(indexID(&tbl, i))
		_ = idx
		_ = ok
		if e.ID != 0 {
			seen[e.ID]++
		}
		if i == UpSlot && tbl.usage[i] {
			upCount++
		}
	}
	for id, count := range seen {
		assert.LessOrEqualf(t, count, 1, "duplicate NodeID %d", id)
	}
	assert.LessOrEqual(t, upCount, 1)
}

func indexID(tbl *Table, i int) uint8 {
	return tbl.entries[i].ID
}

func TestFindMACFindID(t *testing.T) {
	var tbl Table
	require.NoError(t, tbl.FormUplink(mac(7), 70))

	m, ok := tbl.FindMAC(70)
	require.True(t, ok)
	assert.Equal(t, mac(7), m)

	id, ok := tbl.FindID(mac(7))
	require.True(t, ok)
	assert.Equal(t, uint8(70), id)

	bm, ok := tbl.FindMAC(BroadcastID)
	require.True(t, ok)
	assert.Equal(t, BroadcastMAC, bm)
}

func TestAppTableRegister(t *testing.T) {
	tbl := NewAppTable()
	q, err := tbl.Register(10)
	require.NoError(t, err)
	assert.Equal(t, uint16(10), q.ID)

	_, err = tbl.Register(10)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestAppTableFull(t *testing.T) {
	tbl := NewAppTable()
	for i := 1; i <= MaxApps; i++ {
		_, err := tbl.Register(uint16(i))
		require.NoError(t, err)
	}
	_, err := tbl.Register(uint16(MaxApps + 1))
	assert.ErrorIs(t, err, ErrAppTableFull)
}

func TestAppTableEnqueueDropsWhenFull(t *testing.T) {
	tbl := NewAppTable()
	_, err := tbl.Register(5)
	require.NoError(t, err)

	var res EnqueueResult
	for i := 0; i < InboundQueueSize; i++ {
		res = tbl.Enqueue(5, InboundFrame{})
		require.Equal(t, EnqueueDelivered, res)
	}
	res = tbl.Enqueue(5, InboundFrame{})
	assert.Equal(t, EnqueueDropped, res, "queue should be full and drop")

	assert.Equal(t, EnqueueNotRegistered, tbl.Enqueue(999, InboundFrame{}), "unregistered app should report not-registered")
}
