package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountersSnapshot(t *testing.T) {
	c := New()
	c.IncFramesSent()
	c.IncFramesSent()
	c.IncFramesDropped()
	c.SetLinkSlotsUsed(3)
	c.SetHasUpstream(true)
	c.SetCollatzBlocksDone(5)

	snap := c.Snapshot("abc")
	assert.EqualValues(t, 2, snap.FramesSent)
	assert.EqualValues(t, 1, snap.FramesDropped)
	assert.EqualValues(t, 3, snap.LinkSlotsUsed)
	assert.True(t, snap.HasUpstream)
	assert.EqualValues(t, 5, snap.CollatzBlocksDone)
	assert.Equal(t, "abc", snap.CollatzBase)
}

func TestPrometheusExporterRegistersGauges(t *testing.T) {
	c := New()
	c.IncFramesSent()
	e := NewPrometheusExporter(c, nil)
	mfs, err := e.registry.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, mfs)
}
