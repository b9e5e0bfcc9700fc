package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "pinoded.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestReadConfigAppliesDefaults(t *testing.T) {
	p := writeTemp(t, "node_id: 2\nroot: false\ntransport:\n  kind: serial\n  device: /dev/ttyUSB0\n")
	c, err := ReadConfig(p)
	require.NoError(t, err)
	assert.EqualValues(t, 2, c.NodeID)
	assert.Equal(t, "serial", c.Transport.Kind)
	assert.NotZero(t, c.Collatz.BlockSize)
	assert.NotZero(t, c.Bounce.Cycle)
}

func TestReadConfigRejectsZeroNodeID(t *testing.T) {
	p := writeTemp(t, "root: true\n")
	_, err := ReadConfig(p)
	assert.Error(t, err)
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := ReadConfig("/nonexistent/pinoded.yaml")
	assert.Error(t, err)
}
