// Package config loads a pinoded node's run configuration from a YAML
// file, the same ReadConfig-from-a-path convention the rest of the
// client daemons in this codebase use.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/pinode/mesh/apps/collatz"
)

// TransportConfig selects and configures the link-layer transport.
type TransportConfig struct {
	Kind string `yaml:"kind"` // "serial" or "udp"

	// serial
	Device   string `yaml:"device,omitempty"`
	BaudRate int    `yaml:"baud_rate,omitempty"`

	// udp
	Port            int    `yaml:"port,omitempty"`
	BroadcastAddr   string `yaml:"broadcast_addr,omitempty"`
}

// CollatzConfig sizes the distributed Collatz verifier, if enabled.
type CollatzConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BlockSize uint32 `yaml:"block_size"`
	Blocks    int    `yaml:"blocks"`
	LEDChip   string `yaml:"led_chip,omitempty"`
	LEDLine   int    `yaml:"led_line,omitempty"`
}

// BounceConfig configures the Bounce echo application, if enabled.
type BounceConfig struct {
	Enabled bool          `yaml:"enabled"`
	Cycle   time.Duration `yaml:"cycle"`
}

// StatsConfig configures the diagnostic HTTP endpoints.
type StatsConfig struct {
	JSONPort       int `yaml:"json_port,omitempty"`
	PrometheusPort int `yaml:"prometheus_port,omitempty"`
}

// Config specifies a pinoded node's run options.
type Config struct {
	NodeID    uint8            `yaml:"node_id"`
	Root      bool             `yaml:"root"`
	Transport TransportConfig  `yaml:"transport"`
	Collatz   CollatzConfig    `yaml:"collatz"`
	Bounce    BounceConfig     `yaml:"bounce"`
	Stats     StatsConfig      `yaml:"stats"`
}

// ReadConfig reads and parses config from path, filling in defaults
// for anything the file leaves zero.
func ReadConfig(path string) (*Config, error) {
	c := &Config{
		Bounce: BounceConfig{Cycle: time.Second},
		Collatz: CollatzConfig{
			BlockSize: collatz.DefaultBlockSize,
			Blocks:    collatz.DefaultBlocks,
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}

	if c.NodeID == 0 {
		return nil, fmt.Errorf("config: node_id must be nonzero")
	}
	return c, nil
}
