// Command pinoded runs one mesh node: it brings up the configured
// transport, joins or seeds the tree, starts whichever hosted
// applications are enabled, and serves the diagnostic HTTP endpoints.
package main

import (
	"flag"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinode/mesh/apps/bounce"
	"github.com/pinode/mesh/apps/collatz"
	"github.com/pinode/mesh/apps/collatz/gpioled"
	"github.com/pinode/mesh/config"
	"github.com/pinode/mesh/linktable"
	"github.com/pinode/mesh/node"
	"github.com/pinode/mesh/stats"
	"github.com/pinode/mesh/transport"
	"github.com/pinode/mesh/transport/serial"
	"github.com/pinode/mesh/transport/udpbroadcast"
)

func openTransport(cfg *config.Config) (transport.Transport, error) {
	var localMAC linktable.MAC
	localMAC[5] = cfg.NodeID

	switch cfg.Transport.Kind {
	case "serial":
		return serial.Open(serial.Config{
			Device:   cfg.Transport.Device,
			BaudRate: cfg.Transport.BaudRate,
			LocalMAC: localMAC,
		})
	case "udp":
		addr := net.ParseIP(cfg.Transport.BroadcastAddr)
		if addr == nil {
			return nil, fmt.Errorf("pinoded: invalid broadcast_addr %q", cfg.Transport.BroadcastAddr)
		}
		return udpbroadcast.Open(udpbroadcast.Config{
			Port:          cfg.Transport.Port,
			BroadcastAddr: addr,
			LocalMAC:      localMAC,
		})
	default:
		return nil, fmt.Errorf("pinoded: unknown transport kind %q", cfg.Transport.Kind)
	}
}

func run(cfg *config.Config) error {
	tr, err := openTransport(cfg)
	if err != nil {
		return err
	}

	n := node.New(tr)
	counters := stats.New()
	n.SetCounters(counters)

	if err := n.Init(cfg.NodeID, cfg.Root); err != nil {
		return err
	}

	var collatzApp *collatz.App
	if cfg.Collatz.Enabled {
		var led collatz.LED
		if cfg.Collatz.LEDChip != "" {
			l, err := gpioled.Open(cfg.Collatz.LEDChip, cfg.Collatz.LEDLine)
			if err != nil {
				log.Warnf("pinoded: could not open status LED: %v", err)
			} else {
				led = l
			}
		}
		collatzApp, err = collatz.New(n, cfg.Collatz.BlockSize, cfg.Collatz.Blocks, led)
		if err != nil {
			return fmt.Errorf("pinoded: starting collatz app: %w", err)
		}
		collatzApp.Start()
	}

	if cfg.Bounce.Enabled {
		bounceApp, err := bounce.New(n, cfg.NodeID, cfg.Bounce.Cycle)
		if err != nil {
			return fmt.Errorf("pinoded: starting bounce app: %w", err)
		}
		bounceApp.Start()
	}

	baseFn := func() string { return "" }
	if collatzApp != nil {
		baseFn = func() string { return collatzApp.Job().Snapshot().Base }
	}

	if cfg.Stats.JSONPort != 0 {
		srv := stats.NewJSONServer(counters, n.Table, baseFn)
		go func() {
			if err := srv.Start(cfg.Stats.JSONPort); err != nil {
				log.Errorf("pinoded: JSON stats server exited: %v", err)
			}
		}()
	}
	if cfg.Stats.PrometheusPort != 0 {
		exp := stats.NewPrometheusExporter(counters, baseFn)
		go func() {
			if err := exp.Start(cfg.Stats.PrometheusPort); err != nil {
				log.Errorf("pinoded: Prometheus exporter exited: %v", err)
			}
		}()
	}

	if collatzApp != nil {
		go refreshLinkGauges(n, counters, collatzApp, time.Second)
	} else {
		go refreshLinkGauges(n, counters, nil, time.Second)
	}

	select {}
}

// refreshLinkGauges periodically copies link table occupancy and
// Collatz progress into counters, since those are polled state rather
// than discrete events.
func refreshLinkGauges(n *node.Node, counters *stats.Counters, app *collatz.App, period time.Duration) {
	for range time.Tick(period) {
		snap := n.Table()
		counters.SetLinkSlotsUsed(len(snap.Slots))
		hasUp := false
		for _, s := range snap.Slots {
			if s.Index == linktable.UpSlot {
				hasUp = true
				break
			}
		}
		counters.SetHasUpstream(hasUp)

		if app != nil {
			js := app.Job().Snapshot()
			done := 0
			for _, b := range js.Blocks {
				if b == collatz.BlockDone {
					done++
				}
			}
			counters.SetCollatzBlocksDone(done)
		}
	}
}

func main() {
	var (
		configFlag  string
		verboseFlag bool
	)
	flag.StringVar(&configFlag, "config", "/etc/pinoded.yaml", "path to the config file")
	flag.BoolVar(&verboseFlag, "verbose", false, "verbose output")
	flag.Parse()

	log.SetLevel(log.InfoLevel)
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.ReadConfig(configFlag)
	if err != nil {
		log.Fatalf("pinoded: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("pinoded: %v", err)
	}
}
