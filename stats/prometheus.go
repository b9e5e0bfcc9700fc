package stats

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter registers a fixed set of gauges against Counters
// and serves them on /metrics, following the registry + promhttp
// wiring used for the sptp client's own exporter.
type PrometheusExporter struct {
	registry *prometheus.Registry
	counters *Counters
	base     BaseFunc

	framesSent    prometheus.GaugeFunc
	framesDropped prometheus.GaugeFunc
	framesRecv    prometheus.GaugeFunc
	linkSlotsUsed prometheus.GaugeFunc
	hasUpstream   prometheus.GaugeFunc
	blocksDone    prometheus.GaugeFunc
}

// NewPrometheusExporter builds and registers the gauges for counters.
// baseFn may be nil.
func NewPrometheusExporter(counters *Counters, baseFn BaseFunc) *PrometheusExporter {
	e := &PrometheusExporter{
		registry: prometheus.NewRegistry(),
		counters: counters,
		base:     baseFn,
	}

	snap := func() Snapshot {
		var base string
		if e.base != nil {
			base = e.base()
		}
		return e.counters.Snapshot(base)
	}

	e.framesSent = gaugeFunc("mesh_frames_sent_total", "Frames handed to the transport", func() float64 { return float64(snap().FramesSent) })
	e.framesDropped = gaugeFunc("mesh_frames_dropped_total", "Frames dropped by the outbound sender or a full application queue", func() float64 { return float64(snap().FramesDropped) })
	e.framesRecv = gaugeFunc("mesh_frames_received_total", "Valid frames received from the transport", func() float64 { return float64(snap().FramesRecv) })
	e.linkSlotsUsed = gaugeFunc("mesh_link_slots_used", "Occupied link table slots", func() float64 { return float64(snap().LinkSlotsUsed) })
	e.hasUpstream = gaugeFunc("mesh_has_upstream", "1 if an upstream link is established", func() float64 {
		if snap().HasUpstream {
			return 1
		}
		return 0
	})
	e.blocksDone = gaugeFunc("mesh_collatz_blocks_done", "Done blocks in the current Collatz frame", func() float64 { return float64(snap().CollatzBlocksDone) })

	for _, g := range []prometheus.GaugeFunc{e.framesSent, e.framesDropped, e.framesRecv, e.linkSlotsUsed, e.hasUpstream, e.blocksDone} {
		e.registry.MustRegister(g)
	}

	return e
}

func gaugeFunc(name, help string, f func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, f)
}

// Start serves /metrics on port. It blocks until the server exits or fails.
func (e *PrometheusExporter) Start(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	addr := fmt.Sprintf(":%d", port)
	log.Infof("stats: starting Prometheus exporter on %s", addr)
	return http.ListenAndServe(addr, mux)
}
