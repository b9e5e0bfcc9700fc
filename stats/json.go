package stats

import (
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/pinode/mesh/linktable"
)

// BaseFunc returns the current Collatz frame base as a hex string, or
// "" if no Collatz app is running on this node.
type BaseFunc func() string

// JSONServer exposes Counters and a link table snapshot over plain
// HTTP JSON, mirroring the ptp4u monitoring server's handler style.
type JSONServer struct {
	counters *Counters
	table    func() linktable.Snapshot
	base     BaseFunc
}

// NewJSONServer builds a JSONServer. tableFn and baseFn may be nil if
// there's nothing to report for that section.
func NewJSONServer(counters *Counters, tableFn func() linktable.Snapshot, baseFn BaseFunc) *JSONServer {
	return &JSONServer{counters: counters, table: tableFn, base: baseFn}
}

// Start runs the HTTP server on port; it blocks until the server
// exits or fails.
func (s *JSONServer) Start(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/counters", s.handleCounters)
	mux.HandleFunc("/table", s.handleTable)
	addr := fmt.Sprintf(":%d", port)
	log.Infof("stats: starting JSON server on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *JSONServer) handleCounters(w http.ResponseWriter, r *http.Request) {
	var base string
	if s.base != nil {
		base = s.base()
	}
	writeJSON(w, s.counters.Snapshot(base))
}

func (s *JSONServer) handleTable(w http.ResponseWriter, r *http.Request) {
	if s.table == nil {
		writeJSON(w, linktable.Snapshot{})
		return
	}
	writeJSON(w, s.table())
}

func writeJSON(w http.ResponseWriter, v any) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(js); err != nil {
		log.Errorf("stats: failed to write response: %v", err)
	}
}
