// Package admin implements the node-runtime admin HTTP server: Prometheus
// metrics, liveness/readiness, pprof, and the debug introspection endpoints
// a running node exposes over its shared-memory segments and pending drop
// tokens. Adapted from the teacher's own controller admin server, which
// every linkerd2 controller component embeds identically.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/linkerd/node-runtime/droptoken"
	"github.com/linkerd/node-runtime/shmem"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type handler struct {
	promHandler http.Handler
	enablePprof bool
	segments    *shmem.Registry
	ledger      *droptoken.Ledger
	ready       *bool
}

// NewServer returns an initialized `http.Server`, configured to listen on an
// address. segments and ledger may be nil if a node has no shared-memory
// registry or drop-token ledger to expose. ready is polled on every /ready
// request, letting the caller flip it once subscription has completed, the
// same readiness-gate pattern the teacher's controller binaries use around
// their own admin servers.
func NewServer(addr string, enablePprof bool, segments *shmem.Registry, ledger *droptoken.Ledger, ready *bool) *http.Server {
	h := &handler{
		promHandler: promhttp.Handler(),
		enablePprof: enablePprof,
		segments:    segments,
		ledger:      ledger,
		ready:       ready,
	}

	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
	}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	debugPathPrefix := "/debug/pprof/"
	if h.enablePprof && strings.HasPrefix(req.URL.Path, debugPathPrefix) {
		switch req.URL.Path {
		case fmt.Sprintf("%scmdline", debugPathPrefix):
			pprof.Cmdline(w, req)
		case fmt.Sprintf("%sprofile", debugPathPrefix):
			pprof.Profile(w, req)
		case fmt.Sprintf("%strace", debugPathPrefix):
			pprof.Trace(w, req)
		case fmt.Sprintf("%ssymbol", debugPathPrefix):
			pprof.Symbol(w, req)
		default:
			pprof.Index(w, req)
		}
		return
	}
	switch req.URL.Path {
	case "/metrics":
		h.promHandler.ServeHTTP(w, req)
	case "/ping":
		h.servePing(w)
	case "/ready":
		h.serveReady(w)
	case "/debug/segments":
		h.serveSegments(w)
	case "/debug/ledger":
		h.serveLedger(w)
	default:
		http.NotFound(w, req)
	}
}

func (h *handler) servePing(w http.ResponseWriter) {
	w.Write([]byte("pong\n"))
}

func (h *handler) serveReady(w http.ResponseWriter) {
	if h.ready != nil && !*h.ready {
		http.Error(w, "not ready\n", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok\n"))
}

// serveSegments reports every shared-memory segment this node currently
// holds a mapped view of, and how many live views reference each — useful
// for diagnosing a node that appears to be leaking shared-memory mappings.
func (h *handler) serveSegments(w http.ResponseWriter) {
	if h.segments == nil {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{}\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.segments.Snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// serveLedger reports how many drop tokens are currently queued for return
// to the daemon on this node's next NextEvent request. Leaked-token counts
// are exported as a Prometheus counter (metrics.DropTokensLeaked) rather
// than duplicated here.
func (h *handler) serveLedger(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	pending := 0
	if h.ledger != nil {
		pending = h.ledger.Len()
	}
	if err := json.NewEncoder(w).Encode(map[string]int{"pending_drop_tokens": pending}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
