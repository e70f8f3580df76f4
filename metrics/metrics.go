// Package metrics registers the Prometheus collectors exposed by the node
// runtime's admin server, in the teacher's promauto-registration idiom
// (see controller/util/grpc.go's grpc_prometheus.Register wrapping, adapted
// here to plain counters/gauges since the transport channel is not gRPC).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TransportRequests counts daemon round-trips by outcome: "ok" or "fatal"
// (transport.Channel.Request reports every send or receive failure as fatal).
var TransportRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "node_runtime_transport_requests_total",
	Help: "Daemon request/reply round-trips, by outcome.",
}, []string{"outcome"})

// EventsDelivered counts events handed to user code, by kind.
var EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "node_runtime_events_delivered_total",
	Help: "Events delivered to the event stream facade, by kind.",
}, []string{"kind"})

// DropTokensReturned counts drop tokens returned to the daemon via the next
// NextEvent request.
var DropTokensReturned = promauto.NewCounter(prometheus.CounterOpts{
	Name: "node_runtime_drop_tokens_returned_total",
	Help: "Drop tokens returned to the daemon.",
})

// DropTokensLeaked counts drop tokens abandoned after the 30-second
// acknowledgment timeout (spec.md §4.4, §7).
var DropTokensLeaked = promauto.NewCounter(prometheus.CounterOpts{
	Name: "node_runtime_drop_tokens_leaked_total",
	Help: "Drop tokens leaked after the acknowledgment timeout.",
})

// MappingFailures counts shared-memory mapping errors surfaced as Error
// events.
var MappingFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "node_runtime_shared_memory_mapping_failures_total",
	Help: "Shared-memory segments that failed to map.",
})

// PumpIterations counts completed NextEvent round-trips of the event pump.
var PumpIterations = promauto.NewCounter(prometheus.CounterOpts{
	Name: "node_runtime_pump_iterations_total",
	Help: "Completed event pump iterations.",
})
