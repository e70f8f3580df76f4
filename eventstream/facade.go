package eventstream

import (
	"context"
	"fmt"

	"github.com/linkerd/node-runtime/eventpump"
	"github.com/linkerd/node-runtime/metrics"
	"github.com/linkerd/node-runtime/shmem"
	"github.com/linkerd/node-runtime/wire"
	log "github.com/sirupsen/logrus"
)

// Stream is the user-facing handle over a node's event pump. It is a thin
// projection (spec.md §5): its only suspension point is the handoff
// receive, matching controller/destination/listener.go's updateListener,
// which is likewise a thin adapter over a channel rather than an active
// component of its own.
type Stream struct {
	deliveries <-chan eventpump.Delivery
	registry   *shmem.Registry
	log        *log.Entry
}

// New wraps the pump's delivery channel as a user-facing Stream. registry
// may be nil if shared-memory segment tracking is not needed.
func New(deliveries <-chan eventpump.Delivery, registry *shmem.Registry) *Stream {
	return &Stream{
		deliveries: deliveries,
		registry:   registry,
		log:        log.WithField("component", "eventstream"),
	}
}

// Recv receives and translates the next event.
//
// Passing context.Background() (or any context that is never cancelled)
// gives the blocking behavior of spec.md §4.5's `recv`; passing a context
// with a deadline or that the caller cancels gives the cooperative
// suspension behavior of `recv_cooperative` — both are the same Go
// operation, a select over the handoff channel and ctx.Done(), which is the
// "wrap a synchronous primitive with a suspension adapter at the facade
// boundary" option spec.md §9 sanctions.
//
// Recv returns (nil, false) once the stream is closed; this is idempotent,
// matching spec.md §8.
func (s *Stream) Recv(ctx context.Context) (*Event, bool) {
	select {
	case d, ok := <-s.deliveries:
		if !ok {
			return nil, false
		}
		return s.translate(d), true
	case <-ctx.Done():
		return nil, false
	}
}

func (s *Stream) translate(d eventpump.Delivery) *Event {
	if d.Err != nil {
		metrics.EventsDelivered.WithLabelValues(string(KindError)).Inc()
		return &Event{Kind: KindError, Err: fmt.Sprintf("fatal event stream error: %s", d.Err)}
	}

	ne := d.Event
	switch ne.Kind {
	case wire.EventStop:
		releaseNow(d.Ack)
		metrics.EventsDelivered.WithLabelValues(string(KindStop)).Inc()
		return &Event{Kind: KindStop}

	case wire.EventReload:
		releaseNow(d.Ack)
		metrics.EventsDelivered.WithLabelValues(string(KindReload)).Inc()
		return &Event{Kind: KindReload, OperatorID: ne.OperatorID}

	case wire.EventInputClosed:
		releaseNow(d.Ack)
		metrics.EventsDelivered.WithLabelValues(string(KindInputClosed)).Inc()
		return &Event{Kind: KindInputClosed, ID: ne.ID}

	case wire.EventInput:
		return s.translateInput(ne, d.Ack)

	case wire.EventAllInputsClosed, wire.EventOutputDropped:
		// Never reach the facade: the pump consumes these internally
		// (spec.md §4.5). Surfacing one here means the pump has a bug.
		releaseNow(d.Ack)
		s.log.WithField("kind", ne.Kind).Error("internal: unexpected event reached facade")
		metrics.EventsDelivered.WithLabelValues(string(KindError)).Inc()
		return &Event{Kind: KindError, Err: "internal: unexpected event"}

	default:
		releaseNow(d.Ack)
		s.log.WithField("kind", ne.Kind).Error("internal: unrecognized event kind")
		metrics.EventsDelivered.WithLabelValues(string(KindError)).Inc()
		return &Event{Kind: KindError, Err: fmt.Sprintf("internal: unrecognized event kind %q", ne.Kind)}
	}
}

func (s *Stream) translateInput(ne wire.NodeEvent, ack chan struct{}) *Event {
	base := &Event{Kind: KindInput, ID: ne.ID, Metadata: ne.Metadata}

	if ne.Data == nil || ne.Data.Kind == wire.DataNone {
		releaseNow(ack)
		base.Data = Data{Kind: DataNone}
		metrics.EventsDelivered.WithLabelValues(string(KindInput)).Inc()
		return base
	}

	if ne.Data.Kind == wire.DataInline {
		releaseNow(ack)
		base.Data = Data{Kind: DataInline, Bytes: ne.Data.Bytes}
		metrics.EventsDelivered.WithLabelValues(string(KindInput)).Inc()
		return base
	}

	// DataShared: map eagerly (spec.md §4.5), on failure surface Error and
	// release the token on the next NextEvent regardless (SPEC_FULL.md §9
	// decision 1) rather than treating it as held.
	view, err := shmem.Map(ne.Data.SharedMemoryID, ne.Data.Length)
	if err != nil {
		releaseNow(ack)
		s.log.WithError(err).WithField("shared_memory_id", ne.Data.SharedMemoryID).
			Warn("failed to map shared memory segment")
		metrics.MappingFailures.Inc()
		metrics.EventsDelivered.WithLabelValues(string(KindError)).Inc()
		return &Event{Kind: KindError, Err: err.Error()}
	}

	if s.registry != nil {
		s.registry.Track(ne.Data.SharedMemoryID)
	}

	base.Data = Data{Kind: DataShared, View: view}
	base.ack = ack
	base.view = view
	base.segment = ne.Data.SharedMemoryID
	base.reg = s.registry
	attachFinalizer(base)
	metrics.EventsDelivered.WithLabelValues(string(KindInput)).Inc()
	return base
}

// releaseNow closes ack immediately: the event carries no shared payload,
// so it imposes no backpressure beyond this delivery (spec.md §4.5).
func releaseNow(ack chan struct{}) {
	if ack != nil {
		close(ack)
	}
}
