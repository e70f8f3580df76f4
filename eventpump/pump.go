// Package eventpump implements the Event Pump of spec.md §4.4 — the heart
// of the core: a dedicated background loop that issues NextEvent requests,
// translates daemon replies into deliveries for the facade, synchronously
// backpressures on each delivered event via a zero-capacity acknowledgment
// handoff, and terminates on end-of-stream, cancellation, or fatal error.
//
// The main loop follows the same single request-per-iteration shape as the
// teacher's controller/tap/server.go tapProxy request loop (dial once, loop
// forever issuing one blocking call per iteration and forwarding what comes
// back), adapted here to a single persistent Transport Channel instead of a
// fresh gRPC stream each window.
package eventpump

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linkerd/node-runtime/droptoken"
	"github.com/linkerd/node-runtime/ids"
	"github.com/linkerd/node-runtime/metrics"
	"github.com/linkerd/node-runtime/transport"
	"github.com/linkerd/node-runtime/wire"
	log "github.com/sirupsen/logrus"
)

// Delivery is one item handed from the pump to the facade over the
// zero-capacity handoff channel: either a translated NodeEvent awaiting
// acknowledgment, or a terminal fatal error.
type Delivery struct {
	Event wire.NodeEvent
	// Ack is closed by the facade (directly, for payloads that impose no
	// backpressure, or via a release guard) to signal that the user has
	// finished with this event. A real value sent on Ack is a protocol
	// violation and is fatal.
	Ack chan struct{}
	// Err is set, with Event left zero, for the terminal FatalError item.
	Err error
}

// Options configures an Event Pump.
type Options struct {
	// AckTimeout bounds how long the pump waits for an event's
	// acknowledgment channel to close before logging the drop token (if
	// any) as leaked and moving on. Defaults to 30 seconds (spec.md §4.4).
	AckTimeout time.Duration
	// MaxTransientRetries bounds consecutive transport failures before the
	// pump gives up and exits fatally, resolving spec.md §9's open question
	// about unbounded retry. A negative value means unbounded (the spec's
	// literal described behavior). 0 selects the default of 10.
	MaxTransientRetries int
}

func (o Options) withDefaults() Options {
	if o.AckTimeout <= 0 {
		o.AckTimeout = 30 * time.Second
	}
	if o.MaxTransientRetries == 0 {
		o.MaxTransientRetries = 10
	}
	return o
}

// Pump drives the request/reply loop against a Transport Channel.
type Pump struct {
	channel  *transport.Channel
	ledger   *droptoken.Ledger
	finished *droptoken.FinishedSink
	opts     Options
	log      *log.Entry
}

// New creates a Pump. It does not start running until Run is called.
func New(channel *transport.Channel, ledger *droptoken.Ledger, finished *droptoken.FinishedSink, opts Options) *Pump {
	return &Pump{
		channel:  channel,
		ledger:   ledger,
		finished: finished,
		opts:     opts.withDefaults(),
		log:      log.WithField("component", "eventpump"),
	}
}

// Run executes the pump's main loop until it observes end-of-stream,
// cancellation via ctx, or a fatal error. sendCh is the zero-capacity
// handoff to the facade. Run always returns after sending at most one
// Delivery per NodeEvent plus, on fatal exit, one FatalError Delivery.
func (p *Pump) Run(ctx context.Context, sendCh chan<- Delivery) error {
	closed := false
	consecutiveFailures := 0

	for {
		tokens := p.ledger.Drain()
		if len(tokens) > 0 {
			metrics.DropTokensReturned.Add(float64(len(tokens)))
		}

		reply, err := p.channel.Request(wire.NextEvent(tokens))
		metrics.PumpIterations.Inc()

		if err != nil {
			consecutiveFailures++
			p.log.WithError(err).Warn("daemon round-trip failed")
			if p.opts.MaxTransientRetries > 0 && consecutiveFailures >= p.opts.MaxTransientRetries {
				return p.fail(ctx, sendCh, closed,
					fmt.Errorf("giving up after %d consecutive transport failures: %w", consecutiveFailures, err))
			}
			continue
		}
		consecutiveFailures = 0

		if reply.Kind != wire.ReplyNextEvents {
			p.log.WithField("reply_kind", reply.Kind).Warn("unexpected daemon reply, continuing")
			continue
		}

		if len(reply.Events) == 0 {
			p.log.Debug("event stream drained by daemon")
			return nil
		}

		for _, event := range reply.Events {
			switch event.Kind {
			case wire.EventAllInputsClosed:
				closed = true
				continue
			case wire.EventOutputDropped:
				p.finished.Send(event.DropToken)
				continue
			}

			if closed {
				p.log.WithField("kind", event.Kind).
					Warn("dropping event because stream is already closed")
				continue
			}

			done, err := p.deliver(ctx, sendCh, event)
			if err != nil {
				return p.fail(ctx, sendCh, closed, err)
			}
			if done {
				return nil
			}
		}
	}
}

// deliver sends one event to the facade and waits for its acknowledgment.
// done is true when ctx is cancelled (the node is closing), and the pump
// should then exit cleanly.
func (p *Pump) deliver(ctx context.Context, sendCh chan<- Delivery, event wire.NodeEvent) (done bool, err error) {
	dropToken, hasToken := event.SharedDropTokenIfAny()
	ack := make(chan struct{})

	select {
	case sendCh <- Delivery{Event: event, Ack: ack}:
	case <-ctx.Done():
		return true, nil
	}

	select {
	case v, ok := <-ack:
		if ok {
			_ = v
			return false, errors.New("protocol violation: acknowledgment channel received a value")
		}
		if hasToken {
			p.ledger.Push(dropToken)
		}
		return false, nil

	case <-time.After(p.opts.AckTimeout):
		entry := p.log.WithField("kind", event.Kind)
		entry.Warnf("timeout: event was not acknowledged after %s", p.opts.AckTimeout)
		if hasToken {
			metrics.DropTokensLeaked.Inc()
			entry.WithField("drop_token", dropToken).Warn("leaking drop token")
		}
		return false, nil

	case <-ctx.Done():
		return true, nil
	}
}

// fail attempts to deliver a terminal FatalError item, if the stream is
// still open, then returns err.
func (p *Pump) fail(ctx context.Context, sendCh chan<- Delivery, closed bool, err error) error {
	if closed {
		p.log.WithError(err).Error("event stream error after stream already closed")
		return err
	}

	select {
	case sendCh <- Delivery{Err: err}:
	case <-ctx.Done():
		p.log.WithError(err).Error("failed to report fatal event stream error: receiver gone")
	case <-time.After(p.opts.AckTimeout):
		p.log.WithError(err).Error("failed to report fatal event stream error: facade unresponsive")
	}
	return err
}

// DropTokenIfAny re-exports wire's extraction for callers assembling test
// fixtures without importing wire directly.
func DropTokenIfAny(event wire.NodeEvent) (ids.DropToken, bool) {
	return event.SharedDropTokenIfAny()
}
