// Package node wires the Transport Channel, Drop-Token Ledger, Event Pump,
// and Event Stream Facade together into the handle a dataflow node actually
// imports, the way the teacher's controller/destination package wires an
// endpointsWatcher, a listener, and a client into one subscription.
package node

import (
	"context"
	"fmt"
	"io"

	"github.com/linkerd/node-runtime/droptoken"
	"github.com/linkerd/node-runtime/eventpump"
	"github.com/linkerd/node-runtime/eventstream"
	"github.com/linkerd/node-runtime/ids"
	"github.com/linkerd/node-runtime/shmem"
	"github.com/linkerd/node-runtime/transport"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Options configures OpenEventStream.
type Options struct {
	Pump eventpump.Options
	// Journal, if non-nil, makes the drop-token ledger crash-durable
	// (SPEC_FULL.md §4.3). Pending() is replayed into the ledger before the
	// pump starts, so a restarted node resumes returning tokens a previous
	// instance had already been handed but not yet acknowledged.
	Journal *droptoken.Journal
	// SegmentRegistry, if non-nil, is used to track and optionally watch
	// currently-mapped shared-memory segments for the admin server's
	// /debug/segments endpoint.
	SegmentRegistry *shmem.Registry
}

// Node is a live subscription to the local daemon's event stream for one
// (dataflow, node) pair: the lifecycle object of spec.md §3.
type Node struct {
	stream   *eventstream.Stream
	finished *droptoken.FinishedSink
	channel  *transport.Channel
	ledger   *droptoken.Ledger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// OpenEventStream performs the subscription sequence of spec.md §6
// (Register, then Subscribe), starts the background Event Pump, and
// returns the user-facing Stream. conn is the duplex byte channel to the
// local daemon (a Unix domain socket in production).
func OpenEventStream(ctx context.Context, conn io.ReadWriteCloser, dataflow ids.DataflowId, nodeID ids.NodeId, opts Options) (*Node, error) {
	channel := transport.NewChannel(conn)

	if err := transport.RegisterAndSubscribe(channel, dataflow, nodeID); err != nil {
		channel.Close()
		return nil, fmt.Errorf("open event stream: %w", err)
	}

	var ledger *droptoken.Ledger
	if opts.Journal != nil {
		ledger = droptoken.NewLedgerWithJournal(opts.Journal)
		pending, err := opts.Journal.Pending()
		if err != nil {
			log.WithError(err).Warn("failed to read drop token journal, starting with an empty ledger")
		}
		for _, tok := range pending {
			if parsed, err := ids.ParseDropToken(tok); err == nil {
				ledger.Push(parsed)
			}
		}
	} else {
		ledger = droptoken.NewLedger()
	}

	finished := droptoken.NewFinishedSink()
	pump := eventpump.New(channel, ledger, finished, opts.Pump)

	pumpCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(pumpCtx)
	deliveries := make(chan eventpump.Delivery)

	group.Go(func() error {
		defer close(deliveries)
		err := pump.Run(groupCtx, deliveries)
		if err != nil {
			log.WithField("dataflow", dataflow).WithField("node", nodeID).
				WithError(err).Error("event pump exited with error")
		}
		return err
	})

	stream := eventstream.New(deliveries, opts.SegmentRegistry)

	return &Node{
		stream:   stream,
		finished: finished,
		channel:  channel,
		ledger:   ledger,
		cancel:   cancel,
		group:    group,
	}, nil
}

// Stream returns the user-facing event stream facade.
func (n *Node) Stream() *eventstream.Stream {
	return n.stream
}

// Ledger exposes the node's drop-token ledger for admin/debug introspection
// (the admin server's /debug/ledger endpoint).
func (n *Node) Ledger() *droptoken.Ledger {
	return n.ledger
}

// FinishedDropTokens returns the outward channel of drop tokens for
// payloads this node sent that have since been released downstream
// (spec.md §6's "finished-drop-tokens stream").
func (n *Node) FinishedDropTokens() <-chan ids.DropToken {
	return n.finished.Receive()
}

// Close cancels the pump, closes the transport channel, and waits for the
// pump goroutine to exit. Dropping a Node or its Stream without calling
// Close is not detected: the pump goroutine keeps running (blocked on the
// handoff once an event is waiting) until the context passed to
// OpenEventStream is cancelled.
func (n *Node) Close() error {
	n.cancel()
	closeErr := n.channel.Close()
	_ = n.group.Wait() // pump's own error is already logged; Close reports only the transport close error
	n.finished.Close()
	return closeErr
}
