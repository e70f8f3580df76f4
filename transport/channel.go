// Package transport implements the Transport Channel of spec.md §4.1: a
// duplex request/reply carrier to the local daemon, framed per spec.md §6.
//
// The channel is used only from the event pump goroutine after subscription
// (spec.md §4.1: "not concurrency-safe and does not need to be"), in the
// same single-owner style the teacher's controller/destination/client.go and
// controller/tap/client.go construct a dedicated connection per caller
// rather than sharing one across goroutines.
package transport

import (
	"errors"
	"fmt"
	"io"

	"github.com/linkerd/node-runtime/ids"
	"github.com/linkerd/node-runtime/metrics"
	"github.com/linkerd/node-runtime/wire"
	log "github.com/sirupsen/logrus"
)

// ErrTransient marks a single failed round-trip that the pump should log
// and retry (spec.md §7: "Transport transient").
var ErrTransient = errors.New("transport: transient error")

// ErrFatal marks a channel that is no longer usable (spec.md §7: "Transport
// fatal" — channel disconnected).
var ErrFatal = errors.New("transport: fatal error")

// Channel frames requests to, and replies from, a local daemon over a
// duplex byte connection.
type Channel struct {
	conn io.ReadWriteCloser
	log  *log.Entry
}

// NewChannel wraps a duplex byte connection (a Unix domain socket in
// production, a net.Pipe half in tests) as a daemon Transport Channel.
func NewChannel(conn io.ReadWriteCloser) *Channel {
	return &Channel{
		conn: conn,
		log:  log.WithField("component", "transport"),
	}
}

// Close releases the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// Request sends one DaemonRequest and returns the matching DaemonReply.
// Failures on send or receive are both surfaced as ErrFatal: a partially
// written frame or a read that failed mid-frame leaves the channel's
// framing state unrecoverable, so — unlike a request that round-tripped but
// carried an error status — there is no way to resynchronize and retry.
func (c *Channel) Request(req wire.DaemonRequest) (wire.DaemonReply, error) {
	if err := wire.WriteRequest(c.conn, req); err != nil {
		metrics.TransportRequests.WithLabelValues("fatal").Inc()
		return wire.DaemonReply{}, fmt.Errorf("%w: %s", ErrFatal, err)
	}

	reply, err := wire.ReadReply(c.conn)
	if err != nil {
		metrics.TransportRequests.WithLabelValues("fatal").Inc()
		return wire.DaemonReply{}, fmt.Errorf("%w: %s", ErrFatal, err)
	}

	metrics.TransportRequests.WithLabelValues("ok").Inc()
	return reply, nil
}

// Register sends the Register{dataflow, node} request and waits for the
// daemon's acknowledgment.
func (c *Channel) Register(dataflow ids.DataflowId, node ids.NodeId) error {
	reply, err := c.Request(wire.Register(dataflow, node))
	if err != nil {
		return err
	}
	if reply.Kind != wire.ReplyAck {
		return fmt.Errorf("%w: register: unexpected reply kind %q", ErrFatal, reply.Kind)
	}
	return nil
}

// Subscribe sends the Subscribe request and waits for the daemon's
// acknowledgment, entering the "subscribed" state of spec.md §3's lifecycle.
func (c *Channel) Subscribe() error {
	reply, err := c.Request(wire.Subscribe())
	if err != nil {
		return err
	}
	if reply.Kind != wire.ReplyAck {
		return fmt.Errorf("%w: subscribe: unexpected reply kind %q", ErrFatal, reply.Kind)
	}
	return nil
}

// RegisterAndSubscribe performs the subscription sequence described in
// spec.md §6: Register, then Subscribe.
func RegisterAndSubscribe(c *Channel, dataflow ids.DataflowId, node ids.NodeId) error {
	if err := c.Register(dataflow, node); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if err := c.Subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}
