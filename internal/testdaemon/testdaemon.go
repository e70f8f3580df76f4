// Package testdaemon implements a minimal in-process fake daemon that
// speaks the real wire protocol (package wire) over any duplex byte
// connection, usually the two ends of a net.Pipe. It is driven by a YAML
// Fixture describing a fixed sequence of NextEvent replies, letting
// package tests exercise the real transport, eventpump, and eventstream
// code against the six concrete scenarios of spec.md §8 without a real
// daemon process.
//
// This mirrors the teacher's own preference for exercising real wire code
// in tests rather than mocking at the interface boundary — compare
// controller/tap/server_test.go's use of an actual in-process gRPC server.
package testdaemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/linkerd/node-runtime/ids"
	"github.com/linkerd/node-runtime/wire"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Step is one scripted reply to a NextEvent request.
type Step struct {
	Events []wire.NodeEvent `yaml:"events"`
}

// Fixture is a named, ordered script of NextEvent replies.
type Fixture struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// LoadFixture reads and parses a YAML fixture file.
func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("load fixture %s: %w", path, err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return f, nil
}

// Daemon serves one connection's worth of the subscription protocol
// (Register, Subscribe, then a fixed sequence of NextEvent replies drawn
// from a Fixture). It is single-client: a real daemon multiplexes many
// nodes, but the event pump only ever talks to one channel, so the fake
// need only support one.
type Daemon struct {
	conn    io.ReadWriteCloser
	fixture Fixture
	log     *log.Entry

	mu       sync.Mutex
	returned []ids.DropToken
}

// New creates a Daemon serving conn according to fixture. Once the
// fixture's steps are exhausted, every further NextEvent request receives
// an empty NextEvents reply (end of stream), matching spec.md §3's
// invariant that end-of-stream is sticky.
func New(conn io.ReadWriteCloser, fixture Fixture) *Daemon {
	return &Daemon{
		conn:    conn,
		fixture: fixture,
		log:     log.WithField("component", "testdaemon").WithField("fixture", fixture.Name),
	}
}

// Returned reports the finished drop tokens this fake daemon has observed
// across all NextEvent requests served so far, in the order received.
func (d *Daemon) Returned() []ids.DropToken {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ids.DropToken, len(d.returned))
	copy(out, d.returned)
	return out
}

// Serve handles requests on conn until it is closed or a protocol error
// occurs. Run it in its own goroutine; it returns nil on a clean peer
// close (io.EOF) and a non-nil error otherwise.
func (d *Daemon) Serve() error {
	step := 0
	for {
		req, err := wire.ReadRequest(d.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("testdaemon: read request: %w", err)
		}

		switch req.Kind {
		case wire.RequestRegister:
			d.log.WithField("dataflow", req.Dataflow).WithField("node", req.Node).Debug("register")
			if err := wire.WriteReply(d.conn, wire.Ack()); err != nil {
				return fmt.Errorf("testdaemon: write register ack: %w", err)
			}

		case wire.RequestSubscribe:
			d.log.Debug("subscribe")
			if err := wire.WriteReply(d.conn, wire.Ack()); err != nil {
				return fmt.Errorf("testdaemon: write subscribe ack: %w", err)
			}

		case wire.RequestNextEvent:
			d.mu.Lock()
			d.returned = append(d.returned, req.FinishedDropTokens...)
			d.mu.Unlock()

			var events []wire.NodeEvent
			if step < len(d.fixture.Steps) {
				events = d.fixture.Steps[step].Events
				step++
			}
			if err := wire.WriteReply(d.conn, wire.NextEvents(events)); err != nil {
				return fmt.Errorf("testdaemon: write next_events: %w", err)
			}

		default:
			return fmt.Errorf("testdaemon: unrecognized request kind %q", req.Kind)
		}
	}
}
