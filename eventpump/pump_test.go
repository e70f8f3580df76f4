package eventpump

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/linkerd/node-runtime/droptoken"
	"github.com/linkerd/node-runtime/ids"
	"github.com/linkerd/node-runtime/transport"
	"github.com/linkerd/node-runtime/wire"
)

func TestPumpEndOfStream(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		wire.ReadRequest(server)
		wire.WriteReply(server, wire.NextEvents(nil))
	}()

	pump := New(transport.NewChannel(client), droptoken.NewLedger(), droptoken.NewFinishedSink(), Options{})
	deliveries := make(chan Delivery)

	done := make(chan error, 1)
	go func() { done <- pump.Run(context.Background(), deliveries) }()

	select {
	case d := <-deliveries:
		t.Fatalf("expected no delivery on end of stream, got %+v", d)
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned an error: %v", err)
		}
	}
}

func TestPumpSequentialRequests(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tok := ids.NewDropToken()

	go func() {
		wire.ReadRequest(server) // initial NextEvent
		wire.WriteReply(server, wire.NextEvents([]wire.NodeEvent{
			{Kind: wire.EventInput, ID: "a", Data: &wire.InputData{Kind: wire.DataNone}},
		}))

		req, err := wire.ReadRequest(server) // second NextEvent, after ack
		if err != nil {
			return
		}
		if len(req.FinishedDropTokens) != 0 {
			t.Errorf("unexpected finished tokens on second request: %v", req.FinishedDropTokens)
		}
		wire.WriteReply(server, wire.NextEvents(nil))
		_ = tok
	}()

	pump := New(transport.NewChannel(client), droptoken.NewLedger(), droptoken.NewFinishedSink(), Options{AckTimeout: time.Second})
	deliveries := make(chan Delivery)

	done := make(chan error, 1)
	go func() { done <- pump.Run(context.Background(), deliveries) }()

	d := <-deliveries
	if d.Err != nil {
		t.Fatalf("unexpected pump error: %v", d.Err)
	}
	if d.Event.ID != "a" {
		t.Fatalf("unexpected event: %+v", d.Event)
	}
	close(d.Ack)

	select {
	case d := <-deliveries:
		t.Fatalf("expected end of stream after the second NextEvent, got %+v", d)
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned an error: %v", err)
		}
	}
}

func TestPumpReturnsFinishedDropTokenOnNextRequest(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tok := ids.NewDropToken()
	seen := make(chan []ids.DropToken, 1)

	go func() {
		wire.ReadRequest(server)
		wire.WriteReply(server, wire.NextEvents([]wire.NodeEvent{
			{Kind: wire.EventInput, ID: "x", Data: &wire.InputData{Kind: wire.DataShared, SharedMemoryID: "seg", Length: 4, DropToken: tok}},
		}))

		req, err := wire.ReadRequest(server)
		if err != nil {
			return
		}
		seen <- req.FinishedDropTokens
		wire.WriteReply(server, wire.NextEvents(nil))
	}()

	pump := New(transport.NewChannel(client), droptoken.NewLedger(), droptoken.NewFinishedSink(), Options{AckTimeout: time.Second})
	deliveries := make(chan Delivery)

	done := make(chan error, 1)
	go func() { done <- pump.Run(context.Background(), deliveries) }()

	d := <-deliveries
	close(d.Ack)

	select {
	case got := <-seen:
		if len(got) != 1 || got[0] != tok {
			t.Fatalf("expected the drop token to be returned, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the second NextEvent request")
	}
	if err := <-done; err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}
}
