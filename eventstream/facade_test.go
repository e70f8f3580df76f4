package eventstream

import (
	"context"
	"testing"
	"time"

	"github.com/linkerd/node-runtime/eventpump"
	"github.com/linkerd/node-runtime/wire"
)

func TestRecvTranslatesInlineInput(t *testing.T) {
	deliveries := make(chan eventpump.Delivery, 1)
	ack := make(chan struct{})
	deliveries <- eventpump.Delivery{
		Event: wire.NodeEvent{Kind: wire.EventInput, ID: "a", Data: &wire.InputData{Kind: wire.DataInline, Bytes: []byte("hi")}},
		Ack:   ack,
	}

	s := New(deliveries, nil)
	ev, ok := s.Recv(context.Background())
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Kind != KindInput || ev.Data.Kind != DataInline || string(ev.Data.Bytes) != "hi" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	select {
	case _, open := <-ack:
		if open {
			t.Fatal("ack should be closed, not carry a value")
		}
	default:
		t.Fatal("inline input must release its ack immediately, imposing no backpressure")
	}
}

func TestRecvReturnsFalseOnClosedChannel(t *testing.T) {
	deliveries := make(chan eventpump.Delivery)
	close(deliveries)

	s := New(deliveries, nil)
	if _, ok := s.Recv(context.Background()); ok {
		t.Fatal("expected Recv to report end of stream")
	}
	// Idempotent.
	if _, ok := s.Recv(context.Background()); ok {
		t.Fatal("expected a second Recv to also report end of stream")
	}
}

func TestRecvFatalError(t *testing.T) {
	deliveries := make(chan eventpump.Delivery, 1)
	deliveries <- eventpump.Delivery{Err: context.DeadlineExceeded}

	s := New(deliveries, nil)
	ev, ok := s.Recv(context.Background())
	if !ok {
		t.Fatal("expected an error event, not end of stream")
	}
	if ev.Kind != KindError {
		t.Fatalf("expected KindError, got %+v", ev)
	}
}

func TestRecvRespectsContextCancellation(t *testing.T) {
	deliveries := make(chan eventpump.Delivery) // never sends

	s := New(deliveries, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, ok := s.Recv(ctx); ok {
		t.Fatal("expected Recv to return on context cancellation")
	}
}
