// Package droptoken implements the Drop-Token Ledger of spec.md §4.3: a
// multi-producer, unbounded queue accumulating the drop tokens a node has
// finished with, drained non-blockingly into each NextEvent request, plus a
// separate sink carrying OutputDropped tokens outward to whatever subsystem
// owns this node's outbound buffers. The sink is bounded: it buffers up to
// 4096 tokens, and a token sent while the buffer is full is logged and
// dropped.
//
// Ordering need only be preserved within a single producer (spec.md §4.3),
// so a mutex-protected growable slice — the same structural choice the
// teacher's controller/destination/endpointsWatcher makes for its
// servicePorts map (a plain map guarded by sync.RWMutex rather than a
// lock-free structure) — is the idiomatic, adequately-performing choice
// here too; dataflow nodes exchange tens to thousands of messages per
// second, not millions, so a mutex is not a bottleneck.
package droptoken

import (
	"sync"

	"github.com/linkerd/node-runtime/ids"
	log "github.com/sirupsen/logrus"
)

// Ledger accumulates drop tokens released by this node's shared-memory
// payloads until the event pump drains them into the next NextEvent
// request. An optional Journal makes that accumulation crash-durable.
type Ledger struct {
	mu      sync.Mutex
	pending []ids.DropToken
	journal *Journal
}

// NewLedger creates an empty, purely in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// NewLedgerWithJournal creates a ledger that also persists every pushed
// token to journal, and forgets it once drained. On startup, callers should
// replay journal.Pending() through Push to recover tokens a previous
// process instance had not yet returned to the daemon.
func NewLedgerWithJournal(journal *Journal) *Ledger {
	return &Ledger{journal: journal}
}

// Push accepts a drop token from any producer holding a handle to a
// released shared-memory payload. Never blocks.
func (l *Ledger) Push(token ids.DropToken) {
	l.mu.Lock()
	l.pending = append(l.pending, token)
	journal := l.journal
	l.mu.Unlock()

	if journal != nil {
		if err := journal.Record(token.String()); err != nil {
			log.WithError(err).WithField("drop_token", token).
				Warn("failed to persist drop token to journal")
		}
	}
}

// Len reports how many tokens are currently queued, without draining them.
// Exposed for the admin server's /debug/ledger endpoint.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Drain returns and clears all pending tokens. Non-blocking, safe to call
// even when empty.
func (l *Ledger) Drain() []ids.DropToken {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return nil
	}
	drained := l.pending
	l.pending = nil
	journal := l.journal
	l.mu.Unlock()

	if journal != nil {
		for _, token := range drained {
			if err := journal.Forget(token.String()); err != nil {
				log.WithError(err).WithField("drop_token", token).
					Warn("failed to forget drop token in journal")
			}
		}
	}
	return drained
}

// FinishedSink carries OutputDropped tokens — payloads this node sent that
// the downstream consumer has released — out to whatever subsystem owns
// this node's outbound buffers. It is write-only from the event pump's
// perspective (spec.md §4.3); a send after the consumer has stopped
// listening is logged and dropped rather than blocking the pump.
type FinishedSink struct {
	out chan ids.DropToken

	mu     sync.Mutex
	closed bool
}

// NewFinishedSink creates a sink with room for backlog before the pump
// would ever observe backpressure from it; in steady state the consumer
// drains it continuously.
func NewFinishedSink() *FinishedSink {
	return &FinishedSink{out: make(chan ids.DropToken, 4096)}
}

// Send delivers token to the sink's consumer. FIFO order of arrival is
// preserved (spec.md §3's invariant on OutputDropped delivery) because a
// single pump goroutine is the sole caller.
func (s *FinishedSink) Send(token ids.DropToken) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		log.WithField("drop_token", token).Warn("finished drop token sink closed, dropping")
		return
	}

	select {
	case s.out <- token:
	default:
		log.WithField("drop_token", token).
			Warn("finished drop token sink full, dropping (consumer too slow)")
	}
}

// Receive returns the channel consumers read finished drop tokens from.
func (s *FinishedSink) Receive() <-chan ids.DropToken {
	return s.out
}

// Close stops accepting further sends and closes the output channel. Safe
// to call once the owning node is shutting down.
func (s *FinishedSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}
