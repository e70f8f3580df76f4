package droptoken

import (
	"testing"

	"github.com/linkerd/node-runtime/ids"
)

func TestLedgerDrainEmpty(t *testing.T) {
	l := NewLedger()
	if got := l.Drain(); got != nil {
		t.Fatalf("expected nil from an empty ledger, got %v", got)
	}
}

func TestLedgerPushThenDrain(t *testing.T) {
	l := NewLedger()
	t1 := ids.NewDropToken()
	t2 := ids.NewDropToken()
	l.Push(t1)
	l.Push(t2)

	got := l.Drain()
	if len(got) != 2 || got[0] != t1 || got[1] != t2 {
		t.Fatalf("unexpected drain result: %v", got)
	}

	if got := l.Drain(); got != nil {
		t.Fatalf("expected nil after draining, got %v", got)
	}
}

func TestLedgerWithJournalRecordsAndForgets(t *testing.T) {
	dir := t.TempDir()
	journal, err := OpenJournal(dir + "/journal.db")
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	defer journal.Close()

	l := NewLedgerWithJournal(journal)
	tok := ids.NewDropToken()
	l.Push(tok)

	pending, err := journal.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != tok.String() {
		t.Fatalf("expected journal to hold the pushed token, got %v", pending)
	}

	drained := l.Drain()
	if len(drained) != 1 || drained[0] != tok {
		t.Fatalf("unexpected drain result: %v", drained)
	}

	pending, err = journal.Pending()
	if err != nil {
		t.Fatalf("Pending after drain: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected the journal to forget drained tokens, got %v", pending)
	}
}

func TestFinishedSinkSendReceive(t *testing.T) {
	s := NewFinishedSink()
	tok := ids.NewDropToken()
	s.Send(tok)

	got := <-s.Receive()
	if got != tok {
		t.Fatalf("unexpected token: got %v want %v", got, tok)
	}
}

func TestFinishedSinkSendAfterCloseIsHarmless(t *testing.T) {
	s := NewFinishedSink()
	s.Close()
	s.Send(ids.NewDropToken()) // must not panic or block
}
