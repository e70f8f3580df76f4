// Package eventstream implements the Event Stream Facade of spec.md §4.5:
// the user-facing handle exposing blocking and cooperative-suspension
// receive operations, materializing shared-memory payloads lazily and
// wiring each delivered event's lifetime to a release acknowledgment.
package eventstream

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/linkerd/node-runtime/ids"
	"github.com/linkerd/node-runtime/shmem"
	log "github.com/sirupsen/logrus"
)

// Kind discriminates the user-visible Event variants of spec.md §3. The
// internal sentinels AllInputsClosed and OutputDropped never appear here —
// the pump consumes them before an event reaches the facade.
type Kind string

const (
	KindStop        Kind = "stop"
	KindReload      Kind = "reload"
	KindInputClosed Kind = "input_closed"
	KindInput       Kind = "input"
	KindError       Kind = "error"
)

// DataKind discriminates the payload materialized for an Input event.
type DataKind string

const (
	DataNone   DataKind = ""
	DataInline DataKind = "inline"
	DataShared DataKind = "shared"
)

// Data is the materialized payload carried by an Input event.
type Data struct {
	Kind DataKind

	// DataInline.
	Bytes []byte

	// DataShared.
	View *shmem.View
}

// Event is the user-visible projection of a NodeEvent (spec.md §3).
//
// Exactly one of Data's variants is populated when Kind is KindInput. The
// caller must call Release exactly once per Event it receives: for
// KindInput events carrying DataShared, Release is what signals the daemon
// (via the acknowledgment handoff) that the payload's memory may be
// reused — the Go rendering of the Rust implementation's scope-guard-on-drop
// (spec.md §9's "Ownership of shared mappings"). Go has no destructors, so
// forgetting to call Release only leaks the drop token after the pump's
// acknowledgment timeout (logged), rather than corrupting memory; a
// runtime.SetFinalizer safety net additionally releases shared payloads
// that become unreachable without an explicit call.
type Event struct {
	Kind       Kind
	OperatorID ids.OperatorId
	ID         ids.DataId
	Metadata   map[string]string
	Data       Data
	Err        string

	once    sync.Once
	ack     chan struct{}
	view    *shmem.View
	segment string
	reg     *shmem.Registry
}

// Release signals that the caller is finished with this event. Idempotent:
// calling it more than once, or on an event that needed no release, is
// harmless (spec.md §8's idempotence requirement).
func (e *Event) Release() {
	if e == nil {
		return
	}
	e.once.Do(func() {
		if e.view != nil {
			if err := e.view.Release(); err != nil {
				log.WithError(err).WithField("shared_memory_id", e.segment).
					Warn("failed to unmap shared memory view")
			}
			if e.reg != nil {
				e.reg.Untrack(e.segment)
			}
		}
		if e.ack != nil {
			close(e.ack)
		}
	})
}

func (e *Event) String() string {
	return fmt.Sprintf("Event{Kind:%s, ID:%s}", e.Kind, e.ID)
}

// attachFinalizer arranges for a shared-memory-backed event's release guard
// to fire even if the caller never calls Release, so a forgotten Event does
// not deadlock the pump forever — it only leaks its drop token after the
// pump's acknowledgment timeout, which is logged.
func attachFinalizer(e *Event) {
	runtime.SetFinalizer(e, func(e *Event) {
		e.Release()
	})
}
