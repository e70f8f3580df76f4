// Package wire defines the messages exchanged between a node and its local
// daemon, and the framing used to carry them over a duplex byte channel.
//
// The message set mirrors spec.md §3/§6: a small, closed set of requests and
// replies, and a NodeEvent sum type carrying both user-visible variants and
// two internal sentinels (AllInputsClosed, OutputDropped) that the event
// pump consumes and never forwards to user code.
//
// Go has no native sum types; following the pattern the teacher's generated
// protobuf code uses for its oneof fields (a wrapper struct per variant,
// e.g. controller/gen/proxy/destination's Update_Add/Update_Remove), each
// variant here is expressed as a `Kind` discriminant plus the fields that
// variant alone uses. Since this module carries no protoc toolchain, the
// wrapper structs are hand-written rather than generated.
package wire

import "github.com/linkerd/node-runtime/ids"

// RequestKind discriminates DaemonRequest variants.
type RequestKind string

const (
	RequestRegister  RequestKind = "register"
	RequestSubscribe RequestKind = "subscribe"
	RequestNextEvent RequestKind = "next_event"
)

// DaemonRequest is one request sent from a node to its local daemon.
type DaemonRequest struct {
	Kind RequestKind `json:"kind" yaml:"kind"`

	// Register fields.
	Dataflow ids.DataflowId `json:"dataflow,omitempty" yaml:"dataflow,omitempty"`
	Node     ids.NodeId     `json:"node,omitempty" yaml:"node,omitempty"`

	// NextEvent fields.
	FinishedDropTokens []ids.DropToken `json:"finished_drop_tokens" yaml:"finished_drop_tokens,omitempty"`
}

// Register builds a Register{dataflow, node} request.
func Register(dataflow ids.DataflowId, node ids.NodeId) DaemonRequest {
	return DaemonRequest{Kind: RequestRegister, Dataflow: dataflow, Node: node}
}

// Subscribe builds a Subscribe request.
func Subscribe() DaemonRequest {
	return DaemonRequest{Kind: RequestSubscribe}
}

// NextEvent builds a NextEvent{finished_drop_tokens} request. A nil or empty
// slice is sent as an empty list, never omitted, so the daemon can tell
// "no tokens to return yet" apart from a malformed request.
func NextEvent(finished []ids.DropToken) DaemonRequest {
	if finished == nil {
		finished = []ids.DropToken{}
	}
	return DaemonRequest{Kind: RequestNextEvent, FinishedDropTokens: finished}
}

// ReplyKind discriminates DaemonReply variants.
type ReplyKind string

const (
	ReplyAck        ReplyKind = "ack"
	ReplyNextEvents ReplyKind = "next_events"
)

// DaemonReply is one reply sent from the daemon back to a node.
type DaemonReply struct {
	Kind   ReplyKind   `json:"kind" yaml:"kind"`
	Events []NodeEvent `json:"events,omitempty" yaml:"events,omitempty"`
}

// Ack builds an Ack reply.
func Ack() DaemonReply { return DaemonReply{Kind: ReplyAck} }

// NextEvents builds a NextEvents(events) reply. An empty (but non-nil)
// Events slice is the terminal signal per spec.md §3's invariants.
func NextEvents(events []NodeEvent) DaemonReply {
	if events == nil {
		events = []NodeEvent{}
	}
	return DaemonReply{Kind: ReplyNextEvents, Events: events}
}

// NodeEventKind discriminates NodeEvent variants.
type NodeEventKind string

const (
	EventStop            NodeEventKind = "stop"
	EventReload          NodeEventKind = "reload"
	EventInputClosed     NodeEventKind = "input_closed"
	EventAllInputsClosed NodeEventKind = "all_inputs_closed"
	EventInput           NodeEventKind = "input"
	EventOutputDropped   NodeEventKind = "output_dropped"
)

// DataKind discriminates the payload carried by an Input event.
type DataKind string

const (
	DataNone   DataKind = ""
	DataInline DataKind = "inline"
	DataShared DataKind = "shared"
)

// InputData is the wire representation of an Input event's payload: either
// absent, inlined as bytes, or a reference into a shared-memory region.
type InputData struct {
	Kind DataKind `json:"kind,omitempty" yaml:"kind,omitempty"`

	// DataInline.
	Bytes []byte `json:"bytes,omitempty" yaml:"bytes,omitempty"`

	// DataShared.
	SharedMemoryID string        `json:"shared_memory_id,omitempty" yaml:"shared_memory_id,omitempty"`
	Length         int           `json:"length,omitempty" yaml:"length,omitempty"`
	DropToken      ids.DropToken `json:"drop_token,omitempty" yaml:"drop_token,omitempty"`
}

// DropTokenIfAny returns the drop token carried by shared-memory data, if
// any, matching NodeEvent.shared_drop_token_if_any() in spec.md §4.4 step 4.
func (d *InputData) DropTokenIfAny() (ids.DropToken, bool) {
	if d == nil || d.Kind != DataShared {
		return ids.DropToken{}, false
	}
	return d.DropToken, true
}

// NodeEvent is one event delivered by the daemon, as described in spec.md
// §3. Metadata is an opaque key/value bag attached to Input events; its
// contents are not interpreted by this module.
type NodeEvent struct {
	Kind NodeEventKind `json:"kind" yaml:"kind"`

	// Reload.
	OperatorID ids.OperatorId `json:"operator_id,omitempty" yaml:"operator_id,omitempty"`

	// InputClosed, Input.
	ID ids.DataId `json:"id,omitempty" yaml:"id,omitempty"`

	// Input.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Data     *InputData        `json:"data,omitempty" yaml:"data,omitempty"`

	// OutputDropped.
	DropToken ids.DropToken `json:"drop_token,omitempty" yaml:"drop_token,omitempty"`
}

// SharedDropTokenIfAny returns the drop token this event's payload carries,
// if it is an Input event with shared-memory data.
func (e NodeEvent) SharedDropTokenIfAny() (ids.DropToken, bool) {
	if e.Kind != EventInput {
		return ids.DropToken{}, false
	}
	return e.Data.DropTokenIfAny()
}
