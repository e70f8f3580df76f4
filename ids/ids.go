// Package ids defines the identifier types shared across the node-facing
// event stream: dataflow, node, operator and data names, and the opaque
// drop tokens the daemon mints for shared-memory payloads.
package ids

import (
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DataflowId uniquely identifies one running dataflow graph instance.
type DataflowId uuid.UUID

// NewDataflowId generates a fresh, random DataflowId.
func NewDataflowId() DataflowId {
	return DataflowId(uuid.New())
}

// ParseDataflowId parses a DataflowId from its canonical string form.
func ParseDataflowId(s string) (DataflowId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return DataflowId{}, fmt.Errorf("parse dataflow id: %w", err)
	}
	return DataflowId(u), nil
}

func (d DataflowId) String() string {
	return uuid.UUID(d).String()
}

// NodeId names a node within a dataflow. Assigned by the descriptor, not
// minted at runtime, so it is a plain string newtype rather than a UUID.
type NodeId string

func (n NodeId) String() string { return string(n) }

// OperatorId names an operator within a node, used by Reload directives.
type OperatorId string

func (o OperatorId) String() string { return string(o) }

// DataId is the logical name of a node's input or output.
type DataId string

func (d DataId) String() string { return string(d) }

// DropToken is an opaque identifier the daemon mints for each shared-memory
// payload it hands to a node. It must be returned to the daemon exactly
// once, either via the acknowledgment path or the drop-token ledger.
type DropToken uuid.UUID

// NewDropToken generates a fresh, random DropToken. Production code never
// calls this directly (the daemon mints tokens); it exists for tests and
// for the in-process fake daemon.
func NewDropToken() DropToken {
	return DropToken(uuid.New())
}

// ParseDropToken parses a DropToken from its canonical string form.
func ParseDropToken(s string) (DropToken, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return DropToken{}, fmt.Errorf("parse drop token: %w", err)
	}
	return DropToken(u), nil
}

func (t DropToken) String() string {
	return uuid.UUID(t).String()
}

// MarshalText implements encoding.TextMarshaler so DropToken round-trips
// cleanly through the clarketm/json-encoded wire envelope and through YAML
// test fixtures.
func (t DropToken) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DropToken) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return fmt.Errorf("unmarshal drop token: %w", err)
	}
	*t = DropToken(u)
	return nil
}

// MarshalText implements encoding.TextMarshaler for DataflowId.
func (d DataflowId) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for DataflowId.
func (d *DataflowId) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return fmt.Errorf("unmarshal dataflow id: %w", err)
	}
	*d = DataflowId(u)
	return nil
}

// MarshalYAML and UnmarshalYAML render a DropToken as its canonical string
// form in YAML-scripted test fixtures, the same plain-string encoding used
// on the wire.
func (t DropToken) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

func (t *DropToken) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*t = DropToken{}
		return nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("unmarshal drop token: %w", err)
	}
	*t = DropToken(u)
	return nil
}

// MarshalYAML and UnmarshalYAML render a DataflowId as its canonical string
// form in YAML-scripted test fixtures.
func (d DataflowId) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *DataflowId) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = DataflowId{}
		return nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("unmarshal dataflow id: %w", err)
	}
	*d = DataflowId(u)
	return nil
}
