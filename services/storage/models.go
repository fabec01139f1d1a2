// Package storage is the Postgres-backed persistence layer: it hydrates
// core.Workflow graphs from the shared node library and published
// snapshots, and persists core.ExecutionRecords for the coordinator.
package storage

import "encoding/json"

// nodeRow is the hydrated view combining a library blueprint's declared
// ports with a canvas instance id.
type nodeRow struct {
	InstanceID string
	NodeType   string
	Ports      json.RawMessage // {"inputs":[...],"outputs":[...]}
}

// portSpec mirrors core.InputPort/core.OutputPort for JSON (de)serialization
// out of the node_library.ports column.
type portSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Default  any    `json:"default,omitempty"`
	Required bool   `json:"required,omitempty"`
	Repeated bool   `json:"repeated,omitempty"`
}

type portDecl struct {
	Inputs  []portSpec `json:"inputs"`
	Outputs []portSpec `json:"outputs"`
}

// edgeRow is a directed connection between two node instances.
// SourceHandle distinguishes output ports/branches; TargetHandle the
// input slot it feeds.
type edgeRow struct {
	ID           string
	Source       string
	Target       string
	SourceHandle string
	TargetHandle string
}
