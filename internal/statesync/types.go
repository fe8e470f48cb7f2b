// Package statesync implements the bridge's state serializer: snapshotting,
// structural diffing, checksum-verified patch application, and validation of
// the opaque domain game state.
package statesync

import "time"

// ChangeType classifies a single StateChange.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// StateChange is one structural difference between two states, addressed by
// a dot-delimited JSON path (numeric segments address array indices).
type StateChange struct {
	Path       string     `json:"path"`
	OldValue   any        `json:"old_value,omitempty"`
	NewValue   any        `json:"new_value,omitempty"`
	ChangeType ChangeType `json:"change_type"`
}

// SnapshotMetadata accompanies a full-state snapshot.
type SnapshotMetadata struct {
	Checksum    string    `json:"checksum"`
	Compression bool      `json:"compression"`
	Timestamp   time.Time `json:"timestamp"`
}

// Snapshot is a full state capture with its fingerprint metadata.
type Snapshot struct {
	Metadata SnapshotMetadata `json:"metadata"`
	State    map[string]any   `json:"state"`
}

// UpdateMetadata accompanies an IncrementalUpdate.
type UpdateMetadata struct {
	Checksum    string    `json:"checksum"`
	BaseVersion string    `json:"base_version"`
	Timestamp   time.Time `json:"timestamp"`
}

// IncrementalUpdate is an ordered set of changes that transforms a base state
// (identified by BaseChecksum) into a new state (fingerprinted in Metadata).
type IncrementalUpdate struct {
	BaseChecksum string         `json:"base_checksum"`
	Changes      []StateChange  `json:"changes"`
	Metadata     UpdateMetadata `json:"metadata"`
}
