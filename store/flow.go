// Package store provides database access to all raw objects.
package store

// Flow is one versioned flow definition row. The graph itself (states,
// final_states) is stored as JSON documents; the flow package owns their
// shape and validation.
type Flow struct {
	ID           string
	Version      int
	Name         string
	Description  string
	Module       string
	Trigger      string
	States       []byte // jsonb: state-name -> state definition
	InitialState string
	FinalStates  []byte // jsonb: array of terminal state names
	Enabled      bool
	UpdatedTs    int64
}

// FindFlow specifies the conditions for finding flows.
type FindFlow struct {
	ID      *string
	Module  *string
	Trigger *string
	Enabled *bool
}

// UpsertFlow specifies the data for creating or replacing a flow version.
// Idempotent on (id, version).
type UpsertFlow struct {
	ID           string
	Version      int
	Name         string
	Description  string
	Module       string
	Trigger      string
	States       []byte
	InitialState string
	FinalStates  []byte
	Enabled      bool
}

// UpdateFlow specifies a partial update (used by `flows toggle`).
type UpdateFlow struct {
	ID      string
	Enabled *bool
}
