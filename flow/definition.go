// Package flow implements the conversational state machine: versioned flow
// definitions, the per-run context, and the engine that drives runs through
// states by executing registered actions and following event transitions.
package flow

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// State types.
const (
	StateAction   = "action"
	StateInput    = "input"
	StateDecision = "decision"
	StateEnd      = "end"
)

// Reserved transition events. Flows may emit custom events (e.g. "yes",
// "high_conf") beyond these.
const (
	EventSuccess     = "success"
	EventError       = "error"
	EventInvalid     = "invalid"
	EventTimeout     = "timeout"
	EventUserMessage = "user_message"
)

// Definition is one versioned flow: a directed graph of states activated by
// an intent trigger.
type Definition struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	Description  string                     `json:"description,omitempty"`
	Module       string                     `json:"module"`
	Trigger      string                     `json:"trigger"`
	States       map[string]StateDefinition `json:"states"`
	InitialState string                     `json:"initial_state"`
	FinalStates  []string                   `json:"final_states"`
	Enabled      bool                       `json:"enabled"`
	Version      int                        `json:"version"`
}

// StateDefinition is one node of the graph.
type StateDefinition struct {
	Type string `json:"type"`

	// Actions run in order for action states, and for input states when
	// the awaited user input arrives.
	Actions []ActionSpec `json:"actions,omitempty"`

	// Transitions maps an emitted event to the next state.
	Transitions map[string]string `json:"transitions,omitempty"`

	// Conditions are evaluated on state entry, before actions; the first
	// match jumps directly to its target.
	Conditions []Condition `json:"conditions,omitempty"`

	// TimeoutSeconds is only meaningful for input states: how long to wait
	// for the user before emitting timeout.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// OnEnter and OnExit are side-effect action lists (logging, metrics).
	// Their events are ignored.
	OnEnter []ActionSpec `json:"on_enter,omitempty"`
	OnExit  []ActionSpec `json:"on_exit,omitempty"`
}

// Condition routes state entry on a sandboxed boolean expression over the
// run scope (variables, collected, session, input).
type Condition struct {
	If   string `json:"if"`
	Then string `json:"then"`
}

// ActionSpec is one executor invocation within a state.
type ActionSpec struct {
	ID       string         `json:"id,omitempty"`
	Executor string         `json:"executor"`
	Config   map[string]any `json:"config,omitempty"`

	// OnSuccess and OnError rename the default events emitted by the
	// executor, letting a state route the same executor differently.
	OnSuccess string `json:"on_success,omitempty"`
	OnError   string `json:"on_error,omitempty"`
}

// ParseDefinition decodes and validates a flow JSON document.
func ParseDefinition(data []byte) (*Definition, error) {
	def := &Definition{}
	if err := json.Unmarshal(data, def); err != nil {
		return nil, errors.Wrap(err, "invalid flow json")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Validate checks the structural invariants of the graph. A definition that
// fails validation is refused at load time and never reaches the engine.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return errors.New("flow id is required")
	}
	if d.Version <= 0 {
		return errors.Errorf("flow %s: version must be positive", d.ID)
	}
	if len(d.States) == 0 {
		return errors.Errorf("flow %s: no states defined", d.ID)
	}

	if _, ok := d.States[d.InitialState]; !ok {
		return errors.Errorf("flow %s: initial_state %q is not a defined state", d.ID, d.InitialState)
	}
	if d.IsFinal(d.InitialState) {
		return errors.Errorf("flow %s: initial_state %q must not be final", d.ID, d.InitialState)
	}

	for _, name := range d.FinalStates {
		st, ok := d.States[name]
		if !ok {
			return errors.Errorf("flow %s: final state %q is not a defined state", d.ID, name)
		}
		if st.Type != StateEnd {
			return errors.Errorf("flow %s: final state %q must have type end", d.ID, name)
		}
	}

	for name, st := range d.States {
		switch st.Type {
		case StateAction, StateInput, StateDecision, StateEnd:
		default:
			return errors.Errorf("flow %s: state %q has unknown type %q", d.ID, name, st.Type)
		}
		for event, target := range st.Transitions {
			if _, ok := d.States[target]; !ok {
				return errors.Errorf("flow %s: state %q transition %q targets undefined state %q", d.ID, name, event, target)
			}
		}
		for i, cond := range st.Conditions {
			if cond.If == "" {
				return errors.Errorf("flow %s: state %q condition %d has empty expression", d.ID, name, i)
			}
			if _, ok := d.States[cond.Then]; !ok {
				return errors.Errorf("flow %s: state %q condition %d targets undefined state %q", d.ID, name, i, cond.Then)
			}
		}
		for _, a := range st.Actions {
			if a.Executor == "" {
				return errors.Errorf("flow %s: state %q has an action without executor", d.ID, name)
			}
		}
		if st.TimeoutSeconds > 0 && st.Type != StateInput {
			return errors.Errorf("flow %s: state %q sets timeout_seconds but is not an input state", d.ID, name)
		}
	}

	return nil
}

// IsFinal reports whether the named state is in final_states.
func (d *Definition) IsFinal(state string) bool {
	for _, name := range d.FinalStates {
		if name == state {
			return true
		}
	}
	return false
}

// CacheKey identifies this exact definition version in caches.
func (d *Definition) CacheKey() string {
	return fmt.Sprintf("flow:%s:v%d", d.ID, d.Version)
}
