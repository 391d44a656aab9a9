package flow

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vaanihq/vaani/channel"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSuspended = "suspended"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusAbandoned = "abandoned"
)

// maxStateHistory bounds the visited-state trail kept on the context.
const maxStateHistory = 50

// RunError captures the failure that terminated or degraded a run.
type RunError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	State   string `json:"state"`
}

// Context is the mutable record of one flow run. It is mutated only by the
// engine under the per-run lock and serialized to the flow_run table at
// step boundaries.
type Context struct {
	RunID       string `json:"run_id"`
	FlowID      string `json:"flow_id"`
	FlowVersion int    `json:"flow_version"`
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id,omitempty"`

	CurrentState  string `json:"current_state"`
	PreviousState string `json:"previous_state,omitempty"`

	Variables     map[string]any `json:"variables"`
	CollectedData map[string]any `json:"collected_data"`
	StateHistory  []string       `json:"state_history"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Status    string    `json:"status"`
	LastError *RunError `json:"last_error,omitempty"`

	// Session is a live view of the recipient's session data, rebound by
	// the caller on every step. Not persisted with the run.
	Session map[string]any `json:"-"`
}

// NewContext creates a running context positioned at the flow's initial state.
func NewContext(def *Definition, sessionID, userID string) *Context {
	now := time.Now()
	return &Context{
		RunID:         uuid.NewString(),
		FlowID:        def.ID,
		FlowVersion:   def.Version,
		SessionID:     sessionID,
		UserID:        userID,
		CurrentState:  def.InitialState,
		Variables:     map[string]any{},
		CollectedData: map[string]any{},
		StateHistory:  []string{def.InitialState},
		StartedAt:     now,
		UpdatedAt:     now,
		Status:        StatusRunning,
	}
}

// Terminal reports whether the run can make no further progress.
func (c *Context) Terminal() bool {
	switch c.Status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusAbandoned:
		return true
	}
	return false
}

// enterState records a transition into the named state.
func (c *Context) enterState(state string) {
	c.PreviousState = c.CurrentState
	c.CurrentState = state
	c.StateHistory = append(c.StateHistory, state)
	if len(c.StateHistory) > maxStateHistory {
		c.StateHistory = c.StateHistory[len(c.StateHistory)-maxStateHistory:]
	}
	c.UpdatedAt = time.Now()
}

// Input is the user payload bound to a resumed input state.
type Input struct {
	Text        string
	ButtonReply string
	Location    *channel.Location
}

// Scope builds the read-only view used for interpolation and condition
// evaluation: variables, collected data, session, input, and run metadata.
func (c *Context) Scope(input *Input) map[string]any {
	in := map[string]any{}
	if input != nil {
		in["text"] = input.Text
		in["button"] = input.ButtonReply
		if input.Location != nil {
			in["location"] = map[string]any{
				"lat": input.Location.Lat,
				"lng": input.Location.Lng,
			}
		}
	}
	session := c.Session
	if session == nil {
		session = map[string]any{}
	}
	return map[string]any{
		"variables": c.Variables,
		"collected": c.CollectedData,
		"session":   session,
		"input":     in,
		"flow": map[string]any{
			"id":     c.FlowID,
			"run_id": c.RunID,
			"state":  c.CurrentState,
		},
	}
}

// Marshal serializes the context for the flow_run context column.
func (c *Context) Marshal() []byte {
	b, err := json.Marshal(c)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// UnmarshalContext restores a persisted run context.
func UnmarshalContext(data []byte) (*Context, error) {
	c := &Context{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, err
	}
	if c.Variables == nil {
		c.Variables = map[string]any{}
	}
	if c.CollectedData == nil {
		c.CollectedData = map[string]any{}
	}
	return c, nil
}
