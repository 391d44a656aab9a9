// Package session provides the per-recipient conversation state bag with
// sliding TTL. Sessions are ephemeral by design: there is no write-through to
// a durable store, and losing one is equivalent to meeting a first-time
// visitor.
package session

import (
	"time"

	"github.com/vaanihq/vaani/channel"
)

// Well-known session keys.
const (
	KeyPlatform       = "platform"
	KeyCreatedAt      = "created_at"
	KeyLastActiveAt   = "last_active_at"
	KeyUserID         = "user_id"
	KeyAuthenticated  = "authenticated"
	KeyAuthToken      = "auth_token"
	KeyPhone          = "phone"
	KeyModule         = "module"
	KeyHistory        = "conversation_history"
	KeyPendingIntent  = "pending_intent"
	KeyPendingConfirm = "pending_confirmation"
	KeyLocation       = "location"
	KeyLocationSaved  = "location_saved"
	KeyFlowData       = "flow_data"
	KeyActiveRun      = "active_run_id"
	KeyLastIntent     = "last_intent"
	KeyLastMessage    = "last_message"
)

// MaxHistoryTurns bounds the conversation history kept on the session.
const MaxHistoryTurns = 20

// PendingIntent is an intent stashed by the router before an authentication
// detour, replayed after the auth flow succeeds.
type PendingIntent struct {
	Intent   string            `json:"intent"`
	Text     string            `json:"text"`
	Entities map[string]string `json:"entities,omitempty"`
}

// Turn is one entry of the bounded conversation history.
type Turn struct {
	Role    string    `json:"role"` // user or assistant
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is the per-recipient key-value state. It is owned by a single
// writer (the conversation service holds the per-recipient lock), so the
// map itself is unsynchronized.
type Session struct {
	RecipientID string
	Data        map[string]any
}

func newSession(recipient string, platform channel.Platform) *Session {
	now := time.Now()
	return &Session{
		RecipientID: recipient,
		Data: map[string]any{
			KeyPlatform:     platform,
			KeyCreatedAt:    now,
			KeyLastActiveAt: now,
		},
	}
}

// Get returns the value for a key.
func (s *Session) Get(key string) (any, bool) {
	v, ok := s.Data[key]
	return v, ok
}

// Set writes a value for a key.
func (s *Session) Set(key string, value any) {
	s.Data[key] = value
}

// Delete removes a key.
func (s *Session) Delete(key string) {
	delete(s.Data, key)
}

// GetString returns the string value for a key, or "" if absent.
func (s *Session) GetString(key string) string {
	if v, ok := s.Data[key].(string); ok {
		return v
	}
	return ""
}

// GetBool returns the bool value for a key, or false if absent.
func (s *Session) GetBool(key string) bool {
	if v, ok := s.Data[key].(bool); ok {
		return v
	}
	return false
}

// Platform returns the channel the session's messages arrive on.
func (s *Session) Platform() channel.Platform {
	if v, ok := s.Data[KeyPlatform].(channel.Platform); ok {
		return v
	}
	if v, ok := s.Data[KeyPlatform].(string); ok {
		return channel.Platform(v)
	}
	return ""
}

// SetPlatform tags the session with the originating channel.
func (s *Session) SetPlatform(p channel.Platform) {
	s.Data[KeyPlatform] = p
}

// Authenticated reports whether the user has completed the auth flow.
func (s *Session) Authenticated() bool {
	return s.GetBool(KeyAuthenticated)
}

// PendingIntent returns the stashed intent, or nil.
func (s *Session) PendingIntent() *PendingIntent {
	if v, ok := s.Data[KeyPendingIntent].(*PendingIntent); ok {
		return v
	}
	return nil
}

// SetPendingIntent stashes an intent for replay after authentication.
func (s *Session) SetPendingIntent(pi *PendingIntent) {
	if pi == nil {
		delete(s.Data, KeyPendingIntent)
		return
	}
	s.Data[KeyPendingIntent] = pi
}

// PendingConfirmation marks an enricher confirmation question awaiting the
// user's yes/no answer.
type PendingConfirmation struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PendingConfirmation returns the outstanding confirmation question, or nil.
func (s *Session) PendingConfirmation() *PendingConfirmation {
	if v, ok := s.Data[KeyPendingConfirm].(*PendingConfirmation); ok {
		return v
	}
	return nil
}

// SetPendingConfirmation records a question awaiting an answer (nil clears).
func (s *Session) SetPendingConfirmation(pc *PendingConfirmation) {
	if pc == nil {
		delete(s.Data, KeyPendingConfirm)
		return
	}
	s.Data[KeyPendingConfirm] = pc
}

// ActiveRunID returns the id of the in-flight flow run, or "".
func (s *Session) ActiveRunID() string {
	return s.GetString(KeyActiveRun)
}

// SetActiveRunID records the in-flight flow run ("" clears it).
func (s *Session) SetActiveRunID(runID string) {
	if runID == "" {
		delete(s.Data, KeyActiveRun)
		return
	}
	s.Data[KeyActiveRun] = runID
}

// History returns the bounded conversation history.
func (s *Session) History() []Turn {
	if v, ok := s.Data[KeyHistory].([]Turn); ok {
		return v
	}
	return nil
}

// AppendTurn appends one turn to the history, trimming to MaxHistoryTurns.
func (s *Session) AppendTurn(role, content string) {
	turns := append(s.History(), Turn{Role: role, Content: content, At: time.Now()})
	if len(turns) > MaxHistoryTurns {
		turns = turns[len(turns)-MaxHistoryTurns:]
	}
	s.Data[KeyHistory] = turns
}

// FlowData returns the per-flow scratch map, creating it on first use.
func (s *Session) FlowData() map[string]any {
	if v, ok := s.Data[KeyFlowData].(map[string]any); ok {
		return v
	}
	m := make(map[string]any)
	s.Data[KeyFlowData] = m
	return m
}
