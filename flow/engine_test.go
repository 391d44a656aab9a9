package flow

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaanihq/vaani/channel"
)

type fakeExec struct {
	name string
	fn   func(config map[string]any, fc *Context, input *Input) (*Result, error)
}

func (f *fakeExec) Name() string { return f.name }
func (f *fakeExec) Execute(_ context.Context, config map[string]any, fc *Context, input *Input) (*Result, error) {
	return f.fn(config, fc, input)
}

type fakeRunStore struct {
	mu    sync.Mutex
	saves []string // statuses in save order
}

func (f *fakeRunStore) SaveRun(_ context.Context, fc *Context) error {
	f.mu.Lock()
	f.saves = append(f.saves, fc.Status)
	f.mu.Unlock()
	return nil
}

func testEngine(t *testing.T, store RunStore) (*Engine, *Registry) {
	t.Helper()
	registry := NewRegistry()
	registry.Register(&fakeExec{name: "response", fn: func(config map[string]any, _ *Context, _ *Input) (*Result, error) {
		text, _ := config["text"].(string)
		return &Result{Success: true, Outbound: []channel.OutboundMessage{channel.TextMessage("", text)}}, nil
	}})
	eval, err := NewEvaluator()
	require.NoError(t, err)
	return NewEngine(registry, eval, store), registry
}

func TestEngine_LinearFlowCompletes(t *testing.T) {
	rs := &fakeRunStore{}
	engine, _ := testEngine(t, rs)

	def := validDefinition()
	outcome, err := engine.Start(context.Background(), def, "web-1", "", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, outcome.Context.Status)
	require.Len(t, outcome.Outbound, 1)
	assert.Equal(t, "hi", outcome.Outbound[0].Text)
	assert.Equal(t, []string{"welcome", "done"}, outcome.Context.StateHistory)

	_, inFlight := engine.InFlight("web-1")
	assert.False(t, inFlight, "completed run must be deregistered")
	assert.Equal(t, []string{StatusCompleted}, rs.saves)
}

func TestEngine_InputSuspendResumeValidationLoop(t *testing.T) {
	rs := &fakeRunStore{}
	engine, registry := testEngine(t, rs)
	registry.Register(&fakeExec{name: "validation", fn: func(_ map[string]any, fc *Context, input *Input) (*Result, error) {
		if len(input.Text) == 10 {
			SetPath(fc.CollectedData, "phone", input.Text)
			return &Result{Success: true, Event: "valid"}, nil
		}
		return &Result{Success: true, Event: EventInvalid}, nil
	}})

	def := &Definition{
		ID: "auth_v1", Module: "general", Trigger: "authenticate", Version: 1, Enabled: true,
		InitialState: "prompt_phone",
		FinalStates:  []string{"verified"},
		States: map[string]StateDefinition{
			"prompt_phone": {
				Type:        StateAction,
				Actions:     []ActionSpec{{Executor: "response", Config: map[string]any{"text": "Please enter phone"}}},
				Transitions: map[string]string{EventSuccess: "ask_phone"},
			},
			"ask_phone": {
				Type:        StateInput,
				Actions:     []ActionSpec{{Executor: "validation", Config: map[string]any{"type": "phone"}}},
				Transitions: map[string]string{"valid": "confirm", EventInvalid: "reprompt"},
			},
			"reprompt": {
				Type:        StateAction,
				Actions:     []ActionSpec{{Executor: "response", Config: map[string]any{"text": "That does not look like a phone number"}}},
				Transitions: map[string]string{EventSuccess: "ask_phone"},
			},
			"confirm": {
				Type:        StateAction,
				Actions:     []ActionSpec{{Executor: "response", Config: map[string]any{"text": "Got {{collected.phone}}"}}},
				Transitions: map[string]string{EventSuccess: "verified"},
			},
			"verified": {Type: StateEnd},
		},
	}
	require.NoError(t, def.Validate())

	outcome, err := engine.Start(context.Background(), def, "wa-1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, outcome.Context.Status)
	assert.Equal(t, "ask_phone", outcome.Context.CurrentState)
	require.Len(t, outcome.Outbound, 1)
	assert.Equal(t, "Please enter phone", outcome.Outbound[0].Text)

	runID, ok := engine.InFlight("wa-1")
	require.True(t, ok)

	// Invalid input loops back through the corrective prompt.
	outcome, err = engine.Resume(context.Background(), runID, nil, &Input{Text: "123"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, outcome.Context.Status)
	assert.Equal(t, "ask_phone", outcome.Context.CurrentState)
	require.Len(t, outcome.Outbound, 1)
	assert.Contains(t, outcome.Outbound[0].Text, "does not look like")

	// Valid input flows through to the terminal state, with the collected
	// value interpolated into the confirmation.
	outcome, err = engine.Resume(context.Background(), runID, nil, &Input{Text: "9999999999"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Context.Status)
	require.Len(t, outcome.Outbound, 1)
	assert.Equal(t, "Got 9999999999", outcome.Outbound[0].Text)
}

func TestEngine_UnhandledEventFailsRun(t *testing.T) {
	rs := &fakeRunStore{}
	engine, registry := testEngine(t, rs)
	registry.Register(&fakeExec{name: "odd", fn: func(map[string]any, *Context, *Input) (*Result, error) {
		return &Result{Success: true, Event: "surprise"}, nil
	}})

	def := validDefinition()
	st := def.States["welcome"]
	st.Actions = []ActionSpec{{Executor: "odd"}}
	def.States["welcome"] = st

	outcome, err := engine.Start(context.Background(), def, "web-2", "", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, outcome.Context.Status)
	require.NotNil(t, outcome.Context.LastError)
	assert.Equal(t, ErrKindUnhandledEvent, outcome.Context.LastError.Kind)
	assert.Contains(t, outcome.Context.LastError.Message, "surprise")
}

func TestEngine_ConditionsShortCircuitEntry(t *testing.T) {
	engine, _ := testEngine(t, &fakeRunStore{})

	def := &Definition{
		ID: "wallet_v1", Module: "wallet", Trigger: "wallet", Version: 1, Enabled: true,
		InitialState: "gate",
		FinalStates:  []string{"done"},
		States: map[string]StateDefinition{
			"gate": {
				Type:       StateAction,
				Conditions: []Condition{{If: `session.authenticated == true`, Then: "show_balance"}},
				Actions:    []ActionSpec{{Executor: "response", Config: map[string]any{"text": "Please log in first"}}},
				Transitions: map[string]string{
					EventSuccess: "done",
				},
			},
			"show_balance": {
				Type:        StateAction,
				Actions:     []ActionSpec{{Executor: "response", Config: map[string]any{"text": "Balance: 120"}}},
				Transitions: map[string]string{EventSuccess: "done"},
			},
			"done": {Type: StateEnd},
		},
	}
	require.NoError(t, def.Validate())

	// Unauthenticated: condition false, gate actions run.
	outcome, err := engine.Start(context.Background(), def, "s1", "", map[string]any{"authenticated": false})
	require.NoError(t, err)
	require.Len(t, outcome.Outbound, 1)
	assert.Equal(t, "Please log in first", outcome.Outbound[0].Text)

	// Authenticated: condition jumps straight to show_balance, the gate's
	// own actions never run.
	outcome, err = engine.Start(context.Background(), def, "s2", "u1", map[string]any{"authenticated": true})
	require.NoError(t, err)
	require.Len(t, outcome.Outbound, 1)
	assert.Equal(t, "Balance: 120", outcome.Outbound[0].Text)
}

func TestEngine_TimeoutEventFollowsTransition(t *testing.T) {
	rs := &fakeRunStore{}
	engine, _ := testEngine(t, rs)

	def := &Definition{
		ID: "slot_v1", Module: "general", Trigger: "slot", Version: 1, Enabled: true,
		InitialState: "ask",
		FinalStates:  []string{"expired"},
		States: map[string]StateDefinition{
			"ask": {
				Type:        StateInput,
				Transitions: map[string]string{EventUserMessage: "ask", EventTimeout: "notify"},
			},
			"notify": {
				Type:        StateAction,
				Actions:     []ActionSpec{{Executor: "response", Config: map[string]any{"text": "Still there?"}}},
				Transitions: map[string]string{EventSuccess: "expired"},
			},
			"expired": {Type: StateEnd},
		},
	}
	require.NoError(t, def.Validate())

	outcome, err := engine.Start(context.Background(), def, "t1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, outcome.Context.Status)

	runID, _ := engine.InFlight("t1")
	outcome, err = engine.ResumeTimeout(context.Background(), runID, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Context.Status)
	require.Len(t, outcome.Outbound, 1)
	assert.Equal(t, "Still there?", outcome.Outbound[0].Text)
}

func TestEngine_CancelSuspendedRun(t *testing.T) {
	rs := &fakeRunStore{}
	engine, _ := testEngine(t, rs)

	def := &Definition{
		ID: "slot_v1", Module: "general", Trigger: "slot", Version: 1, Enabled: true,
		InitialState: "ask",
		FinalStates:  []string{"done"},
		States: map[string]StateDefinition{
			"ask":  {Type: StateInput, Transitions: map[string]string{EventUserMessage: "done"}},
			"done": {Type: StateEnd},
		},
	}

	_, err := engine.Start(context.Background(), def, "c1", "", nil)
	require.NoError(t, err)
	runID, ok := engine.InFlight("c1")
	require.True(t, ok)

	engine.Cancel(runID)

	_, ok = engine.InFlight("c1")
	assert.False(t, ok)
	assert.Equal(t, StatusCancelled, rs.saves[len(rs.saves)-1])

	_, err = engine.Resume(context.Background(), runID, nil, &Input{Text: "late"})
	var unknown *UnknownRunError
	assert.ErrorAs(t, err, &unknown)
}

func TestEngine_DeadlineSuspendsAtCurrentState(t *testing.T) {
	engine, _ := testEngine(t, &fakeRunStore{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := engine.Start(ctx, validDefinition(), "d1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, outcome.Context.Status)
	require.NotNil(t, outcome.Context.LastError)
	assert.Equal(t, ErrKindDeadlineExceeded, outcome.Context.LastError.Kind)
}

func TestEngine_StepLimitGuardsCycles(t *testing.T) {
	engine, registry := testEngine(t, &fakeRunStore{})
	registry.Register(&fakeExec{name: "noop", fn: func(map[string]any, *Context, *Input) (*Result, error) {
		return &Result{Success: true}, nil
	}})

	def := &Definition{
		ID: "spin_v1", Module: "general", Trigger: "spin", Version: 1, Enabled: true,
		InitialState: "a",
		FinalStates:  []string{"done"},
		States: map[string]StateDefinition{
			"a":    {Type: StateAction, Actions: []ActionSpec{{Executor: "noop"}}, Transitions: map[string]string{EventSuccess: "b"}},
			"b":    {Type: StateAction, Actions: []ActionSpec{{Executor: "noop"}}, Transitions: map[string]string{EventSuccess: "a"}},
			"done": {Type: StateEnd},
		},
	}

	outcome, err := engine.Start(context.Background(), def, "spin", "", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, outcome.Context.Status)
	assert.Equal(t, ErrKindStepLimit, outcome.Context.LastError.Kind)
}

func TestEngine_ActionOutputMergedUnderID(t *testing.T) {
	engine, registry := testEngine(t, &fakeRunStore{})
	registry.Register(&fakeExec{name: "set_score", fn: func(map[string]any, *Context, *Input) (*Result, error) {
		return &Result{Success: true, Output: map[string]any{"value": 0.9}}, nil
	}})

	def := validDefinition()
	st := def.States["welcome"]
	st.Actions = []ActionSpec{
		{ID: "scoring", Executor: "set_score"},
		{Executor: "response", Config: map[string]any{"text": "ok"}},
	}
	def.States["welcome"] = st

	outcome, err := engine.Start(context.Background(), def, "m1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Context.Status)

	merged, ok := outcome.Context.Variables["scoring"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.9, merged["value"])
}

func TestEngine_AdoptRestoresSuspendedRun(t *testing.T) {
	engine, _ := testEngine(t, &fakeRunStore{})

	def := &Definition{
		ID: "slot_v1", Module: "general", Trigger: "slot", Version: 1, Enabled: true,
		InitialState: "ask",
		FinalStates:  []string{"done"},
		States: map[string]StateDefinition{
			"ask":  {Type: StateInput, Transitions: map[string]string{EventUserMessage: "done"}},
			"done": {Type: StateEnd},
		},
	}

	// Simulate a run persisted by a previous process.
	fc := NewContext(def, "r-99", "")
	fc.Status = StatusSuspended
	restored, err := UnmarshalContext(fc.Marshal())
	require.NoError(t, err)
	require.Equal(t, fc.RunID, restored.RunID)

	engine.Adopt(def, restored)
	runID, ok := engine.InFlight("r-99")
	require.True(t, ok)
	require.Equal(t, fc.RunID, runID)

	outcome, err := engine.Resume(context.Background(), runID, nil, &Input{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Context.Status)
}

func TestEngine_StartReplacesPreviousRun(t *testing.T) {
	engine, _ := testEngine(t, &fakeRunStore{})

	def := &Definition{
		ID: "slot_v1", Module: "general", Trigger: "slot", Version: 1, Enabled: true,
		InitialState: "ask",
		FinalStates:  []string{"done"},
		States: map[string]StateDefinition{
			"ask":  {Type: StateInput, Transitions: map[string]string{EventUserMessage: "done"}},
			"done": {Type: StateEnd},
		},
	}

	first, err := engine.Start(context.Background(), def, "s-1", "", nil)
	require.NoError(t, err)
	second, err := engine.Start(context.Background(), def, "s-1", "", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.Context.RunID, second.Context.RunID)
	runID, ok := engine.InFlight("s-1")
	require.True(t, ok)
	assert.Equal(t, second.Context.RunID, runID)
	assert.False(t, strings.EqualFold(runID, first.Context.RunID))
}
