package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vaanihq/vaani/channel"
)

// Error kinds recorded on last_error.
const (
	ErrKindUnhandledEvent   = "unhandled_event"
	ErrKindExecutorFailure  = "executor_failure"
	ErrKindDeadlineExceeded = "deadline_exceeded"
	ErrKindStepLimit        = "step_limit"
)

// maxTransitions bounds one drive so a definition with a cycle that never
// suspends cannot spin forever.
const maxTransitions = 64

// RunStore persists run snapshots at step boundaries. Writes are
// best-effort from the engine's point of view; a failed save is logged and
// the in-memory run remains authoritative until the next boundary.
type RunStore interface {
	SaveRun(ctx context.Context, fc *Context) error
}

// Outcome is what one drive of the engine returns to the caller: queued
// outbound messages in emission order and the settled context.
type Outcome struct {
	Outbound []channel.OutboundMessage
	Context  *Context
}

type run struct {
	mu        sync.Mutex
	def       *Definition
	fc        *Context
	cancelled bool
}

// Engine drives flow runs. At most one step per run is in flight; callers
// additionally serialize per recipient, the run lock here is the backstop.
type Engine struct {
	registry *Registry
	eval     *Evaluator
	store    RunStore

	mu        sync.Mutex
	runs      map[string]*run   // run id -> run
	bySession map[string]string // session id -> run id
	timers    map[string]*time.Timer

	onTimeout func(sessionID, runID string)
}

func NewEngine(registry *Registry, eval *Evaluator, store RunStore) *Engine {
	return &Engine{
		registry:  registry,
		eval:      eval,
		store:     store,
		runs:      map[string]*run{},
		bySession: map[string]string{},
		timers:    map[string]*time.Timer{},
	}
}

// SetTimeoutHandler registers the callback fired when an input-state timer
// expires. The handler is expected to serialize with inbound traffic for
// the session and call ResumeTimeout.
func (e *Engine) SetTimeoutHandler(fn func(sessionID, runID string)) {
	e.onTimeout = fn
}

// Start creates a run for the definition and drives it from the initial
// state. Any previous run for the session is replaced.
func (e *Engine) Start(ctx context.Context, def *Definition, sessionID, userID string, session map[string]any) (*Outcome, error) {
	fc := NewContext(def, sessionID, userID)
	fc.Session = session

	r := &run{def: def, fc: fc}
	e.mu.Lock()
	if prev, ok := e.bySession[sessionID]; ok {
		delete(e.runs, prev)
		e.stopTimerLocked(prev)
	}
	e.runs[fc.RunID] = r
	e.bySession[sessionID] = fc.RunID
	e.mu.Unlock()

	slog.Info("flow: run started",
		"flow_id", def.ID,
		"run_id", fc.RunID,
		"session_id", sessionID,
	)

	r.mu.Lock()
	defer r.mu.Unlock()
	return e.drive(ctx, r, nil, ""), nil
}

// Adopt re-registers a persisted suspended run, used after a node restart
// when the next user message for the session arrives.
func (e *Engine) Adopt(def *Definition, fc *Context) {
	r := &run{def: def, fc: fc}
	e.mu.Lock()
	e.runs[fc.RunID] = r
	e.bySession[fc.SessionID] = fc.RunID
	e.mu.Unlock()
}

// InFlight returns the non-terminal run id for a session, if any.
func (e *Engine) InFlight(sessionID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	runID, ok := e.bySession[sessionID]
	if !ok {
		return "", false
	}
	r := e.runs[runID]
	if r == nil || r.fc.Terminal() {
		return "", false
	}
	return runID, true
}

// Resume feeds user input to a suspended run and drives it forward.
func (e *Engine) Resume(ctx context.Context, runID string, session map[string]any, input *Input) (*Outcome, error) {
	r, err := e.lookup(runID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e.stopTimer(runID)
	r.fc.Session = session
	r.fc.Status = StatusRunning
	return e.drive(ctx, r, input, ""), nil
}

// ResumeTimeout re-enters a suspended run with the timeout event.
func (e *Engine) ResumeTimeout(ctx context.Context, runID string, session map[string]any) (*Outcome, error) {
	r, err := e.lookup(runID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fc.Terminal() {
		return &Outcome{Context: r.fc}, nil
	}
	r.fc.Session = session
	r.fc.Status = StatusRunning
	return e.drive(ctx, r, nil, EventTimeout), nil
}

// Cancel marks the run cancelled; honored at the next step boundary. A
// suspended run is finalized immediately.
func (e *Engine) Cancel(runID string) {
	e.mu.Lock()
	r := e.runs[runID]
	e.stopTimerLocked(runID)
	e.mu.Unlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
	if r.fc.Status == StatusSuspended {
		e.finalize(r, StatusCancelled)
	}
}

// CancelSession cancels whatever run the session has in flight.
func (e *Engine) CancelSession(sessionID string) {
	if runID, ok := e.InFlight(sessionID); ok {
		e.Cancel(runID)
	}
}

// Abandon marks the session's run abandoned; called when the session
// expires between turns.
func (e *Engine) Abandon(sessionID string) {
	e.mu.Lock()
	runID, ok := e.bySession[sessionID]
	var r *run
	if ok {
		r = e.runs[runID]
		e.stopTimerLocked(runID)
	}
	e.mu.Unlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.fc.Terminal() {
		e.finalize(r, StatusAbandoned)
	}
}

func (e *Engine) lookup(runID string) (*run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[runID]
	if !ok {
		return nil, &UnknownRunError{RunID: runID}
	}
	return r, nil
}

// UnknownRunError is returned when a run id is not registered on this node.
type UnknownRunError struct {
	RunID string
}

func (e *UnknownRunError) Error() string {
	return "flow: unknown run " + e.RunID
}

// drive loops the state machine until it suspends, completes, or fails.
// Caller holds r.mu.
func (e *Engine) drive(ctx context.Context, r *run, input *Input, forcedEvent string) *Outcome {
	fc := r.fc
	def := r.def
	outbound := []channel.OutboundMessage{}

	for i := 0; i < maxTransitions; i++ {
		if r.cancelled {
			e.finalize(r, StatusCancelled)
			return &Outcome{Outbound: outbound, Context: fc}
		}
		if ctx.Err() != nil {
			// Wall-clock budget blown mid-step: leave the run suspended
			// where it stands so the next message picks it up.
			fc.LastError = &RunError{Kind: ErrKindDeadlineExceeded, Message: ctx.Err().Error(), State: fc.CurrentState}
			e.suspend(r, outbound)
			return &Outcome{Outbound: outbound, Context: fc}
		}

		st, ok := def.States[fc.CurrentState]
		if !ok {
			e.fail(r, ErrKindUnhandledEvent, "current state not defined: "+fc.CurrentState)
			return &Outcome{Outbound: outbound, Context: fc}
		}

		if st.Type == StateEnd {
			e.finalize(r, StatusCompleted)
			return &Outcome{Outbound: outbound, Context: fc}
		}

		// Timer fire: skip conditions and actions, route the timeout event.
		if forcedEvent != "" {
			event := forcedEvent
			forcedEvent = ""
			target, ok := st.Transitions[event]
			if !ok {
				e.fail(r, ErrKindUnhandledEvent, "no transition for event "+event+" in state "+fc.CurrentState)
				return &Outcome{Outbound: outbound, Context: fc}
			}
			e.runSideEffects(ctx, st.OnExit, fc, input)
			fc.enterState(target)
			continue
		}

		if st.Type == StateInput && input == nil {
			e.suspend(r, outbound)
			return &Outcome{Outbound: outbound, Context: fc}
		}

		scope := fc.Scope(input)

		// Conditions are evaluated on entry, before actions; first match wins.
		if target, matched := e.matchCondition(st, scope, fc); matched {
			e.runSideEffects(ctx, st.OnExit, fc, input)
			fc.enterState(target)
			continue
		}

		if st.Type == StateDecision {
			// A decision state routes purely on conditions; exhausting
			// them falls through to the success transition when present.
			target, ok := st.Transitions[EventSuccess]
			if !ok {
				e.fail(r, ErrKindUnhandledEvent, "decision state "+fc.CurrentState+" matched no condition")
				return &Outcome{Outbound: outbound, Context: fc}
			}
			fc.enterState(target)
			continue
		}

		e.runSideEffects(ctx, st.OnEnter, fc, input)

		event, jump := e.runActions(ctx, st, fc, input, &outbound)
		if st.Type == StateInput {
			input = nil
		}

		if jump != "" {
			e.runSideEffects(ctx, st.OnExit, fc, input)
			fc.enterState(jump)
			continue
		}

		target, ok := st.Transitions[event]
		if !ok {
			e.fail(r, ErrKindUnhandledEvent, "no transition for event "+event+" in state "+fc.CurrentState)
			return &Outcome{Outbound: outbound, Context: fc}
		}
		e.runSideEffects(ctx, st.OnExit, fc, input)
		fc.enterState(target)
	}

	e.fail(r, ErrKindStepLimit, "exceeded max transitions in one step")
	return &Outcome{Outbound: outbound, Context: fc}
}

func (e *Engine) matchCondition(st StateDefinition, scope map[string]any, fc *Context) (string, bool) {
	for _, cond := range st.Conditions {
		ok, err := e.eval.Eval(cond.If, scope)
		if err != nil {
			slog.Warn("flow: skipping broken condition",
				"flow_id", fc.FlowID,
				"state", fc.CurrentState,
				"error", err,
			)
			continue
		}
		if ok {
			return cond.Then, true
		}
	}
	return "", false
}

// runActions executes the state's actions in order. The last action's event
// (or its renamed default) selects the transition; an explicit NextState
// short-circuits the rest.
func (e *Engine) runActions(ctx context.Context, st StateDefinition, fc *Context, input *Input, outbound *[]channel.OutboundMessage) (event string, jump string) {
	event = EventSuccess
	if st.Type == StateInput && len(st.Actions) == 0 {
		event = EventUserMessage
	}

	for _, a := range st.Actions {
		res := e.executeAction(ctx, a, fc, input)

		if res.Output != nil {
			key := a.ID
			if key == "" {
				key = a.Executor
			}
			fc.Variables[key] = res.Output
		}
		*outbound = append(*outbound, res.Outbound...)

		ev := res.Event
		if ev == "" {
			if res.Success {
				ev = EventSuccess
			} else {
				ev = EventError
			}
		}
		switch ev {
		case EventSuccess:
			if a.OnSuccess != "" {
				ev = a.OnSuccess
			}
		case EventError:
			if a.OnError != "" {
				ev = a.OnError
			}
		}
		event = ev

		if res.NextState != "" {
			return event, res.NextState
		}
	}
	return event, ""
}

func (e *Engine) executeAction(ctx context.Context, a ActionSpec, fc *Context, input *Input) *Result {
	exec, err := e.registry.Get(a.Executor)
	if err != nil {
		slog.Error("flow: unregistered executor", "flow_id", fc.FlowID, "executor", a.Executor)
		fc.LastError = &RunError{Kind: ErrKindExecutorFailure, Message: err.Error(), State: fc.CurrentState}
		return &Result{Success: false, Event: EventError}
	}

	config := InterpolateConfig(a.Config, fc.Scope(input))
	res, err := exec.Execute(ctx, config, fc, input)
	if err != nil {
		slog.Error("flow: executor failed",
			"flow_id", fc.FlowID,
			"run_id", fc.RunID,
			"state", fc.CurrentState,
			"executor", a.Executor,
			"error", err,
		)
		fc.LastError = &RunError{Kind: ErrKindExecutorFailure, Message: err.Error(), State: fc.CurrentState}
		return &Result{Success: false, Event: EventError}
	}
	if res == nil {
		res = &Result{Success: true}
	}
	return res
}

// runSideEffects executes on_enter/on_exit actions; their events and
// failures are ignored, outbound from them is dropped.
func (e *Engine) runSideEffects(ctx context.Context, actions []ActionSpec, fc *Context, input *Input) {
	for _, a := range actions {
		_ = e.executeAction(ctx, a, fc, input)
	}
}

// suspend parks the run at the current input state and arms its timer.
func (e *Engine) suspend(r *run, _ []channel.OutboundMessage) {
	fc := r.fc
	fc.Status = StatusSuspended
	fc.UpdatedAt = time.Now()
	e.persist(fc)

	st := r.def.States[fc.CurrentState]
	if st.TimeoutSeconds > 0 {
		e.armTimer(fc.SessionID, fc.RunID, time.Duration(st.TimeoutSeconds)*time.Second)
	}
}

func (e *Engine) finalize(r *run, status string) {
	fc := r.fc
	fc.Status = status
	fc.UpdatedAt = time.Now()
	e.persist(fc)

	e.mu.Lock()
	delete(e.runs, fc.RunID)
	if e.bySession[fc.SessionID] == fc.RunID {
		delete(e.bySession, fc.SessionID)
	}
	e.stopTimerLocked(fc.RunID)
	e.mu.Unlock()

	slog.Info("flow: run finished",
		"flow_id", fc.FlowID,
		"run_id", fc.RunID,
		"status", status,
		"states_visited", len(fc.StateHistory),
	)
}

func (e *Engine) fail(r *run, kind, message string) {
	r.fc.LastError = &RunError{Kind: kind, Message: message, State: r.fc.CurrentState}
	slog.Error("flow: run failed",
		"flow_id", r.fc.FlowID,
		"run_id", r.fc.RunID,
		"state", r.fc.CurrentState,
		"kind", kind,
		"message", message,
	)
	e.finalize(r, StatusFailed)
}

func (e *Engine) persist(fc *Context) {
	if e.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.store.SaveRun(saveCtx, fc); err != nil {
		slog.Warn("flow: failed to persist run", "run_id", fc.RunID, "error", err)
	}
}

func (e *Engine) armTimer(sessionID, runID string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTimerLocked(runID)
	e.timers[runID] = time.AfterFunc(d, func() {
		e.mu.Lock()
		delete(e.timers, runID)
		e.mu.Unlock()
		if e.onTimeout != nil {
			e.onTimeout(sessionID, runID)
			return
		}
		// No handler wired (tests, standalone use): re-enter directly.
		if _, err := e.ResumeTimeout(context.Background(), runID, nil); err != nil {
			slog.Debug("flow: timeout resume skipped", "run_id", runID, "error", err)
		}
	})
}

func (e *Engine) stopTimer(runID string) {
	e.mu.Lock()
	e.stopTimerLocked(runID)
	e.mu.Unlock()
}

func (e *Engine) stopTimerLocked(runID string) {
	if t, ok := e.timers[runID]; ok {
		t.Stop()
		delete(e.timers, runID)
	}
}
