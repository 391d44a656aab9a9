package flow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vaanihq/vaani/channel"
)

// Result is what an action execution produces. Errors never cross the
// engine boundary; failures are expressed as events the flow routes on.
type Result struct {
	// Success is false only for unrecoverable infra failures. The engine
	// turns that into EventError with a last_error record.
	Success bool

	// Output is merged into context variables under the action id.
	Output any

	// Event overrides the default success/error transition event.
	Event string

	// Outbound messages are queued and committed by the caller after the
	// step settles, never dispatched directly.
	Outbound []channel.OutboundMessage

	// NextState bypasses transition lookup. Used sparingly.
	NextState string
}

// Executor is a named action handler. Config arrives already interpolated;
// input is non-nil only when resuming an input state.
type Executor interface {
	Name() string
	Execute(ctx context.Context, config map[string]any, fc *Context, input *Input) (*Result, error)
}

// Registry holds the registered executors. Registration happens at startup;
// lookups are concurrent.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: map[string]Executor{}}
}

// Register adds an executor, replacing any previous one with the same name.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	r.executors[e.Name()] = e
	r.mu.Unlock()
}

// Get returns the named executor.
func (r *Registry) Get(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("executor %q is not registered", name)
	}
	return e, nil
}

// Names returns the registered executor names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDefinition checks that every executor a definition references is
// registered, on top of the structural Validate.
func (r *Registry) ValidateDefinition(d *Definition) error {
	for name, st := range d.States {
		for _, list := range [][]ActionSpec{st.Actions, st.OnEnter, st.OnExit} {
			for _, a := range list {
				if _, err := r.Get(a.Executor); err != nil {
					return fmt.Errorf("flow %s: state %q: %w", d.ID, name, err)
				}
			}
		}
	}
	return nil
}
