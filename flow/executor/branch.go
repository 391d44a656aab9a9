package executor

import (
	"context"

	"github.com/vaanihq/vaani/flow"
)

// Branch is a pure decision point: the state's conditions do the routing,
// the executor itself only provides the success fallthrough when nothing
// matched.
type Branch struct{}

func (Branch) Name() string { return "branch" }

func (Branch) Execute(context.Context, map[string]any, *flow.Context, *flow.Input) (*flow.Result, error) {
	return &flow.Result{Success: true}, nil
}
