package executor

import (
	"context"
	"strings"

	"github.com/vaanihq/vaani/flow"
)

// Set writes an interpolated value into the run context. Paths prefixed
// "variables." target scratch; everything else lands in collected_data.
// With strict:true an unresolved (empty) value emits invalid instead of
// writing.
type Set struct{}

func (Set) Name() string { return "set" }

func (Set) Execute(_ context.Context, config map[string]any, fc *flow.Context, _ *flow.Input) (*flow.Result, error) {
	path := getString(config, "path")
	if path == "" {
		return &flow.Result{Success: true, Event: flow.EventError}, nil
	}
	value := config["value"]

	if getBool(config, "strict") {
		if value == nil {
			return invalid(), nil
		}
		if s, ok := value.(string); ok && s == "" {
			return invalid(), nil
		}
	}

	if rest, ok := strings.CutPrefix(path, "variables."); ok {
		flow.SetPath(fc.Variables, rest, value)
	} else {
		flow.SetPath(fc.CollectedData, strings.TrimPrefix(path, "collected."), value)
	}
	return &flow.Result{Success: true}, nil
}
