package executor

import (
	"context"

	"github.com/vaanihq/vaani/flow"
)

// Score events emitted when a threshold is configured.
const (
	EventHigh = "high"
	EventLow  = "low"
)

// Score computes a weighted sum over numeric values drawn from the run
// scope. With a threshold configured it emits high/low, letting flows gate
// on composite signals (e.g. classification confidence combined with
// profile completeness).
type Score struct{}

func (Score) Name() string { return "score" }

func (Score) Execute(_ context.Context, config map[string]any, fc *flow.Context, input *flow.Input) (*flow.Result, error) {
	scope := fc.Scope(input)

	total := 0.0
	for path, weight := range getMap(config, "weights") {
		raw, ok := flow.ResolvePath(scope, path)
		if !ok {
			continue
		}
		total += coerceFloat(raw, 0) * coerceFloat(weight, 0)
	}

	if saveTo := getString(config, "save_to"); saveTo != "" {
		flow.SetPath(fc.Variables, saveTo, total)
	}

	result := &flow.Result{Success: true, Output: total}
	if threshold, ok := config["threshold"]; ok {
		if total >= coerceFloat(threshold, 0) {
			result.Event = EventHigh
		} else {
			result.Event = EventLow
		}
	}
	return result, nil
}
