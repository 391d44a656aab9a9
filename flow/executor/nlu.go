package executor

import (
	"context"
	"log/slog"

	"github.com/vaanihq/vaani/flow"
	"github.com/vaanihq/vaani/nlu"
)

// NLU events split on the router's high-confidence threshold.
const (
	EventHighConf = "high_conf"
	EventLowConf  = "low_conf"

	highConfThreshold = 0.80
)

// NLU classifies a text drawn from the run scope (default input.text) and
// routes on the confidence tier.
type NLU struct {
	classifier nlu.Classifier
}

func NewNLU(classifier nlu.Classifier) *NLU {
	return &NLU{classifier: classifier}
}

func (*NLU) Name() string { return "nlu" }

func (e *NLU) Execute(ctx context.Context, config map[string]any, fc *flow.Context, input *flow.Input) (*flow.Result, error) {
	if e.classifier == nil {
		return &flow.Result{Success: true, Event: EventLowConf}, nil
	}

	sourcePath := getStringDefault(config, "source_path", "input.text")
	raw, _ := flow.ResolvePath(fc.Scope(input), sourcePath)
	text, _ := raw.(string)
	if text == "" {
		return &flow.Result{Success: true, Event: EventLowConf}, nil
	}

	classification, err := e.classifier.Classify(ctx, text, "")
	if err != nil {
		// The client falls back to keyword heuristics internally; an error
		// here means even the fallback path broke.
		slog.Warn("executor: nlu classify failed", "flow_id", fc.FlowID, "error", err)
		return &flow.Result{Success: true, Event: EventLowConf}, nil
	}

	event := EventLowConf
	if classification.Confidence >= highConfThreshold {
		event = EventHighConf
	}
	return &flow.Result{
		Success: true,
		Event:   event,
		Output: map[string]any{
			"intent":     classification.Intent,
			"confidence": classification.Confidence,
			"entities":   classification.EntityMap(),
			"language":   classification.Language,
		},
	}, nil
}
