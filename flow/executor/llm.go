package executor

import (
	"context"
	"log/slog"

	"github.com/vaanihq/vaani/channel"
	"github.com/vaanihq/vaani/flow"
	"github.com/vaanihq/vaani/llm"
)

// LLM builds a prompt from the interpolated config, calls the chat service,
// and queues the generated text as the reply. A chat failure emits error so
// the flow can route to a recovery state; it never aborts the run.
type LLM struct {
	service llm.Service
}

func NewLLM(service llm.Service) *LLM {
	return &LLM{service: service}
}

func (*LLM) Name() string { return "llm" }

func (e *LLM) Execute(ctx context.Context, config map[string]any, fc *flow.Context, _ *flow.Input) (*flow.Result, error) {
	if e.service == nil {
		slog.Warn("executor: llm called without a configured service", "flow_id", fc.FlowID)
		return &flow.Result{Success: true, Event: flow.EventError}, nil
	}

	messages := []llm.Message{}
	if system := getString(config, "system"); system != "" {
		messages = append(messages, llm.SystemPrompt(system))
	}
	messages = append(messages, llm.UserMessage(getString(config, "prompt")))

	opts := &llm.Options{
		Temperature: float32(getFloat(config, "temperature", 0)),
		MaxTokens:   getInt(config, "max_tokens", 0),
		JSONOnly:    getBool(config, "json_only"),
	}

	content, stats, err := e.service.Chat(ctx, messages, opts)
	if err != nil {
		slog.Warn("executor: llm call failed",
			"flow_id", fc.FlowID,
			"run_id", fc.RunID,
			"state", fc.CurrentState,
			"error", err,
		)
		return &flow.Result{Success: true, Event: flow.EventError}, nil
	}

	result := &flow.Result{
		Success: true,
		Output:  map[string]any{"content": content, "total_tokens": stats.TotalTokens},
	}
	// Replies are queued by default; json_only or send:false keep the
	// completion internal (e.g. structured extraction).
	if !getBool(config, "json_only") && getStringDefault(config, "send", "true") != "false" {
		result.Outbound = []channel.OutboundMessage{channel.TextMessage("", content)}
	}
	if saveTo := getString(config, "save_to"); saveTo != "" {
		flow.SetPath(fc.Variables, saveTo, content)
	}
	return result, nil
}
