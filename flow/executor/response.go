package executor

import (
	"context"

	"github.com/vaanihq/vaani/channel"
	"github.com/vaanihq/vaani/flow"
)

// Response queues a canned message: plain text, buttons, a list, or an
// image. Interpolation has already been applied to the config.
type Response struct{}

func (Response) Name() string { return "response" }

func (Response) Execute(_ context.Context, config map[string]any, _ *flow.Context, _ *flow.Input) (*flow.Result, error) {
	text := getString(config, "text")

	// RecipientID is stamped by the conversation service at commit time.
	var msg channel.OutboundMessage
	switch {
	case len(getSlice(config, "buttons")) > 0:
		msg = channel.ButtonsMessage("", text, parseButtons(getSlice(config, "buttons")))
	case len(getSlice(config, "list")) > 0:
		msg = channel.ListMessage("", text, parseListItems(getSlice(config, "list")))
	case getString(config, "image_url") != "":
		msg = channel.OutboundMessage{
			Kind:     channel.OutboundImage,
			ImageURL: getString(config, "image_url"),
			Text:     text,
		}
	case getBool(config, "request_location"):
		msg = channel.OutboundMessage{Kind: channel.OutboundLocationRequest, Text: text}
	default:
		msg = channel.TextMessage("", text)
	}

	return &flow.Result{Success: true, Outbound: []channel.OutboundMessage{msg}}, nil
}

func parseButtons(raw []any) []channel.Button {
	buttons := make([]channel.Button, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		buttons = append(buttons, channel.Button{
			ID:    getString(m, "id"),
			Label: getString(m, "label"),
		})
	}
	return buttons
}

func parseListItems(raw []any) []channel.ListItem {
	items := make([]channel.ListItem, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, channel.ListItem{
			ID:          getString(m, "id"),
			Title:       getString(m, "title"),
			Description: getString(m, "description"),
		})
	}
	return items
}
