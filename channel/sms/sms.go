// Package sms implements a text-only SMS gateway channel provider.
//
// The gateway contract is a minimal REST shape (POST {from, to, body}) shared
// by most aggregators; rich message shapes are degraded to numbered text by
// the dispatcher before they reach this provider.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vaanihq/vaani/channel"
)

// Config holds configuration for the SMS provider.
type Config struct {
	GatewayURL string // aggregator send endpoint
	APIKey     string
	SenderID   string // the number or alphanumeric id messages are sent from
}

// Provider implements channel.Provider over an SMS aggregator.
type Provider struct {
	cfg    *Config
	client *http.Client
}

// New creates a new SMS provider.
func New(cfg *Config) *Provider {
	return &Provider{
		cfg: cfg,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Name returns the platform name.
func (p *Provider) Name() channel.Platform {
	return channel.PlatformSMS
}

// Capabilities reports SMS support: text only.
func (p *Provider) Capabilities() channel.Capabilities {
	return channel.Capabilities{}
}

// ValidateWebhook is a no-op; aggregator webhooks authenticate by shared path secret.
func (p *Provider) ValidateWebhook(ctx context.Context, headers map[string]string, body []byte) error {
	return nil
}

// ParseInbound parses an inbound SMS webhook. Both form-encoded and JSON
// bodies are accepted since aggregators differ.
func (p *Provider) ParseInbound(ctx context.Context, payload []byte) (*channel.InboundMessage, error) {
	var from, body string

	var jsonBody struct {
		From string `json:"from"`
		Body string `json:"body"`
	}
	if err := json.Unmarshal(payload, &jsonBody); err == nil && jsonBody.From != "" {
		from, body = jsonBody.From, jsonBody.Body
	} else {
		values, err := url.ParseQuery(string(payload))
		if err != nil {
			return nil, channel.ErrInvalidPayload
		}
		from, body = values.Get("from"), values.Get("body")
	}

	if from == "" {
		return nil, channel.ErrInvalidPayload
	}

	return &channel.InboundMessage{
		Platform:    channel.PlatformSMS,
		RecipientID: from,
		Text:        body,
		ReceivedAt:  time.Now(),
	}, nil
}

// SendText sends a plain text message through the gateway.
func (p *Provider) SendText(ctx context.Context, recipient, text string) error {
	payload, err := json.Marshal(map[string]string{
		"from": p.cfg.SenderID,
		"to":   recipient,
		"body": text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.GatewayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &channel.ProviderError{Code: "DELIVERY_FAILED", Message: "sms gateway request failed", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return &channel.ProviderError{Code: "DELIVERY_FAILED", Message: fmt.Sprintf("sms gateway status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return &channel.ProviderError{Code: "REJECTED", Message: fmt.Sprintf("sms gateway status %d", resp.StatusCode)}
	}
	return nil
}

// SendImage is never called directly: the dispatcher degrades images to text
// for platforms without image support. Kept for interface completeness.
func (p *Provider) SendImage(ctx context.Context, recipient, url, caption string) error {
	text := caption
	if text == "" {
		text = url
	} else {
		text = text + "\n" + url
	}
	return p.SendText(ctx, recipient, text)
}

// SendButtons is unreachable through the dispatcher (degraded upstream).
func (p *Provider) SendButtons(ctx context.Context, recipient, text string, buttons []channel.Button) error {
	return p.SendText(ctx, recipient, text)
}

// SendList is unreachable through the dispatcher (degraded upstream).
func (p *Provider) SendList(ctx context.Context, recipient, text string, items []channel.ListItem) error {
	return p.SendText(ctx, recipient, text)
}

// SendLocationRequest degrades to a plain text ask.
func (p *Provider) SendLocationRequest(ctx context.Context, recipient, text string) error {
	return p.SendText(ctx, recipient, text)
}

// MarkRead is a no-op for SMS.
func (p *Provider) MarkRead(ctx context.Context, recipient, messageID string) error {
	return nil
}

// DownloadMedia is unsupported for SMS.
func (p *Provider) DownloadMedia(ctx context.Context, url string) ([]byte, string, error) {
	return nil, "", channel.ErrMediaDownloadFailed
}

// Close closes the SMS provider.
func (p *Provider) Close() error {
	return nil
}

var _ channel.Provider = (*Provider)(nil)
