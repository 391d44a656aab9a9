// Package whatsapp implements the WhatsApp Cloud API channel provider.
package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vaanihq/vaani/channel"
)

const (
	// MaxReplyButtons is the Cloud API limit for interactive reply buttons.
	MaxReplyButtons = 3

	defaultAPIBase = "https://graph.facebook.com/v19.0"
)

// Config holds configuration for the WhatsApp provider.
type Config struct {
	AccessToken   string
	PhoneNumberID string // the business phone number id messages are sent from
	AppSecret     string // used to verify webhook signatures
	APIBase       string // override for tests
}

// Provider implements channel.Provider for the WhatsApp Cloud API.
type Provider struct {
	cfg    *Config
	client *http.Client
}

// New creates a new WhatsApp provider.
func New(cfg *Config) *Provider {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	return &Provider{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the platform name.
func (p *Provider) Name() channel.Platform {
	return channel.PlatformWhatsApp
}

// Capabilities reports WhatsApp's rich message support.
func (p *Provider) Capabilities() channel.Capabilities {
	return channel.Capabilities{
		Buttons:          true,
		Lists:            true,
		Images:           true,
		LocationRequests: true,
		ReadReceipts:     true,
		MaxButtons:       MaxReplyButtons,
	}
}

// ValidateWebhook verifies the X-Hub-Signature-256 HMAC of the payload.
func (p *Provider) ValidateWebhook(ctx context.Context, headers map[string]string, body []byte) error {
	if p.cfg.AppSecret == "" {
		return nil
	}

	signature := headers["X-Hub-Signature-256"]
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return channel.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(p.cfg.AppSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return channel.ErrInvalidSignature
	}
	return nil
}

// webhookEnvelope mirrors the fields of the Cloud API webhook the core needs.
type webhookEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Audio *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
	} `json:"audio"`
	Image *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
		Caption  string `json:"caption"`
	} `json:"image"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
}

// ParseInbound parses the incoming webhook payload into the canonical form.
func (p *Provider) ParseInbound(ctx context.Context, payload []byte) (*channel.InboundMessage, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		slog.Warn("whatsapp: failed to parse webhook payload", "error", err)
		return nil, channel.ErrInvalidPayload
	}

	var wam *inboundMessage
	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Messages) > 0 {
				wam = &change.Value.Messages[0]
				break
			}
		}
	}
	if wam == nil || wam.From == "" {
		return nil, channel.ErrInvalidPayload
	}

	msg := &channel.InboundMessage{
		Platform:          channel.PlatformWhatsApp,
		RecipientID:       wam.From,
		ReceivedAt:        time.Now(),
		ProviderMessageID: wam.ID,
		Metadata:          map[string]string{"type": wam.Type},
	}

	switch {
	case wam.Text != nil:
		msg.Text = wam.Text.Body
	case wam.Audio != nil:
		msg.Attachments = append(msg.Attachments, channel.Attachment{
			Kind:     channel.AttachmentAudio,
			URL:      wam.Audio.ID,
			MimeType: wam.Audio.MimeType,
		})
	case wam.Image != nil:
		msg.Attachments = append(msg.Attachments, channel.Attachment{
			Kind:     channel.AttachmentImage,
			URL:      wam.Image.ID,
			MimeType: wam.Image.MimeType,
		})
		msg.Text = wam.Image.Caption
	}

	if wam.Interactive != nil {
		switch {
		case wam.Interactive.ButtonReply != nil:
			msg.ButtonReply = wam.Interactive.ButtonReply.ID
			msg.Text = wam.Interactive.ButtonReply.Title
		case wam.Interactive.ListReply != nil:
			msg.ButtonReply = wam.Interactive.ListReply.ID
			msg.Text = wam.Interactive.ListReply.Title
		}
	}

	if wam.Location != nil {
		msg.Location = &channel.Location{
			Lat: wam.Location.Latitude,
			Lng: wam.Location.Longitude,
		}
	}

	return msg, nil
}

// SendText sends a plain text message.
func (p *Provider) SendText(ctx context.Context, recipient, text string) error {
	return p.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "text",
		"text":              map[string]any{"body": text},
	})
}

// SendImage sends an image by URL with an optional caption.
func (p *Provider) SendImage(ctx context.Context, recipient, url, caption string) error {
	image := map[string]any{"link": url}
	if caption != "" {
		image["caption"] = caption
	}
	return p.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "image",
		"image":             image,
	})
}

// SendButtons sends an interactive message with reply buttons.
func (p *Provider) SendButtons(ctx context.Context, recipient, text string, buttons []channel.Button) error {
	actions := make([]map[string]any, len(buttons))
	for i, btn := range buttons {
		actions[i] = map[string]any{
			"type":  "reply",
			"reply": map[string]any{"id": btn.ID, "title": btn.Label},
		}
	}
	return p.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]any{"text": text},
			"action": map[string]any{"buttons": actions},
		},
	})
}

// SendList sends an interactive list message.
func (p *Provider) SendList(ctx context.Context, recipient, text string, items []channel.ListItem) error {
	rows := make([]map[string]any, len(items))
	for i, it := range items {
		rows[i] = map[string]any{
			"id":          it.ID,
			"title":       it.Title,
			"description": it.Description,
		}
	}
	return p.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "list",
			"body":   map[string]any{"text": text},
			"action": map[string]any{
				"button":   "Choose",
				"sections": []map[string]any{{"rows": rows}},
			},
		},
	})
}

// SendLocationRequest asks the user to share their location.
func (p *Provider) SendLocationRequest(ctx context.Context, recipient, text string) error {
	return p.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "location_request_message",
			"body":   map[string]any{"text": text},
			"action": map[string]any{"name": "send_location"},
		},
	})
}

// MarkRead marks an inbound message as read.
func (p *Provider) MarkRead(ctx context.Context, recipient, messageID string) error {
	return p.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	})
}

// DownloadMedia resolves a media id to its CDN URL and downloads it.
func (p *Provider) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	metaURL := fmt.Sprintf("%s/%s", p.cfg.APIBase, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.AccessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", channel.ErrMediaDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: media lookup status %d", channel.ErrMediaDownloadFailed, resp.StatusCode)
	}

	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, "", fmt.Errorf("failed to decode media metadata: %w", err)
	}

	dlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}
	dlReq.Header.Set("Authorization", "Bearer "+p.cfg.AccessToken)

	dlResp, err := p.client.Do(dlReq)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", channel.ErrMediaDownloadFailed, err)
	}
	defer dlResp.Body.Close()

	if dlResp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: status %d", channel.ErrMediaDownloadFailed, dlResp.StatusCode)
	}

	data, err := io.ReadAll(dlResp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media body: %w", err)
	}
	return data, meta.MimeType, nil
}

// Close closes the WhatsApp provider.
func (p *Provider) Close() error {
	return nil
}

func (p *Provider) post(ctx context.Context, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", p.cfg.APIBase, p.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &channel.ProviderError{Code: "DELIVERY_FAILED", Message: "whatsapp request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &channel.ProviderError{Code: "DELIVERY_FAILED", Message: fmt.Sprintf("whatsapp status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		slog.Error("whatsapp: send rejected", "status", resp.StatusCode, "body", string(respBody))
		return &channel.ProviderError{Code: "REJECTED", Message: fmt.Sprintf("whatsapp status %d", resp.StatusCode)}
	}
	return nil
}

var _ channel.Provider = (*Provider)(nil)
