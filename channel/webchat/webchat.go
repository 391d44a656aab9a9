// Package webchat implements the web socket channel provider.
//
// Browser clients hold a socket open; the server registers the connection
// under the session's recipient id and outbound messages are written as JSON
// frames to that socket.
package webchat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/vaanihq/vaani/channel"
)

// Frame is the JSON shape written to and read from the socket.
type Frame struct {
	SessionID string             `json:"sessionId"`
	Message   string             `json:"message,omitempty"`
	Kind      string             `json:"kind,omitempty"`
	ImageURL  string             `json:"imageUrl,omitempty"`
	Caption   string             `json:"caption,omitempty"`
	Buttons   []channel.Button   `json:"buttons,omitempty"`
	Items     []channel.ListItem `json:"items,omitempty"`
}

// Provider implements channel.Provider for browser web socket sessions.
type Provider struct {
	mu    sync.RWMutex
	conns map[string]*websocket.Conn // recipient id -> live socket
}

// New creates a new webchat provider.
func New() *Provider {
	return &Provider{conns: make(map[string]*websocket.Conn)}
}

// Name returns the platform name.
func (p *Provider) Name() channel.Platform {
	return channel.PlatformWeb
}

// Capabilities reports web chat support. The web widget renders buttons and
// lists natively; location requests surface as a browser geolocation prompt.
func (p *Provider) Capabilities() channel.Capabilities {
	return channel.Capabilities{
		Buttons:          true,
		Lists:            true,
		Images:           true,
		LocationRequests: true,
	}
}

// Attach registers a live socket for a recipient. A newer socket replaces an
// older one for the same recipient.
func (p *Provider) Attach(recipient string, ws *websocket.Conn) {
	p.mu.Lock()
	if old, ok := p.conns[recipient]; ok && old != ws {
		_ = old.Close()
	}
	p.conns[recipient] = ws
	p.mu.Unlock()
	slog.Debug("webchat: socket attached", "recipient", recipient)
}

// Detach removes the socket for a recipient if it is still the current one.
func (p *Provider) Detach(recipient string, ws *websocket.Conn) {
	p.mu.Lock()
	if cur, ok := p.conns[recipient]; ok && cur == ws {
		delete(p.conns, recipient)
	}
	p.mu.Unlock()
}

// ValidateWebhook is a no-op; sockets are authenticated at upgrade time.
func (p *Provider) ValidateWebhook(ctx context.Context, headers map[string]string, body []byte) error {
	return nil
}

// ParseInbound parses a socket frame into the canonical form.
func (p *Provider) ParseInbound(ctx context.Context, payload []byte) (*channel.InboundMessage, error) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, channel.ErrInvalidPayload
	}
	if frame.SessionID == "" {
		return nil, channel.ErrInvalidPayload
	}

	return &channel.InboundMessage{
		Platform:    channel.PlatformWeb,
		RecipientID: frame.SessionID,
		Text:        frame.Message,
		ReceivedAt:  time.Now(),
	}, nil
}

// SendText sends a plain text frame.
func (p *Provider) SendText(ctx context.Context, recipient, text string) error {
	return p.write(recipient, Frame{SessionID: recipient, Kind: "text", Message: text})
}

// SendImage sends an image frame.
func (p *Provider) SendImage(ctx context.Context, recipient, url, caption string) error {
	return p.write(recipient, Frame{SessionID: recipient, Kind: "image", ImageURL: url, Caption: caption})
}

// SendButtons sends a frame with quick-reply buttons.
func (p *Provider) SendButtons(ctx context.Context, recipient, text string, buttons []channel.Button) error {
	return p.write(recipient, Frame{SessionID: recipient, Kind: "buttons", Message: text, Buttons: buttons})
}

// SendList sends a frame with a selectable list.
func (p *Provider) SendList(ctx context.Context, recipient, text string, items []channel.ListItem) error {
	return p.write(recipient, Frame{SessionID: recipient, Kind: "list", Message: text, Items: items})
}

// SendLocationRequest asks the browser for geolocation.
func (p *Provider) SendLocationRequest(ctx context.Context, recipient, text string) error {
	return p.write(recipient, Frame{SessionID: recipient, Kind: "location_request", Message: text})
}

// MarkRead is a no-op for web chat.
func (p *Provider) MarkRead(ctx context.Context, recipient, messageID string) error {
	return nil
}

// DownloadMedia is unsupported; web uploads go through the HTTP surface.
func (p *Provider) DownloadMedia(ctx context.Context, url string) ([]byte, string, error) {
	return nil, "", channel.ErrMediaDownloadFailed
}

// Close closes all live sockets.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for recipient, ws := range p.conns {
		_ = ws.Close()
		delete(p.conns, recipient)
	}
	return nil
}

func (p *Provider) write(recipient string, frame Frame) error {
	p.mu.RLock()
	ws := p.conns[recipient]
	p.mu.RUnlock()

	if ws == nil {
		return &channel.ProviderError{
			Code:    "NO_SOCKET",
			Message: fmt.Sprintf("no live socket for recipient %s", recipient),
		}
	}
	if err := websocket.JSON.Send(ws, frame); err != nil {
		return &channel.ProviderError{Code: "DELIVERY_FAILED", Message: "socket write failed", Err: err}
	}
	return nil
}

var _ channel.Provider = (*Provider)(nil)
