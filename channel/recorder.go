package channel

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Recorder is an in-memory provider backing the REST test surface and unit
// tests. Outbound messages are buffered per recipient and drained by the
// caller that posted the inbound message.
type Recorder struct {
	mu      sync.Mutex
	replies map[string][]OutboundMessage
}

// NewRecorder creates a new recording provider.
func NewRecorder() *Recorder {
	return &Recorder{replies: make(map[string][]OutboundMessage)}
}

// Name returns the platform name.
func (r *Recorder) Name() Platform {
	return PlatformTest
}

// Capabilities reports full rich-message support so tests can assert
// undegraded shapes.
func (r *Recorder) Capabilities() Capabilities {
	return Capabilities{Buttons: true, Lists: true, Images: true, LocationRequests: true, ReadReceipts: true}
}

// ValidateWebhook is a no-op for the test surface.
func (r *Recorder) ValidateWebhook(ctx context.Context, headers map[string]string, body []byte) error {
	return nil
}

// ParseInbound parses the test REST payload {recipientId, text}.
func (r *Recorder) ParseInbound(ctx context.Context, payload []byte) (*InboundMessage, error) {
	var body struct {
		RecipientID string `json:"recipientId"`
		Text        string `json:"text"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.RecipientID == "" {
		return nil, ErrInvalidPayload
	}
	return &InboundMessage{
		Platform:    PlatformTest,
		RecipientID: body.RecipientID,
		Text:        body.Text,
		ReceivedAt:  time.Now(),
	}, nil
}

// Drain returns and clears the buffered replies for a recipient.
func (r *Recorder) Drain(recipient string) []OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.replies[recipient]
	delete(r.replies, recipient)
	return out
}

func (r *Recorder) record(msg OutboundMessage) {
	r.mu.Lock()
	r.replies[msg.RecipientID] = append(r.replies[msg.RecipientID], msg)
	r.mu.Unlock()
}

func (r *Recorder) SendText(_ context.Context, recipient, text string) error {
	r.record(TextMessage(recipient, text))
	return nil
}

func (r *Recorder) SendImage(_ context.Context, recipient, url, caption string) error {
	r.record(OutboundMessage{RecipientID: recipient, Kind: OutboundImage, ImageURL: url, Caption: caption})
	return nil
}

func (r *Recorder) SendButtons(_ context.Context, recipient, text string, buttons []Button) error {
	r.record(ButtonsMessage(recipient, text, buttons))
	return nil
}

func (r *Recorder) SendList(_ context.Context, recipient, text string, items []ListItem) error {
	r.record(ListMessage(recipient, text, items))
	return nil
}

func (r *Recorder) SendLocationRequest(_ context.Context, recipient, text string) error {
	r.record(OutboundMessage{RecipientID: recipient, Kind: OutboundLocationRequest, Text: text})
	return nil
}

func (r *Recorder) MarkRead(context.Context, string, string) error { return nil }

func (r *Recorder) DownloadMedia(context.Context, string) ([]byte, string, error) {
	return nil, "", ErrMediaDownloadFailed
}

func (r *Recorder) Close() error { return nil }

var _ Provider = (*Recorder)(nil)
