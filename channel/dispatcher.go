package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Dispatcher routes canonical outbound messages to the provider registered for
// the target platform. Messages for a single recipient are sent serially in
// the order they are handed over; callers that need cross-message ordering
// must dispatch from a single goroutine per recipient (the conversation
// service does).
//
// Concurrent-safe for Register and provider lookup.
type Dispatcher struct {
	mu       sync.RWMutex
	registry map[Platform]Provider

	// sendMu serializes sends per recipient so providers observe FIFO order.
	sendMu sync.Map // recipient id -> *sync.Mutex
}

// NewDispatcher creates a new dispatcher with no providers registered.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{registry: make(map[Platform]Provider)}
}

// Register registers a provider for its platform.
func (d *Dispatcher) Register(p Provider) {
	d.mu.Lock()
	d.registry[p.Name()] = p
	d.mu.Unlock()
	slog.Info("dispatcher: provider registered", "platform", p.Name())
}

// Provider returns the provider for a platform, or nil if not registered.
func (d *Dispatcher) Provider(platform Platform) Provider {
	d.mu.RLock()
	p := d.registry[platform]
	d.mu.RUnlock()
	return p
}

// Platforms returns the set of registered platforms.
func (d *Dispatcher) Platforms() []Platform {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Platform, 0, len(d.registry))
	for p := range d.registry {
		out = append(out, p)
	}
	return out
}

// Send delivers one outbound message through the provider for the platform.
// Rich shapes the platform cannot render degrade to plain text with numbered
// options; the degradation is counted and logged, never silently dropped.
func (d *Dispatcher) Send(ctx context.Context, platform Platform, msg OutboundMessage) error {
	p := d.Provider(platform)
	if p == nil {
		return ErrUnsupportedChannel
	}

	lock := d.recipientLock(msg.RecipientID)
	lock.Lock()
	defer lock.Unlock()

	caps := p.Capabilities()
	kind := msg.Kind

	switch kind {
	case OutboundText:
		// nothing to degrade
	case OutboundImage:
		if !caps.Images {
			observeDegradation(platform, kind)
			text := msg.Caption
			if text == "" {
				text = msg.ImageURL
			} else {
				text = text + "\n" + msg.ImageURL
			}
			msg = TextMessage(msg.RecipientID, text)
			kind = OutboundText
		}
	case OutboundButtons:
		if !caps.Buttons {
			observeDegradation(platform, kind)
			msg = TextMessage(msg.RecipientID, renderOptionsAsText(msg.Text, buttonLabels(msg.Buttons)))
			kind = OutboundText
		} else if caps.MaxButtons > 0 && len(msg.Buttons) > caps.MaxButtons {
			// Too many options for the platform's native widget.
			observeDegradation(platform, kind)
			msg = TextMessage(msg.RecipientID, renderOptionsAsText(msg.Text, buttonLabels(msg.Buttons)))
			kind = OutboundText
		}
	case OutboundList:
		if !caps.Lists {
			observeDegradation(platform, kind)
			msg = TextMessage(msg.RecipientID, renderOptionsAsText(msg.Text, itemTitles(msg.Items)))
			kind = OutboundText
		}
	case OutboundLocationRequest:
		if !caps.LocationRequests {
			observeDegradation(platform, kind)
			msg = TextMessage(msg.RecipientID, msg.Text)
			kind = OutboundText
		}
	}

	var err error
	switch kind {
	case OutboundText:
		err = p.SendText(ctx, msg.RecipientID, msg.Text)
	case OutboundImage:
		err = p.SendImage(ctx, msg.RecipientID, msg.ImageURL, msg.Caption)
	case OutboundButtons:
		err = p.SendButtons(ctx, msg.RecipientID, msg.Text, msg.Buttons)
	case OutboundList:
		err = p.SendList(ctx, msg.RecipientID, msg.Text, msg.Items)
	case OutboundLocationRequest:
		err = p.SendLocationRequest(ctx, msg.RecipientID, msg.Text)
	default:
		err = fmt.Errorf("unknown outbound kind %d", kind)
	}
	if err != nil {
		observeSendError(platform, kind)
		slog.Error("dispatcher: send failed",
			"platform", platform,
			"recipient", msg.RecipientID,
			"kind", kind.String(),
			"error", err,
		)
		if _, ok := err.(*ProviderError); ok {
			return err
		}
		return wrapProviderError(ErrDeliveryFailed, err)
	}

	observeSent(platform, kind)
	return nil
}

// SendAll delivers messages in order, stopping at the first failure.
func (d *Dispatcher) SendAll(ctx context.Context, platform Platform, msgs []OutboundMessage) error {
	for i, msg := range msgs {
		if err := d.Send(ctx, platform, msg); err != nil {
			return fmt.Errorf("send %d/%d: %w", i+1, len(msgs), err)
		}
	}
	return nil
}

// MarkRead marks an inbound message as read on platforms that support it.
func (d *Dispatcher) MarkRead(ctx context.Context, platform Platform, recipient, messageID string) error {
	p := d.Provider(platform)
	if p == nil {
		return ErrUnsupportedChannel
	}
	if !p.Capabilities().ReadReceipts {
		return nil
	}
	return p.MarkRead(ctx, recipient, messageID)
}

// Close closes all registered providers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for _, p := range d.registry {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Dispatcher) recipientLock(recipient string) *sync.Mutex {
	v, _ := d.sendMu.LoadOrStore(recipient, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// renderOptionsAsText turns rich options into a numbered plain-text listing.
// The user replies with the option number or its label.
func renderOptionsAsText(text string, labels []string) string {
	var b strings.Builder
	b.WriteString(text)
	for i, label := range labels {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, label))
	}
	return b.String()
}

func buttonLabels(buttons []Button) []string {
	out := make([]string, len(buttons))
	for i, btn := range buttons {
		out[i] = btn.Label
	}
	return out
}

func itemTitles(items []ListItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Title
	}
	return out
}
