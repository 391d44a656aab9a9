package channel

import (
	"context"
	"io"
)

// Provider defines the interface every messaging platform integration implements.
// Registration is explicit at startup; the dispatcher resolves providers by
// the session's platform tag.
type Provider interface {
	// Name returns the platform this provider serves.
	Name() Platform

	// Capabilities reports what rich message shapes the platform supports.
	// The dispatcher degrades unsupported shapes to numbered text options.
	Capabilities() Capabilities

	// ValidateWebhook verifies the incoming webhook request signature.
	ValidateWebhook(ctx context.Context, headers map[string]string, body []byte) error

	// ParseInbound parses a native webhook payload into the canonical form.
	ParseInbound(ctx context.Context, payload []byte) (*InboundMessage, error)

	// SendText sends a plain text message.
	SendText(ctx context.Context, recipient, text string) error

	// SendImage sends an image by URL with an optional caption.
	SendImage(ctx context.Context, recipient, url, caption string) error

	// SendButtons sends a message with tappable quick-reply buttons.
	SendButtons(ctx context.Context, recipient, text string, buttons []Button) error

	// SendList sends a message with a selectable list of items.
	SendList(ctx context.Context, recipient, text string, items []ListItem) error

	// SendLocationRequest asks the user to share their location.
	SendLocationRequest(ctx context.Context, recipient, text string) error

	// MarkRead marks an inbound message as read where the platform supports it.
	MarkRead(ctx context.Context, recipient, messageID string) error

	// DownloadMedia downloads media referenced by an attachment.
	// Returns the media data, MIME type, and an error if any.
	DownloadMedia(ctx context.Context, url string) ([]byte, string, error)

	// Close closes any open connections and releases resources.
	Close() error
}

// Capabilities describes the rich-message support of a platform.
type Capabilities struct {
	Buttons          bool
	Lists            bool
	Images           bool
	LocationRequests bool
	ReadReceipts     bool
	MaxButtons       int // per-platform button count limit, 0 = unlimited
}

// Errors
var (
	ErrUnsupportedChannel  = &ProviderError{Code: "UNSUPPORTED_CHANNEL", Message: "no provider registered for platform"}
	ErrInvalidSignature    = &ProviderError{Code: "INVALID_SIGNATURE", Message: "webhook signature validation failed"}
	ErrInvalidPayload      = &ProviderError{Code: "INVALID_PAYLOAD", Message: "could not parse webhook payload"}
	ErrMediaDownloadFailed = &ProviderError{Code: "MEDIA_FAILED", Message: "failed to download media"}
	ErrDeliveryFailed      = &ProviderError{Code: "DELIVERY_FAILED", Message: "provider rejected the outbound message"}
)

// ProviderError represents an error in channel operations.
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the operation can be retried.
func (e *ProviderError) IsRetryable() bool {
	switch e.Code {
	case "UNSUPPORTED_CHANNEL", "INVALID_SIGNATURE", "INVALID_PAYLOAD", "REJECTED":
		return false
	default:
		return true
	}
}

// wrapProviderError attaches a cause to a sentinel provider error.
func wrapProviderError(sentinel *ProviderError, err error) *ProviderError {
	return &ProviderError{Code: sentinel.Code, Message: sentinel.Message, Err: err}
}

var _ io.Closer = (Provider)(nil)
