// Package telegram implements the Telegram Bot channel provider.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vaanihq/vaani/channel"
)

const (
	// MaxInlineButtons is the practical per-row limit for inline keyboards.
	MaxInlineButtons = 8
)

// Config holds configuration for the Telegram provider.
type Config struct {
	BotToken string
}

// Provider implements channel.Provider for the Telegram Bot API.
type Provider struct {
	bot    *tgbotapi.BotAPI
	client *http.Client
}

// New creates a new Telegram provider.
func New(cfg *Config) (*Provider, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return &Provider{
		bot: bot,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DisableCompression: true,
			},
		},
	}, nil
}

// Name returns the platform name.
func (p *Provider) Name() channel.Platform {
	return channel.PlatformTelegram
}

// Capabilities reports Telegram's rich message support. Telegram has no
// native list widget; lists render as inline keyboards.
func (p *Provider) Capabilities() channel.Capabilities {
	return channel.Capabilities{
		Buttons:          true,
		Lists:            true,
		Images:           true,
		LocationRequests: true,
		ReadReceipts:     false,
		MaxButtons:       MaxInlineButtons,
	}
}

// ValidateWebhook verifies the incoming webhook request.
func (p *Provider) ValidateWebhook(ctx context.Context, headers map[string]string, body []byte) error {
	// Telegram webhook authenticity is carried by the secret URL path.
	return nil
}

// ParseInbound parses the incoming webhook payload into the canonical form.
func (p *Provider) ParseInbound(ctx context.Context, payload []byte) (*channel.InboundMessage, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		slog.Warn("telegram: failed to parse webhook payload", "error", err)
		return nil, channel.ErrInvalidPayload
	}

	var tgMsg *tgbotapi.Message
	var buttonReply string
	switch {
	case update.Message != nil:
		tgMsg = update.Message
	case update.EditedMessage != nil:
		tgMsg = update.EditedMessage
	case update.CallbackQuery != nil:
		tgMsg = update.CallbackQuery.Message
		buttonReply = update.CallbackQuery.Data
	default:
		return nil, channel.ErrInvalidPayload
	}

	if tgMsg == nil {
		return nil, channel.ErrInvalidPayload
	}

	msg := &channel.InboundMessage{
		Platform:          channel.PlatformTelegram,
		RecipientID:       strconv.FormatInt(tgMsg.Chat.ID, 10),
		Text:              tgMsg.Text,
		ButtonReply:       buttonReply,
		ReceivedAt:        time.Now(),
		ProviderMessageID: strconv.Itoa(tgMsg.MessageID),
		Metadata:          make(map[string]string),
	}

	msg.Metadata["update_id"] = strconv.Itoa(update.UpdateID)
	if tgMsg.From != nil {
		msg.Metadata["username"] = tgMsg.From.UserName
		msg.Metadata["language_code"] = tgMsg.From.LanguageCode
	}

	switch {
	case tgMsg.Voice != nil:
		msg.Attachments = append(msg.Attachments, channel.Attachment{
			Kind:     channel.AttachmentAudio,
			URL:      tgMsg.Voice.FileID,
			MimeType: "audio/ogg",
		})
	case tgMsg.Audio != nil:
		msg.Attachments = append(msg.Attachments, channel.Attachment{
			Kind:     channel.AttachmentAudio,
			URL:      tgMsg.Audio.FileID,
			MimeType: tgMsg.Audio.MimeType,
			FileName: tgMsg.Audio.FileName,
		})
	case len(tgMsg.Photo) > 0:
		largest := tgMsg.Photo[len(tgMsg.Photo)-1]
		msg.Attachments = append(msg.Attachments, channel.Attachment{
			Kind: channel.AttachmentImage,
			URL:  largest.FileID,
		})
		msg.Text = tgMsg.Caption
	case tgMsg.Document != nil:
		msg.Attachments = append(msg.Attachments, channel.Attachment{
			Kind:     channel.AttachmentDocument,
			URL:      tgMsg.Document.FileID,
			MimeType: tgMsg.Document.MimeType,
			FileName: tgMsg.Document.FileName,
		})
	}

	if tgMsg.Location != nil {
		msg.Location = &channel.Location{
			Lat: tgMsg.Location.Latitude,
			Lng: tgMsg.Location.Longitude,
		}
	}

	return msg, nil
}

// SendText sends a plain text message.
func (p *Provider) SendText(ctx context.Context, recipient, text string) error {
	chatID, err := parseChatID(recipient)
	if err != nil {
		return err
	}
	tgMsg := tgbotapi.NewMessage(chatID, text)
	_, err = p.bot.Send(tgMsg)
	return err
}

// SendImage sends an image by URL with an optional caption.
func (p *Provider) SendImage(ctx context.Context, recipient, url, caption string) error {
	chatID, err := parseChatID(recipient)
	if err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))
	photo.Caption = caption
	_, err = p.bot.Send(photo)
	return err
}

// SendButtons sends a message with an inline keyboard.
func (p *Provider) SendButtons(ctx context.Context, recipient, text string, buttons []channel.Button) error {
	chatID, err := parseChatID(recipient)
	if err != nil {
		return err
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, btn := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.ID),
		))
	}

	tgMsg := tgbotapi.NewMessage(chatID, text)
	tgMsg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	_, err = p.bot.Send(tgMsg)
	return err
}

// SendList renders a list as an inline keyboard, one item per row.
func (p *Provider) SendList(ctx context.Context, recipient, text string, items []channel.ListItem) error {
	buttons := make([]channel.Button, len(items))
	for i, it := range items {
		buttons[i] = channel.Button{ID: it.ID, Label: it.Title}
	}
	return p.SendButtons(ctx, recipient, text, buttons)
}

// SendLocationRequest asks the user to share their location via a reply keyboard.
func (p *Provider) SendLocationRequest(ctx context.Context, recipient, text string) error {
	chatID, err := parseChatID(recipient)
	if err != nil {
		return err
	}

	btn := tgbotapi.NewKeyboardButtonLocation("Share location")
	tgMsg := tgbotapi.NewMessage(chatID, text)
	tgMsg.ReplyMarkup = tgbotapi.NewOneTimeReplyKeyboard(tgbotapi.NewKeyboardButtonRow(btn))
	_, err = p.bot.Send(tgMsg)
	return err
}

// MarkRead is a no-op; the Bot API has no read receipt call.
func (p *Provider) MarkRead(ctx context.Context, recipient, messageID string) error {
	return nil
}

// DownloadMedia downloads a file from Telegram by file id.
func (p *Provider) DownloadMedia(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := p.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		slog.Error("telegram: failed to get file info", "file_id", fileID, "error", err)
		return nil, "", fmt.Errorf("%w: %w", channel.ErrMediaDownloadFailed, err)
	}

	fileURL := file.Link(p.bot.Token)
	if fileURL == "" {
		return nil, "", fmt.Errorf("empty file link from Telegram")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Error("telegram: failed to download file", "url", fileURL, "error", err)
		return nil, "", fmt.Errorf("%w: %w", channel.ErrMediaDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: status %d", channel.ErrMediaDownloadFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return data, mimeType, nil
}

// Close closes the Telegram provider.
func (p *Provider) Close() error {
	return nil
}

func parseChatID(recipient string) (int64, error) {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat ID %q: %w", recipient, err)
	}
	return chatID, nil
}

var _ channel.Provider = (*Provider)(nil)
