// Package channel provides multi-platform messaging integration for Vaani.
// Supported platforms: WhatsApp, Telegram, web socket, SMS, and a REST test surface.
package channel

import "time"

// Platform represents a supported messaging platform.
type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformTelegram Platform = "telegram"
	PlatformWeb      Platform = "web"
	PlatformSMS      Platform = "sms"
	PlatformVoice    Platform = "voice"
	PlatformTest     Platform = "test"
)

// IsValid checks if the platform is valid.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformWhatsApp, PlatformTelegram, PlatformWeb, PlatformSMS, PlatformVoice, PlatformTest:
		return true
	default:
		return false
	}
}

// AttachmentKind represents the media kind of an attachment.
type AttachmentKind int

const (
	AttachmentImage AttachmentKind = iota
	AttachmentAudio
	AttachmentVideo
	AttachmentDocument
)

// String returns the string representation of AttachmentKind.
func (k AttachmentKind) String() string {
	switch k {
	case AttachmentImage:
		return "image"
	case AttachmentAudio:
		return "audio"
	case AttachmentVideo:
		return "video"
	case AttachmentDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Attachment is a media item carried by an inbound message.
type Attachment struct {
	Kind     AttachmentKind
	URL      string // provider CDN reference or provider-scoped file id
	MimeType string
	FileName string
	Data     []byte // populated after download, if any
}

// Location is a geographic point shared by the user.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// InboundMessage is the canonical form every channel payload is normalized to.
type InboundMessage struct {
	RecipientID       string     // channel-scoped conversation partner id
	Platform          Platform   // source platform
	Text              string     // text content, possibly transcribed from audio
	Attachments       []Attachment
	ButtonReply       string     // id of the button the user tapped, if any
	Location          *Location  // shared location, if any
	ReceivedAt        time.Time
	ProviderMessageID string     // provider-assigned message id
	Metadata          map[string]string
}

// Button is a tappable quick-reply option.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ListItem is an entry in a selectable list message.
type ListItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// OutboundKind represents the shape of an outbound message.
type OutboundKind int

const (
	OutboundText OutboundKind = iota
	OutboundImage
	OutboundButtons
	OutboundList
	OutboundLocationRequest
)

// String returns the string representation of OutboundKind.
func (k OutboundKind) String() string {
	switch k {
	case OutboundText:
		return "text"
	case OutboundImage:
		return "image"
	case OutboundButtons:
		return "buttons"
	case OutboundList:
		return "list"
	case OutboundLocationRequest:
		return "location_request"
	default:
		return "unknown"
	}
}

// OutboundMessage is the canonical outbound form handed to the dispatcher.
type OutboundMessage struct {
	RecipientID string
	Kind        OutboundKind
	Text        string
	ImageURL    string
	Caption     string
	Buttons     []Button
	Items       []ListItem
}

// TextMessage builds a plain text outbound message.
func TextMessage(recipient, text string) OutboundMessage {
	return OutboundMessage{RecipientID: recipient, Kind: OutboundText, Text: text}
}

// ButtonsMessage builds a quick-reply outbound message.
func ButtonsMessage(recipient, text string, buttons []Button) OutboundMessage {
	return OutboundMessage{RecipientID: recipient, Kind: OutboundButtons, Text: text, Buttons: buttons}
}

// ListMessage builds a selectable list outbound message.
func ListMessage(recipient, text string, items []ListItem) OutboundMessage {
	return OutboundMessage{RecipientID: recipient, Kind: OutboundList, Text: text, Items: items}
}
