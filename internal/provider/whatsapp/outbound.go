package whatsapp

import (
	"net/url"
	"path"
	"strings"

	"github.com/popeskul/wa-relay/internal/models"
)

// MessageKind is the outbound message type understood by the Graph API.
type MessageKind string

const (
	MessageText     MessageKind = "text"
	MessageImage    MessageKind = "image"
	MessageVideo    MessageKind = "video"
	MessageAudio    MessageKind = "audio"
	MessageDocument MessageKind = "document"
)

var (
	imageExtensions = map[string]struct{}{"jpg": {}, "jpeg": {}, "png": {}, "webp": {}, "gif": {}}
	videoExtensions = map[string]struct{}{"mp4": {}, "3gp": {}, "mov": {}}
	audioExtensions = map[string]struct{}{"mp3": {}, "ogg": {}, "aac": {}, "amr": {}, "m4a": {}, "opus": {}}
)

type SendRequest struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type"`
	To               string        `json:"to"`
	Type             MessageKind   `json:"type"`
	Context          *ReplyContext `json:"context,omitempty"`
	Text             *TextBody     `json:"text,omitempty"`
	Image            *MediaBody    `json:"image,omitempty"`
	Video            *MediaBody    `json:"video,omitempty"`
	Audio            *MediaBody    `json:"audio,omitempty"`
	Document         *MediaBody    `json:"document,omitempty"`
}

type ReplyContext struct {
	MessageID string `json:"message_id"`
}

type TextBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type MediaBody struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// KindForURL picks the outbound kind from the extension of the URL path.
// Anything unrecognized is sent as a document.
func KindForURL(mediaURL string) MessageKind {
	switch ext := urlExtension(mediaURL); {
	case has(imageExtensions, ext):
		return MessageImage
	case has(videoExtensions, ext):
		return MessageVideo
	case has(audioExtensions, ext):
		return MessageAudio
	default:
		return MessageDocument
	}
}

// MediaTypeForURL maps KindForURL onto the stored media type.
func MediaTypeForURL(mediaURL string) models.MediaType {
	return models.MediaType(KindForURL(mediaURL))
}

// BuildOutboundPayload shapes a send. With a media URL the body becomes the
// caption, except for audio which has none. replyTo is the provider id of
// the quoted message and may be empty.
func BuildOutboundPayload(to, body, mediaURL, replyTo string) SendRequest {
	req := SendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
	}
	if replyTo != "" {
		req.Context = &ReplyContext{MessageID: replyTo}
	}

	if mediaURL == "" {
		req.Type = MessageText
		req.Text = &TextBody{Body: body, PreviewURL: strings.Contains(body, "http")}
		return req
	}

	media := &MediaBody{Link: mediaURL, Caption: body}
	req.Type = KindForURL(mediaURL)
	switch req.Type {
	case MessageImage:
		req.Image = media
	case MessageVideo:
		req.Video = media
	case MessageAudio:
		media.Caption = ""
		req.Audio = media
	default:
		media.Filename = urlFilename(mediaURL)
		req.Document = media
	}

	return req
}

func urlExtension(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
}

func urlFilename(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func has(set map[string]struct{}, ext string) bool {
	_, ok := set[ext]
	return ok
}
