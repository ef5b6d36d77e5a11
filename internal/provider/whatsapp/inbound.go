package whatsapp

import (
	"encoding/json"
	"errors"
	"iter"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/popeskul/wa-relay/internal/models"
)

// EventKind tags the variant of an IncomingEvent.
type EventKind string

const (
	KindText     EventKind = "text"
	KindImage    EventKind = "image"
	KindVideo    EventKind = "video"
	KindAudio    EventKind = "audio"
	KindDocument EventKind = "document"
	KindUnknown  EventKind = "unknown"
)

// IncomingEvent is one canonical inbound message.
type IncomingEvent struct {
	Kind              EventKind
	From              string
	DisplayName       string
	Body              string
	Media             *MediaStub
	ProviderMessageID string
	ReplyToProviderID string
	// PhoneNumberID identifies the receiving business number.
	PhoneNumberID string
	Timestamp     time.Time
	Raw           json.RawMessage
}

// MediaStub is what the webhook tells us about an attachment before it is
// downloaded.
type MediaStub struct {
	Type            models.MediaType
	ProviderMediaID string
	URL             string
	MimeType        string
	Filename        string
	SHA256          string
	Voice           bool
	Animated        bool
}

// Descriptor builds the pending descriptor persisted with the message.
func (s *MediaStub) Descriptor() *models.MediaDescriptor {
	d := &models.MediaDescriptor{
		Origin:          models.MediaOriginWhatsApp,
		Type:            s.Type,
		Status:          models.MediaStatusPending,
		Provider:        ProviderName,
		ProviderMediaID: s.ProviderMediaID,
		SourceURL:       s.URL,
		MimeType:        s.MimeType,
		Filename:        s.Filename,
		Extension:       strings.TrimPrefix(strings.ToLower(path.Ext(s.Filename)), "."),
		Checksum:        s.SHA256,
	}
	if d.Extension == "" {
		d.Extension = extensionForMime(s.MimeType)
	}
	if s.Voice || s.Animated {
		d.Metadata = map[string]any{}
		if s.Voice {
			d.Metadata["voice"] = true
		}
		if s.Animated {
			d.Metadata["animated"] = true
		}
	}
	return d
}

// ErrInvalidPayload is returned for bodies that are not JSON at all.
var ErrInvalidPayload = errors.New("webhook payload is not valid JSON")

// Normalize parses a webhook body into a lazy sequence of events. The
// sequence can be ranged over more than once. Only syntactically invalid
// JSON is an error. The payload is walked member by member, so parts of an
// unexpected shape are skipped instead of failing the delivery, and a
// message is dropped only when it names no sender.
func (a *Adapter) Normalize(raw []byte) (iter.Seq[IncomingEvent], error) {
	if !json.Valid(raw) {
		return nil, ErrInvalidPayload
	}
	root := jsonObject(raw)

	return func(yield func(IncomingEvent) bool) {
		for _, entry := range jsonArray(root["entry"]) {
			for _, change := range jsonArray(jsonObject(entry)["changes"]) {
				value := jsonObject(jsonObject(change)["value"])
				phoneNumberID := jsonText(jsonObject(value["metadata"])["phone_number_id"])

				names := make(map[string]string)
				for _, c := range jsonArray(value["contacts"]) {
					contact := jsonObject(c)
					names[jsonText(contact["wa_id"])] = jsonText(jsonObject(contact["profile"])["name"])
				}

				for _, rawMsg := range jsonArray(value["messages"]) {
					msg := jsonObject(rawMsg)
					from := jsonText(msg["from"])
					if from == "" {
						continue
					}

					ev := a.toEvent(msg)
					ev.From = from
					ev.DisplayName = names[from]
					ev.PhoneNumberID = phoneNumberID
					ev.Raw = rawMsg
					if !yield(ev) {
						return
					}
				}
			}
		}
	}, nil
}

func (a *Adapter) toEvent(msg map[string]json.RawMessage) IncomingEvent {
	ev := IncomingEvent{
		Kind:              KindUnknown,
		ProviderMessageID: jsonText(msg["id"]),
		ReplyToProviderID: jsonText(jsonObject(msg["context"])["id"]),
		Timestamp:         a.parseTimestamp(jsonText(msg["timestamp"])),
	}

	if text := jsonObject(msg["text"]); text != nil {
		ev.Kind = KindText
		ev.Body = jsonText(text["body"])
		return ev
	}

	attachments := []struct {
		key   string
		kind  EventKind
		media models.MediaType
	}{
		{"image", KindImage, models.MediaTypeImage},
		{"sticker", KindImage, models.MediaTypeImage},
		{"video", KindVideo, models.MediaTypeVideo},
		{"audio", KindAudio, models.MediaTypeAudio},
		{"voice", KindAudio, models.MediaTypeAudio},
		{"document", KindDocument, models.MediaTypeDocument},
	}
	for _, att := range attachments {
		obj := jsonObject(msg[att.key])
		if obj == nil {
			continue
		}
		ev.Kind = att.kind
		ev.Media, ev.Body = stub(att.media, obj)
		if att.key == "voice" {
			ev.Media.Voice = true
		}
		return ev
	}

	if interactive := jsonObject(msg["interactive"]); interactive != nil {
		for _, key := range []string{"button_reply", "list_reply"} {
			if reply := jsonObject(interactive[key]); reply != nil {
				ev.Kind = KindText
				ev.Body = jsonText(reply["title"])
				return ev
			}
		}
		return ev
	}

	if button := jsonObject(msg["button"]); button != nil {
		ev.Kind = KindText
		ev.Body = jsonText(button["text"])
	}
	return ev
}

func stub(t models.MediaType, m map[string]json.RawMessage) (*MediaStub, string) {
	return &MediaStub{
		Type:            t,
		ProviderMediaID: jsonText(m["id"]),
		URL:             jsonText(m["link"]),
		MimeType:        jsonText(m["mime_type"]),
		Filename:        jsonText(m["filename"]),
		SHA256:          jsonText(m["sha256"]),
		Voice:           jsonBool(m["voice"]),
		Animated:        jsonBool(m["animated"]),
	}, jsonText(m["caption"])
}

// jsonObject returns the members of a JSON object, or nil for anything else.
func jsonObject(raw json.RawMessage) map[string]json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

// jsonArray returns the elements of a JSON array, or nil for anything else.
func jsonArray(raw json.RawMessage) []json.RawMessage {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil
	}
	return arr
}

// jsonText reads a string or a bare number as text. Other values read as "".
func jsonText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func jsonBool(raw json.RawMessage) bool {
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b
}

func (a *Adapter) parseTimestamp(v string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || secs <= 0 {
		return a.now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

func extensionForMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	switch mime {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "video/mp4":
		return "mp4"
	case "video/3gpp":
		return "3gp"
	case "audio/ogg":
		return "ogg"
	case "audio/mpeg":
		return "mp3"
	case "audio/aac":
		return "aac"
	case "audio/amr":
		return "amr"
	case "audio/mp4":
		return "m4a"
	case "application/pdf":
		return "pdf"
	}
	return ""
}
