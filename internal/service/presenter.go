package service

import (
	"time"

	"github.com/popeskul/wa-relay/internal/models"
	"github.com/popeskul/wa-relay/internal/signedurl"
)

// presenter renders stored rows for clients. Relative storage paths become
// signed URLs at render time and are never persisted signed.
type presenter struct {
	codec *signedurl.Codec
	ttl   time.Duration
}

func newPresenter(codec *signedurl.Codec, ttl time.Duration) presenter {
	return presenter{codec: codec, ttl: ttl}
}

func (p presenter) conversation(c *models.Conversation) models.ConversationResponse {
	resp := models.ConversationResponse{
		ID:       c.ID,
		Phone:    c.Phone,
		LastAt:   c.LastAt,
		Archived: c.Archived,
	}
	if c.DisplayName.Valid {
		resp.DisplayName = &c.DisplayName.String
	}
	return resp
}

func (p presenter) message(m *models.Message) models.MessageResponse {
	resp := models.MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Direction:      m.Direction,
		Status:         m.Status,
		Media:          p.media(m.Media),
		CreatedAt:      m.CreatedAt,
	}
	if m.Body.Valid {
		resp.Body = &m.Body.String
	}
	if m.ProviderMessageID.Valid {
		resp.ProviderMessageID = &m.ProviderMessageID.String
	}
	if m.ReplyToMessageID.Valid {
		resp.ReplyToMessageID = &m.ReplyToMessageID.Int64
	}
	if m.Error.Valid {
		resp.Error = &m.Error.String
	}
	return resp
}

func (p presenter) event(c *models.Conversation, m *models.Message) models.MessageEvent {
	return models.MessageEvent{
		Conversation: p.conversation(c),
		Message:      p.message(m),
	}
}

func (p presenter) media(d *models.MediaDescriptor) *models.MediaResponse {
	if d == nil {
		return nil
	}

	resp := &models.MediaResponse{
		Origin:           d.Origin,
		Type:             d.Type,
		Status:           d.Status,
		MimeType:         d.MimeType,
		Filename:         d.Filename,
		SizeBytes:        d.SizeBytes,
		Width:            d.Width,
		Height:           d.Height,
		DurationSeconds:  d.DurationSeconds,
		DownloadAttempts: d.DownloadAttempts,
	}
	if d.DownloadError != "" {
		resp.DownloadError = &d.DownloadError
	}

	if d.Status == models.MediaStatusReady {
		resp.URL = p.sign(d.URL)
		resp.ThumbnailURL = p.sign(d.ThumbnailURL)
		resp.PreviewURL = p.sign(d.PreviewURL)
		// externally hosted attachments are passed through unsigned
		if resp.URL == nil && d.Origin == models.MediaOriginUpload && d.SourceURL != "" {
			src := d.SourceURL
			resp.URL = &src
		}
	}
	resp.PlaceholderURL = p.sign(d.PlaceholderURL)

	return resp
}

func (p presenter) sign(rel string) *string {
	if rel == "" {
		return nil
	}
	signed := p.codec.Sign(rel, p.ttl)
	return &signed
}

func (p presenter) webhookEvent(e *models.WebhookEvent) models.WebhookEventResponse {
	resp := models.WebhookEventResponse{
		ID:              e.ID,
		Method:          e.Method,
		Headers:         map[string]string{},
		Query:           map[string]string{},
		Body:            e.Body,
		ResponseStatus:  e.ResponseStatus,
		ResponseSummary: e.ResponseSummary,
		CreatedAt:       e.CreatedAt,
	}
	if e.WebhookID.Valid {
		resp.WebhookID = &e.WebhookID.String
	}
	if e.InstanceID.Valid {
		resp.InstanceID = &e.InstanceID.String
	}
	if len(e.Headers) > 0 {
		_ = e.Headers.Unmarshal(&resp.Headers)
	}
	if len(e.Query) > 0 {
		_ = e.Query.Unmarshal(&resp.Query)
	}
	return resp
}
