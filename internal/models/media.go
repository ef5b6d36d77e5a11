package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type MediaOrigin string

const (
	MediaOriginWhatsApp MediaOrigin = "whatsapp"
	MediaOriginUpload   MediaOrigin = "upload"
)

type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeDocument MediaType = "document"
	MediaTypeUnknown  MediaType = "unknown"
)

type MediaStatus string

const (
	MediaStatusPending     MediaStatus = "pending"
	MediaStatusDownloading MediaStatus = "downloading"
	MediaStatusReady       MediaStatus = "ready"
	MediaStatusFailed      MediaStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s MediaStatus) Terminal() bool {
	return s == MediaStatusReady || s == MediaStatusFailed
}

var ErrInvalidMediaTransition = errors.New("invalid media status transition")

// MediaStorage holds the relative storage paths of the stored binaries.
type MediaStorage struct {
	Original  string `json:"original,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Preview   string `json:"preview,omitempty"`
}

// MediaDescriptor describes a media attachment embedded in a Message.
// URL fields are relative storage paths; they are signed only when rendered.
type MediaDescriptor struct {
	Origin               MediaOrigin    `json:"origin"`
	Type                 MediaType      `json:"type"`
	Status               MediaStatus    `json:"status"`
	Provider             string         `json:"provider,omitempty"`
	ProviderMediaID      string         `json:"provider_media_id,omitempty"`
	SourceURL            string         `json:"source_url,omitempty"`
	MimeType             string         `json:"mime_type,omitempty"`
	Filename             string         `json:"filename,omitempty"`
	Extension            string         `json:"extension,omitempty"`
	SizeBytes            int64          `json:"size_bytes,omitempty"`
	Checksum             string         `json:"checksum,omitempty"`
	Width                int            `json:"width,omitempty"`
	Height               int            `json:"height,omitempty"`
	DurationSeconds      float64        `json:"duration_seconds,omitempty"`
	PageCount            int            `json:"page_count,omitempty"`
	URL                  string         `json:"url,omitempty"`
	ThumbnailURL         string         `json:"thumbnail_url,omitempty"`
	PreviewURL           string         `json:"preview_url,omitempty"`
	PlaceholderURL       string         `json:"placeholder_url,omitempty"`
	Storage              MediaStorage   `json:"storage"`
	DownloadAttempts     int            `json:"download_attempts"`
	DownloadError        string         `json:"download_error,omitempty"`
	DownloadedAt         *time.Time     `json:"downloaded_at,omitempty"`
	ThumbnailGeneratedAt *time.Time     `json:"thumbnail_generated_at,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// Transition moves the descriptor to the given status. Only forward moves are
// accepted: pending -> downloading -> {ready, failed}. Staying in downloading
// is allowed so that retry attempts can be recorded.
func (d *MediaDescriptor) Transition(to MediaStatus) error {
	from := d.Status
	ok := false
	switch from {
	case MediaStatusPending:
		ok = to == MediaStatusDownloading
	case MediaStatusDownloading:
		ok = to == MediaStatusDownloading || to == MediaStatusReady || to == MediaStatusFailed
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidMediaTransition, from, to)
	}
	d.Status = to
	return nil
}

// RecordFailure increments the attempt counter and keeps the last reason.
func (d *MediaDescriptor) RecordFailure(reason string) {
	d.DownloadAttempts++
	d.DownloadError = reason
}

// Clone returns a deep enough copy to hand to another goroutine.
func (d *MediaDescriptor) Clone() *MediaDescriptor {
	if d == nil {
		return nil
	}
	c := *d
	if d.Metadata != nil {
		c.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Value implements driver.Valuer so the descriptor is stored as JSONB.
func (d MediaDescriptor) Value() (driver.Value, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal media descriptor: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner.
func (d *MediaDescriptor) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported media descriptor source %T", src)
	}
	return json.Unmarshal(data, d)
}
