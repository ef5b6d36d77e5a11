package service

import (
	"io"
	"net/http"
	"net/url"
	"time"
)

// WebhookRequest is an inbound webhook call as received by the handler.
type WebhookRequest struct {
	Method    string
	Header    http.Header
	Query     url.Values
	Body      []byte
	WebhookID string
}

// WebhookResult is what the handler answers with. Code is set for failed
// POSTs and becomes the error field of the JSON body.
type WebhookResult struct {
	Status  int
	Body    string
	Code    string
	Summary string
	// InstanceID is the receiving business number, when the payload named one.
	InstanceID string
	Err        error
}

// MediaFile is a verified, opened media binary. The caller closes Content.
type MediaFile struct {
	Content     io.ReadSeekCloser
	Name        string
	ContentType string
	Size        int64
	ModTime     time.Time
}
