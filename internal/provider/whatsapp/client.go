package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const maxErrorBody = 4096

// ErrTooLarge is returned while reading a download that exceeds its limit.
var ErrTooLarge = errors.New("media exceeds size limit")

type DispatchResult struct {
	ProviderMessageID string
	Status            string
}

// MediaMetadata is the Graph API view of an uploaded media object. URL is
// short-lived and must be fetched with the access token.
type MediaMetadata struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

// Download is a streaming media body. The caller closes Body.
type Download struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

type sendResponse struct {
	Messages []struct {
		ID            string `json:"id"`
		MessageStatus string `json:"message_status"`
	} `json:"messages"`
}

// DispatchConfigured reports whether outbound credentials are present.
func (a *Adapter) DispatchConfigured() bool {
	return a.cfg.AccessToken != "" && a.cfg.PhoneNumberID != ""
}

// Dispatch posts a message to /{version}/{phone-number-id}/messages.
func (a *Adapter) Dispatch(ctx context.Context, req SendRequest) (*DispatchResult, error) {
	if !a.DispatchConfigured() {
		return nil, ErrNotConfigured
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(a.cfg.PhoneNumberID, "messages"), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer a.closeBody(resp)

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return nil, fmt.Errorf("whatsapp api response carries no message id")
	}

	result := &DispatchResult{
		ProviderMessageID: out.Messages[0].ID,
		Status:            out.Messages[0].MessageStatus,
	}
	if result.Status == "" {
		result.Status = "accepted"
	}
	return result, nil
}

// FetchMediaMetadata resolves a media id into its download URL.
func (a *Adapter) FetchMediaMetadata(ctx context.Context, mediaID string) (*MediaMetadata, error) {
	if a.cfg.AccessToken == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint(mediaID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media metadata: %w", err)
	}
	defer a.closeBody(resp)

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var meta MediaMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode media metadata: %w", err)
	}
	if meta.URL == "" {
		return nil, fmt.Errorf("media metadata for %s has no url", mediaID)
	}
	return &meta, nil
}

// DownloadMedia opens the binary at url. Reading more than maxBytes from the
// returned body fails with ErrTooLarge.
func (a *Adapter) DownloadMedia(ctx context.Context, url string, maxBytes int64) (*Download, error) {
	if a.cfg.AccessToken == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}

	if err := checkStatus(resp); err != nil {
		a.closeBody(resp)
		return nil, err
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		a.closeBody(resp)
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	body := resp.Body
	if maxBytes > 0 {
		body = &limitedBody{ReadCloser: resp.Body, remaining: maxBytes}
	}

	return &Download{
		Body:          body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}, nil
}

func (a *Adapter) endpoint(parts ...string) string {
	return strings.TrimRight(a.cfg.GraphBaseURL, "/") + "/" + a.cfg.APIVersion + "/" + strings.Join(parts, "/")
}

func (a *Adapter) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		a.logger.Warn("Failed to close response body", zap.Error(err))
	}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &ProviderError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

type limitedBody struct {
	io.ReadCloser
	remaining int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrTooLarge
	}
	// read one byte past the limit to detect oversized bodies
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.ReadCloser.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
