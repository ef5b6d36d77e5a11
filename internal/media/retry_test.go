package media

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/popeskul/wa-relay/internal/mediastore"
	"github.com/popeskul/wa-relay/internal/provider/whatsapp"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "network error", err: errors.New("dial tcp: timeout"), expected: true},
		{name: "server error", err: &whatsapp.ProviderError{StatusCode: http.StatusServiceUnavailable}, expected: true},
		{name: "rate limited", err: &whatsapp.ProviderError{StatusCode: http.StatusTooManyRequests}, expected: true},
		{name: "not found", err: &whatsapp.ProviderError{StatusCode: http.StatusNotFound}, expected: false},
		{name: "unauthorized", err: fmt.Errorf("fetch: %w", &whatsapp.ProviderError{StatusCode: http.StatusUnauthorized}), expected: false},
		{name: "not configured", err: whatsapp.ErrNotConfigured, expected: false},
		{name: "too large", err: fmt.Errorf("failed to write media: %w", whatsapp.ErrTooLarge), expected: false},
		{name: "no source", err: ErrNoSource, expected: false},
		{name: "traversal", err: mediastore.ErrPathTraversal, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, retryable(tt.err))
		})
	}
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, "jpg", extensionFor("image/jpeg"))
	assert.Equal(t, "ogg", extensionFor("audio/ogg; codecs=opus"))
	assert.Equal(t, "png", extensionFor("image/png"))
	assert.Equal(t, "", extensionFor(""))
	assert.Equal(t, "", extensionFor("application/x-made-up"))
}
