package whatsapp_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/config"
	"github.com/popeskul/wa-relay/internal/provider/whatsapp"
)

func newAdapter(cfg config.WhatsAppConfig) *whatsapp.Adapter {
	return whatsapp.New(cfg, zap.NewNop())
}

func TestAdapter_VerifyChallenge(t *testing.T) {
	adapter := newAdapter(config.WhatsAppConfig{VerifyToken: "secret-token"})

	tests := []struct {
		name     string
		query    url.Values
		expected bool
	}{
		{
			name:     "matching token",
			query:    url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"secret-token"}, "hub.challenge": {"123"}},
			expected: true,
		},
		{
			name:     "wrong token",
			query:    url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"nope"}, "hub.challenge": {"123"}},
			expected: false,
		},
		{
			name:     "wrong mode",
			query:    url.Values{"hub.mode": {"unsubscribe"}, "hub.verify_token": {"secret-token"}},
			expected: false,
		},
		{
			name:     "empty query",
			query:    url.Values{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, adapter.VerifyChallenge(tt.query))
		})
	}

	unconfigured := newAdapter(config.WhatsAppConfig{})
	assert.False(t, unconfigured.ChallengeConfigured())
	assert.False(t, unconfigured.VerifyChallenge(url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {""}}))
}

func TestAdapter_IsChallenge(t *testing.T) {
	adapter := newAdapter(config.WhatsAppConfig{})

	assert.True(t, adapter.IsChallenge(url.Values{"hub.mode": {"subscribe"}, "hub.challenge": {"1"}}))
	assert.False(t, adapter.IsChallenge(url.Values{"hub.mode": {"subscribe"}}))
	assert.False(t, adapter.IsChallenge(url.Values{"hub.challenge": {"1"}}))
	assert.False(t, adapter.IsChallenge(url.Values{}))
}

func TestAdapter_VerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)
	adapter := newAdapter(config.WhatsAppConfig{AppSecret: "app-secret"})

	header := func(v string) http.Header {
		h := http.Header{}
		if v != "" {
			h.Set(whatsapp.SignatureHeader, v)
		}
		return h
	}

	tests := []struct {
		name     string
		header   http.Header
		body     []byte
		expected bool
	}{
		{name: "valid", header: header(whatsapp.Sign("app-secret", body)), body: body, expected: true},
		{name: "missing header", header: header(""), body: body, expected: false},
		{name: "wrong secret", header: header(whatsapp.Sign("other", body)), body: body, expected: false},
		{name: "body changed", header: header(whatsapp.Sign("app-secret", body)), body: append([]byte(" "), body...), expected: false},
		{name: "not hex", header: header("sha256=xyz"), body: body, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, adapter.VerifySignature(tt.header, tt.body))
		})
	}
}

func TestAdapter_VerifySignature_NoSecret(t *testing.T) {
	adapter := newAdapter(config.WhatsAppConfig{})
	assert.False(t, adapter.SignatureConfigured())

	h := http.Header{}
	assert.True(t, adapter.VerifySignature(h, []byte("{}")))

	h.Set(whatsapp.SignatureHeader, "sha256=deadbeef")
	assert.True(t, adapter.VerifySignature(h, []byte("{}")))
}
