// Package whatsapp is the translation boundary to the WhatsApp Business
// Cloud API: webhook verification, payload normalization, outbound payload
// construction and the Graph API calls used for dispatch and media.
package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/config"
)

const (
	ProviderName = "whatsapp"

	SignatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="

	QueryMode        = "hub.mode"
	QueryVerifyToken = "hub.verify_token"
	QueryChallenge   = "hub.challenge"
	modeSubscribe    = "subscribe"
)

// ErrNotConfigured is returned by Graph API calls when the access token or
// phone number id is missing.
var ErrNotConfigured = errors.New("whatsapp credentials not configured")

// ProviderError is a non-success response from the Graph API.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("whatsapp api returned status %d: %s", e.StatusCode, e.Body)
}

type Adapter struct {
	cfg        config.WhatsAppConfig
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

func New(cfg config.WhatsAppConfig, logger *zap.Logger) *Adapter {
	if cfg.GraphBaseURL == "" {
		cfg.GraphBaseURL = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v20.0"
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if cfg.AppSecret == "" {
		logger.Warn("WhatsApp app secret is not configured, webhook signatures will not be verified")
	}

	return &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// WithHTTPClient replaces the client used for Graph API calls.
func (a *Adapter) WithHTTPClient(c *http.Client) *Adapter {
	a.httpClient = c
	return a
}

// WithClock replaces the time source used for missing event timestamps.
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.now = now
	return a
}

// IsChallenge reports whether a GET is a subscription handshake rather than
// a bare liveness check.
func (a *Adapter) IsChallenge(query url.Values) bool {
	return query.Get(QueryMode) == modeSubscribe && query.Get(QueryChallenge) != ""
}

// ChallengeConfigured reports whether a verify token is set.
func (a *Adapter) ChallengeConfigured() bool {
	return a.cfg.VerifyToken != ""
}

// VerifyChallenge is true iff mode is subscribe and the supplied token equals
// the configured verify token.
func (a *Adapter) VerifyChallenge(query url.Values) bool {
	if query.Get(QueryMode) != modeSubscribe || a.cfg.VerifyToken == "" {
		return false
	}
	token := query.Get(QueryVerifyToken)
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.VerifyToken)) == 1
}

// SignatureConfigured reports whether inbound signatures are enforced.
func (a *Adapter) SignatureConfigured() bool {
	return a.cfg.AppSecret != ""
}

// VerifySignature checks X-Hub-Signature-256 against an HMAC-SHA256 of the
// raw request body. Without an app secret every request passes.
func (a *Adapter) VerifySignature(header http.Header, rawBody []byte) bool {
	supplied := header.Get(SignatureHeader)

	if a.cfg.AppSecret == "" {
		a.logger.Debug("Skipping webhook signature check, app secret not configured",
			zap.Bool("signaturePresent", supplied != ""))
		return true
	}
	if supplied == "" {
		return false
	}

	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(supplied), signaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.AppSecret))
	mac.Write(rawBody)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign computes the header value a correctly signed request carries.
func Sign(secret string, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
