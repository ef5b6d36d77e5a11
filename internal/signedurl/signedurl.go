// Package signedurl signs and verifies time-limited paths under the private
// media route.
package signedurl

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// Prefix is the route every signed path lives under.
	Prefix = "/media/"

	ParamExpires   = "expires"
	ParamSignature = "signature"
)

var (
	ErrExpired          = errors.New("signed url expired")
	ErrInvalidSignature = errors.New("signed url signature mismatch")
	ErrMalformed        = errors.New("signed url malformed")
)

// Result is the outcome of a verification. Status is the HTTP status a
// handler should answer with when Valid is false.
type Result struct {
	Valid   bool
	Status  int
	Message string
	// Path is the relative storage path, without Prefix.
	Path string
	Err  error
}

type Codec struct {
	secret []byte
	now    func() time.Time
}

func New(secret string) *Codec {
	return &Codec{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// Sign returns Prefix+relPath with expires and signature query parameters.
func (c *Codec) Sign(relPath string, ttl time.Duration) string {
	path := Prefix + strings.TrimLeft(relPath, "/")
	expires := c.now().Add(ttl).Unix()

	q := url.Values{}
	q.Set(ParamExpires, strconv.FormatInt(expires, 10))
	q.Set(ParamSignature, c.mac(path, expires))

	return (&url.URL{Path: path}).EscapedPath() + "?" + q.Encode()
}

// SignAbsolute is Sign prefixed with an external base URL, for consumers
// outside this server such as the provider fetching outbound media.
func (c *Codec) SignAbsolute(baseURL, relPath string, ttl time.Duration) string {
	return strings.TrimRight(baseURL, "/") + c.Sign(relPath, ttl)
}

// Verify checks the request path and query.
func (c *Codec) Verify(r *http.Request) Result {
	q := r.URL.Query()
	return c.VerifyPath(r.URL.Path, q.Get(ParamExpires), q.Get(ParamSignature))
}

// VerifyPath checks an unescaped path against its expiry and signature.
// The signature is checked before the expiry so an expired result is only
// reported for URLs this server actually issued.
func (c *Codec) VerifyPath(path, expires, signature string) Result {
	if !strings.HasPrefix(path, Prefix) || len(path) == len(Prefix) {
		return failure(http.StatusForbidden, "invalid media path", ErrMalformed)
	}
	if expires == "" || signature == "" {
		return failure(http.StatusForbidden, "missing signature", ErrMalformed)
	}

	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return failure(http.StatusForbidden, "invalid expiry", ErrMalformed)
	}

	got, err := hex.DecodeString(signature)
	if err != nil {
		return failure(http.StatusForbidden, "invalid signature encoding", ErrMalformed)
	}
	want, _ := hex.DecodeString(c.mac(path, exp))
	if !hmac.Equal(got, want) {
		return failure(http.StatusForbidden, "invalid signature", ErrInvalidSignature)
	}

	if c.now().Unix() > exp {
		return failure(http.StatusGone, "link expired", ErrExpired)
	}

	return Result{
		Valid:  true,
		Status: http.StatusOK,
		Path:   strings.TrimPrefix(path, Prefix),
	}
}

func (c *Codec) mac(path string, expires int64) string {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(path))
	h.Write([]byte("\n"))
	h.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

func failure(status int, message string, err error) Result {
	return Result{Status: status, Message: message, Err: err}
}
