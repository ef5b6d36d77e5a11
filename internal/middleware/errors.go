package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/popeskul/wa-relay/internal/models"
)

const (
	ErrorCodeInternal          = "INTERNAL_ERROR"
	ErrorCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrorCodeRequestTimeout    = "REQUEST_TIMEOUT"
)

const (
	ErrorMessageInternal          = "An internal error occurred"
	ErrorMessageRateLimitExceeded = "Too many requests"
	ErrorMessageRequestTimeout    = "Request timeout"
)

// writeError renders the same error envelope the handlers use.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	now := time.Now().UTC()
	render.Status(r, status)
	render.JSON(w, r, models.ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: &now,
	})
}
