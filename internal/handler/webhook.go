package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/middleware"
	"github.com/popeskul/wa-relay/internal/service"
)

const (
	errorMessageFailedToReadBody    = "Failed to read request body"
	errorMessageFailedToListEvents  = "Failed to retrieve webhook events"
	errorMessageWebhookBodyTooLarge = "Webhook payload is too large"
)

// VerifyWebhook answers the provider subscription handshake.
func (h *Handler) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	res := h.service.Webhook.VerifyChallenge(r.Context(), h.webhookRequest(r, nil))
	h.writeWebhookResult(w, r, res)
}

// ReceiveWebhook ingests a notification. The body is read raw because the
// signature covers the exact bytes.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxWebhookBytes))
	if err != nil {
		res := &service.WebhookResult{
			Status:  http.StatusBadRequest,
			Code:    errorCodeInvalidRequest,
			Body:    errorMessageFailedToReadBody,
			Summary: "unreadable body",
			Err:     err,
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			res.Status = http.StatusRequestEntityTooLarge
			res.Code = errorCodePayloadTooLarge
			res.Body = errorMessageWebhookBodyTooLarge
			res.Summary = "body too large"
		}
		// body holds what was read before the failure
		res = h.service.Webhook.Reject(r.Context(), h.webhookRequest(r, body), res)
		h.writeWebhookResult(w, r, res)
		return
	}

	res := h.service.Webhook.Ingest(r.Context(), h.webhookRequest(r, body))
	h.writeWebhookResult(w, r, res)
}

func (h *Handler) ListWebhookEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := positiveInt(query.Get("limit"))

	events, err := h.service.Webhook.ListEvents(r.Context(), limit, query.Get("instance_id"), query.Get("webhook_id"))
	if err != nil {
		h.sendServiceError(w, r, err, errorMessageFailedToListEvents)
		return
	}

	render.JSON(w, r, events)
}

func (h *Handler) webhookRequest(r *http.Request, body []byte) *service.WebhookRequest {
	return &service.WebhookRequest{
		Method:    r.Method,
		Header:    r.Header,
		Query:     r.URL.Query(),
		Body:      body,
		WebhookID: chi.URLParam(r, "webhookID"),
	}
}

// writeWebhookResult sends coded failures as JSON errors and everything
// else as plain text, which is what the provider expects.
func (h *Handler) writeWebhookResult(w http.ResponseWriter, r *http.Request, res *service.WebhookResult) {
	if res.Err != nil {
		h.logger.Warn("Webhook call rejected",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Int("status", res.Status),
			zap.Error(res.Err))
	}

	if res.Code != "" {
		h.sendError(w, r, res.Status, res.Code, res.Body)
		return
	}

	render.Status(r, res.Status)
	render.PlainText(w, r, res.Body)
}
