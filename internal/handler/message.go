package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/popeskul/wa-relay/internal/models"
)

const (
	errorMessageFailedToSendMessage      = "Failed to send message"
	errorMessageFailedToRetrieveMessages = "Failed to retrieve messages"
	errorMessageFailedToDeleteMessage    = "Failed to delete message"
)

// SendMessage dispatches an outbound message. A provider failure is not an
// error here: the stored message comes back with status failed.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.sendError(w, r, http.StatusBadRequest, errorCodeInvalidRequest, errorMessageInvalidJSON)
		return
	}

	msg, err := h.service.Message.Send(r.Context(), &req)
	if err != nil {
		h.sendServiceError(w, r, err, errorMessageFailedToSendMessage)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, msg)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(r, "id")
	if !ok {
		h.sendError(w, r, http.StatusBadRequest, errorCodeInvalidRequest, errorMessageInvalidID)
		return
	}

	page := defaultPage
	limit := defaultLimit

	if p, ok := positiveInt(r.URL.Query().Get("page")); ok {
		page = min(p, maxPage)
	}

	if l, ok := positiveInt(r.URL.Query().Get("limit")); ok && l <= maxLimit {
		limit = l
	}

	result, err := h.service.Message.List(r.Context(), conversationID, page, limit)
	if err != nil {
		h.sendServiceError(w, r, err, errorMessageFailedToRetrieveMessages)
		return
	}

	render.JSON(w, r, result)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		h.sendError(w, r, http.StatusBadRequest, errorCodeInvalidRequest, errorMessageInvalidID)
		return
	}

	if err := h.service.Message.Delete(r.Context(), id); err != nil {
		h.sendServiceError(w, r, err, errorMessageFailedToDeleteMessage)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func positiveInt(v string) (int, bool) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
