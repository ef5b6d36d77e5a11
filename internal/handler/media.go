package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/mediastore"
	"github.com/popeskul/wa-relay/internal/middleware"
	"github.com/popeskul/wa-relay/internal/signedurl"
)

const (
	errorCodeLinkExpired = "LINK_EXPIRED"
	errorCodeLinkInvalid = "LINK_INVALID"
)

const (
	errorMessageLinkExpired       = "Media link has expired"
	errorMessageLinkInvalid       = "Media link is not valid"
	errorMessageMediaNotFound     = "Media not found"
	errorMessageFailedToOpenMedia = "Failed to open media"
	errorMessageInvalidUpload     = "Multipart field \"file\" is required"
	errorMessageUploadTooLarge    = "Upload is too large"
	errorMessageFailedToUpload    = "Failed to store upload"
)

const (
	uploadField       = "file"
	mediaCacheControl = "private, max-age=300"
)

// ServeMedia streams a stored binary behind a signed URL. Range requests are
// handled by http.ServeContent.
func (h *Handler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	file, err := h.service.Media.Open(r)
	if err != nil {
		switch {
		case errors.Is(err, signedurl.ErrExpired):
			h.sendError(w, r, http.StatusGone, errorCodeLinkExpired, errorMessageLinkExpired)
		case errors.Is(err, signedurl.ErrInvalidSignature), errors.Is(err, signedurl.ErrMalformed):
			h.sendError(w, r, http.StatusForbidden, errorCodeLinkInvalid, errorMessageLinkInvalid)
		case errors.Is(err, mediastore.ErrNotFound):
			h.sendError(w, r, http.StatusNotFound, errorCodeNotFound, errorMessageMediaNotFound)
		default:
			h.logger.Error("Failed to open media",
				zap.String("request_id", middleware.GetRequestID(r.Context())),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, errorMessageFailedToOpenMedia)
		}
		return
	}
	defer file.Content.Close()

	if file.ContentType != "" {
		w.Header().Set("Content-Type", file.ContentType)
	}
	w.Header().Set("Cache-Control", mediaCacheControl)
	http.ServeContent(w, r, file.Name, file.ModTime, file.Content)
}

// UploadMedia stores a multipart file for later use as outbound media.
func (h *Handler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.sendError(w, r, http.StatusRequestEntityTooLarge, errorCodePayloadTooLarge, errorMessageUploadTooLarge)
			return
		}
		h.sendError(w, r, http.StatusBadRequest, errorCodeInvalidRequest, errorMessageInvalidUpload)
		return
	}
	defer file.Close()

	result, err := h.service.Media.Upload(r.Context(), header.Filename, file)
	if err != nil {
		h.sendServiceError(w, r, err, errorMessageFailedToUpload)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, result)
}
