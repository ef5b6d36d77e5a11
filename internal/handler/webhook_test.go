package handler_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/handler"
	"github.com/popeskul/wa-relay/internal/models"
	"github.com/popeskul/wa-relay/internal/service"
	"github.com/popeskul/wa-relay/internal/service/mocks"
)

func TestHandler_VerifyWebhook(t *testing.T) {
	tests := []struct {
		name           string
		result         *service.WebhookResult
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "challenge echoed",
			result:         &service.WebhookResult{Status: http.StatusOK, Body: "1158201444"},
			expectedStatus: http.StatusOK,
			expectedBody:   "1158201444",
		},
		{
			name:           "token mismatch",
			result:         &service.WebhookResult{Status: http.StatusForbidden, Body: "forbidden", Err: &service.AuthError{Status: http.StatusForbidden, Reason: "mismatch"}},
			expectedStatus: http.StatusForbidden,
			expectedBody:   "forbidden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)

			mockWebhook := mocks.NewMockWebhookService(ctrl)
			mockWebhook.EXPECT().
				VerifyChallenge(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ any, req *service.WebhookRequest) *service.WebhookResult {
					assert.Equal(t, http.MethodGet, req.Method)
					assert.Equal(t, "subscribe", req.Query.Get("hub.mode"))
					assert.Equal(t, "hook-1", req.WebhookID)
					return tt.result
				})

			h := newHandler(&service.Service{Webhook: mockWebhook})

			req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp/hook-1?hub.mode=subscribe&hub.verify_token=t&hub.challenge=1158201444", nil)
			req = withURLParam(req, "webhookID", "hook-1")
			w := httptest.NewRecorder()

			h.VerifyWebhook(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedBody, w.Body.String())
			assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
		})
	}
}

func TestHandler_ReceiveWebhook(t *testing.T) {
	const payload = `{"entry":[]}`

	tests := []struct {
		name           string
		result         *service.WebhookResult
		expectedStatus int
		expectedBody   func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name:           "accepted",
			result:         &service.WebhookResult{Status: http.StatusOK, Body: "ok"},
			expectedStatus: http.StatusOK,
			expectedBody: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Equal(t, "ok", w.Body.String())
			},
		},
		{
			name: "invalid signature",
			result: &service.WebhookResult{
				Status: http.StatusUnauthorized,
				Code:   service.CodeInvalidSignature,
				Body:   "Invalid webhook signature",
				Err:    &service.AuthError{Status: http.StatusUnauthorized, Reason: "invalid signature"},
			},
			expectedStatus: http.StatusUnauthorized,
			expectedBody: func(t *testing.T, w *httptest.ResponseRecorder) {
				resp := decodeError(t, w.Body.Bytes())
				assert.Equal(t, service.CodeInvalidSignature, resp.Error)
				assert.Equal(t, "Invalid webhook signature", resp.Message)
			},
		},
		{
			name:           "persistence failure",
			result:         &service.WebhookResult{Status: http.StatusInternalServerError, Code: service.CodePersistence, Body: "Failed to persist event"},
			expectedStatus: http.StatusInternalServerError,
			expectedBody: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Equal(t, service.CodePersistence, decodeError(t, w.Body.Bytes()).Error)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)

			mockWebhook := mocks.NewMockWebhookService(ctrl)
			mockWebhook.EXPECT().
				Ingest(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ any, req *service.WebhookRequest) *service.WebhookResult {
					assert.Equal(t, payload, string(req.Body))
					assert.Equal(t, "sha256=abc", req.Header.Get("X-Hub-Signature-256"))
					assert.Empty(t, req.WebhookID)
					return tt.result
				})

			h := newHandler(&service.Service{Webhook: mockWebhook})

			req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(payload))
			req.Header.Set("X-Hub-Signature-256", "sha256=abc")
			w := httptest.NewRecorder()

			h.ReceiveWebhook(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			tt.expectedBody(t, w)
		})
	}
}

func TestHandler_ReceiveWebhook_BodyTooLarge(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockWebhook := mocks.NewMockWebhookService(ctrl)
	mockWebhook.EXPECT().
		Reject(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, req *service.WebhookRequest, res *service.WebhookResult) *service.WebhookResult {
			assert.Equal(t, http.MethodPost, req.Method)
			assert.LessOrEqual(t, len(req.Body), 8)
			assert.Equal(t, http.StatusRequestEntityTooLarge, res.Status)
			assert.Equal(t, "body too large", res.Summary)
			return res
		})

	h := handler.NewHandler(&service.Service{Webhook: mockWebhook}, nil, handler.Config{MaxWebhookBytes: 8}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(`{"entry":[{"id":"too long"}]}`))
	w := httptest.NewRecorder()

	h.ReceiveWebhook(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", decodeError(t, w.Body.Bytes()).Error)
}

type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestHandler_ReceiveWebhook_UnreadableBody(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockWebhook := mocks.NewMockWebhookService(ctrl)
	mockWebhook.EXPECT().
		Reject(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, _ *service.WebhookRequest, res *service.WebhookResult) *service.WebhookResult {
			assert.Equal(t, http.StatusBadRequest, res.Status)
			assert.ErrorIs(t, res.Err, io.ErrUnexpectedEOF)
			return res
		})

	h := newHandler(&service.Service{Webhook: mockWebhook})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", brokenBody{})
	w := httptest.NewRecorder()

	h.ReceiveWebhook(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeError(t, w.Body.Bytes()).Error)
}

func TestHandler_ListWebhookEvents(t *testing.T) {
	ctrl := gomock.NewController(t)

	created := time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)
	mockWebhook := mocks.NewMockWebhookService(ctrl)
	mockWebhook.EXPECT().
		ListEvents(gomock.Any(), 10, "PNID", "hook-1").
		Return([]models.WebhookEventResponse{{
			ID:              7,
			WebhookID:       ptr("hook-1"),
			InstanceID:      ptr("PNID"),
			Method:          http.MethodPost,
			Headers:         map[string]string{},
			Query:           map[string]string{},
			Body:            `{}`,
			ResponseStatus:  http.StatusOK,
			ResponseSummary: "ok - 1 processed, 0 duplicates",
			CreatedAt:       created,
		}}, nil)

	h := newHandler(&service.Service{Webhook: mockWebhook})

	req := httptest.NewRequest(http.MethodGet, "/api/webhook-events?limit=10&instance_id=PNID&webhook_id=hook-1", nil)
	w := httptest.NewRecorder()

	h.ListWebhookEvents(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var events []models.WebhookEventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, int64(7), events[0].ID)
	assert.Equal(t, "ok - 1 processed, 0 duplicates", events[0].ResponseSummary)
}

func TestHandler_ListWebhookEvents_InvalidLimitUsesDefault(t *testing.T) {
	ctrl := gomock.NewController(t)

	mockWebhook := mocks.NewMockWebhookService(ctrl)
	mockWebhook.EXPECT().
		ListEvents(gomock.Any(), 0, "", "").
		Return([]models.WebhookEventResponse{}, nil)

	h := newHandler(&service.Service{Webhook: mockWebhook})

	req := httptest.NewRequest(http.MethodGet, "/api/webhook-events?limit=abc", nil)
	w := httptest.NewRecorder()

	h.ListWebhookEvents(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}
