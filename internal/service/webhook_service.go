package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/config"
	"github.com/popeskul/wa-relay/internal/media"
	"github.com/popeskul/wa-relay/internal/models"
	"github.com/popeskul/wa-relay/internal/provider/whatsapp"
	"github.com/popeskul/wa-relay/internal/repository"
	"github.com/popeskul/wa-relay/internal/signedurl"
)

const (
	endpointBody      = "WhatsApp webhook endpoint"
	okBody            = "ok"
	okNoEventsBody    = "ok - no events"
	seenKeyPrefix     = "wa:seen:"
	seenTTL           = 24 * time.Hour
	maxAuditedBody    = 64 * 1024
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// Error codes of failed webhook deliveries.
const (
	CodeInvalidSignature = "invalid_signature"
	CodeInvalidPayload   = "invalid_payload"
	CodePersistence      = "persistence_error"
)

type webhookService struct {
	cfg       *config.Config
	repo      repository.Repository
	provider  Provider
	queue     MediaQueue
	hub       Broadcaster
	seen      *redis.Client
	presenter presenter
	logger    *zap.Logger
}

// NewWebhookService builds the ingestion orchestrator. redisClient may be nil,
// in which case deduplication relies on the database alone.
func NewWebhookService(
	cfg *config.Config,
	repo repository.Repository,
	provider Provider,
	queue MediaQueue,
	hub Broadcaster,
	redisClient *redis.Client,
	codec *signedurl.Codec,
	logger *zap.Logger,
) WebhookService {
	return &webhookService{
		cfg:       cfg,
		repo:      repo,
		provider:  provider,
		queue:     queue,
		hub:       hub,
		seen:      redisClient,
		presenter: newPresenter(codec, cfg.Media.URLTTL()),
		logger:    logger,
	}
}

func (s *webhookService) VerifyChallenge(ctx context.Context, req *WebhookRequest) *WebhookResult {
	res := s.challenge(req)
	s.audit(ctx, req, res)
	return res
}

func (s *webhookService) challenge(req *WebhookRequest) *WebhookResult {
	if !s.provider.IsChallenge(req.Query) {
		return &WebhookResult{Status: http.StatusOK, Body: endpointBody, Summary: "liveness check"}
	}

	if !s.provider.ChallengeConfigured() {
		s.logger.Error("Webhook verification requested but no verify token is configured")
		return &WebhookResult{
			Status:  http.StatusInternalServerError,
			Body:    "verify token not configured",
			Summary: "verify token not configured",
			Err:     fmt.Errorf("%w: whatsapp.verify_token is empty", ErrConfiguration),
		}
	}

	if !s.provider.VerifyChallenge(req.Query) {
		s.logger.Warn("Webhook verification failed, token mismatch")
		return &WebhookResult{
			Status:  http.StatusForbidden,
			Body:    "forbidden",
			Summary: "verify token mismatch",
			Err:     &AuthError{Status: http.StatusForbidden, Reason: "verify token mismatch"},
		}
	}

	s.logger.Info("Webhook subscription verified")
	return &WebhookResult{
		Status:  http.StatusOK,
		Body:    req.Query.Get(whatsapp.QueryChallenge),
		Summary: "challenge accepted",
	}
}

func (s *webhookService) Ingest(ctx context.Context, req *WebhookRequest) *WebhookResult {
	res := s.ingest(ctx, req)
	s.audit(ctx, req, res)
	return res
}

// Reject audits a delivery that was refused before it reached ingestion,
// such as a body over the size limit, and hands back res unchanged.
func (s *webhookService) Reject(ctx context.Context, req *WebhookRequest, res *WebhookResult) *WebhookResult {
	s.audit(ctx, req, res)
	return res
}

func (s *webhookService) ingest(ctx context.Context, req *WebhookRequest) *WebhookResult {
	if !s.provider.VerifySignature(req.Header, req.Body) {
		s.logger.Warn("Rejected webhook with invalid signature",
			zap.Bool("signaturePresent", req.Header.Get(whatsapp.SignatureHeader) != ""))
		return &WebhookResult{
			Status:  http.StatusUnauthorized,
			Code:    CodeInvalidSignature,
			Body:    "Invalid webhook signature",
			Summary: "invalid signature",
			Err:     &AuthError{Status: http.StatusUnauthorized, Reason: "invalid signature"},
		}
	}

	events, err := s.provider.Normalize(req.Body)
	if err != nil {
		s.logger.Warn("Rejected webhook with malformed payload", zap.Error(err))
		return &WebhookResult{
			Status:  http.StatusBadRequest,
			Code:    CodeInvalidPayload,
			Body:    "Invalid JSON payload",
			Summary: "invalid payload",
			Err:     fmt.Errorf("%w: %v", ErrValidation, err),
		}
	}

	var processed, duplicates int
	var instanceID string
	for ev := range events {
		if instanceID == "" {
			instanceID = ev.PhoneNumberID
		}
		if err := s.apply(ctx, ev); err != nil {
			if errors.Is(err, ErrDuplicateEvent) {
				duplicates++
				continue
			}
			s.logger.Error("Failed to persist webhook event",
				zap.String("providerMessageID", ev.ProviderMessageID),
				zap.Error(err))
			return &WebhookResult{
				Status:     http.StatusInternalServerError,
				Code:       CodePersistence,
				Body:       "Failed to persist event",
				Summary:    fmt.Sprintf("persistence error after %d events", processed),
				InstanceID: instanceID,
				Err:        err,
			}
		}
		processed++
	}

	if processed+duplicates == 0 {
		return &WebhookResult{Status: http.StatusOK, Body: okNoEventsBody, Summary: okNoEventsBody, InstanceID: instanceID}
	}

	s.logger.Info("Webhook processed",
		zap.Int("processed", processed),
		zap.Int("duplicates", duplicates))

	return &WebhookResult{
		Status:     http.StatusOK,
		Body:       okBody,
		Summary:    fmt.Sprintf("ok - %d processed, %d duplicates", processed, duplicates),
		InstanceID: instanceID,
	}
}

// apply persists one normalized event. It returns ErrDuplicateEvent when the
// provider message id was already stored.
func (s *webhookService) apply(ctx context.Context, ev whatsapp.IncomingEvent) error {
	if ev.ProviderMessageID != "" {
		dup, err := s.isDuplicate(ctx, ev.ProviderMessageID)
		if err != nil {
			return err
		}
		if dup {
			s.logger.Info("Skipping duplicate webhook event", zap.String("providerMessageID", ev.ProviderMessageID))
			return ErrDuplicateEvent
		}
	}

	conv, err := s.conversationFor(ctx, ev.From, ev.DisplayName)
	if err != nil {
		return err
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		Direction:      models.DirectionInbound,
		Status:         models.MessageStatusReceived,
		CreatedAt:      ev.Timestamp,
	}
	if ev.Body != "" {
		msg.Body = sql.NullString{String: ev.Body, Valid: true}
	}
	if ev.ProviderMessageID != "" {
		msg.ProviderMessageID = sql.NullString{String: ev.ProviderMessageID, Valid: true}
	}
	if len(ev.Raw) > 0 {
		msg.RawPayload = types.NullJSONText{JSONText: types.JSONText(ev.Raw), Valid: true}
	}
	if ev.Media != nil {
		msg.Media = ev.Media.Descriptor()
	}
	if ev.ReplyToProviderID != "" {
		s.resolveReply(ctx, msg, ev.ReplyToProviderID)
	}

	inserted, err := s.repo.Message().Create(ctx, msg)
	if err != nil {
		return err
	}
	if !inserted {
		s.logger.Info("Concurrent delivery already stored the event", zap.String("providerMessageID", ev.ProviderMessageID))
		return ErrDuplicateEvent
	}

	if err := s.repo.Conversation().UpdateLastAt(ctx, conv.ID, msg.CreatedAt); err != nil {
		s.logger.Error("Failed to update conversation last_at",
			zap.Int64("conversationID", conv.ID),
			zap.Error(err))
	} else if msg.CreatedAt.After(conv.LastAt) {
		conv.LastAt = msg.CreatedAt
	}

	s.markSeen(ctx, ev.ProviderMessageID)

	s.hub.Publish(models.EventMessageIncoming, s.presenter.event(conv, msg))

	if msg.HasPendingMedia() {
		job := media.Job{MessageID: msg.ID, Media: msg.Media.Clone(), ReceivedAt: msg.CreatedAt}
		if err := s.queue.Enqueue(job); err != nil {
			// the sweeper picks it up later
			s.logger.Warn("Failed to enqueue media acquisition",
				zap.Int64("messageID", msg.ID),
				zap.Error(err))
		}
	}

	return nil
}

func (s *webhookService) isDuplicate(ctx context.Context, providerMessageID string) (bool, error) {
	if s.seen != nil {
		n, err := s.seen.Exists(ctx, seenKeyPrefix+providerMessageID).Result()
		if err != nil {
			s.logger.Warn("Dedup cache lookup failed", zap.Error(err))
		} else if n > 0 {
			return true, nil
		}
	}

	_, err := s.repo.Message().GetByProviderMessageID(ctx, providerMessageID)
	if err == nil {
		s.markSeen(ctx, providerMessageID)
		return true, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check for duplicate: %w", err)
}

func (s *webhookService) markSeen(ctx context.Context, providerMessageID string) {
	if s.seen == nil || providerMessageID == "" {
		return
	}
	if err := s.seen.Set(ctx, seenKeyPrefix+providerMessageID, 1, seenTTL).Err(); err != nil {
		s.logger.Warn("Failed to cache provider message id",
			zap.String("providerMessageID", providerMessageID),
			zap.Error(err))
	}
}

func (s *webhookService) conversationFor(ctx context.Context, phone, displayName string) (*models.Conversation, error) {
	conv, err := s.repo.Conversation().GetByPhone(ctx, phone)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	var name *string
	if displayName != "" {
		name = &displayName
	}
	conv, err = s.repo.Conversation().Create(ctx, phone, name, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Conversation created", zap.Int64("conversationID", conv.ID), zap.String("phone", phone))
	return conv, nil
}

// resolveReply links msg to the quoted message when it is stored in the same
// conversation. Unknown quotes are left unlinked.
func (s *webhookService) resolveReply(ctx context.Context, msg *models.Message, providerID string) {
	quoted, err := s.repo.Message().GetByProviderMessageID(ctx, providerID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Failed to resolve quoted message", zap.String("providerMessageID", providerID), zap.Error(err))
		}
		return
	}
	if quoted.ConversationID != msg.ConversationID {
		return
	}
	msg.ReplyToMessageID = sql.NullInt64{Int64: quoted.ID, Valid: true}
}

// audit appends one record per webhook call. Failing to audit never changes
// the response.
func (s *webhookService) audit(ctx context.Context, req *WebhookRequest, res *WebhookResult) {
	body := req.Body
	if len(body) > maxAuditedBody {
		body = body[:maxAuditedBody]
	}

	event := &models.WebhookEvent{
		Method:          req.Method,
		Headers:         flatten(req.Header),
		Query:           flatten(req.Query),
		Body:            strings.ToValidUTF8(string(body), ""),
		ResponseStatus:  res.Status,
		ResponseSummary: res.Summary,
	}
	if req.WebhookID != "" {
		event.WebhookID = sql.NullString{String: req.WebhookID, Valid: true}
	}
	if res.InstanceID != "" {
		event.InstanceID = sql.NullString{String: res.InstanceID, Valid: true}
	}

	if err := s.repo.WebhookEvent().Append(ctx, event); err != nil {
		s.logger.Error("Failed to append webhook audit record", zap.Error(err))
	}
}

func (s *webhookService) ListEvents(ctx context.Context, limit int, instanceID, webhookID string) ([]models.WebhookEventResponse, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	events, err := s.repo.WebhookEvent().ListRecent(ctx, limit, instanceID, webhookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}

	out := make([]models.WebhookEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, s.presenter.webhookEvent(e))
	}
	return out, nil
}

func flatten(values map[string][]string) types.JSONText {
	flat := make(map[string]string, len(values))
	for k, v := range values {
		flat[k] = strings.Join(v, ", ")
	}
	data, err := json.Marshal(flat)
	if err != nil {
		return types.JSONText("{}")
	}
	return types.JSONText(data)
}
