package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/config"
	"github.com/popeskul/wa-relay/internal/mediastore"
	"github.com/popeskul/wa-relay/internal/models"
	"github.com/popeskul/wa-relay/internal/provider/whatsapp"
	"github.com/popeskul/wa-relay/internal/repository"
	"github.com/popeskul/wa-relay/internal/signedurl"
)

type messageService struct {
	cfg            *config.Config
	repo           repository.Repository
	provider       Provider
	store          *mediastore.Store
	codec          *signedurl.Codec
	hub            Broadcaster
	presenter      presenter
	validate       *validator.Validate
	logger         *zap.Logger
	circuitBreaker *CircuitBreaker
	now            func() time.Time
}

func NewMessageService(
	cfg *config.Config,
	repo repository.Repository,
	provider Provider,
	store *mediastore.Store,
	codec *signedurl.Codec,
	hub Broadcaster,
	logger *zap.Logger,
) MessageService {
	cb := NewCircuitBreaker("whatsapp-dispatch", &cfg.WhatsApp.CircuitBreaker, logger)

	return &messageService{
		cfg:            cfg,
		repo:           repo,
		provider:       provider,
		store:          store,
		codec:          codec,
		hub:            hub,
		presenter:      newPresenter(codec, cfg.Media.URLTTL()),
		validate:       validator.New(),
		logger:         logger,
		circuitBreaker: cb,
		now:            time.Now,
	}
}

// Send dispatches an outbound message and persists it whatever the provider
// answers. Only validation, configuration and storage problems fail the call.
func (s *messageService) Send(ctx context.Context, req *models.SendMessageRequest) (*models.MessageResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError("%s", describeValidation(err))
	}

	body := strings.TrimSpace(req.Body)
	mediaRef := strings.TrimSpace(req.MediaURL)
	if body == "" && mediaRef == "" {
		return nil, validationError("body or media_url is required")
	}

	var phone string
	if req.ConversationID <= 0 {
		if phone = normalizePhone(req.To); phone == "" {
			return nil, validationError("to must contain a phone number")
		}
	}

	var (
		descriptor  *models.MediaDescriptor
		providerURL string
		err         error
	)
	if mediaRef != "" {
		providerURL, descriptor, err = s.resolveMedia(mediaRef)
		if err != nil {
			return nil, err
		}
	}

	if !s.provider.DispatchConfigured() {
		s.logger.Error("Outbound send requested but whatsapp credentials are missing")
		return nil, fmt.Errorf("%w: whatsapp.access_token and whatsapp.phone_number_id are required to send", ErrConfiguration)
	}

	// a new recipient's conversation is created only once the request is
	// known to be valid
	conv, err := s.findConversation(ctx, req.ConversationID, phone)
	if err != nil {
		return nil, err
	}

	var replyTo *models.Message
	if req.ReplyToMessageID > 0 {
		var convID int64
		if conv != nil {
			convID = conv.ID
		}
		replyTo, err = s.resolveReplyTarget(ctx, convID, req.ReplyToMessageID)
		if err != nil {
			return nil, err
		}
	}

	if conv == nil {
		conv, err = s.repo.Conversation().Create(ctx, phone, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
	}

	var quotedID string
	if replyTo != nil {
		quotedID = replyTo.ProviderMessageID.String
	}
	payload := whatsapp.BuildOutboundPayload(conv.Phone, body, providerURL, quotedID)

	msg := &models.Message{
		ConversationID: conv.ID,
		Direction:      models.DirectionOutbound,
		Media:          descriptor,
		CreatedAt:      s.now(),
	}
	if body != "" {
		msg.Body = sql.NullString{String: body, Valid: true}
	}
	if replyTo != nil {
		msg.ReplyToMessageID = sql.NullInt64{Int64: replyTo.ID, Valid: true}
	}
	if raw, err := json.Marshal(payload); err == nil {
		msg.RawPayload = types.NullJSONText{JSONText: types.JSONText(raw), Valid: true}
	}

	var result *whatsapp.DispatchResult
	err = s.circuitBreaker.Execute(ctx, func() error {
		r, err := s.provider.Dispatch(ctx, payload)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	if err != nil {
		requests, failures := s.circuitBreaker.GetCounts()
		s.logger.Error("Failed to dispatch message",
			zap.Int64("conversationID", conv.ID),
			zap.Error(err),
			zap.String("circuitBreakerState", string(s.circuitBreaker.GetState())),
			zap.Uint32("totalRequests", requests),
			zap.Uint32("totalFailures", failures))
		msg.Status = models.MessageStatusFailed
		msg.Error = sql.NullString{String: err.Error(), Valid: true}
	} else {
		msg.Status = models.MessageStatusSent
		msg.ProviderMessageID = sql.NullString{String: result.ProviderMessageID, Valid: true}
		s.logger.Info("Message sent successfully",
			zap.Int64("conversationID", conv.ID),
			zap.String("providerMessageID", result.ProviderMessageID),
			zap.String("circuitBreakerState", string(s.circuitBreaker.GetState())))
	}

	if _, err := s.repo.Message().Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist outbound message: %w", err)
	}

	if err := s.repo.Conversation().UpdateLastAt(ctx, conv.ID, msg.CreatedAt); err != nil {
		s.logger.Error("Failed to update conversation last_at",
			zap.Int64("conversationID", conv.ID),
			zap.Error(err))
	} else if msg.CreatedAt.After(conv.LastAt) {
		conv.LastAt = msg.CreatedAt
	}

	event := s.presenter.event(conv, msg)
	s.hub.Publish(models.EventMessageOutgoing, event)

	return &event.Message, nil
}

// findConversation returns the addressed conversation, or nil when phone has
// none yet.
func (s *messageService) findConversation(ctx context.Context, id int64, phone string) (*models.Conversation, error) {
	if id > 0 {
		conv, err := s.repo.Conversation().GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, notFoundError("conversation %d", id)
			}
			return nil, err
		}
		return conv, nil
	}

	conv, err := s.repo.Conversation().GetByPhone(ctx, phone)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}

func (s *messageService) resolveReplyTarget(ctx context.Context, convID, id int64) (*models.Message, error) {
	quoted, err := s.repo.Message().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("reply target message %d", id)
		}
		return nil, err
	}
	if quoted.Direction != models.DirectionInbound {
		return nil, validationError("reply target must be an inbound message")
	}
	if quoted.ConversationID != convID {
		return nil, validationError("reply target belongs to another conversation")
	}
	if !quoted.ProviderMessageID.Valid {
		return nil, validationError("reply target has no provider message id")
	}
	return quoted, nil
}

// resolveMedia turns a media reference into the URL handed to the provider
// and the descriptor stored with the message. Locally stored files are
// published through a long-lived signed URL; anything else must be an
// absolute http(s) URL and is passed through.
func (s *messageService) resolveMedia(ref string) (string, *models.MediaDescriptor, error) {
	rel, local, err := s.localPath(ref)
	if err != nil {
		return "", nil, err
	}

	if !local {
		return ref, &models.MediaDescriptor{
			Origin:    models.MediaOriginUpload,
			Type:      whatsapp.MediaTypeForURL(ref),
			Status:    models.MediaStatusReady,
			SourceURL: ref,
			Filename:  path.Base(strings.SplitN(ref, "?", 2)[0]),
		}, nil
	}

	info, err := s.store.Stat(rel)
	if err != nil {
		if errors.Is(err, mediastore.ErrNotFound) {
			return "", nil, notFoundError("media file %s", rel)
		}
		return "", nil, err
	}
	if s.cfg.Media.PublicBaseURL == "" {
		return "", nil, fmt.Errorf("%w: media.public_base_url is required to send stored media", ErrConfiguration)
	}

	ext := strings.TrimPrefix(strings.ToLower(path.Ext(rel)), ".")
	descriptor := &models.MediaDescriptor{
		Origin:    models.MediaOriginUpload,
		Type:      whatsapp.MediaTypeForURL(rel),
		Status:    models.MediaStatusReady,
		MimeType:  mime.TypeByExtension(path.Ext(rel)),
		Filename:  path.Base(rel),
		Extension: ext,
		SizeBytes: info.Size(),
		URL:       rel,
		Storage:   models.MediaStorage{Original: rel},
	}

	providerURL := s.codec.SignAbsolute(s.cfg.Media.PublicBaseURL, rel, s.cfg.Media.ProviderURLTTL())
	return providerURL, descriptor, nil
}

// localPath reports the storage path ref points at, if any. Absolute URLs on
// the public base and /media/ paths are local; bare relative paths are too.
func (s *messageService) localPath(ref string) (string, bool, error) {
	candidate := ref

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		base := strings.TrimRight(s.cfg.Media.PublicBaseURL, "/")
		if base == "" || !strings.HasPrefix(ref, base+signedurl.Prefix) {
			if _, err := url.ParseRequestURI(ref); err != nil {
				return "", false, validationError("media_url is not a valid URL")
			}
			return "", false, nil
		}
		candidate = strings.TrimPrefix(ref, base)
	}

	if u, err := url.Parse(candidate); err == nil {
		candidate = u.Path
	}
	candidate = strings.TrimPrefix(candidate, signedurl.Prefix)

	rel, err := mediastore.Clean(candidate)
	if err != nil {
		return "", false, validationError("media_url does not name a stored file")
	}
	return rel, true, nil
}

// List retrieves messages of a conversation with pagination, newest first.
const (
	defaultListLimit = 20
	maxListOffset    = math.MaxInt32
)

func (s *messageService) List(ctx context.Context, conversationID int64, page, limit int) (*models.MessageListResponse, error) {
	if _, err := s.repo.Conversation().GetByID(ctx, conversationID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("conversation %d", conversationID)
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	if limit < 1 {
		limit = defaultListLimit
	}
	// keep the offset inside the range the database accepts
	page = max(1, min(page, maxListOffset/limit+1))
	offset := (page - 1) * limit

	messages, err := s.repo.Message().ListByConversation(ctx, conversationID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	totalCount, err := s.repo.Message().CountByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get total count: %w", err)
	}

	totalPages := int(totalCount) / limit
	if int(totalCount)%limit > 0 {
		totalPages++
	}

	messageResponses := make([]models.MessageResponse, 0, len(messages))
	for _, msg := range messages {
		messageResponses = append(messageResponses, s.presenter.message(msg))
	}

	return &models.MessageListResponse{
		Messages: messageResponses,
		Pagination: models.Pagination{
			CurrentPage:  page,
			TotalPages:   totalPages,
			TotalItems:   int(totalCount),
			ItemsPerPage: limit,
		},
	}, nil
}

// Delete removes a message, its downloaded binaries and tells observers.
func (s *messageService) Delete(ctx context.Context, id int64) error {
	msg, err := s.repo.Message().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundError("message %d", id)
		}
		return fmt.Errorf("failed to get message: %w", err)
	}

	if err := s.repo.Message().Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundError("message %d", id)
		}
		return fmt.Errorf("failed to delete message: %w", err)
	}

	// uploads may be referenced by other messages
	if msg.Media != nil && msg.Media.Origin == models.MediaOriginWhatsApp {
		for _, rel := range []string{msg.Media.Storage.Original, msg.Media.Storage.Thumbnail, msg.Media.Storage.Preview} {
			if rel == "" {
				continue
			}
			if err := s.store.Remove(rel); err != nil {
				s.logger.Warn("Failed to remove media file", zap.String("path", rel), zap.Error(err))
			}
		}
	}

	s.hub.Publish(models.EventMessageDeleted, models.MessageDeletedEvent{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
	})

	s.logger.Info("Message deleted", zap.Int64("messageID", id))
	return nil
}

func (s *messageService) GetCircuitBreakerStatus() (state models.CircuitBreakerState, requests uint32, failures uint32) {
	state = s.circuitBreaker.GetState()
	requests, failures = s.circuitBreaker.GetCounts()
	return
}

func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
