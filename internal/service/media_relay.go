package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/media"
	"github.com/popeskul/wa-relay/internal/models"
	"github.com/popeskul/wa-relay/internal/provider/whatsapp"
	"github.com/popeskul/wa-relay/internal/repository"
	"github.com/popeskul/wa-relay/internal/signedurl"
)

const relayBuffer = 256

// MediaRelay turns pipeline status updates into message_media_updated
// broadcasts. Updates are handed over through a buffered channel so a slow
// database lookup never blocks a pipeline worker.
type MediaRelay struct {
	repo      repository.Repository
	hub       Broadcaster
	presenter presenter
	updates   chan media.StatusUpdate
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func NewMediaRelay(repo repository.Repository, hub Broadcaster, codec *signedurl.Codec, urlTTL time.Duration, logger *zap.Logger) *MediaRelay {
	return &MediaRelay{
		repo:      repo,
		hub:       hub,
		presenter: newPresenter(codec, urlTTL),
		updates:   make(chan media.StatusUpdate, relayBuffer),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// Notify is the pipeline status callback. It drops the update when the relay
// is saturated or closed.
func (r *MediaRelay) Notify(update media.StatusUpdate) {
	select {
	case <-r.done:
		return
	default:
	}

	select {
	case r.updates <- update:
	default:
		r.logger.Warn("Media relay saturated, dropping status update",
			zap.Int64("messageID", update.MessageID),
			zap.String("status", string(update.Media.Status)))
	}
}

// Run publishes updates until ctx is cancelled or Close is called.
func (r *MediaRelay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case update := <-r.updates:
			r.publish(ctx, update)
		}
	}
}

func (r *MediaRelay) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *MediaRelay) publish(ctx context.Context, update media.StatusUpdate) {
	msg, err := r.repo.Message().GetByID(ctx, update.MessageID)
	if err != nil {
		r.logger.Warn("Media update for unknown message",
			zap.Int64("messageID", update.MessageID),
			zap.Error(err))
		return
	}
	conv, err := r.repo.Conversation().GetByID(ctx, msg.ConversationID)
	if err != nil {
		r.logger.Warn("Media update for unknown conversation",
			zap.Int64("conversationID", msg.ConversationID),
			zap.Error(err))
		return
	}

	// the update is what was just persisted; the row may already be newer
	if msg.Media == nil || !msg.Media.Status.Terminal() {
		msg.Media = update.Media
	}

	r.hub.Publish(models.EventMessageMediaUpdated, r.presenter.event(conv, msg))
}

// guardedSource routes provider media calls through their own breaker so a
// flapping CDN does not trip outbound sends.
type guardedSource struct {
	provider Provider
	cb       *CircuitBreaker
}

// NewMediaSource wraps provider as a media.Source behind cb.
func NewMediaSource(provider Provider, cb *CircuitBreaker) media.Source {
	return &guardedSource{provider: provider, cb: cb}
}

func (g *guardedSource) FetchMediaMetadata(ctx context.Context, mediaID string) (*whatsapp.MediaMetadata, error) {
	return guarded(ctx, g.cb, func() (*whatsapp.MediaMetadata, error) {
		return g.provider.FetchMediaMetadata(ctx, mediaID)
	})
}

func (g *guardedSource) DownloadMedia(ctx context.Context, url string, maxBytes int64) (*whatsapp.Download, error) {
	return guarded(ctx, g.cb, func() (*whatsapp.Download, error) {
		return g.provider.DownloadMedia(ctx, url, maxBytes)
	})
}
