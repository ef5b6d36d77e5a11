package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/config"
	"github.com/popeskul/wa-relay/internal/media"
	"github.com/popeskul/wa-relay/internal/mediastore"
	"github.com/popeskul/wa-relay/internal/models"
	"github.com/popeskul/wa-relay/internal/provider/whatsapp"
	"github.com/popeskul/wa-relay/internal/repository"
	"github.com/popeskul/wa-relay/internal/signedurl"
)

type mediaService struct {
	cfg    *config.Config
	repo   repository.Repository
	store  *mediastore.Store
	codec  *signedurl.Codec
	queue  MediaQueue
	logger *zap.Logger
	now    func() time.Time
}

func NewMediaService(
	cfg *config.Config,
	repo repository.Repository,
	store *mediastore.Store,
	codec *signedurl.Codec,
	queue MediaQueue,
	logger *zap.Logger,
) MediaService {
	return &mediaService{
		cfg:    cfg,
		repo:   repo,
		store:  store,
		codec:  codec,
		queue:  queue,
		logger: logger,
		now:    time.Now,
	}
}

// Open verifies the signed request before touching storage. Errors wrap
// signedurl.ErrExpired, signedurl.ErrInvalidSignature, signedurl.ErrMalformed
// or mediastore.ErrNotFound.
func (s *mediaService) Open(r *http.Request) (*MediaFile, error) {
	res := s.codec.Verify(r)
	if !res.Valid {
		s.logger.Info("Rejected media request",
			zap.String("path", r.URL.Path),
			zap.Int("status", res.Status),
			zap.String("reason", res.Message))
		return nil, res.Err
	}

	info, err := s.store.Stat(res.Path)
	if err != nil {
		if errors.Is(err, mediastore.ErrPathTraversal) {
			return nil, mediastore.ErrNotFound
		}
		return nil, err
	}

	f, err := s.store.Open(res.Path)
	if err != nil {
		return nil, err
	}

	return &MediaFile{
		Content:     f,
		Name:        path.Base(res.Path),
		ContentType: mime.TypeByExtension(path.Ext(res.Path)),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
	}, nil
}

// Upload stores an operator-provided file and returns a signed URL for it.
func (s *mediaService) Upload(_ context.Context, filename string, r io.Reader) (*models.UploadResponse, error) {
	rel := s.store.UploadPath(filename, s.now())

	n, err := s.store.Write(rel, r)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if n == 0 {
		_ = s.store.Remove(rel)
		return nil, validationError("uploaded file is empty")
	}

	mimeType := mime.TypeByExtension(path.Ext(rel))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	s.logger.Info("Upload stored", zap.String("path", rel), zap.Int64("bytes", n))

	return &models.UploadResponse{
		Path:      rel,
		URL:       s.codec.Sign(rel, s.cfg.Media.URLTTL()),
		Type:      whatsapp.MediaTypeForURL(rel),
		MimeType:  mimeType,
		SizeBytes: n,
	}, nil
}

// RequeueStale hands media stuck in pending or downloading back to the
// pipeline. It stops early when the queue is full.
func (s *mediaService) RequeueStale(ctx context.Context) (int, error) {
	stale := time.Duration(s.cfg.Scheduler.StaleMinutes) * time.Minute
	batch := s.cfg.Scheduler.BatchSize
	if batch <= 0 {
		batch = 50
	}

	messages, err := s.repo.Message().ListStaleMedia(ctx, s.now().Add(-stale), batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale media: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	queued := 0
	for _, msg := range messages {
		err := s.queue.Enqueue(media.Job{MessageID: msg.ID, Media: msg.Media, ReceivedAt: msg.CreatedAt})
		switch {
		case err == nil:
			queued++
		case errors.Is(err, media.ErrInFlight), errors.Is(err, media.ErrNotPending):
			// already owned by a worker or finished meanwhile
		case errors.Is(err, media.ErrQueueFull), errors.Is(err, media.ErrStopped):
			s.logger.Warn("Media queue unavailable, stopping sweep", zap.Int("queued", queued), zap.Error(err))
			return queued, nil
		default:
			s.logger.Warn("Failed to requeue media", zap.Int64("messageID", msg.ID), zap.Error(err))
		}
	}

	s.logger.Info("Requeued stale media", zap.Int("found", len(messages)), zap.Int("queued", queued))
	return queued, nil
}
