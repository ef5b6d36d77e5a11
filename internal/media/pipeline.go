package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/mediastore"
	"github.com/popeskul/wa-relay/internal/models"
	"github.com/popeskul/wa-relay/internal/provider/whatsapp"
	"github.com/popeskul/wa-relay/internal/repository"
)

const commitTimeout = 10 * time.Second

// Source resolves and downloads provider media.
type Source interface {
	FetchMediaMetadata(ctx context.Context, mediaID string) (*whatsapp.MediaMetadata, error)
	DownloadMedia(ctx context.Context, url string, maxBytes int64) (*whatsapp.Download, error)
}

// MessageStore persists descriptor updates. repository.MessageRepository
// satisfies it.
type MessageStore interface {
	UpdateMedia(ctx context.Context, id int64, media *models.MediaDescriptor) error
}

// Job asks for the media of one message to be acquired.
type Job struct {
	MessageID int64
	Media     *models.MediaDescriptor
	// ReceivedAt places the binary in the month the message arrived.
	ReceivedAt time.Time
}

// StatusUpdate is delivered after every persisted transition.
type StatusUpdate struct {
	MessageID int64
	Media     *models.MediaDescriptor
}

type StatusCallback func(StatusUpdate)

type Pipeline struct {
	cfg      Config
	source   Source
	store    *mediastore.Store
	messages MessageStore
	guard    Guard
	derive   *deriver
	logger   *zap.Logger
	now      func() time.Time

	onStatus StatusCallback

	jobs     chan Job
	mu       sync.Mutex
	inFlight map[int64]struct{}
	running  bool
	stopped  bool
	workers  sync.WaitGroup
}

// NewPipeline builds a stopped pipeline. guard may be nil.
func NewPipeline(cfg Config, source Source, store *mediastore.Store, messages MessageStore, guard Guard, logger *zap.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:      cfg,
		source:   source,
		store:    store,
		messages: messages,
		guard:    guard,
		derive:   newDeriver(store, cfg, logger),
		logger:   logger,
		now:      time.Now,
		jobs:     make(chan Job, cfg.QueueSize),
		inFlight: make(map[int64]struct{}),
	}
}

// OnStatus installs the transition callback. Call before Start.
func (p *Pipeline) OnStatus(cb StatusCallback) {
	p.onStatus = cb
}

func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if p.running {
		return ErrAlreadyRunning
	}
	p.running = true

	for i := 0; i < p.cfg.Workers; i++ {
		p.workers.Add(1)
		go p.worker(i)
	}

	p.logger.Info("Media pipeline started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queueSize", p.cfg.QueueSize))
	return nil
}

// Stop refuses new jobs and waits until the queued ones are processed or ctx
// expires. Pending retries are dropped; the sweeper picks them up again.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Media pipeline stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("media pipeline drain interrupted: %w", ctx.Err())
	}
}

// Enqueue schedules a job without blocking. A message already queued or in
// progress is rejected with ErrInFlight.
func (p *Pipeline) Enqueue(job Job) error {
	if job.Media == nil || job.Media.Status.Terminal() {
		return ErrNotPending
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if _, ok := p.inFlight[job.MessageID]; ok {
		return ErrInFlight
	}

	job.Media = job.Media.Clone()
	select {
	case p.jobs <- job:
		p.inFlight[job.MessageID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueDepth returns the number of jobs waiting for a worker.
func (p *Pipeline) QueueDepth() int {
	return len(p.jobs)
}

func (p *Pipeline) worker(id int) {
	defer p.workers.Done()

	for job := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.JobTimeout)
		retry := p.process(ctx, job)
		cancel()

		if retry == nil {
			p.release(job.MessageID)
			continue
		}
		p.scheduleRetry(*retry)
	}

	p.logger.Debug("Media worker exited", zap.Int("worker", id))
}

// process runs one attempt. It returns the follow-up job when another
// attempt is due.
func (p *Pipeline) process(ctx context.Context, job Job) *Job {
	if p.guard != nil {
		ok, err := p.guard.Acquire(ctx, job.MessageID)
		if err != nil {
			p.logger.Warn("Media lock unavailable, continuing without it",
				zap.Int64("messageID", job.MessageID), zap.Error(err))
		} else if !ok {
			p.logger.Info("Media already being acquired elsewhere", zap.Int64("messageID", job.MessageID))
			return nil
		} else {
			defer func() {
				if err := p.guard.Release(context.Background(), job.MessageID); err != nil {
					p.logger.Warn("Failed to release media lock", zap.Int64("messageID", job.MessageID), zap.Error(err))
				}
			}()
		}
	}

	media := job.Media.Clone()

	if media.Status == models.MediaStatusPending {
		if err := media.Transition(models.MediaStatusDownloading); err != nil {
			p.logger.Error("Unexpected media state", zap.Int64("messageID", job.MessageID), zap.Error(err))
			return nil
		}
		if !p.commit(job.MessageID, media) {
			return nil
		}
	}

	layout, err := p.acquire(ctx, job, media)
	if err != nil {
		media.RecordFailure(err.Error())

		if media.DownloadAttempts < p.cfg.MaxAttempts && retryable(err) {
			_ = media.Transition(models.MediaStatusDownloading)
			p.logger.Warn("Media download failed, will retry",
				zap.Int64("messageID", job.MessageID),
				zap.Int("attempt", media.DownloadAttempts),
				zap.Error(err))
			if !p.commit(job.MessageID, media) {
				return nil
			}
			next := job
			next.Media = media
			return &next
		}

		_ = media.Transition(models.MediaStatusFailed)
		p.logger.Error("Media acquisition failed",
			zap.Int64("messageID", job.MessageID),
			zap.Int("attempts", media.DownloadAttempts),
			zap.Error(err))
		p.commit(job.MessageID, media)
		return nil
	}

	p.derive.derive(ctx, job.MessageID, media, layout)

	media.URL = media.Storage.Original
	media.ThumbnailURL = media.Storage.Thumbnail
	media.PreviewURL = media.Storage.Preview
	_ = media.Transition(models.MediaStatusReady)

	if p.commit(job.MessageID, media) {
		p.logger.Info("Media ready",
			zap.Int64("messageID", job.MessageID),
			zap.String("path", media.URL),
			zap.Int64("size", media.SizeBytes))
	}
	return nil
}

// acquire downloads and stores the original binary.
func (p *Pipeline) acquire(ctx context.Context, job Job, media *models.MediaDescriptor) (mediastore.InboundLayout, error) {
	source := media.SourceURL

	if media.ProviderMediaID != "" {
		meta, err := p.source.FetchMediaMetadata(ctx, media.ProviderMediaID)
		if err != nil {
			return mediastore.InboundLayout{}, err
		}
		source = meta.URL
		if media.MimeType == "" {
			media.MimeType = meta.MimeType
		}
		if meta.SHA256 != "" {
			if media.Metadata == nil {
				media.Metadata = map[string]any{}
			}
			media.Metadata["provider_sha256"] = meta.SHA256
		}
	}
	if source == "" {
		return mediastore.InboundLayout{}, ErrNoSource
	}

	dl, err := p.source.DownloadMedia(ctx, source, p.cfg.MaxBytes)
	if err != nil {
		return mediastore.InboundLayout{}, err
	}
	defer dl.Body.Close()

	if media.MimeType == "" {
		media.MimeType = dl.ContentType
	}
	if media.Extension == "" {
		media.Extension = extensionFor(media.MimeType)
	}

	receivedAt := job.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}
	layout := p.store.InboundPaths(job.MessageID, media.Filename, media.Extension, receivedAt)

	hash := sha256.New()
	size, err := p.store.Write(layout.Original, io.TeeReader(dl.Body, hash))
	if err != nil {
		return mediastore.InboundLayout{}, err
	}

	now := p.now().UTC()
	media.SizeBytes = size
	media.Checksum = hex.EncodeToString(hash.Sum(nil))
	media.Storage.Original = layout.Original
	media.DownloadedAt = &now

	return layout, nil
}

// commit persists the descriptor and reports it. It returns false when the
// stored descriptor can no longer be changed.
// commit persists a transition. It does not share the job context, so a job
// that ran out of time can still record its failure.
func (p *Pipeline) commit(messageID int64, media *models.MediaDescriptor) bool {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	if err := p.messages.UpdateMedia(ctx, messageID, media); err != nil {
		if errors.Is(err, repository.ErrMediaFinalized) {
			p.logger.Info("Media already finalized, dropping job", zap.Int64("messageID", messageID))
			return false
		}
		p.logger.Error("Failed to persist media status",
			zap.Int64("messageID", messageID),
			zap.String("status", string(media.Status)),
			zap.Error(err))
		return false
	}

	p.notify(messageID, media)
	return true
}

func (p *Pipeline) notify(messageID int64, media *models.MediaDescriptor) {
	if p.onStatus == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Media status callback panicked",
				zap.Int64("messageID", messageID),
				zap.Any("panic", r))
		}
	}()

	p.onStatus(StatusUpdate{MessageID: messageID, Media: media.Clone()})
}

func (p *Pipeline) scheduleRetry(job Job) {
	delay := p.cfg.RetryBackoff * time.Duration(job.Media.DownloadAttempts)

	time.AfterFunc(delay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.stopped {
			delete(p.inFlight, job.MessageID)
			return
		}
		select {
		case p.jobs <- job:
		default:
			delete(p.inFlight, job.MessageID)
			p.logger.Warn("Media queue full, retry left to the sweeper", zap.Int64("messageID", job.MessageID))
		}
	})
}

func (p *Pipeline) release(messageID int64) {
	p.mu.Lock()
	delete(p.inFlight, messageID)
	p.mu.Unlock()
}

func retryable(err error) bool {
	if errors.Is(err, whatsapp.ErrNotConfigured) || errors.Is(err, whatsapp.ErrTooLarge) ||
		errors.Is(err, ErrNoSource) || errors.Is(err, mediastore.ErrPathTraversal) {
		return false
	}

	var providerErr *whatsapp.ProviderError
	if errors.As(err, &providerErr) {
		code := providerErr.StatusCode
		return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
	}
	return true
}

func extensionFor(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "image/jpeg":
		return "jpg"
	case "audio/ogg":
		return "ogg"
	case "audio/mpeg":
		return "mp3"
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return strings.TrimPrefix(exts[0], ".")
}
