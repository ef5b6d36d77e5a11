// Package service holds the webhook ingestion, outbound send and media
// orchestration logic behind the HTTP handlers.
package service

import (
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/config"
	"github.com/popeskul/wa-relay/internal/mediastore"
	"github.com/popeskul/wa-relay/internal/repository"
	"github.com/popeskul/wa-relay/internal/signedurl"
)

type Service struct {
	Webhook    WebhookService
	Message    MessageService
	Media      MediaService
	Scheduler  SchedulerService
	Health     HealthService
	MediaRelay *MediaRelay
}

// Dependencies are the infrastructure pieces the services are built on.
type Dependencies struct {
	Repo     repository.Repository
	Redis    *redis.Client
	Provider Provider
	Store    *mediastore.Store
	Codec    *signedurl.Codec
	Hub      Broadcaster
	Queue    MediaQueue
}

func NewService(cfg *config.Config, deps Dependencies, logger *zap.Logger) *Service {
	webhookService := NewWebhookService(cfg, deps.Repo, deps.Provider, deps.Queue, deps.Hub, deps.Redis, deps.Codec, logger)
	messageService := NewMessageService(cfg, deps.Repo, deps.Provider, deps.Store, deps.Codec, deps.Hub, logger)
	mediaService := NewMediaService(cfg, deps.Repo, deps.Store, deps.Codec, deps.Queue, logger)
	schedulerService := NewSchedulerService(cfg, mediaService, logger)
	healthService := NewHealthService(deps.Repo, deps.Redis, schedulerService, messageService, deps.Hub, deps.Queue)

	return &Service{
		Webhook:    webhookService,
		Message:    messageService,
		Media:      mediaService,
		Scheduler:  schedulerService,
		Health:     healthService,
		MediaRelay: NewMediaRelay(deps.Repo, deps.Hub, deps.Codec, cfg.Media.URLTTL(), logger),
	}
}
