package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/popeskul/wa-relay/internal/models"
	"github.com/popeskul/wa-relay/internal/repository"
)

type healthService struct {
	repo             repository.Repository
	redisClient      *redis.Client
	schedulerService SchedulerService
	messageService   MessageService
	hub              Broadcaster
	queue            MediaQueue
	now              func() time.Time
}

func NewHealthService(
	repo repository.Repository,
	redisClient *redis.Client,
	schedulerService SchedulerService,
	messageService MessageService,
	hub Broadcaster,
	queue MediaQueue,
) HealthService {
	return &healthService{
		repo:             repo,
		redisClient:      redisClient,
		schedulerService: schedulerService,
		messageService:   messageService,
		hub:              hub,
		queue:            queue,
		now:              time.Now,
	}
}

func (s *healthService) GetHealth() *models.HealthResponse {
	status := &models.HealthResponse{
		Status:    models.Healthy,
		Timestamp: s.now(),
	}

	schedulerStatus := models.ComponentStopped
	if s.schedulerService.IsRunning() {
		schedulerStatus = models.ComponentRunning
	}
	status.SchedulerStatus = &schedulerStatus

	databaseStatus := s.checkDatabaseHealth()
	status.DatabaseStatus = &databaseStatus

	redisStatus := s.checkRedisHealth()
	status.RedisStatus = &redisStatus

	state, requests, failures := s.messageService.GetCircuitBreakerStatus()
	status.CircuitBreakerState = &state
	var breakerStatus string
	if requests > 0 {
		failureRate := float64(failures) / float64(requests) * 100
		breakerStatus = fmt.Sprintf("Requests: %d, Failures: %d (%.1f%%)", requests, failures, failureRate)
	} else {
		breakerStatus = "No requests yet"
	}
	status.CircuitBreakerStatus = &breakerStatus

	if s.hub != nil {
		status.Observers = s.hub.Count()
	}
	if s.queue != nil {
		status.MediaQueueDepth = s.queue.QueueDepth()
	}

	// Determine overall health
	if databaseStatus != models.ComponentConnected || redisStatus != models.ComponentConnected {
		status.Status = models.Unhealthy
	}

	// If circuit breaker is open, set status to degraded
	if state == models.CircuitOpen {
		status.Status = models.Degraded
	}

	return status
}

func (s *healthService) checkDatabaseHealth() models.ComponentStatus {
	err := s.repo.Ping()
	if err != nil {
		return models.ComponentDisconnected
	}
	return models.ComponentConnected
}

func (s *healthService) checkRedisHealth() models.ComponentStatus {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.redisClient.Ping(ctx).Err(); err != nil {
		return models.ComponentDisconnected
	}

	return models.ComponentConnected
}
