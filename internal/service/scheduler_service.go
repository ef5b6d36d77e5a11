package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/config"
	"github.com/popeskul/wa-relay/internal/scheduler"
)

const sweepTaskName = "media-sweep"

// schedulerService periodically hands stuck media back to the pipeline.
type schedulerService struct {
	scheduler    *scheduler.Scheduler
	mediaService MediaService
	logger       *zap.Logger
}

func NewSchedulerService(
	cfg *config.Config,
	mediaService MediaService,
	logger *zap.Logger,
) SchedulerService {
	interval := time.Duration(cfg.Scheduler.IntervalMinutes) * time.Minute

	svc := &schedulerService{
		mediaService: mediaService,
		logger:       logger,
	}

	svc.scheduler = scheduler.New(sweepTaskName, interval, svc.executeSweepTask, logger)
	return svc
}

func (s *schedulerService) Start() error {
	ctx := context.Background()
	return s.scheduler.Start(ctx)
}

func (s *schedulerService) Stop() error {
	return s.scheduler.Stop()
}

func (s *schedulerService) IsRunning() bool {
	return s.scheduler.IsRunning()
}

func (s *schedulerService) executeSweepTask(ctx context.Context) error {
	queued, err := s.mediaService.RequeueStale(ctx)
	if queued > 0 {
		s.logger.Info("Stale media requeued", zap.Int("queued", queued))
	}
	return err
}
