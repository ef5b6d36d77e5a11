package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const minTaskTimeout = time.Second

// Task is one periodic unit of work.
type Task func(ctx context.Context) error

// Stats is a snapshot of the runs so far.
type Stats struct {
	Runs     uint64
	Failures uint64
	LastRun  time.Time
	LastErr  error
}

type Option func(*Scheduler)

// WithTaskTimeout bounds each run. The default is the interval minus one
// second, never below one second.
func WithTaskTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.taskTimeout = d
	}
}

// WithoutInitialRun waits a full interval before the first run.
func WithoutInitialRun() Option {
	return func(s *Scheduler) {
		s.initialRun = false
	}
}

// Scheduler runs a task on a fixed interval until stopped.
type Scheduler struct {
	name        string
	logger      *zap.Logger
	interval    time.Duration
	taskTimeout time.Duration
	initialRun  bool
	task        Task
	stopCh      chan struct{}
	doneCh      chan struct{}
	isRunning   bool
	stats       Stats
	mu          sync.RWMutex
}

func New(name string, interval time.Duration, task Task, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:       name,
		logger:     logger.With(zap.String("task", name)),
		interval:   interval,
		initialRun: true,
		task:       task,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.taskTimeout <= 0 {
		s.taskTimeout = max(interval-time.Second, minTaskTimeout)
	}
	return s
}

// Start launches the loop. It stops on Stop or when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return ErrSchedulerAlreadyRunning
	}
	if s.interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, s.interval)
	}

	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx, s.stopCh, s.doneCh)

	s.logger.Info("Scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the loop and waits for an in-progress run to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.isRunning = false
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Scheduler) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer func() {
		s.mu.Lock()
		if s.stopCh == stopCh {
			s.isRunning = false
		}
		s.mu.Unlock()
	}()

	if s.initialRun {
		s.execute(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context canceled")
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context) {
	taskCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()

	started := time.Now()
	err := s.safeRun(taskCtx)

	s.mu.Lock()
	s.stats.Runs++
	s.stats.LastRun = started
	s.stats.LastErr = err
	if err != nil {
		s.stats.Failures++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled task failed", zap.Duration("took", time.Since(started)), zap.Error(err))
		return
	}
	s.logger.Debug("Scheduled task completed", zap.Duration("took", time.Since(started)))
}

func (s *Scheduler) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return s.task(ctx)
}
