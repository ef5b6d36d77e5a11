package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/config"
	"github.com/popeskul/wa-relay/internal/service"
	"github.com/popeskul/wa-relay/internal/service/mocks"
)

func newSchedulerConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{
			IntervalMinutes: 1,
		},
	}
}

func TestSchedulerService_Start_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockMediaService := mocks.NewMockMediaService(ctrl)
	mockMediaService.EXPECT().RequeueStale(gomock.Any()).Return(0, nil).AnyTimes()

	schedulerService := service.NewSchedulerService(newSchedulerConfig(), mockMediaService, zap.NewNop())

	err := schedulerService.Start()
	assert.NoError(t, err)
	assert.True(t, schedulerService.IsRunning())

	err = schedulerService.Stop()
	assert.NoError(t, err)
	assert.False(t, schedulerService.IsRunning())
}

func TestSchedulerService_Start_Failure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockMediaService := mocks.NewMockMediaService(ctrl)
	mockMediaService.EXPECT().RequeueStale(gomock.Any()).Return(0, nil).AnyTimes()

	schedulerService := service.NewSchedulerService(newSchedulerConfig(), mockMediaService, zap.NewNop())

	err := schedulerService.Start()
	require.NoError(t, err)
	assert.True(t, schedulerService.IsRunning())

	// Try to start again - should fail
	err = schedulerService.Start()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	_ = schedulerService.Stop()
}

func TestSchedulerService_Stop_Failure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockMediaService := mocks.NewMockMediaService(ctrl)
	schedulerService := service.NewSchedulerService(newSchedulerConfig(), mockMediaService, zap.NewNop())

	err := schedulerService.Stop()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestSchedulerService_SweepRunsImmediately(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var calls atomic.Int32
	mockMediaService := mocks.NewMockMediaService(ctrl)
	mockMediaService.EXPECT().
		RequeueStale(gomock.Any()).
		DoAndReturn(func(context.Context) (int, error) {
			calls.Add(1)
			return 2, nil
		}).
		MinTimes(1)

	svc := service.NewSchedulerService(newSchedulerConfig(), mockMediaService, zap.NewNop())

	require.NoError(t, svc.Start())
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, svc.Stop())
}

func TestSchedulerService_SweepErrorKeepsRunning(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var calls atomic.Int32
	mockMediaService := mocks.NewMockMediaService(ctrl)
	mockMediaService.EXPECT().
		RequeueStale(gomock.Any()).
		DoAndReturn(func(context.Context) (int, error) {
			calls.Add(1)
			return 0, errors.New("database error")
		}).
		MinTimes(1)

	schedulerService := service.NewSchedulerService(newSchedulerConfig(), mockMediaService, zap.NewNop())

	require.NoError(t, schedulerService.Start())
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 10*time.Millisecond)

	// Scheduler should still be running despite task errors
	assert.True(t, schedulerService.IsRunning())

	require.NoError(t, schedulerService.Stop())
}

func TestSchedulerService_MultipleStartStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockMediaService := mocks.NewMockMediaService(ctrl)
	mockMediaService.EXPECT().RequeueStale(gomock.Any()).Return(0, nil).AnyTimes()

	schedulerService := service.NewSchedulerService(newSchedulerConfig(), mockMediaService, zap.NewNop())

	for i := 0; i < 3; i++ {
		err := schedulerService.Start()
		require.NoError(t, err)
		assert.True(t, schedulerService.IsRunning())

		err = schedulerService.Stop()
		require.NoError(t, err)
		assert.False(t, schedulerService.IsRunning())
	}
}
