package service_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/config"
	"github.com/popeskul/wa-relay/internal/media"
	"github.com/popeskul/wa-relay/internal/mediastore"
	"github.com/popeskul/wa-relay/internal/models"
	"github.com/popeskul/wa-relay/internal/provider/whatsapp"
	"github.com/popeskul/wa-relay/internal/repository"
	"github.com/popeskul/wa-relay/internal/repository/mocks"
	"github.com/popeskul/wa-relay/internal/service"
	servicemocks "github.com/popeskul/wa-relay/internal/service/mocks"
	"github.com/popeskul/wa-relay/internal/signedurl"
)

type mediaFixture struct {
	svc   service.MediaService
	store *mediastore.Store
	codec *signedurl.Codec
	msgs  *mocks.MockMessageRepository
	queue *servicemocks.MockMediaQueue
}

func newMediaFixture(t *testing.T) *mediaFixture {
	ctrl := gomock.NewController(t)

	repo := mocks.NewMockRepository(ctrl)
	f := &mediaFixture{
		store: mediastore.New(afero.NewMemMapFs()),
		codec: signedurl.New("media-secret"),
		msgs:  mocks.NewMockMessageRepository(ctrl),
		queue: servicemocks.NewMockMediaQueue(ctrl),
	}
	repo.EXPECT().Message().Return(f.msgs).AnyTimes()

	cfg := &config.Config{
		Media:     config.MediaConfig{URLTTLSeconds: 3600},
		Scheduler: config.SchedulerConfig{StaleMinutes: 10, BatchSize: 20},
	}
	f.svc = service.NewMediaService(cfg, repo, f.store, f.codec, f.queue, zap.NewNop())
	return f
}

func TestMediaService_Open(t *testing.T) {
	f := newMediaFixture(t)

	_, err := f.store.Write("whatsapp/2026/10/1/photo.jpg", strings.NewReader("jpeg bytes"))
	require.NoError(t, err)

	t.Run("valid signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, f.codec.Sign("whatsapp/2026/10/1/photo.jpg", time.Minute), nil)

		file, err := f.svc.Open(req)
		require.NoError(t, err)
		defer file.Content.Close()

		data, err := io.ReadAll(file.Content)
		require.NoError(t, err)
		assert.Equal(t, "jpeg bytes", string(data))
		assert.Equal(t, "photo.jpg", file.Name)
		assert.Equal(t, "image/jpeg", file.ContentType)
		assert.Equal(t, int64(10), file.Size)
	})

	tests := []struct {
		name        string
		target      string
		expectedErr error
	}{
		{
			name:        "expired",
			target:      f.codec.Sign("whatsapp/2026/10/1/photo.jpg", -time.Minute),
			expectedErr: signedurl.ErrExpired,
		},
		{
			name:        "tampered path",
			target:      strings.Replace(f.codec.Sign("whatsapp/2026/10/1/photo.jpg", time.Minute), "photo", "other", 1),
			expectedErr: signedurl.ErrInvalidSignature,
		},
		{
			name:        "unsigned",
			target:      "/media/whatsapp/2026/10/1/photo.jpg",
			expectedErr: signedurl.ErrMalformed,
		},
		{
			name:        "signed but missing",
			target:      f.codec.Sign("whatsapp/2026/10/1/gone.jpg", time.Minute),
			expectedErr: mediastore.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, err := f.svc.Open(httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Nil(t, file)
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestMediaService_Upload(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Upload(ctx, "My Holiday.PNG", strings.NewReader("png bytes"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(resp.Path, "uploads/"))
	assert.True(t, strings.HasSuffix(resp.Path, "-My_Holiday.png"))
	assert.Equal(t, models.MediaTypeImage, resp.Type)
	assert.Equal(t, "image/png", resp.MimeType)
	assert.Equal(t, int64(9), resp.SizeBytes)
	assert.True(t, f.store.Exists(resp.Path))

	res := f.codec.Verify(httptest.NewRequest(http.MethodGet, resp.URL, nil))
	assert.True(t, res.Valid)
	assert.Equal(t, resp.Path, res.Path)

	_, err = f.svc.Upload(ctx, "empty.txt", strings.NewReader(""))
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestMediaService_RequeueStale(t *testing.T) {
	f := newMediaFixture(t)

	pending := func(id int64) *models.Message {
		return &models.Message{
			ID: id,
			Media: &models.MediaDescriptor{
				Origin: models.MediaOriginWhatsApp,
				Status: models.MediaStatusPending,
			},
		}
	}

	f.msgs.EXPECT().ListStaleMedia(gomock.Any(), gomock.Any(), 20).
		Return([]*models.Message{pending(1), pending(2), pending(3), pending(4)}, nil)
	gomock.InOrder(
		f.queue.EXPECT().Enqueue(gomock.Any()).Return(nil),
		f.queue.EXPECT().Enqueue(gomock.Any()).Return(media.ErrInFlight),
		f.queue.EXPECT().Enqueue(gomock.Any()).Return(nil),
		f.queue.EXPECT().Enqueue(gomock.Any()).Return(media.ErrQueueFull),
	)

	queued, err := f.svc.RequeueStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	f.msgs.EXPECT().ListStaleMedia(gomock.Any(), gomock.Any(), 20).Return(nil, errors.New("database error"))
	_, err = f.svc.RequeueStale(context.Background())
	assert.Error(t, err)
}

func TestMediaRelay_PublishesUpdates(t *testing.T) {
	ctrl := gomock.NewController(t)

	repo := mocks.NewMockRepository(ctrl)
	msgs := mocks.NewMockMessageRepository(ctrl)
	convs := mocks.NewMockConversationRepository(ctrl)
	hub := servicemocks.NewMockBroadcaster(ctrl)
	repo.EXPECT().Message().Return(msgs).AnyTimes()
	repo.EXPECT().Conversation().Return(convs).AnyTimes()

	ready := &models.MediaDescriptor{
		Origin:       models.MediaOriginWhatsApp,
		Type:         models.MediaTypeImage,
		Status:       models.MediaStatusReady,
		URL:          "whatsapp/2026/10/42/photo.jpg",
		ThumbnailURL: "whatsapp/2026/10/42/thumb.jpg",
	}
	msgs.EXPECT().GetByID(gomock.Any(), int64(42)).Return(&models.Message{ID: 42, ConversationID: 7, Media: ready}, nil)
	convs.EXPECT().GetByID(gomock.Any(), int64(7)).Return(&models.Conversation{ID: 7}, nil)
	msgs.EXPECT().GetByID(gomock.Any(), int64(43)).Return(nil, repository.ErrNotFound)

	published := make(chan models.MessageEvent, 1)
	hub.EXPECT().Publish(models.EventMessageMediaUpdated, gomock.Any()).DoAndReturn(func(_ string, data any) int {
		published <- data.(models.MessageEvent)
		return 1
	})

	relay := service.NewMediaRelay(repo, hub, signedurl.New("media-secret"), time.Hour, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	relay.Notify(media.StatusUpdate{MessageID: 43, Media: ready})
	relay.Notify(media.StatusUpdate{MessageID: 42, Media: ready})

	select {
	case ev := <-published:
		assert.Equal(t, int64(42), ev.Message.ID)
		require.NotNil(t, ev.Message.Media)
		require.NotNil(t, ev.Message.Media.URL)
		require.NotNil(t, ev.Message.Media.ThumbnailURL)
		assert.True(t, strings.HasPrefix(*ev.Message.Media.URL, "/media/whatsapp/2026/10/42/photo.jpg?expires="))
	case <-time.After(2 * time.Second):
		t.Fatal("media update was not published")
	}

	relay.Close()
	relay.Notify(media.StatusUpdate{MessageID: 44, Media: ready})
}

func TestMediaSource_CircuitBreaker(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := servicemocks.NewMockProvider(ctrl)

	cfg := &config.CircuitBreakerConfig{
		MaxRequests:      1,
		Interval:         10,
		Timeout:          60,
		FailureRatio:     0.5,
		ConsecutiveFails: 3,
	}
	source := service.NewMediaSource(provider, service.NewCircuitBreaker("whatsapp-media", cfg, zap.NewNop()))
	ctx := context.Background()

	provider.EXPECT().FetchMediaMetadata(gomock.Any(), "MEDIA1").Return(&whatsapp.MediaMetadata{ID: "MEDIA1", URL: "https://cdn/x"}, nil)
	meta, err := source.FetchMediaMetadata(ctx, "MEDIA1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/x", meta.URL)

	provider.EXPECT().DownloadMedia(gomock.Any(), "https://cdn/x", int64(10)).Return(nil, errors.New("cdn down")).Times(2)
	for i := 0; i < 2; i++ {
		_, err = source.DownloadMedia(ctx, "https://cdn/x", 10)
		assert.Error(t, err)
	}

	_, err = source.DownloadMedia(ctx, "https://cdn/x", 10)
	assert.ErrorIs(t, err, service.ErrServiceUnavailable)
}
