// Package main is the entry point for the wa-relay HTTP server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/popeskul/wa-relay/internal/config"
	"github.com/popeskul/wa-relay/internal/handler"
	"github.com/popeskul/wa-relay/internal/infrastructure/migrate"
	"github.com/popeskul/wa-relay/internal/media"
	"github.com/popeskul/wa-relay/internal/mediastore"
	"github.com/popeskul/wa-relay/internal/middleware"
	"github.com/popeskul/wa-relay/internal/provider/whatsapp"
	"github.com/popeskul/wa-relay/internal/realtime"
	"github.com/popeskul/wa-relay/internal/repository"
	"github.com/popeskul/wa-relay/internal/service"
	"github.com/popeskul/wa-relay/internal/signedurl"
)

const (
	shutdownTimeout  = 15 * time.Second
	amqpDialAttempts = 5
	amqpDialDelay    = 2 * time.Second
	mediaBreakerName = "whatsapp-media"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	if cfg.Database.AutoMigrate {
		runner := migrate.NewRunner(migrate.Config{
			DatabaseURL:    cfg.Database.GetURL(),
			MigrationsPath: cfg.Database.MigrationsPath,
		}, logger)
		if _, err := runner.Up(); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	db, err := sqlx.Connect("postgres", cfg.Database.GetDSN())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}()

	store, err := mediastore.NewOnDisk(cfg.Media.Root)
	if err != nil {
		logger.Fatal("Failed to prepare media root", zap.Error(err))
	}

	repo := repository.NewRepository(db)
	adapter := whatsapp.New(cfg.WhatsApp, logger)
	codec := signedurl.New(cfg.Media.SigningSecret)

	hub := realtime.NewHub(logger)
	defer hub.Close()

	if cfg.Realtime.AMQPURL != "" {
		relay := startAMQPRelay(ctx, cfg, logger)
		if relay != nil {
			if err := hub.Register(relay); err != nil {
				logger.Error("Failed to register AMQP relay", zap.Error(err))
			}
		}
	}

	mediaCfg := media.NewConfig(&cfg.Media)
	source := service.NewMediaSource(adapter, service.NewCircuitBreaker(mediaBreakerName, &cfg.WhatsApp.CircuitBreaker, logger))
	pipeline := media.NewPipeline(mediaCfg, source, store, repo.Message(), media.NewRedisGuard(redisClient, 2*mediaCfg.JobTimeout), logger)

	svc := service.NewService(cfg, service.Dependencies{
		Repo:     repo,
		Redis:    redisClient,
		Provider: adapter,
		Store:    store,
		Codec:    codec,
		Hub:      hub,
		Queue:    pipeline,
	}, logger)

	pipeline.OnStatus(svc.MediaRelay.Notify)
	if err := pipeline.Start(); err != nil {
		logger.Fatal("Failed to start media pipeline", zap.Error(err))
	}
	go svc.MediaRelay.Run(ctx)

	h := handler.NewHandler(svc, hub, handler.Config{
		MaxUploadBytes: cfg.Media.MaxBytes,
		SendBuffer:     cfg.Realtime.SendBuffer,
		AllowedOrigins: cfg.Middleware.AllowedOrigins,
	}, logger)

	router := setupRouter(h)

	middlewareConfig := &middleware.Config{
		Logger:          logger,
		RateLimit:       rate.Limit(cfg.Middleware.RateLimit),
		RateLimitBurst:  cfg.Middleware.RateLimitBurst,
		RateLimitExempt: []string{"/webhooks/"},
		RequestTimeout:  30 * time.Second,
		TimeoutExempt:   []string{"/ws", signedurl.Prefix},
	}
	if cfg.Middleware.EnableCORS {
		middlewareConfig.CORS = &middleware.CORSConfig{
			AllowedOrigins:   cfg.Middleware.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           86400,
		}
	}

	wrap, stopLimiter := middleware.Chain(middlewareConfig)
	defer stopLimiter()
	finalHandler := wrap(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      finalHandler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := svc.Scheduler.Start(); err != nil {
		logger.Error("Failed to start scheduler on startup", zap.Error(err))
	} else {
		logger.Info("Media sweeper started")
	}

	go func() {
		logger.Info("Starting server", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if svc.Scheduler.IsRunning() {
		if err := svc.Scheduler.Stop(); err != nil {
			logger.Error("Failed to stop scheduler", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := pipeline.Stop(shutdownCtx); err != nil {
		logger.Warn("Media pipeline did not drain", zap.Error(err))
	}
	svc.MediaRelay.Close()
	cancel()

	logger.Info("Server exited")
}

// startAMQPRelay connects the optional event relay. A broker that stays
// unreachable disables the relay instead of stopping the server.
func startAMQPRelay(ctx context.Context, cfg *config.Config, logger *zap.Logger) *realtime.AMQPRelay {
	conn, err := realtime.DialWithRetry(ctx, realtime.DialOptions{
		URL:           cfg.Realtime.AMQPURL,
		RetryAttempts: amqpDialAttempts,
		Delay:         amqpDialDelay,
	}, logger)
	if err != nil {
		logger.Error("AMQP relay disabled", zap.Error(err))
		return nil
	}

	relay, err := realtime.NewAMQPRelay(conn, cfg.Realtime.AMQPExchange, logger)
	if err != nil {
		logger.Error("AMQP relay disabled", zap.Error(err))
		_ = conn.Close()
		return nil
	}
	return relay
}
