// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	WhatsApp   WhatsAppConfig   `mapstructure:"whatsapp"`
	Media      MediaConfig      `mapstructure:"media"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

type ServerConfig struct {
	Port         string `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	DBName         string `mapstructure:"dbname"`
	SSLMode        string `mapstructure:"sslmode"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WhatsAppConfig holds the provider credentials. Any of the secrets may be
// empty; the affected operations then fail or degrade as documented on the
// adapter.
type WhatsAppConfig struct {
	VerifyToken    string               `mapstructure:"verify_token"`
	AppSecret      string               `mapstructure:"app_secret"`
	AccessToken    string               `mapstructure:"access_token"`
	PhoneNumberID  string               `mapstructure:"phone_number_id"`
	APIVersion     string               `mapstructure:"api_version"`
	GraphBaseURL   string               `mapstructure:"graph_base_url"`
	Timeout        int                  `mapstructure:"timeout"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"`
	Timeout          int     `mapstructure:"timeout"`
	FailureRatio     float64 `mapstructure:"failure_ratio"`
	ConsecutiveFails uint32  `mapstructure:"consecutive_fails"`
}

type MediaConfig struct {
	Root                string `mapstructure:"root"`
	PublicBaseURL       string `mapstructure:"public_base_url"`
	SigningSecret       string `mapstructure:"signing_secret"`
	URLTTLSeconds       int    `mapstructure:"url_ttl"`
	OutboundURLTTL      int    `mapstructure:"outbound_url_ttl"`
	Workers             int    `mapstructure:"workers"`
	QueueSize           int    `mapstructure:"queue_size"`
	MaxAttempts         int    `mapstructure:"max_attempts"`
	RetryBackoffSeconds int    `mapstructure:"retry_backoff"`
	MaxBytes            int64  `mapstructure:"max_bytes"`
	ThumbnailSize       int    `mapstructure:"thumbnail_size"`
	PreviewSize         int    `mapstructure:"preview_size"`
	MaxPixels           int64  `mapstructure:"max_pixels"`
}

// URLTTL returns the lifetime of signed URLs handed to observers and clients.
func (m *MediaConfig) URLTTL() time.Duration {
	return time.Duration(m.URLTTLSeconds) * time.Second
}

// ProviderURLTTL returns the lifetime of signed URLs handed to the provider.
func (m *MediaConfig) ProviderURLTTL() time.Duration {
	return time.Duration(m.OutboundURLTTL) * time.Second
}

type SchedulerConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
	StaleMinutes    int `mapstructure:"stale_minutes"`
	BatchSize       int `mapstructure:"batch_size"`
}

type RealtimeConfig struct {
	SendBuffer   int    `mapstructure:"send_buffer"`
	AMQPURL      string `mapstructure:"amqp_url"`
	AMQPExchange string `mapstructure:"amqp_exchange"`
}

type MiddlewareConfig struct {
	RateLimit      int      `mapstructure:"rate_limit"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
	EnableCORS     bool     `mapstructure:"enable_cors"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", 10)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.auto_migrate", false)
	viper.SetDefault("database.migrations_path", "./migrations")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("whatsapp.api_version", "v20.0")
	viper.SetDefault("whatsapp.graph_base_url", "https://graph.facebook.com")
	viper.SetDefault("whatsapp.timeout", 30)
	viper.SetDefault("whatsapp.circuit_breaker.max_requests", 3)
	viper.SetDefault("whatsapp.circuit_breaker.interval", 60)
	viper.SetDefault("whatsapp.circuit_breaker.timeout", 60)
	viper.SetDefault("whatsapp.circuit_breaker.failure_ratio", 0.6)
	viper.SetDefault("whatsapp.circuit_breaker.consecutive_fails", 5)
	viper.SetDefault("media.root", "./data/media")
	viper.SetDefault("media.url_ttl", 3600)
	viper.SetDefault("media.outbound_url_ttl", 86400)
	viper.SetDefault("media.workers", 4)
	viper.SetDefault("media.queue_size", 256)
	viper.SetDefault("media.max_attempts", 3)
	viper.SetDefault("media.retry_backoff", 10)
	viper.SetDefault("media.max_bytes", 100*1024*1024)
	viper.SetDefault("media.thumbnail_size", 320)
	viper.SetDefault("media.preview_size", 1280)
	viper.SetDefault("media.max_pixels", 50000000)
	viper.SetDefault("scheduler.interval_minutes", 2)
	viper.SetDefault("scheduler.stale_minutes", 10)
	viper.SetDefault("scheduler.batch_size", 50)
	viper.SetDefault("realtime.send_buffer", 128)
	viper.SetDefault("realtime.amqp_exchange", "wa-relay.events")
	viper.SetDefault("middleware.rate_limit", 100)
	viper.SetDefault("middleware.rate_limit_burst", 1000)
	viper.SetDefault("middleware.enable_cors", true)
	viper.SetDefault("middleware.allowed_origins", []string{"*"})

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// WHATSAPP_APP_SECRET overrides whatsapp.app_secret and so on.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Media.SigningSecret == "" {
		return nil, fmt.Errorf("media.signing_secret is required")
	}

	return &config, nil
}

// GetDSN returns PostgreSQL connection string.
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// GetURL returns the PostgreSQL URL form used by golang-migrate.
func (d *DatabaseConfig) GetURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}
