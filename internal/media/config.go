package media

import (
	"time"

	"github.com/popeskul/wa-relay/internal/config"
)

type Config struct {
	Workers       int
	QueueSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration
	MaxBytes      int64
	ThumbnailSize int
	PreviewSize   int
	JobTimeout    time.Duration
	// MaxPixels bounds width*height of images decoded for derivatives.
	MaxPixels int64
}

func NewConfig(c *config.MediaConfig) Config {
	cfg := Config{
		Workers:       c.Workers,
		QueueSize:     c.QueueSize,
		MaxAttempts:   c.MaxAttempts,
		RetryBackoff:  time.Duration(c.RetryBackoffSeconds) * time.Second,
		MaxBytes:      c.MaxBytes,
		ThumbnailSize: c.ThumbnailSize,
		PreviewSize:   c.PreviewSize,
		MaxPixels:     c.MaxPixels,
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.ThumbnailSize <= 0 {
		c.ThumbnailSize = 320
	}
	if c.PreviewSize <= 0 {
		c.PreviewSize = 1280
	}
	if c.MaxPixels <= 0 {
		c.MaxPixels = 50_000_000
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	return c
}
