package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp" // stickers arrive as webp

	"github.com/popeskul/wa-relay/internal/mediastore"
	"github.com/popeskul/wa-relay/internal/models"
)

const (
	jpegQuality    = 82
	ffmpegTimeout  = 30 * time.Second
	ffmpegFrameArg = "00:00:01"
)

// deriver produces thumbnails and previews. Every failure is logged and
// swallowed.
type deriver struct {
	store         *mediastore.Store
	thumbnailSize int
	previewSize   int
	maxPixels     int64
	ffmpeg        string
	logger        *zap.Logger
	now           func() time.Time
}

func newDeriver(store *mediastore.Store, cfg Config, logger *zap.Logger) *deriver {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		logger.Info("ffmpeg not found, video thumbnails disabled")
		ffmpeg = ""
	}
	return &deriver{
		store:         store,
		thumbnailSize: cfg.ThumbnailSize,
		previewSize:   cfg.PreviewSize,
		maxPixels:     cfg.MaxPixels,
		ffmpeg:        ffmpeg,
		logger:        logger,
		now:           time.Now,
	}
}

func (d *deriver) derive(ctx context.Context, messageID int64, media *models.MediaDescriptor, layout mediastore.InboundLayout) {
	var (
		img image.Image
		err error
	)

	switch media.Type {
	case models.MediaTypeImage:
		img, err = d.decodeStored(media.Storage.Original)
	case models.MediaTypeVideo:
		if d.ffmpeg == "" {
			return
		}
		img, err = d.videoFrame(ctx, media.Storage.Original)
	default:
		return
	}
	if err != nil {
		d.logger.Warn("Failed to decode media for derivatives",
			zap.Int64("messageID", messageID),
			zap.String("type", string(media.Type)),
			zap.Error(err))
		return
	}

	bounds := img.Bounds()
	media.Width = bounds.Dx()
	media.Height = bounds.Dy()

	if err := d.writeJPEG(layout.Thumbnail, imaging.Fit(img, d.thumbnailSize, d.thumbnailSize, imaging.Lanczos)); err != nil {
		d.logger.Warn("Failed to write thumbnail", zap.Int64("messageID", messageID), zap.Error(err))
		return
	}
	media.Storage.Thumbnail = layout.Thumbnail
	now := d.now().UTC()
	media.ThumbnailGeneratedAt = &now

	// images larger than the preview edge also get a mid-size rendition
	if media.Type == models.MediaTypeImage && (media.Width > d.previewSize || media.Height > d.previewSize) {
		if err := d.writeJPEG(layout.Preview, imaging.Fit(img, d.previewSize, d.previewSize, imaging.Lanczos)); err != nil {
			d.logger.Warn("Failed to write preview", zap.Int64("messageID", messageID), zap.Error(err))
			return
		}
		media.Storage.Preview = layout.Preview
	}
}

func (d *deriver) decodeStored(rel string) (image.Image, error) {
	f, err := d.store.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := d.checkDimensions(f); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind image: %w", err)
	}

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// videoFrame pipes the stored video through ffmpeg and decodes one frame.
func (d *deriver) videoFrame(ctx context.Context, rel string) (image.Image, error) {
	f, err := d.store.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, ffmpegTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ss", ffmpegFrameArg,
		"-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "mjpeg",
		"pipe:1",
	)
	cmd.Stdin = f
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frame")
	}

	frame := bytes.NewReader(stdout.Bytes())
	if err := d.checkDimensions(frame); err != nil {
		return nil, err
	}
	if _, err := frame.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to decode video frame: %w", err)
	}
	return img, nil
}

// checkDimensions reads only the image header and refuses anything whose
// decoded bitmap would exceed maxPixels.
func (d *deriver) checkDimensions(r io.Reader) error {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return fmt.Errorf("failed to read image header: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > d.maxPixels {
		return fmt.Errorf("%w: %s %dx%d", ErrImageTooLarge, format, cfg.Width, cfg.Height)
	}
	return nil
}

func (d *deriver) writeJPEG(rel string, img image.Image) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return fmt.Errorf("failed to encode jpeg: %w", err)
	}
	_, err := d.store.Write(rel, &buf)
	return err
}
