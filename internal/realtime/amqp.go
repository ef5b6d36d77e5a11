package realtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	maxDialDelay   = 60 * time.Second
	publishTimeout = 5 * time.Second
)

type DialOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
}

// DialWithRetry connects to RabbitMQ with exponential backoff.
func DialWithRetry(ctx context.Context, opts DialOptions, logger *zap.Logger) (*amqp091.Connection, error) {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	var lastErr error

	for i := 1; i <= opts.RetryAttempts; i++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				logger.Info("AMQP connected", zap.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		if i == opts.RetryAttempts {
			break
		}

		sleep := opts.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		logger.Warn("AMQP dial failed",
			zap.Int("attempt", i),
			zap.Duration("sleep", sleep),
			zap.Error(err))

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", opts.RetryAttempts, lastErr)
}

// AMQPRelay republishes broadcast envelopes to a topic exchange, using the
// event name as routing key. Publish failures are logged and never reported
// to the hub, so the relay stays registered across broker hiccups.
type AMQPRelay struct {
	conn     *amqp091.Connection
	exchange string
	logger   *zap.Logger

	mu sync.Mutex
	ch *amqp091.Channel
}

func NewAMQPRelay(conn *amqp091.Connection, exchange string, logger *zap.Logger) (*AMQPRelay, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPRelay{
		conn:     conn,
		exchange: exchange,
		logger:   logger,
		ch:       ch,
	}, nil
}

func (r *AMQPRelay) ID() string {
	return "amqp:" + r.exchange
}

func (r *AMQPRelay) Send(event string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := r.publish(ctx, event, payload); err != nil {
		r.logger.Warn("Failed to relay event",
			zap.String("exchange", r.exchange),
			zap.String("event", event),
			zap.Error(err))
	}
	return nil
}

func (r *AMQPRelay) publish(ctx context.Context, key string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	}

	err := r.ch.PublishWithContext(ctx, r.exchange, key, false, false, msg)
	if !errors.Is(err, amqp091.ErrClosed) {
		return err
	}

	// the channel dies on some broker errors; reopen once
	ch, chErr := r.conn.Channel()
	if chErr != nil {
		return fmt.Errorf("failed to reopen channel: %w", chErr)
	}
	r.ch = ch
	return r.ch.PublishWithContext(ctx, r.exchange, key, false, false, msg)
}

func (r *AMQPRelay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ch.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		r.logger.Warn("Failed to close AMQP channel", zap.Error(err))
	}
	if err := r.conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		r.logger.Warn("Failed to close AMQP connection", zap.Error(err))
	}
}

var (
	_ Observer = (*AMQPRelay)(nil)
	_ Observer = (*Connection)(nil)
)
