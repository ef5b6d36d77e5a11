package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/config"
	"github.com/popeskul/wa-relay/internal/models"
	"github.com/popeskul/wa-relay/internal/provider/whatsapp"
)

// ErrServiceUnavailable is returned while the breaker rejects calls.
var ErrServiceUnavailable = errors.New("service unavailable")

var breakerStates = map[gobreaker.State]models.CircuitBreakerState{
	gobreaker.StateClosed:   models.CircuitClosed,
	gobreaker.StateHalfOpen: models.CircuitHalfOpen,
	gobreaker.StateOpen:     models.CircuitOpen,
}

// CircuitBreaker guards calls to the WhatsApp Graph API. One instance is
// created per upstream concern (dispatch, media) so a media outage does
// not block sends.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewCircuitBreaker(name string, cfg *config.CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	logger = logger.With(zap.String("breaker", name))

	return &CircuitBreaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.MaxRequests,
			Interval:    time.Duration(cfg.Interval) * time.Second,
			Timeout:     time.Duration(cfg.Timeout) * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.ConsecutiveFails {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
			},
			OnStateChange: func(_ string, from, to gobreaker.State) {
				logger.Info("Circuit breaker state changed",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
			IsSuccessful: upstreamHealthy,
		}),
		logger: logger,
	}
}

// upstreamHealthy reports whether err leaves the upstream's health intact.
// Caller cancellation and request-level rejections (bad recipient, expired
// media id) are not counted against the Graph API.
func upstreamHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var perr *whatsapp.ProviderError
	if errors.As(err, &perr) {
		switch {
		case perr.StatusCode == http.StatusRequestTimeout, perr.StatusCode == http.StatusTooManyRequests:
			return false
		case perr.StatusCode >= 400 && perr.StatusCode < 500:
			return true
		}
	}
	return false
}

// Execute runs fn through the breaker. A context that is already done
// short-circuits without touching the upstream.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	_, err := cb.cb.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fn()
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		cb.logger.Warn("Circuit breaker is open, request blocked")
		return fmt.Errorf("%w: circuit breaker is open", ErrServiceUnavailable)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		cb.logger.Warn("Circuit breaker is half-open, request rejected")
		return fmt.Errorf("%w: too many requests", ErrServiceUnavailable)
	}
	return err
}

func (cb *CircuitBreaker) GetState() models.CircuitBreakerState {
	if state, ok := breakerStates[cb.cb.State()]; ok {
		return state
	}
	return models.CircuitClosed
}

func (cb *CircuitBreaker) GetCounts() (requests, failures uint32) {
	counts := cb.cb.Counts()
	return counts.Requests, counts.TotalFailures
}

// guarded runs a value-returning call through cb.
func guarded[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func() error {
		v, err := fn()
		out = v
		return err
	})
	return out, err
}
