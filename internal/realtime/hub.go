// Package realtime fans state changes out to live observers.
package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/models"
)

var ErrHubClosed = errors.New("hub is closed")

// Observer receives serialized envelopes. A Send error removes the observer
// from the hub.
type Observer interface {
	ID() string
	Send(event string, payload []byte) error
	Close()
}

// Hub owns the set of connected observers.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]Observer
	closed    bool
	logger    *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		observers: make(map[string]Observer),
		logger:    logger,
	}
}

func (h *Hub) Register(o Observer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	h.observers[o.ID()] = o
	h.logger.Debug("Observer registered", zap.String("observerID", o.ID()), zap.Int("observers", len(h.observers)))
	return nil
}

// Unregister removes o if it is still the observer registered under its id.
func (h *Hub) Unregister(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.observers[o.ID()]; ok && current == o {
		delete(h.observers, o.ID())
		h.logger.Debug("Observer unregistered", zap.String("observerID", o.ID()), zap.Int("observers", len(h.observers)))
	}
}

// Publish serializes {event, data} once and hands it to every observer. It
// returns the number of observers that accepted the envelope.
func (h *Hub) Publish(event string, data any) int {
	payload, err := json.Marshal(models.Envelope{Event: event, Data: data})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast envelope", zap.String("event", event), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	snapshot := make([]Observer, 0, len(h.observers))
	for _, o := range h.observers {
		snapshot = append(snapshot, o)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, o := range snapshot {
		if err := h.send(o, event, payload); err != nil {
			h.logger.Warn("Dropping observer after failed send",
				zap.String("observerID", o.ID()),
				zap.String("event", event),
				zap.Error(err))
			h.Unregister(o)
			o.Close()
			continue
		}
		delivered++
	}

	return delivered
}

func (h *Hub) send(o Observer, event string, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("observer panicked")
		}
	}()
	return o.Send(event, payload)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Close closes every observer and rejects further registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	observers := make([]Observer, 0, len(h.observers))
	for _, o := range h.observers {
		observers = append(observers, o)
	}
	h.observers = make(map[string]Observer)
	h.closed = true
	h.mu.Unlock()

	for _, o := range observers {
		o.Close()
	}
}
