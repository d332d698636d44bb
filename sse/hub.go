// Package sse keeps the open change-notification streams per user.
package sse

import (
	"encoding/json"
	"sync"

	"github.com/XeroHax/accountability-app/logger"
	"github.com/XeroHax/accountability-app/metrics"
	"github.com/XeroHax/accountability-app/models"
	"go.uber.org/zap"
)

const DefaultBuffer = 100

type ClientStream struct {
	UserID   string
	Messages chan []byte
	Done     chan struct{}
}

// Hub fans task events out to every stream a user has open.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]map[*ClientStream]struct{}
	buffer  int
	closed  bool
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		streams: make(map[string]map[*ClientStream]struct{}),
		buffer:  buffer,
	}
}

// Subscribe opens a stream for userID. The returned func unsubscribes it and
// is safe to call more than once.
func (h *Hub) Subscribe(userID string) (*ClientStream, func()) {
	cs := &ClientStream{
		UserID:   userID,
		Messages: make(chan []byte, h.buffer),
		Done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(cs.Done)
		return cs, func() {}
	}
	if h.streams[userID] == nil {
		h.streams[userID] = make(map[*ClientStream]struct{})
	}
	h.streams[userID][cs] = struct{}{}
	h.mu.Unlock()

	metrics.StreamOpened()
	logger.Get().Debug("stream subscribed", zap.String("user_id", userID))

	var once sync.Once
	return cs, func() {
		once.Do(func() { h.remove(cs) })
	}
}

func (h *Hub) remove(cs *ClientStream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	streams, ok := h.streams[cs.UserID]
	if !ok {
		return
	}
	if _, ok := streams[cs]; !ok {
		return
	}
	delete(streams, cs)
	if len(streams) == 0 {
		delete(h.streams, cs.UserID)
	}
	close(cs.Done)
	metrics.StreamClosed()
	logger.Get().Debug("stream unsubscribed", zap.String("user_id", cs.UserID))
}

// Send delivers evt to the user's open streams without blocking. A stream
// whose buffer is full misses the event. It returns the number of streams
// that received it.
func (h *Hub) Send(evt models.TaskEvent) int {
	data, err := json.Marshal(evt)
	if err != nil {
		logger.Get().Error("failed to marshal task event", zap.String("user_id", evt.UserID), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for cs := range h.streams[evt.UserID] {
		select {
		case cs.Messages <- data:
			delivered++
		default:
			logger.Get().Warn("stream buffer full, dropping event",
				zap.String("user_id", evt.UserID),
				zap.String("type", string(evt.Type)))
		}
	}
	return delivered
}

// Listeners returns the number of open streams for userID.
func (h *Hub) Listeners(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[userID])
}

// Close ends every open stream. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for userID, streams := range h.streams {
		for cs := range streams {
			close(cs.Done)
			metrics.StreamClosed()
		}
		delete(h.streams, userID)
	}
}
