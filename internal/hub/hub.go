// Package hub fans newly created messages out to live subscribers of a room.
package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/cipherroom/internal/metrics"
	"github.com/eldtechnologies/cipherroom/internal/models"
)

// DefaultBuffer is the per-subscriber queue depth.
const DefaultBuffer = 32

// Subscription receives messages for one room until cancelled.
type Subscription struct {
	C    <-chan models.Message
	ch   chan models.Message
	room string
	hub  *Hub
	once sync.Once
}

// Cancel detaches the subscription and closes C. Safe to call twice.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub tracks subscribers per room. Publish never blocks: a subscriber
// whose queue is full misses the message.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Subscription]struct{}
	buffer int
	logger zerolog.Logger
}

// New creates a Hub. buffer <= 0 selects DefaultBuffer.
func New(buffer int, logger zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		rooms:  make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// Subscribe registers interest in room.
func (h *Hub) Subscribe(room string) *Subscription {
	ch := make(chan models.Message, h.buffer)
	sub := &Subscription{C: ch, ch: ch, room: room, hub: h}

	h.mu.Lock()
	subs, ok := h.rooms[room]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.rooms[room] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	metrics.LiveSubscribers.Inc()
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	if subs, ok := h.rooms[sub.room]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.rooms, sub.room)
		}
	}
	close(sub.ch)
	h.mu.Unlock()

	metrics.LiveSubscribers.Dec()
}

// Publish delivers msg to every subscriber of msg.Room.
func (h *Hub) Publish(msg models.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.rooms[msg.Room] {
		select {
		case sub.ch <- msg:
		default:
			metrics.LiveDropped.Inc()
			h.logger.Debug().
				Str("room", msg.Room).
				Uint64("id", msg.ID).
				Msg("dropped live message for slow subscriber")
		}
	}
}

// Subscribers reports the number of subscribers of room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
