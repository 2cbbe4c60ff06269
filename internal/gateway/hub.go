// Package gateway delivers compiled firewall state to the gateway processes of
// each location: a per-location broadcast hub, the session registry, gateway
// tokens and the websocket stream they connect over.
package gateway

import (
	"sync"
	"sync/atomic"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
)

// DefaultBuffer is the subscription buffer used when none is configured.
const DefaultBuffer = 64

// Hub fans gateway events out to the subscribers of each location.
// Publish never blocks: when a subscriber's buffer is full the oldest
// queued event is dropped to make room.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int64]map[*Subscription]struct{}
	buffer int
}

// NewHub creates a Hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[int64]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscription receives the events of one location until closed.
type Subscription struct {
	LocationID int64
	C          <-chan domain.GatewayEvent

	hub     *Hub
	ch      chan domain.GatewayEvent
	sendMu  sync.Mutex
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe registers a subscriber for locationID.
func (h *Hub) Subscribe(locationID int64) *Subscription {
	ch := make(chan domain.GatewayEvent, h.buffer)
	s := &Subscription{LocationID: locationID, C: ch, hub: h, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[locationID] == nil {
		h.subs[locationID] = make(map[*Subscription]struct{})
	}
	h.subs[locationID][s] = struct{}{}
	return s
}

// Publish delivers event to every subscriber of its location and returns how
// many subscribers it reached.
func (h *Hub) Publish(event domain.GatewayEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for s := range h.subs[event.LocationID] {
		s.offer(event)
		delivered++
	}
	return delivered
}

// Subscribers returns the number of live subscriptions for locationID.
func (h *Hub) Subscribers(locationID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[locationID])
}

// offer enqueues event, evicting the oldest queued event if the buffer is full.
// Callers hold the hub read lock, so the channel cannot be closed underneath.
func (s *Subscription) offer(event domain.GatewayEvent) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	for {
		select {
		case s.ch <- event:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// Dropped returns how many events were evicted from this subscription.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Drain discards every queued event.
func (s *Subscription) Drain() {
	for {
		select {
		case <-s.ch:
		default:
			return
		}
	}
}

// Close unregisters the subscription and closes C. It is safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if set := h.subs[s.LocationID]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.LocationID)
			}
		}
		close(s.ch)
	})
}
