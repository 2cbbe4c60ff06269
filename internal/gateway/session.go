package gateway

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a gateway connection.
type SessionState string

const (
	// StateConnecting: authenticated, websocket not yet established.
	StateConnecting SessionState = "connecting"
	// StateConnected: websocket up, waiting for the gateway's config request.
	StateConnected SessionState = "connected"
	// StateStreaming: full config sent, live events are forwarded.
	StateStreaming SessionState = "configured_and_streaming"
	// StateDisconnected is terminal. Pushes are never retried; a gateway that
	// reconnects requests its config again.
	StateDisconnected SessionState = "disconnected"
)

var transitions = map[SessionState][]SessionState{
	StateConnecting: {StateConnected, StateDisconnected},
	StateConnected:  {StateStreaming, StateDisconnected},
	StateStreaming:  {StateDisconnected},
}

// Session tracks one gateway connection.
type Session struct {
	ID          string
	LocationID  int64
	RemoteAddr  string
	ConnectedAt time.Time

	mu        sync.Mutex
	state     SessionState
	lastEvent time.Time
	events    uint64
}

// SessionInfo is a point-in-time view of a Session.
type SessionInfo struct {
	ID          string       `json:"id"`
	LocationID  int64        `json:"locationId"`
	RemoteAddr  string       `json:"remoteAddr"`
	State       SessionState `json:"state"`
	ConnectedAt time.Time    `json:"connectedAt"`
	LastEventAt *time.Time   `json:"lastEventAt,omitempty"`
	Events      uint64       `json:"events"`
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to next. Moving to the current state is a no-op.
func (s *Session) Transition(next SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == next {
		return nil
	}
	if !slices.Contains(transitions[s.state], next) {
		return fmt.Errorf("session %s: %s -> %s: %w", s.ID, s.state, next, domain.ErrInvalidState)
	}
	s.state = next
	return nil
}

func (s *Session) recordEvent(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEvent = at
	s.events++
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ID:          s.ID,
		LocationID:  s.LocationID,
		RemoteAddr:  s.RemoteAddr,
		State:       s.state,
		ConnectedAt: s.ConnectedAt,
		Events:      s.events,
	}
	if !s.lastEvent.IsZero() {
		t := s.lastEvent
		info.LastEventAt = &t
	}
	return info
}

// Registry tracks the live gateway sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Open registers a new session in state Connecting.
func (r *Registry) Open(locationID int64, remoteAddr string) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		LocationID:  locationID,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now().UTC(),
		state:       StateConnecting,
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Close marks the session Disconnected and forgets it.
func (r *Registry) Close(s *Session) {
	_ = s.Transition(StateDisconnected)
	r.mu.Lock()
	delete(r.sessions, s.ID)
	r.mu.Unlock()
}

// Get returns a live session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns the live sessions of locationID, oldest first.
func (r *Registry) List(locationID int64) []SessionInfo {
	r.mu.RLock()
	out := []SessionInfo{}
	for _, s := range r.sessions {
		if s.LocationID == locationID {
			out = append(out, s.Info())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b SessionInfo) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
