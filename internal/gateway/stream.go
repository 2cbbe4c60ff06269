package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/fasthttp/websocket"
	"github.com/sirupsen/logrus"
)

// Message types exchanged on the stream.
const (
	MessageConfigRequest = "config_request"
	MessageConfig        = "config"
	MessageEvent         = "event"
)

// ClientMessage is sent by gateways.
type ClientMessage struct {
	Type string `json:"type"`
}

// ServerMessage is sent to gateways. Config answers a config request with the
// full current state; Event forwards a later change.
type ServerMessage struct {
	Type      string               `json:"type"`
	SessionID string               `json:"sessionId,omitempty"`
	Event     *domain.GatewayEvent `json:"event,omitempty"`
}

// StateSource computes the full firewall state of a location.
type StateSource interface {
	CurrentState(ctx context.Context, locationID int64) (domain.GatewayEvent, error)
}

// StreamConfig tunes the stream transport.
type StreamConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// Stream is the http.Handler gateways connect to.
type Stream struct {
	hub      *Hub
	sessions *Registry
	tokens   *TokenIssuer
	state    StateSource
	cfg      StreamConfig
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	closing   chan struct{}
	closeOnce sync.Once
}

// NewStream creates the gateway stream handler.
func NewStream(hub *Hub, sessions *Registry, tokens *TokenIssuer, state StateSource, cfg StreamConfig, log logrus.FieldLogger) *Stream {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Stream{
		hub:      hub,
		sessions: sessions,
		tokens:   tokens,
		state:    state,
		cfg:      cfg,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Gateways are not browsers; the bearer token is the only credential.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		closing: make(chan struct{}),
	}
}

// Shutdown asks every open session to close. Hijacked connections are not
// tracked by http.Server, so call this before shutting the server down.
func (s *Stream) Shutdown() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(domain.StandardErrorResponse{
		Error: domain.StandardError{Code: domain.ErrCodeUnauthorized, Message: message},
	})
}

// ServeHTTP authenticates the gateway, upgrades the connection and runs the
// session until either side goes away.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	locationID, err := s.tokens.Verify(bearerToken(r))
	if err != nil {
		s.log.WithError(err).WithField("remote_addr", r.RemoteAddr).Warn("Rejected gateway connection")
		writeUnauthorized(w, "invalid or missing gateway token")
		return
	}

	session := s.sessions.Open(locationID, r.RemoteAddr)
	defer s.sessions.Close(session)
	log := s.log.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"location_id": locationID,
	})

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Gateway websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Subscribe before the config request so no change is lost in between.
	sub := s.hub.Subscribe(locationID)
	defer sub.Close()

	if err := session.Transition(StateConnected); err != nil {
		log.WithError(err).Error("Gateway session transition failed")
		return
	}
	log.Info("Gateway connected")

	requests := make(chan struct{}, 1)
	readDone := make(chan error, 1)
	go s.readLoop(conn, requests, readDone)

	err = s.writeLoop(r.Context(), conn, session, sub, requests, readDone, log)
	switch {
	case err == nil, websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		log.Info("Gateway disconnected")
	default:
		log.WithError(err).Warn("Gateway disconnected")
	}
}

// readLoop is the only reader of conn. It signals config requests and
// reports the error that ended the connection.
func (s *Stream) readLoop(conn *websocket.Conn, requests chan<- struct{}, done chan<- error) {
	conn.SetReadLimit(4096)
	deadline := func() error {
		return conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
	}
	_ = deadline()
	conn.SetPongHandler(func(string) error { return deadline() })

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			done <- err
			return
		}
		_ = deadline()
		if msg.Type != MessageConfigRequest {
			continue
		}
		select {
		case requests <- struct{}{}:
		default:
		}
	}
}

// writeLoop is the only writer of conn.
func (s *Stream) writeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	session *Session,
	sub *Subscription,
	requests <-chan struct{},
	readDone <-chan error,
	log logrus.FieldLogger,
) error {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	// Events are only forwarded once the gateway holds a full config.
	var events <-chan domain.GatewayEvent

	for {
		select {
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(s.cfg.WriteTimeout))
			return nil

		case err := <-readDone:
			return err

		case <-requests:
			// Queued events are older than the state about to be sent.
			sub.Drain()
			state, err := s.state.CurrentState(ctx, session.LocationID)
			if errors.Is(err, domain.ErrNotFound) {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "location not found"),
					time.Now().Add(s.cfg.WriteTimeout))
				return err
			}
			if err != nil {
				return err
			}
			if err := s.send(conn, ServerMessage{Type: MessageConfig, SessionID: session.ID, Event: &state}); err != nil {
				return err
			}
			session.recordEvent(time.Now().UTC())
			if session.State() != StateStreaming {
				if err := session.Transition(StateStreaming); err != nil {
					return err
				}
				log.WithField("event", state.Kind).Info("Gateway configured")
			}
			events = sub.C

		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.send(conn, ServerMessage{Type: MessageEvent, Event: &event}); err != nil {
				return err
			}
			session.recordEvent(time.Now().UTC())

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return err
			}
		}
	}
}

func (s *Stream) send(conn *websocket.Conn, msg ServerMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
