package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketbay/api/internal/platform/auth"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPongTimeout  = 60 * time.Second
	defaultPingInterval = 25 * time.Second
	defaultSendBuffer   = 16
)

// clientMessage is what clients send upstream. Only the join handshake is
// acted on; everything else is ignored.
type clientMessage struct {
	Event  string `json:"event"`
	UserID string `json:"userId,omitempty"`
}

// HubOption customises hub behaviour.
type HubOption func(*Hub)

// WithHubLogger injects the structured log sink.
func WithHubLogger(logger func(ctx context.Context, event string, fields map[string]any)) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithCheckOrigin overrides the websocket origin check.
func WithCheckOrigin(check func(r *http.Request) bool) HubOption {
	return func(h *Hub) {
		if check != nil {
			h.upgrader.CheckOrigin = check
		}
	}
}

// Hub upgrades HTTP requests to websocket sessions and registers them under
// the authenticated user. The client completes the handshake with a join
// message; pushed notifications arrive as newNotification envelopes.
type Hub struct {
	registry *Registry
	upgrader websocket.Upgrader
	logger   func(ctx context.Context, event string, fields map[string]any)

	writeTimeout time.Duration
	pongTimeout  time.Duration
	pingInterval time.Duration
	sendBuffer   int
}

// NewHub constructs a Hub over the registry.
func NewHub(registry *Registry, opts ...HubOption) (*Hub, error) {
	if registry == nil {
		return nil, errors.New("realtime: hub requires registry")
	}
	h := &Hub{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:       func(context.Context, string, map[string]any) {},
		writeTimeout: defaultWriteTimeout,
		pongTimeout:  defaultPongTimeout,
		pingInterval: defaultPingInterval,
		sendBuffer:   defaultSendBuffer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// ServeHTTP upgrades the connection and pumps messages until either side
// closes. The user identity comes from the auth middleware, never from the
// client's join payload.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger(r.Context(), "realtime.upgrade.failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	session := newWSSession(conn, h.sendBuffer, h.writeTimeout)
	unregister, err := h.registry.Register(identity.UID, session)
	if err != nil {
		_ = conn.Close()
		return
	}

	h.logger(r.Context(), "realtime.session.opened", map[string]any{
		"userId": identity.UID,
	})

	go session.writePump(h.pingInterval)
	h.readPump(r.Context(), identity.UID, session)

	unregister()
	_ = session.Close()
	h.logger(r.Context(), "realtime.session.closed", map[string]any{
		"userId": identity.UID,
	})
}

// readPump consumes inbound frames. Join messages are acknowledged; other
// messages keep the connection alive but carry no meaning.
func (h *Hub) readPump(ctx context.Context, userID string, session *wsSession) {
	conn := session.conn
	conn.SetReadLimit(4 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Event == "join" {
			ack, _ := json.Marshal(envelope{Event: "joined", Data: map[string]string{"userId": userID}})
			if err := session.Send(ctx, ack); err != nil {
				return
			}
		}
	}
}

// wsSession wraps one websocket connection behind a buffered send channel so
// pushes never block the publisher.
type wsSession struct {
	conn         *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	closeOnce    sync.Once
	done         chan struct{}
}

func newWSSession(conn *websocket.Conn, buffer int, writeTimeout time.Duration) *wsSession {
	return &wsSession{
		conn:         conn,
		send:         make(chan []byte, buffer),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// Send queues the payload for delivery. A full buffer or a closed session
// reports an error instead of blocking.
func (s *wsSession) Send(ctx context.Context, payload []byte) error {
	select {
	case <-s.done:
		return errors.New("realtime: session closed")
	case <-ctx.Done():
		return ctx.Err()
	case s.send <- payload:
		return nil
	default:
		return errors.New("realtime: session buffer full")
	}
}

// Close tears the connection down and stops the write pump.
func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *wsSession) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				_ = s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = s.Close()
				return
			}
		}
	}
}

// Ensure interface compliance.
var _ Session = (*wsSession)(nil)
