package sink

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/comet/core/broadcast"
)

const (
	defaultWriteTimeout = 5 * time.Second
	closeGracePeriod    = time.Second
)

type upgradeConfig struct {
	upgrader       websocket.Upgrader
	responseHeader http.Header
}

// UpgradeOption configures Upgrade.
type UpgradeOption func(*upgradeConfig)

func WithReadBuffer(size int) UpgradeOption {
	return func(c *upgradeConfig) { c.upgrader.ReadBufferSize = size }
}

func WithWriteBuffer(size int) UpgradeOption {
	return func(c *upgradeConfig) { c.upgrader.WriteBufferSize = size }
}

func WithHandshakeTimeout(timeout time.Duration) UpgradeOption {
	return func(c *upgradeConfig) { c.upgrader.HandshakeTimeout = timeout }
}

func WithOriginCheck(fn func(r *http.Request) bool) UpgradeOption {
	return func(c *upgradeConfig) { c.upgrader.CheckOrigin = fn }
}

func WithAllowAnyOrigin() UpgradeOption {
	return WithOriginCheck(func(*http.Request) bool { return true })
}

func WithSubprotocols(protocols ...string) UpgradeOption {
	return func(c *upgradeConfig) { c.upgrader.Subprotocols = protocols }
}

func WithUpgradeHeaders(header http.Header) UpgradeOption {
	return func(c *upgradeConfig) { c.responseHeader = header }
}

// Upgrade switches the request to the websocket protocol.
func Upgrade(w http.ResponseWriter, r *http.Request, opts ...UpgradeOption) (*websocket.Conn, error) {
	cfg := &upgradeConfig{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	conn, err := cfg.upgrader.Upgrade(w, r, cfg.responseHeader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpgradeFails, err)
	}
	return conn, nil
}

// WebSocket delivers each message as a text frame.
type WebSocket struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu      sync.Mutex
	closed  bool
	outcome broadcast.Outcome
	done    chan struct{}
}

// WebSocketOption configures a WebSocket sink.
type WebSocketOption func(*WebSocket)

// WithWebSocketID sets the sink ID. Defaults to a random UUID.
func WithWebSocketID(id string) WebSocketOption {
	return func(s *WebSocket) {
		if id != "" {
			s.id = id
		}
	}
}

// WithWriteTimeout bounds a frame write when the delivery context has no
// deadline of its own.
func WithWriteTimeout(d time.Duration) WebSocketOption {
	return func(s *WebSocket) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// NewWebSocket wraps an upgraded connection. The caller keeps ownership of
// conn and closes it after the subscription ends.
func NewWebSocket(conn *websocket.Conn, opts ...WebSocketOption) (*WebSocket, error) {
	if conn == nil {
		return nil, ErrNilConn
	}
	s := &WebSocket{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: defaultWriteTimeout,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *WebSocket) ID() string { return s.id }

// Done is closed when the subscription ends.
func (s *WebSocket) Done() <-chan struct{} { return s.done }

// Outcome returns how the subscription ended, empty while it is live.
func (s *WebSocket) Outcome() broadcast.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *WebSocket) Deliver(ctx context.Context, msg any) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.writeTimeout)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame carrying the outcome as its reason. Abandoned
// connections get no frame since the peer is gone.
func (s *WebSocket) Close(outcome broadcast.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.outcome = outcome
	defer close(s.done)

	if outcome == broadcast.OutcomeAbandoned {
		return
	}
	code := websocket.CloseNormalClosure
	if outcome == broadcast.OutcomeTerminated {
		code = websocket.CloseGoingAway
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, outcome.String()),
		time.Now().Add(closeGracePeriod))
}

// ReadPump discards incoming frames until the peer disconnects or ctx ends.
// Reading is required for control frames to be processed; run it in its own
// goroutine and cancel the subscription context when it returns.
func (s *WebSocket) ReadPump(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}
