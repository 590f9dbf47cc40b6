package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fileshare/fileshare/pkg/types"
	"github.com/fileshare/fileshare/server/internal/entity"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	// maxMessageSize bounds inbound frames; their content is ignored.
	maxMessageSize = 512
)

// PathPrefix is where the hub is mounted.
const PathPrefix = "/websocket/"

var (
	errClosed     = errors.New("ws: connection closed")
	errBufferFull = errors.New("ws: send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Entities is the subset of entity.Manager the hub needs.
type Entities interface {
	Observable(ctx context.Context, key string) (types.Liveness, error)
	Subscribe(ctx context.Context, key string, o entity.Observer) error
	Unsubscribe(ctx context.Context, key, id string) error
	OnMessage(ctx context.Context, key, id string) error
}

// Hub tracks WebSocket observers and wires them to their entities.
type Hub struct {
	entities Entities

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client is one connected observer. It implements entity.Observer.
type client struct {
	id   string
	key  string
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
	closeMsg  []byte
}

// New creates a Hub serving observers of entities.
func New(entities Entities) *Hub {
	return &Hub{
		entities: entities,
		clients:  make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the request to a WebSocket observing the entity named
// by the path and serves it until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, PathPrefix)
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected websocket upgrade", http.StatusBadRequest)
		return
	}
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	l, err := h.entities.Observable(ctx, key)
	if err != nil {
		slog.Error("ws: liveness check failed", "key", key, "err", err)
		http.Error(w, "liveness check failed", http.StatusServiceUnavailable)
		return
	}
	if !l.Active {
		http.Error(w, "no live entity", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		id:   uuid.NewString(),
		key:  key,
		conn: conn,
		send: make(chan []byte, sendBufSize),
		done: make(chan struct{}),
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()

	if err := h.entities.Subscribe(ctx, key, c); err != nil {
		// Expired between the probe and the subscribe.
		slog.Debug("ws: subscribe refused", "key", key, "err", err)
		c.Close(types.CloseExpired, types.CloseReasonExpired) //nolint:errcheck
		c.readPump(nil)
		return
	}
	slog.Debug("ws: observer connected", "key", key, "observer", c.id)

	c.readPump(func() {
		if err := h.entities.OnMessage(ctx, key, c.id); err != nil {
			slog.Warn("ws: message handling failed", "key", key, "err", err)
		}
	})

	if err := h.entities.Unsubscribe(ctx, key, c.id); err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("ws: unsubscribe failed", "key", key, "err", err)
	}
	slog.Debug("ws: observer disconnected", "key", key, "observer", c.id)
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.Close(websocket.CloseNormalClosure, "") //nolint:errcheck
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close(websocket.CloseGoingAway, "server shutting down") //nolint:errcheck
		delete(h.clients, c)
	}
}

// ID implements entity.Observer.
func (c *client) ID() string { return c.id }

// Send queues msg without blocking. It fails once the client is closed or
// its buffer is full.
func (c *client) Send(msg []byte) error {
	select {
	case <-c.done:
		return errClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errBufferFull
	}
}

// Close asks the write pump to send a close frame and hang up. Only the
// first call has an effect.
func (c *client) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeMsg = websocket.FormatCloseMessage(code, reason)
		close(c.done)
	})
	return nil
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.flush()
			deadline := time.Now().Add(writeTimeout)
			c.conn.WriteControl(websocket.CloseMessage, c.closeMsg, deadline) //nolint:errcheck
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes whatever is still queued before the close frame.
func (c *client) flush() {
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump reads frames from the connection, calling onMessage for each data
// frame, and detects disconnects. Blocks until the connection closes.
func (c *client) readPump(onMessage func()) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if onMessage != nil {
			onMessage()
		}
	}
}
