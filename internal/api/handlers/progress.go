package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/coarank/backend/internal/manager"
	"github.com/wonny/coarank/backend/pkg/logger"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	clientBuffer   = 64
	maxReadMessage = 512
)

// ProgressHub fans run progress out to websocket subscribers. Slow
// subscribers lose events rather than stalling the run.
type ProgressHub struct {
	mu       sync.RWMutex
	clients  map[*progressClient]struct{}
	last     *manager.Progress
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

type progressClient struct {
	conn *websocket.Conn
	send chan manager.Progress
	once sync.Once
}

func (c *progressClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewProgressHub creates an empty hub.
func NewProgressHub(log *logger.Logger) *ProgressHub {
	return &ProgressHub{
		clients: make(map[*progressClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log.WithField("handler", "progress"),
	}
}

// Publish delivers ev to every subscriber. It never blocks.
func (h *ProgressHub) Publish(ev manager.Progress) {
	h.mu.Lock()
	h.last = &ev
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
		}
	}
}

// Last returns the most recent event, or nil.
func (h *ProgressHub) Last() *manager.Progress {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Clients returns the number of connected subscribers.
func (h *ProgressHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams progress events as JSON.
// GET /ws/progress
func (h *ProgressHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := &progressClient{conn: conn, send: make(chan manager.Progress, clientBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- *h.last
	}
	h.mu.Unlock()

	h.logger.WithField("remote", r.RemoteAddr).Debug("Progress subscriber connected")

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *ProgressHub) remove(c *progressClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// readLoop only tracks liveness; subscribers send nothing meaningful.
func (h *ProgressHub) readLoop(c *progressClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(maxReadMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Debug("Progress subscriber dropped")
			}
			return
		}
	}
}

func (h *ProgressHub) writeLoop(c *progressClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				h.logger.WithError(err).Debug("Failed to write progress event")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber.
func (h *ProgressHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*progressClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}
