package feed

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hub fans every broadcast out to all connected WebSocket clients. The
// protocol is push-only: anything a client sends is read and discarded.
type Hub struct {
	upgrader   websocket.Upgrader
	sendBuffer int
	log        *log.Logger
	metrics    *Metrics

	mu      sync.RWMutex
	clients map[uuid.UUID]*hubClient
	closed  bool
}

type hubClient struct {
	id    uuid.UUID
	conn  *websocket.Conn
	agent string
	send  chan []byte
	done  chan struct{}
	once  sync.Once
}

func (c *hubClient) stop() {
	c.once.Do(func() { close(c.done) })
}

// NewHub builds a hub. sendBuffer is how many frames a client may fall behind
// before it is disconnected.
func NewHub(sendBuffer int, metrics *Metrics, logger *log.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	if logger == nil {
		logger = log.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sendBuffer: sendBuffer,
		log:        logger,
		metrics:    metrics,
		clients:    make(map[uuid.UUID]*hubClient),
	}
}

// ServeWS upgrades the request and blocks until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Printf("[feed] Upgrade failed: %v", err)
		return
	}
	c := &hubClient{
		id:    uuid.New(),
		conn:  conn,
		agent: r.UserAgent(),
		send:  make(chan []byte, h.sendBuffer),
		done:  make(chan struct{}),
	}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	go h.writePump(c)
	h.readPump(c)
	h.unregister(c)
}

func (h *Hub) register(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	h.metrics.Clients.Set(float64(len(h.clients)))
	h.log.Printf("[feed] New client %s (%s), number of clients: %d", c.id, c.agent, len(h.clients))
	return true
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		h.metrics.Clients.Set(float64(len(h.clients)))
		h.log.Printf("[feed] Removing disconnected client %s, number of clients: %d", c.id, len(h.clients))
	}
	h.mu.Unlock()
	c.stop()
}

func (h *Hub) readPump(c *hubClient) {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.log.Printf("[feed] Write to client %s failed: %v", c.id, err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// Broadcast queues payload for every client. A client whose queue is full is
// disconnected rather than allowed to stall the others; per-client order is
// preserved.
func (h *Hub) Broadcast(payload []byte) {
	var slow []*hubClient
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.log.Printf("[feed] Client %s is too slow, disconnecting", c.id)
		h.metrics.Dropped.Inc()
		h.unregister(c)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, id)
	}
	h.metrics.Clients.Set(0)
	h.mu.Unlock()
	for _, c := range clients {
		c.stop()
	}
}
