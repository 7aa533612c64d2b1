package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = time.Second
	// queueSize is how many encoded messages wait for the writer before new ones are dropped.
	queueSize = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Hub fans JSON messages out to every connected websocket client. Writes happen on
// the hub's own goroutine, so Broadcast never waits on a slow client.
type Hub struct {
	logger  *zap.SugaredLogger
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex

	queue     chan []byte
	quit      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// NewHub creates an empty hub and starts its writer. CloseAll stops it.
func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	h := &Hub{
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		queue:   make(chan []byte, queueSize),
		quit:    make(chan struct{}),
	}
	go h.writeLoop()
	return h
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	h.logger.Debugw("client connected", "remote", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		h.logger.Debugw("client disconnected", "remote", r.RemoteAddr)
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were discarded because the writer was behind.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Broadcast encodes msg once and queues it for every client. When the queue is
// full the message is dropped.
func (h *Hub) Broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("encode broadcast", "error", err)
		return
	}

	select {
	case <-h.quit:
		return
	default:
	}
	select {
	case h.queue <- data:
	default:
		h.dropped.Add(1)
		h.logger.Debug("broadcast queue full, dropping message")
	}
}

func (h *Hub) writeLoop() {
	for {
		select {
		case <-h.quit:
			return
		case data := <-h.queue:
			h.write(data)
		}
	}
}

// write sends data to every client. A client whose write fails is disconnected.
func (h *Hub) write(data []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debugw("dropping client", "error", err)
			conn.Close()
		}
	}
}

// CloseAll stops the writer and disconnects every client.
func (h *Hub) CloseAll() {
	if h == nil {
		return
	}
	h.closeOnce.Do(func() { close(h.quit) })
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
		conn.Close()
	}
}
