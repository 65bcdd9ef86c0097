package handlers

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubestellar/pgboard/pkg/metrics"
)

// Message types sent to websocket clients
const (
	MessageConnected         = "connected"
	MessageSnapshotRefreshed = "snapshot_refreshed"
	MessagePong              = "pong"
)

// Message represents a WebSocket message
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Client represents a WebSocket client
type Client struct {
	conn *websocket.Conn
	id   string
	send chan []byte
}

// Hub maintains active WebSocket connections and fans refresh notifications out to them
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	done       chan struct{}
	closeOnce  sync.Once
	logger     *zap.Logger
	metrics    *metrics.Recorder
}

// NewHub creates a new Hub
func NewHub(logger *zap.Logger, recorder *metrics.Recorder) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("ws"),
		metrics:    recorder,
	}
}

// Run starts the hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.WebsocketClients(n)
			h.logger.Debug("client connected", zap.String("client", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.WebsocketClients(n)
			h.logger.Debug("client disconnected", zap.String("client", client.id))

		case <-h.done:
			return
		}
	}
}

// Close shuts down the hub
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastAll sends a message to all connected clients. Clients with a full buffer miss it.
func (h *Hub) BroadcastAll(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client buffer full, skip
		}
	}
}

// HandleConnection serves one WebSocket connection until it closes
func (h *Hub) HandleConnection(conn *websocket.Conn) {
	client := &Client{
		conn: conn,
		id:   uuid.NewString(),
		send: make(chan []byte, 16),
	}

	if err := conn.WriteJSON(Message{Type: MessageConnected, Data: map[string]string{"clientId": client.id}}); err != nil {
		h.logger.Debug("failed to greet client", zap.Error(err))
		conn.Close()
		return
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Start writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("write failed", zap.String("client", client.id), zap.Error(err))
				return
			}
		}
	}()

	// Reader loop
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket error", zap.String("client", client.id), zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			data, _ := json.Marshal(Message{Type: MessagePong})
			h.mu.RLock()
			if h.clients[client] {
				select {
				case client.send <- data:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
