package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/stationmap/pkg/logger"
)

// Message types pushed to browsers
const (
	MessageTypeStationsUpdated  = "stations_updated"
	MessageTypeCacheInvalidated = "cache_invalidated"
	MessageTypeSubscribe        = "subscribe" // Client selects the kinds it wants updates for
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

// Message represents a WebSocket message
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Client represents a WebSocket client
type Client struct {
	conn   *websocket.Conn
	send   chan *Message
	server *Server
	mu     sync.Mutex
	closed bool
	kinds  map[string]bool // empty means every kind
}

// Server fans out station events to connected browsers
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	upgrader   websocket.Upgrader
	logger     *logger.Logger
	mu         sync.RWMutex
	done       chan struct{}
}

// NewServer creates a new WebSocket server
func NewServer(log *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, sendBufferSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		logger: log.Named("web-socket"),
		done:   make(chan struct{}),
	}
}

// Run dispatches registrations and broadcasts until ctx is cancelled.
// It must be called at most once.
func (s *Server) Run(ctx context.Context) {
	s.logger.Info("Starting WebSocket server")
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for client := range s.clients {
				s.dropLocked(client)
			}
			s.mu.Unlock()
			s.logger.Info("WebSocket server stopped")
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", logger.Int("client_count", clientCount))

		case client := <-s.unregister:
			s.mu.Lock()
			s.dropLocked(client)
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", logger.Int("client_count", clientCount))

		case message := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				if !client.wants(message) {
					continue
				}
				select {
				case client.send <- message:
				default:
					// Slow client, drop it
					s.dropLocked(client)
				}
			}
			s.mu.Unlock()
		}
	}
}

// dropLocked must be called with mu held
func (s *Server) dropLocked(client *Client) {
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	client.mu.Lock()
	if !client.closed {
		client.closed = true
		close(client.send)
	}
	client.mu.Unlock()
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HandleConnection handles a WebSocket connection
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("Handling new WebSocket connection request",
		logger.String("remote_addr", r.RemoteAddr),
		logger.String("user_agent", r.UserAgent()))

	// Upgrade HTTP connection to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan *Message, sendBufferSize),
		server: s,
		kinds:  map[string]bool{},
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// Broadcast queues a message for every interested client. It never blocks;
// when the queue is full the message is dropped.
func (s *Server) Broadcast(message *Message) {
	select {
	case s.broadcast <- message:
		s.logger.Debug("Broadcasting message",
			logger.String("message_type", message.Type))
	default:
		s.logger.Warn("Broadcast queue full, dropping message",
			logger.String("message_type", message.Type))
	}
}

// StationsUpdated announces a refreshed table
func (s *Server) StationsUpdated(kind string, rows int) {
	s.Broadcast(&Message{
		Type: MessageTypeStationsUpdated,
		Data: map[string]any{
			"kind":       kind,
			"rows":       rows,
			"updated_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// CacheInvalidated announces a removed cache artifact
func (s *Server) CacheInvalidated(kind string) {
	s.Broadcast(&Message{
		Type: MessageTypeCacheInvalidated,
		Data: map[string]any{"kind": kind},
	})
}

// wants reports whether the client subscribed to the message's kind
func (c *Client) wants(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.kinds) == 0 {
		return true
	}
	kind, _ := message.Data["kind"].(string)
	return kind == "" || c.kinds[kind]
}

func (c *Client) subscribe(data map[string]any) {
	kinds := map[string]bool{}
	if list, ok := data["kinds"].([]any); ok {
		for _, k := range list {
			if s, ok := k.(string); ok {
				kinds[s] = true
			}
		}
	}

	c.mu.Lock()
	c.kinds = kinds
	c.mu.Unlock()
}

// readPump reads subscription messages until the connection closes
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		c.conn.Close()
	}()

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", logger.Error(err))
			}
			return
		}

		var message Message
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			c.server.logger.Warn("Failed to parse WebSocket message", logger.Error(err))
			continue
		}

		switch message.Type {
		case MessageTypeSubscribe:
			c.subscribe(message.Data)
			c.server.logger.Debug("Client subscription updated",
				logger.String("client", c.conn.RemoteAddr().String()))
		default:
			c.server.logger.Debug("Ignoring WebSocket message",
				logger.String("type", message.Type))
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(message); err != nil {
			c.server.logger.Debug("Failed to write message", logger.Error(err))
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
