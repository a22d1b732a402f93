// Package websocket provides WebSocket connection management and event broadcasting.
package websocket

import (
	"log/slog"
	"sync"

	"github.com/esp32-access-manager/backend/internal/lib/sl"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// Audience selects which clients receive a message. Admins always receive
// it; a guest receives it only when UserID names them.
type Audience struct {
	UserID string
}

type outbound struct {
	data     []byte
	audience Audience
}

type reply struct {
	client *Client
	data   []byte
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan outbound
	replies    chan reply
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu  sync.RWMutex
	log *slog.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		replies:    make(chan reply, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.With(sl.Module("websocket.hub")),
	}
}

// Run starts the hub's main event loop.
// This should be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected",
				slog.String("user", client.username),
				slog.String("role", client.role),
				slog.Int("total", total),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", slog.String("user", client.username), slog.Int("total", total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.accepts(msg.audience) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Slow consumer: drop it rather than block everyone.
					close(client.send)
					delete(h.clients, client)
					h.log.Warn("dropping slow client", slog.String("user", client.username))
				}
			}
			h.mu.Unlock()

		case r := <-h.replies:
			// The client may have been dropped since the reply was queued.
			h.mu.Lock()
			if h.clients[r.client] {
				select {
				case r.client.send <- r.data:
				default:
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and disconnects every client.
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast queues data for every client in audience.
func (h *Hub) Broadcast(data []byte, audience Audience) {
	select {
	case h.broadcast <- outbound{data: data, audience: audience}:
	default:
		h.log.Warn("broadcast channel full, dropping message")
	}
}

// Reply queues data for a single client, typically an answer to a command
// it sent. Only the Run loop writes to a client's send channel, so a reply
// to a client that was dropped or unregistered is discarded.
func (h *Hub) Reply(client *Client, data []byte) {
	select {
	case h.replies <- reply{client: client, data: data}:
	case <-h.done:
	default:
		h.log.Warn("reply channel full, dropping message", slog.String("user", client.username))
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client represents a WebSocket client connection.
type Client struct {
	hub      *Hub
	send     chan []byte
	userID   string
	username string
	role     string
}

// NewClient creates a client for an authenticated account.
func NewClient(hub *Hub, userID, username, role string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		hub:      hub,
		send:     make(chan []byte, buffer),
		userID:   userID,
		username: username,
		role:     role,
	}
}

// Send returns the channel the connection's write pump drains. Only the
// hub writes to it and closes it.
func (c *Client) Send() <-chan []byte {
	return c.send
}

func (c *Client) accepts(a Audience) bool {
	if c.role == models.RoleAdmin {
		return true
	}
	return a.UserID != "" && a.UserID == c.userID
}
