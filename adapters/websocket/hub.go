package websocket

import (
	"context"

	"github.com/satriahrh/persona-chat/utils/log"
	"go.uber.org/zap"
)

type broadcast struct {
	personaID string
	day       string
	message   []byte
}

// Hub tracks connected clients. All access to the client set goes through the
// run loop.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcast
	count      chan chan int
	done       chan struct{}
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcast, 64),
		count:      make(chan chan int),
		done:       make(chan struct{}),
	}
}

// Run starts the hub loop; it returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	go h.run(ctx)
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			log.WithCtx(client.ctx).Debug("client registered", zap.Int("clients", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				log.WithCtx(client.ctx).Debug("client unregistered", zap.Int("clients", len(h.clients)))
			}

		case b := <-h.broadcast:
			for client := range h.clients {
				if client.personaID == b.personaID && client.day == b.day && !client.IsClosed() {
					if err := client.SendMessage(b.message); err != nil {
						log.WithCtx(client.ctx).Warn("dropping slow client", zap.Error(err))
					}
				}
			}

		case reply := <-h.count:
			reply <- len(h.clients)

		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
			}
			return
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastToConversation sends message to every client bound to personaID's
// conversation of day.
func (h *Hub) BroadcastToConversation(personaID, day string, message []byte) {
	select {
	case h.broadcast <- broadcast{personaID: personaID, day: day, message: message}:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}
