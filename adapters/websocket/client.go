package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/satriahrh/persona-chat/utils/log"
	"go.uber.org/zap"
)

// FrameHandler receives inbound frames on the read goroutine.
type FrameHandler interface {
	HandleText(data []byte)
	HandleBinary(data []byte)
}

type frame struct {
	kind int
	data []byte
}

type Client struct {
	id           string
	personaID    string
	day          string
	conn         *websocket.Conn
	send         chan frame
	incomingPing chan string
	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.RWMutex
	closed       bool
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512 * 1024 // audio chunks
	sendBuffer     = 256
)

// NewClient creates a new WebSocket client bound to personaID's conversation
// of day.
func NewClient(conn *websocket.Conn, personaID, day string) *Client {
	id := uuid.NewString()
	ctx := log.WithClient(log.WithPersona(context.Background(), personaID), id)
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		id:           id,
		personaID:    personaID,
		day:          day,
		conn:         conn,
		send:         make(chan frame, sendBuffer),
		incomingPing: make(chan string, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (c *Client) ID() string        { return c.id }
func (c *Client) PersonaID() string { return c.personaID }
func (c *Client) Day() string       { return c.day }

// Run starts the read, write and ping goroutines. Inbound frames go to h.
func (c *Client) Run(h FrameHandler) {
	c.setupHandlers()

	go c.Ping()
	go c.readPump(h)
	go c.writePump()
}

// setupHandlers configures all WebSocket control frame handlers
func (c *Client) setupHandlers() {
	c.conn.SetCloseHandler(func(code int, text string) error {
		log.WithCtx(c.ctx).Debug("WebSocket connection closed", zap.Int("code", code), zap.String("text", text))
		c.Close()
		return nil
	})

	c.conn.SetPingHandler(func(appData string) error {
		select {
		case c.incomingPing <- appData:
		default:
		}
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// Close gracefully closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	c.cancel()
	_ = c.conn.Close()
	close(c.send)
}

// IsClosed returns true if the client connection is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Context is cancelled once the connection is closed.
func (c *Client) Context() context.Context {
	return c.ctx
}

// Ping keeps the connection alive while the peer is quiet.
func (c *Client) Ping() {
	for {
		select {
		case <-c.incomingPing:
		case <-time.After(pingPeriod):
			if c.IsClosed() {
				return
			}
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				log.WithCtx(c.ctx).Error("Failed to send ping", zap.Error(err))
				c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) readPump(h FrameHandler) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithCtx(c.ctx).Error("WebSocket error", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch kind {
		case websocket.TextMessage:
			h.HandleText(data)
		case websocket.BinaryMessage:
			h.HandleBinary(data)
		}
	}
}

func (c *Client) writePump() {
	defer c.Close()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				log.WithCtx(c.ctx).Error("Failed to write message", zap.Error(err))
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// SendMessage queues a text frame. A client whose queue is full is closed.
func (c *Client) SendMessage(message []byte) error {
	return c.enqueue(frame{kind: websocket.TextMessage, data: message})
}

// SendBinary queues a binary frame.
func (c *Client) SendBinary(data []byte) error {
	return c.enqueue(frame{kind: websocket.BinaryMessage, data: data})
}

func (c *Client) enqueue(f frame) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return websocket.ErrCloseSent
	}
	select {
	case c.send <- f:
		c.mu.RUnlock()
		return nil
	default:
	}
	c.mu.RUnlock()

	c.Close()
	return websocket.ErrCloseSent
}
