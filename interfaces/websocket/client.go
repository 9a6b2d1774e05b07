package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

// Client represents a WebSocket client connection
type Client struct {
	id     string          // Unique connection ID
	userID string          // User ID from JWT
	hub    *Hub            // Reference to hub
	conn   *websocket.Conn // WebSocket connection
	send   chan []byte     // Buffered channel of outbound messages
	logger *zap.Logger

	maxMessageSize int64

	// Set by the hub when it closes send
	closed bool

	// Set by the hub after the first malformed batch is reported
	reportedMalformed bool
}

// NewClient creates a new WebSocket client
func NewClient(userID string, hub *Hub, conn *websocket.Conn, sendBufferSize int, maxMessageSize int64, logger *zap.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:             id,
		userID:         userID,
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		maxMessageSize: maxMessageSize,
		logger: logger.With(
			zap.String("userID", userID),
			zap.String("connectionID", id),
		),
	}
}

// ID returns the client's connection ID
func (c *Client) ID() string {
	return c.id
}

// UserID returns the client's user ID
func (c *Client) UserID() string {
	return c.userID
}

// Deliver queues a frame for the write pump without blocking. It is only
// called from the hub loop, which is also the only goroutine closing send.
func (c *Client) Deliver(frame []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Start hands the client to the hub and begins its write pump. The hub starts
// the read pump once the client is registered, so no frame can overtake the
// registration.
func (c *Client) Start() {
	select {
	case c.hub.register <- c:
	case <-c.hub.ctx.Done():
		c.conn.Close()
		return
	}

	go c.writePump()
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
		c.logger.Debug("Read pump stopped")
	}()

	if c.maxMessageSize > 0 {
		c.conn.SetReadLimit(c.maxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.logger.Debug("Binary messages not supported")
			continue
		}

		select {
		case c.hub.inbound <- inboundFrame{client: c, frame: message}:
		case <-c.hub.ctx.Done():
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("Write pump stopped")
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}
