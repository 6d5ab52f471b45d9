package websocket

import (
	"sync"
	"time"

	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Client is one realtime connection
type Client struct {
	ID string

	// Identity is nil for anonymous viewers
	Identity *models.Identity

	Conn *websocket.Conn
	Send chan []byte

	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client with its own chat rate limiter
func NewClient(id string, conn *websocket.Conn, identity *models.Identity, chatRate rate.Limit, chatBurst int) *Client {
	return &Client{
		ID:       id,
		Identity: identity,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		limiter:  rate.NewLimiter(chatRate, chatBurst),
	}
}

// enqueue hands a payload to the write pump without blocking. It reports
// false when the send buffer is full.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// writePump pumps messages from the Send channel to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
