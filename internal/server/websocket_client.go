package server

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/questengine/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Client is one authenticated WebSocket connection. Writes go through a
// buffered channel drained by a single writer goroutine; a client that
// falls behind is disconnected instead of stalling the sender.
type Client struct {
	conn     *websocket.Conn
	playerID string
	locale   string
	ip       string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an upgraded connection and starts its writer.
func NewClient(conn *websocket.Conn, playerID, locale, ip string) *Client {
	c := &Client{
		conn:     conn,
		playerID: playerID,
		locale:   locale,
		ip:       ip,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// PlayerID returns the authenticated player.
func (c *Client) PlayerID() string { return c.playerID }

// Locale returns the negotiated text locale.
func (c *Client) Locale() string { return c.locale }

// ReadRequest blocks until the next non-empty message and decodes it.
// Messages that are only whitespace are skipped.
func (c *Client) ReadRequest() (Request, error) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return Request{}, err
		}
		message = bytes.TrimSpace(message)
		if len(message) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			return Request{}, err
		}
		return req, nil
	}
}

// Send queues v as a JSON text frame. It returns false when the client is
// closed or its buffer is full, in which case the client is closed.
func (c *Client) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to encode frame", "player", c.playerID, "error", err)
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		logger.Warning("Client send buffer full, disconnecting", "player", c.playerID, "client_ip", c.ip)
		c.Close()
		return false
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
