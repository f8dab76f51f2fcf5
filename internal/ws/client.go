package ws

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 65536
)

// Send errors
var (
	ErrClientClosed   = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Upgrader is shared by the websocket endpoint. Origins are checked by the
// CORS middleware before the upgrade.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a participant's websocket connection. It implements Channel.
type Client struct {
	conn          *websocket.Conn
	matchID       string
	participantID int64
	send          chan []byte
	done          chan struct{}
	closeOnce     sync.Once
	onClose       func(c *Client)
}

// NewClient wraps conn. onClose runs exactly once, whichever side closes first.
func NewClient(conn *websocket.Conn, matchID string, participantID int64, buffer int, onClose func(c *Client)) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		conn:          conn,
		matchID:       matchID,
		participantID: participantID,
		send:          make(chan []byte, buffer),
		done:          make(chan struct{}),
		onClose:       onClose,
	}
}

// Send queues data for the write pump without blocking
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops both pumps and runs the close callback once
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

// Start runs the write pump in the background and the read pump on the
// calling goroutine until the connection ends.
func (c *Client) Start(handle func(c *Client, message []byte)) {
	go c.writePump()
	c.readPump(handle)
}

// writePump writes queued messages and pings to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] write error for player %d: %v", c.participantID, err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[WS] ping error for player %d: %v", c.participantID, err)
				c.Close()
				return
			}

		case <-c.done:
			// Best-effort close frame; the peer may already be gone.
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// readPump decodes inbound frames until the connection fails or is closed
func (c *Client) readPump(handle func(c *Client, message []byte)) {
	defer func() {
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[WS] unexpected close for player %d: %v", c.participantID, err)
			}
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		handle(c, message)
	}
}

// MatchID returns the match this client is attached to
func (c *Client) MatchID() string {
	return c.matchID
}

// ParticipantID returns the participant this client belongs to
func (c *Client) ParticipantID() int64 {
	return c.participantID
}
