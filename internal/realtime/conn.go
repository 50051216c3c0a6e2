package realtime

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is how long a single write may take before the
	// connection is considered dead.
	writeWait = 10 * time.Second
	// pongWait is how long we wait for a pong before dropping the peer.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds inbound frames; every event we accept fits
	// comfortably.
	maxMessageSize = 4096
	// sendBufferSize is the per-connection outbound queue.  A consumer
	// that falls further behind than this is dropped rather than allowed
	// to stall producers.
	sendBufferSize = 256
)

// Conn is one physical client connection.  The hub owns its room
// membership and user binding; the connection itself only shuttles
// frames.  Outbound delivery goes through a buffered channel drained by
// writePump, which preserves per-connection ordering of broadcasts.
type Conn struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	// userID and rooms are guarded by the hub's mutex.
	userID *uint64
	rooms  map[string]struct{}

	closeOnce sync.Once
}

// ID returns the connection's identifier.
func (c *Conn) ID() string { return c.id }

// trySend queues payload without blocking.  It reports false when the
// buffer is full, in which case the hub drops the connection.
func (c *Conn) trySend(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound queue exactly once, which terminates
// writePump and with it the underlying socket.
func (c *Conn) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump consumes inbound frames and hands them to handle until the
// peer disconnects, then deregisters the connection.  It runs on the
// connection's HTTP handler goroutine.
func (c *Conn) readPump(handle func(*Conn, []byte)) {
	defer c.hub.Unregister(c)
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("hub: connection %s read error: %v", c.id, err)
			}
			return
		}
		handle(c, msg)
	}
}

// writePump drains the outbound queue onto the socket and keeps the
// connection alive with periodic pings.  It exits when the queue is
// closed or a write fails.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
