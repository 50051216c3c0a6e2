package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Room name constructors.  Rooms are plain strings so the hub needs no
// knowledge of what a schedule or a ticket is.
func ScheduleRoom(id uint64) string { return fmt.Sprintf("schedule:%d", id) }
func TicketRoom(id uint64) string   { return fmt.Sprintf("ticket:%d", id) }
func UserRoom(id uint64) string     { return fmt.Sprintf("user:%d", id) }

// Hub multiplexes many long-lived connections into named rooms and fans
// events out to current members.  Delivery is best-effort: a connection
// whose outbound buffer is full is dropped, never allowed to block the
// producer.  For a single producer, deliveries to one connection arrive
// in the order the broadcasts were issued; concurrent producers get no
// cross-producer ordering.
//
// The hub keeps no memory of disconnected clients.  On reconnect a
// client must re-announce every room it needs.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Conn
	rooms    map[string]map[string]*Conn
	presence *Presence
}

// NewHub returns an empty hub owning the given presence registry.
func NewHub(presence *Presence) *Hub {
	if presence == nil {
		presence = NewPresence()
	}
	return &Hub{
		conns:    make(map[string]*Conn),
		rooms:    make(map[string]map[string]*Conn),
		presence: presence,
	}
}

// Presence exposes the presence registry for snapshot queries.
func (h *Hub) Presence() *Presence { return h.presence }

// NewConn wraps a websocket in a Conn, registers it and starts its write
// pump.  The caller runs readPump via Serve on the socket handler.
func (h *Hub) NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		id:    uuid.NewString(),
		hub:   h,
		ws:    ws,
		send:  make(chan []byte, sendBufferSize),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	go c.writePump()
	return c
}

// Unregister tears a connection down: it leaves every room, unbinds the
// user if the client never did so itself (presence must not leak a
// phantom online state after a drop), and closes the outbound queue.
// Unregistering an unknown connection is a no-op.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.id)
	for room := range c.rooms {
		h.removeFromRoomLocked(room, c.id)
	}
	c.rooms = make(map[string]struct{})
	boundUser := c.userID
	c.userID = nil
	h.mu.Unlock()

	c.closeSend()
	if boundUser != nil && h.presence.Unbind(*boundUser) {
		h.BroadcastAll(EventUserOffline, PresenceChange{UserID: *boundUser}, c.id)
	}
}

// Join adds the connection to a room.  Joining a room the connection is
// already in is a no-op, not an error.
func (h *Hub) Join(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Conn)
	}
	h.rooms[room][c.id] = c
	c.rooms[room] = struct{}{}
}

// Leave removes the connection from a room.  Leaving a room the
// connection is not in is a no-op.
func (h *Hub) Leave(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomLocked(room, c.id)
	delete(c.rooms, room)
}

// BindUser associates the connection with a user: the connection joins
// the implicit user room and, when this is the user's first live
// connection, a user-online event goes out to every other connection
// process-wide.  Presence is global, not room-scoped.
func (h *Hub) BindUser(c *Conn, userID uint64) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	if c.userID != nil && *c.userID == userID {
		h.mu.Unlock()
		return
	}
	prev := c.userID
	uid := userID
	c.userID = &uid
	room := UserRoom(userID)
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Conn)
	}
	h.rooms[room][c.id] = c
	c.rooms[room] = struct{}{}
	h.mu.Unlock()

	if prev != nil && h.presence.Unbind(*prev) {
		h.BroadcastAll(EventUserOffline, PresenceChange{UserID: *prev}, c.id)
	}
	if h.presence.Bind(userID) {
		h.BroadcastAll(EventUserOnline, PresenceChange{UserID: userID}, c.id)
	}
}

// UnbindUser dissolves the connection's user association, leaving the
// user room and emitting user-offline when this was the user's last
// connection.
func (h *Hub) UnbindUser(c *Conn) {
	h.mu.Lock()
	if c.userID == nil {
		h.mu.Unlock()
		return
	}
	userID := *c.userID
	c.userID = nil
	room := UserRoom(userID)
	h.removeFromRoomLocked(room, c.id)
	delete(c.rooms, room)
	h.mu.Unlock()

	if h.presence.Unbind(userID) {
		h.BroadcastAll(EventUserOffline, PresenceChange{UserID: userID}, c.id)
	}
}

// Broadcast delivers the event to every connection currently in the
// room, except the excluded connection when given.  Failures never reach
// the caller; slow consumers are dropped here.
func (h *Hub) Broadcast(room, event string, data any, excludeConnID string) {
	payload, err := marshalEvent(event, data)
	if err != nil {
		log.Printf("hub: marshal %s: %v", event, err)
		return
	}
	h.mu.RLock()
	var slow []*Conn
	for id, c := range h.rooms[room] {
		if id == excludeConnID {
			continue
		}
		if !c.trySend(payload) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	h.dropSlow(slow)
}

// BroadcastAll delivers the event to every connection in the process,
// except the excluded one when given.  Used for global presence
// transitions.
func (h *Hub) BroadcastAll(event string, data any, excludeConnID string) {
	payload, err := marshalEvent(event, data)
	if err != nil {
		log.Printf("hub: marshal %s: %v", event, err)
		return
	}
	h.mu.RLock()
	var slow []*Conn
	for id, c := range h.conns {
		if id == excludeConnID {
			continue
		}
		if !c.trySend(payload) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	h.dropSlow(slow)
}

// EmitToUser delivers the event to every connection bound to the user,
// via the implicit user room joined on bind.
func (h *Hub) EmitToUser(userID uint64, event string, data any) {
	h.Broadcast(UserRoom(userID), event, data, "")
}

// SendTo delivers the event to a single connection.
func (h *Hub) SendTo(c *Conn, event string, data any) {
	payload, err := marshalEvent(event, data)
	if err != nil {
		log.Printf("hub: marshal %s: %v", event, err)
		return
	}
	if !c.trySend(payload) {
		h.dropSlow([]*Conn{c})
	}
}

// UserOf returns the user the connection is currently bound to, or nil.
func (h *Hub) UserOf(c *Conn) *uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.userID == nil {
		return nil
	}
	uid := *c.userID
	return &uid
}

// RoomSize reports the current membership count of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// removeFromRoomLocked removes the connection id from the room and
// deletes the room when it empties.  Callers must hold h.mu.
func (h *Hub) removeFromRoomLocked(room, connID string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// dropSlow deregisters connections whose outbound buffer overflowed.
func (h *Hub) dropSlow(conns []*Conn) {
	for _, c := range conns {
		log.Printf("hub: dropping slow connection %s", c.id)
		h.Unregister(c)
	}
}

// marshalEvent renders one outbound frame.
func marshalEvent(event string, data any) ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: data})
}
