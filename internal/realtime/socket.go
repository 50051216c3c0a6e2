package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gorilla/websocket"

	"github.com/intercity/bus-reservation/internal/model"
	"github.com/intercity/bus-reservation/internal/repository"
	"github.com/intercity/bus-reservation/internal/reservation"
)

// handlerTimeout bounds the store round-trips an inbound socket event
// may take; the connection's read loop must not hang on a stuck backend.
const handlerTimeout = 10 * time.Second

// ticketHistoryLimit is how many messages are backfilled on room join.
const ticketHistoryLimit = 50

// TicketAccess is the external authorization predicate for support
// tickets.  The core calls it before letting a connection join a ticket
// room or post to it; it does not implement the policy itself.
type TicketAccess interface {
	CanAccessTicket(ctx context.Context, userID *uint64, ticketID uint64) (bool, error)
}

// AllowAllTickets is the permissive TicketAccess used until a real
// policy provider is wired in; authorization is an external concern.
type AllowAllTickets struct{}

// CanAccessTicket implements TicketAccess.
func (AllowAllTickets) CanAccessTicket(context.Context, *uint64, uint64) (bool, error) {
	return true, nil
}

// MessageStore persists ticket chat messages and serves room history.
type MessageStore interface {
	Create(ctx context.Context, ticketID uint64, userID *uint64, body string) (*model.TicketMessage, error)
	ListByTicket(ctx context.Context, ticketID uint64, limit int) ([]model.TicketMessage, error)
}

// SocketHandler owns the WebSocket endpoint: it upgrades connections,
// decodes the inbound event envelope and routes each event to the hub,
// the presence registry or the reservation coordinator.  Unknown events
// are logged and ignored rather than failing the connection.
type SocketHandler struct {
	hub         *Hub
	dispatcher  *Dispatcher
	coordinator *reservation.Coordinator
	messages    MessageStore
	tickets     TicketAccess
	upgrader    websocket.Upgrader
}

// NewSocketHandler constructs the endpoint.  messages and tickets may be
// nil only when the deployment has no support-chat module; the chat
// events then answer with a logged no-op.
func NewSocketHandler(hub *Hub, dispatcher *Dispatcher, coordinator *reservation.Coordinator, messages MessageStore, tickets TicketAccess) *SocketHandler {
	if hub == nil || dispatcher == nil || coordinator == nil {
		panic("nil dependency passed to NewSocketHandler")
	}
	return &SocketHandler{
		hub:         hub,
		dispatcher:  dispatcher,
		coordinator: coordinator,
		messages:    messages,
		tickets:     tickets,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is enforced by the reverse proxy in front of
			// the service.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve handles GET /ws.  It upgrades the request and runs the read loop
// until the peer disconnects; teardown (room cleanup, presence unbind)
// happens in the hub.
func (h *SocketHandler) Serve(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	conn := h.hub.NewConn(ws)
	// Tabs that presented a valid token on the upgrade request are bound
	// immediately; anonymous tabs may still bind later via join-user.
	if uid := contextUserID(c); uid != nil {
		h.hub.BindUser(conn, *uid)
	}
	conn.readPump(h.handleFrame)
	return nil
}

// contextUserID reads the user id the auth middleware stored on the
// upgrade request, tolerating the numeric types JWT decoding produces.
func contextUserID(c echo.Context) *uint64 {
	var id uint64
	switch t := c.Get("user_id").(type) {
	case uint64:
		id = t
	case int64:
		id = uint64(t)
	case float64:
		id = uint64(t)
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		if err != nil {
			return nil
		}
		id = n
	default:
		return nil
	}
	if id == 0 {
		return nil
	}
	return &id
}

// handleFrame decodes one inbound envelope and dispatches it.
func (h *SocketHandler) handleFrame(c *Conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("socket: bad frame from %s: %v", c.ID(), err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	switch env.Event {
	case EventJoinSchedule:
		var p ScheduleRef
		if decode(env, &p, c) {
			h.hub.Join(c, ScheduleRoom(p.ScheduleID))
		}
	case EventLeaveSchedule:
		var p ScheduleRef
		if decode(env, &p, c) {
			h.hub.Leave(c, ScheduleRoom(p.ScheduleID))
		}
	case EventSeatLockAttempt:
		var p SeatLockAttempt
		if decode(env, &p, c) {
			h.handleLockAttempt(ctx, c, p)
		}
	case EventSeatDeselected:
		var p SeatDeselected
		if decode(env, &p, c) {
			if _, err := h.coordinator.Release(ctx, p.ScheduleID, p.SessionID, []string{p.SeatID}); err != nil {
				log.Printf("socket: release seat %s on schedule %d: %v", p.SeatID, p.ScheduleID, err)
			}
		}
	case EventBookingComplete:
		var p BookingCompleted
		if decode(env, &p, c) {
			if _, err := h.coordinator.AnnounceBooked(ctx, p.ScheduleID, p.SeatIDs); err != nil {
				log.Printf("socket: announce booked on schedule %d: %v", p.ScheduleID, err)
			}
		}
	case EventJoinUser:
		var p UserRef
		if decode(env, &p, c) {
			h.hub.BindUser(c, p.UserID)
		}
	case EventLeaveUser:
		var p UserRef
		if decode(env, &p, c) {
			h.hub.UnbindUser(c)
		}
	case EventRequestPresence:
		h.hub.SendTo(c, EventPresenceState, PresenceState{OnlineUserIDs: h.hub.Presence().Snapshot()})
	case EventJoinTicketChat:
		var p TicketRef
		if decode(env, &p, c) {
			h.handleJoinTicket(ctx, c, p.TicketID)
		}
	case EventLeaveTicketChat:
		var p TicketRef
		if decode(env, &p, c) {
			h.hub.Leave(c, TicketRoom(p.TicketID))
		}
	case EventSendTicketMsg:
		var p SendTicketMessage
		if decode(env, &p, c) {
			h.handleTicketMessage(ctx, c, p)
		}
	default:
		log.Printf("socket: unknown event %q from %s", env.Event, c.ID())
	}
}

// handleLockAttempt runs the socket-initiated hold flow: the room first
// sees an advisory seats-being-locked, then either the coordinator's
// seats-locked broadcast on success or a direct conflict reply to the
// requester on contention.
func (h *SocketHandler) handleLockAttempt(ctx context.Context, c *Conn, p SeatLockAttempt) {
	h.dispatcher.SeatsBeingLocked(p.ScheduleID, p.SeatIDs, p.SessionID, p.UserName, c.ID())
	_, err := h.coordinator.Hold(ctx, p.ScheduleID, p.SeatIDs, p.SessionID, h.hub.UserOf(c))
	if err == nil {
		return
	}
	if ce := repository.AsConflict(err); ce != nil {
		h.dispatcher.SeatLockConflict(c, ce.SeatNos, p.SessionID)
		return
	}
	log.Printf("socket: hold on schedule %d for session %s: %v", p.ScheduleID, p.SessionID, err)
}

// handleJoinTicket checks the external access predicate, joins the room
// and backfills recent history to the joining connection only.
func (h *SocketHandler) handleJoinTicket(ctx context.Context, c *Conn, ticketID uint64) {
	if h.messages == nil || h.tickets == nil {
		log.Printf("socket: ticket chat disabled, ignoring join for ticket %d", ticketID)
		return
	}
	ok, err := h.tickets.CanAccessTicket(ctx, h.hub.UserOf(c), ticketID)
	if err != nil {
		log.Printf("socket: ticket %d access check: %v", ticketID, err)
		return
	}
	if !ok {
		return
	}
	h.hub.Join(c, TicketRoom(ticketID))
	msgs, err := h.messages.ListByTicket(ctx, ticketID, ticketHistoryLimit)
	if err != nil {
		log.Printf("socket: ticket %d history: %v", ticketID, err)
		return
	}
	history := TicketHistory{TicketID: ticketID, Messages: make([]TicketMessage, 0, len(msgs))}
	for _, m := range msgs {
		history.Messages = append(history.Messages, wireTicketMessage(m, ""))
	}
	h.hub.SendTo(c, EventTicketHistory, history)
}

// handleTicketMessage persists the message first, then broadcasts the
// confirmed copy carrying its durable id and the sender's tempId.
func (h *SocketHandler) handleTicketMessage(ctx context.Context, c *Conn, p SendTicketMessage) {
	if h.messages == nil || h.tickets == nil {
		log.Printf("socket: ticket chat disabled, dropping message for ticket %d", p.TicketID)
		return
	}
	userID := h.hub.UserOf(c)
	ok, err := h.tickets.CanAccessTicket(ctx, userID, p.TicketID)
	if err != nil || !ok {
		if err != nil {
			log.Printf("socket: ticket %d access check: %v", p.TicketID, err)
		}
		return
	}
	msg, err := h.messages.Create(ctx, p.TicketID, userID, p.Message)
	if err != nil {
		if !errors.Is(err, repository.ErrTicketNotFound) {
			log.Printf("socket: store message for ticket %d: %v", p.TicketID, err)
		}
		return
	}
	h.dispatcher.TicketMessage(p.TicketID, wireTicketMessage(*msg, p.TempID))
}

// wireTicketMessage maps a stored message onto its wire shape.
func wireTicketMessage(m model.TicketMessage, tempID string) TicketMessage {
	return TicketMessage{
		ID:        m.ID,
		TempID:    tempID,
		TicketID:  m.TicketID,
		UserID:    m.UserID,
		Body:      m.Body,
		CreatedAt: wireTime(m.CreatedAt),
	}
}

// decode unmarshals the envelope payload, logging and rejecting bad
// frames.
func decode(env Envelope, dst any, c *Conn) bool {
	if err := json.Unmarshal(env.Data, dst); err != nil {
		log.Printf("socket: bad %s payload from %s: %v", env.Event, c.ID(), err)
		return false
	}
	return true
}
