// Package realtime contains the connection hub, presence registry and
// event dispatcher that keep every connected client's view of seats,
// support chats and user presence in sync.  All state here is in-memory
// and advisory: it is rebuilt from scratch on restart and is never
// consulted for booking decisions, which always go through the lock
// store.
package realtime

import (
	"encoding/json"
	"time"
)

// Inbound event names.  These form the closed set of events a client may
// send; anything else is logged and ignored.
const (
	EventJoinSchedule    = "join-schedule"
	EventLeaveSchedule   = "leave-schedule"
	EventSeatLockAttempt = "seat-lock-attempt"
	EventSeatDeselected  = "seat-deselected"
	EventBookingComplete = "booking-completed"
	EventJoinUser        = "join-user"
	EventLeaveUser       = "leave-user"
	EventRequestPresence = "request-presence"
	EventJoinTicketChat  = "join-ticket-chat"
	EventLeaveTicketChat = "leave-ticket-chat"
	EventSendTicketMsg   = "send-ticket-message"
)

// Outbound event names.
const (
	EventSeatsBeingLocked = "seats-being-locked"
	EventSeatsLocked      = "seats-locked"
	EventSeatsUnlocked    = "seats-unlocked"
	EventSeatsBooked      = "seats-booked"
	EventSeatLockConflict = "seat-lock-conflict"
	EventPresenceState    = "presence-state"
	EventUserOnline       = "user-online"
	EventUserOffline      = "user-offline"
	EventReceiveTicketMsg = "receive-ticket-message"
	EventTicketHistory    = "ticket-history"
)

// Envelope is the wire frame for every message in both directions:
// an event name plus an event-specific payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ScheduleRef identifies a schedule room in join/leave events.
type ScheduleRef struct {
	ScheduleID uint64 `json:"scheduleId"`
}

// UserRef identifies a user in join-user/leave-user events.
type UserRef struct {
	UserID uint64 `json:"userId"`
}

// TicketRef identifies a ticket room in join/leave events.
type TicketRef struct {
	TicketID uint64 `json:"ticketId"`
}

// SeatLockAttempt is sent by a client that wants to hold seats.
type SeatLockAttempt struct {
	ScheduleID uint64   `json:"scheduleId"`
	SeatIDs    []string `json:"seatIds"`
	SessionID  string   `json:"sessionId"`
	UserName   string   `json:"userName"`
}

// SeatDeselected is sent when a client drops a single seat from its
// selection.
type SeatDeselected struct {
	ScheduleID uint64 `json:"scheduleId"`
	SeatID     string `json:"seatId"`
	SessionID  string `json:"sessionId"`
}

// BookingCompleted is sent by a client after its booking request
// finished, asking the server to announce the seats to the room.
type BookingCompleted struct {
	ScheduleID uint64   `json:"scheduleId"`
	SeatIDs    []string `json:"seatIds"`
}

// SendTicketMessage carries a new chat message for a support ticket.
// TempID is the client-side placeholder identifier; it is echoed back on
// the confirmed message so the sender can reconcile its optimistic copy.
type SendTicketMessage struct {
	TicketID uint64 `json:"ticketId"`
	Message  string `json:"message"`
	TempID   string `json:"tempId,omitempty"`
}

// SeatsBeingLocked tells a schedule room that someone started selecting
// the seats.  It is purely advisory UI state.
type SeatsBeingLocked struct {
	SeatIDs   []string `json:"seatIds"`
	SessionID string   `json:"sessionId"`
	UserName  string   `json:"userName"`
	Timestamp string   `json:"timestamp"`
}

// SeatsLocked tells a schedule room that the seats are now held until
// ExpiresAt.
type SeatsLocked struct {
	SeatIDs   []string `json:"seatIds"`
	SessionID string   `json:"sessionId"`
	ExpiresAt string   `json:"expiresAt"`
	Timestamp string   `json:"timestamp"`
}

// SeatsUnlocked tells a schedule room that the seats are free again.
// SeatID duplicates the single element when exactly one seat was freed,
// for clients that listen for single-seat deselections.  SessionID is
// empty when the locks expired rather than being released.
type SeatsUnlocked struct {
	SeatID    string   `json:"seatId,omitempty"`
	SeatIDs   []string `json:"seatIds"`
	SessionID string   `json:"sessionId,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// SeatsBooked tells a schedule room that the seats are permanently gone
// for this departure.
type SeatsBooked struct {
	SeatIDs  []string `json:"seatIds"`
	BookedAt string   `json:"bookedAt"`
}

// SeatLockConflict is the direct reply to the connection whose
// seat-lock-attempt failed; it is never broadcast.
type SeatLockConflict struct {
	SeatIDs   []string `json:"seatIds"`
	SessionID string   `json:"sessionId"`
	Timestamp string   `json:"timestamp"`
}

// PresenceState answers request-presence with every user currently
// online.
type PresenceState struct {
	OnlineUserIDs []uint64 `json:"onlineUserIds"`
}

// PresenceChange announces a user crossing the online/offline boundary.
type PresenceChange struct {
	UserID uint64 `json:"userId"`
}

// TicketMessage is the confirmed chat message delivered to a ticket
// room, including the sender.  ID is durable; TempID echoes the sender's
// placeholder.
type TicketMessage struct {
	ID        string  `json:"id"`
	TempID    string  `json:"tempId,omitempty"`
	TicketID  uint64  `json:"ticketId"`
	UserID    *uint64 `json:"userId,omitempty"`
	Body      string  `json:"body"`
	CreatedAt string  `json:"createdAt"`
}

// ReceiveTicketMessage wraps a TicketMessage for the wire.
type ReceiveTicketMessage struct {
	TicketID uint64        `json:"ticketId"`
	Message  TicketMessage `json:"message"`
}

// TicketHistory backfills a ticket room's recent messages for a newly
// joined connection.
type TicketHistory struct {
	TicketID uint64          `json:"ticketId"`
	Messages []TicketMessage `json:"messages"`
}

// wireTime renders timestamps the way every event payload carries them.
func wireTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
