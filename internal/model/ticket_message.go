package model

import "time"

// TicketMessage is one chat message on a support ticket.  Messages are
// persisted before they are broadcast so that every delivered message
// carries a durable identifier; clients use that identifier to replace
// the optimistic placeholder they rendered while the send was in flight.
//
// Fields:
//  ID        – durable UUID assigned by the server.
//  TicketID  – support ticket the message belongs to.
//  UserID    – author (nil for messages sent by anonymous visitors).
//  Body      – message text.
//  CreatedAt – server-side receipt timestamp.
type TicketMessage struct {
	ID        string    // ticket_messages.id (UUID)
	TicketID  uint64    // ticket_messages.ticket_id
	UserID    *uint64   // ticket_messages.user_id (nullable)
	Body      string    // ticket_messages.body
	CreatedAt time.Time // ticket_messages.created_at
}
