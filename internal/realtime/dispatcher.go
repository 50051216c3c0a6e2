package realtime

import "time"

// Dispatcher translates domain events into hub broadcasts.  It is the
// only place that knows which wire event and which room a domain event
// maps to, so producers (the reservation coordinator, the socket layer)
// never build payloads themselves.  Every method is fire-and-forget:
// hub failures are logged inside the hub and never reach the producer.
//
// Dispatcher implements reservation.Events.
type Dispatcher struct {
	hub *Hub
	now func() time.Time
}

// NewDispatcher constructs a Dispatcher over the hub.
func NewDispatcher(hub *Hub) *Dispatcher {
	return &Dispatcher{hub: hub, now: time.Now}
}

// SetClock replaces the dispatcher's clock.  Tests use this to make
// event timestamps deterministic.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// SeatsBeingLocked announces to a schedule room that a session started
// selecting seats.  The selecting connection is excluded; it already
// renders its own selection.
func (d *Dispatcher) SeatsBeingLocked(scheduleID uint64, seatNos []string, sessionID, userName, excludeConnID string) {
	d.hub.Broadcast(ScheduleRoom(scheduleID), EventSeatsBeingLocked, SeatsBeingLocked{
		SeatIDs:   seatNos,
		SessionID: sessionID,
		UserName:  userName,
		Timestamp: wireTime(d.now()),
	}, excludeConnID)
}

// SeatsLocked announces a successful hold to the schedule room.
func (d *Dispatcher) SeatsLocked(scheduleID uint64, seatNos []string, sessionID string, expiresAt time.Time) {
	d.hub.Broadcast(ScheduleRoom(scheduleID), EventSeatsLocked, SeatsLocked{
		SeatIDs:   seatNos,
		SessionID: sessionID,
		ExpiresAt: wireTime(expiresAt),
		Timestamp: wireTime(d.now()),
	}, "")
}

// SeatsUnlocked announces freed seats to the schedule room.  One
// canonical event per freed set; sessionID is empty for expiry sweeps.
func (d *Dispatcher) SeatsUnlocked(scheduleID uint64, seatNos []string, sessionID string) {
	ev := SeatsUnlocked{
		SeatIDs:   seatNos,
		SessionID: sessionID,
		Timestamp: wireTime(d.now()),
	}
	if len(seatNos) == 1 {
		ev.SeatID = seatNos[0]
	}
	d.hub.Broadcast(ScheduleRoom(scheduleID), EventSeatsUnlocked, ev, "")
}

// SeatsBooked announces permanently claimed seats to the schedule room.
func (d *Dispatcher) SeatsBooked(scheduleID uint64, seatNos []string, bookedAt time.Time) {
	d.hub.Broadcast(ScheduleRoom(scheduleID), EventSeatsBooked, SeatsBooked{
		SeatIDs:  seatNos,
		BookedAt: wireTime(bookedAt),
	}, "")
}

// SeatLockConflict replies directly to the connection whose lock attempt
// failed, naming the blocking seats.
func (d *Dispatcher) SeatLockConflict(c *Conn, seatNos []string, sessionID string) {
	d.hub.SendTo(c, EventSeatLockConflict, SeatLockConflict{
		SeatIDs:   seatNos,
		SessionID: sessionID,
		Timestamp: wireTime(d.now()),
	})
}

// TicketMessage delivers a confirmed chat message to the ticket room,
// sender included: the confirmed event carries the durable id the sender
// needs to replace its optimistic placeholder, and re-delivery of the
// same id is idempotent on the client.
func (d *Dispatcher) TicketMessage(ticketID uint64, msg TicketMessage) {
	d.hub.Broadcast(TicketRoom(ticketID), EventReceiveTicketMsg, ReceiveTicketMessage{
		TicketID: ticketID,
		Message:  msg,
	}, "")
}

// NotifyUser delivers an arbitrary named event to every connection of a
// user, e.g. a newly created notification.
func (d *Dispatcher) NotifyUser(userID uint64, event string, data any) {
	d.hub.EmitToUser(userID, event, data)
}
