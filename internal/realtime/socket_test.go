package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intercity/bus-reservation/internal/model"
	"github.com/intercity/bus-reservation/internal/repository"
	"github.com/intercity/bus-reservation/internal/reservation"
)

// memMessages is an in-memory MessageStore for socket tests.
type memMessages struct {
	nextID   int
	messages map[uint64][]model.TicketMessage
	missing  map[uint64]bool
}

func newMemMessages() *memMessages {
	return &memMessages{
		nextID:   1,
		messages: make(map[uint64][]model.TicketMessage),
		missing:  make(map[uint64]bool),
	}
}

func (s *memMessages) Create(_ context.Context, ticketID uint64, userID *uint64, body string) (*model.TicketMessage, error) {
	if s.missing[ticketID] {
		return nil, repository.ErrTicketNotFound
	}
	msg := model.TicketMessage{
		ID:        fmt.Sprintf("msg-%d", s.nextID),
		TicketID:  ticketID,
		UserID:    userID,
		Body:      body,
		CreatedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	s.nextID++
	s.messages[ticketID] = append(s.messages[ticketID], msg)
	return &msg, nil
}

func (s *memMessages) ListByTicket(_ context.Context, ticketID uint64, limit int) ([]model.TicketMessage, error) {
	msgs := s.messages[ticketID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// denyOdd allows access only to even-numbered tickets.
type denyOdd struct{}

func (denyOdd) CanAccessTicket(_ context.Context, _ *uint64, ticketID uint64) (bool, error) {
	return ticketID%2 == 0, nil
}

func newChatSocket(t *testing.T, msgs *memMessages) (*SocketHandler, *Hub) {
	t.Helper()
	hub := NewHub(NewPresence())
	dispatcher := NewDispatcher(hub)
	store := reservation.NewMemoryStore()
	schedules := &staticSchedules{schedule: &model.Schedule{ID: 1, IsActive: true, DepartsAt: time.Now().Add(time.Hour)}}
	coord := reservation.New(store, schedules, dispatcher, 0)
	return NewSocketHandler(hub, dispatcher, coord, msgs, denyOdd{}), hub
}

func TestSocketPresenceFlow(t *testing.T) {
	socket, hub := newChatSocket(t, newMemMessages())
	a := newTestConn(hub, "a")
	b := newTestConn(hub, "b")

	socket.handleFrame(a, envelope(t, EventJoinUser, UserRef{UserID: 10}))
	got := drain(t, b)
	require.Equal(t, []string{EventUserOnline}, eventNames(got))

	socket.handleFrame(b, envelope(t, EventJoinUser, UserRef{UserID: 20}))
	drain(t, a)

	socket.handleFrame(a, envelope(t, EventRequestPresence, nil))
	got = drain(t, a)
	require.Equal(t, []string{EventPresenceState}, eventNames(got))
	var state PresenceState
	require.NoError(t, json.Unmarshal(got[0].Data, &state))
	assert.Equal(t, []uint64{10, 20}, state.OnlineUserIDs)

	socket.handleFrame(b, envelope(t, EventLeaveUser, UserRef{UserID: 20}))
	got = drain(t, a)
	require.Equal(t, []string{EventUserOffline}, eventNames(got))
}

func TestSocketTicketChatFlow(t *testing.T) {
	msgs := newMemMessages()
	socket, hub := newChatSocket(t, msgs)
	agent := newTestConn(hub, "agent")
	customer := newTestConn(hub, "customer")

	// Seed history, then join: the joining connection alone gets the
	// backfill.
	_, err := msgs.Create(context.Background(), 8, nil, "earlier message")
	require.NoError(t, err)
	socket.handleFrame(agent, envelope(t, EventJoinTicketChat, TicketRef{TicketID: 8}))
	got := drain(t, agent)
	require.Equal(t, []string{EventTicketHistory}, eventNames(got))
	var history TicketHistory
	require.NoError(t, json.Unmarshal(got[0].Data, &history))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "earlier message", history.Messages[0].Body)

	socket.handleFrame(customer, envelope(t, EventJoinTicketChat, TicketRef{TicketID: 8}))
	drain(t, customer)

	// A sent message is persisted, then broadcast to the whole room with
	// its durable id; the sender's copy echoes the tempId.
	socket.handleFrame(customer, envelope(t, EventSendTicketMsg, SendTicketMessage{
		TicketID: 8, Message: "seat won't confirm", TempID: "tmp-1",
	}))
	for _, c := range []*Conn{agent, customer} {
		frames := drain(t, c)
		require.Equal(t, []string{EventReceiveTicketMsg}, eventNames(frames))
		var rcv ReceiveTicketMessage
		require.NoError(t, json.Unmarshal(frames[0].Data, &rcv))
		assert.Equal(t, "msg-2", rcv.Message.ID)
		assert.Equal(t, "tmp-1", rcv.Message.TempID)
		assert.Equal(t, "seat won't confirm", rcv.Message.Body)
	}
	require.Len(t, msgs.messages[8], 2, "the message must be persisted before broadcast")
}

func TestSocketTicketAccessDenied(t *testing.T) {
	msgs := newMemMessages()
	socket, hub := newChatSocket(t, msgs)
	intruder := newTestConn(hub, "intruder")

	socket.handleFrame(intruder, envelope(t, EventJoinTicketChat, TicketRef{TicketID: 7}))
	assert.Equal(t, 0, hub.RoomSize(TicketRoom(7)))
	assert.Empty(t, drain(t, intruder))

	socket.handleFrame(intruder, envelope(t, EventSendTicketMsg, SendTicketMessage{
		TicketID: 7, Message: "let me in",
	}))
	assert.Empty(t, msgs.messages[7], "denied messages must not be persisted")
}

func TestSocketUnknownEventIgnored(t *testing.T) {
	socket, hub := newChatSocket(t, newMemMessages())
	c := newTestConn(hub, "c")
	socket.handleFrame(c, []byte(`{"event":"made-up-event","data":{}}`))
	socket.handleFrame(c, []byte(`not json at all`))
	assert.Empty(t, drain(t, c), "unknown or malformed frames are dropped silently")
}
