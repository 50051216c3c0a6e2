package realtime

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConn registers a connection with a drainable send buffer and no
// underlying socket; writePump never runs, tests read frames straight
// off the channel.
func newTestConn(h *Hub, id string) *Conn {
	c := &Conn{
		id:    id,
		hub:   h,
		send:  make(chan []byte, sendBufferSize),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	return c
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// drain empties the connection's outbound queue into decoded frames.
func drain(t *testing.T, c *Conn) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return out
			}
			var f frame
			require.NoError(t, json.Unmarshal(payload, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func eventNames(frames []frame) []string {
	names := make([]string, 0, len(frames))
	for _, f := range frames {
		names = append(names, f.Event)
	}
	return names
}

func TestBroadcastReachesRoomMembersOnly(t *testing.T) {
	h := NewHub(NewPresence())
	member := newTestConn(h, "member")
	outsider := newTestConn(h, "outsider")
	h.Join(member, ScheduleRoom(1))

	h.Broadcast(ScheduleRoom(1), EventSeatsLocked, SeatsLocked{SeatIDs: []string{"12A"}, SessionID: "S1"}, "")

	got := drain(t, member)
	require.Len(t, got, 1)
	assert.Equal(t, EventSeatsLocked, got[0].Event)
	var p SeatsLocked
	require.NoError(t, json.Unmarshal(got[0].Data, &p))
	assert.Equal(t, []string{"12A"}, p.SeatIDs)
	assert.Equal(t, "S1", p.SessionID)

	assert.Empty(t, drain(t, outsider))
}

func TestBroadcastExcludesSender(t *testing.T) {
	h := NewHub(NewPresence())
	sender := newTestConn(h, "sender")
	other := newTestConn(h, "other")
	h.Join(sender, ScheduleRoom(1))
	h.Join(other, ScheduleRoom(1))

	h.Broadcast(ScheduleRoom(1), EventSeatsBeingLocked, SeatsBeingLocked{SeatIDs: []string{"3C"}}, sender.ID())

	assert.Empty(t, drain(t, sender))
	assert.Len(t, drain(t, other), 1)
}

func TestJoinLeaveIdempotent(t *testing.T) {
	h := NewHub(NewPresence())
	c := newTestConn(h, "c1")

	h.Join(c, ScheduleRoom(1))
	h.Join(c, ScheduleRoom(1))
	assert.Equal(t, 1, h.RoomSize(ScheduleRoom(1)))

	h.Leave(c, ScheduleRoom(1))
	h.Leave(c, ScheduleRoom(1))
	h.Leave(c, "never-joined")
	assert.Equal(t, 0, h.RoomSize(ScheduleRoom(1)))
}

func TestBindUserEmitsOnlineToOthers(t *testing.T) {
	h := NewHub(NewPresence())
	alice := newTestConn(h, "alice")
	bob := newTestConn(h, "bob")

	h.BindUser(alice, 10)

	assert.Empty(t, drain(t, alice), "the binding connection already knows")
	got := drain(t, bob)
	require.Len(t, got, 1)
	assert.Equal(t, EventUserOnline, got[0].Event)
	var p PresenceChange
	require.NoError(t, json.Unmarshal(got[0].Data, &p))
	assert.Equal(t, uint64(10), p.UserID)
}

func TestSecondTabIsSilent(t *testing.T) {
	h := NewHub(NewPresence())
	tab1 := newTestConn(h, "tab1")
	tab2 := newTestConn(h, "tab2")
	observer := newTestConn(h, "observer")

	h.BindUser(tab1, 10)
	drain(t, observer)

	h.BindUser(tab2, 10)
	assert.Empty(t, drain(t, observer), "a second tab must not re-announce user-online")

	h.Unregister(tab1)
	assert.Empty(t, drain(t, observer), "one of two tabs closing must not announce user-offline")

	h.Unregister(tab2)
	got := drain(t, observer)
	require.Len(t, got, 1)
	assert.Equal(t, EventUserOffline, got[0].Event)
}

func TestUnregisterCleansRooms(t *testing.T) {
	h := NewHub(NewPresence())
	c := newTestConn(h, "c1")
	h.Join(c, ScheduleRoom(1))
	h.Join(c, TicketRoom(4))

	h.Unregister(c)
	assert.Equal(t, 0, h.RoomSize(ScheduleRoom(1)))
	assert.Equal(t, 0, h.RoomSize(TicketRoom(4)))

	// A second unregister is a no-op, not a panic on a closed channel.
	h.Unregister(c)
}

func TestReconnectRequiresRejoin(t *testing.T) {
	h := NewHub(NewPresence())
	c := newTestConn(h, "c1")
	h.Join(c, ScheduleRoom(1))
	h.Unregister(c)

	// The "reconnected" client is a brand new connection; the hub holds
	// no memory of the old memberships.
	c2 := newTestConn(h, "c2")
	h.Broadcast(ScheduleRoom(1), EventSeatsLocked, SeatsLocked{SeatIDs: []string{"1A"}}, "")
	assert.Empty(t, drain(t, c2))

	h.Join(c2, ScheduleRoom(1))
	h.Broadcast(ScheduleRoom(1), EventSeatsLocked, SeatsLocked{SeatIDs: []string{"1A"}}, "")
	assert.Len(t, drain(t, c2), 1)
}

func TestSlowConsumerIsDropped(t *testing.T) {
	h := NewHub(NewPresence())
	slow := newTestConn(h, "slow")
	healthy := newTestConn(h, "healthy")
	h.Join(slow, ScheduleRoom(1))
	h.Join(healthy, ScheduleRoom(1))

	// Fill the slow connection's buffer to the brim, then overflow it.
	for i := 0; i < sendBufferSize; i++ {
		require.True(t, slow.trySend([]byte(fmt.Sprintf(`{"event":"filler-%d"}`, i))))
	}
	h.Broadcast(ScheduleRoom(1), EventSeatsLocked, SeatsLocked{SeatIDs: []string{"2B"}}, "")

	assert.Equal(t, 1, h.RoomSize(ScheduleRoom(1)), "the overflowed connection must be dropped")

	// The healthy member still got the frame; the producer never blocked.
	got := drain(t, healthy)
	require.Len(t, got, 1)
	assert.Equal(t, EventSeatsLocked, got[0].Event)
}
