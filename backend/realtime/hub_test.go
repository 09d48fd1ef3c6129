// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/bookguru/community/backend/apperr"
	"github.com/bookguru/community/backend/models"
	"github.com/bookguru/community/backend/storage/memory"
)

type hubFixture struct {
	clock    clockwork.FakeClock
	store    *memory.Store
	registry *Registry
	typing   *Typing
	hub      *Hub
	group    models.Group
}

func newHubFixture(t *testing.T, opts ...RegistryOption) hubFixture {
	t.Helper()
	ctx := context.Background()
	log := testLogger()
	clock := clockwork.NewFakeClock()
	store := memory.NewStore(clock)
	store.AddUser(models.User{ID: 1, Username: "ada"})
	store.AddUser(models.User{ID: 2, Username: "bob"})
	group, err := store.CreateGroup(ctx, "Chemistry")
	require.NoError(t, err)
	require.NoError(t, store.Join(ctx, 1, group.ID))

	registry := NewRegistry(staticAuth{}, log, opts...)
	broadcaster := NewLocalBroadcaster(registry, log)
	presence := NewPresence(registry, broadcaster, NewDebouncer(clock, debounce), log)
	registry.Observe(presence)
	typing := NewTyping(clock, typingExpiry, broadcaster, log)
	t.Cleanup(typing.Close)
	t.Cleanup(presence.Close)

	return hubFixture{
		clock:    clock,
		store:    store,
		registry: registry,
		typing:   typing,
		hub:      NewHub(registry, presence, typing, store, log),
		group:    group,
	}
}

func Test_Hub_Join_Should_Require_Durable_Membership(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newHubFixture(t)
	member := f.hub.Connect(1, &recordingSink{})
	stranger := f.hub.Connect(2, &recordingSink{})
	join := envelope(t, models.EventJoinGroupRoom, models.RoomRequest{GroupID: f.group.ID})

	req.NoError(f.hub.Handle(ctx, member, join))
	req.ErrorIs(f.hub.Handle(ctx, stranger, join), apperr.ErrNotAMember)

	req.True(f.registry.IsJoined(member.ID, GroupRoom(f.group.ID)))
	req.False(f.registry.IsJoined(stranger.ID, GroupRoom(f.group.ID)))
}

func Test_Hub_Authenticate_Should_Register_Only_Valid_Tokens(t *testing.T) {
	req := require.New(t)
	f := newHubFixture(t)

	session, err := f.hub.Authenticate("forged", &recordingSink{})

	req.ErrorIs(err, apperr.ErrUnauthorized)
	req.Nil(session)
	req.Zero(f.registry.SessionCount())
}

func Test_Hub_Rejoin_Should_Answer_Current_Count(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newHubFixture(t)
	sink := &recordingSink{}
	session := f.hub.Connect(1, sink)
	join := envelope(t, models.EventJoinGroupRoom, models.RoomRequest{GroupID: f.group.ID})

	req.NoError(f.hub.Handle(ctx, session, join))
	req.NoError(f.hub.Handle(ctx, session, join))

	oc, ok := sink.lastOnlineCount(t)
	req.True(ok)
	req.Equal(1, oc.Count)
}

func Test_Hub_Should_Reject_Invalid_Payloads(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newHubFixture(t)
	session := f.hub.Connect(1, &recordingSink{})

	err := f.hub.Handle(ctx, session, models.Envelope{Type: models.EventJoinGroupRoom})
	req.ErrorIs(err, apperr.ErrValidation)

	err = f.hub.Handle(ctx, session, envelope(t, models.EventJoinGroupRoom, models.RoomRequest{GroupID: 0}))
	req.ErrorIs(err, apperr.ErrValidation)

	err = f.hub.Handle(ctx, session, models.Envelope{Type: models.EventJoinGroupRoom, Payload: json.RawMessage(`"x"`)})
	req.ErrorIs(err, apperr.ErrValidation)

	err = f.hub.Handle(ctx, session, models.Envelope{Type: "dance"})
	req.ErrorIs(err, apperr.ErrUnknownEvent)
}

func Test_Hub_Typing_Should_Require_Joined_Room(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newHubFixture(t)
	session := f.hub.Connect(1, &recordingSink{})
	typing := envelope(t, models.EventTyping, models.RoomRequest{GroupID: f.group.ID})

	req.ErrorIs(f.hub.Handle(ctx, session, typing), apperr.ErrNotAMember)

	req.NoError(f.hub.Handle(ctx, session, envelope(t, models.EventJoinGroupRoom, models.RoomRequest{GroupID: f.group.ID})))
	req.NoError(f.hub.Handle(ctx, session, typing))
	req.Equal([]int64{1}, f.typing.Users(GroupRoom(f.group.ID)))
}

func Test_Hub_Typing_Should_Drop_Signals_Over_Budget(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newHubFixture(t, WithTypingRate(rate.Every(time.Hour), 2))
	sink := &recordingSink{}
	session := f.hub.Connect(1, sink)
	req.NoError(f.hub.Handle(ctx, session, envelope(t, models.EventJoinGroupRoom, models.RoomRequest{GroupID: f.group.ID})))
	typing := envelope(t, models.EventTyping, models.RoomRequest{GroupID: f.group.ID})

	for i := 0; i < 5; i++ {
		req.NoError(f.hub.Handle(ctx, session, typing))
	}

	req.Equal(2, sink.count(models.EventTyping))
}

func Test_Hub_Disconnect_Should_Clear_Typing_And_Rooms(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newHubFixture(t)
	session := f.hub.Connect(1, &recordingSink{})
	room := GroupRoom(f.group.ID)
	req.NoError(f.hub.Handle(ctx, session, envelope(t, models.EventJoinGroupRoom, models.RoomRequest{GroupID: f.group.ID})))
	req.NoError(f.hub.Handle(ctx, session, envelope(t, models.EventTyping, models.RoomRequest{GroupID: f.group.ID})))

	f.hub.Disconnect(ctx, session)

	req.Empty(f.typing.Users(room))
	req.Zero(f.registry.Count(room))
}

func Test_Hub_Disconnect_Should_Keep_Typing_While_Another_Session_Remains(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newHubFixture(t)
	room := GroupRoom(f.group.ID)
	join := envelope(t, models.EventJoinGroupRoom, models.RoomRequest{GroupID: f.group.ID})
	phone := f.hub.Connect(1, &recordingSink{})
	laptopSink := &recordingSink{}
	laptop := f.hub.Connect(1, laptopSink)
	req.NoError(f.hub.Handle(ctx, phone, join))
	req.NoError(f.hub.Handle(ctx, laptop, join))
	req.NoError(f.hub.Handle(ctx, laptop, envelope(t, models.EventTyping, models.RoomRequest{GroupID: f.group.ID})))

	// When one of the two sessions goes away
	f.hub.Disconnect(ctx, phone)

	// Then the user is still typing from the other one
	req.Equal([]int64{1}, f.typing.Users(room))
	req.Zero(laptopSink.count(models.EventStopTyping))

	// When the last session goes away
	f.hub.Disconnect(ctx, laptop)

	// Then the typing entry is released
	req.Empty(f.typing.Users(room))
}

func Test_Hub_MemberLeft_Should_Evict_Live_Sessions(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newHubFixture(t)
	session := f.hub.Connect(1, &recordingSink{})
	req.NoError(f.hub.Handle(ctx, session, envelope(t, models.EventJoinGroupRoom, models.RoomRequest{GroupID: f.group.ID})))

	f.hub.MemberLeft(ctx, 1, f.group.ID)

	req.False(f.registry.IsJoined(session.ID, GroupRoom(f.group.ID)))
}

func Test_ErrorEnvelope_Should_Hide_Internal_Errors(t *testing.T) {
	req := require.New(t)

	var event models.ErrorEvent
	env := ErrorEnvelope(models.EventJoinGroupRoom, context.DeadlineExceeded)
	req.Equal(models.EventError, env.Type)
	req.NoError(json.Unmarshal(env.Payload, &event))
	req.Equal("internal error", event.Message)

	env = ErrorEnvelope(models.EventJoinGroupRoom, apperr.ErrNotAMember)
	req.NoError(json.Unmarshal(env.Payload, &event))
	req.Equal(apperr.ErrNotAMember.Error(), event.Message)
}

func Test_Client_Should_Pump_Events_Over_Websocket(t *testing.T) {
	req := require.New(t)
	f := newHubFixture(t)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(f.hub, 16, testLogger())
		client.Serve(context.Background(), conn, f.hub.Connect(1, client))
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	req.NoError(err)
	defer conn.Close()

	// Given a joined room
	req.NoError(conn.WriteJSON(envelope(t, models.EventJoinGroupRoom, models.RoomRequest{GroupID: f.group.ID})))
	req.Eventually(func() bool { return f.registry.Count(GroupRoom(f.group.ID)) == 1 }, time.Second, 5*time.Millisecond)

	// When the client sends an unknown event
	req.NoError(conn.WriteJSON(models.Envelope{Type: "dance"}))

	// Then the error comes back on the same connection
	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var env models.Envelope
	req.NoError(conn.ReadJSON(&env))
	req.Equal(models.EventError, env.Type)

	// And closing the socket releases the room
	conn.Close()
	req.Eventually(func() bool { return f.registry.Count(GroupRoom(f.group.ID)) == 0 }, 2*time.Second, 10*time.Millisecond)
}
