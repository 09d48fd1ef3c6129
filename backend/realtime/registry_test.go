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
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bookguru/community/backend/apperr"
)

func Test_Authenticate_Should_Register_Nothing_On_Bad_Token(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(staticAuth{"good": 1}, testLogger())

	session, err := registry.Authenticate("forged", &recordingSink{})

	req.ErrorIs(err, apperr.ErrUnauthorized)
	req.Nil(session)
	req.Zero(registry.SessionCount())
}

func Test_Authenticate_Should_Join_Inbox_Room(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(staticAuth{"good": 7}, testLogger())

	session, err := registry.Authenticate("good", &recordingSink{})

	req.NoError(err)
	req.Equal(int64(7), session.UserID)
	req.True(registry.IsJoined(session.ID, InboxRoom(7)))
	req.Equal([]Room{InboxRoom(7)}, registry.Rooms(session.ID))
}

func Test_Join_Leave_Should_Be_Idempotent(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(staticAuth{}, testLogger())
	session := registry.Register(1, &recordingSink{})
	room := GroupRoom(3)

	// Given join, join, leave, join
	req.True(registry.Join(session.ID, room))
	req.False(registry.Join(session.ID, room))
	req.True(registry.Leave(session.ID, room))
	req.True(registry.Join(session.ID, room))

	// Then the session is in the room exactly once
	req.True(registry.IsJoined(session.ID, room))
	req.Equal(1, registry.Count(room))

	// When leaving twice
	req.True(registry.Leave(session.ID, room))
	req.False(registry.Leave(session.ID, room))

	// Then it is gone
	req.False(registry.IsJoined(session.ID, room))
	req.Zero(registry.Count(room))
}

func Test_Join_Should_Ignore_Unknown_Session(t *testing.T) {
	registry := NewRegistry(staticAuth{}, testLogger())
	require.False(t, registry.Join("nope", GroupRoom(1)))
	require.Zero(t, registry.Count(GroupRoom(1)))
}

func Test_Disconnect_Should_Release_Every_Room(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(staticAuth{}, testLogger())
	session := registry.Register(1, &recordingSink{})
	registry.Join(session.ID, GroupRoom(3))
	registry.Join(session.ID, GroupRoom(4))

	rooms := registry.Disconnect(session.ID)

	req.ElementsMatch([]Room{InboxRoom(1), GroupRoom(3), GroupRoom(4)}, rooms)
	req.Zero(registry.Count(GroupRoom(3)))
	req.Zero(registry.Count(InboxRoom(1)))
	req.Zero(registry.SessionCount())
	_, ok := registry.Session(session.ID)
	req.False(ok)
	req.Empty(registry.Disconnect(session.ID))
}

func Test_LeaveUser_Should_Evict_Only_That_User(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(staticAuth{}, testLogger())
	room := GroupRoom(3)
	phone := registry.Register(1, &recordingSink{})
	laptop := registry.Register(1, &recordingSink{})
	other := registry.Register(2, &recordingSink{})
	for _, s := range []*Session{phone, laptop, other} {
		registry.Join(s.ID, room)
	}

	req.True(registry.LeaveUser(1, room))

	req.Equal(1, registry.Count(room))
	req.True(registry.IsJoined(other.ID, room))
	req.False(registry.LeaveUser(1, room))
}

func Test_Observer_Should_Only_See_Changed_Group_Rooms(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(staticAuth{}, testLogger())
	observer := &recordingObserver{}
	registry.Observe(observer)
	session := registry.Register(1, &recordingSink{})

	registry.Join(session.ID, GroupRoom(3))
	registry.Join(session.ID, GroupRoom(3))
	registry.Disconnect(session.ID)

	req.Equal([]Room{GroupRoom(3), GroupRoom(3)}, observer.seen())
}

func Test_ParseRoom_Should_Invert_String(t *testing.T) {
	req := require.New(t)
	for _, room := range []Room{GroupRoom(12), InboxRoom(99)} {
		parsed, err := ParseRoom(room.String())
		req.NoError(err)
		req.Equal(room, parsed)
	}
	_, err := ParseRoom("lobby:1")
	req.Error(err)
	_, err = ParseRoom("group")
	req.Error(err)
}

func Test_Registry_Should_Stay_Consistent_Under_Concurrent_Use(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(staticAuth{}, testLogger())
	observer := &recordingObserver{}
	registry.Observe(observer)
	room := GroupRoom(1)

	// Given fifty sessions spread over ten users churning the same room
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			session := registry.Register(userID, &recordingSink{})
			for j := 0; j < 50; j++ {
				registry.Join(session.ID, room)
				_ = registry.Count(room)
				_ = registry.Sessions(room)
				if j%2 == 0 {
					registry.Leave(session.ID, room)
				}
			}
			registry.Disconnect(session.ID)
		}(int64(i%10 + 1))
	}
	wg.Wait()

	// Then every session and room entry is gone
	req.Zero(registry.Count(room))
	req.Zero(registry.SessionCount())
	for userID := int64(1); userID <= 10; userID++ {
		req.Zero(registry.Count(InboxRoom(userID)))
	}
	req.NotEmpty(observer.seen())
}
