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
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/bookguru/community/backend/models"
)

const debounce = 250 * time.Millisecond

func newPresenceFixture(clock clockwork.Clock) (*Registry, *Presence) {
	log := testLogger()
	registry := NewRegistry(staticAuth{}, log)
	presence := NewPresence(registry, NewLocalBroadcaster(registry, log), NewDebouncer(clock, debounce), log)
	registry.Observe(presence)
	return registry, presence
}

func Test_Debouncer_Should_Coalesce_A_Burst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	debouncer := NewDebouncer(clock, debounce)
	var calls atomic.Int32

	// Given five triggers, each inside the previous window
	for i := 0; i < 5; i++ {
		debouncer.Trigger("group:1", func() { calls.Add(1) })
		clock.Advance(100 * time.Millisecond)
	}
	require.Zero(t, calls.Load())

	// When the window after the last trigger elapses
	clock.Advance(debounce)

	// Then the function ran once
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func Test_Debouncer_Should_Keep_Keys_Independent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	debouncer := NewDebouncer(clock, debounce)
	var calls atomic.Int32

	debouncer.Trigger("group:1", func() { calls.Add(1) })
	debouncer.Trigger("group:2", func() { calls.Add(1) })
	clock.Advance(debounce)

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return debouncer.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func Test_Debouncer_Stop_Should_Cancel_Pending_Calls(t *testing.T) {
	clock := clockwork.NewFakeClock()
	debouncer := NewDebouncer(clock, debounce)
	var calls atomic.Int32

	debouncer.Trigger("group:1", func() { calls.Add(1) })
	debouncer.Stop()
	clock.Advance(debounce)

	require.Never(t, func() bool { return calls.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func Test_Presence_Should_Converge_After_Disconnect(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClock()
	registry, presence := newPresenceFixture(clock)
	room := GroupRoom(5)
	sinkA, sinkB := &recordingSink{}, &recordingSink{}
	a := registry.Register(1, sinkA)
	b := registry.Register(2, sinkB)

	// Given both sessions joined the room
	registry.Join(a.ID, room)
	registry.Join(b.ID, room)
	clock.Advance(debounce)
	req.Eventually(func() bool {
		oc, ok := sinkB.lastOnlineCount(t)
		return ok && oc.Count == 2
	}, time.Second, 5*time.Millisecond)

	// When A disconnects without leaving
	registry.Disconnect(a.ID)
	clock.Advance(debounce)

	// Then B eventually sees one online member
	req.Eventually(func() bool {
		oc, ok := sinkB.lastOnlineCount(t)
		return ok && oc.Count == 1 && oc.GroupID == 5
	}, time.Second, 5*time.Millisecond)
	req.Equal(1, presence.OnlineCount(room))
}

func Test_Presence_Should_Skip_Failing_Sessions(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClock()
	registry, presence := newPresenceFixture(clock)
	room := GroupRoom(5)
	broken := &recordingSink{fail: context.Canceled}
	healthy := &recordingSink{}
	registry.Join(registry.Register(1, broken).ID, room)
	registry.Join(registry.Register(2, healthy).ID, room)

	presence.BroadcastOnlineCount(context.Background(), room)

	oc, ok := healthy.lastOnlineCount(t)
	req.True(ok)
	req.Equal(models.OnlineCount{GroupID: 5, Count: 2}, oc)
}

func Test_Presence_Should_Ignore_Inbox_Rooms(t *testing.T) {
	clock := clockwork.NewFakeClock()
	registry, presence := newPresenceFixture(clock)
	sink := &recordingSink{}
	registry.Register(1, sink)

	presence.BroadcastOnlineCount(context.Background(), InboxRoom(1))

	require.Zero(t, sink.count(models.EventOnlineCount))
}
