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
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"

	"github.com/bookguru/community/backend/models"
)

// Typing tracks who is typing in which group room. Every entry expires on
// its own after the configured window and the expiry is announced like an
// explicit stop, so a client that vanishes mid-sentence leaves no residue.
type Typing struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	expiry      time.Duration
	broadcaster Broadcaster
	log         *slog.Logger
	state       map[Room]map[int64]*typingEntry
}

type typingEntry struct {
	timer clockwork.Timer
}

func NewTyping(clock clockwork.Clock, expiry time.Duration, broadcaster Broadcaster, log *slog.Logger) *Typing {
	return &Typing{
		clock:       clock,
		expiry:      expiry,
		broadcaster: broadcaster,
		log:         log,
		state:       make(map[Room]map[int64]*typingEntry),
	}
}

func (t *Typing) Start(ctx context.Context, room Room, userID int64) {
	if !room.IsGroup() {
		return
	}

	t.mu.Lock()
	users, ok := t.state[room]
	if !ok {
		users = make(map[int64]*typingEntry)
		t.state[room] = users
	}
	if prev, exists := users[userID]; exists {
		prev.timer.Stop()
	}
	entry := &typingEntry{}
	entry.timer = t.clock.AfterFunc(t.expiry, func() {
		if t.drop(room, userID, entry) {
			t.announce(context.Background(), models.EventStopTyping, room, userID)
		}
	})
	users[userID] = entry
	t.mu.Unlock()

	t.announce(ctx, models.EventTyping, room, userID)
}

// Stop always announces, the last signal received wins on the client.
func (t *Typing) Stop(ctx context.Context, room Room, userID int64) {
	if !room.IsGroup() {
		return
	}
	t.drop(room, userID, nil)
	t.announce(ctx, models.EventStopTyping, room, userID)
}

// ClearUser stops every typing entry the user holds in the given rooms.
func (t *Typing) ClearUser(ctx context.Context, userID int64, rooms []Room) {
	for _, room := range rooms {
		if t.drop(room, userID, nil) {
			t.announce(ctx, models.EventStopTyping, room, userID)
		}
	}
}

// Users lists the users currently typing in the room, sorted by id.
func (t *Typing) Users(room Room) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := lo.Keys(t.state[room])
	slices.Sort(ids)
	return ids
}

// Close cancels every pending expiry.
func (t *Typing) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for room, users := range t.state {
		for _, entry := range users {
			entry.timer.Stop()
		}
		delete(t.state, room)
	}
}

// drop removes the user's entry. When only is set the entry is removed only
// if it is still that one, which keeps a stale timer from clearing a newer
// start signal.
func (t *Typing) drop(room Room, userID int64, only *typingEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.state[room]
	if !ok {
		return false
	}
	entry, ok := users[userID]
	if !ok || (only != nil && entry != only) {
		return false
	}
	entry.timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(t.state, room)
	}
	return true
}

func (t *Typing) announce(ctx context.Context, event models.EventType, room Room, userID int64) {
	env, err := models.NewEnvelope(event, models.TypingSignal{UserID: userID, GroupID: room.ID})
	if err != nil {
		t.log.Error("encode typing signal", "error", err)
		return
	}
	if err := t.broadcaster.Broadcast(ctx, room, env); err != nil {
		t.log.Debug("typing broadcast failed", "room", room.String(), "error", err)
	}
}
