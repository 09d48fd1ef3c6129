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
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/bookguru/community/backend/apperr"
	"github.com/bookguru/community/backend/models"
)

// Sink receives events for one connection. Deliver must not block.
type Sink interface {
	Deliver(env models.Envelope) error
}

// Authenticator turns a bearer token into a user id.
type Authenticator interface {
	Authenticate(token string) (int64, error)
}

// RoomObserver is told whenever the set of sessions in a group room changes.
type RoomObserver interface {
	RoomChanged(room Room)
}

type Session struct {
	ID     string
	UserID int64

	sink   Sink
	typing *rate.Limiter
}

func (s *Session) Deliver(env models.Envelope) error {
	return s.sink.Deliver(env)
}

// AllowTyping reports whether another typing signal fits the session budget.
func (s *Session) AllowTyping() bool {
	return s.typing.Allow()
}

type sessionSet map[string]*Session

// Registry tracks live sessions and their room memberships. rooms is a
// counted set: the online count of a room is the length of its entry.
type Registry struct {
	mu       sync.RWMutex
	auth     Authenticator
	sessions map[string]*Session
	joined   map[string]map[Room]struct{}
	rooms    map[Room]sessionSet
	observer RoomObserver
	log      *slog.Logger

	typingRate  rate.Limit
	typingBurst int
}

type RegistryOption func(*Registry)

// WithTypingRate bounds how many typing signals one session may emit.
func WithTypingRate(limit rate.Limit, burst int) RegistryOption {
	return func(r *Registry) {
		r.typingRate = limit
		r.typingBurst = burst
	}
}

func NewRegistry(auth Authenticator, log *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		auth:        auth,
		sessions:    make(map[string]*Session),
		joined:      make(map[string]map[Room]struct{}),
		rooms:       make(map[Room]sessionSet),
		log:         log,
		typingRate:  rate.Limit(5),
		typingBurst: 5,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe installs the observer notified about group room changes.
func (r *Registry) Observe(observer RoomObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = observer
}

// Authenticate verifies the token and registers a session for its user.
// Nothing is registered when verification fails.
func (r *Registry) Authenticate(token string, sink Sink) (*Session, error) {
	userID, err := r.auth.Authenticate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	return r.Register(userID, sink), nil
}

// Register adds a session for an already authenticated user and joins it to
// the user's inbox room.
func (r *Registry) Register(userID int64, sink Sink) *Session {
	session := &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		sink:   sink,
		typing: rate.NewLimiter(r.typingRate, r.typingBurst),
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.joined[session.ID] = make(map[Room]struct{})
	r.add(session, InboxRoom(userID))
	r.mu.Unlock()

	r.log.Debug("session registered", "session_id", session.ID, "user_id", userID)
	return session
}

// Join adds the session to the room. It reports whether the room changed;
// joining twice or joining with an unknown session is a no-op.
func (r *Registry) Join(sessionID string, room Room) bool {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	changed := ok && r.add(session, room)
	observer := r.observer
	r.mu.Unlock()

	if changed {
		r.notify(observer, room)
	}
	return changed
}

// Leave removes the session from the room with the same idempotence as Join.
func (r *Registry) Leave(sessionID string, room Room) bool {
	r.mu.Lock()
	changed := r.remove(sessionID, room)
	observer := r.observer
	r.mu.Unlock()

	if changed {
		r.notify(observer, room)
	}
	return changed
}

// LeaveUser evicts every session of a user from the room.
func (r *Registry) LeaveUser(userID int64, room Room) bool {
	r.mu.Lock()
	var ids []string
	for id, session := range r.rooms[room] {
		if session.UserID == userID {
			ids = append(ids, id)
		}
	}
	changed := false
	for _, id := range ids {
		changed = r.remove(id, room) || changed
	}
	observer := r.observer
	r.mu.Unlock()

	if changed {
		r.notify(observer, room)
	}
	return changed
}

// Disconnect drops the session and returns every room it was part of.
func (r *Registry) Disconnect(sessionID string) []Room {
	r.mu.Lock()
	rooms := lo.Keys(r.joined[sessionID])
	for _, room := range rooms {
		r.remove(sessionID, room)
	}
	delete(r.joined, sessionID)
	delete(r.sessions, sessionID)
	observer := r.observer
	r.mu.Unlock()

	for _, room := range rooms {
		r.notify(observer, room)
	}
	r.log.Debug("session disconnected", "session_id", sessionID, "rooms", len(rooms))
	return rooms
}

// Count is the number of sessions currently in the room.
func (r *Registry) Count(room Room) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Sessions returns a snapshot of the room so callers can deliver without
// holding the registry lock.
func (r *Registry) Sessions(room Room) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.rooms[room])
}

func (r *Registry) Session(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	return session, ok
}

func (r *Registry) IsJoined(sessionID string, room Room) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][sessionID]
	return ok
}

// HasUser reports whether any session of the user is in the room.
func (r *Registry) HasUser(userID int64, room Room) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.SomeBy(lo.Values(r.rooms[room]), func(s *Session) bool {
		return s.UserID == userID
	})
}

// Rooms lists the rooms the session is currently part of.
func (r *Registry) Rooms(sessionID string) []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.joined[sessionID])
}

// SessionCount is the number of live sessions across all users.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// add and remove expect r.mu to be held.
func (r *Registry) add(session *Session, room Room) bool {
	members, ok := r.rooms[room]
	if !ok {
		members = make(sessionSet)
		r.rooms[room] = members
	}
	if _, exists := members[session.ID]; exists {
		return false
	}
	members[session.ID] = session
	r.joined[session.ID][room] = struct{}{}
	return true
}

func (r *Registry) remove(sessionID string, room Room) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[sessionID]; !exists {
		return false
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	delete(r.joined[sessionID], room)
	return true
}

func (r *Registry) notify(observer RoomObserver, room Room) {
	if observer != nil && room.IsGroup() {
		observer.RoomChanged(room)
	}
}
