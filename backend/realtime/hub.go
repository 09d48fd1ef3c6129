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
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/bookguru/community/backend/apperr"
	"github.com/bookguru/community/backend/models"
	"github.com/bookguru/community/backend/storage"
)

// Hub dispatches client events and owns the session lifecycle around the
// registry, presence and typing state.
type Hub struct {
	registry *Registry
	presence *Presence
	typing   *Typing
	members  storage.MembershipStore
	validate *validator.Validate
	log      *slog.Logger
}

func NewHub(registry *Registry, presence *Presence, typing *Typing, members storage.MembershipStore, log *slog.Logger) *Hub {
	return &Hub{
		registry: registry,
		presence: presence,
		typing:   typing,
		members:  members,
		validate: validator.New(),
		log:      log,
	}
}

// Authenticate verifies a handshake token and registers the session behind
// sink. Nothing is registered when the token is rejected.
func (h *Hub) Authenticate(token string, sink Sink) (*Session, error) {
	return h.registry.Authenticate(token, sink)
}

func (h *Hub) Connect(userID int64, sink Sink) *Session {
	return h.registry.Register(userID, sink)
}

// Disconnect releases every room of the session. Typing state is cleared
// only in rooms the user has no other session left in.
func (h *Hub) Disconnect(ctx context.Context, session *Session) {
	rooms := h.registry.Disconnect(session.ID)
	h.releaseTyping(ctx, session.UserID, rooms)
}

func (h *Hub) releaseTyping(ctx context.Context, userID int64, rooms []Room) {
	vacated := lo.Reject(rooms, func(room Room, _ int) bool {
		return h.registry.HasUser(userID, room)
	})
	h.typing.ClearUser(ctx, userID, vacated)
}

// Handle applies one client event. Returned errors are reported back to the
// sending session only.
func (h *Hub) Handle(ctx context.Context, session *Session, env models.Envelope) error {
	switch env.Type {
	case models.EventJoinGroupRoom:
		room, err := h.roomRequest(env)
		if err != nil {
			return err
		}
		return h.join(ctx, session, room)

	case models.EventLeaveGroupRoom:
		room, err := h.roomRequest(env)
		if err != nil {
			return err
		}
		h.registry.Leave(session.ID, room)
		h.releaseTyping(ctx, session.UserID, []Room{room})
		return nil

	case models.EventTyping:
		room, err := h.roomRequest(env)
		if err != nil {
			return err
		}
		if !h.registry.IsJoined(session.ID, room) {
			return apperr.ErrNotAMember
		}
		if !session.AllowTyping() {
			return nil
		}
		h.typing.Start(ctx, room, session.UserID)
		return nil

	case models.EventStopTyping:
		room, err := h.roomRequest(env)
		if err != nil {
			return err
		}
		if !h.registry.IsJoined(session.ID, room) {
			return apperr.ErrNotAMember
		}
		h.typing.Stop(ctx, room, session.UserID)
		return nil
	}

	return fmt.Errorf("%w: %q", apperr.ErrUnknownEvent, env.Type)
}

func (h *Hub) join(ctx context.Context, session *Session, room Room) error {
	ok, err := h.members.IsMember(ctx, session.UserID, room.ID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return apperr.ErrNotAMember
	}
	if h.registry.Join(session.ID, room) {
		return nil
	}

	// Already joined: the room did not change, answer the count directly.
	env, err := models.NewEnvelope(models.EventOnlineCount, models.OnlineCount{
		GroupID: room.ID,
		Count:   h.presence.OnlineCount(room),
	})
	if err != nil {
		return err
	}
	if err := session.Deliver(env); err != nil {
		h.log.Debug("online count reply dropped", "session_id", session.ID, "error", err)
	}
	return nil
}

// MemberJoined is called after a durable join so open rooms get a fresh count.
func (h *Hub) MemberJoined(groupID int64) {
	h.presence.RoomChanged(GroupRoom(groupID))
}

// MemberLeft evicts the user's live sessions from the group room.
func (h *Hub) MemberLeft(ctx context.Context, userID, groupID int64) {
	room := GroupRoom(groupID)
	h.registry.LeaveUser(userID, room)
	h.typing.ClearUser(ctx, userID, []Room{room})
}

func (h *Hub) roomRequest(env models.Envelope) (Room, error) {
	var req models.RoomRequest
	if len(env.Payload) == 0 {
		return Room{}, fmt.Errorf("%w: payload is required", apperr.ErrValidation)
	}
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return Room{}, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return Room{}, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return GroupRoom(req.GroupID), nil
}

// ErrorEnvelope renders an error for the client that caused it. Internal
// failures are reported generically.
func ErrorEnvelope(event models.EventType, err error) models.Envelope {
	message := "internal error"
	switch {
	case errors.Is(err, apperr.ErrNotAMember),
		errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrUnknownEvent),
		errors.Is(err, apperr.ErrNotFound):
		message = err.Error()
	}
	env, _ := models.NewEnvelope(models.EventError, models.ErrorEvent{Message: message, Event: event})
	return env
}
