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
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/bookguru/community/backend/apperr"
	"github.com/bookguru/community/backend/models"
	"github.com/bookguru/community/backend/storage"
)

const lockStripes = 64

// Router persists outgoing messages and fans them out to the rooms that
// must see them. A message is never broadcast unless it was stored.
type Router struct {
	messages    storage.MessageStore
	members     storage.MembershipStore
	users       storage.UserStore
	broadcaster Broadcaster
	observer    RoomObserver
	log         *slog.Logger

	announceOnSend bool
	stripes        [lockStripes]sync.Mutex
}

type RouterOption func(*Router)

// WithAnnounceOnSend makes every group send schedule a presence recount.
func WithAnnounceOnSend(enabled bool) RouterOption {
	return func(r *Router) {
		r.announceOnSend = enabled
	}
}

func NewRouter(
	messages storage.MessageStore,
	members storage.MembershipStore,
	users storage.UserStore,
	broadcaster Broadcaster,
	observer RoomObserver,
	log *slog.Logger,
	opts ...RouterOption,
) *Router {
	r := &Router{
		messages:       messages,
		members:        members,
		users:          users,
		broadcaster:    broadcaster,
		observer:       observer,
		log:            log,
		announceOnSend: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) SendToGroup(ctx context.Context, groupID, authorID int64, draft models.Message) (models.Message, error) {
	draft.GroupID = groupID
	draft.SenderID = authorID
	draft.ReceiverID = 0
	if err := draft.Validate(); err != nil {
		return models.Message{}, err
	}

	ok, err := r.members.IsMember(ctx, authorID, groupID)
	if err != nil {
		return models.Message{}, fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return models.Message{}, apperr.ErrNotAMember
	}

	room := GroupRoom(groupID)
	mu := r.stripe(room.String())
	mu.Lock()
	stored, err := r.messages.AppendGroupMessage(ctx, draft)
	if err != nil {
		mu.Unlock()
		return models.Message{}, fmt.Errorf("persist group message: %w", err)
	}
	r.deliver(ctx, models.EventGroupMessage, stored, room)
	mu.Unlock()

	if r.announceOnSend && r.observer != nil {
		r.observer.RoomChanged(room)
	}
	return stored, nil
}

// SendDirect stores a direct message and delivers it to the inbox rooms of
// both participants, once when a user writes to themselves.
func (r *Router) SendDirect(ctx context.Context, senderID, receiverID int64, draft models.Message) (models.Message, error) {
	draft.SenderID = senderID
	draft.ReceiverID = receiverID
	draft.GroupID = 0
	if receiverID == 0 {
		return models.Message{}, fmt.Errorf("%w: receiver is required", apperr.ErrValidation)
	}
	if err := draft.Validate(); err != nil {
		return models.Message{}, err
	}

	if _, err := r.users.GetUser(ctx, receiverID); err != nil {
		return models.Message{}, fmt.Errorf("lookup receiver: %w", err)
	}

	low, high := min(senderID, receiverID), max(senderID, receiverID)
	mu := r.stripe(fmt.Sprintf("dm:%d:%d", low, high))
	mu.Lock()
	defer mu.Unlock()

	stored, err := r.messages.AppendDirectMessage(ctx, draft)
	if err != nil {
		return models.Message{}, fmt.Errorf("persist direct message: %w", err)
	}
	rooms := lo.Uniq([]Room{InboxRoom(senderID), InboxRoom(receiverID)})
	r.deliver(ctx, models.EventDirectMessage, stored, rooms...)
	return stored, nil
}

// deliver swallows broadcast failures, the message is already stored and
// clients recover it from history.
func (r *Router) deliver(ctx context.Context, event models.EventType, msg models.Message, rooms ...Room) {
	env, err := models.NewEnvelope(event, msg)
	if err != nil {
		r.log.Error("encode message", "message_id", msg.ID, "error", err)
		return
	}
	for _, room := range rooms {
		if err := r.broadcaster.Broadcast(ctx, room, env); err != nil {
			r.log.Warn("broadcast failed",
				"room", room.String(),
				"message_id", msg.ID,
				"error", err)
		}
	}
}

func (r *Router) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &r.stripes[h.Sum32()%lockStripes]
}
