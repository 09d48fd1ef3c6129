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

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/bookguru/community/backend/models"
	"github.com/bookguru/community/backend/realtime"
)

// Channel prefix for room fan-out: room:{group:ID|dm:ID}
const roomChannelPrefix = "room:"

// Bus fans room broadcasts out across processes. Broadcast publishes to
// Redis, Run delivers what any node published to this node's sessions.
type Bus struct {
	rdb   *redis.Client
	local realtime.Broadcaster
	log   *slog.Logger
	ready chan struct{}
}

func NewBus(rdb *redis.Client, local realtime.Broadcaster, log *slog.Logger) *Bus {
	return &Bus{
		rdb:   rdb,
		local: local,
		log:   log,
		ready: make(chan struct{}),
	}
}

func (b *Bus) Broadcast(ctx context.Context, room realtime.Room, env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, roomChannelPrefix+room.String(), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", room, err)
	}
	return nil
}

// Ready is closed once the subscription is confirmed by the server.
func (b *Bus) Ready() <-chan struct{} {
	return b.ready
}

// Run blocks until ctx is done or the subscription fails.
func (b *Bus) Run(ctx context.Context) error {
	sub := b.rdb.PSubscribe(ctx, roomChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	close(b.ready)
	b.log.Info("room bus subscribed", "pattern", roomChannelPrefix+"*")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.dispatch(ctx, msg)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, msg *redis.Message) {
	room, err := realtime.ParseRoom(strings.TrimPrefix(msg.Channel, roomChannelPrefix))
	if err != nil {
		b.log.Warn("dropping bus message", "channel", msg.Channel, "error", err)
		return
	}
	var env models.Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.log.Warn("dropping bus message", "channel", msg.Channel, "error", err)
		return
	}
	if err := b.local.Broadcast(ctx, room, env); err != nil {
		b.log.Debug("local delivery failed", "room", room.String(), "error", err)
	}
}

// Ping checks the connection for the health endpoint.
func (b *Bus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}
