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

	"github.com/bookguru/community/backend/models"
)

// Broadcaster delivers an envelope to every session joined to a room.
type Broadcaster interface {
	Broadcast(ctx context.Context, room Room, env models.Envelope) error
}

// LocalBroadcaster fans out to the sessions of this process.
type LocalBroadcaster struct {
	registry *Registry
	log      *slog.Logger
}

func NewLocalBroadcaster(registry *Registry, log *slog.Logger) *LocalBroadcaster {
	return &LocalBroadcaster{registry: registry, log: log}
}

// Broadcast never fails on a single slow or vanished session; those are
// skipped and logged.
func (b *LocalBroadcaster) Broadcast(ctx context.Context, room Room, env models.Envelope) error {
	for _, session := range b.registry.Sessions(room) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := session.Deliver(env); err != nil {
			b.log.Debug("delivery skipped",
				"room", room.String(),
				"session_id", session.ID,
				"type", env.Type,
				"error", err)
		}
	}
	return nil
}
