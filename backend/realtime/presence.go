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

// Presence publishes online counts of group rooms. Recounts are debounced so
// a burst of joins and leaves produces a single onlineCount per room, and
// the count is read when the timer fires so it reflects the settled state.
type Presence struct {
	registry    *Registry
	broadcaster Broadcaster
	debouncer   *Debouncer
	log         *slog.Logger
}

func NewPresence(registry *Registry, broadcaster Broadcaster, debouncer *Debouncer, log *slog.Logger) *Presence {
	return &Presence{
		registry:    registry,
		broadcaster: broadcaster,
		debouncer:   debouncer,
		log:         log,
	}
}

// OnlineCount is the number of sessions in the room on this node.
func (p *Presence) OnlineCount(room Room) int {
	return p.registry.Count(room)
}

func (p *Presence) BroadcastOnlineCount(ctx context.Context, room Room) {
	if !room.IsGroup() {
		return
	}
	env, err := models.NewEnvelope(models.EventOnlineCount, models.OnlineCount{
		GroupID: room.ID,
		Count:   p.OnlineCount(room),
	})
	if err != nil {
		p.log.Error("encode online count", "room", room.String(), "error", err)
		return
	}
	if err := p.broadcaster.Broadcast(ctx, room, env); err != nil {
		p.log.Debug("online count broadcast failed", "room", room.String(), "error", err)
	}
}

// RoomChanged schedules a recount of the room.
func (p *Presence) RoomChanged(room Room) {
	if !room.IsGroup() {
		return
	}
	p.debouncer.Trigger(room.String(), func() {
		p.BroadcastOnlineCount(context.Background(), room)
	})
}

// Close drops recounts that have not fired yet.
func (p *Presence) Close() {
	p.debouncer.Stop()
}
