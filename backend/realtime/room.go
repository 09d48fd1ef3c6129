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

// Package realtime holds the live side of community messaging: who is
// connected, which rooms each connection listens to, and how events reach them.
package realtime

import (
	"fmt"
	"strconv"
	"strings"
)

type RoomKind uint8

const (
	RoomGroup RoomKind = iota + 1
	RoomInbox
)

// Room is a broadcast scope. A group room carries the group id, an inbox
// room carries the owning user id.
type Room struct {
	Kind RoomKind
	ID   int64
}

func GroupRoom(groupID int64) Room {
	return Room{Kind: RoomGroup, ID: groupID}
}

func InboxRoom(userID int64) Room {
	return Room{Kind: RoomInbox, ID: userID}
}

func (r Room) IsGroup() bool {
	return r.Kind == RoomGroup
}

func (r Room) String() string {
	switch r.Kind {
	case RoomGroup:
		return "group:" + strconv.FormatInt(r.ID, 10)
	case RoomInbox:
		return "dm:" + strconv.FormatInt(r.ID, 10)
	}
	return "unknown:" + strconv.FormatInt(r.ID, 10)
}

// ParseRoom is the inverse of Room.String.
func ParseRoom(s string) (Room, error) {
	prefix, raw, ok := strings.Cut(s, ":")
	if !ok {
		return Room{}, fmt.Errorf("malformed room %q", s)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Room{}, fmt.Errorf("malformed room %q: %w", s, err)
	}
	switch prefix {
	case "group":
		return GroupRoom(id), nil
	case "dm":
		return InboxRoom(id), nil
	}
	return Room{}, fmt.Errorf("unknown room kind %q", prefix)
}
