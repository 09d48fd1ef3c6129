// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "encoding/json"

type EventType string

// Server to client
const (
	EventGroupMessage  EventType = "groupMessage"
	EventDirectMessage EventType = "directMessage"
	EventOnlineCount   EventType = "onlineCount"
	EventTyping        EventType = "typing"
	EventStopTyping    EventType = "stopTyping"
	EventError         EventType = "error"
)

// Client to server
const (
	EventJoinGroupRoom  EventType = "joinGroupRoom"
	EventLeaveGroupRoom EventType = "leaveGroupRoom"
)

// Envelope is the frame exchanged over the realtime channel.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(t EventType, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: raw}, nil
}

type OnlineCount struct {
	GroupID int64 `json:"group_id"`
	Count   int   `json:"count"`
}

type TypingSignal struct {
	UserID  int64 `json:"user_id"`
	GroupID int64 `json:"group_id"`
}

// RoomRequest is the payload of every client event addressed to a group room.
type RoomRequest struct {
	GroupID int64 `json:"group_id" validate:"required,gt=0"`
}

type ErrorEvent struct {
	Message string    `json:"message"`
	Event   EventType `json:"event,omitempty"`
}
