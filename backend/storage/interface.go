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

//go:generate go run go.uber.org/mock/mockgen -source=interface.go -destination=../mocks/mock_storage.go -package=mocks
package storage

import (
	"context"
	"time"

	"github.com/bookguru/community/backend/models"
)

// PurgeReport counts the rows removed by one retention pass.
type PurgeReport struct {
	GroupMessages  int64 `json:"group_messages"`
	DirectMessages int64 `json:"direct_messages"`
}

func (p PurgeReport) Total() int64 {
	return p.GroupMessages + p.DirectMessages
}

type MessageStore interface {
	// Append assigns the id and the server timestamp and returns the stored
	// record with its author summary filled in.
	AppendGroupMessage(ctx context.Context, msg models.Message) (models.Message, error)
	AppendDirectMessage(ctx context.Context, msg models.Message) (models.Message, error)

	// Listings return messages with CreatedAt >= since, ascending by (CreatedAt, ID).
	ListGroupMessages(ctx context.Context, groupID int64, since time.Time) ([]models.Message, error)
	ListDirectMessages(ctx context.Context, userA, userB int64, since time.Time) ([]models.Message, error)
	ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error)

	// PurgeOlderThan is the only delete path for messages.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (PurgeReport, error)
}

type MembershipStore interface {
	IsMember(ctx context.Context, userID, groupID int64) (bool, error)
	Join(ctx context.Context, userID, groupID int64) error
	Leave(ctx context.Context, userID, groupID int64) error
	ListMembers(ctx context.Context, groupID int64) ([]models.User, error)
}

type GroupStore interface {
	ListGroups(ctx context.Context) ([]models.Group, error)
	GetGroup(ctx context.Context, groupID int64) (*models.Group, error)
	CreateGroup(ctx context.Context, title string) (models.Group, error)
	DeleteGroup(ctx context.Context, groupID int64) error
}

type UserStore interface {
	GetUser(ctx context.Context, userID int64) (*models.User, error)
}

type ResultStore interface {
	SaveResult(ctx context.Context, result models.CBTResult) (models.CBTResult, error)
	ListRecentResults(ctx context.Context, userID int64, limit int) ([]models.CBTResult, error)
	// TrimUserResults keeps the newest keep results of one user.
	TrimUserResults(ctx context.Context, userID int64, keep int) (int64, error)
	// TrimResults applies the same bound to every user.
	TrimResults(ctx context.Context, keep int) (int64, error)
}

// SubscriptionGate answers whether a user may use the gated community features.
type SubscriptionGate interface {
	HasAccess(ctx context.Context, userID int64) (bool, error)
}
