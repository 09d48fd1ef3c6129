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

package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/bookguru/community/backend/apperr"
)

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment references an uploaded blob. The file itself lives in the
// attachment store, messages only keep its URL.
type Attachment struct {
	URL  string         `json:"url" db:"attachment_url"`
	Kind AttachmentKind `json:"kind" db:"attachment_kind"`
}

// AuthorSummary is the denormalized slice of a user embedded in every
// delivered message so recipients need no extra lookup.
type AuthorSummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Message is either a group message (GroupID set) or a direct message
// (ReceiverID set). Both variants share the same shape.
type Message struct {
	ID         int64          `json:"id" db:"id"`
	GroupID    int64          `json:"group_id,omitempty" db:"group_id"`
	SenderID   int64          `json:"sender_id" db:"sender_id"`
	ReceiverID int64          `json:"receiver_id,omitempty" db:"receiver_id"`
	Author     AuthorSummary  `json:"author"`
	Receiver   *AuthorSummary `json:"receiver,omitempty"`
	Content    *string        `json:"content,omitempty" db:"content"`
	Attachment *Attachment    `json:"attachment,omitempty"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

func (m Message) IsDirect() bool {
	return m.ReceiverID != 0
}

// Validate enforces that a message carries a non-blank body or an attachment.
func (m Message) Validate() error {
	hasBody := m.Content != nil && strings.TrimSpace(*m.Content) != ""
	hasAttachment := m.Attachment != nil && m.Attachment.URL != ""
	if !hasBody && !hasAttachment {
		return fmt.Errorf("%w: message needs content or an attachment", apperr.ErrValidation)
	}
	if hasAttachment && m.Attachment.Kind != AttachmentImage && m.Attachment.Kind != AttachmentFile {
		return fmt.Errorf("%w: unknown attachment kind %q", apperr.ErrValidation, m.Attachment.Kind)
	}
	return nil
}

// Preview is the one-line summary shown in conversation lists.
func (m Message) Preview() string {
	if m.Content != nil && *m.Content != "" {
		return *m.Content
	}
	if m.Attachment != nil {
		return "[file]"
	}
	return ""
}

// Conversation is a direct-message partner with the latest exchanged message.
type Conversation struct {
	UserID      int64     `json:"id"`
	Username    string    `json:"username"`
	LastMessage string    `json:"last_message"`
	CreatedAt   time.Time `json:"created_at"`
}
