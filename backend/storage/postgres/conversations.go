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

package postgres

import (
	"context"
	"database/sql"

	"github.com/bookguru/community/backend/models"
)

// ListConversations returns one entry per direct-message partner with the
// latest exchanged message, most recent conversation first.
func (s *Store) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.partner_id, u.username, c.content, c.attachment_url, c.created_at
		FROM (
			SELECT DISTINCT ON (partner_id) partner_id, content, attachment_url, created_at
			FROM (
				SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS partner_id,
				       content, attachment_url, created_at, id
				FROM direct_messages
				WHERE sender_id = $1 OR receiver_id = $1
			) d
			ORDER BY partner_id, created_at DESC, id DESC
		) c
		JOIN users u ON u.id = c.partner_id
		ORDER BY c.created_at DESC, c.partner_id ASC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := []models.Conversation{}
	for rows.Next() {
		var (
			conv         models.Conversation
			content, url sql.NullString
		)
		if err := rows.Scan(&conv.UserID, &conv.Username, &content, &url, &conv.CreatedAt); err != nil {
			return nil, err
		}
		last := models.Message{}
		fillBody(&last, content, url, sql.NullString{})
		conv.LastMessage = last.Preview()
		conversations = append(conversations, conv)
	}

	return conversations, rows.Err()
}
