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
	"time"

	"github.com/bookguru/community/backend/models"
	"github.com/bookguru/community/backend/storage"
)

const groupMessageColumns = `m.id, m.group_id, m.sender_id, m.content, m.attachment_url,
		m.attachment_kind, m.created_at, u.username`

const directMessageColumns = `m.id, m.sender_id, m.receiver_id, m.content, m.attachment_url,
		m.attachment_kind, m.created_at, s.username, r.username`

// AppendGroupMessage stores the message and returns it with the server
// assigned id, timestamp and author summary.
func (s *Store) AppendGroupMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := msg.Validate(); err != nil {
		return models.Message{}, err
	}

	url, kind := attachmentColumns(msg.Attachment)
	row := s.db.QueryRowContext(ctx, `
		WITH m AS (
			INSERT INTO group_messages (group_id, sender_id, content, attachment_url, attachment_kind)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, group_id, sender_id, content, attachment_url, attachment_kind, created_at
		)
		SELECT `+groupMessageColumns+`
		FROM m
		JOIN users u ON u.id = m.sender_id`,
		msg.GroupID, msg.SenderID, nullString(msg.Content), url, kind)

	stored, err := scanGroupMessage(row)
	if err != nil {
		return models.Message{}, translate(err, "append group message")
	}
	return stored, nil
}

func (s *Store) AppendDirectMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := msg.Validate(); err != nil {
		return models.Message{}, err
	}

	url, kind := attachmentColumns(msg.Attachment)
	row := s.db.QueryRowContext(ctx, `
		WITH m AS (
			INSERT INTO direct_messages (sender_id, receiver_id, content, attachment_url, attachment_kind)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, sender_id, receiver_id, content, attachment_url, attachment_kind, created_at
		)
		SELECT `+directMessageColumns+`
		FROM m
		JOIN users s ON s.id = m.sender_id
		JOIN users r ON r.id = m.receiver_id`,
		msg.SenderID, msg.ReceiverID, nullString(msg.Content), url, kind)

	stored, err := scanDirectMessage(row)
	if err != nil {
		return models.Message{}, translate(err, "append direct message")
	}
	return stored, nil
}

func (s *Store) ListGroupMessages(ctx context.Context, groupID int64, since time.Time) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+groupMessageColumns+`
		FROM group_messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.group_id = $1 AND m.created_at >= $2
		ORDER BY m.created_at ASC, m.id ASC`,
		groupID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanGroupMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (s *Store) ListDirectMessages(ctx context.Context, userA, userB int64, since time.Time) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+directMessageColumns+`
		FROM direct_messages m
		JOIN users s ON s.id = m.sender_id
		JOIN users r ON r.id = m.receiver_id
		WHERE ((m.sender_id = $1 AND m.receiver_id = $2)
		    OR (m.sender_id = $2 AND m.receiver_id = $1))
		  AND m.created_at >= $3
		ORDER BY m.created_at ASC, m.id ASC`,
		userA, userB, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanDirectMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// PurgeOlderThan deletes both message categories in one transaction.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (storage.PurgeReport, error) {
	var report storage.PurgeReport

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM group_messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return report, err
	}
	if report.GroupMessages, err = res.RowsAffected(); err != nil {
		return report, err
	}

	res, err = tx.ExecContext(ctx, `
		DELETE FROM direct_messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return report, err
	}
	if report.DirectMessages, err = res.RowsAffected(); err != nil {
		return report, err
	}

	if err := tx.Commit(); err != nil {
		return storage.PurgeReport{}, err
	}
	return report, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroupMessage(row rowScanner) (models.Message, error) {
	var (
		msg          models.Message
		content, url sql.NullString
		kind         sql.NullString
	)
	err := row.Scan(&msg.ID, &msg.GroupID, &msg.SenderID, &content, &url,
		&kind, &msg.CreatedAt, &msg.Author.Username)
	if err != nil {
		return models.Message{}, err
	}
	msg.Author.ID = msg.SenderID
	fillBody(&msg, content, url, kind)
	return msg, nil
}

func scanDirectMessage(row rowScanner) (models.Message, error) {
	var (
		msg          models.Message
		receiver     models.AuthorSummary
		content, url sql.NullString
		kind         sql.NullString
	)
	err := row.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &content, &url,
		&kind, &msg.CreatedAt, &msg.Author.Username, &receiver.Username)
	if err != nil {
		return models.Message{}, err
	}
	msg.Author.ID = msg.SenderID
	receiver.ID = msg.ReceiverID
	msg.Receiver = &receiver
	fillBody(&msg, content, url, kind)
	return msg, nil
}

func fillBody(msg *models.Message, content, url, kind sql.NullString) {
	if content.Valid {
		msg.Content = &content.String
	}
	if url.Valid {
		msg.Attachment = &models.Attachment{URL: url.String, Kind: models.AttachmentKind(kind.String)}
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func attachmentColumns(a *models.Attachment) (sql.NullString, sql.NullString) {
	if a == nil || a.URL == "" {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: a.URL, Valid: true},
		sql.NullString{String: string(a.Kind), Valid: true}
}
