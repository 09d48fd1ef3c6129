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
	"errors"
	"fmt"

	"github.com/bookguru/community/backend/apperr"
	"github.com/bookguru/community/backend/models"
)

func (s *Store) ListGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.title, g.created_at, COUNT(m.user_id)
		FROM groups g
		LEFT JOIN group_members m ON m.group_id = g.id
		GROUP BY g.id
		ORDER BY g.created_at ASC, g.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []models.Group{}
	for rows.Next() {
		var group models.Group
		if err := rows.Scan(&group.ID, &group.Title, &group.CreatedAt, &group.Members); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}

	return groups, rows.Err()
}

func (s *Store) GetGroup(ctx context.Context, groupID int64) (*models.Group, error) {
	var group models.Group
	err := s.db.QueryRowContext(ctx, `
		SELECT g.id, g.title, g.created_at, COUNT(m.user_id)
		FROM groups g
		LEFT JOIN group_members m ON m.group_id = g.id
		WHERE g.id = $1
		GROUP BY g.id`, groupID).Scan(&group.ID, &group.Title, &group.CreatedAt, &group.Members)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %d: %w", groupID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *Store) CreateGroup(ctx context.Context, title string) (models.Group, error) {
	group := models.Group{Title: title}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO groups (title)
		VALUES ($1)
		RETURNING id, created_at`, title).Scan(&group.ID, &group.CreatedAt)
	if err != nil {
		return models.Group{}, err
	}
	return group, nil
}

// DeleteGroup relies on ON DELETE CASCADE to drop memberships and messages.
func (s *Store) DeleteGroup(ctx context.Context, groupID int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM groups WHERE id = $1`, groupID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("group %d: %w", groupID, apperr.ErrNotFound)
	}
	return nil
}

func (s *Store) IsMember(ctx context.Context, userID, groupID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM group_members
			WHERE group_id = $1 AND user_id = $2
		)`, groupID, userID).Scan(&exists)
	return exists, err
}

func (s *Store) Join(ctx context.Context, userID, groupID int64) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, user_id) DO NOTHING`,
		groupID, userID)
	if err != nil {
		return translate(err, fmt.Sprintf("join group %d", groupID))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrAlreadyMember
	}
	return nil
}

func (s *Store) Leave(ctx context.Context, userID, groupID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM group_members
		WHERE group_id = $1 AND user_id = $2`,
		groupID, userID)
	return err
}

func (s *Store) ListMembers(ctx context.Context, groupID int64) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.is_admin
		FROM group_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.group_id = $1
		ORDER BY u.id`,
		groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []models.User{}
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.IsAdmin); err != nil {
			return nil, err
		}
		members = append(members, user)
	}

	return members, rows.Err()
}
